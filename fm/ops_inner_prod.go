// Copyright 2025 The flashmatrix Authors. SPDX-License-Identifier: Apache-2.0

package fm

import "fmt"

// innerProdOp computes a generalized matrix product over two inputs:
// scalar multiplication is leftOp, scalar addition is rightOp
//. An output portion of rows [r0, r0+m) and columns
// [c0, c0+n) needs rows [r0, r0+m) of the left input (all K columns)
// and columns [c0, c0+n) of the right input (all K rows), so the
// contraction never crosses a portion boundary.
type innerProdOp struct {
	leftShape  Shape
	rightShape Shape
	leftOp     BinaryKernel
	rightOp    BinaryKernel
	outLayout  Layout
	fused      bool // take the fused float64 multiply-add path
}

// NewInnerProdOp builds the generalized-product op for left (MxK) times
// right (KxN). Operand validation happens at the façade (DenseMatrix.
// InnerProd); the op assumes its preconditions hold.
func NewInnerProdOp(leftShape, rightShape Shape, leftOp, rightOp BinaryKernel, outLayout Layout) PortionMapplyOp {
	if outLayout == LayoutNone {
		outLayout = LayoutRow
	}
	return innerProdOp{
		leftShape:  leftShape,
		rightShape: rightShape,
		leftOp:     leftOp,
		rightOp:    rightOp,
		outLayout:  outLayout,
	}
}

// NewMulAddInnerProdOp is the accelerated form Multiply uses for
// floating element types: mathematically identical to NewInnerProdOp
// with MUL and ADD kernels, but Run takes a fused multiply-accumulate
// loop instead of folding through the kernel table.
func NewMulAddInnerProdOp(leftShape, rightShape Shape, outLayout Layout) (PortionMapplyOp, error) {
	mul, err := LookupBinary(OpMul, KindFloat64, KindFloat64)
	if err != nil {
		return nil, err
	}
	add, err := LookupBinary(OpAdd, KindFloat64, KindFloat64)
	if err != nil {
		return nil, err
	}
	if outLayout == LayoutNone {
		outLayout = LayoutRow
	}
	return innerProdOp{
		leftShape:  leftShape,
		rightShape: rightShape,
		leftOp:     mul,
		rightOp:    add,
		outLayout:  outLayout,
		fused:      true,
	}, nil
}

func (o innerProdOp) OutShape() Shape {
	return Shape{NumRows: o.leftShape.NumRows, NumCols: o.rightShape.NumCols}
}
func (o innerProdOp) OutKind() Kind { return o.rightOp.OutKind() }
func (o innerProdOp) IsAgg() bool   { return false }

func (o innerProdOp) Transpose() PortionMapplyOp {
	return tInnerProdOp{inner: o}
}

func (o innerProdOp) InputRect(i int, out Rect) Rect {
	if i == 0 {
		return Rect{StartRow: out.StartRow, StartCol: 0, NumRows: out.NumRows, NumCols: o.leftShape.NumCols}
	}
	return Rect{StartRow: 0, StartCol: out.StartCol, NumRows: o.rightShape.NumRows, NumCols: out.NumCols}
}

func (o innerProdOp) Run(out Rect, ins []*LocalMatrixStore) (*LocalMatrixStore, error) {
	if len(ins) != 2 {
		return nil, ErrShapeMismatch
	}
	lhs, rhs := ins[0], ins[1]
	if lhs.NumCols != rhs.NumRows {
		return nil, fmt.Errorf("%w: contraction %d vs %d", ErrShapeMismatch, lhs.NumCols, rhs.NumRows)
	}
	result := NewLocalMatrixStore(out.StartRow, out.StartCol, lhs.NumRows, rhs.NumCols, o.outLayout, o.rightOp.OutKind())
	if o.fused && lhs.Data.Kind == KindFloat64 && rhs.Data.Kind == KindFloat64 {
		runFloatMulAdd(lhs, rhs, result)
		return result, nil
	}
	return result, o.runGeneric(lhs, rhs, result)
}

// runGeneric folds each output row through the two kernels, one kernel
// dispatch per contraction step: leftOp broadcast of A[r,k] over B's
// row k, then rightOp accumulation into the output row.
func (o innerProdOp) runGeneric(lhs, rhs, result *LocalMatrixStore) error {
	k := lhs.NumCols
	n := rhs.NumCols
	// Pull B's rows out once; a row of a column-major portion is not
	// contiguous, so this avoids re-gathering per output row.
	bRows := make([]Array, k)
	for i := 0; i < k; i++ {
		row, err := rowSlice(rhs, i)
		if err != nil {
			return err
		}
		bRows[i] = row
	}
	acc := NewArray(o.rightOp.OutKind(), n)
	tmp := NewArray(o.leftOp.OutKind(), n)
	for r := 0; r < lhs.NumRows; r++ {
		for i := 0; i < k; i++ {
			a, err := lhs.GetScalar(r, i)
			if err != nil {
				return err
			}
			if i == 0 {
				if err := o.leftOp.RunEA(n, a, bRows[i], acc); err != nil {
					return err
				}
				continue
			}
			if err := o.leftOp.RunEA(n, a, bRows[i], tmp); err != nil {
				return err
			}
			if err := o.rightOp.RunAA(n, acc, tmp, acc); err != nil {
				return err
			}
		}
		writeRowBack(result, r, acc)
	}
	return nil
}

// runFloatMulAdd is the fused float64 multiply-accumulate kernel.
func runFloatMulAdd(lhs, rhs, result *LocalMatrixStore) {
	m, k, n := lhs.NumRows, lhs.NumCols, rhs.NumCols
	row := make([]float64, n)
	for r := 0; r < m; r++ {
		for i := range row {
			row[i] = 0
		}
		for i := 0; i < k; i++ {
			a, _ := lhs.GetFloat64(r, i)
			if a == 0 {
				continue
			}
			for c := 0; c < n; c++ {
				b, _ := rhs.GetFloat64(i, c)
				row[c] += a * b
			}
		}
		for c := 0; c < n; c++ {
			_ = result.SetFloat64(r, c, row[c])
		}
	}
}

// tInnerProdOp is the transposed form of innerProdOp: it receives the
// transposed inputs and produces the transposed product, so that
// (A*B)^T materializes as B^T*A^T without re-deriving a new node.
type tInnerProdOp struct {
	inner innerProdOp
}

func (o tInnerProdOp) OutShape() Shape { return o.inner.OutShape().Transposed() }
func (o tInnerProdOp) OutKind() Kind   { return o.inner.OutKind() }
func (o tInnerProdOp) IsAgg() bool     { return false }

func (o tInnerProdOp) Transpose() PortionMapplyOp { return o.inner }

func (o tInnerProdOp) InputRect(i int, out Rect) Rect {
	k := o.inner.leftShape.NumCols
	if i == 0 {
		// Input 0 is A^T (KxM); output column c corresponds to A's row c.
		return Rect{StartRow: 0, StartCol: out.StartCol, NumRows: k, NumCols: out.NumCols}
	}
	// Input 1 is B^T (NxK); output row r corresponds to B's column r.
	return Rect{StartRow: out.StartRow, StartCol: 0, NumRows: out.NumRows, NumCols: k}
}

func (o tInnerProdOp) Run(out Rect, ins []*LocalMatrixStore) (*LocalMatrixStore, error) {
	if len(ins) != 2 {
		return nil, ErrShapeMismatch
	}
	// Undo the transposition locally and reuse the forward kernel.
	lhs := ins[0].Transposed()
	rhs := ins[1].Transposed()
	fwd := Rect{StartRow: out.StartCol, StartCol: out.StartRow, NumRows: out.NumCols, NumCols: out.NumRows}
	res, err := o.inner.Run(fwd, []*LocalMatrixStore{lhs, rhs})
	if err != nil {
		return nil, err
	}
	t := res.Transposed()
	t.StartRow, t.StartCol = out.StartRow, out.StartCol
	return t, nil
}
