// Copyright 2025 The flashmatrix Authors. SPDX-License-Identifier: Apache-2.0

package fm

import (
	"fmt"
	"sync"

	"github.com/ralic/flashmatrix/internal/flog"
)

// DenseMatrix is the public shape-aware façade over a MatrixStore.
// Every arithmetic operation returns a new façade over a virtual store;
// none mutates the receiver's logical value. The two exceptions that
// rebind the receiver's store pointer, MaterializeSelf and Assign,
// require external synchronization with concurrent readers.
type DenseMatrix struct {
	mu    sync.Mutex
	store MatrixStore
}

// NewDenseMatrix wraps store in a façade.
func NewDenseMatrix(store MatrixStore) (*DenseMatrix, error) {
	if store == nil {
		return nil, ErrNilStore
	}
	return &DenseMatrix{store: store}, nil
}

// RawStore returns the façade's current backing store.
func (m *DenseMatrix) RawStore() MatrixStore {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store
}

// Shape returns the matrix's (rows, cols).
func (m *DenseMatrix) Shape() Shape { return m.RawStore().Shape() }

// NumRows returns the row count.
func (m *DenseMatrix) NumRows() int { return m.Shape().NumRows }

// NumCols returns the column count.
func (m *DenseMatrix) NumCols() int { return m.Shape().NumCols }

// Kind returns the element kind.
func (m *DenseMatrix) Kind() Kind { return m.RawStore().Kind() }

// StoreLayout returns the backing store's layout.
func (m *DenseMatrix) StoreLayout() Layout { return m.RawStore().StoreLayout() }

// InMem reports whether the backing store is fully memory-resident.
func (m *DenseMatrix) InMem() bool { return m.RawStore().InMem() }

// IsWide reports whether ncol >= nrow.
func (m *DenseMatrix) IsWide() bool { return m.Shape().IsWide() }

// IsVirtual reports whether the backing store is an unmaterialized lazy
// node.
func (m *DenseMatrix) IsVirtual() bool {
	if vs, ok := m.RawStore().(*virtualStore); ok {
		return vs.IsVirtual()
	}
	return false
}

// GetFloat64 reads element (row, col), widened to float64. Mainly a
// verification surface; portion access is the bulk path.
func (m *DenseMatrix) GetFloat64(row, col int) (float64, error) {
	p, err := m.RawStore().GetPortion(row, col, 1, 1)
	if err != nil {
		return 0, err
	}
	return p.GetFloat64(0, 0)
}

// SetCachePortion forwards the caching hint to the backing store.
func (m *DenseMatrix) SetCachePortion(cache bool) { m.RawStore().SetCachePortion(cache) }

// verifyInnerProd checks the generalized-product preconditions
//.
func (m *DenseMatrix) verifyInnerProd(other *DenseMatrix, leftOp, rightOp BinaryKernel) error {
	if m.Kind().Size() != leftOp.LeftSize() || other.Kind().Size() != leftOp.RightSize() {
		return fmt.Errorf("%w: left operator doesn't match the input matrices", ErrIncompatibleOperator)
	}
	if leftOp.OutSize() != rightOp.LeftSize() {
		return fmt.Errorf("%w: left operator's output doesn't match the right operator", ErrIncompatibleOperator)
	}
	if rightOp.LeftSize() != rightOp.RightSize() || rightOp.LeftSize() != rightOp.OutSize() {
		return fmt.Errorf("%w: right operator must have one type for input and output", ErrIncompatibleOperator)
	}
	if m.NumCols() != other.NumRows() {
		return fmt.Errorf("%w: inner product %dx%d by %dx%d", ErrShapeMismatch,
			m.NumRows(), m.NumCols(), other.NumRows(), other.NumCols())
	}
	return nil
}

// InnerProd returns the generalized matrix product of m and other,
// where scalar multiplication is leftOp and scalar addition is rightOp.
// The result is lazy; it materializes on first use.
func (m *DenseMatrix) InnerProd(other *DenseMatrix, leftOp, rightOp BinaryKernel, outLayout Layout) (*DenseMatrix, error) {
	if err := m.verifyInnerProd(other, leftOp, rightOp); err != nil {
		flog.Errorf("inner_prod: %v", err)
		return nil, err
	}
	op := NewInnerProdOp(m.Shape(), other.Shape(), leftOp, rightOp, outLayout)
	vs := NewVirtualStore(op, []MatrixStore{m.RawStore(), other.RawStore()}, outLayout, MaterializeFull)
	return NewDenseMatrix(vs)
}

// Multiply is matrix multiplication. For floating element types it
// takes an accelerated fused multiply-add path equivalent to InnerProd
// with MUL and ADD; otherwise it delegates to InnerProd with the
// type-promoted basic ops.
func (m *DenseMatrix) Multiply(other *DenseMatrix, outLayout Layout) (*DenseMatrix, error) {
	if m.Kind() == KindFloat64 && other.Kind() == KindFloat64 {
		if m.NumCols() != other.NumRows() {
			err := fmt.Errorf("%w: multiply %dx%d by %dx%d", ErrShapeMismatch,
				m.NumRows(), m.NumCols(), other.NumRows(), other.NumCols())
			flog.Errorf("multiply: %v", err)
			return nil, err
		}
		op, err := NewMulAddInnerProdOp(m.Shape(), other.Shape(), outLayout)
		if err != nil {
			return nil, err
		}
		vs := NewVirtualStore(op, []MatrixStore{m.RawStore(), other.RawStore()}, outLayout, MaterializeFull)
		return NewDenseMatrix(vs)
	}
	mul, err := LookupBinary(OpMul, m.Kind(), other.Kind())
	if err != nil {
		return nil, err
	}
	add, err := LookupBinary(OpAdd, mul.OutKind(), mul.OutKind())
	if err != nil {
		return nil, err
	}
	return m.InnerProd(other, mul, add, outLayout)
}

// Mapply2 applies op element-wise over m and other. Shapes must match;
// layouts may differ, the result is layout-independent.
func (m *DenseMatrix) Mapply2(other *DenseMatrix, op BinaryKernel) (*DenseMatrix, error) {
	if m.Shape() != other.Shape() {
		err := fmt.Errorf("%w: mapply2 %dx%d with %dx%d", ErrShapeMismatch,
			m.NumRows(), m.NumCols(), other.NumRows(), other.NumCols())
		flog.Errorf("mapply2: %v", err)
		return nil, err
	}
	if m.Kind().Size() != op.LeftSize() || other.Kind().Size() != op.RightSize() {
		return nil, fmt.Errorf("%w: mapply2 operand types don't match the operator", ErrIncompatibleOperator)
	}
	node := NewMapply2Op(m.Shape(), op)
	vs := NewVirtualStore(node, []MatrixStore{m.RawStore(), other.RawStore()}, m.StoreLayout(), MaterializeFull)
	return NewDenseMatrix(vs)
}

// Sapply applies a unary kernel to every element.
func (m *DenseMatrix) Sapply(op UnaryKernel) (*DenseMatrix, error) {
	if m.Kind().Size() != op.InSize() {
		return nil, fmt.Errorf("%w: sapply operand type doesn't match the operator", ErrIncompatibleOperator)
	}
	node := NewSapplyOp(m.Shape(), op)
	vs := NewVirtualStore(node, []MatrixStore{m.RawStore()}, m.StoreLayout(), MaterializeFull)
	return NewDenseMatrix(vs)
}

// Transpose returns the transposed matrix. In-memory stores transpose
// without copying data.
func (m *DenseMatrix) Transpose() *DenseMatrix {
	t, _ := NewDenseMatrix(m.RawStore().Transpose())
	return t
}

// normalizeRowVec turns a 1xN or Nx1 in-memory operand into a 1xN store.
func normalizeRowVec(vec *DenseMatrix, wantLen int) (MatrixStore, error) {
	if vec == nil {
		return nil, ErrNilStore
	}
	if !vec.InMem() {
		return nil, fmt.Errorf("%w: broadcast vector must be in memory", ErrImExpected)
	}
	s := vec.Shape()
	if !s.IsVector() {
		return nil, fmt.Errorf("%w: broadcast operand must be a vector", ErrShapeMismatch)
	}
	store := vec.RawStore()
	if s.NumRows != 1 {
		store = store.Transpose()
		s = s.Transposed()
	}
	if s.NumCols != wantLen {
		return nil, fmt.Errorf("%w: vector length %d, want %d", ErrShapeMismatch, s.NumCols, wantLen)
	}
	return store, nil
}

// MapplyRows broadcasts vec over every row of m with op: the result's
// row r is op(m[r, :], vec).
func (m *DenseMatrix) MapplyRows(vec *DenseMatrix, op BinaryKernel) (*DenseMatrix, error) {
	vstore, err := normalizeRowVec(vec, m.NumCols())
	if err != nil {
		flog.Errorf("mapply_rows: %v", err)
		return nil, err
	}
	node := NewMapplyRowsOp(m.Shape(), op)
	vs := NewVirtualStore(node, []MatrixStore{m.RawStore(), vstore}, m.StoreLayout(), MaterializeFull)
	return NewDenseMatrix(vs)
}

// MapplyCols broadcasts vec over every column of m with op.
func (m *DenseMatrix) MapplyCols(vec *DenseMatrix, op BinaryKernel) (*DenseMatrix, error) {
	vstore, err := normalizeRowVec(vec, m.NumRows())
	if err != nil {
		flog.Errorf("mapply_cols: %v", err)
		return nil, err
	}
	node := NewMapplyColsOp(m.Shape(), op)
	vs := NewVirtualStore(node, []MatrixStore{m.RawStore(), vstore.Transpose()}, m.StoreLayout(), MaterializeFull)
	return NewDenseMatrix(vs)
}

// Aggregate reduces the whole matrix to one scalar, streaming the input
// portion by portion and folding partial results, so an external store
// is read once and never buffered in full.
func (m *DenseMatrix) Aggregate(opCode AggOpCode) (Scalar, error) {
	agg, err := LookupAgg(opCode)
	if err != nil {
		return Scalar{}, err
	}
	store := m.RawStore()
	pr, pc := portionShape(store.Shape())
	var (
		acc   Scalar
		first = true
	)
	shape := store.Shape()
	for r := 0; r < shape.NumRows; r += pr {
		h := min(pr, shape.NumRows-r)
		for c := 0; c < shape.NumCols; c += pc {
			w := min(pc, shape.NumCols-c)
			local, err := store.GetPortion(r, c, h, w)
			if err != nil {
				return Scalar{}, err
			}
			part, err := agg.Run(h*w, local.Data)
			if err != nil {
				return Scalar{}, err
			}
			if first {
				acc, first = part, false
				continue
			}
			acc, err = combinePartialAgg(opCode, acc, part)
			if err != nil {
				return Scalar{}, err
			}
		}
	}
	if first {
		return Scalar{}, ErrShapeMismatch
	}
	return acc, nil
}

// combinePartialAgg folds two partial aggregation results. Count
// partials combine by addition; the others by their own operator.
func combinePartialAgg(opCode AggOpCode, a, b Scalar) (Scalar, error) {
	var bin OpCode
	switch opCode {
	case AggSum, AggCount:
		bin = OpAdd
	case AggMin:
		bin = OpMin
	case AggMax:
		bin = OpMax
	default:
		return Scalar{}, ErrUnsupportedType
	}
	k, err := LookupBinary(bin, a.Kind, b.Kind)
	if err != nil {
		return Scalar{}, err
	}
	lhs := NewArray(a.Kind, 1)
	_ = setScalarAt(lhs, 0, a)
	out := NewArray(k.OutKind(), 1)
	if err := k.RunAE(1, lhs, b, out); err != nil {
		return Scalar{}, err
	}
	return scalarAt(out, 0), nil
}

// Norm2 returns the Euclidean (Frobenius) norm. The squares and their
// sum are computed in the matrix's element kind; the square root of the
// sum is returned as a float64.
func (m *DenseMatrix) Norm2() (float64, error) {
	mul, err := LookupBinary(OpMul, m.Kind(), m.Kind())
	if err != nil {
		return 0, err
	}
	sq, err := m.Mapply2(m, mul)
	if err != nil {
		return 0, err
	}
	sum, err := sq.Aggregate(AggSum)
	if err != nil {
		return 0, err
	}
	sqrt, err := LookupUnary(UnarySqrt, sum.Kind)
	if err != nil {
		return 0, err
	}
	in := NewArray(sum.Kind, 1)
	_ = setScalarAt(in, 0, sum)
	out := NewArray(sqrt.OutKind(), 1)
	if err := sqrt.Run(1, in, out); err != nil {
		return 0, err
	}
	return scalarAt(out, 0).Float64(), nil
}

// Conv2 reshapes m to (numRows, numCols) preserving the total element
// count; byrow selects whether the element sequence is read and written
// in row-major or column-major order.
func (m *DenseMatrix) Conv2(numRows, numCols int, byrow bool) (*DenseMatrix, error) {
	if numRows <= 0 || numCols <= 0 || numRows*numCols != m.NumRows()*m.NumCols() {
		err := fmt.Errorf("%w: conv2 %dx%d from %dx%d", ErrShapeMismatch,
			numRows, numCols, m.NumRows(), m.NumCols())
		flog.Errorf("conv2: %v", err)
		return nil, err
	}
	src := m.RawStore()
	full, err := src.GetPortion(0, 0, src.Shape().NumRows, src.Shape().NumCols)
	if err != nil {
		return nil, err
	}
	layout := LayoutRow
	if !byrow {
		layout = LayoutCol
	}
	out := NewMemStore(Shape{NumRows: numRows, NumCols: numCols}, layout, src.Kind())
	i := 0
	next := func() (Scalar, error) {
		var r, c int
		if byrow {
			r, c = i/full.NumCols, i%full.NumCols
		} else {
			r, c = i%full.NumRows, i/full.NumRows
		}
		i++
		return full.GetScalar(r, c)
	}
	if byrow {
		for r := 0; r < numRows; r++ {
			for c := 0; c < numCols; c++ {
				v, err := next()
				if err != nil {
					return nil, err
				}
				idx := out.offset(r, c)
				_ = setScalarAt(out.data, idx, v)
			}
		}
	} else {
		for c := 0; c < numCols; c++ {
			for r := 0; r < numRows; r++ {
				v, err := next()
				if err != nil {
					return nil, err
				}
				idx := out.offset(r, c)
				_ = setScalarAt(out.data, idx, v)
			}
		}
	}
	return NewDenseMatrix(out)
}

// MaterializeSelf computes the backing virtual store and replaces it
// in place with the result. Idempotent; after it returns, IsVirtual
// reports false.
func (m *DenseMatrix) MaterializeSelf() error {
	m.mu.Lock()
	store := m.store
	m.mu.Unlock()
	result, err := Materialize(store)
	if err != nil {
		return err
	}
	m.mu.Lock()
	if m.store == store {
		m.store = result
	}
	m.mu.Unlock()
	return nil
}

// Assign rebinds m to share other's store.
func (m *DenseMatrix) Assign(other *DenseMatrix) error {
	if other == nil {
		return ErrNilStore
	}
	s := other.RawStore()
	m.mu.Lock()
	m.store = s
	m.mu.Unlock()
	return nil
}
