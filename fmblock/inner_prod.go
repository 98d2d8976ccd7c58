// Copyright 2025 The flashmatrix Authors. SPDX-License-Identifier: Apache-2.0

package fmblock

import (
	"context"

	"github.com/ralic/flashmatrix/fm"
	"github.com/ralic/flashmatrix/internal/flog"
)

// InnerProd computes the generalized product of the block matrix and
// other, dispatching on the group orientation: a tall group folds
// block-wise partial products with rightOp, a wide group scatters them
// into disjoint output strips. rightOp must be
// associative for the tall fold to be well-defined over integer
// kernels; floating ADD is order-tolerant.
func (m *BlockMatrix) InnerProd(other *fm.DenseMatrix, leftOp, rightOp fm.BinaryKernel, outLayout fm.Layout) (*fm.DenseMatrix, error) {
	if other == nil {
		return nil, fm.ErrNilStore
	}
	if m.NumCols() != other.NumRows() {
		flog.Errorf("inner_prod: the matrix size doesn't match")
		return nil, fm.ErrShapeMismatch
	}
	if m.IsWide() {
		return m.innerProdWide(other, leftOp, rightOp, outLayout)
	}
	return m.innerProdTall(other, leftOp, rightOp, outLayout)
}

// subMat copies the rectangle of an in-memory store into its own
// store, so a block-sized slice of the right operand can flow through
// the portion pipeline as an independent matrix.
func subMat(store fm.MatrixStore, startRow, startCol, numRows, numCols int) (*fm.DenseMatrix, error) {
	local, err := store.GetPortion(startRow, startCol, numRows, numCols)
	if err != nil {
		return nil, err
	}
	return fm.NewDenseMatrix(fm.NewMemStoreFromPortion(local, store.StoreLayout()))
}

// innerProdTall is the tall-group algorithm: for each output column
// block of B, multiply every A-block against the matching row band of
// B, mark the partials uncached, and fold them with a gsum node whose
// materialization streams the partials portion by portion.
func (m *BlockMatrix) innerProdTall(other *fm.DenseMatrix, leftOp, rightOp fm.BinaryKernel, outLayout fm.Layout) (*fm.DenseMatrix, error) {
	// The right matrix is read many times; get it in memory once.
	rightStore, err := fm.ConvStoreToMem(other.RawStore())
	if err != nil {
		return nil, err
	}

	b := m.blockSize
	numResBlocks := (rightStore.Shape().NumCols + b - 1) / b
	resBlocks := make([]fm.MatrixStore, 0, numResBlocks)
	for col := 0; col < rightStore.Shape().NumCols; col += b {
		w := min(b, rightStore.Shape().NumCols-col)
		tmp := make([]fm.MatrixStore, m.NumBlocks())
		for row := 0; row < rightStore.Shape().NumRows; row += b {
			i := row / b
			left, err := m.member(i)
			if err != nil {
				return nil, err
			}
			h := min(b, rightStore.Shape().NumRows-row)
			right, err := subMat(rightStore, row, col, h, w)
			if err != nil {
				return nil, err
			}
			var part *fm.DenseMatrix
			if leftOp == nil {
				part, err = left.Multiply(right, outLayout)
			} else {
				part, err = left.InnerProd(right, leftOp, rightOp, outLayout)
			}
			if err != nil {
				return nil, err
			}
			// The partials are consumed exactly once by the fold below;
			// retaining their portions only evicts useful pages.
			part.SetCachePortion(false)
			tmp[i] = part.RawStore()
		}

		foldKernel := rightOp
		if foldKernel == nil {
			if foldKernel, err = fm.LookupBinary(fm.OpAdd, m.Kind(), m.Kind()); err != nil {
				return nil, err
			}
		}
		shape := tmp[0].Shape()
		gsum := fm.NewGsumOp(shape, foldKernel)
		node := fm.NewVirtualStore(gsum, tmp, fm.LayoutCol, fm.MaterializeFull)
		res, err := fm.Materialize(node)
		if err != nil {
			return nil, err
		}
		resBlocks = append(resBlocks, res)
	}

	if len(resBlocks) == 1 {
		return fm.NewDenseMatrix(resBlocks[0])
	}
	combined, err := fm.NewCombinedStore(resBlocks, m.StoreLayout())
	if err != nil {
		return nil, err
	}
	return fm.NewDenseMatrix(combined)
}

// innerProdWide is the wide-group algorithm: each left row block's
// partial product lands in its own strip of the output, so the partials
// are co-materialized and copied into place with no fold. The right
// operand is taken block by block when it is itself a group.
func (m *BlockMatrix) innerProdWide(other *fm.DenseMatrix, leftOp, rightOp fm.BinaryKernel, outLayout fm.Layout) (*fm.DenseMatrix, error) {
	var rightMats []fm.MatrixStore
	if group, ok := other.RawStore().(*fm.CombinedStore); ok {
		for i := 0; i < group.NumMats(); i++ {
			rightMats = append(rightMats, group.Mat(i))
		}
	} else {
		rightMats = append(rightMats, other.RawStore())
	}

	if outLayout == fm.LayoutNone {
		// A col-major left group prefers col-major output; it helps the
		// local copy below.
		if m.StoreLayout() == fm.LayoutCol {
			outLayout = fm.LayoutCol
		} else {
			outLayout = fm.LayoutRow
		}
	}

	outKind := m.Kind()
	if rightOp != nil {
		outKind = rightOp.OutKind()
	}
	res := fm.NewMemStore(fm.Shape{NumRows: m.NumRows(), NumCols: other.NumCols()}, outLayout, outKind)
	ctx := context.Background()

	rightBlockSize := rightMats[0].Shape().NumCols
	for i, rmat := range rightMats {
		right, err := fm.NewDenseMatrix(rmat)
		if err != nil {
			return nil, err
		}
		tmp := make([]fm.MatrixStore, m.NumBlocks())
		for j := range tmp {
			left, err := m.member(j)
			if err != nil {
				return nil, err
			}
			var part *fm.DenseMatrix
			if leftOp == nil {
				part, err = left.Multiply(right, outLayout)
			} else {
				part, err = left.InnerProd(right, leftOp, rightOp, outLayout)
			}
			if err != nil {
				return nil, err
			}
			left.SetCachePortion(false)
			tmp[j] = part.RawStore()
		}
		materialized, err := fm.MaterializeBatch(tmp, false)
		if err != nil {
			return nil, err
		}

		// Copy each partial into its disjoint strip of the output.
		colIdx := i * rightBlockSize
		for j, part := range materialized {
			rowIdx := j * m.blockSize
			shape := part.Shape()
			local, err := part.GetPortion(0, 0, shape.NumRows, shape.NumCols)
			if err != nil {
				return nil, err
			}
			if err := <-res.WritePortionAsync(ctx, local, rowIdx, colIdx); err != nil {
				return nil, err
			}
		}
	}
	return fm.NewDenseMatrix(res)
}

// Multiply is matrix multiplication with the shape-based swap: when the
// right operand is longer, the whole computation transposes so the big
// operand stays on the left. Floating types use the fused multiply-add
// path; other types run the same block algorithms through the
// type-promoted MUL and ADD kernels.
func (m *BlockMatrix) Multiply(other *fm.DenseMatrix, outLayout fm.Layout) (*fm.DenseMatrix, error) {
	if other == nil {
		return nil, fm.ErrNilStore
	}
	longDim1 := max(m.NumRows(), m.NumCols())
	longDim2 := max(other.NumRows(), other.NumCols())
	if longDim2 > longDim1 {
		tLayout := outLayout
		switch outLayout {
		case fm.LayoutRow:
			tLayout = fm.LayoutCol
		case fm.LayoutCol:
			tLayout = fm.LayoutRow
		}
		selfDense, err := m.Transpose().Dense()
		if err != nil {
			return nil, err
		}
		tRes, err := other.Transpose().Multiply(selfDense, tLayout)
		if err != nil {
			return nil, err
		}
		if err := tRes.MaterializeSelf(); err != nil {
			return nil, err
		}
		return tRes.Transpose(), nil
	}

	if m.Kind() == fm.KindFloat64 && other.Kind() == fm.KindFloat64 {
		// nil kernels select the members' fused multiply path.
		if m.IsWide() {
			return m.innerProdWide(other, nil, nil, outLayout)
		}
		return m.innerProdTall(other, nil, nil, outLayout)
	}
	mul, err := fm.LookupBinary(fm.OpMul, m.Kind(), other.Kind())
	if err != nil {
		return nil, err
	}
	add, err := fm.LookupBinary(fm.OpAdd, mul.OutKind(), mul.OutKind())
	if err != nil {
		return nil, err
	}
	return m.InnerProd(other, mul, add, outLayout)
}
