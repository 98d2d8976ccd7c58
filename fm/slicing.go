// Copyright 2025 The flashmatrix Authors. SPDX-License-Identifier: Apache-2.0

package fm

import (
	"fmt"

	"github.com/ralic/flashmatrix/internal/flog"
)

// checkIdxVector validates a slicing index vector: in bounds, strictly
// ascending, unique.
func checkIdxVector(idxs []int, bound int) error {
	if len(idxs) == 0 {
		return ErrIndexOutOfRange
	}
	for i, idx := range idxs {
		if idx < 0 || idx >= bound {
			return fmt.Errorf("%w: index %d out of %d", ErrIndexOutOfRange, idx, bound)
		}
		if i > 0 && idx <= idxs[i-1] {
			return ErrIndexOrder
		}
	}
	return nil
}

// GetCol returns column idx as a new nrow x 1 matrix sharing no storage
// with the parent.
func (m *DenseMatrix) GetCol(idx int) (*DenseMatrix, error) {
	if idx < 0 || idx >= m.NumCols() {
		flog.Errorf("get_col: the col index %d is out of bound", idx)
		return nil, ErrIndexOutOfRange
	}
	local, err := m.RawStore().GetPortion(0, idx, m.NumRows(), 1)
	if err != nil {
		return nil, err
	}
	return NewDenseMatrix(NewMemStoreFromPortion(local, LayoutCol))
}

// GetRow returns row idx as a new 1 x ncol matrix.
func (m *DenseMatrix) GetRow(idx int) (*DenseMatrix, error) {
	if idx < 0 || idx >= m.NumRows() {
		flog.Errorf("get_row: the row index %d is out of bound", idx)
		return nil, ErrIndexOutOfRange
	}
	local, err := m.RawStore().GetPortion(idx, 0, 1, m.NumCols())
	if err != nil {
		return nil, err
	}
	return NewDenseMatrix(NewMemStoreFromPortion(local, LayoutRow))
}

// GetCols returns the selected columns as one matrix. The indices must
// be ascending and unique, and the backing store must be column-major:
// column slicing out of a row-major store crosses every cache line it
// touches and is rejected rather than silently degraded.
func (m *DenseMatrix) GetCols(idxs []int) (*DenseMatrix, error) {
	if m.StoreLayout() == LayoutRow {
		flog.Errorf("get_cols: can't slice columns out of a row-major store")
		return nil, ErrOrientationMismatch
	}
	if err := checkIdxVector(idxs, m.NumCols()); err != nil {
		flog.Errorf("get_cols: %v", err)
		return nil, err
	}
	out := NewMemStore(Shape{NumRows: m.NumRows(), NumCols: len(idxs)}, LayoutCol, m.Kind())
	store := m.RawStore()
	for i, idx := range idxs {
		local, err := store.GetPortion(0, idx, m.NumRows(), 1)
		if err != nil {
			return nil, err
		}
		for r := 0; r < m.NumRows(); r++ {
			v, err := local.GetScalar(r, 0)
			if err != nil {
				return nil, err
			}
			_ = setScalarAt(out.data, out.offset(r, i), v)
		}
	}
	return NewDenseMatrix(out)
}

// GetRows returns the selected rows as one matrix; the converse of
// GetCols, requiring a row-major backing store.
func (m *DenseMatrix) GetRows(idxs []int) (*DenseMatrix, error) {
	if m.StoreLayout() == LayoutCol {
		flog.Errorf("get_rows: can't slice rows out of a column-major store")
		return nil, ErrOrientationMismatch
	}
	if err := checkIdxVector(idxs, m.NumRows()); err != nil {
		flog.Errorf("get_rows: %v", err)
		return nil, err
	}
	out := NewMemStore(Shape{NumRows: len(idxs), NumCols: m.NumCols()}, LayoutRow, m.Kind())
	store := m.RawStore()
	for i, idx := range idxs {
		local, err := store.GetPortion(idx, 0, 1, m.NumCols())
		if err != nil {
			return nil, err
		}
		for c := 0; c < m.NumCols(); c++ {
			v, err := local.GetScalar(0, c)
			if err != nil {
				return nil, err
			}
			_ = setScalarAt(out.data, out.offset(i, c), v)
		}
	}
	return NewDenseMatrix(out)
}

// Margin selects whether Apply runs over rows or columns.
type Margin int

const (
	// MarginRow applies the operator to each row.
	MarginRow Margin = iota + 1
	// MarginCol applies the operator to each column.
	MarginCol
)

// ApplyOp transforms one row or column into an output run, possibly of
// a different length.
type ApplyOp interface {
	OutLen(inLen int) int
	OutKind(in Kind) Kind
	Run(in Array, out Array) error
}

// Apply runs op over every row (MarginRow) or column (MarginCol),
// producing a matrix whose varying dimension is op.OutLen of the
// input's. Rows and columns are independent, so they run in parallel on
// the worker pool.
func (m *DenseMatrix) Apply(margin Margin, op ApplyOp) (*DenseMatrix, error) {
	if margin == MarginCol {
		t, err := m.Transpose().Apply(MarginRow, op)
		if err != nil {
			return nil, err
		}
		return t.Transpose(), nil
	}
	if margin != MarginRow {
		return nil, fmt.Errorf("%w: unknown apply margin", ErrShapeMismatch)
	}
	inLen := m.NumCols()
	outLen := op.OutLen(inLen)
	if outLen <= 0 {
		return nil, fmt.Errorf("%w: apply operator produces an empty run", ErrShapeMismatch)
	}
	outKind := op.OutKind(m.Kind())
	out := NewMemStore(Shape{NumRows: m.NumRows(), NumCols: outLen}, LayoutRow, outKind)
	store := m.RawStore()
	err := workerPool().ForEachErr(m.NumRows(), func(r int) error {
		local, err := store.GetPortion(r, 0, 1, inLen)
		if err != nil {
			return err
		}
		in, err := rowSlice(local, 0)
		if err != nil {
			return err
		}
		outRow := NewArray(outKind, outLen)
		if err := op.Run(in, outRow); err != nil {
			return err
		}
		for c := 0; c < outLen; c++ {
			_ = setScalarAt(out.data, out.offset(r, c), scalarAt(outRow, c))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return NewDenseMatrix(out)
}
