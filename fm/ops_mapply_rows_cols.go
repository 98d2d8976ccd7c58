// Copyright 2025 The flashmatrix Authors. SPDX-License-Identifier: Apache-2.0

package fm

// mapplyRowsOp broadcasts a row vector (shape 1xN) over every row of a
// matrix with a binary kernel. The block matrix façade reaches
// mapplyCols as transpose -> mapplyRows -> transpose.
type mapplyRowsOp struct {
	shape  Shape
	kernel BinaryKernel
}

// NewMapplyRowsOp builds the op for broadcasting a 1xshape.NumCols vector
// across every row.
func NewMapplyRowsOp(shape Shape, kernel BinaryKernel) PortionMapplyOp {
	return mapplyRowsOp{shape: shape, kernel: kernel}
}

func (o mapplyRowsOp) OutShape() Shape { return o.shape }
func (o mapplyRowsOp) OutKind() Kind   { return o.kernel.OutKind() }
func (o mapplyRowsOp) IsAgg() bool     { return false }

func (o mapplyRowsOp) Transpose() PortionMapplyOp {
	// Transposing a row-broadcast turns it into a column-broadcast.
	return mapplyColsOp{shape: o.shape.Transposed(), kernel: o.kernel}
}

func (o mapplyRowsOp) InputRect(i int, out Rect) Rect {
	if i == 0 {
		return out
	}
	return Rect{StartRow: 0, StartCol: out.StartCol, NumRows: 1, NumCols: out.NumCols}
}

func (o mapplyRowsOp) Run(out Rect, ins []*LocalMatrixStore) (*LocalMatrixStore, error) {
	if len(ins) != 2 {
		return nil, ErrShapeMismatch
	}
	mat, vec := ins[0], ins[1]
	if vec.NumCols != mat.NumCols {
		return nil, ErrShapeMismatch
	}
	result := NewLocalMatrixStore(out.StartRow, out.StartCol, mat.NumRows, mat.NumCols, mat.Layout, o.kernel.OutKind())
	for r := 0; r < mat.NumRows; r++ {
		rowArr, err := rowSlice(mat, r)
		if err != nil {
			return nil, err
		}
		outRow, err := rowSliceFor(result, r)
		if err != nil {
			return nil, err
		}
		if err := o.kernel.RunAA(mat.NumCols, rowArr, vec.Data, outRow); err != nil {
			return nil, err
		}
		writeRowBack(result, r, outRow)
	}
	return result, nil
}

// mapplyColsOp broadcasts a column vector (shape Nx1) over every column.
type mapplyColsOp struct {
	shape  Shape
	kernel BinaryKernel
}

// NewMapplyColsOp builds the op for broadcasting an Nx1 vector across
// every column.
func NewMapplyColsOp(shape Shape, kernel BinaryKernel) PortionMapplyOp {
	return mapplyColsOp{shape: shape, kernel: kernel}
}

func (o mapplyColsOp) OutShape() Shape { return o.shape }
func (o mapplyColsOp) OutKind() Kind   { return o.kernel.OutKind() }
func (o mapplyColsOp) IsAgg() bool     { return false }

func (o mapplyColsOp) Transpose() PortionMapplyOp {
	return mapplyRowsOp{shape: o.shape.Transposed(), kernel: o.kernel}
}

func (o mapplyColsOp) InputRect(i int, out Rect) Rect {
	if i == 0 {
		return out
	}
	return Rect{StartRow: out.StartRow, StartCol: 0, NumRows: out.NumRows, NumCols: 1}
}

func (o mapplyColsOp) Run(out Rect, ins []*LocalMatrixStore) (*LocalMatrixStore, error) {
	if len(ins) != 2 {
		return nil, ErrShapeMismatch
	}
	mat, vec := ins[0], ins[1]
	if vec.NumRows != mat.NumRows {
		return nil, ErrShapeMismatch
	}
	result := NewLocalMatrixStore(out.StartRow, out.StartCol, mat.NumRows, mat.NumCols, mat.Layout, o.kernel.OutKind())
	for c := 0; c < mat.NumCols; c++ {
		colArr, err := colSlice(mat, c)
		if err != nil {
			return nil, err
		}
		outCol, err := colSliceFor(result, c)
		if err != nil {
			return nil, err
		}
		if err := o.kernel.RunAA(mat.NumRows, colArr, vec.Data, outCol); err != nil {
			return nil, err
		}
		writeColBack(result, c, outCol)
	}
	return result, nil
}

// rowSlice/colSlice materialize one row/column of a local store as a
// fresh Array (copy, since a row of a column-major store is not
// contiguous and vice versa). writeRowBack/writeColBack copy it back.
func rowSlice(m *LocalMatrixStore, r int) (Array, error) {
	out := NewArray(m.Data.Kind, m.NumCols)
	for c := 0; c < m.NumCols; c++ {
		v, err := m.GetScalar(r, c)
		if err != nil {
			return Array{}, err
		}
		_ = setScalarAt(out, c, v)
	}
	return out, nil
}

func rowSliceFor(m *LocalMatrixStore, r int) (Array, error) {
	return NewArray(m.Data.Kind, m.NumCols), nil
}

func writeRowBack(m *LocalMatrixStore, r int, row Array) {
	for c := 0; c < m.NumCols; c++ {
		_ = m.setScalar(r, c, scalarAt(row, c))
	}
}

func colSlice(m *LocalMatrixStore, c int) (Array, error) {
	out := NewArray(m.Data.Kind, m.NumRows)
	for r := 0; r < m.NumRows; r++ {
		v, err := m.GetScalar(r, c)
		if err != nil {
			return Array{}, err
		}
		_ = setScalarAt(out, r, v)
	}
	return out, nil
}

func colSliceFor(m *LocalMatrixStore, c int) (Array, error) {
	return NewArray(m.Data.Kind, m.NumRows), nil
}

func writeColBack(m *LocalMatrixStore, c int, col Array) {
	for r := 0; r < m.NumRows; r++ {
		_ = m.setScalar(r, c, scalarAt(col, r))
	}
}
