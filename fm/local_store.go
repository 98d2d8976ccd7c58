// Copyright 2025 The flashmatrix Authors. SPDX-License-Identifier: Apache-2.0

package fm

import "fmt"

// LocalMatrixStore is a reference to a rectangular sub-region of a matrix
// store with a fixed layout. It owns its own Array
// of exactly NumRows*NumCols elements arranged according to Layout; it
// may differ from its backing store's layout only when the region came
// from a Transpose.
type LocalMatrixStore struct {
	StartRow, StartCol int
	NumRows, NumCols    int
	Layout              Layout
	Data                 Array
}

// NewLocalMatrixStore allocates a zeroed local store of the given shape,
// layout and kind at global offset (startRow, startCol).
func NewLocalMatrixStore(startRow, startCol, numRows, numCols int, layout Layout, kind Kind) *LocalMatrixStore {
	return &LocalMatrixStore{
		StartRow: startRow,
		StartCol: startCol,
		NumRows:  numRows,
		NumCols:  numCols,
		Layout:   layout,
		Data:     NewArray(kind, numRows*numCols),
	}
}

// Shape returns (NumRows, NumCols).
func (l *LocalMatrixStore) Shape() Shape { return Shape{NumRows: l.NumRows, NumCols: l.NumCols} }

// Kind returns the element kind of the backing array.
func (l *LocalMatrixStore) Kind() Kind { return l.Data.Kind }

// offset computes the flat index of (row, col) within Data, according to
// Layout. row/col are local (0-based within this view).
func (l *LocalMatrixStore) offset(row, col int) (int, error) {
	if row < 0 || row >= l.NumRows || col < 0 || col >= l.NumCols {
		return 0, fmt.Errorf("%w: local (%d,%d) out of %dx%d", ErrIndexOutOfRange, row, col, l.NumRows, l.NumCols)
	}
	switch l.Layout {
	case LayoutCol:
		return col*l.NumRows + row, nil
	default: // LayoutRow and LayoutNone both store row-major here
		return row*l.NumCols + col, nil
	}
}

// GetFloat64 reads the element at local (row, col), widened to float64.
func (l *LocalMatrixStore) GetFloat64(row, col int) (float64, error) {
	idx, err := l.offset(row, col)
	if err != nil {
		return 0, err
	}
	switch l.Data.Kind {
	case KindInt32:
		return float64(l.Data.I32[idx]), nil
	case KindFloat64:
		return l.Data.F64[idx], nil
	default:
		return 0, ErrUnsupportedType
	}
}

// SetFloat64 writes v at local (row, col), narrowing to the store's kind.
func (l *LocalMatrixStore) SetFloat64(row, col int, v float64) error {
	idx, err := l.offset(row, col)
	if err != nil {
		return err
	}
	switch l.Data.Kind {
	case KindInt32:
		l.Data.I32[idx] = int32(v)
	case KindFloat64:
		l.Data.F64[idx] = v
	default:
		return ErrUnsupportedType
	}
	return nil
}

// GetScalar reads the element at local (row, col) as a type-erased Scalar.
func (l *LocalMatrixStore) GetScalar(row, col int) (Scalar, error) {
	idx, err := l.offset(row, col)
	if err != nil {
		return Scalar{}, err
	}
	switch l.Data.Kind {
	case KindInt32:
		return Scalar{Kind: KindInt32, I32: l.Data.I32[idx]}, nil
	case KindFloat64:
		return Scalar{Kind: KindFloat64, F64: l.Data.F64[idx]}, nil
	default:
		return Scalar{}, ErrUnsupportedType
	}
}

// Transposed returns a new LocalMatrixStore over the same elements with
// rows and columns swapped and layout flipped (ROW<->COL); NONE stays
// NONE. Copies data, since a LocalMatrixStore is a flat owned buffer, not
// a further view.
func (l *LocalMatrixStore) Transposed() *LocalMatrixStore {
	out := NewLocalMatrixStore(l.StartCol, l.StartRow, l.NumCols, l.NumRows, flipLayout(l.Layout), l.Data.Kind)
	for r := 0; r < l.NumRows; r++ {
		for c := 0; c < l.NumCols; c++ {
			v, _ := l.GetScalar(r, c)
			_ = out.setScalar(c, r, v)
		}
	}
	return out
}

func (l *LocalMatrixStore) setScalar(row, col int, v Scalar) error {
	idx, err := l.offset(row, col)
	if err != nil {
		return err
	}
	switch l.Data.Kind {
	case KindInt32:
		l.Data.I32[idx] = v.I32
	case KindFloat64:
		l.Data.F64[idx] = v.F64
	default:
		return ErrUnsupportedType
	}
	return nil
}

func flipLayout(l Layout) Layout {
	switch l {
	case LayoutRow:
		return LayoutCol
	case LayoutCol:
		return LayoutRow
	default:
		return LayoutNone
	}
}

// CopyInto copies this local store's elements into dst at dst's own
// offset (dst.StartRow/StartCol are ignored; copy is by local coordinate
// 0..NumRows/NumCols, the two views must share shape).
func (l *LocalMatrixStore) CopyInto(dst *LocalMatrixStore) error {
	if l.NumRows != dst.NumRows || l.NumCols != dst.NumCols {
		return fmt.Errorf("%w: copy %dx%d into %dx%d", ErrShapeMismatch, l.NumRows, l.NumCols, dst.NumRows, dst.NumCols)
	}
	for r := 0; r < l.NumRows; r++ {
		for c := 0; c < l.NumCols; c++ {
			v, err := l.GetScalar(r, c)
			if err != nil {
				return err
			}
			if err := dst.setScalar(r, c, v); err != nil {
				return err
			}
		}
	}
	return nil
}
