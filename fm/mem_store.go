// Copyright 2025 The flashmatrix Authors. SPDX-License-Identifier: Apache-2.0

package fm

import "context"

// memStore is a contiguous, single-layout in-memory matrix store
//.
type memStore struct {
	shape  Shape
	layout Layout
	data   Array
	cache  bool
}

// NewMemStore allocates a zeroed in-memory store of the given shape,
// layout and kind.
func NewMemStore(shape Shape, layout Layout, kind Kind) *memStore {
	if layout == LayoutNone {
		layout = LayoutRow
	}
	return &memStore{
		shape:  shape,
		layout: layout,
		data:   NewArray(kind, shape.NumRows*shape.NumCols),
		cache:  true,
	}
}

// NewMemStoreFromArray wraps an already-populated Array as a store; the
// array must have exactly shape.NumRows*shape.NumCols elements.
func NewMemStoreFromArray(shape Shape, layout Layout, data Array) (*memStore, error) {
	if data.Len() != shape.NumRows*shape.NumCols {
		return nil, ErrShapeMismatch
	}
	if layout == LayoutNone {
		layout = LayoutRow
	}
	return &memStore{shape: shape, layout: layout, data: data, cache: true}, nil
}

// NewMemStoreFromPortion copies a local store's elements into a fresh
// in-memory store of the given layout.
func NewMemStoreFromPortion(local *LocalMatrixStore, layout Layout) *memStore {
	out := NewMemStore(Shape{NumRows: local.NumRows, NumCols: local.NumCols}, layout, local.Data.Kind)
	for r := 0; r < local.NumRows; r++ {
		for c := 0; c < local.NumCols; c++ {
			v, _ := local.GetScalar(r, c)
			_ = setScalarAt(out.data, out.offset(r, c), v)
		}
	}
	return out
}

// ConvStoreToMem returns an in-memory rendering of store: virtual
// stores are materialized, external stores are copied in portion by
// portion, and in-memory stores pass through untouched.
func ConvStoreToMem(store MatrixStore) (MatrixStore, error) {
	if store == nil {
		return nil, ErrNilStore
	}
	m, err := Materialize(store)
	if err != nil {
		return nil, err
	}
	if m.InMem() {
		return m, nil
	}
	out := NewMemStore(m.Shape(), m.StoreLayout(), m.Kind())
	pr, pc := portionShape(m.Shape())
	shape := m.Shape()
	ctx := context.Background()
	for r := 0; r < shape.NumRows; r += pr {
		h := pr
		if r+h > shape.NumRows {
			h = shape.NumRows - r
		}
		for c := 0; c < shape.NumCols; c += pc {
			w := pc
			if c+w > shape.NumCols {
				w = shape.NumCols - c
			}
			local, err := m.GetPortion(r, c, h, w)
			if err != nil {
				return nil, err
			}
			if err := <-out.WritePortionAsync(ctx, local, r, c); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

func (m *memStore) Shape() Shape        { return m.shape }
func (m *memStore) StoreLayout() Layout { return m.layout }
func (m *memStore) Kind() Kind          { return m.data.Kind }
func (m *memStore) InMem() bool         { return true }

func (m *memStore) offset(row, col int) int {
	if m.layout == LayoutCol {
		return col*m.shape.NumRows + row
	}
	return row*m.shape.NumCols + col
}

func (m *memStore) GetPortion(startRow, startCol, numRows, numCols int) (*LocalMatrixStore, error) {
	if err := checkRect(m.shape, startRow, startCol, numRows, numCols); err != nil {
		return nil, err
	}
	// Zero-copy fast path: the requested portion spans every column (or
	// every row, for a column-major store) so it is one contiguous run
	// of the backing array; wrap it without copying.
	if m.layout == LayoutRow && startCol == 0 && numCols == m.shape.NumCols {
		lo := startRow * m.shape.NumCols
		hi := lo + numRows*numCols
		return &LocalMatrixStore{
			StartRow: startRow, StartCol: startCol,
			NumRows: numRows, NumCols: numCols,
			Layout: m.layout,
			Data:   sliceArray(m.data, lo, hi),
		}, nil
	}
	if m.layout == LayoutCol && startRow == 0 && numRows == m.shape.NumRows {
		lo := startCol * m.shape.NumRows
		hi := lo + numRows*numCols
		return &LocalMatrixStore{
			StartRow: startRow, StartCol: startCol,
			NumRows: numRows, NumCols: numCols,
			Layout: m.layout,
			Data:   sliceArray(m.data, lo, hi),
		}, nil
	}

	out := NewLocalMatrixStore(startRow, startCol, numRows, numCols, m.layout, m.data.Kind)
	for r := 0; r < numRows; r++ {
		for c := 0; c < numCols; c++ {
			idx := m.offset(startRow+r, startCol+c)
			v := scalarAt(m.data, idx)
			_ = out.setScalar(r, c, v)
		}
	}
	return out, nil
}

func (m *memStore) WritePortionAsync(ctx context.Context, local *LocalMatrixStore, destRow, destCol int) <-chan error {
	done := make(chan error, 1)
	go func() {
		defer close(done)
		for r := 0; r < local.NumRows; r++ {
			for c := 0; c < local.NumCols; c++ {
				v, err := local.GetScalar(r, c)
				if err != nil {
					done <- err
					return
				}
				idx := m.offset(destRow+r, destCol+c)
				if err := setScalarAt(m.data, idx, v); err != nil {
					done <- err
					return
				}
			}
		}
		select {
		case <-ctx.Done():
			done <- ctx.Err()
		default:
			done <- nil
		}
	}()
	return done
}

func (m *memStore) Transpose() MatrixStore {
	return &memStore{
		shape:  m.shape.Transposed(),
		layout: flipLayout(m.layout),
		data:   m.data,
		cache:  m.cache,
	}
}

func (m *memStore) SetData(ctx context.Context, op SetOperate) error {
	for r := 0; r < m.shape.NumRows; r++ {
		for c := 0; c < m.shape.NumCols; c++ {
			idx := m.offset(r, c)
			one := sliceArray(m.data, idx, idx+1)
			if err := op(one, 1, r, c); err != nil {
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *memStore) SetCachePortion(bool) {} // no-op; everything is already resident

// sliceArray returns a zero-copy view of a[lo:hi].
func sliceArray(a Array, lo, hi int) Array {
	switch a.Kind {
	case KindInt32:
		return Array{Kind: KindInt32, I32: a.I32[lo:hi]}
	case KindFloat64:
		return Array{Kind: KindFloat64, F64: a.F64[lo:hi]}
	default:
		return Array{}
	}
}

func scalarAt(a Array, idx int) Scalar {
	switch a.Kind {
	case KindInt32:
		return Scalar{Kind: KindInt32, I32: a.I32[idx]}
	case KindFloat64:
		return Scalar{Kind: KindFloat64, F64: a.F64[idx]}
	default:
		return Scalar{}
	}
}

func setScalarAt(a Array, idx int, v Scalar) error {
	switch a.Kind {
	case KindInt32:
		a.I32[idx] = v.I32
	case KindFloat64:
		a.F64[idx] = v.F64
	default:
		return ErrUnsupportedType
	}
	return nil
}
