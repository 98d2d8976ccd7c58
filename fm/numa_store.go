// Copyright 2025 The flashmatrix Authors. SPDX-License-Identifier: Apache-2.0

package fm

import (
	"context"

	"github.com/ralic/flashmatrix/internal/numa"
)

// numaStore stripes the long axis of a matrix across the host's NUMA
// nodes. Each stripe is itself a memStore;
// GetPortion serves a request local to the stripe(s) it overlaps,
// assembling across a stripe boundary only when the caller's rectangle
// actually crosses one.
type numaStore struct {
	shape    Shape
	layout   Layout
	kind     Kind
	wide     bool // true: stripe columns; false: stripe rows
	stripes  []*memStore
	topology numa.Topology
}

// NewNumaStore allocates a store striped across the detected NUMA
// topology along the shape's long axis.
func NewNumaStore(shape Shape, layout Layout, kind Kind) *numaStore {
	if layout == LayoutNone {
		layout = LayoutRow
	}
	topo := numa.Detect()
	n := topo.NumNodes
	if n < 1 {
		n = 1
	}
	wide := shape.IsWide()
	s := &numaStore{shape: shape, layout: layout, kind: kind, wide: wide, topology: topo}
	if wide {
		s.stripes = stripeAlong(shape.NumCols, n, func(start, width int) *memStore {
			return NewMemStore(Shape{NumRows: shape.NumRows, NumCols: width}, layout, kind)
		})
	} else {
		s.stripes = stripeAlong(shape.NumRows, n, func(start, width int) *memStore {
			return NewMemStore(Shape{NumRows: width, NumCols: shape.NumCols}, layout, kind)
		})
	}
	return s
}

func stripeAlong(total, n int, make_ func(start, width int) *memStore) []*memStore {
	if n > total {
		n = total
	}
	if n < 1 {
		n = 1
	}
	base := total / n
	rem := total % n
	stripes := make([]*memStore, 0, n)
	start := 0
	for i := 0; i < n; i++ {
		width := base
		if i < rem {
			width++
		}
		if width == 0 {
			continue
		}
		stripes = append(stripes, make_(start, width))
		start += width
	}
	return stripes
}

func (s *numaStore) Shape() Shape        { return s.shape }
func (s *numaStore) StoreLayout() Layout { return s.layout }
func (s *numaStore) Kind() Kind          { return s.kind }
func (s *numaStore) InMem() bool         { return true }

// stripeFor locates which stripe covers global coordinate idx along the
// striped axis, returning the stripe and the coordinate local to it.
func (s *numaStore) stripeFor(idx int) (stripeIdx, local int) {
	acc := 0
	for i, st := range s.stripes {
		width := st.shape.NumCols
		if !s.wide {
			width = st.shape.NumRows
		}
		if idx < acc+width {
			return i, idx - acc
		}
		acc += width
	}
	return len(s.stripes) - 1, 0
}

func (s *numaStore) GetPortion(startRow, startCol, numRows, numCols int) (*LocalMatrixStore, error) {
	if err := checkRect(s.shape, startRow, startCol, numRows, numCols); err != nil {
		return nil, err
	}
	// Zero-copy fast path: the whole request lies within one stripe.
	if s.wide {
		si, local := s.stripeFor(startCol)
		st := s.stripes[si]
		if local+numCols <= st.shape.NumCols {
			return st.GetPortion(startRow, local, numRows, numCols)
		}
	} else {
		si, local := s.stripeFor(startRow)
		st := s.stripes[si]
		if local+numRows <= st.shape.NumRows {
			return st.GetPortion(local, startCol, numRows, numCols)
		}
	}

	// Crosses a stripe boundary: assemble element-by-element. This is the
	// rare path (most portion requests are sized to respect stripe
	// boundaries by the scheduler).
	out := NewLocalMatrixStore(startRow, startCol, numRows, numCols, s.layout, s.kind)
	for r := 0; r < numRows; r++ {
		for c := 0; c < numCols; c++ {
			v, err := s.getScalarGlobal(startRow+r, startCol+c)
			if err != nil {
				return nil, err
			}
			if err := out.setScalar(r, c, v); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

func (s *numaStore) getScalarGlobal(row, col int) (Scalar, error) {
	if s.wide {
		si, local := s.stripeFor(col)
		local2, err := s.stripes[si].GetPortion(row, local, 1, 1)
		if err != nil {
			return Scalar{}, err
		}
		return local2.GetScalar(0, 0)
	}
	si, local := s.stripeFor(row)
	local2, err := s.stripes[si].GetPortion(local, col, 1, 1)
	if err != nil {
		return Scalar{}, err
	}
	return local2.GetScalar(0, 0)
}

func (s *numaStore) WritePortionAsync(ctx context.Context, local *LocalMatrixStore, destRow, destCol int) <-chan error {
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
				if err := s.setScalarGlobal(destRow+r, destCol+c, v); err != nil {
					done <- err
					return
				}
			}
		}
		done <- ctx.Err()
	}()
	return done
}

func (s *numaStore) setScalarGlobal(row, col int, v Scalar) error {
	var st *memStore
	var lr, lc int
	if s.wide {
		si, local := s.stripeFor(col)
		st, lr, lc = s.stripes[si], row, local
	} else {
		si, local := s.stripeFor(row)
		st, lr, lc = s.stripes[si], local, col
	}
	idx := st.offset(lr, lc)
	return setScalarAt(st.data, idx, v)
}

func (s *numaStore) Transpose() MatrixStore {
	t := &numaStore{
		shape:    s.shape.Transposed(),
		layout:   flipLayout(s.layout),
		kind:     s.kind,
		wide:     !s.wide,
		topology: s.topology,
	}
	t.stripes = make([]*memStore, len(s.stripes))
	for i, st := range s.stripes {
		ts := st.Transpose().(*memStore)
		t.stripes[i] = ts
	}
	return t
}

func (s *numaStore) SetData(ctx context.Context, op SetOperate) error {
	rowOff, colOff := 0, 0
	for _, st := range s.stripes {
		stripeOp := func(dest Array, n, r, c int) error {
			if s.wide {
				return op(dest, n, r, c+colOff)
			}
			return op(dest, n, r+rowOff, c)
		}
		if err := st.SetData(ctx, stripeOp); err != nil {
			return err
		}
		if s.wide {
			colOff += st.shape.NumCols
		} else {
			rowOff += st.shape.NumRows
		}
	}
	return nil
}

func (s *numaStore) SetCachePortion(bool) {}
