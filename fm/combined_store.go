// Copyright 2025 The flashmatrix Authors. SPDX-License-Identifier: Apache-2.0

package fm

import (
	"context"
	"fmt"
	"sync"
)

// CombinedStore presents an ordered group of stores as one matrix
//. A tall group lays its members out side
// by side (members share the row count, column counts sum); a wide
// group stacks them (members share the column count, row counts sum).
// All members share element kind and layout, and only the last member
// may be smaller on the concatenation axis (the tail block).
type CombinedStore struct {
	mats   []MatrixStore
	layout Layout
	shape  Shape
	wide   bool // true: members stacked along rows (wide group)

	// assembleMu serializes only the assembly of portions that span a
	// member boundary; single-member requests never take it.
	assembleMu sync.Mutex
}

// NewCombinedStore groups mats into one store. The orientation is taken
// from the first member: a wide member starts a wide group (vertical
// stacking), a tall member a tall group (side-by-side). Violations of
// the group invariant return ErrShapeMismatch.
func NewCombinedStore(mats []MatrixStore, layout Layout) (*CombinedStore, error) {
	if len(mats) == 0 || mats[0] == nil {
		return nil, ErrNilStore
	}
	first := mats[0]
	wide := first.Shape().IsWide()
	kind := first.Kind()
	shape := first.Shape()
	for i := 1; i < len(mats); i++ {
		m := mats[i]
		if m == nil {
			return nil, ErrNilStore
		}
		if m.Kind() != kind || m.StoreLayout() != first.StoreLayout() {
			return nil, fmt.Errorf("%w: combined members must share type and layout", ErrShapeMismatch)
		}
		if wide {
			if m.Shape().NumCols != shape.NumCols {
				return nil, fmt.Errorf("%w: wide-group member %d has %d cols, want %d",
					ErrShapeMismatch, i, m.Shape().NumCols, shape.NumCols)
			}
			// Only the tail block may be smaller along the stack axis.
			if (i < len(mats)-1 && m.Shape().NumRows != first.Shape().NumRows) ||
				m.Shape().NumRows > first.Shape().NumRows {
				return nil, fmt.Errorf("%w: non-tail member %d has a different block height", ErrShapeMismatch, i)
			}
			shape.NumRows += m.Shape().NumRows
		} else {
			if m.Shape().NumRows != shape.NumRows {
				return nil, fmt.Errorf("%w: tall-group member %d has %d rows, want %d",
					ErrShapeMismatch, i, m.Shape().NumRows, shape.NumRows)
			}
			if (i < len(mats)-1 && m.Shape().NumCols != first.Shape().NumCols) ||
				m.Shape().NumCols > first.Shape().NumCols {
				return nil, fmt.Errorf("%w: non-tail member %d has a different block width", ErrShapeMismatch, i)
			}
			shape.NumCols += m.Shape().NumCols
		}
	}
	if layout == LayoutNone {
		layout = first.StoreLayout()
	}
	return &CombinedStore{mats: mats, layout: layout, shape: shape, wide: wide}, nil
}

// NumMats returns the number of member stores in the group.
func (s *CombinedStore) NumMats() int { return len(s.mats) }

// Mat returns member i.
func (s *CombinedStore) Mat(i int) MatrixStore { return s.mats[i] }

// IsWideGroup reports whether members are stacked along rows.
func (s *CombinedStore) IsWideGroup() bool { return s.wide }

func (s *CombinedStore) Shape() Shape        { return s.shape }
func (s *CombinedStore) StoreLayout() Layout { return s.layout }
func (s *CombinedStore) Kind() Kind          { return s.mats[0].Kind() }

func (s *CombinedStore) InMem() bool {
	for _, m := range s.mats {
		if !m.InMem() {
			return false
		}
	}
	return true
}

// memberFor locates the member covering global offset idx along the
// concatenation axis, returning the member index and the offset local
// to it.
func (s *CombinedStore) memberFor(idx int) (mat, local int) {
	acc := 0
	for i, m := range s.mats {
		span := s.memberSpan(m)
		if idx < acc+span {
			return i, idx - acc
		}
		acc += span
	}
	return len(s.mats) - 1, 0
}

// memberSpan is a member's extent along the concatenation axis.
func (s *CombinedStore) memberSpan(m MatrixStore) int {
	if s.wide {
		return m.Shape().NumRows
	}
	return m.Shape().NumCols
}

// GetPortion returns the requested rectangle. A portion wholly inside
// one member is forwarded to that member and returns without copying
//; one that crosses a block boundary is assembled from
// sub-portions of the adjacent members.
func (s *CombinedStore) GetPortion(startRow, startCol, numRows, numCols int) (*LocalMatrixStore, error) {
	if err := checkRect(s.shape, startRow, startCol, numRows, numCols); err != nil {
		return nil, err
	}
	start, span := startCol, numCols
	if s.wide {
		start, span = startRow, numRows
	}
	mi, local := s.memberFor(start)
	if local+span <= s.memberSpan(s.mats[mi]) {
		// Fast path: one member serves the whole request.
		var lp *LocalMatrixStore
		var err error
		if s.wide {
			lp, err = s.mats[mi].GetPortion(local, startCol, numRows, numCols)
		} else {
			lp, err = s.mats[mi].GetPortion(startRow, local, numRows, numCols)
		}
		if err != nil {
			return nil, err
		}
		// Re-anchor the view at the group's global coordinates.
		lp.StartRow, lp.StartCol = startRow, startCol
		return lp, nil
	}

	s.assembleMu.Lock()
	defer s.assembleMu.Unlock()
	out := NewLocalMatrixStore(startRow, startCol, numRows, numCols, s.layout, s.Kind())
	covered := 0
	for covered < span {
		mi, local := s.memberFor(start + covered)
		take := s.memberSpan(s.mats[mi]) - local
		if take > span-covered {
			take = span - covered
		}
		var part *LocalMatrixStore
		var err error
		if s.wide {
			part, err = s.mats[mi].GetPortion(local, startCol, take, numCols)
		} else {
			part, err = s.mats[mi].GetPortion(startRow, local, numRows, take)
		}
		if err != nil {
			return nil, err
		}
		for r := 0; r < part.NumRows; r++ {
			for c := 0; c < part.NumCols; c++ {
				v, err := part.GetScalar(r, c)
				if err != nil {
					return nil, err
				}
				dr, dc := r, c
				if s.wide {
					dr += covered
				} else {
					dc += covered
				}
				if err := out.setScalar(dr, dc, v); err != nil {
					return nil, err
				}
			}
		}
		covered += take
	}
	return out, nil
}

func (s *CombinedStore) WritePortionAsync(ctx context.Context, local *LocalMatrixStore, destRow, destCol int) <-chan error {
	done := make(chan error, 1)
	go func() {
		defer close(done)
		span := local.NumCols
		start := destCol
		if s.wide {
			span = local.NumRows
			start = destRow
		}
		covered := 0
		for covered < span {
			mi, memberLocal := s.memberFor(start + covered)
			take := s.memberSpan(s.mats[mi]) - memberLocal
			if take > span-covered {
				take = span - covered
			}
			var sub *LocalMatrixStore
			var dr, dc int
			if s.wide {
				sub = subRows(local, covered, take)
				dr, dc = memberLocal, destCol
			} else {
				sub = subCols(local, covered, take)
				dr, dc = destRow, memberLocal
			}
			if err := <-s.mats[mi].WritePortionAsync(ctx, sub, dr, dc); err != nil {
				done <- err
				return
			}
			covered += take
		}
		done <- nil
	}()
	return done
}

// subRows / subCols copy a band of rows or columns of a local store
// into a fresh local store, for routing a cross-boundary write to the
// member that owns each band.
func subRows(l *LocalMatrixStore, start, n int) *LocalMatrixStore {
	out := NewLocalMatrixStore(l.StartRow+start, l.StartCol, n, l.NumCols, l.Layout, l.Data.Kind)
	for r := 0; r < n; r++ {
		for c := 0; c < l.NumCols; c++ {
			v, _ := l.GetScalar(start+r, c)
			_ = out.setScalar(r, c, v)
		}
	}
	return out
}

func subCols(l *LocalMatrixStore, start, n int) *LocalMatrixStore {
	out := NewLocalMatrixStore(l.StartRow, l.StartCol+start, l.NumRows, n, l.Layout, l.Data.Kind)
	for r := 0; r < l.NumRows; r++ {
		for c := 0; c < n; c++ {
			v, _ := l.GetScalar(r, start+c)
			_ = out.setScalar(r, c, v)
		}
	}
	return out
}

// Transpose transposes every member and flips the orientation tag.
func (s *CombinedStore) Transpose() MatrixStore {
	mats := make([]MatrixStore, len(s.mats))
	for i, m := range s.mats {
		mats[i] = m.Transpose()
	}
	return &CombinedStore{
		mats:   mats,
		layout: flipLayout(s.layout),
		shape:  s.shape.Transposed(),
		wide:   !s.wide,
	}
}

func (s *CombinedStore) SetData(ctx context.Context, op SetOperate) error {
	off := 0
	for _, m := range s.mats {
		memberOff := off
		memberOp := func(dest Array, n, r, c int) error {
			if s.wide {
				return op(dest, n, r+memberOff, c)
			}
			return op(dest, n, r, c+memberOff)
		}
		if err := m.SetData(ctx, memberOp); err != nil {
			return err
		}
		off += s.memberSpan(m)
	}
	return nil
}

func (s *CombinedStore) SetCachePortion(cache bool) {
	for _, m := range s.mats {
		m.SetCachePortion(cache)
	}
}
