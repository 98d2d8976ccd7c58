// Copyright 2025 The flashmatrix Authors. SPDX-License-Identifier: Apache-2.0

package fm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mkTallGroup builds a tall group of column blocks over 6 rows: widths
// 2, 2, 1 with element value r*10+globalCol.
func mkTallGroup(t *testing.T) *CombinedStore {
	t.Helper()
	widths := []int{2, 2, 1}
	var mats []MatrixStore
	colOff := 0
	for _, w := range widths {
		store := NewMemStore(Shape{NumRows: 6, NumCols: w}, LayoutCol, KindFloat64)
		off := colOff
		err := store.SetData(context.Background(), func(dest Array, n, r, c int) error {
			dest.F64[0] = float64(r*10 + c + off)
			return nil
		})
		require.NoError(t, err)
		mats = append(mats, store)
		colOff += w
	}
	group, err := NewCombinedStore(mats, LayoutCol)
	require.NoError(t, err)
	return group
}

func TestCombinedStoreInvariants(t *testing.T) {
	group := mkTallGroup(t)
	require.False(t, group.IsWideGroup())
	require.Equal(t, Shape{NumRows: 6, NumCols: 5}, group.Shape())
	require.Equal(t, LayoutCol, group.StoreLayout())
	require.Equal(t, KindFloat64, group.Kind())
	require.True(t, group.InMem())

	// Members share rows and layout; the widths sum to the group width.
	total := 0
	for i := 0; i < group.NumMats(); i++ {
		m := group.Mat(i)
		require.Equal(t, 6, m.Shape().NumRows)
		require.Equal(t, LayoutCol, m.StoreLayout())
		total += m.Shape().NumCols
	}
	require.Equal(t, group.Shape().NumCols, total)
}

func TestCombinedStoreRejectsMismatchedMembers(t *testing.T) {
	a := NewMemStore(Shape{NumRows: 6, NumCols: 2}, LayoutCol, KindFloat64)
	b := NewMemStore(Shape{NumRows: 5, NumCols: 2}, LayoutCol, KindFloat64)
	_, err := NewCombinedStore([]MatrixStore{a, b}, LayoutCol)
	require.ErrorIs(t, err, ErrShapeMismatch)

	c := NewMemStore(Shape{NumRows: 6, NumCols: 2}, LayoutCol, KindInt32)
	_, err = NewCombinedStore([]MatrixStore{a, c}, LayoutCol)
	require.ErrorIs(t, err, ErrShapeMismatch)

	// A smaller middle member violates the tail-block rule.
	tail := NewMemStore(Shape{NumRows: 6, NumCols: 1}, LayoutCol, KindFloat64)
	full := NewMemStore(Shape{NumRows: 6, NumCols: 2}, LayoutCol, KindFloat64)
	_, err = NewCombinedStore([]MatrixStore{a, tail, full}, LayoutCol)
	require.ErrorIs(t, err, ErrShapeMismatch)
}

func TestCombinedStorePortions(t *testing.T) {
	group := mkTallGroup(t)

	// Wholly inside member 1.
	p, err := group.GetPortion(1, 2, 2, 2)
	require.NoError(t, err)
	require.Equal(t, 1, p.StartRow)
	require.Equal(t, 2, p.StartCol)
	v, err := p.GetFloat64(0, 0)
	require.NoError(t, err)
	assert.Equal(t, 12.0, v)

	// Crossing the boundary between members 0, 1 and 2.
	p, err = group.GetPortion(0, 1, 6, 4)
	require.NoError(t, err)
	for r := 0; r < 6; r++ {
		for c := 0; c < 4; c++ {
			v, err := p.GetFloat64(r, c)
			require.NoError(t, err)
			assert.Equal(t, float64(r*10+c+1), v, "element (%d,%d)", r, c)
		}
	}

	_, err = group.GetPortion(0, 4, 1, 2)
	require.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestCombinedStoreTranspose(t *testing.T) {
	group := mkTallGroup(t)
	tr := group.Transpose().(*CombinedStore)
	require.True(t, tr.IsWideGroup())
	require.Equal(t, Shape{NumRows: 5, NumCols: 6}, tr.Shape())
	require.Equal(t, group.NumMats(), tr.NumMats())

	p, err := tr.GetPortion(3, 2, 1, 1)
	require.NoError(t, err)
	v, err := p.GetFloat64(0, 0)
	require.NoError(t, err)
	assert.Equal(t, 23.0, v)
}

func TestCombinedStoreWrite(t *testing.T) {
	group := mkTallGroup(t)
	patch := NewLocalMatrixStore(2, 1, 2, 3, LayoutRow, KindFloat64)
	for r := 0; r < 2; r++ {
		for c := 0; c < 3; c++ {
			require.NoError(t, patch.SetFloat64(r, c, -1))
		}
	}
	require.NoError(t, <-group.WritePortionAsync(context.Background(), patch, 2, 1))
	for r := 2; r < 4; r++ {
		for c := 1; c < 4; c++ {
			p, err := group.GetPortion(r, c, 1, 1)
			require.NoError(t, err)
			v, err := p.GetFloat64(0, 0)
			require.NoError(t, err)
			assert.Equal(t, -1.0, v)
		}
	}
}
