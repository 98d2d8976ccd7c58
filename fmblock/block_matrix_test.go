// Copyright 2025 The flashmatrix Authors. SPDX-License-Identifier: Apache-2.0

package fmblock

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ralic/flashmatrix/fm"
	"github.com/ralic/flashmatrix/fmvector"
)

// coordFill gives every element a value derived from its global
// coordinate, so block and dense fills agree regardless of member fill
// order.
func coordFill(width int) fm.SetOperate {
	return func(dest fm.Array, n, r, c int) error {
		for i := 0; i < n; i++ {
			dest.F64[i] = float64(r*width + c + i + 1)
		}
		return nil
	}
}

func mkDense(t *testing.T, numRows, numCols int) *fm.DenseMatrix {
	t.Helper()
	m, err := fm.CreateMatrix(numRows, numCols, fm.LayoutRow, fm.KindFloat64, coordFill(numCols))
	require.NoError(t, err)
	return m
}

func mkBlock(t *testing.T, numRows, numCols, blockSize int) *BlockMatrix {
	t.Helper()
	m, err := Create(numRows, numCols, blockSize, fm.KindFloat64, coordFill(numCols))
	require.NoError(t, err)
	return m
}

func requireSameMatrix(t *testing.T, got, want *fm.DenseMatrix, tol float64) {
	t.Helper()
	require.Equal(t, want.Shape(), got.Shape())
	for r := 0; r < want.NumRows(); r++ {
		for c := 0; c < want.NumCols(); c++ {
			w, err := want.GetFloat64(r, c)
			require.NoError(t, err)
			g, err := got.GetFloat64(r, c)
			require.NoError(t, err)
			assert.InDelta(t, w, g, tol, "element (%d,%d)", r, c)
		}
	}
}

func TestCreateOrientation(t *testing.T) {
	tall := mkBlock(t, 6, 4, 2)
	require.False(t, tall.IsWide())
	require.Equal(t, 2, tall.NumBlocks())
	require.Equal(t, 2, tall.BlockSize())
	require.Equal(t, fm.LayoutCol, tall.StoreLayout())

	wide := mkBlock(t, 4, 6, 2)
	require.True(t, wide.IsWide())
	require.Equal(t, 2, wide.NumBlocks())
	require.Equal(t, fm.LayoutRow, wide.StoreLayout())

	// The fill must agree with the dense rendering element by element.
	dense := mkDense(t, 6, 4)
	for r := 0; r < 6; r++ {
		for c := 0; c < 4; c++ {
			want, err := dense.GetFloat64(r, c)
			require.NoError(t, err)
			got, err := tall.GetFloat64(r, c)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		}
	}
}

func TestBlockMultiplyMatchesDense(t *testing.T) {
	// S4 with block_size=1 plus the block-size-transparency property:
	// every partitioning yields the dense result.
	a := mkDense(t, 2, 2)
	b := mkDense(t, 2, 2)
	dense, err := a.Multiply(b, fm.LayoutNone)
	require.NoError(t, err)

	blocked := mkBlock(t, 2, 2, 1)
	res, err := blocked.Multiply(b, fm.LayoutNone)
	require.NoError(t, err)
	requireSameMatrix(t, res, dense, 1e-9)
}

func TestBlockSizeTransparencyTall(t *testing.T) {
	denseA := mkDense(t, 6, 4)
	b := mkDense(t, 4, 5)
	want, err := denseA.Multiply(b, fm.LayoutNone)
	require.NoError(t, err)
	require.NoError(t, want.MaterializeSelf())

	for _, blockSize := range []int{1, 2, 3} {
		blocked := mkBlock(t, 6, 4, blockSize)
		require.False(t, blocked.IsWide())
		res, err := blocked.Multiply(b, fm.LayoutNone)
		require.NoError(t, err)
		requireSameMatrix(t, res, want, 1e-9)
	}
}

func TestBlockSizeTransparencyWide(t *testing.T) {
	denseA := mkDense(t, 4, 6)
	b := mkDense(t, 6, 3)
	want, err := denseA.Multiply(b, fm.LayoutNone)
	require.NoError(t, err)
	require.NoError(t, want.MaterializeSelf())

	for _, blockSize := range []int{1, 2, 3} {
		blocked := mkBlock(t, 4, 6, blockSize)
		require.True(t, blocked.IsWide())
		res, err := blocked.Multiply(b, fm.LayoutNone)
		require.NoError(t, err)
		requireSameMatrix(t, res, want, 1e-9)
	}
}

func TestBlockMultiplySwapsForLongerRight(t *testing.T) {
	denseA := mkDense(t, 4, 6)
	b := mkDense(t, 6, 8)
	want, err := denseA.Multiply(b, fm.LayoutNone)
	require.NoError(t, err)
	require.NoError(t, want.MaterializeSelf())

	blocked := mkBlock(t, 4, 6, 2)
	res, err := blocked.Multiply(b, fm.LayoutNone)
	require.NoError(t, err)
	requireSameMatrix(t, res, want, 1e-9)
}

func TestBlockInnerProdIntKernels(t *testing.T) {
	intFill := func(dest fm.Array, n, r, c int) error {
		for i := 0; i < n; i++ {
			dest.I32[i] = int32(r*3 + c + i + 1)
		}
		return nil
	}
	blocked, err := Create(5, 3, 2, fm.KindInt32, intFill)
	require.NoError(t, err)
	b, err := fm.CreateMatrix(3, 2, fm.LayoutRow, fm.KindInt32, func(dest fm.Array, n, r, c int) error {
		dest.I32[0] = int32(r*2 + c + 1)
		return nil
	})
	require.NoError(t, err)

	res, err := blocked.Multiply(b, fm.LayoutNone)
	require.NoError(t, err)
	require.Equal(t, fm.KindInt32, res.Kind())

	denseA, err := blocked.Dense()
	require.NoError(t, err)
	want, err := denseA.Multiply(b, fm.LayoutNone)
	require.NoError(t, err)
	requireSameMatrix(t, res, want, 0)
}

func TestBlockTranspose(t *testing.T) {
	tall := mkBlock(t, 6, 4, 2)
	wide := tall.Transpose()
	require.True(t, wide.IsWide())
	require.Equal(t, tall.BlockSize(), wide.BlockSize())
	require.Equal(t, tall.NumBlocks(), wide.NumBlocks())
	require.Equal(t, fm.Shape{NumRows: 4, NumCols: 6}, wide.Shape())

	v1, err := tall.GetFloat64(5, 1)
	require.NoError(t, err)
	v2, err := wide.GetFloat64(1, 5)
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
}

func TestBlockMapply2(t *testing.T) {
	a := mkBlock(t, 6, 4, 2)
	b := mkBlock(t, 6, 4, 2)
	add, err := fm.LookupBinary(fm.OpAdd, fm.KindFloat64, fm.KindFloat64)
	require.NoError(t, err)
	res, err := a.Mapply2(b, add)
	require.NoError(t, err)
	require.Equal(t, a.BlockSize(), res.BlockSize())
	v, err := res.GetFloat64(3, 2)
	require.NoError(t, err)
	assert.Equal(t, 2*float64(3*4+2+1), v)

	other := mkBlock(t, 6, 4, 3)
	_, err = a.Mapply2(other, add)
	require.ErrorIs(t, err, fm.ErrShapeMismatch)
}

func TestBlockSapply(t *testing.T) {
	a := mkBlock(t, 6, 4, 2)
	neg, err := fm.LookupUnary(fm.UnaryNeg, fm.KindFloat64)
	require.NoError(t, err)
	res, err := a.Sapply(neg)
	require.NoError(t, err)
	v, err := res.GetFloat64(2, 3)
	require.NoError(t, err)
	assert.Equal(t, -float64(2*4+3+1), v)
}

func TestBlockMapplyRowsFanOut(t *testing.T) {
	add, err := fm.LookupBinary(fm.OpAdd, fm.KindFloat64, fm.KindFloat64)
	require.NoError(t, err)

	// Tall group: the vector is cut into per-member segments.
	tall := mkBlock(t, 6, 4, 2)
	vec, err := fmvector.FromSlice([]float64{10, 20, 30, 40})
	require.NoError(t, err)
	res, err := tall.MapplyRows(vec, add)
	require.NoError(t, err)
	for r := 0; r < 6; r++ {
		for c := 0; c < 4; c++ {
			v, err := res.GetFloat64(r, c)
			require.NoError(t, err)
			assert.Equal(t, float64(r*4+c+1)+float64((c+1)*10), v)
		}
	}

	// Wide group: the same vector goes unchanged to every member.
	wide := mkBlock(t, 4, 6, 2)
	vec6, err := fmvector.FromSlice([]float64{1, 2, 3, 4, 5, 6})
	require.NoError(t, err)
	res, err = wide.MapplyRows(vec6, add)
	require.NoError(t, err)
	for r := 0; r < 4; r++ {
		for c := 0; c < 6; c++ {
			v, err := res.GetFloat64(r, c)
			require.NoError(t, err)
			assert.Equal(t, float64(r*6+c+1)+float64(c+1), v)
		}
	}

	// Length mismatch.
	_, err = tall.MapplyRows(vec6, add)
	require.ErrorIs(t, err, fm.ErrShapeMismatch)
}

func TestBlockMapplyCols(t *testing.T) {
	add, err := fm.LookupBinary(fm.OpAdd, fm.KindFloat64, fm.KindFloat64)
	require.NoError(t, err)
	tall := mkBlock(t, 6, 4, 2)
	vec, err := fmvector.FromSlice([]float64{1, 2, 3, 4, 5, 6})
	require.NoError(t, err)
	res, err := tall.MapplyCols(vec, add)
	require.NoError(t, err)
	for r := 0; r < 6; r++ {
		for c := 0; c < 4; c++ {
			v, err := res.GetFloat64(r, c)
			require.NoError(t, err)
			assert.Equal(t, float64(r*4+c+1)+float64(r+1), v)
		}
	}
}

func TestBlockSlicing(t *testing.T) {
	tall := mkBlock(t, 6, 4, 2)

	col, err := tall.GetCol(2)
	require.NoError(t, err)
	require.Equal(t, 6, col.Length())
	v, err := col.GetFloat64(1)
	require.NoError(t, err)
	assert.Equal(t, float64(1*4+2+1), v)

	_, err = tall.GetRow(0)
	require.ErrorIs(t, err, fm.ErrOrientationMismatch)

	sel, err := tall.GetCols([]int{0, 2, 3})
	require.NoError(t, err)
	require.Equal(t, fm.Shape{NumRows: 6, NumCols: 3}, sel.Shape())
	for r := 0; r < 6; r++ {
		for i, c := range []int{0, 2, 3} {
			v, err := sel.GetFloat64(r, i)
			require.NoError(t, err)
			assert.Equal(t, float64(r*4+c+1), v)
		}
	}

	_, err = tall.GetCols([]int{3, 1})
	require.ErrorIs(t, err, fm.ErrIndexOrder)
	_, err = tall.GetRows([]int{0})
	require.ErrorIs(t, err, fm.ErrOrientationMismatch)

	wide := mkBlock(t, 4, 6, 2)
	row, err := wide.GetRow(3)
	require.NoError(t, err)
	require.Equal(t, 6, row.Length())
	v, err = row.GetFloat64(2)
	require.NoError(t, err)
	assert.Equal(t, float64(3*6+2+1), v)

	rows, err := wide.GetRows([]int{1, 3})
	require.NoError(t, err)
	require.Equal(t, fm.Shape{NumRows: 2, NumCols: 6}, rows.Shape())
	_, err = wide.GetCols([]int{0})
	require.ErrorIs(t, err, fm.ErrOrientationMismatch)
}

func TestBlockMaterializeSelf(t *testing.T) {
	a := mkBlock(t, 6, 4, 2)
	neg, err := fm.LookupUnary(fm.UnaryNeg, fm.KindFloat64)
	require.NoError(t, err)
	res, err := a.Sapply(neg)
	require.NoError(t, err)
	require.True(t, res.IsVirtual())
	require.NoError(t, res.MaterializeSelf())
	require.False(t, res.IsVirtual())
	v, err := res.GetFloat64(0, 0)
	require.NoError(t, err)
	assert.Equal(t, -1.0, v)
	require.NoError(t, res.MaterializeSelf())
}

func TestBlockAssign(t *testing.T) {
	a := mkBlock(t, 6, 4, 2)
	b := mkBlock(t, 4, 6, 3)
	require.NoError(t, a.Assign(b))
	require.Equal(t, 3, a.BlockSize())
	require.Equal(t, b.Shape(), a.Shape())
}
