// Copyright 2025 The flashmatrix Authors. SPDX-License-Identifier: Apache-2.0

package fm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaterializeNestedVirtualTree(t *testing.T) {
	// sqrt(a) + b, two levels of virtual nodes, evaluated portion by
	// portion without buffering the intermediate.
	a := mkMatrix(t, [][]float64{{4, 16}, {36, 64}}, LayoutRow)
	b := mkMatrix(t, [][]float64{{1, 1}, {1, 1}}, LayoutRow)

	sqrt, err := LookupUnary(UnarySqrt, KindFloat64)
	require.NoError(t, err)
	add, err := LookupBinary(OpAdd, KindFloat64, KindFloat64)
	require.NoError(t, err)

	inner, err := a.Sapply(sqrt)
	require.NoError(t, err)
	outer, err := inner.Mapply2(b, add)
	require.NoError(t, err)
	require.True(t, outer.IsVirtual())

	require.NoError(t, outer.MaterializeSelf())
	requireEquals(t, outer, [][]float64{{3, 5}, {7, 9}})
}

func TestMaterializeReturnsNonVirtualUnchanged(t *testing.T) {
	m := mkMatrix(t, [][]float64{{1, 2}}, LayoutRow)
	got, err := Materialize(m.RawStore())
	require.NoError(t, err)
	require.Same(t, m.RawStore(), got)
}

func TestMaterializeBatch(t *testing.T) {
	a := mkMatrix(t, [][]float64{{1, 2}, {3, 4}}, LayoutRow)
	neg, err := LookupUnary(UnaryNeg, KindFloat64)
	require.NoError(t, err)

	var stores []MatrixStore
	for i := 0; i < 4; i++ {
		v, err := a.Sapply(neg)
		require.NoError(t, err)
		stores = append(stores, v.RawStore())
	}
	for _, parallel := range []bool{false, true} {
		results, err := MaterializeBatch(stores, parallel)
		require.NoError(t, err)
		require.Len(t, results, 4)
		for _, res := range results {
			m, err := NewDenseMatrix(res)
			require.NoError(t, err)
			requireEquals(t, m, [][]float64{{-1, -2}, {-3, -4}})
		}
	}
}

func TestVirtualTranspose(t *testing.T) {
	a := mkMatrix(t, [][]float64{{1, 2}, {3, 4}}, LayoutRow)
	b := mkMatrix(t, [][]float64{{5, 6}, {7, 8}}, LayoutRow)
	prod, err := a.Multiply(b, LayoutNone)
	require.NoError(t, err)

	tr := prod.Transpose()
	require.NoError(t, tr.MaterializeSelf())
	requireEquals(t, tr, [][]float64{{19, 43}, {22, 50}})
}

func TestMaterializeWithSmallPortions(t *testing.T) {
	old := CurrentConfig()
	Init(WithPortionSize(2, 2), WithNumWorkers(old.NumWorkers))
	t.Cleanup(func() {
		Init(WithPortionSize(old.PortionRows, old.PortionCols), WithNumWorkers(old.NumWorkers))
	})

	size := 7
	a, err := CreateMatrix(size, size, LayoutRow, KindFloat64, func(dest Array, n, r, c int) error {
		dest.F64[0] = float64(r*size + c)
		return nil
	})
	require.NoError(t, err)
	neg, err := LookupUnary(UnaryNeg, KindFloat64)
	require.NoError(t, err)
	res, err := a.Sapply(neg)
	require.NoError(t, err)
	require.NoError(t, res.MaterializeSelf())
	for r := 0; r < size; r++ {
		for c := 0; c < size; c++ {
			v, err := res.GetFloat64(r, c)
			require.NoError(t, err)
			assert.Equal(t, -float64(r*size+c), v)
		}
	}
}

func TestOneValStore(t *testing.T) {
	m, err := CreateConstMatrix(2, 3, LayoutRow, Scalar{Kind: KindInt32, I32: 9})
	require.NoError(t, err)
	sum, err := m.Aggregate(AggSum)
	require.NoError(t, err)
	assert.Equal(t, int32(54), sum.I32)
	tr := m.Transpose()
	require.Equal(t, Shape{NumRows: 3, NumCols: 2}, tr.Shape())
}
