// Copyright 2025 The flashmatrix Authors. SPDX-License-Identifier: Apache-2.0

package fm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mkMatrix builds an in-memory float64 matrix from row-major literals
// in the requested physical layout.
func mkMatrix(t *testing.T, vals [][]float64, layout Layout) *DenseMatrix {
	t.Helper()
	nr, nc := len(vals), len(vals[0])
	arr := NewArray(KindFloat64, nr*nc)
	for r := 0; r < nr; r++ {
		for c := 0; c < nc; c++ {
			if layout == LayoutCol {
				arr.F64[c*nr+r] = vals[r][c]
			} else {
				arr.F64[r*nc+c] = vals[r][c]
			}
		}
	}
	store, err := NewMemStoreFromArray(Shape{NumRows: nr, NumCols: nc}, layout, arr)
	require.NoError(t, err)
	m, err := NewDenseMatrix(store)
	require.NoError(t, err)
	return m
}

func mkIntMatrix(t *testing.T, vals [][]int32) *DenseMatrix {
	t.Helper()
	nr, nc := len(vals), len(vals[0])
	arr := NewArray(KindInt32, nr*nc)
	for r := 0; r < nr; r++ {
		for c := 0; c < nc; c++ {
			arr.I32[r*nc+c] = vals[r][c]
		}
	}
	store, err := NewMemStoreFromArray(Shape{NumRows: nr, NumCols: nc}, LayoutRow, arr)
	require.NoError(t, err)
	m, err := NewDenseMatrix(store)
	require.NoError(t, err)
	return m
}

// requireEquals checks element-wise equality against row-major
// literals.
func requireEquals(t *testing.T, m *DenseMatrix, want [][]float64) {
	t.Helper()
	require.Equal(t, len(want), m.NumRows())
	require.Equal(t, len(want[0]), m.NumCols())
	for r := 0; r < m.NumRows(); r++ {
		for c := 0; c < m.NumCols(); c++ {
			got, err := m.GetFloat64(r, c)
			require.NoError(t, err)
			assert.InDelta(t, want[r][c], got, 1e-12, "element (%d,%d)", r, c)
		}
	}
}

func TestCreateConstMatrix(t *testing.T) {
	m, err := CreateConstMatrix(3, 2, LayoutCol, Scalar{Kind: KindFloat64, F64: 7})
	require.NoError(t, err)
	col0, err := m.GetCol(0)
	require.NoError(t, err)
	col1, err := m.GetCol(1)
	require.NoError(t, err)
	requireEquals(t, col0, [][]float64{{7}, {7}, {7}})
	requireEquals(t, col1, [][]float64{{7}, {7}, {7}})
}

func TestMultiply(t *testing.T) {
	a := mkMatrix(t, [][]float64{{1, 2}, {3, 4}}, LayoutRow)
	b := mkMatrix(t, [][]float64{{5, 6}, {7, 8}}, LayoutRow)
	res, err := a.Multiply(b, LayoutNone)
	require.NoError(t, err)
	requireEquals(t, res, [][]float64{{19, 22}, {43, 50}})
}

func TestMultiplyInnerProdEquivalence(t *testing.T) {
	a := mkMatrix(t, [][]float64{{1.5, -2, 0.25}, {3, 4, -1}}, LayoutRow)
	b := mkMatrix(t, [][]float64{{2, 0}, {1, -1}, {0.5, 4}}, LayoutCol)

	mul, err := LookupBinary(OpMul, KindFloat64, KindFloat64)
	require.NoError(t, err)
	add, err := LookupBinary(OpAdd, KindFloat64, KindFloat64)
	require.NoError(t, err)

	fast, err := a.Multiply(b, LayoutNone)
	require.NoError(t, err)
	generic, err := a.InnerProd(b, mul, add, LayoutNone)
	require.NoError(t, err)

	for r := 0; r < fast.NumRows(); r++ {
		for c := 0; c < fast.NumCols(); c++ {
			f, err := fast.GetFloat64(r, c)
			require.NoError(t, err)
			g, err := generic.GetFloat64(r, c)
			require.NoError(t, err)
			assert.InDelta(t, g, f, 1e-12)
		}
	}
}

func TestMultiplyIntDelegatesToInnerProd(t *testing.T) {
	a := mkIntMatrix(t, [][]int32{{1, 2}, {3, 4}})
	b := mkIntMatrix(t, [][]int32{{5, 6}, {7, 8}})
	res, err := a.Multiply(b, LayoutNone)
	require.NoError(t, err)
	require.Equal(t, KindInt32, res.Kind())
	requireEquals(t, res, [][]float64{{19, 22}, {43, 50}})
}

func TestInnerProdPreconditions(t *testing.T) {
	a := mkMatrix(t, [][]float64{{1, 2}, {3, 4}}, LayoutRow)
	tall := mkMatrix(t, [][]float64{{1, 2}, {3, 4}, {5, 6}}, LayoutRow)

	mul, err := LookupBinary(OpMul, KindFloat64, KindFloat64)
	require.NoError(t, err)
	add, err := LookupBinary(OpAdd, KindFloat64, KindFloat64)
	require.NoError(t, err)

	_, err = a.InnerProd(tall, mul, add, LayoutNone)
	require.ErrorIs(t, err, ErrShapeMismatch)

	intMul, err := LookupBinary(OpMul, KindInt32, KindInt32)
	require.NoError(t, err)
	_, err = a.InnerProd(a, intMul, add, LayoutNone)
	require.ErrorIs(t, err, ErrIncompatibleOperator)

	// A right op whose input and output types differ is rejected.
	mixed, err := LookupBinary(OpAdd, KindInt32, KindFloat64)
	require.NoError(t, err)
	_, err = a.InnerProd(a, mul, mixed, LayoutNone)
	require.ErrorIs(t, err, ErrIncompatibleOperator)
}

func TestMapply2(t *testing.T) {
	a := mkMatrix(t, [][]float64{{1, 2}, {3, 4}}, LayoutRow)
	b := mkMatrix(t, [][]float64{{10, 20}, {30, 40}}, LayoutRow)
	add, err := LookupBinary(OpAdd, KindFloat64, KindFloat64)
	require.NoError(t, err)
	res, err := a.Mapply2(b, add)
	require.NoError(t, err)
	requireEquals(t, res, [][]float64{{11, 22}, {33, 44}})

	short := mkMatrix(t, [][]float64{{1, 2}}, LayoutRow)
	_, err = a.Mapply2(short, add)
	require.ErrorIs(t, err, ErrShapeMismatch)
}

func TestMapply2LayoutIndependence(t *testing.T) {
	vals := [][]float64{{1, 2, 3}, {4, 5, 6}}
	x := mkMatrix(t, [][]float64{{9, 8, 7}, {6, 5, 4}}, LayoutRow)
	add, err := LookupBinary(OpAdd, KindFloat64, KindFloat64)
	require.NoError(t, err)

	rowRes, err := mkMatrix(t, vals, LayoutRow).Mapply2(x, add)
	require.NoError(t, err)
	colRes, err := mkMatrix(t, vals, LayoutCol).Mapply2(x, add)
	require.NoError(t, err)

	want := [][]float64{{10, 10, 10}, {10, 10, 10}}
	requireEquals(t, rowRes, want)
	requireEquals(t, colRes, want)
}

func TestSapply(t *testing.T) {
	a := mkMatrix(t, [][]float64{{4, 9}, {16, 25}}, LayoutRow)
	sqrt, err := LookupUnary(UnarySqrt, KindFloat64)
	require.NoError(t, err)
	res, err := a.Sapply(sqrt)
	require.NoError(t, err)
	requireEquals(t, res, [][]float64{{2, 3}, {4, 5}})
}

func TestTransposeInvolution(t *testing.T) {
	for _, layout := range []Layout{LayoutRow, LayoutCol} {
		m := mkMatrix(t, [][]float64{{1, 2, 3}, {4, 5, 6}}, layout)
		tt := m.Transpose().Transpose()
		requireEquals(t, tt, [][]float64{{1, 2, 3}, {4, 5, 6}})
	}
}

func TestTransposeAndSlice(t *testing.T) {
	m := mkMatrix(t, [][]float64{{1, 2, 3}, {4, 5, 6}}, LayoutRow)
	col, err := m.Transpose().GetCol(0)
	require.NoError(t, err)
	requireEquals(t, col, [][]float64{{1}, {2}, {3}})
}

func TestMapplyRowsCols(t *testing.T) {
	m := mkMatrix(t, [][]float64{{1, 2, 3}, {4, 5, 6}}, LayoutRow)
	add, err := LookupBinary(OpAdd, KindFloat64, KindFloat64)
	require.NoError(t, err)

	rowVec := mkMatrix(t, [][]float64{{10, 20, 30}}, LayoutRow)
	res, err := m.MapplyRows(rowVec, add)
	require.NoError(t, err)
	requireEquals(t, res, [][]float64{{11, 22, 33}, {14, 25, 36}})

	colVec := mkMatrix(t, [][]float64{{100}, {200}}, LayoutRow)
	res, err = m.MapplyCols(colVec, add)
	require.NoError(t, err)
	requireEquals(t, res, [][]float64{{101, 102, 103}, {204, 205, 206}})

	_, err = m.MapplyRows(colVec, add)
	require.ErrorIs(t, err, ErrShapeMismatch)
}

func TestAggregate(t *testing.T) {
	m := mkMatrix(t, [][]float64{{1, 2, 3}, {4, 5, 6}}, LayoutRow)

	sum, err := m.Aggregate(AggSum)
	require.NoError(t, err)
	assert.Equal(t, 21.0, sum.Float64())

	mn, err := m.Aggregate(AggMin)
	require.NoError(t, err)
	assert.Equal(t, 1.0, mn.Float64())

	mx, err := m.Aggregate(AggMax)
	require.NoError(t, err)
	assert.Equal(t, 6.0, mx.Float64())

	cnt, err := m.Aggregate(AggCount)
	require.NoError(t, err)
	assert.Equal(t, int32(6), cnt.I32)
}

func TestNorm2(t *testing.T) {
	m := mkMatrix(t, [][]float64{{3, 0}, {0, 4}}, LayoutRow)
	n, err := m.Norm2()
	require.NoError(t, err)
	assert.InDelta(t, 5.0, n, 1e-12)
}

func TestConv2(t *testing.T) {
	m := mkMatrix(t, [][]float64{{1, 2, 3}, {4, 5, 6}}, LayoutRow)

	byrow, err := m.Conv2(3, 2, true)
	require.NoError(t, err)
	requireEquals(t, byrow, [][]float64{{1, 2}, {3, 4}, {5, 6}})

	bycol, err := m.Conv2(3, 2, false)
	require.NoError(t, err)
	requireEquals(t, bycol, [][]float64{{1, 5}, {4, 3}, {2, 6}})

	_, err = m.Conv2(4, 2, true)
	require.ErrorIs(t, err, ErrShapeMismatch)
}

func TestGetColsRows(t *testing.T) {
	vals := [][]float64{{1, 2, 3, 4}, {5, 6, 7, 8}, {9, 10, 11, 12}}

	colMat := mkMatrix(t, vals, LayoutCol)
	sel, err := colMat.GetCols([]int{0, 2})
	require.NoError(t, err)
	requireEquals(t, sel, [][]float64{{1, 3}, {5, 7}, {9, 11}})

	_, err = colMat.GetCols([]int{2, 0})
	require.ErrorIs(t, err, ErrIndexOrder)
	_, err = colMat.GetCols([]int{1, 1})
	require.ErrorIs(t, err, ErrIndexOrder)
	_, err = colMat.GetCols([]int{0, 9})
	require.ErrorIs(t, err, ErrIndexOutOfRange)
	_, err = colMat.GetRows([]int{0, 1})
	require.ErrorIs(t, err, ErrOrientationMismatch)

	rowMat := mkMatrix(t, vals, LayoutRow)
	rows, err := rowMat.GetRows([]int{0, 2})
	require.NoError(t, err)
	requireEquals(t, rows, [][]float64{{1, 2, 3, 4}, {9, 10, 11, 12}})
	_, err = rowMat.GetCols([]int{0})
	require.ErrorIs(t, err, ErrOrientationMismatch)
}

func TestMaterializeSelfIdempotent(t *testing.T) {
	a := mkMatrix(t, [][]float64{{1, 2}, {3, 4}}, LayoutRow)
	b := mkMatrix(t, [][]float64{{5, 6}, {7, 8}}, LayoutRow)
	res, err := a.Multiply(b, LayoutNone)
	require.NoError(t, err)
	require.True(t, res.IsVirtual())

	require.NoError(t, res.MaterializeSelf())
	require.False(t, res.IsVirtual())
	requireEquals(t, res, [][]float64{{19, 22}, {43, 50}})

	require.NoError(t, res.MaterializeSelf())
	require.False(t, res.IsVirtual())
	requireEquals(t, res, [][]float64{{19, 22}, {43, 50}})
}

func TestAssign(t *testing.T) {
	a := mkMatrix(t, [][]float64{{1, 2}, {3, 4}}, LayoutRow)
	b := mkMatrix(t, [][]float64{{5, 6}, {7, 8}}, LayoutRow)
	require.NoError(t, a.Assign(b))
	requireEquals(t, a, [][]float64{{5, 6}, {7, 8}})
	require.Same(t, b.RawStore(), a.RawStore())
}

type rowSumOp struct{}

func (rowSumOp) OutLen(int) int        { return 1 }
func (rowSumOp) OutKind(in Kind) Kind  { return in }
func (rowSumOp) Run(in, out Array) error {
	var sum float64
	for _, v := range in.F64 {
		sum += v
	}
	out.F64[0] = sum
	return nil
}

func TestApply(t *testing.T) {
	m := mkMatrix(t, [][]float64{{1, 2, 3}, {4, 5, 6}}, LayoutRow)

	rows, err := m.Apply(MarginRow, rowSumOp{})
	require.NoError(t, err)
	requireEquals(t, rows, [][]float64{{6}, {15}})

	cols, err := m.Apply(MarginCol, rowSumOp{})
	require.NoError(t, err)
	requireEquals(t, cols, [][]float64{{5, 7, 9}})
}
