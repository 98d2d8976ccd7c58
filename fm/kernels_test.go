// Copyright 2025 The flashmatrix Authors. SPDX-License-Identifier: Apache-2.0

package fm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypePromotion(t *testing.T) {
	assert.Equal(t, KindInt32, PromotedKind(KindInt32, KindInt32))
	assert.Equal(t, KindFloat64, PromotedKind(KindInt32, KindFloat64))
	assert.Equal(t, KindFloat64, PromotedKind(KindFloat64, KindInt32))
	assert.Equal(t, KindFloat64, PromotedKind(KindFloat64, KindFloat64))

	k, err := LookupBinary(OpAdd, KindInt32, KindFloat64)
	require.NoError(t, err)
	assert.Equal(t, KindFloat64, k.OutKind())
	assert.Equal(t, 4, k.LeftSize())
	assert.Equal(t, 8, k.RightSize())
	assert.Equal(t, 8, k.OutSize())
}

func TestBinaryKernelModes(t *testing.T) {
	k, err := LookupBinary(OpMul, KindFloat64, KindFloat64)
	require.NoError(t, err)

	lhs := Array{Kind: KindFloat64, F64: []float64{1, 2, 3}}
	rhs := Array{Kind: KindFloat64, F64: []float64{4, 5, 6}}
	out := NewArray(KindFloat64, 3)

	require.NoError(t, k.RunAA(3, lhs, rhs, out))
	assert.Equal(t, []float64{4, 10, 18}, out.F64)

	require.NoError(t, k.RunAE(3, lhs, Scalar{Kind: KindFloat64, F64: 10}, out))
	assert.Equal(t, []float64{10, 20, 30}, out.F64)

	require.NoError(t, k.RunEA(3, Scalar{Kind: KindFloat64, F64: 2}, rhs, out))
	assert.Equal(t, []float64{8, 10, 12}, out.F64)

	require.ErrorIs(t, k.RunAA(5, lhs, rhs, out), ErrShapeMismatch)
}

func TestIntKernels(t *testing.T) {
	pow, err := LookupBinary(OpPow, KindInt32, KindInt32)
	require.NoError(t, err)
	out := NewArray(KindInt32, 3)
	lhs := Array{Kind: KindInt32, I32: []int32{2, 3, 10}}
	rhs := Array{Kind: KindInt32, I32: []int32{10, 3, 0}}
	require.NoError(t, pow.RunAA(3, lhs, rhs, out))
	assert.Equal(t, []int32{1024, 27, 1}, out.I32)

	div, err := LookupBinary(OpDiv, KindInt32, KindInt32)
	require.NoError(t, err)
	require.NoError(t, div.RunAA(3, lhs, Array{Kind: KindInt32, I32: []int32{2, 2, 0}}, out))
	assert.Equal(t, []int32{1, 1, 0}, out.I32)
}

func TestUnaryKernels(t *testing.T) {
	sqrtInt, err := LookupUnary(UnarySqrt, KindInt32)
	require.NoError(t, err)
	// Integer sqrt widens to double.
	assert.Equal(t, KindFloat64, sqrtInt.OutKind())
	out := NewArray(KindFloat64, 2)
	require.NoError(t, sqrtInt.Run(2, Array{Kind: KindInt32, I32: []int32{9, 49}}, out))
	assert.Equal(t, []float64{3, 7}, out.F64)
}

func TestAggFindNextConstantRun(t *testing.T) {
	agg, err := LookupAgg(AggSum)
	require.NoError(t, err)
	in := Array{Kind: KindInt32, I32: []int32{1, 1, 1, 2, 2, 3}}
	assert.Equal(t, 3, agg.FindNextConstantRun(6, in))
	assert.Equal(t, 1, agg.FindNextConstantRun(1, in))

	_, err = LookupAgg(AggOpCode(99))
	require.ErrorIs(t, err, ErrUnsupportedType)
}

func TestTypeRegistry(t *testing.T) {
	r := NewTypeRegistry()
	d, ok := r.Lookup(KindFloat64)
	require.True(t, ok)
	assert.Equal(t, 8, d.Size())

	_, ok = r.Lookup(Kind(42))
	require.False(t, ok)
	r.Register(Kind(42), TypeDescriptor{kind: Kind(42)})
	_, ok = r.Lookup(Kind(42))
	require.True(t, ok)
}
