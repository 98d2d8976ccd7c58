// Copyright 2025 The flashmatrix Authors. SPDX-License-Identifier: Apache-2.0

package fm

import (
	"context"
	"math/rand/v2"
	"sync"
	"sync/atomic"
)

// CreateConstMatrix returns a matrix whose every element is val,
// backed by a constant store that never allocates the full element
// count.
func CreateConstMatrix(numRows, numCols int, layout Layout, val Scalar) (*DenseMatrix, error) {
	shape := Shape{NumRows: numRows, NumCols: numCols}
	if !shape.Valid() {
		return nil, ErrShapeMismatch
	}
	return NewDenseMatrix(NewOneValStore(shape, layout, val))
}

// CreateMatrix allocates an in-memory matrix and initializes it with
// the set-operate callback. op receives the global coordinates of each
// destination run and must be re-entrant across portions.
func CreateMatrix(numRows, numCols int, layout Layout, kind Kind, op SetOperate) (*DenseMatrix, error) {
	shape := Shape{NumRows: numRows, NumCols: numCols}
	if !shape.Valid() {
		return nil, ErrShapeMismatch
	}
	store := NewMemStore(shape, layout, kind)
	if op != nil {
		if err := store.SetData(context.Background(), op); err != nil {
			return nil, err
		}
	}
	return NewDenseMatrix(store)
}

// CreateNumaMatrix is CreateMatrix over a store striped across the
// host's NUMA nodes along the long axis.
func CreateNumaMatrix(numRows, numCols int, layout Layout, kind Kind, op SetOperate) (*DenseMatrix, error) {
	shape := Shape{NumRows: numRows, NumCols: numCols}
	if !shape.Valid() {
		return nil, ErrShapeMismatch
	}
	store := NewNumaStore(shape, layout, kind)
	if op != nil {
		if err := store.SetData(context.Background(), op); err != nil {
			return nil, err
		}
	}
	return NewDenseMatrix(store)
}

// ConstSet returns an initializer that fills every element with val.
func ConstSet(val Scalar) SetOperate {
	return func(dest Array, n, rowIdx, colIdx int) error {
		for i := 0; i < n; i++ {
			if err := setScalarAt(dest, i, val); err != nil {
				return err
			}
		}
		return nil
	}
}

// SeqSet returns an initializer producing from, from+by, from+2*by, ...
// in the destination's element order. It assumes the store initializes
// portions in a single element sequence (row-major for ROW stores,
// column-major for COL), which CreateMatrix's stores do.
func SeqSet(from, by float64, kind Kind) SetOperate {
	var next atomic.Int64
	return func(dest Array, n, rowIdx, colIdx int) error {
		base := next.Add(int64(n)) - int64(n)
		for i := 0; i < n; i++ {
			v := from + float64(base+int64(i))*by
			var s Scalar
			switch kind {
			case KindInt32:
				s = Scalar{Kind: KindInt32, I32: int32(v)}
			case KindFloat64:
				s = Scalar{Kind: KindFloat64, F64: v}
			default:
				return ErrUnsupportedType
			}
			if err := setScalarAt(dest, i, s); err != nil {
				return err
			}
		}
		return nil
	}
}

// randState is the explicit per-worker random generator behind RandSet.
// Generators are created lazily the first time a worker draws one and
// returned to the pool when its portion completes, so concurrent
// portions never share a generator.
type randState struct {
	gens sync.Pool
}

func newRandState(seed uint64) *randState {
	var workerSeq atomic.Uint64
	s := &randState{}
	s.gens.New = func() any {
		return rand.New(rand.NewPCG(seed, workerSeq.Add(1)))
	}
	return s
}

// RandSet returns an initializer filling elements with uniform values
// in [min, max). seed makes runs reproducible per worker sequence, not
// globally: portion order under parallel initialization is unspecified.
func RandSet(minVal, maxVal Scalar, seed uint64) SetOperate {
	state := newRandState(seed)
	lo := minVal.Float64()
	span := maxVal.Float64() - lo
	kind := minVal.Kind
	return func(dest Array, n, rowIdx, colIdx int) error {
		gen := state.gens.Get().(*rand.Rand)
		defer state.gens.Put(gen)
		for i := 0; i < n; i++ {
			v := lo + gen.Float64()*span
			var s Scalar
			switch kind {
			case KindInt32:
				s = Scalar{Kind: KindInt32, I32: int32(v)}
			case KindFloat64:
				s = Scalar{Kind: KindFloat64, F64: v}
			default:
				return ErrUnsupportedType
			}
			if err := setScalarAt(dest, i, s); err != nil {
				return err
			}
		}
		return nil
	}
}
