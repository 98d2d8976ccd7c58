// Copyright 2025 The flashmatrix Authors. SPDX-License-Identifier: Apache-2.0

package fmvector

import "github.com/ralic/flashmatrix/fm"

// DataFrame is the two-column (val, agg) groupby result. Val is nil
// when the caller didn't ask for keys.
type DataFrame struct {
	Val *Vector
	Agg *Vector
}

// newDataFrame assembles the groupby output columns: one key per
// partition and the concatenation of every partition's agg run.
func newDataFrame(keys []fm.Scalar, aggs []fm.Array, keyKind, aggKind fm.Kind, emitKeys bool) (*DataFrame, error) {
	df := &DataFrame{}
	if emitKeys {
		val, err := New(len(keys), keyKind)
		if err != nil {
			return nil, err
		}
		for i, k := range keys {
			if err := val.Set(i, k); err != nil {
				return nil, err
			}
		}
		df.Val = val
	}
	total := 0
	for _, a := range aggs {
		total += a.Len()
	}
	agg, err := New(total, aggKind)
	if err != nil {
		return nil, err
	}
	off := 0
	for _, a := range aggs {
		copyElems(agg.arr, off, a, 0, a.Len())
		off += a.Len()
	}
	df.Agg = agg
	return df, nil
}
