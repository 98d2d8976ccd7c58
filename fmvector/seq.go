// Copyright 2025 The flashmatrix Authors. SPDX-License-Identifier: Apache-2.0

package fmvector

import (
	"fmt"

	"github.com/ralic/flashmatrix/fm"
)

// CreateSeq returns the float64 vector from, from+by, ..., ending at or
// before to. The division that sizes the sequence can land just below
// the integer it should hit because of floating representation, so a
// fixed 1e-9 is added before truncation; the correction is part of the
// interface, not an implementation detail.
func CreateSeq(from, to, by float64) (*Vector, error) {
	n := int64((to-from)/by + 1e-9)
	if n < 0 || (by > 0 && to < from) || (by < 0 && to > from) {
		return nil, fmt.Errorf("%w: from=%v to=%v by=%v", fm.ErrBadSequence, from, to, by)
	}
	// Count the start element.
	n++
	v, err := New(int(n), fm.KindFloat64)
	if err != nil {
		return nil, err
	}
	for i := int64(0); i < n; i++ {
		v.arr.F64[i] = from + float64(i)*by
	}
	return v, nil
}
