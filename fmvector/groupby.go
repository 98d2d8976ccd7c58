// Copyright 2025 The flashmatrix Authors. SPDX-License-Identifier: Apache-2.0

package fmvector

import (
	"sort"
	"sync"

	"github.com/ralic/flashmatrix/fm"
	"github.com/ralic/flashmatrix/internal/scheduler"
)

var (
	poolOnce sync.Once
	pool     *scheduler.Pool
)

func workerPool() *scheduler.Pool {
	poolOnce.Do(func() {
		pool = scheduler.New(fm.CurrentConfig().NumWorkers)
	})
	return pool
}

// GroupOp folds one partition of equal keys into one or more output
// elements.
type GroupOp interface {
	OutKind(in fm.Kind) fm.Kind
	// Run receives the shared key of the partition and a view over its
	// values, and returns the elements to append to the agg column.
	Run(key fm.Scalar, vals *Vector) (fm.Array, error)
}

// aggGroup adapts a built-in aggregation into a GroupOp producing one
// element per partition.
type aggGroup struct {
	code fm.AggOpCode
}

// AggGroup returns a GroupOp that reduces each partition with the named
// aggregation (SUM, COUNT, MIN, MAX).
func AggGroup(code fm.AggOpCode) GroupOp { return aggGroup{code: code} }

func (g aggGroup) OutKind(in fm.Kind) fm.Kind {
	agg, err := fm.LookupAgg(g.code)
	if err != nil {
		return in
	}
	return agg.OutKind(in)
}

func (g aggGroup) Run(key fm.Scalar, vals *Vector) (fm.Array, error) {
	agg, err := fm.LookupAgg(g.code)
	if err != nil {
		return fm.Array{}, err
	}
	s, err := agg.Run(vals.Length(), vals.subArray())
	if err != nil {
		return fm.Array{}, err
	}
	out := fm.NewArray(s.Kind, 1)
	if s.Kind == fm.KindInt32 {
		out.I32[0] = s.I32
	} else {
		out.F64[0] = s.F64
	}
	return out, nil
}

// groupbyPart holds one partition's slice of the final data frame, in
// partition order.
type groupbyPart struct {
	keys []fm.Scalar
	aggs []fm.Array
}

// Groupby partitions the vector's values by key and folds each
// partition with op. The receiver is not modified: an unsorted vector
// is deep-copied and sorted first. Partition boundaries are found with
// the type's leading-constant-run primitive; partitions are distributed
// across the worker pool, one contiguous key range per task, and the
// results concatenated in key order.
//
// With emitKeys the result is a two-column frame (val, agg); otherwise
// just (agg).
func (v *Vector) Groupby(op GroupOp, emitKeys bool) (*DataFrame, error) {
	sorted := v
	if !v.sorted {
		var err error
		if sorted, err = v.DeepCopy(); err != nil {
			return nil, err
		}
		sorted.Sort()
	}

	agg, err := fm.LookupAgg(fm.AggSum)
	if err != nil {
		return nil, err
	}
	n := sorted.Length()
	if n == 0 {
		return newDataFrame(nil, nil, v.Kind(), op.OutKind(v.Kind()), emitKeys)
	}

	// Cut the sorted range into one chunk per worker, then push each
	// cut forward to the next key boundary so no partition spans two
	// chunks.
	numParts := workerPool().NumWorkers()
	starts := make([]int, 0, numParts+1)
	starts = append(starts, 0)
	for i := 1; i < numParts; i++ {
		start := n / numParts * i
		run := agg.FindNextConstantRun(n-start, sliceView(sorted.arr, sorted.subStart+start, sorted.subStart+n))
		starts = append(starts, start+run)
	}
	starts = append(starts, n)
	sort.Ints(starts)
	starts = uniqueInts(starts)

	parts := make([]groupbyPart, len(starts)-1)
	fns := make([]func() error, len(parts))
	for i := range parts {
		i := i
		lo, hi := starts[i], starts[i+1]
		fns[i] = func() error {
			sub, err := sorted.SubVec(lo, hi-lo)
			if err != nil {
				return err
			}
			part, err := serialGroupby(sub, op, agg)
			if err != nil {
				return err
			}
			parts[i] = part
			return nil
		}
	}
	if err := workerPool().Batch(true, fns...); err != nil {
		return nil, err
	}

	var keys []fm.Scalar
	var aggs []fm.Array
	for _, p := range parts {
		keys = append(keys, p.keys...)
		aggs = append(aggs, p.aggs...)
	}
	return newDataFrame(keys, aggs, v.Kind(), op.OutKind(v.Kind()), emitKeys)
}

// serialGroupby folds one sorted sub-range partition by partition.
func serialGroupby(sub *Vector, op GroupOp, agg fm.AggOp) (groupbyPart, error) {
	var part groupbyPart
	loc := 0
	n := sub.Length()
	for loc < n {
		rest := sliceView(sub.arr, sub.subStart+loc, sub.subStart+n)
		run := agg.FindNextConstantRun(n-loc, rest)
		key, err := sub.Get(loc)
		if err != nil {
			return groupbyPart{}, err
		}
		vals, err := sub.SubVec(loc, run)
		if err != nil {
			return groupbyPart{}, err
		}
		out, err := op.Run(key, vals)
		if err != nil {
			return groupbyPart{}, err
		}
		part.keys = append(part.keys, key)
		part.aggs = append(part.aggs, out)
		loc += run
	}
	return part, nil
}

func uniqueInts(s []int) []int {
	out := s[:1]
	for _, v := range s[1:] {
		if v != out[len(out)-1] {
			out = append(out, v)
		}
	}
	return out
}
