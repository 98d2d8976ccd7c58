// Copyright 2025 The flashmatrix Authors. SPDX-License-Identifier: Apache-2.0

package fm

import (
	"context"
	"fmt"
	"sync"

	"github.com/ralic/flashmatrix/internal/scheduler"
)

var (
	poolOnce sync.Once
	pool     *scheduler.Pool
)

// workerPool returns the process-wide portion scheduler pool, sized by
// the configuration in effect at first use.
func workerPool() *scheduler.Pool {
	poolOnce.Do(func() {
		pool = scheduler.New(CurrentConfig().NumWorkers)
	})
	return pool
}

// portionShape picks the intrinsic portion shape of an output: tall
// results tile along rows and keep every column, wide results the
// converse, with the tile dimension taken from the process
// configuration.
func portionShape(shape Shape) (rows, cols int) {
	cfg := CurrentConfig()
	if shape.IsTall() {
		return min(shape.NumRows, cfg.PortionRows), shape.NumCols
	}
	return shape.NumRows, min(shape.NumCols, cfg.PortionCols)
}

// Materialize turns a virtual store into a concrete in-memory store,
// computing output portions in parallel on the worker pool. Non-virtual
// stores are returned unchanged. Nested virtual inputs are evaluated
// hierarchically: each output portion pulls exactly the input portions
// it needs, so no full intermediate is ever buffered.
//
// On error the partially written output is discarded and must not be
// observed; the caller's store is untouched.
func Materialize(store MatrixStore) (MatrixStore, error) {
	vs, ok := store.(*virtualStore)
	if !ok {
		return store, nil
	}
	if m, done := vs.Materialized(); done {
		return m, nil
	}

	layout := vs.StoreLayout()
	if layout == LayoutNone {
		layout = LayoutRow
	}
	result := NewMemStore(vs.Shape(), layout, vs.Kind())
	pr, pc := portionShape(vs.Shape())
	tiles := scheduler.Tiles(vs.Shape().NumRows, vs.Shape().NumCols, pr, pc)
	ctx := context.Background()
	err := workerPool().ForEachErr(len(tiles), func(i int) error {
		t := tiles[i]
		local, err := vs.GetPortion(t.StartRow, t.StartCol, t.NumRows, t.NumCols)
		if err != nil {
			return fmt.Errorf("materialize portion (%d,%d): %w", t.StartRow, t.StartCol, err)
		}
		return <-result.WritePortionAsync(ctx, local, t.StartRow, t.StartCol)
	})
	if err != nil {
		return nil, err
	}
	if vs.Level() == MaterializeFull {
		vs.SetMaterialized(result)
	}
	return result, nil
}

// MaterializeBatch co-materializes a set of stores over the shared
// worker pool. With parallel set, the batch fans out and the first
// error aborts all of it; otherwise members run in order, which keeps
// reads of a shared external input serial.
func MaterializeBatch(stores []MatrixStore, parallel bool) ([]MatrixStore, error) {
	results := make([]MatrixStore, len(stores))
	fns := make([]func() error, len(stores))
	for i, s := range stores {
		i, s := i, s
		fns[i] = func() error {
			m, err := Materialize(s)
			if err != nil {
				return err
			}
			results[i] = m
			return nil
		}
	}
	if err := workerPool().Batch(parallel, fns...); err != nil {
		return nil, err
	}
	return results, nil
}
