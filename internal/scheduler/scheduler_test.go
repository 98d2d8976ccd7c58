// Copyright 2025 The flashmatrix Authors. SPDX-License-Identifier: Apache-2.0

package scheduler

import (
	"errors"
	"sync/atomic"
	"testing"
)

func TestNew(t *testing.T) {
	pool := New(4)
	defer pool.Close()

	if pool.NumWorkers() != 4 {
		t.Errorf("NumWorkers() = %d, want 4", pool.NumWorkers())
	}
}

func TestForEachErr(t *testing.T) {
	pool := New(4)
	defer pool.Close()

	n := 100
	results := make([]int64, n)
	err := pool.ForEachErr(n, func(i int) error {
		atomic.StoreInt64(&results[i], int64(i)*2)
		return nil
	})
	if err != nil {
		t.Fatalf("ForEachErr() = %v", err)
	}
	for i := 0; i < n; i++ {
		if results[i] != int64(i)*2 {
			t.Errorf("results[%d] = %d, want %d", i, results[i], i*2)
		}
	}
}

func TestForEachErrStopsOnError(t *testing.T) {
	pool := New(2)
	defer pool.Close()

	boom := errors.New("boom")
	var ran atomic.Int64
	err := pool.ForEachErr(1000, func(i int) error {
		ran.Add(1)
		if i == 3 {
			return boom
		}
		return nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("ForEachErr() = %v, want %v", err, boom)
	}
	if ran.Load() == 1000 {
		t.Error("error did not stop index claiming")
	}
}

func TestBatch(t *testing.T) {
	pool := New(4)
	defer pool.Close()

	for _, parallel := range []bool{false, true} {
		var done atomic.Int64
		fns := make([]func() error, 8)
		for i := range fns {
			fns[i] = func() error {
				done.Add(1)
				return nil
			}
		}
		if err := pool.Batch(parallel, fns...); err != nil {
			t.Fatalf("Batch(parallel=%v) = %v", parallel, err)
		}
		if done.Load() != 8 {
			t.Errorf("Batch(parallel=%v) ran %d fns, want 8", parallel, done.Load())
		}
	}
}

func TestBatchPropagatesError(t *testing.T) {
	pool := New(4)
	defer pool.Close()

	boom := errors.New("boom")
	err := pool.Batch(true,
		func() error { return nil },
		func() error { return boom },
		func() error { return nil },
	)
	if !errors.Is(err, boom) {
		t.Fatalf("Batch() = %v, want %v", err, boom)
	}
}

func TestTiles(t *testing.T) {
	tiles := Tiles(7, 5, 3, 2)
	covered := make([][]bool, 7)
	for i := range covered {
		covered[i] = make([]bool, 5)
	}
	for _, tile := range tiles {
		if tile.NumRows <= 0 || tile.NumCols <= 0 {
			t.Fatalf("empty tile %+v", tile)
		}
		for r := tile.StartRow; r < tile.StartRow+tile.NumRows; r++ {
			for c := tile.StartCol; c < tile.StartCol+tile.NumCols; c++ {
				if covered[r][c] {
					t.Fatalf("cell (%d,%d) covered twice", r, c)
				}
				covered[r][c] = true
			}
		}
	}
	for r := range covered {
		for c := range covered[r] {
			if !covered[r][c] {
				t.Errorf("cell (%d,%d) not covered", r, c)
			}
		}
	}
}

func TestTilesDegenerate(t *testing.T) {
	tiles := Tiles(3, 4, 0, 0)
	if len(tiles) != 1 {
		t.Fatalf("Tiles(3,4,0,0) = %d tiles, want 1", len(tiles))
	}
	if tiles[0].NumRows != 3 || tiles[0].NumCols != 4 {
		t.Errorf("tile = %+v, want full matrix", tiles[0])
	}
}
