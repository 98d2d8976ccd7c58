// Copyright 2025 The flashmatrix Authors. SPDX-License-Identifier: Apache-2.0

// Package scheduler provides the persistent worker pool and the tiled
// iteration space that drive portion-wise materialization. A Pool is
// created once and reused across many materializations, eliminating
// per-call goroutine spawn overhead; work items are output portions
//.
package scheduler

import (
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/ralic/flashmatrix/internal/numa"
)

// Pool is a persistent worker pool. Workers are spawned once at
// creation and reused until Close.
type Pool struct {
	numWorkers int
	workC      chan workItem
	closeOnce  sync.Once
	closed     atomic.Bool
}

// workItem is one parallel operation to execute.
type workItem struct {
	fn      func()
	barrier *sync.WaitGroup
}

// New creates a pool with the given number of workers. numWorkers <= 0
// uses the scheduler-affinity CPU count when the platform reports one,
// GOMAXPROCS otherwise, so the pool never over-provisions relative to
// what the kernel will schedule.
func New(numWorkers int) *Pool {
	if numWorkers <= 0 {
		if n, ok := numa.AvailableCPUs(); ok {
			numWorkers = n
		} else {
			numWorkers = runtime.GOMAXPROCS(0)
		}
	}

	p := &Pool{
		numWorkers: numWorkers,
		workC:      make(chan workItem, numWorkers*2),
	}
	for i := 0; i < numWorkers; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	for item := range p.workC {
		item.fn()
		item.barrier.Done()
	}
}

// NumWorkers returns the pool size.
func (p *Pool) NumWorkers() int { return p.numWorkers }

// Close shuts the pool down. Pending work completes; Close is
// idempotent.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		close(p.workC)
	})
}

// ForEachErr runs fn for every index in [0, n) with atomic work
// stealing, which balances load when portions cost unevenly (an
// external read can stall one portion while its neighbors are pure
// compute). The first error stops further indices from being claimed
// and is returned once in-flight items drain.
func (p *Pool) ForEachErr(n int, fn func(i int) error) error {
	if n <= 0 {
		return nil
	}
	workers := min(p.numWorkers, n)
	if workers == 1 || p.closed.Load() {
		for i := 0; i < n; i++ {
			if err := fn(i); err != nil {
				return err
			}
		}
		return nil
	}

	var nextIdx atomic.Int64
	var firstErr atomic.Pointer[error]
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		p.workC <- workItem{
			fn: func() {
				for {
					if firstErr.Load() != nil {
						return
					}
					idx := int(nextIdx.Add(1)) - 1
					if idx >= n {
						return
					}
					if err := fn(idx); err != nil {
						firstErr.CompareAndSwap(nil, &err)
						return
					}
				}
			},
			barrier: &wg,
		}
	}
	wg.Wait()
	if errp := firstErr.Load(); errp != nil {
		return *errp
	}
	return nil
}

// Batch runs fns concurrently (or serially when parallel is false) and
// returns the first error; a failing member aborts the batch. Used by
// co-materialization, where one portion's I/O error must discard the
// whole result set.
func (p *Pool) Batch(parallel bool, fns ...func() error) error {
	if !parallel || len(fns) == 1 {
		for _, fn := range fns {
			if err := fn(); err != nil {
				return err
			}
		}
		return nil
	}
	var g errgroup.Group
	g.SetLimit(p.numWorkers)
	for _, fn := range fns {
		g.Go(fn)
	}
	return g.Wait()
}
