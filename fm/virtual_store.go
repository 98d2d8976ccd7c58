// Copyright 2025 The flashmatrix Authors. SPDX-License-Identifier: Apache-2.0

package fm

import (
	"context"
	"fmt"
	"sync"
)

// MaterializeLevel controls whether a virtual store's computed result is
// retained.
type MaterializeLevel int

const (
	// MaterializeFull replaces the owning façade's store with the fully
	// materialized result on first use.
	MaterializeFull MaterializeLevel = iota
	// MaterializePart computes portions on demand and discards them once
	// returned to the caller.
	MaterializePart
)

// Rect is a rectangular region of a matrix, in global coordinates.
type Rect struct {
	StartRow, StartCol int
	NumRows, NumCols   int
}

// PortionMapplyOp is the core abstraction behind a lazy node: given k
// input local stores, produce one output local store.
type PortionMapplyOp interface {
	OutShape() Shape
	OutKind() Kind
	// IsAgg reports whether this op reduces (affects caching policy: an
	// aggregating op's intermediate portions are never worth caching).
	IsAgg() bool
	// Transpose returns the equivalent op for transposed inputs.
	Transpose() PortionMapplyOp
	// InputRect maps a requested output rectangle to the rectangle that
	// should be fetched from input i.
	InputRect(i int, out Rect) Rect
	// Run computes the output portion "out" from ins, where ins[i]
	// covers InputRect(i, out).
	Run(out Rect, ins []*LocalMatrixStore) (*LocalMatrixStore, error)
}

// virtualStore is a lazy node: an operator plus its input stores,
// computed on demand portion by portion. Materialize computes it in full
// and, when Level is MaterializeFull, keeps the result on the node.
type virtualStore struct {
	shape  Shape
	layout Layout
	kind   Kind
	op     PortionMapplyOp
	inputs []MatrixStore
	level  MaterializeLevel

	mu           sync.Mutex
	materialized MatrixStore // set once, at MaterializeFull, via SetMaterialized
}

// NewVirtualStore builds a lazy node over inputs using op. The declared
// shape/kind must equal op.OutShape()/op.OutKind().
func NewVirtualStore(op PortionMapplyOp, inputs []MatrixStore, layout Layout, level MaterializeLevel) *virtualStore {
	return &virtualStore{
		shape:  op.OutShape(),
		layout: layout,
		kind:   op.OutKind(),
		op:     op,
		inputs: inputs,
		level:  level,
	}
}

func (v *virtualStore) Shape() Shape        { return v.shape }
func (v *virtualStore) StoreLayout() Layout { return v.layout }
func (v *virtualStore) Kind() Kind          { return v.kind }
func (v *virtualStore) InMem() bool {
	for _, in := range v.inputs {
		if !in.InMem() {
			return false
		}
	}
	return true
}

// IsVirtual reports whether this store still has unmaterialized backing.
func (v *virtualStore) IsVirtual() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.materialized == nil
}

// Op exposes the operator driving this node, for the scheduler.
func (v *virtualStore) Op() PortionMapplyOp { return v.op }

// Inputs exposes the input stores, for the scheduler.
func (v *virtualStore) Inputs() []MatrixStore { return v.inputs }

// Level exposes the declared materialize level, for the scheduler.
func (v *virtualStore) Level() MaterializeLevel { return v.level }

// SetMaterialized installs store as the concrete backing for this node.
// Called by Materialize once a MaterializeFull node has been fully
// computed; idempotent and safe to call concurrently.
func (v *virtualStore) SetMaterialized(store MatrixStore) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.materialized == nil {
		v.materialized = store
	}
}

// Materialized returns the concrete backing store if this node has
// already been materialized.
func (v *virtualStore) Materialized() (MatrixStore, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.materialized, v.materialized != nil
}

// GetPortion computes (or forwards to the materialized store) the
// requested output rectangle. When still virtual, it recurses into each
// input's GetPortion for the rectangle op.InputRect declares, which
// gives hierarchical portion-wise materialization of nested virtual
// trees "for free": the inner op's GetPortion runs and its result feeds
// straight into the outer op.Run, with no full intermediate ever
// buffered.
func (v *virtualStore) GetPortion(startRow, startCol, numRows, numCols int) (*LocalMatrixStore, error) {
	if err := checkRect(v.shape, startRow, startCol, numRows, numCols); err != nil {
		return nil, err
	}
	if m, ok := v.Materialized(); ok {
		return m.GetPortion(startRow, startCol, numRows, numCols)
	}

	out := Rect{StartRow: startRow, StartCol: startCol, NumRows: numRows, NumCols: numCols}
	ins := make([]*LocalMatrixStore, len(v.inputs))
	for i, in := range v.inputs {
		r := v.op.InputRect(i, out)
		local, err := in.GetPortion(r.StartRow, r.StartCol, r.NumRows, r.NumCols)
		if err != nil {
			return nil, fmt.Errorf("virtual store input %d: %w", i, err)
		}
		ins[i] = local
	}
	return v.op.Run(out, ins)
}

func (v *virtualStore) WritePortionAsync(ctx context.Context, local *LocalMatrixStore, destRow, destCol int) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- fmt.Errorf("%w: cannot write into a virtual store", ErrAllocationFailed)
		close(done)
	}()
	return done
}

func (v *virtualStore) Transpose() MatrixStore {
	transposedInputs := make([]MatrixStore, len(v.inputs))
	for i, in := range v.inputs {
		transposedInputs[i] = in.Transpose()
	}
	return NewVirtualStore(v.op.Transpose(), transposedInputs, flipLayout(v.layout), v.level)
}

func (v *virtualStore) SetData(ctx context.Context, op SetOperate) error {
	return fmt.Errorf("%w: cannot SetData on a virtual store", ErrAllocationFailed)
}

func (v *virtualStore) SetCachePortion(bool) {}
