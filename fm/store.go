// Copyright 2025 The flashmatrix Authors. SPDX-License-Identifier: Apache-2.0

package fm

import "context"

// SetOperate is the user-supplied initializer callback passed to
// MatrixStore.SetData. The built-in stores invoke it once per element
// (n == 1); it must be safe to call concurrently on the same store;
// rowIdx/colIdx are the global coordinates of dest.Array's first element.
type SetOperate func(dest Array, n, rowIdx, colIdx int) error

// MatrixStore is the owning-storage abstraction behind every matrix
// façade. A store never references the façade that wraps it, so there
// is no reference cycle between a DenseMatrix and its store.
type MatrixStore interface {
	// Shape returns the store's (rows, cols).
	Shape() Shape
	// StoreLayout returns the store's physical layout.
	StoreLayout() Layout
	// Kind returns the element kind.
	Kind() Kind
	// InMem reports whether the store is fully resident in memory.
	InMem() bool

	// GetPortion returns a view over the requested rectangle.
	// Synchronous; may read from external storage. Returns
	// ErrIndexOutOfRange if the rectangle falls outside Shape().
	GetPortion(startRow, startCol, numRows, numCols int) (*LocalMatrixStore, error)

	// WritePortionAsync copies local into this store at (destRow,
	// destCol) and signals completion on the returned channel. Per-store
	// write ordering is preserved: a write that starts before another
	// read of the same region on the same store is observable to that
	// read.
	WritePortionAsync(ctx context.Context, local *LocalMatrixStore, destRow, destCol int) <-chan error

	// Transpose returns a store of swapped shape and swapped logical
	// layout. Must not copy data for in-memory stores.
	Transpose() MatrixStore

	// SetData invokes op over every element to initialize the store.
	SetData(ctx context.Context, op SetOperate) error

	// SetCachePortion hints whether read portions should be retained.
	// Meaningful only for external stores; a no-op elsewhere.
	SetCachePortion(cache bool)
}

// checkRect validates a requested sub-rectangle against shape and
// returns ErrIndexOutOfRange if it doesn't fit.
func checkRect(shape Shape, startRow, startCol, numRows, numCols int) error {
	if numRows <= 0 || numCols <= 0 {
		return ErrIndexOutOfRange
	}
	if startRow < 0 || startCol < 0 {
		return ErrIndexOutOfRange
	}
	if startRow+numRows > shape.NumRows || startCol+numCols > shape.NumCols {
		return ErrIndexOutOfRange
	}
	return nil
}
