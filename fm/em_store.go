// Copyright 2025 The flashmatrix Authors. SPDX-License-Identifier: Apache-2.0

package fm

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/ralic/flashmatrix/internal/extio"
)

// emStore is a matrix store resident on external (disk) storage. It
// serves portions by translating a rectangle into a byte range against
// the ByteRangeStore collaborator, following the store's declared
// layout (row-major or column-major), and honors the
// set_cache_portion hint with a small shared cache.
type emStore struct {
	shape  Shape
	layout Layout
	kind   Kind
	io     extio.ByteRangeStore

	mu        sync.Mutex
	cacheOn   bool
	cache     map[portionKey]*LocalMatrixStore
}

type portionKey struct {
	startRow, startCol, numRows, numCols int
}

// NewEmStore wraps io as an external matrix store of the given shape,
// layout, and kind. Layout must be ROW or COL (NONE is resolved to ROW).
func NewEmStore(shape Shape, layout Layout, kind Kind, io extio.ByteRangeStore) *emStore {
	if layout == LayoutNone {
		layout = LayoutRow
	}
	return &emStore{
		shape:  shape,
		layout: layout,
		kind:   kind,
		io:     io,
		cache:  map[portionKey]*LocalMatrixStore{},
	}
}

func (s *emStore) Shape() Shape        { return s.shape }
func (s *emStore) StoreLayout() Layout { return s.layout }
func (s *emStore) Kind() Kind          { return s.kind }
func (s *emStore) InMem() bool         { return false }

// byteOffset returns the byte offset of local coordinate (row, col) in
// the external file, assuming the store's declared layout.
func (s *emStore) byteOffset(row, col int) int64 {
	elemSize := int64(s.kind.Size())
	if s.layout == LayoutCol {
		return (int64(col)*int64(s.shape.NumRows) + int64(row)) * elemSize
	}
	return (int64(row)*int64(s.shape.NumCols) + int64(col)) * elemSize
}

// GetPortion reads a rectangle from external storage. A failed read
// (ErrIO) aborts the enclosing materialization; this
// method itself just surfaces the error, the scheduler is responsible
// for discarding partial output.
func (s *emStore) GetPortion(startRow, startCol, numRows, numCols int) (*LocalMatrixStore, error) {
	if err := checkRect(s.shape, startRow, startCol, numRows, numCols); err != nil {
		return nil, err
	}
	key := portionKey{startRow, startCol, numRows, numCols}

	s.mu.Lock()
	if s.cacheOn {
		if cached, ok := s.cache[key]; ok {
			s.mu.Unlock()
			return cached, nil
		}
	}
	s.mu.Unlock()

	out := NewLocalMatrixStore(startRow, startCol, numRows, numCols, s.layout, s.kind)
	elemSize := s.kind.Size()
	ctx := context.Background()
	for r := 0; r < numRows; r++ {
		for c := 0; c < numCols; c++ {
			buf := make([]byte, elemSize)
			off := s.byteOffset(startRow+r, startCol+c)
			if _, err := s.io.ReadAt(ctx, off, buf); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrIO, err)
			}
			v := decodeScalar(s.kind, buf)
			if err := out.setScalar(r, c, v); err != nil {
				return nil, err
			}
		}
	}

	s.mu.Lock()
	if s.cacheOn {
		s.cache[key] = out
	}
	s.mu.Unlock()
	return out, nil
}

func (s *emStore) WritePortionAsync(ctx context.Context, local *LocalMatrixStore, destRow, destCol int) <-chan error {
	done := make(chan error, 1)
	go func() {
		defer close(done)
		elemSize := s.kind.Size()
		for r := 0; r < local.NumRows; r++ {
			for c := 0; c < local.NumCols; c++ {
				v, err := local.GetScalar(r, c)
				if err != nil {
					done <- err
					return
				}
				buf := encodeScalar(v, elemSize)
				off := s.byteOffset(destRow+r, destCol+c)
				if _, err := s.io.WriteAt(ctx, off, buf); err != nil {
					done <- fmt.Errorf("%w: %v", ErrIO, err)
					return
				}
			}
		}
		s.mu.Lock()
		// Writing invalidates any cached portion touching this region;
		// the simple and correct choice is to drop the whole cache.
		s.cache = map[portionKey]*LocalMatrixStore{}
		s.mu.Unlock()
		done <- nil
	}()
	return done
}

func (s *emStore) Transpose() MatrixStore {
	return &emStore{
		shape:   s.shape.Transposed(),
		layout:  flipLayout(s.layout),
		kind:    s.kind,
		io:      s.io,
		cacheOn: s.cacheOn,
		cache:   map[portionKey]*LocalMatrixStore{},
	}
}

func (s *emStore) SetData(ctx context.Context, op SetOperate) error {
	elemSize := s.kind.Size()
	for r := 0; r < s.shape.NumRows; r++ {
		for c := 0; c < s.shape.NumCols; c++ {
			one := NewArray(s.kind, 1)
			if err := op(one, 1, r, c); err != nil {
				return err
			}
			v := scalarAt(one, 0)
			buf := encodeScalar(v, elemSize)
			if _, err := s.io.WriteAt(ctx, s.byteOffset(r, c), buf); err != nil {
				return fmt.Errorf("%w: %v", ErrIO, err)
			}
		}
	}
	return nil
}

func (s *emStore) SetCachePortion(cache bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cacheOn = cache
	if !cache {
		s.cache = map[portionKey]*LocalMatrixStore{}
	}
}

func decodeScalar(kind Kind, buf []byte) Scalar {
	switch kind {
	case KindInt32:
		v := int32(buf[0]) | int32(buf[1])<<8 | int32(buf[2])<<16 | int32(buf[3])<<24
		return Scalar{Kind: KindInt32, I32: v}
	case KindFloat64:
		bits := uint64(0)
		for i := 0; i < 8; i++ {
			bits |= uint64(buf[i]) << (8 * i)
		}
		return Scalar{Kind: KindFloat64, F64: math.Float64frombits(bits)}
	default:
		return Scalar{}
	}
}

func encodeScalar(v Scalar, size int) []byte {
	buf := make([]byte, size)
	switch v.Kind {
	case KindInt32:
		u := uint32(v.I32)
		buf[0], buf[1], buf[2], buf[3] = byte(u), byte(u>>8), byte(u>>16), byte(u>>24)
	case KindFloat64:
		bits := math.Float64bits(v.F64)
		for i := 0; i < 8; i++ {
			buf[i] = byte(bits >> (8 * i))
		}
	}
	return buf
}
