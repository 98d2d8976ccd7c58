// Copyright 2025 The flashmatrix Authors. SPDX-License-Identifier: Apache-2.0

// Package extio defines the byte-range I/O collaborator an external
// (disk-resident) matrix store reads and writes through. The engine
// assumes a typed byte-range interface and stays agnostic to what
// serves it; LocalFileStore is the single-file implementation used by
// default.
package extio

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
)

// ByteRangeStore is the pluggable collaborator behind an external matrix
// store: read/write a byte range, and check existence. Implementations
// must support concurrent ReadAt/WriteAt calls from multiple workers.
type ByteRangeStore interface {
	ReadAt(ctx context.Context, offset int64, buf []byte) (int, error)
	WriteAt(ctx context.Context, offset int64, buf []byte) (int, error)
	Exists(name string) (bool, error)
	Close() error
}

// LocalFileStore is a ByteRangeStore backed by a single local file,
// standing in for a RAID/filesystem substrate.
type LocalFileStore struct {
	mu   sync.Mutex
	f    *os.File
	path string
}

// OpenLocalFileStore opens (creating if necessary) a local file to serve
// as external backing storage.
func OpenLocalFileStore(path string) (*LocalFileStore, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("extio: open %s: %w", path, err)
	}
	return &LocalFileStore{f: f, path: path}, nil
}

// ReadAt reads len(buf) bytes starting at offset.
func (s *LocalFileStore) ReadAt(ctx context.Context, offset int64, buf []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.f.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return n, fmt.Errorf("extio: read %s@%d: %w", s.path, offset, err)
	}
	return n, nil
}

// WriteAt writes buf starting at offset.
func (s *LocalFileStore) WriteAt(ctx context.Context, offset int64, buf []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.f.WriteAt(buf, offset)
	if err != nil {
		return n, fmt.Errorf("extio: write %s@%d: %w", s.path, offset, err)
	}
	return n, nil
}

// Exists reports whether a file named name exists. The name is resolved
// as given (a relative name against the process's working directory),
// not against this store's directory.
func (s *LocalFileStore) Exists(name string) (bool, error) {
	_, err := os.Stat(name)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// Close releases the underlying file handle.
func (s *LocalFileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}
