// Copyright 2025 The flashmatrix Authors. SPDX-License-Identifier: Apache-2.0

// Package fmblock provides the block matrix façade: a dense matrix
// whose backing store is a group of equally shaped sub-matrices laid
// out along the long axis, with a fixed block size. A
// tall block matrix concatenates column blocks side by side; a wide
// one stacks row blocks. Arithmetic preserves the partition whenever
// possible.
package fmblock

import (
	"context"
	"fmt"

	"github.com/ralic/flashmatrix/fm"
	"github.com/ralic/flashmatrix/fmvector"
	"github.com/ralic/flashmatrix/internal/flog"
)

// BlockMatrix wraps a combined store plus an immutable block size.
type BlockMatrix struct {
	store     *fm.CombinedStore
	blockSize int
}

// New wraps a combined store as a block matrix. The group invariant
// (members equal on the shared dimension, at most the tail smaller on
// the other) is already enforced by the store; here the member spans
// define the block size.
func New(store *fm.CombinedStore) (*BlockMatrix, error) {
	if store == nil {
		return nil, fm.ErrNilStore
	}
	return &BlockMatrix{store: store, blockSize: memberSpan(store, 0)}, nil
}

// memberSpan is member i's extent along the concatenation axis.
func memberSpan(store *fm.CombinedStore, i int) int {
	if store.IsWideGroup() {
		return store.Mat(i).Shape().NumRows
	}
	return store.Mat(i).Shape().NumCols
}

// Create allocates a block matrix of the given shape and block size and
// initializes it with op. A tall matrix splits its columns into
// column-major blocks; a wide one splits its rows into row-major
// blocks, matching the layouts the two inner-product algorithms want.
func Create(numRows, numCols, blockSize int, kind fm.Kind, op fm.SetOperate) (*BlockMatrix, error) {
	if numRows <= 0 || numCols <= 0 || blockSize <= 0 {
		return nil, fm.ErrShapeMismatch
	}
	tall := numRows > numCols
	span := numCols
	layout := fm.LayoutCol
	if !tall {
		span = numRows
		layout = fm.LayoutRow
	}
	numBlocks := (span + blockSize - 1) / blockSize
	mats := make([]fm.MatrixStore, 0, numBlocks)
	ctx := context.Background()
	for b := 0; b < numBlocks; b++ {
		width := min(blockSize, span-b*blockSize)
		var store fm.MatrixStore
		off := b * blockSize
		if tall {
			store = fm.NewMemStore(fm.Shape{NumRows: numRows, NumCols: width}, layout, kind)
			if op != nil {
				blockOp := func(dest fm.Array, n, r, c int) error { return op(dest, n, r, c+off) }
				if err := store.SetData(ctx, blockOp); err != nil {
					return nil, err
				}
			}
		} else {
			store = fm.NewMemStore(fm.Shape{NumRows: width, NumCols: numCols}, layout, kind)
			if op != nil {
				blockOp := func(dest fm.Array, n, r, c int) error { return op(dest, n, r+off, c) }
				if err := store.SetData(ctx, blockOp); err != nil {
					return nil, err
				}
			}
		}
		mats = append(mats, store)
	}
	combined, err := fm.NewCombinedStore(mats, layout)
	if err != nil {
		return nil, err
	}
	return &BlockMatrix{store: combined, blockSize: blockSize}, nil
}

// BlockSize returns the fixed block size set at creation.
func (m *BlockMatrix) BlockSize() int { return m.blockSize }

// NumBlocks returns the number of member matrices in the group.
func (m *BlockMatrix) NumBlocks() int { return m.store.NumMats() }

// Shape returns the group's overall (rows, cols).
func (m *BlockMatrix) Shape() fm.Shape { return m.store.Shape() }

// NumRows returns the overall row count.
func (m *BlockMatrix) NumRows() int { return m.Shape().NumRows }

// NumCols returns the overall column count.
func (m *BlockMatrix) NumCols() int { return m.Shape().NumCols }

// Kind returns the element kind shared by all members.
func (m *BlockMatrix) Kind() fm.Kind { return m.store.Kind() }

// StoreLayout returns the layout shared by all members.
func (m *BlockMatrix) StoreLayout() fm.Layout { return m.store.StoreLayout() }

// IsWide reports whether this is a wide group (row blocks stacked).
func (m *BlockMatrix) IsWide() bool { return m.store.IsWideGroup() }

// Store returns the backing combined store.
func (m *BlockMatrix) Store() *fm.CombinedStore { return m.store }

// Dense returns a dense façade over the same combined store, for
// callers that don't care about the partition.
func (m *BlockMatrix) Dense() (*fm.DenseMatrix, error) {
	return fm.NewDenseMatrix(m.store)
}

// member wraps member i in a dense façade.
func (m *BlockMatrix) member(i int) (*fm.DenseMatrix, error) {
	return fm.NewDenseMatrix(m.store.Mat(i))
}

// GetFloat64 reads element (row, col) through the group.
func (m *BlockMatrix) GetFloat64(row, col int) (float64, error) {
	p, err := m.store.GetPortion(row, col, 1, 1)
	if err != nil {
		return 0, err
	}
	return p.GetFloat64(0, 0)
}

// Transpose transposes every member and flips the orientation: a tall
// block matrix becomes a wide one with the same member count and block
// size.
func (m *BlockMatrix) Transpose() *BlockMatrix {
	t := m.store.Transpose().(*fm.CombinedStore)
	return &BlockMatrix{store: t, blockSize: m.blockSize}
}

// IsVirtual reports whether any member is still a lazy node.
func (m *BlockMatrix) IsVirtual() bool {
	for i := 0; i < m.store.NumMats(); i++ {
		d, err := m.member(i)
		if err == nil && d.IsVirtual() {
			return true
		}
	}
	return false
}

// MaterializeSelf materializes every member and rebinds the group to
// the concrete results. Idempotent.
func (m *BlockMatrix) MaterializeSelf() error {
	if !m.IsVirtual() {
		return nil
	}
	mats := make([]fm.MatrixStore, m.store.NumMats())
	for i := range mats {
		mats[i] = m.store.Mat(i)
	}
	results, err := fm.MaterializeBatch(mats, true)
	if err != nil {
		return err
	}
	combined, err := fm.NewCombinedStore(results, results[0].StoreLayout())
	if err != nil {
		return err
	}
	m.store = combined
	return nil
}

// Assign rebinds m to share other's store and block size. Both sides
// must be block matrices; rebinding from a plain dense matrix would
// silently drop the partition.
func (m *BlockMatrix) Assign(other *BlockMatrix) error {
	if other == nil {
		return fm.ErrNilStore
	}
	m.store = other.store
	m.blockSize = other.blockSize
	return nil
}

// rebuild wraps per-member result stores back into a block matrix with
// this group's block size.
func (m *BlockMatrix) rebuild(stores []fm.MatrixStore) (*BlockMatrix, error) {
	combined, err := fm.NewCombinedStore(stores, stores[0].StoreLayout())
	if err != nil {
		return nil, err
	}
	return &BlockMatrix{store: combined, blockSize: m.blockSize}, nil
}

// Mapply2 applies op element-wise over two block matrices with the same
// shape and block size, member by member, preserving the partition.
func (m *BlockMatrix) Mapply2(other *BlockMatrix, op fm.BinaryKernel) (*BlockMatrix, error) {
	if other == nil {
		return nil, fm.ErrNilStore
	}
	if m.Shape() != other.Shape() {
		flog.Errorf("mapply2: the matrix size isn't compatible")
		return nil, fm.ErrShapeMismatch
	}
	if m.blockSize != other.blockSize || m.IsWide() != other.IsWide() {
		flog.Errorf("mapply2: the input matrix has a different block size")
		return nil, fm.ErrShapeMismatch
	}
	stores := make([]fm.MatrixStore, m.NumBlocks())
	for i := range stores {
		a, err := m.member(i)
		if err != nil {
			return nil, err
		}
		b, err := other.member(i)
		if err != nil {
			return nil, err
		}
		res, err := a.Mapply2(b, op)
		if err != nil {
			return nil, err
		}
		stores[i] = res.RawStore()
	}
	return m.rebuild(stores)
}

// Sapply applies a unary kernel member by member.
func (m *BlockMatrix) Sapply(op fm.UnaryKernel) (*BlockMatrix, error) {
	stores := make([]fm.MatrixStore, m.NumBlocks())
	for i := range stores {
		d, err := m.member(i)
		if err != nil {
			return nil, err
		}
		res, err := d.Sapply(op)
		if err != nil {
			return nil, err
		}
		stores[i] = res.RawStore()
	}
	return m.rebuild(stores)
}

// MapplyRows broadcasts vals over every row with op. On a wide group
// the same vector goes unchanged to every member; on a tall group it is
// cut into consecutive segments matching each member's column count and
// each segment routed to its member.
func (m *BlockMatrix) MapplyRows(vals *fmvector.Vector, op fm.BinaryKernel) (*BlockMatrix, error) {
	if vals == nil {
		return nil, fm.ErrNilStore
	}
	if !vals.InMem() {
		flog.Errorf("mapply_rows: can't scale rows with an EM vector")
		return nil, fm.ErrImExpected
	}
	if vals.Length() != m.NumCols() {
		flog.Errorf("mapply_rows: the vector's length needs to equal to #columns")
		return nil, fm.ErrShapeMismatch
	}
	stores := make([]fm.MatrixStore, m.NumBlocks())
	if m.IsWide() {
		row, err := vals.AsRowMatrix()
		if err != nil {
			return nil, err
		}
		for i := range stores {
			d, err := m.member(i)
			if err != nil {
				return nil, err
			}
			res, err := d.MapplyRows(row, op)
			if err != nil {
				return nil, err
			}
			stores[i] = res.RawStore()
		}
		return m.rebuild(stores)
	}
	start := 0
	for i := range stores {
		d, err := m.member(i)
		if err != nil {
			return nil, err
		}
		llen := d.NumCols()
		seg, err := vals.SubVec(start, llen)
		if err != nil {
			return nil, err
		}
		row, err := seg.AsRowMatrix()
		if err != nil {
			return nil, err
		}
		res, err := d.MapplyRows(row, op)
		if err != nil {
			return nil, err
		}
		stores[i] = res.RawStore()
		start += llen
	}
	return m.rebuild(stores)
}

// MapplyCols broadcasts vals over every column: transpose, MapplyRows,
// transpose back.
func (m *BlockMatrix) MapplyCols(vals *fmvector.Vector, op fm.BinaryKernel) (*BlockMatrix, error) {
	res, err := m.Transpose().MapplyRows(vals, op)
	if err != nil {
		return nil, err
	}
	return res.Transpose(), nil
}

// GetCol returns column idx of a tall group: the member holding the
// block idx falls into serves it directly.
func (m *BlockMatrix) GetCol(idx int) (*fmvector.Vector, error) {
	if idx < 0 || idx >= m.NumCols() {
		flog.Errorf("get_col: the col index is out of bound")
		return nil, fm.ErrIndexOutOfRange
	}
	if m.IsWide() {
		flog.Errorf("get_col: can't get a column from a group of wide matrices")
		return nil, fm.ErrOrientationMismatch
	}
	d, err := m.member(idx / m.blockSize)
	if err != nil {
		return nil, err
	}
	col, err := d.GetCol(idx % m.blockSize)
	if err != nil {
		return nil, err
	}
	return fmvector.FromStore(col.RawStore())
}

// GetRow returns row idx of a wide group.
func (m *BlockMatrix) GetRow(idx int) (*fmvector.Vector, error) {
	if idx < 0 || idx >= m.NumRows() {
		flog.Errorf("get_row: the row index is out of bound")
		return nil, fm.ErrIndexOutOfRange
	}
	if !m.IsWide() {
		flog.Errorf("get_row: can't get a row from a group of tall matrices")
		return nil, fm.ErrOrientationMismatch
	}
	d, err := m.member(idx / m.blockSize)
	if err != nil {
		return nil, err
	}
	row, err := d.GetRow(idx % m.blockSize)
	if err != nil {
		return nil, err
	}
	return fmvector.FromStore(row.RawStore())
}

// groupLocalIdxs buckets ascending global indices by the block they
// fall into.
func groupLocalIdxs(idxs []int, blockSize int) (matIdxs []int, localIdxs [][]int) {
	for _, idx := range idxs {
		mat := idx / blockSize
		local := idx % blockSize
		if len(matIdxs) == 0 || mat != matIdxs[len(matIdxs)-1] {
			matIdxs = append(matIdxs, mat)
			localIdxs = append(localIdxs, []int{local})
		} else {
			localIdxs[len(localIdxs)-1] = append(localIdxs[len(localIdxs)-1], local)
		}
	}
	return matIdxs, localIdxs
}

// GetCols selects columns of a tall group: the indices are grouped by
// target block, each group forwarded to its member, and the selected
// columns assembled into one matrix. Indices must be ascending and
// unique.
func (m *BlockMatrix) GetCols(idxs []int) (*fm.DenseMatrix, error) {
	if m.IsWide() {
		flog.Errorf("get_cols: can't get columns from a group of wide matrices")
		return nil, fm.ErrOrientationMismatch
	}
	if err := checkIdxs(idxs, m.NumCols()); err != nil {
		flog.Errorf("get_cols: %v", err)
		return nil, err
	}
	matIdxs, localIdxs := groupLocalIdxs(idxs, m.blockSize)
	out := fm.NewMemStore(fm.Shape{NumRows: m.NumRows(), NumCols: len(idxs)}, fm.LayoutCol, m.Kind())
	ctx := context.Background()
	col := 0
	for i, mi := range matIdxs {
		d, err := m.member(mi)
		if err != nil {
			return nil, err
		}
		sub, err := d.GetCols(localIdxs[i])
		if err != nil {
			return nil, err
		}
		local, err := sub.RawStore().GetPortion(0, 0, sub.NumRows(), sub.NumCols())
		if err != nil {
			return nil, err
		}
		if err := <-out.WritePortionAsync(ctx, local, 0, col); err != nil {
			return nil, err
		}
		col += sub.NumCols()
	}
	return fm.NewDenseMatrix(out)
}

// GetRows selects rows of a wide group; the converse of GetCols.
func (m *BlockMatrix) GetRows(idxs []int) (*fm.DenseMatrix, error) {
	if !m.IsWide() {
		flog.Errorf("get_rows: can't get rows from a group of tall matrices")
		return nil, fm.ErrOrientationMismatch
	}
	if err := checkIdxs(idxs, m.NumRows()); err != nil {
		flog.Errorf("get_rows: %v", err)
		return nil, err
	}
	matIdxs, localIdxs := groupLocalIdxs(idxs, m.blockSize)
	out := fm.NewMemStore(fm.Shape{NumRows: len(idxs), NumCols: m.NumCols()}, fm.LayoutRow, m.Kind())
	ctx := context.Background()
	row := 0
	for i, mi := range matIdxs {
		d, err := m.member(mi)
		if err != nil {
			return nil, err
		}
		sub, err := d.GetRows(localIdxs[i])
		if err != nil {
			return nil, err
		}
		local, err := sub.RawStore().GetPortion(0, 0, sub.NumRows(), sub.NumCols())
		if err != nil {
			return nil, err
		}
		if err := <-out.WritePortionAsync(ctx, local, row, 0); err != nil {
			return nil, err
		}
		row += sub.NumRows()
	}
	return fm.NewDenseMatrix(out)
}

func checkIdxs(idxs []int, bound int) error {
	if len(idxs) == 0 {
		return fm.ErrIndexOutOfRange
	}
	for i, idx := range idxs {
		if idx < 0 || idx >= bound {
			return fmt.Errorf("%w: index %d out of %d", fm.ErrIndexOutOfRange, idx, bound)
		}
		if i > 0 && idx <= idxs[i-1] {
			return fm.ErrIndexOrder
		}
	}
	return nil
}
