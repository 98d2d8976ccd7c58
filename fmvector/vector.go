// Copyright 2025 The flashmatrix Authors. SPDX-License-Identifier: Apache-2.0

// Package fmvector provides the one-dimensional façade over a
// degenerate matrix store: a Vector is a view (sub_start, length) into
// an owning length x 1 column store. Sub-vectors share the backing
// array; resize reallocates only when growing past it.
package fmvector

import (
	"fmt"
	"sort"

	"github.com/ralic/flashmatrix/fm"
)

// Vector is a one-dimensional view over a degenerate matrix.
type Vector struct {
	data     fm.MatrixStore // owning store, length x 1 column-major
	arr      fm.Array       // zero-copy view of the whole backing array
	subStart int
	length   int
	sorted   bool
}

// New allocates a zeroed vector of the given length and kind.
func New(length int, kind fm.Kind) (*Vector, error) {
	if length < 0 {
		return nil, fm.ErrIndexOutOfRange
	}
	store := fm.NewMemStore(fm.Shape{NumRows: max(length, 1), NumCols: 1}, fm.LayoutCol, kind)
	v := &Vector{data: store, length: length}
	if err := v.rebindArr(); err != nil {
		return nil, err
	}
	return v, nil
}

// FromSlice wraps values in a new float64 vector.
func FromSlice(values []float64) (*Vector, error) {
	v, err := New(len(values), fm.KindFloat64)
	if err != nil {
		return nil, err
	}
	copy(v.arr.F64, values)
	return v, nil
}

// FromInt32Slice wraps values in a new int32 vector.
func FromInt32Slice(values []int32) (*Vector, error) {
	v, err := New(len(values), fm.KindInt32)
	if err != nil {
		return nil, err
	}
	copy(v.arr.I32, values)
	return v, nil
}

// FromStore wraps a degenerate (one row or one column) store. Virtual
// and external stores are rendered into memory first; the resulting
// vector owns the in-memory rendering.
func FromStore(store fm.MatrixStore) (*Vector, error) {
	if store == nil {
		return nil, fm.ErrNilStore
	}
	if !store.Shape().IsVector() {
		return nil, fmt.Errorf("%w: a vector store must have one degenerate dimension", fm.ErrShapeMismatch)
	}
	mem, err := fm.ConvStoreToMem(store)
	if err != nil {
		return nil, err
	}
	if mem.Shape().NumCols != 1 {
		mem = mem.Transpose()
	}
	v := &Vector{data: mem, length: mem.Shape().NumRows}
	if err := v.rebindArr(); err != nil {
		return nil, err
	}
	return v, nil
}

// rebindArr refreshes the zero-copy view of the owning store's backing
// array.
func (v *Vector) rebindArr() error {
	shape := v.data.Shape()
	local, err := v.data.GetPortion(0, 0, shape.NumRows, shape.NumCols)
	if err != nil {
		return err
	}
	v.arr = local.Data
	return nil
}

// Length returns the number of elements in this view.
func (v *Vector) Length() int { return v.length }

// Kind returns the element kind.
func (v *Vector) Kind() fm.Kind { return v.arr.Kind }

// InMem reports whether the backing store is memory-resident. Vectors
// constructed by this package always are.
func (v *Vector) InMem() bool { return v.data.InMem() }

// IsSorted reports whether the vector is known to be sorted.
func (v *Vector) IsSorted() bool { return v.sorted }

func (v *Vector) checkIdx(i int) error {
	if i < 0 || i >= v.length {
		return fmt.Errorf("%w: vector index %d out of %d", fm.ErrIndexOutOfRange, i, v.length)
	}
	return nil
}

// Get returns element i as a type-erased scalar.
func (v *Vector) Get(i int) (fm.Scalar, error) {
	if err := v.checkIdx(i); err != nil {
		return fm.Scalar{}, err
	}
	idx := v.subStart + i
	switch v.arr.Kind {
	case fm.KindInt32:
		return fm.Scalar{Kind: fm.KindInt32, I32: v.arr.I32[idx]}, nil
	case fm.KindFloat64:
		return fm.Scalar{Kind: fm.KindFloat64, F64: v.arr.F64[idx]}, nil
	default:
		return fm.Scalar{}, fm.ErrUnsupportedType
	}
}

// GetFloat64 returns element i widened to float64.
func (v *Vector) GetFloat64(i int) (float64, error) {
	s, err := v.Get(i)
	if err != nil {
		return 0, err
	}
	return s.Float64(), nil
}

// Set writes element i. Mutating a vector invalidates its sorted flag.
func (v *Vector) Set(i int, val fm.Scalar) error {
	if err := v.checkIdx(i); err != nil {
		return err
	}
	idx := v.subStart + i
	switch v.arr.Kind {
	case fm.KindInt32:
		v.arr.I32[idx] = val.I32
	case fm.KindFloat64:
		v.arr.F64[idx] = val.F64
	default:
		return fm.ErrUnsupportedType
	}
	v.sorted = false
	return nil
}

// capacityFromSub is the number of backing elements available to this
// view without reallocating.
func (v *Vector) capacityFromSub() int { return v.arr.Len() - v.subStart }

// Resize changes the view's length. Shrinking is in place; growing
// past the backing array reallocates a fresh store, copies the old
// elements, and rebinds, leaving the old backing untouched for other
// views. A failed allocation leaves the vector unchanged.
func (v *Vector) Resize(n int) error {
	if n < 0 {
		return fm.ErrIndexOutOfRange
	}
	if n <= v.capacityFromSub() {
		v.length = n
		return nil
	}
	store := fm.NewMemStore(fm.Shape{NumRows: n, NumCols: 1}, fm.LayoutCol, v.arr.Kind)
	old := *v
	v.data = store
	v.subStart = 0
	v.length = n
	if err := v.rebindArr(); err != nil {
		*v = old
		return fm.ErrAllocationFailed
	}
	copyElems(v.arr, 0, old.arr, old.subStart, old.length)
	return nil
}

// Append extends the vector with vec's elements, reallocating as
// needed.
func (v *Vector) Append(vec *Vector) error {
	return v.AppendAll([]*Vector{vec})
}

// AppendAll extends the vector with every element of vecs, resizing
// once for the whole batch.
func (v *Vector) AppendAll(vecs []*Vector) error {
	total := v.length
	for _, w := range vecs {
		if w.Kind() != v.Kind() {
			return fmt.Errorf("%w: appending %v to %v vector", fm.ErrUnsupportedType, w.Kind(), v.Kind())
		}
		total += w.length
	}
	loc := v.length
	if err := v.Resize(total); err != nil {
		return err
	}
	for _, w := range vecs {
		copyElems(v.arr, v.subStart+loc, w.arr, w.subStart, w.length)
		loc += w.length
	}
	v.sorted = false
	return nil
}

// SubVec returns a view of (start, length) sharing this vector's
// backing storage.
func (v *Vector) SubVec(start, length int) (*Vector, error) {
	if start < 0 || length < 0 || start+length > v.length {
		return nil, fmt.Errorf("%w: sub_vec (%d,%d) of length %d", fm.ErrIndexOutOfRange, start, length, v.length)
	}
	return &Vector{
		data:     v.data,
		arr:      v.arr,
		subStart: v.subStart + start,
		length:   length,
		sorted:   v.sorted,
	}, nil
}

// ExposeSubVec rebinds this view in place to (start, length) of the
// owning store's full backing array.
func (v *Vector) ExposeSubVec(start, length int) error {
	if start < 0 || length < 0 || start+length > v.arr.Len() {
		return fmt.Errorf("%w: expose_sub_vec (%d,%d) of backing %d", fm.ErrIndexOutOfRange, start, length, v.arr.Len())
	}
	v.subStart = start
	v.length = length
	return nil
}

// DeepCopy returns a vector with its own freshly allocated backing
// store holding this view's elements.
func (v *Vector) DeepCopy() (*Vector, error) {
	out, err := New(v.length, v.Kind())
	if err != nil {
		return nil, err
	}
	copyElems(out.arr, 0, v.arr, v.subStart, v.length)
	out.sorted = v.sorted
	return out, nil
}

// Sort orders the view's elements ascending, in place.
func (v *Vector) Sort() {
	switch v.arr.Kind {
	case fm.KindInt32:
		s := v.arr.I32[v.subStart : v.subStart+v.length]
		sort.Slice(s, func(i, j int) bool { return s[i] < s[j] })
	case fm.KindFloat64:
		s := v.arr.F64[v.subStart : v.subStart+v.length]
		sort.Float64s(s)
	}
	v.sorted = true
}

// SortWithIndex sorts the vector in place and returns the index vector
// idx with idx[i] holding the sorted position of the element that was
// at position i before the call.
func (v *Vector) SortWithIndex() (*Vector, error) {
	n := v.length
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	switch v.arr.Kind {
	case fm.KindInt32:
		s := v.arr.I32[v.subStart : v.subStart+n]
		sort.SliceStable(perm, func(i, j int) bool { return s[perm[i]] < s[perm[j]] })
	case fm.KindFloat64:
		s := v.arr.F64[v.subStart : v.subStart+n]
		sort.SliceStable(perm, func(i, j int) bool { return s[perm[i]] < s[perm[j]] })
	default:
		return nil, fm.ErrUnsupportedType
	}
	idx, err := New(n, fm.KindInt32)
	if err != nil {
		return nil, err
	}
	orig, err := v.DeepCopy()
	if err != nil {
		return nil, err
	}
	for newPos, origPos := range perm {
		idx.arr.I32[origPos] = int32(newPos)
		src, _ := orig.Get(origPos)
		_ = v.Set(newPos, src)
	}
	v.sorted = true
	return idx, nil
}

// GetIdx gathers elements at the positions named by idxs, which must be
// an int32 vector.
func (v *Vector) GetIdx(idxs *Vector) (*Vector, error) {
	if idxs.Kind() != fm.KindInt32 {
		return nil, fmt.Errorf("%w: index vector must be int32", fm.ErrUnsupportedType)
	}
	out, err := New(idxs.Length(), v.Kind())
	if err != nil {
		return nil, err
	}
	for i := 0; i < idxs.Length(); i++ {
		s, err := idxs.Get(i)
		if err != nil {
			return nil, err
		}
		val, err := v.Get(int(s.I32))
		if err != nil {
			return nil, err
		}
		if err := out.Set(i, val); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Aggregate reduces the view to one scalar with the named aggregation.
func (v *Vector) Aggregate(code fm.AggOpCode) (fm.Scalar, error) {
	agg, err := fm.LookupAgg(code)
	if err != nil {
		return fm.Scalar{}, err
	}
	return agg.Run(v.length, v.subArray())
}

// AsRowMatrix renders the view as a 1 x length dense matrix for
// broadcast operations.
func (v *Vector) AsRowMatrix() (*fm.DenseMatrix, error) {
	arr := sliceView(v.arr, v.subStart, v.subStart+v.length)
	store, err := fm.NewMemStoreFromArray(fm.Shape{NumRows: 1, NumCols: v.length}, fm.LayoutRow, arr)
	if err != nil {
		return nil, err
	}
	return fm.NewDenseMatrix(store)
}

// Equals reports element-wise equality of two views.
func (v *Vector) Equals(other *Vector) bool {
	if other == nil || v.length != other.length || v.Kind() != other.Kind() {
		return false
	}
	for i := 0; i < v.length; i++ {
		a, _ := v.Get(i)
		b, _ := other.Get(i)
		if a != b {
			return false
		}
	}
	return true
}

// subArray is the view's slice of the backing array.
func (v *Vector) subArray() fm.Array {
	return sliceView(v.arr, v.subStart, v.subStart+v.length)
}

func sliceView(a fm.Array, lo, hi int) fm.Array {
	switch a.Kind {
	case fm.KindInt32:
		return fm.Array{Kind: fm.KindInt32, I32: a.I32[lo:hi]}
	case fm.KindFloat64:
		return fm.Array{Kind: fm.KindFloat64, F64: a.F64[lo:hi]}
	default:
		return fm.Array{}
	}
}

func copyElems(dst fm.Array, dstOff int, src fm.Array, srcOff, n int) {
	switch dst.Kind {
	case fm.KindInt32:
		copy(dst.I32[dstOff:dstOff+n], src.I32[srcOff:srcOff+n])
	case fm.KindFloat64:
		copy(dst.F64[dstOff:dstOff+n], src.F64[srcOff:srcOff+n])
	}
}
