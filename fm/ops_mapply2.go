// Copyright 2025 The flashmatrix Authors. SPDX-License-Identifier: Apache-2.0

package fm

// mapply2Op applies a binary kernel element-wise over two inputs of
// identical shape; a second input in a different layout is reordered to
// the first input's layout before the kernel runs.
type mapply2Op struct {
	shape  Shape
	kernel BinaryKernel
}

// NewMapply2Op builds the op for applying kernel over two same-shaped
// matrices.
func NewMapply2Op(shape Shape, kernel BinaryKernel) PortionMapplyOp {
	return mapply2Op{shape: shape, kernel: kernel}
}

func (o mapply2Op) OutShape() Shape { return o.shape }
func (o mapply2Op) OutKind() Kind   { return o.kernel.OutKind() }
func (o mapply2Op) IsAgg() bool     { return false }

func (o mapply2Op) Transpose() PortionMapplyOp {
	return mapply2Op{shape: o.shape.Transposed(), kernel: o.kernel}
}

func (o mapply2Op) InputRect(i int, out Rect) Rect { return out }

func (o mapply2Op) Run(out Rect, ins []*LocalMatrixStore) (*LocalMatrixStore, error) {
	if len(ins) != 2 {
		return nil, ErrShapeMismatch
	}
	lhs, rhs := ins[0], ins[1]
	if lhs.NumRows != rhs.NumRows || lhs.NumCols != rhs.NumCols {
		return nil, ErrShapeMismatch
	}
	n := lhs.NumRows * lhs.NumCols
	result := NewLocalMatrixStore(out.StartRow, out.StartCol, lhs.NumRows, lhs.NumCols, lhs.Layout, o.kernel.OutKind())
	if rhs.Layout != lhs.Layout {
		rhs = reorderLike(rhs, lhs.Layout)
	}
	if err := o.kernel.RunAA(n, lhs.Data, rhs.Data, result.Data); err != nil {
		return nil, err
	}
	return result, nil
}

// reorderLike returns a copy of src with the same logical values but
// rearranged into target's flat element order, so element i of each
// array corresponds to the same (row, col) — needed because mapply2's
// flat kernel loop assumes both inputs iterate in the same order
//.
func reorderLike(src *LocalMatrixStore, target Layout) *LocalMatrixStore {
	if src.Layout == target {
		return src
	}
	out := NewLocalMatrixStore(src.StartRow, src.StartCol, src.NumRows, src.NumCols, target, src.Data.Kind)
	for r := 0; r < src.NumRows; r++ {
		for c := 0; c < src.NumCols; c++ {
			v, _ := src.GetScalar(r, c)
			_ = out.setScalar(r, c, v)
		}
	}
	return out
}
