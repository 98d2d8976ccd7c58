// Copyright 2025 The flashmatrix Authors. SPDX-License-Identifier: Apache-2.0

package fm

// gsumOp folds a list of same-shaped inputs with a binary kernel; the
// block matrix uses it to accumulate block-wise inner products. One
// type with a transposed flag serves both directions, so Transpose can
// return the mirrored fold without re-deriving it.
type gsumOp struct {
	shape       Shape
	kernel      BinaryKernel
	transposed  bool
}

// NewGsumOp builds the fold-reduction op over inputs that each have
// shape shape. The fold with kernel is order-sensitive unless kernel is
// associative: floating ADD is order-tolerant, integer folds require an
// associative kernel as a documented precondition.
func NewGsumOp(shape Shape, kernel BinaryKernel) PortionMapplyOp {
	return gsumOp{shape: shape, kernel: kernel}
}

func (o gsumOp) OutShape() Shape { return o.shape }
func (o gsumOp) OutKind() Kind   { return o.kernel.OutKind() }
func (o gsumOp) IsAgg() bool     { return true }

func (o gsumOp) Transpose() PortionMapplyOp {
	return gsumOp{shape: o.shape.Transposed(), kernel: o.kernel, transposed: !o.transposed}
}

func (o gsumOp) InputRect(i int, out Rect) Rect { return out }

func (o gsumOp) Run(out Rect, ins []*LocalMatrixStore) (*LocalMatrixStore, error) {
	if len(ins) == 0 {
		return nil, ErrShapeMismatch
	}
	acc := ins[0]
	n := acc.NumRows * acc.NumCols
	result := NewLocalMatrixStore(out.StartRow, out.StartCol, acc.NumRows, acc.NumCols, acc.Layout, o.kernel.OutKind())
	if err := copyArrayInto(acc, result); err != nil {
		return nil, err
	}
	for i := 1; i < len(ins); i++ {
		next := ins[i]
		if next.NumRows != acc.NumRows || next.NumCols != acc.NumCols {
			return nil, ErrShapeMismatch
		}
		if next.Layout != result.Layout {
			next = reorderLike(next, result.Layout)
		}
		if err := o.kernel.RunAA(n, result.Data, next.Data, result.Data); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// copyArrayInto copies src's flat element order into dst, converting
// between layouts if they differ.
func copyArrayInto(src, dst *LocalMatrixStore) error {
	if src.Layout == dst.Layout {
		for i := 0; i < src.NumRows*src.NumCols; i++ {
			v := scalarAt(src.Data, i)
			if err := setScalarAt(dst.Data, i, v); err != nil {
				return err
			}
		}
		return nil
	}
	return src.CopyInto(dst)
}
