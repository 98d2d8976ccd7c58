// Copyright 2025 The flashmatrix Authors. SPDX-License-Identifier: Apache-2.0

package fm

// sapplyOp applies a unary kernel to every element of a single input
//.
type sapplyOp struct {
	shape  Shape
	kernel UnaryKernel
}

// NewSapplyOp builds the op for applying kernel over a matrix of shape.
func NewSapplyOp(shape Shape, kernel UnaryKernel) PortionMapplyOp {
	return sapplyOp{shape: shape, kernel: kernel}
}

func (o sapplyOp) OutShape() Shape { return o.shape }
func (o sapplyOp) OutKind() Kind   { return o.kernel.OutKind() }
func (o sapplyOp) IsAgg() bool     { return false }

func (o sapplyOp) Transpose() PortionMapplyOp {
	return sapplyOp{shape: o.shape.Transposed(), kernel: o.kernel}
}

func (o sapplyOp) InputRect(i int, out Rect) Rect { return out }

func (o sapplyOp) Run(out Rect, ins []*LocalMatrixStore) (*LocalMatrixStore, error) {
	if len(ins) != 1 {
		return nil, ErrShapeMismatch
	}
	in := ins[0]
	n := in.NumRows * in.NumCols
	result := NewLocalMatrixStore(out.StartRow, out.StartCol, in.NumRows, in.NumCols, in.Layout, o.kernel.OutKind())
	if err := o.kernel.Run(n, in.Data, result.Data); err != nil {
		return nil, err
	}
	return result, nil
}
