// Copyright 2025 The flashmatrix Authors. SPDX-License-Identifier: Apache-2.0

package fm

// identityOp copies its single input through unchanged, giving a plain
// store a virtual wrapper.
type identityOp struct {
	shape Shape
	kind  Kind
}

func newIdentityOp(shape Shape, kind Kind) identityOp { return identityOp{shape: shape, kind: kind} }

func (o identityOp) OutShape() Shape { return o.shape }
func (o identityOp) OutKind() Kind   { return o.kind }
func (o identityOp) IsAgg() bool     { return false }

func (o identityOp) Transpose() PortionMapplyOp {
	return identityOp{shape: o.shape.Transposed(), kind: o.kind}
}

func (o identityOp) InputRect(i int, out Rect) Rect { return out }

func (o identityOp) Run(out Rect, ins []*LocalMatrixStore) (*LocalMatrixStore, error) {
	if len(ins) != 1 {
		return nil, ErrShapeMismatch
	}
	return ins[0], nil
}
