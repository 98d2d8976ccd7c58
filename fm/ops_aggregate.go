// Copyright 2025 The flashmatrix Authors. SPDX-License-Identifier: Apache-2.0

package fm

// aggregateOp reduces an entire matrix to a single scalar. Unlike the
// other built-in ops, its output cannot be
// tiled — a reduction's result depends on every input element — so
// InputRect always asks for the whole input regardless of the requested
// output rectangle. DenseMatrix.Aggregate does not use this op: it reads
// the input portion by portion in its own serial loop and folds the
// partial scalars (see dense_matrix.go).
type aggregateOp struct {
	inShape Shape
	agg     AggOp
	outKind Kind
}

// NewAggregateOp builds the full-matrix reduction op for agg over a
// matrix of inShape and element kind inKind.
func NewAggregateOp(inShape Shape, inKind Kind, agg AggOp) PortionMapplyOp {
	return aggregateOp{inShape: inShape, agg: agg, outKind: agg.OutKind(inKind)}
}

func (o aggregateOp) OutShape() Shape { return Shape{NumRows: 1, NumCols: 1} }
func (o aggregateOp) OutKind() Kind   { return o.outKind }
func (o aggregateOp) IsAgg() bool     { return true }

func (o aggregateOp) Transpose() PortionMapplyOp {
	return aggregateOp{inShape: o.inShape.Transposed(), agg: o.agg, outKind: o.outKind}
}

func (o aggregateOp) InputRect(i int, out Rect) Rect {
	return Rect{StartRow: 0, StartCol: 0, NumRows: o.inShape.NumRows, NumCols: o.inShape.NumCols}
}

func (o aggregateOp) Run(out Rect, ins []*LocalMatrixStore) (*LocalMatrixStore, error) {
	if len(ins) != 1 {
		return nil, ErrShapeMismatch
	}
	in := ins[0]
	n := in.NumRows * in.NumCols
	scalar, err := o.agg.Run(n, in.Data)
	if err != nil {
		return nil, err
	}
	result := NewLocalMatrixStore(0, 0, 1, 1, LayoutRow, scalar.Kind)
	_ = result.setScalar(0, 0, scalar)
	return result, nil
}
