// Copyright 2025 The flashmatrix Authors. SPDX-License-Identifier: Apache-2.0

package fm

import "fmt"

// OpCode names a binary basic op. The set is closed.
type OpCode int

const (
	OpAdd OpCode = iota
	OpSub
	OpMul
	OpDiv
	OpMin
	OpMax
	OpPow
)

// UnaryOpCode names a unary basic op.
type UnaryOpCode int

const (
	UnarySqrt UnaryOpCode = iota
	UnaryNeg
)

// AggOpCode names a full-array aggregation.
type AggOpCode int

const (
	AggSum AggOpCode = iota
	AggMin
	AggMax
	AggCount
)

// BinaryKernel is a monomorphized binary kernel for one (op, leftKind,
// rightKind) triple. Its three element sizes are self-describing so a
// façade can validate operands and pick an output type without knowing
// the concrete Go types involved.
type BinaryKernel interface {
	LeftSize() int
	RightSize() int
	OutSize() int
	OutKind() Kind
	// RunAA computes out[i] = lhs[i] OP rhs[i] for i in [0, n).
	RunAA(n int, lhs, rhs Array, out Array) error
	// RunAE computes out[i] = lhs[i] OP rhsScalar for i in [0, n).
	RunAE(n int, lhs Array, rhsScalar Scalar, out Array) error
	// RunEA computes out[i] = lhsScalar OP rhs[i] for i in [0, n).
	RunEA(n int, lhsScalar Scalar, rhs Array, out Array) error
}

// UnaryKernel is a monomorphized unary kernel.
type UnaryKernel interface {
	InSize() int
	OutSize() int
	OutKind() Kind
	Run(n int, in Array, out Array) error
}

// binKey indexes the dispatch table by operator and the two operand
// kinds.
type binKey struct {
	op    OpCode
	left  Kind
	right Kind
}

var binaryDispatch = map[binKey]BinaryKernel{}

var unaryDispatch = map[UnaryOpCode]map[Kind]UnaryKernel{}

func registerBinary(op OpCode, left, right Kind, k BinaryKernel) {
	binaryDispatch[binKey{op, left, right}] = k
}

func registerUnary(op UnaryOpCode, kind Kind, k UnaryKernel) {
	m := unaryDispatch[op]
	if m == nil {
		m = map[Kind]UnaryKernel{}
		unaryDispatch[op] = m
	}
	m[kind] = k
}

// LookupBinary returns the kernel for op over (left, right), or
// ErrUnsupportedType if no kernel is registered for that triple.
func LookupBinary(op OpCode, left, right Kind) (BinaryKernel, error) {
	k, ok := binaryDispatch[binKey{op, left, right}]
	if !ok {
		return nil, fmt.Errorf("%w: op %v over (%v,%v)", ErrUnsupportedType, op, left, right)
	}
	return k, nil
}

// LookupUnary returns the kernel for op over kind, or ErrUnsupportedType.
func LookupUnary(op UnaryOpCode, kind Kind) (UnaryKernel, error) {
	m, ok := unaryDispatch[op]
	if !ok {
		return nil, fmt.Errorf("%w: unary op %v", ErrUnsupportedType, op)
	}
	k, ok := m[kind]
	if !ok {
		return nil, fmt.Errorf("%w: unary op %v over %v", ErrUnsupportedType, op, kind)
	}
	return k, nil
}

func init() {
	registerAllBasicOps()
	registerAllUnaryOps()
}
