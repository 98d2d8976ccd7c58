// Copyright 2025 The flashmatrix Authors. SPDX-License-Identifier: Apache-2.0

package fm

import (
	"fmt"
	"math"
)

// sliceOf returns a's backing slice typed as []T. T is always statically
// either int32 or float64 for any instantiation the dispatch tables use,
// so the type switch below never falls through to the zero case in
// practice; see numeric.go.
func sliceOf[T Numeric](a Array) []T {
	switch any(*new(T)).(type) {
	case int32:
		return any(a.I32).([]T)
	case float64:
		return any(a.F64).([]T)
	}
	return nil
}

func scalarAs[T Numeric](s Scalar) T {
	switch any(*new(T)).(type) {
	case int32:
		return any(s.I32).(T)
	case float64:
		return any(s.F64).(T)
	}
	var zero T
	return zero
}

func kindOf[T Numeric]() Kind {
	switch any(*new(T)).(type) {
	case int32:
		return KindInt32
	default:
		return KindFloat64
	}
}

// genericBinary is a single monomorphized BinaryKernel instance, built
// once per (op, leftKind, rightKind) triple at package init and placed
// into the dispatch table. It dispatches once per portion: the element
// loop below is the only per-element work, so dispatch happens once
// per portion, not per element.
type genericBinary[L, R, O Numeric] struct {
	fn func(L, R) O
}

func (k genericBinary[L, R, O]) LeftSize() int  { return kindOf[L]().Size() }
func (k genericBinary[L, R, O]) RightSize() int { return kindOf[R]().Size() }
func (k genericBinary[L, R, O]) OutSize() int   { return kindOf[O]().Size() }
func (k genericBinary[L, R, O]) OutKind() Kind  { return kindOf[O]() }

func (k genericBinary[L, R, O]) checkLen(n int, arrs ...Array) error {
	for _, a := range arrs {
		if a.Len() < n {
			return fmt.Errorf("%w: kernel requested %d elements, array has %d", ErrShapeMismatch, n, a.Len())
		}
	}
	return nil
}

func (k genericBinary[L, R, O]) RunAA(n int, lhs, rhs Array, out Array) error {
	if err := k.checkLen(n, lhs, rhs, out); err != nil {
		return err
	}
	ls, rs, os := sliceOf[L](lhs), sliceOf[R](rhs), sliceOf[O](out)
	for i := 0; i < n; i++ {
		os[i] = k.fn(ls[i], rs[i])
	}
	return nil
}

func (k genericBinary[L, R, O]) RunAE(n int, lhs Array, rhsScalar Scalar, out Array) error {
	if err := k.checkLen(n, lhs, out); err != nil {
		return err
	}
	ls, os := sliceOf[L](lhs), sliceOf[O](out)
	rv := scalarAs[R](rhsScalar)
	for i := 0; i < n; i++ {
		os[i] = k.fn(ls[i], rv)
	}
	return nil
}

func (k genericBinary[L, R, O]) RunEA(n int, lhsScalar Scalar, rhs Array, out Array) error {
	if err := k.checkLen(n, rhs, out); err != nil {
		return err
	}
	rs, os := sliceOf[R](rhs), sliceOf[O](out)
	lv := scalarAs[L](lhsScalar)
	for i := 0; i < n; i++ {
		os[i] = k.fn(lv, rs[i])
	}
	return nil
}

// intPow computes a^b for non-negative b via exponentiation by squaring,
// truncating negative exponents to 0 (integer power has no fractional
// inverse).
func intPow(a, b int32) int32 {
	if b < 0 {
		return 0
	}
	var result int32 = 1
	base := a
	for b > 0 {
		if b&1 == 1 {
			result *= base
		}
		base *= base
		b >>= 1
	}
	return result
}

func intBinaryFn(op OpCode) func(int32, int32) int32 {
	switch op {
	case OpAdd:
		return func(a, b int32) int32 { return a + b }
	case OpSub:
		return func(a, b int32) int32 { return a - b }
	case OpMul:
		return func(a, b int32) int32 { return a * b }
	case OpDiv:
		return func(a, b int32) int32 {
			if b == 0 {
				return 0
			}
			return a / b
		}
	case OpMin:
		return func(a, b int32) int32 {
			if a < b {
				return a
			}
			return b
		}
	case OpMax:
		return func(a, b int32) int32 {
			if a > b {
				return a
			}
			return b
		}
	case OpPow:
		return intPow
	default:
		return func(a, b int32) int32 { return 0 }
	}
}

func floatBinaryFn(op OpCode) func(float64, float64) float64 {
	switch op {
	case OpAdd:
		return func(a, b float64) float64 { return a + b }
	case OpSub:
		return func(a, b float64) float64 { return a - b }
	case OpMul:
		return func(a, b float64) float64 { return a * b }
	case OpDiv:
		return func(a, b float64) float64 { return a / b }
	case OpMin:
		return math.Min
	case OpMax:
		return math.Max
	case OpPow:
		return math.Pow
	default:
		return func(a, b float64) float64 { return 0 }
	}
}

// registerAllBasicOps builds the dispatch table for every (op, leftKind,
// rightKind) combination the 2x2 type-promotion rule admits: int/int
// stays int, any combination touching a double promotes to double.
func registerAllBasicOps() {
	for _, op := range []OpCode{OpAdd, OpSub, OpMul, OpDiv, OpMin, OpMax, OpPow} {
		intFn := intBinaryFn(op)
		floatFn := floatBinaryFn(op)

		registerBinary(op, KindInt32, KindInt32, genericBinary[int32, int32, int32]{fn: intFn})
		registerBinary(op, KindFloat64, KindFloat64, genericBinary[float64, float64, float64]{fn: floatFn})
		registerBinary(op, KindInt32, KindFloat64, genericBinary[int32, float64, float64]{
			fn: func(a int32, b float64) float64 { return floatFn(float64(a), b) },
		})
		registerBinary(op, KindFloat64, KindInt32, genericBinary[float64, int32, float64]{
			fn: func(a float64, b int32) float64 { return floatFn(a, float64(b)) },
		})
	}
}

// genericUnary is a monomorphized UnaryKernel built once per (op, kind).
type genericUnary[I, O Numeric] struct {
	fn func(I) O
}

func (k genericUnary[I, O]) InSize() int  { return kindOf[I]().Size() }
func (k genericUnary[I, O]) OutSize() int { return kindOf[O]().Size() }
func (k genericUnary[I, O]) OutKind() Kind { return kindOf[O]() }

func (k genericUnary[I, O]) Run(n int, in Array, out Array) error {
	if in.Len() < n || out.Len() < n {
		return fmt.Errorf("%w: unary kernel requested %d elements", ErrShapeMismatch, n)
	}
	is, os := sliceOf[I](in), sliceOf[O](out)
	for i := 0; i < n; i++ {
		os[i] = k.fn(is[i])
	}
	return nil
}

func registerAllUnaryOps() {
	registerUnary(UnarySqrt, KindFloat64, genericUnary[float64, float64]{fn: math.Sqrt})
	registerUnary(UnarySqrt, KindInt32, genericUnary[int32, float64]{fn: func(v int32) float64 { return math.Sqrt(float64(v)) }})
	registerUnary(UnaryNeg, KindFloat64, genericUnary[float64, float64]{fn: func(v float64) float64 { return -v }})
	registerUnary(UnaryNeg, KindInt32, genericUnary[int32, int32]{fn: func(v int32) int32 { return -v }})
}
