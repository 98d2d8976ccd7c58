// Copyright 2025 The flashmatrix Authors. SPDX-License-Identifier: Apache-2.0

package fm

import "math"

// AggOp reduces a run of elements to one scalar and can additionally
// report the length of a leading constant-valued prefix of a sorted run
// (used by vector groupby to find partition boundaries).
type AggOp interface {
	OutKind(inKind Kind) Kind
	// Run reduces in[0:n] to a single scalar.
	Run(n int, in Array) (Scalar, error)
	// FindNextConstantRun returns the length of the leading run of equal
	// values starting at in[0], assuming in is sorted ascending.
	FindNextConstantRun(n int, in Array) int
}

type sumAgg struct{}

func (sumAgg) OutKind(inKind Kind) Kind { return inKind }

func (sumAgg) Run(n int, in Array) (Scalar, error) {
	if in.Len() < n {
		return Scalar{}, ErrShapeMismatch
	}
	switch in.Kind {
	case KindInt32:
		var sum int32
		for _, v := range in.I32[:n] {
			sum += v
		}
		return Scalar{Kind: KindInt32, I32: sum}, nil
	case KindFloat64:
		var sum float64
		for _, v := range in.F64[:n] {
			sum += v
		}
		return Scalar{Kind: KindFloat64, F64: sum}, nil
	default:
		return Scalar{}, ErrUnsupportedType
	}
}

func (sumAgg) FindNextConstantRun(n int, in Array) int { return findNextConstantRun(n, in) }

type minAgg struct{}

func (minAgg) OutKind(inKind Kind) Kind { return inKind }

func (minAgg) Run(n int, in Array) (Scalar, error) {
	if n == 0 || in.Len() < n {
		return Scalar{}, ErrShapeMismatch
	}
	switch in.Kind {
	case KindInt32:
		m := in.I32[0]
		for _, v := range in.I32[1:n] {
			if v < m {
				m = v
			}
		}
		return Scalar{Kind: KindInt32, I32: m}, nil
	case KindFloat64:
		m := in.F64[0]
		for _, v := range in.F64[1:n] {
			if v < m {
				m = v
			}
		}
		return Scalar{Kind: KindFloat64, F64: m}, nil
	default:
		return Scalar{}, ErrUnsupportedType
	}
}

func (minAgg) FindNextConstantRun(n int, in Array) int { return findNextConstantRun(n, in) }

type maxAgg struct{}

func (maxAgg) OutKind(inKind Kind) Kind { return inKind }

func (maxAgg) Run(n int, in Array) (Scalar, error) {
	if n == 0 || in.Len() < n {
		return Scalar{}, ErrShapeMismatch
	}
	switch in.Kind {
	case KindInt32:
		m := in.I32[0]
		for _, v := range in.I32[1:n] {
			if v > m {
				m = v
			}
		}
		return Scalar{Kind: KindInt32, I32: m}, nil
	case KindFloat64:
		m := in.F64[0]
		for _, v := range in.F64[1:n] {
			if v > m {
				m = v
			}
		}
		return Scalar{Kind: KindFloat64, F64: m}, nil
	default:
		return Scalar{}, ErrUnsupportedType
	}
}

func (maxAgg) FindNextConstantRun(n int, in Array) int { return findNextConstantRun(n, in) }

type countAgg struct{}

func (countAgg) OutKind(inKind Kind) Kind { return KindInt32 }

func (countAgg) Run(n int, in Array) (Scalar, error) {
	return Scalar{Kind: KindInt32, I32: int32(n)}, nil
}

func (countAgg) FindNextConstantRun(n int, in Array) int { return findNextConstantRun(n, in) }

// findNextConstantRun is the type-erased helper behind every AggOp's
// FindNextConstantRun: it scans a sorted run for the length of its
// leading constant prefix.
func findNextConstantRun(n int, in Array) int {
	if n == 0 {
		return 0
	}
	switch in.Kind {
	case KindInt32:
		v0 := in.I32[0]
		i := 1
		for i < n && in.I32[i] == v0 {
			i++
		}
		return i
	case KindFloat64:
		v0 := in.F64[0]
		i := 1
		for i < n && in.F64[i] == v0 {
			i++
		}
		return i
	default:
		return 1
	}
}

// LookupAgg resolves an AggOpCode to its implementation. Aggregations are
// type-generic over both supported kinds, unlike basic binary ops, so
// there is one implementation per op rather than a (op,kind) table.
func LookupAgg(op AggOpCode) (AggOp, error) {
	switch op {
	case AggSum:
		return sumAgg{}, nil
	case AggMin:
		return minAgg{}, nil
	case AggMax:
		return maxAgg{}, nil
	case AggCount:
		return countAgg{}, nil
	default:
		return nil, ErrUnsupportedType
	}
}

// Norm2Array computes the Euclidean norm of an array widened to float64.
func Norm2Array(a Array) float64 {
	var sumSq float64
	switch a.Kind {
	case KindInt32:
		for _, v := range a.I32 {
			f := float64(v)
			sumSq += f * f
		}
	case KindFloat64:
		for _, v := range a.F64 {
			sumSq += v * v
		}
	}
	return math.Sqrt(sumSq)
}
