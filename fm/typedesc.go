// Copyright 2025 The flashmatrix Authors. SPDX-License-Identifier: Apache-2.0

package fm

// TypeDescriptor is the runtime handle for an element kind: its size and
// lookups into the built-in kernel tables, which cover KindInt32 and
// KindFloat64 only. Built-in kinds are pre-registered. A descriptor
// carries nothing but its kind, so TypeRegistry.Register can map a new
// kind to a descriptor but cannot give that kind kernels of its own.
type TypeDescriptor struct {
	kind Kind
}

// Size returns the number of bytes one element occupies.
func (t TypeDescriptor) Size() int { return t.kind.Size() }

// Kind returns the element kind this descriptor describes.
func (t TypeDescriptor) Kind() Kind { return t.kind }

// BasicOp returns the binary kernel for op against another operand of
// kind `other`, applying the 2x2 type-promotion rule.
func (t TypeDescriptor) BasicOp(op OpCode, other Kind) (BinaryKernel, error) {
	return LookupBinary(op, t.kind, other)
}

// BasicUop returns the unary kernel for op over this descriptor's kind.
func (t TypeDescriptor) BasicUop(op UnaryOpCode) (UnaryKernel, error) {
	return LookupUnary(op, t.kind)
}

// AggOp returns the aggregation implementation for op; aggregations are
// kind-generic (agg.go), so this simply validates op is registered.
func (t TypeDescriptor) AggOp(op AggOpCode) (AggOp, error) {
	return LookupAgg(op)
}

// TypeRegistry maps a Kind to its TypeDescriptor. The package-level
// default registry covers KindInt32 and KindFloat64. Registering a
// descriptor never changes the global kernel dispatch tables.
type TypeRegistry struct {
	descs map[Kind]TypeDescriptor
}

// NewTypeRegistry returns a registry pre-seeded with the built-in kinds.
func NewTypeRegistry() *TypeRegistry {
	r := &TypeRegistry{descs: map[Kind]TypeDescriptor{}}
	r.descs[KindInt32] = TypeDescriptor{kind: KindInt32}
	r.descs[KindFloat64] = TypeDescriptor{kind: KindFloat64}
	return r
}

// Register adds or replaces the descriptor for kind.
func (r *TypeRegistry) Register(kind Kind, desc TypeDescriptor) {
	r.descs[kind] = desc
}

// Lookup returns the descriptor for kind, or false if unregistered.
func (r *TypeRegistry) Lookup(kind Kind) (TypeDescriptor, bool) {
	d, ok := r.descs[kind]
	return d, ok
}

// DefaultRegistry is the process-wide registry consulted by
// DescriptorFor.
var DefaultRegistry = NewTypeRegistry()

// DescriptorFor resolves kind against DefaultRegistry, falling back to a
// bare TypeDescriptor if the kind is one of the two built-ins but for any
// reason absent from the registry (defensive; should not happen).
func DescriptorFor(kind Kind) TypeDescriptor {
	if d, ok := DefaultRegistry.Lookup(kind); ok {
		return d
	}
	return TypeDescriptor{kind: kind}
}
