// Copyright 2025 The flashmatrix Authors. SPDX-License-Identifier: Apache-2.0

// Package fm implements the core of a block-partitioned, lazily-evaluated
// dense matrix algebra engine. A matrix is a façade (DenseMatrix) over a
// MatrixStore: an in-memory buffer, a NUMA-striped buffer, an external
// (disk-resident) store, a constant, or a virtual node that defers
// computation until materialized.
//
// Arithmetic on a DenseMatrix never mutates the receiver; it builds a new
// virtual store recording the operation and its inputs. Materialization
// walks that DAG portion by portion through internal/scheduler and replaces
// the façade's store with the computed result.
package fm
