// Copyright 2025 The flashmatrix Authors. SPDX-License-Identifier: Apache-2.0

// Package numa reports host NUMA topology and gives the scheduler
// best-effort affinity hints: node discovery and the CPU-affinity
// query are thin wrappers over sysfs and golang.org/x/sys/unix.
package numa

import "sync"

// Topology describes the host's NUMA nodes as seen by this process.
type Topology struct {
	// NumNodes is the number of NUMA nodes detected. 1 on platforms
	// without NUMA information, or where detection failed.
	NumNodes int
}

var (
	once    sync.Once
	current Topology
)

// Detect returns the host's NUMA topology, probing lazily and caching
// the result for the process's lifetime.
func Detect() Topology {
	once.Do(func() {
		current = detectTopology()
	})
	return current
}

// NodeForStripe returns which NUMA node owns stripe index i out of n
// total stripes, given the detected topology.
func (t Topology) NodeForStripe(i, n int) int {
	if t.NumNodes <= 1 || n <= 0 {
		return 0
	}
	return (i * t.NumNodes) / n
}
