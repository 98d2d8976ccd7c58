// Copyright 2025 The flashmatrix Authors. SPDX-License-Identifier: Apache-2.0

//go:build linux

package numa

import (
	"os"
	"sort"
	"strconv"
	"strings"
)

// detectTopology reads /sys/devices/system/node for the set of online
// NUMA nodes, the way a NUMA-aware allocator would enumerate nodes
// before striping a store across them. Falls back to a single node if
// the sysfs hierarchy is absent (containers, non-NUMA hardware).
func detectTopology() Topology {
	entries, err := os.ReadDir("/sys/devices/system/node")
	if err != nil {
		return Topology{NumNodes: 1}
	}
	var nodes []int
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "node") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(name, "node"))
		if err != nil {
			continue
		}
		nodes = append(nodes, n)
	}
	if len(nodes) == 0 {
		return Topology{NumNodes: 1}
	}
	sort.Ints(nodes)
	return Topology{NumNodes: len(nodes)}
}
