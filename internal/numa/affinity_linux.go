// Copyright 2025 The flashmatrix Authors. SPDX-License-Identifier: Apache-2.0

//go:build linux

package numa

import "golang.org/x/sys/unix"

// AvailableCPUs returns the number of CPUs this process's scheduler
// affinity mask allows it to run on, which can be smaller than
// runtime.NumCPU() under a cgroup cpuset or taskset restriction. The
// scheduler's worker pool uses this instead of a bare GOMAXPROCS guess
// when it is available, so it never over-provisions workers relative to
// what the kernel will actually schedule.
func AvailableCPUs() (int, bool) {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return 0, false
	}
	return set.Count(), true
}
