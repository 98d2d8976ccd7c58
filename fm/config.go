// Copyright 2025 The flashmatrix Authors. SPDX-License-Identifier: Apache-2.0

package fm

import "runtime"

// Defaults for process-wide configuration, centralized here as the
// single source of truth.
const (
	DefaultPortionRows  = 1 << 16 // 65536 rows per tile for a tall portion
	DefaultPortionCols  = 1 << 16 // 65536 cols per tile for a wide portion
	DefaultCPUCacheSize = 1 << 20 // 1 MiB, informs inner-kernel tile sizing
)

// Config holds the process-wide knobs recognized at the façade level:
// portion tile dimensions, worker pool size, the assumed CPU cache size,
// and whether portion traversal should follow Hilbert-curve order.
// Config is set once via Init and read thereafter; it is not safe to
// mutate concurrently with matrix operations.
type Config struct {
	PortionRows  int
	PortionCols  int
	NumWorkers   int
	CPUCacheSize int
	HilbertOrder bool
}

// Option mutates a Config under construction. Constructors panic on
// nonsensical values (programmer error).
type Option func(*Config)

// WithPortionSize sets the tile dimensions used by the portion-mapply
// scheduler.
func WithPortionSize(rows, cols int) Option {
	if rows <= 0 || cols <= 0 {
		panic("fm: WithPortionSize: rows and cols must be > 0")
	}
	return func(c *Config) {
		c.PortionRows = rows
		c.PortionCols = cols
	}
}

// WithNumWorkers sets the scheduler's worker pool size. n <= 0 means "use
// GOMAXPROCS", resolved at Init time.
func WithNumWorkers(n int) Option {
	return func(c *Config) { c.NumWorkers = n }
}

// WithCPUCacheSize informs inner-kernel tile sizing.
func WithCPUCacheSize(bytes int) Option {
	if bytes <= 0 {
		panic("fm: WithCPUCacheSize: bytes must be > 0")
	}
	return func(c *Config) { c.CPUCacheSize = bytes }
}

// WithHilbertOrder enables Hilbert-curve traversal of portions,
// relevant to 2D sparse operators layered on top of this core;
// informational only here.
func WithHilbertOrder(enabled bool) Option {
	return func(c *Config) { c.HilbertOrder = enabled }
}

func defaultConfig() Config {
	return Config{
		PortionRows:  DefaultPortionRows,
		PortionCols:  DefaultPortionCols,
		NumWorkers:   runtime.GOMAXPROCS(0),
		CPUCacheSize: DefaultCPUCacheSize,
		HilbertOrder: false,
	}
}

// global is the process-wide configuration, set once by Init.
var global = defaultConfig()

// Init resolves opts against the documented defaults and installs the
// result as the process-wide configuration. Call once at startup; later
// calls overwrite it, which is safe only when no materialization is in
// flight.
func Init(opts ...Option) Config {
	c := defaultConfig()
	for _, opt := range opts {
		opt(&c)
	}
	if c.NumWorkers <= 0 {
		c.NumWorkers = runtime.GOMAXPROCS(0)
	}
	global = c
	return c
}

// CurrentConfig returns the process-wide configuration currently in
// effect.
func CurrentConfig() Config { return global }
