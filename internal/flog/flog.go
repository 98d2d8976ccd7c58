// Copyright 2025 The flashmatrix Authors. SPDX-License-Identifier: Apache-2.0

// Package flog is the engine's logging collaborator. Façade operations
// that return a nil result pair it with a diagnostic here; nothing else
// in the engine logs.
package flog

import (
	"log"
	"os"
)

var logger = log.New(os.Stderr, "flashmatrix: ", log.LstdFlags)

// SetOutput redirects diagnostics, mainly for tests.
func SetOutput(l *log.Logger) { logger = l }

// Warnf reports a recoverable condition.
func Warnf(format string, args ...any) {
	logger.Printf("warning: "+format, args...)
}

// Errorf reports the diagnostic paired with a failed façade operation.
func Errorf(format string, args ...any) {
	logger.Printf("error: "+format, args...)
}
