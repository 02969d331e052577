// Copyright 2025 The QGrid Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package cpu provides the CPU compute backend.
package cpu

import (
	internalcpu "github.com/qgrid-ml/qgrid/internal/backend/cpu"
	"github.com/qgrid-ml/qgrid/internal/parallel"
	"github.com/qgrid-ml/qgrid/tensor"
)

// Backend represents the CPU backend implementation: pure Go kernels with
// chunked goroutine parallelism for large tensors.
type Backend = internalcpu.CPUBackend

// Compile-time check that Backend implements tensor.Backend.
var _ tensor.Backend = (*Backend)(nil)

// Config controls parallel execution behavior.
type Config = parallel.Config

// New creates a new CPU backend with default parallelism settings.
//
// Example:
//
//	backend := cpu.New()
//	x := tensor.Zeros[float64](tensor.Shape{2, 3}, backend)
func New() *Backend {
	return internalcpu.New()
}

// NewWithConfig creates a CPU backend with explicit parallelism settings.
func NewWithConfig(cfg Config) *Backend {
	return internalcpu.NewWithConfig(cfg)
}

// DefaultConfig returns parallelism defaults based on CPU count.
func DefaultConfig() Config {
	return parallel.DefaultConfig()
}
