// Copyright 2025 The QGrid Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package autodiff provides reverse-mode automatic differentiation.
//
// It wraps any backend with a gradient tape that records differentiable
// operations during the forward pass and replays them in reverse to
// compute gradients. The quantization reference path is built on it.
//
// Example:
//
//	base := cpu.New()
//	backend := autodiff.New(base)
//	backend.Tape().StartRecording()
//	// ... operations through the backend ...
//	grads := autodiff.Backward(y, backend)
package autodiff

import (
	"github.com/qgrid-ml/qgrid/internal/autodiff"
	"github.com/qgrid-ml/qgrid/tensor"
)

// Backend is the autodiff-enabled backend decorator.
type Backend[B tensor.Backend] = autodiff.AutodiffBackend[B]

// New creates a new autodiff backend wrapping the given backend.
func New[B tensor.Backend](backend B) *Backend[B] {
	return autodiff.New(backend)
}

// GradientTape records operations for automatic differentiation.
type GradientTape = autodiff.GradientTape

// NewGradientTape creates a new gradient tape.
func NewGradientTape() *GradientTape {
	return autodiff.NewGradientTape()
}

// BackwardCapable is the interface for backends that support a backward
// pass.
type BackwardCapable = autodiff.BackwardCapable

// Backward computes gradients for a tensor using the backend's tape,
// seeding the output gradient with ones.
func Backward[T tensor.DType, B BackwardCapable](t *tensor.Tensor[T, B], backend B) map[*tensor.RawTensor]*tensor.RawTensor {
	return autodiff.Backward(t, backend)
}
