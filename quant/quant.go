// Copyright 2025 The QGrid Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package quant provides the public fake-quantization API.
//
// FakeQuantize rounds a tensor onto a discrete grid defined by learnable
// lower/upper bounds and a bit width; the returned Cache computes the
// gradients for the input and both bounds. Bounds may be scalar or
// per-channel, and the grid may be zero-aligned or free.
//
// Example:
//
//	backend := cpu.New()
//	y, cache, err := quant.FakeQuantize(x, lb, ub, 8, true)
//	if err != nil {
//	    return err
//	}
//	dx, dlb, dub, err := cache.Backward(dy)
package quant

import (
	"github.com/qgrid-ml/qgrid/internal/quant"
	"github.com/qgrid-ml/qgrid/tensor"
)

// Variant selects the quantization grid construction.
type Variant = quant.Variant

// Operator variants.
const (
	ZeroAligned Variant = quant.ZeroAligned
	Free        Variant = quant.Free
)

// Granularity selects how bounds map onto the input tensor.
type Granularity = quant.Granularity

// Bound granularities.
const (
	PerTensor  Granularity = quant.PerTensor
	PerChannel Granularity = quant.PerChannel
)

// Cache carries the forward-pass intermediates one backward pass needs.
// It must be consumed by exactly one Backward call.
type Cache[T tensor.Float, B tensor.Backend] = quant.Cache[T, B]

// Sentinel errors; match with errors.Is.
var (
	ErrInvalidBounds   = quant.ErrInvalidBounds
	ErrInvalidBitWidth = quant.ErrInvalidBitWidth
	ErrShapeMismatch   = quant.ErrShapeMismatch
	ErrStaleCache      = quant.ErrStaleCache
)

// FakeQuantize rounds x onto the (N+1)-point grid defined by lb/ub and bit
// width k, where N = 2^k - 1. With alignZero the bounds are first adjusted
// so 0 falls exactly on a grid point.
func FakeQuantize[T tensor.Float, B tensor.Backend](
	x, lb, ub *tensor.Tensor[T, B], k int, alignZero bool,
) (*tensor.Tensor[T, B], *Cache[T, B], error) {
	return quant.FakeQuantize(x, lb, ub, k, alignZero)
}

// Clamp saturates x into [lb, ub] elementwise.
func Clamp[T tensor.Float, B tensor.Backend](x, lb, ub *tensor.Tensor[T, B]) (*tensor.Tensor[T, B], error) {
	return quant.Clamp(x, lb, ub)
}

// ClampBackward computes the gradients of Clamp for the input and both
// bounds.
func ClampBackward[T tensor.Float, B tensor.Backend](
	dy, x, lb, ub *tensor.Tensor[T, B],
) (dx, dlb, dub *tensor.Tensor[T, B], err error) {
	return quant.ClampBackward(dy, x, lb, ub)
}

// ReferenceFakeQuantize computes the forward output and all gradients by
// composing differentiable primitives instead of the fused kernels. It is
// the correctness oracle for the fused path.
func ReferenceFakeQuantize[B tensor.Backend](
	backend B, x, lb, ub, dy *tensor.RawTensor, k int, alignZero bool,
) (y, dx, dlb, dub *tensor.RawTensor, err error) {
	return quant.ReferenceFakeQuantize(backend, x, lb, ub, dy, k, alignZero)
}
