// Copyright 2025 The QGrid Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor provides the public API for tensor operations in QGrid.
//
// The package defines the core types for type-safe tensor operations:
//   - Tensor[T, B]: high-level generic tensor
//   - RawTensor: low-level tensor representation
//   - Backend: interface for compute implementations
//   - Shape, DataType: core type definitions
//
// Example:
//
//	backend := cpu.New()
//	x := tensor.Zeros[float64](tensor.Shape{2, 3}, backend)
package tensor

import (
	"math/rand"

	"github.com/qgrid-ml/qgrid/internal/tensor"
)

// DType is a constraint for tensor data types.
// Supported types: float32, float64, bool.
type DType = tensor.DType

// Float is a constraint for floating-point tensor data types.
type Float = tensor.Float

// DataType represents the underlying data type of a tensor.
type DataType = tensor.DataType

// Data type constants.
const (
	Float32 DataType = tensor.Float32
	Float64 DataType = tensor.Float64
	Bool    DataType = tensor.Bool
)

// Shape represents the dimensions of a tensor.
// Example: Shape{2, 3, 4} represents a 3D tensor with dimensions 2×3×4.
type Shape = tensor.Shape

// Backend is the interface compute backends implement.
type Backend = tensor.Backend

// RawTensor is the low-level tensor representation: a contiguous row-major
// buffer with runtime type information.
type RawTensor = tensor.RawTensor

// Tensor is a generic type-safe tensor.
//
// T is the data type (float32, float64, bool).
// B is the backend implementation.
type Tensor[T DType, B Backend] = tensor.Tensor[T, B]

// New creates a Tensor from a RawTensor and backend.
func New[T DType, B Backend](raw *RawTensor, b B) *Tensor[T, B] {
	return tensor.New[T](raw, b)
}

// NewRaw creates a new RawTensor with the given shape and type.
func NewRaw(shape Shape, dtype DataType) (*RawTensor, error) {
	return tensor.NewRaw(shape, dtype)
}

// FromSlice creates a tensor from a Go slice. The slice is copied.
func FromSlice[T DType, B Backend](data []T, shape Shape, b B) (*Tensor[T, B], error) {
	return tensor.FromSlice(data, shape, b)
}

// Zeros creates a tensor filled with zeros.
func Zeros[T DType, B Backend](shape Shape, b B) *Tensor[T, B] {
	return tensor.Zeros[T](shape, b)
}

// Ones creates a tensor filled with ones.
func Ones[T DType, B Backend](shape Shape, b B) *Tensor[T, B] {
	return tensor.Ones[T](shape, b)
}

// Full creates a tensor filled with a specific value.
func Full[T DType, B Backend](shape Shape, value T, b B) *Tensor[T, B] {
	return tensor.Full[T](shape, value, b)
}

// Randn creates a tensor with values drawn from a standard normal
// distribution.
func Randn[T Float, B Backend](shape Shape, b B) *Tensor[T, B] {
	return tensor.Randn[T](shape, b)
}

// RandnSource creates a normally distributed tensor from an explicit random
// source, for reproducible fixtures.
func RandnSource[T Float, B Backend](shape Shape, b B, rng *rand.Rand) *Tensor[T, B] {
	return tensor.RandnSource[T](shape, b, rng)
}

// BroadcastShapes computes the NumPy-style broadcast result of two shapes.
func BroadcastShapes(a, b Shape) (Shape, bool, error) {
	return tensor.BroadcastShapes(a, b)
}
