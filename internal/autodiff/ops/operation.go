// Package ops defines operation interfaces and implementations for automatic
// differentiation.
//
// Each operation records its inputs and output during the forward pass and
// computes input gradients during the backward pass:
//   - AddOp / SubOp / MulOp / DivOp: element-wise arithmetic with broadcasting
//   - AddScalarOp / SubScalarOp / MulScalarOp / DivScalarOp: scalar arithmetic
//   - ClampOp: range clamp with gradients for the bounds
//   - RoundSTEOp: rounding with a straight-through estimator gradient
//   - AbsOp / NegOp: element-wise sign-sensitive ops
//   - ReshapeOp: shape change, gradient reshaped back
package ops

import "github.com/qgrid-ml/qgrid/internal/tensor"

// Operation represents a differentiable operation in the computation graph.
// Each operation records its inputs and output during the forward pass,
// and computes input gradients during the backward pass.
type Operation interface {
	// Backward computes gradients for inputs given the output gradient.
	// Returns a slice of gradients corresponding to each input tensor.
	Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor

	// Inputs returns the input tensors for this operation.
	Inputs() []*tensor.RawTensor

	// Output returns the output tensor produced by this operation.
	Output() *tensor.RawTensor
}
