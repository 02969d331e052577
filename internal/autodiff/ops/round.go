package ops

import "github.com/qgrid-ml/qgrid/internal/tensor"

// RoundSTEOp represents rounding to the nearest integer with a
// straight-through estimator gradient.
//
// Forward: output = round(x), halves away from zero.
//
// Backward: round is piecewise constant, so its true derivative is zero
// almost everywhere. The straight-through estimator treats the op as the
// identity during the backward pass:
//
//	grad_x = outputGrad
//
// This keeps gradients flowing through quantization grids during training.
type RoundSTEOp struct {
	input  *tensor.RawTensor
	output *tensor.RawTensor
}

// NewRoundSTEOp creates a new RoundSTEOp.
func NewRoundSTEOp(x, output *tensor.RawTensor) *RoundSTEOp {
	return &RoundSTEOp{input: x, output: output}
}

// Backward passes the gradient straight through.
func (op *RoundSTEOp) Backward(outputGrad *tensor.RawTensor, _ tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{outputGrad.Clone()}
}

// Inputs returns the input tensor [x].
func (op *RoundSTEOp) Inputs() []*tensor.RawTensor {
	return []*tensor.RawTensor{op.input}
}

// Output returns the output tensor round(x).
func (op *RoundSTEOp) Output() *tensor.RawTensor {
	return op.output
}
