package ops

import "github.com/qgrid-ml/qgrid/internal/tensor"

// AbsOp represents the element-wise absolute value: output = |x|.
//
// Backward: grad_x = outputGrad * sign(x), with sign(0) = 0.
type AbsOp struct {
	input  *tensor.RawTensor
	output *tensor.RawTensor
}

// NewAbsOp creates a new AbsOp.
func NewAbsOp(x, output *tensor.RawTensor) *AbsOp {
	return &AbsOp{input: x, output: output}
}

// Backward computes the input gradient for Abs.
func (op *AbsOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	defer outputGrad.ForceNonUnique()()
	defer op.input.ForceNonUnique()()

	grad := backend.Mul(outputGrad, backend.Sign(op.input))
	return []*tensor.RawTensor{grad}
}

// Inputs returns the input tensor [x].
func (op *AbsOp) Inputs() []*tensor.RawTensor {
	return []*tensor.RawTensor{op.input}
}

// Output returns the output tensor |x|.
func (op *AbsOp) Output() *tensor.RawTensor {
	return op.output
}
