package ops

import "github.com/qgrid-ml/qgrid/internal/tensor"

// NegOp represents element-wise negation: output = -x.
//
// Backward: grad_x = -outputGrad.
type NegOp struct {
	input  *tensor.RawTensor
	output *tensor.RawTensor
}

// NewNegOp creates a new NegOp.
func NewNegOp(x, output *tensor.RawTensor) *NegOp {
	return &NegOp{input: x, output: output}
}

// Backward negates the gradient.
func (op *NegOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	defer outputGrad.ForceNonUnique()()
	return []*tensor.RawTensor{backend.Neg(outputGrad)}
}

// Inputs returns the input tensor [x].
func (op *NegOp) Inputs() []*tensor.RawTensor {
	return []*tensor.RawTensor{op.input}
}

// Output returns the output tensor -x.
func (op *NegOp) Output() *tensor.RawTensor {
	return op.output
}
