package ops

import "github.com/qgrid-ml/qgrid/internal/tensor"

// AddScalarOp represents output = x + s for a scalar s.
// The gradient passes through unchanged.
type AddScalarOp struct {
	input  *tensor.RawTensor
	output *tensor.RawTensor
}

// NewAddScalarOp creates a new AddScalarOp.
func NewAddScalarOp(x, output *tensor.RawTensor) *AddScalarOp {
	return &AddScalarOp{input: x, output: output}
}

// Backward passes the gradient through unchanged.
func (op *AddScalarOp) Backward(outputGrad *tensor.RawTensor, _ tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{outputGrad.Clone()}
}

// Inputs returns the input tensor [x].
func (op *AddScalarOp) Inputs() []*tensor.RawTensor { return []*tensor.RawTensor{op.input} }

// Output returns the output tensor x + s.
func (op *AddScalarOp) Output() *tensor.RawTensor { return op.output }

// SubScalarOp represents output = x - s for a scalar s.
// The gradient passes through unchanged.
type SubScalarOp struct {
	input  *tensor.RawTensor
	output *tensor.RawTensor
}

// NewSubScalarOp creates a new SubScalarOp.
func NewSubScalarOp(x, output *tensor.RawTensor) *SubScalarOp {
	return &SubScalarOp{input: x, output: output}
}

// Backward passes the gradient through unchanged.
func (op *SubScalarOp) Backward(outputGrad *tensor.RawTensor, _ tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{outputGrad.Clone()}
}

// Inputs returns the input tensor [x].
func (op *SubScalarOp) Inputs() []*tensor.RawTensor { return []*tensor.RawTensor{op.input} }

// Output returns the output tensor x - s.
func (op *SubScalarOp) Output() *tensor.RawTensor { return op.output }

// MulScalarOp represents output = x * s for a scalar s.
//
// Backward: grad_x = outputGrad * s.
type MulScalarOp struct {
	input  *tensor.RawTensor
	output *tensor.RawTensor
	scalar float64
}

// NewMulScalarOp creates a new MulScalarOp.
func NewMulScalarOp(x, output *tensor.RawTensor, scalar float64) *MulScalarOp {
	return &MulScalarOp{input: x, output: output, scalar: scalar}
}

// Backward scales the gradient by the recorded scalar.
func (op *MulScalarOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	defer outputGrad.ForceNonUnique()()
	return []*tensor.RawTensor{backend.MulScalar(outputGrad, op.scalar)}
}

// Inputs returns the input tensor [x].
func (op *MulScalarOp) Inputs() []*tensor.RawTensor { return []*tensor.RawTensor{op.input} }

// Output returns the output tensor x * s.
func (op *MulScalarOp) Output() *tensor.RawTensor { return op.output }

// DivScalarOp represents output = x / s for a scalar s.
//
// Backward: grad_x = outputGrad / s.
type DivScalarOp struct {
	input  *tensor.RawTensor
	output *tensor.RawTensor
	scalar float64
}

// NewDivScalarOp creates a new DivScalarOp.
func NewDivScalarOp(x, output *tensor.RawTensor, scalar float64) *DivScalarOp {
	return &DivScalarOp{input: x, output: output, scalar: scalar}
}

// Backward divides the gradient by the recorded scalar.
func (op *DivScalarOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	defer outputGrad.ForceNonUnique()()
	return []*tensor.RawTensor{backend.DivScalar(outputGrad, op.scalar)}
}

// Inputs returns the input tensor [x].
func (op *DivScalarOp) Inputs() []*tensor.RawTensor { return []*tensor.RawTensor{op.input} }

// Output returns the output tensor x / s.
func (op *DivScalarOp) Output() *tensor.RawTensor { return op.output }
