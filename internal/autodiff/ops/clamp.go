package ops

import "github.com/qgrid-ml/qgrid/internal/tensor"

// ClampOp represents a range clamp with learnable bounds:
//
//	output = min(max(x, lo), hi)
//
// Bounds may be scalars or broadcastable tensors such as per-channel
// bounds of shape (C,1,...,1).
//
// Backward (partition by where x landed):
//   - in-range  (lo <= x <= hi): grad_x  = outputGrad
//   - below     (x < lo):        grad_lo = sum of outputGrad over the region
//   - above     (x > hi):        grad_hi = sum of outputGrad over the region
//
// Bound gradients are reduced over broadcast dimensions to match the bound
// shapes. Elements exactly on a bound route their gradient to x, so the
// three regions cover every element exactly once.
type ClampOp struct {
	inputs []*tensor.RawTensor // [x, lo, hi]
	output *tensor.RawTensor   // min(max(x, lo), hi)
}

// NewClampOp creates a new ClampOp.
func NewClampOp(x, lo, hi, output *tensor.RawTensor) *ClampOp {
	return &ClampOp{
		inputs: []*tensor.RawTensor{x, lo, hi},
		output: output,
	}
}

// Backward computes gradients for x and both bounds.
func (op *ClampOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	x, lo, hi := op.inputs[0], op.inputs[1], op.inputs[2]

	defer outputGrad.ForceNonUnique()()

	dtype := x.DType()

	// Saturation masks as 0/1 floats, broadcast to x's shape.
	maskBelow := boolMask(backend.Lower(x, lo), dtype, backend)
	maskAbove := boolMask(backend.Greater(x, hi), dtype, backend)

	// In-range elements pass the gradient through, saturated ones get zero.
	inRange := backend.And(backend.GreaterEqual(x, lo), backend.LowerEqual(x, hi))
	gradX := backend.Where(inRange, outputGrad, zerosLike(x))

	gradLo := backend.Mul(outputGrad, maskBelow)
	gradLo = ReduceBroadcast(gradLo, lo.Shape(), backend)

	gradHi := backend.Mul(outputGrad, maskAbove)
	gradHi = ReduceBroadcast(gradHi, hi.Shape(), backend)

	return []*tensor.RawTensor{gradX, gradLo, gradHi}
}

// Inputs returns the input tensors [x, lo, hi].
func (op *ClampOp) Inputs() []*tensor.RawTensor {
	return op.inputs
}

// Output returns the clamped output tensor.
func (op *ClampOp) Output() *tensor.RawTensor {
	return op.output
}
