package ops

import (
	"fmt"

	"github.com/qgrid-ml/qgrid/internal/tensor"
)

// ReduceBroadcast reduces a gradient tensor to match the target shape.
// This is necessary when broadcasting was used in the forward pass.
//
// Example:
//
//	Forward: a[3,1] + b[3,4] -> c[3,4]  (a was broadcast along dim 1)
//	Backward: grad_c[3,4] -> grad_a[3,1] (sum along dim 1)
//
// Exported because bound-gradient reduction in the quantization operators
// follows the same rule: gradients for a bounds tensor of shape (C,1,...,1)
// are summed over every non-channel dimension.
func ReduceBroadcast(grad *tensor.RawTensor, targetShape tensor.Shape, backend tensor.Backend) *tensor.RawTensor {
	gradShape := grad.Shape()

	// If shapes already match, clone to avoid aliasing issues
	// (prevents inplace operations from modifying shared gradients)
	if gradShape.Equal(targetShape) {
		return grad.Clone()
	}

	// Scalar target: sum everything
	if len(targetShape) == 0 {
		return backend.Sum(grad)
	}

	// NumPy broadcasting aligns shapes from the right.
	// If target has fewer dimensions, sum the leading ones first.
	gradDims := len(gradShape)
	targetDims := len(targetShape)

	result := grad
	for i := 0; i < gradDims-targetDims; i++ {
		result = backend.SumDim(result, 0, false)
	}

	// Then sum along dimensions where the target is 1
	resultShape := result.Shape()
	for i := 0; i < targetDims; i++ {
		if targetShape[i] == 1 && resultShape[i] > 1 {
			result = backend.SumDim(result, i, true)
			resultShape = result.Shape()
		}
	}

	if !result.Shape().Equal(targetShape) {
		result = backend.Reshape(result, targetShape)
	}
	return result
}

// boolMask converts a bool comparison result to a 0/1 float mask matching
// the reference dtype.
func boolMask(cond *tensor.RawTensor, dtype tensor.DataType, backend tensor.Backend) *tensor.RawTensor {
	return backend.Cast(cond, dtype)
}

// zerosLike allocates a zero-filled tensor with x's shape and dtype.
func zerosLike(x *tensor.RawTensor) *tensor.RawTensor {
	zeros, err := tensor.NewRaw(x.Shape(), x.DType())
	if err != nil {
		panic(fmt.Sprintf("ops: zerosLike: %v", err))
	}
	return zeros
}
