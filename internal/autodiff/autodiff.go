// Package autodiff implements automatic differentiation using the decorator
// pattern.
//
// AutodiffBackend wraps any Backend implementation and adds gradient
// tracking through a GradientTape:
//   - Decorator pattern: AutodiffBackend[B] wraps any Backend implementation
//   - GradientTape: records operations during the forward pass
//   - Operation interface: each op implements its own backward pass
//   - Reverse-mode AD: gradients flow backwards using the chain rule
//
// Usage:
//
//	backend := autodiff.New(cpu.New())
//	backend.Tape().StartRecording()
//	// ... operations through the backend ...
//	grads := backend.Tape().Backward(outputGrad, backend)
package autodiff

import (
	"github.com/qgrid-ml/qgrid/internal/autodiff/ops"
	"github.com/qgrid-ml/qgrid/internal/tensor"
)

// AutodiffBackend wraps a Backend and adds automatic differentiation.
// It implements the tensor.Backend interface and records differentiable
// operations in a GradientTape. Non-differentiable operations (comparisons,
// reductions used for masks, Cast) pass through unrecorded.
//
// Type parameter B must satisfy the tensor.Backend interface.
type AutodiffBackend[B tensor.Backend] struct {
	inner B             // Wrapped backend
	tape  *GradientTape // Records operations for backpropagation
}

// New creates a new AutodiffBackend wrapping the given backend.
func New[B tensor.Backend](backend B) *AutodiffBackend[B] {
	return &AutodiffBackend[B]{
		inner: backend,
		tape:  NewGradientTape(),
	}
}

// Tape returns the gradient tape for manual control: starting/stopping
// recording, clearing between iterations, inspecting recorded operations.
func (b *AutodiffBackend[B]) Tape() *GradientTape {
	return b.tape
}

// Inner returns the wrapped backend for direct access.
func (b *AutodiffBackend[B]) Inner() B {
	return b.inner
}

// Name returns the backend name.
func (b *AutodiffBackend[B]) Name() string {
	return "Autodiff(" + b.inner.Name() + ")"
}

// Add performs element-wise addition and records the operation.
func (b *AutodiffBackend[B]) Add(x, y *tensor.RawTensor) *tensor.RawTensor {
	// Prevent inplace modification that would corrupt the recorded graph:
	// temporarily raise the refcount so IsUnique() reports false and the
	// inner backend allocates a fresh result.
	defer x.ForceNonUnique()()
	defer y.ForceNonUnique()()

	result := b.inner.Add(x, y)

	if b.tape.IsRecording() {
		b.tape.Record(ops.NewAddOp(x, y, result))
	}
	return result
}

// Sub performs element-wise subtraction and records the operation.
func (b *AutodiffBackend[B]) Sub(x, y *tensor.RawTensor) *tensor.RawTensor {
	defer x.ForceNonUnique()()
	defer y.ForceNonUnique()()

	result := b.inner.Sub(x, y)

	if b.tape.IsRecording() {
		b.tape.Record(ops.NewSubOp(x, y, result))
	}
	return result
}

// Mul performs element-wise multiplication and records the operation.
func (b *AutodiffBackend[B]) Mul(x, y *tensor.RawTensor) *tensor.RawTensor {
	defer x.ForceNonUnique()()
	defer y.ForceNonUnique()()

	result := b.inner.Mul(x, y)

	if b.tape.IsRecording() {
		b.tape.Record(ops.NewMulOp(x, y, result))
	}
	return result
}

// Div performs element-wise division and records the operation.
func (b *AutodiffBackend[B]) Div(x, y *tensor.RawTensor) *tensor.RawTensor {
	defer x.ForceNonUnique()()
	defer y.ForceNonUnique()()

	result := b.inner.Div(x, y)

	if b.tape.IsRecording() {
		b.tape.Record(ops.NewDivOp(x, y, result))
	}
	return result
}

// AddScalar adds a scalar and records the operation.
func (b *AutodiffBackend[B]) AddScalar(x *tensor.RawTensor, scalar float64) *tensor.RawTensor {
	defer x.ForceNonUnique()()

	result := b.inner.AddScalar(x, scalar)

	if b.tape.IsRecording() {
		b.tape.Record(ops.NewAddScalarOp(x, result))
	}
	return result
}

// SubScalar subtracts a scalar and records the operation.
func (b *AutodiffBackend[B]) SubScalar(x *tensor.RawTensor, scalar float64) *tensor.RawTensor {
	defer x.ForceNonUnique()()

	result := b.inner.SubScalar(x, scalar)

	if b.tape.IsRecording() {
		b.tape.Record(ops.NewSubScalarOp(x, result))
	}
	return result
}

// MulScalar multiplies by a scalar and records the operation.
func (b *AutodiffBackend[B]) MulScalar(x *tensor.RawTensor, scalar float64) *tensor.RawTensor {
	defer x.ForceNonUnique()()

	result := b.inner.MulScalar(x, scalar)

	if b.tape.IsRecording() {
		b.tape.Record(ops.NewMulScalarOp(x, result, scalar))
	}
	return result
}

// DivScalar divides by a scalar and records the operation.
func (b *AutodiffBackend[B]) DivScalar(x *tensor.RawTensor, scalar float64) *tensor.RawTensor {
	defer x.ForceNonUnique()()

	result := b.inner.DivScalar(x, scalar)

	if b.tape.IsRecording() {
		b.tape.Record(ops.NewDivScalarOp(x, result, scalar))
	}
	return result
}

// Round rounds to the nearest integer and records a straight-through
// estimator operation: the backward pass treats Round as the identity.
func (b *AutodiffBackend[B]) Round(x *tensor.RawTensor) *tensor.RawTensor {
	defer x.ForceNonUnique()()

	result := b.inner.Round(x)

	if b.tape.IsRecording() {
		b.tape.Record(ops.NewRoundSTEOp(x, result))
	}
	return result
}

// Abs computes the element-wise absolute value and records the operation.
func (b *AutodiffBackend[B]) Abs(x *tensor.RawTensor) *tensor.RawTensor {
	defer x.ForceNonUnique()()

	result := b.inner.Abs(x)

	if b.tape.IsRecording() {
		b.tape.Record(ops.NewAbsOp(x, result))
	}
	return result
}

// Neg negates element-wise and records the operation.
func (b *AutodiffBackend[B]) Neg(x *tensor.RawTensor) *tensor.RawTensor {
	defer x.ForceNonUnique()()

	result := b.inner.Neg(x)

	if b.tape.IsRecording() {
		b.tape.Record(ops.NewNegOp(x, result))
	}
	return result
}

// Reshape reshapes a tensor and records the operation.
//
// Recording matters even though reshape is a view: without a ReshapeOp the
// gradient computed for the reshaped tensor (bounds broadcast as
// (C,1,...,1)) would never propagate back to the original bounds tensor.
func (b *AutodiffBackend[B]) Reshape(t *tensor.RawTensor, newShape tensor.Shape) *tensor.RawTensor {
	defer t.ForceNonUnique()()

	result := b.inner.Reshape(t, newShape)

	if b.tape.IsRecording() {
		b.tape.Record(ops.NewReshapeOp(t, result))
	}
	return result
}

// Clamp computes min(max(x, lo), hi) and records a single ClampOp carrying
// gradients for x and both bounds. Composing Maximum and Minimum directly
// would lose the bound gradients, so clamp is recorded as one operation.
func (b *AutodiffBackend[B]) Clamp(x, lo, hi *tensor.RawTensor) *tensor.RawTensor {
	defer x.ForceNonUnique()()
	defer lo.ForceNonUnique()()
	defer hi.ForceNonUnique()()

	result := b.inner.Minimum(b.inner.Maximum(x, lo), hi)

	if b.tape.IsRecording() {
		b.tape.Record(ops.NewClampOp(x, lo, hi, result))
	}
	return result
}

// Maximum passes through without recording. Use Clamp for differentiable
// range limiting.
func (b *AutodiffBackend[B]) Maximum(x, y *tensor.RawTensor) *tensor.RawTensor {
	defer x.ForceNonUnique()()
	defer y.ForceNonUnique()()
	return b.inner.Maximum(x, y)
}

// Minimum passes through without recording. Use Clamp for differentiable
// range limiting.
func (b *AutodiffBackend[B]) Minimum(x, y *tensor.RawTensor) *tensor.RawTensor {
	defer x.ForceNonUnique()()
	defer y.ForceNonUnique()()
	return b.inner.Minimum(x, y)
}

// Sign passes through without recording; its derivative is zero almost
// everywhere.
func (b *AutodiffBackend[B]) Sign(x *tensor.RawTensor) *tensor.RawTensor {
	defer x.ForceNonUnique()()
	return b.inner.Sign(x)
}

// Greater passes through without recording.
func (b *AutodiffBackend[B]) Greater(x, y *tensor.RawTensor) *tensor.RawTensor {
	return b.inner.Greater(x, y)
}

// Lower passes through without recording.
func (b *AutodiffBackend[B]) Lower(x, y *tensor.RawTensor) *tensor.RawTensor {
	return b.inner.Lower(x, y)
}

// GreaterEqual passes through without recording.
func (b *AutodiffBackend[B]) GreaterEqual(x, y *tensor.RawTensor) *tensor.RawTensor {
	return b.inner.GreaterEqual(x, y)
}

// LowerEqual passes through without recording.
func (b *AutodiffBackend[B]) LowerEqual(x, y *tensor.RawTensor) *tensor.RawTensor {
	return b.inner.LowerEqual(x, y)
}

// And passes through without recording.
func (b *AutodiffBackend[B]) And(x, y *tensor.RawTensor) *tensor.RawTensor {
	return b.inner.And(x, y)
}

// Where passes through without recording.
func (b *AutodiffBackend[B]) Where(cond, x, y *tensor.RawTensor) *tensor.RawTensor {
	defer x.ForceNonUnique()()
	defer y.ForceNonUnique()()
	return b.inner.Where(cond, x, y)
}

// Cast passes through without recording.
func (b *AutodiffBackend[B]) Cast(x *tensor.RawTensor, dtype tensor.DataType) *tensor.RawTensor {
	return b.inner.Cast(x, dtype)
}

// Sum passes through without recording.
func (b *AutodiffBackend[B]) Sum(x *tensor.RawTensor) *tensor.RawTensor {
	return b.inner.Sum(x)
}

// SumDim passes through without recording.
func (b *AutodiffBackend[B]) SumDim(x *tensor.RawTensor, dim int, keepDim bool) *tensor.RawTensor {
	return b.inner.SumDim(x, dim, keepDim)
}
