package quant

import (
	"fmt"

	"github.com/qgrid-ml/qgrid/internal/autodiff"
	"github.com/qgrid-ml/qgrid/internal/autodiff/ops"
	"github.com/qgrid-ml/qgrid/internal/tensor"
)

// ReferenceFakeQuantize computes the fake-quantization forward output and
// all three gradients by composing differentiable primitives instead of the
// fused kernels. It is the correctness oracle the fused path is validated
// against; both paths must agree to floating tolerance.
//
// The free variant is a genuine tape-recorded composition (clamp, shift,
// scale, straight-through round) differentiated by reverse-mode autodiff.
// The zero-aligned variant composes the same primitives for the forward
// pass but evaluates its bound gradients step by step from the closed-form
// law: the zero shift z = round(|lb|/delta) makes the adjusted bounds
// functions of lb in a way a straight-through tape cannot recover, so the
// gradient terms are built explicitly from primitive backend operations.
func ReferenceFakeQuantize[B tensor.Backend](
	backend B, x, lb, ub, dy *tensor.RawTensor, k int, alignZero bool,
) (y, dx, dlb, dub *tensor.RawTensor, err error) {
	if err := validateBitWidth(k); err != nil {
		return nil, nil, nil, nil, err
	}
	if !lb.Shape().Equal(ub.Shape()) {
		return nil, nil, nil, nil, fmt.Errorf("%w: lb %v vs ub %v", ErrShapeMismatch, lb.Shape(), ub.Shape())
	}
	if !dy.Shape().Equal(x.Shape()) {
		return nil, nil, nil, nil, fmt.Errorf("%w: dy %v vs x %v", ErrShapeMismatch, dy.Shape(), x.Shape())
	}
	lay, err := resolveLayout(x.Shape(), lb.Shape())
	if err != nil {
		return nil, nil, nil, nil, err
	}
	if err := validateBoundsRaw(lb, ub); err != nil {
		return nil, nil, nil, nil, err
	}

	if alignZero {
		y, dx, dlb, dub = referenceAligned(backend, x, lb, ub, dy, lay, gridSteps(k))
	} else {
		y, dx, dlb, dub = referenceFree(backend, x, lb, ub, dy, lay, gridSteps(k))
	}
	return y, dx, dlb, dub, nil
}

// referenceFree runs the free-variant composition on a gradient tape:
//
//	delta = (ub - lb)/N
//	xc    = clamp(x, lb, ub)
//	y     = round((xc - lb)/delta)*delta + lb
//
// Reverse-mode differentiation of this chain reproduces the closed-form
// gradient law exactly: the clamp op contributes the saturation terms and
// the straight-through round leaves the qi_diff correction in the delta
// path.
func referenceFree[B tensor.Backend](
	backend B, x, lb, ub, dy *tensor.RawTensor, lay layout, n float64,
) (y, dx, dlb, dub *tensor.RawTensor) {
	ad := autodiff.New(backend)
	tape := ad.Tape()
	tape.StartRecording()

	lbB, ubB := lb, ub
	if lay.granularity == PerChannel {
		bshape := lay.broadcastShape(len(x.Shape()))
		lbB = ad.Reshape(lb, bshape)
		ubB = ad.Reshape(ub, bshape)
	}

	delta := ad.DivScalar(ad.Sub(ubB, lbB), n)
	xc := ad.Clamp(x, lbB, ubB)
	idx := ad.Round(ad.Div(ad.Sub(xc, lbB), delta))
	y = ad.Add(ad.Mul(idx, delta), lbB)

	tape.StopRecording()
	grads := tape.Backward(dy, ad)

	return y, grads[x], grads[lb], grads[ub]
}

// referenceAligned composes the zero-aligned forward pass from primitives
// and then evaluates the bound-gradient law term by term:
//
//	dx   = dy                 where lb' <= x <= ub'
//	d_i  = (i - z) - (xc - lb' - |lb|)/delta
//	d_ub = sum(dy * d_i)/N
//	d_lb = -d_ub - sum(dy * sign(lb))
//
// with sums reduced over every non-channel dimension.
func referenceAligned[B tensor.Backend](
	b B, x, lb, ub, dy *tensor.RawTensor, lay layout, n float64,
) (y, dx, dlb, dub *tensor.RawTensor) {
	// Every long-lived intermediate is pinned so the backend's inplace
	// fast path cannot overwrite a value that is read again later.
	var releases []func()
	keep := func(t *tensor.RawTensor) *tensor.RawTensor {
		releases = append(releases, t.ForceNonUnique())
		return t
	}
	defer func() {
		for _, release := range releases {
			release()
		}
	}()

	keep(x)
	keep(lb)
	keep(ub)
	keep(dy)

	lbB, ubB := lb, ub
	if lay.granularity == PerChannel {
		bshape := lay.broadcastShape(len(x.Shape()))
		lbB = keep(b.Reshape(lb, bshape))
		ubB = keep(b.Reshape(ub, bshape))
	}

	// Grid construction: z grid steps from 0 down to lb, bounds snapped so
	// 0 is exactly representable.
	delta := keep(b.DivScalar(b.Sub(ubB, lbB), n))
	absLb := keep(b.Abs(lbB))
	z := keep(b.Round(b.Div(absLb, delta)))
	lbAdj := keep(b.Mul(b.Neg(z), delta))
	ubAdj := keep(b.Mul(b.Neg(b.SubScalar(z, n)), delta))

	maskIn := keep(b.Cast(
		b.And(b.GreaterEqual(x, lbAdj), b.LowerEqual(x, ubAdj)), x.DType()))
	xc := keep(b.Minimum(b.Maximum(x, lbAdj), ubAdj))
	idx := keep(b.Round(b.Div(b.Sub(xc, lbAdj), delta)))

	y = keep(b.Add(b.Mul(idx, delta), lbAdj))

	dx = keep(b.Mul(dy, maskIn))

	xSub := b.Sub(b.Sub(xc, lbAdj), absLb)
	dI := b.Sub(b.Sub(idx, z), b.Div(xSub, delta))
	dUbFull := keep(b.DivScalar(b.Mul(dy, dI), n))
	dLbFull := keep(b.Sub(b.Neg(dUbFull), b.Mul(dy, b.Sign(lbB))))

	bshape := lbB.Shape()
	dub = b.Reshape(ops.ReduceBroadcast(dUbFull, bshape, b), lay.boundShape)
	dlb = b.Reshape(ops.ReduceBroadcast(dLbFull, bshape, b), lay.boundShape)

	return y, dx, dlb, dub
}

func validateBoundsRaw(lb, ub *tensor.RawTensor) error {
	switch lb.DType() {
	case tensor.Float32:
		return validateBounds(lb.AsFloat32(), ub.AsFloat32())
	case tensor.Float64:
		return validateBounds(lb.AsFloat64(), ub.AsFloat64())
	default:
		return fmt.Errorf("quant: unsupported bounds dtype %s", lb.DType())
	}
}
