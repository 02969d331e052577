// Package quant implements fake quantization: rounding values onto a
// discrete grid defined by learnable lower/upper bounds, with hand-derived
// gradients so the bounds can be trained by gradient descent.
//
// Two operator variants exist, selected by the alignZero flag:
//   - ZeroAligned: bounds are first adjusted so the value 0 falls exactly on
//     a grid point (required by symmetric-quantization hardware targets).
//   - Free: the grid spans [lb, ub] directly; bound gradients carry a
//     rounding-error correction term instead.
//
// Bounds are either scalars (shared over the whole tensor) or vectors of
// length equal to the input's leading dimension (per-channel).
//
// Every operator is implemented twice: a fused closed-form kernel (this
// package's hot path) and a reference composition of differentiable
// primitives (reference.go). The two paths agree to floating tolerance and
// cross-validate each other in the tests.
package quant

import (
	"fmt"
	"math"

	"github.com/qgrid-ml/qgrid/internal/tensor"
)

// Variant selects the quantization grid construction.
type Variant int

// Operator variants.
const (
	ZeroAligned Variant = iota // grid adjusted so 0 is exactly representable
	Free                       // grid spans [lb, ub] directly
)

// String returns the variant name.
func (v Variant) String() string {
	switch v {
	case ZeroAligned:
		return "zero-aligned"
	case Free:
		return "free"
	default:
		return fmt.Sprintf("Variant(%d)", int(v))
	}
}

// Granularity selects how bounds map onto the input tensor.
type Granularity int

// Bound granularities.
const (
	PerTensor  Granularity = iota // scalar bounds shared by every element
	PerChannel                    // one bound pair per leading-dimension slice
)

// String returns the granularity name.
func (g Granularity) String() string {
	switch g {
	case PerTensor:
		return "per-tensor"
	case PerChannel:
		return "per-channel"
	default:
		return fmt.Sprintf("Granularity(%d)", int(g))
	}
}

// layout describes how bound parameters map onto the input tensor:
// `channels` contiguous slices of `inner` elements each. Per-tensor bounds
// are the channels == 1 special case.
type layout struct {
	granularity Granularity
	channels    int
	inner       int
	boundShape  tensor.Shape // original bounds shape, restored on gradients
}

// broadcastShape returns the bounds shape used for broadcasting against the
// input: (C,1,...,1) for per-channel bounds, the original shape otherwise.
func (l layout) broadcastShape(xRank int) tensor.Shape {
	if l.granularity == PerTensor {
		return l.boundShape
	}
	bshape := make(tensor.Shape, xRank)
	bshape[0] = l.channels
	for d := 1; d < xRank; d++ {
		bshape[d] = 1
	}
	return bshape
}

// resolveLayout classifies the bounds shape against the input shape.
// Scalar bounds (shape {} or {1}) quantize the whole tensor with one range;
// a vector of length x.Shape()[0] quantizes per leading-dimension channel.
func resolveLayout(xShape, boundShape tensor.Shape) (layout, error) {
	numel := xShape.NumElements()

	if len(boundShape) == 0 || (len(boundShape) == 1 && boundShape[0] == 1) {
		return layout{
			granularity: PerTensor,
			channels:    1,
			inner:       numel,
			boundShape:  boundShape.Clone(),
		}, nil
	}

	if len(boundShape) == 1 && len(xShape) >= 1 && boundShape[0] == xShape[0] {
		return layout{
			granularity: PerChannel,
			channels:    xShape[0],
			inner:       numel / xShape[0],
			boundShape:  boundShape.Clone(),
		}, nil
	}

	return layout{}, fmt.Errorf("%w: bounds %v vs input %v", ErrShapeMismatch, boundShape, xShape)
}

// gridSteps returns N = 2^k - 1, the number of quantization intervals.
func gridSteps(k int) float64 {
	return math.Pow(2, float64(k)) - 1
}

// validateBitWidth rejects k < 1.
func validateBitWidth(k int) error {
	if k < 1 {
		return fmt.Errorf("%w: got k=%d", ErrInvalidBitWidth, k)
	}
	return nil
}

// FakeQuantize rounds x onto the (N+1)-point grid defined by bounds lb/ub
// and bit width k, where N = 2^k - 1. The output has the same shape and
// dtype as x, and a Cache holding everything the backward pass needs.
//
// The cache must be consumed by exactly one Backward call; a second call
// returns ErrStaleCache.
func FakeQuantize[T tensor.Float, B tensor.Backend](
	x, lb, ub *tensor.Tensor[T, B], k int, alignZero bool,
) (*tensor.Tensor[T, B], *Cache[T, B], error) {
	if err := validateBitWidth(k); err != nil {
		return nil, nil, err
	}
	if !lb.Shape().Equal(ub.Shape()) {
		return nil, nil, fmt.Errorf("%w: lb %v vs ub %v", ErrShapeMismatch, lb.Shape(), ub.Shape())
	}
	lay, err := resolveLayout(x.Shape(), lb.Shape())
	if err != nil {
		return nil, nil, err
	}

	variant := Free
	if alignZero {
		variant = ZeroAligned
	}

	params, err := computeGridParams(lb.Data(), ub.Data(), gridSteps(k), variant)
	if err != nil {
		return nil, nil, err
	}

	yRaw, err := tensor.NewRaw(x.Shape(), x.DType())
	if err != nil {
		return nil, nil, err
	}
	y := tensor.New[T](yRaw, x.Backend())

	forwardKernel(x.Data(), y.Data(), params, lay)

	cache := newCache(x, lay, variant, k, params)
	return y, cache, nil
}

// Clamp saturates x into [lb, ub] elementwise: y = min(max(x, lb), ub).
// Bounds follow the same scalar-or-per-channel layout as FakeQuantize.
func Clamp[T tensor.Float, B tensor.Backend](x, lb, ub *tensor.Tensor[T, B]) (*tensor.Tensor[T, B], error) {
	if !lb.Shape().Equal(ub.Shape()) {
		return nil, fmt.Errorf("%w: lb %v vs ub %v", ErrShapeMismatch, lb.Shape(), ub.Shape())
	}
	lay, err := resolveLayout(x.Shape(), lb.Shape())
	if err != nil {
		return nil, err
	}
	if err := validateBounds(lb.Data(), ub.Data()); err != nil {
		return nil, err
	}

	yRaw, err := tensor.NewRaw(x.Shape(), x.DType())
	if err != nil {
		return nil, err
	}
	y := tensor.New[T](yRaw, x.Backend())

	clampForwardKernel(x.Data(), y.Data(), lb.Data(), ub.Data(), lay)
	return y, nil
}

// ClampBackward computes the gradients of Clamp: dx routes dy through
// in-range positions, d_lb/d_ub collect dy over the saturated regions,
// reduced over every non-channel dimension.
func ClampBackward[T tensor.Float, B tensor.Backend](
	dy, x, lb, ub *tensor.Tensor[T, B],
) (dx, dlb, dub *tensor.Tensor[T, B], err error) {
	if !dy.Shape().Equal(x.Shape()) {
		return nil, nil, nil, fmt.Errorf("%w: dy %v vs x %v", ErrShapeMismatch, dy.Shape(), x.Shape())
	}
	if !lb.Shape().Equal(ub.Shape()) {
		return nil, nil, nil, fmt.Errorf("%w: lb %v vs ub %v", ErrShapeMismatch, lb.Shape(), ub.Shape())
	}
	lay, err := resolveLayout(x.Shape(), lb.Shape())
	if err != nil {
		return nil, nil, nil, err
	}
	if err := validateBounds(lb.Data(), ub.Data()); err != nil {
		return nil, nil, nil, err
	}

	dx, dlb, dub, err = allocGrads(x, lay)
	if err != nil {
		return nil, nil, nil, err
	}

	clampBackwardKernel(dy.Data(), x.Data(), lb.Data(), ub.Data(),
		dx.Data(), dlb.Data(), dub.Data(), lay)
	return dx, dlb, dub, nil
}

// validateBounds rejects any channel with ub <= lb.
func validateBounds[T tensor.Float](lb, ub []T) error {
	for c := range lb {
		if !(ub[c] > lb[c]) {
			return fmt.Errorf("%w: lb=%v ub=%v (channel %d)", ErrInvalidBounds, lb[c], ub[c], c)
		}
	}
	return nil
}

// allocGrads allocates gradient tensors for x and both bounds.
func allocGrads[T tensor.Float, B tensor.Backend](
	x *tensor.Tensor[T, B], lay layout,
) (dx, dlb, dub *tensor.Tensor[T, B], err error) {
	dxRaw, err := tensor.NewRaw(x.Shape(), x.DType())
	if err != nil {
		return nil, nil, nil, err
	}
	dlbRaw, err := tensor.NewRaw(lay.boundShape, x.DType())
	if err != nil {
		return nil, nil, nil, err
	}
	dubRaw, err := tensor.NewRaw(lay.boundShape, x.DType())
	if err != nil {
		return nil, nil, nil, err
	}

	b := x.Backend()
	return tensor.New[T](dxRaw, b), tensor.New[T](dlbRaw, b), tensor.New[T](dubRaw, b), nil
}
