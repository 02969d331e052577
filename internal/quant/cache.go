package quant

import (
	"fmt"
	"sync/atomic"

	"github.com/qgrid-ml/qgrid/internal/tensor"
)

// Cache carries the forward-pass intermediates one backward pass needs:
// the input tensor handle, the resolved layout and the per-channel grid
// constants. It is an explicit value rather than hidden operator state, so
// concurrent forward/backward pairs stay independent.
//
// A cache is consumed by exactly one Backward call. The consumed flag is
// atomic, so two racing Backward calls resolve to one winner and one
// ErrStaleCache.
type Cache[T tensor.Float, B tensor.Backend] struct {
	consumed atomic.Bool

	x       *tensor.Tensor[T, B] // forward input (shared buffer, copy-on-write)
	lay     layout
	variant Variant
	k       int
	params  gridParams[T]
}

func newCache[T tensor.Float, B tensor.Backend](
	x *tensor.Tensor[T, B], lay layout, variant Variant, k int, params gridParams[T],
) *Cache[T, B] {
	return &Cache[T, B]{
		// Clone keeps a reference on the buffer so later inplace
		// operations elsewhere cannot corrupt the cached input.
		x:       x.Clone(),
		lay:     lay,
		variant: variant,
		k:       k,
		params:  params,
	}
}

// Variant returns the operator variant the cache was built for.
func (c *Cache[T, B]) Variant() Variant {
	return c.variant
}

// Granularity returns the resolved bound granularity.
func (c *Cache[T, B]) Granularity() Granularity {
	return c.lay.granularity
}

// BitWidth returns the bit width k.
func (c *Cache[T, B]) BitWidth() int {
	return c.k
}

// Backward consumes the cache and computes the gradients of FakeQuantize:
// dx matches the input shape, dlb/dub match the bounds shape with per
// element contributions summed over every non-channel dimension.
//
// Returns ErrStaleCache if the cache was already consumed and
// ErrShapeMismatch if dy does not match the forward input.
func (c *Cache[T, B]) Backward(dy *tensor.Tensor[T, B]) (dx, dlb, dub *tensor.Tensor[T, B], err error) {
	if !dy.Shape().Equal(c.x.Shape()) {
		return nil, nil, nil, fmt.Errorf("%w: dy %v vs input %v", ErrShapeMismatch, dy.Shape(), c.x.Shape())
	}
	if !c.consumed.CompareAndSwap(false, true) {
		return nil, nil, nil, ErrStaleCache
	}

	dx, dlb, dub, err = allocGrads(c.x, c.lay)
	if err != nil {
		return nil, nil, nil, err
	}

	backwardKernel(dy.Data(), c.x.Data(), dx.Data(), dlb.Data(), dub.Data(), c.params, c.lay)
	return dx, dlb, dub, nil
}
