package quant

import "errors"

// Sentinel errors returned by the quantization operators. Callers match
// them with errors.Is; messages carry the offending values.
var (
	// ErrInvalidBounds reports ub <= lb for some channel. A non-positive
	// quantization step is undefined, so the forward pass refuses to run
	// rather than produce NaN/Inf.
	ErrInvalidBounds = errors.New("quant: upper bound must exceed lower bound")

	// ErrInvalidBitWidth reports a bit width below 1.
	ErrInvalidBitWidth = errors.New("quant: bit width must be at least 1")

	// ErrShapeMismatch reports a bounds tensor that is neither scalar nor a
	// vector matching the input's leading (channel) dimension.
	ErrShapeMismatch = errors.New("quant: bounds shape is not broadcastable against input")

	// ErrStaleCache reports a backward call whose forward cache was already
	// consumed by an earlier backward call.
	ErrStaleCache = errors.New("quant: forward cache already consumed")
)
