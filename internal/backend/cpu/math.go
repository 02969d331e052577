package cpu

import (
	"math"

	"github.com/qgrid-ml/qgrid/internal/tensor"
)

// Round rounds every element to the nearest integer, halves away from zero.
func (b *CPUBackend) Round(x *tensor.RawTensor) *tensor.RawTensor {
	return b.unaryFloat(x, "Round",
		func(v float32) float32 { return float32(math.Round(float64(v))) },
		math.Round)
}

// Abs returns the element-wise absolute value.
func (b *CPUBackend) Abs(x *tensor.RawTensor) *tensor.RawTensor {
	return b.unaryFloat(x, "Abs",
		func(v float32) float32 { return float32(math.Abs(float64(v))) },
		math.Abs)
}

// Sign returns -1, 0 or 1 per element. Sign(0) is 0.
func (b *CPUBackend) Sign(x *tensor.RawTensor) *tensor.RawTensor {
	return b.unaryFloat(x, "Sign",
		func(v float32) float32 { return sign(v) },
		func(v float64) float64 { return sign(v) })
}

// Neg returns the element-wise negation.
func (b *CPUBackend) Neg(x *tensor.RawTensor) *tensor.RawTensor {
	return b.unaryFloat(x, "Neg",
		func(v float32) float32 { return -v },
		func(v float64) float64 { return -v })
}

func sign[T floats](v T) T {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}
