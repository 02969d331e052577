package cpu

import (
	"fmt"

	"github.com/qgrid-ml/qgrid/internal/parallel"
	"github.com/qgrid-ml/qgrid/internal/tensor"
)

// AddScalar adds a scalar to every element.
func (b *CPUBackend) AddScalar(x *tensor.RawTensor, scalar float64) *tensor.RawTensor {
	return b.unaryFloat(x, "AddScalar",
		func(v float32) float32 { return v + float32(scalar) },
		func(v float64) float64 { return v + scalar })
}

// SubScalar subtracts a scalar from every element.
func (b *CPUBackend) SubScalar(x *tensor.RawTensor, scalar float64) *tensor.RawTensor {
	return b.unaryFloat(x, "SubScalar",
		func(v float32) float32 { return v - float32(scalar) },
		func(v float64) float64 { return v - scalar })
}

// MulScalar multiplies every element by a scalar.
func (b *CPUBackend) MulScalar(x *tensor.RawTensor, scalar float64) *tensor.RawTensor {
	return b.unaryFloat(x, "MulScalar",
		func(v float32) float32 { return v * float32(scalar) },
		func(v float64) float64 { return v * scalar })
}

// DivScalar divides every element by a scalar.
func (b *CPUBackend) DivScalar(x *tensor.RawTensor, scalar float64) *tensor.RawTensor {
	return b.unaryFloat(x, "DivScalar",
		func(v float32) float32 { return v / float32(scalar) },
		func(v float64) float64 { return v / scalar })
}

func (b *CPUBackend) unaryFloat(x *tensor.RawTensor, op string,
	f32 func(float32) float32, f64 func(float64) float64) *tensor.RawTensor {
	switch x.DType() {
	case tensor.Float32:
		return applyUnary(b, x, f32)
	case tensor.Float64:
		return applyUnary(b, x, f64)
	default:
		panic(fmt.Sprintf("cpu: %s not supported for dtype %s", op, x.DType()))
	}
}

// applyUnary runs f element-wise, writing back into x when it holds the
// only buffer reference.
func applyUnary[T floats](b *CPUBackend, x *tensor.RawTensor, f func(T) T) *tensor.RawTensor {
	xd := floatSlice[T](x)

	if x.IsUnique() {
		parallel.ForRange(len(xd), func(start, end int) {
			for i := start; i < end; i++ {
				xd[i] = f(xd[i])
			}
		}, b.cfg)
		return x
	}

	out := mustRaw(x.Shape(), x.DType())
	od := floatSlice[T](out)
	parallel.ForRange(len(xd), func(start, end int) {
		for i := start; i < end; i++ {
			od[i] = f(xd[i])
		}
	}, b.cfg)
	return out
}
