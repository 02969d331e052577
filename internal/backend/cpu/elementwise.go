package cpu

import (
	"fmt"

	"github.com/qgrid-ml/qgrid/internal/parallel"
	"github.com/qgrid-ml/qgrid/internal/tensor"
)

// Add performs element-wise addition with broadcasting.
func (b *CPUBackend) Add(x, y *tensor.RawTensor) *tensor.RawTensor {
	return b.binaryFloat(x, y, "Add",
		func(a, b float32) float32 { return a + b },
		func(a, b float64) float64 { return a + b })
}

// Sub performs element-wise subtraction with broadcasting.
func (b *CPUBackend) Sub(x, y *tensor.RawTensor) *tensor.RawTensor {
	return b.binaryFloat(x, y, "Sub",
		func(a, b float32) float32 { return a - b },
		func(a, b float64) float64 { return a - b })
}

// Mul performs element-wise multiplication with broadcasting.
func (b *CPUBackend) Mul(x, y *tensor.RawTensor) *tensor.RawTensor {
	return b.binaryFloat(x, y, "Mul",
		func(a, b float32) float32 { return a * b },
		func(a, b float64) float64 { return a * b })
}

// Div performs element-wise division with broadcasting.
func (b *CPUBackend) Div(x, y *tensor.RawTensor) *tensor.RawTensor {
	return b.binaryFloat(x, y, "Div",
		func(a, b float32) float32 { return a / b },
		func(a, b float64) float64 { return a / b })
}

// Maximum returns the element-wise maximum with broadcasting.
func (b *CPUBackend) Maximum(x, y *tensor.RawTensor) *tensor.RawTensor {
	return b.binaryFloat(x, y, "Maximum",
		func(a, b float32) float32 { return max(a, b) },
		func(a, b float64) float64 { return max(a, b) })
}

// Minimum returns the element-wise minimum with broadcasting.
func (b *CPUBackend) Minimum(x, y *tensor.RawTensor) *tensor.RawTensor {
	return b.binaryFloat(x, y, "Minimum",
		func(a, b float32) float32 { return min(a, b) },
		func(a, b float64) float64 { return min(a, b) })
}

func (b *CPUBackend) binaryFloat(x, y *tensor.RawTensor, op string,
	f32 func(float32, float32) float32, f64 func(float64, float64) float64) *tensor.RawTensor {
	checkSameDType(x, y, op)
	switch x.DType() {
	case tensor.Float32:
		return applyBinary(b, x, y, f32)
	case tensor.Float64:
		return applyBinary(b, x, y, f64)
	default:
		panic(fmt.Sprintf("cpu: %s not supported for dtype %s", op, x.DType()))
	}
}

// applyBinary runs f element-wise. When shapes match and x holds the only
// buffer reference the result is written back into x.
func applyBinary[T floats](b *CPUBackend, x, y *tensor.RawTensor, f func(T, T) T) *tensor.RawTensor {
	if x.Shape().Equal(y.Shape()) {
		xd := floatSlice[T](x)
		yd := floatSlice[T](y)

		if x.IsUnique() {
			parallel.ForRange(len(xd), func(start, end int) {
				for i := start; i < end; i++ {
					xd[i] = f(xd[i], yd[i])
				}
			}, b.cfg)
			return x
		}

		out := mustRaw(x.Shape(), x.DType())
		od := floatSlice[T](out)
		parallel.ForRange(len(xd), func(start, end int) {
			for i := start; i < end; i++ {
				od[i] = f(xd[i], yd[i])
			}
		}, b.cfg)
		return out
	}
	return applyBinaryBroadcast(b, x, y, f)
}

func applyBinaryBroadcast[T floats](b *CPUBackend, x, y *tensor.RawTensor, f func(T, T) T) *tensor.RawTensor {
	outShape := mustBroadcastShape(x.Shape(), y.Shape())
	out := mustRaw(outShape, x.DType())

	xStrides := broadcastStrides(x.Shape(), outShape)
	yStrides := broadcastStrides(y.Shape(), outShape)
	outStrides := outShape.ComputeStrides()

	xd := floatSlice[T](x)
	yd := floatSlice[T](y)
	od := floatSlice[T](out)

	parallel.ForRange(len(od), func(start, end int) {
		for i := start; i < end; i++ {
			xi, yi := broadcastOffsets(i, outStrides, xStrides, yStrides)
			od[i] = f(xd[xi], yd[yi])
		}
	}, b.cfg)
	return out
}

// broadcastOffsets translates a flat output index into flat indices of the
// two broadcast inputs.
func broadcastOffsets(flat int, outStrides, xStrides, yStrides []int) (int, int) {
	xi, yi := 0, 0
	rem := flat
	for d := range outStrides {
		idx := rem / outStrides[d]
		rem %= outStrides[d]
		xi += idx * xStrides[d]
		yi += idx * yStrides[d]
	}
	return xi, yi
}
