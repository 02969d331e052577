package cpu

import (
	"fmt"

	"github.com/qgrid-ml/qgrid/internal/parallel"
	"github.com/qgrid-ml/qgrid/internal/tensor"
)

// Greater returns a bool tensor with a > b, broadcasting as needed.
func (b *CPUBackend) Greater(x, y *tensor.RawTensor) *tensor.RawTensor {
	return b.compareFloat(x, y, "Greater",
		func(a, b float32) bool { return a > b },
		func(a, b float64) bool { return a > b })
}

// Lower returns a bool tensor with a < b, broadcasting as needed.
func (b *CPUBackend) Lower(x, y *tensor.RawTensor) *tensor.RawTensor {
	return b.compareFloat(x, y, "Lower",
		func(a, b float32) bool { return a < b },
		func(a, b float64) bool { return a < b })
}

// GreaterEqual returns a bool tensor with a >= b, broadcasting as needed.
func (b *CPUBackend) GreaterEqual(x, y *tensor.RawTensor) *tensor.RawTensor {
	return b.compareFloat(x, y, "GreaterEqual",
		func(a, b float32) bool { return a >= b },
		func(a, b float64) bool { return a >= b })
}

// LowerEqual returns a bool tensor with a <= b, broadcasting as needed.
func (b *CPUBackend) LowerEqual(x, y *tensor.RawTensor) *tensor.RawTensor {
	return b.compareFloat(x, y, "LowerEqual",
		func(a, b float32) bool { return a <= b },
		func(a, b float64) bool { return a <= b })
}

func (b *CPUBackend) compareFloat(x, y *tensor.RawTensor, op string,
	f32 func(float32, float32) bool, f64 func(float64, float64) bool) *tensor.RawTensor {
	checkSameDType(x, y, op)
	switch x.DType() {
	case tensor.Float32:
		return applyCompare(b, x, y, f32)
	case tensor.Float64:
		return applyCompare(b, x, y, f64)
	default:
		panic(fmt.Sprintf("cpu: %s not supported for dtype %s", op, x.DType()))
	}
}

func applyCompare[T floats](b *CPUBackend, x, y *tensor.RawTensor, f func(T, T) bool) *tensor.RawTensor {
	outShape := mustBroadcastShape(x.Shape(), y.Shape())
	out := mustRaw(outShape, tensor.Bool)
	od := out.AsBool()

	xd := floatSlice[T](x)
	yd := floatSlice[T](y)

	if x.Shape().Equal(y.Shape()) {
		parallel.ForRange(len(od), func(start, end int) {
			for i := start; i < end; i++ {
				od[i] = f(xd[i], yd[i])
			}
		}, b.cfg)
		return out
	}

	xStrides := broadcastStrides(x.Shape(), outShape)
	yStrides := broadcastStrides(y.Shape(), outShape)
	outStrides := outShape.ComputeStrides()

	parallel.ForRange(len(od), func(start, end int) {
		for i := start; i < end; i++ {
			xi, yi := broadcastOffsets(i, outStrides, xStrides, yStrides)
			od[i] = f(xd[xi], yd[yi])
		}
	}, b.cfg)
	return out
}

// And computes the element-wise conjunction of two bool tensors.
func (b *CPUBackend) And(x, y *tensor.RawTensor) *tensor.RawTensor {
	if x.DType() != tensor.Bool || y.DType() != tensor.Bool {
		panic(fmt.Sprintf("cpu: And requires bool tensors, got %s and %s", x.DType(), y.DType()))
	}
	if !x.Shape().Equal(y.Shape()) {
		panic(fmt.Sprintf("cpu: And requires matching shapes, got %v and %v", x.Shape(), y.Shape()))
	}

	xd := x.AsBool()
	yd := y.AsBool()
	out := mustRaw(x.Shape(), tensor.Bool)
	od := out.AsBool()

	parallel.ForRange(len(od), func(start, end int) {
		for i := start; i < end; i++ {
			od[i] = xd[i] && yd[i]
		}
	}, b.cfg)
	return out
}

// Where selects x where cond is true and y elsewhere. All three tensors
// must share the same shape; x and y must share the same dtype.
func (b *CPUBackend) Where(cond, x, y *tensor.RawTensor) *tensor.RawTensor {
	if cond.DType() != tensor.Bool {
		panic(fmt.Sprintf("cpu: Where condition must be bool, got %s", cond.DType()))
	}
	checkSameDType(x, y, "Where")
	if !cond.Shape().Equal(x.Shape()) || !x.Shape().Equal(y.Shape()) {
		panic(fmt.Sprintf("cpu: Where requires matching shapes, got %v, %v, %v",
			cond.Shape(), x.Shape(), y.Shape()))
	}

	switch x.DType() {
	case tensor.Float32:
		return applyWhere[float32](b, cond, x, y)
	case tensor.Float64:
		return applyWhere[float64](b, cond, x, y)
	default:
		panic(fmt.Sprintf("cpu: Where not supported for dtype %s", x.DType()))
	}
}

func applyWhere[T floats](b *CPUBackend, cond, x, y *tensor.RawTensor) *tensor.RawTensor {
	cd := cond.AsBool()
	xd := floatSlice[T](x)
	yd := floatSlice[T](y)

	out := mustRaw(x.Shape(), x.DType())
	od := floatSlice[T](out)

	parallel.ForRange(len(od), func(start, end int) {
		for i := start; i < end; i++ {
			if cd[i] {
				od[i] = xd[i]
			} else {
				od[i] = yd[i]
			}
		}
	}, b.cfg)
	return out
}

// Cast converts a tensor to the target dtype. Bool converts to 0/1.
func (b *CPUBackend) Cast(x *tensor.RawTensor, dtype tensor.DataType) *tensor.RawTensor {
	if x.DType() == dtype {
		return x.Clone()
	}

	out := mustRaw(x.Shape(), dtype)
	n := x.NumElements()

	read := b.readFloat64(x)
	write := b.writeFloat64(out)

	parallel.ForRange(n, func(start, end int) {
		for i := start; i < end; i++ {
			write(i, read(i))
		}
	}, b.cfg)
	return out
}

func (b *CPUBackend) readFloat64(x *tensor.RawTensor) func(int) float64 {
	switch x.DType() {
	case tensor.Float32:
		d := x.AsFloat32()
		return func(i int) float64 { return float64(d[i]) }
	case tensor.Float64:
		d := x.AsFloat64()
		return func(i int) float64 { return d[i] }
	case tensor.Bool:
		d := x.AsBool()
		return func(i int) float64 {
			if d[i] {
				return 1
			}
			return 0
		}
	default:
		panic(fmt.Sprintf("cpu: Cast not supported for dtype %s", x.DType()))
	}
}

func (b *CPUBackend) writeFloat64(x *tensor.RawTensor) func(int, float64) {
	switch x.DType() {
	case tensor.Float32:
		d := x.AsFloat32()
		return func(i int, v float64) { d[i] = float32(v) }
	case tensor.Float64:
		d := x.AsFloat64()
		return func(i int, v float64) { d[i] = v }
	case tensor.Bool:
		d := x.AsBool()
		return func(i int, v float64) { d[i] = v != 0 }
	default:
		panic(fmt.Sprintf("cpu: Cast not supported for dtype %s", x.DType()))
	}
}
