package cpu

import (
	"fmt"
	"sync"

	"github.com/qgrid-ml/qgrid/internal/parallel"
	"github.com/qgrid-ml/qgrid/internal/tensor"
)

// Sum reduces the whole tensor to a scalar. Accumulation runs in float64
// regardless of the input dtype.
func (b *CPUBackend) Sum(x *tensor.RawTensor) *tensor.RawTensor {
	switch x.DType() {
	case tensor.Float32:
		return sumAll[float32](b, x)
	case tensor.Float64:
		return sumAll[float64](b, x)
	default:
		panic(fmt.Sprintf("cpu: Sum not supported for dtype %s", x.DType()))
	}
}

func sumAll[T floats](b *CPUBackend, x *tensor.RawTensor) *tensor.RawTensor {
	xd := floatSlice[T](x)

	var mu sync.Mutex
	total := 0.0
	parallel.ForRange(len(xd), func(start, end int) {
		local := 0.0
		for i := start; i < end; i++ {
			local += float64(xd[i])
		}
		mu.Lock()
		total += local
		mu.Unlock()
	}, b.cfg)

	out := mustRaw(tensor.Shape{}, x.DType())
	floatSlice[T](out)[0] = T(total)
	return out
}

// SumDim sums along a single dimension. Accumulation runs in float64.
func (b *CPUBackend) SumDim(x *tensor.RawTensor, dim int, keepDim bool) *tensor.RawTensor {
	shape := x.Shape()
	if dim < 0 || dim >= len(shape) {
		panic(fmt.Sprintf("cpu: SumDim dimension %d out of range for shape %v", dim, shape))
	}

	outShape := make(tensor.Shape, 0, len(shape))
	for d, size := range shape {
		switch {
		case d != dim:
			outShape = append(outShape, size)
		case keepDim:
			outShape = append(outShape, 1)
		}
	}

	switch x.DType() {
	case tensor.Float32:
		return sumDim[float32](b, x, dim, outShape)
	case tensor.Float64:
		return sumDim[float64](b, x, dim, outShape)
	default:
		panic(fmt.Sprintf("cpu: SumDim not supported for dtype %s", x.DType()))
	}
}

func sumDim[T floats](b *CPUBackend, x *tensor.RawTensor, dim int, outShape tensor.Shape) *tensor.RawTensor {
	shape := x.Shape()

	outer := 1
	for d := 0; d < dim; d++ {
		outer *= shape[d]
	}
	mid := shape[dim]
	inner := 1
	for d := dim + 1; d < len(shape); d++ {
		inner *= shape[d]
	}

	xd := floatSlice[T](x)
	out := mustRaw(outShape, x.DType())
	od := floatSlice[T](out)

	parallel.ForRange(outer*inner, func(start, end int) {
		for i := start; i < end; i++ {
			o := i / inner
			in := i % inner
			base := o*mid*inner + in

			acc := 0.0
			for m := 0; m < mid; m++ {
				acc += float64(xd[base+m*inner])
			}
			od[i] = T(acc)
		}
	}, b.cfg)
	return out
}
