// Package cpu implements the tensor.Backend interface with pure Go kernels.
//
// Element-wise operations reuse the input buffer when it holds the only
// reference (inplace fast path) and use chunked goroutine parallelism for
// large tensors.
package cpu

import (
	"fmt"

	"github.com/qgrid-ml/qgrid/internal/parallel"
	"github.com/qgrid-ml/qgrid/internal/tensor"
)

// CPUBackend executes tensor operations on the host CPU.
type CPUBackend struct {
	cfg parallel.Config
}

// New creates a CPU backend with default parallelism settings.
func New() *CPUBackend {
	return NewWithConfig(parallel.DefaultConfig())
}

// NewWithConfig creates a CPU backend with explicit parallelism settings.
// Useful for tests that need deterministic sequential execution.
func NewWithConfig(cfg parallel.Config) *CPUBackend {
	return &CPUBackend{cfg: cfg}
}

// Name returns the backend identifier.
func (b *CPUBackend) Name() string {
	return "cpu"
}

// Reshape returns a view with a new shape sharing the same buffer.
func (b *CPUBackend) Reshape(t *tensor.RawTensor, newShape tensor.Shape) *tensor.RawTensor {
	out, err := t.Reshape(newShape)
	if err != nil {
		panic(fmt.Sprintf("cpu: %v", err))
	}
	return out
}

type floats interface {
	float32 | float64
}

func mustRaw(shape tensor.Shape, dtype tensor.DataType) *tensor.RawTensor {
	raw, err := tensor.NewRaw(shape, dtype)
	if err != nil {
		panic(fmt.Sprintf("cpu: allocation failed: %v", err))
	}
	return raw
}

func floatSlice[T floats](r *tensor.RawTensor) []T {
	var dummy T
	switch any(dummy).(type) {
	case float32:
		return any(r.AsFloat32()).([]T)
	case float64:
		return any(r.AsFloat64()).([]T)
	default:
		panic("unsupported float type")
	}
}

// broadcastStrides maps each dimension of outShape to the memory stride of
// the (possibly lower-rank) input shape. Broadcast dimensions get stride 0
// so the same input element is read across the whole dimension.
func broadcastStrides(in, out tensor.Shape) []int {
	inStrides := in.ComputeStrides()
	result := make([]int, len(out))
	offset := len(out) - len(in)
	for d := range out {
		if d < offset {
			continue // dimension absent from input, stride 0
		}
		if in[d-offset] != 1 {
			result[d] = inStrides[d-offset]
		}
	}
	return result
}

func mustBroadcastShape(a, b tensor.Shape) tensor.Shape {
	out, _, err := tensor.BroadcastShapes(a, b)
	if err != nil {
		panic(fmt.Sprintf("cpu: %v", err))
	}
	return out
}

func checkSameDType(a, b *tensor.RawTensor, op string) {
	if a.DType() != b.DType() {
		panic(fmt.Sprintf("cpu: %s requires matching dtypes, got %s and %s", op, a.DType(), b.DType()))
	}
}
