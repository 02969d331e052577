package tensor

import (
	"math"
	"math/rand"
)

// Zeros creates a tensor filled with zeros.
func Zeros[T DType, B Backend](shape Shape, b B) *Tensor[T, B] {
	var dummy T
	dtype := inferDataType(dummy)

	raw, err := NewRaw(shape, dtype)
	if err != nil {
		panic(err) // Shape validation should prevent this
	}

	// Data is already zero-initialized by make()
	return New[T, B](raw, b)
}

// Ones creates a tensor filled with ones (true for bool tensors).
func Ones[T DType, B Backend](shape Shape, b B) *Tensor[T, B] {
	t := Zeros[T, B](shape, b)
	data := t.Data()

	var dummy T
	var one any
	switch any(dummy).(type) {
	case float32:
		one = float32(1)
	case float64:
		one = float64(1)
	case bool:
		one = true
	}

	for i := range data {
		data[i] = one.(T)
	}
	return t
}

// Full creates a tensor filled with a specific value.
func Full[T DType, B Backend](shape Shape, value T, b B) *Tensor[T, B] {
	t := Zeros[T, B](shape, b)
	data := t.Data()
	for i := range data {
		data[i] = value
	}
	return t
}

// Randn creates a tensor with values drawn from a standard normal
// distribution, using the shared math/rand source.
func Randn[T Float, B Backend](shape Shape, b B) *Tensor[T, B] {
	return RandnSource[T, B](shape, b, nil)
}

// RandnSource creates a normally distributed tensor from an explicit random
// source, for reproducible test fixtures. A nil source falls back to the
// shared math/rand source.
//
// Uses the Box-Muller transform.
func RandnSource[T Float, B Backend](shape Shape, b B, rng *rand.Rand) *Tensor[T, B] {
	t := Zeros[T, B](shape, b)
	data := t.Data()

	uniform := rand.Float64
	if rng != nil {
		uniform = rng.Float64
	}

	for i := 0; i < len(data); i += 2 {
		u1 := uniform() //nolint:gosec // G404: statistical sampling, not crypto
		u2 := uniform() //nolint:gosec // G404: statistical sampling, not crypto
		r := math.Sqrt(-2.0 * math.Log(1-u1))
		data[i] = T(r * math.Cos(2.0*math.Pi*u2))
		if i+1 < len(data) {
			data[i+1] = T(r * math.Sin(2.0*math.Pi*u2))
		}
	}
	return t
}
