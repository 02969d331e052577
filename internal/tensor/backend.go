package tensor

// Backend defines the interface compute backends must implement. The surface
// is the set of primitives the quantization operators and their gradient
// rules are built from.
//
// Binary operations follow NumPy-style broadcasting. Comparison operations
// return Bool tensors; everything else preserves the input dtype.
type Backend interface {
	// Element-wise binary operations
	Add(a, b *RawTensor) *RawTensor
	Sub(a, b *RawTensor) *RawTensor
	Mul(a, b *RawTensor) *RawTensor
	Div(a, b *RawTensor) *RawTensor
	Maximum(a, b *RawTensor) *RawTensor
	Minimum(a, b *RawTensor) *RawTensor

	// Scalar operations (element-wise with a scalar)
	AddScalar(x *RawTensor, scalar float64) *RawTensor
	SubScalar(x *RawTensor, scalar float64) *RawTensor
	MulScalar(x *RawTensor, scalar float64) *RawTensor
	DivScalar(x *RawTensor, scalar float64) *RawTensor

	// Element-wise unary math
	Round(x *RawTensor) *RawTensor // round half away from zero
	Abs(x *RawTensor) *RawTensor
	Sign(x *RawTensor) *RawTensor // sign(0) = 0
	Neg(x *RawTensor) *RawTensor

	// Comparison operations (element-wise, return bool tensor)
	Greater(a, b *RawTensor) *RawTensor      // a > b
	Lower(a, b *RawTensor) *RawTensor        // a < b
	GreaterEqual(a, b *RawTensor) *RawTensor // a >= b
	LowerEqual(a, b *RawTensor) *RawTensor   // a <= b

	// Boolean operations (element-wise on bool tensors)
	And(a, b *RawTensor) *RawTensor

	// Selection and conversion
	Where(cond, x, y *RawTensor) *RawTensor
	Cast(x *RawTensor, dtype DataType) *RawTensor

	// Reductions
	Sum(x *RawTensor) *RawTensor                           // total sum (scalar result)
	SumDim(x *RawTensor, dim int, keepDim bool) *RawTensor // sum along dimension

	// Shape operations
	Reshape(t *RawTensor, newShape Shape) *RawTensor

	// Metadata
	Name() string
}
