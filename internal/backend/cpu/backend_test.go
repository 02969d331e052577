package cpu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qgrid-ml/qgrid/internal/parallel"
	"github.com/qgrid-ml/qgrid/internal/tensor"
)

func fromSlice(t *testing.T, data []float64, shape tensor.Shape) *tensor.RawTensor {
	t.Helper()
	raw, err := tensor.NewRaw(shape, tensor.Float64)
	require.NoError(t, err)
	copy(raw.AsFloat64(), data)
	return raw
}

func TestAddSameShape(t *testing.T) {
	b := New()
	x := fromSlice(t, []float64{1, 2, 3}, tensor.Shape{3})
	y := fromSlice(t, []float64{10, 20, 30}, tensor.Shape{3})

	out := b.Add(x, y)
	assert.Equal(t, []float64{11, 22, 33}, out.AsFloat64())
}

func TestAddInplaceWhenUnique(t *testing.T) {
	b := New()
	x := fromSlice(t, []float64{1, 2}, tensor.Shape{2})
	y := fromSlice(t, []float64{1, 1}, tensor.Shape{2})

	out := b.Add(x, y)
	assert.Same(t, x, out, "unique buffer should be reused")

	release := x.ForceNonUnique()
	defer release()
	out2 := b.Add(x, y)
	assert.NotSame(t, x, out2, "pinned buffer must not be reused")
}

func TestBinaryBroadcast(t *testing.T) {
	b := New()

	// (2,1) * (2,3): row values broadcast across columns
	x := fromSlice(t, []float64{2, 3}, tensor.Shape{2, 1})
	y := fromSlice(t, []float64{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3})

	out := b.Mul(x, y)
	assert.True(t, out.Shape().Equal(tensor.Shape{2, 3}))
	assert.Equal(t, []float64{2, 4, 6, 12, 15, 18}, out.AsFloat64())
}

func TestBroadcastChannelBounds(t *testing.T) {
	b := New()

	// Per-channel bounds (2,1,1) against (2,2,2) input.
	x := fromSlice(t, []float64{1, 2, 3, 4, 5, 6, 7, 8}, tensor.Shape{2, 2, 2})
	lo := fromSlice(t, []float64{2, 6}, tensor.Shape{2, 1, 1})

	out := b.Maximum(x, lo)
	assert.Equal(t, []float64{2, 2, 3, 4, 6, 6, 7, 8}, out.AsFloat64())
}

func TestScalarOps(t *testing.T) {
	b := New()
	x := fromSlice(t, []float64{1, 2, 3}, tensor.Shape{3})
	x.ForceNonUnique() // keep x intact across ops

	assert.Equal(t, []float64{3, 4, 5}, b.AddScalar(x, 2).AsFloat64())
	assert.Equal(t, []float64{-1, 0, 1}, b.SubScalar(x, 2).AsFloat64())
	assert.Equal(t, []float64{2, 4, 6}, b.MulScalar(x, 2).AsFloat64())
	assert.Equal(t, []float64{0.5, 1, 1.5}, b.DivScalar(x, 2).AsFloat64())
}

func TestRoundHalfAwayFromZero(t *testing.T) {
	b := New()
	x := fromSlice(t, []float64{0.5, 1.5, -0.5, -1.5, 2.4}, tensor.Shape{5})

	out := b.Round(x)
	assert.Equal(t, []float64{1, 2, -1, -2, 2}, out.AsFloat64())
}

func TestSignZeroConvention(t *testing.T) {
	b := New()
	x := fromSlice(t, []float64{-3, 0, 7}, tensor.Shape{3})

	out := b.Sign(x)
	assert.Equal(t, []float64{-1, 0, 1}, out.AsFloat64())
}

func TestComparisonsAndMask(t *testing.T) {
	b := New()
	x := fromSlice(t, []float64{1, 5, 3}, tensor.Shape{3})
	y := fromSlice(t, []float64{2, 2, 3}, tensor.Shape{3})

	gt := b.Greater(x, y)
	assert.Equal(t, tensor.Bool, gt.DType())
	assert.Equal(t, []bool{false, true, false}, gt.AsBool())

	ge := b.GreaterEqual(x, y)
	le := b.LowerEqual(x, y)
	assert.Equal(t, []bool{false, true, true}, ge.AsBool())
	assert.Equal(t, []bool{true, false, true}, le.AsBool())

	both := b.And(ge, le)
	assert.Equal(t, []bool{false, false, true}, both.AsBool())

	mask := b.Cast(both, tensor.Float64)
	assert.Equal(t, []float64{0, 0, 1}, mask.AsFloat64())
}

func TestWhere(t *testing.T) {
	b := New()
	x := fromSlice(t, []float64{1, 2, 3}, tensor.Shape{3})
	y := fromSlice(t, []float64{-1, -2, -3}, tensor.Shape{3})
	cond := b.Greater(x, fromSlice(t, []float64{0, 5, 0}, tensor.Shape{3}))

	out := b.Where(cond, x, y)
	assert.Equal(t, []float64{1, -2, 3}, out.AsFloat64())
}

func TestSum(t *testing.T) {
	b := New()
	x := fromSlice(t, []float64{1, 2, 3, 4}, tensor.Shape{2, 2})

	out := b.Sum(x)
	assert.True(t, out.Shape().Equal(tensor.Shape{}))
	assert.Equal(t, 10.0, out.AsFloat64()[0])
}

func TestSumDim(t *testing.T) {
	b := New()
	// (2,3): rows [1,2,3], [4,5,6]
	x := fromSlice(t, []float64{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3})

	rows := b.SumDim(x, 1, false)
	assert.True(t, rows.Shape().Equal(tensor.Shape{2}))
	assert.Equal(t, []float64{6, 15}, rows.AsFloat64())

	cols := b.SumDim(x, 0, true)
	assert.True(t, cols.Shape().Equal(tensor.Shape{1, 3}))
	assert.Equal(t, []float64{5, 7, 9}, cols.AsFloat64())
}

func TestReshape(t *testing.T) {
	b := New()
	x := fromSlice(t, []float64{1, 2, 3, 4}, tensor.Shape{4})

	out := b.Reshape(x, tensor.Shape{2, 2})
	assert.True(t, out.Shape().Equal(tensor.Shape{2, 2}))
	assert.Equal(t, []float64{1, 2, 3, 4}, out.AsFloat64())
}

func TestParallelMatchesSequential(t *testing.T) {
	seq := NewWithConfig(parallel.Config{})
	par := NewWithConfig(parallel.Config{Enabled: true, NumWorkers: 4, MinChunkSize: 1})

	n := 10_000
	data := make([]float64, n)
	for i := range data {
		data[i] = float64(i%17) - 8
	}

	x1 := fromSlice(t, data, tensor.Shape{n})
	x2 := fromSlice(t, data, tensor.Shape{n})

	a := seq.MulScalar(x1, 3)
	c := par.MulScalar(x2, 3)
	assert.Equal(t, a.AsFloat64(), c.AsFloat64())

	assert.Equal(t, seq.Sum(a).AsFloat64()[0], par.Sum(c).AsFloat64()[0])
}
