package quant_test

import (
	"errors"
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qgrid-ml/qgrid/internal/backend/cpu"
	"github.com/qgrid-ml/qgrid/internal/quant"
	"github.com/qgrid-ml/qgrid/internal/tensor"
)

const fixtureSeed = 19260817

type cpuBackend = *cpu.CPUBackend

func fromSlice(t *testing.T, b cpuBackend, data []float64, shape tensor.Shape) *tensor.Tensor[float64, cpuBackend] {
	t.Helper()
	x, err := tensor.FromSlice(data, shape, b)
	require.NoError(t, err)
	return x
}

func minMax(data []float64) (lo, hi float64) {
	lo, hi = data[0], data[0]
	for _, v := range data[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi
}

// shrunkBounds derives bounds from the observed value range, pulled in by
// 0.1 so some elements saturate on both sides.
func shrunkBounds(t *testing.T, b cpuBackend, x *tensor.Tensor[float64, cpuBackend], perChannel bool) (lb, ub *tensor.Tensor[float64, cpuBackend]) {
	t.Helper()
	data := x.Data()

	if !perChannel {
		lo, hi := minMax(data)
		return fromSlice(t, b, []float64{lo + 0.1}, tensor.Shape{1}),
			fromSlice(t, b, []float64{hi - 0.1}, tensor.Shape{1})
	}

	channels := x.Shape()[0]
	inner := len(data) / channels
	lbData := make([]float64, channels)
	ubData := make([]float64, channels)
	for c := 0; c < channels; c++ {
		lo, hi := minMax(data[c*inner : (c+1)*inner])
		lbData[c] = lo + 0.1
		ubData[c] = hi - 0.1
	}
	return fromSlice(t, b, lbData, tensor.Shape{channels}),
		fromSlice(t, b, ubData, tensor.Shape{channels})
}

func maxAbsDiff(t *testing.T, a, b *tensor.RawTensor) float64 {
	t.Helper()
	require.True(t, a.Shape().Equal(b.Shape()), "shape mismatch: %v vs %v", a.Shape(), b.Shape())
	ad, bd := a.AsFloat64(), b.AsFloat64()
	worst := 0.0
	for i := range ad {
		worst = math.Max(worst, math.Abs(ad[i]-bd[i]))
	}
	return worst
}

// checkFusedMatchesReference runs both implementations on a seeded random
// input and requires output and all three gradients to agree within tol.
func checkFusedMatchesReference(t *testing.T, shape tensor.Shape, k int, alignZero, perChannel bool, tol float64) {
	t.Helper()
	b := cpu.New()
	rng := rand.New(rand.NewSource(fixtureSeed)) //nolint:gosec // G404: reproducible fixtures

	x := tensor.RandnSource[float64](shape, b, rng)
	dy := tensor.RandnSource[float64](shape, b, rng)
	lb, ub := shrunkBounds(t, b, x, perChannel)

	y, cache, err := quant.FakeQuantize(x, lb, ub, k, alignZero)
	require.NoError(t, err)
	dx, dlb, dub, err := cache.Backward(dy)
	require.NoError(t, err)

	refY, refDx, refDlb, refDub, err := quant.ReferenceFakeQuantize(
		b, x.Raw(), lb.Raw(), ub.Raw(), dy.Raw(), k, alignZero)
	require.NoError(t, err)

	assert.LessOrEqual(t, maxAbsDiff(t, y.Raw(), refY), tol, "forward output diverged")
	assert.LessOrEqual(t, maxAbsDiff(t, dx.Raw(), refDx), tol, "dx diverged")
	assert.LessOrEqual(t, maxAbsDiff(t, dlb.Raw(), refDlb), tol, "d_lb diverged")
	assert.LessOrEqual(t, maxAbsDiff(t, dub.Raw(), refDub), tol, "d_ub diverged")
}

func TestFusedMatchesReferenceAlignedPerTensor(t *testing.T) {
	checkFusedMatchesReference(t, tensor.Shape{1, 3, 224, 224}, 8, true, false, 1e-6)
}

func TestFusedMatchesReferenceFreePerTensor(t *testing.T) {
	checkFusedMatchesReference(t, tensor.Shape{1, 3, 224, 224}, 8, false, false, 1e-6)
}

func TestFusedMatchesReferenceFreePerChannelConv(t *testing.T) {
	checkFusedMatchesReference(t, tensor.Shape{32, 16, 5, 5}, 8, false, true, 1e-6)
}

func TestFusedMatchesReferenceFreePerChannelLinear(t *testing.T) {
	checkFusedMatchesReference(t, tensor.Shape{32, 16}, 8, false, true, 1e-6)
}

func TestFusedMatchesReferenceAlignedPerChannel(t *testing.T) {
	checkFusedMatchesReference(t, tensor.Shape{32, 16, 5, 5}, 8, true, true, 1e-6)
}

func TestFusedMatchesReferenceBinary(t *testing.T) {
	checkFusedMatchesReference(t, tensor.Shape{4, 64}, 1, true, false, 1e-6)
	checkFusedMatchesReference(t, tensor.Shape{4, 64}, 1, false, false, 1e-6)
}

func TestFusedMatchesReferenceOffsetRanges(t *testing.T) {
	b := cpu.New()
	rng := rand.New(rand.NewSource(fixtureSeed)) //nolint:gosec // G404: reproducible fixtures

	shape := tensor.Shape{8, 16}
	x := tensor.RandnSource[float64](shape, b, rng)
	dy := tensor.RandnSource[float64](shape, b, rng)

	// Bounds per channel straddling zero differently from channel to
	// channel: some all-negative, some crossing zero.
	mixedLb := make([]float64, 8)
	mixedUb := make([]float64, 8)
	for c := range mixedLb {
		mixedLb[c] = -2 + 0.2*float64(c)
		mixedUb[c] = mixedLb[c] + 1.5
	}

	cases := []struct {
		name      string
		alignZero bool
		lb, ub    []float64
		bshape    tensor.Shape
	}{
		{"aligned negative-only", true, []float64{-2}, []float64{-0.5}, tensor.Shape{1}},
		{"aligned positive-only", true, []float64{0.5}, []float64{2.5}, tensor.Shape{1}},
		{"free negative-only", false, []float64{-2}, []float64{-0.5}, tensor.Shape{1}},
		{"free positive-only", false, []float64{0.5}, []float64{2.5}, tensor.Shape{1}},
		{"aligned per-channel mixed", true, mixedLb, mixedUb, tensor.Shape{8}},
		{"free per-channel mixed", false, mixedLb, mixedUb, tensor.Shape{8}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			lb := fromSlice(t, b, tc.lb, tc.bshape)
			ub := fromSlice(t, b, tc.ub, tc.bshape)

			y, cache, err := quant.FakeQuantize(x, lb, ub, 4, tc.alignZero)
			require.NoError(t, err)
			dx, dlb, dub, err := cache.Backward(dy)
			require.NoError(t, err)

			refY, refDx, refDlb, refDub, err := quant.ReferenceFakeQuantize(
				b, x.Raw(), lb.Raw(), ub.Raw(), dy.Raw(), 4, tc.alignZero)
			require.NoError(t, err)

			assert.LessOrEqual(t, maxAbsDiff(t, y.Raw(), refY), 1e-6, "forward output diverged")
			assert.LessOrEqual(t, maxAbsDiff(t, dx.Raw(), refDx), 1e-6, "dx diverged")
			assert.LessOrEqual(t, maxAbsDiff(t, dlb.Raw(), refDlb), 1e-6, "d_lb diverged")
			assert.LessOrEqual(t, maxAbsDiff(t, dub.Raw(), refDub), 1e-6, "d_ub diverged")
		})
	}
}

func TestGridMembership(t *testing.T) {
	for _, alignZero := range []bool{true, false} {
		b := cpu.New()
		rng := rand.New(rand.NewSource(fixtureSeed)) //nolint:gosec // G404: reproducible fixtures

		x := tensor.RandnSource[float64](tensor.Shape{16, 16}, b, rng)
		lb, ub := shrunkBounds(t, b, x, false)
		k := 3
		n := math.Pow(2, float64(k)) - 1

		y, _, err := quant.FakeQuantize(x, lb, ub, k, alignZero)
		require.NoError(t, err)

		delta := (ub.At(0) - lb.At(0)) / n
		lo := lb.At(0)
		if alignZero {
			z := math.Round(math.Abs(lb.At(0)) / delta)
			lo = -z * delta
		}

		for _, v := range y.Data() {
			idx := math.Round((v - lo) / delta)
			assert.GreaterOrEqual(t, idx, 0.0)
			assert.LessOrEqual(t, idx, n)
			assert.InDelta(t, lo+idx*delta, v, 1e-9, "output off the grid (alignZero=%v)", alignZero)
		}
	}
}

func TestBinaryOutputsTwoLevels(t *testing.T) {
	b := cpu.New()
	rng := rand.New(rand.NewSource(fixtureSeed)) //nolint:gosec // G404: reproducible fixtures

	x := tensor.RandnSource[float64](tensor.Shape{256}, b, rng)
	lb, ub := shrunkBounds(t, b, x, false)

	y, _, err := quant.FakeQuantize(x, lb, ub, 1, false)
	require.NoError(t, err)

	levels := map[float64]bool{}
	for _, v := range y.Data() {
		levels[v] = true
	}
	assert.LessOrEqual(t, len(levels), 2, "k=1 must produce at most two grid points")
}

func TestIdempotence(t *testing.T) {
	for _, alignZero := range []bool{true, false} {
		b := cpu.New()
		rng := rand.New(rand.NewSource(fixtureSeed)) //nolint:gosec // G404: reproducible fixtures

		x := tensor.RandnSource[float64](tensor.Shape{8, 32}, b, rng)
		lb, ub := shrunkBounds(t, b, x, false)

		y1, _, err := quant.FakeQuantize(x, lb, ub, 4, alignZero)
		require.NoError(t, err)
		y2, _, err := quant.FakeQuantize(y1, lb, ub, 4, alignZero)
		require.NoError(t, err)

		d1, d2 := y1.Data(), y2.Data()
		for i := range d1 {
			assert.InDelta(t, d1[i], d2[i], 1e-12, "re-quantizing must be a no-op (alignZero=%v)", alignZero)
		}
	}
}

func TestSaturationGradientFree(t *testing.T) {
	b := cpu.New()

	// One element far above ub, one far below lb, one exactly on the grid.
	x := fromSlice(t, b, []float64{10, -10, 0}, tensor.Shape{3})
	lb := fromSlice(t, b, []float64{-1}, tensor.Shape{1})
	ub := fromSlice(t, b, []float64{1}, tensor.Shape{1})
	dy := fromSlice(t, b, []float64{2.5, 4, 8}, tensor.Shape{3})

	// k=2: N=3, delta=2/3; x=0 maps to t=1.5 which rounds away from zero
	// to 2, so its rounding error contributes to the bound gradients.
	y, cache, err := quant.FakeQuantize(x, lb, ub, 2, false)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, y.At(0), 1e-12)
	assert.InDelta(t, -1.0, y.At(1), 1e-12)

	dx, dlb, dub, err := cache.Backward(dy)
	require.NoError(t, err)

	assert.Equal(t, 0.0, dx.At(0), "saturated above: no gradient to x")
	assert.Equal(t, 0.0, dx.At(1), "saturated below: no gradient to x")
	assert.Equal(t, 8.0, dx.At(2), "in-range: straight-through gradient")

	// qi_diff for x=0: round(1.5) - 1.5 = 0.5, so the in-range element
	// adds dy*0.5/3 to d_ub and subtracts it from d_lb.
	corr := 8.0 * 0.5 / 3.0
	assert.InDelta(t, 2.5+corr, dub.At(0), 1e-12)
	assert.InDelta(t, 4.0-corr, dlb.At(0), 1e-12)
}

func TestPerChannelGradsMatchScalarPerChannel(t *testing.T) {
	b := cpu.New()
	rng := rand.New(rand.NewSource(fixtureSeed)) //nolint:gosec // G404: reproducible fixtures

	shape := tensor.Shape{4, 32}
	x := tensor.RandnSource[float64](shape, b, rng)
	dy := tensor.RandnSource[float64](shape, b, rng)
	lb, ub := shrunkBounds(t, b, x, true)

	_, cache, err := quant.FakeQuantize(x, lb, ub, 6, false)
	require.NoError(t, err)
	dx, dlb, dub, err := cache.Backward(dy)
	require.NoError(t, err)

	// Quantizing each channel on its own with scalar bounds must produce
	// the same per-channel gradients.
	inner := 32
	for c := 0; c < 4; c++ {
		xc := fromSlice(t, b, x.Data()[c*inner:(c+1)*inner], tensor.Shape{inner})
		dyc := fromSlice(t, b, dy.Data()[c*inner:(c+1)*inner], tensor.Shape{inner})
		lbc := fromSlice(t, b, []float64{lb.At(c)}, tensor.Shape{1})
		ubc := fromSlice(t, b, []float64{ub.At(c)}, tensor.Shape{1})

		_, cacheC, err := quant.FakeQuantize(xc, lbc, ubc, 6, false)
		require.NoError(t, err)
		dxc, dlbc, dubc, err := cacheC.Backward(dyc)
		require.NoError(t, err)

		assert.InDelta(t, dlbc.At(0), dlb.At(c), 1e-9, "channel %d d_lb", c)
		assert.InDelta(t, dubc.At(0), dub.At(c), 1e-9, "channel %d d_ub", c)
		for i := 0; i < inner; i++ {
			assert.Equal(t, dxc.At(i), dx.At(c, i), "channel %d dx[%d]", c, i)
		}
	}
}

func TestValidation(t *testing.T) {
	b := cpu.New()
	x := fromSlice(t, b, []float64{1, 2, 3, 4}, tensor.Shape{2, 2})
	lb := fromSlice(t, b, []float64{-1}, tensor.Shape{1})
	ub := fromSlice(t, b, []float64{1}, tensor.Shape{1})

	t.Run("bit width", func(t *testing.T) {
		_, _, err := quant.FakeQuantize(x, lb, ub, 0, false)
		assert.ErrorIs(t, err, quant.ErrInvalidBitWidth)
	})

	t.Run("inverted bounds", func(t *testing.T) {
		badLb := fromSlice(t, b, []float64{2}, tensor.Shape{1})
		_, _, err := quant.FakeQuantize(x, badLb, ub, 8, false)
		assert.ErrorIs(t, err, quant.ErrInvalidBounds)
	})

	t.Run("equal bounds", func(t *testing.T) {
		same := fromSlice(t, b, []float64{1}, tensor.Shape{1})
		_, _, err := quant.FakeQuantize(x, same, ub, 8, true)
		assert.ErrorIs(t, err, quant.ErrInvalidBounds)
	})

	t.Run("bounds length", func(t *testing.T) {
		badLb := fromSlice(t, b, []float64{-1, -1, -1}, tensor.Shape{3})
		badUb := fromSlice(t, b, []float64{1, 1, 1}, tensor.Shape{3})
		_, _, err := quant.FakeQuantize(x, badLb, badUb, 8, false)
		assert.ErrorIs(t, err, quant.ErrShapeMismatch)
	})

	t.Run("lb ub disagree", func(t *testing.T) {
		badUb := fromSlice(t, b, []float64{1, 1}, tensor.Shape{2})
		_, _, err := quant.FakeQuantize(x, lb, badUb, 8, false)
		assert.ErrorIs(t, err, quant.ErrShapeMismatch)
	})

	t.Run("dy shape", func(t *testing.T) {
		_, cache, err := quant.FakeQuantize(x, lb, ub, 8, false)
		require.NoError(t, err)
		badDy := fromSlice(t, b, []float64{1, 1}, tensor.Shape{2})
		_, _, _, err = cache.Backward(badDy)
		assert.ErrorIs(t, err, quant.ErrShapeMismatch)
	})
}

func TestCacheConsumedExactlyOnce(t *testing.T) {
	b := cpu.New()
	x := fromSlice(t, b, []float64{0.1, 0.5, -0.3, 0.9}, tensor.Shape{4})
	lb := fromSlice(t, b, []float64{-1}, tensor.Shape{1})
	ub := fromSlice(t, b, []float64{1}, tensor.Shape{1})
	dy := fromSlice(t, b, []float64{1, 1, 1, 1}, tensor.Shape{4})

	_, cache, err := quant.FakeQuantize(x, lb, ub, 4, true)
	require.NoError(t, err)

	_, _, _, err = cache.Backward(dy)
	require.NoError(t, err)

	_, _, _, err = cache.Backward(dy)
	assert.ErrorIs(t, err, quant.ErrStaleCache)
}

func TestCacheConcurrentBackward(t *testing.T) {
	b := cpu.New()
	x := fromSlice(t, b, []float64{0.1, 0.5, -0.3, 0.9}, tensor.Shape{4})
	lb := fromSlice(t, b, []float64{-1}, tensor.Shape{1})
	ub := fromSlice(t, b, []float64{1}, tensor.Shape{1})
	dy := fromSlice(t, b, []float64{1, 1, 1, 1}, tensor.Shape{4})

	_, cache, err := quant.FakeQuantize(x, lb, ub, 4, false)
	require.NoError(t, err)

	const racers = 8
	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, _, errs[i] = cache.Backward(dy)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.True(t, errors.Is(err, quant.ErrStaleCache))
		}
	}
	assert.Equal(t, 1, succeeded, "exactly one backward may consume the cache")
}

func TestCacheMetadata(t *testing.T) {
	b := cpu.New()
	x := fromSlice(t, b, []float64{0.1, 0.5, -0.3, 0.9}, tensor.Shape{2, 2})
	lb := fromSlice(t, b, []float64{-1, -1}, tensor.Shape{2})
	ub := fromSlice(t, b, []float64{1, 1}, tensor.Shape{2})

	_, cache, err := quant.FakeQuantize(x, lb, ub, 4, true)
	require.NoError(t, err)

	assert.Equal(t, quant.ZeroAligned, cache.Variant())
	assert.Equal(t, quant.PerChannel, cache.Granularity())
	assert.Equal(t, 4, cache.BitWidth())
}

func TestFakeQuantizeDoesNotMutateInput(t *testing.T) {
	b := cpu.New()
	orig := []float64{10, -10, 0.25, 0.5}
	x := fromSlice(t, b, append([]float64(nil), orig...), tensor.Shape{4})
	lb := fromSlice(t, b, []float64{-1}, tensor.Shape{1})
	ub := fromSlice(t, b, []float64{1}, tensor.Shape{1})

	_, cache, err := quant.FakeQuantize(x, lb, ub, 4, true)
	require.NoError(t, err)

	dy := fromSlice(t, b, []float64{1, 1, 1, 1}, tensor.Shape{4})
	_, _, _, err = cache.Backward(dy)
	require.NoError(t, err)

	assert.Equal(t, orig, x.Data(), "operators must never mutate inputs")
}
