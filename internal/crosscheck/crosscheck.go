// Package crosscheck runs the dual-path consistency suite: every case is
// evaluated by both the fused quantization kernels and the reference
// composition of differentiable primitives, and the outputs and gradients
// must agree to tolerance. The suite doubles as the `qgrid selfcheck`
// command's workload.
package crosscheck

import (
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/qgrid-ml/qgrid/internal/backend/cpu"
	"github.com/qgrid-ml/qgrid/internal/quant"
	"github.com/qgrid-ml/qgrid/internal/tensor"
)

// CaseSpec describes one consistency case: a seeded random input, bounds
// derived by shrinking the observed value range, and an operator variant.
type CaseSpec struct {
	Name       string  `json:"name" yaml:"name"`
	Shape      []int   `json:"shape" yaml:"shape"`
	BitWidth   int     `json:"bit_width" yaml:"bit_width"`
	AlignZero  bool    `json:"align_zero" yaml:"align_zero"`
	PerChannel bool    `json:"per_channel" yaml:"per_channel"`
	Seed       int64   `json:"seed" yaml:"seed"`
	Margin     float64 `json:"margin" yaml:"margin"` // lb = min+Margin, ub = max-Margin
}

// CaseResult records the worst observed disagreement per tensor for one
// case. GridError is the largest distance from an output value to its
// nearest grid point; DiffRequant is the largest change from quantizing the
// output a second time (must be ~0: the grid is a fixed point set).
type CaseResult struct {
	Name        string  `json:"name"`
	Passed      bool    `json:"passed"`
	DiffOutput  float64 `json:"diff_output"`
	DiffDX      float64 `json:"diff_dx"`
	DiffDLb     float64 `json:"diff_dlb"`
	DiffDUb     float64 `json:"diff_dub"`
	GridError   float64 `json:"grid_error"`
	DiffRequant float64 `json:"diff_requant"`
	Error       string  `json:"error,omitempty"`
}

// Report is the serializable outcome of one suite run.
type Report struct {
	RunID     string       `json:"run_id"`
	CreatedAt time.Time    `json:"created_at"`
	Tolerance float64      `json:"tolerance"`
	Passed    bool         `json:"passed"`
	Cases     []CaseResult `json:"cases"`
}

// Run executes the cases in float64 on the CPU backend and collects a
// report. A nil or empty case list runs the default suite.
func Run(cases []CaseSpec, tolerance float64) Report {
	if len(cases) == 0 {
		cases = DefaultCases()
	}

	backend := cpu.New()
	report := Report{
		RunID:     uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		Tolerance: tolerance,
		Passed:    true,
		Cases:     make([]CaseResult, 0, len(cases)),
	}

	for _, spec := range cases {
		result := runCase(backend, spec, tolerance)
		if !result.Passed {
			report.Passed = false
		}
		report.Cases = append(report.Cases, result)
	}
	return report
}

func runCase(backend *cpu.CPUBackend, spec CaseSpec, tolerance float64) CaseResult {
	result := CaseResult{Name: spec.Name}
	fail := func(err error) CaseResult {
		result.Error = err.Error()
		return result
	}

	shape := tensor.Shape(spec.Shape)
	rng := rand.New(rand.NewSource(spec.Seed)) //nolint:gosec // G404: reproducible fixtures
	x := tensor.RandnSource[float64](shape, backend, rng)
	dy := tensor.RandnSource[float64](shape, backend, rng)

	lbData, ubData, bshape := deriveBounds(x, spec)
	lb, err := tensor.FromSlice(lbData, bshape, backend)
	if err != nil {
		return fail(err)
	}
	ub, err := tensor.FromSlice(ubData, bshape, backend)
	if err != nil {
		return fail(err)
	}

	// Fused path
	y, cache, err := quant.FakeQuantize(x, lb, ub, spec.BitWidth, spec.AlignZero)
	if err != nil {
		return fail(err)
	}
	dx, dlb, dub, err := cache.Backward(dy)
	if err != nil {
		return fail(err)
	}

	// Idempotence: grid points must quantize to themselves.
	y2, _, err := quant.FakeQuantize(y, lb, ub, spec.BitWidth, spec.AlignZero)
	if err != nil {
		return fail(err)
	}

	// Reference path
	refY, refDx, refDlb, refDub, err := quant.ReferenceFakeQuantize(
		backend, x.Raw(), lb.Raw(), ub.Raw(), dy.Raw(), spec.BitWidth, spec.AlignZero)
	if err != nil {
		return fail(err)
	}

	result.DiffOutput = maxAbsDiff(y.Raw(), refY)
	result.DiffDX = maxAbsDiff(dx.Raw(), refDx)
	result.DiffDLb = maxAbsDiff(dlb.Raw(), refDlb)
	result.DiffDUb = maxAbsDiff(dub.Raw(), refDub)
	result.GridError = gridError(y.Data(), lbData, ubData, spec)
	result.DiffRequant = maxAbsDiff(y2.Raw(), y.Raw())

	result.Passed = result.DiffOutput <= tolerance &&
		result.DiffDX <= tolerance &&
		result.DiffDLb <= tolerance &&
		result.DiffDUb <= tolerance &&
		result.GridError <= tolerance &&
		result.DiffRequant <= tolerance
	return result
}

// deriveBounds shrinks the observed value range by the case margin, per
// channel when requested, so some elements saturate on both sides.
func deriveBounds(x *tensor.Tensor[float64, *cpu.CPUBackend], spec CaseSpec) (lb, ub []float64, bshape tensor.Shape) {
	data := x.Data()

	if !spec.PerChannel {
		lo, hi := minMax(data)
		return []float64{lo + spec.Margin}, []float64{hi - spec.Margin}, tensor.Shape{1}
	}

	channels := spec.Shape[0]
	inner := len(data) / channels
	lb = make([]float64, channels)
	ub = make([]float64, channels)
	for c := 0; c < channels; c++ {
		lo, hi := minMax(data[c*inner : (c+1)*inner])
		lb[c] = lo + spec.Margin
		ub[c] = hi - spec.Margin
	}
	return lb, ub, tensor.Shape{channels}
}

func minMax(data []float64) (lo, hi float64) {
	lo, hi = data[0], data[0]
	for _, v := range data[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi
}

func maxAbsDiff(a, b *tensor.RawTensor) float64 {
	ad, bd := a.AsFloat64(), b.AsFloat64()
	worst := 0.0
	for i := range ad {
		worst = math.Max(worst, math.Abs(ad[i]-bd[i]))
	}
	return worst
}

// gridError reconstructs the grid per channel and returns the largest
// distance from an output value to its nearest grid point, checking that
// every index lands in [0, N].
func gridError(y, lb, ub []float64, spec CaseSpec) float64 {
	n := math.Pow(2, float64(spec.BitWidth)) - 1
	channels := len(lb)
	inner := len(y) / channels

	worst := 0.0
	for c := 0; c < channels; c++ {
		delta := (ub[c] - lb[c]) / n
		lo := lb[c]
		if spec.AlignZero {
			z := math.Round(math.Abs(lb[c]) / delta)
			lo = -z * delta
		}

		for i := c * inner; i < (c+1)*inner; i++ {
			idx := math.Round((y[i] - lo) / delta)
			if idx < 0 || idx > n {
				return math.Inf(1)
			}
			worst = math.Max(worst, math.Abs(y[i]-(lo+idx*delta)))
		}
	}
	return worst
}
