package quant

import (
	"math"
	"sync"

	"github.com/qgrid-ml/qgrid/internal/parallel"
	"github.com/qgrid-ml/qgrid/internal/tensor"
)

// gridParams holds the per-channel grid constants shared by the fused
// forward and backward kernels. For the free variant lbAdj/ubAdj are the
// original bounds and the zero-alignment fields stay zero.
type gridParams[T tensor.Float] struct {
	variant Variant
	n       float64 // N = 2^k - 1

	delta  []T // quantization step per channel
	z      []T // zero-point shift in grid steps (zero-aligned only)
	lbAdj  []T // effective lower bound
	ubAdj  []T // effective upper bound
	absLb  []T // |lb| (zero-aligned only)
	signLb []T // sign(lb) with sign(0) = 0 (zero-aligned only)
}

// computeGridParams derives the per-channel grid constants, rejecting any
// channel with a non-positive range.
//
// Zero-aligned construction: z = round(|lb|/delta) counts grid steps from 0
// down to lb, then lb' = -z*delta and ub' = (N-z)*delta pin 0 onto the grid.
func computeGridParams[T tensor.Float](lb, ub []T, n float64, variant Variant) (gridParams[T], error) {
	if err := validateBounds(lb, ub); err != nil {
		return gridParams[T]{}, err
	}

	channels := len(lb)
	p := gridParams[T]{
		variant: variant,
		n:       n,
		delta:   make([]T, channels),
		z:       make([]T, channels),
		lbAdj:   make([]T, channels),
		ubAdj:   make([]T, channels),
		absLb:   make([]T, channels),
		signLb:  make([]T, channels),
	}

	for c := 0; c < channels; c++ {
		delta := (ub[c] - lb[c]) / T(n)
		p.delta[c] = delta

		if variant == Free {
			p.lbAdj[c] = lb[c]
			p.ubAdj[c] = ub[c]
			continue
		}

		absLb := lb[c]
		if absLb < 0 {
			absLb = -absLb
		}
		z := T(math.Round(float64(absLb / delta)))

		p.z[c] = z
		p.absLb[c] = absLb
		p.signLb[c] = sign(lb[c])
		p.lbAdj[c] = -z * delta
		p.ubAdj[c] = (T(n) - z) * delta
	}
	return p, nil
}

func sign[T tensor.Float](v T) T {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

// forwardKernel writes the fake-quantized values of xd into yd:
//
//	y = lb' + round(clamp(x, lb', ub') - lb') / delta) * delta
func forwardKernel[T tensor.Float](xd, yd []T, p gridParams[T], lay layout) {
	cfg := parallel.DefaultConfig()
	inner := lay.inner

	parallel.ForRange(len(xd), func(start, end int) {
		for i := start; i < end; i++ {
			c := i / inner
			lo, hi, delta := p.lbAdj[c], p.ubAdj[c], p.delta[c]

			v := xd[i]
			if v < lo {
				v = lo
			} else if v > hi {
				v = hi
			}
			q := T(math.Round(float64((v - lo) / delta)))
			yd[i] = lo + q*delta
		}
	}, cfg)
}

// backwardKernel computes dx elementwise and the bound gradients as per
// channel sums. Bound sums accumulate in float64 regardless of T.
func backwardKernel[T tensor.Float](dyd, xd, dxd, dlbd, dubd []T, p gridParams[T], lay layout) {
	ranger := alignedBackwardRange[T]
	if p.variant == Free {
		ranger = freeBackwardRange[T]
	}

	cfg := parallel.DefaultConfig()

	if lay.channels == 1 {
		// Per-tensor: chunked partial sums over the flat tensor.
		var mu sync.Mutex
		var sumLb, sumUb float64
		parallel.ForRange(len(xd), func(start, end int) {
			sLb, sUb := ranger(dyd, xd, dxd, p, 0, start, end)
			mu.Lock()
			sumLb += sLb
			sumUb += sUb
			mu.Unlock()
		}, cfg)
		dlbd[0] = T(sumLb)
		dubd[0] = T(sumUb)
		return
	}

	// Per-channel: each channel owns a contiguous slice, no locking needed.
	parallel.For(lay.channels, func(c int) {
		sLb, sUb := ranger(dyd, xd, dxd, p, c, c*lay.inner, (c+1)*lay.inner)
		dlbd[c] = T(sLb)
		dubd[c] = T(sUb)
	}, cfg)
}

// alignedBackwardRange evaluates the zero-aligned gradient law over
// [start, end) within channel c:
//
//	dx   = dy                          where lb' <= x <= ub'
//	d_i  = (i - z) - (xc - lb' - |lb|)/delta
//	d_ub = sum(dy * d_i) / N
//	d_lb = -d_ub - sum(dy * sign(lb))
//
// The d_i term captures how the index's dependence on z, itself a function
// of lb, perturbs the effective gradient.
func alignedBackwardRange[T tensor.Float](dyd, xd, dxd []T, p gridParams[T], c, start, end int) (sumLb, sumUb float64) {
	lo, hi, delta := p.lbAdj[c], p.ubAdj[c], p.delta[c]
	z, absLb, signLb := p.z[c], p.absLb[c], float64(p.signLb[c])

	for i := start; i < end; i++ {
		v, g := xd[i], dyd[i]

		if v >= lo && v <= hi {
			dxd[i] = g
		} else {
			dxd[i] = 0
		}

		xc := v
		if xc < lo {
			xc = lo
		} else if xc > hi {
			xc = hi
		}
		q := T(math.Round(float64((xc - lo) / delta)))
		dI := (q - z) - (xc-lo-absLb)/delta

		dUb := float64(g) * float64(dI) / p.n
		sumUb += dUb
		sumLb += -dUb - float64(g)*signLb
	}
	return sumLb, sumUb
}

// freeBackwardRange evaluates the free-variant gradient law over
// [start, end) within channel c:
//
//	dx   = dy                                   where lb <= x <= ub
//	d_ub = sum(dy * 1[x > ub]) + sum(dy * qi_diff)/N
//	d_lb = sum(dy * 1[x < lb]) - sum(dy * qi_diff)/N
//
// qi_diff = round(t) - t with t = (xc - lb)/delta: every in-range element
// nudges the bounds proportionally to its rounding error.
func freeBackwardRange[T tensor.Float](dyd, xd, dxd []T, p gridParams[T], c, start, end int) (sumLb, sumUb float64) {
	lo, hi, delta := p.lbAdj[c], p.ubAdj[c], p.delta[c]

	for i := start; i < end; i++ {
		v, g := xd[i], dyd[i]

		xc := v
		switch {
		case v < lo:
			dxd[i] = 0
			sumLb += float64(g)
			xc = lo
		case v > hi:
			dxd[i] = 0
			sumUb += float64(g)
			xc = hi
		default:
			dxd[i] = g
		}

		t := (xc - lo) / delta
		qiDiff := T(math.Round(float64(t))) - t
		corr := float64(g) * float64(qiDiff) / p.n
		sumUb += corr
		sumLb -= corr
	}
	return sumLb, sumUb
}

// clampForwardKernel writes min(max(x, lb), ub) into yd with per-channel
// bound broadcast.
func clampForwardKernel[T tensor.Float](xd, yd, lb, ub []T, lay layout) {
	cfg := parallel.DefaultConfig()
	inner := lay.inner

	parallel.ForRange(len(xd), func(start, end int) {
		for i := start; i < end; i++ {
			c := i / inner
			v := xd[i]
			if v < lb[c] {
				v = lb[c]
			} else if v > ub[c] {
				v = ub[c]
			}
			yd[i] = v
		}
	}, cfg)
}

// clampBackwardKernel routes dy to x inside the range and to the active
// bound outside it, summing bound gradients per channel in float64.
func clampBackwardKernel[T tensor.Float](dyd, xd, lb, ub, dxd, dlbd, dubd []T, lay layout) {
	cfg := parallel.DefaultConfig()

	ranger := func(c, start, end int) (sumLb, sumUb float64) {
		lo, hi := lb[c], ub[c]
		for i := start; i < end; i++ {
			g := dyd[i]
			switch v := xd[i]; {
			case v < lo:
				dxd[i] = 0
				sumLb += float64(g)
			case v > hi:
				dxd[i] = 0
				sumUb += float64(g)
			default:
				dxd[i] = g
			}
		}
		return sumLb, sumUb
	}

	if lay.channels == 1 {
		var mu sync.Mutex
		var sumLb, sumUb float64
		parallel.ForRange(len(xd), func(start, end int) {
			sLb, sUb := ranger(0, start, end)
			mu.Lock()
			sumLb += sLb
			sumUb += sUb
			mu.Unlock()
		}, cfg)
		dlbd[0] = T(sumLb)
		dubd[0] = T(sumUb)
		return
	}

	parallel.For(lay.channels, func(c int) {
		sLb, sUb := ranger(c, c*lay.inner, (c+1)*lay.inner)
		dlbd[c] = T(sLb)
		dubd[c] = T(sUb)
	}, cfg)
}
