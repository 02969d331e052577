package crosscheck

// regressionSeed pins the random fixtures of the default suite.
const regressionSeed = 19260817

// DefaultCases returns the built-in consistency suite. The shapes mirror
// the regression scenarios the gradient laws were originally validated
// against: a 224x224 activation tensor with per-tensor bounds, conv and
// linear weight tensors with per-channel bounds, and the k=1 binary
// degenerate case.
func DefaultCases() []CaseSpec {
	return []CaseSpec{
		{
			Name:      "align-zero/per-tensor/k8",
			Shape:     []int{1, 3, 224, 224},
			BitWidth:  8,
			AlignZero: true,
			Seed:      regressionSeed,
			Margin:    0.1,
		},
		{
			Name:     "free/per-tensor/k8",
			Shape:    []int{1, 3, 224, 224},
			BitWidth: 8,
			Seed:     regressionSeed,
			Margin:   0.1,
		},
		{
			Name:       "free/per-channel/conv-weight/k8",
			Shape:      []int{32, 16, 5, 5},
			BitWidth:   8,
			PerChannel: true,
			Seed:       regressionSeed,
			Margin:     0.1,
		},
		{
			Name:       "free/per-channel/linear-weight/k8",
			Shape:      []int{32, 16},
			BitWidth:   8,
			PerChannel: true,
			Seed:       regressionSeed,
			Margin:     0.1,
		},
		{
			Name:       "align-zero/per-channel/conv-weight/k8",
			Shape:      []int{32, 16, 5, 5},
			BitWidth:   8,
			AlignZero:  true,
			PerChannel: true,
			Seed:       regressionSeed,
			Margin:     0.1,
		},
		{
			Name:      "align-zero/per-tensor/k1-binary",
			Shape:     []int{4, 64},
			BitWidth:  1,
			AlignZero: true,
			Seed:      regressionSeed,
			Margin:    0.1,
		},
		{
			Name:     "free/per-tensor/k1-binary",
			Shape:    []int{4, 64},
			BitWidth: 1,
			Seed:     regressionSeed,
			Margin:   0.1,
		},
	}
}
