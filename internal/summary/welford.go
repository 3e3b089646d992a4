package summary

import "math"

// welford accumulates mean and variance in a single numerically stable pass.
// Catastrophic cancellation from the naive sum-of-squares formula is what
// this exists to avoid on large batches.
type welford struct {
	n    int
	mean float64
	m2   float64
	min  float64
	max  float64
}

func newWelford() *welford {
	return &welford{min: math.Inf(1), max: math.Inf(-1)}
}

func (w *welford) add(x float64) {
	w.n++
	delta := x - w.mean
	w.mean += delta / float64(w.n)
	w.m2 += delta * (x - w.mean)

	if x < w.min {
		w.min = x
	}
	if x > w.max {
		w.max = x
	}
}

func (w *welford) stdDev() float64 {
	if w.n < 2 {
		return 0
	}
	return math.Sqrt(w.m2 / float64(w.n-1))
}
