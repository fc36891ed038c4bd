package stats

import "math"

// GaussianSmooth applies a one-dimensional Gaussian kernel to values and
// returns a new slice. The kernel radius is 4 sigma and edges reflect, so a
// burst near either end is weighted the same as one mid-series. Sigma <= 0
// returns a copy of the input unchanged. The summation order is fixed, so
// identical inputs always produce bit-identical output.
func GaussianSmooth(values []float64, sigma float64) []float64 {
	out := make([]float64, len(values))
	copy(out, values)
	if sigma <= 0 || len(values) == 0 {
		return out
	}

	radius := int(4*sigma + 0.5)
	if radius < 1 {
		radius = 1
	}
	kernel := make([]float64, 2*radius+1)
	var sum float64
	for i := -radius; i <= radius; i++ {
		w := math.Exp(-float64(i*i) / (2 * sigma * sigma))
		kernel[i+radius] = w
		sum += w
	}
	for i := range kernel {
		kernel[i] /= sum
	}

	for i := range values {
		var acc float64
		for k := -radius; k <= radius; k++ {
			acc += kernel[k+radius] * values[reflectIndex(i+k, len(values))]
		}
		out[i] = acc
	}
	return out
}

// reflectIndex maps an out-of-range index back into [0, n) by mirroring at
// the edges: for n=4, indices ...(3 2 1 0)(0 1 2 3)(3 2 1 0)...
func reflectIndex(i, n int) int {
	if n == 1 {
		return 0
	}
	period := 2 * n
	i %= period
	if i < 0 {
		i += period
	}
	if i >= n {
		i = period - 1 - i
	}
	return i
}
