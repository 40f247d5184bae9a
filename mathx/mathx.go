// Package mathx provides small numeric helpers shared by the fitter and the
// amplitude sampler.
package mathx

import (
	"errors"
	"math"
)

// ErrSingular is returned when a linear system has no unique solution
var ErrSingular = errors.New("matrix is singular")

// Round rounds a float to the nearest "unit" (0.1 for tenth, 0.01 for hundredth, and so on).
// A unit <= 0 returns x unchanged.
func Round(x, unit float64) float64 {
	if unit <= 0 {
		return x
	}
	return math.Round(x/unit) * unit
}

// Clamp limits x to the closed interval [low, high]
func Clamp(x, low, high float64) float64 {
	if x < low {
		return low
	}
	if x > high {
		return high
	}
	return x
}

// Solve2 solves A x = b for a 2x2 A using Gaussian elimination with partial pivoting.
func Solve2(a [2][2]float64, b [2]float64) ([2]float64, error) {
	var x [2]float64
	// pivot on the larger magnitude in column 0
	if math.Abs(a[1][0]) > math.Abs(a[0][0]) {
		a[0], a[1] = a[1], a[0]
		b[0], b[1] = b[1], b[0]
	}
	if a[0][0] == 0 {
		return x, ErrSingular
	}
	f := a[1][0] / a[0][0]
	a11 := a[1][1] - f*a[0][1]
	b1 := b[1] - f*b[0]
	if a11 == 0 || math.IsNaN(a11) {
		return x, ErrSingular
	}
	x[1] = b1 / a11
	x[0] = (b[0] - a[0][1]*x[1]) / a[0][0]
	return x, nil
}

// Inv2 returns the inverse of a 2x2 matrix
func Inv2(a [2][2]float64) ([2][2]float64, error) {
	var inv [2][2]float64
	det := a[0][0]*a[1][1] - a[0][1]*a[1][0]
	if det == 0 || math.IsNaN(det) || math.IsInf(det, 0) {
		return inv, ErrSingular
	}
	inv[0][0] = a[1][1] / det
	inv[0][1] = -a[0][1] / det
	inv[1][0] = -a[1][0] / det
	inv[1][1] = a[0][0] / det
	return inv, nil
}
