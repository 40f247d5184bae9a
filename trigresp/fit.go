package trigresp

import (
	"math"

	"github.com/rno-g/radiantbench/mathx"
)

const (
	maxFitIterations = 200
	lambdaStart      = 1e-3
	lambdaMin        = 1e-12
	lambdaMax        = 1e12

	// chi2Tolerance is the relative chi-square change below which an accepted step ends the fit
	chi2Tolerance = 1e-12

	// stepTolerance is the relative parameter change below which an accepted step ends the fit
	stepTolerance = 1e-10

	// seedTolerance is the relative distance under which a result is considered equal to its seed
	seedTolerance = 1e-9
)

// Guess seeds the fit
type Guess struct {
	Halfway   float64 `koanf:"halfway" yaml:"halfway"`
	Steepness float64 `koanf:"steepness" yaml:"steepness"`
}

// FitResult is the outcome of fitting the turn-on curve to a Dataset.
// When Converged is false, Halfway, Steepness and Covariance are nil.
type FitResult struct {
	// Halfway is the amplitude of the 50% crossing
	Halfway *float64 `json:"halfway"`

	// Steepness is the transition width
	Steepness *float64 `json:"steepness"`

	// Covariance is the 2x2 parameter covariance, ordered (halfway, steepness).
	// It is nil when the fit has no residual degrees of freedom.
	Covariance [][]float64 `json:"pcov"`

	Converged bool `json:"converged"`

	// ChiSquare is the weighted sum of squared residuals at the solution
	ChiSquare float64 `json:"chi2"`

	// Reason describes why the fit did not converge
	Reason string `json:"reason,omitempty"`
}

// Model is the trigger efficiency turn-on curve, a tanh sigmoid saturating at 0 and 1
func Model(x, halfway, steepness float64) float64 {
	return 0.5 * (math.Tanh((x-halfway)/steepness) + 1)
}

func notConverged(reason string) FitResult {
	return FitResult{Reason: reason}
}

// wellPosed requires two distinct amplitudes with differing efficiency.
// Dataset amplitudes are unique, so any differing pair qualifies.
func wellPosed(pts []CurvePoint) bool {
	if len(pts) < 2 {
		return false
	}
	for _, p := range pts[1:] {
		if p.Efficiency != pts[0].Efficiency {
			return true
		}
	}
	return false
}

func chiSquare(pts []CurvePoint, p [2]float64) float64 {
	var sum float64
	for _, pt := range pts {
		r := (pt.Efficiency - Model(pt.Amplitude, p[0], p[1])) / pt.EfficiencyError
		sum += r * r
	}
	return sum
}

// normalEquations computes J^T J and J^T r for the weighted residuals, where
// J is the model jacobian scaled by 1/sigma
func normalEquations(pts []CurvePoint, p [2]float64) ([2][2]float64, [2]float64) {
	var (
		jtj [2][2]float64
		jtr [2]float64
	)
	for _, pt := range pts {
		u := (pt.Amplitude - p[0]) / p[1]
		t := math.Tanh(u)
		sech2 := 1 - t*t
		w := 1 / pt.EfficiencyError
		j := [2]float64{
			-0.5 * sech2 / p[1] * w,
			-0.5 * sech2 * u / p[1] * w,
		}
		r := (pt.Efficiency - 0.5*(t+1)) * w
		for a := 0; a < 2; a++ {
			jtr[a] += j[a] * r
			for b := 0; b < 2; b++ {
				jtj[a][b] += j[a] * j[b]
			}
		}
	}
	return jtj, jtr
}

func finite(xs ...float64) bool {
	for _, x := range xs {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

func sameAsSeed(p, seed [2]float64) bool {
	for i := 0; i < 2; i++ {
		if math.Abs(p[i]-seed[i]) > seedTolerance*math.Max(1, math.Abs(seed[i])) {
			return false
		}
	}
	return true
}

// Fit fits Model to the dataset by Levenberg-Marquardt weighted least
// squares, using each point's EfficiencyError as its standard deviation.
//
// A result that has not moved from the seed is reported as non-convergence;
// the optimizer stalling at its starting point is a failure symptom, not a fit.
func Fit(ds *Dataset, guess Guess) FitResult {
	pts := ds.Points()
	if !wellPosed(pts) {
		return notConverged("need at least two amplitudes with differing efficiency")
	}
	if guess.Steepness == 0 || !finite(guess.Halfway, guess.Steepness) {
		return notConverged("invalid initial guess")
	}
	seed := [2]float64{guess.Halfway, guess.Steepness}
	p := seed
	chi2 := chiSquare(pts, p)
	if !finite(chi2) {
		return notConverged("chi-square at the initial guess is not finite")
	}

	lambda := lambdaStart
	done := false
	for iter := 0; iter < maxFitIterations && !done; iter++ {
		if chi2 == 0 {
			done = true
			break
		}
		jtj, jtr := normalEquations(pts, p)
		for {
			a := jtj
			for i := 0; i < 2; i++ {
				a[i][i] += lambda * math.Max(jtj[i][i], 1e-12)
			}
			step, err := mathx.Solve2(a, jtr)
			trial := [2]float64{p[0] + step[0], p[1] + step[1]}
			var c2 float64
			ok := err == nil && finite(trial[0], trial[1]) && trial[1] != 0
			if ok {
				c2 = chiSquare(pts, trial)
				ok = finite(c2) && c2 < chi2
			}
			if ok {
				small := math.Abs(step[0]) <= stepTolerance*(math.Abs(p[0])+stepTolerance) &&
					math.Abs(step[1]) <= stepTolerance*(math.Abs(p[1])+stepTolerance)
				flat := chi2-c2 <= chi2Tolerance*chi2
				p, chi2 = trial, c2
				lambda = math.Max(lambda/10, lambdaMin)
				done = small || flat
				break
			}
			lambda *= 10
			if lambda > lambdaMax {
				// no downhill step left; p is a minimum
				done = true
				break
			}
		}
	}
	if !done {
		return notConverged("iteration limit reached")
	}
	if sameAsSeed(p, seed) {
		return notConverged("result equals the initial guess")
	}

	halfway, steepness := p[0], p[1]
	res := FitResult{
		Halfway:   &halfway,
		Steepness: &steepness,
		Converged: true,
		ChiSquare: chi2,
	}
	dof := len(pts) - 2
	if dof > 0 {
		jtj, _ := normalEquations(pts, p)
		inv, err := mathx.Inv2(jtj)
		if err == nil {
			scale := chi2 / float64(dof)
			cov := [][]float64{
				{inv[0][0] * scale, inv[0][1] * scale},
				{inv[1][0] * scale, inv[1][1] * scale},
			}
			if finite(cov[0][0], cov[0][1], cov[1][0], cov[1][1]) {
				res.Covariance = cov
			}
		}
	}
	return res
}

// Value evaluates the fitted curve at x.  It returns NaN if the fit did not converge.
func (f FitResult) Value(x float64) float64 {
	if !f.Converged {
		return math.NaN()
	}
	return Model(x, *f.Halfway, *f.Steepness)
}
