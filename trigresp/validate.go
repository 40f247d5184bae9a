package trigresp

// Window is an inclusive acceptance range
type Window struct {
	Min float64 `koanf:"min" yaml:"min" json:"min"`
	Max float64 `koanf:"max" yaml:"max" json:"max"`
}

// Contains returns true if min <= x <= max
func (w Window) Contains(x float64) bool {
	return x >= w.Min && x <= w.Max
}

// Verdict is the pass/fail outcome of checking a fit against its windows
type Verdict struct {
	Passed      bool `json:"passed"`
	HalfwayOK   bool `json:"halfway_ok"`
	SteepnessOK bool `json:"steepness_ok"`
}

// Validate checks the fitted parameters against the acceptance windows.
// A fit that did not converge fails every check.
func Validate(fit FitResult, halfway, steepness Window) Verdict {
	if !fit.Converged || fit.Halfway == nil || fit.Steepness == nil {
		return Verdict{}
	}
	v := Verdict{
		HalfwayOK:   halfway.Contains(*fit.Halfway),
		SteepnessOK: steepness.Contains(*fit.Steepness),
	}
	v.Passed = v.HalfwayOK && v.SteepnessOK
	return v
}
