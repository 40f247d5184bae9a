package trigresp

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func convergedFit(halfway, steepness float64) FitResult {
	return FitResult{Halfway: &halfway, Steepness: &steepness, Converged: true}
}

func TestValidate(t *testing.T) {
	hw := Window{Min: 80, Max: 180}
	st := Window{Min: 1, Max: 50}
	cases := []struct {
		name     string
		fit      FitResult
		expected Verdict
	}{
		{"inside", convergedFit(125, 20), Verdict{Passed: true, HalfwayOK: true, SteepnessOK: true}},
		{"halfway at max", convergedFit(180, 20), Verdict{Passed: true, HalfwayOK: true, SteepnessOK: true}},
		{"halfway at min", convergedFit(80, 20), Verdict{Passed: true, HalfwayOK: true, SteepnessOK: true}},
		{"halfway high", convergedFit(181, 20), Verdict{SteepnessOK: true}},
		{"steepness low", convergedFit(125, 0.5), Verdict{HalfwayOK: true}},
		{"not converged", FitResult{}, Verdict{}},
	}
	for _, c := range cases {
		got := Validate(c.fit, hw, st)
		if diff := cmp.Diff(c.expected, got); diff != "" {
			t.Errorf("%s: verdict mismatch (-want +got):\n%s", c.name, diff)
		}
	}
}
