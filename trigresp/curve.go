/*Package trigresp characterizes the auxiliary trigger response of a RADIANT
channel.

A characterization run is a blocking request/measure/respond loop:

	1.  a Sampler proposes the next stimulus amplitude from the points measured so far
	2.  a StimulusSource applies it and a TriggerCounter counts the qualifying triggers
	3.  Estimate turns the raw count into a CurvePoint, which is added to the Dataset
	4.  once the Sampler stops, Fit fits a tanh turn-on curve to the Dataset
	5.  Validate checks the fitted halfway point and steepness against calibration windows

Characterizer drives the loop for one channel and returns a Record, the
structure the result writer and plotting tools consume.  Only configuration
errors prevent a Record from being produced; fit failures, exhausted brackets
and hardware errors are encoded in the Record itself.
*/
package trigresp

import (
	"math"
	"sort"

	"github.com/pkg/errors"
)

// ErrorFloor is the efficiency uncertainty substituted when no trigger was
// observed (or the count saturated), so that every point keeps a finite fit weight
const ErrorFloor = 0.01

// ErrDuplicateAmplitude is returned when a point is added at an amplitude
// that is already present in a Dataset
var ErrDuplicateAmplitude = errors.New("amplitude already measured")

// CurvePoint is one measured point of the trigger efficiency curve
type CurvePoint struct {
	// Amplitude is the stimulus amplitude in mVpp at the signal generator
	Amplitude float64 `json:"amplitude"`

	// Hits is the number of qualifying triggers observed
	Hits int `json:"hits"`

	// Trials is the number of stimulus pulses issued
	Trials int `json:"trials"`

	// Efficiency is Hits/Trials clamped to [0,1]
	Efficiency float64 `json:"trig_eff"`

	// EfficiencyError is the statistical uncertainty of Efficiency, never 0
	EfficiencyError float64 `json:"trig_eff_err"`
}

// OnSlope returns true if the point lies strictly between the zero and full
// efficiency plateaus
func (p CurvePoint) OnSlope() bool {
	return p.Efficiency > 0 && p.Efficiency < 1
}

// Estimate converts a raw trigger count into a CurvePoint.
//
// The efficiency is hits/trials clamped into [0,1]; noisy hardware can report
// more hits than pulses.  The uncertainty is the Poisson approximation
// sqrt(hits)/trials, replaced by ErrorFloor when no trigger was seen or the
// count had to be clamped.  trials must be positive; a non-positive count
// yields a zero efficiency point at the error floor.
func Estimate(amplitude float64, hits, trials int) CurvePoint {
	p := CurvePoint{Amplitude: amplitude, Hits: hits, Trials: trials}
	if trials <= 0 || hits <= 0 {
		p.EfficiencyError = ErrorFloor
		return p
	}
	if hits >= trials {
		p.Efficiency = 1
		if hits > trials {
			p.EfficiencyError = ErrorFloor
			return p
		}
	} else {
		p.Efficiency = float64(hits) / float64(trials)
	}
	p.EfficiencyError = math.Sqrt(float64(hits)) / float64(trials)
	return p
}

// Dataset is the set of points measured during one characterization run,
// kept in ascending amplitude order with unique amplitudes.
// The zero value is an empty, usable Dataset.
type Dataset struct {
	pts []CurvePoint
}

// NewDataset returns an empty Dataset
func NewDataset() *Dataset {
	return &Dataset{}
}

// search returns the insertion index for amp and whether it is already present
func (d *Dataset) search(amp float64) (int, bool) {
	i := sort.Search(len(d.pts), func(i int) bool { return d.pts[i].Amplitude >= amp })
	return i, i < len(d.pts) && d.pts[i].Amplitude == amp
}

// Add inserts a point.  Points are never replaced; adding an amplitude that
// is already present returns ErrDuplicateAmplitude.
func (d *Dataset) Add(p CurvePoint) error {
	if math.IsNaN(p.Amplitude) || math.IsInf(p.Amplitude, 0) {
		return errors.Errorf("amplitude %v is not finite", p.Amplitude)
	}
	i, found := d.search(p.Amplitude)
	if found {
		return errors.Wrapf(ErrDuplicateAmplitude, "%g mVpp", p.Amplitude)
	}
	d.pts = append(d.pts, CurvePoint{})
	copy(d.pts[i+1:], d.pts[i:])
	d.pts[i] = p
	return nil
}

// Len returns the number of points
func (d *Dataset) Len() int {
	return len(d.pts)
}

// Has returns true if amp has already been measured
func (d *Dataset) Has(amp float64) bool {
	_, found := d.search(amp)
	return found
}

// Lookup returns the point measured at amp, if there is one
func (d *Dataset) Lookup(amp float64) (CurvePoint, bool) {
	i, found := d.search(amp)
	if !found {
		return CurvePoint{}, false
	}
	return d.pts[i], true
}

// Points returns a copy of the points in ascending amplitude order
func (d *Dataset) Points() []CurvePoint {
	out := make([]CurvePoint, len(d.pts))
	copy(out, d.pts)
	return out
}

// OnSlope returns the points with 0 < efficiency < 1, ascending in amplitude
func (d *Dataset) OnSlope() []CurvePoint {
	var out []CurvePoint
	for _, p := range d.pts {
		if p.OnSlope() {
			out = append(out, p)
		}
	}
	return out
}

// Columns splits the dataset into parallel amplitude, efficiency and error slices
func (d *Dataset) Columns() (amps, effs, errs []float64) {
	n := len(d.pts)
	amps = make([]float64, n)
	effs = make([]float64, n)
	errs = make([]float64, n)
	for i, p := range d.pts {
		amps[i] = p.Amplitude
		effs[i] = p.Efficiency
		errs[i] = p.EfficiencyError
	}
	return amps, effs, errs
}
