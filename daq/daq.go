/*Package daq talks to the station DAQ that records the RADIANT triggers.

A measurement is one DAQ run: the run configuration arms the RF0 trigger
on the channel under test, the run is started, the stimulus pulses are
sent, and the run summary reports one Event per recorded trigger.
CountQualifying keeps only the triggers caused by a stimulus pulse.

Station is implemented by Client, which speaks HTTP to a station control
server, and by SimStation, which simulates the board.  NewRouter serves any
Station over HTTP, so Client and SimStation can also be tested against each other.
*/
package daq

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

const (
	// NumChannels is the number of RADIANT channels
	NumChannels = 24

	// NumCalQuads is the number of calibration pulser quads
	NumCalQuads = 3

	// CalOff deselects every quad, turning the calibration pulser off
	CalOff = -1
)

var (
	// ErrUnknownRun is generated when waiting on a run that was never started
	ErrUnknownRun = errors.New("unknown run")

	// ErrNoRunConfig is generated when a run is started before a configuration was set
	ErrNoRunConfig = errors.New("no run configuration set")

	// ErrCalQuad is generated when selecting a calibration quad that does not exist
	ErrCalQuad = errors.New("calibration quad out of range")
)

// RunConfig is the part of the station run configuration the trigger tests change
type RunConfig struct {
	// Thresholds are the initial trigger thresholds in V, one per channel
	Thresholds []float64 `json:"radiant_threshold_initial"`

	LoadThresholdsFromFile bool `json:"radiant_load_thresholds_from_file"`
	ServoEnable            bool `json:"radiant_servo_enable"`

	RF0Mask            []int `json:"radiant_trigger_rf0_mask"`
	RF0NumCoincidences int   `json:"radiant_trigger_rf0_num_coincidences"`
	RF0Enable          bool  `json:"radiant_trigger_rf0_enable"`
	RF1Enable          bool  `json:"radiant_trigger_rf1_enable"`
	SoftTriggerEnable  bool  `json:"radiant_trigger_soft_enable"`

	FlowerDeviceRequired bool `json:"flower_device_required"`
	FlowerTriggerEnable  bool `json:"flower_trigger_enable"`

	// RunLength is in seconds
	RunLength float64 `json:"run_length"`
	Comment   string  `json:"comment"`
}

// NewRunConfig arms the RF0 trigger on a single channel with the same
// threshold on every channel, servo and forced triggers off
func NewRunConfig(channel int, threshold, runLength float64, comment string) RunConfig {
	th := make([]float64, NumChannels)
	for i := range th {
		th[i] = threshold
	}
	return RunConfig{
		Thresholds:         th,
		RF0Mask:            []int{channel},
		RF0NumCoincidences: 1,
		RF0Enable:          true,
		RunLength:          runLength,
		Comment:            comment,
	}
}

// Validate checks the configuration is one the board accepts
func (c RunConfig) Validate() error {
	if len(c.Thresholds) != NumChannels {
		return errors.Errorf("need %d thresholds, got %d", NumChannels, len(c.Thresholds))
	}
	for _, ch := range c.RF0Mask {
		if ch < 0 || ch >= NumChannels {
			return errors.Errorf("RF0 mask channel %d out of range", ch)
		}
	}
	if c.RunLength <= 0 {
		return errors.Errorf("run length %g s must be positive", c.RunLength)
	}
	return nil
}

// RunLength is the time needed to send trials pulses at rateHz, plus a buffer, in seconds
func RunLength(trials int, rateHz, buffer float64) float64 {
	return float64(trials)/rateHz + buffer
}

// Run identifies a started DAQ run
type Run struct {
	ID      string    `json:"id"`
	DataDir string    `json:"data_dir"`
	Started time.Time `json:"started"`
}

// Event is the header information of one recorded trigger
type Event struct {
	// RadiantTrigger is true if the RADIANT (not the FLOWER) triggered
	RadiantTrigger bool `json:"radiant_trigger"`

	// WhichRadiantTrigger is 0 for RF0, 1 for RF1
	WhichRadiantTrigger int `json:"which_radiant_trigger"`

	// ClockPeakIndex is the sample index of the largest absolute value on the clock channel
	ClockPeakIndex int `json:"clock_peak_index"`

	// ClockPeakAmplitude is that largest absolute value, in ADC counts
	ClockPeakAmplitude float64 `json:"clock_peak_amplitude"`
}

// Summary is the outcome of a finished run
type Summary struct {
	Run    Run     `json:"run"`
	Events []Event `json:"events"`
}

// Criteria select the triggers caused by a stimulus pulse: an RF0 trigger
// with the clock pulse inside the expected sample window and above an amplitude cut
type Criteria struct {
	PeakIndexMin int     `koanf:"peakindexmin" yaml:"peakindexmin"`
	PeakIndexMax int     `koanf:"peakindexmax" yaml:"peakindexmax"`
	ClockMin     float64 `koanf:"clockmin" yaml:"clockmin"`
}

// DefaultCriteria are the cuts used on the test bench
func DefaultCriteria() Criteria {
	return Criteria{PeakIndexMin: 1500, PeakIndexMax: 1800, ClockMin: 50}
}

// Qualifies returns true if the event passes the cuts; the index window is exclusive
func (c Criteria) Qualifies(e Event) bool {
	return e.RadiantTrigger &&
		e.WhichRadiantTrigger == 0 &&
		e.ClockPeakIndex > c.PeakIndexMin &&
		e.ClockPeakIndex < c.PeakIndexMax &&
		e.ClockPeakAmplitude > c.ClockMin
}

// CountQualifying counts the events that pass the cuts
func CountQualifying(events []Event, c Criteria) int {
	var n int
	for _, e := range events {
		if c.Qualifies(e) {
			n++
		}
	}
	return n
}

// Station is the run control of a station
type Station interface {
	// BoardUID returns the RADIANT board MCU UID as 32 hex digits
	BoardUID(ctx context.Context) (string, error)

	// CalSelect routes the calibration pulser to quad, or turns it off for CalOff
	CalSelect(ctx context.Context, quad int) error

	// SurfaceAmps powers the surface amplifiers on or off
	SurfaceAmps(ctx context.Context, on bool) error

	// SetRunConfig replaces the run configuration used by the next run
	SetRunConfig(ctx context.Context, c RunConfig) error

	// StartRun starts a run and returns without waiting for it
	StartRun(ctx context.Context) (Run, error)

	// WaitRun blocks until the run is over and returns its summary
	WaitRun(ctx context.Context, id string) (Summary, error)
}

// ValidQuad returns ErrCalQuad unless quad is CalOff or a quad of the board
func ValidQuad(quad int) error {
	if quad < CalOff || quad >= NumCalQuads {
		return errors.Wrapf(ErrCalQuad, "quad %d", quad)
	}
	return nil
}

// Injector is implemented by simulated stations, which need to be told
// about the pulses the stimulus sends
type Injector interface {
	Inject(ctx context.Context, pulses int, mVpp float64) error
}
