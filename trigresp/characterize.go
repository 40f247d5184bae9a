package trigresp

import (
	"log"
	"math"

	"github.com/pkg/errors"
)

// ErrConfiguration is returned (wrapped) when the limits of a run are missing
// or inconsistent.  It is the only error that prevents a Record.
var ErrConfiguration = errors.New("configuration error")

// StimulusSource drives the pulse injected into a channel
type StimulusSource interface {
	// SetAmplitude stages the stimulus amplitude for a RADIANT channel, in mVpp
	SetAmplitude(channel int, mVpp float64) error

	// Apply commits the staged settings to the output
	Apply() error
}

// TriggerCounter runs one acquisition window and reports how many of the
// issued pulses produced a qualifying trigger
type TriggerCounter interface {
	Measure(channel, trials int) (hits int, err error)
}

// Config holds every limit of a characterization run
type Config struct {
	Bounds Bounds

	// Start, Step and Resolution are in mVpp, see SamplerConfig
	Start      float64
	Step       float64
	Resolution float64

	TargetOnSlope int
	MaxPoints     int

	// TrialsPerPoint is the number of pulses issued at each amplitude
	TrialsPerPoint int

	Guess Guess

	// Halfway and Steepness are the acceptance windows of the fitted parameters
	Halfway   Window
	Steepness Window

	// Conversion, if not nil, converts the fitted halfway point to the channel input
	Conversion *Conversion
}

func configErr(format string, args ...interface{}) error {
	return errors.Wrapf(ErrConfiguration, format, args...)
}

// Validate rejects configurations for which no sensible sampling decision can be made
func (c Config) Validate() error {
	if !finite(c.Bounds.Min, c.Bounds.Max, c.Start, c.Step, c.Resolution) {
		return configErr("amplitude limits must be finite")
	}
	if c.Bounds.Min > c.Bounds.Max {
		return configErr("amplitude bounds min %g > max %g", c.Bounds.Min, c.Bounds.Max)
	}
	if !c.Bounds.Contains(c.Start) {
		return configErr("start amplitude %g outside bounds [%g, %g]", c.Start, c.Bounds.Min, c.Bounds.Max)
	}
	if c.Step <= 0 {
		return configErr("bracket step %g must be positive", c.Step)
	}
	if c.Resolution < 0 {
		return configErr("amplitude resolution %g must not be negative", c.Resolution)
	}
	if c.TargetOnSlope < 1 {
		return configErr("target points on slope %d must be at least 1", c.TargetOnSlope)
	}
	if c.MaxPoints < 2 {
		return configErr("max total points %d must be at least 2", c.MaxPoints)
	}
	if c.TrialsPerPoint < 1 {
		return configErr("trials per point %d must be at least 1", c.TrialsPerPoint)
	}
	if c.Guess.Steepness == 0 || !finite(c.Guess.Halfway, c.Guess.Steepness) {
		return configErr("initial guess (%g, %g) is unusable", c.Guess.Halfway, c.Guess.Steepness)
	}
	if c.Halfway.Min > c.Halfway.Max {
		return configErr("halfway window min %g > max %g", c.Halfway.Min, c.Halfway.Max)
	}
	if c.Steepness.Min > c.Steepness.Max {
		return configErr("steepness window min %g > max %g", c.Steepness.Min, c.Steepness.Max)
	}
	return nil
}

// SamplerConfig extracts the search parameters
func (c Config) SamplerConfig() SamplerConfig {
	return SamplerConfig{
		Bounds:        c.Bounds,
		Start:         c.Start,
		Step:          c.Step,
		Resolution:    c.Resolution,
		TargetOnSlope: c.TargetOnSlope,
		MaxPoints:     c.MaxPoints,
	}
}

// Characterizer runs the sampling loop for one channel at a time.
// Hardware access is sequential; a Characterizer must not be shared between goroutines.
type Characterizer struct {
	Stimulus StimulusSource
	Counter  TriggerCounter
	Config   Config

	// Logger receives one line per measurement; nil means log.Default()
	Logger *log.Logger

	// Progress, if not nil, is called after every measured point
	Progress func(channel int, p CurvePoint, phase Phase)
}

func (c *Characterizer) logger() *log.Logger {
	if c.Logger == nil {
		return log.Default()
	}
	return c.Logger
}

func (c *Characterizer) measure(channel int, amp float64) (int, error) {
	if err := c.Stimulus.SetAmplitude(channel, amp); err != nil {
		return 0, errors.Wrapf(err, "set amplitude %g mVpp on channel %d", amp, channel)
	}
	if err := c.Stimulus.Apply(); err != nil {
		return 0, errors.Wrapf(err, "apply stimulus on channel %d", channel)
	}
	hits, err := c.Counter.Measure(channel, c.Config.TrialsPerPoint)
	if err != nil {
		return 0, errors.Wrapf(err, "count triggers on channel %d at %g mVpp", channel, amp)
	}
	return hits, nil
}

// Characterize measures, fits and validates the trigger response of one channel.
//
// The only error returned is a configuration error.  A collaborator failure
// ends sampling early; the points gathered so far are still fit and
// validated, and the failure is stored in Record.Error.
func (c *Characterizer) Characterize(channel int) (Record, error) {
	if err := c.Config.Validate(); err != nil {
		return Record{}, err
	}
	var (
		ds     = NewDataset()
		s      = NewSampler(c.Config.SamplerConfig())
		l      = c.logger()
		reason StopReason
		runErr error
	)
	for {
		prop := s.Next(ds)
		if prop.Stop {
			reason = prop.Reason
			break
		}
		hits, err := c.measure(channel, prop.Amplitude)
		if err != nil {
			l.Printf("channel %d: %v, stopping after %d points", channel, err, ds.Len())
			reason, runErr = StopAborted, err
			break
		}
		pt := Estimate(prop.Amplitude, hits, c.Config.TrialsPerPoint)
		if err := ds.Add(pt); err != nil {
			// the sampler never repeats an amplitude, so this is a programming error upstream
			reason, runErr = StopAborted, err
			break
		}
		l.Printf("channel %d [%s]: %.1f mVpp -> %d/%d triggers, efficiency %.2f +- %.2f",
			channel, prop.Phase, pt.Amplitude, pt.Hits, pt.Trials, pt.Efficiency, pt.EfficiencyError)
		if c.Progress != nil {
			c.Progress(channel, pt, prop.Phase)
		}
	}

	fit := Fit(ds, c.Config.Guess)
	verdict := Validate(fit, c.Config.Halfway, c.Config.Steepness)
	rec := NewRecord(channel, ds, fit, verdict)
	rec.StopReason = reason
	rec.Iterations = s.Iterations
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	if c.Config.Conversion != nil && fit.Converged {
		v := c.Config.Conversion.Apply(*fit.Halfway)
		if !math.IsNaN(v) {
			rec.HalfwayVppCh = &v
		}
	}
	if fit.Converged {
		l.Printf("channel %d: stopped (%s) with %d points, halfway %.2f steepness %.2f, passed=%t",
			channel, reason, ds.Len(), *fit.Halfway, *fit.Steepness, verdict.Passed)
	} else {
		l.Printf("channel %d: stopped (%s) with %d points, fit did not converge: %s",
			channel, reason, ds.Len(), fit.Reason)
	}
	return rec, nil
}
