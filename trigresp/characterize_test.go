package trigresp

import (
	"encoding/json"
	"io/ioutil"
	"log"
	"math"
	"testing"

	"github.com/pkg/errors"
)

// mockStimulus records the amplitudes it is asked to apply
type mockStimulus struct {
	staged  float64
	applied []float64
	failAt  int
}

func (m *mockStimulus) SetAmplitude(channel int, mVpp float64) error {
	m.staged = mVpp
	return nil
}

func (m *mockStimulus) Apply() error {
	if m.failAt > 0 && len(m.applied)+1 == m.failAt {
		return errors.New("generator did not acknowledge")
	}
	m.applied = append(m.applied, m.staged)
	return nil
}

// curveCounter answers each measurement with the expected number of hits of a tanh response
type curveCounter struct {
	stim      *mockStimulus
	halfway   float64
	steepness float64
}

func (c *curveCounter) Measure(channel, trials int) (int, error) {
	eff := Model(c.stim.staged, c.halfway, c.steepness)
	return int(math.Round(eff * float64(trials))), nil
}

func testConfig() Config {
	return Config{
		Bounds:         Bounds{Min: 50, Max: 1200},
		Start:          100,
		Step:           50,
		Resolution:     0.1,
		TargetOnSlope:  4,
		MaxPoints:      20,
		TrialsPerPoint: 100,
		Guess:          Guess{Halfway: 150, Steepness: 20},
		Halfway:        Window{Min: 80, Max: 300},
		Steepness:      Window{Min: 1, Max: 80},
	}
}

func quietLogger() *log.Logger {
	return log.New(ioutil.Discard, "", 0)
}

func TestCharacterizeFindsCurve(t *testing.T) {
	stim := &mockStimulus{}
	c := Characterizer{
		Stimulus: stim,
		Counter:  &curveCounter{stim: stim, halfway: 180, steepness: 40},
		Config:   testConfig(),
		Logger:   quietLogger(),
	}
	c.Config.Conversion = &Conversion{Slope: 0.5, Intercept: 10}
	var progress int
	c.Progress = func(int, CurvePoint, Phase) { progress++ }

	rec, err := c.Characterize(3)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Channel != 3 {
		t.Errorf("expected channel 3, got %d", rec.Channel)
	}
	if rec.StopReason != StopTargetReached {
		t.Errorf("expected %q, got %q", StopTargetReached, rec.StopReason)
	}
	if !rec.Fit.Converged {
		t.Fatalf("expected the fit to converge, got %q", rec.Fit.Reason)
	}
	if math.Abs(*rec.Fit.Halfway-180) > 5 {
		t.Errorf("expected halfway near 180, got %f", *rec.Fit.Halfway)
	}
	if !rec.Verdict.Passed {
		t.Errorf("expected a passing verdict, got %+v", rec.Verdict)
	}
	if rec.HalfwayVppCh == nil || math.Abs(*rec.HalfwayVppCh-(*rec.Fit.Halfway*0.5+10)) > 1e-9 {
		t.Errorf("expected converted halfway, got %v", rec.HalfwayVppCh)
	}
	if progress != len(rec.Points) || len(stim.applied) != len(rec.Points) {
		t.Errorf("expected one progress call and one stimulus per point, got %d, %d for %d points",
			progress, len(stim.applied), len(rec.Points))
	}
	seen := map[float64]bool{}
	for _, a := range stim.applied {
		if seen[a] {
			t.Errorf("amplitude %f applied twice", a)
		}
		seen[a] = true
	}
}

func TestCharacterizeReferenceScanRecord(t *testing.T) {
	stim := &mockStimulus{}
	c := Characterizer{
		Stimulus: stim,
		Counter:  &curveCounter{stim: stim, halfway: 125, steepness: 20},
		Config:   testConfig(),
		Logger:   quietLogger(),
	}
	rec, err := c.Characterize(0)
	if err != nil {
		t.Fatal(err)
	}
	b, err := json.Marshal(rec)
	if err != nil {
		t.Fatal(err)
	}
	var generic map[string]interface{}
	if err := json.Unmarshal(b, &generic); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"channel", "amplitude_signal_gen", "trigger_eff", "trigger_eff_err",
		"points", "fit_parameter", "verdict", "stop_reason", "iterations", "halfway_vpp_ch"} {
		if _, ok := generic[key]; !ok {
			t.Errorf("record JSON is missing %q", key)
		}
	}
	fp := generic["fit_parameter"].(map[string]interface{})
	for _, key := range []string{"halfway", "steepness", "pcov", "converged"} {
		if _, ok := fp[key]; !ok {
			t.Errorf("fit_parameter JSON is missing %q", key)
		}
	}
	if _, ok := generic["error"]; ok {
		t.Error("error must be omitted on a clean run")
	}
}

func TestCharacterizeExhaustedBracket(t *testing.T) {
	stim := &mockStimulus{}
	cfg := testConfig()
	cfg.Bounds = Bounds{Min: 50, Max: 55}
	cfg.Start = 50
	c := Characterizer{
		Stimulus: stim,
		// far too weak to saturate inside the bounds
		Counter: &curveCounter{stim: stim, halfway: 5000, steepness: 10},
		Config:  cfg,
		Logger:  quietLogger(),
	}
	rec, err := c.Characterize(1)
	if err != nil {
		t.Fatal(err)
	}
	if rec.StopReason != StopBoundaryExhausted {
		t.Errorf("expected %q, got %q", StopBoundaryExhausted, rec.StopReason)
	}
	if stim.applied[len(stim.applied)-1] != 55 {
		t.Errorf("expected the last amplitude to be the upper bound, got %v", stim.applied)
	}
	if rec.Fit.Converged || rec.Verdict.Passed {
		t.Errorf("expected a failed fit and verdict, got %+v %+v", rec.Fit, rec.Verdict)
	}
	if rec.HalfwayVppCh != nil {
		t.Error("expected no converted halfway without a fit")
	}
}

func TestCharacterizeHardwareFailureStillProducesRecord(t *testing.T) {
	stim := &mockStimulus{failAt: 4}
	c := Characterizer{
		Stimulus: stim,
		Counter:  &curveCounter{stim: stim, halfway: 180, steepness: 40},
		Config:   testConfig(),
		Logger:   quietLogger(),
	}
	rec, err := c.Characterize(2)
	if err != nil {
		t.Fatalf("hardware errors must not be returned, got %v", err)
	}
	if rec.StopReason != StopAborted || rec.Error == "" {
		t.Errorf("expected an aborted record with an error, got %q %q", rec.StopReason, rec.Error)
	}
	if len(rec.Points) != 3 {
		t.Errorf("expected the 3 points measured before the failure, got %d", len(rec.Points))
	}
}

func TestCharacterizeRejectsBadConfig(t *testing.T) {
	cases := map[string]func(*Config){
		"inverted bounds":    func(c *Config) { c.Bounds = Bounds{Min: 200, Max: 100} },
		"start outside":      func(c *Config) { c.Start = 10 },
		"zero step":          func(c *Config) { c.Step = 0 },
		"no trials":          func(c *Config) { c.TrialsPerPoint = 0 },
		"no target":          func(c *Config) { c.TargetOnSlope = 0 },
		"one point":          func(c *Config) { c.MaxPoints = 1 },
		"zero steepness":     func(c *Config) { c.Guess.Steepness = 0 },
		"inverted halfway":   func(c *Config) { c.Halfway = Window{Min: 10, Max: 5} },
		"inverted steepness": func(c *Config) { c.Steepness = Window{Min: 10, Max: 5} },
		"nan bound":          func(c *Config) { c.Bounds.Max = math.NaN() },
	}
	for name, mutate := range cases {
		cfg := testConfig()
		mutate(&cfg)
		stim := &mockStimulus{}
		c := Characterizer{Stimulus: stim, Counter: &curveCounter{stim: stim}, Config: cfg, Logger: quietLogger()}
		_, err := c.Characterize(0)
		if errors.Cause(err) != ErrConfiguration {
			t.Errorf("%s: expected ErrConfiguration, got %v", name, err)
		}
		if len(stim.applied) != 0 {
			t.Errorf("%s: hardware touched despite a configuration error", name)
		}
	}
}
