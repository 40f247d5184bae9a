package bench

import (
	"io/ioutil"
	"log"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/rno-g/radiantbench/daq"
	"github.com/rno-g/radiantbench/trigresp"
)

var testMap = ChannelMap{ClockChannel: 0, ClockChannelAlternative: 3, SGDirect: 1, SGBridge: 2}

func testSettings() Settings {
	return Settings{
		Threshold:      0.5,
		TriggerRate:    100,
		RunBuffer:      2,
		ClockAmplitude: 800,
		Criteria:       daq.DefaultCriteria(),
	}
}

func TestChannelMapSettings(t *testing.T) {
	got := testMap.Settings(5)
	want := Route{SGSignal: 2, SGClock: 1, RadiantClock: 0, RelayChannel: 5}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("route mismatch (-want +got):\n%s", diff)
	}
}

func TestChannelMapSwapsForClockChannel(t *testing.T) {
	got := testMap.Settings(0)
	want := Route{SGSignal: 1, SGClock: 2, RadiantClock: 3, RelayChannel: 3}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("route mismatch (-want +got):\n%s", diff)
	}
}

func TestChannelMapValidate(t *testing.T) {
	if err := testMap.Validate(); err != nil {
		t.Error(err)
	}
	bad := testMap
	bad.SGBridge = bad.SGDirect
	if bad.Validate() == nil {
		t.Error("expected identical generator channels to be rejected")
	}
}

func TestPrepareRoutesAndConfigures(t *testing.T) {
	b, _ := NewMock(daq.Curve{Halfway: 200, Steepness: 30}, 1, testMap, testSettings())
	b.Logger = log.New(ioutil.Discard, "", 0)
	if err := b.Prepare(7, 100); err != nil {
		t.Fatal(err)
	}
	gen := b.Generator.(*MockGenerator)
	if !gen.IsOn(1) || !gen.IsOn(2) {
		t.Error("expected both outputs on")
	}
	if diff := cmp.Diff([]int{7}, b.Relay.(*MockRelay).Routed); diff != "" {
		t.Errorf("routing mismatch (-want +got):\n%s", diff)
	}
	if err := b.Shutdown(); err != nil {
		t.Fatal(err)
	}
	if gen.IsOn(1) || gen.IsOn(2) {
		t.Error("expected both outputs off after shutdown")
	}
}

func TestStimulusApplyNeedsStage(t *testing.T) {
	b, _ := NewMock(daq.Curve{}, 1, testMap, testSettings())
	if err := b.Stimulus().Apply(); err == nil {
		t.Error("expected an error with nothing staged")
	}
}

func TestMockBenchCharacterizes(t *testing.T) {
	quiet := log.New(ioutil.Discard, "", 0)
	b, _ := NewMock(daq.Curve{Halfway: 200, Steepness: 30}, 42, testMap, testSettings())
	b.Logger = quiet
	if err := b.Prepare(4, 100); err != nil {
		t.Fatal(err)
	}
	c := trigresp.Characterizer{
		Stimulus: b.Stimulus(),
		Counter:  b.Counter(),
		Config: trigresp.Config{
			Bounds:         trigresp.Bounds{Min: 50, Max: 1200},
			Start:          100,
			Step:           50,
			Resolution:     0.5,
			TargetOnSlope:  5,
			MaxPoints:      20,
			TrialsPerPoint: 200,
			Guess:          trigresp.Guess{Halfway: 150, Steepness: 20},
			Halfway:        trigresp.Window{Min: 100, Max: 300},
			Steepness:      trigresp.Window{Min: 1, Max: 100},
		},
		Logger: quiet,
	}
	rec, err := c.Characterize(4)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Error != "" {
		t.Fatalf("unexpected collaborator error %s", rec.Error)
	}
	if !rec.Fit.Converged {
		t.Fatalf("fit did not converge: %s", rec.Fit.Reason)
	}
	if math.Abs(*rec.Fit.Halfway-200) > 20 {
		t.Errorf("expected halfway near 200, got %f", *rec.Fit.Halfway)
	}
	gen := b.Generator.(*MockGenerator)
	// the first applied amplitude is the one Prepare set
	if len(gen.Applied) != len(rec.Points)+1 {
		t.Errorf("expected one applied amplitude per point, got %d for %d", len(gen.Applied), len(rec.Points))
	}
}

func TestMockRejectsOutOfRangeAmplitude(t *testing.T) {
	b, _ := NewMock(daq.Curve{}, 1, testMap, testSettings())
	s := b.Stimulus()
	s.SetAmplitude(2, 20)
	if err := s.Apply(); err == nil {
		t.Error("expected the generator amplitude guard to reject 20 mVpp")
	}
}
