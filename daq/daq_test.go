package daq

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
)

func TestRunLength(t *testing.T) {
	if got := RunLength(100, 10, 20); got != 30 {
		t.Errorf("expected 30 s, got %f", got)
	}
}

func TestNewRunConfig(t *testing.T) {
	c := NewRunConfig(5, 0.8, 30, "AUX trigger response")
	if err := c.Validate(); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]int{5}, c.RF0Mask); diff != "" {
		t.Errorf("mask mismatch (-want +got):\n%s", diff)
	}
	for ch, th := range c.Thresholds {
		if th != 0.8 {
			t.Errorf("channel %d threshold %f", ch, th)
		}
	}
	if c.RF0NumCoincidences != 1 || !c.RF0Enable || c.RF1Enable || c.SoftTriggerEnable || c.ServoEnable {
		t.Errorf("unexpected trigger settings %+v", c)
	}
}

func TestRunConfigValidate(t *testing.T) {
	bad := []RunConfig{
		{Thresholds: make([]float64, 3), RunLength: 1},
		NewRunConfig(24, 0.5, 10, ""),
		NewRunConfig(1, 0.5, 0, ""),
	}
	for i, c := range bad {
		if c.Validate() == nil {
			t.Errorf("case %d: expected a validation error", i)
		}
	}
}

func TestCountQualifying(t *testing.T) {
	events := []Event{
		{RadiantTrigger: true, WhichRadiantTrigger: 0, ClockPeakIndex: 1600, ClockPeakAmplitude: 300},
		{RadiantTrigger: true, WhichRadiantTrigger: 1, ClockPeakIndex: 1600, ClockPeakAmplitude: 300},
		{RadiantTrigger: false, WhichRadiantTrigger: 0, ClockPeakIndex: 1600, ClockPeakAmplitude: 300},
		{RadiantTrigger: true, WhichRadiantTrigger: 0, ClockPeakIndex: 1500, ClockPeakAmplitude: 300},
		{RadiantTrigger: true, WhichRadiantTrigger: 0, ClockPeakIndex: 1799, ClockPeakAmplitude: 300},
		{RadiantTrigger: true, WhichRadiantTrigger: 0, ClockPeakIndex: 1700, ClockPeakAmplitude: 50},
	}
	if n := CountQualifying(events, DefaultCriteria()); n != 2 {
		t.Errorf("expected 2 qualifying triggers, got %d", n)
	}
}

func TestSimStationSaturates(t *testing.T) {
	ctx := context.Background()
	s := NewSimStation(Curve{Halfway: 100, Steepness: 10}, 1)
	s.ForcedTriggers = 3
	hits := func(mVpp float64) int {
		if err := s.SetRunConfig(ctx, NewRunConfig(0, 0.5, 10, "")); err != nil {
			t.Fatal(err)
		}
		run, err := s.StartRun(ctx)
		if err != nil {
			t.Fatal(err)
		}
		s.Inject(ctx, 50, mVpp)
		sum, err := s.WaitRun(ctx, run.ID)
		if err != nil {
			t.Fatal(err)
		}
		if len(sum.Events) != CountQualifying(sum.Events, DefaultCriteria())+3 {
			t.Errorf("forced triggers must not qualify")
		}
		return CountQualifying(sum.Events, DefaultCriteria())
	}
	if n := hits(10); n != 0 {
		t.Errorf("expected no triggers far below the curve, got %d", n)
	}
	if n := hits(400); n != 50 {
		t.Errorf("expected every pulse to trigger far above the curve, got %d", n)
	}
}

func TestSimStationPerChannelCurve(t *testing.T) {
	s := NewSimStation(Curve{Halfway: 100, Steepness: 10}, 1)
	s.Channels = map[int]Curve{7: {Halfway: 1000, Steepness: 1}}
	if s.curve(7).Halfway != 1000 || s.curve(6).Halfway != 100 {
		t.Error("per channel curve not selected")
	}
}

func TestSimStationErrors(t *testing.T) {
	ctx := context.Background()
	s := NewSimStation(Curve{Halfway: 100, Steepness: 10}, 1)
	if _, err := s.StartRun(ctx); err != ErrNoRunConfig {
		t.Errorf("expected ErrNoRunConfig, got %v", err)
	}
	if _, err := s.WaitRun(ctx, "nope"); err != ErrUnknownRun {
		t.Errorf("expected ErrUnknownRun, got %v", err)
	}
}

func TestClientAgainstRouter(t *testing.T) {
	ctx := context.Background()
	sim := NewSimStation(Curve{Halfway: 100, Steepness: 10}, 2)
	srv := httptest.NewServer(NewRouter(sim))
	defer srv.Close()
	c := NewClient(srv.URL)

	uid, err := c.BoardUID(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if uid != sim.UID || len(uid) != 32 {
		t.Errorf("unexpected uid %q", uid)
	}
	if err := c.SetRunConfig(ctx, NewRunConfig(3, 0.5, 12, "test")); err != nil {
		t.Fatal(err)
	}
	run, err := c.StartRun(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Inject(ctx, 20, 500); err != nil {
		t.Fatal(err)
	}
	sum, err := c.WaitRun(ctx, run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Run.ID != run.ID {
		t.Errorf("summary of the wrong run %q", sum.Run.ID)
	}
	if n := CountQualifying(sum.Events, DefaultCriteria()); n != 20 {
		t.Errorf("expected 20 qualifying triggers, got %d", n)
	}
}

func TestClientMapsStatus(t *testing.T) {
	ctx := context.Background()
	srv := httptest.NewServer(NewRouter(NewSimStation(Curve{}, 1)))
	defer srv.Close()
	c := NewClient(srv.URL)
	if _, err := c.WaitRun(ctx, "missing"); errors.Cause(err) != ErrUnknownRun {
		t.Errorf("expected ErrUnknownRun, got %v", err)
	}
	if _, err := c.StartRun(ctx); errors.Cause(err) != ErrNoRunConfig {
		t.Errorf("expected ErrNoRunConfig, got %v", err)
	}
	if err := c.SetRunConfig(ctx, RunConfig{}); err == nil {
		t.Error("expected an invalid run config to be rejected")
	}
}

func TestClientRetriesServerErrors(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"uid":"00000000000000000000000000000001"}`))
	}))
	defer srv.Close()
	c := NewClient(srv.URL)
	c.MaxElapsed = 5 * time.Second
	uid, err := c.BoardUID(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if calls != 3 || uid != "00000000000000000000000000000001" {
		t.Errorf("expected success on the third call, got %d calls, uid %q", calls, uid)
	}
}

func TestClientDoesNotRetryClientErrors(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "bad", http.StatusBadRequest)
	}))
	defer srv.Close()
	c := NewClient(srv.URL)
	if err := c.SetRunConfig(context.Background(), NewRunConfig(0, 1, 1, "")); err == nil {
		t.Fatal("expected an error")
	}
	if calls != 1 {
		t.Errorf("expected a single call, got %d", calls)
	}
}

func TestSimStationCalSelectAndAmps(t *testing.T) {
	ctx := context.Background()
	s := NewSimStation(Curve{Halfway: 100, Steepness: 10}, 1)
	if s.CalQuad() != CalOff || s.SurfaceAmpsOn() {
		t.Errorf("expected a station with pulser and amps off")
	}
	if err := s.CalSelect(ctx, 2); err != nil {
		t.Fatal(err)
	}
	if err := s.CalSelect(ctx, NumCalQuads); errors.Cause(err) != ErrCalQuad {
		t.Errorf("expected ErrCalQuad, got %v", err)
	}
	if s.CalQuad() != 2 {
		t.Errorf("expected quad 2, got %d", s.CalQuad())
	}
	s.SurfaceAmps(ctx, true)
	if !s.SurfaceAmpsOn() {
		t.Error("expected the amps on")
	}
}

func TestClientCalSelectAndAmps(t *testing.T) {
	ctx := context.Background()
	sim := NewSimStation(Curve{}, 1)
	srv := httptest.NewServer(NewRouter(sim))
	defer srv.Close()
	c := NewClient(srv.URL)
	if err := c.CalSelect(ctx, 1); err != nil {
		t.Fatal(err)
	}
	if err := c.SurfaceAmps(ctx, true); err != nil {
		t.Fatal(err)
	}
	if sim.CalQuad() != 1 || !sim.SurfaceAmpsOn() {
		t.Errorf("expected quad 1 and amps on, got quad %d amps %t", sim.CalQuad(), sim.SurfaceAmpsOn())
	}
	if err := c.CalSelect(ctx, CalOff); err != nil {
		t.Fatal(err)
	}
	if err := c.SurfaceAmps(ctx, false); err != nil {
		t.Fatal(err)
	}
	if sim.CalQuad() != CalOff || sim.SurfaceAmpsOn() {
		t.Errorf("expected pulser and amps off, got quad %d amps %t", sim.CalQuad(), sim.SurfaceAmpsOn())
	}
	if err := c.CalSelect(ctx, 7); errors.Cause(err) != ErrCalQuad {
		t.Errorf("expected ErrCalQuad, got %v", err)
	}
}

func TestClientDoesNotRetryStartRun(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	c := NewClient(srv.URL)
	c.MaxElapsed = 5 * time.Second
	if _, err := c.StartRun(context.Background()); err == nil {
		t.Fatal("expected an error")
	}
	if calls != 1 {
		t.Errorf("expected a single start, got %d", calls)
	}
}
