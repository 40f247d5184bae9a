package daq

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Curve is the simulated trigger response of a channel
type Curve struct {
	Halfway   float64 `koanf:"halfway" yaml:"halfway"`
	Steepness float64 `koanf:"steepness" yaml:"steepness"`
}

// Efficiency is the probability that a pulse of mVpp triggers
func (c Curve) Efficiency(mVpp float64) float64 {
	if c.Steepness == 0 {
		if mVpp >= c.Halfway {
			return 1
		}
		return 0
	}
	return 0.5 * (math.Tanh((mVpp-c.Halfway)/c.Steepness) + 1)
}

type simRun struct {
	run    Run
	conf   RunConfig
	pulses []float64
}

// SimStation simulates a station with a RADIANT whose channels follow a
// tanh trigger response.  Each injected pulse triggers with the
// probability of the curve of the first RF0 mask channel; triggered events
// carry a clock pulse that passes DefaultCriteria.  ForcedTriggers RF1
// events are added to every run.
type SimStation struct {
	UID string

	// Default is the response of channels without an entry in Channels
	Default  Curve
	Channels map[int]Curve

	ForcedTriggers int

	mu      sync.Mutex
	quad    int
	ampsOn  bool
	rng     *rand.Rand
	conf    *RunConfig
	current *simRun
	runs    map[string]*simRun
}

// NewSimStation creates a simulated station with a reproducible random stream
func NewSimStation(def Curve, seed int64) *SimStation {
	return &SimStation{
		UID:     fmt.Sprintf("%032x", seed),
		Default: def,
		quad:    CalOff,
		rng:     rand.New(rand.NewSource(seed)),
		runs:    make(map[string]*simRun),
	}
}

func (s *SimStation) curve(ch int) Curve {
	if c, ok := s.Channels[ch]; ok {
		return c
	}
	return s.Default
}

// BoardUID implements Station
func (s *SimStation) BoardUID(ctx context.Context) (string, error) {
	return s.UID, nil
}

// CalSelect implements Station
func (s *SimStation) CalSelect(ctx context.Context, quad int) error {
	if err := ValidQuad(quad); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quad = quad
	return nil
}

// CalQuad is the selected calibration quad, CalOff if none
func (s *SimStation) CalQuad() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quad
}

// SurfaceAmps implements Station
func (s *SimStation) SurfaceAmps(ctx context.Context, on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ampsOn = on
	return nil
}

// SurfaceAmpsOn reports whether the surface amplifiers are powered
func (s *SimStation) SurfaceAmpsOn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ampsOn
}

// SetRunConfig implements Station
func (s *SimStation) SetRunConfig(ctx context.Context, c RunConfig) error {
	if err := c.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conf = &c
	return nil
}

// StartRun implements Station
func (s *SimStation) StartRun(ctx context.Context) (Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conf == nil {
		return Run{}, ErrNoRunConfig
	}
	id := uuid.New().String()
	r := &simRun{
		run:  Run{ID: id, DataDir: path.Join("data", "run_"+id[:8]), Started: time.Now()},
		conf: *s.conf,
	}
	s.runs[id] = r
	s.current = r
	return r.run, nil
}

// Inject records pulses sent during the current run.  Pulses outside a run are lost.
func (s *SimStation) Inject(ctx context.Context, pulses int, mVpp float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	for i := 0; i < pulses; i++ {
		s.current.pulses = append(s.current.pulses, mVpp)
	}
	return nil
}

// WaitRun implements Station.  Simulated runs end as soon as they are waited on.
func (s *SimStation) WaitRun(ctx context.Context, id string) (Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return Summary{}, ErrUnknownRun
	}
	if s.current == r {
		s.current = nil
	}
	sum := Summary{Run: r.run, Events: []Event{}}
	if r.conf.RF0Enable && len(r.conf.RF0Mask) > 0 {
		c := s.curve(r.conf.RF0Mask[0])
		for _, mVpp := range r.pulses {
			if s.rng.Float64() < c.Efficiency(mVpp) {
				sum.Events = append(sum.Events, Event{
					RadiantTrigger:      true,
					WhichRadiantTrigger: 0,
					ClockPeakIndex:      1600 + s.rng.Intn(100),
					ClockPeakAmplitude:  300,
				})
			}
		}
	}
	for i := 0; i < s.ForcedTriggers; i++ {
		sum.Events = append(sum.Events, Event{RadiantTrigger: true, WhichRadiantTrigger: 1})
	}
	delete(s.runs, id)
	return sum, nil
}
