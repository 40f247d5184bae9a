package bench

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"

	"github.com/rno-g/radiantbench/daq"
	"github.com/rno-g/radiantbench/keysight"
)

// MockGenerator behaves like the 81160A and forwards its pulses to a simulated station
type MockGenerator struct {
	Station daq.Injector

	mu         sync.Mutex
	amplitudes map[int]float64
	outputs    map[int]bool
	signal     int

	// Applied is every amplitude set on the signal channel, in order
	Applied []float64
}

// NewMockGenerator creates a generator feeding st
func NewMockGenerator(st daq.Injector) *MockGenerator {
	return &MockGenerator{Station: st, amplitudes: map[int]float64{}, outputs: map[int]bool{}}
}

func mockChannel(ch int) error {
	if ch != 1 && ch != 2 {
		return errors.Wrapf(keysight.ErrChannel, "channel %d", ch)
	}
	return nil
}

// SetAmplitudeMVpp implements Generator
func (g *MockGenerator) SetAmplitudeMVpp(ch int, mVpp float64) error {
	if err := mockChannel(ch); err != nil {
		return err
	}
	if mVpp < keysight.AmplitudeMin || mVpp > keysight.AmplitudeMax {
		return errors.Wrapf(keysight.ErrAmplitudeRange, "%g mVpp", mVpp)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.amplitudes[ch] = mVpp
	if ch == g.signal {
		g.Applied = append(g.Applied, mVpp)
	}
	return nil
}

// Output implements Generator
func (g *MockGenerator) Output(ch int, on bool) error {
	if err := mockChannel(ch); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.outputs[ch] = on
	return nil
}

// IsOn returns the output state of a channel
func (g *MockGenerator) IsOn(ch int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.outputs[ch]
}

// ConfigurePair implements Generator
func (g *MockGenerator) ConfigurePair(waveform []float64, sigCh, clockCh int, sigMVpp, clockMVpp float64) error {
	if sigCh == clockCh {
		return fmt.Errorf("signal and clock both on channel %d", sigCh)
	}
	g.mu.Lock()
	g.signal = sigCh
	g.mu.Unlock()
	for _, ch := range []int{sigCh, clockCh} {
		if err := g.Output(ch, false); err != nil {
			return err
		}
	}
	if err := g.SetAmplitudeMVpp(sigCh, sigMVpp); err != nil {
		return err
	}
	if err := g.SetAmplitudeMVpp(clockCh, clockMVpp); err != nil {
		return err
	}
	for _, ch := range []int{sigCh, clockCh} {
		if err := g.Output(ch, true); err != nil {
			return err
		}
	}
	return nil
}

// SendTriggers implements Generator.  Pulses are only seen while both outputs are on.
func (g *MockGenerator) SendTriggers(ctx context.Context, n int, rateHz float64) error {
	g.mu.Lock()
	sig := g.signal
	amp := g.amplitudes[sig]
	on := g.outputs[sig]
	g.mu.Unlock()
	if !on || g.Station == nil {
		return nil
	}
	return g.Station.Inject(ctx, n, amp)
}

// MockRelay records the routing requests
type MockRelay struct {
	Routed []int
}

// RouteSignalToChannel implements Relay
func (r *MockRelay) RouteSignalToChannel(ch int) error {
	r.Routed = append(r.Routed, ch)
	return nil
}

// NewMock builds a bench that needs no hardware: a simulated station whose
// channels follow curve, and a generator and relays that only keep records
func NewMock(curve daq.Curve, seed int64, m ChannelMap, s Settings) (*Bench, *daq.SimStation) {
	st := daq.NewSimStation(curve, seed)
	b := &Bench{
		Generator: NewMockGenerator(st),
		Relay:     &MockRelay{},
		Station:   st,
		Map:       m,
		Settings:  s,
	}
	return b, st
}
