/*Package bench binds the bench instruments to the characterization engine.

The signal generator has two channels: one goes through the splitter
bridge and the Arduino relays to the channel under test, the other goes
straight to the RADIANT clock channel and provides the reference pulse the
trigger selection cuts on.  When the channel under test is the clock
channel itself, the roles swap, and the alternative clock channel is used
as reference.

Stimulus and Counter implement trigresp.StimulusSource and
trigresp.TriggerCounter on top of this wiring.
*/
package bench

import (
	"context"
	"log"
	"time"

	"github.com/pkg/errors"

	"github.com/rno-g/radiantbench/daq"
)

// Generator is the signal generator, satisfied by *keysight.Generator
type Generator interface {
	SetAmplitudeMVpp(ch int, mVpp float64) error
	Output(ch int, on bool) error
	ConfigurePair(waveform []float64, sigCh, clockCh int, sigMVpp, clockMVpp float64) error
	SendTriggers(ctx context.Context, n int, rateHz float64) error
}

// Relay routes the bridged output to a RADIANT channel, satisfied by *arduino.Router
type Relay interface {
	RouteSignalToChannel(ch int) error
}

// ChannelMap is the cabling of the bench
type ChannelMap struct {
	// ClockChannel is the RADIANT channel wired to the direct generator output
	ClockChannel int `koanf:"clockchannel" yaml:"clockchannel"`

	// ClockChannelAlternative is the reference used when ClockChannel is under test
	ClockChannelAlternative int `koanf:"clockchannelalternative" yaml:"clockchannelalternative"`

	// SGDirect is the generator channel cabled straight to the RADIANT
	SGDirect int `koanf:"sgdirect" yaml:"sgdirect"`

	// SGBridge is the generator channel cabled to the bridge and relays
	SGBridge int `koanf:"sgbridge" yaml:"sgbridge"`
}

// Route is where the signal and the clock go for one channel under test
type Route struct {
	// SGSignal is the generator channel carrying the stimulus
	SGSignal int

	// SGClock is the generator channel carrying the reference pulse
	SGClock int

	// RadiantClock is the RADIANT channel that sees the reference pulse
	RadiantClock int

	// RelayChannel is the channel the relays must route the bridge to
	RelayChannel int
}

// Settings returns the route for a channel under test
func (m ChannelMap) Settings(ch int) Route {
	if ch != m.ClockChannel {
		return Route{SGSignal: m.SGBridge, SGClock: m.SGDirect, RadiantClock: m.ClockChannel, RelayChannel: ch}
	}
	return Route{
		SGSignal:     m.SGDirect,
		SGClock:      m.SGBridge,
		RadiantClock: m.ClockChannelAlternative,
		RelayChannel: m.ClockChannelAlternative,
	}
}

// Validate checks the generator channels are distinct and the clock channels differ
func (m ChannelMap) Validate() error {
	if m.SGDirect == m.SGBridge {
		return errors.Errorf("generator channels must differ, both are %d", m.SGDirect)
	}
	if m.ClockChannel == m.ClockChannelAlternative {
		return errors.Errorf("clock channel and its alternative are both %d", m.ClockChannel)
	}
	return nil
}

// Settings are the acquisition parameters of the bench
type Settings struct {
	// Threshold is the trigger threshold in V applied to every channel
	Threshold float64

	// TriggerRate is the pulse rate in Hz
	TriggerRate float64

	// RunBuffer is added to the run length, in seconds
	RunBuffer float64

	// StartupDelay is waited between the run start and the first pulse
	StartupDelay time.Duration

	// ClockAmplitude is the reference pulse amplitude in mVpp
	ClockAmplitude float64

	// Waveform is uploaded to the signal channel if not empty
	Waveform []float64

	Criteria daq.Criteria
}

// Bench wires the generator, the relays and the station together
type Bench struct {
	Generator Generator

	// Relay may be nil when the channels are patched by hand
	Relay Relay

	Station daq.Station
	Map     ChannelMap
	Settings

	// Ctx bounds every blocking call; nil means context.Background()
	Ctx context.Context

	// Logger nil means log.Default()
	Logger *log.Logger

	// Status, if not nil, is told what the bench is waiting on
	Status func(msg string)
}

func (b *Bench) ctx() context.Context {
	if b.Ctx == nil {
		return context.Background()
	}
	return b.Ctx
}

func (b *Bench) logger() *log.Logger {
	if b.Logger == nil {
		return log.Default()
	}
	return b.Logger
}

func (b *Bench) status(msg string) {
	if b.Status != nil {
		b.Status(msg)
	}
}

// Prepare routes the signal to a channel and sets up both generator outputs,
// the signal at startMVpp and the clock at ClockAmplitude
func (b *Bench) Prepare(ch int, startMVpp float64) error {
	r := b.Map.Settings(ch)
	if b.Relay != nil {
		if err := b.Relay.RouteSignalToChannel(r.RelayChannel); err != nil {
			return err
		}
	}
	err := b.Generator.ConfigurePair(b.Waveform, r.SGSignal, r.SGClock, startMVpp, b.ClockAmplitude)
	if err != nil {
		return errors.Wrapf(err, "configure generator for channel %d", ch)
	}
	b.logger().Printf("channel %d: signal on SG%d, clock on SG%d to RADIANT channel %d",
		ch, r.SGSignal, r.SGClock, r.RadiantClock)
	return nil
}

// Shutdown turns both generator outputs off
func (b *Bench) Shutdown() error {
	var first error
	for _, ch := range []int{b.Map.SGBridge, b.Map.SGDirect} {
		if err := b.Generator.Output(ch, false); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Stimulus returns the StimulusSource of the bench
func (b *Bench) Stimulus() *Stimulus {
	return &Stimulus{bench: b}
}

// Counter returns the TriggerCounter of the bench
func (b *Bench) Counter() *Counter {
	return &Counter{bench: b}
}

// Stimulus stages an amplitude on the generator channel that feeds the channel under test
type Stimulus struct {
	bench   *Bench
	channel int
	mVpp    float64
	staged  bool
}

// SetAmplitude implements trigresp.StimulusSource
func (s *Stimulus) SetAmplitude(channel int, mVpp float64) error {
	s.channel, s.mVpp, s.staged = channel, mVpp, true
	return nil
}

// Apply implements trigresp.StimulusSource
func (s *Stimulus) Apply() error {
	if !s.staged {
		return errors.New("no amplitude staged")
	}
	r := s.bench.Map.Settings(s.channel)
	return s.bench.Generator.SetAmplitudeMVpp(r.SGSignal, s.mVpp)
}

// Counter counts qualifying triggers over one DAQ run per measurement
type Counter struct {
	bench *Bench
}

// Measure implements trigresp.TriggerCounter
func (c *Counter) Measure(channel, trials int) (int, error) {
	b := c.bench
	ctx := b.ctx()
	length := daq.RunLength(trials, b.TriggerRate, b.RunBuffer)
	conf := daq.NewRunConfig(channel, b.Threshold, length, "AUX trigger response")
	if err := b.Station.SetRunConfig(ctx, conf); err != nil {
		return 0, errors.Wrap(err, "set run config")
	}
	run, err := b.Station.StartRun(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "start run")
	}
	if b.StartupDelay > 0 {
		b.status("waiting for the DAQ to start")
		select {
		case <-time.After(b.StartupDelay):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	b.status("sending triggers")
	if err := b.Generator.SendTriggers(ctx, trials, b.TriggerRate); err != nil {
		return 0, errors.Wrap(err, "send triggers")
	}
	b.status("waiting for run " + run.ID)
	sum, err := b.Station.WaitRun(ctx, run.ID)
	if err != nil {
		return 0, errors.Wrapf(err, "wait for run %s", run.ID)
	}
	hits := daq.CountQualifying(sum.Events, b.Criteria)
	b.logger().Printf("run %s: %d of %d pulses triggered", run.ID, hits, trials)
	return hits, nil
}
