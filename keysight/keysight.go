// Package keysight drives the Keysight (formerly Agilent) 81160A pulse
// function arbitrary generator that injects the stimulus pulses
package keysight

import (
	"context"
	"fmt"
	"math"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/rno-g/radiantbench/comm"
	"github.com/rno-g/radiantbench/scpi"
	"github.com/rno-g/radiantbench/usbtmc"
)

const (
	// AmplitudeMin is the smallest accepted amplitude in mVpp
	AmplitudeMin = 50

	// AmplitudeMax is the largest accepted amplitude in mVpp
	AmplitudeMax = 1200

	// WaveformLengthMax is the number of points of the volatile arbitrary waveform memory
	WaveformLengthMax = 131072

	// SCPIPort is the raw socket port of the LAN interface
	SCPIPort = "5025"

	// VendorID is the USB vendor ID of Agilent/Keysight instruments
	VendorID = 0x0957
)

var (
	// ErrChannel is generated when a channel other than 1 or 2 is used
	ErrChannel = errors.New("only channels 1 and 2 are supported")

	// ErrAmplitudeRange is generated when an amplitude is outside [AmplitudeMin, AmplitudeMax]
	ErrAmplitudeRange = fmt.Errorf("only accepting amplitudes of %d <= amplitude <= %d mVpp", AmplitudeMin, AmplitudeMax)

	// ErrWaveform is generated when an arbitrary waveform is empty, too long or outside [-1, 1]
	ErrWaveform = errors.New("arbitrary waveform must have 1..131072 samples in [-1, 1]")
)

// Mode is the output function
type Mode int

const (
	// Sinusoid is the built in sine function
	Sinusoid Mode = iota

	// User is the arbitrary waveform uploaded with SetWaveform
	User
)

// TriggerSource arms the output
type TriggerSource int

const (
	// Continuous runs the output free
	Continuous TriggerSource = iota

	// External arms on the trigger input, or a bus trigger
	External

	// Internal arms on the second internal trigger generator
	Internal
)

// Generator is an 81160A
type Generator struct {
	scpi.SCPI
}

// NewGenerator creates a generator talking over the given connection maker
func NewGenerator(maker comm.CreationFunc) *Generator {
	pool := comm.NewPool(1, time.Hour, maker)
	return &Generator{scpi.SCPI{Pool: pool, Handshaking: true}}
}

// NewLAN creates a generator on the raw SCPI socket.  Port 5025 is assumed if addr has none.
func NewLAN(addr string) *Generator {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, SCPIPort)
	}
	return NewGenerator(comm.TCPMaker(addr, 3*time.Second))
}

// NewUSB creates a generator on USBTMC
func NewUSB(vid, pid uint16) *Generator {
	return NewGenerator(usbtmc.Maker(vid, pid))
}

func validChannel(ch int) error {
	if ch != 1 && ch != 2 {
		return errors.Wrapf(ErrChannel, "channel %d", ch)
	}
	return nil
}

// ID returns the identification string
func (g *Generator) ID() (string, error) {
	return g.ReadString("*IDN?")
}

// Output turns a channel's output on or off
func (g *Generator) Output(ch int, on bool) error {
	if err := validChannel(ch); err != nil {
		return err
	}
	state := "OFF"
	if on {
		state = "ON"
	}
	return g.Write(fmt.Sprintf("OUTP%d %s", ch, state))
}

// SetAmplitudeMVpp sets the peak to peak amplitude of a channel in mV
func (g *Generator) SetAmplitudeMVpp(ch int, mVpp float64) error {
	if err := validChannel(ch); err != nil {
		return err
	}
	if math.IsNaN(mVpp) || mVpp < AmplitudeMin || mVpp > AmplitudeMax {
		return errors.Wrapf(ErrAmplitudeRange, "%g mVpp", mVpp)
	}
	v := strconv.FormatFloat(mVpp/1000, 'g', -1, 64)
	return g.Write(fmt.Sprintf("VOLT%d:AMPL %s VPP", ch, v))
}

// GetAmplitudeMVpp returns the peak to peak amplitude of a channel in mV
func (g *Generator) GetAmplitudeMVpp(ch int) (float64, error) {
	if err := validChannel(ch); err != nil {
		return 0, err
	}
	v, err := g.ReadFloat(fmt.Sprintf("VOLT%d:AMPL?", ch))
	return v * 1000, err
}

// SetFrequencyMHz sets the output frequency of a channel
func (g *Generator) SetFrequencyMHz(ch int, f float64) error {
	if err := validChannel(ch); err != nil {
		return err
	}
	return g.Write(fmt.Sprintf("FREQ%d %g MHZ", ch, f))
}

// SetMode selects the output function of a channel
func (g *Generator) SetMode(ch int, m Mode) error {
	if err := validChannel(ch); err != nil {
		return err
	}
	var fn string
	switch m {
	case Sinusoid:
		fn = "SIN"
	case User:
		fn = "USER"
	default:
		return errors.Errorf("unsupported mode %d", m)
	}
	return g.Write(fmt.Sprintf("FUNC%d %s", ch, fn))
}

// SetTriggerFrequencyHz sets the internal arming frequency of a channel
func (g *Generator) SetTriggerFrequencyHz(ch int, f float64) error {
	if err := validChannel(ch); err != nil {
		return err
	}
	return g.Write(fmt.Sprintf("ARM:FREQ%d %g HZ", ch, f))
}

// SetTriggerSource selects what arms a channel
func (g *Generator) SetTriggerSource(ch int, src TriggerSource) error {
	if err := validChannel(ch); err != nil {
		return err
	}
	var s string
	switch src {
	case Continuous:
		s = "IMM"
	case External:
		s = "EXT"
	case Internal:
		s = "INT2"
	default:
		return errors.Errorf("unsupported trigger source %d", src)
	}
	return g.Write(fmt.Sprintf("ARM:SOUR%d %s", ch, s))
}

// SetWaveform uploads an arbitrary waveform to the volatile memory of a channel.
// Samples are normalized to the amplitude, so must lie in [-1, 1].
func (g *Generator) SetWaveform(ch int, waveform []float64) error {
	if err := validChannel(ch); err != nil {
		return err
	}
	if len(waveform) == 0 || len(waveform) > WaveformLengthMax {
		return errors.Wrapf(ErrWaveform, "%d samples", len(waveform))
	}
	strs := make([]string, len(waveform))
	for i, x := range waveform {
		if !(x >= -1 && x <= 1) {
			return errors.Wrapf(ErrWaveform, "sample %d is %g", i, x)
		}
		strs[i] = strconv.FormatFloat(x, 'g', -1, 64)
	}
	return g.Write(fmt.Sprintf("DATA%d VOLATILE %s", ch, strings.Join(strs, ",")))
}

// ConfigurePair sets up the signal and clock channels for a measurement:
// both outputs off, the waveform on the signal channel, both amplitudes, both outputs on
func (g *Generator) ConfigurePair(waveform []float64, sigCh, clockCh int, sigMVpp, clockMVpp float64) error {
	for _, ch := range []int{sigCh, clockCh} {
		if err := g.Output(ch, false); err != nil {
			return err
		}
	}
	if len(waveform) > 0 {
		if err := g.SetWaveform(sigCh, waveform); err != nil {
			return err
		}
		if err := g.SetMode(sigCh, User); err != nil {
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

// SendTriggers issues n bus triggers at rateHz.  The triggers are written
// without handshaking so the pacing holds; the error queue is read once at the end.
func (g *Generator) SendTriggers(ctx context.Context, n int, rateHz float64) error {
	if rateHz <= 0 {
		return errors.Errorf("trigger rate %g Hz must be positive", rateHz)
	}
	lim := rate.NewLimiter(rate.Limit(rateHz), 1)
	for i := 0; i < n; i++ {
		if err := lim.Wait(ctx); err != nil {
			return errors.Wrapf(err, "after %d of %d triggers", i, n)
		}
		if _, err := g.Raw("*TRG"); err != nil {
			return errors.Wrapf(err, "trigger %d of %d", i+1, n)
		}
	}
	return g.PopError()
}
