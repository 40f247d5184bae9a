package harness

import (
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/pkg/errors"

	"github.com/rno-g/radiantbench/bench"
	"github.com/rno-g/radiantbench/daq"
	"github.com/rno-g/radiantbench/keysight"
	"github.com/rno-g/radiantbench/trigresp"
)

// EnvPrefix prefixes the environment variables that override the config file,
// e.g. RADIANT_MOCK=true or RADIANT_DUT_UID=...
const EnvPrefix = "RADIANT_"

// DUT identifies the board under test
type DUT struct {
	// UID is the RADIANT MCU UID; read from the board when empty
	UID string `koanf:"uid" yaml:"uid"`
}

// Site is the cabling and addressing of a test stand
type Site struct {
	Name string `koanf:"name" yaml:"name"`

	// SignalGenTransport is "tcp", "usb", or "sim" for a mock generator
	// feeding a daqsim station at StationURL
	SignalGenTransport string `koanf:"signalgentransport" yaml:"signalgentransport"`

	// SignalGenAddr is host or host:port of the 81160A, for tcp
	SignalGenAddr string `koanf:"signalgenaddr" yaml:"signalgenaddr"`

	// SignalGenUSBProduct is the USB product ID, for usb
	SignalGenUSBProduct uint16 `koanf:"signalgenusbproduct" yaml:"signalgenusbproduct"`

	// ArduinoPort is the serial port of the relay board
	ArduinoPort string `koanf:"arduinoport" yaml:"arduinoport"`

	// ChannelSettingManual skips the relays; the operator patches each channel
	ChannelSettingManual bool `koanf:"channelsettingmanual" yaml:"channelsettingmanual"`

	// StationURL is the base URL of the station run control
	StationURL string `koanf:"stationurl" yaml:"stationurl"`
}

// Args are the test arguments
type Args struct {
	Channels []int            `koanf:"channels" yaml:"channels"`
	Map      bench.ChannelMap `koanf:"channelmap" yaml:"channelmap"`

	// TrialsPerPoint is the number of pulses per amplitude
	TrialsPerPoint int `koanf:"trialsperpoint" yaml:"trialsperpoint"`

	// TriggerRate is the pulse rate in Hz
	TriggerRate float64 `koanf:"triggerrate" yaml:"triggerrate"`

	// RunBuffer is added to each DAQ run length, in seconds
	RunBuffer float64 `koanf:"runbuffer" yaml:"runbuffer"`

	// StartupDelay is waited between run start and the first pulse, in seconds
	StartupDelay float64 `koanf:"startupdelay" yaml:"startupdelay"`

	// Threshold is the trigger threshold in V
	Threshold float64 `koanf:"threshold" yaml:"threshold"`

	// ClockAmplitude is the reference pulse amplitude in mVpp
	ClockAmplitude float64 `koanf:"clockamplitude" yaml:"clockamplitude"`

	// Waveform is the arbitrary pulse shape, values in [-1, 1]; empty keeps the generator's
	Waveform []float64 `koanf:"waveform" yaml:"waveform"`

	Bounds        trigresp.Bounds `koanf:"bounds" yaml:"bounds"`
	Start         float64         `koanf:"start" yaml:"start"`
	Step          float64         `koanf:"step" yaml:"step"`
	Resolution    float64         `koanf:"resolution" yaml:"resolution"`
	TargetOnSlope int             `koanf:"targetonslope" yaml:"targetonslope"`
	MaxPoints     int             `koanf:"maxpoints" yaml:"maxpoints"`
	InitialGuess  trigresp.Guess  `koanf:"initialguess" yaml:"initialguess"`

	Criteria daq.Criteria `koanf:"criteria" yaml:"criteria"`

	// AmpConversionFile is a SignalGen2LAB4D result; when empty the newest one for the DUT is used
	AmpConversionFile string `koanf:"ampconversionfile" yaml:"ampconversionfile"`
}

// Expected are the acceptance windows of the fitted parameters
type Expected struct {
	Halfway   trigresp.Window `koanf:"halfway" yaml:"halfway"`
	Steepness trigresp.Window `koanf:"steepness" yaml:"steepness"`
}

// Sim is the simulated bench used when Mock is true
type Sim struct {
	Curve daq.Curve `koanf:"curve" yaml:"curve"`
	Seed  int64     `koanf:"seed" yaml:"seed"`
}

// Config is the full configuration of a test
type Config struct {
	// Mock runs against a simulated bench
	Mock bool `koanf:"mock" yaml:"mock"`

	// ResultDir receives the result files
	ResultDir string `koanf:"resultdir" yaml:"resultdir"`

	DUT      DUT      `koanf:"dut" yaml:"dut"`
	Site     Site     `koanf:"site" yaml:"site"`
	Args     Args     `koanf:"args" yaml:"args"`
	Expected Expected `koanf:"expected" yaml:"expected"`
	Sim      Sim      `koanf:"sim" yaml:"sim"`
}

// Defaults is the configuration of the DESY test stand
func Defaults() Config {
	return Config{
		ResultDir: "results",
		Site: Site{
			Name:               "desy",
			SignalGenTransport: "tcp",
			SignalGenAddr:      "192.168.1.20",
			ArduinoPort:        "/dev/ttyUSB0",
			StationURL:         "http://localhost:8080",
		},
		Args: Args{
			Channels: []int{},
			Map: bench.ChannelMap{
				ClockChannel:            0,
				ClockChannelAlternative: 3,
				SGDirect:                1,
				SGBridge:                2,
			},
			TrialsPerPoint: 100,
			TriggerRate:    10,
			RunBuffer:      20,
			StartupDelay:   15,
			Threshold:      0.5,
			ClockAmplitude: 800,
			Waveform:       []float64{},
			Bounds:         trigresp.Bounds{Min: 50, Max: 1200},
			Start:          100,
			Step:           50,
			Resolution:     0.5,
			TargetOnSlope:  5,
			MaxPoints:      20,
			InitialGuess:   trigresp.Guess{Halfway: 150, Steepness: 20},
			Criteria:       daq.DefaultCriteria(),
		},
		Expected: Expected{
			Halfway:   trigresp.Window{Min: 80, Max: 400},
			Steepness: trigresp.Window{Min: 1, Max: 100},
		},
		Sim: Sim{Curve: daq.Curve{Halfway: 200, Steepness: 30}, Seed: 1},
	}
}

// envKey maps RADIANT_DUT_UID to dut.uid
func envKey(s string) string {
	return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "_", ".", -1)
}

// NewKoanf loads the defaults, then the YAML file at path if it exists,
// then the environment
func NewKoanf(path string) (*koanf.Koanf, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(Defaults(), "koanf"), nil); err != nil {
		return nil, err
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if !os.IsNotExist(errors.Cause(err)) && !strings.Contains(err.Error(), "no such") {
				return nil, errors.Wrapf(err, "load %s", path)
			}
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, err
	}
	return k, nil
}

// LoadConfig returns the effective configuration, see NewKoanf
func LoadConfig(path string) (Config, error) {
	var c Config
	k, err := NewKoanf(path)
	if err != nil {
		return c, err
	}
	if err := k.Unmarshal("", &c); err != nil {
		return c, errors.Wrap(err, "decode config")
	}
	return c, nil
}

// Engine converts the configuration into the limits of a characterization run
func (c Config) Engine() trigresp.Config {
	a := c.Args
	return trigresp.Config{
		Bounds:         a.Bounds,
		Start:          a.Start,
		Step:           a.Step,
		Resolution:     a.Resolution,
		TargetOnSlope:  a.TargetOnSlope,
		MaxPoints:      a.MaxPoints,
		TrialsPerPoint: a.TrialsPerPoint,
		Guess:          a.InitialGuess,
		Halfway:        c.Expected.Halfway,
		Steepness:      c.Expected.Steepness,
	}
}

// BenchSettings converts the configuration into acquisition parameters.
// The simulated bench has no DAQ to wait for, so it gets no startup delay.
func (c Config) BenchSettings() bench.Settings {
	a := c.Args
	delay := time.Duration(a.StartupDelay * float64(time.Second))
	if c.Mock {
		delay = 0
	}
	return bench.Settings{
		Threshold:      a.Threshold,
		TriggerRate:    a.TriggerRate,
		RunBuffer:      a.RunBuffer,
		StartupDelay:   delay,
		ClockAmplitude: a.ClockAmplitude,
		Waveform:       a.Waveform,
		Criteria:       a.Criteria,
	}
}

// Validate checks everything the engine does not: channels, cabling, generator
// limits and rates
func (c Config) Validate() error {
	if err := c.Engine().Validate(); err != nil {
		return err
	}
	if len(c.Args.Channels) == 0 {
		return errors.Wrap(trigresp.ErrConfiguration, "no channels to test")
	}
	for _, ch := range c.Args.Channels {
		if ch < 0 || ch >= daq.NumChannels {
			return errors.Wrapf(trigresp.ErrConfiguration, "channel %d is not a RADIANT channel", ch)
		}
	}
	if err := c.Args.Map.Validate(); err != nil {
		return errors.Wrap(trigresp.ErrConfiguration, err.Error())
	}
	gen := trigresp.Bounds{Min: keysight.AmplitudeMin, Max: keysight.AmplitudeMax}
	if !gen.Contains(c.Args.Bounds.Min) || !gen.Contains(c.Args.Bounds.Max) {
		return errors.Wrapf(trigresp.ErrConfiguration, "amplitude bounds %g..%g mVpp exceed the generator's %d..%d",
			c.Args.Bounds.Min, c.Args.Bounds.Max, keysight.AmplitudeMin, keysight.AmplitudeMax)
	}
	if !gen.Contains(c.Args.ClockAmplitude) {
		return errors.Wrapf(trigresp.ErrConfiguration, "clock amplitude %g mVpp exceeds the generator's %d..%d",
			c.Args.ClockAmplitude, keysight.AmplitudeMin, keysight.AmplitudeMax)
	}
	if c.Args.TriggerRate <= 0 {
		return errors.Wrapf(trigresp.ErrConfiguration, "trigger rate %g Hz must be positive", c.Args.TriggerRate)
	}
	switch c.Site.SignalGenTransport {
	case "tcp", "usb", "sim":
	default:
		return errors.Wrapf(trigresp.ErrConfiguration, "unknown signal generator transport %q", c.Site.SignalGenTransport)
	}
	return nil
}
