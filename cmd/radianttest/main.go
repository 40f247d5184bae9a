package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/pkg/errors"
	"github.com/theckman/yacspin"

	yml "gopkg.in/yaml.v2"

	"github.com/rno-g/radiantbench/arduino"
	"github.com/rno-g/radiantbench/bench"
	"github.com/rno-g/radiantbench/daq"
	"github.com/rno-g/radiantbench/harness"
	"github.com/rno-g/radiantbench/keysight"
	"github.com/rno-g/radiantbench/report"
	"github.com/rno-g/radiantbench/trigresp"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "radianttest.yml"
	k              *koanf.Koanf
)

func setupconfig() {
	var err error
	k, err = harness.NewKoanf(ConfigFileName)
	if err != nil {
		log.Fatalf("error loading config: %v", err)
	}
}

func root() {
	str := `radianttest measures the trigger response of RADIANT channels on the test bench
It sweeps the signal generator amplitude, counts the triggers the station
records, and fits the efficiency turn-on curve of every channel.

Usage:
	radianttest <command>

Commands:
	run
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `radianttest is configured via radianttest.yml in the working directory.  For a
primer on YAML, see https://yaml.org/start.html

mkconf writes the defaults to radianttest.yml, conf prints the configuration
in effect.  Any key may be overridden from the environment, with the prefix
RADIANT_ and _ in place of the dots, e.g.
	RADIANT_MOCK=true RADIANT_DUT_UID=... radianttest run

Sections:
- mock: run on a simulated bench, no hardware needed
- resultdir: where the results and the SignalGen2LAB4D calibrations live
- dut.uid: the board UID; read from the station when empty
- site: signal generator (tcp address, usb product ID, or sim to drive a daqsim
  station), Arduino serial port, station run control URL, and
  channelsettingmanual to patch channels by hand
- args: channels, cabling, trials per point, trigger rate, threshold,
  the amplitude search (bounds, start, step, resolution, targetonslope,
  maxpoints), the initial fit guess and the trigger selection criteria
- expected: the halfway and steepness acceptance windows
- sim: the response curve and seed of the simulated bench

Results are written as <dut uid>_AUXTriggerResponse_<time>.json, with the
curves of every channel alongside as a FITS file of binary tables.
The exit code is 1 if any channel failed.`
	fmt.Println(str)
}

func loadconf() harness.Config {
	c := harness.Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	return c
}

func mkconf() {
	c := loadconf()
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := loadconf()
	err := yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("radianttest version %v\n", Version)
}

// manualRelay waits for the operator to patch the signal by hand
type manualRelay struct {
	in *bufio.Reader
}

func (m manualRelay) RouteSignalToChannel(ch int) error {
	fmt.Printf("connect the bridge output to RADIANT channel %d, then press Enter: ", ch)
	_, err := m.in.ReadString('\n')
	return err
}

// hardware builds the bench of the test stand, and a func that releases it.
// The "sim" transport drives a daqsim station with a mock generator.
func hardware(c harness.Config) (*bench.Bench, func()) {
	client := daq.NewClient(c.Site.StationURL)
	b := &bench.Bench{
		Station:  client,
		Map:      c.Args.Map,
		Settings: c.BenchSettings(),
	}
	var closers []func() error
	switch c.Site.SignalGenTransport {
	case "sim":
		b.Generator = bench.NewMockGenerator(client)
	case "usb":
		b.Generator = openGenerator(keysight.NewUSB(keysight.VendorID, c.Site.SignalGenUSBProduct), &closers)
	default:
		b.Generator = openGenerator(keysight.NewLAN(c.Site.SignalGenAddr), &closers)
	}

	switch {
	case c.Site.SignalGenTransport == "sim":
		b.Relay = &bench.MockRelay{}
	case c.Site.ChannelSettingManual:
		b.Relay = manualRelay{bufio.NewReader(os.Stdin)}
	default:
		r := arduino.NewRouter(c.Site.ArduinoPort)
		b.Relay = r
		closers = append(closers, r.Close)
	}
	return b, func() {
		for _, cl := range closers {
			if err := cl(); err != nil {
				log.Println(err)
			}
		}
	}
}

func openGenerator(gen *keysight.Generator, closers *[]func() error) *keysight.Generator {
	id, err := gen.ID()
	if err != nil {
		gen.Pool.Close()
		log.Fatalf("signal generator: %v", err)
	}
	log.Println("signal generator", id)
	*closers = append(*closers, gen.Pool.Close)
	return gen
}

func newSpinner() *yacspin.Spinner {
	s, err := yacspin.New(yacspin.Config{
		Frequency:         150 * time.Millisecond,
		CharSet:           yacspin.CharSets[14],
		Suffix:            " ",
		SuffixAutoColon:   true,
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"},
	})
	if err != nil {
		log.Fatal(err)
	}
	return s
}

func run() {
	c := loadconf()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var (
		b       *bench.Bench
		release = func() {}
	)
	if c.Mock {
		log.Printf("running on a simulated bench, halfway %g steepness %g", c.Sim.Curve.Halfway, c.Sim.Curve.Steepness)
		b, _ = bench.NewMock(c.Sim.Curve, c.Sim.Seed, c.Args.Map, c.BenchSettings())
	} else {
		b, release = hardware(c)
	}
	tc, err := runTest(ctx, c, b, release)
	if tc != nil && tc.Dict.Finalize != nil {
		report.PrintSummary(os.Stdout, tc.Dict)
	}
	if err != nil {
		stop()
		log.Fatal(err)
	}
}

// errFailed is returned when every stage ran but a channel failed
var errFailed = errors.New("test failed")

// runTest takes the test through its stages and releases the bench before
// returning, whatever the outcome
func runTest(ctx context.Context, c harness.Config, b *bench.Bench, release func()) (*harness.TestContext, error) {
	defer release()

	tc := harness.NewTestContext(harness.TestName, c, b)
	if err := tc.Initialize(ctx); err != nil {
		return nil, err
	}
	spin := newSpinner()
	b.Status = func(msg string) { spin.Message(msg) }
	tc.Progress = func(ch int, p trigresp.CurvePoint, phase trigresp.Phase) {
		spin.Message(fmt.Sprintf("channel %d [%s] %.1f mVpp: %d/%d", ch, phase, p.Amplitude, p.Hits, p.Trials))
	}
	if err := spin.Start(); err != nil {
		log.Println(err)
	}
	err := tc.Run(ctx)
	if err != nil {
		spin.StopFailMessage(err.Error())
		spin.StopFail()
	} else {
		spin.StopMessage("all channels measured")
		spin.Stop()
	}
	res, ferr := tc.Finalize()
	if ferr != nil {
		return tc, ferr
	}
	if err != nil {
		return tc, err
	}
	if res != report.Pass {
		return tc, errFailed
	}
	return tc, nil
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "run":
		run()
		return
	case "version":
		pversion()
		return
	default:
		log.Fatal("unknown command")
	}
}
