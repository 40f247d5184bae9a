/*Package harness runs a bench test through its three stages.

Initialize stamps the test and reads the DUT UID from the station.  Run
characterizes every configured channel in turn and adds one measurement per
channel, named after the channel number, whose value is the channel's
trigresp.Record.  Finalize computes the overall result and writes the result
files.

	cfg, _ := harness.LoadConfig("radianttest.yml")
	tc := harness.NewTestContext(harness.TestName, cfg, b)
	if err := tc.Initialize(ctx); err != nil { ... }
	if err := tc.Run(ctx); err != nil { ... }
	res, err := tc.Finalize()
*/
package harness

import (
	"context"
	"log"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/astrogo/fitsio"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/rno-g/radiantbench/bench"
	"github.com/rno-g/radiantbench/daq"
	"github.com/rno-g/radiantbench/report"
	"github.com/rno-g/radiantbench/trigresp"
)

// TestName is the name the trigger response test is filed under
const TestName = "AUXTriggerResponse"

// TestContext carries one test from Initialize to Finalize
type TestContext struct {
	Name   string
	Config Config
	Bench  *bench.Bench

	// Logger nil means log.Default()
	Logger *log.Logger

	// Progress, if not nil, is called after every measured point
	Progress func(channel int, p trigresp.CurvePoint, phase trigresp.Phase)

	// Now is the clock of the stage timestamps; nil means time.Now
	Now func() time.Time

	// Dict is the result dictionary being filled
	Dict *report.Dict

	// Records are the finished channels, in the order they ran
	Records []trigresp.Record

	// Paths are the files written by Finalize
	Paths []string

	convs    Conversions
	convPath string
}

// NewTestContext creates a context for a test on bench b
func NewTestContext(name string, cfg Config, b *bench.Bench) *TestContext {
	d := report.NewDict(name)
	d.TestID = uuid.New().String()
	return &TestContext{Name: name, Config: cfg, Bench: b, Dict: d}
}

func (t *TestContext) now() time.Time {
	if t.Now == nil {
		return time.Now()
	}
	return t.Now()
}

func (t *TestContext) logger() *log.Logger {
	if t.Logger == nil {
		return log.Default()
	}
	return t.Logger
}

// Initialize validates the configuration, stamps the test and identifies
// the DUT.  The UID in the config wins over the one the station reports.
func (t *TestContext) Initialize(ctx context.Context) error {
	if err := t.Config.Validate(); err != nil {
		return err
	}
	t.Dict.BeginInitialize(t.now())
	uid := t.Config.DUT.UID
	if uid == "" {
		var err error
		uid, err = t.Bench.Station.BoardUID(ctx)
		if err != nil {
			return errors.Wrap(err, "read DUT UID")
		}
	}
	t.Dict.DUTUID = strings.ToLower(uid)
	t.logger().Printf("%s %s on DUT %s", t.Name, t.Dict.TestID, t.Dict.DUTUID)
	return nil
}

// loadConversions resolves the amplitude calibration.  A missing calibration
// is not fatal unless a file was named explicitly.
func (t *TestContext) loadConversions() error {
	explicit := t.Config.Args.AmpConversionFile
	c, path, err := ResolveConversions(explicit, t.Config.ResultDir, t.Dict.DUTUID)
	if err != nil {
		if explicit == "" {
			t.logger().Printf("no amplitude calibration for DUT %s, halfway stays in generator units: %v", t.Dict.DUTUID, err)
			return nil
		}
		return errors.Wrap(trigresp.ErrConfiguration, err.Error())
	}
	t.convs, t.convPath = c, path
	t.logger().Printf("amplitude calibration from %s", path)
	return nil
}

func (t *TestContext) conversion(ch int) *trigresp.Conversion {
	if t.convs == nil {
		return nil
	}
	c, err := t.convs.Channel(ch)
	if err != nil {
		t.logger().Printf("%v, halfway stays in generator units", err)
		return nil
	}
	return c
}

// characterize runs one channel.  Only a configuration error is returned;
// a bench failure becomes an aborted record.
func (t *TestContext) characterize(ch int) (trigresp.Record, error) {
	cfg := t.Config.Engine()
	cfg.Conversion = t.conversion(ch)
	if err := t.Bench.Prepare(ch, cfg.Start); err != nil {
		t.logger().Printf("channel %d: %v", ch, err)
		return trigresp.Record{Channel: ch, StopReason: trigresp.StopAborted, Error: err.Error()}, nil
	}
	defer func() {
		if err := t.Bench.Shutdown(); err != nil {
			t.logger().Printf("channel %d: turning the generator off: %v", ch, err)
		}
	}()
	c := trigresp.Characterizer{
		Stimulus: t.Bench.Stimulus(),
		Counter:  t.Bench.Counter(),
		Config:   cfg,
		Logger:   t.Logger,
		Progress: t.Progress,
	}
	return c.Characterize(ch)
}

// prepareStation turns the calibration pulser off and powers the surface
// amplifiers that feed the channels
func (t *TestContext) prepareStation(ctx context.Context) error {
	st := t.Bench.Station
	if err := st.CalSelect(ctx, daq.CalOff); err != nil {
		return errors.Wrap(err, "turn the calibration pulser off")
	}
	if err := st.SurfaceAmps(ctx, true); err != nil {
		return errors.Wrap(err, "power the surface amps on")
	}
	return nil
}

const releaseTimeout = 30 * time.Second

// releaseStation powers the surface amplifiers off.  It does not use the run
// context, so an interrupted run still leaves the amps off.
func (t *TestContext) releaseStation() {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if err := t.Bench.Station.SurfaceAmps(ctx, false); err != nil {
		t.logger().Printf("powering the surface amps off: %v", err)
	}
}

// Run characterizes the configured channels in order.  It stops early only
// on a configuration error, a station that cannot be set up, or when ctx is done.
func (t *TestContext) Run(ctx context.Context) error {
	if t.Dict.Initialize == nil {
		return errors.New("run before initialize")
	}
	t.Dict.BeginRun(t.now())
	if err := t.loadConversions(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := t.prepareStation(ctx); err != nil {
		return err
	}
	defer t.releaseStation()
	t.Bench.Ctx = ctx
	for _, ch := range t.Config.Args.Channels {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := t.characterize(ch)
		if err != nil {
			return err
		}
		t.Records = append(t.Records, rec)
		t.Dict.AddMeasurement(strconv.Itoa(ch), rec, rec.Verdict.Passed)
	}
	return nil
}

// Finalize sets the overall result and writes the JSON result and the FITS
// curves to the result directory
func (t *TestContext) Finalize() (report.Result, error) {
	res := t.Dict.Close(t.now(), t.Config)
	base := filepath.Join(t.Config.ResultDir, report.FileName(t.Dict.DUTUID, t.Name, t.Dict.Started()))
	path, err := report.WriteJSON(t.Config.ResultDir, t.Dict)
	if err != nil {
		return res, err
	}
	t.Paths = append(t.Paths, path)
	if len(t.Records) > 0 {
		meta := []fitsio.Card{
			{Name: "DUT", Value: t.Dict.DUTUID, Comment: "RADIANT MCU UID"},
			{Name: "TEST", Value: t.Name},
			{Name: "RESULT", Value: string(res)},
		}
		if t.convs != nil {
			meta = append(meta, fitsio.Card{Name: "AMPCONV", Value: true, Comment: "halfway converted to channel Vpp"})
		}
		fpath := base + ".fits"
		if err := report.SaveFITS(fpath, meta, t.Records); err != nil {
			return res, errors.Wrap(err, "write FITS curves")
		}
		t.Paths = append(t.Paths, fpath)
	}
	t.logger().Printf("%s finished: %s, results in %s", t.Name, res, strings.Join(t.Paths, ", "))
	return res, nil
}
