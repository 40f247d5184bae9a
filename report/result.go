/*Package report holds the result dictionary of a bench test and writes it out.

A result file is indented JSON named <dut uid>_<test name>_<YYYYmmddTHHMMSS>.json
with the keys dut_uid, test_name, initialize, run, finalize, result and config.
The curves of a trigger response test can also be written as FITS binary
tables, one extension per channel.
*/
package report

import (
	"fmt"
	"time"
)

// Result is the outcome of a measurement or a whole test
type Result string

const (
	// Pass means every check succeeded
	Pass Result = "PASS"

	// Fail means at least one check failed
	Fail Result = "FAIL"

	// DidNotRun is the result of a test that was not finalized
	DidNotRun Result = "DID_NOT_RUN"
)

// TimestampLayout is the layout of the stage timestamps
const TimestampLayout = "2006-01-02T15:04:05.000000"

// fileTimeLayout is the layout of the time in result file names
const fileTimeLayout = "20060102T150405"

// Measurement is one named entry of the run stage
type Measurement struct {
	MeasuredValue interface{} `json:"measured_value"`
	Result        Result      `json:"result"`
}

// Stage marks when a stage started
type Stage struct {
	Timestamp string `json:"timestamp"`
}

// RunStage is the run stage and its measurements
type RunStage struct {
	Timestamp    string                 `json:"timestamp"`
	Measurements map[string]Measurement `json:"measurements"`
}

// Dict is the result dictionary of one test
type Dict struct {
	DUTUID     string      `json:"dut_uid"`
	TestName   string      `json:"test_name"`
	TestID     string      `json:"test_id,omitempty"`
	Initialize *Stage      `json:"initialize,omitempty"`
	Run        *RunStage   `json:"run,omitempty"`
	Finalize   *Stage      `json:"finalize,omitempty"`
	Result     Result      `json:"result"`
	Config     interface{} `json:"config,omitempty"`

	started time.Time
}

// NewDict returns the dict of a test that has not run
func NewDict(testName string) *Dict {
	return &Dict{TestName: testName, Result: DidNotRun}
}

// Timestamp formats t as a stage timestamp
func Timestamp(t time.Time) string {
	return t.Format(TimestampLayout)
}

// BeginInitialize stamps the initialize stage
func (d *Dict) BeginInitialize(t time.Time) {
	d.started = t
	d.Initialize = &Stage{Timestamp: Timestamp(t)}
}

// BeginRun stamps the run stage and clears its measurements
func (d *Dict) BeginRun(t time.Time) {
	d.Run = &RunStage{Timestamp: Timestamp(t), Measurements: map[string]Measurement{}}
}

// AddMeasurement stores a measured value under name
func (d *Dict) AddMeasurement(name string, value interface{}, passed bool) {
	if d.Run == nil {
		d.BeginRun(time.Now())
	}
	r := Fail
	if passed {
		r = Pass
	}
	d.Run.Measurements[name] = Measurement{MeasuredValue: value, Result: r}
}

// Overall is PASS if every measurement passed, else FAIL.
// A run without measurements passes.
func Overall(ms map[string]Measurement) Result {
	for _, m := range ms {
		if m.Result != Pass {
			return Fail
		}
	}
	return Pass
}

// Close stamps the finalize stage, sets the overall result and stores the config
func (d *Dict) Close(t time.Time, config interface{}) Result {
	d.Finalize = &Stage{Timestamp: Timestamp(t)}
	if d.Run == nil {
		d.BeginRun(t)
	}
	d.Result = Overall(d.Run.Measurements)
	d.Config = config
	return d.Result
}

// Started is the time of the initialize stage, or the zero time
func (d *Dict) Started() time.Time {
	return d.started
}

// FileName is the base name of the result file of a test
func FileName(dutUID, testName string, started time.Time) string {
	return fmt.Sprintf("%s_%s_%s", dutUID, testName, started.Format(fileTimeLayout))
}
