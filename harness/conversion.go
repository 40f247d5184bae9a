package harness

import (
	"encoding/json"
	"io/ioutil"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/rno-g/radiantbench/trigresp"
)

// CalibrationTest is the name of the test whose results calibrate the
// generator amplitude against the channel input
const CalibrationTest = "SignalGen2LAB4D"

// ErrNoCalibration is returned when no calibration result exists for a DUT
var ErrNoCalibration = errors.New("no amplitude calibration found")

// FindCalibration returns the most recently modified calibration result for
// the DUT in dir
func FindCalibration(dir, dutUID string) (string, error) {
	entries, err := ioutil.ReadDir(dir)
	if err != nil {
		return "", errors.Wrapf(err, "list %s", dir)
	}
	var newest os.FileInfo
	for _, fi := range entries {
		n := fi.Name()
		if fi.IsDir() || !strings.HasSuffix(n, ".json") {
			continue
		}
		if !strings.Contains(n, CalibrationTest) || !strings.Contains(n, dutUID) {
			continue
		}
		if newest == nil || fi.ModTime().After(newest.ModTime()) {
			newest = fi
		}
	}
	if newest == nil {
		return "", errors.Wrapf(ErrNoCalibration, "DUT %s in %s", dutUID, dir)
	}
	return filepath.Join(dir, newest.Name()), nil
}

type calibrationFile struct {
	Run struct {
		Measurements map[string]struct {
			MeasuredValue struct {
				Fit *trigresp.Conversion `json:"fit_parameter"`
			} `json:"measured_value"`
		} `json:"measurements"`
	} `json:"run"`
}

// Conversions holds the per channel calibration of one result file
type Conversions map[int]trigresp.Conversion

// LoadConversions reads the slope and intercept of every channel in a
// calibration result
func LoadConversions(path string) (Conversions, error) {
	b, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f calibrationFile
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, errors.Wrapf(err, "decode %s", path)
	}
	out := Conversions{}
	for k, m := range f.Run.Measurements {
		ch, err := strconv.Atoi(k)
		if err != nil || m.MeasuredValue.Fit == nil {
			continue
		}
		out[ch] = *m.MeasuredValue.Fit
	}
	return out, nil
}

// Channel returns the conversion of one channel
func (c Conversions) Channel(ch int) (*trigresp.Conversion, error) {
	conv, ok := c[ch]
	if !ok {
		return nil, errors.Errorf("calibration has no fit for channel %d", ch)
	}
	return &conv, nil
}

// ResolveConversions loads the explicit file if given, else the newest
// calibration of the DUT in resultDir
func ResolveConversions(explicit, resultDir, dutUID string) (Conversions, string, error) {
	path := explicit
	if path == "" {
		var err error
		path, err = FindCalibration(resultDir, dutUID)
		if err != nil {
			return nil, "", err
		}
	}
	c, err := LoadConversions(path)
	return c, path, err
}
