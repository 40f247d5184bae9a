package report

import (
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/fatih/color"
)

// Colored returns r in green if it passed, red if it failed, plain otherwise
func Colored(r Result) string {
	switch r {
	case Pass:
		return color.GreenString(string(r))
	case Fail:
		return color.RedString(string(r))
	default:
		return string(r)
	}
}

// measurementNames sorts numerically when every name is a channel number
func measurementNames(ms map[string]Measurement) []string {
	names := make([]string, 0, len(ms))
	for k := range ms {
		names = append(names, k)
	}
	sort.Slice(names, func(i, j int) bool {
		a, errA := strconv.Atoi(names[i])
		b, errB := strconv.Atoi(names[j])
		if errA == nil && errB == nil {
			return a < b
		}
		return names[i] < names[j]
	})
	return names
}

// PrintResult writes the result line of a test, and with verbose one line per
// measurement.  With failedOnly, only failures are written.
func PrintResult(w io.Writer, d *Dict, failedOnly, verbose bool) {
	if !failedOnly || d.Result == Fail {
		fmt.Fprintf(w, "%s - %s\n", Colored(d.Result), d.TestName)
	}
	if !verbose || d.Run == nil {
		return
	}
	for _, name := range measurementNames(d.Run.Measurements) {
		m := d.Run.Measurements[name]
		if !failedOnly || m.Result == Fail {
			fmt.Fprintf(w, "   %s - %s\n", Colored(m.Result), name)
		}
	}
}

// PrintSummary prints a failed test with its failed measurements, or a
// passed test on one line
func PrintSummary(w io.Writer, d *Dict) {
	if d.Result == Fail {
		PrintResult(w, d, true, true)
		return
	}
	PrintResult(w, d, false, false)
}
