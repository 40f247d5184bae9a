package trigresp

// Conversion maps a signal generator amplitude to the amplitude seen at the
// RADIANT channel input, as calibrated by the SignalGen2LAB4D test
type Conversion struct {
	Slope     float64 `json:"slope"`
	Intercept float64 `json:"intercept"`
}

// Apply converts a signal generator amplitude
func (c Conversion) Apply(x float64) float64 {
	return x*c.Slope + c.Intercept
}

// Record is everything one channel's characterization produced.  Its JSON
// field names are read by the plotting and database tools; do not rename them.
type Record struct {
	Channel int `json:"channel"`

	// Amplitudes, Efficiencies and Errors are the dataset as parallel columns, ascending in amplitude
	Amplitudes   []float64 `json:"amplitude_signal_gen"`
	Efficiencies []float64 `json:"trigger_eff"`
	Errors       []float64 `json:"trigger_eff_err"`

	Points []CurvePoint `json:"points"`

	Fit FitResult `json:"fit_parameter"`

	Verdict Verdict `json:"verdict"`

	StopReason StopReason `json:"stop_reason"`

	// Iterations is the number of sampler decisions taken
	Iterations int `json:"iterations"`

	// HalfwayVppCh is the fitted halfway point converted to the channel input,
	// when a conversion is configured and the fit converged
	HalfwayVppCh *float64 `json:"halfway_vpp_ch"`

	// Error holds the collaborator failure that cut the run short, if any
	Error string `json:"error,omitempty"`
}

// NewRecord assembles a Record from a finished run
func NewRecord(channel int, ds *Dataset, fit FitResult, v Verdict) Record {
	amps, effs, errs := ds.Columns()
	return Record{
		Channel:      channel,
		Amplitudes:   amps,
		Efficiencies: effs,
		Errors:       errs,
		Points:       ds.Points(),
		Fit:          fit,
		Verdict:      v,
	}
}
