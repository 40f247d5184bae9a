package trigresp

import (
	"math"
	"sort"

	"github.com/rno-g/radiantbench/mathx"
)

// Phase is the search phase of the Sampler
type Phase int

const (
	// PhaseBracket walks outward until a zero and a full efficiency point are known
	PhaseBracket Phase = iota

	// PhaseRefine bisects the bracket to put points on the slope
	PhaseRefine
)

func (p Phase) String() string {
	switch p {
	case PhaseBracket:
		return "bracket"
	case PhaseRefine:
		return "refine"
	default:
		return "unknown"
	}
}

// StopReason says why sampling ended
type StopReason string

const (
	// StopNone is the reason of a proposal that does not stop
	StopNone StopReason = ""

	// StopTargetReached means enough on-slope points were measured
	StopTargetReached StopReason = "target_reached"

	// StopMaxPoints means the measurement budget was spent
	StopMaxPoints StopReason = "max_points"

	// StopBoundaryExhausted means the bracket walk hit an amplitude bound
	// without finding both plateaus
	StopBoundaryExhausted StopReason = "boundary_exhausted"

	// StopOutOfBounds means the next bisection amplitude was outside the bounds
	StopOutOfBounds StopReason = "out_of_bounds"

	// StopNoUntriedAmplitude means every candidate amplitude was already measured
	StopNoUntriedAmplitude StopReason = "no_untried_amplitude"

	// StopAborted means a collaborator failed during the run
	StopAborted StopReason = "aborted"
)

// Bounds are the hardware-safe amplitude limits in mVpp, inclusive
type Bounds struct {
	Min float64 `koanf:"min" yaml:"min"`
	Max float64 `koanf:"max" yaml:"max"`
}

// Contains returns true if min <= x <= max
func (b Bounds) Contains(x float64) bool {
	return x >= b.Min && x <= b.Max
}

// SamplerConfig holds the search parameters
type SamplerConfig struct {
	Bounds Bounds

	// Start is the first amplitude measured
	Start float64

	// Step is the bracket walk step in mVpp
	Step float64

	// Resolution is the amplitude grid proposals are rounded to, 0 for none
	Resolution float64

	// TargetOnSlope is the number of points with 0 < efficiency < 1 after which sampling stops
	TargetOnSlope int

	// MaxPoints caps the total number of measurements
	MaxPoints int
}

// Proposal is the sampler's decision: measure Amplitude, or stop
type Proposal struct {
	Amplitude float64
	Stop      bool
	Reason    StopReason
	Phase     Phase
}

func stop(reason StopReason, phase Phase) Proposal {
	return Proposal{Stop: true, Reason: reason, Phase: phase}
}

func measure(amp float64, phase Phase) Proposal {
	return Proposal{Amplitude: amp, Phase: phase}
}

// Sampler is the adaptive amplitude search controller for one channel.
// It carries bookkeeping only; decisions are a pure function of the Dataset.
type Sampler struct {
	Config SamplerConfig

	// Iterations counts calls to Next
	Iterations int

	// Phase is the phase of the most recent proposal
	Phase Phase
}

// NewSampler returns a Sampler in the bracket phase
func NewSampler(cfg SamplerConfig) *Sampler {
	return &Sampler{Config: cfg, Phase: PhaseBracket}
}

// Next proposes the next amplitude to measure, or stops
func (s *Sampler) Next(ds *Dataset) Proposal {
	s.Iterations++
	p := NextAmplitude(ds, s.Config)
	s.Phase = p.Phase
	return p
}

// bracket locates the plateau edges: lo is the highest zero efficiency
// amplitude, hi the lowest full efficiency amplitude above it.
func bracket(pts []CurvePoint) (lo float64, haveLo bool, hi float64, haveHi bool) {
	for _, p := range pts {
		if p.Efficiency == 0 {
			lo, haveLo = p.Amplitude, true
		}
	}
	for _, p := range pts {
		if p.Efficiency == 1 && (!haveLo || p.Amplitude > lo) {
			return lo, haveLo, p.Amplitude, true
		}
	}
	return lo, haveLo, 0, false
}

// NextAmplitude decides the next amplitude for a dataset.  Given the same
// dataset and configuration it always returns the same proposal.
func NextAmplitude(ds *Dataset, cfg SamplerConfig) Proposal {
	pts := ds.Points()
	if len(pts) == 0 {
		start := mathx.Round(cfg.Start, cfg.Resolution)
		if !cfg.Bounds.Contains(start) {
			return stop(StopOutOfBounds, PhaseBracket)
		}
		return measure(start, PhaseBracket)
	}
	lo, haveLo, hi, haveHi := bracket(pts)
	phase := PhaseBracket
	if haveLo && haveHi {
		phase = PhaseRefine
	}
	if len(pts) >= cfg.MaxPoints {
		return stop(StopMaxPoints, phase)
	}
	onSlope := ds.OnSlope()
	if len(onSlope) >= cfg.TargetOnSlope {
		return stop(StopTargetReached, phase)
	}

	switch {
	case !haveLo:
		return walk(ds, pts[0].Amplitude, -1, cfg)
	case !haveHi:
		return walk(ds, pts[len(pts)-1].Amplitude, 1, cfg)
	}

	if len(onSlope) >= 2 {
		nodes := make([]float64, len(onSlope))
		for i, p := range onSlope {
			nodes[i] = p.Amplitude
		}
		if p, ok := bisect(ds, nodes, onSlope, cfg); ok {
			return p
		}
	}

	// coarse bisection between the plateau edges, through any slope points inside
	nodes := []float64{lo}
	for _, p := range onSlope {
		if p.Amplitude > lo && p.Amplitude < hi {
			nodes = append(nodes, p.Amplitude)
		}
	}
	nodes = append(nodes, hi)
	if p, ok := bisect(ds, nodes, onSlope, cfg); ok {
		return p
	}
	return stop(StopNoUntriedAmplitude, PhaseRefine)
}

// walk steps away from a measured amplitude in direction dir until it finds an
// untried amplitude.  A walk past the bound proposes the bound itself once,
// then stops.  Without a positive step no new amplitude is ever reached.
func walk(ds *Dataset, from float64, dir float64, cfg SamplerConfig) Proposal {
	if !(cfg.Step > 0) {
		return stop(StopNoUntriedAmplitude, PhaseBracket)
	}
	edge := cfg.Bounds.Min
	if dir > 0 {
		edge = cfg.Bounds.Max
	}
	beyond := func(x float64) bool {
		if dir > 0 {
			return x > edge
		}
		return x < edge
	}
	cand := from
	for {
		cand += dir * cfg.Step
		amp := mathx.Round(cand, cfg.Resolution)
		if beyond(cand) || beyond(amp) {
			if ds.Has(edge) || beyond(from) || from == edge {
				return stop(StopBoundaryExhausted, PhaseBracket)
			}
			return measure(edge, PhaseBracket)
		}
		if !ds.Has(amp) {
			return measure(amp, PhaseBracket)
		}
	}
}

type gap struct {
	lo, hi float64
}

func (g gap) width() float64 {
	return g.hi - g.lo
}

// bisect proposes the midpoint of the widest gap between adjacent nodes whose
// midpoint has not been measured yet.
//
// Equal gaps are resolved toward the side of the curve with fewer points:
// when there are no more slope points below 50% efficiency than above, the
// lowest gap wins, otherwise the highest.
func bisect(ds *Dataset, nodes []float64, onSlope []CurvePoint, cfg SamplerConfig) (Proposal, bool) {
	if len(nodes) < 2 {
		return Proposal{}, false
	}
	gaps := make([]gap, 0, len(nodes)-1)
	for i := 1; i < len(nodes); i++ {
		gaps = append(gaps, gap{nodes[i-1], nodes[i]})
	}
	var below, above int
	for _, p := range onSlope {
		if p.Efficiency < 0.5 {
			below++
		} else {
			above++
		}
	}
	preferLow := below <= above
	tie := 1e-9 * math.Max(1, cfg.Bounds.Max-cfg.Bounds.Min)
	sort.SliceStable(gaps, func(i, j int) bool {
		wi, wj := gaps[i].width(), gaps[j].width()
		if math.Abs(wi-wj) > tie {
			return wi > wj
		}
		if preferLow {
			return gaps[i].lo < gaps[j].lo
		}
		return gaps[i].lo > gaps[j].lo
	})
	for _, g := range gaps {
		mid := mathx.Round((g.lo+g.hi)/2, cfg.Resolution)
		if mid <= g.lo || mid >= g.hi || ds.Has(mid) {
			continue
		}
		if !cfg.Bounds.Contains(mid) {
			return stop(StopOutOfBounds, PhaseRefine), true
		}
		return measure(mid, PhaseRefine), true
	}
	return Proposal{}, false
}
