// Package repartition turns an annual target into a deterministic daily
// series and rolls it up into weekly, monthly and quarterly summaries.
package repartition

import (
	"github.com/rs/zerolog"

	"github.com/theirongolddev/kpitarget/internal/calendar"
	"github.com/theirongolddev/kpitarget/internal/model"
)

const (
	// zeroEps is the threshold under which a sum is treated as zero.
	zeroEps = 1e-9
	// pctTolerance is how far a percentage sum may stray from 100 before
	// the renormalization is reported.
	pctTolerance = 0.01
	// maxShape caps amplitude and strength so weights stay positive.
	maxShape = 0.95
)

// Options holds the engine-wide profile defaults. Per-target ProfileParams
// override them field by field.
type Options struct {
	DeviationScale      float64
	WeekendFactor       float64
	ProgressiveStrength float64
	SinusoidalAmplitude float64
	SinusoidalPhase     float64
}

// DefaultOptions returns the built-in profile defaults.
func DefaultOptions() Options {
	return Options{
		DeviationScale:      0.1,
		WeekendFactor:       0.5,
		ProgressiveStrength: 0.5,
		SinusoidalAmplitude: 0.3,
		SinusoidalPhase:     0,
	}
}

// Engine runs the allocate -> shape -> adjust -> aggregate chain.
type Engine struct {
	opts Options
	log  zerolog.Logger
}

// New returns an engine with the given defaults.
func New(opts Options, log zerolog.Logger) *Engine {
	return &Engine{opts: opts, log: log}
}

// Input is everything needed to repartition one KPI slot.
type Input struct {
	Key         model.SeriesKey
	Annual      float64
	Kind        model.Kind
	Logic       model.Logic
	Profile     model.Profile
	Repartition model.RepartitionValues
	Params      model.ProfileParams
}

// Build runs the full chain and returns all four granularities.
func (e *Engine) Build(in Input) model.Series {
	cal := calendar.New(in.Key.Year)
	alloc := e.Allocate(cal, in)
	daily := e.Generate(cal, in, alloc)
	daily = e.ApplyEvents(cal, in, daily)
	return Aggregate(cal, daily, in.Kind)
}

func (e *Engine) logger(in Input) zerolog.Logger {
	return e.log.With().
		Int64("kpi", in.Key.KPIID).
		Int("slot", int(in.Key.Slot)).
		Str("logic", string(in.Logic)).
		Str("profile", string(in.Profile)).
		Logger()
}

// shapeParams is ProfileParams with defaults applied and ranges clamped.
type shapeParams struct {
	amplitude      float64
	phase          float64
	strength       float64
	weekendFactor  float64
	deviationScale float64
}

func (e *Engine) resolve(p model.ProfileParams) shapeParams {
	pick := func(v *float64, def float64) float64 {
		if v == nil {
			return def
		}
		return *v
	}
	sp := shapeParams{
		amplitude:      clamp(pick(p.Amplitude, e.opts.SinusoidalAmplitude), 0, maxShape),
		phase:          pick(p.Phase, e.opts.SinusoidalPhase),
		strength:       clamp(pick(p.Strength, e.opts.ProgressiveStrength), 0, maxShape),
		weekendFactor:  pick(p.WeekendFactor, e.opts.WeekendFactor),
		deviationScale: pick(p.DeviationScale, e.opts.DeviationScale),
	}
	if sp.weekendFactor < 0 {
		sp.weekendFactor = e.opts.WeekendFactor
	}
	if sp.deviationScale < 0 {
		sp.deviationScale = e.opts.DeviationScale
	}
	return sp
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// scopes returns the day groups whose totals the allocation fixes.
func scopes(cal *calendar.Calendar, logic model.Logic) []calendar.Group {
	switch logic {
	case model.LogicMonth:
		return cal.Months()
	case model.LogicQuarter:
		return cal.Quarters()
	case model.LogicWeek:
		return cal.ISOWeeks()
	}
	return cal.Whole()
}
