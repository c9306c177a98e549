package repartition

import (
	"math"

	"github.com/theirongolddev/kpitarget/internal/calendar"
	"github.com/theirongolddev/kpitarget/internal/model"
)

// periodKeys returns the keys the allocation is expressed over for logic,
// or nil under Annual logic.
func periodKeys(cal *calendar.Calendar, logic model.Logic) []string {
	switch logic {
	case model.LogicMonth:
		return calendar.Months()
	case model.LogicQuarter:
		return calendar.Quarters()
	case model.LogicWeek:
		return cal.Weeks()
	}
	return nil
}

// Allocate turns the annual value and the user's period overrides into
// per-period allocations.
//
// Incremental KPIs get absolute per-period totals that sum to the annual
// value; Average KPIs get per-period multipliers (1.0 = the annual average).
// Annual logic yields an empty map, leaving shaping to the whole-year profile.
func (e *Engine) Allocate(cal *calendar.Calendar, in Input) map[string]float64 {
	keys := periodKeys(cal, in.Logic)
	out := make(map[string]float64, len(keys))
	if keys == nil {
		return out
	}
	log := e.logger(in)

	values := in.Repartition.Values
	if !in.Repartition.Empty() && in.Repartition.Scope != model.ScopeFor(in.Logic) {
		log.Warn().
			Str("scope", string(in.Repartition.Scope)).
			Msg("period overrides do not match repartition logic, ignoring them")
		values = nil
	}

	if in.Kind == model.Average {
		for _, k := range keys {
			m := 1.0
			if v, ok := values[k]; ok {
				m = v / 100
			}
			out[k] = m
		}
		return out
	}

	sum := 0.0
	for _, k := range keys {
		sum += values[k]
	}
	if math.Abs(sum) < zeroEps {
		share := in.Annual / float64(len(keys))
		for _, k := range keys {
			out[k] = share
		}
		return out
	}
	if math.Abs(sum-100) > pctTolerance {
		log.Info().Float64("sum", sum).Msg("period percentages do not total 100, renormalizing")
	}
	for _, k := range keys {
		out[k] = in.Annual * values[k] / sum
	}
	return out
}
