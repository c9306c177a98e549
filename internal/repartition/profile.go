package repartition

import (
	"math"

	"github.com/theirongolddev/kpitarget/internal/calendar"
	"github.com/theirongolddev/kpitarget/internal/model"
)

// Generate shapes the allocation into one value per calendar day.
//
// Incremental: each scope's total (the annual value under Annual logic, the
// period allocation otherwise) is spread by the profile's day weights, so the
// days of every scope sum to its total.
//
// Average: each day is the period's base average moved by a bounded deviation
// signal derived from the same weights; the weekday-bias profile instead
// scales weekend days by the weekend factor.
func (e *Engine) Generate(cal *calendar.Calendar, in Input, alloc map[string]float64) []float64 {
	sp := e.resolve(in.Params)
	groups := scopes(cal, in.Logic)

	weights, ok := dayWeights(cal, in.Profile, in.Logic, sp)
	if !ok {
		lg := e.logger(in)
		lg.Warn().Msg("profile not supported for this logic, using even distribution")
		weights = ones(cal.Len())
	}

	out := make([]float64, cal.Len())
	if in.Kind == model.Average {
		e.generateAverage(cal, in, alloc, groups, weights, ok, sp, out)
		return out
	}

	for _, g := range groups {
		total := in.Annual
		if in.Logic != model.LogicAnnual {
			total = alloc[g.Key]
		}
		wsum := 0.0
		for _, i := range g.Indices {
			wsum += weights[i]
		}
		if wsum <= zeroEps {
			share := total / float64(len(g.Indices))
			for _, i := range g.Indices {
				out[i] = share
			}
			continue
		}
		for _, i := range g.Indices {
			out[i] = total * weights[i] / wsum
		}
	}
	return out
}

func (e *Engine) generateAverage(cal *calendar.Calendar, in Input, alloc map[string]float64,
	groups []calendar.Group, weights []float64, shaped bool, sp shapeParams, out []float64) {
	for _, g := range groups {
		base := in.Annual
		if in.Logic != model.LogicAnnual {
			m, ok := alloc[g.Key]
			if !ok {
				m = 1
			}
			base = in.Annual * m
		}

		if shaped && in.Profile == model.ProfileProgressiveWeekday {
			for _, i := range g.Indices {
				out[i] = base
				if calendar.IsWeekend(cal.Days[i]) {
					out[i] = base * sp.weekendFactor
				}
			}
			continue
		}

		dev := deviation(weights, g.Indices)
		for _, i := range g.Indices {
			out[i] = base * (1 + dev[i]*sp.deviationScale)
		}
	}
}

// deviation centers the weights of one scope on their mean and scales them
// into [-1, 1]. A flat scope yields all zeros.
func deviation(weights []float64, idx []int) map[int]float64 {
	out := make(map[int]float64, len(idx))
	if len(idx) == 0 {
		return out
	}
	mean := 0.0
	for _, i := range idx {
		mean += weights[i]
	}
	mean /= float64(len(idx))

	spread := 0.0
	for _, i := range idx {
		if d := math.Abs(weights[i] - mean); d > spread {
			spread = d
		}
	}
	for _, i := range idx {
		if spread <= zeroEps {
			out[i] = 0
			continue
		}
		out[i] = (weights[i] - mean) / spread
	}
	return out
}

// dayWeights returns non-negative per-day weights for profile under logic.
// The second result is false when the pairing is unsupported.
func dayWeights(cal *calendar.Calendar, profile model.Profile, logic model.Logic, sp shapeParams) ([]float64, bool) {
	n := cal.Len()
	switch profile {
	case model.ProfileEven:
		return ones(n), true

	case model.ProfileAnnualProgressive:
		if logic != model.LogicAnnual {
			return nil, false
		}
		return linear(n, sp.strength), true

	case model.ProfileAnnualSinusoidal:
		w := make([]float64, n)
		for i := range w {
			w[i] = 1 + sp.amplitude*math.Sin(2*math.Pi*float64(i)/float64(n)+sp.phase)
		}
		return w, true

	case model.ProfileProgressiveWeekday:
		w := ones(n)
		if logic == model.LogicAnnual {
			w = linear(n, sp.strength)
		}
		for i, d := range cal.Days {
			if calendar.IsWeekend(d) {
				w[i] *= sp.weekendFactor
			}
		}
		return w, true

	case model.ProfileMonthlyProgressive, model.ProfileMonthlySinusoidal:
		if logic == model.LogicWeek {
			return nil, false
		}
		shape := shapeFor(profile, sp)
		var factor func(monthIdx int) float64
		switch logic {
		case model.LogicAnnual:
			f := normalized(shape(12))
			factor = func(m int) float64 { return f[m] }
		case model.LogicQuarter:
			f := normalized(shape(3))
			factor = func(m int) float64 { return f[m%3] }
		default:
			factor = func(int) float64 { return 1 }
		}
		return nested(cal, cal.Months(), shape, factor), true

	case model.ProfileQuarterlyProgressive, model.ProfileQuarterlySinusoidal:
		if logic == model.LogicWeek {
			return nil, false
		}
		shape := shapeFor(profile, sp)
		factor := func(int) float64 { return 1 }
		if logic == model.LogicAnnual {
			f := normalized(shape(4))
			factor = func(q int) float64 { return f[q] }
		}
		return nested(cal, cal.Quarters(), shape, factor), true
	}
	return nil, false
}

// nested lays shape over the days of each group (scaled to mean 1) and
// multiplies by the group's factor.
func nested(cal *calendar.Calendar, groups []calendar.Group, shape func(int) []float64, factor func(int) float64) []float64 {
	w := make([]float64, cal.Len())
	for gi, g := range groups {
		inner := shape(len(g.Indices))
		mean := 0.0
		for _, v := range inner {
			mean += v
		}
		mean /= float64(len(inner))
		f := factor(gi)
		for j, i := range g.Indices {
			w[i] = inner[j] / mean * f
		}
	}
	return w
}

func shapeFor(profile model.Profile, sp shapeParams) func(int) []float64 {
	switch profile {
	case model.ProfileMonthlySinusoidal, model.ProfileQuarterlySinusoidal:
		return func(n int) []float64 { return parabolic(n, sp.amplitude) }
	}
	return func(n int) []float64 { return linear(n, sp.strength) }
}

func ones(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 1
	}
	return w
}

// linear returns n weights decreasing linearly from 1+s to 1-s.
func linear(n int, s float64) []float64 {
	w := make([]float64, n)
	if n == 1 {
		w[0] = 1
		return w
	}
	for i := range w {
		w[i] = 1 + s*(1-2*float64(i)/float64(n-1))
	}
	return w
}

// parabolic returns n weights forming a hump peaking mid-period.
func parabolic(n int, a float64) []float64 {
	w := make([]float64, n)
	for i := range w {
		x := (float64(i) + 0.5) / float64(n)
		w[i] = 1 + a*4*x*(1-x)
	}
	return w
}

func normalized(w []float64) []float64 {
	sum := 0.0
	for _, v := range w {
		sum += v
	}
	out := make([]float64, len(w))
	for i, v := range w {
		out[i] = v / sum * float64(len(w))
	}
	return out
}
