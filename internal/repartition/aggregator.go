package repartition

import (
	"github.com/theirongolddev/kpitarget/internal/calendar"
	"github.com/theirongolddev/kpitarget/internal/model"
)

// Aggregate rolls the daily series into weekly and monthly groups (sum for
// Incremental, mean of the days present for Average) and derives quarters
// from the monthly aggregates rather than from raw days.
func Aggregate(cal *calendar.Calendar, daily []float64, kind model.Kind) model.Series {
	var s model.Series

	s.Daily = make([]model.PeriodValue, len(daily))
	for i, v := range daily {
		s.Daily[i] = model.PeriodValue{Key: calendar.DayKey(cal.Days[i]), Value: v}
	}

	s.Weekly = rollup(cal.ISOWeeks(), daily, kind)
	s.Monthly = rollup(cal.Months(), daily, kind)

	monthly := make(map[string]float64, len(s.Monthly))
	for _, pv := range s.Monthly {
		monthly[pv.Key] = pv.Value
	}
	s.Quarterly = make([]model.PeriodValue, 0, 4)
	for q, key := range calendar.Quarters() {
		vals := make([]float64, 0, 3)
		for _, m := range calendar.QuarterMonths(q + 1) {
			if v, ok := monthly[m]; ok {
				vals = append(vals, v)
			}
		}
		s.Quarterly = append(s.Quarterly, model.PeriodValue{Key: key, Value: combine(vals, kind)})
	}
	return s
}

func rollup(groups []calendar.Group, daily []float64, kind model.Kind) []model.PeriodValue {
	out := make([]model.PeriodValue, 0, len(groups))
	for _, g := range groups {
		vals := make([]float64, len(g.Indices))
		for j, i := range g.Indices {
			vals[j] = daily[i]
		}
		out = append(out, model.PeriodValue{Key: g.Key, Value: combine(vals, kind)})
	}
	return out
}

func combine(vals []float64, kind model.Kind) float64 {
	if len(vals) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	if kind == model.Average {
		return sum / float64(len(vals))
	}
	return sum
}
