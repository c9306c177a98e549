package repartition

import (
	"math"
	"time"

	"github.com/theirongolddev/kpitarget/internal/calendar"
	"github.com/theirongolddev/kpitarget/internal/model"
)

// ApplyEvents applies the target's events to the daily series in order and
// returns the adjusted copy.
//
// Each day inside an event's range becomes value*multiplier + addition.
// Events with a negative multiplier, missing dates or an inverted range are
// skipped individually. Incremental series are then rescaled so their sum is
// the annual value again.
func (e *Engine) ApplyEvents(cal *calendar.Calendar, in Input, daily []float64) []float64 {
	out := append([]float64(nil), daily...)
	events := in.Params.Events
	if len(events) == 0 {
		return out
	}
	log := e.logger(in)

	applied := 0
	for n, ev := range events {
		evLog := log.With().Int("event", n).Str("label", ev.Label).Logger()
		switch {
		case ev.Multiplier < 0:
			evLog.Warn().Float64("multiplier", ev.Multiplier).Msg("skipping event with negative multiplier")
			continue
		case ev.Start.IsZero() || ev.End.IsZero():
			evLog.Warn().Msg("skipping event without start or end date")
			continue
		case ev.End.Before(ev.Start):
			evLog.Warn().
				Str("start", calendar.DayKey(ev.Start)).
				Str("end", calendar.DayKey(ev.End)).
				Msg("skipping event ending before it starts")
			continue
		}

		start, end := dayOf(ev.Start), dayOf(ev.End)
		hit := false
		for i, d := range cal.Days {
			if d.Before(start) || d.After(end) {
				continue
			}
			out[i] = out[i]*ev.Multiplier + ev.Addition
			hit = true
		}
		if !hit {
			evLog.Debug().Msg("event does not overlap the target year")
			continue
		}
		applied++
	}

	if applied == 0 || in.Kind != model.Incremental {
		return out
	}

	sum := 0.0
	for _, v := range out {
		sum += v
	}
	if math.Abs(sum) < zeroEps {
		if math.Abs(in.Annual) > zeroEps {
			log.Warn().Msg("events zeroed the series, falling back to a uniform split")
			share := in.Annual / float64(len(out))
			for i := range out {
				out[i] = share
			}
		}
		return out
	}
	scale := in.Annual / sum
	for i := range out {
		out[i] *= scale
	}
	return out
}

func dayOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
