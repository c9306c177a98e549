package store

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/theirongolddev/kpitarget/internal/calendar"
	"github.com/theirongolddev/kpitarget/internal/model"
)

type repartitionJSON struct {
	Scope  string             `json:"scope"`
	Values map[string]float64 `json:"values"`
}

type eventJSON struct {
	Label      string  `json:"label,omitempty"`
	Start      string  `json:"start"`
	End        string  `json:"end"`
	Multiplier float64 `json:"multiplier"`
	Addition   float64 `json:"addition"`
}

type paramsJSON struct {
	Amplitude      *float64    `json:"amplitude,omitempty"`
	Phase          *float64    `json:"phase,omitempty"`
	Strength       *float64    `json:"strength,omitempty"`
	WeekendFactor  *float64    `json:"weekend_factor,omitempty"`
	DeviationScale *float64    `json:"deviation_scale,omitempty"`
	Events         []eventJSON `json:"events,omitempty"`
}

func encodeRepartition(r model.RepartitionValues) (string, error) {
	if r.Empty() {
		return "", nil
	}
	b, err := json.Marshal(repartitionJSON{Scope: string(r.Scope), Values: r.Values})
	if err != nil {
		return "", fmt.Errorf("encoding repartition: %w", err)
	}
	return string(b), nil
}

func encodeParams(p model.ProfileParams) (string, error) {
	out := paramsJSON{
		Amplitude:      p.Amplitude,
		Phase:          p.Phase,
		Strength:       p.Strength,
		WeekendFactor:  p.WeekendFactor,
		DeviationScale: p.DeviationScale,
	}
	for _, ev := range p.Events {
		e := eventJSON{Label: ev.Label, Multiplier: ev.Multiplier, Addition: ev.Addition}
		if !ev.Start.IsZero() {
			e.Start = calendar.DayKey(ev.Start)
		}
		if !ev.End.IsZero() {
			e.End = calendar.DayKey(ev.End)
		}
		out.Events = append(out.Events, e)
	}
	if out.Amplitude == nil && out.Phase == nil && out.Strength == nil &&
		out.WeekendFactor == nil && out.DeviationScale == nil && len(out.Events) == 0 {
		return "", nil
	}
	b, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("encoding params: %w", err)
	}
	return string(b), nil
}

func encodeInputs(in []model.FormulaBinding) (string, error) {
	if len(in) == 0 {
		return "", nil
	}
	b, err := json.Marshal(in)
	if err != nil {
		return "", fmt.Errorf("encoding formula inputs: %w", err)
	}
	return string(b), nil
}

// The decoders below never fail: a malformed blob is logged and read as
// empty so one bad row cannot block a save.

func decodeRepartition(raw string, log zerolog.Logger) model.RepartitionValues {
	if raw == "" {
		return model.RepartitionValues{}
	}
	if !gjson.Valid(raw) {
		log.Warn().Str("column", "repartition").Msg("malformed JSON, treating as empty")
		return model.RepartitionValues{}
	}
	doc := gjson.Parse(raw)
	scope := model.Scope(doc.Get("scope").String())
	values := make(map[string]float64)
	doc.Get("values").ForEach(func(k, v gjson.Result) bool {
		if v.Type == gjson.Number {
			values[k.String()] = v.Float()
		}
		return true
	})
	rv, rejected := model.NewRepartitionValues(scope, values)
	if len(rejected) > 0 {
		log.Warn().Strs("keys", rejected).Str("scope", string(scope)).Msg("dropping unknown period keys")
	}
	return rv
}

func decodeParams(raw string, log zerolog.Logger) model.ProfileParams {
	var p model.ProfileParams
	if raw == "" {
		return p
	}
	if !gjson.Valid(raw) {
		log.Warn().Str("column", "params").Msg("malformed JSON, treating as empty")
		return p
	}
	doc := gjson.Parse(raw)
	num := func(path string) *float64 {
		v := doc.Get(path)
		if v.Type != gjson.Number {
			return nil
		}
		f := v.Float()
		return &f
	}
	p.Amplitude = num("amplitude")
	p.Phase = num("phase")
	p.Strength = num("strength")
	p.WeekendFactor = num("weekend_factor")
	p.DeviationScale = num("deviation_scale")

	for _, ev := range doc.Get("events").Array() {
		e := model.Event{
			Label:      ev.Get("label").String(),
			Multiplier: 1,
			Addition:   ev.Get("addition").Float(),
		}
		if m := ev.Get("multiplier"); m.Exists() {
			e.Multiplier = m.Float()
		}
		// Unparsable dates stay zero; the event adjuster skips them.
		e.Start, _ = calendar.ParseDay(ev.Get("start").String())
		e.End, _ = calendar.ParseDay(ev.Get("end").String())
		p.Events = append(p.Events, e)
	}
	return p
}

func decodeInputs(raw string, log zerolog.Logger) []model.FormulaBinding {
	if raw == "" {
		return nil
	}
	if !gjson.Valid(raw) {
		log.Warn().Str("column", "inputs").Msg("malformed JSON, treating as empty")
		return nil
	}
	var out []model.FormulaBinding
	for _, b := range gjson.Parse(raw).Array() {
		out = append(out, model.FormulaBinding{
			SourceKPI:  b.Get("kpi").Int(),
			SourceSlot: model.Slot(b.Get("slot").Int()),
			Variable:   b.Get("var").String(),
		})
	}
	return out
}
