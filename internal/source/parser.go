// Package source reads target submission files into save requests.
package source

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/theirongolddev/kpitarget/internal/calendar"
	"github.com/theirongolddev/kpitarget/internal/formula"
	"github.com/theirongolddev/kpitarget/internal/model"
)

// ErrInvalidSubmission is the sentinel behind every ValidationError.
var ErrInvalidSubmission = errors.New("invalid submission")

// ValidationError lists every problem found in one submission.
type ValidationError struct {
	Path     string
	Problems []string
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	where := e.Path
	if where == "" {
		where = "submission"
	}
	return fmt.Sprintf("%s: %s: %s", where, ErrInvalidSubmission, strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrInvalidSubmission }

// ParseResult holds the outcome of reading one file.
type ParseResult struct {
	File       DiscoveredFile
	Submission *Submission
	Err        error
}

// ParseFile reads and validates one submission file.
func ParseFile(df DiscoveredFile) ParseResult {
	f, err := os.Open(df.Path)
	if err != nil {
		return ParseResult{File: df, Err: err}
	}
	defer func() { _ = f.Close() }()

	sub, err := Decode(f, df.Path)
	return ParseResult{File: df, Submission: sub, Err: err}
}

// Decode reads a TOML submission from r. path is only used in messages.
func Decode(r io.Reader, path string) (*Submission, error) {
	var raw RawFile
	md, err := toml.NewDecoder(r).Decode(&raw)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	v := &validator{}
	for _, k := range md.Undecoded() {
		v.addf("unknown key %q", k.String())
	}
	sub := v.submission(raw)
	sub.Path = path
	if len(v.problems) > 0 {
		return nil, &ValidationError{Path: path, Problems: v.problems}
	}
	return sub, nil
}

type validator struct {
	problems []string
}

func (v *validator) addf(format string, args ...any) {
	v.problems = append(v.problems, fmt.Sprintf(format, args...))
}

func (v *validator) submission(raw RawFile) *Submission {
	sub := &Submission{
		Year:       raw.Year,
		LocationID: raw.Location,
		Initiator:  raw.Initiator,
		Targets:    make(map[int64]model.AnnualTarget, len(raw.Targets)),
	}
	if raw.Year < 1900 || raw.Year > 9999 {
		v.addf("year %d out of range", raw.Year)
	}

	for i, k := range raw.KPIs {
		if k.ID <= 0 {
			v.addf("kpi[%d]: id must be positive", i)
			continue
		}
		kind, err := model.ParseKind(k.Kind)
		if err != nil {
			v.addf("kpi %d: %v", k.ID, err)
			continue
		}
		name := k.Name
		if name == "" {
			name = fmt.Sprintf("KPI %d", k.ID)
		}
		sub.KPIs = append(sub.KPIs, model.KPI{ID: k.ID, Name: name, Kind: kind})
	}

	for i, l := range raw.Links {
		w := 1.0
		if l.Weight != nil {
			w = *l.Weight
		}
		switch {
		case l.Master <= 0 || l.Sub <= 0:
			v.addf("link[%d]: master and sub must be positive ids", i)
		case l.Master == l.Sub:
			v.addf("link[%d]: kpi %d cannot be its own sub", i, l.Sub)
		case w <= 0:
			v.addf("link %d -> %d: weight must be positive, got %g", l.Master, l.Sub, w)
		default:
			sub.Links = append(sub.Links, model.SubLink{MasterID: l.Master, SubID: l.Sub, Weight: w})
		}
	}

	seen := make(map[int64]bool, len(raw.Targets))
	for _, rt := range raw.Targets {
		if rt.KPI <= 0 {
			v.addf("target: kpi must be a positive id")
			continue
		}
		if seen[rt.KPI] {
			v.addf("target %d: defined more than once", rt.KPI)
			continue
		}
		seen[rt.KPI] = true
		at, ok := v.target(raw.Year, raw.Location, rt)
		if ok {
			sub.Targets[rt.KPI] = at
		}
	}
	return sub
}

func (v *validator) target(year int, location int64, rt RawTarget) (model.AnnualTarget, bool) {
	start := len(v.problems)
	at := model.AnnualTarget{
		Year:       year,
		LocationID: location,
		KPIID:      rt.KPI,
		Profile:    model.NormalizeProfile(rt.Profile),
	}

	logic, err := model.ParseLogic(rt.Logic)
	if err != nil {
		v.addf("target %d: %v", rt.KPI, err)
	}
	at.Logic = logic

	if len(rt.Repartition) > 0 {
		scope := model.ScopeFor(logic)
		if scope == model.ScopeNone {
			v.addf("target %d: repartition values need Month, Quarter or Week logic", rt.KPI)
		} else {
			rv, rejected := model.NewRepartitionValues(scope, rt.Repartition)
			if len(rejected) > 0 {
				sort.Strings(rejected)
				v.addf("target %d: unknown %s keys %s", rt.KPI, scope, strings.Join(rejected, ", "))
			}
			at.Repartition = rv
		}
	}

	for i, rs := range []RawSlot{rt.Slot1, rt.Slot2} {
		at.Slots[i] = v.slot(rt.KPI, model.Slots[i], rs)
	}

	at.Params = model.ProfileParams{
		Amplitude:      rt.Params.Amplitude,
		Phase:          rt.Params.Phase,
		Strength:       rt.Params.Strength,
		WeekendFactor:  rt.Params.WeekendFactor,
		DeviationScale: rt.Params.DeviationScale,
	}
	for i, re := range rt.Events {
		ev := model.Event{Label: re.Label, Multiplier: 1, Addition: re.Addition}
		if re.Multiplier != nil {
			ev.Multiplier = *re.Multiplier
		}
		if ev.Start, err = calendar.ParseDay(re.Start); err != nil {
			v.addf("target %d: event[%d]: bad start date %q", rt.KPI, i, re.Start)
		}
		if ev.End, err = calendar.ParseDay(re.End); err != nil {
			v.addf("target %d: event[%d]: bad end date %q", rt.KPI, i, re.End)
		}
		at.Params.Events = append(at.Params.Events, ev)
	}

	at.Normalize()
	return at, len(v.problems) == start
}

func (v *validator) slot(kpi int64, s model.Slot, rs RawSlot) model.SlotDefinition {
	def := model.SlotDefinition{Value: rs.Value, Manual: rs.Manual}
	expr := strings.TrimSpace(rs.Formula)
	if expr == "" {
		if len(rs.Inputs) > 0 {
			v.addf("target %d slot %d: inputs given without a formula", kpi, s)
		}
		return def
	}

	def = model.SlotDefinition{Formula: true, Expression: expr, Inputs: rs.Inputs}
	vars, err := formula.Variables(expr)
	if err != nil {
		v.addf("target %d slot %d: %v", kpi, s, err)
		return def
	}
	bound := make(map[string]bool, len(rs.Inputs))
	for _, b := range rs.Inputs {
		switch {
		case b.Variable == "":
			v.addf("target %d slot %d: input from kpi %d has no variable name", kpi, s, b.SourceKPI)
		case bound[b.Variable]:
			v.addf("target %d slot %d: variable %q bound twice", kpi, s, b.Variable)
		case !b.SourceSlot.Valid():
			v.addf("target %d slot %d: input %q has slot %d, want 1 or 2", kpi, s, b.Variable, b.SourceSlot)
		}
		bound[b.Variable] = true
	}
	for _, name := range vars {
		if !bound[name] {
			v.addf("target %d slot %d: variable %q has no input", kpi, s, name)
		}
	}
	return def
}
