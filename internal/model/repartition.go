package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Scope tags which period family a RepartitionValues map is keyed by.
type Scope string

const (
	ScopeNone    Scope = ""
	ScopeMonth   Scope = "month"
	ScopeQuarter Scope = "quarter"
	ScopeWeek    Scope = "week"
)

// ScopeFor returns the scope user overrides must have under logic.
func ScopeFor(l Logic) Scope {
	switch l {
	case LogicMonth:
		return ScopeMonth
	case LogicQuarter:
		return ScopeQuarter
	case LogicWeek:
		return ScopeWeek
	}
	return ScopeNone
}

// RepartitionValues is the sparse period-key -> value map a user supplies.
// Values are percentages for Incremental KPIs and multipliers (100 = x1.0)
// for Average KPIs. Keys are canonical: month names, Q1..Q4, or YYYY-Www.
type RepartitionValues struct {
	Scope  Scope              `json:"scope,omitempty"`
	Values map[string]float64 `json:"values,omitempty"`
}

// Empty reports whether no override was supplied.
func (r RepartitionValues) Empty() bool { return len(r.Values) == 0 }

// Clone returns a copy that shares no map with r.
func (r RepartitionValues) Clone() RepartitionValues {
	out := RepartitionValues{Scope: r.Scope}
	if r.Values != nil {
		out.Values = make(map[string]float64, len(r.Values))
		for k, v := range r.Values {
			out.Values[k] = v
		}
	}
	return out
}

// NewRepartitionValues canonicalizes raw keys for scope. Keys that cannot be
// interpreted for the scope are returned in the rejected list.
func NewRepartitionValues(scope Scope, raw map[string]float64) (RepartitionValues, []string) {
	out := RepartitionValues{Scope: scope, Values: make(map[string]float64, len(raw))}
	var rejected []string
	for k, v := range raw {
		key, ok := CanonicalPeriodKey(scope, k)
		if !ok {
			rejected = append(rejected, k)
			continue
		}
		out.Values[key] += v
	}
	return out, rejected
}

// CanonicalPeriodKey maps user spellings onto the stored period key format.
func CanonicalPeriodKey(scope Scope, raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	switch scope {
	case ScopeMonth:
		if n, err := strconv.Atoi(s); err == nil {
			if n >= 1 && n <= 12 {
				return time.Month(n).String(), true
			}
			return "", false
		}
		lower := strings.ToLower(s)
		for m := time.January; m <= time.December; m++ {
			name := strings.ToLower(m.String())
			if lower == name || (len(lower) == 3 && strings.HasPrefix(name, lower)) {
				return m.String(), true
			}
		}
	case ScopeQuarter:
		u := strings.ToUpper(s)
		u = strings.TrimPrefix(u, "Q")
		if n, err := strconv.Atoi(u); err == nil && n >= 1 && n <= 4 {
			return fmt.Sprintf("Q%d", n), true
		}
	case ScopeWeek:
		var year, week int
		if _, err := fmt.Sscanf(strings.ToUpper(s), "%d-W%d", &year, &week); err == nil &&
			week >= 1 && week <= 53 {
			return fmt.Sprintf("%04d-W%02d", year, week), true
		}
	}
	return "", false
}

// Event is a date-ranged override applied to the daily series.
type Event struct {
	Label      string    `json:"label,omitempty"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Multiplier float64   `json:"multiplier"`
	Addition   float64   `json:"addition,omitempty"`
}

// ProfileParams tunes a distribution profile. Nil fields use engine defaults.
type ProfileParams struct {
	Amplitude      *float64 `json:"amplitude,omitempty"`
	Phase          *float64 `json:"phase,omitempty"`
	Strength       *float64 `json:"strength,omitempty"`
	WeekendFactor  *float64 `json:"weekend_factor,omitempty"`
	DeviationScale *float64 `json:"deviation_scale,omitempty"`
	Events         []Event  `json:"events,omitempty"`
}

// Clone returns a deep copy of p.
func (p ProfileParams) Clone() ProfileParams {
	cp := func(v *float64) *float64 {
		if v == nil {
			return nil
		}
		x := *v
		return &x
	}
	out := ProfileParams{
		Amplitude:      cp(p.Amplitude),
		Phase:          cp(p.Phase),
		Strength:       cp(p.Strength),
		WeekendFactor:  cp(p.WeekendFactor),
		DeviationScale: cp(p.DeviationScale),
	}
	if p.Events != nil {
		out.Events = append([]Event(nil), p.Events...)
	}
	return out
}
