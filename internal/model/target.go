package model

import (
	"fmt"
	"strings"
)

// Logic is the granularity at which users supply period overrides.
type Logic string

const (
	LogicAnnual  Logic = "Annual"
	LogicMonth   Logic = "Month"
	LogicQuarter Logic = "Quarter"
	LogicWeek    Logic = "Week"
)

// ParseLogic parses a repartition logic case-insensitively. Empty means Annual.
func ParseLogic(s string) (Logic, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "annual", "year", "yearly":
		return LogicAnnual, nil
	case "month", "monthly":
		return LogicMonth, nil
	case "quarter", "quarterly":
		return LogicQuarter, nil
	case "week", "weekly":
		return LogicWeek, nil
	}
	return "", fmt.Errorf("unknown repartition logic %q", s)
}

// Profile names the shape that spreads a period's value across its days.
type Profile string

const (
	ProfileEven                 Profile = "even"
	ProfileAnnualProgressive    Profile = "annual_progressive"
	ProfileAnnualSinusoidal     Profile = "true_annual_sinusoidal"
	ProfileProgressiveWeekday   Profile = "annual_progressive_weekday_bias"
	ProfileMonthlyProgressive   Profile = "monthly_progressive"
	ProfileMonthlySinusoidal    Profile = "monthly_sinusoidal"
	ProfileQuarterlyProgressive Profile = "quarterly_progressive"
	ProfileQuarterlySinusoidal  Profile = "quarterly_sinusoidal"
)

// Profiles lists every supported profile in display order.
var Profiles = []Profile{
	ProfileEven,
	ProfileAnnualProgressive,
	ProfileAnnualSinusoidal,
	ProfileProgressiveWeekday,
	ProfileMonthlyProgressive,
	ProfileMonthlySinusoidal,
	ProfileQuarterlyProgressive,
	ProfileQuarterlySinusoidal,
}

// NormalizeProfile lower-cases a profile name and maps the empty name to even.
// Unknown names are returned as-is; the generator falls back to even for them.
func NormalizeProfile(s string) Profile {
	p := strings.ToLower(strings.TrimSpace(s))
	p = strings.ReplaceAll(p, "-", "_")
	p = strings.ReplaceAll(p, " ", "_")
	if p == "" {
		return ProfileEven
	}
	return Profile(p)
}

// Known reports whether the profile is one the generator implements.
func (p Profile) Known() bool {
	for _, k := range Profiles {
		if k == p {
			return true
		}
	}
	return false
}

// Slot identifies one of the two target values a KPI carries.
type Slot int

const (
	Slot1 Slot = 1
	Slot2 Slot = 2
)

// Slots lists both slots in order.
var Slots = []Slot{Slot1, Slot2}

// Valid reports whether s is 1 or 2.
func (s Slot) Valid() bool { return s == Slot1 || s == Slot2 }

func (s Slot) index() int { return int(s) - 1 }

// FormulaBinding maps a formula variable to another KPI's slot value.
type FormulaBinding struct {
	SourceKPI  int64  `json:"kpi" toml:"kpi"`
	SourceSlot Slot   `json:"slot" toml:"slot"`
	Variable   string `json:"var" toml:"var"`
}

// SlotDefinition is one slot of an annual target record.
type SlotDefinition struct {
	Value      *float64         `json:"value"`
	Manual     bool             `json:"manual,omitempty"`
	Formula    bool             `json:"formula,omitempty"`
	Expression string           `json:"expression,omitempty"`
	Inputs     []FormulaBinding `json:"inputs,omitempty"`
}

// HasValue reports whether the slot holds a non-null value.
func (d SlotDefinition) HasValue() bool { return d.Value != nil }

// Fixed reports whether the slot's value is pinned (user entered or formula driven)
// and therefore not derivable from a master.
func (d SlotDefinition) Fixed() bool { return d.Manual || d.Formula }

// AnnualTarget is the per (year, location, kpi) target record.
type AnnualTarget struct {
	Year        int               `json:"year"`
	LocationID  int64             `json:"location_id"`
	KPIID       int64             `json:"kpi_id"`
	Slots       [2]SlotDefinition `json:"slots"`
	Logic       Logic             `json:"logic"`
	Profile     Profile           `json:"profile"`
	Repartition RepartitionValues `json:"repartition"`
	Params      ProfileParams     `json:"params"`
}

// Slot returns the definition for s.
func (t *AnnualTarget) Slot(s Slot) *SlotDefinition {
	return &t.Slots[s.index()]
}

// SetValue stores v in slot s.
func (t *AnnualTarget) SetValue(s Slot, v float64) {
	t.Slots[s.index()].Value = &v
}

// Normalize enforces record invariants: a formula slot is never manual, and
// logic/profile are never empty.
func (t *AnnualTarget) Normalize() {
	for i := range t.Slots {
		if t.Slots[i].Formula {
			t.Slots[i].Manual = false
		}
		if !t.Slots[i].Formula {
			t.Slots[i].Expression = ""
			t.Slots[i].Inputs = nil
		}
	}
	if t.Logic == "" {
		t.Logic = LogicAnnual
	}
	t.Profile = NormalizeProfile(string(t.Profile))
}

// Clone returns a deep copy of the record.
func (t AnnualTarget) Clone() AnnualTarget {
	out := t
	for i := range t.Slots {
		if t.Slots[i].Value != nil {
			v := *t.Slots[i].Value
			out.Slots[i].Value = &v
		}
		if t.Slots[i].Inputs != nil {
			out.Slots[i].Inputs = append([]FormulaBinding(nil), t.Slots[i].Inputs...)
		}
	}
	out.Repartition = t.Repartition.Clone()
	out.Params = t.Params.Clone()
	return out
}

// Float returns a pointer to v, for literal slot values.
func Float(v float64) *float64 { return &v }
