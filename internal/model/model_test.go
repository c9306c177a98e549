package model

import "testing"

func TestCanonicalPeriodKey(t *testing.T) {
	tests := []struct {
		scope Scope
		raw   string
		want  string
		ok    bool
	}{
		{ScopeMonth, "January", "January", true},
		{ScopeMonth, "jan", "January", true},
		{ScopeMonth, " SEP ", "September", true},
		{ScopeMonth, "12", "December", true},
		{ScopeMonth, "13", "", false},
		{ScopeMonth, "Janu", "", false},
		{ScopeQuarter, "q3", "Q3", true},
		{ScopeQuarter, "2", "Q2", true},
		{ScopeQuarter, "Q5", "", false},
		{ScopeWeek, "2025-w7", "2025-W07", true},
		{ScopeWeek, "2025-W53", "2025-W53", true},
		{ScopeWeek, "2025-W54", "", false},
		{ScopeNone, "January", "", false},
	}
	for _, tt := range tests {
		got, ok := CanonicalPeriodKey(tt.scope, tt.raw)
		if got != tt.want || ok != tt.ok {
			t.Errorf("CanonicalPeriodKey(%q, %q) = %q, %v, want %q, %v", tt.scope, tt.raw, got, ok, tt.want, tt.ok)
		}
	}
}

func TestNewRepartitionValues_MergesAliases(t *testing.T) {
	rv, rejected := NewRepartitionValues(ScopeMonth, map[string]float64{
		"jan": 5, "1": 5, "Feb": 10, "Smarch": 1,
	})
	if rv.Values["January"] != 10 {
		t.Fatalf("January = %v, want 10", rv.Values["January"])
	}
	if rv.Values["February"] != 10 {
		t.Fatalf("February = %v, want 10", rv.Values["February"])
	}
	if len(rejected) != 1 || rejected[0] != "Smarch" {
		t.Fatalf("rejected = %v, want [Smarch]", rejected)
	}
}

func TestAnnualTarget_Normalize(t *testing.T) {
	tgt := AnnualTarget{
		Slots: [2]SlotDefinition{
			{Value: Float(1), Manual: true, Formula: true, Expression: "a+b"},
			{Value: Float(2), Expression: "stale", Inputs: []FormulaBinding{{SourceKPI: 1, SourceSlot: Slot1, Variable: "a"}}},
		},
		Profile: " Monthly-Progressive ",
	}
	tgt.Normalize()

	if tgt.Slots[0].Manual {
		t.Fatal("formula slot still manual")
	}
	if tgt.Slots[0].Expression != "a+b" {
		t.Fatalf("formula expression = %q, want a+b", tgt.Slots[0].Expression)
	}
	if tgt.Slots[1].Expression != "" || tgt.Slots[1].Inputs != nil {
		t.Fatalf("non-formula slot kept expression %q inputs %v", tgt.Slots[1].Expression, tgt.Slots[1].Inputs)
	}
	if tgt.Logic != LogicAnnual {
		t.Fatalf("Logic = %q, want Annual", tgt.Logic)
	}
	if tgt.Profile != ProfileMonthlyProgressive {
		t.Fatalf("Profile = %q, want %q", tgt.Profile, ProfileMonthlyProgressive)
	}
}

func TestAnnualTarget_CloneIsDeep(t *testing.T) {
	orig := AnnualTarget{
		Slots:       [2]SlotDefinition{{Value: Float(5)}},
		Repartition: RepartitionValues{Scope: ScopeQuarter, Values: map[string]float64{"Q1": 100}},
	}
	cp := orig.Clone()
	cp.SetValue(Slot1, 9)
	cp.Repartition.Values["Q1"] = 1

	if *orig.Slots[0].Value != 5 {
		t.Fatalf("original slot changed to %v", *orig.Slots[0].Value)
	}
	if orig.Repartition.Values["Q1"] != 100 {
		t.Fatalf("original repartition changed to %v", orig.Repartition.Values["Q1"])
	}
}

func TestParseKindAndLogic(t *testing.T) {
	if k, err := ParseKind("avg"); err != nil || k != Average {
		t.Fatalf("ParseKind(avg) = %v, %v", k, err)
	}
	if _, err := ParseKind("median"); err == nil {
		t.Fatal("ParseKind(median) should fail")
	}
	if l, err := ParseLogic(""); err != nil || l != LogicAnnual {
		t.Fatalf("ParseLogic(\"\") = %v, %v", l, err)
	}
	if l, err := ParseLogic("weekly"); err != nil || l != LogicWeek {
		t.Fatalf("ParseLogic(weekly) = %v, %v", l, err)
	}
}
