package repartition

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/theirongolddev/kpitarget/internal/calendar"
	"github.com/theirongolddev/kpitarget/internal/model"
)

func newEngine() *Engine {
	return New(DefaultOptions(), zerolog.Nop())
}

func key(year int) model.SeriesKey {
	return model.SeriesKey{Year: year, LocationID: 1, KPIID: 7, Slot: model.Slot1}
}

func sum(vals []model.PeriodValue) float64 {
	s := 0.0
	for _, v := range vals {
		s += v.Value
	}
	return s
}

func approx(t *testing.T, name string, got, want, relTol float64) {
	t.Helper()
	tol := relTol * math.Max(1, math.Abs(want))
	if math.Abs(got-want) > tol {
		t.Fatalf("%s = %.9f, want %.9f", name, got, want)
	}
}

func day(s string) time.Time {
	d, err := calendar.ParseDay(s)
	if err != nil {
		panic(err)
	}
	return d
}

func equalMonths(pct float64) model.RepartitionValues {
	vals := make(map[string]float64)
	for _, m := range calendar.Months() {
		vals[m] = pct
	}
	return model.RepartitionValues{Scope: model.ScopeMonth, Values: vals}
}

func TestBuild_MonthEvenEqualPercentages(t *testing.T) {
	s := newEngine().Build(Input{
		Key:         key(2025),
		Annual:      1200,
		Kind:        model.Incremental,
		Logic:       model.LogicMonth,
		Profile:     model.ProfileEven,
		Repartition: equalMonths(100.0 / 12),
	})

	if len(s.Monthly) != 12 {
		t.Fatalf("monthly rows = %d, want 12", len(s.Monthly))
	}
	for _, pv := range s.Monthly {
		approx(t, pv.Key, pv.Value, 100, 1e-9)
	}
}

func TestBuild_IncrementalSumInvariant(t *testing.T) {
	e := newEngine()
	logics := []model.Logic{model.LogicAnnual, model.LogicMonth, model.LogicQuarter, model.LogicWeek}
	events := []model.Event{
		{Start: day("2024-03-01"), End: day("2024-03-10"), Multiplier: 3},
		{Start: day("2024-07-01"), End: day("2024-07-01"), Multiplier: 1, Addition: 50},
	}

	for _, logic := range logics {
		for _, profile := range append(model.Profiles, model.Profile("no_such_profile")) {
			for _, withEvents := range []bool{false, true} {
				name := fmt.Sprintf("%s/%s/events=%v", logic, profile, withEvents)
				t.Run(name, func(t *testing.T) {
					in := Input{
						Key:     key(2024),
						Annual:  36500,
						Kind:    model.Incremental,
						Logic:   logic,
						Profile: profile,
					}
					if logic == model.LogicQuarter {
						in.Repartition = model.RepartitionValues{Scope: model.ScopeQuarter,
							Values: map[string]float64{"Q1": 10, "Q2": 20, "Q3": 30, "Q4": 40}}
					}
					if withEvents {
						in.Params.Events = events
					}
					s := e.Build(in)

					approx(t, "sum(daily)", sum(s.Daily), 36500, 1e-6)
					approx(t, "sum(weekly)", sum(s.Weekly), 36500, 1e-6)
					approx(t, "sum(monthly)", sum(s.Monthly), 36500, 1e-6)
					for _, pv := range s.Daily {
						if pv.Value < 0 {
							t.Fatalf("negative day value %s = %f", pv.Key, pv.Value)
						}
					}
					for q := 0; q < 4; q++ {
						m := s.Monthly[q*3 : q*3+3]
						want := m[0].Value + m[1].Value + m[2].Value
						if s.Quarterly[q].Value != want {
							t.Fatalf("quarter %s = %v, want %v", s.Quarterly[q].Key, s.Quarterly[q].Value, want)
						}
					}
				})
			}
		}
	}
}

func TestBuild_QuarterAllocationHonored(t *testing.T) {
	s := newEngine().Build(Input{
		Key:     key(2025),
		Annual:  1000,
		Kind:    model.Incremental,
		Logic:   model.LogicQuarter,
		Profile: model.ProfileMonthlySinusoidal,
		Repartition: model.RepartitionValues{Scope: model.ScopeQuarter,
			Values: map[string]float64{"Q1": 10, "Q2": 20, "Q3": 30, "Q4": 40}},
	})
	want := []float64{100, 200, 300, 400}
	for i, pv := range s.Quarterly {
		approx(t, pv.Key, pv.Value, want[i], 1e-9)
	}
}

func TestBuild_AverageEvenKeepsBase(t *testing.T) {
	s := newEngine().Build(Input{
		Key:     key(2025),
		Annual:  42,
		Kind:    model.Average,
		Logic:   model.LogicAnnual,
		Profile: model.ProfileEven,
	})
	for _, g := range [][]model.PeriodValue{s.Daily, s.Weekly, s.Monthly, s.Quarterly} {
		for _, pv := range g {
			approx(t, pv.Key, pv.Value, 42, 1e-12)
		}
	}
}

func TestBuild_AverageMultipliers(t *testing.T) {
	s := newEngine().Build(Input{
		Key:     key(2025),
		Annual:  10,
		Kind:    model.Average,
		Logic:   model.LogicMonth,
		Profile: model.ProfileEven,
		Repartition: model.RepartitionValues{Scope: model.ScopeMonth,
			Values: map[string]float64{"January": 200}},
	})
	approx(t, "January", s.Monthly[0].Value, 20, 1e-12)
	approx(t, "February", s.Monthly[1].Value, 10, 1e-12)
	// Q1 is the mean of its three monthly means.
	approx(t, "Q1", s.Quarterly[0].Value, (20.0+10+10)/3, 1e-12)
}

func TestBuild_AverageShapedProfileStaysBounded(t *testing.T) {
	opts := DefaultOptions()
	s := New(opts, zerolog.Nop()).Build(Input{
		Key:     key(2025),
		Annual:  100,
		Kind:    model.Average,
		Logic:   model.LogicMonth,
		Profile: model.ProfileMonthlyProgressive,
	})
	lo, hi := 100*(1-opts.DeviationScale), 100*(1+opts.DeviationScale)
	for _, pv := range s.Daily {
		if pv.Value < lo-1e-9 || pv.Value > hi+1e-9 {
			t.Fatalf("day %s = %f outside [%f, %f]", pv.Key, pv.Value, lo, hi)
		}
	}
	for _, pv := range s.Monthly {
		approx(t, pv.Key, pv.Value, 100, 1e-9)
	}
	if s.Daily[0].Value <= s.Daily[30].Value {
		t.Fatalf("progressive month should start high: Jan 1 = %f, Jan 31 = %f", s.Daily[0].Value, s.Daily[30].Value)
	}
}

func TestBuild_AverageWeekdayBias(t *testing.T) {
	s := newEngine().Build(Input{
		Key:     key(2025),
		Annual:  10,
		Kind:    model.Average,
		Logic:   model.LogicAnnual,
		Profile: model.ProfileProgressiveWeekday,
	})
	// 2025-01-04 is a Saturday, 2025-01-06 a Monday.
	approx(t, "saturday", s.Daily[3].Value, 5, 1e-12)
	approx(t, "monday", s.Daily[5].Value, 10, 1e-12)
}

func TestGenerate_ProgressiveFallsBackOutsideAnnual(t *testing.T) {
	e := newEngine()
	base := Input{Key: key(2025), Annual: 1200, Kind: model.Incremental, Logic: model.LogicMonth}

	even := base
	even.Profile = model.ProfileEven
	prog := base
	prog.Profile = model.ProfileAnnualProgressive

	a, b := e.Build(even), e.Build(prog)
	for i := range a.Daily {
		if a.Daily[i].Value != b.Daily[i].Value {
			t.Fatalf("day %s: progressive %f != even %f", a.Daily[i].Key, b.Daily[i].Value, a.Daily[i].Value)
		}
	}
}

func TestGenerate_AnnualProgressiveDecreases(t *testing.T) {
	s := newEngine().Build(Input{
		Key:     key(2025),
		Annual:  3650,
		Kind:    model.Incremental,
		Logic:   model.LogicAnnual,
		Profile: model.ProfileAnnualProgressive,
	})
	first, last := s.Daily[0].Value, s.Daily[len(s.Daily)-1].Value
	if first <= last {
		t.Fatalf("first day %f should exceed last day %f", first, last)
	}
	if s.Monthly[0].Value <= s.Monthly[11].Value {
		t.Fatalf("January %f should exceed December %f", s.Monthly[0].Value, s.Monthly[11].Value)
	}
}

func TestAllocate(t *testing.T) {
	e := newEngine()
	cal := calendar.New(2025)

	t.Run("renormalizes", func(t *testing.T) {
		alloc := e.Allocate(cal, Input{
			Key: key(2025), Annual: 1000, Kind: model.Incremental, Logic: model.LogicQuarter,
			Repartition: model.RepartitionValues{Scope: model.ScopeQuarter,
				Values: map[string]float64{"Q1": 10, "Q2": 10, "Q3": 20, "Q4": 10}},
		})
		approx(t, "Q3", alloc["Q3"], 400, 1e-12)
		approx(t, "Q1", alloc["Q1"], 200, 1e-12)
	})

	t.Run("zero sum is uniform", func(t *testing.T) {
		alloc := e.Allocate(cal, Input{
			Key: key(2025), Annual: 1200, Kind: model.Incremental, Logic: model.LogicMonth,
		})
		if len(alloc) != 12 {
			t.Fatalf("len = %d, want 12", len(alloc))
		}
		approx(t, "March", alloc["March"], 100, 1e-12)
	})

	t.Run("absent weeks get zero", func(t *testing.T) {
		alloc := e.Allocate(cal, Input{
			Key: key(2025), Annual: 700, Kind: model.Incremental, Logic: model.LogicWeek,
			Repartition: model.RepartitionValues{Scope: model.ScopeWeek,
				Values: map[string]float64{"2025-W10": 100}},
		})
		approx(t, "W10", alloc["2025-W10"], 700, 1e-12)
		if alloc["2025-W11"] != 0 {
			t.Fatalf("W11 = %f, want 0", alloc["2025-W11"])
		}
	})

	t.Run("average multipliers default to one", func(t *testing.T) {
		alloc := e.Allocate(cal, Input{
			Key: key(2025), Annual: 5, Kind: model.Average, Logic: model.LogicQuarter,
			Repartition: model.RepartitionValues{Scope: model.ScopeQuarter,
				Values: map[string]float64{"Q2": 150}},
		})
		approx(t, "Q2", alloc["Q2"], 1.5, 1e-12)
		approx(t, "Q4", alloc["Q4"], 1, 1e-12)
	})

	t.Run("annual is empty", func(t *testing.T) {
		alloc := e.Allocate(cal, Input{Key: key(2025), Annual: 5, Kind: model.Incremental, Logic: model.LogicAnnual})
		if len(alloc) != 0 {
			t.Fatalf("len = %d, want 0", len(alloc))
		}
	})

	t.Run("mismatched scope ignored", func(t *testing.T) {
		alloc := e.Allocate(cal, Input{
			Key: key(2025), Annual: 400, Kind: model.Incremental, Logic: model.LogicQuarter,
			Repartition: equalMonths(5),
		})
		approx(t, "Q1", alloc["Q1"], 100, 1e-12)
	})
}

func TestApplyEvents_JanuaryDoubling(t *testing.T) {
	e := newEngine()
	cal := calendar.New(2025)
	in := Input{
		Key: key(2025), Annual: 3650, Kind: model.Incremental, Logic: model.LogicAnnual, Profile: model.ProfileEven,
		Params: model.ProfileParams{Events: []model.Event{
			{Start: day("2025-01-01"), End: day("2025-01-31"), Multiplier: 2},
		}},
	}
	daily := e.Generate(cal, in, nil)
	approx(t, "baseline", daily[0], 10, 1e-12)

	adjusted := e.ApplyEvents(cal, in, daily)
	total := 0.0
	for _, v := range adjusted {
		total += v
	}
	approx(t, "sum", total, 3650, 1e-9)

	// Pre-renormalization January is 20/day against 10/day elsewhere (3960 total).
	scale := 3650.0 / 3960.0
	approx(t, "jan 15", adjusted[14], 20*scale, 1e-9)
	approx(t, "feb 1", adjusted[31], 10*scale, 1e-9)
}

func TestApplyEvents_SkipsInvalidEvents(t *testing.T) {
	e := newEngine()
	cal := calendar.New(2025)
	in := Input{
		Key: key(2025), Annual: 3650, Kind: model.Incremental, Logic: model.LogicAnnual, Profile: model.ProfileEven,
		Params: model.ProfileParams{Events: []model.Event{
			{Start: day("2025-02-01"), End: day("2025-02-28"), Multiplier: -1},
			{Start: day("2025-05-10"), End: day("2025-05-01"), Multiplier: 5},
			{End: day("2025-05-01"), Multiplier: 5},
			{Start: day("2025-03-01"), End: day("2025-03-01"), Multiplier: 0},
		}},
	}
	daily := e.Generate(cal, in, nil)
	adjusted := e.ApplyEvents(cal, in, daily)

	march1 := cal.Index(day("2025-03-01"))
	if adjusted[march1] != 0 {
		t.Fatalf("March 1 = %f, want 0", adjusted[march1])
	}
	// Only the zeroing event applied: everything else rescales by 3650/3640.
	approx(t, "feb 10", adjusted[cal.Index(day("2025-02-10"))], 10*3650.0/3640.0, 1e-9)
}

func TestApplyEvents_ZeroedSeriesFallsBackToUniform(t *testing.T) {
	e := newEngine()
	cal := calendar.New(2025)
	in := Input{
		Key: key(2025), Annual: 730, Kind: model.Incremental, Logic: model.LogicAnnual, Profile: model.ProfileEven,
		Params: model.ProfileParams{Events: []model.Event{
			{Start: day("2024-12-01"), End: day("2026-01-31"), Multiplier: 0},
		}},
	}
	adjusted := e.ApplyEvents(cal, in, e.Generate(cal, in, nil))
	for i, v := range adjusted {
		approx(t, fmt.Sprintf("day %d", i), v, 2, 1e-12)
	}
}

func TestApplyEvents_AverageNotRescaled(t *testing.T) {
	e := newEngine()
	cal := calendar.New(2025)
	in := Input{
		Key: key(2025), Annual: 10, Kind: model.Average, Logic: model.LogicAnnual, Profile: model.ProfileEven,
		Params: model.ProfileParams{Events: []model.Event{
			{Start: day("2025-06-01"), End: day("2025-06-01"), Multiplier: 1, Addition: 5},
		}},
	}
	adjusted := e.ApplyEvents(cal, in, e.Generate(cal, in, nil))
	approx(t, "june 1", adjusted[cal.Index(day("2025-06-01"))], 15, 1e-12)
	approx(t, "june 2", adjusted[cal.Index(day("2025-06-02"))], 10, 1e-12)
}
