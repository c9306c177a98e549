package pipeline

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/theirongolddev/kpitarget/internal/formula"
	"github.com/theirongolddev/kpitarget/internal/hierarchy"
	"github.com/theirongolddev/kpitarget/internal/model"
	"github.com/theirongolddev/kpitarget/internal/repartition"
	"github.com/theirongolddev/kpitarget/internal/store"
)

type recordedOp struct {
	op      string
	success bool
}

type memRecorder struct {
	mu  sync.Mutex
	ops []recordedOp
}

func (r *memRecorder) Observe(_ context.Context, op string, success bool, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, recordedOp{op, success})
}

func newTestOrchestrator(t testing.TB) (*Orchestrator, *store.Store, *memRecorder) {
	t.Helper()
	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "targets.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	rec := &memRecorder{}
	o := New(st,
		repartition.New(repartition.DefaultOptions(), zerolog.Nop()),
		formula.NewResolver(nil, -1, zerolog.Nop()),
		hierarchy.New(zerolog.Nop()),
		rec,
		zerolog.Nop(),
	)
	return o, st, rec
}

func mustSave(t *testing.T, o *Orchestrator, req SaveRequest) SaveResult {
	t.Helper()
	res, err := o.SaveAnnualTargets(context.Background(), req)
	if err != nil {
		t.Fatalf("SaveAnnualTargets: %v", err)
	}
	return res
}

func annualOf(t *testing.T, st *store.Store, year int, loc, kpi int64) model.AnnualTarget {
	t.Helper()
	all, err := st.AnnualTargets(context.Background(), year, loc)
	if err != nil {
		t.Fatalf("AnnualTargets: %v", err)
	}
	for _, at := range all {
		if at.KPIID == kpi {
			return at
		}
	}
	t.Fatalf("no annual target for kpi %d", kpi)
	return model.AnnualTarget{}
}

func seriesSum(t *testing.T, st *store.Store, key model.SeriesKey, g model.Granularity) (float64, int) {
	t.Helper()
	rows, err := st.Series(context.Background(), key, g)
	if err != nil {
		t.Fatalf("Series(%s, %s): %v", key, g, err)
	}
	sum := 0.0
	for _, r := range rows {
		sum += r.Value
	}
	return sum, len(rows)
}

func approx(a, b float64) bool { return math.Abs(a-b) <= 1e-6*math.Max(1, math.Abs(b)) }

func TestSave_MonthlyEvenScenario(t *testing.T) {
	o, st, rec := newTestOrchestrator(t)
	pct := map[string]float64{}
	for _, m := range []string{"January", "February", "March", "April", "May", "June",
		"July", "August", "September", "October", "November", "December"} {
		pct[m] = 100.0 / 12
	}
	res := mustSave(t, o, SaveRequest{
		Year: 2025, LocationID: 1,
		Targets: map[int64]model.AnnualTarget{
			10: {
				Slots:       [2]model.SlotDefinition{{Value: model.Float(1200), Manual: true}},
				Logic:       model.LogicMonth,
				Repartition: model.RepartitionValues{Scope: model.ScopeMonth, Values: pct},
			},
		},
	})

	if len(res.Changed) != 1 || res.Changed[0] != 10 {
		t.Fatalf("Changed = %v, want [10]", res.Changed)
	}
	if res.Repartitioned != 1 || res.Cleared != 1 {
		t.Fatalf("Repartitioned/Cleared = %d/%d, want 1/1", res.Repartitioned, res.Cleared)
	}

	key := model.SeriesKey{Year: 2025, LocationID: 1, KPIID: 10, Slot: model.Slot1}
	rows, err := st.Series(context.Background(), key, model.Monthly)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 12 {
		t.Fatalf("monthly rows = %d, want 12", len(rows))
	}
	for _, r := range rows {
		if !approx(r.Value, 100) {
			t.Errorf("%s = %v, want 100", r.Key, r.Value)
		}
	}
	if sum, n := seriesSum(t, st, key, model.Daily); n != 365 || !approx(sum, 1200) {
		t.Fatalf("daily = %d rows summing %v, want 365 rows summing 1200", n, sum)
	}
	if sum, _ := seriesSum(t, st, key, model.Weekly); !approx(sum, 1200) {
		t.Fatalf("weekly sum = %v, want 1200", sum)
	}

	want := []string{OpPersist, OpResolve, OpDistribute, OpRepartition, OpSave}
	if len(rec.ops) != len(want) {
		t.Fatalf("metrics ops = %+v", rec.ops)
	}
	for i, op := range want {
		if rec.ops[i].op != op || !rec.ops[i].success {
			t.Fatalf("metrics op %d = %+v, want %s ok", i, rec.ops[i], op)
		}
	}
}

func TestSave_MasterSubScenario(t *testing.T) {
	o, st, _ := newTestOrchestrator(t)
	res := mustSave(t, o, SaveRequest{
		Year: 2025, LocationID: 2,
		KPIs: []model.KPI{
			{ID: 1, Name: "Revenue", Kind: model.Incremental},
			{ID: 2, Name: "Online", Kind: model.Incremental},
			{ID: 3, Name: "Stores", Kind: model.Incremental},
		},
		Links: []model.SubLink{
			{MasterID: 1, SubID: 2, Weight: 1},
			{MasterID: 1, SubID: 3, Weight: 3},
		},
		Targets: map[int64]model.AnnualTarget{
			1: {Slots: [2]model.SlotDefinition{{Value: model.Float(1000), Manual: true}}},
			2: {Slots: [2]model.SlotDefinition{{Value: model.Float(100), Manual: true}}},
		},
	})

	sub := annualOf(t, st, 2025, 2, 3)
	if v := sub.Slots[0].Value; v == nil || !approx(*v, 900) {
		t.Fatalf("sub 3 slot1 = %v, want 900", v)
	}
	if sub.Slots[0].Manual || sub.Slots[0].Formula {
		t.Fatalf("derived sub kept flags: %+v", sub.Slots[0])
	}
	if len(res.Changed) != 3 {
		t.Fatalf("Changed = %v, want [1 2 3]", res.Changed)
	}
	key := model.SeriesKey{Year: 2025, LocationID: 2, KPIID: 3, Slot: model.Slot1}
	if sum, _ := seriesSum(t, st, key, model.Daily); !approx(sum, 900) {
		t.Fatalf("sub daily sum = %v, want 900", sum)
	}

	// Raising the master alone re-derives the sub.
	res = mustSave(t, o, SaveRequest{
		Year: 2025, LocationID: 2,
		Targets: map[int64]model.AnnualTarget{
			1: {Slots: [2]model.SlotDefinition{{Value: model.Float(1300), Manual: true}}},
		},
	})
	sub = annualOf(t, st, 2025, 2, 3)
	if !approx(*sub.Slots[0].Value, 1200) {
		t.Fatalf("sub 3 after master change = %v, want 1200", *sub.Slots[0].Value)
	}
	if len(res.Changed) != 2 || res.Changed[1] != 3 {
		t.Fatalf("Changed = %v, want [1 3]", res.Changed)
	}
}

func TestSave_FormulaChain(t *testing.T) {
	for _, order := range [][]int64{{1, 2, 3}, {3, 2, 1}} {
		o, st, _ := newTestOrchestrator(t)
		defs := map[int64]model.AnnualTarget{
			1: {Slots: [2]model.SlotDefinition{{Value: model.Float(10), Manual: true}}},
			2: {Slots: [2]model.SlotDefinition{{Value: model.Float(5), Manual: true}}},
			3: {Slots: [2]model.SlotDefinition{{Formula: true, Expression: "a + b", Inputs: []model.FormulaBinding{
				{SourceKPI: 1, SourceSlot: model.Slot1, Variable: "a"},
				{SourceKPI: 2, SourceSlot: model.Slot1, Variable: "b"},
			}}}},
		}
		// Submit one KPI per save in the given order.
		for _, id := range order {
			mustSave(t, o, SaveRequest{Year: 2025, LocationID: 1, Targets: map[int64]model.AnnualTarget{id: defs[id]}})
		}
		got := annualOf(t, st, 2025, 1, 3)
		if v := got.Slots[0].Value; v == nil || *v != 15 {
			t.Fatalf("order %v: C = %v, want 15", order, v)
		}
		if got.Slots[0].Manual || !got.Slots[0].Formula {
			t.Fatalf("order %v: C flags = %+v", order, got.Slots[0])
		}
		key := model.SeriesKey{Year: 2025, LocationID: 1, KPIID: 3, Slot: model.Slot1}
		if sum, _ := seriesSum(t, st, key, model.Daily); !approx(sum, 15) {
			t.Fatalf("order %v: C daily sum = %v, want 15", order, sum)
		}
	}
}

func TestSave_FormulaFollowsInputChange(t *testing.T) {
	o, st, _ := newTestOrchestrator(t)
	mustSave(t, o, SaveRequest{Year: 2025, LocationID: 1, Targets: map[int64]model.AnnualTarget{
		1: {Slots: [2]model.SlotDefinition{{Value: model.Float(10), Manual: true}}},
		2: {Slots: [2]model.SlotDefinition{{}, {Formula: true, Expression: "x * 2", Inputs: []model.FormulaBinding{
			{SourceKPI: 1, SourceSlot: model.Slot1, Variable: "x"},
		}}}},
	}})
	res := mustSave(t, o, SaveRequest{Year: 2025, LocationID: 1, Targets: map[int64]model.AnnualTarget{
		1: {Slots: [2]model.SlotDefinition{{Value: model.Float(30), Manual: true}}},
	}})
	if len(res.Changed) != 2 {
		t.Fatalf("Changed = %v, want [1 2]", res.Changed)
	}
	if v := annualOf(t, st, 2025, 1, 2).Slots[1].Value; v == nil || *v != 60 {
		t.Fatalf("formula slot = %v, want 60", v)
	}
}

func TestSave_CycleReportedNotFatal(t *testing.T) {
	o, st, _ := newTestOrchestrator(t)
	res := mustSave(t, o, SaveRequest{Year: 2025, LocationID: 1, Targets: map[int64]model.AnnualTarget{
		1: {Slots: [2]model.SlotDefinition{{Formula: true, Expression: "b + 1", Inputs: []model.FormulaBinding{
			{SourceKPI: 2, SourceSlot: model.Slot1, Variable: "b"},
		}}}},
		2: {Slots: [2]model.SlotDefinition{{Formula: true, Expression: "a + 1", Inputs: []model.FormulaBinding{
			{SourceKPI: 1, SourceSlot: model.Slot1, Variable: "a"},
		}}}},
	}})
	ids := res.UnresolvedIDs()
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 2 {
		t.Fatalf("UnresolvedIDs = %v, want [1 2]", ids)
	}
	for _, u := range res.Unresolved {
		if u.Reason != formula.ReasonCycle {
			t.Fatalf("reason = %q, want cycle", u.Reason)
		}
	}

	runs, err := st.Runs(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || len(runs[0].Unresolved) != 2 {
		t.Fatalf("runs = %+v", runs)
	}
}

func TestSave_NullSlotClearsSeries(t *testing.T) {
	o, st, _ := newTestOrchestrator(t)
	key := model.SeriesKey{Year: 2025, LocationID: 1, KPIID: 5, Slot: model.Slot2}
	mustSave(t, o, SaveRequest{Year: 2025, LocationID: 1, Targets: map[int64]model.AnnualTarget{
		5: {Slots: [2]model.SlotDefinition{{}, {Value: model.Float(365), Manual: true}}},
	}})
	if _, n := seriesSum(t, st, key, model.Daily); n != 365 {
		t.Fatalf("daily rows = %d, want 365", n)
	}

	res := mustSave(t, o, SaveRequest{Year: 2025, LocationID: 1, Targets: map[int64]model.AnnualTarget{
		5: {},
	}})
	if res.Repartitioned != 0 || res.Cleared != 2 {
		t.Fatalf("Repartitioned/Cleared = %d/%d, want 0/2", res.Repartitioned, res.Cleared)
	}
	for _, g := range model.Granularities {
		if _, n := seriesSum(t, st, key, g); n != 0 {
			t.Fatalf("%s rows = %d after clearing, want 0", g, n)
		}
	}
}

func TestSave_IdempotentResubmission(t *testing.T) {
	o, st, _ := newTestOrchestrator(t)
	req := SaveRequest{Year: 2025, LocationID: 4, Targets: map[int64]model.AnnualTarget{
		8: {
			Slots:   [2]model.SlotDefinition{{Value: model.Float(5000), Manual: true}},
			Profile: model.ProfileAnnualSinusoidal,
		},
	}}
	first := mustSave(t, o, req)
	key := model.SeriesKey{Year: 2025, LocationID: 4, KPIID: 8, Slot: model.Slot1}
	before, err := st.FullSeries(context.Background(), key)
	if err != nil {
		t.Fatal(err)
	}

	second := mustSave(t, o, req)
	if first.Unchanged || !second.Unchanged {
		t.Fatalf("Unchanged = %v, %v, want false, true", first.Unchanged, second.Unchanged)
	}
	if first.RunID == second.RunID {
		t.Fatal("run ids should differ")
	}
	after, err := st.FullSeries(context.Background(), key)
	if err != nil {
		t.Fatal(err)
	}
	for _, g := range model.Granularities {
		b, a := before.Get(g), after.Get(g)
		if len(a) != len(b) {
			t.Fatalf("%s rows = %d, want %d", g, len(a), len(b))
		}
		for i := range a {
			if a[i] != b[i] {
				t.Fatalf("%s row %d = %+v, want %+v", g, i, a[i], b[i])
			}
		}
	}
}

func TestSave_FormulaReadsDerivedSub(t *testing.T) {
	o, st, _ := newTestOrchestrator(t)
	req := SaveRequest{
		Year: 2025, LocationID: 1,
		Links: []model.SubLink{{MasterID: 1, SubID: 2, Weight: 1}},
		Targets: map[int64]model.AnnualTarget{
			1: {Slots: [2]model.SlotDefinition{{Value: model.Float(1000), Manual: true}}},
			3: {Slots: [2]model.SlotDefinition{{Formula: true, Expression: "s * 2", Inputs: []model.FormulaBinding{
				{SourceKPI: 2, SourceSlot: model.Slot1, Variable: "s"},
			}}}},
		},
	}

	first := mustSave(t, o, req)
	if len(first.Unresolved) != 0 {
		t.Fatalf("Unresolved = %+v, want none", first.Unresolved)
	}
	if v := annualOf(t, st, 2025, 1, 3).Slots[0].Value; v == nil || !approx(*v, 2000) {
		t.Fatalf("formula over derived sub = %v, want 2000", v)
	}
	key := model.SeriesKey{Year: 2025, LocationID: 1, KPIID: 3, Slot: model.Slot1}
	if sum, _ := seriesSum(t, st, key, model.Daily); !approx(sum, 2000) {
		t.Fatalf("formula daily sum = %v, want 2000", sum)
	}

	second := mustSave(t, o, req)
	if len(second.Unresolved) != 0 {
		t.Fatalf("second save Unresolved = %+v, want none", second.Unresolved)
	}
	for _, id := range []int64{1, 2, 3} {
		if v := annualOf(t, st, 2025, 1, id).Slots[0].Value; v == nil {
			t.Fatalf("kpi %d slot1 = nil after resubmission", id)
		}
	}
	if v := *annualOf(t, st, 2025, 1, 3).Slots[0].Value; !approx(v, 2000) {
		t.Fatalf("formula after resubmission = %v, want 2000", v)
	}
}

func TestSave_MovedSubRebalancesOldMaster(t *testing.T) {
	o, st, _ := newTestOrchestrator(t)
	mustSave(t, o, SaveRequest{
		Year: 2025, LocationID: 1,
		Links: []model.SubLink{
			{MasterID: 1, SubID: 2, Weight: 1},
			{MasterID: 1, SubID: 3, Weight: 1},
		},
		Targets: map[int64]model.AnnualTarget{
			1: {Slots: [2]model.SlotDefinition{{Value: model.Float(1000), Manual: true}}},
		},
	})
	if v := *annualOf(t, st, 2025, 1, 2).Slots[0].Value; !approx(v, 500) {
		t.Fatalf("sub 2 before move = %v, want 500", v)
	}

	res := mustSave(t, o, SaveRequest{
		Year: 2025, LocationID: 1,
		Links: []model.SubLink{{MasterID: 4, SubID: 3, Weight: 1}},
		Targets: map[int64]model.AnnualTarget{
			4: {Slots: [2]model.SlotDefinition{{Value: model.Float(200), Manual: true}}},
		},
	})
	if v := *annualOf(t, st, 2025, 1, 2).Slots[0].Value; !approx(v, 1000) {
		t.Fatalf("sub 2 after move = %v, want 1000", v)
	}
	if v := *annualOf(t, st, 2025, 1, 3).Slots[0].Value; !approx(v, 200) {
		t.Fatalf("sub 3 after move = %v, want 200", v)
	}
	key := model.SeriesKey{Year: 2025, LocationID: 1, KPIID: 2, Slot: model.Slot1}
	if sum, _ := seriesSum(t, st, key, model.Daily); !approx(sum, 1000) {
		t.Fatalf("sub 2 daily sum = %v, want 1000", sum)
	}
	found := false
	for _, id := range res.Changed {
		found = found || id == 2
	}
	if !found {
		t.Fatalf("Changed = %v, want sub 2 included", res.Changed)
	}
}

func TestSave_KindChangeRebuildsSeries(t *testing.T) {
	o, st, _ := newTestOrchestrator(t)
	mustSave(t, o, SaveRequest{
		Year: 2025, LocationID: 1,
		KPIs: []model.KPI{{ID: 5, Name: "Visits", Kind: model.Incremental}},
		Targets: map[int64]model.AnnualTarget{
			5: {
				Slots:   [2]model.SlotDefinition{{Value: model.Float(365), Manual: true}},
				Logic:   model.LogicAnnual,
				Profile: model.ProfileEven,
			},
		},
	})
	key := model.SeriesKey{Year: 2025, LocationID: 1, KPIID: 5, Slot: model.Slot1}
	monthly := func() float64 {
		t.Helper()
		rows, err := st.Series(context.Background(), key, model.Monthly)
		if err != nil || len(rows) == 0 {
			t.Fatalf("monthly rows = %v, %v", rows, err)
		}
		return rows[0].Value
	}
	if got := monthly(); !approx(got, 31) {
		t.Fatalf("incremental January = %v, want 31", got)
	}

	res := mustSave(t, o, SaveRequest{
		Year: 2025, LocationID: 1,
		KPIs: []model.KPI{{ID: 5, Name: "Visits", Kind: model.Average}},
	})
	if len(res.Changed) != 1 || res.Changed[0] != 5 {
		t.Fatalf("Changed = %v, want [5]", res.Changed)
	}
	if got := monthly(); !approx(got, 365) {
		t.Fatalf("average January = %v, want 365", got)
	}
}

func TestSave_CancelledBeforeStart(t *testing.T) {
	o, st, rec := newTestOrchestrator(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := o.SaveAnnualTargets(ctx, SaveRequest{Year: 2025, LocationID: 1, Targets: map[int64]model.AnnualTarget{
		1: {Slots: [2]model.SlotDefinition{{Value: model.Float(1)}}},
	}})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if got, _ := st.AnnualTargets(context.Background(), 2025, 1); len(got) != 0 {
		t.Fatalf("targets persisted despite cancellation: %+v", got)
	}
	last := rec.ops[len(rec.ops)-1]
	if last.op != OpSave || last.success {
		t.Fatalf("last metric = %+v, want failed save", last)
	}
}

func TestSave_InvalidLinkAborts(t *testing.T) {
	o, st, _ := newTestOrchestrator(t)
	_, err := o.SaveAnnualTargets(context.Background(), SaveRequest{
		Year: 2025, LocationID: 1,
		Links: []model.SubLink{{MasterID: 1, SubID: 2, Weight: 1}, {MasterID: 2, SubID: 3, Weight: 1}},
		Targets: map[int64]model.AnnualTarget{
			1: {Slots: [2]model.SlotDefinition{{Value: model.Float(1)}}},
		},
	})
	if !errors.Is(err, store.ErrInvalidLink) {
		t.Fatalf("error = %v, want ErrInvalidLink", err)
	}
	if got, _ := st.AnnualTargets(context.Background(), 2025, 1); len(got) != 0 {
		t.Fatal("persist phase should have rolled back")
	}
}

func TestFingerprint(t *testing.T) {
	initiator := int64(9)
	a := SaveRequest{
		Year: 2025, LocationID: 1,
		KPIs:  []model.KPI{{ID: 1, Name: "a"}, {ID: 2, Name: "b"}},
		Links: []model.SubLink{{MasterID: 1, SubID: 2, Weight: 1}},
		Targets: map[int64]model.AnnualTarget{
			1: {Slots: [2]model.SlotDefinition{{Value: model.Float(10)}}},
			2: {Slots: [2]model.SlotDefinition{{Value: model.Float(20)}}},
		},
	}
	b := a
	b.KPIs = []model.KPI{{ID: 2, Name: "b"}, {ID: 1, Name: "a"}}
	b.Initiator = &initiator

	fa, err := Fingerprint(a)
	if err != nil {
		t.Fatal(err)
	}
	fb, err := Fingerprint(b)
	if err != nil {
		t.Fatal(err)
	}
	if fa != fb {
		t.Fatalf("fingerprints differ for reordered KPIs: %s vs %s", fa, fb)
	}

	c := a
	c.Targets = map[int64]model.AnnualTarget{
		1: {Slots: [2]model.SlotDefinition{{Value: model.Float(10)}}},
		2: {Slots: [2]model.SlotDefinition{{Value: model.Float(21)}}},
	}
	if fc, _ := Fingerprint(c); fc == fa {
		t.Fatal("fingerprint ignores target values")
	}
}
