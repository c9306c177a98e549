package tui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/theirongolddev/kpitarget/internal/config"
	"github.com/theirongolddev/kpitarget/internal/model"
	"github.com/theirongolddev/kpitarget/internal/store"
	"github.com/theirongolddev/kpitarget/internal/tui/components"

	tea "github.com/charmbracelet/bubbletea"
)

type fakeSource struct {
	partitions []store.Partition
	kpis       []model.KPI
	links      []model.SubLink
	targets    map[[2]int64][]model.AnnualTarget
	runs       []model.SaveRun
	series     map[model.SeriesKey][]model.PeriodValue
	err        error
}

func (f *fakeSource) Partitions(context.Context) ([]store.Partition, error) {
	return f.partitions, f.err
}

func (f *fakeSource) KPIs(context.Context) ([]model.KPI, error) { return f.kpis, nil }

func (f *fakeSource) Links(context.Context) ([]model.SubLink, error) { return f.links, nil }

func (f *fakeSource) AnnualTargets(_ context.Context, year int, location int64) ([]model.AnnualTarget, error) {
	return f.targets[[2]int64{int64(year), location}], nil
}

func (f *fakeSource) Runs(context.Context, int) ([]model.SaveRun, error) { return f.runs, nil }

func (f *fakeSource) Series(_ context.Context, key model.SeriesKey, _ model.Granularity) ([]model.PeriodValue, error) {
	return f.series[key], nil
}

func target(year int, loc, kpi int64, v float64) model.AnnualTarget {
	return model.AnnualTarget{
		Year: year, LocationID: loc, KPIID: kpi,
		Slots:   [2]model.SlotDefinition{{Value: model.Float(v), Manual: true}},
		Logic:   model.LogicAnnual,
		Profile: model.ProfileEven,
	}
}

func newFake() *fakeSource {
	return &fakeSource{
		partitions: []store.Partition{{Year: 2026, LocationID: 1, Targets: 2}, {Year: 2025, LocationID: 2, Targets: 1}},
		kpis:       []model.KPI{{ID: 10, Name: "Revenue", Kind: model.Incremental}, {ID: 11, Name: "Visits", Kind: model.Average}},
		links:      []model.SubLink{{MasterID: 10, SubID: 11, Weight: 1}},
		targets: map[[2]int64][]model.AnnualTarget{
			{2026, 1}: {target(2026, 1, 10, 1200), target(2026, 1, 11, 300)},
			{2025, 2}: {target(2025, 2, 10, 50)},
		},
		runs: []model.SaveRun{
			{ID: "run-a", Year: 2026, LocationID: 1, StartedAt: time.Now(), Changed: []int64{10, 11}},
			{ID: "run-b", Year: 2025, LocationID: 2, StartedAt: time.Now()},
		},
		series: map[model.SeriesKey][]model.PeriodValue{
			{Year: 2026, LocationID: 1, KPIID: 11, Slot: model.Slot1}: {{Key: "Q1", Value: 75}, {Key: "Q2", Value: 75}, {Key: "Q3", Value: 75}, {Key: "Q4", Value: 75}},
		},
	}
}

func key(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func loadedApp(t *testing.T, src Source) App {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	a := NewApp(src, 0, 0)
	a.needSetup = false
	snap, err := loadSnapshot(context.Background(), src, 0, 0, nil)
	if err != nil {
		t.Fatalf("loadSnapshot: %v", err)
	}
	m, _ := a.Update(DataLoadedMsg{Snap: snap})
	a = m.(App)
	m, _ = a.Update(tea.WindowSizeMsg{Width: 140, Height: 40})
	return m.(App)
}

func TestLoadSnapshot_NewestPartition(t *testing.T) {
	var steps []int
	snap, err := loadSnapshot(context.Background(), newFake(), 0, 0, func(cur, total int) {
		steps = append(steps, cur)
		if total != 5 {
			t.Errorf("total = %d, want 5", total)
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	if snap.Year != 2026 || snap.Location != 1 {
		t.Fatalf("scope = %d/%d, want 2026/1", snap.Year, snap.Location)
	}
	if len(snap.Targets) != 2 || len(snap.Runs) != 1 || snap.Runs[0].ID != "run-a" {
		t.Fatalf("snapshot = %d targets, runs %+v", len(snap.Targets), snap.Runs)
	}
	if len(steps) != 5 {
		t.Fatalf("steps = %v, want 5 calls", steps)
	}
}

func TestLoadSnapshot_Error(t *testing.T) {
	src := newFake()
	src.err = errors.New("disk gone")
	if _, err := loadSnapshot(context.Background(), src, 0, 0, nil); err == nil {
		t.Fatal("loadSnapshot should surface the source error")
	}
}

func TestApp_SelectTargetAndLoadSeries(t *testing.T) {
	a := loadedApp(t, newFake())

	m, _ := a.Update(key("j"))
	a = m.(App)
	if a.cursor != 1 {
		t.Fatalf("cursor = %d, want 1", a.cursor)
	}
	m, _ = a.Update(tea.KeyMsg{Type: tea.KeyTab})
	a = m.(App)
	if a.gran != model.Quarterly {
		t.Fatalf("gran = %s, want quarterly", a.gran)
	}

	m, cmd := a.Update(key("s"))
	a = m.(App)
	if a.activeTab != tabSeries {
		t.Fatalf("activeTab = %d, want series", a.activeTab)
	}
	if cmd == nil {
		t.Fatal("switching to series should fetch rows")
	}
	m, _ = a.Update(cmd())
	a = m.(App)
	if len(a.series) != 4 {
		t.Fatalf("series rows = %d, want 4", len(a.series))
	}
	if view := a.View(); !strings.Contains(view, "Visits") {
		t.Fatal("series view should name the selected KPI")
	}
}

func TestApp_StaleSeriesIgnored(t *testing.T) {
	a := loadedApp(t, newFake())
	m, _ := a.Update(SeriesLoadedMsg{
		Key:         model.SeriesKey{Year: 2026, LocationID: 1, KPIID: 99, Slot: model.Slot1},
		Granularity: a.gran,
		Rows:        []model.PeriodValue{{Key: "x", Value: 1}},
	})
	if got := m.(App).series; got != nil {
		t.Fatalf("stale series applied: %v", got)
	}
}

func TestApp_CycleScope(t *testing.T) {
	src := newFake()
	a := loadedApp(t, src)

	m, cmd := a.Update(key("]"))
	a = m.(App)
	if a.year != 2025 || a.location != 2 || !a.refreshing {
		t.Fatalf("scope = %d/%d refreshing=%v, want 2025/2 refreshing", a.year, a.location, a.refreshing)
	}
	msgs := cmd().(tea.BatchMsg)
	var loaded DataLoadedMsg
	for _, c := range msgs {
		if msg, ok := c().(DataLoadedMsg); ok {
			loaded = msg
		}
	}
	m, _ = a.Update(loaded)
	a = m.(App)
	if len(a.snap.Targets) != 1 || a.snap.Runs[0].ID != "run-b" {
		t.Fatalf("reloaded snapshot = %+v", a.snap)
	}
}

func TestApp_ViewsRenderEveryTab(t *testing.T) {
	a := loadedApp(t, newFake())
	for i := range components.Tabs {
		a.activeTab = i
		view := a.View()
		if view == "" {
			t.Fatalf("tab %d rendered nothing", i)
		}
		if lines := strings.Count(view, "\n") + 1; lines != a.height {
			t.Fatalf("tab %d height = %d, want %d", i, lines, a.height)
		}
	}
}

func TestTabAtXMatchesTabWidths(t *testing.T) {
	for active := range components.Tabs {
		a := App{activeTab: active}
		pos := 0
		for i, tab := range components.Tabs {
			w := components.TabVisualWidth(tab, i == active)
			if got := a.tabAtX(pos + w/2); got != i {
				t.Fatalf("active=%d x=%d -> tab %d, want %d", active, pos+w/2, got, i)
			}
			pos += w + 1
		}
	}
}

func TestPeriodLabel(t *testing.T) {
	tests := []struct {
		g    model.Granularity
		key  string
		want string
	}{
		{model.Daily, "2025-03-01", "Mar"},
		{model.Daily, "2025-03-09", "9"},
		{model.Weekly, "2025-W07", "W07"},
		{model.Monthly, "February", "Feb"},
		{model.Quarterly, "Q3", "Q3"},
	}
	for _, tt := range tests {
		if got := periodLabel(tt.g, tt.key); got != tt.want {
			t.Errorf("periodLabel(%s, %q) = %q, want %q", tt.g, tt.key, got, tt.want)
		}
	}
}

func TestSetupValuesApply(t *testing.T) {
	cfg := config.DefaultConfig()
	v := SetupValues{DB: " /tmp/t.db ", Year: "2026", Location: "4", Theme: "tokyo-night", LogLevel: "debug"}
	if err := v.Apply(&cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.General.DB != "/tmp/t.db" || cfg.General.Year != 2026 || cfg.General.Location != 4 {
		t.Fatalf("general = %+v", cfg.General)
	}
	if cfg.Appearance.Theme != "tokyo-night" || cfg.Log.Level != "debug" {
		t.Fatalf("theme/log = %s/%s", cfg.Appearance.Theme, cfg.Log.Level)
	}

	bad := []SetupValues{{Year: "20x6"}, {Year: "1200"}, {Location: "-1"}}
	for _, b := range bad {
		if err := b.Apply(&cfg); err == nil {
			t.Errorf("Apply(%+v) should fail", b)
		}
	}
}
