// Package tui provides the interactive Bubble Tea browser for stored
// targets.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/theirongolddev/kpitarget/internal/cli"
	"github.com/theirongolddev/kpitarget/internal/config"
	"github.com/theirongolddev/kpitarget/internal/model"
	"github.com/theirongolddev/kpitarget/internal/store"
	"github.com/theirongolddev/kpitarget/internal/tui/components"
	"github.com/theirongolddev/kpitarget/internal/tui/theme"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
)

// Source is the read side of the target store the browser needs.
// *store.Store satisfies it.
type Source interface {
	Partitions(ctx context.Context) ([]store.Partition, error)
	KPIs(ctx context.Context) ([]model.KPI, error)
	Links(ctx context.Context) ([]model.SubLink, error)
	AnnualTargets(ctx context.Context, year int, location int64) ([]model.AnnualTarget, error)
	Runs(ctx context.Context, limit int) ([]model.SaveRun, error)
	Series(ctx context.Context, key model.SeriesKey, g model.Granularity) ([]model.PeriodValue, error)
}

// Snapshot is everything the tabs render for one (year, location).
type Snapshot struct {
	Partitions []store.Partition
	Year       int
	Location   int64
	KPIs       map[int64]model.KPI
	Links      []model.SubLink
	Targets    []model.AnnualTarget
	Runs       []model.SaveRun
}

// DataLoadedMsg is sent when a snapshot load finishes.
type DataLoadedMsg struct {
	Snap     Snapshot
	LoadTime time.Duration
	Err      error
}

// ProgressMsg reports snapshot loading steps.
type ProgressMsg struct {
	Current int
	Total   int
}

// SeriesLoadedMsg carries the periodic rows for one KPI slot.
type SeriesLoadedMsg struct {
	Key         model.SeriesKey
	Granularity model.Granularity
	Rows        []model.PeriodValue
	Err         error
}

// App is the root Bubble Tea model.
type App struct {
	src      Source
	year     int
	location int64

	// Data
	snap        Snapshot
	loaded      bool
	loadErr     error
	loadTime    time.Duration
	lastRefresh time.Time
	refreshing  bool

	// Selection shared by the targets, series and hierarchy tabs.
	cursor    int
	slot      model.Slot
	gran      model.Granularity
	runCursor int

	// Series for the selected target
	series     []model.PeriodValue
	seriesKey  model.SeriesKey
	seriesGran model.Granularity
	seriesErr  error

	// UI state
	width     int
	height    int
	activeTab int
	showHelp  bool

	// Settings form; also used for first-run setup.
	form      *huh.Form
	formVals  *SetupValues
	needSetup bool
	settings  settingsState

	// Loading
	spinner     spinner.Model
	progress    int
	progressMax int
	loadSub     chan tea.Msg
}

const (
	minTerminalWidth = 80
	compactWidth     = 120
	maxContentWidth  = 180
	minContentHeight = 5
	runsLimit        = 200
	loadTimeout      = 30 * time.Second
)

// NewApp returns the browser model reading from src. A zero year selects
// the newest stored partition.
func NewApp(src Source, year int, location int64) App {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(theme.Active.Accent).Background(theme.Active.Surface)

	return App{
		src:       src,
		year:      year,
		location:  location,
		slot:      model.Slot1,
		gran:      model.Monthly,
		needSetup: !config.Exists(),
		spinner:   sp,
		loadSub:   make(chan tea.Msg, 1),
	}
}

// Init implements tea.Model.
func (a App) Init() tea.Cmd {
	return tea.Batch(
		tea.EnableMouseCellMotion,
		loadDataCmd(a.src, a.year, a.location, a.loadSub),
		a.spinner.Tick,
	)
}

// Update implements tea.Model.
func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		if a.form != nil {
			a.form = a.form.WithWidth(msg.Width).WithHeight(msg.Height)
		}
		return a, nil

	case tea.MouseMsg:
		if !a.loaded || a.showHelp || a.form != nil {
			return a, nil
		}
		switch msg.Button {
		case tea.MouseButtonWheelUp:
			a.moveCursor(-1)
			return a, a.syncSeries()
		case tea.MouseButtonWheelDown:
			a.moveCursor(1)
			return a, a.syncSeries()
		case tea.MouseButtonLeft:
			if msg.Action == tea.MouseActionPress && msg.Y == 0 {
				if tab := a.tabAtX(msg.X); tab >= 0 {
					a.activeTab = tab
					return a, a.syncSeries()
				}
			}
		}
		return a, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return a, tea.Quit
		}
		if !a.loaded {
			return a, nil
		}
		if a.form != nil {
			return a.updateForm(msg)
		}
		return a.updateKeys(msg)

	case ProgressMsg:
		a.progress = msg.Current
		a.progressMax = msg.Total
		return a, waitForLoadMsg(a.loadSub)

	case DataLoadedMsg:
		return a.applySnapshot(msg)

	case SeriesLoadedMsg:
		if msg.Key == a.selectedKey() && msg.Granularity == a.gran {
			a.series = msg.Rows
			a.seriesKey = msg.Key
			a.seriesGran = msg.Granularity
			a.seriesErr = msg.Err
		}
		return a, nil

	case spinner.TickMsg:
		if !a.loaded || a.refreshing {
			var cmd tea.Cmd
			a.spinner, cmd = a.spinner.Update(msg)
			return a, cmd
		}
		return a, nil
	}

	if a.form != nil {
		return a.updateForm(msg)
	}
	return a, nil
}

func (a App) applySnapshot(msg DataLoadedMsg) (tea.Model, tea.Cmd) {
	first := !a.loaded
	a.loaded = true
	a.refreshing = false
	a.loadTime = msg.LoadTime
	a.lastRefresh = time.Now()
	a.loadErr = msg.Err
	if msg.Err == nil {
		a.snap = msg.Snap
		a.year = msg.Snap.Year
		a.location = msg.Snap.Location
	}
	a.cursor = min(a.cursor, max(len(a.snap.Targets)-1, 0))
	a.runCursor = min(a.runCursor, max(len(a.snap.Runs)-1, 0))
	a.seriesKey = model.SeriesKey{}

	if first && a.needSetup {
		cmd := a.openForm()
		return a, cmd
	}
	return a, a.syncSeries()
}

func (a App) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()

	if key == "?" {
		a.showHelp = !a.showHelp
		return a, nil
	}
	if a.showHelp {
		a.showHelp = false
		return a, nil
	}

	switch key {
	case "q":
		return a, tea.Quit
	case "r":
		if a.refreshing {
			return a, nil
		}
		a.refreshing = true
		return a, tea.Batch(refreshDataCmd(a.src, a.year, a.location), a.spinner.Tick)
	case "[", "]":
		return a.cycleScope(key == "]")
	case "left":
		a.activeTab = (a.activeTab - 1 + len(components.Tabs)) % len(components.Tabs)
		return a, a.syncSeries()
	case "right":
		a.activeTab = (a.activeTab + 1) % len(components.Tabs)
		return a, a.syncSeries()
	case "j", "down":
		a.moveCursor(1)
		return a, a.syncSeries()
	case "k", "up":
		a.moveCursor(-1)
		return a, a.syncSeries()
	case "g", "home":
		a.moveCursor(-1 << 30)
		return a, a.syncSeries()
	case "G", "end":
		a.moveCursor(1 << 30)
		return a, a.syncSeries()
	case "1":
		a.slot = model.Slot1
		return a, a.syncSeries()
	case "2":
		a.slot = model.Slot2
		return a, a.syncSeries()
	case "tab", "shift+tab":
		a.gran = stepGranularity(a.gran, key == "tab")
		return a, a.syncSeries()
	case "enter", "e":
		if a.activeTab == tabSettings {
			cmd := a.openForm()
			return a, cmd
		}
		if a.activeTab == tabTargets {
			a.activeTab = tabSeries
			return a, a.syncSeries()
		}
		return a, nil
	}

	if tab := components.TabIndex(key); tab >= 0 {
		a.activeTab = tab
		return a, a.syncSeries()
	}
	return a, nil
}

// Tab indexes, matching components.Tabs.
const (
	tabTargets = iota
	tabSeries
	tabHierarchy
	tabRuns
	tabSettings
)

func (a *App) moveCursor(delta int) {
	if a.activeTab == tabRuns {
		a.runCursor = min(max(a.runCursor+delta, 0), max(len(a.snap.Runs)-1, 0))
		return
	}
	a.cursor = min(max(a.cursor+delta, 0), max(len(a.snap.Targets)-1, 0))
}

func (a App) cycleScope(forward bool) (tea.Model, tea.Cmd) {
	parts := a.snap.Partitions
	if len(parts) == 0 || a.refreshing {
		return a, nil
	}
	idx := -1
	for i, p := range parts {
		if p.Year == a.year && p.LocationID == a.location {
			idx = i
			break
		}
	}
	switch {
	case idx < 0:
		idx = 0
	case forward:
		idx = (idx + 1) % len(parts)
	default:
		idx = (idx - 1 + len(parts)) % len(parts)
	}
	a.year = parts[idx].Year
	a.location = parts[idx].LocationID
	a.cursor, a.runCursor = 0, 0
	a.refreshing = true
	return a, tea.Batch(refreshDataCmd(a.src, a.year, a.location), a.spinner.Tick)
}

func stepGranularity(g model.Granularity, forward bool) model.Granularity {
	all := model.Granularities
	for i, k := range all {
		if k != g {
			continue
		}
		if forward {
			return all[(i+1)%len(all)]
		}
		return all[(i-1+len(all))%len(all)]
	}
	return model.Monthly
}

// selected returns the target under the cursor.
func (a App) selected() (model.AnnualTarget, bool) {
	if a.cursor < 0 || a.cursor >= len(a.snap.Targets) {
		return model.AnnualTarget{}, false
	}
	return a.snap.Targets[a.cursor], true
}

func (a App) selectedKey() model.SeriesKey {
	at, ok := a.selected()
	if !ok {
		return model.SeriesKey{}
	}
	return model.SeriesKey{Year: at.Year, LocationID: at.LocationID, KPIID: at.KPIID, Slot: a.slot}
}

// syncSeries fetches the series for the current selection when the series
// tab is showing something other than what is loaded.
func (a *App) syncSeries() tea.Cmd {
	if a.activeTab != tabSeries {
		return nil
	}
	key := a.selectedKey()
	if key.KPIID == 0 || (key == a.seriesKey && a.gran == a.seriesGran) {
		return nil
	}
	return loadSeriesCmd(a.src, key, a.gran)
}

func (a *App) openForm() tea.Cmd {
	cfg, err := config.Load()
	if err != nil {
		cfg = config.DefaultConfig()
	}
	a.form, a.formVals = NewSetupForm(cfg)
	if a.width > 0 {
		a.form = a.form.WithWidth(a.width).WithHeight(a.height)
	}
	return a.form.Init()
}

func (a App) updateForm(msg tea.Msg) (tea.Model, tea.Cmd) {
	m, cmd := a.form.Update(msg)
	if f, ok := m.(*huh.Form); ok {
		a.form = f
	}

	switch a.form.State {
	case huh.StateCompleted:
		a.settings.saveErr = a.saveForm()
		a.settings.saved = a.settings.saveErr == nil
		a.form, a.formVals, a.needSetup = nil, nil, false
		return a, nil
	case huh.StateAborted:
		a.form, a.formVals, a.needSetup = nil, nil, false
		return a, nil
	}
	return a, cmd
}

func (a *App) saveForm() error {
	cfg, err := config.Load()
	if err != nil {
		cfg = config.DefaultConfig()
	}
	if err := a.formVals.Apply(&cfg); err != nil {
		return err
	}
	theme.SetActive(cfg.Appearance.Theme)
	return config.Save(cfg)
}

func (a App) contentWidth() int {
	return min(a.width, maxContentWidth)
}

func (a App) isCompactLayout() bool {
	return a.contentWidth() < compactWidth
}

// View implements tea.Model.
func (a App) View() string {
	switch {
	case a.width == 0:
		return ""
	case a.width < minTerminalWidth:
		return a.viewTooNarrow()
	case !a.loaded:
		return a.viewLoading()
	case a.form != nil:
		return a.form.View()
	case a.showHelp:
		return a.viewHelp()
	}
	return a.viewMain()
}

func (a App) viewTooNarrow() string {
	msg := fmt.Sprintf("\n  Terminal too narrow (%d cols)\n\n  kpitarget needs at least %d columns.\n",
		a.width, minTerminalWidth)
	h := max(a.height, 5)
	return padHeight(truncateHeight(msg, h), h)
}

func (a App) viewLoading() string {
	t := theme.Active
	card := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(t.BorderAccent).
		Background(t.Surface).
		Padding(2, 4)
	logo := lipgloss.NewStyle().Foreground(t.AccentBright).Background(t.Surface).Bold(true)
	muted := lipgloss.NewStyle().Foreground(t.TextMuted).Background(t.Surface)

	var b strings.Builder
	b.WriteString(logo.Render("◈ kpitarget"))
	b.WriteString(muted.Render(" · target browser"))
	b.WriteString("\n\n")
	b.WriteString(a.spinner.View())
	if a.progressMax > 0 {
		b.WriteString(muted.Render(" Reading store\n\n"))
		b.WriteString(components.ProgressBar(float64(a.progress)/float64(a.progressMax), 30))
	} else {
		b.WriteString(muted.Render(" Opening store..."))
	}

	return lipgloss.Place(a.width, a.height, lipgloss.Center, lipgloss.Center, card.Render(b.String()),
		lipgloss.WithWhitespaceBackground(t.Background))
}

func (a App) viewHelp() string {
	t := theme.Active
	card := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(t.BorderAccent).
		Background(t.Surface).
		Padding(1, 3)
	title := lipgloss.NewStyle().Foreground(t.AccentBright).Background(t.Surface).Bold(true)
	keyStyle := lipgloss.NewStyle().Foreground(t.Cyan).Background(t.Surface).Bold(true)
	desc := lipgloss.NewStyle().Foreground(t.TextMuted).Background(t.Surface)

	bindings := []struct{ key, desc string }{
		{"t s h u x", "Jump to tab"},
		{"← →", "Previous / next tab"},
		{"j k  g G", "Move selection"},
		{"Enter", "Open series / edit settings"},
		{"1 2", "Select slot"},
		{"Tab", "Cycle granularity"},
		{"[ ]", "Previous / next year and location"},
		{"r", "Reload from store"},
		{"?", "Toggle help"},
		{"q", "Quit"},
	}

	var b strings.Builder
	b.WriteString(title.Render("◈ Keyboard Shortcuts"))
	b.WriteString("\n\n")
	for _, bind := range bindings {
		fmt.Fprintf(&b, "%s  %s\n", keyStyle.Render(fmt.Sprintf("%-10s", bind.key)), desc.Render(bind.desc))
	}

	return lipgloss.Place(a.width, a.height, lipgloss.Center, lipgloss.Center, card.Render(b.String()),
		lipgloss.WithWhitespaceBackground(t.Background))
}

func (a App) viewMain() string {
	t := theme.Active
	w, cw := a.width, a.contentWidth()

	header := components.RenderTabBar(a.activeTab, w)

	age := ""
	if !a.lastRefresh.IsZero() {
		age = "loaded in " + cli.FormatDuration(a.loadTime)
	}
	status := components.RenderStatusBar(w, a.scopeLabel(), age, a.refreshing)

	contentH := max(a.height-lipgloss.Height(header)-lipgloss.Height(status), minContentHeight)

	var content string
	switch {
	case a.loadErr != nil:
		content = components.ContentCard("Store error", a.loadErr.Error(), cw)
	case a.activeTab == tabTargets:
		content = a.renderTargetsTab(cw, contentH)
	case a.activeTab == tabSeries:
		content = a.renderSeriesTab(cw, contentH)
	case a.activeTab == tabHierarchy:
		content = a.renderHierarchyTab(cw)
	case a.activeTab == tabRuns:
		content = a.renderRunsTab(cw, contentH)
	case a.activeTab == tabSettings:
		content = a.renderSettingsTab(cw)
	}

	content = padHeight(truncateHeight(content, contentH), contentH)
	content = fillLinesWithBackground(content, cw, t.Background)
	content = lipgloss.Place(w, contentH, lipgloss.Center, lipgloss.Top, content,
		lipgloss.WithWhitespaceBackground(t.Background))

	out := lipgloss.JoinVertical(lipgloss.Left, header, content, status)
	return lipgloss.Place(w, a.height, lipgloss.Left, lipgloss.Top, out,
		lipgloss.WithWhitespaceBackground(t.Background))
}

func (a App) scopeLabel() string {
	return fmt.Sprintf("%d · location %d", a.year, a.location)
}

// kpiName returns the registered name of a KPI, or its id.
func (a App) kpiName(id int64) string {
	if k, ok := a.snap.KPIs[id]; ok && k.Name != "" {
		return k.Name
	}
	return fmt.Sprintf("KPI %d", id)
}

// tabAtX returns the tab under column x of the tab bar, or -1.
func (a App) tabAtX(x int) int {
	pos := 0
	for i, tab := range components.Tabs {
		w := components.TabVisualWidth(tab, i == a.activeTab)
		if x >= pos && x < pos+w {
			return i
		}
		pos += w + 1 // separator
	}
	return -1
}

// ─── Loading ────────────────────────────────────────────────────

// loadSnapshot reads one scope from src. step is called after each query.
func loadSnapshot(ctx context.Context, src Source, year int, location int64, step func(current, total int)) (Snapshot, error) {
	const steps = 5
	if step == nil {
		step = func(int, int) {}
	}
	snap := Snapshot{Year: year, Location: location}

	parts, err := src.Partitions(ctx)
	if err != nil {
		return snap, err
	}
	snap.Partitions = parts
	if snap.Year == 0 {
		snap.Year = time.Now().Year()
		if len(parts) > 0 {
			snap.Year, snap.Location = parts[0].Year, parts[0].LocationID
		}
	}
	step(1, steps)

	kpis, err := src.KPIs(ctx)
	if err != nil {
		return snap, err
	}
	snap.KPIs = make(map[int64]model.KPI, len(kpis))
	for _, k := range kpis {
		snap.KPIs[k.ID] = k
	}
	step(2, steps)

	if snap.Links, err = src.Links(ctx); err != nil {
		return snap, err
	}
	step(3, steps)

	if snap.Targets, err = src.AnnualTargets(ctx, snap.Year, snap.Location); err != nil {
		return snap, err
	}
	step(4, steps)

	runs, err := src.Runs(ctx, runsLimit)
	if err != nil {
		return snap, err
	}
	for _, r := range runs {
		if r.Year == snap.Year && r.LocationID == snap.Location {
			snap.Runs = append(snap.Runs, r)
		}
	}
	step(5, steps)
	return snap, nil
}

// loadDataCmd loads the first snapshot in a goroutine, streaming
// ProgressMsg updates and the final DataLoadedMsg through sub.
func loadDataCmd(src Source, year int, location int64, sub chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		go func() {
			start := time.Now()
			ctx, cancel := context.WithTimeout(context.Background(), loadTimeout)
			defer cancel()

			// Non-blocking: a dropped update is superseded by the next one.
			progress := func(current, total int) {
				select {
				case sub <- ProgressMsg{Current: current, Total: total}:
				default:
				}
			}
			snap, err := loadSnapshot(ctx, src, year, location, progress)
			sub <- DataLoadedMsg{Snap: snap, LoadTime: time.Since(start), Err: err}
		}()
		return <-sub
	}
}

func waitForLoadMsg(sub chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		return <-sub
	}
}

// refreshDataCmd reloads a snapshot without the progress screen.
func refreshDataCmd(src Source, year int, location int64) tea.Cmd {
	return func() tea.Msg {
		start := time.Now()
		ctx, cancel := context.WithTimeout(context.Background(), loadTimeout)
		defer cancel()
		snap, err := loadSnapshot(ctx, src, year, location, nil)
		return DataLoadedMsg{Snap: snap, LoadTime: time.Since(start), Err: err}
	}
}

func loadSeriesCmd(src Source, key model.SeriesKey, g model.Granularity) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), loadTimeout)
		defer cancel()
		rows, err := src.Series(ctx, key, g)
		return SeriesLoadedMsg{Key: key, Granularity: g, Rows: rows, Err: err}
	}
}

// ─── Layout helpers ─────────────────────────────────────────────

func truncStr(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-1]) + "…"
}

func truncateHeight(s string, limit int) string {
	lines := strings.Split(s, "\n")
	if len(lines) <= limit {
		return s
	}
	return strings.Join(lines[:limit], "\n")
}

func padHeight(s string, h int) string {
	n := strings.Count(s, "\n") + 1
	if n >= h {
		return s
	}
	return s + strings.Repeat("\n", h-n)
}

// fillLinesWithBackground pads every line to w columns in bg.
func fillLinesWithBackground(s string, w int, bg lipgloss.Color) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = lipgloss.PlaceHorizontal(w, lipgloss.Left, line, lipgloss.WithWhitespaceBackground(bg))
	}
	return strings.Join(lines, "\n")
}

// windowStart returns the first row of a height-row window over total rows
// that keeps cursor in view, centered where possible.
func windowStart(cursor, height, total int) int {
	if height <= 0 || total <= height {
		return 0
	}
	return min(max(cursor-height/2, 0), total-height)
}
