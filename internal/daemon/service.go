// Package daemon provides the long-running target service: an HTTP API over
// the save pipeline and the target store, plus an optional submission
// directory watcher.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/theirongolddev/kpitarget/internal/model"
	"github.com/theirongolddev/kpitarget/internal/pipeline"
	"github.com/theirongolddev/kpitarget/internal/source"
	"github.com/theirongolddev/kpitarget/internal/store"
)

// maxSubmissionBytes caps POST /v1/save bodies.
const maxSubmissionBytes = 1 << 20

// Config controls the daemon runtime behavior.
type Config struct {
	Addr         string
	EventsBuffer int
	// WatchDir, when set, is rescanned every Interval and changed
	// submission files are saved.
	WatchDir string
	Interval time.Duration
	// Year and Location are the defaults for read endpoints.
	Year     int
	Location int64
}

// Event is emitted for every save the daemon runs.
type Event struct {
	ID         int64     `json:"id"`
	Type       string    `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	Source     string    `json:"source"`
	RunID      string    `json:"run_id,omitempty"`
	Year       int       `json:"year,omitempty"`
	Location   int64     `json:"location_id,omitempty"`
	Changed    []int64   `json:"changed,omitempty"`
	Unresolved []int64   `json:"unresolved,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Event types.
const (
	EventSaved    = "saved"
	EventRejected = "rejected"
	EventFailed   = "failed"
	EventHello    = "hello"
)

// Status is served at /v1/status.
type Status struct {
	StartedAt       time.Time    `json:"started_at"`
	Store           string       `json:"store"`
	Counts          store.Counts `json:"counts"`
	SaveCount       int64        `json:"save_count"`
	LastSaveAt      time.Time    `json:"last_save_at"`
	WatchDir        string       `json:"watch_dir,omitempty"`
	WatchIntervalS  int          `json:"watch_interval_sec,omitempty"`
	LastScanAt      time.Time    `json:"last_scan_at"`
	LastError       string       `json:"last_error,omitempty"`
	EventCount      int          `json:"event_count"`
	SubscriberCount int          `json:"subscriber_count"`
}

// SaveResponse is the body returned by POST /v1/save.
type SaveResponse struct {
	RunID         string             `json:"run_id"`
	Unchanged     bool               `json:"unchanged"`
	Changed       []int64            `json:"changed"`
	Unresolved    []model.Unresolved `json:"unresolved,omitempty"`
	UnresolvedIDs []int64            `json:"unresolved_ids,omitempty"`
	Repartitioned int                `json:"repartitioned"`
	Cleared       int                `json:"cleared"`
	DurationMs    int64              `json:"duration_ms"`
}

type errorResponse struct {
	Error    string   `json:"error"`
	Problems []string `json:"problems,omitempty"`
}

// Service provides the daemon runtime and HTTP API.
type Service struct {
	cfg     Config
	store   *store.Store
	orch    *pipeline.Orchestrator
	metrics *Metrics
	log     zerolog.Logger

	// saveMu serializes saves: the pipeline commits each phase separately,
	// so two saves of one scope must not interleave.
	saveMu sync.Mutex

	mu          sync.RWMutex
	startedAt   time.Time
	saveCount   int64
	lastSaveAt  time.Time
	lastScanAt  time.Time
	lastError   string
	nextEventID int64
	events      []Event

	nextSubID int
	subs      map[int]chan Event
}

// New returns a new daemon service. metrics may be nil, in which case
// /metrics is not served.
func New(cfg Config, st *store.Store, orch *pipeline.Orchestrator, metrics *Metrics, log zerolog.Logger) *Service {
	if cfg.Interval < 2*time.Second {
		cfg.Interval = 15 * time.Second
	}
	if cfg.EventsBuffer < 1 {
		cfg.EventsBuffer = 200
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8790"
	}
	if cfg.Year == 0 {
		cfg.Year = time.Now().Year()
	}

	return &Service{
		cfg:       cfg,
		store:     st,
		orch:      orch,
		metrics:   metrics,
		log:       log,
		startedAt: time.Now(),
		subs:      make(map[int]chan Event),
	}
}

// Handler returns the HTTP routes.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /v1/status", s.handleStatus)
	mux.HandleFunc("POST /v1/save", s.handleSave)
	mux.HandleFunc("GET /v1/targets", s.handleTargets)
	mux.HandleFunc("GET /v1/series", s.handleSeries)
	mux.HandleFunc("GET /v1/runs", s.handleRuns)
	mux.HandleFunc("GET /v1/events", s.handleEvents)
	mux.HandleFunc("GET /v1/stream", s.handleStream)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	return mux
}

// Run serves HTTP and watches the submission directory until ctx is canceled.
func (s *Service) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	s.log.Info().Str("addr", s.cfg.Addr).Str("watch_dir", s.cfg.WatchDir).Msg("daemon listening")

	var tick <-chan time.Time
	if s.cfg.WatchDir != "" {
		s.scanOnce(ctx)
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		case <-tick:
			s.scanOnce(ctx)
		case err := <-errCh:
			return fmt.Errorf("daemon http server: %w", err)
		}
	}
}

// scanOnce applies every changed file in the watch directory.
func (s *Service) scanOnce(ctx context.Context) {
	s.saveMu.Lock()
	res, err := s.orch.ApplyDir(ctx, s.cfg.WatchDir, pipeline.DirOptions{})
	s.saveMu.Unlock()

	s.mu.Lock()
	s.lastScanAt = time.Now()
	if err != nil {
		s.lastError = err.Error()
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Error().Err(err).Str("dir", s.cfg.WatchDir).Msg("watch scan failed")
	}
	if res == nil {
		return
	}
	for _, f := range res.Files {
		s.recordSave(f.Path, f.Result, f.Err)
	}
}

// recordSave updates counters and publishes the matching event.
func (s *Service) recordSave(src string, res *pipeline.SaveResult, err error) {
	ev := Event{Type: EventSaved, Timestamp: time.Now(), Source: src}
	switch {
	case errors.Is(err, source.ErrInvalidSubmission):
		ev.Type = EventRejected
		ev.Error = err.Error()
	case err != nil:
		ev.Type = EventFailed
		ev.Error = err.Error()
	}
	if res != nil {
		ev.RunID = res.RunID
		ev.Changed = res.Changed
		ev.Unresolved = res.UnresolvedIDs()
	}

	s.mu.Lock()
	if err == nil {
		s.saveCount++
		s.lastSaveAt = ev.Timestamp
	} else {
		s.lastError = err.Error()
	}
	s.nextEventID++
	ev.ID = s.nextEventID
	s.mu.Unlock()

	s.publishEvent(ev)
}

func (s *Service) publishEvent(ev Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	if len(s.events) > s.cfg.EventsBuffer {
		s.events = s.events[len(s.events)-s.cfg.EventsBuffer:]
	}

	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	s.mu.Unlock()
}

func (s *Service) snapshotStatus(ctx context.Context) Status {
	counts, err := s.store.Counts(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("reading store counts")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Status{
		StartedAt:       s.startedAt,
		Store:           s.store.Dialect(),
		Counts:          counts,
		SaveCount:       s.saveCount,
		LastSaveAt:      s.lastSaveAt,
		WatchDir:        s.cfg.WatchDir,
		LastScanAt:      s.lastScanAt,
		LastError:       s.lastError,
		EventCount:      len(s.events),
		SubscriberCount: len(s.subs),
	}
	if s.cfg.WatchDir != "" {
		st.WatchIntervalS = int(s.cfg.Interval.Seconds())
	}
	return st
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.snapshotStatus(r.Context()))
}

// handleSave accepts one TOML submission and runs it through the pipeline.
func (s *Service) handleSave(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, maxSubmissionBytes)
	src := "http:" + r.RemoteAddr

	sub, err := source.Decode(body, "request")
	if err != nil {
		s.recordSave(src, nil, err)
		resp := errorResponse{Error: err.Error()}
		var ve *source.ValidationError
		if errors.As(err, &ve) {
			resp = errorResponse{Error: source.ErrInvalidSubmission.Error(), Problems: ve.Problems}
		}
		writeJSON(w, http.StatusBadRequest, resp)
		return
	}

	s.saveMu.Lock()
	res, err := s.orch.SaveAnnualTargets(r.Context(), pipeline.RequestFromSubmission(sub))
	s.saveMu.Unlock()
	s.recordSave(src, &res, err)
	if err != nil {
		s.log.Error().Err(err).Str("source", src).Msg("save failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, SaveResponse{
		RunID:         res.RunID,
		Unchanged:     res.Unchanged,
		Changed:       res.Changed,
		Unresolved:    res.Unresolved,
		UnresolvedIDs: res.UnresolvedIDs(),
		Repartitioned: res.Repartitioned,
		Cleared:       res.Cleared,
		DurationMs:    res.Duration.Milliseconds(),
	})
}

func (s *Service) handleTargets(w http.ResponseWriter, r *http.Request) {
	year, loc, err := s.scope(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	targets, err := s.store.AnnualTargets(r.Context(), year, loc)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	if targets == nil {
		targets = []model.AnnualTarget{}
	}
	writeJSON(w, http.StatusOK, targets)
}

func (s *Service) handleSeries(w http.ResponseWriter, r *http.Request) {
	year, loc, err := s.scope(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	q := r.URL.Query()
	kpi, err := strconv.ParseInt(q.Get("kpi"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "kpi must be an integer id"})
		return
	}
	slot := model.Slot1
	if v := q.Get("slot"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || !model.Slot(n).Valid() {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "slot must be 1 or 2"})
			return
		}
		slot = model.Slot(n)
	}
	g := model.Monthly
	if v := q.Get("granularity"); v != "" {
		if g, err = model.ParseGranularity(v); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
	}

	key := model.SeriesKey{Year: year, LocationID: loc, KPIID: kpi, Slot: slot}
	rows, err := s.store.Series(r.Context(), key, g)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	if rows == nil {
		rows = []model.PeriodValue{}
	}
	writeJSON(w, http.StatusOK, struct {
		Key         model.SeriesKey     `json:"key"`
		Granularity model.Granularity   `json:"granularity"`
		Rows        []model.PeriodValue `json:"rows"`
	}{key, g, rows})
}

func (s *Service) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = n
	}
	runs, err := s.store.Runs(r.Context(), limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	if runs == nil {
		runs = []model.SaveRun{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// scope reads year and location query parameters, defaulting to the
// configured scope.
func (s *Service) scope(r *http.Request) (int, int64, error) {
	q := r.URL.Query()
	year, loc := s.cfg.Year, s.cfg.Location
	if v := q.Get("year"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, 0, fmt.Errorf("year %q is not a number", v)
		}
		year = n
	}
	if v := q.Get("location"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, 0, fmt.Errorf("location %q is not a number", v)
		}
		loc = n
	}
	return year, loc, nil
}

func (s *Service) handleEvents(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	events := make([]Event, len(s.events))
	copy(events, s.events)
	s.mu.RUnlock()

	writeJSON(w, http.StatusOK, events)
}

func (s *Service) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := make(chan Event, 16)
	id := s.addSubscriber(ch)
	defer s.removeSubscriber(id)

	writeSSE(w, Event{Type: EventHello, Timestamp: time.Now(), Source: "daemon"})
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-ch:
			writeSSE(w, ev)
			flusher.Flush()
		}
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeSSE(w http.ResponseWriter, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	_, _ = fmt.Fprintf(w, "event: %s\n", ev.Type)
	_, _ = fmt.Fprintf(w, "data: %s\n\n", data)
}

func (s *Service) addSubscriber(ch chan Event) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSubID++
	id := s.nextSubID
	s.subs[id] = ch
	return id
}

func (s *Service) removeSubscriber(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, id)
}
