// Package pipeline runs the four-phase annual target save: persist, resolve
// formulas, distribute master values to subs, and rebuild periodic series.
package pipeline

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/theirongolddev/kpitarget/internal/formula"
	"github.com/theirongolddev/kpitarget/internal/hierarchy"
	"github.com/theirongolddev/kpitarget/internal/model"
	"github.com/theirongolddev/kpitarget/internal/repartition"
	"github.com/theirongolddev/kpitarget/internal/store"
)

// Operation names reported to a MetricsRecorder.
const (
	OpSave        = "save"
	OpPersist     = "persist"
	OpResolve     = "resolve"
	OpDistribute  = "distribute"
	OpRepartition = "repartition"
)

// valueEps is the tolerance below which a recomputed value counts as unchanged.
const valueEps = 1e-9

// MetricsRecorder receives one observation per phase and per save.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, d time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) Observe(context.Context, string, bool, time.Duration) {}

// SaveRequest is one batch of annual target definitions for a (year, location)
// scope. KPIs and Links are upserted before the targets.
type SaveRequest struct {
	Year       int
	LocationID int64
	Targets    map[int64]model.AnnualTarget
	Initiator  *int64
	KPIs       []model.KPI
	Links      []model.SubLink
}

// SaveResult summarizes a save.
type SaveResult struct {
	RunID       string
	Fingerprint string
	// Unchanged is set when the previous save for the scope had the same
	// fingerprint. The save still runs in full.
	Unchanged     bool
	Changed       []int64
	Unresolved    []model.Unresolved
	Passes        int
	Repartitioned int     // KPI slots whose series were rebuilt
	Cleared       int     // KPI slots whose series were deleted
	Pending       []int64 // KPIs left stale by cancellation
	Duration      time.Duration
}

// UnresolvedIDs returns the distinct KPI ids with an unresolved formula slot.
func (r SaveResult) UnresolvedIDs() []int64 {
	set := kpiSet{}
	for _, u := range r.Unresolved {
		set.add(u.KPIID)
	}
	return set.sorted()
}

// Orchestrator sequences the save phases. Each phase runs in its own
// transaction and completes before the next starts.
type Orchestrator struct {
	store    *store.Store
	engine   *repartition.Engine
	resolver *formula.Resolver
	dist     *hierarchy.Distributor
	metrics  MetricsRecorder
	log      zerolog.Logger
}

// New wires an orchestrator. A nil metrics recorder discards observations.
func New(st *store.Store, engine *repartition.Engine, resolver *formula.Resolver,
	dist *hierarchy.Distributor, metrics MetricsRecorder, log zerolog.Logger) *Orchestrator {
	if metrics == nil {
		metrics = nopRecorder{}
	}
	return &Orchestrator{
		store:    st,
		engine:   engine,
		resolver: resolver,
		dist:     dist,
		metrics:  metrics,
		log:      log,
	}
}

// SaveAnnualTargets persists req and leaves all four periodic stores
// consistent with the resolved state of its (year, location) scope.
// Unresolved formulas are reported in the result, not as an error.
func (o *Orchestrator) SaveAnnualTargets(ctx context.Context, req SaveRequest) (res SaveResult, err error) {
	started := time.Now()
	defer func() {
		o.metrics.Observe(ctx, OpSave, err == nil, time.Since(started))
	}()

	res.RunID = uuid.NewString()
	log := o.log.With().
		Str("run", res.RunID).
		Int("year", req.Year).
		Int64("location", req.LocationID).
		Logger()

	if fp, ferr := Fingerprint(req); ferr != nil {
		log.Warn().Err(ferr).Msg("fingerprint failed")
	} else {
		res.Fingerprint = fp
	}

	s := &saveState{req: req, changed: kpiSet{}, masters: kpiSet{}}

	if err = o.phase(ctx, OpPersist, func(tx *store.Tx) error {
		return o.persist(ctx, tx, s, &res)
	}); err != nil {
		return res, err
	}
	// Derived sub values can feed formulas and resolved formulas can feed
	// masters, so resolve and distribute alternate until a round moves nothing.
	for round := 0; ; round++ {
		if err = o.phase(ctx, OpResolve, func(tx *store.Tx) error {
			return o.resolve(ctx, tx, s, &res)
		}); err != nil {
			return res, err
		}
		if round > 0 && s.moved == 0 {
			break
		}
		if err = o.phase(ctx, OpDistribute, func(tx *store.Tx) error {
			return o.distribute(ctx, tx, s, log)
		}); err != nil {
			return res, err
		}
		if s.derived == 0 || s.formulaSlots == 0 {
			break
		}
		if round >= s.formulaSlots {
			log.Warn().Int("rounds", round+1).Msg("formula and derived sub values did not settle")
			break
		}
	}

	res.Changed = s.changed.sorted()

	// Phase 4 commits whatever it finished, so its transaction must outlive
	// a cancelled ctx. Cancellation is polled between KPIs instead.
	wctx := context.WithoutCancel(ctx)
	if err = o.phase(wctx, OpRepartition, func(tx *store.Tx) error {
		if rerr := o.repartition(ctx, tx, s, &res, log); rerr != nil {
			return rerr
		}
		if len(res.Pending) > 0 {
			return nil
		}
		res.Duration = time.Since(started)
		return tx.RecordRun(wctx, model.SaveRun{
			ID:          res.RunID,
			Year:        req.Year,
			LocationID:  req.LocationID,
			Initiator:   req.Initiator,
			StartedAt:   started,
			Duration:    res.Duration,
			Fingerprint: res.Fingerprint,
			Changed:     res.Changed,
			Unresolved:  res.Unresolved,
		})
	}); err != nil {
		return res, err
	}

	if len(res.Pending) > 0 {
		log.Warn().
			Int("pending", len(res.Pending)).
			Int("repartitioned", res.Repartitioned).
			Msg("save interrupted before all series were rebuilt")
		return res, fmt.Errorf("repartition interrupted with %d kpis pending: %w", len(res.Pending), ctx.Err())
	}

	log.Info().
		Int("changed", len(res.Changed)).
		Int("unresolved", len(res.Unresolved)).
		Int("repartitioned", res.Repartitioned).
		Bool("unchanged_input", res.Unchanged).
		Dur("took", res.Duration).
		Msg("annual targets saved")
	return res, nil
}

type saveState struct {
	req     SaveRequest
	changed kpiSet
	masters kpiSet

	// Per round of the resolve/distribute loop.
	moved        int // KPIs whose formula value changed
	derived      int // sub slots whose derived value changed
	formulaSlots int
}

func (o *Orchestrator) phase(ctx context.Context, op string, fn func(*store.Tx) error) error {
	start := time.Now()
	err := o.store.WithTx(ctx, fn)
	o.metrics.Observe(ctx, op, err == nil, time.Since(start))
	if err != nil {
		return fmt.Errorf("%s phase: %w", op, err)
	}
	return nil
}

// persist writes the submitted KPIs, links and target definitions.
func (o *Orchestrator) persist(ctx context.Context, tx *store.Tx, s *saveState, res *SaveResult) error {
	req := s.req
	prev, err := tx.LastFingerprint(ctx, req.Year, req.LocationID)
	if err != nil {
		return err
	}
	res.Unchanged = res.Fingerprint != "" && prev == res.Fingerprint

	for _, k := range req.KPIs {
		prevKind, err := tx.CalcKind(ctx, k.ID)
		if err != nil {
			return err
		}
		if err := tx.PutKPI(ctx, k); err != nil {
			return err
		}
		kind := k.Kind
		if kind == "" {
			kind = model.Incremental
		}
		if kind == prevKind {
			continue
		}
		// Stored series were aggregated with the old kind.
		_, stored, err := tx.AnnualTarget(ctx, req.Year, req.LocationID, k.ID)
		if err != nil {
			return err
		}
		if stored {
			s.changed.add(k.ID)
		}
	}
	for _, l := range req.Links {
		prev, err := tx.KPIRole(ctx, l.SubID)
		if err != nil {
			return err
		}
		if err := tx.PutSubLink(ctx, l); err != nil {
			return err
		}
		// A sub moved to another master leaves a residual on its old one.
		if prev.Kind == model.RoleSub && prev.MasterID != l.MasterID {
			s.masters.add(prev.MasterID)
		}
		s.masters.add(l.MasterID)
	}

	ids := make([]int64, 0, len(req.Targets))
	for id := range req.Targets {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		at := req.Targets[id].Clone()
		at.Year, at.LocationID, at.KPIID = req.Year, req.LocationID, id
		at.Normalize()
		if err := tx.PutAnnualTarget(ctx, at); err != nil {
			return err
		}
		s.changed.add(id)
	}
	return nil
}

// resolve evaluates every formula slot stored for the scope and writes the
// values that moved.
func (o *Orchestrator) resolve(ctx context.Context, tx *store.Tx, s *saveState, res *SaveResult) error {
	targets, err := tx.AnnualTargets(ctx, s.req.Year, s.req.LocationID)
	if err != nil {
		return err
	}
	out := o.resolver.Resolve(targets)
	res.Unresolved = out.Unresolved
	res.Passes += out.Passes

	s.formulaSlots = 0
	for _, at := range targets {
		for _, slot := range model.Slots {
			if at.Slot(slot).Formula {
				s.formulaSlots++
			}
		}
	}

	dirty := kpiSet{}
	for _, r := range out.Resolved {
		at := targets[r.KPIID]
		if sameValue(at.Slot(r.Slot).Value, r.Value) {
			continue
		}
		at.SetValue(r.Slot, r.Value)
		at.Slot(r.Slot).Manual = false
		targets[r.KPIID] = at
		dirty.add(r.KPIID)
	}
	for _, id := range dirty.sorted() {
		if err := tx.PutAnnualTarget(ctx, targets[id]); err != nil {
			return err
		}
		s.changed.add(id)
	}
	s.moved = len(dirty)
	return nil
}

// distribute reruns the master/sub split for every master whose own value,
// sub values or links were touched.
func (o *Orchestrator) distribute(ctx context.Context, tx *store.Tx, s *saveState, log zerolog.Logger) error {
	s.derived = 0
	for _, id := range s.changed.sorted() {
		role, err := tx.KPIRole(ctx, id)
		if err != nil {
			return err
		}
		switch role.Kind {
		case model.RoleMaster:
			s.masters.add(id)
		case model.RoleSub:
			s.masters.add(role.MasterID)
		}
	}
	if len(s.masters) == 0 {
		return nil
	}

	targets, err := tx.AnnualTargets(ctx, s.req.Year, s.req.LocationID)
	if err != nil {
		return err
	}
	for _, master := range s.masters.sorted() {
		mt, ok := targets[master]
		if !ok {
			continue
		}
		links, err := tx.SubLinks(ctx, master)
		if err != nil {
			return err
		}
		if len(links) == 0 {
			continue
		}
		for _, slot := range model.Slots {
			alloc := o.dist.Distribute(master, slot, mt.Slot(slot).Value, hierarchy.Members(slot, links, targets))
			for _, share := range alloc.Derived {
				at, ok := targets[share.KPIID]
				if !ok {
					at = model.AnnualTarget{Year: s.req.Year, LocationID: s.req.LocationID, KPIID: share.KPIID}
					at.Normalize()
				}
				if ok && sameValue(at.Slot(slot).Value, share.Value) {
					continue
				}
				v := share.Value
				*at.Slot(slot) = model.SlotDefinition{Value: &v}
				if err := tx.PutAnnualTarget(ctx, at); err != nil {
					return err
				}
				targets[share.KPIID] = at
				s.changed.add(share.KPIID)
				s.derived++
				log.Debug().
					Int64("master", master).
					Int64("kpi", share.KPIID).
					Int("slot", int(slot)).
					Float64("value", v).
					Msg("derived sub-KPI target")
			}
		}
	}
	return nil
}

// repartition rebuilds or clears the periodic series of every changed KPI.
// ctx is only polled between KPIs; the queries run on the transaction's own
// context.
func (o *Orchestrator) repartition(ctx context.Context, tx *store.Tx, s *saveState, res *SaveResult, log zerolog.Logger) error {
	qctx := context.WithoutCancel(ctx)
	targets, err := tx.AnnualTargets(qctx, s.req.Year, s.req.LocationID)
	if err != nil {
		return err
	}
	ids := s.changed.sorted()
	for i, id := range ids {
		if ctx.Err() != nil {
			res.Pending = ids[i:]
			return nil
		}
		at, ok := targets[id]
		if !ok {
			continue
		}
		kind, err := tx.CalcKind(qctx, id)
		if err != nil {
			return err
		}
		for _, slot := range model.Slots {
			key := model.SeriesKey{Year: s.req.Year, LocationID: s.req.LocationID, KPIID: id, Slot: slot}
			v := at.Slot(slot).Value
			if v == nil {
				if err := tx.DeleteSeries(qctx, key); err != nil {
					return err
				}
				res.Cleared++
				continue
			}
			series := o.engine.Build(repartition.Input{
				Key:         key,
				Annual:      *v,
				Kind:        kind,
				Logic:       at.Logic,
				Profile:     at.Profile,
				Repartition: at.Repartition,
				Params:      at.Params,
			})
			if err := tx.ReplaceSeries(qctx, key, series); err != nil {
				return err
			}
			res.Repartitioned++
		}
	}
	log.Debug().Int("kpis", len(ids)).Msg("series rebuilt")
	return nil
}

func sameValue(old *float64, v float64) bool {
	return old != nil && math.Abs(*old-v) <= valueEps*math.Max(1, math.Abs(v))
}

type kpiSet map[int64]struct{}

func (s kpiSet) add(id int64) { s[id] = struct{}{} }

func (s kpiSet) sorted() []int64 {
	out := make([]int64, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
