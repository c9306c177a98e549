package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/theirongolddev/kpitarget/internal/model"
)

const annualColumns = `year, location_id, kpi_id,
	target1, target1_manual, target1_formula, target1_expr, target1_inputs,
	target2, target2_manual, target2_formula, target2_expr, target2_inputs,
	logic, profile, repartition, params`

type rowScanner interface {
	Scan(dest ...any) error
}

func (t *Tx) scanAnnual(row rowScanner) (model.AnnualTarget, error) {
	var (
		at             model.AnnualTarget
		vals           [2]sql.NullFloat64
		manual, formul [2]int
		exprs, inputs  [2]string
		logic, profile string
		rep, params    string
	)
	err := row.Scan(&at.Year, &at.LocationID, &at.KPIID,
		&vals[0], &manual[0], &formul[0], &exprs[0], &inputs[0],
		&vals[1], &manual[1], &formul[1], &exprs[1], &inputs[1],
		&logic, &profile, &rep, &params)
	if err != nil {
		return at, err
	}

	log := t.log.With().Int64("kpi", at.KPIID).Int("year", at.Year).Int64("location", at.LocationID).Logger()
	for i := range at.Slots {
		def := &at.Slots[i]
		if vals[i].Valid {
			v := vals[i].Float64
			def.Value = &v
		}
		def.Manual = manual[i] != 0
		def.Formula = formul[i] != 0
		def.Expression = exprs[i]
		def.Inputs = decodeInputs(inputs[i], log)
	}

	at.Logic, err = model.ParseLogic(logic)
	if err != nil {
		log.Warn().Err(err).Msg("unknown stored logic, using Annual")
		at.Logic = model.LogicAnnual
	}
	at.Profile = model.NormalizeProfile(profile)
	at.Repartition = decodeRepartition(rep, log)
	at.Params = decodeParams(params, log)
	at.Normalize()
	return at, nil
}

// AnnualTarget returns the record for (year, location, kpi); ok is false when
// none is stored.
func (t *Tx) AnnualTarget(ctx context.Context, year int, location, kpi int64) (model.AnnualTarget, bool, error) {
	row := t.queryRow(ctx, `SELECT `+annualColumns+` FROM annual_targets
		WHERE year = ? AND location_id = ? AND kpi_id = ?`, year, location, kpi)
	at, err := t.scanAnnual(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.AnnualTarget{}, false, nil
	}
	if err != nil {
		return model.AnnualTarget{}, false, fmt.Errorf("reading annual target %d: %w", kpi, err)
	}
	return at, true, nil
}

// AnnualTargets returns every record for (year, location) keyed by KPI.
func (t *Tx) AnnualTargets(ctx context.Context, year int, location int64) (map[int64]model.AnnualTarget, error) {
	list, err := t.listAnnual(ctx, year, location)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]model.AnnualTarget, len(list))
	for _, at := range list {
		out[at.KPIID] = at
	}
	return out, nil
}

func (t *Tx) listAnnual(ctx context.Context, year int, location int64) ([]model.AnnualTarget, error) {
	rows, err := t.query(ctx, `SELECT `+annualColumns+` FROM annual_targets
		WHERE year = ? AND location_id = ? ORDER BY kpi_id`, year, location)
	if err != nil {
		return nil, fmt.Errorf("listing annual targets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.AnnualTarget
	for rows.Next() {
		at, err := t.scanAnnual(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, at)
	}
	return out, rows.Err()
}

// PutAnnualTarget inserts or replaces the record for the target's key.
func (t *Tx) PutAnnualTarget(ctx context.Context, at model.AnnualTarget) error {
	at = at.Clone()
	at.Normalize()

	rep, err := encodeRepartition(at.Repartition)
	if err != nil {
		return err
	}
	params, err := encodeParams(at.Params)
	if err != nil {
		return err
	}
	var (
		vals   [2]any
		inputs [2]string
	)
	for i, def := range at.Slots {
		if def.Value != nil {
			vals[i] = *def.Value
		}
		if inputs[i], err = encodeInputs(def.Inputs); err != nil {
			return err
		}
	}

	_, err = t.exec(ctx, `INSERT INTO annual_targets (`+annualColumns+`, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (year, location_id, kpi_id) DO UPDATE SET
			target1 = excluded.target1, target1_manual = excluded.target1_manual,
			target1_formula = excluded.target1_formula, target1_expr = excluded.target1_expr,
			target1_inputs = excluded.target1_inputs,
			target2 = excluded.target2, target2_manual = excluded.target2_manual,
			target2_formula = excluded.target2_formula, target2_expr = excluded.target2_expr,
			target2_inputs = excluded.target2_inputs,
			logic = excluded.logic, profile = excluded.profile,
			repartition = excluded.repartition, params = excluded.params,
			updated_at = excluded.updated_at`,
		at.Year, at.LocationID, at.KPIID,
		vals[0], b2i(at.Slots[0].Manual), b2i(at.Slots[0].Formula), at.Slots[0].Expression, inputs[0],
		vals[1], b2i(at.Slots[1].Manual), b2i(at.Slots[1].Formula), at.Slots[1].Expression, inputs[1],
		string(at.Logic), string(at.Profile), rep, params, nowText(),
	)
	if err != nil {
		return fmt.Errorf("writing annual target %d: %w", at.KPIID, err)
	}
	return nil
}

// AnnualTargets lists the records for (year, location) ordered by KPI.
func (s *Store) AnnualTargets(ctx context.Context, year int, location int64) ([]model.AnnualTarget, error) {
	return s.view().listAnnual(ctx, year, location)
}

// Partition is one (year, location) with stored targets.
type Partition struct {
	Year       int
	LocationID int64
	Targets    int
}

// Partitions lists every (year, location) holding annual targets, newest first.
func (s *Store) Partitions(ctx context.Context) ([]Partition, error) {
	t := s.view()
	rows, err := t.query(ctx, `SELECT year, location_id, COUNT(*) FROM annual_targets
		GROUP BY year, location_id`)
	if err != nil {
		return nil, fmt.Errorf("listing partitions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Partition
	for rows.Next() {
		var p Partition
		if err := rows.Scan(&p.Year, &p.LocationID, &p.Targets); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Year != out[j].Year {
			return out[i].Year > out[j].Year
		}
		return out[i].LocationID < out[j].LocationID
	})
	return out, rows.Err()
}
