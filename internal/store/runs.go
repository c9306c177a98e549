package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/theirongolddev/kpitarget/internal/model"
)

// RecordRun appends a save run to the history.
func (t *Tx) RecordRun(ctx context.Context, run model.SaveRun) error {
	changed, err := json.Marshal(run.Changed)
	if err != nil {
		return fmt.Errorf("encoding changed kpis: %w", err)
	}
	unresolved := ""
	if len(run.Unresolved) > 0 {
		b, err := json.Marshal(run.Unresolved)
		if err != nil {
			return fmt.Errorf("encoding unresolved formulas: %w", err)
		}
		unresolved = string(b)
	}
	var initiator any
	if run.Initiator != nil {
		initiator = *run.Initiator
	}

	_, err = t.exec(ctx, `INSERT INTO save_runs
		(id, year, location_id, initiator, started_at, duration_ms, fingerprint, changed, unresolved)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Year, run.LocationID, initiator,
		run.StartedAt.UTC().Format(tsLayout), run.Duration.Milliseconds(),
		run.Fingerprint, string(changed), unresolved,
	)
	if err != nil {
		return fmt.Errorf("recording run %s: %w", run.ID, err)
	}
	return nil
}

// LastFingerprint returns the fingerprint of the latest run for (year,
// location), or "" when there is none.
func (t *Tx) LastFingerprint(ctx context.Context, year int, location int64) (string, error) {
	var fp string
	err := t.queryRow(ctx, `SELECT fingerprint FROM save_runs
		WHERE year = ? AND location_id = ? ORDER BY started_at DESC LIMIT 1`, year, location).Scan(&fp)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading last run: %w", err)
	}
	return fp, nil
}

// Runs returns the most recent save runs, newest first.
func (s *Store) Runs(ctx context.Context, limit int) ([]model.SaveRun, error) {
	if limit <= 0 {
		limit = 20
	}
	t := s.view()
	rows, err := t.query(ctx, `SELECT id, year, location_id, initiator, started_at, duration_ms,
		fingerprint, changed, unresolved
		FROM save_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.SaveRun
	for rows.Next() {
		var (
			run                 model.SaveRun
			initiator           sql.NullInt64
			started             string
			durMs               int64
			changed, unresolved string
		)
		if err := rows.Scan(&run.ID, &run.Year, &run.LocationID, &initiator, &started, &durMs,
			&run.Fingerprint, &changed, &unresolved); err != nil {
			return nil, err
		}
		if initiator.Valid {
			v := initiator.Int64
			run.Initiator = &v
		}
		run.StartedAt, _ = time.Parse(tsLayout, started)
		run.Duration = time.Duration(durMs) * time.Millisecond
		if changed != "" {
			if err := json.Unmarshal([]byte(changed), &run.Changed); err != nil {
				t.log.Warn().Str("run", run.ID).Err(err).Msg("malformed changed list")
			}
		}
		if unresolved != "" {
			if err := json.Unmarshal([]byte(unresolved), &run.Unresolved); err != nil {
				t.log.Warn().Str("run", run.ID).Err(err).Msg("malformed unresolved list")
			}
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// Counts summarizes what the store holds.
type Counts struct {
	KPIs          int `json:"kpis"`
	Links         int `json:"links"`
	AnnualTargets int `json:"annual_targets"`
	DailyRows     int `json:"daily_rows"`
	Runs          int `json:"runs"`
}

// Counts returns row counts for the main tables.
func (s *Store) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	t := s.view()
	for _, q := range []struct {
		table string
		dst   *int
	}{
		{"kpis", &c.KPIs},
		{"kpi_links", &c.Links},
		{"annual_targets", &c.AnnualTargets},
		{"daily_targets", &c.DailyRows},
		{"save_runs", &c.Runs},
	} {
		if err := t.queryRow(ctx, "SELECT COUNT(*) FROM "+q.table).Scan(q.dst); err != nil {
			return c, fmt.Errorf("counting %s: %w", q.table, err)
		}
	}
	return c, nil
}
