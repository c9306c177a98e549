package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/theirongolddev/kpitarget/internal/model"
)

// insertChunk bounds rows per multi-row INSERT.
const insertChunk = 100

// ReplaceSeries deletes the slot's rows in all four periodic stores and
// inserts the new series.
func (t *Tx) ReplaceSeries(ctx context.Context, key model.SeriesKey, s model.Series) error {
	if err := t.DeleteSeries(ctx, key); err != nil {
		return err
	}
	for _, g := range model.Granularities {
		if err := t.insertRows(ctx, periodicTables[string(g)], key, s.Get(g)); err != nil {
			return fmt.Errorf("writing %s series for %s: %w", g, key, err)
		}
	}
	return nil
}

func (t *Tx) insertRows(ctx context.Context, table string, key model.SeriesKey, rows []model.PeriodValue) error {
	for start := 0; start < len(rows); start += insertChunk {
		end := min(start+insertChunk, len(rows))
		var b strings.Builder
		fmt.Fprintf(&b, "INSERT INTO %s (year, location_id, kpi_id, slot, seq, period, value) VALUES ", table)
		args := make([]any, 0, (end-start)*7)
		for i := start; i < end; i++ {
			if i > start {
				b.WriteString(", ")
			}
			b.WriteString("(?, ?, ?, ?, ?, ?, ?)")
			args = append(args, key.Year, key.LocationID, key.KPIID, int(key.Slot), i, rows[i].Key, rows[i].Value)
		}
		if _, err := t.exec(ctx, b.String(), args...); err != nil {
			return err
		}
	}
	return nil
}

// DeleteSeries removes the slot's rows from all four periodic stores.
func (t *Tx) DeleteSeries(ctx context.Context, key model.SeriesKey) error {
	for _, g := range model.Granularities {
		_, err := t.exec(ctx, fmt.Sprintf(`DELETE FROM %s
			WHERE year = ? AND location_id = ? AND kpi_id = ? AND slot = ?`, periodicTables[string(g)]),
			key.Year, key.LocationID, key.KPIID, int(key.Slot))
		if err != nil {
			return fmt.Errorf("deleting %s series for %s: %w", g, key, err)
		}
	}
	return nil
}

// Series reads one granularity of a slot's stored series in period order.
func (s *Store) Series(ctx context.Context, key model.SeriesKey, g model.Granularity) ([]model.PeriodValue, error) {
	table, ok := periodicTables[string(g)]
	if !ok {
		return nil, fmt.Errorf("unknown granularity %q", g)
	}
	rows, err := s.view().query(ctx, fmt.Sprintf(`SELECT period, value FROM %s
		WHERE year = ? AND location_id = ? AND kpi_id = ? AND slot = ? ORDER BY seq`, table),
		key.Year, key.LocationID, key.KPIID, int(key.Slot))
	if err != nil {
		return nil, fmt.Errorf("reading %s series for %s: %w", g, key, err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.PeriodValue
	for rows.Next() {
		var pv model.PeriodValue
		if err := rows.Scan(&pv.Key, &pv.Value); err != nil {
			return nil, err
		}
		out = append(out, pv)
	}
	return out, rows.Err()
}

// FullSeries reads all four granularities of a slot.
func (s *Store) FullSeries(ctx context.Context, key model.SeriesKey) (model.Series, error) {
	var out model.Series
	for _, g := range model.Granularities {
		rows, err := s.Series(ctx, key, g)
		if err != nil {
			return out, err
		}
		switch g {
		case model.Daily:
			out.Daily = rows
		case model.Weekly:
			out.Weekly = rows
		case model.Monthly:
			out.Monthly = rows
		case model.Quarterly:
			out.Quarterly = rows
		}
	}
	return out, nil
}
