package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/theirongolddev/kpitarget/internal/model"
)

// ErrInvalidLink is returned for sub links that would break the single-level
// master/sub hierarchy or carry a non-positive weight.
var ErrInvalidLink = errors.New("invalid kpi link")

// PutKPI inserts or updates a KPI definition.
func (t *Tx) PutKPI(ctx context.Context, k model.KPI) error {
	kind := k.Kind
	if kind == "" {
		kind = model.Incremental
	}
	_, err := t.exec(ctx, `INSERT INTO kpis (id, name, calc_kind) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name, calc_kind = excluded.calc_kind`,
		k.ID, k.Name, string(kind))
	if err != nil {
		return fmt.Errorf("writing kpi %d: %w", k.ID, err)
	}
	return nil
}

// PutSubLink attaches sub to master with a weight. A KPI is either a master
// or a sub, never both, and a sub has exactly one master.
func (t *Tx) PutSubLink(ctx context.Context, l model.SubLink) error {
	if l.Weight <= 0 {
		return fmt.Errorf("%w: weight %g for sub %d must be positive", ErrInvalidLink, l.Weight, l.SubID)
	}
	if l.MasterID == l.SubID {
		return fmt.Errorf("%w: kpi %d cannot be its own sub", ErrInvalidLink, l.SubID)
	}
	masterRole, err := t.KPIRole(ctx, l.MasterID)
	if err != nil {
		return err
	}
	if masterRole.Kind == model.RoleSub {
		return fmt.Errorf("%w: kpi %d is a sub of %d and cannot be a master", ErrInvalidLink, l.MasterID, masterRole.MasterID)
	}
	subRole, err := t.KPIRole(ctx, l.SubID)
	if err != nil {
		return err
	}
	if subRole.Kind == model.RoleMaster {
		return fmt.Errorf("%w: kpi %d is a master and cannot be a sub", ErrInvalidLink, l.SubID)
	}

	_, err = t.exec(ctx, `INSERT INTO kpi_links (sub_id, master_id, weight) VALUES (?, ?, ?)
		ON CONFLICT (sub_id) DO UPDATE SET master_id = excluded.master_id, weight = excluded.weight`,
		l.SubID, l.MasterID, l.Weight)
	if err != nil {
		return fmt.Errorf("writing link %d -> %d: %w", l.MasterID, l.SubID, err)
	}
	return nil
}

// KPIRole reports whether kpi is a master, a sub or neither.
func (t *Tx) KPIRole(ctx context.Context, kpi int64) (model.Role, error) {
	var master int64
	err := t.queryRow(ctx, `SELECT master_id FROM kpi_links WHERE sub_id = ?`, kpi).Scan(&master)
	switch {
	case err == nil:
		return model.Role{Kind: model.RoleSub, MasterID: master}, nil
	case !errors.Is(err, sql.ErrNoRows):
		return model.Role{}, fmt.Errorf("reading role of kpi %d: %w", kpi, err)
	}

	links, err := t.SubLinks(ctx, kpi)
	if err != nil {
		return model.Role{}, err
	}
	if len(links) == 0 {
		return model.Role{Kind: model.RoleNone}, nil
	}
	role := model.Role{Kind: model.RoleMaster}
	for _, l := range links {
		role.SubIDs = append(role.SubIDs, l.SubID)
	}
	return role, nil
}

// SubLinks returns master's sub links ordered by sub id.
func (t *Tx) SubLinks(ctx context.Context, master int64) ([]model.SubLink, error) {
	rows, err := t.query(ctx, `SELECT master_id, sub_id, weight FROM kpi_links
		WHERE master_id = ? ORDER BY sub_id`, master)
	if err != nil {
		return nil, fmt.Errorf("reading links of kpi %d: %w", master, err)
	}
	defer func() { _ = rows.Close() }()
	return scanLinks(rows)
}

func scanLinks(rows *sql.Rows) ([]model.SubLink, error) {
	var out []model.SubLink
	for rows.Next() {
		var l model.SubLink
		if err := rows.Scan(&l.MasterID, &l.SubID, &l.Weight); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// CalcKind returns the KPI's calculation kind. Unknown KPIs and unparsable
// kinds default to Incremental.
func (t *Tx) CalcKind(ctx context.Context, kpi int64) (model.Kind, error) {
	var raw string
	err := t.queryRow(ctx, `SELECT calc_kind FROM kpis WHERE id = ?`, kpi).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		t.log.Debug().Int64("kpi", kpi).Msg("kpi not registered, assuming Incremental")
		return model.Incremental, nil
	}
	if err != nil {
		return "", fmt.Errorf("reading kind of kpi %d: %w", kpi, err)
	}
	kind, err := model.ParseKind(raw)
	if err != nil {
		t.log.Warn().Int64("kpi", kpi).Str("calc_kind", raw).Msg("unknown calculation kind, assuming Incremental")
		return model.Incremental, nil
	}
	return kind, nil
}

// KPIs lists registered KPIs ordered by id.
func (s *Store) KPIs(ctx context.Context) ([]model.KPI, error) {
	rows, err := s.view().query(ctx, `SELECT id, name, calc_kind FROM kpis ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing kpis: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.KPI
	for rows.Next() {
		var (
			k    model.KPI
			kind string
		)
		if err := rows.Scan(&k.ID, &k.Name, &kind); err != nil {
			return nil, err
		}
		if k.Kind, err = model.ParseKind(kind); err != nil {
			k.Kind = model.Incremental
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// Links lists every sub link ordered by master then sub.
func (s *Store) Links(ctx context.Context) ([]model.SubLink, error) {
	rows, err := s.view().query(ctx, `SELECT master_id, sub_id, weight FROM kpi_links ORDER BY master_id, sub_id`)
	if err != nil {
		return nil, fmt.Errorf("listing links: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanLinks(rows)
}
