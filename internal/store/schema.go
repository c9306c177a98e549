package store

import (
	"fmt"
	"strings"
)

// schemaSQL is portable between SQLite and Postgres. Booleans are INTEGER 0/1,
// JSON blobs are TEXT, timestamps are RFC 3339 TEXT.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS kpis (
    id                   BIGINT PRIMARY KEY,
    name                 TEXT NOT NULL,
    calc_kind            TEXT NOT NULL DEFAULT 'Incremental'
);

CREATE TABLE IF NOT EXISTS kpi_links (
    sub_id               BIGINT PRIMARY KEY,
    master_id            BIGINT NOT NULL,
    weight               DOUBLE PRECISION NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS annual_targets (
    year                 INTEGER NOT NULL,
    location_id          BIGINT NOT NULL,
    kpi_id               BIGINT NOT NULL,
    target1              DOUBLE PRECISION,
    target1_manual       INTEGER NOT NULL DEFAULT 0,
    target1_formula      INTEGER NOT NULL DEFAULT 0,
    target1_expr         TEXT NOT NULL DEFAULT '',
    target1_inputs       TEXT NOT NULL DEFAULT '',
    target2              DOUBLE PRECISION,
    target2_manual       INTEGER NOT NULL DEFAULT 0,
    target2_formula      INTEGER NOT NULL DEFAULT 0,
    target2_expr         TEXT NOT NULL DEFAULT '',
    target2_inputs       TEXT NOT NULL DEFAULT '',
    logic                TEXT NOT NULL DEFAULT 'Annual',
    profile              TEXT NOT NULL DEFAULT 'even',
    repartition          TEXT NOT NULL DEFAULT '',
    params               TEXT NOT NULL DEFAULT '',
    updated_at           TEXT NOT NULL,
    PRIMARY KEY (year, location_id, kpi_id)
);

%s

CREATE TABLE IF NOT EXISTS save_runs (
    id                   TEXT PRIMARY KEY,
    year                 INTEGER NOT NULL,
    location_id          BIGINT NOT NULL,
    initiator            BIGINT,
    started_at           TEXT NOT NULL,
    duration_ms          BIGINT NOT NULL,
    fingerprint          TEXT NOT NULL DEFAULT '',
    changed              TEXT NOT NULL DEFAULT '',
    unresolved           TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS submission_files (
    file_path            TEXT PRIMARY KEY,
    mtime_ns             BIGINT NOT NULL,
    size_bytes           BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_kpi_links_master ON kpi_links(master_id);
CREATE INDEX IF NOT EXISTS idx_save_runs_started ON save_runs(started_at);
`

const periodicTableSQL = `
CREATE TABLE IF NOT EXISTS %s (
    year                 INTEGER NOT NULL,
    location_id          BIGINT NOT NULL,
    kpi_id               BIGINT NOT NULL,
    slot                 INTEGER NOT NULL,
    seq                  INTEGER NOT NULL,
    period               TEXT NOT NULL,
    value                DOUBLE PRECISION NOT NULL,
    PRIMARY KEY (year, location_id, kpi_id, slot, period)
);`

// periodicTables maps each granularity to its table.
var periodicTables = map[string]string{
	"daily":     "daily_targets",
	"weekly":    "weekly_targets",
	"monthly":   "monthly_targets",
	"quarterly": "quarterly_targets",
}

var periodicOrder = []string{"daily", "weekly", "monthly", "quarterly"}

// schemaStatements returns the DDL split into single statements; the pgx
// driver runs one statement per Exec.
func schemaStatements() []string {
	var tables []string
	for _, g := range periodicOrder {
		tables = append(tables, fmt.Sprintf(periodicTableSQL, periodicTables[g]))
	}
	full := fmt.Sprintf(schemaSQL, strings.Join(tables, "\n"))

	var out []string
	for _, stmt := range strings.Split(full, ";") {
		if s := strings.TrimSpace(stmt); s != "" {
			out = append(out, s)
		}
	}
	return out
}
