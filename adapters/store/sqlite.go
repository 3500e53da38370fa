// Package store persists tidy-table bundles to a local sqlite file,
// the sole handoff between the tidying and statistics stages.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"physiostat/domain/core"
	"physiostat/domain/study"
)

const schema = `
CREATE TABLE IF NOT EXISTS bundles (
	id         TEXT PRIMARY KEY,
	source     TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS tidy_tables (
	bundle_id TEXT NOT NULL,
	name      TEXT NOT NULL,
	position  INTEGER NOT NULL,
	PRIMARY KEY (bundle_id, name)
);
CREATE TABLE IF NOT EXISTS table_metrics (
	bundle_id  TEXT NOT NULL,
	table_name TEXT NOT NULL,
	position   INTEGER NOT NULL,
	metric     TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS factor_levels (
	bundle_id  TEXT NOT NULL,
	table_name TEXT NOT NULL,
	factor_pos INTEGER NOT NULL,
	factor     TEXT NOT NULL,
	level_pos  INTEGER NOT NULL,
	raw        TEXT NOT NULL,
	label      TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS observations (
	bundle_id  TEXT NOT NULL,
	table_name TEXT NOT NULL,
	row_pos    INTEGER NOT NULL,
	participant TEXT NOT NULL,
	factors    TEXT NOT NULL,
	metric     TEXT NOT NULL,
	value      REAL NOT NULL
);
CREATE TABLE IF NOT EXISTS missing_cells (
	bundle_id  TEXT NOT NULL,
	table_name TEXT NOT NULL,
	metric     TEXT NOT NULL,
	count      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_observations_lookup
	ON observations (bundle_id, table_name, row_pos);
`

// SQLiteStore implements ports.BundleStore on a local sqlite file.
type SQLiteStore struct {
	db *sqlx.DB
}

// Open opens (and initializes) the bundle store at path.
func Open(path string) (*SQLiteStore, error) {
	db, err := sqlx.Connect("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open bundle store: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize bundle store schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Save writes a bundle and all its tables in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, b *study.Bundle) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO bundles (id, source, created_at) VALUES (?, ?, ?)`,
		b.RunID.String(), b.Source, b.CreatedAt.Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("failed to insert bundle: %w", err)
	}

	for pos, name := range b.Names() {
		t, err := b.Table(name)
		if err != nil {
			return err
		}
		if err := saveTable(ctx, tx, b.RunID, t, pos); err != nil {
			return fmt.Errorf("failed to save table %s: %w", name, err)
		}
	}
	return tx.Commit()
}

func saveTable(ctx context.Context, tx *sqlx.Tx, runID core.RunID, t *study.TidyTable, pos int) error {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO tidy_tables (bundle_id, name, position) VALUES (?, ?, ?)`,
		runID.String(), string(t.Name), pos,
	); err != nil {
		return err
	}
	for i, m := range t.Metrics {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO table_metrics (bundle_id, table_name, position, metric) VALUES (?, ?, ?, ?)`,
			runID.String(), string(t.Name), i, string(m),
		); err != nil {
			return err
		}
	}
	for fp, f := range t.Factors {
		for lp, l := range f.Levels {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO factor_levels (bundle_id, table_name, factor_pos, factor, level_pos, raw, label)
				 VALUES (?, ?, ?, ?, ?, ?, ?)`,
				runID.String(), string(t.Name), fp, f.Name, lp, l.Raw, l.Label,
			); err != nil {
				return err
			}
		}
	}
	for rp, row := range t.Rows {
		factorsJSON, err := json.Marshal(row.Factors)
		if err != nil {
			return fmt.Errorf("failed to marshal factors: %w", err)
		}
		for _, m := range t.Metrics {
			v, ok := row.Values[m]
			if !ok {
				continue
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO observations (bundle_id, table_name, row_pos, participant, factors, metric, value)
				 VALUES (?, ?, ?, ?, ?, ?, ?)`,
				runID.String(), string(t.Name), rp, string(row.Participant), string(factorsJSON), string(m), v,
			); err != nil {
				return err
			}
		}
	}
	for m, c := range t.Missing {
		if c == 0 {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO missing_cells (bundle_id, table_name, metric, count) VALUES (?, ?, ?, ?)`,
			runID.String(), string(t.Name), string(m), c,
		); err != nil {
			return err
		}
	}
	return nil
}

// Load returns the most recently saved bundle.
func (s *SQLiteStore) Load(ctx context.Context) (*study.Bundle, error) {
	var meta struct {
		ID        string `db:"id"`
		Source    string `db:"source"`
		CreatedAt string `db:"created_at"`
	}
	err := s.db.GetContext(ctx, &meta,
		`SELECT id, source, created_at FROM bundles ORDER BY created_at DESC LIMIT 1`)
	if err == sql.ErrNoRows {
		return nil, core.ErrBundleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load bundle: %w", err)
	}

	var names []string
	if err := s.db.SelectContext(ctx, &names,
		`SELECT name FROM tidy_tables WHERE bundle_id = ? ORDER BY position`, meta.ID); err != nil {
		return nil, fmt.Errorf("failed to load table names: %w", err)
	}

	tables := make([]*study.TidyTable, 0, len(names))
	for _, name := range names {
		t, err := s.loadTable(ctx, meta.ID, core.TableName(name))
		if err != nil {
			return nil, fmt.Errorf("failed to load table %s: %w", name, err)
		}
		tables = append(tables, t)
	}

	b, err := study.NewBundle(core.RunID(meta.ID), meta.Source, tables)
	if err != nil {
		return nil, err
	}
	if created, perr := time.Parse(time.RFC3339Nano, meta.CreatedAt); perr == nil {
		b.CreatedAt = created
	}
	return b, nil
}

func (s *SQLiteStore) loadTable(ctx context.Context, bundleID string, name core.TableName) (*study.TidyTable, error) {
	t := &study.TidyTable{Name: name, Missing: make(map[core.MetricName]int)}

	var metrics []string
	if err := s.db.SelectContext(ctx, &metrics,
		`SELECT metric FROM table_metrics WHERE bundle_id = ? AND table_name = ? ORDER BY position`,
		bundleID, string(name)); err != nil {
		return nil, err
	}
	for _, m := range metrics {
		t.Metrics = append(t.Metrics, core.MetricName(m))
	}

	var levels []struct {
		FactorPos int    `db:"factor_pos"`
		Factor    string `db:"factor"`
		Raw       string `db:"raw"`
		Label     string `db:"label"`
	}
	if err := s.db.SelectContext(ctx, &levels,
		`SELECT factor_pos, factor, raw, label FROM factor_levels
		 WHERE bundle_id = ? AND table_name = ? ORDER BY factor_pos, level_pos`,
		bundleID, string(name)); err != nil {
		return nil, err
	}
	for _, l := range levels {
		if l.FactorPos == len(t.Factors) {
			t.Factors = append(t.Factors, study.Factor{Name: l.Factor})
		}
		f := &t.Factors[len(t.Factors)-1]
		f.Levels = append(f.Levels, study.FactorLevel{Raw: l.Raw, Label: l.Label})
	}

	var obs []struct {
		RowPos      int     `db:"row_pos"`
		Participant string  `db:"participant"`
		Factors     string  `db:"factors"`
		Metric      string  `db:"metric"`
		Value       float64 `db:"value"`
	}
	if err := s.db.SelectContext(ctx, &obs,
		`SELECT row_pos, participant, factors, metric, value FROM observations
		 WHERE bundle_id = ? AND table_name = ? ORDER BY row_pos`,
		bundleID, string(name)); err != nil {
		return nil, err
	}
	lastPos := -1
	for _, o := range obs {
		if o.RowPos != lastPos {
			var factors map[string]string
			if err := json.Unmarshal([]byte(o.Factors), &factors); err != nil {
				return nil, fmt.Errorf("failed to unmarshal factors: %w", err)
			}
			t.Rows = append(t.Rows, study.TidyRow{
				Participant: core.ParticipantID(o.Participant),
				Factors:     factors,
				Values:      make(map[core.MetricName]float64),
			})
			lastPos = o.RowPos
		}
		row := &t.Rows[len(t.Rows)-1]
		row.Values[core.MetricName(o.Metric)] = o.Value
	}

	var missing []struct {
		Metric string `db:"metric"`
		Count  int    `db:"count"`
	}
	if err := s.db.SelectContext(ctx, &missing,
		`SELECT metric, count FROM missing_cells WHERE bundle_id = ? AND table_name = ?`,
		bundleID, string(name)); err != nil {
		return nil, err
	}
	for _, m := range missing {
		t.Missing[core.MetricName(m.Metric)] = m.Count
	}
	return t, nil
}
