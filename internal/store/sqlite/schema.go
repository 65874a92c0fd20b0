package sqlite

import (
	"context"
	"fmt"

	"github.com/maloquacious/roasteries/internal/store"
)

// createTable is the current full schema.
const createTable = `
CREATE TABLE IF NOT EXISTS roasteries (
    name TEXT PRIMARY KEY,
    purchased INTEGER DEFAULT 0,
    has_espresso INTEGER DEFAULT 0,
    comment TEXT DEFAULT '',
    quality_rating INTEGER DEFAULT 0,
    price_rating INTEGER DEFAULT 0,
    service_rating INTEGER DEFAULT 0,
    website TEXT DEFAULT '',
    region TEXT DEFAULT '',
    starred INTEGER DEFAULT 0
);
`

// columns lists every column of the current schema, in table order.
var columns = []string{
	"name", "purchased", "has_espresso", "comment",
	"quality_rating", "price_rating", "service_rating",
	"website", "region", "starred",
}

type columnMigration struct {
	column     string
	definition string
}

// columnMigrations are applied in order to tables created by older versions.
var columnMigrations = []columnMigration{
	{column: "website", definition: "TEXT DEFAULT ''"},
	{column: "region", definition: "TEXT DEFAULT ''"},
	{column: "starred", definition: "INTEGER DEFAULT 0"},
}

type nameCorrection struct {
	from, to string
}

var nameCorrections = []nameCorrection{
	{from: "akevator kaffe", to: "Aekvator kaffe"},
}

// SchemaReport describes what EnsureSchema changed.
type SchemaReport struct {
	Created      bool
	Renamed      []string
	AddedColumns []string
	Seeded       int
	Failures     []error
}

// Merge appends the changes recorded in o.
func (r *SchemaReport) Merge(o *SchemaReport) {
	if o == nil {
		return
	}
	r.Created = r.Created || o.Created
	r.Renamed = append(r.Renamed, o.Renamed...)
	r.AddedColumns = append(r.AddedColumns, o.AddedColumns...)
	r.Seeded += o.Seeded
	r.Failures = append(r.Failures, o.Failures...)
}

// Changed reports whether anything was created, renamed, added or seeded.
func (r *SchemaReport) Changed() bool {
	return r.Created || len(r.Renamed) > 0 || len(r.AddedColumns) > 0 || r.Seeded > 0
}

// EnsureSchema brings the roasteries table to the current shape and makes
// sure every name in names has a row. It is safe to call on every start:
// a missing table is created, an existing one gets the name corrections,
// the missing columns and the missing rows. A failed column migration is
// logged and recorded in the report but does not stop the others.
func (s *SQLiteStore) EnsureSchema(ctx context.Context, names []string) (*SchemaReport, error) {
	exists, err := s.tableExists(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check roasteries table: %w", err)
	}

	report := &SchemaReport{}
	if !exists {
		if _, err := s.db.ExecContext(ctx, createTable); err != nil {
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
		report.Created = true
		s.log.Info("created roasteries table")
	} else {
		s.correctNames(ctx, report)
		if err := s.addMissingColumns(ctx, report); err != nil {
			return report, err
		}
	}

	n, err := s.seed(ctx, names)
	if err != nil {
		return report, fmt.Errorf("failed to seed roasteries: %w", err)
	}
	report.Seeded = n
	if n > 0 {
		s.log.Info("seeded %d roasteries", n)
	}

	return report, nil
}

// CheckState reports how the roasteries table compares to the current schema.
func (s *SQLiteStore) CheckState(ctx context.Context) (store.StoreState, error) {
	exists, err := s.tableExists(ctx)
	if err != nil {
		return store.StateMissing, fmt.Errorf("failed to check roasteries table: %w", err)
	}
	if !exists {
		return store.StateMissing, nil
	}

	have, err := s.columnSet(ctx)
	if err != nil {
		return store.StateOutdated, err
	}
	for _, c := range columns {
		if !have[c] {
			return store.StateOutdated, nil
		}
	}
	return store.StateReady, nil
}

// Columns returns the column names of the roasteries table in table order.
func (s *SQLiteStore) Columns(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `PRAGMA table_info(roasteries)`)
	if err != nil {
		return nil, fmt.Errorf("failed to read table info: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var (
			cid       int
			name      string
			ctype     string
			notNull   int
			dfltValue any
			pk        int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dfltValue, &pk); err != nil {
			return nil, fmt.Errorf("failed to scan table info: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Count returns the number of rows in the roasteries table.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM roasteries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count roasteries: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) columnSet(ctx context.Context) (map[string]bool, error) {
	names, err := s.Columns(ctx)
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set, nil
}

func (s *SQLiteStore) tableExists(ctx context.Context) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='roasteries'`).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// correctNames renames misspelled seed values by exact match. A rename is
// skipped when the corrected name already has a row.
func (s *SQLiteStore) correctNames(ctx context.Context, report *SchemaReport) {
	for _, nc := range nameCorrections {
		res, err := s.db.ExecContext(ctx, `
			UPDATE roasteries SET name = ?
			WHERE name = ? AND NOT EXISTS (SELECT 1 FROM roasteries WHERE name = ?)
		`, nc.to, nc.from, nc.to)
		if err != nil {
			err = &store.MigrationError{Step: fmt.Sprintf("rename %q", nc.from), Err: err}
			s.log.Error("%v", err)
			report.Failures = append(report.Failures, err)
			continue
		}
		if n, _ := res.RowsAffected(); n > 0 {
			s.log.Info("renamed roastery %q to %q", nc.from, nc.to)
			report.Renamed = append(report.Renamed, nc.from)
		}
	}
}

// addMissingColumns adds each column the table lacks. Only the table
// info query failing is fatal; a failed ALTER is recorded and skipped.
func (s *SQLiteStore) addMissingColumns(ctx context.Context, report *SchemaReport) error {
	have, err := s.columnSet(ctx)
	if err != nil {
		return err
	}

	for _, m := range columnMigrations {
		if have[m.column] {
			continue
		}
		stmt := fmt.Sprintf(`ALTER TABLE roasteries ADD COLUMN %s %s`, m.column, m.definition)
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			err = &store.MigrationError{Step: "add column " + m.column, Err: err}
			s.log.Error("%v", err)
			report.Failures = append(report.Failures, err)
			continue
		}
		s.log.Info("added %s column", m.column)
		report.AddedColumns = append(report.AddedColumns, m.column)
	}
	return nil
}

// seed inserts a default row for every name that has none and returns
// how many rows were added.
func (s *SQLiteStore) seed(ctx context.Context, names []string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO roasteries (name) VALUES (?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	added := 0
	for _, name := range names {
		res, err := stmt.ExecContext(ctx, name)
		if err != nil {
			return 0, fmt.Errorf("insert %q: %w", name, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			added++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return added, nil
}
