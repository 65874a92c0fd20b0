package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/maloquacious/roasteries/internal/logger"
	"github.com/maloquacious/roasteries/internal/store"
	msqlite "modernc.org/sqlite"
)

// sqliteHeader starts every database image; the full header is 100 bytes.
const (
	sqliteHeader    = "SQLite format 3\x00"
	sqliteHeaderLen = 100
)

// driverConn is the part of the modernc.org/sqlite connection used for
// moving whole database images in and out of memory.
type driverConn interface {
	Serialize() ([]byte, error)
	NewRestore(srcURI string) (*msqlite.Backup, error)
}

// SQLiteStore implements the store.Store contract on an in-memory
// modernc.org/sqlite database. It owns the database for its whole life.
type SQLiteStore struct {
	db  *sql.DB
	log logger.Logger
}

// Open creates a new, empty in-memory database.
func Open(ctx context.Context, log logger.Logger) (*SQLiteStore, error) {
	return open(ctx, nil, log)
}

// OpenSnapshot creates an in-memory database from a serialized image.
// It fails with store.ErrCorruptSnapshot if data is not a readable SQLite database.
func OpenSnapshot(ctx context.Context, data []byte, log logger.Logger) (*SQLiteStore, error) {
	if len(data) < sqliteHeaderLen || !bytes.HasPrefix(data, []byte(sqliteHeader)) {
		return nil, fmt.Errorf("%w: missing SQLite header (%d bytes)", store.ErrCorruptSnapshot, len(data))
	}
	return open(ctx, data, log)
}

func open(ctx context.Context, image []byte, log logger.Logger) (*SQLiteStore, error) {
	if log == nil {
		log = logger.Nop()
	}

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every connection to ":memory:" is a separate database; pin the pool
	// to a single connection that never expires.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	s := &SQLiteStore{db: db, log: log}

	if image != nil {
		if err := s.restore(ctx, image); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: %v", store.ErrCorruptSnapshot, err)
		}
		if err := s.quickCheck(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: %v", store.ErrCorruptSnapshot, err)
		}
	}

	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Export serializes the whole database in SQLite's native file format.
func (s *SQLiteStore) Export(ctx context.Context) ([]byte, error) {
	var image []byte
	err := s.raw(ctx, func(c driverConn) error {
		var err error
		image, err = c.Serialize()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to serialize database: %w", err)
	}
	return image, nil
}

// restore copies image into the in-memory database through the backup API.
// The image is staged in a temporary file that is removed afterwards.
func (s *SQLiteStore) restore(ctx context.Context, image []byte) error {
	buf := make([]byte, len(image))
	copy(buf, image)

	// Without its -wal file a WAL-mode image reads as rollback journal.
	if buf[18] == 2 && buf[19] == 2 {
		buf[18], buf[19] = 1, 1
	}

	dir, err := os.MkdirTemp("", "roasteries-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "snapshot.sqlite")
	if err := os.WriteFile(path, buf, 0o600); err != nil {
		return err
	}

	return s.raw(ctx, func(c driverConn) error {
		bck, err := c.NewRestore(path)
		if err != nil {
			return err
		}
		if _, err := bck.Step(-1); err != nil {
			bck.Finish()
			return err
		}
		return bck.Finish()
	})
}

func (s *SQLiteStore) quickCheck(ctx context.Context) error {
	var result string
	if err := s.db.QueryRowContext(ctx, "PRAGMA quick_check").Scan(&result); err != nil {
		return err
	}
	if result != "ok" {
		return errors.New(result)
	}
	return nil
}

// raw runs fn against the driver connection.
func (s *SQLiteStore) raw(ctx context.Context, fn func(driverConn) error) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	return conn.Raw(func(dc any) error {
		c, ok := dc.(driverConn)
		if !ok {
			return fmt.Errorf("driver connection %T does not support backup", dc)
		}
		return fn(c)
	})
}

const selectRecord = `
SELECT name,
    COALESCE(purchased, 0), COALESCE(has_espresso, 0), COALESCE(comment, ''),
    COALESCE(quality_rating, 0), COALESCE(price_rating, 0), COALESCE(service_rating, 0),
    COALESCE(website, ''), COALESCE(region, ''), COALESCE(starred, 0)
FROM roasteries`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (store.Record, error) {
	var r store.Record
	var purchased, hasEspresso, starred int
	err := row.Scan(
		&r.Name, &purchased, &hasEspresso, &r.Comment,
		&r.QualityRating, &r.PriceRating, &r.ServiceRating,
		&r.Website, &r.Region, &starred,
	)
	if err != nil {
		return store.Record{}, err
	}
	r.Purchased = purchased != 0
	r.HasEspresso = hasEspresso != 0
	r.Starred = starred != 0
	return r, nil
}

// Get returns the stored record for name, or the defaults when there is no row.
func (s *SQLiteStore) Get(ctx context.Context, name string) (store.Record, error) {
	r, err := scanRecord(s.db.QueryRowContext(ctx, selectRecord+` WHERE name = ?`, name))
	if err == sql.ErrNoRows {
		return store.DefaultRecord(name), nil
	}
	if err != nil {
		return store.Record{}, fmt.Errorf("failed to get %q: %w", name, err)
	}
	return r, nil
}

// List returns every stored record ordered by name.
func (s *SQLiteStore) List(ctx context.Context) ([]store.Record, error) {
	rows, err := s.db.QueryContext(ctx, selectRecord+` ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list roasteries: %w", err)
	}
	defer rows.Close()

	var records []store.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan roastery: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Set applies a single-column update. A missing row is created with
// defaults first so the update is never lost.
func (s *SQLiteStore) Set(ctx context.Context, name string, u store.Update) error {
	if !u.Valid() {
		return fmt.Errorf("%w: %v", store.ErrUnknownField, u.Field())
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO roasteries (name) VALUES (?)`, name); err != nil {
		return fmt.Errorf("failed to insert %q: %w", name, err)
	}

	// The column comes from the closed field set, never from the caller.
	query := fmt.Sprintf(`UPDATE roasteries SET %s = ? WHERE name = ?`, u.Field().Column())
	if _, err := tx.ExecContext(ctx, query, u.Value(), name); err != nil {
		return fmt.Errorf("failed to set %s for %q: %w", u.Field(), name, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Replace inserts r, overwriting any existing row with the same name.
// Columns outside the legacy note format take their defaults.
func (s *SQLiteStore) Replace(ctx context.Context, r store.Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO roasteries
		(name, purchased, has_espresso, comment, quality_rating, price_rating, service_rating)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, r.Name, boolToInt(r.Purchased), boolToInt(r.HasEspresso), r.Comment,
		r.QualityRating, r.PriceRating, r.ServiceRating)
	if err != nil {
		return fmt.Errorf("failed to replace %q: %w", r.Name, err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Compile-time interface check
var _ store.Store = (*SQLiteStore)(nil)
