// Package session owns the live roastery database for the lifetime of a
// process and keeps the durable snapshot in step with it.
//
// Start loads the saved snapshot (or builds a fresh database and imports
// the legacy notes), brings the schema up to date and saves the result.
// Every mutation afterwards is saved immediately as a full snapshot.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/maloquacious/roasteries/internal/catalog"
	"github.com/maloquacious/roasteries/internal/durable"
	"github.com/maloquacious/roasteries/internal/legacy"
	"github.com/maloquacious/roasteries/internal/logger"
	"github.com/maloquacious/roasteries/internal/store"
	"github.com/maloquacious/roasteries/internal/store/sqlite"
)

// Options configures Start.
type Options struct {
	Durable durable.Store
	Catalog *catalog.Catalog
	Legacy  legacy.Source // may be nil
	Logger  logger.Logger // may be nil
}

// Session holds the single live database. It is safe for concurrent use;
// operations are serialized.
type Session struct {
	mu      sync.Mutex
	db      *sqlite.SQLiteStore
	durable durable.Store
	catalog *catalog.Catalog
	legacy  legacy.Source
	log     logger.Logger
	startup sqlite.SchemaReport
}

// Start runs the startup sequence. A durable.ErrUnavailable error is
// terminal; a corrupt saved snapshot is replaced by a fresh database.
func Start(ctx context.Context, opts Options) (*Session, error) {
	if opts.Durable == nil {
		return nil, errors.New("session: no durable store")
	}
	if opts.Catalog == nil {
		opts.Catalog = catalog.Default()
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}

	s := &Session{
		durable: opts.Durable,
		catalog: opts.Catalog,
		legacy:  opts.Legacy,
		log:     opts.Logger,
	}

	image, found, err := s.durable.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	if found {
		s.db, err = sqlite.OpenSnapshot(ctx, image, s.log)
		switch {
		case err == nil:
			s.log.Info("loaded saved database (%d bytes)", len(image))
		case errors.Is(err, store.ErrCorruptSnapshot):
			s.log.Warn("saved database is unreadable, starting fresh: %v", err)
			found = false
		default:
			return nil, err
		}
	}

	if !found {
		s.db, err = sqlite.Open(ctx, s.log)
		if err != nil {
			return nil, err
		}
		s.log.Info("created new database")
		report, err := s.db.EnsureSchema(ctx, s.catalog.Names())
		if err != nil {
			s.db.Close()
			return nil, err
		}
		s.startup.Merge(report)
		s.importLegacy(ctx)
	}

	report, err := s.db.EnsureSchema(ctx, s.catalog.Names())
	if err != nil {
		s.db.Close()
		return nil, err
	}
	s.startup.Merge(report)

	if err := s.persist(ctx); err != nil {
		s.db.Close()
		return nil, err
	}

	return s, nil
}

// importLegacy copies the legacy note set into the database. Failures are
// logged and never stop startup; the legacy data is left in place.
func (s *Session) importLegacy(ctx context.Context) {
	if s.legacy == nil {
		return
	}

	raw, ok, err := s.legacy.Get(legacy.NotesKey)
	if err != nil {
		s.log.Error("legacy notes: %v", err)
		return
	}
	if !ok || raw == "" {
		return
	}

	records, err := legacy.Parse([]byte(raw), s.log)
	if err != nil {
		s.log.Error("legacy notes: %v", err)
		return
	}

	s.log.Info("migrating %d legacy notes", len(records))
	imported := 0
	for _, r := range records {
		if err := s.db.Replace(ctx, r); err != nil {
			s.log.Error("legacy notes: %v", err)
			continue
		}
		imported++
	}
	s.log.Info("legacy migration complete: %d of %d notes", imported, len(records))
}

func (s *Session) persist(ctx context.Context) error {
	image, err := s.db.Export(ctx)
	if err != nil {
		return err
	}
	if err := s.durable.Save(ctx, image); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Close releases the database. The durable snapshot is already current.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// Catalog returns the canonical roastery list the session seeds from.
func (s *Session) Catalog() *catalog.Catalog {
	return s.catalog
}

// Get returns the record for name, with defaults when the name has no row.
func (s *Session) Get(ctx context.Context, name string) (store.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Get(ctx, name)
}

// Set applies the update and saves the snapshot.
func (s *Session) Set(ctx context.Context, name string, u store.Update) error {
	_, err := s.Update(ctx, name, u)
	return err
}

// Update applies the update, saves the snapshot and returns the record as
// it now stands.
func (s *Session) Update(ctx context.Context, name string, u store.Update) (store.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.db.Get(ctx, name)
	if err != nil {
		return store.Record{}, err
	}
	if err := s.db.Set(ctx, name, u); err != nil {
		return store.Record{}, err
	}
	s.log.Debug("set %s for %q", u.Field(), name)
	if err := s.persist(ctx); err != nil {
		return store.Record{}, err
	}
	return u.Apply(cur), nil
}

// Export returns the database image.
func (s *Session) Export(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Export(ctx)
}

// Import replaces the live database with the image in data. When data is
// not a readable database the error wraps store.ErrCorruptSnapshot and the
// current database is left untouched.
func (s *Session) Import(ctx context.Context, data []byte) (*sqlite.SchemaReport, error) {
	next, err := sqlite.OpenSnapshot(ctx, data, s.log)
	if err != nil {
		return nil, err
	}

	report, err := next.EnsureSchema(ctx, s.catalog.Names())
	if err != nil {
		next.Close()
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.db
	s.db = next
	if err := s.persist(ctx); err != nil {
		s.db = prev
		next.Close()
		return nil, err
	}
	prev.Close()

	s.log.Info("imported database (%d bytes)", len(data))
	return report, nil
}

// StartupReport describes the schema changes Start made to the saved
// database before saving it again.
func (s *Session) StartupReport() sqlite.SchemaReport {
	return s.startup
}

// Verify reports the schema state of the live database.
func (s *Session) Verify(ctx context.Context) (store.StoreState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.CheckState(ctx)
}

// Inspection is the read-only view of a saved database.
type Inspection struct {
	Found      bool             // a snapshot has been saved
	State      store.StoreState // schema state of the saved snapshot
	Roasteries int              // rows in the roasteries table
}

// Inspect reads the saved snapshot and reports its schema state without
// migrating or saving anything. A corrupt snapshot is an error wrapping
// store.ErrCorruptSnapshot.
func Inspect(ctx context.Context, d durable.Store, log logger.Logger) (Inspection, error) {
	image, found, err := d.Load(ctx)
	if err != nil {
		return Inspection{}, fmt.Errorf("load snapshot: %w", err)
	}
	if !found {
		return Inspection{State: store.StateMissing}, nil
	}

	db, err := sqlite.OpenSnapshot(ctx, image, log)
	if err != nil {
		return Inspection{Found: true}, err
	}
	defer db.Close()

	in := Inspection{Found: true}
	if in.State, err = db.CheckState(ctx); err != nil {
		return in, err
	}
	if in.State != store.StateMissing {
		if in.Roasteries, err = db.Count(ctx); err != nil {
			return in, err
		}
	}
	return in, nil
}

// ExportFileName is the download name for an export made at t.
func ExportFileName(t time.Time) string {
	return fmt.Sprintf("coffee-tracker-%s.sqlite", t.UTC().Format("2006-01-02"))
}

// Filter selects roasteries for List. Zero values match everything.
type Filter struct {
	Visited bool   // only purchased
	Starred bool   // only starred
	Search  string // case-insensitive substring of the name
	Region  string // exact region
}

// Entry is a roastery as shown to the user: the stored record plus the
// catalog information.
type Entry struct {
	store.Record
	City string `json:"city,omitempty"`
}

// List returns the catalog roasteries matching f in canonical order,
// followed by any stored roasteries the catalog does not know, by name.
// Region matches the stored region, or the catalog region when none is stored.
func (s *Session) List(ctx context.Context, f Filter) ([]Entry, error) {
	s.mu.Lock()
	records, err := s.db.List(ctx)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	byName := make(map[string]store.Record, len(records))
	for _, r := range records {
		byName[r.Name] = r
	}

	var extra []string
	for _, r := range records {
		if _, ok := s.catalog.Lookup(r.Name); !ok {
			extra = append(extra, r.Name)
		}
	}
	sort.Strings(extra)

	search := strings.ToLower(f.Search)
	var out []Entry
	for _, name := range append(s.catalog.Names(), extra...) {
		r, ok := byName[name]
		if !ok {
			r = store.DefaultRecord(name)
		}
		e := Entry{Record: r}
		if c, ok := s.catalog.Lookup(name); ok {
			e.City = c.City
			if e.Region == "" {
				e.Region = c.Region
			}
			if e.Website == "" {
				e.Website = c.Website
			}
		}

		if f.Visited && !e.Purchased {
			continue
		}
		if f.Starred && !e.Starred {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(name), search) {
			continue
		}
		if f.Region != "" && e.Region != f.Region {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Stats summarizes the user's progress through the catalog.
type Stats struct {
	Visited int `json:"visited"`
	Starred int `json:"starred"`
	Total   int `json:"total"`
}

// Stats counts visited and starred roasteries among the catalog names.
func (s *Session) Stats(ctx context.Context) (Stats, error) {
	entries, err := s.List(ctx, Filter{})
	if err != nil {
		return Stats{}, err
	}

	st := Stats{Total: s.catalog.Len()}
	for _, e := range entries {
		if _, ok := s.catalog.Lookup(e.Name); !ok {
			continue
		}
		if e.Purchased {
			st.Visited++
		}
		if e.Starred {
			st.Starred++
		}
	}
	return st, nil
}
