package store

import "context"

// StoreState represents how far the roastery table is from the current schema.
type StoreState int

const (
	StateMissing  StoreState = iota // No roasteries table
	StateOutdated                   // Table exists but columns are missing
	StateReady                      // Table has the full current column set
)

func (s StoreState) String() string {
	switch s {
	case StateMissing:
		return "missing"
	case StateOutdated:
		return "outdated"
	case StateReady:
		return "ready"
	}
	return "unknown"
}

// Store defines the roastery persistence contract seen by the CLI,
// the shell and the HTTP handlers.
type Store interface {
	// Get returns the record for name, or a record with defaults when no row exists.
	Get(ctx context.Context, name string) (Record, error)

	// Set applies a single-field update to name.
	Set(ctx context.Context, name string, u Update) error

	// List returns every stored record ordered by name.
	List(ctx context.Context) ([]Record, error)

	// Export serializes the whole database.
	Export(ctx context.Context) ([]byte, error)

	// Close releases the database.
	Close() error
}
