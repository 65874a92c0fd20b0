// Package durable keeps the single database snapshot that survives between sessions.
package durable

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"
)

const (
	// DatabaseName and ObjectStoreName name the storage area; RecordKey is the only record in it.
	DatabaseName    = "CoffeeTrackerDB"
	ObjectStoreName = "database"
	RecordKey       = "main"
)

// ErrUnavailable is returned when the backing store cannot be opened, read or written.
var ErrUnavailable = errors.New("durable store unavailable")

// Store round-trips one snapshot.
type Store interface {
	// Load returns the saved snapshot. ok is false when nothing has been saved yet.
	Load(ctx context.Context) (data []byte, ok bool, err error)

	// Save overwrites the saved snapshot.
	Save(ctx context.Context, data []byte) error
}

// FileStore keeps the snapshot as a file under a data directory.
type FileStore struct {
	dir string
}

// NewFileStore returns a FileStore rooted at dataDir.
func NewFileStore(dataDir string) *FileStore {
	return &FileStore{dir: filepath.Join(dataDir, DatabaseName, ObjectStoreName)}
}

// Path returns the file holding the record.
func (s *FileStore) Path() string {
	return filepath.Join(s.dir, RecordKey)
}

// open creates the store directory on first use.
func (s *FileStore) open() error {
	info, err := os.Stat(s.dir)
	if err == nil {
		if !info.IsDir() {
			return fmt.Errorf("%w: %s is not a directory", ErrUnavailable, s.dir)
		}
		return nil
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Load reads the snapshot. A missing record means no prior session and is not an error.
func (s *FileStore) Load(ctx context.Context) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if err := s.open(); err != nil {
		return nil, false, err
	}

	data, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return data, true, nil
}

// Save replaces the snapshot atomically. The last save wins.
func (s *FileStore) Save(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.open(); err != nil {
		return err
	}
	if err := atomic.WriteFile(s.Path(), bytes.NewReader(data)); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Compile-time interface check
var _ Store = (*FileStore)(nil)
