// Package artifact stores generated mesh/splat binaries on local ephemeral
// disk with time-bounded retention. Jobs keep only a reference; the store
// owns the bytes and deletes them once the retention window passes,
// downloaded or not.
package artifact

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"sam3dserve/pkg/models"
)

var ErrNotFound = errors.New("artifact not found")

type record struct {
	path      string
	format    string
	createdAt time.Time
}

// Store manages artifact files under a single base directory.
// Safe for concurrent use.
type Store struct {
	dir       string
	retention time.Duration

	mu   sync.Mutex
	refs map[uuid.UUID]record

	stop chan struct{}
	wg   sync.WaitGroup
}

// New creates the base directory if needed and returns an empty Store.
func New(dir string, retention time.Duration) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating artifact dir %s: %w", dir, err)
	}
	return &Store{
		dir:       dir,
		retention: retention,
		refs:      make(map[uuid.UUID]record),
		stop:      make(chan struct{}),
	}, nil
}

// Save writes data to a fresh, uniquely named file and returns its reference.
// Existing files are never overwritten.
func (s *Store) Save(data []byte, format string) (models.ArtifactRef, error) {
	id := uuid.New()
	path := filepath.Join(s.dir, id.String()+"."+format)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return models.ArtifactRef{}, fmt.Errorf("creating artifact file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return models.ArtifactRef{}, fmt.Errorf("writing artifact file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return models.ArtifactRef{}, fmt.Errorf("closing artifact file: %w", err)
	}

	now := time.Now().UTC()
	s.mu.Lock()
	s.refs[id] = record{path: path, format: format, createdAt: now}
	s.mu.Unlock()

	return models.ArtifactRef{ID: id, Format: format, CreatedAt: now}, nil
}

// Load returns the bytes for ref. Expired or unknown references report
// ErrNotFound; reads within the window are non-destructive and repeatable.
func (s *Store) Load(ref models.ArtifactRef) ([]byte, error) {
	s.mu.Lock()
	rec, ok := s.refs[ref.ID]
	s.mu.Unlock()

	if !ok || time.Since(rec.createdAt) > s.retention {
		return nil, ErrNotFound
	}

	data, err := os.ReadFile(rec.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading artifact %s: %w", ref.ID, err)
	}
	return data, nil
}

// Reap deletes every artifact older than the retention window and drops its
// reference. Returns the number of artifacts removed.
func (s *Store) Reap() int {
	cutoff := time.Now().UTC().Add(-s.retention)

	s.mu.Lock()
	var expired []record
	for id, rec := range s.refs {
		if rec.createdAt.Before(cutoff) {
			expired = append(expired, rec)
			delete(s.refs, id)
		}
	}
	s.mu.Unlock()

	for _, rec := range expired {
		if err := os.Remove(rec.path); err != nil && !os.IsNotExist(err) {
			slog.Warn("failed to remove expired artifact", "path", rec.path, "error", err)
		}
	}
	if len(expired) > 0 {
		slog.Info("reaped expired artifacts", "count", len(expired))
	}
	return len(expired)
}

// StartReaper launches a background goroutine that calls Reap on the given
// interval until Stop.
func (s *Store) StartReaper(interval time.Duration) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				s.Reap()
			}
		}
	}()
}

// Stop halts the reaper goroutine. Stored files remain on disk.
func (s *Store) Stop() {
	close(s.stop)
	s.wg.Wait()
}
