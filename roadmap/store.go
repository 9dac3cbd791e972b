package roadmap

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// DefaultFile is the roadmap file name used when none is configured.
const DefaultFile = "mia_symbolic_roadmap.json"

// Store reads and writes one roadmap file. It assumes a single writer.
type Store struct {
	path   string
	logger *slog.Logger
	now    func() time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithClock replaces time.Now for timestamps.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore creates a store for path.
func NewStore(path string, opts ...StoreOption) *Store {
	s := &Store{
		path:   path,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the roadmap file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads the roadmap. A missing file yields a fresh empty roadmap and
// no error. An unreadable or corrupt file also yields a fresh roadmap, with
// a *PersistenceError the caller may report before continuing.
func (s *Store) Load() (*Roadmap, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Debug("No roadmap file, starting empty", "path", s.path)
		return New(s.now()), nil
	}
	if err != nil {
		return New(s.now()), &PersistenceError{Op: "load", Path: s.path, Err: err}
	}

	r, err := Decode(data)
	if err != nil {
		return New(s.now()), &PersistenceError{Op: "load", Path: s.path, Err: err}
	}

	s.logger.Debug("Roadmap loaded",
		"path", s.path,
		"symbols", r.Symbols.Len(),
		"questions", len(r.OpenQuestions),
		"reviews", len(r.PeerReviews))
	return r, nil
}

// Quarantine renames the roadmap file to "<path>.corrupt-<unix seconds>"
// so a fresh roadmap can be saved without losing the unreadable one. It
// returns the new path, or "" when there is no file.
func (s *Store) Quarantine() (string, error) {
	if _, err := os.Stat(s.path); errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	target := fmt.Sprintf("%s.corrupt-%d", s.path, s.now().Unix())
	if err := os.Rename(s.path, target); err != nil {
		return "", &PersistenceError{Op: "quarantine", Path: s.path, Err: err}
	}
	s.logger.Warn("Unreadable roadmap moved aside", "path", s.path, "moved_to", target)
	return target, nil
}

// Decode parses roadmap JSON.
func Decode(data []byte) (*Roadmap, error) {
	var r Roadmap
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode roadmap: %w", err)
	}
	if r.Metadata.Created.IsZero() {
		r.Metadata.Created = r.Metadata.LastUpdated
	}
	return &r, nil
}

// Save recomputes the metadata counters, stamps last_updated and replaces
// the file atomically. r is updated in place with the written metadata.
func (s *Store) Save(r *Roadmap) error {
	r.normalize()
	r.Recount()
	now := s.now()
	if r.Metadata.Created.IsZero() {
		r.Metadata.Created = At(now)
	}
	r.Metadata.LastUpdated = At(now)

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return &PersistenceError{Op: "save", Path: s.path, Err: fmt.Errorf("encode: %w", err)}
	}
	data = append(data, '\n')

	if err := writeFileAtomic(s.path, data, 0o644); err != nil {
		return &PersistenceError{Op: "save", Path: s.path, Err: err}
	}

	s.logger.Debug("Roadmap saved",
		"path", s.path,
		"symbols", r.Metadata.TotalSymbols,
		"questions", r.Metadata.TotalQuestions,
		"bytes", len(data))
	return nil
}

// writeFileAtomic writes data to a temporary file in the target directory,
// syncs it and renames it over path, so readers see either the old or the
// new content.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temporary file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temporary file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync temporary file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temporary file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("chmod temporary file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename into place: %w", err)
	}

	// Make the rename durable.
	if d, err := os.Open(dir); err == nil {
		d.Sync()
		d.Close()
	}
	return nil
}
