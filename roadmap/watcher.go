package roadmap

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	// snapshotChannelBuffer is the size of the snapshot channel.
	snapshotChannelBuffer = 16

	// DefaultDebounce is how long changes are collected before reloading.
	DefaultDebounce = 250 * time.Millisecond
)

// Snapshot is a freshly loaded roadmap emitted after the file changed.
// Err is set when the new content could not be decoded.
type Snapshot struct {
	Roadmap *Roadmap
	Hash    string
	Err     error
}

// Watcher follows a roadmap file written by another process and emits a
// snapshot each time its content changes. It never writes.
type Watcher struct {
	path     string
	debounce time.Duration
	watcher  *fsnotify.Watcher
	logger   *slog.Logger

	pendingMu sync.Mutex
	pending   bool

	lastHash string

	snapshots chan Snapshot
	dropped   atomic.Int64
}

// NewWatcher creates a watcher for the roadmap file at path. A debounce of
// zero uses DefaultDebounce.
func NewWatcher(path string, debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	return &Watcher{
		path:      filepath.Clean(path),
		debounce:  debounce,
		watcher:   fsw,
		logger:    logger,
		snapshots: make(chan Snapshot, snapshotChannelBuffer),
	}, nil
}

// Snapshots returns the snapshot channel. It is closed when the watcher
// stops.
func (w *Watcher) Snapshots() <-chan Snapshot {
	return w.snapshots
}

// Start watches the file's directory, emits the current content if the
// file exists, and processes changes until ctx is done or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		return err
	}

	w.reload()

	go w.processEvents(ctx)

	w.logger.Info("Roadmap watcher started",
		"path", w.path,
		"debounce", w.debounce)
	return nil
}

// Stop stops the watcher.
// The snapshot channel is closed by processEvents when it exits.
func (w *Watcher) Stop() error {
	return w.watcher.Close()
}

// DroppedSnapshots returns the number of snapshots dropped because the
// channel was full.
func (w *Watcher) DroppedSnapshots() int64 {
	return w.dropped.Load()
}

// processEvents handles fsnotify events with debouncing.
func (w *Watcher) processEvents(ctx context.Context) {
	defer close(w.snapshots)
	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
				w.pendingMu.Lock()
				w.pending = true
				w.pendingMu.Unlock()
				w.logger.Debug("Roadmap change detected", "op", event.Op.String())
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Watcher error", "error", err)

		case <-ticker.C:
			w.pendingMu.Lock()
			pending := w.pending
			w.pending = false
			w.pendingMu.Unlock()
			if pending {
				w.reload()
			}
		}
	}
}

// reload reads the file and emits a snapshot when its hash changed.
// A missing file is not an event: writers replace it by rename.
func (w *Watcher) reload() {
	data, err := os.ReadFile(w.path)
	if errors.Is(err, fs.ErrNotExist) {
		return
	}
	if err != nil {
		w.logger.Warn("Failed to read roadmap", "path", w.path, "error", err)
		return
	}

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	if hash == w.lastHash {
		return
	}
	w.lastHash = hash

	snap := Snapshot{Hash: hash}
	snap.Roadmap, snap.Err = Decode(data)
	if snap.Err != nil {
		snap.Err = &PersistenceError{Op: "load", Path: w.path, Err: snap.Err}
	}
	w.send(snap)
}

func (w *Watcher) send(snap Snapshot) {
	select {
	case w.snapshots <- snap:
	default:
		dropped := w.dropped.Add(1)
		w.logger.Warn("Snapshot channel full, dropping snapshot",
			"path", w.path,
			"total_dropped", dropped)
	}
}
