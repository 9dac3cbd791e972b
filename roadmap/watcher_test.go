package roadmap

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func nextSnapshot(t *testing.T, ch <-chan Snapshot) Snapshot {
	t.Helper()
	select {
	case snap, ok := <-ch:
		require.True(t, ok, "snapshot channel closed")
		return snap
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for snapshot")
		return Snapshot{}
	}
}

func startWatcher(t *testing.T, path string) *Watcher {
	t.Helper()
	w, err := NewWatcher(path, 20*time.Millisecond, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))

	t.Cleanup(func() {
		cancel()
		w.Stop()
		for range w.Snapshots() {
		}
	})
	return w
}

func TestWatcher_InitialAndChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFile)
	s := NewStore(path, WithClock(fixedClock(t0)))
	require.NoError(t, s.Save(seeded()))

	w := startWatcher(t, path)

	initial := nextSnapshot(t, w.Snapshots())
	require.NoError(t, initial.Err)
	assert.Equal(t, []string{"Lawson_criterion", "Q_plasma"}, initial.Roadmap.SortedSymbols())

	next := seeded()
	next.Symbols.Add("Triple_product")
	require.NoError(t, s.Save(next))

	changed := nextSnapshot(t, w.Snapshots())
	require.NoError(t, changed.Err)
	assert.True(t, changed.Roadmap.Symbols.Has("Triple_product"))
	assert.NotEqual(t, initial.Hash, changed.Hash)
}

func TestWatcher_IgnoresIdenticalContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFile)
	s := NewStore(path, WithClock(fixedClock(t0)))
	require.NoError(t, s.Save(seeded()))

	w := startWatcher(t, path)
	nextSnapshot(t, w.Snapshots())

	// Same content rewritten: no snapshot.
	require.NoError(t, s.Save(seeded()))

	// Different content afterwards proves the watcher is still live.
	other := seeded()
	other.OpenQuestions = nil
	require.NoError(t, s.Save(other))

	snap := nextSnapshot(t, w.Snapshots())
	assert.Empty(t, snap.Roadmap.OpenQuestions)
}

func TestWatcher_CorruptContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFile)

	w := startWatcher(t, path)

	require.NoError(t, os.WriteFile(path, []byte(`{"focus_symbols": [1]}`), 0o644))

	snap := nextSnapshot(t, w.Snapshots())
	require.Error(t, snap.Err)
	_, ok := IsPersistenceError(snap.Err)
	assert.True(t, ok)
}

func TestWatcher_StopClosesChannel(t *testing.T) {
	w, err := NewWatcher(filepath.Join(t.TempDir(), DefaultFile), 0, nil)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))

	require.NoError(t, w.Stop())

	select {
	case _, ok := <-w.Snapshots():
		assert.False(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("snapshot channel not closed after Stop")
	}
}

func TestWatcher_CountsDroppedSnapshots(t *testing.T) {
	w, err := NewWatcher(filepath.Join(t.TempDir(), DefaultFile), 0, nil)
	require.NoError(t, err)
	defer w.Stop()

	for i := 0; i < snapshotChannelBuffer+2; i++ {
		w.send(Snapshot{Hash: fmt.Sprint(i)})
	}

	assert.Equal(t, int64(2), w.DroppedSnapshots())
	assert.Equal(t, "0", (<-w.Snapshots()).Hash)
}
