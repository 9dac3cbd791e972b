package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cicciopanzer27/mia/extract"
	"github.com/cicciopanzer27/mia/roadmap"
)

type memoryKV struct {
	mu      sync.Mutex
	entries map[string]entry
	rev     uint64
	putErr  error
}

func newMemoryKV() *memoryKV {
	return &memoryKV{entries: make(map[string]entry)}
}

func (m *memoryKV) put(_ context.Context, key string, value []byte) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return 0, m.putErr
	}
	m.rev++
	m.entries[key] = entry{value: append([]byte(nil), value...), revision: m.rev, created: time.Unix(int64(m.rev), 0)}
	return m.rev, nil
}

func (m *memoryKV) get(_ context.Context, key string) (entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return entry{}, ErrNotFound
	}
	return e, nil
}

func (m *memoryKV) keys(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	return keys, nil
}

type stubSaver struct {
	err   error
	saved int
}

func (s *stubSaver) Save(*roadmap.Roadmap) error {
	if s.err != nil {
		return s.err
	}
	s.saved++
	return nil
}

func testRoadmap(cycles int, symbols ...string) *roadmap.Roadmap {
	r := roadmap.New(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	r.Symbols = extract.NewSet(symbols...)
	r.OpenQuestions = []string{"How does Q_plasma scale?"}
	r.Metadata.CyclesCompleted = cycles
	return r
}

func TestCycleKey(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		key := CycleKey(12)
		if key != "cycle.12" {
			t.Errorf("expected cycle.12, got %s", key)
		}
		n, err := ParseCycleKey(key)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if n != 12 {
			t.Errorf("expected 12, got %d", n)
		}
	})

	t.Run("invalid keys", func(t *testing.T) {
		for _, key := range []string{"latest", "cycle.", "cycle.x", "cycle.-1", "12"} {
			if _, err := ParseCycleKey(key); err == nil {
				t.Errorf("expected error for %q", key)
			}
		}
	})
}

func TestStore_PutAndGet(t *testing.T) {
	ctx := context.Background()
	s := newStore(newMemoryKV(), nil)

	if _, err := s.Put(ctx, testRoadmap(1, "Q_plasma")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	rev, err := s.Put(ctx, testRoadmap(2, "Q_plasma", "Triple_product"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	latest, err := s.Latest(ctx)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest.Cycle != 2 {
		t.Errorf("expected latest cycle 2, got %d", latest.Cycle)
	}
	if !latest.Roadmap.Symbols.Has("Triple_product") {
		t.Error("latest snapshot should carry Triple_product")
	}

	first, err := s.Get(ctx, 1)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if first.Roadmap.Symbols.Has("Triple_product") {
		t.Error("cycle 1 snapshot should not carry Triple_product")
	}

	second, err := s.Get(ctx, 2)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if second.Revision != rev {
		t.Errorf("expected revision %d, got %d", rev, second.Revision)
	}
	if second.Key != "cycle.2" {
		t.Errorf("expected key cycle.2, got %s", second.Key)
	}
}

func TestStore_NotFound(t *testing.T) {
	s := newStore(newMemoryKV(), nil)

	if _, err := s.Latest(context.Background()); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.Get(context.Background(), 3); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_CorruptSnapshot(t *testing.T) {
	kv := newMemoryKV()
	kv.put(context.Background(), LatestKey, []byte("{not json"))
	s := newStore(kv, nil)

	if _, err := s.Latest(context.Background()); err == nil || errors.Is(err, ErrNotFound) {
		t.Errorf("expected decode error, got %v", err)
	}
}

func TestStore_Cycles(t *testing.T) {
	ctx := context.Background()
	kv := newMemoryKV()
	s := newStore(kv, nil)

	cycles, err := s.Cycles(ctx)
	if err != nil {
		t.Fatalf("Cycles: %v", err)
	}
	if len(cycles) != 0 {
		t.Errorf("expected no cycles, got %v", cycles)
	}

	for _, n := range []int{10, 2, 1} {
		if _, err := s.Put(ctx, testRoadmap(n, "Q_plasma")); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	kv.put(ctx, "dashboard.layout", []byte("{}"))

	cycles, err = s.Cycles(ctx)
	if err != nil {
		t.Fatalf("Cycles: %v", err)
	}
	want := []int{1, 2, 10}
	if len(cycles) != len(want) {
		t.Fatalf("expected %v, got %v", want, cycles)
	}
	for i := range want {
		if cycles[i] != want[i] {
			t.Errorf("expected %v, got %v", want, cycles)
		}
	}
}

func TestStore_PutError(t *testing.T) {
	kv := newMemoryKV()
	kv.putErr = errors.New("no responders")
	s := newStore(kv, nil)

	if _, err := s.Put(context.Background(), testRoadmap(1)); err == nil {
		t.Error("expected error when the bucket rejects the write")
	}
}

func TestStore_CloseWithoutConnection(t *testing.T) {
	if err := newStore(newMemoryKV(), nil).Close(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestMirror(t *testing.T) {
	ctx := context.Background()

	t.Run("stores snapshot after save", func(t *testing.T) {
		primary := &stubSaver{}
		s := newStore(newMemoryKV(), nil)
		m := NewMirror(primary, s, nil)

		if err := m.Save(testRoadmap(4, "Lawson_criterion")); err != nil {
			t.Fatalf("Save: %v", err)
		}
		if primary.saved != 1 {
			t.Errorf("expected primary save, got %d", primary.saved)
		}
		snap, err := s.Get(ctx, 4)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if !snap.Roadmap.Symbols.Has("Lawson_criterion") {
			t.Error("snapshot should carry Lawson_criterion")
		}
	})

	t.Run("primary failure skips snapshot", func(t *testing.T) {
		primary := &stubSaver{err: errors.New("disk full")}
		s := newStore(newMemoryKV(), nil)
		m := NewMirror(primary, s, nil)

		if err := m.Save(testRoadmap(1)); err == nil {
			t.Fatal("expected primary error")
		}
		if _, err := s.Latest(ctx); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected no snapshot, got %v", err)
		}
	})

	t.Run("snapshot failure does not fail save", func(t *testing.T) {
		kv := newMemoryKV()
		kv.putErr = errors.New("no responders")
		m := NewMirror(&stubSaver{}, newStore(kv, nil), nil)

		if err := m.Save(testRoadmap(1)); err != nil {
			t.Errorf("expected nil, got %v", err)
		}
	})
}
