// Package storage keeps a revision history of the roadmap in a NATS
// JetStream key-value bucket. Every saved cycle is written under its own
// key and under LatestKey, so dashboards can follow the roadmap without
// reading the file.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/cicciopanzer27/mia/roadmap"
)

const (
	// DefaultBucket is the bucket snapshots are written to.
	DefaultBucket = "MIA_ROADMAP"

	// DefaultHistory is how many revisions the bucket keeps per key.
	DefaultHistory = 5

	// LatestKey always holds the most recent snapshot.
	LatestKey = "latest"

	cyclePrefix = "cycle."
)

// CycleKey returns the key a cycle's snapshot is stored under.
func CycleKey(cycle int) string {
	return cyclePrefix + strconv.Itoa(cycle)
}

// ParseCycleKey parses a key built by CycleKey.
func ParseCycleKey(key string) (int, error) {
	rest, ok := strings.CutPrefix(key, cyclePrefix)
	if !ok {
		return 0, fmt.Errorf("invalid snapshot key format: %s", key)
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid cycle in snapshot key: %s", key)
	}
	return n, nil
}

// Snapshot is one stored roadmap revision.
type Snapshot struct {
	Key      string
	Cycle    int
	Revision uint64
	Stored   time.Time
	Roadmap  *roadmap.Roadmap
}

// entry is the part of a KV entry the store reads.
type entry struct {
	value    []byte
	revision uint64
	created  time.Time
}

// keyValue is the subset of bucket operations the store uses.
type keyValue interface {
	put(ctx context.Context, key string, value []byte) (uint64, error)
	get(ctx context.Context, key string) (entry, error)
	keys(ctx context.Context) ([]string, error)
}

// bucket adapts a jetstream.KeyValue.
type bucket struct {
	kv jetstream.KeyValue
}

func (b bucket) put(ctx context.Context, key string, value []byte) (uint64, error) {
	return b.kv.Put(ctx, key, value)
}

func (b bucket) get(ctx context.Context, key string) (entry, error) {
	e, err := b.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return entry{}, ErrNotFound
		}
		return entry{}, err
	}
	return entry{value: e.Value(), revision: e.Revision(), created: e.Created()}, nil
}

func (b bucket) keys(ctx context.Context) ([]string, error) {
	keys, err := b.kv.Keys(ctx)
	if errors.Is(err, jetstream.ErrNoKeysFound) {
		return nil, nil
	}
	return keys, err
}

// Store reads and writes roadmap snapshots.
type Store struct {
	kv     keyValue
	conn   *nats.Conn
	logger *slog.Logger
}

// Open connects to the NATS server at url and opens bucket, creating it
// when it does not exist yet.
func Open(ctx context.Context, url, bucketName string, logger *slog.Logger) (*Store, error) {
	nc, err := nats.Connect(url,
		nats.Name("mia-snapshots"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	kv, err := getOrCreateBucket(ctx, js, bucketName)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("open bucket %s: %w", bucketName, err)
	}

	s := newStore(bucket{kv: kv}, logger)
	s.conn = nc
	return s, nil
}

func newStore(kv keyValue, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{kv: kv, logger: logger}
}

func getOrCreateBucket(ctx context.Context, js jetstream.JetStream, name string) (jetstream.KeyValue, error) {
	if name == "" {
		name = DefaultBucket
	}
	kv, err := js.KeyValue(ctx, name)
	if err == nil {
		return kv, nil
	}
	return js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      name,
		Description: "mia roadmap snapshots",
		History:     DefaultHistory,
	})
}

// Put stores r under its cycle key and under LatestKey. It returns the
// revision of the cycle key.
func (s *Store) Put(ctx context.Context, r *roadmap.Roadmap) (uint64, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return 0, fmt.Errorf("marshal roadmap: %w", err)
	}

	cycle := r.Metadata.CyclesCompleted
	rev, err := s.kv.put(ctx, CycleKey(cycle), data)
	if err != nil {
		return 0, fmt.Errorf("store cycle %d: %w", cycle, err)
	}
	if _, err := s.kv.put(ctx, LatestKey, data); err != nil {
		return 0, fmt.Errorf("store latest: %w", err)
	}

	s.logger.Debug("Roadmap snapshot stored", "cycle", cycle, "revision", rev, "bytes", len(data))
	return rev, nil
}

// Latest returns the most recent snapshot.
func (s *Store) Latest(ctx context.Context) (*Snapshot, error) {
	return s.load(ctx, LatestKey)
}

// Get returns the snapshot stored for cycle.
func (s *Store) Get(ctx context.Context, cycle int) (*Snapshot, error) {
	return s.load(ctx, CycleKey(cycle))
}

func (s *Store) load(ctx context.Context, key string) (*Snapshot, error) {
	e, err := s.kv.get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get %s: %w", key, err)
	}

	r, err := roadmap.Decode(e.value)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", key, err)
	}
	return &Snapshot{
		Key:      key,
		Cycle:    r.Metadata.CyclesCompleted,
		Revision: e.revision,
		Stored:   e.created,
		Roadmap:  r,
	}, nil
}

// Cycles returns the cycles that have a snapshot, in ascending order.
func (s *Store) Cycles(ctx context.Context) ([]int, error) {
	keys, err := s.kv.keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list snapshot keys: %w", err)
	}

	var cycles []int
	for _, key := range keys {
		if key == LatestKey {
			continue
		}
		n, err := ParseCycleKey(key)
		if err != nil {
			s.logger.Debug("Skipping foreign key", "key", key)
			continue
		}
		cycles = append(cycles, n)
	}
	sort.Ints(cycles)
	return cycles, nil
}

// Close drains the NATS connection opened by Open.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Drain()
}

// Saver persists a roadmap.
type Saver interface {
	Save(r *roadmap.Roadmap) error
}

// Mirror saves through the primary saver and then records a snapshot. A
// failed snapshot is logged and does not fail the save.
type Mirror struct {
	primary   Saver
	snapshots *Store
	timeout   time.Duration
	logger    *slog.Logger
}

// NewMirror wraps primary so every successful save is also stored in s.
func NewMirror(primary Saver, s *Store, logger *slog.Logger) *Mirror {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirror{primary: primary, snapshots: s, timeout: 5 * time.Second, logger: logger}
}

// Save implements Saver.
func (m *Mirror) Save(r *roadmap.Roadmap) error {
	if err := m.primary.Save(r); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	if _, err := m.snapshots.Put(ctx, r); err != nil {
		m.logger.Warn("Roadmap snapshot failed", "cycle", r.Metadata.CyclesCompleted, "error", err)
	}
	return nil
}
