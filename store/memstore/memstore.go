// Package memstore is an in-process Record Store built on the cache package.
// Records live as JSON payloads under "<table>::<id>" keys, so reads return the
// same normalized shapes a SQL-backed store would.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/gabrielgits/crudrepo/cache"
	"github.com/gabrielgits/crudrepo/record"
	"github.com/gabrielgits/crudrepo/store"
	"github.com/puzpuzpuz/xsync/v3"
)

var _ store.Store = (*Store)(nil)

// Store keeps records in a cache.CacheService.
type Store struct {
	cache cache.CacheService
	keys  cache.KeySerializer
	seq   *xsync.MapOf[string, *atomic.Int64]

	// writeMu serializes every mutation, so a delete cannot land between the
	// load and put of a merge.
	writeMu sync.Mutex
	closed  atomic.Bool
}

// New builds a store over an existing cache service.
func New(svc cache.CacheService, keys cache.KeySerializer) *Store {
	if keys == nil {
		keys = cache.NewDefaultKeySerializer()
	}
	return &Store{
		cache: svc,
		keys:  keys,
		seq:   xsync.NewMapOf[string, *atomic.Int64](),
	}
}

// Open builds a store with its own sturdyc-backed cache service.
func Open(cfg cache.Config) (*Store, error) {
	svc, err := cache.NewCacheService(cfg)
	if err != nil {
		return nil, fmt.Errorf("memstore: %w", err)
	}
	return New(svc, cache.NewDefaultKeySerializer()), nil
}

// Save implements store.Store.
func (s *Store) Save(ctx context.Context, table string, fields record.Fields) (record.Fields, error) {
	if err := s.check(); err != nil {
		return nil, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.put(ctx, table, fields)
}

// Insert implements store.Store.
func (s *Store) Insert(ctx context.Context, table string, fields record.Fields) (record.Fields, error) {
	if err := s.check(); err != nil {
		return nil, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if id, ok := fields.ID(); ok && id != 0 {
		if _, found := s.cache.Get(ctx, s.keys.SerializeKey(table, id)); found {
			return nil, store.ErrExists
		}
	}
	return s.put(ctx, table, fields)
}

// SaveAll implements store.Store.
func (s *Store) SaveAll(ctx context.Context, table string, items []record.Fields) (int, error) {
	if err := s.check(); err != nil {
		return 0, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	for i, item := range items {
		if _, err := s.put(ctx, table, item); err != nil {
			return i, err
		}
	}
	return len(items), nil
}

// GetAll implements store.Store.
func (s *Store) GetAll(ctx context.Context, table string) ([]record.Fields, error) {
	if err := s.check(); err != nil {
		return nil, err
	}

	ids := s.ids(ctx, table)
	out := make([]record.Fields, 0, len(ids))
	for _, id := range ids {
		fields, err := s.load(ctx, table, id)
		if err == store.ErrNotFound {
			// evicted between the scan and the read
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, fields)
	}
	return out, nil
}

// Get implements store.Store.
func (s *Store) Get(ctx context.Context, table string, id int64) (record.Fields, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return s.load(ctx, table, id)
}

// Update implements store.Store.
func (s *Store) Update(ctx context.Context, table string, fields record.Fields) (record.Fields, error) {
	if err := s.check(); err != nil {
		return nil, err
	}

	id, ok := fields.ID()
	if !ok {
		return nil, fmt.Errorf("memstore: update %s: missing %q field", table, record.IDField)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	current, err := s.load(ctx, table, id)
	if err != nil {
		return nil, err
	}
	return s.put(ctx, table, current.Merge(fields).WithID(id))
}

// Delete implements store.Store.
func (s *Store) Delete(ctx context.Context, table string, id int64) (int64, error) {
	if err := s.check(); err != nil {
		return 0, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	key := s.keys.SerializeKey(table, id)
	if _, ok := s.cache.Get(ctx, key); !ok {
		return 0, store.ErrNotFound
	}
	if err := s.cache.Delete(ctx, key); err != nil {
		return 0, fmt.Errorf("memstore: delete %s: %w", key, err)
	}
	return id, nil
}

// DeleteAll implements store.Store.
func (s *Store) DeleteAll(ctx context.Context, table string) (int64, error) {
	if err := s.check(); err != nil {
		return 0, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	n, err := s.cache.DeleteByPrefix(ctx, s.keys.TablePrefix(table))
	if err != nil {
		return 0, fmt.Errorf("memstore: delete all %s: %w", table, err)
	}
	return int64(n), nil
}

// Find implements store.Store.
func (s *Store) Find(ctx context.Context, table string, filters record.Filters) ([]record.Fields, error) {
	return s.Search(ctx, table, filters.Match)
}

// Search implements store.Store.
func (s *Store) Search(ctx context.Context, table string, pred store.Predicate) ([]record.Fields, error) {
	all, err := s.GetAll(ctx, table)
	if err != nil {
		return nil, err
	}
	return store.Filter(all, pred), nil
}

// Close marks the store closed. The cache itself is left to the garbage collector.
func (s *Store) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *Store) check() error {
	if s.closed.Load() {
		return store.ErrClosed
	}
	return nil
}

// put writes a record; callers hold writeMu.
func (s *Store) put(ctx context.Context, table string, fields record.Fields) (record.Fields, error) {
	counter, _ := s.seq.LoadOrStore(table, new(atomic.Int64))

	id, ok := fields.ID()
	if !ok || id == 0 {
		id = counter.Add(1)
	} else {
		for {
			cur := counter.Load()
			if id <= cur || counter.CompareAndSwap(cur, id) {
				break
			}
		}
	}

	payload, err := json.Marshal(fields.WithID(id))
	if err != nil {
		return nil, fmt.Errorf("memstore: encode %s/%d: %w", table, id, err)
	}
	if err := s.cache.Set(ctx, s.keys.SerializeKey(table, id), payload); err != nil {
		return nil, fmt.Errorf("memstore: save %s/%d: %w", table, id, err)
	}
	return decode(payload)
}

func (s *Store) load(ctx context.Context, table string, id int64) (record.Fields, error) {
	value, ok := s.cache.Get(ctx, s.keys.SerializeKey(table, id))
	if !ok {
		return nil, store.ErrNotFound
	}
	payload, ok := value.([]byte)
	if !ok {
		return nil, fmt.Errorf("memstore: unexpected payload type %T for %s/%d", value, table, id)
	}
	return decode(payload)
}

func (s *Store) ids(ctx context.Context, table string) []int64 {
	keys := s.cache.Keys(ctx, s.keys.TablePrefix(table))
	ids := make([]int64, 0, len(keys))
	for _, key := range keys {
		t, id, ok := s.keys.ParseKey(key)
		if !ok || t != table {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func decode(payload []byte) (record.Fields, error) {
	var fields record.Fields
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, fmt.Errorf("memstore: decode payload: %w", err)
	}
	return fields, nil
}
