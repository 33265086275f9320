package topnkv

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// version is one stored (or tombstoned) value for a key at a specific
// epoch.
type version struct {
	epoch   uint64
	deleted bool
	value   []byte
}

// keyVersions holds every version ever written for one key, kept sorted
// ascending by epoch so GetAsOf-style reads can binary-search for the
// newest version at or before a target epoch.
type keyVersions struct {
	versions []version
}

func (kv *keyVersions) put(v version) {
	i := sort.Search(len(kv.versions), func(i int) bool { return kv.versions[i].epoch >= v.epoch })
	if i < len(kv.versions) && kv.versions[i].epoch == v.epoch {
		kv.versions[i] = v
		return
	}
	kv.versions = append(kv.versions, version{})
	copy(kv.versions[i+1:], kv.versions[i:])
	kv.versions[i] = v
}

// asOf returns the newest version at or before epoch, or false if none
// exists or the newest such version is a tombstone.
func (kv *keyVersions) asOf(epoch uint64) ([]byte, bool) {
	i := sort.Search(len(kv.versions), func(i int) bool { return kv.versions[i].epoch > epoch })
	if i == 0 {
		return nil, false
	}
	v := kv.versions[i-1]
	if v.deleted {
		return nil, false
	}
	return v.value, true
}

// exact returns the version written at precisely epoch, or false if no
// version was ever written at that epoch or it was a tombstone.
func (kv *keyVersions) exact(epoch uint64) ([]byte, bool) {
	i := sort.Search(len(kv.versions), func(i int) bool { return kv.versions[i].epoch >= epoch })
	if i >= len(kv.versions) || kv.versions[i].epoch != epoch {
		return nil, false
	}
	v := kv.versions[i]
	if v.deleted {
		return nil, false
	}
	return v.value, true
}

// MemStore is a pure in-memory Store backend, modeled on the metadata
// store's MemStore: a mutex-guarded nested map rather than any external
// dependency. Suitable for tests and for column families that never need
// to survive a process restart.
type MemStore struct {
	mu   sync.Mutex
	data map[string]map[string]*keyVersions // cf -> logical key -> versions
}

// NewMemStore returns an empty MemStore with cf pre-declared for every
// family in ColumnFamilies, matching the durable backend's eager bucket
// creation at Open.
func NewMemStore() *MemStore {
	s := &MemStore{data: make(map[string]map[string]*keyVersions)}
	for _, cf := range ColumnFamilies {
		s.data[cf] = make(map[string]*keyVersions)
	}
	return s
}

func (s *MemStore) cf(name string) map[string]*keyVersions {
	m, ok := s.data[name]
	if !ok {
		m = make(map[string]*keyVersions)
		s.data[name] = m
	}
	return m
}

func (s *MemStore) Put(ctx context.Context, key []byte, epoch uint64, value []byte) error {
	return s.PutCF(ctx, Meta, key, epoch, value)
}

func (s *MemStore) PutCF(ctx context.Context, cf string, key []byte, epoch uint64, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.cf(cf)
	kv, ok := m[string(key)]
	if !ok {
		kv = &keyVersions{}
		m[string(key)] = kv
	}
	kv.put(version{epoch: epoch, value: append([]byte(nil), value...)})
	return nil
}

func (s *MemStore) PutBatchCF(ctx context.Context, cf string, epoch uint64, kvs []KeyValue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.cf(cf)
	for _, e := range kvs {
		kv, ok := m[string(e.Key)]
		if !ok {
			kv = &keyVersions{}
			m[string(e.Key)] = kv
		}
		kv.put(version{epoch: epoch, value: append([]byte(nil), e.Value...)})
	}
	return nil
}

func (s *MemStore) Get(ctx context.Context, key []byte, epoch uint64) ([]byte, error) {
	return s.GetCF(ctx, Meta, key, epoch)
}

// GetCF returns the value stored exactly at (key, epoch); it is not an
// as-of lookup. Use GetAsOfCF for the newest-at-or-before-epoch read.
func (s *MemStore) GetCF(ctx context.Context, cf string, key []byte, epoch uint64) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.cf(cf)
	kv, ok := m[string(key)]
	if !ok {
		return nil, fmt.Errorf("%w: cf=%s key=%x", ErrNotFound, cf, key)
	}
	v, ok := kv.exact(epoch)
	if !ok {
		return nil, fmt.Errorf("%w: cf=%s key=%x epoch=%d", ErrNotFound, cf, key, epoch)
	}
	return v, nil
}

func (s *MemStore) GetAsOfCF(ctx context.Context, cf string, key []byte, epoch uint64) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.cf(cf)
	kv, ok := m[string(key)]
	if !ok {
		return nil, false, nil
	}
	v, ok := kv.asOf(epoch)
	if !ok {
		return nil, false, nil
	}
	return v, true, nil
}

func (s *MemStore) Delete(ctx context.Context, key []byte, epoch uint64) error {
	return s.DeleteCF(ctx, Meta, key, epoch)
}

func (s *MemStore) DeleteCF(ctx context.Context, cf string, key []byte, epoch uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.cf(cf)
	kv, ok := m[string(key)]
	if !ok {
		kv = &keyVersions{}
		m[string(key)] = kv
	}
	kv.put(version{epoch: epoch, deleted: true})
	return nil
}

func (s *MemStore) DeleteAllCF(ctx context.Context, cf string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[cf] = make(map[string]*keyVersions)
	return nil
}

func (s *MemStore) ListCF(ctx context.Context, cf string, epoch uint64, limit int) ([]KeyValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.cf(cf)
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]KeyValue, 0, len(keys))
	for _, k := range keys {
		if limit > 0 && len(out) >= limit {
			break
		}
		v, ok := m[k].asOf(epoch)
		if !ok {
			continue
		}
		out = append(out, KeyValue{Key: []byte(k), Value: v})
	}
	return out, nil
}

func (s *MemStore) Close() error { return nil }
