package topnkv

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/stratadb/topnwindow/internal/topncodec"
)

// BoltStore is the durable Store backend: one bbolt database file, with
// one top-level bucket per column family. It plays the role Erigon's
// MDBX-backed RoDB/RwDB pair plays for chain data, minus the CGO
// dependency: bbolt is a pure-Go embedded B+tree, which is why it replaces
// MDBX here rather than shelling out to it.
type BoltStore struct {
	db      *bolt.DB
	logger  *zap.Logger
	metrics *Metrics
}

// tombstoneByte/liveByte prefix a stored value to distinguish a recorded
// deletion from a zero-length live value.
const (
	liveByte      byte = 'V'
	tombstoneByte byte = 'D'
)

// OpenBoltStore opens (creating if absent) a bbolt database at path and
// eagerly creates every column family's bucket, matching the teacher's
// practice of pre-declaring every table before first use.
func OpenBoltStore(path string, logger *zap.Logger) (*BoltStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: opening bolt db at %s: %v", ErrIO, path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, cf := range ColumnFamilies {
			if _, err := tx.CreateBucketIfNotExists([]byte(cf)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: declaring column families: %v", ErrIO, err)
	}
	logger.Info("opened bolt store", zap.String("path", path), zap.Strings("column_families", ColumnFamilies))
	return &BoltStore{db: db, logger: logger}, nil
}

// WithMetrics attaches m so subsequent operations report to it. Passing a
// nil m detaches metrics reporting again.
func (s *BoltStore) WithMetrics(m *Metrics) *BoltStore {
	s.metrics = m
	return s
}

func encodeStoredValue(value []byte, deleted bool) []byte {
	if deleted {
		return []byte{tombstoneByte}
	}
	out := make([]byte, 0, 1+len(value))
	out = append(out, liveByte)
	return append(out, value...)
}

func decodeStoredValue(raw []byte) (value []byte, deleted bool, err error) {
	if len(raw) == 0 {
		return nil, false, fmt.Errorf("%w: empty stored value", ErrDecode)
	}
	switch raw[0] {
	case tombstoneByte:
		return nil, true, nil
	case liveByte:
		return raw[1:], false, nil
	default:
		return nil, false, fmt.Errorf("%w: unrecognized value tag %q", ErrDecode, raw[0])
	}
}

func (s *BoltStore) Put(ctx context.Context, key []byte, epoch uint64, value []byte) error {
	return s.PutCF(ctx, Meta, key, epoch, value)
}

func (s *BoltStore) PutCF(ctx context.Context, cf string, key []byte, epoch uint64, value []byte) error {
	return s.PutBatchCF(ctx, cf, epoch, []KeyValue{{Key: key, Value: value}})
}

func (s *BoltStore) PutBatchCF(ctx context.Context, cf string, epoch uint64, kvs []KeyValue) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(cf))
		if b == nil {
			return fmt.Errorf("%w: unknown column family %q", ErrInternal, cf)
		}
		for _, kv := range kvs {
			encKey, err := topncodec.EncodeKey(kv.Key, epoch)
			if err != nil {
				return err
			}
			if err := b.Put(encKey, encodeStoredValue(kv.Value, false)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	s.metrics.observePut(cf, len(kvs))
	return nil
}

func (s *BoltStore) Get(ctx context.Context, key []byte, epoch uint64) ([]byte, error) {
	return s.GetCF(ctx, Meta, key, epoch)
}

// GetCF returns the value stored exactly at (key, epoch); it is not an
// as-of lookup. Because the encoded key embeds the epoch, an exact match
// is a single bucket lookup with no cursor involved. Use GetAsOfCF for the
// newest-at-or-before-epoch read.
func (s *BoltStore) GetCF(ctx context.Context, cf string, key []byte, epoch uint64) ([]byte, error) {
	var result []byte
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(cf))
		if b == nil {
			return fmt.Errorf("%w: unknown column family %q", ErrInternal, cf)
		}
		encKey, err := topncodec.EncodeKey(key, epoch)
		if err != nil {
			return err
		}
		raw := b.Get(encKey)
		if raw == nil {
			return nil
		}
		value, deleted, err := decodeStoredValue(raw)
		if err != nil {
			return err
		}
		if deleted {
			return nil
		}
		result = append([]byte(nil), value...)
		found = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.observeGet(cf, found)
	if !found {
		return nil, fmt.Errorf("%w: cf=%s key=%x epoch=%d", ErrNotFound, cf, key, epoch)
	}
	return result, nil
}

// GetAsOfCF implements the at-or-before-epoch read in the style of
// HistoryReaderV3.GetAsOf: seek to the encoded key for the requested
// epoch, then confirm the cursor landed within the same logical key's
// version family before trusting the result.
func (s *BoltStore) GetAsOfCF(ctx context.Context, cf string, key []byte, epoch uint64) ([]byte, bool, error) {
	var result []byte
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(cf))
		if b == nil {
			return fmt.Errorf("%w: unknown column family %q", ErrInternal, cf)
		}
		seekKey, err := topncodec.EncodeKey(key, epoch)
		if err != nil {
			return err
		}
		c := b.Cursor()
		k, v := c.Seek(seekKey)
		if k == nil {
			return nil
		}
		logicalKey, _, err := topncodec.DecodeKey(k)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrDecode, err)
		}
		if !bytes.Equal(logicalKey, key) {
			return nil
		}
		value, deleted, err := decodeStoredValue(v)
		if err != nil {
			return err
		}
		if deleted {
			return nil
		}
		result = append([]byte(nil), value...)
		found = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	s.metrics.observeGet(cf, found)
	return result, found, nil
}

func (s *BoltStore) Delete(ctx context.Context, key []byte, epoch uint64) error {
	return s.DeleteCF(ctx, Meta, key, epoch)
}

func (s *BoltStore) DeleteCF(ctx context.Context, cf string, key []byte, epoch uint64) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(cf))
		if b == nil {
			return fmt.Errorf("%w: unknown column family %q", ErrInternal, cf)
		}
		encKey, err := topncodec.EncodeKey(key, epoch)
		if err != nil {
			return err
		}
		return b.Put(encKey, encodeStoredValue(nil, true))
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	s.metrics.observeDelete(cf)
	return nil
}

func (s *BoltStore) DeleteAllCF(ctx context.Context, cf string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket([]byte(cf)); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		_, err := tx.CreateBucket([]byte(cf))
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	return nil
}

// ListCF performs the key-hop scan: visit each distinct logical key once,
// emitting its newest value at or before epoch, then reposition the cursor
// past every version of that key via NextLogicalKeyPrefix rather than
// stepping through them one at a time. The length prefix makes the scan
// visit shorter logical keys first, so the results are sorted into
// ascending logical-key order before limit is applied.
func (s *BoltStore) ListCF(ctx context.Context, cf string, epoch uint64, limit int) ([]KeyValue, error) {
	var out []KeyValue
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(cf))
		if b == nil {
			return fmt.Errorf("%w: unknown column family %q", ErrInternal, cf)
		}
		c := b.Cursor()
		k, _ := c.First()
		hops := 0
		defer func() { s.metrics.observeListHops(cf, hops) }()
		for k != nil {
			hops++
			logicalKey, _, err := topncodec.DecodeKey(k)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrDecode, err)
			}
			seekKey, err := topncodec.EncodeKey(logicalKey, epoch)
			if err != nil {
				return err
			}
			sk, sv := c.Seek(seekKey)
			if sk != nil {
				skLogical, _, err := topncodec.DecodeKey(sk)
				if err != nil {
					return fmt.Errorf("%w: %v", ErrDecode, err)
				}
				if bytes.Equal(skLogical, logicalKey) {
					value, deleted, err := decodeStoredValue(sv)
					if err != nil {
						return err
					}
					if !deleted {
						out = append(out, KeyValue{Key: append([]byte(nil), logicalKey...), Value: value})
					}
				}
			}
			nextPrefix, err := topncodec.NextLogicalKeyPrefix(logicalKey)
			if err != nil {
				return err
			}
			k, _ = c.Seek(nextPrefix)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].Key, out[j].Key) < 0 })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *BoltStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	return nil
}
