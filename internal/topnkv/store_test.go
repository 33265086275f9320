package topnkv

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// newBackends mirrors the original metadata store's test_metadata_store,
// which exercises MemStore and RocksdbStore through the same assertions:
// here MemStore and BoltStore stand in for them.
func newBackends(t *testing.T) map[string]Store {
	t.Helper()
	bolt, err := OpenBoltStore(filepath.Join(t.TempDir(), "store.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = bolt.Close() })
	return map[string]Store{
		"mem":  NewMemStore(),
		"bolt": bolt,
	}
}

func TestStorePutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, s := range newBackends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.PutCF(ctx, Higher, []byte("k1"), 5, []byte("v5")))
			v, err := s.GetCF(ctx, Higher, []byte("k1"), 5)
			require.NoError(t, err)
			require.Equal(t, []byte("v5"), v)
		})
	}
}

// Get/GetCF is an exact (key, epoch) lookup, not an as-of one: a read at an
// epoch with no version written there must miss even when an earlier
// version exists.
func TestStoreGetCFRequiresExactEpochMatch(t *testing.T) {
	ctx := context.Background()
	for name, s := range newBackends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.PutCF(ctx, Higher, []byte("k1"), 1, []byte("v1")))
			require.NoError(t, s.PutCF(ctx, Higher, []byte("k1"), 5, []byte("v5")))
			require.NoError(t, s.PutCF(ctx, Higher, []byte("k1"), 9, []byte("v9")))

			v, err := s.GetCF(ctx, Higher, []byte("k1"), 5)
			require.NoError(t, err)
			require.Equal(t, []byte("v5"), v)

			_, err = s.GetCF(ctx, Higher, []byte("k1"), 7)
			require.ErrorIs(t, err, ErrNotFound)

			_, err = s.GetCF(ctx, Higher, []byte("k1"), 0)
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

// P: GetAsOfCF is the temporal-domain read — newest version at or before
// epoch — kept distinct from the exact-match GetCF contract above.
func TestStoreGetAsOfCFReturnsNewestNotExceedingEpoch(t *testing.T) {
	ctx := context.Background()
	for name, s := range newBackends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.PutCF(ctx, Higher, []byte("k1"), 1, []byte("v1")))
			require.NoError(t, s.PutCF(ctx, Higher, []byte("k1"), 5, []byte("v5")))
			require.NoError(t, s.PutCF(ctx, Higher, []byte("k1"), 9, []byte("v9")))

			v, ok, err := s.GetAsOfCF(ctx, Higher, []byte("k1"), 7)
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, []byte("v5"), v)

			_, ok, err = s.GetAsOfCF(ctx, Higher, []byte("k1"), 0)
			require.NoError(t, err)
			require.False(t, ok)

			v, ok, err = s.GetAsOfCF(ctx, Higher, []byte("k1"), 100)
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, []byte("v9"), v)
		})
	}
}

func TestStoreDeleteIsVisibleAtOrAfterEpoch(t *testing.T) {
	ctx := context.Background()
	for name, s := range newBackends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.PutCF(ctx, Higher, []byte("k1"), 1, []byte("v1")))
			require.NoError(t, s.DeleteCF(ctx, Higher, []byte("k1"), 5))

			v, err := s.GetCF(ctx, Higher, []byte("k1"), 1)
			require.NoError(t, err)
			require.Equal(t, []byte("v1"), v)

			_, err = s.GetCF(ctx, Higher, []byte("k1"), 5)
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

// P3: ListCF visits each distinct logical key exactly once, at its newest
// value at or before epoch.
func TestListCFKeyHopUniqueness(t *testing.T) {
	ctx := context.Background()
	for name, s := range newBackends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.PutCF(ctx, Higher, []byte("a"), 1, []byte("a1")))
			require.NoError(t, s.PutCF(ctx, Higher, []byte("a"), 3, []byte("a3")))
			require.NoError(t, s.PutCF(ctx, Higher, []byte("b"), 2, []byte("b2")))
			require.NoError(t, s.PutCF(ctx, Higher, []byte("c"), 10, []byte("c10")))

			kvs, err := s.ListCF(ctx, Higher, 5, 0)
			require.NoError(t, err)
			byKey := map[string]string{}
			for _, kv := range kvs {
				byKey[string(kv.Key)] = string(kv.Value)
			}
			require.Equal(t, map[string]string{"a": "a3", "b": "b2"}, byKey)
		})
	}
}

func TestDeleteAllCFClearsFamily(t *testing.T) {
	ctx := context.Background()
	for name, s := range newBackends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.PutCF(ctx, Higher, []byte("a"), 1, []byte("a1")))
			require.NoError(t, s.DeleteAllCF(ctx, Higher))
			_, err := s.GetCF(ctx, Higher, []byte("a"), 1)
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestPutBatchCFIsAllOrNothingVisible(t *testing.T) {
	ctx := context.Background()
	for name, s := range newBackends(t) {
		t.Run(name, func(t *testing.T) {
			err := s.PutBatchCF(ctx, Higher, 1, []KeyValue{
				{Key: []byte("a"), Value: []byte("av")},
				{Key: []byte("b"), Value: []byte("bv")},
			})
			require.NoError(t, err)
			va, err := s.GetCF(ctx, Higher, []byte("a"), 1)
			require.NoError(t, err)
			require.Equal(t, []byte("av"), va)
			vb, err := s.GetCF(ctx, Higher, []byte("b"), 1)
			require.NoError(t, err)
			require.Equal(t, []byte("bv"), vb)
		})
	}
}
