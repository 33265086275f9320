// Package topncache implements the managed sorted cache: a bounded,
// in-memory ordered mirror of one tier's column family, built on
// google/btree the same way the domain-committed layer in the pack's
// erigon-lib state package keeps an in-memory BTreeG overlay on top of a
// versioned backing store.
package topncache

import (
	"context"
	"fmt"

	"github.com/google/btree"
	"go.uber.org/zap"

	"github.com/stratadb/topnwindow/internal/topnkv"
	"github.com/stratadb/topnwindow/internal/topnstream"
)

// DefaultCacheCap is the soft cap per managed cache used when a caller
// configures no cache_size.
const DefaultCacheCap = 1024

// entry pairs an OrderedRow key with its full Row value. clean marks that this entry's value is known to already be durable in
// the backing store, which is what makes it safe for trimToCap to evict
// from memory without losing data that was never flushed.
type entry struct {
	key   topnstream.OrderedRow
	row   topnstream.Row
	clean bool
}

func (e entry) Less(other entry) bool { return e.key.Less(other.key) }

// Cache is a managed sorted cache over one column family: an ordered,
// bounded mirror plus bookkeeping (dirty bit, total_count) the engine
// needs to know whether the cache's view of the tier is complete.
type Cache struct {
	store  topnkv.Store
	cf     string
	reader *topnkv.VersionedReader
	logger *zap.Logger

	tree *btree.BTreeG[entry]

	// cacheCap is the soft cap on how many rows this cache keeps
	// materialized in memory at once; totalCount can exceed it for a tier
	// larger than the cap. cacheCap <= 0 disables the cap.
	cacheCap int

	// totalCount counts every logical key in this tier, including ones the
	// cache has not materialized — it is the authority for "is the lower
	// tier full" decisions the engine makes without needing a store round
	// trip.
	totalCount int
	// dirty marks that the in-memory tree has entries not yet reflected in
	// the backing store at the last-flushed epoch.
	dirty bool
	// pendingDeletes holds primary keys popped from the cache (via
	// PopTopElement) that must be tombstoned in the store at the next
	// flush. They stay logically absent from the cache itself the moment
	// they're popped.
	pendingDeletes []topnstream.Row
}

// New returns an empty managed cache over cf with a soft cap of cacheCap
// rows in memory (cacheCap <= 0 means no cap). Entries not yet flushed are
// never evicted, so the number of materialized rows can exceed the cap.
func New(store topnkv.Store, cf string, cacheCap int, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		store:    store,
		cf:       cf,
		reader:   topnkv.NewVersionedReader(store, cf, logger),
		logger:   logger,
		tree:     btree.NewG(32, entry.Less),
		cacheCap: cacheCap,
	}
}

// TotalCount returns the number of logical keys known to exist in this
// tier, materialized in the cache or not.
func (c *Cache) TotalCount() int { return c.totalCount }

// Len returns the number of rows currently materialized in memory.
func (c *Cache) Len() int { return c.tree.Len() }

// Dirty reports whether the cache has changes not yet flushed.
func (c *Cache) Dirty() bool { return c.dirty }

// RowCodec lets the cache store and recover Row values without knowing the
// engine's schema: DecodeRow rebuilds a Row and its OrderedRow projection
// from a store value. The store value is the Row's Payload, as written by
// Flush; the keyOf function passed to Flush supplies only the store key.
type RowCodec func(value []byte) (topnstream.Row, topnstream.OrderedRow, error)

// FillInCache loads up to limit rows from the backing store at epoch,
// establishing totalCount from the full result (the tier's true logical
// size up to limit) while materializing at most cacheCap of them in
// memory — the newest-ranked (closest to this tier's top boundary), since
// those are the ones TopElement/PopTopElement need first. It is the
// recovery-time and initial-fill path described for the engine's first
// execution.
func (c *Cache) FillInCache(ctx context.Context, epoch uint64, limit int, decode RowCodec) error {
	c.reader.SetEpoch(epoch)
	kvs, err := c.reader.List(ctx, limit)
	if err != nil {
		return fmt.Errorf("filling in cache for cf=%s: %w", c.cf, err)
	}
	materialize := kvs
	if c.cacheCap > 0 && len(kvs) > c.cacheCap {
		materialize = kvs[len(kvs)-c.cacheCap:]
	}
	for _, kv := range materialize {
		row, orderedRow, err := decode(kv.Value)
		if err != nil {
			return fmt.Errorf("decoding cached row cf=%s: %w", c.cf, err)
		}
		c.tree.ReplaceOrInsert(entry{key: orderedRow, row: row, clean: true})
	}
	c.totalCount = len(kvs)
	c.dirty = false
	c.logger.Debug("filled in cache",
		zap.String("cf", c.cf), zap.Int("total", c.totalCount), zap.Int("materialized", c.tree.Len()))
	return nil
}

// Insert adds row into the cache under key, marking the cache dirty. If an
// entry with the same key already exists it is replaced (set semantics: a
// duplicate key is a no-op that still counts as "present"). If the cache
// is over its soft cap afterward, trimToCap evicts already-durable entries
// from memory to make room.
func (c *Cache) Insert(key topnstream.OrderedRow, row topnstream.Row) {
	_, existed := c.tree.ReplaceOrInsert(entry{key: key, row: row})
	if !existed {
		c.totalCount++
	}
	c.dirty = true
	c.trimToCap()
}

// trimToCap evicts clean (already-durable) entries from memory, smallest
// key first, until the cache is at or under its soft cap or no further
// clean entry remains to evict. It never touches totalCount or
// pendingDeletes: eviction here only affects what's materialized in
// memory, not the tier's logical membership.
func (c *Cache) trimToCap() {
	if c.cacheCap <= 0 {
		return
	}
	for c.tree.Len() > c.cacheCap {
		var victim entry
		found := false
		c.tree.Ascend(func(e entry) bool {
			if e.clean {
				victim = e
				found = true
				return false
			}
			return true
		})
		if !found {
			return
		}
		c.tree.Delete(victim)
	}
}

// Remove deletes the entry for key from the in-memory tree without
// scheduling a store tombstone; used when an entry is known never to have
// been flushed.
func (c *Cache) Remove(key topnstream.OrderedRow) (topnstream.Row, bool) {
	e, ok := c.tree.Delete(entry{key: key})
	if ok {
		c.totalCount--
		c.dirty = true
	}
	return e.row, ok
}

// TopElement returns the maximum entry in the cache without removing it.
func (c *Cache) TopElement() (topnstream.Row, bool) {
	e, ok := c.tree.Max()
	return e.row, ok
}

// PopTopElement removes and returns the maximum entry, scheduling a
// tombstone for it in the backing store at the next flush.
func (c *Cache) PopTopElement() (topnstream.Row, bool) {
	e, ok := c.tree.DeleteMax()
	if !ok {
		return topnstream.Row{}, false
	}
	c.totalCount--
	c.dirty = true
	c.pendingDeletes = append(c.pendingDeletes, e.row)
	return e.row, true
}

// Ascend visits every cached entry in ascending key order, stopping early
// if visit returns false.
func (c *Cache) Ascend(visit func(topnstream.Row) bool) {
	c.tree.Ascend(func(e entry) bool { return visit(e.row) })
}

// Flush writes every dirty in-memory entry and every pending delete to the
// backing store at epoch, then clears the dirty bit, marks every
// remaining entry clean and calls trimToCap to bring the cache back to its
// soft cap. Flush is idempotent: calling it again for the same epoch with
// no intervening mutation returns without touching the store.
func (c *Cache) Flush(ctx context.Context, epoch uint64, keyOf func(topnstream.Row) []byte) error {
	if !c.dirty && len(c.pendingDeletes) == 0 {
		return nil
	}
	var puts []topnkv.KeyValue
	var keys []entry
	c.tree.Ascend(func(e entry) bool {
		puts = append(puts, topnkv.KeyValue{Key: keyOf(e.row), Value: e.row.Payload})
		keys = append(keys, e)
		return true
	})
	if len(puts) > 0 {
		if err := c.store.PutBatchCF(ctx, c.cf, epoch, puts); err != nil {
			return fmt.Errorf("flushing cf=%s: %w", c.cf, err)
		}
	}
	for _, row := range c.pendingDeletes {
		if err := c.store.DeleteCF(ctx, c.cf, keyOf(row), epoch); err != nil {
			return fmt.Errorf("flushing tombstone cf=%s: %w", c.cf, err)
		}
	}
	for _, e := range keys {
		e.clean = true
		c.tree.ReplaceOrInsert(e)
	}
	c.pendingDeletes = nil
	c.dirty = false
	c.trimToCap()
	c.logger.Debug("flushed cache", zap.String("cf", c.cf), zap.Uint64("epoch", epoch), zap.Int("puts", len(puts)))
	return nil
}

// ClearCache empties the in-memory tree and resets bookkeeping without
// touching the backing store, for full operator reset/reconfiguration.
func (c *Cache) ClearCache() {
	c.tree.Clear(false)
	c.totalCount = 0
	c.dirty = false
	c.pendingDeletes = nil
}
