// Package topnengine implements the two-tier append-only Top-N engine and
// its pull-based operator driver, ported from AppendOnlyTopNExecutor and
// top_n_executor_next in the stream executor this operator is modeled on.
package topnengine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/stratadb/topnwindow/internal/topncache"
	"github.com/stratadb/topnwindow/internal/topnkv"
	"github.com/stratadb/topnwindow/internal/topnstream"
)

// Config describes one engine instance: its window bounds and the sort
// order its primary key is compared under.
type Config struct {
	// Offset is the number of ranked rows below the emitted window.
	Offset int
	// Limit is the window's size; a nil Limit means "unbounded from
	// Offset to the end of the stream" and disables the higher tier's
	// eviction-on-overflow path.
	Limit *int
	// Dirs gives the sort direction of each primary-key column.
	Dirs []topnstream.OrderDirection
	// EncodeRow turns a Row into the logical key it is stored under in its
	// tier's column family; the stored value is the Row's Payload, and
	// DecodeRow rebuilds a Row from that value during cache fill-in and
	// recovery.
	EncodeRow func(topnstream.Row) ([]byte, error)
	DecodeRow func([]byte) (topnstream.Row, error)
	// CacheSize is the soft cap on rows each tier's managed cache holds in
	// memory at once; <= 0 selects topncache.DefaultCacheCap.
	CacheSize int
}

func (cfg Config) validate() error {
	if cfg.Offset < 0 {
		return fmt.Errorf("%w: negative offset %d", ErrConfig, cfg.Offset)
	}
	if cfg.Limit != nil && *cfg.Limit < 0 {
		return fmt.Errorf("%w: negative limit %d", ErrConfig, *cfg.Limit)
	}
	if cfg.Offset == 0 && cfg.Limit != nil && *cfg.Limit == 0 {
		return fmt.Errorf("%w: offset and limit are both zero", ErrConfig)
	}
	if len(cfg.Dirs) == 0 {
		return fmt.Errorf("%w: empty primary key direction list", ErrConfig)
	}
	if cfg.EncodeRow == nil || cfg.DecodeRow == nil {
		return fmt.Errorf("%w: EncodeRow/DecodeRow must be set", ErrConfig)
	}
	return nil
}

// Engine holds the two tiers (lower: ranks [0,Offset); higher: ranks
// [Offset,Offset+Limit)) and drives the per-chunk algorithm against them.
// It corresponds to AppendOnlyTopNExecutor; the pull loop around it lives
// in Driver.
type Engine struct {
	cfg    Config
	lower  *topncache.Cache
	higher *topncache.Cache
	logger *zap.Logger

	// firstExecution mirrors the original's flag of the same name: while it
	// is set (after construction or ClearCache), the next ApplyChunk fills
	// both tiers in from the store before applying any row, since there is
	// no in-memory view to trust yet; recover clears it.
	firstExecution bool
	instanceID     uint64
}

// New constructs an Engine backed by store, validating cfg the way the
// original's builder validates offset/limit/order-type lengths inline
// before constructing the executor.
func New(store topnkv.Store, cfg Config, instanceID uint64, logger *zap.Logger) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cacheCap := cfg.CacheSize
	if cacheCap <= 0 {
		cacheCap = topncache.DefaultCacheCap
	}
	return &Engine{
		cfg:            cfg,
		lower:          topncache.New(store, topnkv.TierColumnFamily(true), cacheCap, logger),
		higher:         topncache.New(store, topnkv.TierColumnFamily(false), cacheCap, logger),
		logger:         logger,
		firstExecution: true,
		instanceID:     instanceID,
	}, nil
}

// Identity names this engine instance for diagnostics, matching the
// original's "AppendOnlyTopNExecutor {:x}" identity string.
func (e *Engine) Identity() string {
	return fmt.Sprintf("AppendOnlyTopNEngine{%x}", e.instanceID)
}

func (e *Engine) String() string {
	limit := "unbounded"
	if e.cfg.Limit != nil {
		limit = fmt.Sprintf("%d", *e.cfg.Limit)
	}
	return fmt.Sprintf("%s offset=%d limit=%s pk_columns=%d", e.Identity(), e.cfg.Offset, limit, len(e.cfg.Dirs))
}

func (e *Engine) orderedRow(row topnstream.Row) topnstream.OrderedRow {
	return topnstream.NewOrderedRow(row, e.cfg.Dirs)
}

func (e *Engine) rowCodec() topncache.RowCodec {
	return func(value []byte) (topnstream.Row, topnstream.OrderedRow, error) {
		row, err := e.cfg.DecodeRow(value)
		if err != nil {
			return topnstream.Row{}, topnstream.OrderedRow{}, err
		}
		return row, e.orderedRow(row), nil
	}
}

func (e *Engine) keyOf(row topnstream.Row) []byte {
	enc, err := e.cfg.EncodeRow(row)
	if err != nil {
		// EncodeRow is expected to be total over any Row the engine itself
		// produced; a failure here means a corrupt in-memory entry, which
		// is an invariant violation, not a recoverable fault.
		panic(fmt.Errorf("%w: encoding row for store key: %v", ErrInternal, err))
	}
	return enc
}

// recover fills both tiers from the store at epoch, the first-execution
// recovery path: lower up to Offset rows, higher up to Limit rows (or
// unbounded if Limit is nil).
func (e *Engine) recover(ctx context.Context, epoch uint64) error {
	if err := e.lower.FillInCache(ctx, epoch, e.cfg.Offset, e.rowCodec()); err != nil {
		return fmt.Errorf("recovering lower tier: %w", err)
	}
	higherLimit := 0
	if e.cfg.Limit != nil {
		higherLimit = *e.cfg.Limit
	}
	if err := e.higher.FillInCache(ctx, epoch, higherLimit, e.rowCodec()); err != nil {
		return fmt.Errorf("recovering higher tier: %w", err)
	}
	e.firstExecution = false
	e.logger.Info("engine recovered from store",
		zap.String("identity", e.Identity()),
		zap.Uint64("epoch", epoch),
		zap.Int("lower_rows", e.lower.Len()),
		zap.Int("higher_rows", e.higher.Len()))
	return nil
}

func (e *Engine) higherIsFull() bool {
	return e.cfg.Limit != nil && e.higher.TotalCount() >= *e.cfg.Limit
}

// ApplyChunk runs the three-phase algorithm (fill lower, promote, admit
// into higher) over every row of chunk in order, and returns the diff
// chunk to emit downstream. On the first call after construction or a
// ClearCache it first recovers both tiers from the store at epoch.
//
// Phases, matching AppendOnlyTopNExecutor::apply_chunk:
//  1. Fill lower: while the lower tier has fewer than Offset rows, the
//     new row is absorbed into the lower tier and never reaches the
//     output — it ranks below the emitted window.
//  2. Promote: once the lower tier is full (Offset > 0), if the new row
//     sorts before the lower tier's current maximum, that maximum is
//     evicted from the lower tier and admitted to phase 3 as if it were
//     the incoming row, while the new row takes its place in the lower
//     tier. This is what keeps the lower tier holding the Offset
//     smallest-ranked rows seen so far.
//  3. Admit to higher: the candidate row (the original input row, or the
//     lower tier's evicted maximum from phase 2) is compared against the
//     higher tier. If the higher tier is not yet full, the candidate is
//     inserted and an Insert diff emitted. If it is full and the
//     candidate sorts before the higher tier's maximum, that maximum is
//     evicted (Delete diff) and the candidate is inserted (Insert diff).
//     Otherwise the candidate is dropped — it doesn't rank highly enough
//     to enter the window.
//
// Duplicate primary keys are a no-op at whichever tier already holds
// them, by the cache's set semantics.
func (e *Engine) ApplyChunk(ctx context.Context, epoch uint64, chunk topnstream.Chunk) (topnstream.Chunk, error) {
	if e.firstExecution {
		if err := e.recover(ctx, epoch); err != nil {
			return topnstream.Chunk{}, err
		}
	}

	var out topnstream.Chunk
	for _, cr := range chunk.Rows {
		if cr.Op != topnstream.Insert {
			return topnstream.Chunk{}, fmt.Errorf("%w: append-only engine received op %s", ErrInternal, cr.Op)
		}
		e.applyRow(cr.Row, &out)
	}
	e.logger.Debug("applied chunk",
		zap.String("identity", e.Identity()),
		zap.Int("input_rows", len(chunk.Rows)),
		zap.Int("output_rows", len(out.Rows)))
	return out, nil
}

func (e *Engine) applyRow(row topnstream.Row, out *topnstream.Chunk) {
	key := e.orderedRow(row)
	candidate := row
	candidateKey := key

	if e.cfg.Offset > 0 && e.lower.TotalCount() < e.cfg.Offset {
		e.lower.Insert(key, row)
		return
	}

	if e.cfg.Offset > 0 {
		lowerMax, ok := e.lower.TopElement()
		if ok {
			lowerMaxKey := e.orderedRow(lowerMax)
			if key.Less(lowerMaxKey) {
				e.lower.PopTopElement()
				e.lower.Insert(key, row)
				candidate = lowerMax
				candidateKey = lowerMaxKey
			}
		}
	}

	if !e.higherIsFull() {
		e.higher.Insert(candidateKey, candidate)
		out.Rows = append(out.Rows, topnstream.ChunkRow{Op: topnstream.Insert, Row: candidate})
		return
	}

	higherMax, ok := e.higher.TopElement()
	if !ok {
		e.higher.Insert(candidateKey, candidate)
		out.Rows = append(out.Rows, topnstream.ChunkRow{Op: topnstream.Insert, Row: candidate})
		return
	}
	higherMaxKey := e.orderedRow(higherMax)
	if candidateKey.Less(higherMaxKey) {
		e.higher.PopTopElement()
		out.Rows = append(out.Rows, topnstream.ChunkRow{Op: topnstream.Delete, Row: higherMax})
		e.higher.Insert(candidateKey, candidate)
		out.Rows = append(out.Rows, topnstream.ChunkRow{Op: topnstream.Insert, Row: candidate})
	}
	// Otherwise the candidate ranks at or below the current window
	// boundary and is dropped without emitting anything.
}

// FlushData flushes the higher tier before the lower tier, matching
// flush_inner's deliberate ordering: a crash between the two leaves the
// higher (emitted) tier durable even if the lower tier's bookkeeping is
// stale, which is the safer side to be wrong on since the lower tier's
// rows were never visible downstream.
func (e *Engine) FlushData(ctx context.Context, epoch uint64) error {
	if err := e.higher.Flush(ctx, epoch, e.keyOf); err != nil {
		return fmt.Errorf("flushing higher tier: %w", err)
	}
	if err := e.lower.Flush(ctx, epoch, e.keyOf); err != nil {
		return fmt.Errorf("flushing lower tier: %w", err)
	}
	e.logger.Info("flushed engine state", zap.String("identity", e.Identity()), zap.Uint64("epoch", epoch))
	return nil
}

// ClearCache resets both tiers to empty and forces the next ApplyChunk to
// recover from the store again, for operator reconfiguration.
func (e *Engine) ClearCache() {
	e.lower.ClearCache()
	e.higher.ClearCache()
	e.firstExecution = true
}
