package topnengine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/stratadb/topnwindow/internal/topnstream"
)

// state is the driver's position in its Init -> Active(epoch) state
// machine, mirroring the original's ExecutorState.
type state int

const (
	stateInit state = iota
	stateActive
)

// Source is anything the driver can pull the next upstream message from:
// the operator's input side.
type Source interface {
	Next(ctx context.Context) (topnstream.Message, error)
}

// Driver is the pull-based operator loop around an Engine, corresponding
// to top_n_executor_next: it owns the Init -> Active(epoch) state
// transition, rejects a Chunk arriving before the first Barrier, and
// advances the epoch on every subsequent Barrier after flushing.
//
// A Driver must not be called concurrently: the cooperative-scheduling
// model gives each operator instance exactly one goroutine, and Next
// suspends only at its own message read, at cache flush, and at cache
// fill-in, never in between.
type Driver struct {
	engine *Engine
	input  Source
	logger *zap.Logger

	state state
	epoch uint64
}

// NewDriver returns a Driver pulling from input and applying chunks to
// engine.
func NewDriver(engine *Engine, input Source, logger *zap.Logger) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{engine: engine, input: input, logger: logger}
}

// Next pulls and processes exactly one upstream message, returning the
// message to forward downstream. A Chunk message is replaced by the diff
// chunk ApplyChunk produces (possibly zero rows, never a sentinel); a
// Barrier message passes through unchanged after FlushData runs and the
// epoch advances.
func (d *Driver) Next(ctx context.Context) (topnstream.Message, error) {
	msg, err := d.input.Next(ctx)
	if err != nil {
		return topnstream.Message{}, err
	}

	switch d.state {
	case stateInit:
		if !msg.IsBarrier() {
			return topnstream.Message{}, fmt.Errorf("%w: first message into operator must be a barrier, got a chunk", ErrInternal)
		}
		d.epoch = uint64(msg.Barrier.Epoch)
		d.state = stateActive
		d.logger.Info("driver initialized", zap.String("identity", d.engine.Identity()), zap.Uint64("epoch", d.epoch))
		return msg, nil

	case stateActive:
		if msg.IsBarrier() {
			if err := d.engine.FlushData(ctx, d.epoch); err != nil {
				return topnstream.Message{}, fmt.Errorf("flushing at epoch %d: %w", d.epoch, err)
			}
			next := uint64(msg.Barrier.Epoch)
			if next < d.epoch {
				return topnstream.Message{}, fmt.Errorf("%w: barrier epoch %d regressed past %d", ErrInternal, next, d.epoch)
			}
			d.epoch = next
			return msg, nil
		}

		out, err := d.engine.ApplyChunk(ctx, d.epoch, *msg.Chunk)
		if err != nil {
			return topnstream.Message{}, fmt.Errorf("applying chunk at epoch %d: %w", d.epoch, err)
		}
		return topnstream.ChunkMessage(out), nil

	default:
		return topnstream.Message{}, fmt.Errorf("%w: driver in unknown state %d", ErrInternal, d.state)
	}
}

// Epoch returns the driver's current epoch. Only meaningful once the
// driver has left stateInit.
func (d *Driver) Epoch() uint64 { return d.epoch }
