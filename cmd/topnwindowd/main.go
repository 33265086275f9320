// Command topnwindowd runs one or more Top-N window operators against a
// shared versioned KV store, driven by a synthetic input generator. It
// exists to exercise the operator end-to-end outside of tests, the way a
// small soak harness would.
package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/rand"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/stratadb/topnwindow/internal/config"
	"github.com/stratadb/topnwindow/internal/logging"
	"github.com/stratadb/topnwindow/internal/topnengine"
	"github.com/stratadb/topnwindow/internal/topnkv"
	"github.com/stratadb/topnwindow/internal/topnstream"
	"github.com/stratadb/topnwindow/internal/topnutil"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	var rows int
	var seed int64

	cmd := &cobra.Command{
		Use:   "topnwindowd",
		Short: "Run Top-N window operators against a versioned KV store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath, rows, seed)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the YAML config file (required)")
	cmd.Flags().IntVar(&rows, "rows", 1000, "number of synthetic rows to feed each operator")
	cmd.Flags().Int64Var(&seed, "seed", 1, "random seed for the synthetic input generator")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

func run(ctx context.Context, configPath string, rows int, seed int64) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	store, err := openStore(cfg.Store, logger)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	metrics := topnkv.NewMetrics(prometheus.DefaultRegisterer)
	if bs, ok := store.(*topnkv.BoltStore); ok {
		bs.WithMetrics(metrics)
	}

	group, gctx := errgroup.WithContext(ctx)
	for i, opCfg := range cfg.Operators {
		i, opCfg := i, opCfg
		group.Go(func() error {
			return runOperator(gctx, store, uint64(i+1), opCfg, rows, seed+int64(i), logger)
		})
	}
	return group.Wait()
}

func openStore(sc config.StoreConfig, logger *zap.Logger) (topnkv.Store, error) {
	switch sc.Backend {
	case "bolt":
		return topnkv.OpenBoltStore(sc.Path, logger)
	default:
		return topnkv.NewMemStore(), nil
	}
}

func runOperator(ctx context.Context, store topnkv.Store, instanceID uint64, opCfg config.OperatorConfig, rows int, seed int64, logger *zap.Logger) error {
	var limit *int
	if !opCfg.Unbounded {
		l := opCfg.Limit
		limit = &l
	}
	engine, err := topnengine.New(store, topnengine.Config{
		Offset:    opCfg.Offset,
		Limit:     limit,
		Dirs:      []topnstream.OrderDirection{topnstream.Ascending},
		EncodeRow: encodeDemoRow,
		DecodeRow: decodeDemoRow,
		CacheSize: opCfg.CacheSize,
	}, instanceID, logger.Named(opCfg.Name))
	if err != nil {
		return fmt.Errorf("operator %s: %w", opCfg.Name, err)
	}

	source := newSyntheticSource(rows, seed)
	driver := topnengine.NewDriver(engine, source, logger.Named(opCfg.Name))

	for {
		msg, err := driver.Next(ctx)
		if err != nil {
			if err == errSourceExhausted {
				logger.Info("operator finished", zap.String("operator", opCfg.Name))
				return nil
			}
			return fmt.Errorf("operator %s: %w", opCfg.Name, err)
		}
		if msg.IsBarrier() {
			logger.Info("barrier processed", zap.String("operator", opCfg.Name), zap.Uint64("epoch", uint64(msg.Barrier.Epoch)))
		}
	}
}

// syntheticSource emits one barrier, a configurable number of single-row
// insert chunks carrying random integer keys, and a final barrier, then
// reports exhaustion — enough to exercise recovery-free steady-state flow
// end to end.
type syntheticSource struct {
	rng       *rand.Rand
	remaining int
	sentFirst bool
	sentLast  bool
	epoch     uint64
}

var errSourceExhausted = fmt.Errorf("synthetic source exhausted")

func newSyntheticSource(rows int, seed int64) *syntheticSource {
	return &syntheticSource{rng: rand.New(rand.NewSource(seed)), remaining: rows, epoch: 1}
}

func (s *syntheticSource) Next(ctx context.Context) (topnstream.Message, error) {
	if !s.sentFirst {
		s.sentFirst = true
		return topnstream.BarrierMessage(topnstream.Barrier{Epoch: topnstream.Epoch(s.epoch)}), nil
	}
	if s.remaining > 0 {
		s.remaining--
		v := s.rng.Intn(1_000_000)
		row := encodeDemoRowValue(v)
		return topnstream.ChunkMessage(topnstream.Chunk{Rows: []topnstream.ChunkRow{{Op: topnstream.Insert, Row: row}}}), nil
	}
	if !s.sentLast {
		s.sentLast = true
		next, err := topnutil.NextEpoch(s.epoch)
		if err != nil {
			return topnstream.Message{}, err
		}
		s.epoch = next
		return topnstream.BarrierMessage(topnstream.Barrier{Epoch: topnstream.Epoch(s.epoch)}), nil
	}
	return topnstream.Message{}, errSourceExhausted
}

func encodeDemoRowValue(v int) topnstream.Row {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	return topnstream.Row{PK: []topnstream.Datum{{Bytes: b[:]}}, Payload: b[:]}
}

func encodeDemoRow(row topnstream.Row) ([]byte, error) { return row.Payload, nil }

func decodeDemoRow(b []byte) (topnstream.Row, error) {
	if len(b) != 4 {
		return topnstream.Row{}, fmt.Errorf("malformed demo row: %d bytes", len(b))
	}
	return topnstream.Row{PK: []topnstream.Datum{{Bytes: b}}, Payload: append([]byte(nil), b...)}, nil
}
