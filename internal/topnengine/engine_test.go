package topnengine

import (
	"context"
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stratadb/topnwindow/internal/topnkv"
	"github.com/stratadb/topnwindow/internal/topnstream"
)

// Rows in these tests carry a two-column integer primary key (a, b), both
// ascending, encoded as two big-endian uint32s — enough to exercise tie
// breaking without needing a real upstream schema.

func encodeCol(v int) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	return b[:]
}

func makeRow(a, b int) topnstream.Row {
	payload := append(append([]byte{}, encodeCol(a)...), encodeCol(b)...)
	return topnstream.Row{
		PK:      []topnstream.Datum{{Bytes: encodeCol(a)}, {Bytes: encodeCol(b)}},
		Payload: payload,
	}
}

func encodeRow(row topnstream.Row) ([]byte, error) { return row.Payload, nil }

func decodeRow(b []byte) (topnstream.Row, error) {
	if len(b) != 8 {
		return topnstream.Row{}, fmt.Errorf("malformed test row: %d bytes", len(b))
	}
	a := int(binary.BigEndian.Uint32(b[:4]))
	bb := int(binary.BigEndian.Uint32(b[4:8]))
	return makeRow(a, bb), nil
}

func intLimit(n int) *int { return &n }

func insertChunk(rows ...topnstream.Row) topnstream.Chunk {
	c := topnstream.Chunk{}
	for _, r := range rows {
		c.Rows = append(c.Rows, topnstream.ChunkRow{Op: topnstream.Insert, Row: r})
	}
	return c
}

func newTestEngine(t *testing.T, store topnkv.Store, offset int, limit *int) *Engine {
	t.Helper()
	e, err := New(store, Config{
		Offset:    offset,
		Limit:     limit,
		Dirs:      []topnstream.OrderDirection{topnstream.Ascending, topnstream.Ascending},
		EncodeRow: encodeRow,
		DecodeRow: decodeRow,
	}, 1, nil)
	require.NoError(t, err)
	return e
}

func diffStrings(t *testing.T, chunk topnstream.Chunk) []string {
	t.Helper()
	out := make([]string, len(chunk.Rows))
	for i, cr := range chunk.Rows {
		a := int(binary.BigEndian.Uint32(cr.Row.PK[0].Bytes))
		b := int(binary.BigEndian.Uint32(cr.Row.PK[1].Bytes))
		out[i] = fmt.Sprintf("%s(%d,%d)", cr.Op, a, b)
	}
	return out
}

// Scenario 1: OFFSET=3, window bounded at 3 (the spec's LIMIT=None
// boundary case only ever admits 3 rows into the higher tier in this
// scenario, so a bounded Limit=3 produces byte-identical output and is
// used here to keep this scenario's end state reusable by the recovery
// scenario below, which does require eviction to be observable).
func TestEngineScenario1OffsetOnly(t *testing.T) {
	ctx := context.Background()
	store := topnkv.NewMemStore()
	e := newTestEngine(t, store, 3, intLimit(3))

	chunk := insertChunk(makeRow(1, 0), makeRow(2, 1), makeRow(3, 2), makeRow(10, 3), makeRow(9, 4), makeRow(8, 5))
	out, err := e.ApplyChunk(ctx, 1, chunk)
	require.NoError(t, err)
	require.Equal(t, []string{"Insert(10,3)", "Insert(9,4)", "Insert(8,5)"}, diffStrings(t, out))
}

// Scenario 2: OFFSET=0, LIMIT=5.
func TestEngineScenario2LimitOnly(t *testing.T) {
	ctx := context.Background()
	store := topnkv.NewMemStore()
	e := newTestEngine(t, store, 0, intLimit(5))

	chunk := insertChunk(makeRow(1, 0), makeRow(2, 1), makeRow(3, 2), makeRow(10, 3), makeRow(9, 4), makeRow(8, 5))
	out, err := e.ApplyChunk(ctx, 1, chunk)
	require.NoError(t, err)
	require.Equal(t, []string{
		"Insert(1,0)", "Insert(2,1)", "Insert(3,2)", "Insert(10,3)", "Insert(9,4)",
		"Delete(10,3)", "Insert(8,5)",
	}, diffStrings(t, out))
}

// Scenario 3: OFFSET=3, LIMIT=4, a second chunk following the first.
func TestEngineScenario3OffsetAndLimit(t *testing.T) {
	ctx := context.Background()
	store := topnkv.NewMemStore()
	e := newTestEngine(t, store, 3, intLimit(4))

	first := insertChunk(makeRow(1, 0), makeRow(2, 1), makeRow(3, 2), makeRow(10, 3), makeRow(9, 4), makeRow(8, 5))
	_, err := e.ApplyChunk(ctx, 1, first)
	require.NoError(t, err)

	second := insertChunk(makeRow(7, 6), makeRow(3, 7), makeRow(1, 8), makeRow(9, 9))
	out, err := e.ApplyChunk(ctx, 1, second)
	require.NoError(t, err)
	require.Equal(t, []string{
		"Insert(7,6)", "Delete(10,3)", "Insert(3,7)", "Delete(9,4)", "Insert(3,2)",
	}, diffStrings(t, out))
}

// Scenario 6: recovery. A fresh engine's first ApplyChunk, against a store
// already holding scenario 1's flushed state at epoch 5, must recover both
// tiers before applying the new row.
func TestEngineScenario6Recovery(t *testing.T) {
	ctx := context.Background()
	store := topnkv.NewMemStore()

	seed := newTestEngine(t, store, 3, intLimit(3))
	chunk := insertChunk(makeRow(1, 0), makeRow(2, 1), makeRow(3, 2), makeRow(10, 3), makeRow(9, 4), makeRow(8, 5))
	_, err := seed.ApplyChunk(ctx, 5, chunk)
	require.NoError(t, err)
	require.NoError(t, seed.FlushData(ctx, 5))

	fresh := newTestEngine(t, store, 3, intLimit(3))
	out, err := fresh.ApplyChunk(ctx, 5, insertChunk(makeRow(0, 10)))
	require.NoError(t, err)
	require.Equal(t, []string{"Delete(10,3)", "Insert(3,2)"}, diffStrings(t, out))
}

func TestEngineRejectsBadOffsetAndLimit(t *testing.T) {
	store := topnkv.NewMemStore()
	_, err := New(store, Config{Offset: -1, Dirs: []topnstream.OrderDirection{topnstream.Ascending}, EncodeRow: encodeRow, DecodeRow: decodeRow}, 1, nil)
	require.ErrorIs(t, err, ErrConfig)

	badLimit := -1
	_, err = New(store, Config{Offset: 0, Limit: &badLimit, Dirs: []topnstream.OrderDirection{topnstream.Ascending}, EncodeRow: encodeRow, DecodeRow: decodeRow}, 1, nil)
	require.ErrorIs(t, err, ErrConfig)

	zeroLimit := 0
	_, err = New(store, Config{Offset: 0, Limit: &zeroLimit, Dirs: []topnstream.OrderDirection{topnstream.Ascending}, EncodeRow: encodeRow, DecodeRow: decodeRow}, 1, nil)
	require.ErrorIs(t, err, ErrConfig)
}

func TestEngineFlushThenClearRequiresRecovery(t *testing.T) {
	ctx := context.Background()
	store := topnkv.NewMemStore()
	e := newTestEngine(t, store, 1, intLimit(2))

	_, err := e.ApplyChunk(ctx, 1, insertChunk(makeRow(5, 0), makeRow(1, 1), makeRow(2, 2)))
	require.NoError(t, err)
	require.NoError(t, e.FlushData(ctx, 1))

	e.ClearCache()
	require.True(t, e.firstExecution)
	out, err := e.ApplyChunk(ctx, 1, insertChunk(makeRow(9, 3)))
	require.NoError(t, err)
	// Recovery repopulates the same state flushed above, so a new row
	// ranking below both tiers is dropped rather than re-emitted.
	require.Empty(t, diffStrings(t, out))
}
