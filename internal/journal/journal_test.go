package journal

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cmorley/perp-agent/internal/logger"
)

func TestAppendAndTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "diary.jsonl")
	j, err := New(path, logger.New("error"))
	require.NoError(t, err)

	tp := 71000.0
	require.NoError(t, j.Append(Record{
		Asset:         "BTC",
		Action:        ActionBuy,
		AllocationUSD: 200,
		Amount:        0.003,
		EntryPrice:    68000,
		TPPrice:       &tp,
		ExitPlan:      "close if 4h MACD turns negative",
	}))
	require.NoError(t, j.Append(Record{Asset: "ETH", Action: ActionHold, Reason: "no edge"}))
	require.NoError(t, j.Append(Record{Asset: "SOL", Action: ActionReconcileClose, Reason: "no_position_no_orders"}))

	records, err := j.Tail(0)
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, "BTC", records[0].Asset)
	assert.Equal(t, ActionBuy, records[0].Action)
	require.NotNil(t, records[0].TPPrice)
	assert.Equal(t, 71000.0, *records[0].TPPrice)
	assert.Nil(t, records[0].SLPrice)
	assert.False(t, records[0].Timestamp.IsZero())

	tail, err := j.Tail(2)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, "ETH", tail[0].Asset)
	assert.Equal(t, "SOL", tail[1].Asset)
}

func TestTailSkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "diary.jsonl")
	j, err := New(path, logger.New("error"))
	require.NoError(t, err)

	require.NoError(t, j.Append(Record{Asset: "BTC", Action: ActionHold}))

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("{\"asset\": \"ETH\", trunca\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, j.Append(Record{Asset: "SOL", Action: ActionHold}))

	records, err := j.Tail(10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "BTC", records[0].Asset)
	assert.Equal(t, "SOL", records[1].Asset)
}

func TestTailMissingFile(t *testing.T) {
	j, err := New(filepath.Join(t.TempDir(), "absent.jsonl"), logger.New("error"))
	require.NoError(t, err)

	records, err := j.Tail(5)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestAppendPreservesExplicitTimestamp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "diary.jsonl")
	j, err := New(path, logger.New("error"))
	require.NoError(t, err)

	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, j.Append(Record{Timestamp: ts, Asset: "BTC", Action: ActionClose, PnL: -12.5}))

	records, err := j.Tail(1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].Timestamp.Equal(ts))
	assert.Equal(t, -12.5, records[0].PnL)
}
