// Package journal keeps the append-only decision diary. Every cycle outcome,
// including holds and reconciliation removals, lands here as one JSON line.
package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cmorley/perp-agent/internal/logger"
)

// Actions recorded in the diary.
const (
	ActionBuy            = "buy"
	ActionSell           = "sell"
	ActionHold           = "hold"
	ActionClose          = "close"
	ActionReconcileClose = "reconcile_close"
)

// Record is one diary entry. Pointer fields stay out of the line entirely
// when the decision carried no value for them.
type Record struct {
	Timestamp     time.Time  `json:"timestamp"`
	Asset         string     `json:"asset"`
	Action        string     `json:"action"`
	Reason        string     `json:"reason,omitempty"`
	AllocationUSD float64    `json:"allocation_usd,omitempty"`
	Amount        float64    `json:"amount,omitempty"`
	EntryPrice    float64    `json:"entry_price,omitempty"`
	TPPrice       *float64   `json:"tp_price,omitempty"`
	TPOrderID     string     `json:"tp_order_id,omitempty"`
	SLPrice       *float64   `json:"sl_price,omitempty"`
	SLOrderID     string     `json:"sl_order_id,omitempty"`
	ExitPlan      string     `json:"exit_plan,omitempty"`
	Rationale     string     `json:"rationale,omitempty"`
	OpenedAt      *time.Time `json:"opened_at,omitempty"`
	Filled        bool       `json:"filled,omitempty"`
	PnL           float64    `json:"pnl,omitempty"`
}

// Journal appends NDJSON records to a single file. Appends are serialized so
// the scheduler and the web server never interleave partial lines.
type Journal struct {
	mu     sync.Mutex
	path   string
	logger *logger.Logger
}

func New(path string, log *logger.Logger) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
	}
	return &Journal{path: path, logger: log}, nil
}

// Append writes one record as a single line. The record's timestamp is filled
// in when the caller left it zero.
func (j *Journal) Append(rec Record) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal journal record: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.OpenFile(j.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append journal record: %w", err)
	}
	return nil
}

// Tail returns up to n most recent records, oldest first. Malformed or
// truncated lines are skipped so a partial write never poisons readers.
func (j *Journal) Tail(n int) ([]Record, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.Open(j.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	var records []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			if j.logger != nil {
				j.logger.Warn("skipping malformed journal line", "error", err)
			}
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return records, fmt.Errorf("read journal: %w", err)
	}

	if n > 0 && len(records) > n {
		records = records[len(records)-n:]
	}
	return records, nil
}

// Path returns the backing file path, used by the web server for downloads.
func (j *Journal) Path() string {
	return j.path
}
