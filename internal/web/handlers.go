package web

import (
	"bufio"
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/cmorley/perp-agent/internal/storage"
	"github.com/cmorley/perp-agent/internal/trade"
)

const defaultDiaryLimit = 100

// handleDiary serves the decision diary. By default the last entries as a
// JSON array; ?raw=1 streams the NDJSON file, ?download=1 additionally marks
// it as an attachment.
func (s *Server) handleDiary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Query().Get("raw") == "1" || r.URL.Query().Get("download") == "1" {
		if r.URL.Query().Get("download") == "1" {
			w.Header().Set("Content-Disposition", "attachment; filename=\"diary.jsonl\"")
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		http.ServeFile(w, r, s.journal.Path())
		return
	}

	limit := defaultDiaryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	records, err := s.journal.Tail(limit)
	if err != nil {
		s.logger.Error("read diary", "error", err)
		http.Error(w, "failed to read diary", http.StatusInternalServerError)
		return
	}
	writeJSON(w, records)
}

// handleLogs serves the tail of the prompt log as plain text.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := 200
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	lines, err := tailLines(s.config.Trading.PromptsLog, limit)
	if err != nil {
		if os.IsNotExist(err) {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			return
		}
		s.logger.Error("read prompts log", "error", err)
		http.Error(w, "failed to read log", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	for _, line := range lines {
		w.Write([]byte(line))
		w.Write([]byte("\n"))
	}
}

type dashboardData struct {
	Timestamp      time.Time               `json:"timestamp"`
	Balance        float64                 `json:"balance"`
	AccountValue   float64                 `json:"account_value"`
	TotalReturnPct float64                 `json:"total_return_pct"`
	DailyPnL       float64                 `json:"daily_pnl"`
	TotalPnL       float64                 `json:"total_pnl"`
	PositionsCount int                     `json:"positions_count"`
	ActiveTrades   []trade.ActiveTrade     `json:"active_trades"`
	RecentTrades   []storage.ExecutedTrade `json:"recent_trades"`
}

// handleDashboard serves a JSON summary assembled from the latest snapshot
// and the trade history.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	data := dashboardData{
		Timestamp:    time.Now().UTC(),
		ActiveTrades: s.store.All(),
	}

	if snapshot, err := s.repo.GetLatestSnapshot(); err == nil && snapshot != nil {
		data.Balance = snapshot.Balance
		data.AccountValue = snapshot.AccountValue
		data.TotalReturnPct = snapshot.TotalReturnPct
		data.PositionsCount = snapshot.PositionsCount
	}
	if dailyPnL, err := s.repo.GetTodayPnL(); err == nil {
		data.DailyPnL = dailyPnL
	}
	if totalPnL, err := s.repo.GetTotalPnL(); err == nil {
		data.TotalPnL = totalPnL
	}
	if trades, err := s.repo.GetRecentTrades(20); err == nil {
		data.RecentTrades = trades
	}

	writeJSON(w, data)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		// headers are already out; nothing useful to send
		return
	}
}

// tailLines returns the last n lines of a text file.
func tailLines(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		if len(lines) > n*2 {
			lines = lines[len(lines)-n:]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}
