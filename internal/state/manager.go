// Package state persists trading state durably: atomic JSON snapshots,
// per-day archives, an append-only trade log and enriched end-of-day
// trade archives with checksums.
package state

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/indiquant/kitebot/internal/portfolio"
)

// SchemaVersion tags every persisted document.
const SchemaVersion = 2

// writeAttempts is how many times a failing state write is retried
// before falling back to the backup directory.
const writeAttempts = 3

// CurrentState is the crash-safe snapshot written every iteration.
type CurrentState struct {
	SchemaVersion  int                  `json:"schema_version"`
	SavedAt        time.Time            `json:"saved_at"`
	Mode           string               `json:"mode"`
	Iteration      int                  `json:"iteration"`
	TradingDay     string               `json:"trading_day"`
	Portfolio      portfolio.Snapshot   `json:"portfolio"`
	Cooldowns      map[string]time.Time `json:"cooldowns,omitempty"`
	LastPrices     map[string]float64   `json:"last_prices,omitempty"`
	DayClosed      bool                 `json:"day_closed"`
	LastArchiveDay string               `json:"last_archive_day,omitempty"`
}

// DailySummary is the per-day rollup written next to the archive.
type DailySummary struct {
	SchemaVersion int       `json:"schema_version"`
	SavedAt       time.Time `json:"saved_at"`
	TradingDay    string    `json:"trading_day"`
	Mode          string    `json:"mode"`
	TradesCount   int       `json:"trades_count"`
	WinningTrades int       `json:"winning_trades"`
	LosingTrades  int       `json:"losing_trades"`
	DailyPnL      float64   `json:"daily_pnl"`
	TotalPnL      float64   `json:"total_pnl"`
	Cash          float64   `json:"cash"`
	OpenPositions int       `json:"open_positions"`
}

// Manager owns the persistence directories. No other component writes
// to them.
type Manager struct {
	stateDir    string // state root: current, archive/, trades/, backup/
	archiveRoot string // trade_archives/YYYY/MM
	backupRoot  string // trade_archives_backup/YYYY/MM
	logger      *log.Logger
	now         func() time.Time
}

// NewManager creates the directory layout if missing.
func NewManager(stateDir, archiveRoot, backupRoot string, logger *log.Logger) (*Manager, error) {
	if logger == nil {
		logger = log.Default()
	}
	m := &Manager{
		stateDir:    stateDir,
		archiveRoot: archiveRoot,
		backupRoot:  backupRoot,
		logger:      logger,
		now:         time.Now,
	}
	for _, dir := range []string{
		stateDir,
		filepath.Join(stateDir, "archive"),
		filepath.Join(stateDir, "trades"),
		filepath.Join(stateDir, "backup"),
		archiveRoot,
		backupRoot,
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create state dir %s: %w", dir, err)
		}
	}
	return m, nil
}

func (m *Manager) currentPath() string {
	return filepath.Join(m.stateDir, "current_state.json")
}

// Save writes the current state atomically: temp file, fsync, rename.
// A crash mid-write leaves either the previous snapshot or the new
// one. After repeated failures the write lands in backup/ instead.
func (m *Manager) Save(s CurrentState) error {
	s.SchemaVersion = SchemaVersion
	s.SavedAt = m.now()
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < writeAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * 100 * time.Millisecond)
		}
		if lastErr = atomicWrite(m.currentPath(), data); lastErr == nil {
			return nil
		}
		m.logger.Printf("state save attempt %d failed: %v", attempt+1, lastErr)
	}

	backupPath := filepath.Join(m.stateDir, "backup",
		fmt.Sprintf("current_state_%d.json", m.now().UnixNano()))
	if err := atomicWrite(backupPath, data); err != nil {
		return fmt.Errorf("state save failed on primary (%v) and backup: %w", lastErr, err)
	}
	m.logger.Printf("state saved to backup path %s after primary failure", backupPath)
	return nil
}

// Restore loads the last snapshot. A missing file, corrupt file or
// mode mismatch starts fresh (nil state, nil error); corrupt files are
// quarantined rather than deleted. Expired cooldowns are dropped.
func (m *Manager) Restore(mode string) (*CurrentState, error) {
	data, err := os.ReadFile(m.currentPath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}

	var s CurrentState
	if err := json.Unmarshal(data, &s); err != nil {
		quarantine := m.currentPath() + fmt.Sprintf(".corrupt.%d", m.now().Unix())
		if renameErr := os.Rename(m.currentPath(), quarantine); renameErr == nil {
			m.logger.Printf("CRITICAL: state file corrupt (%v), quarantined to %s", err, quarantine)
		} else {
			m.logger.Printf("CRITICAL: state file corrupt (%v), quarantine failed: %v", err, renameErr)
		}
		return nil, nil
	}
	if s.Mode != mode {
		m.logger.Printf("state mode %q does not match %q, starting fresh", s.Mode, mode)
		return nil, nil
	}

	now := m.now()
	for symbol, until := range s.Cooldowns {
		if !now.Before(until) {
			delete(s.Cooldowns, symbol)
		}
	}
	return &s, nil
}

// AppendTrade appends one JSON line to the day's trade log.
func (m *Manager) AppendTrade(rec portfolio.TradeRecord) error {
	day := rec.TradingDay
	if day == "" {
		day = m.now().Format("2006-01-02")
	}
	path := filepath.Join(m.stateDir, "trades", fmt.Sprintf("trades_%s.jsonl", day))
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal trade: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open trade log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append trade: %w", err)
	}
	return f.Sync()
}

// DayTrades reads back the trade log of one day.
func (m *Manager) DayTrades(day string) ([]portfolio.TradeRecord, error) {
	path := filepath.Join(m.stateDir, "trades", fmt.Sprintf("trades_%s.jsonl", day))
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read trade log: %w", err)
	}
	var out []portfolio.TradeRecord
	for _, line := range splitLines(data) {
		if len(line) == 0 {
			continue
		}
		var rec portfolio.TradeRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			m.logger.Printf("skipping malformed trade line: %v", err)
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// ArchiveDay snapshots the state and its summary into the per-day
// archive. The daily P&L is derived from the day's closed trades, not
// accumulated separately.
func (m *Manager) ArchiveDay(s CurrentState) error {
	s.SchemaVersion = SchemaVersion
	s.SavedAt = m.now()
	day := s.TradingDay

	stateData, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal archive state: %w", err)
	}
	statePath := filepath.Join(m.stateDir, "archive", fmt.Sprintf("state_%s.json", day))
	if err := atomicWrite(statePath, stateData); err != nil {
		return fmt.Errorf("write archive state: %w", err)
	}

	trades, err := m.DayTrades(day)
	if err != nil {
		return err
	}
	var dailyPnL float64
	for _, t := range trades {
		if t.PnL != nil {
			dailyPnL += *t.PnL
		}
	}
	summary := DailySummary{
		SchemaVersion: SchemaVersion,
		SavedAt:       s.SavedAt,
		TradingDay:    day,
		Mode:          s.Mode,
		TradesCount:   s.Portfolio.TradesCount,
		WinningTrades: s.Portfolio.WinningTrades,
		LosingTrades:  s.Portfolio.LosingTrades,
		DailyPnL:      dailyPnL,
		TotalPnL:      s.Portfolio.TotalPnL,
		Cash:          s.Portfolio.Cash,
		OpenPositions: len(s.Portfolio.Positions),
	}
	summaryData, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	summaryPath := filepath.Join(m.stateDir, "archive", fmt.Sprintf("summary_%s.json", day))
	return atomicWrite(summaryPath, summaryData)
}

func splitLines(data []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			lines = append(lines, data[start:i])
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, data[start:])
	}
	return lines
}

// atomicWrite writes data to path via a temp file in the same
// directory, fsyncs and renames.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
