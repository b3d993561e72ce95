package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/indiquant/kitebot/internal/portfolio"
)

// TradeArchive is the enriched end-of-day trade document written under
// trade_archives/YYYY/MM. The checksum covers the trades payload so a
// later audit can detect truncation or tampering.
type TradeArchive struct {
	SchemaVersion int                      `json:"schema_version"`
	SavedAt       time.Time                `json:"saved_at"`
	TradingDay    string                   `json:"trading_day"`
	Mode          string                   `json:"mode"`
	TradesCount   int                      `json:"trades_count"`
	RealizedPnL   float64                  `json:"realized_pnl"`
	FeesPaid      float64                  `json:"fees_paid"`
	BySymbol      map[string]SymbolSummary `json:"by_symbol"`
	Checksum      string                   `json:"checksum"`
	Trades        []portfolio.TradeRecord  `json:"trades"`
}

// SymbolSummary aggregates the day's activity on one symbol.
type SymbolSummary struct {
	Trades      int     `json:"trades"`
	RealizedPnL float64 `json:"realized_pnl"`
	FeesPaid    float64 `json:"fees_paid"`
}

// ArchiveTrades writes the enriched archive for a day and mirrors it
// into the backup root. The primary write must succeed; a failed
// backup copy is logged but does not fail the archive.
func (m *Manager) ArchiveTrades(day, mode string) error {
	trades, err := m.DayTrades(day)
	if err != nil {
		return err
	}

	doc := TradeArchive{
		SchemaVersion: SchemaVersion,
		SavedAt:       m.now(),
		TradingDay:    day,
		Mode:          mode,
		TradesCount:   len(trades),
		BySymbol:      make(map[string]SymbolSummary),
		Trades:        trades,
	}
	for _, t := range trades {
		s := doc.BySymbol[t.Symbol]
		s.Trades++
		s.FeesPaid += t.Fees
		doc.FeesPaid += t.Fees
		if t.PnL != nil {
			s.RealizedPnL += *t.PnL
			doc.RealizedPnL += *t.PnL
		}
		doc.BySymbol[t.Symbol] = s
	}

	payload, err := json.Marshal(trades)
	if err != nil {
		return fmt.Errorf("marshal archive trades: %w", err)
	}
	doc.Checksum = checksum(payload)

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal trade archive: %w", err)
	}

	parsed, err := time.Parse("2006-01-02", day)
	if err != nil {
		return fmt.Errorf("trade archive day %q: %w", day, err)
	}
	name := fmt.Sprintf("trades_%s_%s.json", day, mode)
	subdir := filepath.Join(parsed.Format("2006"), parsed.Format("01"))

	primaryDir := filepath.Join(m.archiveRoot, subdir)
	if err := os.MkdirAll(primaryDir, 0o755); err != nil {
		return fmt.Errorf("create archive dir: %w", err)
	}
	if err := atomicWrite(filepath.Join(primaryDir, name), data); err != nil {
		return fmt.Errorf("write trade archive: %w", err)
	}

	backupDir := filepath.Join(m.backupRoot, subdir)
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		m.logger.Printf("trade archive backup dir failed: %v", err)
		return nil
	}
	if err := atomicWrite(filepath.Join(backupDir, name), data); err != nil {
		m.logger.Printf("trade archive backup copy failed: %v", err)
	}
	return nil
}

// VerifyArchive re-reads an archive and checks its checksum.
func (m *Manager) VerifyArchive(day, mode string) error {
	parsed, err := time.Parse("2006-01-02", day)
	if err != nil {
		return fmt.Errorf("archive day %q: %w", day, err)
	}
	path := filepath.Join(m.archiveRoot, parsed.Format("2006"), parsed.Format("01"),
		fmt.Sprintf("trades_%s_%s.json", day, mode))
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read trade archive: %w", err)
	}
	var doc TradeArchive
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse trade archive: %w", err)
	}
	payload, err := json.Marshal(doc.Trades)
	if err != nil {
		return fmt.Errorf("remarshal archive trades: %w", err)
	}
	if got := checksum(payload); got != doc.Checksum {
		return fmt.Errorf("trade archive %s checksum mismatch", day)
	}
	return nil
}
