package portfolio

// Snapshot is a deep copy of the portfolio's mutable state, used both
// for transactional rollback and for persistence.
type Snapshot struct {
	Mode          string              `json:"mode"`
	InitialCash   float64             `json:"initial_cash"`
	Cash          float64             `json:"cash"`
	Positions     map[string]Position `json:"positions"`
	TradesCount   int                 `json:"trades_count"`
	WinningTrades int                 `json:"winning_trades"`
	LosingTrades  int                 `json:"losing_trades"`
	TotalPnL      float64             `json:"total_pnl"`
	BestTrade     float64             `json:"best_trade"`
	WorstTrade    float64             `json:"worst_trade"`
	HistoryLen    int                 `json:"history_len"`
}

// TakeSnapshot captures the current state.
func (p *Portfolio) TakeSnapshot() Snapshot {
	p.positionMu.Lock()
	defer p.positionMu.Unlock()
	p.cashMu.Lock()
	defer p.cashMu.Unlock()

	positions := make(map[string]Position, len(p.positions))
	for k, pos := range p.positions {
		positions[k] = *pos
	}
	return Snapshot{
		Mode:          p.mode,
		InitialCash:   p.initialCash,
		Cash:          p.cash,
		Positions:     positions,
		TradesCount:   p.tradesCount,
		WinningTrades: p.winningTrades,
		LosingTrades:  p.losingTrades,
		TotalPnL:      p.totalPnL,
		BestTrade:     p.bestTrade,
		WorstTrade:    p.worstTrade,
		HistoryLen:    len(p.history),
	}
}

// RestoreSnapshot replaces the portfolio state with the snapshot.
// Trade records appended after the snapshot are dropped.
func (p *Portfolio) RestoreSnapshot(s Snapshot) {
	p.positionMu.Lock()
	defer p.positionMu.Unlock()
	p.cashMu.Lock()
	defer p.cashMu.Unlock()

	p.initialCash = s.InitialCash
	p.cash = s.Cash
	p.positions = make(map[string]*Position, len(s.Positions))
	for k, pos := range s.Positions {
		copied := pos
		p.positions[k] = &copied
	}
	p.tradesCount = s.TradesCount
	p.winningTrades = s.WinningTrades
	p.losingTrades = s.LosingTrades
	p.totalPnL = s.TotalPnL
	p.bestTrade = s.BestTrade
	p.worstTrade = s.WorstTrade
	if s.HistoryLen >= 0 && s.HistoryLen <= len(p.history) {
		p.history = p.history[:s.HistoryLen]
	}
}

// Transaction is a compensating-rollback guard around multi-step
// portfolio mutations such as multi-leg option opens. A failed step
// calls Rollback to restore the entry snapshot; Commit makes the
// mutations permanent.
type Transaction struct {
	portfolio *Portfolio
	snapshot  Snapshot
	done      bool
}

// Begin captures the rollback point.
func (p *Portfolio) Begin() *Transaction {
	return &Transaction{portfolio: p, snapshot: p.TakeSnapshot()}
}

// Commit finalises the transaction; Rollback becomes a no-op.
func (t *Transaction) Commit() {
	t.done = true
}

// Rollback restores the portfolio to the state captured at Begin.
// Safe to defer: after Commit it does nothing.
func (t *Transaction) Rollback() {
	if t.done {
		return
	}
	t.done = true
	t.portfolio.RestoreSnapshot(t.snapshot)
	t.portfolio.logger.Printf("transaction rolled back to cash %.2f, %d positions",
		t.snapshot.Cash, len(t.snapshot.Positions))
}
