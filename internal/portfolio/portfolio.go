package portfolio

import (
	"fmt"
	"log"
	"sync"
	"time"
)

// Trading modes.
const (
	ModePaper    = "paper"
	ModeLive     = "live"
	ModeBacktest = "backtest"
)

// TradeRecord is one immutable entry of the trade history.
type TradeRecord struct {
	Timestamp  time.Time `json:"timestamp"`
	Symbol     string    `json:"symbol"`
	Side       string    `json:"side"`
	Shares     int       `json:"shares"`
	Price      float64   `json:"price"`
	Fees       float64   `json:"fees"`
	PnL        *float64  `json:"pnl,omitempty"` // closed trades only
	Mode       string    `json:"mode"`
	Confidence float64   `json:"confidence"`
	Sector     string    `json:"sector"`
	CashAfter  float64   `json:"cash_balance_after"`
	ATR        float64   `json:"atr,omitempty"`
	TradingDay string    `json:"trading_day"`
	Reason     string    `json:"reason,omitempty"`
}

// OpenParams describes a position open request. Shares is always
// positive; the operation determines the direction.
type OpenParams struct {
	Symbol     string
	Shares     int
	Price      float64
	StopLoss   float64
	TakeProfit float64
	Confidence float64
	Strategy   string
	Sector     string
	ATR        float64
	Product    string
}

// Stats is an aggregate snapshot for telemetry.
type Stats struct {
	Mode          string  `json:"mode"`
	InitialCash   float64 `json:"initial_cash"`
	Cash          float64 `json:"cash"`
	OpenPositions int     `json:"open_positions"`
	Invested      float64 `json:"invested"`
	TradesCount   int     `json:"trades_count"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	TotalPnL      float64 `json:"total_pnl"`
	BestTrade     float64 `json:"best_trade"`
	WorstTrade    float64 `json:"worst_trade"`
}

// Portfolio is the single accounting authority for one run. Lock
// order: positionMu before cashMu, never the reverse.
type Portfolio struct {
	positionMu sync.Mutex // positions, counters, history
	cashMu     sync.Mutex // cash
	orderMu    sync.Mutex // serialises live order placement

	mode        string
	initialCash float64
	cash        float64
	positions   map[string]*Position

	tradesCount   int
	winningTrades int
	losingTrades  int
	totalPnL      float64
	bestTrade     float64
	worstTrade    float64
	history       []TradeRecord

	logger *log.Logger
	now    func() time.Time
}

// New creates a Portfolio with the given starting cash.
func New(mode string, initialCash float64, logger *log.Logger) *Portfolio {
	if logger == nil {
		logger = log.Default()
	}
	return &Portfolio{
		mode:        mode,
		initialCash: initialCash,
		cash:        initialCash,
		positions:   make(map[string]*Position),
		logger:      logger,
		now:         time.Now,
	}
}

// Mode returns the trading mode.
func (p *Portfolio) Mode() string { return p.mode }

// SetClock replaces the time source. Trade timestamps and trading-day
// stamps follow the injected clock, so callers pin it to IST.
func (p *Portfolio) SetClock(fn func() time.Time) {
	if fn != nil {
		p.now = fn
	}
}

// Cash returns the free cash balance.
func (p *Portfolio) Cash() float64 {
	p.cashMu.Lock()
	defer p.cashMu.Unlock()
	return p.cash
}

// InitialCash returns the starting balance.
func (p *Portfolio) InitialCash() float64 { return p.initialCash }

// OrderLock serialises live order placement across goroutines.
func (p *Portfolio) OrderLock() *sync.Mutex { return &p.orderMu }

// Positions returns a copy of the open positions keyed by position
// key. Callers iterate the copy without holding the lock.
func (p *Portfolio) Positions() map[string]Position {
	p.positionMu.Lock()
	defer p.positionMu.Unlock()
	out := make(map[string]Position, len(p.positions))
	for k, pos := range p.positions {
		out[k] = *pos
	}
	return out
}

// Position returns a copy of one position by key.
func (p *Portfolio) Position(key string) (Position, bool) {
	p.positionMu.Lock()
	defer p.positionMu.Unlock()
	pos, ok := p.positions[key]
	if !ok {
		return Position{}, false
	}
	return *pos, true
}

// OpenPositionCount returns the number of open positions.
func (p *Portfolio) OpenPositionCount() int {
	p.positionMu.Lock()
	defer p.positionMu.Unlock()
	return len(p.positions)
}

func (p *Portfolio) tradingDay(t time.Time) string {
	return t.Format("2006-01-02")
}

// OpenLong buys shares, averaging into an existing long if present.
// The full cost including fees must be covered by cash or the call is
// a no-op error.
func (p *Portfolio) OpenLong(params OpenParams) (Position, TradeRecord, error) {
	if err := validateOpen(params); err != nil {
		return Position{}, TradeRecord{}, err
	}
	notional := float64(params.Shares) * params.Price
	fees := ComputeFees(notional, SideBuy, KindOf(params.Symbol), "").Total
	totalCost := notional + fees

	p.positionMu.Lock()
	defer p.positionMu.Unlock()
	p.cashMu.Lock()
	defer p.cashMu.Unlock()

	if totalCost > p.cash {
		return Position{}, TradeRecord{}, fmt.Errorf(
			"open long %s: cost %.2f exceeds cash %.2f", params.Symbol, totalCost, p.cash)
	}

	now := p.now()
	pos, exists := p.positions[params.Symbol]
	if exists {
		if pos.IsShort() {
			return Position{}, TradeRecord{}, fmt.Errorf(
				"open long %s: key occupied by a short position", params.Symbol)
		}
		combinedShares := pos.Shares + params.Shares
		combinedInvested := pos.InvestedAmount + totalCost
		pos.EntryPrice = combinedInvested / float64(combinedShares)
		pos.Shares = combinedShares
		pos.InvestedAmount = combinedInvested
		if params.TakeProfit > pos.TakeProfit {
			pos.TakeProfit = params.TakeProfit
		}
		if params.StopLoss > 0 && (pos.StopLoss == 0 || params.StopLoss < pos.StopLoss) {
			pos.StopLoss = params.StopLoss
		}
	} else {
		pos = &Position{
			ID:             NewPositionID(),
			Symbol:         params.Symbol,
			Shares:         params.Shares,
			EntryPrice:     totalCost / float64(params.Shares),
			InvestedAmount: totalCost,
			StopLoss:       params.StopLoss,
			TakeProfit:     params.TakeProfit,
			EntryTime:      now,
			Confidence:     params.Confidence,
			Strategy:       params.Strategy,
			Sector:         params.Sector,
			ATR:            params.ATR,
			Product:        params.Product,
			PeakPrice:      params.Price,
		}
		p.positions[params.Symbol] = pos
	}

	p.cash -= totalCost
	rec := TradeRecord{
		Timestamp: now, Symbol: params.Symbol, Side: SideBuy,
		Shares: params.Shares, Price: params.Price, Fees: fees,
		Mode: p.mode, Confidence: params.Confidence, Sector: params.Sector,
		CashAfter: p.cash, ATR: params.ATR, TradingDay: p.tradingDay(now),
	}
	p.history = append(p.history, rec)
	p.logger.Printf("opened long %s: %d @ %.2f (fees %.2f, cash %.2f)",
		params.Symbol, params.Shares, params.Price, fees, p.cash)
	return *pos, rec, nil
}

// CloseLong sells the full long position at exitPrice. Realised P&L is
// net of both entry and exit fees and is the only mutation of the
// total P&L counter besides CoverShort.
func (p *Portfolio) CloseLong(symbol string, exitPrice float64, reason string) (TradeRecord, error) {
	if exitPrice <= 0 {
		return TradeRecord{}, fmt.Errorf("close long %s: invalid price %.2f", symbol, exitPrice)
	}

	p.positionMu.Lock()
	defer p.positionMu.Unlock()
	p.cashMu.Lock()
	defer p.cashMu.Unlock()

	pos, ok := p.positions[symbol]
	if !ok || pos.IsShort() {
		return TradeRecord{}, fmt.Errorf("close long %s: no long position", symbol)
	}

	proceeds := float64(pos.Shares) * exitPrice
	fees := ComputeFees(proceeds, SideSell, KindOf(symbol), "").Total
	net := proceeds - fees
	pnl := net - pos.InvestedAmount

	p.cash += net
	delete(p.positions, symbol)
	p.settle(pnl)

	now := p.now()
	rec := TradeRecord{
		Timestamp: now, Symbol: symbol, Side: SideSell,
		Shares: pos.Shares, Price: exitPrice, Fees: fees, PnL: &pnl,
		Mode: p.mode, Confidence: pos.Confidence, Sector: pos.Sector,
		CashAfter: p.cash, ATR: pos.ATR, TradingDay: p.tradingDay(now),
		Reason: reason,
	}
	p.history = append(p.history, rec)
	p.logger.Printf("closed long %s: %d @ %.2f, pnl %.2f (%s)",
		symbol, pos.Shares, exitPrice, pnl, reason)
	return rec, nil
}

// ReduceLong sells part of a long position at exitPrice, typically
// after a partial fill. The sold slice carries a proportional share of
// the invested amount; the remainder keeps its entry price, brackets
// and protective order. Selling every share behaves like CloseLong.
func (p *Portfolio) ReduceLong(symbol string, shares int, exitPrice float64, reason string) (TradeRecord, error) {
	if exitPrice <= 0 {
		return TradeRecord{}, fmt.Errorf("reduce long %s: invalid price %.2f", symbol, exitPrice)
	}
	if shares <= 0 {
		return TradeRecord{}, fmt.Errorf("reduce long %s: shares must be positive, got %d", symbol, shares)
	}

	p.positionMu.Lock()
	defer p.positionMu.Unlock()
	p.cashMu.Lock()
	defer p.cashMu.Unlock()

	pos, ok := p.positions[symbol]
	if !ok || pos.IsShort() {
		return TradeRecord{}, fmt.Errorf("reduce long %s: no long position", symbol)
	}
	if shares > pos.Shares {
		return TradeRecord{}, fmt.Errorf(
			"reduce long %s: %d shares exceeds position %d", symbol, shares, pos.Shares)
	}

	proceeds := float64(shares) * exitPrice
	fees := ComputeFees(proceeds, SideSell, KindOf(symbol), "").Total
	net := proceeds - fees
	investedSlice := pos.InvestedAmount * float64(shares) / float64(pos.Shares)
	pnl := net - investedSlice
	remaining := pos.Shares - shares

	p.cash += net
	if remaining == 0 {
		delete(p.positions, symbol)
	} else {
		pos.Shares = remaining
		pos.InvestedAmount -= investedSlice
	}
	p.settle(pnl)

	now := p.now()
	rec := TradeRecord{
		Timestamp: now, Symbol: symbol, Side: SideSell,
		Shares: shares, Price: exitPrice, Fees: fees, PnL: &pnl,
		Mode: p.mode, Confidence: pos.Confidence, Sector: pos.Sector,
		CashAfter: p.cash, ATR: pos.ATR, TradingDay: p.tradingDay(now),
		Reason: reason,
	}
	p.history = append(p.history, rec)
	p.logger.Printf("reduced long %s: sold %d @ %.2f, pnl %.2f, %d remain (%s)",
		symbol, shares, exitPrice, pnl, remaining, reason)
	return rec, nil
}

// OpenShort sells shares it does not hold, crediting the net premium
// to cash. The position lives under the _SHORT key.
func (p *Portfolio) OpenShort(params OpenParams) (Position, TradeRecord, error) {
	if err := validateOpen(params); err != nil {
		return Position{}, TradeRecord{}, err
	}
	notional := float64(params.Shares) * params.Price
	fees := ComputeFees(notional, SideSell, KindOf(params.Symbol), "").Total
	credit := notional - fees
	if credit <= 0 {
		return Position{}, TradeRecord{}, fmt.Errorf("open short %s: fees exceed premium", params.Symbol)
	}
	key := ShortKey(params.Symbol)

	p.positionMu.Lock()
	defer p.positionMu.Unlock()
	p.cashMu.Lock()
	defer p.cashMu.Unlock()

	now := p.now()
	pos, exists := p.positions[key]
	if exists {
		combinedShares := pos.Shares - params.Shares // both negative direction
		absCombined := -combinedShares
		pos.EntryPrice = (pos.InvestedAmount + notional) / float64(absCombined)
		pos.Shares = combinedShares
		pos.InvestedAmount += notional
		pos.CreditRecorded += credit
		if params.StopLoss > pos.StopLoss {
			pos.StopLoss = params.StopLoss
		}
		if params.TakeProfit > 0 && (pos.TakeProfit == 0 || params.TakeProfit < pos.TakeProfit) {
			pos.TakeProfit = params.TakeProfit
		}
	} else {
		pos = &Position{
			ID:             NewPositionID(),
			Symbol:         params.Symbol,
			Shares:         -params.Shares,
			EntryPrice:     params.Price,
			InvestedAmount: notional,
			CreditRecorded: credit,
			StopLoss:       params.StopLoss,
			TakeProfit:     params.TakeProfit,
			EntryTime:      now,
			Confidence:     params.Confidence,
			Strategy:       params.Strategy,
			Sector:         params.Sector,
			ATR:            params.ATR,
			Product:        params.Product,
			PeakPrice:      params.Price,
		}
		p.positions[key] = pos
	}

	p.cash += credit
	rec := TradeRecord{
		Timestamp: now, Symbol: params.Symbol, Side: SideSell,
		Shares: params.Shares, Price: params.Price, Fees: fees,
		Mode: p.mode, Confidence: params.Confidence, Sector: params.Sector,
		CashAfter: p.cash, ATR: params.ATR, TradingDay: p.tradingDay(now),
	}
	p.history = append(p.history, rec)
	p.logger.Printf("opened short %s: %d @ %.2f (credit %.2f, cash %.2f)",
		params.Symbol, params.Shares, params.Price, credit, p.cash)
	return *pos, rec, nil
}

// CoverShort buys back the full short at exitPrice. The buyback cost
// plus fees must be covered by cash.
func (p *Portfolio) CoverShort(symbol string, exitPrice float64, reason string) (TradeRecord, error) {
	if exitPrice <= 0 {
		return TradeRecord{}, fmt.Errorf("cover short %s: invalid price %.2f", symbol, exitPrice)
	}
	key := ShortKey(symbol)

	p.positionMu.Lock()
	defer p.positionMu.Unlock()
	p.cashMu.Lock()
	defer p.cashMu.Unlock()

	pos, ok := p.positions[key]
	if !ok || !pos.IsShort() {
		return TradeRecord{}, fmt.Errorf("cover short %s: no short position", symbol)
	}

	shares := pos.AbsShares()
	cost := float64(shares) * exitPrice
	fees := ComputeFees(cost, SideBuy, KindOf(symbol), "").Total
	outlay := cost + fees
	if outlay > p.cash {
		return TradeRecord{}, fmt.Errorf(
			"cover short %s: buyback %.2f exceeds cash %.2f", symbol, outlay, p.cash)
	}
	pnl := pos.CreditRecorded - outlay

	p.cash -= outlay
	delete(p.positions, key)
	p.settle(pnl)

	now := p.now()
	rec := TradeRecord{
		Timestamp: now, Symbol: symbol, Side: SideBuy,
		Shares: shares, Price: exitPrice, Fees: fees, PnL: &pnl,
		Mode: p.mode, Confidence: pos.Confidence, Sector: pos.Sector,
		CashAfter: p.cash, ATR: pos.ATR, TradingDay: p.tradingDay(now),
		Reason: reason,
	}
	p.history = append(p.history, rec)
	p.logger.Printf("covered short %s: %d @ %.2f, pnl %.2f (%s)",
		symbol, shares, exitPrice, pnl, reason)
	return rec, nil
}

// ReduceShort buys back part of a short at exitPrice. The covered
// slice takes a proportional cut of the recorded credit; the remainder
// keeps its entry price. Covering every share behaves like CoverShort.
func (p *Portfolio) ReduceShort(symbol string, shares int, exitPrice float64, reason string) (TradeRecord, error) {
	if exitPrice <= 0 {
		return TradeRecord{}, fmt.Errorf("reduce short %s: invalid price %.2f", symbol, exitPrice)
	}
	if shares <= 0 {
		return TradeRecord{}, fmt.Errorf("reduce short %s: shares must be positive, got %d", symbol, shares)
	}
	key := ShortKey(symbol)

	p.positionMu.Lock()
	defer p.positionMu.Unlock()
	p.cashMu.Lock()
	defer p.cashMu.Unlock()

	pos, ok := p.positions[key]
	if !ok || !pos.IsShort() {
		return TradeRecord{}, fmt.Errorf("reduce short %s: no short position", symbol)
	}
	held := pos.AbsShares()
	if shares > held {
		return TradeRecord{}, fmt.Errorf(
			"reduce short %s: %d shares exceeds position %d", symbol, shares, held)
	}

	cost := float64(shares) * exitPrice
	fees := ComputeFees(cost, SideBuy, KindOf(symbol), "").Total
	outlay := cost + fees
	if outlay > p.cash {
		return TradeRecord{}, fmt.Errorf(
			"reduce short %s: buyback %.2f exceeds cash %.2f", symbol, outlay, p.cash)
	}
	frac := float64(shares) / float64(held)
	creditSlice := pos.CreditRecorded * frac
	investedSlice := pos.InvestedAmount * frac
	pnl := creditSlice - outlay
	remaining := held - shares

	p.cash -= outlay
	if remaining == 0 {
		delete(p.positions, key)
	} else {
		pos.Shares += shares
		pos.InvestedAmount -= investedSlice
		pos.CreditRecorded -= creditSlice
	}
	p.settle(pnl)

	now := p.now()
	rec := TradeRecord{
		Timestamp: now, Symbol: symbol, Side: SideBuy,
		Shares: shares, Price: exitPrice, Fees: fees, PnL: &pnl,
		Mode: p.mode, Confidence: pos.Confidence, Sector: pos.Sector,
		CashAfter: p.cash, ATR: pos.ATR, TradingDay: p.tradingDay(now),
		Reason: reason,
	}
	p.history = append(p.history, rec)
	p.logger.Printf("reduced short %s: covered %d @ %.2f, pnl %.2f, %d remain (%s)",
		symbol, shares, exitPrice, pnl, remaining, reason)
	return rec, nil
}

// settle folds a realised P&L into the aggregate counters. Caller
// holds positionMu.
func (p *Portfolio) settle(pnl float64) {
	p.tradesCount++
	if pnl > 0 {
		p.winningTrades++
	} else {
		p.losingTrades++
	}
	p.totalPnL += pnl
	if p.tradesCount == 1 || pnl > p.bestTrade {
		p.bestTrade = pnl
	}
	if p.tradesCount == 1 || pnl < p.worstTrade {
		p.worstTrade = pnl
	}
}

// UpdateStopLoss raises the stop of a long position. Lowering is
// refused: stops only trail upward.
func (p *Portfolio) UpdateStopLoss(key string, newStop float64) (bool, error) {
	p.positionMu.Lock()
	defer p.positionMu.Unlock()
	pos, ok := p.positions[key]
	if !ok {
		return false, fmt.Errorf("update stop %s: no position", key)
	}
	if pos.IsShort() {
		if newStop < pos.StopLoss {
			pos.StopLoss = newStop
			return true, nil
		}
		return false, nil
	}
	if newStop > pos.StopLoss {
		pos.StopLoss = newStop
		return true, nil
	}
	return false, nil
}

// ObservePrice updates the peak tracker of a position.
func (p *Portfolio) ObservePrice(key string, price float64) {
	p.positionMu.Lock()
	defer p.positionMu.Unlock()
	if pos, ok := p.positions[key]; ok {
		pos.ObservePrice(price)
	}
}

// SetGTTID attaches a protective-order id to a position.
func (p *Portfolio) SetGTTID(key string, gttID int) {
	p.positionMu.Lock()
	defer p.positionMu.Unlock()
	if pos, ok := p.positions[key]; ok {
		pos.GTTID = gttID
	}
}

// History returns a copy of the trade history.
func (p *Portfolio) History() []TradeRecord {
	p.positionMu.Lock()
	defer p.positionMu.Unlock()
	out := make([]TradeRecord, len(p.history))
	copy(out, p.history)
	return out
}

// Stats aggregates the portfolio for telemetry.
func (p *Portfolio) Stats() Stats {
	p.positionMu.Lock()
	defer p.positionMu.Unlock()
	p.cashMu.Lock()
	defer p.cashMu.Unlock()

	var invested float64
	for _, pos := range p.positions {
		invested += pos.InvestedAmount
	}
	return Stats{
		Mode:          p.mode,
		InitialCash:   p.initialCash,
		Cash:          p.cash,
		OpenPositions: len(p.positions),
		Invested:      invested,
		TradesCount:   p.tradesCount,
		WinningTrades: p.winningTrades,
		LosingTrades:  p.losingTrades,
		TotalPnL:      p.totalPnL,
		BestTrade:     p.bestTrade,
		WorstTrade:    p.worstTrade,
	}
}

func validateOpen(params OpenParams) error {
	if params.Symbol == "" {
		return fmt.Errorf("open: empty symbol")
	}
	if params.Shares <= 0 {
		return fmt.Errorf("open %s: shares must be positive, got %d", params.Symbol, params.Shares)
	}
	if params.Price <= 0 {
		return fmt.Errorf("open %s: invalid price %.2f", params.Symbol, params.Price)
	}
	return nil
}
