package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/markcheno/go-talib"

	"github.com/indiquant/kitebot/internal/broker"
	"github.com/indiquant/kitebot/internal/dashboard"
	"github.com/indiquant/kitebot/internal/fno"
	"github.com/indiquant/kitebot/internal/marketdata"
	"github.com/indiquant/kitebot/internal/portfolio"
	"github.com/indiquant/kitebot/internal/risk"
	"github.com/indiquant/kitebot/internal/state"
	"github.com/indiquant/kitebot/internal/strategy"
	"github.com/indiquant/kitebot/internal/util"
)

const (
	// barInterval and barDays are the scan window for signal evaluation.
	barInterval = "5m"
	barDays     = 5
	atrPeriod   = 14

	// entryCutoff blocks new entries this close to the 15:30 close;
	// dayCloseWindow triggers the end-of-day routine.
	entryCutoff    = 20 * time.Minute
	dayCloseWindow = 5 * time.Minute

	// marginFactor approximates NRML margin as a fraction of notional
	// when sizing option structures.
	marginFactor = 0.2
	maxLots      = 5

	riskFreeRate = 0.07
)

// TradingCycle executes one full scan: refresh prices, manage exits,
// run the day-close routine, then look for new entries.
type TradingCycle struct {
	bot *Bot
}

// NewTradingCycle creates the cycle handler.
func NewTradingCycle(bot *Bot) *TradingCycle {
	return &TradingCycle{bot: bot}
}

// candidate is one symbol that cleared the entry thresholds.
type candidate struct {
	symbol   string
	decision strategy.Decision
	strategy string
	price    float64
	atr      float64
}

// Run executes one trading cycle.
func (tc *TradingCycle) Run(ctx context.Context) error {
	b := tc.bot
	now := b.clock.Now()

	day := b.clock.Today()
	if day != b.tradingDay {
		b.logger.Printf("New trading day %s", day)
		b.tradingDay = day
		b.dayClosed = false
	}

	open, reason := b.clock.CanTrade()
	if !open && !b.cfg.Schedule.BypassMarketHours {
		b.logger.Printf("Skipping cycle: %s", reason)
		b.persistState()
		return nil
	}

	regimeState := b.detector.Current()
	b.logger.Printf("Cycle %d: regime=%s bias=%s confidence=%.2f positions=%d cash=%.2f",
		b.iteration, regimeState.Regime, regimeState.Bias, regimeState.Confidence,
		b.pf.OpenPositionCount(), b.pf.Cash())

	tc.refreshPrices(ctx)
	tc.manageExits(ctx, now)

	if !b.dayClosed && b.clock.TimeUntilCloseAt(now) <= dayCloseWindow {
		tc.closeDay(ctx, now)
	} else if open {
		tc.scanEntries(ctx, now, regimeState.Bias)
	}

	b.persistState()
	tc.publish(now, open, regimeState.Regime)
	return nil
}

// refreshPrices batch-fetches quotes for every open position.
func (tc *TradingCycle) refreshPrices(ctx context.Context) {
	b := tc.bot
	positions := b.pf.Positions()
	if len(positions) == 0 {
		return
	}

	seen := make(map[string]bool)
	symbols := make([]string, 0, len(positions))
	for _, pos := range positions {
		if !seen[pos.Symbol] {
			seen[pos.Symbol] = true
			symbols = append(symbols, pos.Symbol)
		}
	}

	quotes := b.provider.FetchQuotes(ctx, symbols)
	for symbol, q := range quotes {
		b.lastPrices[symbol] = q
	}
	for key, pos := range positions {
		if q, ok := quotes[pos.Symbol]; ok {
			b.pf.ObservePrice(key, q.LastPrice)
		}
	}
}

// manageExits updates trailing stops and scores every open position
// for exit. Exits run even when the regime vetoes entries.
func (tc *TradingCycle) manageExits(ctx context.Context, now time.Time) {
	b := tc.bot

	for key, pos := range b.pf.Positions() {
		q, ok := b.lastPrices[pos.Symbol]
		if !ok {
			b.logger.Printf("No price for %s, holding", pos.Symbol)
			continue
		}

		if !pos.IsShort() && pos.ATR > 0 {
			if stop, moved := risk.TrailStop(b.trailing, pos.EntryPrice, q.LastPrice, pos.StopLoss, pos.ATR); moved {
				stop = util.RoundToTick(stop, util.DefaultTick)
				if _, err := b.pf.UpdateStopLoss(key, stop); err != nil {
					b.logger.Printf("Trailing stop update %s failed: %v", key, err)
				} else {
					b.logger.Printf("Trailing stop %s raised to %.2f", key, stop)
				}
			}
		}

		// Re-read: the trailing update may have moved the stop.
		pos, ok = b.pf.Position(key)
		if !ok {
			continue
		}

		decision, err := risk.ScoreExit(b.exitCfg, risk.ExitInputs{
			Position:     pos,
			Price:        q.LastPrice,
			PriceAge:     q.Age(now),
			Now:          now,
			CurrentATR:   tc.currentATR(ctx, pos.Symbol),
			Invalidation: tc.invalidationScore(ctx, pos),
		})
		if err != nil {
			b.logger.Printf("Exit scoring %s failed: %v", key, err)
			continue
		}
		if decision.ShouldExit {
			reason := "exit_score"
			if len(decision.Reasons) > 0 {
				reason = decision.Reasons[0]
			}
			tc.closePosition(ctx, key, pos, q.LastPrice, reason, decision.StopHit, now)
		}
	}
}

// currentATR computes the present ATR for volatility-expansion scoring.
// Zero when bars are unavailable; the exit scorer treats that as
// no-signal.
func (tc *TradingCycle) currentATR(ctx context.Context, symbol string) float64 {
	if fno.IsDerivative(symbol) {
		return 0
	}
	bars := tc.bot.provider.FetchOHLCV(ctx, symbol, barInterval, barDays)
	return atrOf(bars)
}

// invalidationScore runs the roster in exit mode against the position
// direction. A confident opposing vote scores high.
func (tc *TradingCycle) invalidationScore(ctx context.Context, pos portfolio.Position) float64 {
	if fno.IsDerivative(pos.Symbol) {
		return 0
	}
	b := tc.bot
	bars := b.provider.FetchOHLCV(ctx, pos.Symbol, barInterval, barDays)
	if len(bars) == 0 {
		return 0
	}
	outputs := make([]strategy.Signal, 0, len(b.roster))
	for _, s := range b.roster {
		outputs = append(outputs, s.Evaluate(bars, pos.Symbol))
	}
	dec := b.aggregator.Aggregate(outputs, true, "")
	opposing := (pos.IsShort() && dec.Action == strategy.ActionBuy) ||
		(!pos.IsShort() && dec.Action == strategy.ActionSell)
	if !opposing {
		return 0
	}
	return dec.Confidence
}

// closePosition unwinds one position: live orders go through the
// executor, and the protective stop is cancelled only after the close
// has filled.
func (tc *TradingCycle) closePosition(ctx context.Context, key string, pos portfolio.Position, price float64, reason string, stopHit bool, now time.Time) {
	b := tc.bot
	exitPrice := price

	if b.pf.Mode() == portfolio.ModeLive {
		side := broker.TransactionSell
		if pos.IsShort() {
			side = broker.TransactionBuy
		}
		fill, err := b.executor.Execute(ctx, broker.OrderParams{
			Exchange:        marketdata.ExchangeFor(pos.Symbol),
			TradingSymbol:   pos.Symbol,
			TransactionType: side,
			Quantity:        pos.AbsShares(),
			OrderType:       broker.OrderTypeMarket,
			Product:         pos.Product,
			Validity:        broker.ValidityDay,
		})
		if err != nil {
			b.logger.Printf("Close order %s failed: %v", key, err)
			return
		}
		exitPrice = fill.Price
		if fill.Quantity < pos.AbsShares() {
			tc.reducePosition(key, pos, fill.Quantity, exitPrice, reason)
			return
		}
	}

	var rec portfolio.TradeRecord
	var err error
	if pos.IsShort() {
		rec, err = b.pf.CoverShort(pos.Symbol, exitPrice, reason)
	} else {
		rec, err = b.pf.CloseLong(pos.Symbol, exitPrice, reason)
	}
	if err != nil {
		b.logger.Printf("Close %s failed: %v", key, err)
		return
	}

	// The GTT is removed only after the close has actually filled, so
	// the position is never unprotected while still open.
	if pos.GTTID != 0 && b.pf.Mode() == portfolio.ModeLive {
		if err := b.executor.CancelProtectiveStop(ctx, pos.GTTID); err != nil {
			b.logger.Printf("Warning: %v", err)
		}
	}

	b.cooldowns.RecordExit(pos.Symbol, stopHit, now)
	if err := b.state.AppendTrade(rec); err != nil {
		b.logger.Printf("Trade log append failed: %v", err)
	}
	b.sink.SendTrade(rec)
	b.logger.Printf("Closed %s at %.2f (%s)", key, exitPrice, reason)
}

// reducePosition books a partial close fill: only the filled quantity
// leaves the position, cash is credited for the filled shares alone,
// and the remainder stays open under its protective stop. The next
// cycle scores the remainder again and retries the close.
func (tc *TradingCycle) reducePosition(key string, pos portfolio.Position, filled int, exitPrice float64, reason string) {
	b := tc.bot
	b.logger.Printf("Close %s filled %d of %d, reducing by the filled quantity", key, filled, pos.AbsShares())

	var rec portfolio.TradeRecord
	var err error
	if pos.IsShort() {
		rec, err = b.pf.ReduceShort(pos.Symbol, filled, exitPrice, reason)
	} else {
		rec, err = b.pf.ReduceLong(pos.Symbol, filled, exitPrice, reason)
	}
	if err != nil {
		b.logger.Printf("CRITICAL: booking partial close %s failed: %v", key, err)
		return
	}

	if err := b.state.AppendTrade(rec); err != nil {
		b.logger.Printf("Trade log append failed: %v", err)
	}
	b.sink.SendTrade(rec)
	b.logger.Printf("Partially closed %s: %d @ %.2f, %d remain open (%s)",
		key, filled, exitPrice, pos.AbsShares()-filled, reason)
}

// scanEntries evaluates the universe in batches and opens the top
// candidates.
func (tc *TradingCycle) scanEntries(ctx context.Context, now time.Time, bias string) {
	b := tc.bot

	if b.pf.OpenPositionCount() >= b.cfg.Capital.MaxPositions {
		return
	}
	if b.clock.TimeUntilCloseAt(now) <= entryCutoff {
		b.logger.Println("Within entry cutoff before close, no new entries")
		return
	}

	var candidates []candidate
	symbols := b.cfg.Universe.Symbols
	batch := b.cfg.Universe.BatchSize
	for start := 0; start < len(symbols); start += batch {
		end := start + batch
		if end > len(symbols) {
			end = len(symbols)
		}
		for _, symbol := range symbols[start:end] {
			if c, ok := tc.evaluateSymbol(ctx, symbol, bias, now); ok {
				candidates = append(candidates, c)
			}
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].decision.Confidence > candidates[j].decision.Confidence
	})
	if len(candidates) > b.cfg.Signals.TopN {
		candidates = candidates[:b.cfg.Signals.TopN]
	}

	for _, c := range candidates {
		if b.pf.OpenPositionCount() >= b.cfg.Capital.MaxPositions {
			return
		}
		if err := tc.enter(ctx, c, now); err != nil {
			b.logger.Printf("Entry %s rejected: %v", c.symbol, err)
		}
	}
}

// evaluateSymbol runs the roster on one symbol and applies the entry
// thresholds and per-symbol guards.
func (tc *TradingCycle) evaluateSymbol(ctx context.Context, symbol, bias string, now time.Time) (candidate, bool) {
	b := tc.bot

	if _, held := b.pf.Position(symbol); held {
		return candidate{}, false
	}
	if !b.cooldowns.CanEnter(symbol, now) {
		return candidate{}, false
	}

	bars := b.provider.FetchOHLCV(ctx, symbol, barInterval, barDays)
	if len(bars) == 0 {
		return candidate{}, false
	}

	outputs := make([]strategy.Signal, 0, len(b.roster))
	for _, s := range b.roster {
		outputs = append(outputs, s.Evaluate(bars, symbol))
	}
	dec := b.aggregator.Aggregate(outputs, false, bias)
	if dec.Action != strategy.ActionBuy || dec.Confidence < b.cfg.Signals.MinConfidence {
		return candidate{}, false
	}

	b.sink.SendSignal(dashboard.SignalEvent{
		Timestamp:  now,
		Symbol:     symbol,
		Action:     dec.Action,
		Confidence: dec.Confidence,
		Reasons:    dec.Reasons,
		Regime:     bias,
	})

	return candidate{
		symbol:   symbol,
		decision: dec,
		strategy: dominantStrategy(b.roster, outputs),
		price:    bars[len(bars)-1].Close,
		atr:      atrOf(bars),
	}, true
}

// enter opens a position for one candidate: index underlyings become
// option structures, everything else is a cash equity long.
func (tc *TradingCycle) enter(ctx context.Context, c candidate, now time.Time) error {
	b := tc.bot

	if err := b.pf.CheckCorrelation(c.symbol); err != nil {
		return err
	}
	if err := b.pf.CheckConcentration(c.strategy); err != nil {
		return err
	}

	if b.cfg.FNO.Enabled {
		if _, err := fno.LotSize(c.symbol); err == nil {
			return tc.enterOptionStructure(ctx, c, now)
		}
	}
	return tc.enterEquity(ctx, c)
}

// enterEquity opens a sized long with ATR brackets and, in live mode,
// a broker-side protective stop.
func (tc *TradingCycle) enterEquity(ctx context.Context, c candidate) error {
	b := tc.bot

	q, ok := b.provider.FetchQuote(ctx, c.symbol)
	if !ok {
		return fmt.Errorf("no quote for %s", c.symbol)
	}
	if c.atr <= 0 {
		return fmt.Errorf("no ATR for %s", c.symbol)
	}

	plan, err := risk.SizeEntry(b.sizing, q.LastPrice, c.atr, c.decision.Confidence, b.pf.Cash())
	if err != nil {
		return err
	}

	entryPrice := q.LastPrice
	shares := plan.Shares
	if b.pf.Mode() == portfolio.ModeLive {
		fill, err := b.executor.Execute(ctx, broker.OrderParams{
			Exchange:        marketdata.ExchangeFor(c.symbol),
			TradingSymbol:   c.symbol,
			TransactionType: broker.TransactionBuy,
			Quantity:        shares,
			OrderType:       broker.OrderTypeMarket,
			Product:         broker.ProductMIS,
			Validity:        broker.ValidityDay,
		})
		if err != nil {
			return err
		}
		entryPrice = fill.Price
		shares = fill.Quantity
	}

	pos, rec, err := b.pf.OpenLong(portfolio.OpenParams{
		Symbol:     c.symbol,
		Shares:     shares,
		Price:      entryPrice,
		StopLoss:   util.RoundToTick(entryPrice-plan.StopDistance, util.DefaultTick),
		TakeProfit: util.RoundToTick(entryPrice+plan.TargetDistance, util.DefaultTick),
		Confidence: c.decision.Confidence,
		Strategy:   c.strategy,
		ATR:        c.atr,
		Product:    broker.ProductMIS,
	})
	if err != nil {
		return err
	}

	if b.pf.Mode() == portfolio.ModeLive {
		if _, err := b.executor.PlaceProtectiveStop(ctx, c.symbol, pos, marketdata.ExchangeFor(c.symbol)); err != nil {
			b.logger.Printf("Warning: protective stop for %s failed: %v", c.symbol, err)
		}
	}

	if err := b.state.AppendTrade(rec); err != nil {
		b.logger.Printf("Trade log append failed: %v", err)
	}
	b.sink.SendTrade(rec)
	b.logger.Printf("Opened %s x%d at %.2f (conf %.2f, %s)",
		c.symbol, shares, entryPrice, c.decision.Confidence, c.strategy)
	return nil
}

// enterOptionStructure expresses an index signal as a multi-leg option
// position. All legs open inside one transaction; any failed leg rolls
// the whole structure back.
func (tc *TradingCycle) enterOptionStructure(ctx context.Context, c candidate, now time.Time) error {
	b := tc.bot
	underlying := c.symbol

	spotQuote, ok := b.provider.FetchQuote(ctx, underlying)
	if !ok {
		return fmt.Errorf("no spot quote for %s", underlying)
	}
	spot := spotQuote.LastPrice

	chain, err := tc.buildChain(ctx, underlying, spot, now)
	if err != nil {
		return err
	}

	regimeState := b.detector.Current()
	atmIV := 0.0
	if atm, err := chain.ATMStrike(); err == nil {
		atmIV = (chain.Calls[atm].ImpliedVolatility + chain.Puts[atm].ImpliedVolatility) / 2
	}
	selection := fno.SelectStrategy(fno.MarketState{
		Regime:           regimeState.Regime,
		RegimeConfidence: regimeState.Confidence,
		IVRegime:         fno.ClassifyIV(atmIV, b.referenceIV(underlying, atmIV)),
		TrendStrength:    regimeState.TrendStrength(),
		LiquidityScore:   chain.LiquidityScore(),
	})
	b.logger.Printf("F&O %s: %s (%s)", underlying, selection.Strategy, selection.Rationale)

	lots := tc.sizeLots(spot, chain.LotSize, c.decision.Confidence)
	if lots == 0 {
		return fmt.Errorf("cash %.2f cannot carry one lot of %s", b.pf.Cash(), underlying)
	}
	legs, err := fno.BuildLegs(chain, selection.Strategy, lots)
	if err != nil {
		return err
	}

	tx := b.pf.Begin()
	defer tx.Rollback()

	for _, leg := range legs {
		if err := tc.openLeg(ctx, leg, c.decision.Confidence, string(selection.Strategy)); err != nil {
			b.logger.Printf("Leg %s failed, rolling back structure: %v", leg.Symbol, err)
			if b.pf.Mode() == portfolio.ModeLive {
				b.logger.Printf("CRITICAL: partially filled structure on %s, manual unwind may be required", underlying)
			}
			return err
		}
	}
	tx.Commit()
	b.logger.Printf("Opened %s %s: %d legs x%d lots", underlying, selection.Strategy, len(legs), lots)
	return nil
}

// buildChain assembles the option chain for the nearest expiry.
func (tc *TradingCycle) buildChain(ctx context.Context, underlying string, spot float64, now time.Time) (*fno.Chain, error) {
	b := tc.bot
	exchange := fno.Exchange(underlying)

	instruments, err := b.broker.Instruments(ctx, exchange)
	if err != nil {
		return nil, fmt.Errorf("instrument dump %s: %w", exchange, err)
	}

	var rows []broker.Instrument
	var expiries []time.Time
	for _, inst := range instruments {
		if inst.InstrumentType != "CE" && inst.InstrumentType != "PE" {
			continue
		}
		if u, ok := fno.UnderlyingOf(inst.TradingSymbol); !ok || u != underlying {
			continue
		}
		rows = append(rows, inst)
		expiries = append(expiries, inst.Expiry)
	}
	expiry, err := fno.SelectExpiry(expiries, now)
	if err != nil {
		return nil, fmt.Errorf("chain %s: %w", underlying, err)
	}

	// Quote only the strikes near spot to keep the batch bounded.
	var keys []string
	near := make([]broker.Instrument, 0, len(rows))
	for _, inst := range rows {
		if !sameDay(inst.Expiry, expiry) {
			continue
		}
		if inst.Strike < spot*0.95 || inst.Strike > spot*1.05 {
			continue
		}
		near = append(near, inst)
		keys = append(keys, inst.TradingSymbol)
	}
	quotes := b.provider.FetchQuotes(ctx, keys)

	keyed := make(map[string]broker.Quote, len(quotes))
	for symbol, q := range quotes {
		keyed[exchange+":"+symbol] = q
	}
	return fno.BuildChain(underlying, spot, expiry, near, keyed, riskFreeRate, b.cfg.FNO.MaxChainContracts), nil
}

func sameDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month() && a.Day() == b.Day()
}

// referenceIV is the rolling IV baseline for the regime classifier.
// Seeded with the first observation per underlying, then smoothed.
func (b *Bot) referenceIV(underlying string, atmIV float64) float64 {
	if atmIV <= 0 {
		return 0
	}
	key := "refiv:" + underlying
	if v, ok := b.cache.Get(key); ok {
		prev := v.(float64)
		next := prev*0.9 + atmIV*0.1
		b.cache.SetWithTTL(key, next, 24*time.Hour)
		return prev
	}
	b.cache.SetWithTTL(key, atmIV, 24*time.Hour)
	return atmIV
}

// sizeLots converts the confidence tier into whole lots against an
// NRML margin proxy.
func (tc *TradingCycle) sizeLots(spot float64, lotSize int, confidence float64) int {
	b := tc.bot
	if spot <= 0 || lotSize <= 0 {
		return 0
	}
	tier := b.sizing.MinPositionSize
	switch {
	case confidence >= 0.7:
		tier = b.sizing.MaxPositionSize
	case confidence >= 0.5:
		tier = b.sizing.MidPositionSize
	}
	marginPerLot := spot * float64(lotSize) * marginFactor
	lots := int(b.pf.Cash() * tier / marginPerLot)
	if lots > maxLots {
		lots = maxLots
	}
	return lots
}

// openLeg opens one leg of an option structure with premium-based
// brackets: long legs risk half the premium, short legs are covered
// back if the premium doubles.
func (tc *TradingCycle) openLeg(ctx context.Context, leg fno.Leg, confidence float64, strategyName string) error {
	b := tc.bot
	price := leg.Price

	if b.pf.Mode() == portfolio.ModeLive {
		side := broker.TransactionBuy
		if leg.Side == "SELL" {
			side = broker.TransactionSell
		}
		fill, err := b.executor.Execute(ctx, broker.OrderParams{
			Exchange:        marketdata.ExchangeFor(leg.Symbol),
			TradingSymbol:   leg.Symbol,
			TransactionType: side,
			Quantity:        leg.Quantity,
			OrderType:       broker.OrderTypeMarket,
			Product:         broker.ProductNRML,
			Validity:        broker.ValidityDay,
		})
		if err != nil {
			return err
		}
		price = fill.Price
	}

	params := portfolio.OpenParams{
		Symbol:     leg.Symbol,
		Shares:     leg.Quantity,
		Price:      price,
		Confidence: confidence,
		Strategy:   strategyName,
		Product:    broker.ProductNRML,
	}

	var rec portfolio.TradeRecord
	var err error
	if leg.Side == "SELL" {
		params.StopLoss = util.RoundToTick(price*2, util.DefaultTick)
		params.TakeProfit = util.FloorToTick(price*0.5, util.DefaultTick)
		_, rec, err = b.pf.OpenShort(params)
	} else {
		params.StopLoss = util.FloorToTick(price*0.5, util.DefaultTick)
		params.TakeProfit = util.RoundToTick(price*2, util.DefaultTick)
		_, rec, err = b.pf.OpenLong(params)
	}
	if err != nil {
		return err
	}

	if logErr := b.state.AppendTrade(rec); logErr != nil {
		b.logger.Printf("Trade log append failed: %v", logErr)
	}
	b.sink.SendTrade(rec)
	return nil
}

// closeDay liquidates contracts expiring today and archives the day.
// It runs exactly once per trading day.
func (tc *TradingCycle) closeDay(ctx context.Context, now time.Time) {
	b := tc.bot
	b.logger.Printf("Day-close routine for %s", b.tradingDay)

	expiring, unparseable := risk.ExpiringKeys(b.pf.Positions(), now, b.clock.Location())
	for _, key := range unparseable {
		b.logger.Printf("CRITICAL: cannot parse expiry of %s, manual intervention required", key)
	}
	for _, key := range expiring {
		pos, ok := b.pf.Position(key)
		if !ok {
			continue
		}
		q, hasPrice := b.lastPrices[pos.Symbol]
		if !hasPrice {
			b.logger.Printf("CRITICAL: expiring %s has no price, cannot liquidate", key)
			continue
		}
		tc.closePosition(ctx, key, pos, q.LastPrice, "expiry_day_close", false, now)
	}

	prices := make(map[string]float64, len(b.lastPrices))
	for symbol, q := range b.lastPrices {
		prices[symbol] = q.LastPrice
	}
	err := b.state.ArchiveDay(state.CurrentState{
		Mode:           b.pf.Mode(),
		Iteration:      b.iteration,
		TradingDay:     b.tradingDay,
		Portfolio:      b.pf.TakeSnapshot(),
		Cooldowns:      b.cooldowns.Snapshot(),
		LastPrices:     prices,
		DayClosed:      true,
		LastArchiveDay: b.tradingDay,
	})
	if err != nil {
		b.logger.Printf("Day archive failed: %v", err)
	} else {
		b.lastArchiveDay = b.tradingDay
	}
	if err := b.state.ArchiveTrades(b.tradingDay, b.pf.Mode()); err != nil {
		b.logger.Printf("Trade archive failed: %v", err)
	}

	b.sink.SendTradeHistory(b.pf.History())
	b.sink.SendPerformance(b.pf.Stats())
	b.dayClosed = true
}

// publish pushes the per-iteration telemetry.
func (tc *TradingCycle) publish(now time.Time, open bool, regimeName string) {
	b := tc.bot
	if b.sink == nil {
		return
	}

	positions := b.pf.Positions()
	keys := make([]string, 0, len(positions))
	for k := range positions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	list := make([]portfolio.Position, 0, len(keys))
	for _, k := range keys {
		list = append(list, positions[k])
	}

	b.sink.SendPortfolio(dashboard.PortfolioUpdate{
		Timestamp:     now,
		Mode:          b.pf.Mode(),
		Cash:          b.pf.Cash(),
		OpenPositions: len(list),
		Positions:     list,
	})
	b.sink.SendStatus(dashboard.StatusUpdate{
		Timestamp:    now,
		Mode:         b.pf.Mode(),
		Iteration:    b.iteration,
		TradingDay:   b.tradingDay,
		MarketOpen:   open,
		Regime:       regimeName,
		BreakerState: b.guard.State(),
	})
}

// atrOf computes the latest 14-period ATR from bars.
func atrOf(bars []broker.Bar) float64 {
	if len(bars) <= atrPeriod {
		return 0
	}
	high := make([]float64, len(bars))
	low := make([]float64, len(bars))
	closes := make([]float64, len(bars))
	for i, bar := range bars {
		high[i], low[i], closes[i] = bar.High, bar.Low, bar.Close
	}
	atr := talib.Atr(high, low, closes, atrPeriod)
	return atr[len(atr)-1]
}

// dominantStrategy names the strongest strategy agreeing with the
// aggregate action, for concentration accounting.
func dominantStrategy(roster []strategy.Strategy, outputs []strategy.Signal) string {
	best := ""
	bestStrength := 0.0
	for i, sig := range outputs {
		if sig.Direction == strategy.DirectionBuy && sig.Strength > bestStrength {
			best = roster[i].Name()
			bestStrength = sig.Strength
		}
	}
	if best == "" {
		return "ensemble"
	}
	return best
}
