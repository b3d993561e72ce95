// Command bot runs the intraday trading engine: it scans the
// configured universe on a fixed cadence, manages entries, exits and
// protective stops, and persists state after every iteration.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/indiquant/kitebot/internal/broker"
	"github.com/indiquant/kitebot/internal/cache"
	"github.com/indiquant/kitebot/internal/config"
	"github.com/indiquant/kitebot/internal/dashboard"
	"github.com/indiquant/kitebot/internal/market"
	"github.com/indiquant/kitebot/internal/marketdata"
	"github.com/indiquant/kitebot/internal/portfolio"
	"github.com/indiquant/kitebot/internal/ratelimit"
	"github.com/indiquant/kitebot/internal/regime"
	"github.com/indiquant/kitebot/internal/risk"
	"github.com/indiquant/kitebot/internal/state"
	"github.com/indiquant/kitebot/internal/strategy"
)

// Bot wires every component of the engine together and owns the main
// loop. All trading decisions happen inside TradingCycle; Bot handles
// lifecycle, scheduling and persistence.
type Bot struct {
	cfg    *config.Config
	logger *log.Logger

	broker     broker.Broker
	clock      *market.Clock
	cache      *cache.TTL
	provider   *marketdata.Provider
	pf         *portfolio.Portfolio
	executor   *portfolio.Executor
	reconciler *portfolio.Reconciler
	detector   *regime.Detector
	roster     []strategy.Strategy
	aggregator *strategy.Aggregator
	cooldowns  *risk.CooldownTracker
	guard      *ratelimit.Guard
	state      *state.Manager
	sink       *dashboard.Sink

	sizing   risk.SizingConfig
	trailing risk.TrailingConfig
	exitCfg  risk.ExitConfig

	iteration      int
	tradingDay     string
	dayClosed      bool
	lastArchiveDay string
	lastPrices     map[string]broker.Quote

	stop chan struct{}
}

func main() {
	// Secrets come from .env in development; a missing file is fine.
	_ = godotenv.Load()

	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := log.New(os.Stdout, "[BOT] ", log.LstdFlags)
	logger.Printf("Starting trading engine in %s mode", cfg.Environment.Mode)
	if cfg.IsLive() {
		logger.Println("LIVE TRADING MODE - real orders will be placed")
		logger.Println("Waiting 10 seconds to confirm...")
		time.Sleep(10 * time.Second)
	}

	bot, err := newBot(cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Println("Shutdown signal received, stopping...")
		close(bot.stop)
		cancel()
	}()

	if err := bot.Run(ctx); err != nil {
		logger.Fatalf("Engine error: %v", err)
	}
	logger.Println("Engine stopped")
}

// newBot builds the full component graph from configuration.
func newBot(cfg *config.Config, logger *log.Logger) (*Bot, error) {
	var b broker.Broker
	if cfg.IsLive() || cfg.Broker.AccessToken != "" {
		kite := broker.NewKiteClient(cfg.Broker.APIKey, cfg.Broker.AccessToken, cfg.Broker.APIEndpoint)
		b = broker.NewCircuitBreakerBroker(kite, logger)
	} else {
		// Paper mode without credentials runs against the mock.
		b = broker.NewMockBroker()
	}

	limiter := ratelimit.NewLimiter(ratelimit.Config{
		PerSecond: cfg.RateLimit.PerSecond,
		PerMinute: cfg.RateLimit.PerMinute,
		Burst:     cfg.RateLimit.Burst,
	})
	quoteCache := cache.New(cfg.Cache.PriceTTL, 10_000)
	provider := marketdata.NewProvider(b, limiter, quoteCache, logger, marketdata.Options{
		PriceTTL:      cfg.Cache.PriceTTL,
		InstrumentTTL: cfg.Cache.InstrumentTTL,
	})

	clock := market.NewClock()
	pf := portfolio.New(cfg.Environment.Mode, cfg.Capital.InitialCapital, logger)
	// Trading-day stamps must roll over on the IST boundary, not the
	// host timezone's.
	pf.SetClock(clock.Now)

	sizing := risk.DefaultSizing()
	sizing.RiskPerTrade = cfg.Risk.RiskPerTradePct
	sizing.ATRStopMult = cfg.Risk.ATRStopMultiplier
	sizing.ATRTargetMult = cfg.Risk.ATRTargetMultiplier
	sizing.MinPositionSize = cfg.Capital.MinPositionSize
	sizing.MidPositionSize = cfg.Capital.MidPositionSize
	sizing.MaxPositionSize = cfg.Capital.MaxPositionSize

	trailing := risk.DefaultTrailing()
	trailing.ActivationMult = cfg.Risk.TrailingActivationMul
	trailing.StopMult = cfg.Risk.TrailingStopMul

	exitCfg := risk.DefaultExit()
	exitCfg.Threshold = cfg.Risk.ExitScoreThreshold

	stateMgr, err := state.NewManager(cfg.State.Root, cfg.State.ArchiveRoot, cfg.State.BackupRoot, logger)
	if err != nil {
		return nil, fmt.Errorf("state manager: %w", err)
	}

	aggregator := strategy.NewAggregator()
	aggregator.MinAgreement = cfg.Signals.MinAgreement

	bot := &Bot{
		cfg:        cfg,
		logger:     logger,
		broker:     b,
		clock:      clock,
		cache:      quoteCache,
		provider:   provider,
		pf:         pf,
		executor:   portfolio.NewExecutor(b, pf, logger, portfolio.ExecutorOptions{}),
		reconciler: portfolio.NewReconciler(b, pf, logger),
		detector:   regime.NewDetector(provider, cfg.Universe.RegimeIndex, logger),
		roster:     strategy.Roster(),
		aggregator: aggregator,
		cooldowns: risk.NewCooldownTracker(
			time.Duration(cfg.Risk.CooldownMinutes)*time.Minute,
			time.Duration(cfg.Risk.StopLossCooldownMin)*time.Minute,
		),
		guard:      ratelimit.NewGuard(ratelimit.GuardSettings{}, logger),
		state:      stateMgr,
		sizing:     sizing,
		trailing:   trailing,
		exitCfg:    exitCfg,
		lastPrices: make(map[string]broker.Quote),
		stop:       make(chan struct{}),
	}

	if cfg.Dashboard.Enabled {
		bot.sink = dashboard.NewSink(dashboard.SinkOptions{
			BaseURL:        cfg.Dashboard.BaseURL,
			SendTimeout:    cfg.Dashboard.SendTimeout,
			BreakerTimeout: cfg.Dashboard.CircuitBreakerTimeout,
		}, logger)
	}

	return bot, nil
}

// Run restores state, starts the background jobs and drives the main
// loop until shutdown or the iteration cap.
func (b *Bot) Run(ctx context.Context) error {
	if err := b.restoreState(); err != nil {
		return err
	}

	if err := b.provider.RebuildInstruments(ctx); err != nil {
		b.logger.Printf("Warning: initial instrument rebuild failed: %v", err)
	}
	b.detector.Refresh(ctx)

	if b.pf.Mode() == portfolio.ModeLive {
		if err := b.reconciler.Sync(ctx); err != nil {
			b.logger.Printf("Warning: startup reconciliation failed: %v", err)
		}
	}

	var statusServer *dashboard.Server
	if b.cfg.Dashboard.ServerPort > 0 {
		srvLog := logrus.New()
		if b.cfg.Environment.LogLevel != "debug" {
			srvLog.SetOutput(io.Discard)
		}
		statusServer = dashboard.NewServer(b.cfg.Dashboard.ServerPort, b.pf, b.statusUpdate, srvLog)
		statusServer.Start()
	}

	jobs := b.startCron(ctx)
	defer func() {
		jobsCtx := jobs.Stop()
		<-jobsCtx.Done()
		if statusServer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = statusServer.Shutdown(shutdownCtx)
		}
		b.persistState()
		b.sink.Drain()
	}()

	cycle := NewTradingCycle(b)
	ticker := time.NewTicker(b.cfg.Schedule.CheckInterval)
	defer ticker.Stop()

	b.runOnce(ctx, cycle)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-b.stop:
			return nil
		case <-ticker.C:
			if b.iteration >= b.cfg.Schedule.MaxIterations {
				b.logger.Printf("Iteration cap %d reached, stopping", b.cfg.Schedule.MaxIterations)
				return nil
			}
			b.runOnce(ctx, cycle)
		}
	}
}

// runOnce executes one guarded trading cycle. Panics are converted to
// errors so a bad iteration trips the guard instead of killing the
// process.
func (b *Bot) runOnce(ctx context.Context, cycle *TradingCycle) {
	if !b.guard.CanProceed() {
		b.logger.Printf("Iteration guard open (%s), skipping cycle", b.guard.State())
		return
	}

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("cycle panic: %v", r)
			}
		}()
		return cycle.Run(ctx)
	}()

	b.guard.Record(err)
	if err != nil {
		b.logger.Printf("Cycle %d failed: %v", b.iteration, err)
		time.Sleep(5 * time.Second)
	}
	b.iteration++
}

// startCron schedules the background maintenance jobs.
func (b *Bot) startCron(ctx context.Context) *cron.Cron {
	c := cron.New()
	_, _ = c.AddFunc("@every 30s", func() {
		b.cache.Sweep()
	})
	_, _ = c.AddFunc("@every 5m", func() {
		b.detector.Refresh(ctx)
	})
	_, _ = c.AddFunc("@every 30m", func() {
		if err := b.provider.RebuildInstruments(ctx); err != nil {
			b.logger.Printf("Instrument rebuild failed: %v", err)
		}
	})
	if b.pf.Mode() == portfolio.ModeLive {
		_, _ = c.AddFunc("@every 10m", func() {
			if err := b.reconciler.Sync(ctx); err != nil {
				b.logger.Printf("Reconciliation failed: %v", err)
			}
		})
	}
	c.Start()
	return c
}

// restoreState loads the last snapshot if it matches the current mode.
func (b *Bot) restoreState() error {
	restored, err := b.state.Restore(b.pf.Mode())
	if err != nil {
		return fmt.Errorf("restore state: %w", err)
	}
	if restored == nil {
		b.logger.Println("No prior state, starting fresh")
		b.tradingDay = b.clock.Today()
		return nil
	}

	b.pf.RestoreSnapshot(restored.Portfolio)
	b.cooldowns.Restore(restored.Cooldowns, b.clock.Now())
	b.iteration = restored.Iteration
	b.tradingDay = restored.TradingDay
	b.dayClosed = restored.DayClosed
	b.lastArchiveDay = restored.LastArchiveDay
	for symbol, price := range restored.LastPrices {
		b.lastPrices[symbol] = broker.Quote{Symbol: symbol, LastPrice: price, AsOf: restored.SavedAt}
	}
	b.logger.Printf("Restored state: iteration %d, day %s, %d positions, cash %.2f",
		b.iteration, b.tradingDay, b.pf.OpenPositionCount(), b.pf.Cash())
	return nil
}

// persistState writes the crash-safe snapshot.
func (b *Bot) persistState() {
	prices := make(map[string]float64, len(b.lastPrices))
	for symbol, q := range b.lastPrices {
		prices[symbol] = q.LastPrice
	}
	err := b.state.Save(state.CurrentState{
		Mode:           b.pf.Mode(),
		Iteration:      b.iteration,
		TradingDay:     b.tradingDay,
		Portfolio:      b.pf.TakeSnapshot(),
		Cooldowns:      b.cooldowns.Snapshot(),
		LastPrices:     prices,
		DayClosed:      b.dayClosed,
		LastArchiveDay: b.lastArchiveDay,
	})
	if err != nil {
		b.logger.Printf("CRITICAL: state save failed: %v", err)
	}
}

// statusUpdate feeds the local status server and the dashboard sink.
func (b *Bot) statusUpdate() dashboard.StatusUpdate {
	open, _ := b.clock.CanTrade()
	return dashboard.StatusUpdate{
		Timestamp:    b.clock.Now(),
		Mode:         b.pf.Mode(),
		Iteration:    b.iteration,
		TradingDay:   b.tradingDay,
		MarketOpen:   open,
		Regime:       b.detector.Current().Regime,
		BreakerState: b.guard.State(),
	}
}
