// Package marketdata fetches quotes and historical bars from the broker
// with caching, throttling and retry, and maintains the instrument
// token lookup.
package marketdata

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/indiquant/kitebot/internal/broker"
	"github.com/indiquant/kitebot/internal/cache"
	"github.com/indiquant/kitebot/internal/fno"
	"github.com/indiquant/kitebot/internal/ratelimit"
)

// Candle intervals accepted by FetchOHLCV, mapped to the broker's
// interval names.
var intervals = map[string]string{
	"5m":  "5minute",
	"10m": "10minute",
	"15m": "15minute",
	"30m": "30minute",
	"60m": "60minute",
	"1d":  "day",
}

// missingTokenRetry is how long a symbol with no instrument token stays
// blacklisted before the provider probes it again.
const missingTokenRetry = 30 * time.Minute

// fetchAttempts caps retries on a failing broker call.
const fetchAttempts = 3

// retryBackoffBase is the first retry delay; doubles per attempt.
const retryBackoffBase = 500 * time.Millisecond

// instrumentRef is the resolved routing for one trading symbol.
type instrumentRef struct {
	Exchange string
	Token    uint32
	LotSize  int
}

// Options configures a Provider.
type Options struct {
	PriceTTL      time.Duration // quote cache TTL, default 60s
	InstrumentTTL time.Duration // instrument map TTL, default 30min
	BarTTL        time.Duration // OHLCV cache TTL, default PriceTTL
	MaxStaleness  time.Duration // quote age beyond which it is dropped, default 120s
}

func (o *Options) defaults() {
	if o.PriceTTL <= 0 {
		o.PriceTTL = 60 * time.Second
	}
	if o.InstrumentTTL <= 0 {
		o.InstrumentTTL = 30 * time.Minute
	}
	if o.BarTTL <= 0 {
		o.BarTTL = o.PriceTTL
	}
	if o.MaxStaleness <= 0 {
		o.MaxStaleness = 120 * time.Second
	}
}

// Provider is the data access layer for the trading loop. All errors
// are recoverable: callers get empty results and decide what to do.
type Provider struct {
	broker  broker.Broker
	limiter *ratelimit.Limiter
	cache   *cache.TTL
	logger  *log.Logger
	opts    Options

	mu            sync.RWMutex
	instruments   map[string]instrumentRef // "EXCHANGE:SYMBOL" -> ref
	lastRebuild   time.Time
	missingTokens map[string]time.Time // symbol -> first seen missing

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) bool
}

// NewProvider builds a Provider over a shared broker client, limiter
// and cache.
func NewProvider(b broker.Broker, limiter *ratelimit.Limiter, c *cache.TTL, logger *log.Logger, opts Options) *Provider {
	opts.defaults()
	if logger == nil {
		logger = log.Default()
	}
	return &Provider{
		broker:        b,
		limiter:       limiter,
		cache:         c,
		logger:        logger,
		opts:          opts,
		instruments:   make(map[string]instrumentRef),
		missingTokens: make(map[string]time.Time),
		now:           time.Now,
		sleep: func(ctx context.Context, d time.Duration) bool {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return false
			case <-t.C:
				return true
			}
		},
	}
}

// ExchangeFor routes a symbol to its exchange segment: derivatives go
// to NFO/BFO by underlying, everything else to NSE.
func ExchangeFor(symbol string) string {
	if fno.IsDerivative(symbol) {
		if u, ok := fno.UnderlyingOf(symbol); ok {
			return fno.Exchange(u)
		}
		// Unknown underlying, stock derivative: NSE F&O segment.
		return broker.ExchangeNFO
	}
	return broker.ExchangeNSE
}

// quoteKey is the broker wire key for a symbol.
func quoteKey(symbol string) string {
	return ExchangeFor(symbol) + ":" + symbol
}

// RebuildInstruments refreshes the instrument lookup map from the
// broker's instrument dumps. Routing recorded here overrides the
// suffix heuristic in ExchangeFor.
func (p *Provider) RebuildInstruments(ctx context.Context) error {
	fresh := make(map[string]instrumentRef)
	for _, exchange := range []string{broker.ExchangeNSE, broker.ExchangeNFO, broker.ExchangeBFO} {
		if !p.acquire(ctx) {
			return fmt.Errorf("rate limit acquire failed for instrument dump %s", exchange)
		}
		rows, err := p.broker.Instruments(ctx, exchange)
		if err != nil {
			return fmt.Errorf("fetch instruments for %s: %w", exchange, err)
		}
		for _, row := range rows {
			fresh[exchange+":"+row.TradingSymbol] = instrumentRef{
				Exchange: exchange,
				Token:    row.InstrumentToken,
				LotSize:  row.LotSize,
			}
		}
	}

	p.mu.Lock()
	p.instruments = fresh
	p.lastRebuild = p.now()
	p.missingTokens = make(map[string]time.Time)
	p.mu.Unlock()

	p.logger.Printf("instrument map rebuilt: %d symbols", len(fresh))
	return nil
}

// InstrumentLookup resolves a symbol to its exchange and token in O(1).
func (p *Provider) InstrumentLookup(symbol string) (exchange string, token uint32, ok bool) {
	key := quoteKey(symbol)
	p.mu.RLock()
	ref, found := p.instruments[key]
	p.mu.RUnlock()
	if !found {
		return "", 0, false
	}
	return ref.Exchange, ref.Token, true
}

// tokenMissing reports whether the symbol is blacklisted for missing
// its instrument token, honouring the re-probe window.
func (p *Provider) tokenMissing(symbol string) bool {
	p.mu.RLock()
	since, found := p.missingTokens[symbol]
	p.mu.RUnlock()
	if !found {
		return false
	}
	if p.now().Sub(since) > missingTokenRetry {
		p.mu.Lock()
		delete(p.missingTokens, symbol)
		p.mu.Unlock()
		return false
	}
	return true
}

func (p *Provider) markTokenMissing(symbol string) {
	p.mu.Lock()
	if _, exists := p.missingTokens[symbol]; !exists {
		p.missingTokens[symbol] = p.now()
	}
	p.mu.Unlock()
}

// acquire takes a rate-limit token, treating a nil limiter as open.
func (p *Provider) acquire(ctx context.Context) bool {
	if p.limiter == nil {
		return true
	}
	return p.limiter.Acquire(ctx)
}

// FetchOHLCV returns up to `days` days of bars for symbol at the given
// interval. Results are cached per (symbol, interval, days). Errors are
// swallowed: the caller gets an empty slice.
func (p *Provider) FetchOHLCV(ctx context.Context, symbol, interval string, days int) []broker.Bar {
	brokerInterval, ok := intervals[interval]
	if !ok {
		p.logger.Printf("fetch_ohlcv %s: unsupported interval %q", symbol, interval)
		return nil
	}
	if p.tokenMissing(symbol) {
		return nil
	}

	cacheKey := fmt.Sprintf("ohlcv:%s:%s:%d", symbol, interval, days)
	if cached, hit := p.cache.Get(cacheKey); hit {
		if bars, castOK := cached.([]broker.Bar); castOK {
			return bars
		}
	}

	_, token, found := p.InstrumentLookup(symbol)
	if !found {
		p.markTokenMissing(symbol)
		p.logger.Printf("fetch_ohlcv %s: no instrument token, blacklisted for %s", symbol, missingTokenRetry)
		return nil
	}

	to := p.now()
	from := to.AddDate(0, 0, -days)

	var bars []broker.Bar
	var err error
	for attempt := 0; attempt < fetchAttempts; attempt++ {
		if attempt > 0 {
			if !p.sleep(ctx, retryBackoffBase<<(attempt-1)) {
				return nil
			}
		}
		if !p.acquire(ctx) {
			return nil
		}
		bars, err = p.broker.HistoricalData(ctx, token, from, to, brokerInterval)
		if err == nil {
			break
		}
	}
	if err != nil {
		p.logger.Printf("fetch_ohlcv %s: %v", symbol, err)
		return nil
	}

	p.cache.SetWithTTL(cacheKey, bars, p.opts.BarTTL)
	return bars
}

// FetchQuote returns the live quote for one symbol, or false when it is
// unavailable, invalid or stale.
func (p *Provider) FetchQuote(ctx context.Context, symbol string) (broker.Quote, bool) {
	quotes := p.FetchQuotes(ctx, []string{symbol})
	q, ok := quotes[symbol]
	return q, ok
}

// FetchQuotes returns live quotes keyed by plain symbol. One batched
// call is preferred; on batch failure each symbol is retried
// individually in parallel. Quotes with non-positive or absurd prices
// and quotes older than the staleness window are dropped.
func (p *Provider) FetchQuotes(ctx context.Context, symbols []string) map[string]broker.Quote {
	out := make(map[string]broker.Quote, len(symbols))
	if len(symbols) == 0 {
		return out
	}

	keys := make([]string, 0, len(symbols))
	bySymbol := make(map[string]string, len(symbols)) // wire key -> symbol
	for _, s := range symbols {
		cacheKey := "quote:" + s
		if cached, hit := p.cache.Get(cacheKey); hit {
			if q, castOK := cached.(broker.Quote); castOK {
				out[s] = q
				continue
			}
		}
		k := quoteKey(s)
		keys = append(keys, k)
		bySymbol[k] = s
	}
	if len(keys) == 0 {
		return out
	}

	fetched, err := p.batchQuotes(ctx, keys)
	if err != nil {
		p.logger.Printf("batched quote fetch failed (%v), falling back per symbol", err)
		fetched = p.perSymbolQuotes(ctx, keys)
	}

	for key, q := range fetched {
		symbol := bySymbol[key]
		if symbol == "" {
			if i := strings.IndexByte(key, ':'); i >= 0 {
				symbol = key[i+1:]
			} else {
				symbol = key
			}
		}
		if !p.usable(q) {
			continue
		}
		q.Symbol = symbol
		p.cache.SetWithTTL("quote:"+symbol, q, p.opts.PriceTTL)
		out[symbol] = q
	}
	return out
}

func (p *Provider) batchQuotes(ctx context.Context, keys []string) (map[string]broker.Quote, error) {
	if !p.acquire(ctx) {
		return nil, fmt.Errorf("rate limit acquire failed")
	}
	return p.broker.GetQuotes(ctx, keys)
}

// perSymbolQuotes recovers from a batch failure symbol by symbol so one
// bad instrument cannot poison the whole scan.
func (p *Provider) perSymbolQuotes(ctx context.Context, keys []string) map[string]broker.Quote {
	var mu sync.Mutex
	merged := make(map[string]broker.Quote, len(keys))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, key := range keys {
		key := key
		g.Go(func() error {
			if !p.acquire(gctx) {
				return nil
			}
			quotes, err := p.broker.GetQuotes(gctx, []string{key})
			if err != nil {
				p.logger.Printf("quote fetch %s: %v", key, err)
				return nil
			}
			mu.Lock()
			for k, q := range quotes {
				merged[k] = q
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return merged
}

// usable filters out zero, absurd and stale quotes.
func (p *Provider) usable(q broker.Quote) bool {
	if q.LastPrice <= 0 || q.LastPrice >= 1e7 {
		return false
	}
	if !q.AsOf.IsZero() && q.Age(p.now()) > p.opts.MaxStaleness {
		return false
	}
	return true
}

// LotSizeFor returns the lot size recorded in the instrument dump for a
// derivative symbol, falling back to the static index table.
func (p *Provider) LotSizeFor(symbol string) (int, error) {
	key := quoteKey(symbol)
	p.mu.RLock()
	ref, found := p.instruments[key]
	p.mu.RUnlock()
	if found && ref.LotSize > 0 {
		return ref.LotSize, nil
	}
	u, ok := fno.UnderlyingOf(symbol)
	if !ok {
		return 0, fmt.Errorf("no lot size known for %q", symbol)
	}
	return fno.LotSize(u)
}

// LastRebuild reports when the instrument map was last refreshed.
func (p *Provider) LastRebuild() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastRebuild
}
