package marketdata

import (
	"context"
	"errors"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/indiquant/kitebot/internal/broker"
	"github.com/indiquant/kitebot/internal/cache"
)

func newTestProvider(t *testing.T, mock *broker.MockBroker) *Provider {
	t.Helper()
	p := NewProvider(mock, nil, cache.New(time.Minute, 1000), log.New(log.Writer(), "", 0), Options{})
	p.sleep = func(ctx context.Context, d time.Duration) bool { return true }
	return p
}

func seedInstruments(t *testing.T, p *Provider, mock *broker.MockBroker) {
	t.Helper()
	mock.InstrumentsFunc = func(ctx context.Context, exchange string) ([]broker.Instrument, error) {
		switch exchange {
		case broker.ExchangeNSE:
			return []broker.Instrument{{TradingSymbol: "RELIANCE", Exchange: "NSE", InstrumentToken: 738561}}, nil
		case broker.ExchangeNFO:
			return []broker.Instrument{{TradingSymbol: "NIFTY25SEP22500CE", Exchange: "NFO", InstrumentToken: 12345678, LotSize: 75}}, nil
		default:
			return nil, nil
		}
	}
	require.NoError(t, p.RebuildInstruments(context.Background()))
}

func TestExchangeRouting(t *testing.T) {
	assert.Equal(t, "NSE", ExchangeFor("RELIANCE"))
	assert.Equal(t, "NFO", ExchangeFor("NIFTY25SEP22500CE"))
	assert.Equal(t, "NFO", ExchangeFor("BANKNIFTY25SEPFUT"))
	assert.Equal(t, "BFO", ExchangeFor("SENSEX25SEP81000PE"))
	assert.Equal(t, "NFO", ExchangeFor("RELIANCE25SEPFUT"), "stock derivatives default to NFO")
}

func TestInstrumentLookup(t *testing.T) {
	mock := broker.NewMockBroker()
	p := newTestProvider(t, mock)
	seedInstruments(t, p, mock)

	exchange, token, ok := p.InstrumentLookup("RELIANCE")
	require.True(t, ok)
	assert.Equal(t, "NSE", exchange)
	assert.Equal(t, uint32(738561), token)

	_, _, ok = p.InstrumentLookup("UNKNOWN")
	assert.False(t, ok)

	lot, err := p.LotSizeFor("NIFTY25SEP22500CE")
	require.NoError(t, err)
	assert.Equal(t, 75, lot)
}

func TestFetchOHLCVCachesAndRetries(t *testing.T) {
	mock := broker.NewMockBroker()
	p := newTestProvider(t, mock)
	seedInstruments(t, p, mock)

	attempts := 0
	mock.HistoricalDataFunc = func(ctx context.Context, token uint32, from, to time.Time, interval string) ([]broker.Bar, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("transient")
		}
		assert.Equal(t, "5minute", interval)
		return []broker.Bar{{Close: 2945.4, Volume: 1000}}, nil
	}

	bars := p.FetchOHLCV(context.Background(), "RELIANCE", "5m", 5)
	require.Len(t, bars, 1)
	assert.Equal(t, 3, attempts, "two failures then success")

	// Second call served from cache.
	bars = p.FetchOHLCV(context.Background(), "RELIANCE", "5m", 5)
	require.Len(t, bars, 1)
	assert.Equal(t, 3, attempts)
}

func TestFetchOHLCVGivesUpAfterMaxAttempts(t *testing.T) {
	mock := broker.NewMockBroker()
	p := newTestProvider(t, mock)
	seedInstruments(t, p, mock)

	mock.HistoricalDataFunc = func(ctx context.Context, token uint32, from, to time.Time, interval string) ([]broker.Bar, error) {
		return nil, errors.New("down")
	}
	bars := p.FetchOHLCV(context.Background(), "RELIANCE", "5m", 5)
	assert.Empty(t, bars)
	assert.Equal(t, 3, mock.Calls("HistoricalData"))
}

func TestFetchOHLCVMissingTokenBlacklist(t *testing.T) {
	mock := broker.NewMockBroker()
	p := newTestProvider(t, mock)
	seedInstruments(t, p, mock)

	base := time.Date(2025, time.September, 3, 10, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return base }

	bars := p.FetchOHLCV(context.Background(), "GHOST", "5m", 5)
	assert.Empty(t, bars)
	before := mock.Calls("HistoricalData")

	// Blacklisted: no further broker traffic.
	p.FetchOHLCV(context.Background(), "GHOST", "5m", 5)
	assert.Equal(t, before, mock.Calls("HistoricalData"))

	// After the re-probe window the symbol is tried again.
	p.now = func() time.Time { return base.Add(31 * time.Minute) }
	assert.False(t, p.tokenMissing("GHOST"))
}

func TestFetchQuotesFiltersInvalid(t *testing.T) {
	mock := broker.NewMockBroker()
	p := newTestProvider(t, mock)
	now := time.Date(2025, time.September, 3, 11, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	mock.GetQuotesFunc = func(ctx context.Context, symbols []string) (map[string]broker.Quote, error) {
		return map[string]broker.Quote{
			"NSE:GOOD":  {LastPrice: 2945.4, AsOf: now.Add(-30 * time.Second)},
			"NSE:ZERO":  {LastPrice: 0},
			"NSE:HUGE":  {LastPrice: 2e7},
			"NSE:STALE": {LastPrice: 100, AsOf: now.Add(-5 * time.Minute)},
		}, nil
	}

	quotes := p.FetchQuotes(context.Background(), []string{"GOOD", "ZERO", "HUGE", "STALE"})
	require.Len(t, quotes, 1)
	assert.Equal(t, "GOOD", quotes["GOOD"].Symbol)
	assert.InDelta(t, 2945.4, quotes["GOOD"].LastPrice, 1e-9)
}

func TestFetchQuotesBatchFallback(t *testing.T) {
	mock := broker.NewMockBroker()
	p := newTestProvider(t, mock)

	mock.GetQuotesFunc = func(ctx context.Context, symbols []string) (map[string]broker.Quote, error) {
		if len(symbols) > 1 {
			return nil, errors.New("batch too large")
		}
		return map[string]broker.Quote{symbols[0]: {LastPrice: 500}}, nil
	}

	quotes := p.FetchQuotes(context.Background(), []string{"AAA", "BBB"})
	require.Len(t, quotes, 2)
	assert.InDelta(t, 500, quotes["AAA"].LastPrice, 1e-9)
	assert.InDelta(t, 500, quotes["BBB"].LastPrice, 1e-9)
}

func TestFetchQuotesServedFromCache(t *testing.T) {
	mock := broker.NewMockBroker()
	p := newTestProvider(t, mock)
	mock.GetQuotesFunc = func(ctx context.Context, symbols []string) (map[string]broker.Quote, error) {
		return map[string]broker.Quote{"NSE:TCS": {LastPrice: 4100}}, nil
	}

	first := p.FetchQuotes(context.Background(), []string{"TCS"})
	require.Len(t, first, 1)
	calls := mock.Calls("GetQuotes")

	second := p.FetchQuotes(context.Background(), []string{"TCS"})
	require.Len(t, second, 1)
	assert.Equal(t, calls, mock.Calls("GetQuotes"), "second fetch hits the cache")
}

func TestFetchQuoteSingle(t *testing.T) {
	mock := broker.NewMockBroker()
	p := newTestProvider(t, mock)
	mock.GetQuotesFunc = func(ctx context.Context, symbols []string) (map[string]broker.Quote, error) {
		return map[string]broker.Quote{"NSE:INFY": {LastPrice: 1900}}, nil
	}

	q, ok := p.FetchQuote(context.Background(), "INFY")
	require.True(t, ok)
	assert.InDelta(t, 1900, q.LastPrice, 1e-9)

	mock.GetQuotesFunc = func(ctx context.Context, symbols []string) (map[string]broker.Quote, error) {
		return map[string]broker.Quote{}, nil
	}
	_, ok = p.FetchQuote(context.Background(), "NOPE")
	assert.False(t, ok)
}
