// Package dashboard pushes telemetry to an external dashboard service
// and serves a small local status API. Telemetry is strictly
// fire-and-forget: a dead dashboard never stalls or fails a trading
// iteration.
package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/indiquant/kitebot/internal/portfolio"
)

// SinkOptions configures the telemetry sink.
type SinkOptions struct {
	BaseURL        string
	SendTimeout    time.Duration // per-request timeout, default 10s
	BreakerTimeout time.Duration // open-state cooldown, default 60s
}

// Sink posts JSON events to the dashboard service. Sends run on their
// own goroutines behind a circuit breaker, so consecutive failures
// stop the outbound traffic instead of piling up blocked goroutines.
type Sink struct {
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *log.Logger
	wg      sync.WaitGroup
}

// NewSink returns a ready sink, or nil when baseURL is empty. A nil
// sink is valid: all sends become no-ops.
func NewSink(opts SinkOptions, logger *log.Logger) *Sink {
	if opts.BaseURL == "" {
		return nil
	}
	if opts.SendTimeout == 0 {
		opts.SendTimeout = 10 * time.Second
	}
	if opts.BreakerTimeout == 0 {
		opts.BreakerTimeout = 60 * time.Second
	}
	if logger == nil {
		logger = log.Default()
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "DashboardSink",
		Timeout: opts.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Printf("dashboard sink breaker %s -> %s", from, to)
		},
	})

	return &Sink{
		baseURL: opts.BaseURL,
		client:  &http.Client{Timeout: opts.SendTimeout},
		breaker: breaker,
		logger:  logger,
	}
}

// SignalEvent mirrors one aggregated signal decision.
type SignalEvent struct {
	Timestamp  time.Time `json:"timestamp"`
	Symbol     string    `json:"symbol"`
	Action     string    `json:"action"`
	Confidence float64   `json:"confidence"`
	Reasons    []string  `json:"reasons,omitempty"`
	Regime     string    `json:"regime,omitempty"`
}

// PortfolioUpdate is the per-iteration portfolio snapshot for display.
type PortfolioUpdate struct {
	Timestamp     time.Time            `json:"timestamp"`
	Mode          string               `json:"mode"`
	Cash          float64              `json:"cash"`
	OpenPositions int                  `json:"open_positions"`
	Positions     []portfolio.Position `json:"positions"`
}

// StatusUpdate carries engine liveness information.
type StatusUpdate struct {
	Timestamp    time.Time `json:"timestamp"`
	Mode         string    `json:"mode"`
	Iteration    int       `json:"iteration"`
	TradingDay   string    `json:"trading_day"`
	MarketOpen   bool      `json:"market_open"`
	Regime       string    `json:"regime"`
	BreakerState string    `json:"breaker_state"`
}

// SendSignal posts a signal event.
func (s *Sink) SendSignal(e SignalEvent) { s.post("signals", e) }

// SendTrade posts one executed trade.
func (s *Sink) SendTrade(rec portfolio.TradeRecord) { s.post("trades", rec) }

// SendPortfolio posts the current portfolio view.
func (s *Sink) SendPortfolio(u PortfolioUpdate) { s.post("portfolio", u) }

// SendPerformance posts the running performance stats.
func (s *Sink) SendPerformance(stats portfolio.Stats) { s.post("performance", stats) }

// SendStatus posts engine liveness.
func (s *Sink) SendStatus(u StatusUpdate) { s.post("status", u) }

// SendTradeHistory posts the full trade history, typically at day close.
func (s *Sink) SendTradeHistory(history []portfolio.TradeRecord) {
	s.post("trade_history", history)
}

// post fires the send on its own goroutine. Errors are logged, never
// returned: telemetry must not affect trading.
func (s *Sink) post(endpoint string, payload any) {
	if s == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.breaker.Execute(func() (any, error) {
			return nil, s.send(endpoint, payload)
		}); err != nil {
			s.logger.Printf("dashboard send %s failed: %v", endpoint, err)
		}
	}()
}

func (s *Sink) send(endpoint string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", endpoint, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.client.Timeout)
	defer cancel()

	url := fmt.Sprintf("%s/api/%s", s.baseURL, endpoint)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", endpoint, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("post %s: status %d", endpoint, resp.StatusCode)
	}
	return nil
}

// Drain waits for in-flight sends, used on shutdown.
func (s *Sink) Drain() {
	if s == nil {
		return
	}
	s.wg.Wait()
}
