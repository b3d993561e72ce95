package dashboard

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/indiquant/kitebot/internal/portfolio"
)

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

type captureHandler struct {
	mu     sync.Mutex
	paths  []string
	bodies [][]byte
	status int
}

func (h *captureHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	h.mu.Lock()
	h.paths = append(h.paths, r.URL.Path)
	h.bodies = append(h.bodies, body)
	status := h.status
	h.mu.Unlock()
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
}

func (h *captureHandler) seen() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.paths...)
}

func TestSinkPostsToEndpoints(t *testing.T) {
	h := &captureHandler{}
	srv := httptest.NewServer(h)
	defer srv.Close()

	sink := NewSink(SinkOptions{BaseURL: srv.URL}, quietLogger())
	require.NotNil(t, sink)

	sink.SendSignal(SignalEvent{Symbol: "NIFTY", Action: "buy", Confidence: 0.7})
	sink.SendTrade(portfolio.TradeRecord{Symbol: "NIFTY25SEP22500CE", Side: "BUY"})
	sink.SendStatus(StatusUpdate{Mode: "paper", Iteration: 7})
	sink.Drain()

	paths := h.seen()
	assert.ElementsMatch(t, []string{"/api/signals", "/api/trades", "/api/status"}, paths)
}

func TestSinkBreakerStopsAfterFailures(t *testing.T) {
	h := &captureHandler{status: http.StatusInternalServerError}
	srv := httptest.NewServer(h)
	defer srv.Close()

	sink := NewSink(SinkOptions{BaseURL: srv.URL, BreakerTimeout: time.Hour}, quietLogger())
	for i := 0; i < 6; i++ {
		sink.SendStatus(StatusUpdate{Iteration: i})
		sink.Drain()
	}

	// Breaker trips after 3 consecutive failures; later sends are
	// short-circuited and never reach the server.
	assert.Equal(t, 3, len(h.seen()))
}

func TestNilSinkIsSafe(t *testing.T) {
	var sink *Sink
	sink.SendStatus(StatusUpdate{})
	sink.Drain()

	assert.Nil(t, NewSink(SinkOptions{}, quietLogger()))
}

func testServer(t *testing.T) (*Server, *portfolio.Portfolio) {
	t.Helper()
	pf := portfolio.New(portfolio.ModePaper, 1_000_000, quietLogger())
	_, _, err := pf.OpenLong(portfolio.OpenParams{
		Symbol: "RELIANCE", Shares: 30, Price: 1450,
		StopLoss: 1400, TakeProfit: 1550, Strategy: "momentum",
	})
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	status := func() StatusUpdate {
		return StatusUpdate{Mode: "paper", Iteration: 12, MarketOpen: true}
	}
	return NewServer(0, pf, status, logger), pf
}

func TestServerHealth(t *testing.T) {
	s, _ := testServer(t)
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestServerStatus(t *testing.T) {
	s, _ := testServer(t)
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var status StatusUpdate
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, 12, status.Iteration)
	assert.True(t, status.MarketOpen)
}

func TestServerPositions(t *testing.T) {
	s, _ := testServer(t)
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/positions", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Count     int                  `json:"count"`
		Positions []portfolio.Position `json:"positions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 1, body.Count)
	assert.Equal(t, "RELIANCE", body.Positions[0].Symbol)
	assert.Equal(t, 30, body.Positions[0].Shares)
}

func TestServerStats(t *testing.T) {
	s, pf := testServer(t)
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var stats portfolio.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, pf.Cash(), stats.Cash)
	assert.Equal(t, 1, stats.OpenPositions)
}
