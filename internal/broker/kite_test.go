package broker

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *KiteClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewKiteClient("key", "token", srv.URL)
}

func TestGetQuotes(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/quote", r.URL.Path)
		assert.Equal(t, "token key:token", r.Header.Get("Authorization"))
		assert.ElementsMatch(t, []string{"NSE:RELIANCE", "NFO:NIFTY25SEP22500CE"}, r.URL.Query()["i"])
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"status": "success",
			"data": {
				"NSE:RELIANCE": {
					"last_price": 2945.4,
					"volume": 120000,
					"timestamp": "2025-09-03 11:30:00",
					"depth": {"buy": [{"price": 2945.2}], "sell": [{"price": 2945.6}]}
				},
				"NFO:NIFTY25SEP22500CE": {"last_price": 182.5, "oi": 5400000}
			}
		}`))
	})

	quotes, err := client.GetQuotes(context.Background(), []string{"NSE:RELIANCE", "NFO:NIFTY25SEP22500CE"})
	require.NoError(t, err)
	require.Len(t, quotes, 2)

	rel := quotes["NSE:RELIANCE"]
	assert.InDelta(t, 2945.4, rel.LastPrice, 1e-9)
	assert.InDelta(t, 2945.2, rel.Bid, 1e-9)
	assert.InDelta(t, 2945.6, rel.Ask, 1e-9)
	assert.Equal(t, 11, rel.AsOf.Hour())

	opt := quotes["NFO:NIFTY25SEP22500CE"]
	assert.Equal(t, int64(5400000), opt.OI)
}

func TestGetQuotesEmptyInput(t *testing.T) {
	client := NewKiteClient("k", "t", "http://unused.invalid")
	quotes, err := client.GetQuotes(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, quotes)
}

func TestPlaceOrder(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/orders/regular", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "NFO", r.PostForm.Get("exchange"))
		assert.Equal(t, "BUY", r.PostForm.Get("transaction_type"))
		assert.Equal(t, "75", r.PostForm.Get("quantity"))
		_, _ = w.Write([]byte(`{"status":"success","data":{"order_id":"250903000001"}}`))
	})

	orderID, err := client.PlaceOrder(context.Background(), OrderParams{
		Exchange:        ExchangeNFO,
		TradingSymbol:   "NIFTY25SEP22500CE",
		TransactionType: TransactionBuy,
		Quantity:        75,
		OrderType:       OrderTypeMarket,
		Product:         ProductMIS,
		Validity:        ValidityDay,
	})
	require.NoError(t, err)
	assert.Equal(t, "250903000001", orderID)
}

func TestOrderHistory(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/orders/250903000001", r.URL.Path)
		_, _ = w.Write([]byte(`{"status":"success","data":[
			{"order_id":"250903000001","status":"OPEN","filled_quantity":0},
			{"order_id":"250903000001","status":"COMPLETE","filled_quantity":75,"average_price":182.6,
			 "order_timestamp":"2025-09-03 11:31:05"}
		]}`))
	})

	events, err := client.OrderHistory(context.Background(), "250903000001")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, StatusComplete, events[1].Status)
	assert.Equal(t, 75, events[1].FilledQuantity)
	assert.InDelta(t, 182.6, events[1].AveragePrice, 1e-9)
}

func TestAPIErrorSurface(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"status":"error","message":"Insufficient funds"}`))
	})

	_, err := client.PlaceOrder(context.Background(), OrderParams{
		Exchange: ExchangeNSE, TradingSymbol: "TCS", TransactionType: TransactionBuy,
		Quantity: 1, OrderType: OrderTypeMarket, Product: ProductMIS, Validity: ValidityDay,
	})
	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
}

func TestInstrumentsCSV(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/instruments/NFO", r.URL.Path)
		_, _ = w.Write([]byte(
			"instrument_token,exchange_token,tradingsymbol,name,last_price,expiry,strike,tick_size,lot_size,instrument_type,segment,exchange\n" +
				"12345678,48225,NIFTY25SEP22500CE,NIFTY,0,2025-09-25,22500,0.05,75,CE,NFO-OPT,NFO\n" +
				"87654321,33456,BANKNIFTY25SEPFUT,BANKNIFTY,0,2025-09-24,0,0.05,35,FUT,NFO-FUT,NFO\n"))
	})

	instruments, err := client.Instruments(context.Background(), "NFO")
	require.NoError(t, err)
	require.Len(t, instruments, 2)
	assert.Equal(t, "NIFTY25SEP22500CE", instruments[0].TradingSymbol)
	assert.Equal(t, uint32(12345678), instruments[0].InstrumentToken)
	assert.Equal(t, 75, instruments[0].LotSize)
	assert.InDelta(t, 22500, instruments[0].Strike, 1e-9)
	assert.Equal(t, "CE", instruments[0].InstrumentType)
	assert.Equal(t, 25, instruments[0].Expiry.Day())
}

func TestHistoricalData(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/instruments/historical/12345678/5minute", r.URL.Path)
		_, _ = w.Write([]byte(`{"status":"success","data":{"candles":[
			["2025-09-03T09:15:00+0530",22480.1,22495.0,22471.3,22490.7,125000],
			["2025-09-03T09:20:00+0530",22490.7,22510.2,22488.0,22505.5,98000]
		]}}`))
	})

	to := time.Now()
	bars, err := client.HistoricalData(context.Background(), 12345678, to.Add(-time.Hour), to, "5minute")
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.InDelta(t, 22490.7, bars[0].Close, 1e-9)
	assert.Equal(t, int64(98000), bars[1].Volume)
	assert.True(t, bars[0].Timestamp.Before(bars[1].Timestamp))
}

func TestCircuitBreakerTripsOnRepeatedFailures(t *testing.T) {
	mock := NewMockBroker()
	mock.MarginsFunc = func(ctx context.Context) (Margins, error) {
		return Margins{}, errors.New("broker down")
	}
	cb := NewCircuitBreakerBrokerWithSettings(mock, CircuitBreakerSettings{
		MaxRequests: 1, Interval: time.Minute, Timeout: time.Minute,
		MinRequests: 3, FailureRatio: 0.6,
	}, nil)

	for i := 0; i < 5; i++ {
		_, _ = cb.Margins(context.Background())
	}
	assert.Equal(t, "open", cb.State())

	// While open, the wrapped broker is not called.
	before := mock.Calls("Margins")
	_, err := cb.Margins(context.Background())
	assert.Error(t, err)
	assert.Equal(t, before, mock.Calls("Margins"))
}

func TestCircuitBreakerPassThrough(t *testing.T) {
	mock := NewMockBroker()
	mock.GetQuotesFunc = func(ctx context.Context, symbols []string) (map[string]Quote, error) {
		return map[string]Quote{"NSE:TCS": {Symbol: "NSE:TCS", LastPrice: 4100}}, nil
	}
	cb := NewCircuitBreakerBroker(mock, nil)

	quotes, err := cb.GetQuotes(context.Background(), []string{"NSE:TCS"})
	require.NoError(t, err)
	assert.InDelta(t, 4100, quotes["NSE:TCS"].LastPrice, 1e-9)
	assert.Equal(t, "closed", cb.State())
}
