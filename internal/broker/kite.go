package broker

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrGTTUnsupported is returned by brokers without GTT capability.
var ErrGTTUnsupported = errors.New("gtt orders unsupported by this broker")

const (
	defaultBaseURL = "https://api.kite.trade"
	defaultTimeout = 10 * time.Second

	// Kite serves historical candles with this layout.
	kiteTimeLayout = "2006-01-02T15:04:05-0700"
)

// KiteClient implements Broker against the Kite connect REST API.
type KiteClient struct {
	client      *http.Client
	apiKey      string
	accessToken string
	baseURL     string
	loc         *time.Location
}

// NewKiteClient creates a Kite connect client. baseURL may be empty to
// use the production endpoint.
func NewKiteClient(apiKey, accessToken, baseURL string) *KiteClient {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		loc = time.FixedZone("IST", 5*3600+1800)
	}
	return &KiteClient{
		client:      &http.Client{Timeout: defaultTimeout},
		apiKey:      apiKey,
		accessToken: accessToken,
		baseURL:     strings.TrimRight(baseURL, "/"),
		loc:         loc,
	}
}

// WithHTTPClient swaps the underlying HTTP client, for tests.
func (k *KiteClient) WithHTTPClient(c *http.Client) *KiteClient {
	k.client = c
	return k
}

// envelope is the standard Kite response wrapper.
type envelope struct {
	Status  string          `json:"status"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

func (k *KiteClient) do(ctx context.Context, method, path string, form url.Values, out interface{}) error {
	var body io.Reader
	if form != nil && (method == http.MethodPost || method == http.MethodPut) {
		body = strings.NewReader(form.Encode())
	}

	endpoint := k.baseURL + path
	if form != nil && method == http.MethodGet {
		endpoint += "?" + form.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("X-Kite-Version", "3")
	req.Header.Set("Authorization", "token "+k.apiKey+":"+k.accessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := k.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if out == nil {
		return nil
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	if env.Status == "error" {
		return &APIError{Status: resp.StatusCode, Body: env.Message}
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decoding data: %w", err)
	}
	return nil
}

// Instruments downloads the instrument dump for one exchange. Kite
// serves this as CSV, not JSON.
func (k *KiteClient) Instruments(ctx context.Context, exchange string) ([]Instrument, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.baseURL+"/instruments/"+exchange, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("X-Kite-Version", "3")
	req.Header.Set("Authorization", "token "+k.apiKey+":"+k.accessToken)

	resp, err := k.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching instruments: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	return k.parseInstrumentsCSV(resp.Body)
}

func (k *KiteClient) parseInstrumentsCSV(r io.Reader) ([]Instrument, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("reading instrument header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[name] = i
	}
	need := []string{"tradingsymbol", "exchange", "instrument_token", "lot_size", "instrument_type"}
	for _, n := range need {
		if _, ok := col[n]; !ok {
			return nil, fmt.Errorf("instrument dump missing column %q", n)
		}
	}

	var out []Instrument
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading instrument row: %w", err)
		}
		token, _ := strconv.ParseUint(rec[col["instrument_token"]], 10, 32)
		lot, _ := strconv.Atoi(rec[col["lot_size"]])
		inst := Instrument{
			TradingSymbol:   rec[col["tradingsymbol"]],
			Exchange:        rec[col["exchange"]],
			InstrumentToken: uint32(token),
			LotSize:         lot,
			InstrumentType:  rec[col["instrument_type"]],
		}
		if i, ok := col["strike"]; ok {
			inst.Strike, _ = strconv.ParseFloat(rec[i], 64)
		}
		if i, ok := col["expiry"]; ok && rec[i] != "" {
			if exp, err := time.ParseInLocation("2006-01-02", rec[i], k.loc); err == nil {
				inst.Expiry = exp
			}
		}
		out = append(out, inst)
	}
	return out, nil
}

// kiteCandles is the historical-data payload shape: arrays of
// [timestamp, open, high, low, close, volume].
type kiteCandles struct {
	Candles [][]interface{} `json:"candles"`
}

// HistoricalData fetches OHLCV candles for an instrument token.
// interval is a Kite interval string: 5minute, 15minute, day, ...
func (k *KiteClient) HistoricalData(ctx context.Context, token uint32, from, to time.Time, interval string) ([]Bar, error) {
	form := url.Values{}
	form.Set("from", from.In(k.loc).Format("2006-01-02 15:04:05"))
	form.Set("to", to.In(k.loc).Format("2006-01-02 15:04:05"))

	path := fmt.Sprintf("/instruments/historical/%d/%s", token, interval)
	var payload kiteCandles
	if err := k.do(ctx, http.MethodGet, path, form, &payload); err != nil {
		return nil, err
	}

	bars := make([]Bar, 0, len(payload.Candles))
	for _, c := range payload.Candles {
		if len(c) < 6 {
			continue
		}
		ts, ok := c[0].(string)
		if !ok {
			continue
		}
		t, err := time.Parse(kiteTimeLayout, ts)
		if err != nil {
			// Daily candles come without a time component.
			t, err = time.ParseInLocation("2006-01-02", ts, k.loc)
			if err != nil {
				continue
			}
		}
		bars = append(bars, Bar{
			Timestamp: t.In(k.loc),
			Open:      asFloat(c[1]),
			High:      asFloat(c[2]),
			Low:       asFloat(c[3]),
			Close:     asFloat(c[4]),
			Volume:    int64(asFloat(c[5])),
		})
	}
	return bars, nil
}

func asFloat(v interface{}) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case json.Number:
		f, _ := x.Float64()
		return f
	default:
		return 0
	}
}

// kiteQuote mirrors the /quote response per instrument.
type kiteQuote struct {
	LastPrice float64 `json:"last_price"`
	Volume    int64   `json:"volume"`
	OI        int64   `json:"oi"`
	Depth     struct {
		Buy []struct {
			Price float64 `json:"price"`
		} `json:"buy"`
		Sell []struct {
			Price float64 `json:"price"`
		} `json:"sell"`
	} `json:"depth"`
	Timestamp string `json:"timestamp"`
}

// GetQuotes fetches quotes for up to 500 "EXCHANGE:SYMBOL" keys in one
// round trip.
func (k *KiteClient) GetQuotes(ctx context.Context, symbols []string) (map[string]Quote, error) {
	if len(symbols) == 0 {
		return map[string]Quote{}, nil
	}
	form := url.Values{}
	for _, s := range symbols {
		form.Add("i", s)
	}

	var payload map[string]kiteQuote
	if err := k.do(ctx, http.MethodGet, "/quote", form, &payload); err != nil {
		return nil, err
	}

	now := time.Now().In(k.loc)
	out := make(map[string]Quote, len(payload))
	for key, q := range payload {
		quote := Quote{
			Symbol:    key,
			LastPrice: q.LastPrice,
			Volume:    q.Volume,
			OI:        q.OI,
			AsOf:      now,
		}
		if len(q.Depth.Buy) > 0 {
			quote.Bid = q.Depth.Buy[0].Price
		}
		if len(q.Depth.Sell) > 0 {
			quote.Ask = q.Depth.Sell[0].Price
		}
		if ts, err := time.ParseInLocation("2006-01-02 15:04:05", q.Timestamp, k.loc); err == nil {
			quote.AsOf = ts
		}
		out[key] = quote
	}
	return out, nil
}

// PlaceOrder submits a regular-variety order and returns the order id.
func (k *KiteClient) PlaceOrder(ctx context.Context, params OrderParams) (string, error) {
	form := url.Values{}
	form.Set("exchange", params.Exchange)
	form.Set("tradingsymbol", params.TradingSymbol)
	form.Set("transaction_type", params.TransactionType)
	form.Set("quantity", strconv.Itoa(params.Quantity))
	form.Set("order_type", params.OrderType)
	form.Set("product", params.Product)
	form.Set("validity", params.Validity)
	if params.OrderType == OrderTypeLimit {
		form.Set("price", strconv.FormatFloat(params.Price, 'f', 2, 64))
	}
	if params.Tag != "" {
		form.Set("tag", params.Tag)
	}

	var payload struct {
		OrderID string `json:"order_id"`
	}
	if err := k.do(ctx, http.MethodPost, "/orders/regular", form, &payload); err != nil {
		return "", err
	}
	if payload.OrderID == "" {
		return "", fmt.Errorf("broker returned empty order id")
	}
	return payload.OrderID, nil
}

// OrderHistory returns the event trail for one order, oldest first.
func (k *KiteClient) OrderHistory(ctx context.Context, orderID string) ([]OrderEvent, error) {
	var payload []struct {
		OrderID        string  `json:"order_id"`
		Status         string  `json:"status"`
		FilledQuantity int     `json:"filled_quantity"`
		AveragePrice   float64 `json:"average_price"`
		StatusMessage  string  `json:"status_message"`
		OrderTimestamp string  `json:"order_timestamp"`
	}
	if err := k.do(ctx, http.MethodGet, "/orders/"+orderID, nil, &payload); err != nil {
		return nil, err
	}

	events := make([]OrderEvent, 0, len(payload))
	for _, e := range payload {
		ev := OrderEvent{
			OrderID:        e.OrderID,
			Status:         strings.ToUpper(e.Status),
			FilledQuantity: e.FilledQuantity,
			AveragePrice:   e.AveragePrice,
			StatusMessage:  e.StatusMessage,
		}
		if ts, err := time.ParseInLocation("2006-01-02 15:04:05", e.OrderTimestamp, k.loc); err == nil {
			ev.Timestamp = ts
		}
		events = append(events, ev)
	}
	return events, nil
}

// CancelOrder cancels a pending order.
func (k *KiteClient) CancelOrder(ctx context.Context, variety, orderID string) error {
	if variety == "" {
		variety = "regular"
	}
	return k.do(ctx, http.MethodDelete, "/orders/"+variety+"/"+orderID, nil, nil)
}

// Positions returns net positions (day + overnight combined).
func (k *KiteClient) Positions(ctx context.Context) ([]BrokerPosition, error) {
	var payload struct {
		Net []BrokerPosition `json:"net"`
	}
	if err := k.do(ctx, http.MethodGet, "/portfolio/positions", nil, &payload); err != nil {
		return nil, err
	}
	return payload.Net, nil
}

// Margins returns available cash for the equity segment.
func (k *KiteClient) Margins(ctx context.Context) (Margins, error) {
	var payload struct {
		Equity struct {
			Available struct {
				Cash float64 `json:"cash"`
			} `json:"available"`
		} `json:"equity"`
	}
	if err := k.do(ctx, http.MethodGet, "/user/margins", nil, &payload); err != nil {
		return Margins{}, err
	}
	return Margins{AvailableCash: payload.Equity.Available.Cash}, nil
}

// OrderMargins asks the broker for the margin required by one order.
func (k *KiteClient) OrderMargins(ctx context.Context, params OrderParams) (OrderMargin, error) {
	body, err := json.Marshal([]map[string]interface{}{{
		"exchange":         params.Exchange,
		"tradingsymbol":    params.TradingSymbol,
		"transaction_type": params.TransactionType,
		"variety":          "regular",
		"product":          params.Product,
		"order_type":       params.OrderType,
		"quantity":         params.Quantity,
		"price":            params.Price,
	}})
	if err != nil {
		return OrderMargin{}, fmt.Errorf("encoding margin request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, k.baseURL+"/margins/orders", strings.NewReader(string(body)))
	if err != nil {
		return OrderMargin{}, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("X-Kite-Version", "3")
	req.Header.Set("Authorization", "token "+k.apiKey+":"+k.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := k.client.Do(req)
	if err != nil {
		return OrderMargin{}, fmt.Errorf("fetching order margins: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return OrderMargin{}, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return OrderMargin{}, &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	var env struct {
		Data []struct {
			Total float64 `json:"total"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return OrderMargin{}, fmt.Errorf("decoding margins: %w", err)
	}
	if len(env.Data) == 0 {
		return OrderMargin{}, fmt.Errorf("broker returned no margin data")
	}
	return OrderMargin{Total: env.Data[0].Total}, nil
}

// PlaceGTT registers a single-leg protective trigger.
func (k *KiteClient) PlaceGTT(ctx context.Context, params GTTParams) (int, error) {
	condition, err := json.Marshal(map[string]interface{}{
		"exchange":       params.Exchange,
		"tradingsymbol":  params.TradingSymbol,
		"trigger_values": []float64{params.TriggerPrice},
		"last_price":     params.LastPrice,
	})
	if err != nil {
		return 0, fmt.Errorf("encoding gtt condition: %w", err)
	}
	orders, err := json.Marshal([]map[string]interface{}{{
		"exchange":         params.Exchange,
		"tradingsymbol":    params.TradingSymbol,
		"transaction_type": params.TransactionType,
		"quantity":         params.Quantity,
		"order_type":       OrderTypeLimit,
		"product":          ProductMIS,
		"price":            params.LimitPrice,
	}})
	if err != nil {
		return 0, fmt.Errorf("encoding gtt orders: %w", err)
	}

	form := url.Values{}
	form.Set("type", "single")
	form.Set("condition", string(condition))
	form.Set("orders", string(orders))

	var payload struct {
		TriggerID int `json:"trigger_id"`
	}
	if err := k.do(ctx, http.MethodPost, "/gtt/triggers", form, &payload); err != nil {
		return 0, err
	}
	return payload.TriggerID, nil
}

// GetGTTs lists registered triggers.
func (k *KiteClient) GetGTTs(ctx context.Context) ([]GTT, error) {
	var payload []struct {
		ID        int    `json:"id"`
		Status    string `json:"status"`
		Condition struct {
			TradingSymbol string    `json:"tradingsymbol"`
			TriggerValues []float64 `json:"trigger_values"`
		} `json:"condition"`
	}
	if err := k.do(ctx, http.MethodGet, "/gtt/triggers", nil, &payload); err != nil {
		return nil, err
	}

	out := make([]GTT, 0, len(payload))
	for _, g := range payload {
		gtt := GTT{ID: g.ID, TradingSymbol: g.Condition.TradingSymbol, Status: g.Status}
		if len(g.Condition.TriggerValues) > 0 {
			gtt.TriggerPrice = g.Condition.TriggerValues[0]
		}
		out = append(out, gtt)
	}
	return out, nil
}

// DeleteGTT removes a registered trigger.
func (k *KiteClient) DeleteGTT(ctx context.Context, gttID int) error {
	return k.do(ctx, http.MethodDelete, "/gtt/triggers/"+strconv.Itoa(gttID), nil, nil)
}

// Ensure KiteClient implements Broker at compile time.
var _ Broker = (*KiteClient)(nil)
