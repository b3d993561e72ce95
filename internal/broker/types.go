package broker

import (
	"fmt"
	"time"
)

// Exchange segments used for routing.
const (
	ExchangeNSE = "NSE"
	ExchangeBSE = "BSE"
	ExchangeNFO = "NFO"
	ExchangeBFO = "BFO"
)

// Transaction types.
const (
	TransactionBuy  = "BUY"
	TransactionSell = "SELL"
)

// Order types and validity.
const (
	OrderTypeMarket = "MARKET"
	OrderTypeLimit  = "LIMIT"
	ValidityDay     = "DAY"
	ProductMIS      = "MIS"
	ProductNRML     = "NRML"
)

// Order status strings reported by order history events.
const (
	StatusComplete  = "COMPLETE"
	StatusRejected  = "REJECTED"
	StatusCancelled = "CANCELLED"
	StatusOpen      = "OPEN"
	StatusPending   = "PENDING"
)

// APIError represents a broker API error with status code and body.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Status, e.Body)
}

// Instrument is one row of the exchange instrument dump.
type Instrument struct {
	TradingSymbol   string    `json:"tradingsymbol"`
	Exchange        string    `json:"exchange"`
	InstrumentToken uint32    `json:"instrument_token"`
	LotSize         int       `json:"lot_size"`
	Expiry          time.Time `json:"expiry"`
	Strike          float64   `json:"strike"`
	InstrumentType  string    `json:"instrument_type"` // EQ | CE | PE | FUT
}

// Bar is one OHLCV candle with an IST-localised timestamp.
type Bar struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    int64     `json:"volume"`
}

// Quote is a live market quote for one instrument.
type Quote struct {
	Symbol    string    `json:"symbol"`
	LastPrice float64   `json:"last_price"`
	Bid       float64   `json:"bid,omitempty"`
	Ask       float64   `json:"ask,omitempty"`
	Volume    int64     `json:"volume,omitempty"`
	OI        int64     `json:"oi,omitempty"`
	IV        float64   `json:"iv,omitempty"`
	AsOf      time.Time `json:"as_of"`
}

// Age returns how stale the quote is relative to now.
func (q Quote) Age(now time.Time) time.Duration {
	return now.Sub(q.AsOf)
}

// OrderParams describes an order to be placed.
type OrderParams struct {
	Exchange        string  `json:"exchange"`
	TradingSymbol   string  `json:"tradingsymbol"`
	TransactionType string  `json:"transaction_type"`
	Quantity        int     `json:"quantity"`
	OrderType       string  `json:"order_type"`
	Price           float64 `json:"price,omitempty"`
	Product         string  `json:"product"`
	Validity        string  `json:"validity"`
	Tag             string  `json:"tag,omitempty"`
}

// OrderEvent is one entry of an order's history.
type OrderEvent struct {
	OrderID        string    `json:"order_id"`
	Status         string    `json:"status"`
	FilledQuantity int       `json:"filled_quantity"`
	AveragePrice   float64   `json:"average_price"`
	StatusMessage  string    `json:"status_message,omitempty"`
	Timestamp      time.Time `json:"order_timestamp"`
}

// BrokerPosition is one net position as the broker sees it.
type BrokerPosition struct {
	TradingSymbol string  `json:"tradingsymbol"`
	Exchange      string  `json:"exchange"`
	Quantity      int     `json:"quantity"`
	AveragePrice  float64 `json:"average_price"`
	Product       string  `json:"product"`
	PnL           float64 `json:"pnl"`
}

// Margins reports available funds per segment.
type Margins struct {
	AvailableCash float64 `json:"available_cash"`
}

// OrderMargin is the broker-computed margin requirement for one order.
type OrderMargin struct {
	Total float64 `json:"total"`
}

// GTTParams describes a broker-resident protective stop order.
type GTTParams struct {
	Exchange        string  `json:"exchange"`
	TradingSymbol   string  `json:"tradingsymbol"`
	TriggerPrice    float64 `json:"trigger_price"`
	LimitPrice      float64 `json:"limit_price"`
	Quantity        int     `json:"quantity"`
	TransactionType string  `json:"transaction_type"`
	LastPrice       float64 `json:"last_price"`
}

// GTT is a registered Good-Till-Triggered order.
type GTT struct {
	ID            int     `json:"id"`
	TradingSymbol string  `json:"tradingsymbol"`
	TriggerPrice  float64 `json:"trigger_price"`
	Status        string  `json:"status"`
}
