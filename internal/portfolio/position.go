// Package portfolio owns cash and position accounting, order
// execution, broker reconciliation and the trade history.
package portfolio

import (
	"time"

	"github.com/google/uuid"
)

// shortSuffix distinguishes a short position key from a long on the
// same symbol so both can coexist.
const shortSuffix = "_SHORT"

// Position is one open holding. Shares are signed: positive long,
// negative short.
type Position struct {
	ID             string    `json:"id"`
	Symbol         string    `json:"symbol"`
	Shares         int       `json:"shares"`
	EntryPrice     float64   `json:"entry_price"`
	InvestedAmount float64   `json:"invested_amount"`
	CreditRecorded float64   `json:"credit_recorded,omitempty"` // shorts: net premium received
	StopLoss       float64   `json:"stop_loss"`
	TakeProfit     float64   `json:"take_profit"`
	EntryTime      time.Time `json:"entry_time"`
	Confidence     float64   `json:"confidence"`
	Strategy       string    `json:"strategy"`
	Sector         string    `json:"sector"`
	ATR            float64   `json:"atr"`
	Product        string    `json:"product"`
	PeakPrice      float64   `json:"peak_price"`
	GTTID          int       `json:"gtt_id,omitempty"`
}

// NewPositionID mints a position identifier.
func NewPositionID() string {
	return uuid.New().String()
}

// IsShort reports whether the position is a short.
func (p *Position) IsShort() bool {
	return p.Shares < 0
}

// AbsShares is the unsigned share count.
func (p *Position) AbsShares() int {
	if p.Shares < 0 {
		return -p.Shares
	}
	return p.Shares
}

// MarketValue is the current notional at the given price.
func (p *Position) MarketValue(price float64) float64 {
	return float64(p.AbsShares()) * price
}

// UnrealizedPnL is the open profit at the given price, gross of exit
// fees.
func (p *Position) UnrealizedPnL(price float64) float64 {
	if p.IsShort() {
		return float64(p.AbsShares()) * (p.EntryPrice - price)
	}
	return float64(p.AbsShares()) * (price - p.EntryPrice)
}

// ObservePrice tracks the most favorable price seen since entry, used
// for drawdown-from-peak exit scoring.
func (p *Position) ObservePrice(price float64) {
	if p.PeakPrice == 0 {
		p.PeakPrice = price
		return
	}
	if p.IsShort() {
		if price < p.PeakPrice {
			p.PeakPrice = price
		}
	} else if price > p.PeakPrice {
		p.PeakPrice = price
	}
}

// ShortKey returns the position-map key for a short on symbol.
func ShortKey(symbol string) string {
	return symbol + shortSuffix
}

// SymbolOfKey strips the short suffix from a position-map key.
func SymbolOfKey(key string) string {
	if len(key) > len(shortSuffix) && key[len(key)-len(shortSuffix):] == shortSuffix {
		return key[:len(key)-len(shortSuffix)]
	}
	return key
}
