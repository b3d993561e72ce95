package portfolio

import (
	"strings"

	"github.com/indiquant/kitebot/internal/fno"
)

// Trade sides.
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// InstrumentKind selects the fee table row.
type InstrumentKind string

// Instrument kinds.
const (
	KindEquity      InstrumentKind = "equity"
	KindIndexOption InstrumentKind = "index_option"
	KindStockOption InstrumentKind = "stock_option"
	KindIndexFuture InstrumentKind = "index_future"
	KindStockFuture InstrumentKind = "stock_future"
)

// Fees is the regulatory charge breakdown for one fill.
type Fees struct {
	Brokerage float64 `json:"brokerage"`
	STT       float64 `json:"stt"`
	Exchange  float64 `json:"exchange"`
	SEBI      float64 `json:"sebi"`
	StampDuty float64 `json:"stamp_duty"`
	GST       float64 `json:"gst"`
	Total     float64 `json:"total"`
}

// feeRow holds per-instrument charge rates as fractions of notional.
type feeRow struct {
	brokerageRate float64 // 0 means flat brokerage only
	brokerageCap  float64
	sttSell       float64
	sttBuy        float64
	exchange      float64
	stampBuy      float64
}

// Discount-broker intraday schedule. SEBI charges are uniform at
// Rs 10 per crore.
var feeTable = map[InstrumentKind]feeRow{
	KindEquity: {
		brokerageRate: 0.0003, brokerageCap: 20,
		sttSell: 0.00025, exchange: 0.0000297, stampBuy: 0.00003,
	},
	KindIndexOption: {
		brokerageCap: 20,
		sttSell:      0.000625, exchange: 0.0003503, stampBuy: 0.00003,
	},
	KindStockOption: {
		brokerageCap: 20,
		sttSell:      0.000625, exchange: 0.0003503, stampBuy: 0.00003,
	},
	KindIndexFuture: {
		brokerageCap: 20,
		sttSell:      0.000125, exchange: 0.0000173, stampBuy: 0.00002,
	},
	KindStockFuture: {
		brokerageCap: 20,
		sttSell:      0.000125, exchange: 0.0000173, stampBuy: 0.00002,
	},
}

const sebiRate = 0.000001 // Rs 10 per crore
const gstRate = 0.18

// ComputeFees returns the full charge breakdown for a fill of the
// given notional.
func ComputeFees(notional float64, side string, kind InstrumentKind, exchange string) Fees {
	if notional <= 0 {
		return Fees{}
	}
	row, ok := feeTable[kind]
	if !ok {
		row = feeTable[KindEquity]
	}

	var f Fees
	if row.brokerageRate > 0 {
		f.Brokerage = notional * row.brokerageRate
		if f.Brokerage > row.brokerageCap {
			f.Brokerage = row.brokerageCap
		}
	} else {
		f.Brokerage = row.brokerageCap
	}

	if side == SideSell {
		f.STT = notional * row.sttSell
	} else {
		f.STT = notional * row.sttBuy
		f.StampDuty = notional * row.stampBuy
	}
	f.Exchange = notional * row.exchange
	f.SEBI = notional * sebiRate
	f.GST = (f.Brokerage + f.Exchange) * gstRate
	f.Total = f.Brokerage + f.STT + f.Exchange + f.SEBI + f.StampDuty + f.GST
	return f
}

// KindOf classifies a trading symbol into its fee table row.
func KindOf(symbol string) InstrumentKind {
	if !fno.IsDerivative(symbol) {
		return KindEquity
	}
	_, isIndex := fno.UnderlyingOf(symbol)
	if strings.HasSuffix(symbol, "FUT") {
		if isIndex {
			return KindIndexFuture
		}
		return KindStockFuture
	}
	if isIndex {
		return KindIndexOption
	}
	return KindStockOption
}
