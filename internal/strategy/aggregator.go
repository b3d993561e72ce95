package strategy

import "fmt"

// Actions emitted by the aggregator.
const (
	ActionBuy  = "buy"
	ActionSell = "sell"
	ActionHold = "hold"
)

// Regime biases accepted by the aggregator.
const (
	BiasBullish = "bullish"
	BiasBearish = "bearish"
	BiasNeutral = "neutral"
)

// Decision is the aggregate verdict over all strategy outputs.
type Decision struct {
	Action     string   `json:"action"`
	Confidence float64  `json:"confidence"`
	Reasons    []string `json:"reasons"`
}

// Aggregator combines per-strategy signals into a single action.
type Aggregator struct {
	MinAgreement    float64 // entry agreement floor, default 0.4
	MinMeanStrength float64 // entry mean-strength floor, default 0.20
}

// NewAggregator uses the default thresholds.
func NewAggregator() *Aggregator {
	return &Aggregator{MinAgreement: 0.4, MinMeanStrength: 0.20}
}

// Aggregate votes the strategy outputs into one decision. For exits the
// agreement threshold relaxes to a single strategy and the regime bias
// never overrides the result.
func (a *Aggregator) Aggregate(outputs []Signal, isExit bool, bias string) Decision {
	n := len(outputs)
	if n == 0 {
		return Decision{Action: ActionHold, Reasons: []string{"no strategy outputs"}}
	}

	var buyCount, sellCount int
	var buyStrength, sellStrength float64
	var reasons []string
	for _, s := range outputs {
		switch s.Direction {
		case DirectionBuy:
			buyCount++
			buyStrength += s.Strength
			reasons = append(reasons, "buy: "+s.Reason)
		case DirectionSell:
			sellCount++
			sellStrength += s.Strength
			reasons = append(reasons, "sell: "+s.Reason)
		}
	}

	buyAgreement := float64(buyCount) / float64(n)
	sellAgreement := float64(sellCount) / float64(n)
	buyMean, sellMean := 0.0, 0.0
	if buyCount > 0 {
		buyMean = buyStrength / float64(buyCount)
	}
	if sellCount > 0 {
		sellMean = sellStrength / float64(sellCount)
	}

	agreementFloor := a.MinAgreement
	strengthFloor := a.MinMeanStrength
	if isExit {
		// Any single strategy with positive strength may trigger an exit.
		agreementFloor = 1 / float64(n)
		strengthFloor = 0
	}

	buyOK := buyAgreement >= agreementFloor && buyMean > strengthFloor
	sellOK := sellAgreement >= agreementFloor && sellMean > strengthFloor

	action := ActionHold
	agreement, mean := 0.0, 0.0
	switch {
	case buyOK && sellOK:
		if buyMean > sellMean {
			action, agreement, mean = ActionBuy, buyAgreement, buyMean
		} else if sellMean > buyMean {
			action, agreement, mean = ActionSell, sellAgreement, sellMean
		}
		// Equal strength resolves to hold.
	case buyOK:
		action, agreement, mean = ActionBuy, buyAgreement, buyMean
	case sellOK:
		action, agreement, mean = ActionSell, sellAgreement, sellMean
	}
	if action == ActionHold {
		return Decision{Action: ActionHold, Reasons: append(reasons, "thresholds not met")}
	}

	confidence := clamp01(mean * (0.6 + agreement*0.4))

	// Regime veto applies to entries only.
	if !isExit {
		if bias == BiasBullish && action == ActionSell {
			return Decision{Action: ActionHold,
				Reasons: append(reasons, fmt.Sprintf("regime blocked: bullish bias vetoes sell entry (confidence %.2f)", confidence))}
		}
		if bias == BiasBearish && action == ActionBuy {
			return Decision{Action: ActionHold,
				Reasons: append(reasons, fmt.Sprintf("regime blocked: bearish bias vetoes buy entry (confidence %.2f)", confidence))}
		}
	}

	return Decision{Action: action, Confidence: confidence, Reasons: reasons}
}
