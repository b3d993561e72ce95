package risk

import (
	"time"

	"github.com/indiquant/kitebot/internal/fno"
	"github.com/indiquant/kitebot/internal/portfolio"
)

// ExpiringKeys returns the position keys whose contract expires on the
// given trading day. These must be liquidated before the close.
// Symbols that fail to parse are returned in the second slice so the
// caller can surface them instead of silently holding into expiry.
func ExpiringKeys(positions map[string]portfolio.Position, day time.Time, loc *time.Location) (expiring, unparseable []string) {
	for key := range positions {
		symbol := portfolio.SymbolOfKey(key)
		if !fno.IsDerivative(symbol) {
			continue
		}
		contract, err := fno.ParseSymbol(symbol, loc)
		if err != nil {
			unparseable = append(unparseable, key)
			continue
		}
		if contract.ExpiresOn(day) {
			expiring = append(expiring, key)
		}
	}
	return expiring, unparseable
}
