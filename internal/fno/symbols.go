// Package fno models futures & options contracts for Indian index
// derivatives: symbol parsing, expiry conventions, lot sizes, option
// chains and multi-leg strategy selection.
package fno

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Right is the contract right.
type Right string

// Contract rights.
const (
	RightCall   Right = "CE"
	RightPut    Right = "PE"
	RightFuture Right = "FUT"
)

// derivativePattern matches the F&O symbol suffix: option symbols end
// in <strike>CE/<strike>PE, futures end in FUT.
var derivativePattern = regexp.MustCompile(`(\d+(CE|PE)|FUT)$`)

// symbolPattern decomposes a full derivative symbol.
var symbolPattern = regexp.MustCompile(`^([A-Z&]+?)(\d{2})([A-Z]{3}|[1-9OND]\d{2})(?:(\d+)(CE|PE)|FUT)$`)

// Contract is a parsed F&O symbol.
type Contract struct {
	Symbol     string
	Underlying string
	Expiry     time.Time
	Strike     float64
	Right      Right
	LotSize    int
}

// lotSizes per index underlying (NSE/BSE circulars, 2025 revision).
var lotSizes = map[string]int{
	"NIFTY":      75,
	"BANKNIFTY":  35,
	"FINNIFTY":   65,
	"MIDCPNIFTY": 140,
	"NIFTYNXT50": 25,
	"SENSEX":     20,
	"BANKEX":     30,
}

// weeklyExpiryWeekday per underlying. Monthly contracts expire on the
// last such weekday of the month.
var weeklyExpiryWeekday = map[string]time.Weekday{
	"NIFTY":      time.Thursday,
	"FINNIFTY":   time.Tuesday,
	"BANKNIFTY":  time.Wednesday,
	"MIDCPNIFTY": time.Monday,
	"SENSEX":     time.Tuesday,
	"BANKEX":     time.Monday,
}

// bseUnderlyings route to the BFO segment instead of NFO.
var bseUnderlyings = map[string]bool{
	"SENSEX": true,
	"BANKEX": true,
}

var monthByAbbrev = map[string]time.Month{
	"JAN": time.January, "FEB": time.February, "MAR": time.March,
	"APR": time.April, "MAY": time.May, "JUN": time.June,
	"JUL": time.July, "AUG": time.August, "SEP": time.September,
	"OCT": time.October, "NOV": time.November, "DEC": time.December,
}

// weekly month codes: 1-9 for Jan-Sep, O/N/D for Oct/Nov/Dec.
var monthByCode = map[byte]time.Month{
	'1': time.January, '2': time.February, '3': time.March,
	'4': time.April, '5': time.May, '6': time.June,
	'7': time.July, '8': time.August, '9': time.September,
	'O': time.October, 'N': time.November, 'D': time.December,
}

// IsDerivative reports whether symbol looks like an F&O trading symbol.
func IsDerivative(symbol string) bool {
	return derivativePattern.MatchString(symbol)
}

// Exchange returns the derivatives segment for an underlying.
func Exchange(underlying string) string {
	if bseUnderlyings[underlying] {
		return "BFO"
	}
	return "NFO"
}

// LotSize returns the contract lot size for an index underlying, or an
// error for unknown underlyings.
func LotSize(underlying string) (int, error) {
	if lot, ok := lotSizes[underlying]; ok {
		return lot, nil
	}
	return 0, fmt.Errorf("unknown lot size for underlying %q", underlying)
}

// ExpiryWeekday returns the weekly expiry weekday for an underlying.
// Unknown underlyings default to Thursday.
func ExpiryWeekday(underlying string) time.Weekday {
	if wd, ok := weeklyExpiryWeekday[underlying]; ok {
		return wd
	}
	return time.Thursday
}

// ParseSymbol decomposes a derivative trading symbol. Unknown or
// malformed symbols fail loud with an error rather than silently
// returning a zero expiry.
func ParseSymbol(symbol string, loc *time.Location) (*Contract, error) {
	if !IsDerivative(symbol) {
		return nil, fmt.Errorf("symbol %q is not a derivative", symbol)
	}
	m := symbolPattern.FindStringSubmatch(symbol)
	if m == nil {
		return nil, fmt.Errorf("unparseable derivative symbol %q", symbol)
	}

	underlying := m[1]
	year := 2000
	if y, err := strconv.Atoi(m[2]); err == nil {
		year += y
	}

	expiry, err := parseExpiryToken(underlying, year, m[3], loc)
	if err != nil {
		return nil, fmt.Errorf("symbol %q: %w", symbol, err)
	}

	c := &Contract{Symbol: symbol, Underlying: underlying, Expiry: expiry}
	if lot, ok := lotSizes[underlying]; ok {
		c.LotSize = lot
	}

	if m[5] == "" {
		c.Right = RightFuture
		return c, nil
	}
	strike, err := strconv.ParseFloat(m[4], 64)
	if err != nil || strike <= 0 {
		return nil, fmt.Errorf("symbol %q has invalid strike %q", symbol, m[4])
	}
	c.Strike = strike
	c.Right = Right(m[5])
	return c, nil
}

// parseExpiryToken handles both the monthly (25SEP) and weekly (25O07)
// expiry encodings.
func parseExpiryToken(underlying string, year int, token string, loc *time.Location) (time.Time, error) {
	if month, ok := monthByAbbrev[token]; ok {
		// Monthly contract: last expiry weekday of the month.
		return lastWeekdayOfMonth(year, month, ExpiryWeekday(underlying), loc), nil
	}

	// Weekly encoding: month code + 2-digit day.
	if len(token) == 3 {
		if month, ok := monthByCode[token[0]]; ok {
			day, err := strconv.Atoi(token[1:])
			if err == nil && day >= 1 && day <= 31 {
				return time.Date(year, month, day, 0, 0, 0, 0, loc), nil
			}
		}
	}
	return time.Time{}, fmt.Errorf("unknown expiry encoding %q", token)
}

func lastWeekdayOfMonth(year int, month time.Month, wd time.Weekday, loc *time.Location) time.Time {
	// Walk back from the last day of the month.
	d := time.Date(year, month+1, 0, 0, 0, 0, 0, loc)
	for d.Weekday() != wd {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

// BuildOptionSymbol composes a weekly option trading symbol from parts,
// using the monthly encoding when expiry is the month's last expiry
// weekday.
func BuildOptionSymbol(underlying string, expiry time.Time, strike float64, right Right) string {
	year := expiry.Year() % 100
	token := expiryToken(underlying, expiry)
	if right == RightFuture {
		return fmt.Sprintf("%s%02d%sFUT", underlying, year, token)
	}
	return fmt.Sprintf("%s%02d%s%d%s", underlying, year, token, int(strike), right)
}

func expiryToken(underlying string, expiry time.Time) string {
	last := lastWeekdayOfMonth(expiry.Year(), expiry.Month(), ExpiryWeekday(underlying), expiry.Location())
	if expiry.Day() == last.Day() {
		return strings.ToUpper(expiry.Format("Jan"))
	}
	codes := map[time.Month]string{
		time.January: "1", time.February: "2", time.March: "3",
		time.April: "4", time.May: "5", time.June: "6",
		time.July: "7", time.August: "8", time.September: "9",
		time.October: "O", time.November: "N", time.December: "D",
	}
	return fmt.Sprintf("%s%02d", codes[expiry.Month()], expiry.Day())
}

// ExpiresOn reports whether the contract expires on the given day.
func (c *Contract) ExpiresOn(day time.Time) bool {
	e := c.Expiry
	return e.Year() == day.Year() && e.Month() == day.Month() && e.Day() == day.Day()
}

// IndexFamily maps an underlying to its correlation family for the
// concentration guards.
func IndexFamily(underlying string) string {
	switch underlying {
	case "NIFTY", "SENSEX":
		return "broad_market"
	case "BANKNIFTY", "BANKEX", "FINNIFTY":
		return "financials"
	default:
		return "other"
	}
}

// HighCorrelationPairs lists underlyings that track each other at ~95%
// and must never be held simultaneously.
var HighCorrelationPairs = map[string]string{
	"NIFTY":     "SENSEX",
	"SENSEX":    "NIFTY",
	"BANKNIFTY": "BANKEX",
	"BANKEX":    "BANKNIFTY",
}

// Underlyings returns the known index underlyings sorted by symbol
// length descending so that prefix matching prefers BANKNIFTY over
// NIFTY.
func Underlyings() []string {
	out := make([]string, 0, len(lotSizes))
	for u := range lotSizes {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i]) != len(out[j]) {
			return len(out[i]) > len(out[j])
		}
		return out[i] < out[j]
	})
	return out
}

// UnderlyingOf extracts the index underlying from a derivative symbol
// by longest-prefix match.
func UnderlyingOf(symbol string) (string, bool) {
	for _, u := range Underlyings() {
		if strings.HasPrefix(symbol, u) {
			return u, true
		}
	}
	return "", false
}
