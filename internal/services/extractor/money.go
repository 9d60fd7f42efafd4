package extractor

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// maxPrice bounds accepted values; anything outside (0, maxPrice] is a miss.
const maxPrice = 10_000_000

// moneyRe matches a number with optional thousand groups and an optional
// currency marker on either side.
var moneyRe = regexp.MustCompile(`(?i)(?:(€|\$|£|₺|USD|EUR|GBP|TRY|TL)\s*)?(\d{1,3}(?:[.,]\d{3})*(?:[.,]\d{1,2})?|\d+(?:[.,]\d{1,2})?)(?:\s*(€|\$|£|₺|USD|EUR|GBP|TRY|TL))?`)

var currencyCodes = map[string]string{
	"€":   "EUR",
	"$":   "USD",
	"£":   "GBP",
	"₺":   "TRY",
	"TL":  "TRY",
	"TRY": "TRY",
	"USD": "USD",
	"EUR": "EUR",
	"GBP": "GBP",
}

// ParseMoney extracts the first price-looking amount from text. It returns
// the amount, the ISO-4217 currency code when a marker was present ("" when
// not), and whether anything parseable was found. Values outside
// (0, 10_000_000] are rejected.
func ParseMoney(text string) (float64, string, bool) {
	s := strings.Join(strings.Fields(text), " ")
	if s == "" {
		return 0, "", false
	}

	m := moneyRe.FindStringSubmatch(s)
	if m == nil {
		return 0, "", false
	}

	amount, ok := parseAmount(m[2])
	if !ok {
		return 0, "", false
	}

	currency := ""
	if marker := m[1] + m[3]; marker != "" {
		currency = currencyCodes[strings.ToUpper(marker)]
	}
	return amount, currency, true
}

// parseAmount normalizes separator conventions. With both separators present
// the later one is the decimal mark ("1.234,56" and "1,234.56" both parse).
// A lone comma is read as a decimal mark, matching the price formats the
// site adapters target.
func parseAmount(raw string) (float64, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, false
	}

	comma := strings.LastIndex(s, ",")
	dot := strings.LastIndex(s, ".")
	switch {
	case comma >= 0 && dot >= 0:
		if comma > dot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case comma >= 0:
		s = strings.Replace(s, ",", ".", 1)
	}

	value, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	if !validPrice(value) {
		return 0, false
	}
	return round2(value), true
}

// validPrice enforces the accepted price range.
func validPrice(v float64) bool {
	return v > 0 && v <= maxPrice
}

// round2 scales to two fractional digits, half away from zero. Display
// normalization only; the rule engine does its own banker's rounding.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
