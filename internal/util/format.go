package util

import (
	"time"

	"github.com/shopspring/decimal"
)

const expiryLayout = "20060102"

// FormatStrike renders a strike without trailing zeros: 590 not 590.00,
// 592.5 not 592.50. Used in combo descriptions and cache views.
func FormatStrike(strike float64) string {
	return decimal.NewFromFloat(strike).String()
}

// FormatExpiryShort renders a YYYYMMDD expiry in the compact MonD form
// used by combo descriptions, e.g. "20260307" -> "Mar7". Malformed
// input is returned unchanged so a bad expiry stays visible in logs
// instead of vanishing.
func FormatExpiryShort(expiry string) string {
	t, err := time.Parse(expiryLayout, expiry)
	if err != nil {
		return expiry
	}
	return t.Format("Jan2")
}

// ParseExpiry parses a YYYYMMDD expiry into a UTC time.
func ParseExpiry(expiry string) (time.Time, error) {
	return time.Parse(expiryLayout, expiry)
}
