package models

import (
	"sort"
	"time"
)

// ChainParams describes one options series for an underlying: the
// exchange/trading-class pair and the expirations and strikes it lists.
// A single underlying commonly has several (weeklies and monthlies, or
// per-exchange listings).
type ChainParams struct {
	Exchange        string    `json:"exchange"`
	UnderlyingConID int64     `json:"underlying_con_id"`
	TradingClass    string    `json:"trading_class"`
	Multiplier      string    `json:"multiplier"`
	Expirations     []string  `json:"expirations"`
	Strikes         []float64 `json:"strikes"`
	FetchedAt       time.Time `json:"fetched_at,omitempty"`
}

// HasExpiry reports whether the series lists the given YYYYMMDD expiry.
func (c *ChainParams) HasExpiry(expiry string) bool {
	for _, e := range c.Expirations {
		if e == expiry {
			return true
		}
	}
	return false
}

// UpcomingExpirations returns up to n expirations on or after now,
// soonest first. Expiry strings are YYYYMMDD so lexical order is date
// order.
func (c *ChainParams) UpcomingExpirations(now time.Time, n int) []string {
	if n <= 0 {
		return nil
	}
	today := now.Format("20060102")
	sorted := make([]string, len(c.Expirations))
	copy(sorted, c.Expirations)
	sort.Strings(sorted)

	out := make([]string, 0, n)
	for _, e := range sorted {
		if e < today {
			continue
		}
		out = append(out, e)
		if len(out) == n {
			break
		}
	}
	return out
}

// StrikeWindow returns a symmetric window of strikes centered on the
// strike closest to center, radius entries on each side. When center is
// zero (price unknown) the window centers on the chain's midpoint, which
// is the documented fallback. The result is sorted ascending.
func (c *ChainParams) StrikeWindow(center float64, radius int) []float64 {
	if len(c.Strikes) == 0 || radius < 0 {
		return nil
	}
	sorted := make([]float64, len(c.Strikes))
	copy(sorted, c.Strikes)
	sort.Float64s(sorted)

	pivot := len(sorted) / 2
	if center > 0 {
		pivot = nearestIndex(sorted, center)
	}
	lo := pivot - radius
	if lo < 0 {
		lo = 0
	}
	hi := pivot + radius + 1
	if hi > len(sorted) {
		hi = len(sorted)
	}
	out := make([]float64, hi-lo)
	copy(out, sorted[lo:hi])
	return out
}

func nearestIndex(sorted []float64, target float64) int {
	i := sort.SearchFloat64s(sorted, target)
	if i == 0 {
		return 0
	}
	if i == len(sorted) {
		return len(sorted) - 1
	}
	if target-sorted[i-1] <= sorted[i]-target {
		return i - 1
	}
	return i
}
