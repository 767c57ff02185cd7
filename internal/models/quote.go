package models

import (
	"sort"
	"time"
)

// GreekSource records where a quote's greeks came from. Model-derived
// values are authoritative; bid/ask/last computations are fallbacks the
// gateway emits when its model has not converged yet.
type GreekSource int8

const (
	// GreekSourceNone means no greeks have been received.
	GreekSourceNone GreekSource = iota
	// GreekSourceTick marks greeks derived from a bid/ask/last computation.
	GreekSourceTick
	// GreekSourceModel marks greeks from the gateway's pricing model.
	GreekSourceModel
)

// StockQuote is a point-in-time quote for an underlying.
type StockQuote struct {
	Symbol string    `json:"symbol"`
	Bid    float64   `json:"bid"`
	Ask    float64   `json:"ask"`
	Last   float64   `json:"last"`
	Close  float64   `json:"close"`
	AsOf   time.Time `json:"as_of"`
}

// Price returns the best available price: last, then bid/ask midpoint,
// then previous close. Zero means no price is known.
func (q StockQuote) Price() float64 {
	if q.Last > 0 {
		return q.Last
	}
	if q.Bid > 0 && q.Ask > 0 {
		return (q.Bid + q.Ask) / 2
	}
	return q.Close
}

// OptionQuote is the accumulated quote and greek record for one
// (strike, right) pair. Every numeric field defaults to zero meaning
// "unknown"; fields are only ever written through Merge, which refuses
// to replace a known value with an unknown one.
type OptionQuote struct {
	Strike       float64     `json:"strike"`
	Right        Right       `json:"right"`
	Expiry       string      `json:"expiry"`
	Bid          float64     `json:"bid"`
	Ask          float64     `json:"ask"`
	Last         float64     `json:"last"`
	Delta        float64     `json:"delta"`
	Gamma        float64     `json:"gamma"`
	Theta        float64     `json:"theta"`
	Vega         float64     `json:"vega"`
	ImpliedVol   float64     `json:"implied_vol"`
	OpenInterest int64       `json:"open_interest"`
	Source       GreekSource `json:"-"`
}

// Key returns the quote's slot within its (symbol, expiry) batch.
func (q OptionQuote) Key() QuoteKey {
	return QuoteKey{Strike: q.Strike, Right: q.Right}
}

// HasPrice reports whether any price field carries a known value.
func (q OptionQuote) HasPrice() bool {
	return q.Bid > 0 || q.Ask > 0 || q.Last > 0
}

// Mid returns the bid/ask midpoint, falling back to last. Zero when no
// price is known.
func (q OptionQuote) Mid() float64 {
	if q.Bid > 0 && q.Ask > 0 {
		return (q.Bid + q.Ask) / 2
	}
	return q.Last
}

// Merge folds an incoming partial record into q without destroying known
// values. An incoming field lands only when it is meaningfully present:
// prices and open interest must be positive, greeks nonzero, implied vol
// positive. Tick-derived greeks never replace model-derived ones; they
// may only fill slots the model has not populated. Merging a record with
// itself is a no-op, and merging an all-zero record changes nothing.
func (q *OptionQuote) Merge(in OptionQuote) {
	if in.Bid > 0 {
		q.Bid = in.Bid
	}
	if in.Ask > 0 {
		q.Ask = in.Ask
	}
	if in.Last > 0 {
		q.Last = in.Last
	}
	if in.OpenInterest > 0 {
		q.OpenInterest = in.OpenInterest
	}

	if !in.hasGreeks() {
		return
	}
	fillOnly := in.Source == GreekSourceTick && q.Source == GreekSourceModel
	mergeGreek(&q.Delta, in.Delta, fillOnly)
	mergeGreek(&q.Gamma, in.Gamma, fillOnly)
	mergeGreek(&q.Theta, in.Theta, fillOnly)
	mergeGreek(&q.Vega, in.Vega, fillOnly)
	if in.ImpliedVol > 0 && (!fillOnly || q.ImpliedVol == 0) {
		q.ImpliedVol = in.ImpliedVol
	}
	if q.Source < in.Source {
		q.Source = in.Source
	}
}

func (q OptionQuote) hasGreeks() bool {
	return q.Delta != 0 || q.Gamma != 0 || q.Theta != 0 || q.Vega != 0 || q.ImpliedVol > 0
}

func mergeGreek(dst *float64, in float64, fillOnly bool) {
	if in == 0 {
		return
	}
	if fillOnly && *dst != 0 {
		return
	}
	*dst = in
}

// SortQuotes orders records by strike ascending, calls before puts at
// equal strike. This is the presentation order every consumer expects.
func SortQuotes(quotes []OptionQuote) {
	sort.Slice(quotes, func(i, j int) bool {
		return quotes[i].Key().Less(quotes[j].Key())
	})
}
