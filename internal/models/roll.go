package models

import "fmt"

// Direction is the side of the position being rolled.
type Direction string

const (
	// DirectionLong marks a long position (bought to open).
	DirectionLong Direction = "long"
	// DirectionShort marks a short position (sold to open).
	DirectionShort Direction = "short"
)

// Valid returns true if the Direction is one of the defined constants.
func (d Direction) Valid() bool {
	switch d {
	case DirectionLong, DirectionShort:
		return true
	default:
		return false
	}
}

// RollLeg identifies one side of a roll: the option being closed or the
// option being opened. The underlying symbol lives on the request, not
// the leg, since both legs always share it.
type RollLeg struct {
	Expiry string  `json:"expiry"`
	Strike float64 `json:"strike"`
	Right  Right   `json:"right"`
}

// Contract expands the leg into a full option contract for resolution.
func (l RollLeg) Contract(symbol string) OptionContract {
	return OptionContract{Symbol: symbol, Expiry: l.Expiry, Strike: l.Strike, Right: l.Right}
}

// RollOrderRequest describes a two-leg roll: close the Close leg, open
// the Open leg, as one combo order with a single net limit price.
// Requests are transient; one is built per invocation and never stored.
type RollOrderRequest struct {
	Symbol        string    `json:"symbol"`
	Close         RollLeg   `json:"close"`
	Open          RollLeg   `json:"open"`
	Direction     Direction `json:"direction"`
	NetLimitPrice float64   `json:"net_limit_price"`
}

// Validate checks the request is complete enough to resolve and submit.
func (r RollOrderRequest) Validate() error {
	if r.Symbol == "" {
		return fmt.Errorf("roll symbol is required")
	}
	if !r.Direction.Valid() {
		return fmt.Errorf("roll direction must be long or short, got %q", r.Direction)
	}
	for name, leg := range map[string]RollLeg{"close": r.Close, "open": r.Open} {
		if err := leg.Contract(r.Symbol).Validate(); err != nil {
			return fmt.Errorf("%s leg: %w", name, err)
		}
	}
	if r.Close == r.Open {
		return fmt.Errorf("close and open legs are identical")
	}
	return nil
}
