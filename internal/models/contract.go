package models

import (
	"fmt"
	"strconv"
)

// Right identifies an option side.
type Right string

const (
	// RightCall is a call option.
	RightCall Right = "C"
	// RightPut is a put option.
	RightPut Right = "P"
)

// Valid returns true if the Right is one of the defined constants.
func (r Right) Valid() bool {
	switch r {
	case RightCall, RightPut:
		return true
	default:
		return false
	}
}

// QuoteKey addresses a single (strike, right) slot inside a cached
// (symbol, expiry) batch. Strikes come from chain definitions, so exact
// float comparison is safe here.
type QuoteKey struct {
	Strike float64 `json:"strike"`
	Right  Right   `json:"right"`
}

// Less orders keys by strike ascending, calls before puts at equal strike.
func (k QuoteKey) Less(other QuoteKey) bool {
	if k.Strike != other.Strike {
		return k.Strike < other.Strike
	}
	return k.Right == RightCall && other.Right == RightPut
}

// OptionContract identifies a single listed option contract.
// Expiry uses the gateway's YYYYMMDD form.
type OptionContract struct {
	Symbol string  `json:"symbol"`
	Expiry string  `json:"expiry"`
	Strike float64 `json:"strike"`
	Right  Right   `json:"right"`
}

// Key returns the contract's slot within its (symbol, expiry) batch.
func (c OptionContract) Key() QuoteKey {
	return QuoteKey{Strike: c.Strike, Right: c.Right}
}

// CacheKey returns the stable identity string used by the contract-id store.
// Identifiers never change for a given contract, so the key is append-only
// for the life of the store.
func (c OptionContract) CacheKey() string {
	return c.Symbol + "|" + c.Expiry + "|" + strconv.FormatFloat(c.Strike, 'f', -1, 64) + "|" + string(c.Right)
}

func (c OptionContract) String() string {
	return fmt.Sprintf("%s %s %s%s", c.Symbol, c.Expiry,
		strconv.FormatFloat(c.Strike, 'f', -1, 64), c.Right)
}

// Validate checks the contract fields are well formed.
func (c OptionContract) Validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("contract symbol is required")
	}
	if len(c.Expiry) != 8 {
		return fmt.Errorf("contract expiry must be YYYYMMDD, got %q", c.Expiry)
	}
	if c.Strike <= 0 {
		return fmt.Errorf("contract strike must be positive, got %v", c.Strike)
	}
	if !c.Right.Valid() {
		return fmt.Errorf("contract right must be C or P, got %q", c.Right)
	}
	return nil
}
