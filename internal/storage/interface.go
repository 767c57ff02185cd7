package storage

import (
	"github.com/scott0229/scott-agent-sub000/internal/models"
)

// Interface defines the contract for persisting resolved contract
// identifiers. Identifiers are immutable once assigned by the gateway,
// so the store is append-only: entries are written once and never
// updated or deleted for the life of the file.
//
// Implementations must be safe for concurrent use - callers can assume
// all methods are goroutine-safe and can safely call them from multiple
// goroutines.
//
// The provided JSONStorage implementation uses sync.RWMutex to
// serialize access, ensuring all Interface methods are protected for
// concurrent readers and writers.
type Interface interface {
	// Underlying contract identifiers, keyed by symbol.
	UnderlyingConID(symbol string) (int64, bool)
	SetUnderlyingConID(symbol string, conID int64) error

	// Option contract identifiers, keyed by the full
	// (symbol, expiry, strike, right) tuple.
	OptionConID(contract models.OptionContract) (int64, bool)
	SetOptionConID(contract models.OptionContract, conID int64) error

	// ConIDCount reports how many identifiers are cached, for status
	// reporting.
	ConIDCount() int

	// Data persistence
	Save() error
	Load() error
}

// NewStorage creates a new storage implementation (currently JSON-based).
// In the future, this can be extended to support different storage backends.
func NewStorage(filepath string) (Interface, error) {
	return NewJSONStorage(filepath)
}

// Ensure JSONStorage implements Interface
var _ Interface = (*JSONStorage)(nil)
