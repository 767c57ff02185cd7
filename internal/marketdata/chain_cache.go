package marketdata

import (
	"sort"
	"sync"
	"time"

	"github.com/scott0229/scott-agent-sub000/internal/models"
)

// ChainCache holds the option series parameters per underlying. Chain
// structure rarely changes intraday, so entries live under a longer TTL
// than quotes and are only ever replaced whole by a refetch, never
// merged or deleted.
type ChainCache struct {
	mu      sync.RWMutex
	entries map[string]chainEntry
}

type chainEntry struct {
	params    []models.ChainParams
	fetchedAt time.Time
}

// NewChainCache returns an empty cache.
func NewChainCache() *ChainCache {
	return &ChainCache{entries: make(map[string]chainEntry)}
}

// Put replaces the cached series list for symbol.
func (c *ChainCache) Put(symbol string, params []models.ChainParams) {
	stored := make([]models.ChainParams, len(params))
	copy(stored, params)

	c.mu.Lock()
	c.entries[symbol] = chainEntry{params: stored, fetchedAt: time.Now()}
	c.mu.Unlock()
}

// Get returns the cached series list and its age. ok is false when the
// symbol has never been fetched.
func (c *ChainCache) Get(symbol string) ([]models.ChainParams, time.Duration, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[symbol]
	if !ok {
		return nil, 0, false
	}
	out := make([]models.ChainParams, len(entry.params))
	copy(out, entry.params)
	return out, time.Since(entry.fetchedAt), true
}

// TradingClassFor returns the disambiguating trading class for an
// option on symbol expiring on expiry, read purely from cache. The
// series whose expirations include the target expiry wins; when several
// match, a class named exactly after the symbol is preferred since that
// is the standard listing. ok is false when no cached series lists the
// expiry, in which case resolution proceeds with the gateway default.
func (c *ChainCache) TradingClassFor(symbol, expiry string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[symbol]
	if !ok {
		return "", false
	}
	var fallback string
	for i := range entry.params {
		p := &entry.params[i]
		if p.TradingClass == "" || !p.HasExpiry(expiry) {
			continue
		}
		if p.TradingClass == symbol {
			return p.TradingClass, true
		}
		if fallback == "" {
			fallback = p.TradingClass
		}
	}
	if fallback == "" {
		return "", false
	}
	return fallback, true
}

// PrimarySeries picks the series to drive preloading for symbol: the
// class named after the symbol when present, otherwise the series with
// the most expirations. ok is false when the symbol has never been
// fetched or has no series.
func (c *ChainCache) PrimarySeries(symbol string) (models.ChainParams, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[symbol]
	if !ok || len(entry.params) == 0 {
		return models.ChainParams{}, false
	}
	best := 0
	for i := range entry.params {
		if entry.params[i].TradingClass == symbol {
			best = i
			break
		}
		if len(entry.params[i].Expirations) > len(entry.params[best].Expirations) {
			best = i
		}
	}
	return entry.params[best], true
}

// Symbols lists the cached underlyings in sorted order.
func (c *ChainCache) Symbols() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]string, 0, len(c.entries))
	for symbol := range c.entries {
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out
}

// Count reports the number of cached underlyings.
func (c *ChainCache) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
