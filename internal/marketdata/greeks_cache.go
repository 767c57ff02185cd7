package marketdata

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/scott0229/scott-agent-sub000/internal/models"
)

// GreeksCache holds the merged quote and greek records for every
// (symbol, expiry) pair ever fetched. Entries accumulate strikes across
// batches: a refresh for a narrow strike window merges into the entry
// without erasing strikes fetched earlier. Entries are never deleted;
// staleness is judged by the caller against the entry's fetch time.
type GreeksCache struct {
	mu      sync.RWMutex
	entries map[string]*greeksEntry
}

type greeksEntry struct {
	quotes    map[models.QuoteKey]models.OptionQuote
	fetchedAt time.Time
}

// NewGreeksCache returns an empty cache.
func NewGreeksCache() *GreeksCache {
	return &GreeksCache{entries: make(map[string]*greeksEntry)}
}

func greeksKey(symbol, expiry string) string {
	return fmt.Sprintf("%s|%s", symbol, expiry)
}

// MergeBatch folds a finalized batch into the (symbol, expiry) entry
// using the non-destructive field merge, then stamps the entry's fetch
// time. Merges are associative, so the arrival order of overlapping
// batches does not matter.
func (c *GreeksCache) MergeBatch(symbol, expiry string, quotes []models.OptionQuote) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := greeksKey(symbol, expiry)
	entry, ok := c.entries[key]
	if !ok {
		entry = &greeksEntry{quotes: make(map[models.QuoteKey]models.OptionQuote)}
		c.entries[key] = entry
	}
	for _, in := range quotes {
		stored := entry.quotes[in.Key()]
		if stored.Expiry == "" {
			stored.Strike = in.Strike
			stored.Right = in.Right
			stored.Expiry = in.Expiry
		}
		stored.Merge(in)
		entry.quotes[in.Key()] = stored
	}
	entry.fetchedAt = time.Now()
}

// Snapshot returns every record known for (symbol, expiry) in
// presentation order, with the entry's fetch time. ok is false when the
// pair has never been fetched.
func (c *GreeksCache) Snapshot(symbol, expiry string) ([]models.OptionQuote, time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[greeksKey(symbol, expiry)]
	if !ok {
		return nil, time.Time{}, false
	}
	out := make([]models.OptionQuote, 0, len(entry.quotes))
	for _, q := range entry.quotes {
		out = append(out, q)
	}
	models.SortQuotes(out)
	return out, entry.fetchedAt, true
}

// Subset returns the records for the requested strikes (both rights) in
// presentation order. Strikes the entry does not hold are simply absent
// from the result. ok is false when the pair has never been fetched.
func (c *GreeksCache) Subset(symbol, expiry string, strikes []float64) ([]models.OptionQuote, time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[greeksKey(symbol, expiry)]
	if !ok {
		return nil, time.Time{}, false
	}
	out := make([]models.OptionQuote, 0, 2*len(strikes))
	for _, strike := range strikes {
		for _, right := range []models.Right{models.RightCall, models.RightPut} {
			if q, found := entry.quotes[models.QuoteKey{Strike: strike, Right: right}]; found {
				out = append(out, q)
			}
		}
	}
	models.SortQuotes(out)
	return out, entry.fetchedAt, true
}

// Age returns how long ago the (symbol, expiry) entry was last merged
// into. ok is false when the pair has never been fetched.
func (c *GreeksCache) Age(symbol, expiry string) (time.Duration, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[greeksKey(symbol, expiry)]
	if !ok {
		return 0, false
	}
	return time.Since(entry.fetchedAt), true
}

// Keys lists the cached (symbol, expiry) pairs in sorted order.
func (c *GreeksCache) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]string, 0, len(c.entries))
	for key := range c.entries {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

// Count reports the number of cached (symbol, expiry) entries.
func (c *GreeksCache) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
