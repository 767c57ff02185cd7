// Package accounts tracks the brokerage sub-accounts visible on the
// current gateway session. The gateway announces the managed account
// list and display aliases shortly after connecting, and the set may
// change when the session drops and a different login reconnects, so
// the registry rebuilds itself from connection-scoped events rather
// than from configuration.
package accounts

import (
	"log"
	"os"
	"sort"
	"sync"

	"github.com/scott0229/scott-agent-sub000/internal/gateway"
)

// Registry holds the account identifiers and aliases announced by the
// gateway. All methods are safe for concurrent use.
type Registry struct {
	logger *log.Logger

	mu      sync.RWMutex
	ids     []string
	aliases map[string]string
}

// NewRegistry returns an empty registry. It fills as connection-scoped
// events arrive; wire HandleEvent into the event dispatcher's broadcast
// subscribers.
func NewRegistry(logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.New(os.Stderr, "accounts: ", log.LstdFlags)
	}
	return &Registry{
		logger:  logger,
		aliases: make(map[string]string),
	}
}

// HandleEvent consumes connection-scoped gateway events. Unrelated
// events are ignored, so it can sit on the broadcast path directly.
func (r *Registry) HandleEvent(ev gateway.Event) {
	switch e := ev.(type) {
	case gateway.ManagedAccounts:
		r.setAccounts(e.Accounts)
	case gateway.AccountAlias:
		r.setAlias(e.Account, e.Alias)
	case gateway.ConnectionStatus:
		if !e.Connected {
			// A reconnect may come back under a different login, so
			// the identity set cannot be trusted across a drop.
			r.Reset()
		}
	}
}

func (r *Registry) setAccounts(ids []string) {
	sorted := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			sorted = append(sorted, id)
		}
	}
	sort.Strings(sorted)

	r.mu.Lock()
	r.ids = sorted
	// Drop aliases for accounts no longer managed.
	for id := range r.aliases {
		if !contains(sorted, id) {
			delete(r.aliases, id)
		}
	}
	r.mu.Unlock()

	r.logger.Printf("managed accounts updated: %d account(s)", len(sorted))
}

func (r *Registry) setAlias(account, alias string) {
	if account == "" || alias == "" {
		return
	}
	r.mu.Lock()
	r.aliases[account] = alias
	r.mu.Unlock()
}

// Accounts returns the managed account identifiers in sorted order.
// The returned slice is a copy.
func (r *Registry) Accounts() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.ids))
	copy(out, r.ids)
	return out
}

// Alias returns the display alias for an account, falling back to the
// account id itself when no alias was announced.
func (r *Registry) Alias(account string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if alias, ok := r.aliases[account]; ok {
		return alias
	}
	return account
}

// Known reports whether the account id is part of the managed set.
func (r *Registry) Known(account string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return contains(r.ids, account)
}

// Count returns the number of managed accounts.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ids)
}

// Reset clears the account identity set. Cached market data elsewhere
// is account-independent and survives a reset.
func (r *Registry) Reset() {
	r.mu.Lock()
	r.ids = nil
	r.aliases = make(map[string]string)
	r.mu.Unlock()

	r.logger.Printf("account registry reset")
}

func contains(ids []string, id string) bool {
	i := sort.SearchStrings(ids, id)
	return i < len(ids) && ids[i] == id
}
