// Package orders builds and submits multi-leg roll orders: one combo
// per account that closes an existing option leg and opens a new one
// under a single net limit price. Leg contract ids are resolved through
// the market data engine before anything is sent, and a failed
// resolution aborts the whole roll so a half-built combo can never
// reach the gateway.
package orders

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/scott0229/scott-agent-sub000/internal/gateway"
	"github.com/scott0229/scott-agent-sub000/internal/models"
	"github.com/scott0229/scott-agent-sub000/internal/util"
)

// ErrLegResolutionFailed is returned when either leg of a roll cannot
// be resolved to a contract id. No order is submitted for any account
// in that case; a combo with only one resolved leg would open an
// unintended naked position.
var ErrLegResolutionFailed = errors.New("roll leg resolution failed")

// ContractResolver resolves option contracts to gateway contract ids.
// The market data engine's resolver satisfies this.
type ContractResolver interface {
	ResolveLeg(ctx context.Context, contract models.OptionContract) (int64, error)
}

// Config contains tuning for the roll builder.
type Config struct {
	// TickSize is the combo price increment; net limits are rounded to
	// it before submission.
	TickSize float64
	// TIF is the order's time in force (DAY or GTC).
	TIF string
	// StatusTimeout bounds how long a submitted order's status events
	// are tracked before the listener is dropped.
	StatusTimeout time.Duration
}

// DefaultConfig is the default configuration for the roll builder.
var DefaultConfig = Config{
	TickSize:      0.01,
	TIF:           "DAY",
	StatusTimeout: 5 * time.Minute,
}

// PlacedOrder describes one submitted combo.
type PlacedOrder struct {
	OrderID     int64   `json:"order_id"`
	Account     string  `json:"account"`
	Quantity    int     `json:"quantity"`
	LimitPrice  float64 `json:"limit_price"`
	ClientTag   string  `json:"client_tag"`
	Description string  `json:"description"`
}

// OrderState is the latest known status of a submitted combo.
type OrderState struct {
	Status       string    `json:"status"`
	Filled       int       `json:"filled"`
	Remaining    int       `json:"remaining"`
	AvgFillPrice float64   `json:"avg_fill_price"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Builder resolves roll legs and submits the resulting combo orders.
// It keeps a per-order description cache because the gateway never
// echoes a readable label for a combo, only its numeric legs.
type Builder struct {
	transport gateway.Transport
	corr      *gateway.Correlator
	resolver  ContractResolver
	logger    *log.Logger
	config    Config

	mu           sync.RWMutex
	descriptions map[int64]string
	status       map[int64]OrderState
	placed       []PlacedOrder
}

// NewBuilder creates a roll builder. A nil logger falls back to a
// stderr logger; omitting config uses DefaultConfig.
func NewBuilder(transport gateway.Transport, corr *gateway.Correlator, resolver ContractResolver,
	logger *log.Logger, config ...Config) *Builder {
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	if cfg.TickSize <= 0 {
		cfg.TickSize = DefaultConfig.TickSize
	}
	if cfg.TIF != "DAY" && cfg.TIF != "GTC" {
		cfg.TIF = DefaultConfig.TIF
	}
	if cfg.StatusTimeout <= 0 {
		cfg.StatusTimeout = DefaultConfig.StatusTimeout
	}
	if logger == nil {
		logger = log.New(os.Stderr, "orders: ", log.LstdFlags)
	}
	return &Builder{
		transport:    transport,
		corr:         corr,
		resolver:     resolver,
		logger:       logger,
		config:       cfg,
		descriptions: make(map[int64]string),
		status:       make(map[int64]OrderState),
	}
}

// PlaceRollOrder resolves both legs and submits one combo order per
// account with a positive requested quantity. Leg resolution is
// all-or-nothing: if either leg fails, ErrLegResolutionFailed is
// returned and nothing is submitted. Per-account submission is not:
// the returned slice holds every order that did reach the gateway, and
// a non-nil error reports the accounts that failed after it.
func (b *Builder) PlaceRollOrder(ctx context.Context, req models.RollOrderRequest,
	accountQty map[string]int) ([]PlacedOrder, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid roll request: %w", err)
	}
	accounts := positiveAccounts(accountQty)
	if len(accounts) == 0 {
		return nil, fmt.Errorf("no account with a positive quantity")
	}

	closeContract := req.Close.Contract(req.Symbol)
	openContract := req.Open.Contract(req.Symbol)

	var closeConID, openConID int64
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		id, err := b.resolver.ResolveLeg(gctx, closeContract)
		if err != nil {
			return fmt.Errorf("close leg %s: %w", closeContract, err)
		}
		closeConID = id
		return nil
	})
	g.Go(func() error {
		id, err := b.resolver.ResolveLeg(gctx, openContract)
		if err != nil {
			return fmt.Errorf("open leg %s: %w", openContract, err)
		}
		openConID = id
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLegResolutionFailed, err)
	}

	// Closing inverts the position's direction; opening inverts the
	// close. Rolling a short position therefore buys back the old leg
	// and sells the new one.
	closeAction := gateway.ActionSell
	if req.Direction == models.DirectionShort {
		closeAction = gateway.ActionBuy
	}
	openAction := invertAction(closeAction)

	legs := []gateway.ComboLeg{
		{ConID: closeConID, Action: closeAction, Ratio: 1},
		{ConID: openConID, Action: openAction, Ratio: 1},
	}
	description := ComboDescription(req, closeAction, openAction)
	limit := util.RoundToTick(req.NetLimitPrice, b.config.TickSize)

	b.logger.Printf("roll %s: %s, net limit %.2f, %d account(s)",
		req.Symbol, description, limit, len(accounts))

	placed := make([]PlacedOrder, 0, len(accounts))
	var failed []string
	for _, account := range accounts {
		order := PlacedOrder{
			Account:    account,
			Quantity:   accountQty[account],
			LimitPrice: limit,
			ClientTag:  uuid.NewString(),
		}
		id := b.corr.NextID(gateway.KindOrder)
		order.OrderID = id
		order.Description = description

		if err := b.corr.Register(id, b.config.StatusTimeout, b.statusHandler(id)); err != nil {
			b.logger.Printf("tracking order %d for %s failed: %v", id, account, err)
		}
		reqMsg := gateway.PlaceOrderRequest{
			ID:      id,
			Account: account,
			Order: gateway.ComboOrder{
				Symbol:     req.Symbol,
				Legs:       legs,
				Quantity:   order.Quantity,
				LimitPrice: limit,
				TIF:        b.config.TIF,
				ClientTag:  order.ClientTag,
			},
		}
		if err := b.transport.Send(ctx, reqMsg); err != nil {
			b.corr.Complete(id)
			b.logger.Printf("submitting roll order %d for %s failed: %v", id, account, err)
			failed = append(failed, fmt.Sprintf("%s: %v", account, err))
			continue
		}

		b.mu.Lock()
		b.descriptions[id] = description
		b.status[id] = OrderState{Status: "Submitted", Remaining: order.Quantity, UpdatedAt: time.Now()}
		b.placed = append(b.placed, order)
		b.mu.Unlock()

		b.logger.Printf("order %d submitted for %s: %s x%d @ %.2f",
			id, account, description, order.Quantity, limit)
		placed = append(placed, order)
	}

	if len(failed) > 0 {
		return placed, fmt.Errorf("submitting roll for %d account(s) failed: %s",
			len(failed), strings.Join(failed, "; "))
	}
	return placed, nil
}

// statusHandler tracks one submitted order's status events until a
// terminal state or the tracking deadline.
func (b *Builder) statusHandler(id int64) gateway.Handler {
	return func(ev gateway.Event) {
		switch e := ev.(type) {
		case gateway.OrderStatus:
			b.mu.Lock()
			b.status[id] = OrderState{
				Status:       e.Status,
				Filled:       e.Filled,
				Remaining:    e.Remaining,
				AvgFillPrice: e.AvgFillPrice,
				UpdatedAt:    time.Now(),
			}
			b.mu.Unlock()
			if isTerminalStatus(e.Status) {
				b.corr.Complete(id)
			}
		case gateway.ErrorEvent:
			if e.Timeout() {
				b.logger.Printf("order %d: no terminal status within %s, tracking stopped",
					id, b.config.StatusTimeout)
				return
			}
			b.mu.Lock()
			b.status[id] = OrderState{Status: "Rejected", UpdatedAt: time.Now()}
			b.mu.Unlock()
			b.logger.Printf("order %d rejected by gateway: %d %s", id, e.Code, e.Msg)
			b.corr.Complete(id)
		}
	}
}

// Description returns the cached readable label for an order id.
func (b *Builder) Description(orderID int64) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	d, ok := b.descriptions[orderID]
	return d, ok
}

// Status returns the latest known state of a submitted order.
func (b *Builder) Status(orderID int64) (OrderState, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.status[orderID]
	return s, ok
}

// History returns every order submitted by this builder, oldest first.
func (b *Builder) History() []PlacedOrder {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]PlacedOrder, len(b.placed))
	copy(out, b.placed)
	return out
}

// ComboDescription renders a roll as "+Mar7 590P → -Mar14 585P": sign
// from the leg's action (+ buy, - sell), then compact expiry, strike
// and right. The gateway never sends a label back, so this string is
// what the operator sees next to the order id.
func ComboDescription(req models.RollOrderRequest, closeAction, openAction string) string {
	return fmt.Sprintf("%s%s %s%s → %s%s %s%s",
		actionSign(closeAction), util.FormatExpiryShort(req.Close.Expiry),
		util.FormatStrike(req.Close.Strike), req.Close.Right,
		actionSign(openAction), util.FormatExpiryShort(req.Open.Expiry),
		util.FormatStrike(req.Open.Strike), req.Open.Right)
}

func actionSign(action string) string {
	if action == gateway.ActionBuy {
		return "+"
	}
	return "-"
}

func invertAction(action string) string {
	if action == gateway.ActionBuy {
		return gateway.ActionSell
	}
	return gateway.ActionBuy
}

func isTerminalStatus(status string) bool {
	switch strings.ToLower(status) {
	case "filled", "cancelled", "canceled", "apicancelled", "inactive", "rejected":
		return true
	default:
		return false
	}
}

// positiveAccounts returns the accounts with a positive quantity in
// sorted order so submission order is deterministic.
func positiveAccounts(accountQty map[string]int) []string {
	out := make([]string, 0, len(accountQty))
	for account, qty := range accountQty {
		if qty > 0 && account != "" {
			out = append(out, account)
		}
	}
	sort.Strings(out)
	return out
}
