// Package mock provides a scripted in-process gateway for paper runs
// and integration tests. It speaks the same request/event vocabulary as
// a live session: snapshot requests answered with ticks and an end
// marker, contract lookups with details, chain requests with parameter
// sets, and orders with a status sequence. Scripts control which
// contracts answer, stay silent, or fail, so timer and error paths are
// reachable without a brokerage connection.
package mock

import (
	"context"
	"crypto/rand"
	"fmt"
	"log"
	"math"
	"math/big"
	"os"
	"sync"
	"time"

	"github.com/scott0229/scott-agent-sub000/internal/gateway"
	"github.com/scott0229/scott-agent-sub000/internal/models"
)

// secureFloat64 generates a cryptographically secure random float64 between 0 and 1
func secureFloat64() float64 {
	n, err := rand.Int(rand.Reader, big.NewInt(1<<53))
	if err != nil {
		// Fallback to a reasonable default if crypto/rand fails
		return 0.5
	}
	return float64(n.Int64()) / (1 << 53)
}

// secureInt63n generates a cryptographically secure random int64 between 0 and n-1
func secureInt63n(n int64) int64 {
	max := big.NewInt(n)
	r, err := rand.Int(rand.Reader, max)
	if err != nil {
		// Fallback to a reasonable default if crypto/rand fails
		return n / 2
	}
	return r.Int64()
}

// StockScript is the canned snapshot answer for one underlying. Zero
// fields emit no tick, which is how sparse data is simulated.
type StockScript struct {
	Bid   float64
	Ask   float64
	Last  float64
	Close float64
}

// OptionScript is the canned snapshot answer for one option contract.
type OptionScript struct {
	Bid          float64
	Ask          float64
	Last         float64
	Delta        float64
	Gamma        float64
	Theta        float64
	Vega         float64
	ImpliedVol   float64
	OpenInterest int64
}

// MockGateway is a scripted gateway.Transport. Every answer is driven
// by registered scripts; unknown contracts answer with the no-security-
// definition error the way a live session does.
type MockGateway struct {
	logger *log.Logger

	mu         sync.Mutex
	connected  bool
	events     chan gateway.Event
	replyDelay time.Duration
	dropped    int

	accounts []string
	aliases  map[string]string

	stocks    map[string]StockScript
	options   map[string]OptionScript
	chains    map[string][]gateway.ChainParameter
	conids    map[string]int64
	nextConID int64

	silent    map[string]bool
	failCode  map[string]int
	failAccts map[string]bool
	holdFills bool

	requests []gateway.Request
	cancels  []int64
}

var _ gateway.Transport = (*MockGateway)(nil)

// NewMockGateway creates a connected gateway with no scripts. A nil
// logger falls back to a stderr logger.
func NewMockGateway(logger *log.Logger) *MockGateway {
	if logger == nil {
		logger = log.New(os.Stderr, "mock: ", log.LstdFlags)
	}
	return &MockGateway{
		logger:    logger,
		connected: true,
		events:    make(chan gateway.Event, 1024),
		aliases:   make(map[string]string),
		stocks:    make(map[string]StockScript),
		options:   make(map[string]OptionScript),
		chains:    make(map[string][]gateway.ChainParameter),
		conids:    make(map[string]int64),
		nextConID: 7000,
		silent:    make(map[string]bool),
		failCode:  make(map[string]int),
		failAccts: make(map[string]bool),
	}
}

// Events returns the inbound event stream. A consumer must drain it;
// events beyond the buffer are dropped, as a live session would under a
// stalled reader.
func (g *MockGateway) Events() <-chan gateway.Event { return g.events }

// Connected reports the scripted session state.
func (g *MockGateway) Connected() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.connected
}

// SetReplyDelay delays every scripted answer by d, simulating wire
// latency. Zero restores immediate replies.
func (g *MockGateway) SetReplyDelay(d time.Duration) {
	g.mu.Lock()
	g.replyDelay = d
	g.mu.Unlock()
}

// AddStock registers an underlying and assigns it a contract id.
func (g *MockGateway) AddStock(symbol string, script StockScript) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stocks[symbol] = script
	return g.assignConID(stockKey(symbol))
}

// AddOption registers an option contract and assigns it a contract id.
func (g *MockGateway) AddOption(contract models.OptionContract, script OptionScript) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.options[contract.CacheKey()] = script
	return g.assignConID(contract.CacheKey())
}

// AddChain registers the parameter sets answered for an underlying's
// chain request. Request ids on the templates are ignored.
func (g *MockGateway) AddChain(symbol string, params ...gateway.ChainParameter) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.chains[symbol] = params
}

// SilenceOption makes market data requests for the contract go
// unanswered. Resolution still works; only ticks are withheld.
func (g *MockGateway) SilenceOption(contract models.OptionContract) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.silent[contract.CacheKey()] = true
}

// FailOption makes market data requests for the contract answer with
// the given gateway error code.
func (g *MockGateway) FailOption(contract models.OptionContract, code int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failCode[contract.CacheKey()] = code
}

// FailAccount makes order submissions for the account fail at the
// transport layer.
func (g *MockGateway) FailAccount(account string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failAccts[account] = true
}

// HoldFills stops orders from progressing past Submitted, so status
// tracking under an unfilled order is testable.
func (g *MockGateway) HoldFills(hold bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.holdFills = hold
}

// StockConID returns the contract id assigned to an underlying.
func (g *MockGateway) StockConID(symbol string) (int64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id, ok := g.conids[stockKey(symbol)]
	return id, ok
}

// OptionConID returns the contract id assigned to an option contract.
func (g *MockGateway) OptionConID(contract models.OptionContract) (int64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id, ok := g.conids[contract.CacheKey()]
	return id, ok
}

// SetAlias registers a display alias announced with the account list.
func (g *MockGateway) SetAlias(account, alias string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.aliases[account] = alias
}

// AnnounceAccounts sets the managed account list and emits it, followed
// by one alias event per account with a registered alias.
func (g *MockGateway) AnnounceAccounts(accounts ...string) {
	g.mu.Lock()
	g.accounts = append([]string(nil), accounts...)
	events := []gateway.Event{gateway.ManagedAccounts{Accounts: append([]string(nil), accounts...)}}
	for _, account := range accounts {
		if alias, ok := g.aliases[account]; ok {
			events = append(events, gateway.AccountAlias{Account: account, Alias: alias})
		}
	}
	g.mu.Unlock()
	g.emit(events...)
}

// DropSession simulates losing the brokerage connection: subsequent
// sends fail and a connectivity-lost notice goes out.
func (g *MockGateway) DropSession() {
	g.mu.Lock()
	g.connected = false
	g.mu.Unlock()
	g.emit(
		gateway.ErrorEvent{ID: -1, Code: gateway.CodeConnectivityLost, Msg: "connectivity to the brokerage has been lost"},
		gateway.ConnectionStatus{Connected: false},
	)
}

// RestoreSession reverses DropSession and re-announces the managed
// accounts, matching live session behavior after a reconnect.
func (g *MockGateway) RestoreSession() {
	g.mu.Lock()
	g.connected = true
	accounts := append([]string(nil), g.accounts...)
	g.mu.Unlock()
	g.emit(
		gateway.ErrorEvent{ID: -1, Code: gateway.CodeConnectivityRestored, Msg: "connectivity to the brokerage has been restored"},
		gateway.ConnectionStatus{Connected: true},
	)
	if len(accounts) > 0 {
		g.AnnounceAccounts(accounts...)
	}
}

// Requests returns every request accepted so far, in order.
func (g *MockGateway) Requests() []gateway.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]gateway.Request(nil), g.requests...)
}

// MarketDataRequests returns the accepted snapshot requests for one
// security type, in order.
func (g *MockGateway) MarketDataRequests(secType string) []gateway.MarketDataRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []gateway.MarketDataRequest
	for _, r := range g.requests {
		if md, ok := r.(gateway.MarketDataRequest); ok && md.Contract.SecType == secType {
			out = append(out, md)
		}
	}
	return out
}

// OrderRequests returns the accepted order submissions, in order.
func (g *MockGateway) OrderRequests() []gateway.PlaceOrderRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []gateway.PlaceOrderRequest
	for _, r := range g.requests {
		if po, ok := r.(gateway.PlaceOrderRequest); ok {
			out = append(out, po)
		}
	}
	return out
}

// Cancels returns the ids whose market data was cancelled, in order.
func (g *MockGateway) Cancels() []int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]int64(nil), g.cancels...)
}

// CancelMarketData records the cancel. Live sessions do not acknowledge
// cancels, so no event is emitted.
func (g *MockGateway) CancelMarketData(id int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancels = append(g.cancels, id)
	return nil
}

// Send accepts one request and schedules its scripted answer.
func (g *MockGateway) Send(_ context.Context, req gateway.Request) error {
	g.mu.Lock()
	if !g.connected {
		g.mu.Unlock()
		return gateway.ErrNotConnected
	}
	if po, ok := req.(gateway.PlaceOrderRequest); ok && g.failAccts[po.Account] {
		g.mu.Unlock()
		return fmt.Errorf("order for %s refused at the transport", po.Account)
	}
	g.requests = append(g.requests, req)
	g.mu.Unlock()

	switch r := req.(type) {
	case gateway.MarketDataRequest:
		g.answerMarketData(r)
	case gateway.ContractDetailsRequest:
		g.answerContractDetails(r)
	case gateway.ChainParamsRequest:
		g.answerChainParams(r)
	case gateway.PlaceOrderRequest:
		g.answerOrder(r)
	default:
		g.logger.Printf("unscripted request type %T", req)
	}
	return nil
}

func (g *MockGateway) answerMarketData(r gateway.MarketDataRequest) {
	if r.Contract.SecType == gateway.SecTypeStock {
		g.answerStockSnapshot(r)
		return
	}

	key := optionKey(r.Contract)
	g.mu.Lock()
	if g.silent[key] {
		g.mu.Unlock()
		return
	}
	if code, ok := g.failCode[key]; ok {
		g.mu.Unlock()
		g.emit(gateway.ErrorEvent{ID: r.ID, Code: code, Msg: "scripted market data failure"})
		return
	}
	script, ok := g.options[key]
	g.mu.Unlock()
	if !ok {
		g.emit(gateway.ErrorEvent{ID: r.ID, Code: gateway.CodeNoSecurityDef, Msg: "no security definition has been found"})
		return
	}

	events := make([]gateway.Event, 0, 8)
	if script.Bid > 0 {
		events = append(events, gateway.TickPrice{ID: r.ID, Field: gateway.TickFieldBid, Price: script.Bid})
	}
	if script.Ask > 0 {
		events = append(events, gateway.TickPrice{ID: r.ID, Field: gateway.TickFieldAsk, Price: script.Ask})
	}
	if script.Last > 0 {
		events = append(events, gateway.TickPrice{ID: r.ID, Field: gateway.TickFieldLast, Price: script.Last})
	}
	if script.OpenInterest > 0 {
		field := gateway.TickFieldCallOpenInterest
		if r.Contract.Right == models.RightPut {
			field = gateway.TickFieldPutOpenInterest
		}
		events = append(events, gateway.TickSize{ID: r.ID, Field: field, Size: script.OpenInterest})
	}
	if script.Delta != 0 || script.ImpliedVol > 0 {
		events = append(events, gateway.TickOptionComputation{
			ID:         r.ID,
			Field:      gateway.TickFieldModelOptComp,
			ImpliedVol: script.ImpliedVol,
			Delta:      script.Delta,
			Gamma:      script.Gamma,
			Theta:      script.Theta,
			Vega:       script.Vega,
			OptPrice:   script.Last,
		})
	}
	events = append(events, gateway.SnapshotEnd{ID: r.ID})
	g.emit(events...)
}

func (g *MockGateway) answerStockSnapshot(r gateway.MarketDataRequest) {
	g.mu.Lock()
	script, ok := g.stocks[r.Contract.Symbol]
	g.mu.Unlock()
	if !ok {
		g.emit(gateway.ErrorEvent{ID: r.ID, Code: gateway.CodeNoSecurityDef, Msg: "no security definition has been found"})
		return
	}
	events := make([]gateway.Event, 0, 5)
	if script.Bid > 0 {
		events = append(events, gateway.TickPrice{ID: r.ID, Field: gateway.TickFieldBid, Price: script.Bid})
	}
	if script.Ask > 0 {
		events = append(events, gateway.TickPrice{ID: r.ID, Field: gateway.TickFieldAsk, Price: script.Ask})
	}
	if script.Last > 0 {
		events = append(events, gateway.TickPrice{ID: r.ID, Field: gateway.TickFieldLast, Price: script.Last})
	}
	if script.Close > 0 {
		events = append(events, gateway.TickPrice{ID: r.ID, Field: gateway.TickFieldClose, Price: script.Close})
	}
	events = append(events, gateway.SnapshotEnd{ID: r.ID})
	g.emit(events...)
}

func (g *MockGateway) answerContractDetails(r gateway.ContractDetailsRequest) {
	key := stockKey(r.Contract.Symbol)
	if r.Contract.SecType == gateway.SecTypeOption {
		key = optionKey(r.Contract)
	}
	g.mu.Lock()
	conID, ok := g.conids[key]
	g.mu.Unlock()
	if !ok {
		g.emit(gateway.ErrorEvent{ID: r.ID, Code: gateway.CodeNoSecurityDef, Msg: "no security definition has been found"})
		return
	}
	tradingClass := r.Contract.TradingClass
	if tradingClass == "" {
		tradingClass = r.Contract.Symbol
	}
	g.emit(
		gateway.ContractDetails{
			ID:           r.ID,
			ConID:        conID,
			Symbol:       r.Contract.Symbol,
			TradingClass: tradingClass,
			Multiplier:   "100",
			Exchange:     "SMART",
		},
		gateway.ContractDetailsEnd{ID: r.ID},
	)
}

func (g *MockGateway) answerChainParams(r gateway.ChainParamsRequest) {
	g.mu.Lock()
	templates, ok := g.chains[r.Symbol]
	g.mu.Unlock()
	if !ok {
		g.emit(gateway.ErrorEvent{ID: r.ID, Code: gateway.CodeNoSecurityDef, Msg: "no option chain listed"})
		return
	}
	events := make([]gateway.Event, 0, len(templates)+1)
	for _, template := range templates {
		param := template
		param.ID = r.ID
		events = append(events, param)
	}
	events = append(events, gateway.ChainParameterEnd{ID: r.ID})
	g.emit(events...)
}

func (g *MockGateway) answerOrder(r gateway.PlaceOrderRequest) {
	qty := r.Order.Quantity
	g.mu.Lock()
	hold := g.holdFills
	g.mu.Unlock()

	events := []gateway.Event{
		gateway.OrderStatus{OrderID: r.ID, Status: "Submitted", Filled: 0, Remaining: qty},
	}
	if !hold {
		events = append(events, gateway.OrderStatus{
			OrderID: r.ID, Status: "Filled", Filled: qty, Remaining: 0, AvgFillPrice: r.Order.LimitPrice,
		})
	}
	g.emit(events...)
}

// emit delivers events in order, after the configured reply delay.
func (g *MockGateway) emit(events ...gateway.Event) {
	g.mu.Lock()
	delay := g.replyDelay
	g.mu.Unlock()
	if delay <= 0 {
		g.push(events)
		return
	}
	time.AfterFunc(delay, func() { g.push(events) })
}

func (g *MockGateway) push(events []gateway.Event) {
	for _, ev := range events {
		select {
		case g.events <- ev:
		default:
			g.mu.Lock()
			g.dropped++
			n := g.dropped
			g.mu.Unlock()
			g.logger.Printf("event buffer full, dropped %T (%d total)", ev, n)
		}
	}
}

// assignConID registers a contract key. Callers hold g.mu.
func (g *MockGateway) assignConID(key string) int64 {
	if id, ok := g.conids[key]; ok {
		return id
	}
	g.nextConID++
	g.conids[key] = g.nextConID
	return g.nextConID
}

func stockKey(symbol string) string { return "stk|" + symbol }

func optionKey(spec gateway.ContractSpec) string {
	return models.OptionContract{
		Symbol: spec.Symbol,
		Expiry: spec.Expiry,
		Strike: spec.Strike,
		Right:  spec.Right,
	}.CacheKey()
}

// SeedSymbol scripts a full underlying: a stock quote, one chain series
// and an option script for every strike and right of every expiration.
// Zero price picks one near 450; nil expirations default to the next
// four Fridays; nil strikes default to a $5 grid spanning 50 points
// each side of the price. Greeks follow a simplified decay model: delta
// falls off exponentially with distance from the money and prices scale
// with volatility and time.
func (g *MockGateway) SeedSymbol(symbol string, price float64, expirations []string, strikes []float64) {
	if price <= 0 {
		price = 450.0 + secureFloat64()*10
	}
	if len(expirations) == 0 {
		expirations = upcomingFridays(time.Now(), 4)
	}
	if len(strikes) == 0 {
		start := math.Floor(price/5)*5 - 50
		for strike := start; strike <= start+100; strike += 5 {
			strikes = append(strikes, strike)
		}
	}

	spread := 0.02
	g.AddStock(symbol, StockScript{
		Bid:   price - spread/2,
		Ask:   price + spread/2,
		Last:  price,
		Close: price - (secureFloat64()-0.5)*2,
	})
	g.AddChain(symbol, gateway.ChainParameter{
		Exchange:        "SMART",
		UnderlyingConID: mustConID(g, stockKey(symbol)),
		TradingClass:    symbol,
		Multiplier:      "100",
		Expirations:     append([]string(nil), expirations...),
		Strikes:         append([]float64(nil), strikes...),
	})

	vol := 0.12 + secureFloat64()*0.18
	for _, expiry := range expirations {
		dte := daysUntil(expiry)
		timeValue := math.Max(0, float64(dte)/365.0)
		for _, strike := range strikes {
			distance := math.Abs(strike - price)
			deltaDecay := math.Exp(-distance * 0.02)

			putDelta := -0.5 * deltaDecay
			if strike > price {
				putDelta = -0.5 * (1 - deltaDecay)
			}
			callDelta := 0.5 * deltaDecay
			if strike < price {
				callDelta = 0.5 * (1 - deltaDecay)
			}

			putPrice := math.Max(0.5, vol*math.Sqrt(timeValue)*price*0.01*math.Abs(putDelta))
			callPrice := math.Max(0.5, vol*math.Sqrt(timeValue)*price*0.01*math.Abs(callDelta))

			g.AddOption(models.OptionContract{Symbol: symbol, Expiry: expiry, Strike: strike, Right: models.RightPut},
				OptionScript{
					Bid:          putPrice - 0.05,
					Ask:          putPrice + 0.05,
					Last:         putPrice,
					Delta:        putDelta,
					Gamma:        0.02 * deltaDecay,
					Theta:        -0.05 * vol,
					Vega:         0.10 * vol,
					ImpliedVol:   vol,
					OpenInterest: secureInt63n(50000),
				})
			g.AddOption(models.OptionContract{Symbol: symbol, Expiry: expiry, Strike: strike, Right: models.RightCall},
				OptionScript{
					Bid:          callPrice - 0.05,
					Ask:          callPrice + 0.05,
					Last:         callPrice,
					Delta:        callDelta,
					Gamma:        0.02 * deltaDecay,
					Theta:        -0.05 * vol,
					Vega:         0.10 * vol,
					ImpliedVol:   vol,
					OpenInterest: secureInt63n(50000),
				})
		}
	}
	g.logger.Printf("seeded %s: price %.2f, %d expirations, %d strikes", symbol, price, len(expirations), len(strikes))
}

func mustConID(g *MockGateway, key string) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.conids[key]
}

func daysUntil(expiry string) int {
	t, err := time.Parse("20060102", expiry)
	if err != nil {
		return 0
	}
	dte := int(time.Until(t).Hours() / 24)
	if dte < 0 {
		dte = 0
	}
	return dte
}

// upcomingFridays returns the next n Fridays from now as YYYYMMDD.
func upcomingFridays(now time.Time, n int) []string {
	day := now
	for day.Weekday() != time.Friday {
		day = day.AddDate(0, 0, 1)
	}
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, day.Format("20060102"))
		day = day.AddDate(0, 0, 7)
	}
	return out
}
