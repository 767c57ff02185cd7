// Package marketdata translates the gateway's asynchronous event stream
// into synchronous, cached, TTL-bounded market data. One logical session
// carries many in-flight numbered requests; this package owns the
// correlation of answers back to callers, the batch snapshot collection
// with its dual-timer completion heuristic, and the chain, greeks and
// contract-id caches shared by every caller in the process.
package marketdata

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

	"golang.org/x/sync/singleflight"

	"github.com/scott0229/scott-agent-sub000/internal/gateway"
	"github.com/scott0229/scott-agent-sub000/internal/models"
	"github.com/scott0229/scott-agent-sub000/internal/storage"
	"github.com/scott0229/scott-agent-sub000/internal/util"
)

// Config holds the timing and throttle parameters of the engine.
type Config struct {
	// SettleDelay is the quiet period after which a batch with no new
	// ticks is considered complete.
	SettleDelay time.Duration
	// HardTimeout is the absolute ceiling on one batch collection.
	HardTimeout time.Duration
	// QuoteTimeout bounds a single stock snapshot.
	QuoteTimeout time.Duration
	// ResolveTimeout bounds a contract id resolution.
	ResolveTimeout time.Duration
	// ChainTimeout bounds an option chain parameter fetch.
	ChainTimeout time.Duration
	// GreeksTTL is how long cached option quotes count as fresh.
	GreeksTTL time.Duration
	// ChainTTL is how long cached chain parameters count as fresh.
	ChainTTL time.Duration
	// BurstSize caps snapshot subscriptions sent back to back.
	BurstSize int
	// BurstDelay is the pause between bursts.
	BurstDelay time.Duration
}

// DefaultConfig is the tested baseline tuning.
var DefaultConfig = Config{
	SettleDelay:    750 * time.Millisecond,
	HardTimeout:    8 * time.Second,
	QuoteTimeout:   3 * time.Second,
	ResolveTimeout: 10 * time.Second,
	ChainTimeout:   15 * time.Second,
	GreeksTTL:      30 * time.Second,
	ChainTTL:       5 * time.Minute,
	BurstSize:      10,
	BurstDelay:     250 * time.Millisecond,
}

// withDefaults fills zero fields from DefaultConfig so partial configs
// behave.
func (c Config) withDefaults() Config {
	d := DefaultConfig
	if c.SettleDelay <= 0 {
		c.SettleDelay = d.SettleDelay
	}
	if c.HardTimeout <= 0 {
		c.HardTimeout = d.HardTimeout
	}
	if c.QuoteTimeout <= 0 {
		c.QuoteTimeout = d.QuoteTimeout
	}
	if c.ResolveTimeout <= 0 {
		c.ResolveTimeout = d.ResolveTimeout
	}
	if c.ChainTimeout <= 0 {
		c.ChainTimeout = d.ChainTimeout
	}
	if c.GreeksTTL <= 0 {
		c.GreeksTTL = d.GreeksTTL
	}
	if c.ChainTTL <= 0 {
		c.ChainTTL = d.ChainTTL
	}
	if c.BurstSize <= 0 {
		c.BurstSize = d.BurstSize
	}
	if c.BurstDelay <= 0 {
		c.BurstDelay = d.BurstDelay
	}
	return c
}

// Service is the market data engine facade. All methods are safe for
// concurrent use; concurrent fetches for the same key are coalesced so
// late joiners await the in-flight fetch instead of duplicating it.
type Service struct {
	transport gateway.Transport
	corr      *gateway.Correlator
	logger    *log.Logger
	config    Config

	chains   *ChainCache
	greeks   *GreeksCache
	resolver *Resolver

	group singleflight.Group

	priceMu sync.RWMutex
	prices  map[string]models.StockQuote
}

// NewService wires the engine. A nil logger falls back to a stderr
// logger; omitting config uses DefaultConfig.
func NewService(transport gateway.Transport, corr *gateway.Correlator, store storage.Interface,
	logger *log.Logger, config ...Config) *Service {
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0].withDefaults()
	}
	if logger == nil {
		logger = log.New(os.Stderr, "marketdata: ", log.LstdFlags)
	}

	chains := NewChainCache()
	return &Service{
		transport: transport,
		corr:      corr,
		logger:    logger,
		config:    cfg,
		chains:    chains,
		greeks:    NewGreeksCache(),
		resolver:  NewResolver(transport, corr, store, chains, cfg.ResolveTimeout, logger),
		prices:    make(map[string]models.StockQuote),
	}
}

// Resolver exposes the contract id resolver for order construction.
func (s *Service) Resolver() *Resolver {
	return s.resolver
}

// Connected reports whether the gateway session is up.
func (s *Service) Connected() bool {
	return s.transport.Connected()
}

// PendingRequests reports how many gateway operations are in flight.
func (s *Service) PendingRequests() int {
	return s.corr.PendingCount()
}

// stockAccum gathers the ticks of one stock snapshot.
type stockAccum struct {
	mu    sync.Mutex
	quote models.StockQuote
	err   error
	ended bool
	once  sync.Once
	done  chan struct{}
}

func (a *stockAccum) finish(err error, ended bool) {
	a.once.Do(func() {
		a.mu.Lock()
		a.err = err
		a.ended = ended
		a.mu.Unlock()
		close(a.done)
	})
}

// GetStockQuote fetches a one-shot quote for an underlying. A request
// that times out returns whatever fields arrived rather than an error;
// the last quote with a usable price is remembered for LastPrice.
func (s *Service) GetStockQuote(ctx context.Context, symbol string) (models.StockQuote, error) {
	if symbol == "" {
		return models.StockQuote{}, fmt.Errorf("symbol is required")
	}

	id := s.corr.NextID(gateway.KindQuote)
	acc := &stockAccum{done: make(chan struct{})}

	handler := func(ev gateway.Event) {
		switch e := ev.(type) {
		case gateway.TickPrice:
			acc.mu.Lock()
			switch e.Field {
			case gateway.TickFieldBid:
				acc.quote.Bid = e.Price
			case gateway.TickFieldAsk:
				acc.quote.Ask = e.Price
			case gateway.TickFieldLast:
				acc.quote.Last = e.Price
			case gateway.TickFieldClose:
				acc.quote.Close = e.Price
			}
			acc.mu.Unlock()
		case gateway.SnapshotEnd:
			acc.finish(nil, true)
		case gateway.ErrorEvent:
			if e.Timeout() {
				// Partial data beats an error for a quote.
				acc.finish(nil, false)
			} else {
				acc.finish(fmt.Errorf("gateway error %d: %s", e.Code, e.Msg), false)
			}
		}
	}

	if err := s.corr.Register(id, s.config.QuoteTimeout, handler); err != nil {
		return models.StockQuote{}, err
	}
	req := gateway.MarketDataRequest{ID: id, Contract: gateway.StockSpec(symbol), Snapshot: true}
	if err := s.transport.Send(ctx, req); err != nil {
		s.corr.Complete(id)
		return models.StockQuote{}, err
	}

	select {
	case <-acc.done:
	case <-ctx.Done():
		s.corr.Complete(id)
		_ = s.transport.CancelMarketData(id)
		return models.StockQuote{}, ctx.Err()
	}
	s.corr.Complete(id)

	acc.mu.Lock()
	quote, err, ended := acc.quote, acc.err, acc.ended
	acc.mu.Unlock()
	if !ended {
		_ = s.transport.CancelMarketData(id)
	}
	if err != nil {
		return models.StockQuote{}, err
	}

	quote.Symbol = symbol
	quote.AsOf = time.Now()
	if quote.Price() > 0 {
		s.storePrice(quote)
	}
	return quote, nil
}

// LastPrice returns the most recent quote with a usable price for
// symbol, if any was ever fetched. Never touches the gateway.
func (s *Service) LastPrice(symbol string) (models.StockQuote, bool) {
	s.priceMu.RLock()
	defer s.priceMu.RUnlock()
	q, ok := s.prices[symbol]
	return q, ok
}

func (s *Service) storePrice(q models.StockQuote) {
	s.priceMu.Lock()
	s.prices[q.Symbol] = q
	s.priceMu.Unlock()
}

// GetOptionQuotes fetches quotes and greeks for the given strikes now,
// bypassing cache freshness. The result still lands in the cache.
func (s *Service) GetOptionQuotes(ctx context.Context, symbol, expiry string, strikes []float64) ([]models.OptionQuote, error) {
	return s.GetOptionGreeks(ctx, symbol, expiry, strikes, true)
}

// GetOptionGreeks returns the quote and greek records for every
// (strike, right) pair of the request. Cache policy: a cache entry
// covering any requested strike is returned as-is, stale or not, with
// no gateway traffic; staleness is the preloader's problem, because
// stale-but-present beats blocking an interactive caller. Only when
// nothing is cached for the request (bootstrap) or forceRefresh is set
// does the call block on a gateway batch.
func (s *Service) GetOptionGreeks(ctx context.Context, symbol, expiry string, strikes []float64, forceRefresh bool) ([]models.OptionQuote, error) {
	if err := validateBatchInput(symbol, expiry); err != nil {
		return nil, err
	}
	strikes = normalizeStrikes(strikes)
	if len(strikes) == 0 {
		return nil, fmt.Errorf("at least one strike is required")
	}

	if !forceRefresh {
		if quotes, fetchedAt, ok := s.greeks.Subset(symbol, expiry, strikes); ok && len(quotes) > 0 {
			if age := time.Since(fetchedAt); age > s.config.GreeksTTL {
				s.logger.Printf("serving stale greeks for %s %s (age %s)", symbol, expiry, age.Round(time.Millisecond))
			}
			return quotes, nil
		}
	}

	ch := s.group.DoChan(batchKey(symbol, expiry, strikes), func() (interface{}, error) {
		return s.fetchBatch(symbol, expiry, strikes)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]models.OptionQuote), nil
	case <-ctx.Done():
		// The shared fetch keeps running and fills the cache for the
		// next caller.
		return nil, ctx.Err()
	}
}

// fetchBatch runs one gateway batch and merges the result into the
// greeks cache.
func (s *Service) fetchBatch(symbol, expiry string, strikes []float64) ([]models.OptionQuote, error) {
	contracts := make([]models.OptionContract, 0, 2*len(strikes))
	for _, strike := range strikes {
		for _, right := range []models.Right{models.RightCall, models.RightPut} {
			contracts = append(contracts, models.OptionContract{
				Symbol: symbol, Expiry: expiry, Strike: strike, Right: right,
			})
		}
	}

	collector := newBatchCollector(s.transport, s.corr, s.chains, s.config, s.logger)
	quotes, err := collector.collect(contracts)
	if err != nil {
		return nil, err
	}
	s.greeks.MergeBatch(symbol, expiry, quotes)
	return quotes, nil
}

// GetCachedGreeks returns every record ever merged for (symbol, expiry)
// without touching the gateway. ok is false when nothing is cached.
func (s *Service) GetCachedGreeks(symbol, expiry string) ([]models.OptionQuote, bool) {
	quotes, _, ok := s.greeks.Snapshot(symbol, expiry)
	return quotes, ok
}

// CachedGreeksAge reports the age of the (symbol, expiry) cache entry.
func (s *Service) CachedGreeksAge(symbol, expiry string) (time.Duration, bool) {
	return s.greeks.Age(symbol, expiry)
}

// CachedGreeksKeys lists the cached (symbol, expiry) pairs.
func (s *Service) CachedGreeksKeys() []string {
	return s.greeks.Keys()
}

// chainAccum gathers the parameter sets of one chain fetch.
type chainAccum struct {
	mu     sync.Mutex
	params []models.ChainParams
	err    error
	once   sync.Once
	done   chan struct{}
}

func (a *chainAccum) finish(err error) {
	a.once.Do(func() {
		a.mu.Lock()
		a.err = err
		a.mu.Unlock()
		close(a.done)
	})
}

// GetOptionChain returns the option series parameters for symbol.
// Cache-first under the chain TTL; a miss or expired entry costs one
// gateway fetch, finalized by the explicit end-of-parameters signal.
func (s *Service) GetOptionChain(ctx context.Context, symbol string) ([]models.ChainParams, error) {
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	if params, age, ok := s.chains.Get(symbol); ok && age <= s.config.ChainTTL {
		return params, nil
	}

	ch := s.group.DoChan("chain|"+symbol, func() (interface{}, error) {
		return s.fetchChain(symbol)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]models.ChainParams), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// CachedChain returns the cached series list without ever fetching.
func (s *Service) CachedChain(symbol string) ([]models.ChainParams, bool) {
	params, _, ok := s.chains.Get(symbol)
	return params, ok
}

// CachedChainSymbols lists the underlyings with cached chains.
func (s *Service) CachedChainSymbols() []string {
	return s.chains.Symbols()
}

// CacheCounts reports the entry counts of the greeks and chain caches.
func (s *Service) CacheCounts() (greeks, chains int) {
	return s.greeks.Count(), s.chains.Count()
}

func (s *Service) fetchChain(symbol string) ([]models.ChainParams, error) {
	conID, err := s.resolver.ResolveUnderlying(context.Background(), symbol)
	if err != nil {
		return nil, err
	}

	id := s.corr.NextID(gateway.KindChain)
	acc := &chainAccum{done: make(chan struct{})}

	handler := func(ev gateway.Event) {
		switch e := ev.(type) {
		case gateway.ChainParameter:
			acc.mu.Lock()
			acc.params = append(acc.params, models.ChainParams{
				Exchange:        e.Exchange,
				UnderlyingConID: e.UnderlyingConID,
				TradingClass:    e.TradingClass,
				Multiplier:      e.Multiplier,
				Expirations:     append([]string(nil), e.Expirations...),
				Strikes:         append([]float64(nil), e.Strikes...),
				FetchedAt:       time.Now(),
			})
			acc.mu.Unlock()
		case gateway.ChainParameterEnd:
			acc.finish(nil)
		case gateway.ErrorEvent:
			if e.Timeout() {
				acc.finish(gateway.ErrRequestTimeout)
			} else {
				acc.finish(fmt.Errorf("gateway error %d: %s", e.Code, e.Msg))
			}
		}
	}

	if err := s.corr.Register(id, s.config.ChainTimeout, handler); err != nil {
		return nil, err
	}
	req := gateway.ChainParamsRequest{ID: id, Symbol: symbol, SecType: gateway.SecTypeStock, UnderlyingConID: conID}
	if err := s.transport.Send(context.Background(), req); err != nil {
		s.corr.Complete(id)
		return nil, err
	}

	<-acc.done
	s.corr.Complete(id)

	acc.mu.Lock()
	params, accErr := acc.params, acc.err
	acc.mu.Unlock()

	if accErr != nil {
		// A timeout with series already collected degrades to partial
		// data; anything else fails the fetch.
		if !errors.Is(accErr, gateway.ErrRequestTimeout) || len(params) == 0 {
			return nil, fmt.Errorf("fetching chain for %s: %w", symbol, accErr)
		}
		s.logger.Printf("chain fetch for %s timed out with %d series collected", symbol, len(params))
	}
	if len(params) == 0 {
		return nil, fmt.Errorf("no option series listed for %s", symbol)
	}

	s.chains.Put(symbol, params)
	return params, nil
}

func validateBatchInput(symbol, expiry string) error {
	if symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if len(expiry) != 8 {
		return fmt.Errorf("expiry must be YYYYMMDD, got %q", expiry)
	}
	return nil
}

// normalizeStrikes sorts, deduplicates and drops non-positive strikes.
func normalizeStrikes(strikes []float64) []float64 {
	out := make([]float64, 0, len(strikes))
	for _, strike := range strikes {
		if strike > 0 {
			out = append(out, strike)
		}
	}
	sort.Float64s(out)
	dedup := out[:0]
	for i, strike := range out {
		if i == 0 || strike != out[i-1] {
			dedup = append(dedup, strike)
		}
	}
	return dedup
}

// batchKey is the coalescing key for one batch: identical concurrent
// requests share a single gateway fetch.
func batchKey(symbol, expiry string, strikes []float64) string {
	parts := make([]string, len(strikes))
	for i, strike := range strikes {
		parts[i] = util.FormatStrike(strike)
	}
	return symbol + "|" + expiry + "|" + strings.Join(parts, ",")
}
