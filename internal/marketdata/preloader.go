package marketdata

import (
	"context"
	"crypto/rand"
	"fmt"
	"log"
	"math/big"
	"os"
	"sync"
	"time"
)

// PreloadConfig tunes the background cache warming loop.
type PreloadConfig struct {
	// Interval is the cycle cadence.
	Interval time.Duration
	// Watchlist is the set of underlyings each cycle warms.
	Watchlist []string
	// ExpirationCount is how many upcoming expirations to warm.
	ExpirationCount int
	// StrikeRadius is how many strikes to warm on each side of spot.
	StrikeRadius int
}

// DefaultPreloadConfig is the baseline warming schedule.
var DefaultPreloadConfig = PreloadConfig{
	Interval:        30 * time.Second,
	ExpirationCount: 2,
	StrikeRadius:    10,
}

type preloadRequest struct {
	symbol  string
	expiry  string
	strikes []float64
}

// PreloaderStatus is a point-in-time snapshot of the warming loop.
type PreloaderStatus struct {
	Running   bool      `json:"running"`
	Watchlist []string  `json:"watchlist"`
	LastCycle time.Time `json:"last_cycle,omitempty"`
	CyclesRun int       `json:"cycles_run"`
	LastError string    `json:"last_error,omitempty"`
}

// Preloader keeps near-the-money strikes for a watchlist of underlyings
// warm in the greeks cache, so interactive callers land on the cached
// path instead of blocking on the gateway. Cycles never overlap: a
// cycle that outlasts the interval suppresses its successor rather than
// queueing it.
type Preloader struct {
	svc    *Service
	cfg    PreloadConfig
	logger *log.Logger

	demand chan preloadRequest

	mu            sync.Mutex
	running       bool
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	lastCycle     time.Time
	lastErr       string
	cycles        int
	failStreak    int
	cooldownUntil time.Time
}

// NewPreloader creates a preloader bound to the service's caches. A nil
// logger falls back to a stderr logger; omitting config uses
// DefaultPreloadConfig.
func NewPreloader(svc *Service, logger *log.Logger, config ...PreloadConfig) *Preloader {
	cfg := DefaultPreloadConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPreloadConfig.Interval
	}
	if cfg.ExpirationCount <= 0 {
		cfg.ExpirationCount = DefaultPreloadConfig.ExpirationCount
	}
	if cfg.StrikeRadius <= 0 {
		cfg.StrikeRadius = DefaultPreloadConfig.StrikeRadius
	}
	if logger == nil {
		logger = log.New(os.Stderr, "preload: ", log.LstdFlags)
	}
	return &Preloader{
		svc:    svc,
		cfg:    cfg,
		logger: logger,
		demand: make(chan preloadRequest, 8),
	}
}

// Start launches the warming loop. The loop stops when ctx is cancelled
// or Stop is called.
func (p *Preloader) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("preloader already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.running = true
	p.cancel = cancel
	p.mu.Unlock()

	p.wg.Add(1)
	go p.loop(runCtx)
	p.logger.Printf("preloader started: %d symbol(s), every %s", len(p.cfg.Watchlist), p.cfg.Interval)
	return nil
}

// Stop halts the loop and waits for an in-flight cycle to finish.
func (p *Preloader) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	cancel := p.cancel
	p.mu.Unlock()

	cancel()
	p.wg.Wait()

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()
	p.logger.Printf("preloader stopped")
}

// RequestPreload warms one (symbol, expiry, strikes) tuple ahead of the
// periodic schedule. An empty expiry warms the nearest expirations; an
// empty strike list warms the window around the current price.
func (p *Preloader) RequestPreload(symbol, expiry string, strikes []float64) error {
	if symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if expiry != "" && len(expiry) != 8 {
		return fmt.Errorf("expiry must be YYYYMMDD, got %q", expiry)
	}
	p.mu.Lock()
	running := p.running
	p.mu.Unlock()
	if !running {
		return fmt.Errorf("preloader is not running")
	}

	req := preloadRequest{symbol: symbol, expiry: expiry, strikes: append([]float64(nil), strikes...)}
	select {
	case p.demand <- req:
		return nil
	default:
		return fmt.Errorf("preload queue is full")
	}
}

// Status reports the loop's current state.
func (p *Preloader) Status() PreloaderStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PreloaderStatus{
		Running:   p.running,
		Watchlist: append([]string(nil), p.cfg.Watchlist...),
		LastCycle: p.lastCycle,
		CyclesRun: p.cycles,
		LastError: p.lastErr,
	}
}

func (p *Preloader) loop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	// Warm immediately instead of idling through the first interval.
	p.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-p.demand:
			if err := p.warm(ctx, req); err != nil && ctx.Err() == nil {
				p.logger.Printf("on-demand preload for %s failed: %v", req.symbol, err)
			}
		case <-ticker.C:
			if p.coolingDown() {
				continue
			}
			p.runCycle(ctx)
			// Drop the tick that may have fired during the cycle so a
			// slow cycle suppresses, not queues, its successor.
			select {
			case <-ticker.C:
			default:
			}
		}
	}
}

func (p *Preloader) runCycle(ctx context.Context) {
	started := time.Now()
	failures := 0
	for _, symbol := range p.cfg.Watchlist {
		if ctx.Err() != nil {
			return
		}
		if err := p.warm(ctx, preloadRequest{symbol: symbol}); err != nil {
			failures++
			p.logger.Printf("preload cycle: %s failed: %v", symbol, err)
		}
	}

	p.mu.Lock()
	p.cycles++
	p.lastCycle = time.Now()
	if failures > 0 && failures == len(p.cfg.Watchlist) {
		p.failStreak++
		cooldown := p.nextCooldown()
		p.cooldownUntil = time.Now().Add(cooldown)
		p.lastErr = fmt.Sprintf("all %d symbol(s) failed", failures)
		p.mu.Unlock()
		p.logger.Printf("preload cycle failed for every symbol, cooling down for %s", cooldown.Round(time.Second))
		return
	}
	p.failStreak = 0
	if failures > 0 {
		p.lastErr = fmt.Sprintf("%d of %d symbol(s) failed", failures, len(p.cfg.Watchlist))
	} else {
		p.lastErr = ""
	}
	p.mu.Unlock()
	p.logger.Printf("preload cycle done in %s", time.Since(started).Round(time.Millisecond))
}

// warm refreshes the chain and force-fetches greeks for the target
// expirations and strike window, sequentially to bound gateway load.
func (p *Preloader) warm(ctx context.Context, req preloadRequest) error {
	if _, err := p.svc.GetOptionChain(ctx, req.symbol); err != nil {
		return fmt.Errorf("chain: %w", err)
	}
	series, ok := p.svc.chains.PrimarySeries(req.symbol)
	if !ok {
		return fmt.Errorf("no option series cached for %s", req.symbol)
	}

	expirations := []string{req.expiry}
	if req.expiry == "" {
		expirations = series.UpcomingExpirations(time.Now(), p.cfg.ExpirationCount)
	}
	if len(expirations) == 0 {
		return fmt.Errorf("no upcoming expirations for %s", req.symbol)
	}

	strikes := req.strikes
	if len(strikes) == 0 {
		strikes = series.StrikeWindow(p.currentPrice(ctx, req.symbol), p.cfg.StrikeRadius)
	}
	if len(strikes) == 0 {
		return fmt.Errorf("no strikes listed for %s", req.symbol)
	}

	var lastErr error
	for _, expiry := range expirations {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := p.svc.GetOptionGreeks(ctx, req.symbol, expiry, strikes, true); err != nil {
			lastErr = err
			p.logger.Printf("warming %s %s failed: %v", req.symbol, expiry, err)
		}
	}
	return lastErr
}

// currentPrice fetches a fresh price, falling back to the last known
// one so a dead session still yields a usable window center. Zero means
// no price was ever seen; the strike window then centers on the chain's
// midpoint.
func (p *Preloader) currentPrice(ctx context.Context, symbol string) float64 {
	if q, err := p.svc.GetStockQuote(ctx, symbol); err == nil && q.Price() > 0 {
		return q.Price()
	}
	if q, ok := p.svc.LastPrice(symbol); ok {
		return q.Price()
	}
	return 0
}

func (p *Preloader) coolingDown() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return time.Now().Before(p.cooldownUntil)
}

// nextCooldown grows with consecutive all-failure cycles: 1.5x per
// streak step, capped at five intervals, with random jitter so restarts
// against a struggling gateway do not align. Called with p.mu held.
func (p *Preloader) nextCooldown() time.Duration {
	cooldown := p.cfg.Interval
	for i := 1; i < p.failStreak; i++ {
		cooldown = time.Duration(float64(cooldown) * 1.5)
		if cooldown >= 5*p.cfg.Interval {
			cooldown = 5 * p.cfg.Interval
			break
		}
	}
	maxJitter := int64(cooldown / 4)
	if maxJitter > 0 {
		jitterVal, err := rand.Int(rand.Reader, big.NewInt(maxJitter))
		if err != nil {
			p.logger.Printf("failed to generate jitter: %v", err)
		} else {
			cooldown += time.Duration(jitterVal.Int64())
		}
	}
	return cooldown
}
