package marketdata

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/scott0229/scott-agent-sub000/internal/gateway"
	"github.com/scott0229/scott-agent-sub000/internal/models"
	"github.com/scott0229/scott-agent-sub000/internal/storage"
)

// Resolver turns contract descriptions into the gateway's immutable
// numeric contract ids. Identifiers never change once assigned, so
// every successful resolution is written through to persistent storage
// and the gateway is only consulted on a true miss. Concurrent misses
// for the same contract share one in-flight request.
type Resolver struct {
	transport gateway.Transport
	corr      *gateway.Correlator
	store     storage.Interface
	chains    *ChainCache
	logger    *log.Logger
	timeout   time.Duration

	group singleflight.Group
}

// NewResolver creates a resolver. A nil logger falls back to a stderr
// logger.
func NewResolver(transport gateway.Transport, corr *gateway.Correlator, store storage.Interface,
	chains *ChainCache, timeout time.Duration, logger *log.Logger) *Resolver {
	if logger == nil {
		logger = log.New(os.Stderr, "resolver: ", log.LstdFlags)
	}
	return &Resolver{
		transport: transport,
		corr:      corr,
		store:     store,
		chains:    chains,
		logger:    logger,
		timeout:   timeout,
	}
}

// ResolveUnderlying returns the contract id for an equity underlying.
// Cache-first; a miss costs one gateway round trip. A caller that stops
// waiting abandons its handle while the shared resolution continues and
// fills the store for the next caller.
func (r *Resolver) ResolveUnderlying(ctx context.Context, symbol string) (int64, error) {
	if conID, ok := r.store.UnderlyingConID(symbol); ok {
		return conID, nil
	}

	ch := r.group.DoChan("stk|"+symbol, func() (interface{}, error) {
		// A sibling caller may have resolved and stored while this one
		// queued behind the flight group.
		if conID, ok := r.store.UnderlyingConID(symbol); ok {
			return conID, nil
		}
		conID, err := r.resolve(gateway.StockSpec(symbol), gateway.KindContract)
		if err != nil {
			return int64(0), err
		}
		if err := r.store.SetUnderlyingConID(symbol, conID); err != nil {
			r.logger.Printf("persisting conid for %s failed: %v", symbol, err)
		}
		return conID, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return 0, fmt.Errorf("resolving %s: %w", symbol, res.Err)
		}
		return res.Val.(int64), nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// ResolveOption returns the contract id for a fully qualified option.
// When cached chain data lists the target expiry, the series' trading
// class is supplied to disambiguate underlyings with several option
// series under one symbol; without chain data resolution proceeds on
// the gateway default.
func (r *Resolver) ResolveOption(ctx context.Context, contract models.OptionContract) (int64, error) {
	return r.resolveOption(ctx, contract, gateway.KindContract)
}

// ResolveLeg resolves a roll-order leg. Identical to ResolveOption and
// shares its cache and in-flight coalescing, but gateway round trips
// draw ids from the roll range so leg lookups are attributable in
// request logs.
func (r *Resolver) ResolveLeg(ctx context.Context, contract models.OptionContract) (int64, error) {
	return r.resolveOption(ctx, contract, gateway.KindRoll)
}

func (r *Resolver) resolveOption(ctx context.Context, contract models.OptionContract, kind gateway.RequestKind) (int64, error) {
	if conID, ok := r.store.OptionConID(contract); ok {
		return conID, nil
	}

	ch := r.group.DoChan("opt|"+contract.CacheKey(), func() (interface{}, error) {
		if conID, ok := r.store.OptionConID(contract); ok {
			return conID, nil
		}
		tradingClass, _ := r.chains.TradingClassFor(contract.Symbol, contract.Expiry)
		conID, err := r.resolve(gateway.OptionSpec(contract, tradingClass), kind)
		if err != nil {
			return int64(0), err
		}
		if err := r.store.SetOptionConID(contract, conID); err != nil {
			r.logger.Printf("persisting conid for %s failed: %v", contract, err)
		}
		return conID, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return 0, fmt.Errorf("resolving %s: %w", contract, res.Err)
		}
		return res.Val.(int64), nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

type resolveState struct {
	mu    sync.Mutex
	conID int64
	err   error
	once  sync.Once
	done  chan struct{}
}

func (s *resolveState) finish(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
	})
}

// resolve performs one gateway round trip. The wait is bounded by the
// per-request deadline registered with the correlator, not by any
// caller context, so an abandoned call still completes and caches.
func (r *Resolver) resolve(spec gateway.ContractSpec, kind gateway.RequestKind) (int64, error) {
	id := r.corr.NextID(kind)
	state := &resolveState{done: make(chan struct{})}

	handler := func(ev gateway.Event) {
		switch e := ev.(type) {
		case gateway.ContractDetails:
			state.mu.Lock()
			// The gateway may list several matches; the first is its
			// preferred one.
			if state.conID == 0 {
				state.conID = e.ConID
			}
			state.mu.Unlock()
		case gateway.ContractDetailsEnd:
			state.finish(nil)
		case gateway.ErrorEvent:
			switch {
			case e.Timeout():
				state.finish(gateway.ErrResolutionTimeout)
			case e.Code == gateway.CodeNoSecurityDef:
				state.finish(gateway.ErrContractNotFound)
			default:
				state.finish(fmt.Errorf("gateway error %d: %s", e.Code, e.Msg))
			}
		}
	}

	if err := r.corr.Register(id, r.timeout, handler); err != nil {
		return 0, err
	}
	if err := r.transport.Send(context.Background(), gateway.ContractDetailsRequest{ID: id, Contract: spec}); err != nil {
		r.corr.Complete(id)
		return 0, err
	}

	<-state.done
	r.corr.Complete(id)

	state.mu.Lock()
	defer state.mu.Unlock()
	if state.err != nil {
		return 0, state.err
	}
	if state.conID == 0 {
		return 0, gateway.ErrContractNotFound
	}
	return state.conID, nil
}
