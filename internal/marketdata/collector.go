package marketdata

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/scott0229/scott-agent-sub000/internal/gateway"
	"github.com/scott0229/scott-agent-sub000/internal/models"
)

// batchCollector runs one snapshot batch: a market-data request per
// contract, ticks accumulated into per-contract records, and completion
// decided by whichever comes first of a settle timer (quiet period with
// no new data), a hard timeout, or every contract reporting its own end
// or error. The streaming protocol has no "all contracts reported"
// signal when data is sparse, so the timer pair is the correctness
// mechanism here, not an optimization.
//
// A collector instance serves exactly one batch and is discarded.
type batchCollector struct {
	transport gateway.Transport
	corr      *gateway.Correlator
	chains    *ChainCache
	logger    *log.Logger
	cfg       Config

	mu      sync.Mutex
	records map[int64]*models.OptionQuote
	// pending tracks ids awaiting completion; the value is whether the
	// subscription went live on the gateway and may need a cancel.
	pending   map[int64]bool
	remaining int
	finalized bool
	settle    *time.Timer
	hard      *time.Timer
	done      chan struct{}
}

func newBatchCollector(transport gateway.Transport, corr *gateway.Correlator, chains *ChainCache,
	cfg Config, logger *log.Logger) *batchCollector {
	return &batchCollector{
		transport: transport,
		corr:      corr,
		chains:    chains,
		logger:    logger,
		cfg:       cfg,
		records:   make(map[int64]*models.OptionQuote),
		pending:   make(map[int64]bool),
		done:      make(chan struct{}),
	}
}

// collect subscribes to every contract in bounded bursts, waits for the
// batch to finalize, and returns one record per attempted contract in
// presentation order. A contract that failed or stayed silent yields a
// zero-valued record; only a session-dead first send fails the batch.
func (c *batchCollector) collect(contracts []models.OptionContract) ([]models.OptionQuote, error) {
	if len(contracts) == 0 {
		return nil, nil
	}

	c.remaining = len(contracts)
	c.hard = time.AfterFunc(c.cfg.HardTimeout, func() { c.finalize("hard timeout") })

	sent := 0
	for i, contract := range contracts {
		if i > 0 && i%c.cfg.BurstSize == 0 {
			time.Sleep(c.cfg.BurstDelay)
		}
		if c.isFinalized() {
			break
		}

		id := c.corr.NextID(gateway.KindQuote)
		c.mu.Lock()
		c.records[id] = &models.OptionQuote{Strike: contract.Strike, Right: contract.Right, Expiry: contract.Expiry}
		c.pending[id] = false
		c.mu.Unlock()

		// The correlator deadline outlives the hard timeout so the
		// batch's own finalization, not per-id expiry, decides the end.
		if err := c.corr.Register(id, c.cfg.HardTimeout+c.cfg.SettleDelay, c.handlerFor(id)); err != nil {
			c.logger.Printf("registering snapshot %d failed: %v", id, err)
			c.contractDone(id, false)
			continue
		}

		tradingClass, _ := c.chains.TradingClassFor(contract.Symbol, contract.Expiry)
		req := gateway.MarketDataRequest{ID: id, Contract: gateway.OptionSpec(contract, tradingClass), Snapshot: true}
		if err := c.transport.Send(context.Background(), req); err != nil {
			c.corr.Complete(id)
			if errors.Is(err, gateway.ErrNotConnected) && sent == 0 {
				c.finalize("session not connected")
				return nil, err
			}
			c.logger.Printf("snapshot request for %s failed: %v", contract, err)
			c.contractDone(id, false)
			continue
		}
		c.mu.Lock()
		if _, tracked := c.pending[id]; tracked {
			c.pending[id] = true
		}
		c.mu.Unlock()
		sent++
	}

	c.markSendComplete()
	<-c.done

	c.mu.Lock()
	out := make([]models.OptionQuote, 0, len(c.records))
	for _, record := range c.records {
		out = append(out, *record)
	}
	c.mu.Unlock()
	sortBatch(out)
	return out, nil
}

// handlerFor builds the per-contract event handler. It runs on the
// dispatch goroutine, so it only takes short locked steps.
func (c *batchCollector) handlerFor(id int64) gateway.Handler {
	return func(ev gateway.Event) {
		switch e := ev.(type) {
		case gateway.TickPrice:
			c.applyTick(id, tickPricePartial(e))
		case gateway.TickSize:
			if partial, ok := tickSizePartial(e); ok {
				c.applyTick(id, partial)
			}
		case gateway.TickOptionComputation:
			c.applyTick(id, computationPartial(e))
		case gateway.SnapshotEnd:
			c.contractDone(id, true)
		case gateway.ErrorEvent:
			// A per-contract error means "no data for this contract".
			// It counts toward completion and never aborts siblings.
			if !e.Timeout() {
				c.logger.Printf("snapshot %d absorbed gateway error %d: %s", id, e.Code, e.Msg)
			}
			c.contractDone(id, false)
		}
	}
}

// applyTick merges one partial record and grants the batch another
// quiet period.
func (c *batchCollector) applyTick(id int64, partial models.OptionQuote) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finalized {
		return
	}
	record, ok := c.records[id]
	if !ok {
		return
	}
	record.Merge(partial)
	if c.settle != nil {
		c.settle.Reset(c.cfg.SettleDelay)
	}
}

// contractDone retires one contract. ended reports that the gateway
// closed the snapshot itself, in which case no cancel is owed.
func (c *batchCollector) contractDone(id int64, ended bool) {
	c.corr.Complete(id)

	c.mu.Lock()
	live, tracked := c.pending[id]
	if !tracked {
		c.mu.Unlock()
		return
	}
	delete(c.pending, id)
	c.remaining--
	full := c.remaining == 0
	c.mu.Unlock()

	if live && !ended {
		_ = c.transport.CancelMarketData(id)
	}
	if full {
		c.finalize("all contracts reported")
	}
}

// markSendComplete arms the settle timer once the last subscription is
// out. Ticks received from here on push the deadline back; silence for
// one settle period means the gateway is done sending.
func (c *batchCollector) markSendComplete() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finalized || c.remaining == 0 {
		return
	}
	c.settle = time.AfterFunc(c.cfg.SettleDelay, func() { c.finalize("settle timer") })
}

// finalize ends the batch exactly once: stop both timers, cancel every
// still-open subscription, and release the waiter.
func (c *batchCollector) finalize(reason string) {
	c.mu.Lock()
	if c.finalized {
		c.mu.Unlock()
		return
	}
	c.finalized = true
	if c.settle != nil {
		c.settle.Stop()
	}
	if c.hard != nil {
		c.hard.Stop()
	}
	leftover := make([]int64, 0, len(c.pending))
	for id, live := range c.pending {
		if live {
			leftover = append(leftover, id)
		}
		delete(c.pending, id)
	}
	total := len(c.records)
	c.mu.Unlock()

	for _, id := range leftover {
		c.corr.Complete(id)
		_ = c.transport.CancelMarketData(id)
	}
	c.logger.Printf("batch finalized (%s): %d contract(s), %d cancelled", reason, total, len(leftover))
	close(c.done)
}

func (c *batchCollector) isFinalized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finalized
}

// tickPricePartial maps one price tick onto a partial record.
func tickPricePartial(e gateway.TickPrice) models.OptionQuote {
	var q models.OptionQuote
	switch e.Field {
	case gateway.TickFieldBid:
		q.Bid = e.Price
	case gateway.TickFieldAsk:
		q.Ask = e.Price
	case gateway.TickFieldLast:
		q.Last = e.Price
	}
	return q
}

// tickSizePartial maps open-interest ticks onto a partial record. Other
// size fields carry nothing the record keeps.
func tickSizePartial(e gateway.TickSize) (models.OptionQuote, bool) {
	switch e.Field {
	case gateway.TickFieldCallOpenInterest, gateway.TickFieldPutOpenInterest:
		return models.OptionQuote{OpenInterest: e.Size}, true
	}
	return models.OptionQuote{}, false
}

// computationPartial maps a greek computation onto a partial record.
// The model computation outranks bid/ask/last fallbacks downstream.
func computationPartial(e gateway.TickOptionComputation) models.OptionQuote {
	source := models.GreekSourceTick
	if e.Field == gateway.TickFieldModelOptComp {
		source = models.GreekSourceModel
	}
	return models.OptionQuote{
		Delta:      e.Delta,
		Gamma:      e.Gamma,
		Theta:      e.Theta,
		Vega:       e.Vega,
		ImpliedVol: e.ImpliedVol,
		Source:     source,
	}
}

// sortBatch orders a finalized batch for presentation: expiry, then
// strike ascending with calls before puts.
func sortBatch(quotes []models.OptionQuote) {
	sort.Slice(quotes, func(i, j int) bool {
		if quotes[i].Expiry != quotes[j].Expiry {
			return quotes[i].Expiry < quotes[j].Expiry
		}
		return quotes[i].Key().Less(quotes[j].Key())
	})
}
