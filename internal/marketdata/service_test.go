package marketdata

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/scott0229/scott-agent-sub000/internal/gateway"
	"github.com/scott0229/scott-agent-sub000/internal/storage"
)

func (f *fakeTransport) stockRequests() []gateway.MarketDataRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]gateway.MarketDataRequest, 0, len(f.requests))
	for _, req := range f.requests {
		if md, ok := req.(gateway.MarketDataRequest); ok && md.Contract.SecType == gateway.SecTypeStock {
			out = append(out, md)
		}
	}
	return out
}

func (f *fakeTransport) chainRequests() []gateway.ChainParamsRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]gateway.ChainParamsRequest, 0, len(f.requests))
	for _, req := range f.requests {
		if cr, ok := req.(gateway.ChainParamsRequest); ok {
			out = append(out, cr)
		}
	}
	return out
}

func newTestService(t *testing.T, ft *fakeTransport, cfg Config) *Service {
	t.Helper()
	store, err := storage.NewStorage("")
	if err != nil {
		t.Fatalf("NewStorage() error = %v", err)
	}
	corr := gateway.NewCorrelator(nil)
	startDispatch(t, corr, ft)
	return NewService(ft, corr, store, quietLogger(), cfg)
}

// answerResolutionAndChain scripts the two round trips behind a chain
// fetch: underlying resolution, then the parameter sets.
func answerResolutionAndChain(series ...gateway.ChainParameter) func(gateway.Request) []gateway.Event {
	return func(req gateway.Request) []gateway.Event {
		switch r := req.(type) {
		case gateway.ContractDetailsRequest:
			return []gateway.Event{
				gateway.ContractDetails{ID: r.ID, ConID: 4242, Symbol: r.Contract.Symbol},
				gateway.ContractDetailsEnd{ID: r.ID},
			}
		case gateway.ChainParamsRequest:
			answer := make([]gateway.Event, 0, len(series)+1)
			for _, s := range series {
				s.ID = r.ID
				answer = append(answer, s)
			}
			return append(answer, gateway.ChainParameterEnd{ID: r.ID})
		}
		return nil
	}
}

func TestGetStockQuote(t *testing.T) {
	ft := newFakeTransport()
	ft.script = func(req gateway.Request) []gateway.Event {
		id := req.ReqID()
		return []gateway.Event{
			gateway.TickPrice{ID: id, Field: gateway.TickFieldBid, Price: 589.90},
			gateway.TickPrice{ID: id, Field: gateway.TickFieldAsk, Price: 590.10},
			gateway.TickPrice{ID: id, Field: gateway.TickFieldLast, Price: 590.00},
			gateway.TickPrice{ID: id, Field: gateway.TickFieldClose, Price: 588.50},
			gateway.SnapshotEnd{ID: id},
		}
	}
	svc := newTestService(t, ft, fastConfig())

	quote, err := svc.GetStockQuote(context.Background(), "QQQ")
	if err != nil {
		t.Fatalf("GetStockQuote() error = %v", err)
	}
	if quote.Symbol != "QQQ" || quote.Last != 590.00 || quote.Bid != 589.90 || quote.Ask != 590.10 {
		t.Errorf("quote = %+v", quote)
	}
	if quote.AsOf.IsZero() {
		t.Error("quote AsOf not stamped")
	}
	if quote.Price() != 590.00 {
		t.Errorf("Price() = %.2f, want 590.00", quote.Price())
	}

	remembered, ok := svc.LastPrice("QQQ")
	if !ok || remembered.Last != 590.00 {
		t.Errorf("LastPrice() = %+v, %v; want the fetched quote", remembered, ok)
	}
	// The snapshot ended on its own; no cancel owed.
	if n := len(ft.cancelled()); n != 0 {
		t.Errorf("cancelled %d subscriptions, want 0", n)
	}
}

func TestGetStockQuotePartialBeatsTimeout(t *testing.T) {
	ft := newFakeTransport()
	ft.script = func(req gateway.Request) []gateway.Event {
		// A bid and then silence: no end signal ever arrives.
		return []gateway.Event{gateway.TickPrice{ID: req.ReqID(), Field: gateway.TickFieldBid, Price: 432.10}}
	}
	svc := newTestService(t, ft, fastConfig())

	start := time.Now()
	quote, err := svc.GetStockQuote(context.Background(), "SPY")
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("GetStockQuote() error = %v, partial data must not error", err)
	}
	if quote.Bid != 432.10 {
		t.Errorf("quote bid = %.2f, want the partial 432.10", quote.Bid)
	}
	if elapsed < 150*time.Millisecond {
		t.Errorf("returned in %s, should have waited out the quote deadline", elapsed)
	}
	// Timed-out subscription is still live on the gateway side.
	if n := len(ft.cancelled()); n != 1 {
		t.Errorf("cancelled %d subscriptions, want 1", n)
	}
}

func TestGetStockQuoteRequiresSymbol(t *testing.T) {
	ft := newFakeTransport()
	svc := newTestService(t, ft, fastConfig())

	if _, err := svc.GetStockQuote(context.Background(), ""); err == nil {
		t.Fatal("GetStockQuote(\"\") did not error")
	}
	if n := len(ft.sent()); n != 0 {
		t.Errorf("an invalid request reached the gateway (%d sends)", n)
	}
}

func TestGetOptionGreeksBootstrapThenCached(t *testing.T) {
	ft := newFakeTransport()
	ft.script = func(req gateway.Request) []gateway.Event {
		return fullSnapshot(req.ReqID(), 2.40)
	}
	svc := newTestService(t, ft, fastConfig())

	// Nothing cached: the first call must block on a gateway batch.
	quotes, err := svc.GetOptionGreeks(context.Background(), "QQQ", "20260220", []float64{590, 595}, false)
	if err != nil {
		t.Fatalf("GetOptionGreeks() bootstrap error = %v", err)
	}
	if len(quotes) != 4 {
		t.Fatalf("bootstrap returned %d records, want 4", len(quotes))
	}
	if got := len(ft.optionRequests()); got != 4 {
		t.Fatalf("bootstrap sent %d subscriptions, want 4", got)
	}

	// Cached: the second call must not touch the gateway.
	again, err := svc.GetOptionGreeks(context.Background(), "QQQ", "20260220", []float64{590, 595}, false)
	if err != nil {
		t.Fatalf("GetOptionGreeks() cached error = %v", err)
	}
	if len(again) != 4 {
		t.Fatalf("cached read returned %d records, want 4", len(again))
	}
	if got := len(ft.optionRequests()); got != 4 {
		t.Errorf("cached read sent new subscriptions (total %d, want 4)", got)
	}
}

func TestGetOptionGreeksServesStaleEntries(t *testing.T) {
	ft := newFakeTransport()
	ft.script = func(req gateway.Request) []gateway.Event {
		return fullSnapshot(req.ReqID(), 1.90)
	}
	cfg := fastConfig()
	cfg.GreeksTTL = 20 * time.Millisecond
	svc := newTestService(t, ft, cfg)

	if _, err := svc.GetOptionGreeks(context.Background(), "QQQ", "20260220", []float64{590}, false); err != nil {
		t.Fatalf("populate error = %v", err)
	}
	sent := len(ft.optionRequests())

	time.Sleep(50 * time.Millisecond)

	// Well past the TTL: the entry is stale but present, so it is
	// served as-is with no gateway traffic. Refreshing is the
	// preloader's job, not the reader's.
	quotes, err := svc.GetOptionGreeks(context.Background(), "QQQ", "20260220", []float64{590}, false)
	if err != nil {
		t.Fatalf("stale read error = %v", err)
	}
	if len(quotes) != 2 {
		t.Fatalf("stale read returned %d records, want 2", len(quotes))
	}
	if got := len(ft.optionRequests()); got != sent {
		t.Errorf("stale read sent new subscriptions (total %d, want %d)", got, sent)
	}

	if age, ok := svc.CachedGreeksAge("QQQ", "20260220"); !ok || age < 50*time.Millisecond {
		t.Errorf("CachedGreeksAge() = %s, %v", age, ok)
	}
}

func TestGetOptionQuotesForcesRefresh(t *testing.T) {
	ft := newFakeTransport()
	ft.script = func(req gateway.Request) []gateway.Event {
		return fullSnapshot(req.ReqID(), 2.10)
	}
	svc := newTestService(t, ft, fastConfig())

	if _, err := svc.GetOptionQuotes(context.Background(), "QQQ", "20260220", []float64{590}); err != nil {
		t.Fatalf("first fetch error = %v", err)
	}
	if _, err := svc.GetOptionQuotes(context.Background(), "QQQ", "20260220", []float64{590}); err != nil {
		t.Fatalf("second fetch error = %v", err)
	}
	// Force refresh bypasses the fresh cache entry both times.
	if got := len(ft.optionRequests()); got != 4 {
		t.Errorf("two forced fetches sent %d subscriptions, want 4", got)
	}
}

func TestGetOptionGreeksCoalescesConcurrentFetches(t *testing.T) {
	ft := newFakeTransport()
	ft.setDelay(50 * time.Millisecond)
	ft.script = func(req gateway.Request) []gateway.Event {
		return fullSnapshot(req.ReqID(), 3.33)
	}
	svc := newTestService(t, ft, fastConfig())

	var wg sync.WaitGroup
	counts := make([]int, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			quotes, err := svc.GetOptionQuotes(context.Background(), "QQQ", "20260220", []float64{590, 595})
			counts[slot], errs[slot] = len(quotes), err
		}(i)
	}
	wg.Wait()

	for i := 0; i < 2; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d error = %v", i, errs[i])
		}
		if counts[i] != 4 {
			t.Errorf("caller %d got %d records, want 4", i, counts[i])
		}
	}
	// Identical concurrent requests share one flight: 2 strikes x 2
	// rights, once.
	if got := len(ft.optionRequests()); got != 4 {
		t.Errorf("concurrent callers sent %d subscriptions, want 4", got)
	}
}

func TestGetOptionGreeksAbandonedCallerKeepsFetchAlive(t *testing.T) {
	ft := newFakeTransport()
	ft.setDelay(80 * time.Millisecond)
	ft.script = func(req gateway.Request) []gateway.Event {
		return fullSnapshot(req.ReqID(), 2.75)
	}
	svc := newTestService(t, ft, fastConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := svc.GetOptionGreeks(ctx, "QQQ", "20260220", []float64{590}, true); err != context.DeadlineExceeded {
		t.Fatalf("abandoned caller error = %v, want context.DeadlineExceeded", err)
	}

	// The shared fetch keeps running and lands in the cache for the
	// next caller.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if quotes, ok := svc.GetCachedGreeks("QQQ", "20260220"); ok && len(quotes) == 2 && quotes[0].HasPrice() {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("abandoned fetch never filled the cache")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestGetOptionGreeksValidation(t *testing.T) {
	ft := newFakeTransport()
	svc := newTestService(t, ft, fastConfig())

	cases := []struct {
		name    string
		symbol  string
		expiry  string
		strikes []float64
	}{
		{"empty symbol", "", "20260220", []float64{590}},
		{"malformed expiry", "QQQ", "2026-02-20", []float64{590}},
		{"no strikes", "QQQ", "20260220", nil},
		{"non-positive strikes", "QQQ", "20260220", []float64{0, -5}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.GetOptionGreeks(context.Background(), tc.symbol, tc.expiry, tc.strikes, false); err == nil {
				t.Error("no error for invalid input")
			}
		})
	}
	if n := len(ft.sent()); n != 0 {
		t.Errorf("invalid input reached the gateway (%d sends)", n)
	}
}

func TestGetOptionChain(t *testing.T) {
	ft := newFakeTransport()
	ft.script = answerResolutionAndChain(
		gateway.ChainParameter{
			Exchange: "SMART", UnderlyingConID: 4242, TradingClass: "QQQ", Multiplier: "100",
			Expirations: []string{"20260220", "20260227"}, Strikes: []float64{585, 590, 595},
		},
		gateway.ChainParameter{
			Exchange: "CBOE", UnderlyingConID: 4242, TradingClass: "QQQ2", Multiplier: "100",
			Expirations: []string{"20260220"}, Strikes: []float64{590},
		},
	)
	svc := newTestService(t, ft, fastConfig())

	params, err := svc.GetOptionChain(context.Background(), "QQQ")
	if err != nil {
		t.Fatalf("GetOptionChain() error = %v", err)
	}
	if len(params) != 2 {
		t.Fatalf("GetOptionChain() returned %d series, want 2", len(params))
	}
	if params[0].TradingClass != "QQQ" || !params[0].HasExpiry("20260227") {
		t.Errorf("first series = %+v", params[0])
	}
	if len(ft.chainRequests()) != 1 {
		t.Fatalf("gateway saw %d chain requests, want 1", len(ft.chainRequests()))
	}

	// Within the TTL the second call is served from cache.
	if _, err := svc.GetOptionChain(context.Background(), "QQQ"); err != nil {
		t.Fatalf("cached chain error = %v", err)
	}
	if len(ft.chainRequests()) != 1 {
		t.Errorf("cached chain fetch hit the gateway again")
	}
	if _, ok := svc.CachedChain("QQQ"); !ok {
		t.Error("CachedChain() missing after fetch")
	}
	if symbols := svc.CachedChainSymbols(); len(symbols) != 1 || symbols[0] != "QQQ" {
		t.Errorf("CachedChainSymbols() = %v", symbols)
	}
}

func TestGetOptionChainPartialOnTimeout(t *testing.T) {
	ft := newFakeTransport()
	ft.script = func(req gateway.Request) []gateway.Event {
		switch r := req.(type) {
		case gateway.ContractDetailsRequest:
			return []gateway.Event{
				gateway.ContractDetails{ID: r.ID, ConID: 4242},
				gateway.ContractDetailsEnd{ID: r.ID},
			}
		case gateway.ChainParamsRequest:
			// One series and then silence; the end signal never comes.
			return []gateway.Event{gateway.ChainParameter{
				ID: r.ID, Exchange: "SMART", TradingClass: "QQQ",
				Expirations: []string{"20260220"}, Strikes: []float64{590},
			}}
		}
		return nil
	}
	svc := newTestService(t, ft, fastConfig())

	params, err := svc.GetOptionChain(context.Background(), "QQQ")
	if err != nil {
		t.Fatalf("GetOptionChain() error = %v, collected series must survive the timeout", err)
	}
	if len(params) != 1 {
		t.Fatalf("GetOptionChain() returned %d series, want the 1 collected", len(params))
	}
}

func TestGetOptionChainNoSeriesListed(t *testing.T) {
	ft := newFakeTransport()
	ft.script = answerResolutionAndChain() // end signal, zero series
	svc := newTestService(t, ft, fastConfig())

	_, err := svc.GetOptionChain(context.Background(), "XXXX")
	if err == nil || !strings.Contains(err.Error(), "no option series") {
		t.Fatalf("GetOptionChain() error = %v, want a no-series error", err)
	}
}

func TestCacheCounts(t *testing.T) {
	ft := newFakeTransport()
	ft.script = func(req gateway.Request) []gateway.Event {
		return fullSnapshot(req.ReqID(), 2.00)
	}
	svc := newTestService(t, ft, fastConfig())

	if _, err := svc.GetOptionQuotes(context.Background(), "QQQ", "20260220", []float64{590}); err != nil {
		t.Fatalf("fetch error = %v", err)
	}
	greeks, chains := svc.CacheCounts()
	if greeks != 1 || chains != 0 {
		t.Errorf("CacheCounts() = %d, %d; want 1, 0", greeks, chains)
	}
	if keys := svc.CachedGreeksKeys(); len(keys) != 1 || keys[0] != "QQQ|20260220" {
		t.Errorf("CachedGreeksKeys() = %v", keys)
	}
}

func TestNormalizeStrikes(t *testing.T) {
	cases := []struct {
		name string
		in   []float64
		want []float64
	}{
		{"sorted dedup", []float64{595, 590, 595, 585}, []float64{585, 590, 595}},
		{"drops non-positive", []float64{0, -10, 590}, []float64{590}},
		{"empty", nil, []float64{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := normalizeStrikes(tc.in)
			if len(got) != len(tc.want) {
				t.Fatalf("normalizeStrikes(%v) = %v, want %v", tc.in, got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Errorf("normalizeStrikes(%v)[%d] = %v, want %v", tc.in, i, got[i], tc.want[i])
				}
			}
		})
	}
}
