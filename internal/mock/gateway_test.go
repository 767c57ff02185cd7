package mock

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/scott0229/scott-agent-sub000/internal/gateway"
	"github.com/scott0229/scott-agent-sub000/internal/marketdata"
	"github.com/scott0229/scott-agent-sub000/internal/models"
	"github.com/scott0229/scott-agent-sub000/internal/storage"
)

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func fastConfig() marketdata.Config {
	return marketdata.Config{
		SettleDelay:    50 * time.Millisecond,
		HardTimeout:    2 * time.Second,
		QuoteTimeout:   time.Second,
		ResolveTimeout: time.Second,
		ChainTimeout:   time.Second,
		GreeksTTL:      30 * time.Second,
		ChainTTL:       5 * time.Minute,
		BurstSize:      10,
		BurstDelay:     10 * time.Millisecond,
	}
}

// startEngine wires a correlator and service against the gateway and
// runs the dispatch loop for the life of the test.
func startEngine(t *testing.T, gw *MockGateway) (*marketdata.Service, *gateway.Correlator) {
	t.Helper()
	store, err := storage.NewStorage("")
	if err != nil {
		t.Fatalf("NewStorage() error = %v", err)
	}
	corr := gateway.NewCorrelator(quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		corr.Run(ctx, gw.Events())
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return marketdata.NewService(gw, corr, store, quietLogger(), fastConfig()), corr
}

func TestScriptedSnapshotAnswersBatch(t *testing.T) {
	gw := NewMockGateway(quietLogger())
	expiry := "20260320"
	gw.AddOption(models.OptionContract{Symbol: "QQQ", Expiry: expiry, Strike: 590, Right: models.RightCall},
		OptionScript{Bid: 4.1, Ask: 4.3, Delta: 0.45, ImpliedVol: 0.22, OpenInterest: 1200})
	gw.AddOption(models.OptionContract{Symbol: "QQQ", Expiry: expiry, Strike: 590, Right: models.RightPut},
		OptionScript{Bid: 3.8, Ask: 4.0, Delta: -0.55, ImpliedVol: 0.24})
	// The 595 call answers; the 595 put stays silent so the batch has
	// to settle rather than see every contract end.
	gw.AddOption(models.OptionContract{Symbol: "QQQ", Expiry: expiry, Strike: 595, Right: models.RightCall},
		OptionScript{Bid: 1.9, Ask: 2.1})
	silent := models.OptionContract{Symbol: "QQQ", Expiry: expiry, Strike: 595, Right: models.RightPut}
	gw.AddOption(silent, OptionScript{Bid: 9.9})
	gw.SilenceOption(silent)

	svc, _ := startEngine(t, gw)

	start := time.Now()
	quotes, err := svc.GetOptionQuotes(context.Background(), "QQQ", expiry, []float64{590, 595})
	if err != nil {
		t.Fatalf("GetOptionQuotes() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("batch took %s, want settle-timer completion well under the hard timeout", elapsed)
	}
	if len(quotes) != 4 {
		t.Fatalf("got %d records, want 4 (one per attempted contract)", len(quotes))
	}

	byKey := make(map[models.QuoteKey]models.OptionQuote, len(quotes))
	for _, q := range quotes {
		byKey[q.Key()] = q
	}
	call590 := byKey[models.QuoteKey{Strike: 590, Right: models.RightCall}]
	if call590.Bid != 4.1 || call590.Delta != 0.45 || call590.OpenInterest != 1200 {
		t.Errorf("590C = %+v, want scripted bid/delta/OI", call590)
	}
	if call590.Source != models.GreekSourceModel {
		t.Errorf("590C source = %v, want model", call590.Source)
	}
	put595 := byKey[models.QuoteKey{Strike: 595, Right: models.RightPut}]
	if put595.HasPrice() {
		t.Errorf("silent 595P = %+v, want a zero-valued record", put595)
	}
	// The silent subscription never ended on the gateway side, so it
	// must have been cancelled when the batch settled.
	if len(gw.Cancels()) == 0 {
		t.Error("no market data cancel recorded for the silent contract")
	}

	if cached, ok := svc.GetCachedGreeks("QQQ", expiry); !ok || len(cached) != 4 {
		t.Errorf("cache after batch = %d records (ok=%v), want 4", len(cached), ok)
	}
}

func TestFailedContractAbsorbedByBatch(t *testing.T) {
	gw := NewMockGateway(quietLogger())
	expiry := "20260320"
	gw.AddOption(models.OptionContract{Symbol: "SPY", Expiry: expiry, Strike: 500, Right: models.RightCall},
		OptionScript{Bid: 2.5, Ask: 2.7})
	bad := models.OptionContract{Symbol: "SPY", Expiry: expiry, Strike: 500, Right: models.RightPut}
	gw.AddOption(bad, OptionScript{Bid: 1.0})
	gw.FailOption(bad, gateway.CodeNoSecurityDef)

	svc, _ := startEngine(t, gw)
	quotes, err := svc.GetOptionQuotes(context.Background(), "SPY", expiry, []float64{500})
	if err != nil {
		t.Fatalf("GetOptionQuotes() error = %v: a per-contract error must not fail the batch", err)
	}
	if len(quotes) != 2 {
		t.Fatalf("got %d records, want 2", len(quotes))
	}
	for _, q := range quotes {
		if q.Right == models.RightPut && q.HasPrice() {
			t.Errorf("failed contract carries data: %+v", q)
		}
		if q.Right == models.RightCall && q.Bid != 2.5 {
			t.Errorf("healthy sibling lost its data: %+v", q)
		}
	}
}

func TestChainAndResolutionFlow(t *testing.T) {
	gw := NewMockGateway(quietLogger())
	stockConID := gw.AddStock("QQQ", StockScript{Bid: 589.9, Ask: 590.1, Last: 590, Close: 588})
	gw.AddChain("QQQ", gateway.ChainParameter{
		Exchange:        "SMART",
		UnderlyingConID: stockConID,
		TradingClass:    "QQQ",
		Multiplier:      "100",
		Expirations:     []string{"20260320", "20260327"},
		Strikes:         []float64{585, 590, 595},
	})
	contract := models.OptionContract{Symbol: "QQQ", Expiry: "20260320", Strike: 590, Right: models.RightPut}
	optConID := gw.AddOption(contract, OptionScript{Bid: 3.8, Ask: 4.0})

	svc, _ := startEngine(t, gw)

	quote, err := svc.GetStockQuote(context.Background(), "QQQ")
	if err != nil {
		t.Fatalf("GetStockQuote() error = %v", err)
	}
	if quote.Price() != 590 {
		t.Errorf("stock price = %v, want 590", quote.Price())
	}

	params, err := svc.GetOptionChain(context.Background(), "QQQ")
	if err != nil {
		t.Fatalf("GetOptionChain() error = %v", err)
	}
	if len(params) != 1 || params[0].TradingClass != "QQQ" {
		t.Fatalf("chain = %+v, want one QQQ series", params)
	}
	if !params[0].HasExpiry("20260327") {
		t.Error("chain lost an expiration")
	}

	got, err := svc.Resolver().ResolveOption(context.Background(), contract)
	if err != nil {
		t.Fatalf("ResolveOption() error = %v", err)
	}
	if got != optConID {
		t.Errorf("resolved conid = %d, want %d", got, optConID)
	}

	if _, err := svc.Resolver().ResolveOption(context.Background(),
		models.OptionContract{Symbol: "QQQ", Expiry: "20260320", Strike: 999, Right: models.RightPut}); !errors.Is(err, gateway.ErrContractNotFound) {
		t.Errorf("unknown contract error = %v, want ErrContractNotFound", err)
	}
}

func TestOrderStatusSequence(t *testing.T) {
	gw := NewMockGateway(quietLogger())
	corr := gateway.NewCorrelator(quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go corr.Run(ctx, gw.Events())

	id := corr.NextID(gateway.KindOrder)
	statuses := make(chan gateway.OrderStatus, 4)
	if err := corr.Register(id, time.Second, func(ev gateway.Event) {
		if st, ok := ev.(gateway.OrderStatus); ok {
			statuses <- st
		}
	}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	err := gw.Send(context.Background(), gateway.PlaceOrderRequest{
		ID: id, Account: "U100",
		Order: gateway.ComboOrder{Symbol: "QQQ", Quantity: 2, LimitPrice: 1.25, TIF: "DAY"},
	})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	want := []string{"Submitted", "Filled"}
	for i, status := range want {
		select {
		case st := <-statuses:
			if st.Status != status {
				t.Fatalf("status[%d] = %s, want %s", i, st.Status, status)
			}
			if status == "Filled" && (st.Filled != 2 || st.AvgFillPrice != 1.25) {
				t.Errorf("fill = %+v, want 2 @ 1.25", st)
			}
		case <-time.After(time.Second):
			t.Fatalf("status[%d] (%s) never arrived", i, status)
		}
	}
	if got := len(gw.OrderRequests()); got != 1 {
		t.Errorf("order log has %d entries, want 1", got)
	}
}

func TestDropAndRestoreSession(t *testing.T) {
	gw := NewMockGateway(quietLogger())
	gw.SetAlias("U100", "alpha")
	gw.AnnounceAccounts("U100", "U200")

	gw.DropSession()
	if gw.Connected() {
		t.Fatal("gateway still connected after drop")
	}
	err := gw.Send(context.Background(), gateway.MarketDataRequest{ID: 1, Contract: gateway.StockSpec("QQQ"), Snapshot: true})
	if !errors.Is(err, gateway.ErrNotConnected) {
		t.Fatalf("send while down error = %v, want ErrNotConnected", err)
	}

	gw.RestoreSession()
	if !gw.Connected() {
		t.Fatal("gateway not connected after restore")
	}

	var statuses []bool
	var announcements int
	drain := time.After(200 * time.Millisecond)
	for {
		select {
		case ev := <-gw.Events():
			switch e := ev.(type) {
			case gateway.ConnectionStatus:
				statuses = append(statuses, e.Connected)
			case gateway.ManagedAccounts:
				announcements++
			}
			continue
		case <-drain:
		}
		break
	}
	if len(statuses) != 2 || statuses[0] || !statuses[1] {
		t.Errorf("connection statuses = %v, want [false true]", statuses)
	}
	// One announcement at setup, one re-announcement after restore.
	if announcements != 2 {
		t.Errorf("account announcements = %d, want 2", announcements)
	}
}

func TestSeedSymbol(t *testing.T) {
	gw := NewMockGateway(quietLogger())
	gw.SeedSymbol("SPY", 500, []string{"20260320"}, []float64{495, 500, 505})

	if _, ok := gw.StockConID("SPY"); !ok {
		t.Fatal("seeded underlying has no conid")
	}
	for _, strike := range []float64{495, 500, 505} {
		for _, right := range []models.Right{models.RightCall, models.RightPut} {
			contract := models.OptionContract{Symbol: "SPY", Expiry: "20260320", Strike: strike, Right: right}
			if _, ok := gw.OptionConID(contract); !ok {
				t.Errorf("seeded contract %s has no conid", contract)
			}
		}
	}

	svc, _ := startEngine(t, gw)
	quotes, err := svc.GetOptionQuotes(context.Background(), "SPY", "20260320", []float64{495, 500, 505})
	if err != nil {
		t.Fatalf("GetOptionQuotes() error = %v", err)
	}
	if len(quotes) != 6 {
		t.Fatalf("got %d records, want 6", len(quotes))
	}
	for _, q := range quotes {
		if q.Bid <= 0 || q.Ask <= q.Bid {
			t.Errorf("%v %s: bid/ask = %v/%v, want a positive spread", q.Strike, q.Right, q.Bid, q.Ask)
		}
		if q.Right == models.RightPut && q.Delta >= 0 {
			t.Errorf("%v put delta = %v, want negative", q.Strike, q.Delta)
		}
		if q.Right == models.RightCall && q.Delta <= 0 {
			t.Errorf("%v call delta = %v, want positive", q.Strike, q.Delta)
		}
		if q.ImpliedVol <= 0 {
			t.Errorf("%v %s: implied vol missing", q.Strike, q.Right)
		}
	}
}
