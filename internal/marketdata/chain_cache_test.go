package marketdata

import (
	"testing"

	"github.com/scott0229/scott-agent-sub000/internal/models"
)

func TestChainCachePutReplacesWhole(t *testing.T) {
	c := NewChainCache()
	c.Put("QQQ", []models.ChainParams{
		{TradingClass: "QQQ", Expirations: []string{"20260220"}},
		{TradingClass: "QQQ2", Expirations: []string{"20260220"}},
	})

	params, age, ok := c.Get("QQQ")
	if !ok || len(params) != 2 {
		t.Fatalf("Get() = %d series, %v; want 2", len(params), ok)
	}
	if age < 0 {
		t.Errorf("Get() age = %s", age)
	}

	// A refetch replaces the entry outright, never merges into it.
	c.Put("QQQ", []models.ChainParams{{TradingClass: "QQQ", Expirations: []string{"20260227"}}})
	params, _, _ = c.Get("QQQ")
	if len(params) != 1 || !params[0].HasExpiry("20260227") {
		t.Errorf("Get() after refetch = %+v, want the replacement only", params)
	}

	if _, _, ok := c.Get("SPY"); ok {
		t.Error("Get() hit for a symbol never fetched")
	}
}

func TestChainCacheTradingClassFor(t *testing.T) {
	c := NewChainCache()
	c.Put("QQQ", []models.ChainParams{
		{TradingClass: "QQQ2", Expirations: []string{"20260220", "20260227"}},
		{TradingClass: "QQQ", Expirations: []string{"20260220"}},
		{TradingClass: "", Expirations: []string{"20260220"}},
	})

	// Several series list the expiry; the class named after the symbol
	// is the standard listing and wins.
	if class, ok := c.TradingClassFor("QQQ", "20260220"); !ok || class != "QQQ" {
		t.Errorf("TradingClassFor(20260220) = %q, %v; want QQQ", class, ok)
	}
	// Only the weekly class lists this expiry.
	if class, ok := c.TradingClassFor("QQQ", "20260227"); !ok || class != "QQQ2" {
		t.Errorf("TradingClassFor(20260227) = %q, %v; want QQQ2", class, ok)
	}
	// Nobody lists it: resolution proceeds on the gateway default.
	if _, ok := c.TradingClassFor("QQQ", "20270101"); ok {
		t.Error("TradingClassFor() hit for an unlisted expiry")
	}
	if _, ok := c.TradingClassFor("SPY", "20260220"); ok {
		t.Error("TradingClassFor() hit for a symbol never fetched")
	}
}

func TestChainCachePrimarySeries(t *testing.T) {
	c := NewChainCache()
	c.Put("QQQ", []models.ChainParams{
		{TradingClass: "QQQ2", Expirations: []string{"20260220", "20260227", "20260306"}},
		{TradingClass: "QQQ", Expirations: []string{"20260220"}},
	})
	if series, ok := c.PrimarySeries("QQQ"); !ok || series.TradingClass != "QQQ" {
		t.Errorf("PrimarySeries() = %q, %v; the symbol-named class should win", series.TradingClass, ok)
	}

	// Without a symbol-named class the broadest series drives
	// preloading.
	c.Put("XSP", []models.ChainParams{
		{TradingClass: "XSPW", Expirations: []string{"20260220"}},
		{TradingClass: "XSPM", Expirations: []string{"20260220", "20260320"}},
	})
	if series, ok := c.PrimarySeries("XSP"); !ok || series.TradingClass != "XSPM" {
		t.Errorf("PrimarySeries() = %q, %v; want the series with most expirations", series.TradingClass, ok)
	}

	if _, ok := c.PrimarySeries("SPY"); ok {
		t.Error("PrimarySeries() hit for a symbol never fetched")
	}
}

func TestChainCacheSymbols(t *testing.T) {
	c := NewChainCache()
	if c.Count() != 0 {
		t.Fatalf("Count() = %d on empty cache", c.Count())
	}
	c.Put("SPY", []models.ChainParams{{TradingClass: "SPY"}})
	c.Put("QQQ", []models.ChainParams{{TradingClass: "QQQ"}})

	symbols := c.Symbols()
	if len(symbols) != 2 || symbols[0] != "QQQ" || symbols[1] != "SPY" {
		t.Errorf("Symbols() = %v, want sorted", symbols)
	}
	if c.Count() != 2 {
		t.Errorf("Count() = %d, want 2", c.Count())
	}
}
