// inspect_store - Summarize the resolved contract-id store
// Contract ids are append-only for the life of the file, so this is the
// quickest way to see what a session has already resolved and how stale
// the store is before pointing an agent at it.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/scott0229/scott-agent-sub000/internal/config"
)

type storeFile struct {
	Underlyings map[string]int64 `json:"underlyings"`
	Options     map[string]int64 `json:"options"`
	LastUpdated time.Time        `json:"last_updated"`
}

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	storePath := flag.String("store", "", "Store path (defaults to the configured one)")
	verbose := flag.Bool("v", false, "List every cached option contract")
	flag.Parse()

	path := *storePath
	if path == "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		path = cfg.Storage.Path
	}
	if path == "" {
		log.Fatalf("No store path configured; pass -store")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("Failed to read store: %v", err)
	}
	var store storeFile
	if err := json.Unmarshal(raw, &store); err != nil {
		log.Fatalf("Failed to parse store: %v", err)
	}

	fmt.Printf("🔍 Contract store: %s\n", path)
	if !store.LastUpdated.IsZero() {
		fmt.Printf("Last updated: %s (%s ago)\n",
			store.LastUpdated.Format(time.RFC3339), time.Since(store.LastUpdated).Round(time.Minute))
	}
	fmt.Printf("Found:\n")
	fmt.Printf("  - %d underlying(s)\n", len(store.Underlyings))
	fmt.Printf("  - %d option contract(s)\n", len(store.Options))
	fmt.Println()

	// Option keys are SYMBOL|EXPIRY|STRIKE|RIGHT; group them under
	// their underlying.
	perSymbol := map[string]int{}
	for key := range store.Options {
		symbol := key
		if i := strings.IndexByte(key, '|'); i > 0 {
			symbol = key[:i]
		}
		perSymbol[symbol]++
	}
	symbols := make([]string, 0, len(store.Underlyings))
	for symbol := range store.Underlyings {
		symbols = append(symbols, symbol)
	}
	for symbol := range perSymbol {
		if _, known := store.Underlyings[symbol]; !known {
			symbols = append(symbols, symbol)
		}
	}
	sort.Strings(symbols)

	for _, symbol := range symbols {
		conid := "-"
		if id, ok := store.Underlyings[symbol]; ok {
			conid = strconv.FormatInt(id, 10)
		}
		fmt.Printf("  %s: conid %s, %d option(s)\n", symbol, conid, perSymbol[symbol])
	}

	if *verbose && len(store.Options) > 0 {
		keys := make([]string, 0, len(store.Options))
		for key := range store.Options {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		fmt.Println()
		for _, key := range keys {
			fmt.Printf("  %-44s %d\n", key, store.Options[key])
		}
	}
}
