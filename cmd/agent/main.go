package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/scott0229/scott-agent-sub000/internal/accounts"
	"github.com/scott0229/scott-agent-sub000/internal/config"
	"github.com/scott0229/scott-agent-sub000/internal/dashboard"
	"github.com/scott0229/scott-agent-sub000/internal/gateway"
	"github.com/scott0229/scott-agent-sub000/internal/marketdata"
	"github.com/scott0229/scott-agent-sub000/internal/mock"
	"github.com/scott0229/scott-agent-sub000/internal/orders"
	"github.com/scott0229/scott-agent-sub000/internal/storage"
)

// Paper-mode sub-accounts announced by the scripted gateway.
var paperAccounts = map[string]string{
	"DU000001": "paper-alpha",
	"DU000002": "paper-beta",
}

type Agent struct {
	config    *config.Config
	transport gateway.Transport
	corr      *gateway.Correlator
	registry  *accounts.Registry
	store     storage.Interface
	service   *marketdata.Service
	preloader *marketdata.Preloader
	builder   *orders.Builder
	dash      *dashboard.Server
	logger    *log.Logger
}

func main() {
	godotenv.Load(".env")

	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Create logger
	logger := log.New(os.Stdout, "[AGENT] ", log.LstdFlags|log.Lshortfile)

	logger.Printf("Starting option roll agent in %s mode", cfg.Environment.Mode)
	if cfg.IsPaperTrading() {
		logger.Println("🏳️ PAPER MODE - scripted gateway, no brokerage session")
	} else {
		logger.Println("💰 LIVE MODE - a brokerage session transport is required")
	}

	agent, err := newAgent(cfg, logger)
	if err != nil {
		logger.Fatalf("Agent setup failed: %v", err)
	}

	// Set up signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Println("Shutdown signal received, stopping agent...")
		cancel()
	}()

	if err := agent.Run(ctx); err != nil {
		logger.Fatalf("Agent error: %v", err)
	}

	logger.Println("Agent stopped successfully")
}

// newAgent builds the engine for the configured mode. Paper mode runs
// against a seeded scripted gateway; live mode needs a session
// transport this binary does not ship, so it refuses to start rather
// than pretend.
func newAgent(cfg *config.Config, logger *log.Logger) (*Agent, error) {
	if !cfg.IsPaperTrading() {
		return nil, fmt.Errorf("live mode requires an external session transport; run paper mode or embed the engine")
	}

	store, err := storage.NewStorage(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	gw := mock.NewMockGateway(log.New(os.Stdout, "[MOCK] ", log.LstdFlags))
	for account, alias := range paperAccounts {
		gw.SetAlias(account, alias)
	}
	for _, symbol := range cfg.Preload.Watchlist {
		gw.SeedSymbol(symbol, 0, nil, nil)
	}

	transport := gateway.NewCircuitBreakerTransport(gw)
	corr := gateway.NewCorrelator(logger)
	registry := accounts.NewRegistry(logger)
	corr.Subscribe(registry.HandleEvent)

	service := marketdata.NewService(transport, corr, store, logger, marketdata.Config{
		SettleDelay:    cfg.GetSettleDelay(),
		HardTimeout:    cfg.GetHardTimeout(),
		QuoteTimeout:   cfg.GetQuoteTimeout(),
		ResolveTimeout: cfg.GetResolveTimeout(),
		ChainTimeout:   cfg.GetChainTimeout(),
		GreeksTTL:      cfg.GetGreeksTTL(),
		ChainTTL:       cfg.GetChainTTL(),
		BurstSize:      cfg.MarketData.BurstSize,
		BurstDelay:     cfg.GetBurstDelay(),
	})

	var preloader *marketdata.Preloader
	if cfg.Preload.Enabled {
		preloader = marketdata.NewPreloader(service, logger, marketdata.PreloadConfig{
			Interval:        cfg.GetPreloadInterval(),
			Watchlist:       cfg.Preload.Watchlist,
			ExpirationCount: cfg.Preload.ExpirationCount,
			StrikeRadius:    cfg.Preload.StrikeRadius,
		})
	}

	builder := orders.NewBuilder(transport, corr, service.Resolver(), logger, orders.Config{
		TickSize:      cfg.Orders.TickSize,
		TIF:           cfg.Orders.TIF,
		StatusTimeout: orders.DefaultConfig.StatusTimeout,
	})

	agent := &Agent{
		config:    cfg,
		transport: transport,
		corr:      corr,
		registry:  registry,
		store:     store,
		service:   service,
		preloader: preloader,
		builder:   builder,
		logger:    logger,
	}

	if cfg.Dashboard.Enabled {
		dashLogger := logrus.New()
		if level, err := logrus.ParseLevel(cfg.Environment.LogLevel); err == nil {
			dashLogger.SetLevel(level)
		}
		agent.dash = dashboard.NewServer(
			dashboard.Config{Port: cfg.Dashboard.Port, AuthToken: cfg.Dashboard.AuthToken, Mode: cfg.Environment.Mode},
			dashboard.Deps{
				Service:   service,
				Preloader: preloader,
				Builder:   builder,
				Registry:  registry,
				Storage:   store,
			},
			dashLogger,
		)
	}

	return agent, nil
}

func (a *Agent) Run(ctx context.Context) error {
	// The dispatch loop owns event routing for the life of the agent.
	dispatchDone := make(chan struct{})
	go func() {
		a.corr.Run(ctx, a.transport.Events())
		close(dispatchDone)
	}()

	if gw, ok := paperGateway(a.transport); ok {
		ids := make([]string, 0, len(paperAccounts))
		for id := range paperAccounts {
			ids = append(ids, id)
		}
		gw.AnnounceAccounts(ids...)
	}

	if !a.transport.Connected() {
		return fmt.Errorf("gateway session is down")
	}
	a.logger.Printf("Gateway session up, %d sub-account(s) announced", a.registry.Count())

	// Smoke check: one chain fetch proves the request path end to end.
	if watchlist := a.config.Preload.Watchlist; len(watchlist) > 0 {
		checkCtx, cancel := context.WithTimeout(ctx, a.config.GetChainTimeout())
		series, err := a.service.GetOptionChain(checkCtx, watchlist[0])
		cancel()
		if err != nil {
			return fmt.Errorf("chain smoke check for %s failed: %w", watchlist[0], err)
		}
		a.logger.Printf("Chain smoke check: %s lists %d series", watchlist[0], len(series))
	}

	if a.preloader != nil {
		if err := a.preloader.Start(ctx); err != nil {
			return fmt.Errorf("starting preloader: %w", err)
		}
		a.logger.Printf("Preloader warming %v every %s", a.config.Preload.Watchlist, a.config.GetPreloadInterval())
	}

	if a.dash != nil {
		go func() {
			if err := a.dash.Start(); err != nil && err != http.ErrServerClosed {
				a.logger.Printf("Dashboard server error: %v", err)
			}
		}()
		a.logger.Printf("Dashboard listening on port %d", a.config.Dashboard.Port)
	}

	<-ctx.Done()
	a.logger.Println("Shutting down...")

	if a.preloader != nil {
		a.preloader.Stop()
	}
	if a.dash != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.dash.Shutdown(shutdownCtx); err != nil {
			a.logger.Printf("Dashboard shutdown error: %v", err)
		}
	}
	if err := a.store.Save(); err != nil {
		a.logger.Printf("Storage save on shutdown failed: %v", err)
	}
	<-dispatchDone
	return nil
}

// paperGateway unwraps the scripted gateway behind the circuit breaker,
// if that is what the transport is.
func paperGateway(transport gateway.Transport) (*mock.MockGateway, bool) {
	cb, ok := transport.(*gateway.CircuitBreakerTransport)
	if !ok {
		gw, ok := transport.(*mock.MockGateway)
		return gw, ok
	}
	gw, ok := cb.Unwrap().(*mock.MockGateway)
	return gw, ok
}
