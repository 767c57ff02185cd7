// Package dashboard serves the operational JSON API: engine status,
// cached greeks and chains, and submitted roll orders. It reads from
// the engine's caches only and never triggers gateway traffic, so
// polling it is always safe.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/scott0229/scott-agent-sub000/internal/accounts"
	"github.com/scott0229/scott-agent-sub000/internal/marketdata"
	"github.com/scott0229/scott-agent-sub000/internal/models"
	"github.com/scott0229/scott-agent-sub000/internal/orders"
	"github.com/scott0229/scott-agent-sub000/internal/storage"
)

type Server struct {
	router    *chi.Mux
	server    *http.Server
	service   *marketdata.Service
	preloader *marketdata.Preloader
	builder   *orders.Builder
	registry  *accounts.Registry
	storage   storage.Interface
	logger    *logrus.Logger
	mode      string
	port      int
	authToken string
	startedAt time.Time
}

type Config struct {
	Port      int
	AuthToken string
	Mode      string
}

// Deps carries the engine components the API reads from. Preloader and
// Builder may be nil when those subsystems are disabled.
type Deps struct {
	Service   *marketdata.Service
	Preloader *marketdata.Preloader
	Builder   *orders.Builder
	Registry  *accounts.Registry
	Storage   storage.Interface
}

type StatusView struct {
	Mode            string                      `json:"mode"`
	Connected       bool                        `json:"connected"`
	PendingRequests int                         `json:"pending_requests"`
	Accounts        []AccountView               `json:"accounts"`
	GreeksEntries   int                         `json:"greeks_entries"`
	ChainEntries    int                         `json:"chain_entries"`
	StoredConIDs    int                         `json:"stored_conids"`
	Preloader       *marketdata.PreloaderStatus `json:"preloader,omitempty"`
	UptimeSeconds   int64                       `json:"uptime_seconds"`
	Timestamp       time.Time                   `json:"timestamp"`
}

type AccountView struct {
	ID    string `json:"id"`
	Alias string `json:"alias,omitempty"`
}

type GreeksView struct {
	Symbol     string               `json:"symbol"`
	Expiry     string               `json:"expiry"`
	AgeSeconds float64              `json:"age_seconds"`
	Quotes     []models.OptionQuote `json:"quotes"`
}

type ChainView struct {
	Symbol string               `json:"symbol"`
	Series []models.ChainParams `json:"series"`
}

type OrderView struct {
	orders.PlacedOrder
	Status *orders.OrderState `json:"status,omitempty"`
}

func NewServer(cfg Config, deps Deps, logger *logrus.Logger) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		service:   deps.Service,
		preloader: deps.Preloader,
		builder:   deps.Builder,
		registry:  deps.Registry,
		storage:   deps.Storage,
		logger:    logger,
		mode:      cfg.Mode,
		port:      cfg.Port,
		authToken: cfg.AuthToken,
		startedAt: time.Now(),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	if s.authToken != "" {
		s.router.Use(s.authMiddleware)
	}

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/api/status", s.handleStatus)
	s.router.Get("/api/greeks", s.handleGreeks)
	s.router.Get("/api/chain", s.handleChain)
	s.router.Get("/api/orders", s.handleOrders)
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		token := r.Header.Get("X-Auth-Token")
		if token == "" {
			token = r.URL.Query().Get("token")
		}

		if token != s.authToken {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.router,
	}

	s.logger.Infof("Starting dashboard server on port %d", s.port)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(health); err != nil {
		s.logger.WithError(err).Error("Failed to encode health response")
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	greeksEntries, chainEntries := s.service.CacheCounts()
	view := StatusView{
		Mode:            s.mode,
		Connected:       s.service.Connected(),
		PendingRequests: s.service.PendingRequests(),
		GreeksEntries:   greeksEntries,
		ChainEntries:    chainEntries,
		StoredConIDs:    s.storage.ConIDCount(),
		UptimeSeconds:   int64(time.Since(s.startedAt).Seconds()),
		Timestamp:       time.Now(),
	}
	for _, account := range s.registry.Accounts() {
		view.Accounts = append(view.Accounts, AccountView{ID: account, Alias: s.registry.Alias(account)})
	}
	if s.preloader != nil {
		status := s.preloader.Status()
		view.Preloader = &status
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(view); err != nil {
		s.logger.WithError(err).Error("Failed to encode status")
	}
}

// handleGreeks serves cached greeks for ?symbol=&expiry=. Without
// parameters it lists the cached (symbol, expiry) keys instead.
func (s *Server) handleGreeks(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	expiry := r.URL.Query().Get("expiry")

	w.Header().Set("Content-Type", "application/json")
	if symbol == "" && expiry == "" {
		keys := map[string][]string{"keys": s.service.CachedGreeksKeys()}
		if err := json.NewEncoder(w).Encode(keys); err != nil {
			s.logger.WithError(err).Error("Failed to encode greeks keys")
		}
		return
	}
	if symbol == "" || expiry == "" {
		http.Error(w, "symbol and expiry are required", http.StatusBadRequest)
		return
	}

	quotes, ok := s.service.GetCachedGreeks(symbol, expiry)
	if !ok {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	view := GreeksView{Symbol: symbol, Expiry: expiry, Quotes: quotes}
	if age, ok := s.service.CachedGreeksAge(symbol, expiry); ok {
		view.AgeSeconds = age.Seconds()
	}

	if err := json.NewEncoder(w).Encode(view); err != nil {
		s.logger.WithError(err).Error("Failed to encode greeks")
	}
}

// handleChain serves the cached chain for ?symbol=. Without a symbol it
// lists the underlyings with cached chains.
func (s *Server) handleChain(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")

	w.Header().Set("Content-Type", "application/json")
	if symbol == "" {
		symbols := map[string][]string{"symbols": s.service.CachedChainSymbols()}
		if err := json.NewEncoder(w).Encode(symbols); err != nil {
			s.logger.WithError(err).Error("Failed to encode chain symbols")
		}
		return
	}

	series, ok := s.service.CachedChain(symbol)
	if !ok {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	view := ChainView{Symbol: symbol, Series: series}
	if err := json.NewEncoder(w).Encode(view); err != nil {
		s.logger.WithError(err).Error("Failed to encode chain")
	}
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	views := []OrderView{}
	if s.builder != nil {
		for _, placed := range s.builder.History() {
			view := OrderView{PlacedOrder: placed}
			if state, ok := s.builder.Status(placed.OrderID); ok {
				view.Status = &state
			}
			views = append(views, view)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(views); err != nil {
		s.logger.WithError(err).Error("Failed to encode orders")
	}
}
