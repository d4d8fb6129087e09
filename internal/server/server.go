// Package server exposes the pool API over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/NFTCall-xyz/nftcall-core/internal/crypto"
	"github.com/NFTCall-xyz/nftcall-core/internal/domain"
	"github.com/NFTCall-xyz/nftcall-core/internal/server/handler"
	"github.com/NFTCall-xyz/nftcall-core/internal/server/middleware"
	"github.com/NFTCall-xyz/nftcall-core/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// RateLimit is the number of requests a client may make per
	// RateWindow; zero disables limiting.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health      *handler.HealthHandler
	Oracle      *handler.OracleHandler
	Pools       *handler.PoolHandler
	Collections *handler.CollectionHandler
	Events      *handler.EventHandler
	Payouts     *handler.PayoutHandler
	Credits     *handler.CreditHandler
	Archive     *handler.ArchiveHandler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in the middleware
// chain: CORS, logging, API key, signed caller, rate limit.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, verifier *crypto.Verifier, nonces domain.NonceStore, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	Routes(mux, handlers, wsHub)

	var h http.Handler = mux
	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger)(h)
	}
	h = middleware.Caller(verifier, nonces, logger)(h)
	h = middleware.Auth(cfg.APIKey, "/api/health")(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      h,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// Routes registers the API on mux. Nil handlers leave their routes out.
func Routes(mux *http.ServeMux, handlers Handlers, wsHub *ws.Hub) {
	if hh := handlers.Health; hh != nil {
		mux.HandleFunc("GET /api/health", hh.HealthCheck)
	}

	if o := handlers.Oracle; o != nil {
		mux.HandleFunc("GET /api/oracle/assets", o.ListAssets)
		mux.HandleFunc("GET /api/oracle/assets/{address}", o.GetAsset)
		mux.HandleFunc("POST /api/oracle/assets", o.AddAssets)
		mux.HandleFunc("POST /api/oracle/assets/replace", o.ReplaceAsset)
		mux.HandleFunc("POST /api/oracle/prices", o.SetPrices)
		mux.HandleFunc("POST /api/oracle/pause", o.SetPause)
	}

	if p := handlers.Pools; p != nil {
		mux.HandleFunc("GET /api/pools", p.ListPools)
		mux.HandleFunc("POST /api/pools", p.CreatePool)
		mux.HandleFunc("GET /api/pools/{collection}", p.GetPool)
		mux.HandleFunc("GET /api/pools/{collection}/nfts", p.ListNFTs)
		mux.HandleFunc("GET /api/pools/{collection}/nfts/{id}", p.GetNFT)
		mux.HandleFunc("GET /api/pools/{collection}/nfts/{id}/quote", p.Quote)
		mux.HandleFunc("GET /api/pools/{collection}/balances/{address}", p.Balance)
		mux.HandleFunc("GET /api/pools/{collection}/reconcile", p.Reconcile)
		mux.HandleFunc("POST /api/pools/{collection}/deposit", p.Deposit)
		mux.HandleFunc("POST /api/pools/{collection}/withdraw", p.Withdraw)
		mux.HandleFunc("POST /api/pools/{collection}/list", p.Relist)
		mux.HandleFunc("POST /api/pools/{collection}/delist", p.Delist)
		mux.HandleFunc("POST /api/pools/{collection}/open", p.Open)
		mux.HandleFunc("POST /api/pools/{collection}/open-batch", p.OpenBatch)
		mux.HandleFunc("POST /api/pools/{collection}/exercise", p.Exercise)
		mux.HandleFunc("POST /api/pools/{collection}/withdraw-eth", p.WithdrawETH)
		mux.HandleFunc("POST /api/pools/{collection}/collect", p.Collect)
		mux.HandleFunc("POST /api/pools/{collection}/pause", p.Pause)
		mux.HandleFunc("POST /api/pools/{collection}/unpause", p.Unpause)
	}

	if c := handlers.Collections; c != nil {
		mux.HandleFunc("POST /api/collections/{collection}/mint", c.Mint)
		mux.HandleFunc("POST /api/collections/{collection}/approve", c.Approve)
		mux.HandleFunc("POST /api/collections/{collection}/transfer", c.Transfer)
		mux.HandleFunc("GET /api/collections/{collection}/tokens/{id}", c.Owner)
		mux.HandleFunc("GET /api/collections/{collection}/owners/{address}", c.Holdings)
	}

	if e := handlers.Events; e != nil {
		mux.HandleFunc("GET /api/events", e.ListEvents)
		mux.HandleFunc("GET /api/events/stream", e.ReplayEvents)
	}
	if pay := handlers.Payouts; pay != nil {
		mux.HandleFunc("GET /api/payouts", pay.ListPending)
		mux.HandleFunc("POST /api/payouts/{id}/sent", pay.MarkSent)
	}
	if cr := handlers.Credits; cr != nil {
		mux.HandleFunc("POST /api/credits", cr.Confirm)
		mux.HandleFunc("GET /api/credits/{account}", cr.Balance)
	}
	if a := handlers.Archive; a != nil {
		mux.HandleFunc("GET /api/archive", a.List)
		mux.HandleFunc("POST /api/archive/trigger", a.Trigger)
	}

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
