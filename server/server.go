// Package server exposes the HTTP control surface of the bots: health,
// metrics, per-owner connect/disconnect, feature toggles and a server-sent
// event feed of status changes and log entries.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrSigel/pulseframelabs/backend/bot"
	"github.com/MrSigel/pulseframelabs/backend/store"
)

// Check is one readiness dependency.
type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

// Data is the read-only view of per-owner handler data.
type Data interface {
	HotwordCounts(ctx context.Context, ownerID string) (map[string]int64, error)
	ListSlotRequests(ctx context.Context, ownerID string, status store.SlotStatus) ([]store.SlotRequest, error)
}

// Deps are the server's collaborators.
type Deps struct {
	Bots      *bot.Manager
	Data      Data
	Ready     []Check
	Auth      AuthConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
	// Heartbeat between SSE comments; 15s when zero.
	Heartbeat time.Duration
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	bots      *bot.Manager
	data      Data
	ready     []Check
	heartbeat time.Duration
}

// NewMux returns the HTTP handler with all routes. ctx bounds the rate
// limiter's cleanup goroutine.
func NewMux(ctx context.Context, deps Deps) http.Handler {
	h := &Handlers{bots: deps.Bots, data: deps.Data, ready: deps.Ready, heartbeat: deps.Heartbeat}
	if h.heartbeat <= 0 {
		h.heartbeat = 15 * time.Second
	}

	bots := http.NewServeMux()
	bots.HandleFunc("GET /bots/{owner}", h.HandleBotStatus)
	bots.HandleFunc("POST /bots/{owner}/connect", h.HandleConnect)
	bots.HandleFunc("POST /bots/{owner}/disconnect", h.HandleDisconnect)
	bots.HandleFunc("DELETE /bots/{owner}/account", h.HandleDisconnectAccount)
	bots.HandleFunc("GET /bots/{owner}/features", h.HandleFeatures)
	bots.HandleFunc("PUT /bots/{owner}/features/{name}", h.HandleToggleFeature)
	bots.HandleFunc("GET /bots/{owner}/logs", h.HandleLogs)
	bots.HandleFunc("GET /bots/{owner}/events", h.HandleEvents)
	bots.HandleFunc("GET /bots/{owner}/hotwords", h.HandleHotwords)
	bots.HandleFunc("GET /bots/{owner}/slot-requests", h.HandleSlotRequests)
	limiter := newIPRateLimiter(ctx, deps.RateLimit)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", h.HandleHealthz)
	mux.HandleFunc("GET /readyz", h.HandleReadyz)
	mux.Handle("/bots/", adminAuth(rateLimitMiddleware(bots, limiter), deps.Auth))

	return withCORS(withCorrelation(mux), deps.CORS)
}

// Start runs the HTTP server and shuts down gracefully on context cancellation.
func Start(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:        addr,
		Handler:     handler,
		ReadTimeout: 5 * time.Second,
		// no WriteTimeout: the event feed is a long-lived response
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		// Use WithoutCancel to inherit context values but allow shutdown to complete
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err))
		}
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("http server error", slog.Any("err", err))
		return err
	}
	return nil
}
