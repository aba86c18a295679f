// Package server exposes the push callback endpoint and the read-only ops
// API over net/http with zerolog request logging.
package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"feedhub/internal/config"
	"feedhub/internal/database"
	"feedhub/internal/push"
)

// Deps collects the collaborators the HTTP surface serves.
type Deps struct {
	DB      *database.DB
	Summary SummarySource
	// Push is nil when push support is disabled; the callback routes are
	// then not mounted.
	Push *push.Handler
}

// NewHandler assembles the route table and middleware chain.
func NewHandler(cfg *config.Config, deps Deps, logger zerolog.Logger) http.Handler {
	mux := http.NewServeMux()

	api := http.NewServeMux()
	api.HandleFunc("GET /v1/feeds", handleListFeeds(deps.DB))
	api.HandleFunc("GET /v1/feeds/export", handleExportFeeds(deps.DB))
	api.HandleFunc("GET /v1/summary", handleSummary(deps.Summary))
	mux.Handle("/v1/", authMiddleware(cfg.AuthMode, cfg.APIKey)(api))

	mux.HandleFunc("GET /health", healthCheckHandler)
	mux.Handle("GET /metrics", promhttp.Handler())

	if deps.Push != nil {
		mux.HandleFunc("GET /push/callback/{token}", deps.Push.Verify)
		mux.HandleFunc("POST /push/callback/{token}", deps.Push.Notify)
	}

	// Set up middleware chain for logging and request tracking
	h := hlog.NewHandler(logger)(mux)
	h = hlog.MethodHandler("method")(h)
	h = hlog.URLHandler("url")(h)
	h = hlog.RemoteAddrHandler("remote_addr")(h)
	h = hlog.UserAgentHandler("user_agent")(h)
	h = hlog.RequestIDHandler("req_id", "Request-Id")(h)
	h = hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("HTTP Request")
	})(h)

	return h
}

// Run starts the HTTP server with graceful shutdown on SIGINT/SIGTERM.
func Run(cfg *config.Config, deps Deps, logger zerolog.Logger) error {
	logger = logger.With().Str("service", "feedhub-api").Logger()

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           NewHandler(cfg, deps, logger),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().Str("address", httpServer.Addr).Msg("API Server starting")
		err := httpServer.ListenAndServe()
		if !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		logger.Error().Err(err).Msg("Server failed to start")
		return err

	case sig := <-shutdown:
		logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("HTTP server shutdown error")
			if err := httpServer.Close(); err != nil {
				logger.Error().Err(err).Msg("HTTP server force close error")
			}
		} else {
			logger.Info().Msg("HTTP server shutdown complete.")
		}
		if err := <-serverErr; err != nil {
			logger.Error().Err(err).Msg("ListenAndServe error during shutdown")
		}
	}

	logger.Info().Msg("Server exiting.")
	return nil
}
