package api

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/go-tooling/pkg/metrics"
	"github.com/go-chi/chi/v5"

	"tree-display/internal/config"
)

// Server is the HTTP API server with WebSocket support.
// It combines the HTTP router with the WebSocket hub for live queries.
type Server struct {
	cfg         config.ServerConfig
	router      *chi.Mux
	wsHub       *WebSocketHub
	rateLimiter *IPRateLimiter
}

// NewServer creates an API server over s.
//
// Background workers do NOT start until Start() is called, apart from the
// rate limiter cleanup loop which Stop ends. For testing HTTP endpoints
// without WebSocket support, use NewRouter() directly.
func NewServer(s SceneInterface, cfg config.AppConfig) *Server {
	srv := &Server{
		cfg:         cfg.Server,
		wsHub:       NewWebSocketHub(s, cfg.Server, cfg.Cursor),
		rateLimiter: NewIPRateLimiter(cfg.RateLimit),
	}

	srv.router = NewRouter(RouterConfig{
		Scene:       s,
		Events:      srv.wsHub,
		RateLimiter: srv.rateLimiter,
		MaxResults:  cfg.Server.MaxResults,
	})

	// The hub instance is needed here, so /ws is not part of NewRouter.
	srv.router.Get("/ws", srv.wsHub.HandleWebSocket)

	return srv
}

// Start runs the hub and serves addr until ctx is done, then shuts down
// gracefully within the configured grace period.
func (s *Server) Start(ctx context.Context, addr string) error {
	hubCtx, stopHub := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.wsHub.Run(hubCtx)
	}()
	defer wg.Wait()
	defer stopHub()
	defer s.Stop()

	// Upgrades bypass the metrics wrapper, which does not hijack.
	instrumented := metrics.HTTPHandler(s.router, MetricsPathFormatter)
	httpServer := &http.Server{
		Addr: addr,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/ws" {
				s.router.ServeHTTP(w, r)
				return
			}
			instrumented.ServeHTTP(w, r)
		}),
	}

	errc := make(chan error, 1)
	go func() {
		logs.WithTag("addr", addr).Info("starting api server")
		errc <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if err == http.ErrServerClosed {
			return nil
		}
		return errors.New("api server stopped").WithTag("addr", addr).Wrap(err)

	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownGrace)
		defer cancel()

		logs.WithTag("addr", addr).Info("stopping api server")
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return errors.New("shutting down the api server failed").Wrap(err)
		}
		return nil
	}
}

// Router returns the HTTP handler for use with httptest.
//
// Example:
//
//	server := api.NewServer(s, cfg)
//	ts := httptest.NewServer(server.Router())
//	defer ts.Close()
//	resp, _ := http.Get(ts.URL + "/api/stats")
func (s *Server) Router() http.Handler {
	return s.router
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *WebSocketHub {
	return s.wsHub
}

// Stop releases background workers that are not bound to a context.
func (s *Server) Stop() {
	s.rateLimiter.Stop()
}

// MetricsPathFormatter drops client errors from HTTP metrics and folds
// object handles into one path so label cardinality stays bounded.
func MetricsPathFormatter(statusCode int, path string) string {
	if statusCode == http.StatusMovedPermanently ||
		statusCode == http.StatusBadRequest ||
		statusCode == http.StatusNotFound ||
		statusCode == http.StatusMethodNotAllowed ||
		statusCode == http.StatusTooManyRequests {
		return ""
	}

	if strings.HasPrefix(path, "/api/objects/") {
		return "/api/objects/{handle}"
	}
	return path
}
