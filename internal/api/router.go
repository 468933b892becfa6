package api

import (
	"io"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"tree-display/internal/config"
	"tree-display/internal/render"
	"tree-display/internal/scene"
	"tree-display/internal/spatial"
)

// SceneInterface defines the scene methods used by the API.
// Keep this minimal - only include methods the API layer actually calls.
type SceneInterface interface {
	// Area returns the domain shared by every index
	Area() spatial.Rect
	// Active returns the method used when a request names none
	Active() scene.Method
	// Cycle advances the active method
	Cycle() scene.Method
	// Query runs a timed range query on one index
	Query(m scene.Method, query spatial.Rect, limit int) (scene.QueryResult, error)
	// Insert adds an entity to the dynamic quadtree
	Insert(e scene.Entity) (scene.Entity, spatial.Handle)
	// Remove deletes a dynamic quadtree entity by its handle string
	Remove(handle string) error
	// Erase removes every dynamic quadtree entity under an area
	Erase(area spatial.Rect) scene.EraseResult
	// Stats summarizes every index
	Stats() scene.Stats
	// Print writes the partition outline of a method
	Print(m scene.Method, w io.Writer) error
	// Layout returns the partition nodes of a method
	Layout(m scene.Method) ([]spatial.Node, error)
	// Version changes whenever the dynamic quadtree does
	Version() uint64
}

// Broadcaster pushes events to connected clients.
type Broadcaster interface {
	Broadcast(event string, data interface{})
}

// RouterConfig contains all dependencies needed to construct the HTTP router.
//
// Example usage in tests:
//
//	cfg := api.RouterConfig{
//	    Scene: s,
//	    RateLimitConfig: &config.RateLimitConfig{
//	        RequestsPerSecond: 1000, // High limit for tests
//	        BurstSize:         1000,
//	    },
//	}
//	router := api.NewRouter(cfg)
//	ts := httptest.NewServer(router)
type RouterConfig struct {
	// Scene answers every index request (required)
	Scene SceneInterface

	// Events receives erase notifications. Optional.
	Events Broadcaster

	// RateLimiter is an optional pre-configured rate limiter.
	// If nil, a new one will be created using RateLimitConfig.
	RateLimiter *IPRateLimiter

	// RateLimitConfig is optional configuration for the rate limiter.
	// Only used if RateLimiter is nil. If both are nil, uses config.DefaultRateLimit.
	RateLimitConfig *config.RateLimitConfig

	// CORSOrigins is an optional list of allowed CORS origins.
	// If nil, uses the local development origins.
	CORSOrigins []string

	// LayoutCache holds rendered partition images.
	// If nil, a cache of render.DefaultMaxImages is created.
	LayoutCache *render.Cache

	// MaxResults caps the objects returned by one query.
	// If zero, uses config.DefaultServer().MaxResults.
	MaxResults int

	// DisableLogging disables the request logger middleware (useful for benchmarks).
	DisableLogging bool
}

// routerHandlers holds the handler functions for the router.
type routerHandlers struct {
	scene      SceneInterface
	events     Broadcaster
	layouts    *render.Cache
	maxResults int
}

// NewRouter constructs the HTTP router with all middleware and routes.
//
// It starts no listeners. The only goroutine is the cleanup loop of a rate
// limiter it creates itself; pass RateLimiter to control its lifetime.
//
// Example:
//
//	router := api.NewRouter(cfg)
//	ts := httptest.NewServer(router)
//	defer ts.Close()
//	resp, _ := http.Get(ts.URL + "/api/stats")
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware - Order matters!
	if !cfg.DisableLogging {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)

	// Rate limiting (BEFORE CORS to reject early and save CPU)
	rateLimiter := cfg.RateLimiter
	if rateLimiter == nil {
		rateLimiter = GetRateLimiterFromRouter(cfg)
	}
	r.Use(rateLimiter.Middleware)

	corsOrigins := cfg.CORSOrigins
	if corsOrigins == nil {
		corsOrigins = []string{
			"http://localhost:*",
			"http://127.0.0.1:*",
		}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))

	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = config.DefaultServer().MaxResults
	}
	layouts := cfg.LayoutCache
	if layouts == nil {
		layouts = render.NewCache(render.DefaultMaxImages)
	}
	h := &routerHandlers{
		scene:      cfg.Scene,
		events:     cfg.Events,
		layouts:    layouts,
		maxResults: maxResults,
	}

	r.Route("/api", func(r chi.Router) {
		// Queries
		r.Get("/search", h.handleSearch)
		r.Get("/methods", h.handleGetMethods)
		r.Post("/methods/next", h.handleNextMethod)

		// Dynamic quadtree mutation
		r.Post("/objects", h.handleInsertObject)
		r.Delete("/objects/{handle}", h.handleRemoveObject)
		r.Post("/erase", h.handleErase)

		// Diagnostics
		r.Get("/stats", h.handleGetStats)
		r.Get("/trees/{method}/print", h.handlePrintTree)
		r.Get("/trees/{method}/layout.png", h.handleLayoutPNG)
	})

	return r
}

// GetRateLimiterFromRouter returns the limiter cfg names, or builds one from
// its RateLimitConfig.
func GetRateLimiterFromRouter(cfg RouterConfig) *IPRateLimiter {
	if cfg.RateLimiter != nil {
		return cfg.RateLimiter
	}
	rateLimitCfg := config.DefaultRateLimit()
	if cfg.RateLimitConfig != nil {
		rateLimitCfg = *cfg.RateLimitConfig
	}
	return NewIPRateLimiter(rateLimitCfg)
}
