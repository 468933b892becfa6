package api

import (
	"context"
	"net"
	"net/http"
	"net/http/pprof"
	"os"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tree-display/internal/config"
	"tree-display/internal/scene"
)

// Metrics with bounded cardinality: labels are method, index or op names,
// never handles or client addresses.
var (
	queryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tree_query_duration_seconds",
		Help:    "Index search time of a range query",
		Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
	}, []string{"method"})

	queryResults = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tree_query_results",
		Help:    "Objects matched by a range query",
		Buckets: prometheus.ExponentialBuckets(1, 4, 10),
	}, []string{"method"})

	indexObjects = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tree_index_objects",
		Help: "Objects currently held by an index",
	}, []string{"method"})

	indexBuild = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tree_index_build_seconds",
		Help: "Time spent building an index from the initial population",
	}, []string{"method"})

	mutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tree_mutations_total",
		Help: "Objects inserted or removed from the dynamic quadtree",
	}, []string{"op"}) // Bounded: "insert", "remove", "erase"

	connectionRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "connection_rejected_total",
		Help: "Connections rejected by rate limiter or origin check",
	}, []string{"reason"}) // Bounded: "rate_limit", "origin", "ws_total_limit", "ws_ip_limit", "ws_query_limit"

	wsConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "websocket_connections_active",
		Help: "Currently active WebSocket connections",
	})

	wsMessagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "websocket_messages_total",
		Help: "Total WebSocket messages sent",
	})
)

// DebugHandler serves pprof, Prometheus metrics and a health check, behind
// basic auth when cfg sets a user.
func DebugHandler(cfg config.ObservabilityConfig) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	if cfg.BasicAuthUser != "" {
		return basicAuthMiddleware(cfg.BasicAuthUser, cfg.BasicAuthPass, mux)
	}
	return mux
}

// StartDebugServer starts the observability server in the background and
// shuts it down when ctx is done. Non-loopback addresses without basic auth
// are forced back to localhost unless ALLOW_DEBUG_EXTERNAL is "true".
func StartDebugServer(ctx context.Context, cfg config.ObservabilityConfig) {
	if !cfg.Enabled {
		logs.WithTag("addr", cfg.ListenAddr).Info("debug server disabled")
		return
	}

	if !isLoopback(cfg.ListenAddr) && cfg.BasicAuthUser == "" &&
		os.Getenv("ALLOW_DEBUG_EXTERNAL") != "true" {
		logs.WithTag("addr", cfg.ListenAddr).Warn(errors.New("debug server forced to localhost"))
		cfg.ListenAddr = config.DefaultObservability().ListenAddr
	}

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: DebugHandler(cfg)}

	go func() {
		<-ctx.Done()
		if err := srv.Shutdown(context.Background()); err != nil {
			logs.Warn(errors.New("shutting down the debug server failed").Wrap(err))
		}
	}()

	go func() {
		logs.WithTag("addr", cfg.ListenAddr).
			WithTag("pprof", "http://"+cfg.ListenAddr+"/debug/pprof/").
			WithTag("metrics", "http://"+cfg.ListenAddr+"/metrics").
			Info("starting debug server")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logs.Warn(errors.New("debug server stopped").
				WithTag("addr", cfg.ListenAddr).
				Wrap(err))
		}
	}()
}

func isLoopback(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// basicAuthMiddleware adds basic authentication to the handler
func basicAuthMiddleware(user, pass string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || u != user || p != pass {
			w.Header().Set("WWW-Authenticate", `Basic realm="debug"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RecordQuery records the timing and match count of a query
func RecordQuery(res scene.QueryResult) {
	m := res.Method.String()
	queryDuration.WithLabelValues(m).Observe(res.Duration.Seconds())
	queryResults.WithLabelValues(m).Observe(float64(res.Count))
}

// RecordMutation counts objects touched by a dynamic quadtree operation
func RecordMutation(op string, n int) {
	mutations.WithLabelValues(op).Add(float64(n))
}

// UpdateIndexSizes refreshes the per-index gauges from a stats snapshot
func UpdateIndexSizes(st scene.Stats) {
	indexObjects.WithLabelValues(scene.Linear.String()).Set(float64(st.Entities))
	indexObjects.WithLabelValues(scene.QuadTree.String()).Set(float64(st.QuadTree.Objects))
	indexObjects.WithLabelValues(scene.Grid.String()).Set(float64(st.Grid.Objects))
	indexObjects.WithLabelValues(scene.KDTree.String()).Set(float64(st.KDTree.Objects))
	indexObjects.WithLabelValues(scene.DynamicQuadTree.String()).Set(float64(st.DynamicLive))
	indexObjects.WithLabelValues(scene.RTree.String()).Set(float64(st.RTreeObjects))

	for m, d := range st.Builds {
		indexBuild.WithLabelValues(m.String()).Set(d.Seconds())
	}
}

// RecordConnectionRejected increments the rejection counter
func RecordConnectionRejected(reason string) {
	connectionRejected.WithLabelValues(reason).Inc()
}

// UpdateWSConnections updates WebSocket connection count
func UpdateWSConnections(count int) {
	wsConnectionsActive.Set(float64(count))
}

// IncrementWSMessages increments WebSocket message counter
func IncrementWSMessages() {
	wsMessagesTotal.Inc()
}
