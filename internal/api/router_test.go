package api

import (
	"bytes"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tree-display/internal/config"
	"tree-display/internal/render"
	"tree-display/internal/scene"
	"tree-display/internal/spatial"
)

// ============================================================================
// Helpers
// ============================================================================

func testDomain() config.DomainConfig {
	cfg := config.DefaultDomain()
	cfg.AreaLength = 1000
	cfg.NumEntities = 300
	cfg.MaxEntitySize = 20
	cfg.MaxDepth = 6
	cfg.GridCells = 10
	cfg.Seed = 7
	return cfg
}

func newTestScene(t *testing.T) *scene.Scene {
	t.Helper()
	cfg := testDomain()
	s, err := scene.New(cfg, scene.Populate(cfg))
	require.NoError(t, err)
	return s
}

// eventSpy records broadcasts instead of sending them.
type eventSpy struct {
	mu     sync.Mutex
	events []string
	data   []interface{}
}

func (s *eventSpy) Broadcast(event string, data interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	s.data = append(s.data, data)
}

func newTestRouter(t *testing.T, s SceneInterface, events Broadcaster) *httptest.Server {
	t.Helper()
	rl := NewIPRateLimiter(config.RateLimitConfig{RequestsPerSecond: 1000, BurstSize: 1000})
	t.Cleanup(rl.Stop)

	ts := httptest.NewServer(NewRouter(RouterConfig{
		Scene:          s,
		Events:         events,
		RateLimiter:    rl,
		MaxResults:     100,
		DisableLogging: true,
	}))
	t.Cleanup(ts.Close)
	return ts
}

func doRequest(t *testing.T, method, url string, body interface{}) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, r)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

type errorBody struct {
	Error string `json:"error"`
	Type  string `json:"type"`
}

func requireErrorType(t *testing.T, resp *http.Response, code int, errType string) {
	t.Helper()
	require.Equal(t, code, resp.StatusCode)
	var body errorBody
	decode(t, resp, &body)
	assert.Equal(t, errType, body.Type)
	assert.NotEmpty(t, body.Error)
}

// ============================================================================
// Search
// ============================================================================

func TestSearchTruncatesToLimit(t *testing.T) {
	s := newTestScene(t)
	ts := newTestRouter(t, s, nil)

	want, err := s.Query(scene.Linear, s.Area(), -1)
	require.NoError(t, err)

	resp := doRequest(t, http.MethodGet, ts.URL+"/api/search?method=quadtree&x=0&y=0&w=1000&h=1000&limit=5", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var body searchResponse
	decode(t, resp, &body)
	assert.Equal(t, "QUADTREE", body.Method)
	assert.Equal(t, 300, body.Total)
	assert.Equal(t, want.Count, body.Count)
	assert.Len(t, body.Objects, 5)
	assert.True(t, body.Truncated)
	assert.Equal(t, rectJSON{W: 1000, H: 1000}, body.Query)
	for _, o := range body.Objects {
		assert.Empty(t, o.Handle)
		assert.Len(t, o.Color, 7)
	}
}

func TestSearchClampsLimitAndUsesActiveMethod(t *testing.T) {
	s := newTestScene(t)
	ts := newTestRouter(t, s, nil)
	s.SetActive(scene.DynamicQuadTree)

	resp := doRequest(t, http.MethodGet, ts.URL+"/api/search?x=0&y=0&w=1000&h=1000&limit=100000", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body searchResponse
	decode(t, resp, &body)
	assert.Equal(t, "DYNAMIC", body.Method)
	assert.Len(t, body.Objects, 100)
	for _, o := range body.Objects {
		assert.NotEmpty(t, o.Handle)
	}
}

func TestSearchRejectsBadInput(t *testing.T) {
	ts := newTestRouter(t, newTestScene(t), nil)

	tests := []struct {
		name    string
		query   string
		errType string
	}{
		{"missing h", "x=0&y=0&w=10", ErrTypeBadRequest},
		{"non numeric", "x=a&y=0&w=10&h=10", ErrTypeBadRequest},
		{"nan", "x=NaN&y=0&w=10&h=10", ErrTypeBadRequest},
		{"infinite", "x=0&y=0&w=Inf&h=10", ErrTypeBadRequest},
		{"negative infinite", "x=0&y=-inf&w=10&h=10", ErrTypeBadRequest},
		{"negative limit", "x=0&y=0&w=10&h=10&limit=-1", ErrTypeBadRequest},
		{"unknown method", "method=octree&x=0&y=0&w=10&h=10", scene.ErrTypeUnknownMethod},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doRequest(t, http.MethodGet, ts.URL+"/api/search?"+tt.query, nil)
			requireErrorType(t, resp, http.StatusBadRequest, tt.errType)
		})
	}
}

// ============================================================================
// Methods
// ============================================================================

func TestMethodsAndCycle(t *testing.T) {
	ts := newTestRouter(t, newTestScene(t), nil)

	var methods struct {
		Methods []string `json:"methods"`
		Active  string   `json:"active"`
	}
	decode(t, doRequest(t, http.MethodGet, ts.URL+"/api/methods", nil), &methods)
	assert.Equal(t, []string{"LINEAR", "QUADTREE", "GRID", "KDTREE", "DYNAMIC", "RTREE"}, methods.Methods)
	assert.Equal(t, "QUADTREE", methods.Active)

	var next struct {
		Active string `json:"active"`
	}
	decode(t, doRequest(t, http.MethodPost, ts.URL+"/api/methods/next", nil), &next)
	assert.Equal(t, "GRID", next.Active)
}

// ============================================================================
// Objects
// ============================================================================

func TestInsertSearchRemoveObject(t *testing.T) {
	ts := newTestRouter(t, newTestScene(t), nil)

	resp := doRequest(t, http.MethodPost, ts.URL+"/api/objects", map[string]interface{}{
		"x": 500, "y": 500, "r": 2, "vx": 1.5, "vy": -2, "color": "#ff8000",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created objectJSON
	decode(t, resp, &created)
	assert.Equal(t, uint32(300), created.ID)
	assert.Equal(t, "#ff8000", created.Color)
	assert.Equal(t, float32(1.5), created.VX)
	assert.Equal(t, float32(-2), created.VY)
	require.NotEmpty(t, created.Handle)

	var found searchResponse
	decode(t, doRequest(t, http.MethodGet, ts.URL+"/api/search?method=dynamic&x=499&y=499&w=2&h=2", nil), &found)
	handles := make([]string, len(found.Objects))
	for i, o := range found.Objects {
		handles[i] = o.Handle
	}
	assert.Contains(t, handles, created.Handle)

	resp = doRequest(t, http.MethodDelete, ts.URL+"/api/objects/"+created.Handle, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = doRequest(t, http.MethodDelete, ts.URL+"/api/objects/"+created.Handle, nil)
	requireErrorType(t, resp, http.StatusNotFound, spatial.ErrTypeInvalidHandle)

	resp = doRequest(t, http.MethodDelete, ts.URL+"/api/objects/garbage", nil)
	requireErrorType(t, resp, http.StatusNotFound, spatial.ErrTypeInvalidHandle)
}

func TestInsertRejectsBadObjects(t *testing.T) {
	ts := newTestRouter(t, newTestScene(t), nil)

	bodies := []interface{}{
		map[string]interface{}{"x": 1, "y": 1, "r": 0},
		map[string]interface{}{"x": 1, "y": 1, "r": 1, "color": "red"},
		map[string]interface{}{"x": 1, "y": 1, "r": 1, "color": "#zzzzzz"},
		"not an object",
	}
	for _, b := range bodies {
		resp := doRequest(t, http.MethodPost, ts.URL+"/api/objects", b)
		requireErrorType(t, resp, http.StatusBadRequest, ErrTypeBadRequest)
	}
}

func TestEraseBroadcasts(t *testing.T) {
	s := newTestScene(t)
	spy := &eventSpy{}
	ts := newTestRouter(t, s, spy)

	area := spatial.NewRect(200, 200, 300, 300)
	before, err := s.Query(scene.DynamicQuadTree, area, -1)
	require.NoError(t, err)
	require.NotZero(t, before.Count)

	resp := doRequest(t, http.MethodPost, ts.URL+"/api/erase", rectJSON{X: 200, Y: 200, W: 300, H: 300})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body eraseResponse
	decode(t, resp, &body)
	assert.Equal(t, before.Count, body.Removed)
	assert.Len(t, body.Handles, body.Removed)
	assert.Equal(t, 300-body.Removed, body.Left)

	require.Equal(t, []string{"objects:erased"}, spy.events)
	assert.Equal(t, body.Removed, spy.data[0].(eraseResponse).Removed)

	// Nothing left to erase: no second broadcast.
	resp = doRequest(t, http.MethodPost, ts.URL+"/api/erase", rectJSON{X: 200, Y: 200, W: 300, H: 300})
	decode(t, resp, &body)
	assert.Zero(t, body.Removed)
	assert.Len(t, spy.events, 1)
}

// ============================================================================
// Diagnostics
// ============================================================================

func TestStats(t *testing.T) {
	ts := newTestRouter(t, newTestScene(t), nil)

	var body statsResponse
	decode(t, doRequest(t, http.MethodGet, ts.URL+"/api/stats", nil), &body)

	assert.Equal(t, 300, body.Entities)
	assert.Equal(t, "QUADTREE", body.Active)
	assert.Equal(t, 300, body.QuadTree.Objects)
	assert.Equal(t, 300, body.KDTree.Nodes)
	assert.Equal(t, 300, body.Dynamic.Live)
	assert.Equal(t, 100, body.Grid.TotalCells)
	assert.Equal(t, 300, body.Grid.Objects)
	assert.Equal(t, 300, body.RTree.Objects)
	assert.Len(t, body.BuildMs, len(scene.Methods()))
}

func TestPrintTree(t *testing.T) {
	ts := newTestRouter(t, newTestScene(t), nil)

	resp := doRequest(t, http.MethodGet, ts.URL+"/api/trees/quadtree/print", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain"))

	text, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(text), "(0 , 0 , 1000 , 1000)\n"))

	resp = doRequest(t, http.MethodGet, ts.URL+"/api/trees/linear/print", nil)
	requireErrorType(t, resp, http.StatusNotFound, scene.ErrTypeNoLayout)

	resp = doRequest(t, http.MethodGet, ts.URL+"/api/trees/octree/print", nil)
	requireErrorType(t, resp, http.StatusBadRequest, scene.ErrTypeUnknownMethod)
}

func TestLayoutPNG(t *testing.T) {
	ts := newTestRouter(t, newTestScene(t), nil)

	resp := doRequest(t, http.MethodGet, ts.URL+"/api/trees/grid/layout.png?size=64&x=0&y=0&w=100&h=100", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))

	img, err := png.Decode(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, 64, img.Bounds().Dx())
	assert.Equal(t, 64, img.Bounds().Dy())

	resp = doRequest(t, http.MethodGet, ts.URL+"/api/trees/grid/layout.png?size=0", nil)
	requireErrorType(t, resp, http.StatusBadRequest, ErrTypeBadRequest)

	resp = doRequest(t, http.MethodGet, ts.URL+"/api/trees/rtree/layout.png", nil)
	requireErrorType(t, resp, http.StatusNotFound, scene.ErrTypeNoLayout)
}

// ============================================================================
// Middleware
// ============================================================================

func TestRouterRateLimits(t *testing.T) {
	rl := NewIPRateLimiter(config.RateLimitConfig{RequestsPerSecond: 0.001, BurstSize: 2})
	t.Cleanup(rl.Stop)
	ts := httptest.NewServer(NewRouter(RouterConfig{
		Scene:          newTestScene(t),
		RateLimiter:    rl,
		DisableLogging: true,
	}))
	t.Cleanup(ts.Close)

	for i := 0; i < 2; i++ {
		resp := doRequest(t, http.MethodGet, ts.URL+"/api/methods", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp := doRequest(t, http.MethodGet, ts.URL+"/api/methods", nil)
	assert.Equal(t, "1", resp.Header.Get("Retry-After"))
	requireErrorType(t, resp, http.StatusTooManyRequests, "rate_limited")
	assert.Equal(t, uint64(1), rl.GetStats()["rejected"])
}

func TestNewRouterHasNoListeners(t *testing.T) {
	rl := NewIPRateLimiter(config.DefaultRateLimit())
	t.Cleanup(rl.Stop)

	router := NewRouter(RouterConfig{Scene: newTestScene(t), RateLimiter: rl, DisableLogging: true})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/methods", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/unknown", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLayoutPNGIsCachedUntilTreeChanges(t *testing.T) {
	s := newTestScene(t)
	rl := NewIPRateLimiter(config.RateLimitConfig{RequestsPerSecond: 1000, BurstSize: 1000})
	t.Cleanup(rl.Stop)
	cache := render.NewCache(8)

	ts := httptest.NewServer(NewRouter(RouterConfig{
		Scene:          s,
		RateLimiter:    rl,
		LayoutCache:    cache,
		DisableLogging: true,
	}))
	t.Cleanup(ts.Close)

	get := func() {
		resp := doRequest(t, http.MethodGet, ts.URL+"/api/trees/dynamic/layout.png?size=32", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	get()
	get()
	hits, misses := cache.Stats()
	assert.Equal(t, uint64(1), hits)
	assert.Equal(t, uint64(1), misses)

	s.Insert(scene.Entity{Pos: spatial.Vec2{X: 1, Y: 1}, R: 1})
	get()
	_, misses = cache.Stats()
	assert.Equal(t, uint64(2), misses)
	assert.Equal(t, 2, cache.Size())
}
