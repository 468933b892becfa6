package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tree-display/internal/config"
	"tree-display/internal/scene"
)

type wsEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func newTestServer(t *testing.T, cfg config.ServerConfig) (*Server, *httptest.Server) {
	t.Helper()

	srv := NewServer(newTestScene(t), testAppConfig(cfg))
	ctx, cancel := context.WithCancel(context.Background())
	go srv.Hub().Run(ctx)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		ts.Close()
		cancel()
		srv.Stop()
	})
	return srv, ts
}

func testAppConfig(server config.ServerConfig) config.AppConfig {
	return config.AppConfig{
		Domain:        testDomain(),
		Cursor:        config.DefaultCursor(),
		Server:        server,
		RateLimit:     config.RateLimitConfig{RequestsPerSecond: 1000, BurstSize: 1000},
		Observability: config.DefaultObservability(),
	}
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) wsEnvelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var env wsEnvelope
	require.NoError(t, json.Unmarshal(raw, &env))
	return env
}

func sendQuery(t *testing.T, conn *websocket.Conn, q map[string]interface{}) {
	t.Helper()
	msg, err := json.Marshal(map[string]interface{}{"event": "query", "data": q})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, msg))
}

func TestWebSocketHelloAndViewportQuery(t *testing.T) {
	_, ts := newTestServer(t, config.DefaultServer())
	conn := dial(t, ts)

	hello := readEvent(t, conn)
	require.Equal(t, "hello", hello.Event)

	var info struct {
		ID      string   `json:"id"`
		Area    rectJSON `json:"area"`
		Methods []string `json:"methods"`
		Active  string   `json:"active"`
	}
	require.NoError(t, json.Unmarshal(hello.Data, &info))
	assert.Len(t, info.ID, 36)
	assert.Equal(t, rectJSON{W: 1000, H: 1000}, info.Area)
	assert.Equal(t, "QUADTREE", info.Active)
	assert.Len(t, info.Methods, len(scene.Methods()))

	sendQuery(t, conn, map[string]interface{}{"method": "kdtree", "x": 0, "y": 0, "w": 1000, "h": 1000, "limit": 3})

	res := readEvent(t, conn)
	require.Equal(t, "query:result", res.Event)

	var body searchResponse
	require.NoError(t, json.Unmarshal(res.Data, &body))
	assert.Equal(t, "KDTREE", body.Method)
	assert.Equal(t, 300, body.Total)
	assert.Len(t, body.Objects, 3)
	assert.True(t, body.Truncated)

	sendQuery(t, conn, map[string]interface{}{"method": "octree", "x": 0, "y": 0, "w": 1, "h": 1})

	bad := readEvent(t, conn)
	require.Equal(t, "error", bad.Event)
	var e errorBody
	require.NoError(t, json.Unmarshal(bad.Data, &e))
	assert.Equal(t, scene.ErrTypeUnknownMethod, e.Type)
}

func TestWebSocketReceivesEraseBroadcast(t *testing.T) {
	_, ts := newTestServer(t, config.DefaultServer())
	conn := dial(t, ts)
	require.Equal(t, "hello", readEvent(t, conn).Event)

	resp := doRequest(t, http.MethodPost, ts.URL+"/api/erase", rectJSON{X: 0, Y: 0, W: 500, H: 500})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	env := readEvent(t, conn)
	require.Equal(t, "objects:erased", env.Event)

	var erased eraseResponse
	require.NoError(t, json.Unmarshal(env.Data, &erased))
	assert.NotZero(t, erased.Removed)
	assert.Equal(t, 300-erased.Removed, erased.Left)
}

func TestWebSocketQueryRateLimit(t *testing.T) {
	cfg := config.DefaultServer()
	cfg.WSQueryPerSec = 1
	_, ts := newTestServer(t, cfg)
	conn := dial(t, ts)
	require.Equal(t, "hello", readEvent(t, conn).Event)

	q := map[string]interface{}{"x": 0, "y": 0, "w": 10, "h": 10}
	sendQuery(t, conn, q)
	sendQuery(t, conn, q)

	assert.Equal(t, "query:result", readEvent(t, conn).Event)
	assert.Equal(t, "error", readEvent(t, conn).Event)
}

func TestWebSocketPerIPLimit(t *testing.T) {
	cfg := config.DefaultServer()
	cfg.MaxWSPerIP = 1
	srv, ts := newTestServer(t, cfg)

	conn := dial(t, ts)
	require.Equal(t, "hello", readEvent(t, conn).Event)
	require.Eventually(t, func() bool {
		return srv.Hub().ClientCount() == 1
	}, 5*time.Second, 10*time.Millisecond)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	// Closing the first connection frees the slot.
	conn.Close()
	require.Eventually(t, func() bool {
		return srv.Hub().ClientCount() == 0
	}, 5*time.Second, 10*time.Millisecond)

	second := dial(t, ts)
	assert.Equal(t, "hello", readEvent(t, second).Event)
}

func TestWebSocketRejectsForeignOrigin(t *testing.T) {
	_, ts := newTestServer(t, config.DefaultServer())

	header := http.Header{}
	header.Set("Origin", "https://evil.example")
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts), header)
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header.Set("Origin", "http://localhost:5173")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts), header)
	require.NoError(t, err)
	conn.Close()
}

func TestHubStopsClientsOnCancel(t *testing.T) {
	srv := NewServer(newTestScene(t), testAppConfig(config.DefaultServer()))
	t.Cleanup(srv.Stop)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		srv.Hub().Run(ctx)
		close(done)
	}()

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	conn := dial(t, ts)
	require.Equal(t, "hello", readEvent(t, conn).Event)

	cancel()
	<-done

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
	assert.Zero(t, srv.Hub().ClientCount())
}

func TestWebSocketCursorEraseBroadcasts(t *testing.T) {
	cfg := config.DefaultServer()
	cfg.WSQueryPerSec = 1000
	_, ts := newTestServer(t, cfg)
	conn := dial(t, ts)
	require.Equal(t, "hello", readEvent(t, conn).Event)

	send := func(cmd map[string]interface{}) {
		msg, err := json.Marshal(map[string]interface{}{"event": "cursor", "data": cmd})
		require.NoError(t, err)
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, msg))
	}

	type cursorState struct {
		Size float64  `json:"size"`
		Rect rectJSON `json:"rect"`
	}
	readCursor := func() cursorState {
		env := readEvent(t, conn)
		require.Equal(t, "cursor", env.Event)
		var st cursorState
		require.NoError(t, json.Unmarshal(env.Data, &st))
		return st
	}

	send(map[string]interface{}{"x": 500, "y": 500, "op": "grow"})
	assert.Equal(t, 60.0, readCursor().Size)

	for i := 0; i < 50; i++ {
		send(map[string]interface{}{"x": 500, "y": 500, "op": "grow"})
		readCursor()
	}

	send(map[string]interface{}{"x": 500, "y": 500, "op": "erase"})

	// The broadcast and the cursor reply race on the same connection.
	var erased eraseResponse
	var st cursorState
	for i := 0; i < 2; i++ {
		env := readEvent(t, conn)
		switch env.Event {
		case "objects:erased":
			require.NoError(t, json.Unmarshal(env.Data, &erased))
		case "cursor":
			require.NoError(t, json.Unmarshal(env.Data, &st))
		default:
			t.Fatalf("unexpected event %q", env.Event)
		}
	}
	assert.Equal(t, 500.0, st.Size)
	assert.Equal(t, rectJSON{X: 250, Y: 250, W: 500, H: 500}, st.Rect)
	assert.NotZero(t, erased.Removed)
	assert.Equal(t, toRectJSON(st.Rect.rect()), erased.Area)

	send(map[string]interface{}{"op": "spin"})
	assert.Equal(t, "error", readEvent(t, conn).Event)
}
