package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/mbn-address/internal/infrastructure/config"
	"github.com/nerrad567/mbn-address/internal/infrastructure/logging"
	"github.com/nerrad567/mbn-address/internal/node"
)

var testTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeNodes returns canned nodes and records the last query.
type fakeNodes struct {
	nodes []node.Node
	err   error
	last  node.Query
}

func (f *fakeNodes) Query(_ context.Context, q node.Query) ([]node.Node, error) {
	f.last = q
	return f.nodes, f.err
}

type fakeCheck struct{ err error }

func (c fakeCheck) HealthCheck(context.Context) error { return c.err }

type fakeStats struct{}

func (fakeStats) IsConnected() bool   { return true }
func (fakeStats) Dropped() uint64     { return 7 }
func (fakeStats) ActiveSessions() int { return 2 }
func (fakeStats) Stats() sql.DBStats  { return sql.DBStats{OpenConnections: 1, InUse: 1} }

func testServer(t *testing.T, deps Deps) *Server {
	t.Helper()

	deps.Config = config.APIConfig{
		Host:     "127.0.0.1",
		Port:     0,
		Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
	}
	deps.WS = config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}
	deps.Logger = logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
	deps.Version = "test"
	if deps.Nodes == nil {
		deps.Nodes = &fakeNodes{}
	}

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.hub.Run(ctx)

	return srv
}

func get(t *testing.T, srv *Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)
	return w
}

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Error("New() without logger should fail")
	}
	if _, err := New(Deps{Logger: logging.Default()}); err == nil {
		t.Error("New() without node querier should fail")
	}
}

func TestHealth(t *testing.T) {
	srv := testServer(t, Deps{Checks: map[string]HealthChecker{"database": fakeCheck{}}})

	w := get(t, srv, "/api/v1/health")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var resp HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "ok" || resp.Version != "test" {
		t.Errorf("response = %+v", resp)
	}
	if resp.Components["database"] != "ok" {
		t.Errorf("database component = %q, want ok", resp.Components["database"])
	}
}

func TestHealth_Degraded(t *testing.T) {
	srv := testServer(t, Deps{Checks: map[string]HealthChecker{
		"database": fakeCheck{},
		"mqtt":     fakeCheck{err: errors.New("mqtt: not connected")},
	}})

	w := get(t, srv, "/api/v1/health")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}

	var resp HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "degraded" {
		t.Errorf("status = %q, want degraded", resp.Status)
	}
	if resp.Components["mqtt"] != "mqtt: not connected" {
		t.Errorf("mqtt component = %q", resp.Components["mqtt"])
	}
}

func TestRequestID(t *testing.T) {
	srv := testServer(t, Deps{})

	w := get(t, srv, "/api/v1/health")
	if id := w.Header().Get("X-Request-ID"); len(id) != 36 {
		t.Errorf("generated X-Request-ID = %q, want a UUID", id)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-id-1")
	w = httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)
	if id := w.Header().Get("X-Request-ID"); id != "client-id-1" {
		t.Errorf("X-Request-ID = %q, want client-id-1", id)
	}
}

func TestNotFound(t *testing.T) {
	srv := testServer(t, Deps{})
	if w := get(t, srv, "/api/v1/nonexistent"); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestListNodes(t *testing.T) {
	nodes := &fakeNodes{nodes: []node.Node{{
		Name:      "Desk A",
		Identity:  node.Identity{Manufacturer: 0x0001, Product: 0x000C, Unit: 0x0001},
		Address:   0x0001ABCD,
		Active:    true,
		FirstSeen: testTime,
		LastSeen:  testTime,
	}}}
	srv := testServer(t, Deps{Nodes: nodes})

	w := get(t, srv, "/api/v1/nodes?active=true&limit=10&offset=5")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp struct {
		Nodes []map[string]any `json:"nodes"`
		Count int              `json:"count"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 1 || len(resp.Nodes) != 1 {
		t.Fatalf("count = %d, nodes = %d", resp.Count, len(resp.Nodes))
	}
	got := resp.Nodes[0]
	if got["address"] != "0001ABCD" || got["identity"] != "0001:000C:0001" {
		t.Errorf("node = %v", got)
	}
	if got["first_seen"] != "2026-03-01T12:00:00Z" {
		t.Errorf("first_seen = %v", got["first_seen"])
	}

	q := nodes.last
	if q.Filter.Active == nil || !*q.Filter.Active {
		t.Error("active filter not applied")
	}
	if q.Limit != 10 || q.Offset != 5 {
		t.Errorf("limit/offset = %d/%d, want 10/5", q.Limit, q.Offset)
	}
}

func TestListNodes_Defaults(t *testing.T) {
	nodes := &fakeNodes{}
	srv := testServer(t, Deps{Nodes: nodes})

	w := get(t, srv, "/api/v1/nodes")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"nodes":[]`) {
		t.Errorf("body = %s, want empty nodes array", w.Body.String())
	}
	if nodes.last.Limit != defaultPageSize {
		t.Errorf("limit = %d, want %d", nodes.last.Limit, defaultPageSize)
	}
}

func TestListNodes_BadParams(t *testing.T) {
	srv := testServer(t, Deps{})

	for _, target := range []string{
		"/api/v1/nodes?active=maybe",
		"/api/v1/nodes?limit=0",
		"/api/v1/nodes?limit=101",
		"/api/v1/nodes?offset=-1",
	} {
		if w := get(t, srv, target); w.Code != http.StatusBadRequest {
			t.Errorf("%s status = %d, want %d", target, w.Code, http.StatusBadRequest)
		}
	}
}

func TestListNodes_QueryError(t *testing.T) {
	srv := testServer(t, Deps{Nodes: &fakeNodes{err: errors.New("disk I/O error")}})
	if w := get(t, srv, "/api/v1/nodes"); w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}

func TestGetNode(t *testing.T) {
	nodes := &fakeNodes{nodes: []node.Node{{Address: 0x0001ABCD, Name: "Desk A"}}}
	srv := testServer(t, Deps{Nodes: nodes})

	w := get(t, srv, "/api/v1/nodes/0001ABCD")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if nodes.last.Filter.Address == nil || *nodes.last.Filter.Address != 0x0001ABCD {
		t.Error("address filter not applied")
	}

	if w := get(t, srv, "/api/v1/nodes/ABCD"); w.Code != http.StatusBadRequest {
		t.Errorf("short address status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	nodes.nodes = nil
	if w := get(t, srv, "/api/v1/nodes/0001FFFF"); w.Code != http.StatusNotFound {
		t.Errorf("unknown address status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestMetrics(t *testing.T) {
	stats := fakeStats{}
	srv := testServer(t, Deps{MQTT: stats, Bus: stats, Sessions: stats, DB: stats})

	w := get(t, srv, "/api/v1/metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var m SystemMetrics
	if err := json.NewDecoder(w.Body).Decode(&m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !m.MQTT.Connected {
		t.Error("mqtt should be connected")
	}
	if m.Bus.DroppedEvents != 7 {
		t.Errorf("dropped = %d, want 7", m.Bus.DroppedEvents)
	}
	if m.Admin.ActiveSessions != 2 {
		t.Errorf("sessions = %d, want 2", m.Admin.ActiveSessions)
	}
	if m.Database.OpenConnections != 1 {
		t.Errorf("open connections = %d, want 1", m.Database.OpenConnections)
	}
	if m.Runtime.Goroutines == 0 {
		t.Error("goroutines should be non-zero")
	}
}

func TestWebSocket_Released(t *testing.T) {
	srv := testServer(t, Deps{})
	ts := httptest.NewServer(srv.buildRouter())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	ws, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v (resp: %v)", err, resp)
	}
	defer ws.Close()

	if err := ws.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-1",
		Payload: WSSubscribePayload{Channels: []string{ChannelNodeReleased}},
	}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}

	ws.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck // Read reports failure
	var msg WSMessage
	if err := ws.ReadJSON(&msg); err != nil {
		t.Fatalf("read subscribe response: %v", err)
	}
	if msg.Type != WSTypeResponse || msg.ID != "sub-1" {
		t.Fatalf("subscribe response = %+v", msg)
	}

	srv.Hub().Released(0x0001ABCD)

	var event struct {
		Type      string          `json:"type"`
		EventType string          `json:"event_type"`
		Payload   ReleasedPayload `json:"payload"`
	}
	if err := ws.ReadJSON(&event); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if event.Type != WSTypeEvent || event.EventType != ChannelNodeReleased {
		t.Errorf("event = %+v", event)
	}
	if event.Payload.Address != 0x0001ABCD {
		t.Errorf("released address = %s, want 0001ABCD", event.Payload.Address)
	}
}

func TestWebSocket_PingAndUnknown(t *testing.T) {
	srv := testServer(t, Deps{})
	ts := httptest.NewServer(srv.buildRouter())
	defer ts.Close()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/api/v1/ws", nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	defer ws.Close()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck // Read reports failure

	if err := ws.WriteJSON(WSMessage{Type: WSTypePing, ID: "p1"}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	var msg WSMessage
	if err := ws.ReadJSON(&msg); err != nil {
		t.Fatalf("read pong: %v", err)
	}
	if msg.Type != WSTypePong || msg.ID != "p1" {
		t.Errorf("pong = %+v", msg)
	}

	if err := ws.WriteJSON(WSMessage{Type: "bogus", ID: "b1"}); err != nil {
		t.Fatalf("write bogus: %v", err)
	}
	if err := ws.ReadJSON(&msg); err != nil {
		t.Fatalf("read error: %v", err)
	}
	if msg.Type != WSTypeError {
		t.Errorf("type = %s, want error", msg.Type)
	}
}

func TestServer_StartClose(t *testing.T) {
	srv := testServer(t, Deps{})

	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start should fail")
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	resp, err := http.Get("http://" + srv.Addr().String() + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close() //nolint:errcheck // Test cleanup
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	if err := srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error: %v", err)
	}
	if err := srv.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
}
