package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func newTestServer(t *testing.T, router *Router, hub *Hub) (*httptest.Server, string) {
	t.Helper()
	e := echo.New()
	h := NewWebSocketHandler(context.Background(), hub, router, HandlerOptions{}, zerolog.Nop())
	h.RegisterRoutes(e)

	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return srv, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *gorillawebsocket.Conn {
	t.Helper()
	ws, _, err := gorillawebsocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func sendEvent(t *testing.T, ws *gorillawebsocket.Conn, event string, data interface{}) {
	t.Helper()
	raw, _ := json.Marshal(data)
	if err := ws.WriteJSON(Envelope{Event: event, Data: raw}); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readEvent(t *testing.T, ws *gorillawebsocket.Conn) Envelope {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env Envelope
	if err := ws.ReadJSON(&env); err != nil {
		t.Fatalf("read: %v", err)
	}
	return env
}

func TestWebSocketHandler_RegisterRoutes(t *testing.T) {
	hub := newTestHub()
	handler := NewWebSocketHandler(context.Background(), hub, NewRouter(hub), HandlerOptions{}, zerolog.Nop())

	e := echo.New()
	handler.RegisterRoutes(e)

	found := false
	for _, r := range e.Routes() {
		if r.Path == "/ws" && r.Method == http.MethodGet {
			found = true
			break
		}
	}
	if !found {
		t.Fatal("expected GET /ws route to be registered")
	}
}

func TestWebSocketHandler_HandleConnectRequiresWebSocket(t *testing.T) {
	hub := newTestHub()
	handler := NewWebSocketHandler(context.Background(), hub, NewRouter(hub), HandlerOptions{}, zerolog.Nop())

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := handler.HandleConnect(c)
	if err == nil && rec.Code == http.StatusSwitchingProtocols {
		t.Fatal("expected upgrade to fail for non-websocket request")
	}
	if hub.ClientCount() != 0 {
		t.Fatal("no client should be registered")
	}
}

func TestWebSocketHandler_CheckOrigin(t *testing.T) {
	hub := newTestHub()
	handler := NewWebSocketHandler(context.Background(), hub, NewRouter(hub),
		HandlerOptions{AllowedOrigins: []string{"https://app.example.com"}}, zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	if handler.checkOrigin(req) {
		t.Fatal("expected foreign origin to be rejected")
	}
	req.Header.Set("Origin", "https://app.example.com")
	if !handler.checkOrigin(req) {
		t.Fatal("expected configured origin to be accepted")
	}
}

func TestWebSocketHandler_RoundTrip(t *testing.T) {
	hub := newTestHub()
	router := NewRouter(hub)
	router.On("ping", func(_ context.Context, c *Client, data json.RawMessage) error {
		hub.EmitToConnection(c.ID, "pong", data)
		return nil
	})
	router.On("fail", func(context.Context, *Client, json.RawMessage) error {
		return errors.New("boom")
	})

	_, url := newTestServer(t, router, hub)
	ws := dial(t, url)

	sendEvent(t, ws, "ping", map[string]int{"n": 1})
	env := readEvent(t, ws)
	if env.Event != "pong" || string(env.Data) != `{"n":1}` {
		t.Fatalf("unexpected reply %s %s", env.Event, env.Data)
	}

	// Malformed and unknown frames are ignored without closing the socket.
	_ = ws.WriteMessage(gorillawebsocket.TextMessage, []byte("{not json"))
	sendEvent(t, ws, "unknown-event", nil)

	sendEvent(t, ws, "fail", nil)
	env = readEvent(t, ws)
	if env.Event != EventError {
		t.Fatalf("expected error event, got %s", env.Event)
	}
}

func TestWebSocketHandler_DisconnectUnregisters(t *testing.T) {
	hub := newTestHub()
	router := NewRouter(hub)
	router.On("auth", func(_ context.Context, c *Client, data json.RawMessage) error {
		var userID string
		_ = json.Unmarshal(data, &userID)
		hub.Authenticate(c, userID, "patient")
		hub.EmitToConnection(c.ID, "ok", nil)
		return nil
	})
	closed := make(chan string, 1)
	router.OnDisconnect(func(_ *Client, userID string) { closed <- userID })

	_, url := newTestServer(t, router, hub)
	ws := dial(t, url)

	sendEvent(t, ws, "auth", "u1")
	readEvent(t, ws)
	if !hub.Registry().IsOnline("u1") {
		t.Fatal("expected u1 online")
	}

	ws.Close()
	select {
	case userID := <-closed:
		if userID != "u1" {
			t.Fatalf("expected disconnect for u1, got %q", userID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect hook not called")
	}
	if hub.Registry().IsOnline("u1") {
		t.Fatal("expected u1 offline after disconnect")
	}
}
