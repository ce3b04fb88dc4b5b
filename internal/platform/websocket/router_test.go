package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func TestRouter_DispatchesRegisteredEvent(t *testing.T) {
	hub := newTestHub()
	c := registerClient(hub)
	r := NewRouter(hub)

	var got string
	r.On("echo", func(_ context.Context, _ *Client, data json.RawMessage) error {
		return json.Unmarshal(data, &got)
	})
	if !r.Handles("echo") || r.Handles("other") {
		t.Fatal("unexpected Handles result")
	}

	r.Dispatch(context.Background(), c, Envelope{Event: "echo", Data: json.RawMessage(`"hi"`)})
	if got != "hi" {
		t.Fatalf("expected hi, got %q", got)
	}
	r.Dispatch(context.Background(), c, Envelope{Event: "other"})
	expectNoFrame(t, c)
}

func TestRouter_DefaultErrorEmitsErrorEvent(t *testing.T) {
	hub := newTestHub()
	c := registerClient(hub)
	r := NewRouter(hub)
	r.On("fail", func(context.Context, *Client, json.RawMessage) error {
		return errors.New("Unauthorized: nope")
	})

	r.Dispatch(context.Background(), c, Envelope{Event: "fail"})
	env := recvEnvelope(t, c)
	if env.Event != EventError {
		t.Fatalf("expected %s, got %s", EventError, env.Event)
	}
	var payload map[string]string
	json.Unmarshal(env.Data, &payload)
	if payload["message"] != "Unauthorized: nope" {
		t.Fatalf("unexpected payload %v", payload)
	}
}

func TestRouter_CustomErrorAndLifecycle(t *testing.T) {
	hub := newTestHub()
	c := registerClient(hub)
	r := NewRouter(hub)

	var failed string
	r.OnError(func(_ context.Context, _ *Client, event string, _ error) { failed = event })
	r.On("fail", func(context.Context, *Client, json.RawMessage) error { return errors.New("x") })
	r.Dispatch(context.Background(), c, Envelope{Event: "fail"})
	if failed != "fail" {
		t.Fatalf("expected custom error hook, got %q", failed)
	}
	expectNoFrame(t, c)

	var connected, closedFor string
	r.OnConnect(func(cl *Client, _ string) { connected = cl.ID })
	r.OnDisconnect(func(_ *Client, userID string) { closedFor = userID })
	r.connected(c)
	r.disconnected(c, "u1")
	if connected != c.ID || closedFor != "u1" {
		t.Fatalf("lifecycle hooks not called: %q %q", connected, closedFor)
	}
}

func TestClient_RateLimit(t *testing.T) {
	c := NewClient(nil)
	if !c.Allow() {
		t.Fatal("unlimited client must always pass")
	}

	c.SetRateLimit(rate.Every(time.Hour), 2)
	if !c.Allow() || !c.Allow() {
		t.Fatal("expected burst to pass")
	}
	if c.Allow() {
		t.Fatal("expected third send to be throttled")
	}

	d := NewClient(nil)
	d.SetRateLimit(0, 0)
	if !d.Allow() {
		t.Fatal("zero limit disables throttling")
	}
}
