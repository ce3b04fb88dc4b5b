package websocket

import (
	"context"
	"encoding/json"
	"sync"
)

// HandlerFunc handles one inbound event for a client.
type HandlerFunc func(ctx context.Context, client *Client, data json.RawMessage) error

// ErrorFunc reports a handler failure back to the client.
type ErrorFunc func(ctx context.Context, client *Client, event string, err error)

// LifecycleFunc observes a connection being opened or closed. userID is the
// identity the connection held when it closed, empty on connect.
type LifecycleFunc func(client *Client, userID string)

// Router dispatches inbound envelopes to registered event handlers.
type Router struct {
	mu           sync.RWMutex
	handlers     map[string]HandlerFunc
	onError      ErrorFunc
	onConnect    []LifecycleFunc
	onDisconnect []LifecycleFunc
}

// NewRouter creates a Router whose default error handler replies with an
// "error" event.
func NewRouter(hub *Hub) *Router {
	return &Router{
		handlers: make(map[string]HandlerFunc),
		onError: func(_ context.Context, client *Client, _ string, err error) {
			hub.EmitToConnection(client.ID, EventError, map[string]string{"message": err.Error()})
		},
	}
}

// On registers fn for event, replacing any previous handler.
func (r *Router) On(event string, fn HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[event] = fn
}

// OnError replaces the error reporter.
func (r *Router) OnError(fn ErrorFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onError = fn
}

// OnConnect adds a connect observer.
func (r *Router) OnConnect(fn LifecycleFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onConnect = append(r.onConnect, fn)
}

// OnDisconnect adds a disconnect observer.
func (r *Router) OnDisconnect(fn LifecycleFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onDisconnect = append(r.onDisconnect, fn)
}

// Handles reports whether a handler is registered for event.
func (r *Router) Handles(event string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[event]
	return ok
}

// Dispatch runs the handler for env. Unknown events are ignored.
func (r *Router) Dispatch(ctx context.Context, client *Client, env Envelope) {
	r.mu.RLock()
	fn, ok := r.handlers[env.Event]
	onError := r.onError
	r.mu.RUnlock()

	if !ok {
		return
	}
	if err := fn(ctx, client, env.Data); err != nil && onError != nil {
		onError(ctx, client, env.Event, err)
	}
}

func (r *Router) connected(client *Client) {
	r.mu.RLock()
	hooks := r.onConnect
	r.mu.RUnlock()
	for _, fn := range hooks {
		fn(client, "")
	}
}

func (r *Router) disconnected(client *Client, userID string) {
	r.mu.RLock()
	hooks := r.onDisconnect
	r.mu.RUnlock()
	for _, fn := range hooks {
		fn(client, userID)
	}
}
