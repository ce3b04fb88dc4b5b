package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// HandlerOptions tunes the WebSocket endpoint.
type HandlerOptions struct {
	// AllowedOrigins restricts the Origin header; empty or "*" allows all.
	AllowedOrigins []string
	// SendRate and SendBurst configure each connection's send limiter.
	SendRate  rate.Limit
	SendBurst int
}

// WebSocketHandler handles HTTP-to-WebSocket upgrades and runs the read and
// write pumps of each connection.
type WebSocketHandler struct {
	hub      *Hub
	router   *Router
	opts     HandlerOptions
	upgrader gorillawebsocket.Upgrader
	baseCtx  context.Context
	logger   zerolog.Logger
}

// NewWebSocketHandler creates a handler bound to hub and router. ctx is the
// server lifetime; event handlers receive contexts derived from it.
func NewWebSocketHandler(ctx context.Context, hub *Hub, router *Router, opts HandlerOptions, logger zerolog.Logger) *WebSocketHandler {
	wsh := &WebSocketHandler{
		hub:     hub,
		router:  router,
		opts:    opts,
		baseCtx: ctx,
		logger:  logger.With().Str("component", "ws-handler").Logger(),
	}
	wsh.upgrader = gorillawebsocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     wsh.checkOrigin,
	}
	return wsh
}

// RegisterRoutes registers the WebSocket endpoint on the provided Echo instance.
func (wsh *WebSocketHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/ws", wsh.HandleConnect)
}

func (wsh *WebSocketHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(wsh.opts.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range wsh.opts.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// HandleConnect upgrades an HTTP connection to WebSocket, registers the
// client with the hub, and starts read/write pumps.
func (wsh *WebSocketHandler) HandleConnect(c echo.Context) error {
	ws, err := wsh.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	client := NewClient(&gorillaConnAdapter{ws})
	client.SetRateLimit(wsh.opts.SendRate, wsh.opts.SendBurst)

	wsh.hub.Register(client)
	wsh.router.connected(client)
	wsh.logger.Debug().Str("conn_id", client.ID).Str("remote", c.RealIP()).Msg("connection opened")

	go wsh.writePump(client, ws)
	go wsh.readPump(client, ws)

	return nil
}

// readPump reads envelopes from the connection and dispatches them in order.
func (wsh *WebSocketHandler) readPump(client *Client, ws *gorillawebsocket.Conn) {
	ctx, cancel := context.WithCancel(wsh.baseCtx)
	defer func() {
		cancel()
		userID := wsh.hub.Unregister(client)
		ws.Close()
		wsh.router.disconnected(client, userID)
		wsh.logger.Debug().Str("conn_id", client.ID).Str("user_id", userID).Msg("connection closed")
	}()

	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			if gorillawebsocket.IsUnexpectedCloseError(err, gorillawebsocket.CloseGoingAway, gorillawebsocket.CloseNormalClosure) {
				wsh.logger.Debug().Err(err).Str("conn_id", client.ID).Msg("unexpected close")
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(message, &env); err != nil || env.Event == "" {
			continue // Ignore malformed messages.
		}

		wsh.router.Dispatch(ctx, client, env)
	}
}

// writePump writes messages from the Send channel to the WebSocket connection
// and keeps it alive with pings.
func (wsh *WebSocketHandler) writePump(client *Client, ws *gorillawebsocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = ws.WriteMessage(gorillawebsocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(gorillawebsocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// gorillaConnAdapter wraps a gorilla/websocket.Conn to satisfy the Conn interface.
type gorillaConnAdapter struct {
	conn *gorillawebsocket.Conn
}

func (a *gorillaConnAdapter) ReadMessage() (int, []byte, error) {
	return a.conn.ReadMessage()
}

func (a *gorillaConnAdapter) WriteMessage(messageType int, data []byte) error {
	return a.conn.WriteMessage(messageType, data)
}

func (a *gorillaConnAdapter) Close() error {
	return a.conn.Close()
}
