package websocket

import (
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const sendBufferSize = 256

// Conn abstracts a WebSocket connection for testability.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Client represents a single WebSocket connection. Send is owned by the hub:
// it is closed exactly once, when the client is unregistered.
type Client struct {
	ID   string
	Send chan []byte

	conn    Conn
	limiter *rate.Limiter

	mu     sync.RWMutex
	userID string
	role   string
}

// NewClient allocates a connection identity. conn may be nil in tests.
func NewClient(conn Conn) *Client {
	return &Client{
		ID:   uuid.New().String(),
		Send: make(chan []byte, sendBufferSize),
		conn: conn,
	}
}

// UserID returns the authenticated user, or "" before authentication.
func (c *Client) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

// Role returns the role the connection authenticated with, if any.
func (c *Client) Role() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.role
}

// Authenticated reports whether a user id is bound to the connection.
func (c *Client) Authenticated() bool {
	return c.UserID() != ""
}

func (c *Client) setIdentity(userID, role string) {
	c.mu.Lock()
	c.userID = userID
	c.role = role
	c.mu.Unlock()
}

// SetRateLimit installs a token bucket for message sends on this connection.
func (c *Client) SetRateLimit(limit rate.Limit, burst int) {
	if limit <= 0 || burst <= 0 {
		return
	}
	c.limiter = rate.NewLimiter(limit, burst)
}

// Allow consumes one send token. Connections without a limiter always pass.
func (c *Client) Allow() bool {
	if c.limiter == nil {
		return true
	}
	return c.limiter.Allow()
}
