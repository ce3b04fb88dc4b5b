package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/carelink/internal/platform/websocket"
)

type mockRepo struct {
	mu      sync.Mutex
	items   map[string]*Notification
	seq     int
	failErr error
}

func newMockRepo() *mockRepo {
	return &mockRepo{items: make(map[string]*Notification)}
}

func (m *mockRepo) Create(_ context.Context, n *Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	m.seq++
	n.ID = fmt.Sprintf("n%d", m.seq)
	cp := *n
	m.items[n.ID] = &cp
	return nil
}

func (m *mockRepo) ListByUser(_ context.Context, userID string, limit int) ([]*Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Notification
	for _, n := range m.items {
		if n.UserID == userID {
			cp := *n
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockRepo) CountUnread(_ context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, n := range m.items {
		if n.UserID == userID && !n.IsRead {
			count++
		}
	}
	return count, nil
}

func (m *mockRepo) MarkRead(_ context.Context, id, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.items[id]
	if !ok || n.UserID != userID {
		return ErrNotFound
	}
	now := time.Now().UTC()
	n.IsRead = true
	n.ReadAt = &now
	return nil
}

func (m *mockRepo) MarkAllRead(_ context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, n := range m.items {
		if n.UserID == userID && !n.IsRead {
			n.IsRead = true
			count++
		}
	}
	return count, nil
}

type staticRoles map[string]string

func (s staticRoles) Role(_ context.Context, id string) string { return s[id] }

var errStoreDown = errors.New("store unreachable")

type fixture struct {
	repo       *mockRepo
	hub        *websocket.Hub
	dispatcher *Dispatcher
	svc        *Service
}

func newFixture(roles RoleResolver) *fixture {
	repo := newMockRepo()
	hub := websocket.NewHub(websocket.NewRegistry(), zerolog.Nop())
	pub := websocket.NewPublisher(hub, websocket.DefaultEventTable(true))
	d := NewDispatcher(repo, pub, roles, zerolog.Nop())
	return &fixture{repo: repo, hub: hub, dispatcher: d, svc: NewService(repo, d)}
}

func (f *fixture) connect(userID string, rooms ...string) *websocket.Client {
	c := websocket.NewClient(nil)
	f.hub.Register(c)
	if userID != "" {
		f.hub.Authenticate(c, userID, "")
	}
	for _, r := range rooms {
		f.hub.Join(c.ID, r)
	}
	return c
}

// drain collects every frame currently queued for c.
func drain(t *testing.T, c *websocket.Client) []websocket.Envelope {
	t.Helper()
	var out []websocket.Envelope
	for {
		select {
		case msg := <-c.Send:
			var env websocket.Envelope
			if err := json.Unmarshal(msg, &env); err != nil {
				t.Fatalf("bad frame: %v", err)
			}
			out = append(out, env)
		default:
			return out
		}
	}
}
