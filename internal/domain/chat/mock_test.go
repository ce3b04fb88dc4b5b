package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/carelink/internal/domain/notification"
	"github.com/ehr/carelink/internal/domain/pharmacy"
	"github.com/ehr/carelink/internal/platform/websocket"
)

// ---------------------------------------------------------------------------
// Chat repository
// ---------------------------------------------------------------------------

type mockRepo struct {
	mu      sync.Mutex
	items   []*Message
	failErr error
}

func (m *mockRepo) Create(_ context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	msg.ID = fmt.Sprintf("m%d", len(m.items)+1)
	cp := *msg
	cp.SenderName = ""
	m.items = append(m.items, &cp)
	return nil
}

func (m *mockRepo) ListByRoom(_ context.Context, roomID string, limit, offset int) ([]*Message, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Message
	for _, msg := range m.items {
		if msg.RoomID == roomID {
			cp := *msg
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	total := len(out)
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, total, nil
}

func (m *mockRepo) IsParticipant(_ context.Context, roomID, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.items {
		if msg.RoomID == roomID && (msg.SenderID == userID || msg.ReceiverID == userID) {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockRepo) MarkRoomRead(_ context.Context, roomID, readerID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, msg := range m.items {
		if msg.RoomID == roomID && msg.ReceiverID == readerID && !msg.IsRead {
			msg.IsRead = true
			n++
		}
	}
	return n, nil
}

func (m *mockRepo) CountUnread(_ context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, msg := range m.items {
		if msg.ReceiverID == userID && !msg.IsRead {
			n++
		}
	}
	return n, nil
}

func (m *mockRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// ---------------------------------------------------------------------------
// Pharmacy, notification and user doubles
// ---------------------------------------------------------------------------

type mockPharmacy struct {
	requests map[string]*pharmacy.MedicalRequest
	orders   map[string]*pharmacy.Order
	err      error
}

func (m *mockPharmacy) GetRequest(_ context.Context, id string) (*pharmacy.MedicalRequest, error) {
	if m.err != nil {
		return nil, m.err
	}
	r, ok := m.requests[id]
	if !ok {
		return nil, pharmacy.ErrNotFound
	}
	return r, nil
}

func (m *mockPharmacy) GetOrder(_ context.Context, id string) (*pharmacy.Order, error) {
	if m.err != nil {
		return nil, m.err
	}
	o, ok := m.orders[id]
	if !ok {
		return nil, pharmacy.ErrNotFound
	}
	return o, nil
}

type mockNotificationRepo struct {
	mu      sync.Mutex
	items   []*notification.Notification
	failErr error
}

func (m *mockNotificationRepo) Create(_ context.Context, n *notification.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	n.ID = fmt.Sprintf("n%d", len(m.items)+1)
	cp := *n
	m.items = append(m.items, &cp)
	return nil
}

func (m *mockNotificationRepo) ListByUser(context.Context, string, int) ([]*notification.Notification, error) {
	return nil, nil
}

func (m *mockNotificationRepo) CountUnread(context.Context, string) (int, error) { return 0, nil }

func (m *mockNotificationRepo) MarkRead(context.Context, string, string) error { return nil }

func (m *mockNotificationRepo) MarkAllRead(context.Context, string) (int, error) { return 0, nil }

func (m *mockNotificationRepo) forUser(userID string) []*notification.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*notification.Notification
	for _, n := range m.items {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out
}

type mockDirectory struct {
	names map[string]string
	roles map[string]string
}

func (d mockDirectory) DisplayName(_ context.Context, id string) string { return d.names[id] }
func (d mockDirectory) Role(_ context.Context, id string) string        { return d.roles[id] }

var errStoreDown = errors.New("store unreachable")

// ---------------------------------------------------------------------------
// Fixture
// ---------------------------------------------------------------------------

type fixture struct {
	repo          *mockRepo
	pharmacy      *mockPharmacy
	notifications *mockNotificationRepo
	hub           *websocket.Hub
	svc           *Service
	dir           mockDirectory
}

// newFixture wires the pipeline with the consolidated event table so each
// logical emission is a single frame.
func newFixture() *fixture {
	f := &fixture{
		repo: &mockRepo{},
		pharmacy: &mockPharmacy{
			requests: map[string]*pharmacy.MedicalRequest{
				"R1": {ID: "R1", PatientID: "P1", PharmacyID: "PH1", Status: "pending"},
			},
			orders: map[string]*pharmacy.Order{
				"O1": {ID: "O1", PatientID: "P1", PharmacyID: "PH1", MedicalRequestID: "R1"},
			},
		},
		notifications: &mockNotificationRepo{},
		hub:           websocket.NewHub(websocket.NewRegistry(), zerolog.Nop()),
		dir: mockDirectory{
			names: map[string]string{"P1": "Pat Doe", "PH1": "Corner Pharmacy", "D1": "Dr. Rao"},
			roles: map[string]string{"P1": "patient", "PH1": "pharmacy", "PH2": "pharmacy", "D1": "doctor"},
		},
	}
	pub := websocket.NewPublisher(f.hub, websocket.DefaultEventTable(false))
	dispatcher := notification.NewDispatcher(f.notifications, pub, f.dir, zerolog.Nop())
	f.svc = NewService(f.repo, f.pharmacy, pub, dispatcher, f.dir, zerolog.Nop())

	base := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	tick := 0
	f.svc.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	return f
}

// connect registers a client, optionally authenticating it the way the
// gateway does (identity plus user room).
func (f *fixture) connect(userID string, rooms ...string) *websocket.Client {
	c := websocket.NewClient(nil)
	f.hub.Register(c)
	if userID != "" {
		f.hub.Authenticate(c, userID, f.dir.roles[userID])
		f.hub.Join(c.ID, websocket.UserRoomID(userID))
	}
	for _, r := range rooms {
		f.hub.Join(c.ID, r)
	}
	return c
}

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

func events(envs []websocket.Envelope) []string {
	names := make([]string, len(envs))
	for i, e := range envs {
		names[i] = e.Event
	}
	return names
}

func countEvent(envs []websocket.Envelope, name string) int {
	n := 0
	for _, e := range envs {
		if e.Event == name {
			n++
		}
	}
	return n
}

func messageOf(t *testing.T, env websocket.Envelope) Message {
	t.Helper()
	var m Message
	if err := json.Unmarshal(env.Data, &m); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	return m
}

func hasPrefixFold(s, prefix string) bool {
	return strings.HasPrefix(strings.ToLower(s), strings.ToLower(prefix))
}
