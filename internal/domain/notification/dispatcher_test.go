package notification

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/ehr/carelink/internal/platform/websocket"
)

func TestDispatcher_NotifyRedundantEmission(t *testing.T) {
	f := newFixture(nil)
	c := f.connect("u", websocket.UserRoomID("u"))

	n := f.dispatcher.Notify(context.Background(), Request{
		UserID: "u", Type: TypeSystem, Title: "Maintenance", Message: "Tonight at 2am",
	})
	if n == nil {
		t.Fatal("expected notification")
	}
	if n.Priority != PriorityMedium {
		t.Errorf("expected default priority medium, got %s", n.Priority)
	}

	frames := drain(t, c)
	if len(frames) != 2 {
		t.Fatalf("expected registry and user-room emissions, got %d", len(frames))
	}
	for _, env := range frames {
		if env.Event != "new-notification" {
			t.Fatalf("unexpected event %s", env.Event)
		}
		var got Notification
		if err := json.Unmarshal(env.Data, &got); err != nil {
			t.Fatal(err)
		}
		if got.ID != n.ID || got.Title != "Maintenance" {
			t.Fatalf("unexpected payload %+v", got)
		}
	}
}

func TestDispatcher_PharmacyRoomByResolvedRole(t *testing.T) {
	f := newFixture(staticRoles{"PH1": "pharmacy"})
	// Joined the pharmacy room without authenticating.
	listener := f.connect("", websocket.PharmacyRoomID("PH1"))

	f.dispatcher.Notify(context.Background(), Request{
		UserID: "PH1", Type: TypeChat, Data: map[string]string{"sender": "Ann", "preview": "hi"},
	})

	frames := drain(t, listener)
	if len(frames) != 1 || frames[0].Event != "new-notification" {
		t.Fatalf("expected one pharmacy-room notification, got %v", frames)
	}
}

func TestDispatcher_ExplicitRoleSkipsLookup(t *testing.T) {
	f := newFixture(staticRoles{})
	listener := f.connect("", websocket.PharmacyRoomID("PH1"))

	f.dispatcher.Notify(context.Background(), Request{
		UserID: "PH1", Role: "pharmacy", Type: TypeOrderUpdate, Data: map[string]string{"status": "ready"},
	})
	if len(drain(t, listener)) != 1 {
		t.Fatal("expected emission to the pharmacy room")
	}

	f.dispatcher.Notify(context.Background(), Request{
		UserID: "PH1", Role: "patient", Type: TypeOrderUpdate, Data: map[string]string{"status": "ready"},
	})
	if len(drain(t, listener)) != 0 {
		t.Fatal("non-pharmacy targets must not reach the pharmacy room")
	}
}

func TestDispatcher_TemplateFillsBlanks(t *testing.T) {
	f := newFixture(nil)
	n := f.dispatcher.Notify(context.Background(), Request{
		UserID: "u", Type: TypeChat, Data: map[string]string{"sender": "Dr. Rao", "preview": "See you soon"},
	})
	if n == nil {
		t.Fatal("expected notification")
	}
	if n.Title != "New message from Dr. Rao" || n.Message != "See you soon" {
		t.Fatalf("unexpected rendering %q / %q", n.Title, n.Message)
	}
}

func TestDispatcher_StoreFailureIsSwallowed(t *testing.T) {
	f := newFixture(nil)
	f.repo.failErr = errStoreDown
	c := f.connect("u", websocket.UserRoomID("u"))

	if n := f.dispatcher.Notify(context.Background(), Request{UserID: "u", Type: TypeSystem, Title: "t", Message: "m"}); n != nil {
		t.Fatal("expected nil on store failure")
	}
	if frames := drain(t, c); len(frames) != 0 {
		t.Fatalf("nothing should be emitted when persistence fails, got %d", len(frames))
	}
}

func TestDispatcher_InvalidRequest(t *testing.T) {
	f := newFixture(nil)
	tests := []Request{
		{Type: TypeSystem, Title: "t", Message: "m"},
		{UserID: "u", Type: "fax", Title: "t", Message: "m"},
		{UserID: "u", Type: TypeSystem, Title: "t", Message: "m", Priority: "urgent"},
		{UserID: "u", Type: TypeSystem},
	}
	for i, req := range tests {
		if f.dispatcher.Notify(context.Background(), req) != nil {
			t.Errorf("case %d: expected rejection", i)
		}
	}
	if len(f.repo.items) != 0 {
		t.Fatal("rejected requests must not be persisted")
	}
}

func TestTemplateEngine_Render(t *testing.T) {
	e := NewTemplateEngine()
	title, msg, err := e.Render(TypeAppointmentRescheduled, map[string]string{"date": "2024-05-01", "time": "10:00"})
	if err != nil {
		t.Fatal(err)
	}
	if title != "Appointment rescheduled" || msg != "Your appointment was moved to 2024-05-01 at 10:00." {
		t.Fatalf("unexpected %q / %q", title, msg)
	}
	if _, _, err := e.Render(TypeSystem, nil); err == nil {
		t.Fatal("system notifications have no template")
	}

	// User text that looks like a placeholder is delivered verbatim.
	for i := 0; i < 20; i++ {
		title, msg, _ := e.Render(TypeChat, map[string]string{"sender": "Pat", "preview": "hi {{sender}} {{date}}"})
		if title != "New message from Pat" || msg != "hi {{sender}} {{date}}" {
			t.Fatalf("unexpected %q / %q", title, msg)
		}
	}

	e.RegisterTemplate(Template{Type: TypeSystem, Title: "Notice", Message: "{{text}}"})
	if _, msg, _ := e.Render(TypeSystem, map[string]string{"text": "x"}); msg != "x" {
		t.Fatalf("expected registered template, got %q", msg)
	}
}
