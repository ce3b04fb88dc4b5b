package notification

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/ehr/carelink/internal/platform/auth"
)

func newTestHandler() (*Handler, *fixture, *echo.Echo) {
	f := newFixture(nil)
	return NewHandler(f.svc), f, echo.New()
}

func authedContext(e *echo.Echo, method, target, body, userID string, roles ...string) (echo.Context, *httptest.ResponseRecorder) {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if userID != "" {
		req = req.WithContext(auth.WithIdentity(req.Context(), userID, roles))
	}
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestHandler_ListAndUnreadCount(t *testing.T) {
	h, f, e := newTestHandler()
	f.dispatcher.Notify(context.Background(), Request{UserID: "u1", Type: TypeSystem, Title: "t", Message: "m"})

	c, rec := authedContext(e, http.MethodGet, "/api/v1/notifications", "", "u1", "patient")
	if err := h.List(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var items []Notification
	json.Unmarshal(rec.Body.Bytes(), &items)
	if len(items) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(items))
	}

	c, rec = authedContext(e, http.MethodGet, "/api/v1/notifications/unread-count", "", "u1", "patient")
	if err := h.UnreadCount(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"count":1`) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestHandler_RequiresIdentity(t *testing.T) {
	h, _, e := newTestHandler()
	c, _ := authedContext(e, http.MethodGet, "/api/v1/notifications", "", "")

	err := h.List(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}

func TestHandler_MarkRead(t *testing.T) {
	h, f, e := newTestHandler()
	n := f.dispatcher.Notify(context.Background(), Request{UserID: "u1", Type: TypeSystem, Title: "t", Message: "m"})

	c, rec := authedContext(e, http.MethodPatch, "/", "", "u1", "patient")
	c.SetParamNames("id")
	c.SetParamValues(n.ID)
	if err := h.MarkRead(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}

	c, _ = authedContext(e, http.MethodPatch, "/", "", "u1", "patient")
	c.SetParamNames("id")
	c.SetParamValues("missing")
	err := h.MarkRead(c)
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}
}

func TestHandler_MarkAllRead(t *testing.T) {
	h, f, e := newTestHandler()
	for i := 0; i < 2; i++ {
		f.dispatcher.Notify(context.Background(), Request{UserID: "u1", Type: TypeSystem, Title: "t", Message: "m"})
	}
	c, rec := authedContext(e, http.MethodPatch, "/", "", "u1", "patient")
	if err := h.MarkAllRead(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"updated":2`) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestHandler_Create(t *testing.T) {
	h, _, e := newTestHandler()

	body := `{"userId":"u2","type":"appointment_accepted","data":{"date":"2024-05-01","time":"09:30"}}`
	c, rec := authedContext(e, http.MethodPost, "/api/v1/notifications", body, "admin-1", "admin")
	if err := h.Create(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var n Notification
	json.Unmarshal(rec.Body.Bytes(), &n)
	if n.Title != "Appointment accepted" {
		t.Errorf("expected templated title, got %q", n.Title)
	}

	c, _ = authedContext(e, http.MethodPost, "/api/v1/notifications", `{"userId":"u2","type":"nope"}`, "admin-1", "admin")
	err := h.Create(c)
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}
