package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func TestParseLimit(t *testing.T) {
	cases := map[string]int64{
		"":      1 << 20,
		"512":   512,
		"64K":   64 << 10,
		"64kb":  64 << 10,
		"2M":    2 << 20,
		"1G":    1 << 30,
		"bogus": 1 << 20,
		"-5":    1 << 20,
	}
	for in, want := range cases {
		if got := parseLimit(in); got != want {
			t.Errorf("parseLimit(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestBodyLimit_RejectsByContentLength(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/messages", strings.NewReader(strings.Repeat("x", 100)))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	called := false
	err := BodyLimit("10")(func(c echo.Context) error {
		called = true
		return nil
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called || rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 without calling handler, got %d", rec.Code)
	}
}

func TestBodyLimit_EnforcedWhileReading(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("x", 100)))
	req.ContentLength = -1
	c := e.NewContext(req, httptest.NewRecorder())

	err := BodyLimit("10")(func(c echo.Context) error {
		_, err := io.ReadAll(c.Request().Body)
		return err
	})(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 error, got %v", err)
	}
}

func TestBodyLimit_AllowsSmallBody(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"message":"hi"}`))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := BodyLimit("1K")(func(c echo.Context) error {
		b, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return err
		}
		return c.String(http.StatusOK, string(b))
	})(c)
	if err != nil || rec.Body.String() != `{"message":"hi"}` {
		t.Fatalf("unexpected result %v %q", err, rec.Body.String())
	}
}

func TestRequestTimeout_ReturnsGatewayTimeout(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/chat/unread-count", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	release := make(chan struct{})
	defer close(release)
	err := RequestTimeout(20 * time.Millisecond)(func(c echo.Context) error {
		<-release
		return nil
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %d", rec.Code)
	}
}

func TestRequestTimeout_SkipsSocketPath(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	c := e.NewContext(req, httptest.NewRecorder())

	err := RequestTimeout(time.Millisecond)(func(c echo.Context) error {
		if _, ok := c.Request().Context().Deadline(); ok {
			t.Error("socket requests must not carry a deadline")
		}
		return nil
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
