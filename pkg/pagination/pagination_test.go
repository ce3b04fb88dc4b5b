package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestFromContext(t *testing.T) {
	tests := []struct {
		query      string
		wantLimit  int
		wantOffset int
	}{
		{"", DefaultLimit, 0},
		{"?limit=10&offset=20", 10, 20},
		{"?limit=1000", MaxLimit, 0},
		{"?limit=-5&offset=-1", DefaultLimit, 0},
		{"?limit=abc", DefaultLimit, 0},
	}

	e := echo.New()
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/"+tt.query, nil)
		c := e.NewContext(req, httptest.NewRecorder())

		p := FromContext(c)
		if p.Limit != tt.wantLimit || p.Offset != tt.wantOffset {
			t.Errorf("%q: got limit=%d offset=%d, want %d/%d", tt.query, p.Limit, p.Offset, tt.wantLimit, tt.wantOffset)
		}
	}
}

func TestClamp(t *testing.T) {
	if Clamp(0) != DefaultLimit || Clamp(500) != MaxLimit || Clamp(7) != 7 {
		t.Fatal("unexpected clamp result")
	}
}

func TestNewResponse(t *testing.T) {
	r := NewResponse([]int{1, 2}, 5, Params{Limit: 2, Offset: 2})
	if !r.HasMore {
		t.Error("expected more results")
	}
	r = NewResponse([]int{5}, 5, Params{Limit: 2, Offset: 4})
	if r.HasMore {
		t.Error("expected last page")
	}
	if (Params{Limit: 2, Offset: 4}).NextOffset() != 6 {
		t.Error("unexpected next offset")
	}
}
