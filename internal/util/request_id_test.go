package util

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestWithRequestID(t *testing.T) {
	tests := []struct {
		name     string
		method   string
		target   string
		incoming string
		want     string // empty means a generated uuid
	}{
		{name: "client id kept", method: http.MethodGet, target: "/api/plants", incoming: "web-7f3a", want: "web-7f3a"},
		{name: "surrounding space trimmed", method: http.MethodPost, target: "/api/plants/p1/water", incoming: "  mobile-42 ", want: "mobile-42"},
		{name: "missing header", method: http.MethodPut, target: "/api/plants/p1/image"},
		{name: "tab inside id", method: http.MethodDelete, target: "/api/plants/p1", incoming: "plant\tdelete"},
		{name: "non ascii id", method: http.MethodGet, target: "/api/users/me", incoming: "gießkanne"},
		{name: "oversized id", method: http.MethodGet, target: "/api/live?path=users/u1", incoming: strings.Repeat("w", maxRequestIDLength+1)},
		{name: "longest accepted id", method: http.MethodGet, target: "/api/plants", incoming: strings.Repeat("w", maxRequestIDLength), want: strings.Repeat("w", maxRequestIDLength)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			handler := WithRequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = RequestIDFromRequest(r)
				w.WriteHeader(http.StatusNoContent)
			}))
			req := httptest.NewRequest(tt.method, tt.target, nil)
			if tt.incoming != "" {
				req.Header.Set("X-Request-Id", tt.incoming)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			header := rec.Header().Get("X-Request-Id")
			if header != seen {
				t.Fatalf("response header %q differs from context id %q", header, seen)
			}
			if tt.want != "" {
				if seen != tt.want {
					t.Fatalf("request id = %q, want %q", seen, tt.want)
				}
				return
			}
			if _, err := uuid.Parse(seen); err != nil {
				t.Fatalf("expected generated uuid, got %q", seen)
			}
		})
	}
}

func TestWithRequestIDGeneratesDistinctIDs(t *testing.T) {
	var ids []string
	handler := WithRequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		ids = append(ids, RequestIDFromRequest(r))
	}))
	for i := 0; i < 2; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/plants", nil))
	}
	if ids[0] == ids[1] {
		t.Fatalf("expected distinct ids per request, got %q twice", ids[0])
	}
}

func TestRequestIDOutsideRequest(t *testing.T) {
	if got := RequestIDFromContext(context.Background()); got != "" {
		t.Fatalf("background context id = %q", got)
	}
	if got := RequestIDFromRequest(nil); got != "" {
		t.Fatalf("nil request id = %q", got)
	}
}
