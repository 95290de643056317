package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSanitizePath(t *testing.T) {
	cases := map[string]string{
		"":                              "/",
		"/api/v1/queue":                 "/api/v1/queue",
		"/api/v1/sessions/abc/messages": "/api/v1/sessions/...",
		"/api/v1/../v2/queue/":          "/api/v2/queue",
		"api/v1":                        "/api/v1",
	}
	for in, want := range cases {
		if got := sanitizePath(in); got != want {
			t.Fatalf("sanitizePath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRouteLabelUsesMuxPattern(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/sessions/{sessionId}/messages", func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc("/api/v1/queue", func(w http.ResponseWriter, r *http.Request) {})

	cases := map[string]string{
		"/api/v1/sessions/s-123/messages": "/api/v1/sessions/{sessionId}/messages",
		"/api/v1/queue":                   "/api/v1/queue",
		"/api/v1/sessions/s-1/unknown/x":  "/api/v1/sessions/...",
	}
	for target, want := range cases {
		r := httptest.NewRequest(http.MethodGet, target, nil)
		mux.ServeHTTP(httptest.NewRecorder(), r)
		if got := routeLabel(r); got != want {
			t.Fatalf("routeLabel(%q) = %q, want %q", target, got, want)
		}
	}
}
