package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/oremus-labs/ol-chat-relay/internal/handlers"
	"github.com/oremus-labs/ol-chat-relay/internal/hub"
	"github.com/oremus-labs/ol-chat-relay/internal/tools"
	"github.com/oremus-labs/ol-chat-relay/internal/transcript"
)

func newTestServer(token string) (*Server, *hub.Hub) {
	h := hub.New(hub.Options{})
	registry := tools.NewRegistry()
	registry.MustRegister(tools.MathTools()...)
	handler := handlers.New(h, transcript.New("system"), registry, handlers.Options{})
	return NewServer(handler, Options{APIToken: token}), h
}

func TestOperatorRoutesRequireToken(t *testing.T) {
	t.Parallel()

	srv, h := newTestServer("s3cret")
	body := `{"type":"send_message","content":"hi"}`

	w := httptest.NewRecorder()
	srv.Engine().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/messages", strings.NewReader(body)))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/messages", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer s3cret")
	w = httptest.NewRecorder()
	srv.Engine().ServeHTTP(w, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202 with token, got %d", w.Code)
	}
	if h.Pending() != 1 {
		t.Fatalf("expected one queued message, got %d", h.Pending())
	}

	req = httptest.NewRequest(http.MethodGet, "/transcript", nil)
	req.Header.Set("X-API-Key", "s3cret")
	w = httptest.NewRecorder()
	srv.Engine().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for transcript, got %d", w.Code)
	}
}

func TestOpenRoutes(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer("s3cret")
	for _, path := range []string{"/healthz", "/tools", "/", "/metrics"} {
		w := httptest.NewRecorder()
		srv.Engine().ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusOK {
			t.Fatalf("GET %s: expected 200 got %d", path, w.Code)
		}
	}
}

func TestRequestIDPropagates(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer("")
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	w := httptest.NewRecorder()
	srv.Engine().ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Fatalf("expected request id to be echoed, got %q", got)
	}

	w = httptest.NewRecorder()
	srv.Engine().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected generated request id")
	}
}

func TestMetricsUseRouteTemplates(t *testing.T) {
	srv, _ := newTestServer("")

	unmatched := httpRequestsTotal.WithLabelValues(http.MethodGet, unmatchedRoute, "none", "404")
	tools := httpRequestsTotal.WithLabelValues(http.MethodGet, "/tools", "meta", "200")
	before, beforeTools := testutil.ToFloat64(unmatched), testutil.ToFloat64(tools)

	for _, path := range []string{"/wp-login.php", "/.env", "/admin/123"} {
		w := httptest.NewRecorder()
		srv.Engine().ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	}
	w := httptest.NewRecorder()
	srv.Engine().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/tools", nil))

	if got := testutil.ToFloat64(unmatched) - before; got != 3 {
		t.Fatalf("expected 3 unmatched requests under one label, got %v", got)
	}
	if got := testutil.ToFloat64(tools) - beforeTools; got != 1 {
		t.Fatalf("expected 1 /tools request, got %v", got)
	}
}

func TestSurfaceOf(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"/ws":          "viewer",
		"/events":      "viewer",
		"/":            "viewer",
		"/messages":    "operator",
		"/transcript":  "operator",
		"/healthz":     "meta",
		"/metrics":     "meta",
		unmatchedRoute: "none",
	}
	for route, want := range cases {
		if got := surfaceOf(route); got != want {
			t.Fatalf("surfaceOf(%q) = %q, want %q", route, got, want)
		}
	}
}
