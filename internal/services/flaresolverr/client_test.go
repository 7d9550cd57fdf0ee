package flaresolverr

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"spool/internal/breaker"
	"spool/internal/services"
)

func solverResponse(t *testing.T, w http.ResponseWriter, status, message string) {
	t.Helper()
	payload := map[string]any{
		"status":  status,
		"message": message,
		"solution": map[string]any{
			"url":       "https://tracker.example/upload",
			"status":    200,
			"userAgent": "Mozilla/5.0 (X11; Linux x86_64)",
			"cookies": []map[string]any{
				{"name": "cf_clearance", "value": "abc123", "domain": ".tracker.example", "path": "/"},
				{"name": "session", "value": "s1", "domain": ".tracker.example", "path": "/"},
			},
		},
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		t.Fatalf("encode response: %v", err)
	}
}

func TestSessionSolvesAndCachesPerHost(t *testing.T) {
	solves := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1" || r.Method != http.MethodPost {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req["cmd"] != "request.get" {
			t.Fatalf("unexpected cmd: %v", req["cmd"])
		}
		solves++
		solverResponse(t, w, "ok", "Challenge solved!")
	}))
	defer server.Close()

	client := New(server.URL)

	session, err := client.Session(context.Background(), "https://tracker.example/upload.php")
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if session.UserAgent == "" || len(session.Cookies) != 2 {
		t.Fatalf("unexpected session: %+v", session)
	}
	if got := session.CookieHeader(); got != "cf_clearance=abc123; session=s1" {
		t.Fatalf("unexpected cookie header: %q", got)
	}

	// Same host, different path: served from cache.
	if _, err := client.Session(context.Background(), "https://tracker.example/api/torrents"); err != nil {
		t.Fatalf("cached session: %v", err)
	}
	if solves != 1 {
		t.Fatalf("expected 1 solve, got %d", solves)
	}

	// A different host needs its own clearance.
	if _, err := client.Session(context.Background(), "https://other.example/upload"); err != nil {
		t.Fatalf("second host session: %v", err)
	}
	if solves != 2 {
		t.Fatalf("expected 2 solves, got %d", solves)
	}
}

func TestSessionExpiresWithTTL(t *testing.T) {
	solves := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		solves++
		solverResponse(t, w, "ok", "Challenge solved!")
	}))
	defer server.Close()

	current := time.Now()
	client := New(server.URL,
		WithSessionTTL(time.Minute),
		WithClock(func() time.Time { return current }),
	)

	if _, err := client.Session(context.Background(), "https://tracker.example/"); err != nil {
		t.Fatalf("session: %v", err)
	}
	current = current.Add(2 * time.Minute)
	if _, err := client.Session(context.Background(), "https://tracker.example/"); err != nil {
		t.Fatalf("refreshed session: %v", err)
	}
	if solves != 2 {
		t.Fatalf("expected expired session to re-solve, got %d solves", solves)
	}
}

func TestInvalidateForcesResolve(t *testing.T) {
	solves := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		solves++
		solverResponse(t, w, "ok", "Challenge solved!")
	}))
	defer server.Close()

	client := New(server.URL)
	if _, err := client.Session(context.Background(), "https://tracker.example/"); err != nil {
		t.Fatalf("session: %v", err)
	}
	client.Invalidate("https://tracker.example/")
	if _, err := client.Session(context.Background(), "https://tracker.example/"); err != nil {
		t.Fatalf("session after invalidate: %v", err)
	}
	if solves != 2 {
		t.Fatalf("expected 2 solves, got %d", solves)
	}
}

func TestSessionReportsUnsolvedChallenge(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		solverResponse(t, w, "error", "Error solving the challenge")
	}))
	defer server.Close()

	client := New(server.URL)
	_, err := client.Session(context.Background(), "https://tracker.example/")
	if services.KindOf(err) != services.KindExternalUnavailable {
		t.Fatalf("expected external unavailable, got %v", err)
	}
}

func TestSessionFailsFastWhileCircuitOpen(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := New(server.URL, WithBreaker(breaker.New("flaresolverr", breaker.WithThreshold(2))))

	for range 2 {
		if _, err := client.Session(context.Background(), "https://tracker.example/"); err == nil {
			t.Fatal("expected solve failure")
		}
	}
	_, err := client.Session(context.Background(), "https://tracker.example/")
	if services.KindOf(err) != services.KindCircuitOpen {
		t.Fatalf("expected circuit open, got %v", err)
	}
}

func TestSessionRequiresEndpoint(t *testing.T) {
	client := New("")
	if client.Configured() {
		t.Fatal("empty endpoint should not be configured")
	}
	if _, err := client.Session(context.Background(), "https://tracker.example/"); services.KindOf(err) != services.KindConfiguration {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
