package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := Config{
		Port:        "0",
		LogLevel:    zerolog.Disabled,
		StreamName:  "CUE_EVENTS",
		CORSOrigins: []string{"*"},
	}

	services, err := setupServices(context.Background(), cfg)
	if err != nil {
		t.Fatalf("setup services: %v", err)
	}
	t.Cleanup(services.Close)

	srv := httptest.NewServer(setupServer(cfg, services).Handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestServerRoutes(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/cue", "application/json", strings.NewReader(`{"room":"demo","cueKey":"pinch"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/cue?room=demo&since=2")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	var health map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	resp.Body.Close()
	if health["status"] != "ok" || health["rooms"] != float64(1) {
		t.Fatalf("unexpected health %v", health)
	}

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), `cuecast_cue_writes_total{cue="pinch"} 1`) {
		t.Fatalf("expected write counter in metrics output:\n%s", body)
	}
}

func TestServerCORSPreflight(t *testing.T) {
	srv := newTestServer(t)

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/cue", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Origin", "https://viewer.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("expected wildcard origin, got %q", got)
	}
}
