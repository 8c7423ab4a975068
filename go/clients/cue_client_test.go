package clients

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mcdev12/cuecast/go/internal/cue"
	"github.com/mcdev12/cuecast/go/internal/models"
)

func newCueServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	cue.NewHandler(cue.NewApp(cue.NewStore(nil))).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestCueClientRoundTrip(t *testing.T) {
	srv := newCueServer(t)
	client := NewCueClient(srv.URL, time.Second)
	ctx := context.Background()

	rec, err := client.Poll(ctx, "demo", 0)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if rec == nil || rec.Seq != 1 || rec.CueKey != models.CueKeyStop {
		t.Fatalf("expected seq 1/stop, got %+v", rec)
	}

	sent, err := client.Send(ctx, "demo", models.CueKeyChance)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if sent.Seq != 2 || sent.CueKey != models.CueKeyChance {
		t.Fatalf("expected seq 2/chance, got %+v", sent)
	}

	rec, err = client.Poll(ctx, "demo", 1)
	if err != nil || rec == nil || rec.Seq != 2 {
		t.Fatalf("expected seq 2, got %+v, %v", rec, err)
	}

	rec, err = client.Poll(ctx, "demo", 2)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if rec != nil {
		t.Fatalf("expected no change, got %+v", rec)
	}
}

func TestCueClientSendRejected(t *testing.T) {
	srv := newCueServer(t)
	client := NewCueClient(srv.URL, time.Second)

	_, err := client.Send(context.Background(), "demo", "banana")
	if !errors.Is(err, ErrTransportUnavailable) {
		t.Fatalf("expected ErrTransportUnavailable, got %v", err)
	}
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 status error, got %v", err)
	}
}

func TestCueClientServerDown(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := NewCueClient(url, time.Second)
	if _, err := client.Poll(context.Background(), "demo", 0); !errors.Is(err, ErrTransportUnavailable) {
		t.Fatalf("expected ErrTransportUnavailable, got %v", err)
	}
}

func TestCueClientPollTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	client := NewCueClient(srv.URL, 50*time.Millisecond)
	start := time.Now()
	_, err := client.Poll(context.Background(), "demo", 0)
	if !errors.Is(err, ErrTransportUnavailable) {
		t.Fatalf("expected ErrTransportUnavailable, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("poll was not bounded by its timeout: %v", elapsed)
	}
}

func TestCueClientMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode("not a record")
	}))
	t.Cleanup(srv.Close)

	client := NewCueClient(srv.URL, time.Second)
	if _, err := client.Poll(context.Background(), "demo", 0); !errors.Is(err, ErrTransportUnavailable) {
		t.Fatalf("expected ErrTransportUnavailable, got %v", err)
	}
}
