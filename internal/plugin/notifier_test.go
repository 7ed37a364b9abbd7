package plugin

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNotifier_SessionCompleted(t *testing.T) {
	received := make(chan SessionCompletedParams, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req JSONRPCRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Method != "session.completed" {
			t.Errorf("method = %q", req.Method)
		}
		raw, _ := json.Marshal(req.Params)
		var params SessionCompletedParams
		json.Unmarshal(raw, &params)
		received <- params
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	registry := NewRegistry()
	registry.Register(&Plugin{Name: "tally", Endpoint: srv.URL, Collections: []string{"steps"}})

	n := NewNotifier(registry, NewRPCClient(0, time.Millisecond, 5*time.Second), slog.New(slog.NewTextHandler(io.Discard, nil)))
	n.SessionCompleted(SessionCompletedParams{
		SessionID:   "export-1",
		State:       "completed",
		Collections: []string{"steps", "sleep"},
		Boundaries:  6,
	})

	select {
	case params := <-received:
		if params.SessionID != "export-1" {
			t.Errorf("session_id = %q", params.SessionID)
		}
		if params.Boundaries != 6 {
			t.Errorf("boundaries = %d", params.Boundaries)
		}
		if params.FinishedAt.IsZero() {
			t.Error("finished_at not stamped")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("notification never delivered")
	}
}

func TestNotifier_SkipsUnsubscribedPlugins(t *testing.T) {
	called := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called <- struct{}{}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	registry := NewRegistry()
	registry.Register(&Plugin{Name: "other", Endpoint: srv.URL, Collections: []string{"heart_rate"}})

	n := NewNotifier(registry, NewRPCClient(0, time.Millisecond, 5*time.Second), slog.New(slog.NewTextHandler(io.Discard, nil)))
	n.SessionCompleted(SessionCompletedParams{
		SessionID:   "export-1",
		State:       "completed",
		Collections: []string{"steps"},
	})

	select {
	case <-called:
		t.Fatal("unsubscribed plugin was notified")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestNotifier_DeduplicatesAcrossCollections(t *testing.T) {
	calls := make(chan struct{}, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls <- struct{}{}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	registry := NewRegistry()
	registry.Register(&Plugin{Name: "wide", Endpoint: srv.URL, Collections: []string{"steps", "sleep"}})

	n := NewNotifier(registry, NewRPCClient(0, time.Millisecond, 5*time.Second), slog.New(slog.NewTextHandler(io.Discard, nil)))
	n.SessionCompleted(SessionCompletedParams{
		SessionID:   "export-1",
		State:       "completed",
		Collections: []string{"steps", "sleep"},
	})

	select {
	case <-calls:
	case <-time.After(5 * time.Second):
		t.Fatal("notification never delivered")
	}
	select {
	case <-calls:
		t.Fatal("plugin notified more than once")
	case <-time.After(100 * time.Millisecond):
	}
}
