package services_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"slices"
	"testing"
	"time"

	"github.com/MegaGrindStone/streamchat/internal/handlers"
	"github.com/MegaGrindStone/streamchat/internal/models"
	"github.com/MegaGrindStone/streamchat/internal/services"
	"github.com/tmaxmax/go-sse"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// collect reads events until the first terminal one.
func collect(t *testing.T, ch handlers.Channel) []models.Event {
	t.Helper()

	var events []models.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
			if ev.Kind != models.EventPartial {
				return events
			}
		case <-timeout:
			t.Fatalf("timed out waiting for a terminal event, got %v", events)
		}
	}
}

func partials(events []models.Event) []string {
	var texts []string
	for _, ev := range events {
		if ev.Kind == models.EventPartial {
			texts = append(texts, ev.Data)
		}
	}
	return texts
}

func lastKind(events []models.Event) models.EventKind {
	if len(events) == 0 {
		return models.EventKind(-1)
	}
	return events[len(events)-1].Kind
}

func writeEvents(w http.ResponseWriter, chunks ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	for _, c := range chunks {
		fmt.Fprint(w, c)
		w.(http.Flusher).Flush()
	}
}

func TestNewSSE(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		wantErr bool
	}{
		{name: "Valid", baseURL: "http://localhost:8080"},
		{name: "Trailing slash", baseURL: "https://chat.example.com/"},
		{name: "Missing scheme", baseURL: "localhost:8080/api", wantErr: true},
		{name: "Empty", baseURL: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := services.NewSSE(tt.baseURL, nil, 0, discardLogger())
			if (err != nil) != tt.wantErr {
				t.Errorf("NewSSE() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSSEStreamURL(t *testing.T) {
	s, err := services.NewSSE("http://localhost:8080/", nil, 0, discardLogger())
	if err != nil {
		t.Fatal(err)
	}

	history := []models.Message{
		{Role: models.RoleUser, Content: "hi & bye?"},
		{Role: models.RoleAssistant, Content: "Hello!\n"},
		{Role: models.RoleUser, Content: "100% sure"},
	}

	raw, err := s.StreamURL("42", history)
	if err != nil {
		t.Fatalf("StreamURL() error = %v", err)
	}

	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("StreamURL() returned an invalid url %q: %v", raw, err)
	}
	if u.Path != "/chat/stream" {
		t.Errorf("path = %q, want %q", u.Path, "/chat/stream")
	}
	if got := u.Query().Get("conversation_id"); got != "42" {
		t.Errorf("conversation_id = %q, want %q", got, "42")
	}

	var got []models.Message
	if err := json.Unmarshal([]byte(u.Query().Get("conv")), &got); err != nil {
		t.Fatalf("conv is not a JSON history: %v", err)
	}
	if !slices.Equal(got, history) {
		t.Errorf("conv = %v, want %v", got, history)
	}
}

func TestEncodeHistoryEmpty(t *testing.T) {
	got, err := services.EncodeHistory(nil)
	if err != nil {
		t.Fatal(err)
	}
	if got != "[]" {
		t.Errorf("EncodeHistory(nil) = %q, want %q", got, "[]")
	}
}

func TestSSEOpen(t *testing.T) {
	history := []models.Message{{Role: models.RoleUser, Content: "hi"}}

	queries := make(chan url.Values, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/stream" {
			http.NotFound(w, r)
			return
		}
		queries <- r.URL.Query()

		writeEvents(w,
			"data: Hel\n\n",
			": ping\n\n",
			"data: lo!\n\n",
			"event: done\ndata:\n\n",
		)
		<-r.Context().Done()
	}))
	defer srv.Close()

	s, err := services.NewSSE(srv.URL, srv.Client(), 0, discardLogger())
	if err != nil {
		t.Fatal(err)
	}

	ch, err := s.Open(t.Context(), "7", history)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	events := collect(t, ch)
	if err := ch.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := ch.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	if got, want := partials(events), []string{"Hel", "lo!"}; !slices.Equal(got, want) {
		t.Errorf("partials = %q, want %q", got, want)
	}
	if lastKind(events) != models.EventDone {
		t.Errorf("last event = %v, want done", lastKind(events))
	}
	query := <-queries
	if got := query.Get("conversation_id"); got != "7" {
		t.Errorf("server got conversation_id %q, want %q", got, "7")
	}
	var gotHistory []models.Message
	if err := json.Unmarshal([]byte(query.Get("conv")), &gotHistory); err != nil {
		t.Fatalf("server got an invalid conv: %v", err)
	}
	if !slices.Equal(gotHistory, history) {
		t.Errorf("server got history %v, want %v", gotHistory, history)
	}

	// The events channel is closed once the channel is.
	for range ch.Events() {
	}
}

func TestSSEOpenFraming(t *testing.T) {
	tests := []struct {
		name         string
		chunks       []string
		wantPartials []string
	}{
		{
			name: "Frames without data are skipped",
			chunks: []string{
				"id: 5\n\n",
				"retry: 1000\n\n",
				"data: Hi\n\n",
				"event: done\ndata:\n\n",
			},
			wantPartials: []string{"Hi"},
		},
		{
			name: "Data lines are joined with newlines",
			chunks: []string{
				"data: Here:\ndata: ```go\ndata: fmt.Println()\ndata: ```\n\n",
				"data: a\ndata:\ndata: b\n\n",
				"event: done\ndata:\n\n",
			},
			wantPartials: []string{"Here:\n```go\nfmt.Println()\n```", "a\n\nb"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeEvents(w, tt.chunks...)
				<-r.Context().Done()
			}))
			defer srv.Close()

			s, err := services.NewSSE(srv.URL, srv.Client(), 0, discardLogger())
			if err != nil {
				t.Fatal(err)
			}

			ch, err := s.Open(t.Context(), "1", nil)
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			defer ch.Close()

			events := collect(t, ch)
			if got := partials(events); !slices.Equal(got, tt.wantPartials) {
				t.Errorf("partials = %q, want %q", got, tt.wantPartials)
			}
			if lastKind(events) != models.EventDone {
				t.Errorf("last event = %v, want done", lastKind(events))
			}
		})
	}
}

func TestSSEOpenFailures(t *testing.T) {
	tests := []struct {
		name         string
		handler      http.HandlerFunc
		wantPartials []string
	}{
		{
			name: "Connection lost before done",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				writeEvents(w, "data: He\n\n")
			},
			wantPartials: []string{"He"},
		},
		{
			name: "Server reports an error and closes",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				writeEvents(w, "data: [Error: model unavailable]\n\n")
			},
			wantPartials: []string{"[Error: model unavailable]"},
		},
		{
			name: "Not an event stream",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				fmt.Fprint(w, `{"error":"nope"}`)
			},
		},
		{
			name: "Server error",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "internal error", http.StatusInternalServerError)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			s, err := services.NewSSE(srv.URL, srv.Client(), 0, discardLogger())
			if err != nil {
				t.Fatal(err)
			}

			ch, err := s.Open(t.Context(), "1", nil)
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			defer ch.Close()

			events := collect(t, ch)
			if got := partials(events); !slices.Equal(got, tt.wantPartials) {
				t.Errorf("partials = %q, want %q", got, tt.wantPartials)
			}
			if lastKind(events) != models.EventError {
				t.Fatalf("last event = %v, want error", lastKind(events))
			}

			var connErr *sse.ConnectionError
			if !errors.As(events[len(events)-1].Err, &connErr) {
				t.Errorf("error = %v, want a connection error", events[len(events)-1].Err)
			}
		})
	}
}

func TestSSECloseStopsStream(t *testing.T) {
	started := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEvents(w, "data: first\n\n")
		close(started)
		<-r.Context().Done()
	}))
	defer srv.Close()

	s, err := services.NewSSE(srv.URL, srv.Client(), 0, discardLogger())
	if err != nil {
		t.Fatal(err)
	}

	ch, err := s.Open(t.Context(), "1", nil)
	if err != nil {
		t.Fatal(err)
	}
	<-started

	if err := ch.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	// Only the fragment sent before Close may be delivered; no terminal event follows.
	for ev := range ch.Events() {
		if ev.Kind != models.EventPartial {
			t.Errorf("got %v event after Close", ev.Kind)
		}
	}
}
