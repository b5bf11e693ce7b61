package octoprint

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func TestCommandPostsPayloadWithAPIKey(t *testing.T) {
	var gotPath, gotKey string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("X-Api-Key")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`["a.jpg","b.jpg"]`))
	}))
	defer srv.Close()

	client := New(srv.URL, "secret", time.Second)
	var out []string
	err := client.Command(context.Background(), "bedready", "take_snapshot", map[string]any{"name": "x.jpg"}, &out)
	if err != nil {
		t.Fatalf("Command: %v", err)
	}
	if gotPath != "/api/plugin/bedready" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotKey != "secret" {
		t.Fatalf("unexpected api key %q", gotKey)
	}
	if gotBody["command"] != "take_snapshot" || gotBody["name"] != "x.jpg" {
		t.Fatalf("unexpected body %#v", gotBody)
	}
	if len(out) != 2 || out[1] != "b.jpg" {
		t.Fatalf("unexpected decoded response %#v", out)
	}
}

func TestCommandEmptyBodyLeavesOutUntouched(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	out := []string{"keep"}
	if err := New(srv.URL, "", time.Second).Command(context.Background(), "bedready", "delete_snapshot", nil, &out); err != nil {
		t.Fatalf("Command: %v", err)
	}
	if len(out) != 1 || out[0] != "keep" {
		t.Fatalf("out modified: %#v", out)
	}
}

func TestCommandErrorCarriesServerMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"Path is not a file"}`))
	}))
	defer srv.Close()

	err := New(srv.URL, "", time.Second).Command(context.Background(), "bedready", "delete_snapshot", nil, nil)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusBadRequest {
		t.Fatalf("unexpected status %d", apiErr.Status)
	}
	if Message(err) != "Path is not a file" {
		t.Fatalf("unexpected message %q", Message(err))
	}
}

func TestMessageFallsBackToErrorText(t *testing.T) {
	if got := Message(errors.New("connection refused")); got != "connection refused" {
		t.Fatalf("unexpected message %q", got)
	}
	if got := Message(nil); got != "" {
		t.Fatalf("expected empty message for nil, got %q", got)
	}
}

func TestLoginReturnsSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/login" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"name":"pi","session":"abc"}`))
	}))
	defer srv.Close()

	session, err := New(srv.URL, "k", time.Second).Login(context.Background())
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if session.Name != "pi" || session.Session != "abc" {
		t.Fatalf("unexpected session %#v", session)
	}
}

func TestImageStreamsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/plugin/bedready/images/comparison.jpg" || r.URL.RawQuery != "20240101120000" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("jpeg-bytes"))
	}))
	defer srv.Close()

	body, contentType, err := New(srv.URL, "", time.Second).Image(context.Background(), "bedready", "comparison.jpg?20240101120000")
	if err != nil {
		t.Fatalf("Image: %v", err)
	}
	defer body.Close()
	data, _ := io.ReadAll(body)
	if string(data) != "jpeg-bytes" || contentType != "image/jpeg" {
		t.Fatalf("unexpected image %q (%s)", data, contentType)
	}
}

func TestImageRejectsPathsOutsideImages(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
	}))
	defer srv.Close()

	client := New(srv.URL, "SECRET", time.Second)
	for _, name := range []string{"../../api/settings", "..%2Fapi", "a/b.jpg", `a\b.jpg`} {
		if _, _, err := client.Image(context.Background(), "bedready", name); !errors.Is(err, ErrInvalidImageName) {
			t.Fatalf("Image(%q): expected ErrInvalidImageName, got %v", name, err)
		}
	}
	if hits != 0 {
		t.Fatalf("rejected names reached the server %d times", hits)
	}
	if !ValidImageName("reference_2024-03-05T14:07:09.123Z.jpg?v=1") {
		t.Fatal("timestamped snapshot names should be valid")
	}
}

func TestWebsocketURL(t *testing.T) {
	cases := map[string]string{
		"http://octopi.local":         "ws://octopi.local/sockjs/websocket",
		"https://printer.example/op/": "wss://printer.example/op/sockjs/websocket",
	}
	for base, want := range cases {
		got, err := New(base, "", 0).WebsocketURL()
		if err != nil {
			t.Fatalf("WebsocketURL(%q): %v", base, err)
		}
		if got != want {
			t.Fatalf("WebsocketURL(%q) = %q, want %q", base, got, want)
		}
	}
}

func TestPollStatusReportsStates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/connection":
			_, _ = w.Write([]byte(`{"current":{"state":"Operational","port":"/dev/ttyACM0"}}`))
		case "/api/job":
			_, _ = w.Write([]byte(`{"job":{},"state":"Paused"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	var once sync.Once
	var got Status
	New(srv.URL, "", time.Second).PollStatus(ctx, time.Hour, func(s Status) {
		once.Do(func() {
			got = s
			cancel()
		})
	})
	if got.Connection != "operational" || got.Job != "paused" {
		t.Fatalf("unexpected status %#v", got)
	}
}
