package transport

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

func newTestServer(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(zerolog.Nop())
	srv := NewServer(":0", "", hub, zerolog.Nop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		hub.Close()
		ts.Close()
	})
	return hub, ts
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() != n {
		if time.Now().After(deadline) {
			t.Fatalf("clients = %d, want %d", hub.Clients(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBroadcast(t *testing.T) {
	hub, ts := newTestServer(t)
	a, b := dial(t, ts), dial(t, ts)
	waitClients(t, hub, 2)

	hub.Broadcast("playhead", map[string]any{"elapsed": 1.5, "segmentId": "s1"})

	for _, conn := range []*websocket.Conn{a, b} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var ev struct {
			Type    string `json:"type"`
			Payload struct {
				Elapsed   float64 `json:"elapsed"`
				SegmentID string  `json:"segmentId"`
			} `json:"payload"`
		}
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("read: %v", err)
		}
		if ev.Type != "playhead" || ev.Payload.Elapsed != 1.5 || ev.Payload.SegmentID != "s1" {
			t.Fatalf("event = %+v", ev)
		}
	}
}

func TestCommands(t *testing.T) {
	hub, ts := newTestServer(t)
	got := make(chan Command, 4)
	hub.OnCommand(func(c Command) { got <- c })

	conn := dial(t, ts)
	waitClients(t, hub, 1)
	conn.WriteMessage(websocket.TextMessage, []byte("not json"))
	conn.WriteJSON(Command{Type: "seek", Time: 4.2})

	select {
	case c := <-got:
		if c.Type != "seek" || c.Time != 4.2 {
			t.Fatalf("command = %+v", c)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no command received")
	}
}

func TestClientDisconnect(t *testing.T) {
	hub, ts := newTestServer(t)
	conn := dial(t, ts)
	waitClients(t, hub, 1)
	conn.Close()
	waitClients(t, hub, 0)
	hub.Broadcast("ended", nil)
}

func TestHealthz(t *testing.T) {
	_, ts := newTestServer(t)
	res, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	var body map[string]any
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if res.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("healthz = %d %v", res.StatusCode, body)
	}
}

func TestServeMedia(t *testing.T) {
	_, ts := newTestServer(t)
	dir := t.TempDir()
	file := filepath.Join(dir, "clip one.mp3")
	if err := os.WriteFile(file, []byte("ID3"), 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		path string
		want int
	}{
		{"existing file", "/video" + filepath.ToSlash(file), http.StatusOK},
		{"missing file", "/video" + filepath.ToSlash(filepath.Join(dir, "nope.mp3")), http.StatusNotFound},
		{"directory", "/video" + filepath.ToSlash(dir), http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := http.Get(ts.URL + strings.ReplaceAll(tt.path, " ", "%20"))
			if err != nil {
				t.Fatal(err)
			}
			res.Body.Close()
			if res.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d", res.StatusCode, tt.want)
			}
			if tt.want == http.StatusOK && res.Header.Get("Access-Control-Allow-Origin") != "*" {
				t.Fatal("missing CORS header")
			}
		})
	}
}

func TestSlowClientDropIsLoggedOnce(t *testing.T) {
	var buf bytes.Buffer
	hub := NewHub(zerolog.New(&buf))
	slow := &client{send: make(chan Event, 1)}
	hub.clients[slow] = struct{}{}

	for i := 0; i < 60; i++ {
		hub.Broadcast("playhead", map[string]any{"elapsed": float64(i) / 60})
	}

	if slow.dropped != 59 {
		t.Fatalf("dropped = %d, want 59", slow.dropped)
	}
	if n := strings.Count(buf.String(), "dropping events"); n != 1 {
		t.Fatalf("drop warnings = %d, want 1:\n%s", n, buf.String())
	}
	if ev := <-slow.send; ev.Type != "playhead" {
		t.Fatalf("queued event = %+v", ev)
	}
}
