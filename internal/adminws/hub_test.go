package adminws

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"planetwars/broker/internal/logging"
)

func newTestHub(t *testing.T, token string) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(Options{Logger: logging.NewTestLogger(), AdminToken: token})
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestHubBroadcastsPublishedEventToConnectedDashboard(t *testing.T) {
	hub, srv := newTestHub(t, "")
	conn := dial(t, srv, "")

	// Wait for registration before publishing, otherwise the event could be
	// published before ServeHTTP finishes registering the client.
	deadline := time.Now().Add(time.Second)
	for hub.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if hub.ClientCount() != 1 {
		t.Fatalf("ClientCount = %d, want 1", hub.ClientCount())
	}

	hub.Publish(Event{Kind: "actor_spawned", ActorID: "abc"})

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	if event.Kind != "actor_spawned" || event.ActorID != "abc" {
		t.Fatalf("event = %+v, want kind=actor_spawned actor_id=abc", event)
	}
}

func TestHubReplaysRecentHistoryOnConnect(t *testing.T) {
	hub, srv := newTestHub(t, "")
	hub.Publish(Event{Kind: "link_opened", Foreign: "peer-1"})

	conn := dial(t, srv, "")
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	if event.Kind != "link_opened" {
		t.Fatalf("kind = %q, want link_opened (replayed history)", event.Kind)
	}
}

func TestHubRejectsUnauthorizedDashboard(t *testing.T) {
	_, srv := newTestHub(t, "secret")

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatalf("expected dial to fail without a token")
	}
	if resp == nil || resp.StatusCode != 401 {
		t.Fatalf("resp = %+v, want 401", resp)
	}
}

func TestHubAcceptsMatchingToken(t *testing.T) {
	_, srv := newTestHub(t, "secret")
	conn := dial(t, srv, "?token=secret")
	_ = conn.Close()
}
