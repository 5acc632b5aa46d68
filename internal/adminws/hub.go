// Package adminws exposes a read-only operator event feed over WebSocket:
// connected dashboards receive the structured routing events (actor spawned,
// actor unregistered, link opened/closed, step-lock turn completed) handed to
// Hub.Publish. The broker, reactors and step-lock barrier do not call
// Publish themselves, so a Hub carries only the events its owner publishes.
// It carries none of the client-facing wire protocol; it is purely
// operational, the admin analogue of spec §6's client envelopes.
//
// Adapted from the teacher root main.go's Client struct and its
// read/write-pump goroutines, repointed at an internal event bus instead of
// world-state diffs: one hub replaces the teacher's *Broker, one client
// struct replaces the teacher's *Client, and recordSnapshot/replaySnapshots
// becomes a small fixed-size ring buffer of recent events replayed to each
// freshly connected dashboard.
package adminws

import (
	"crypto/subtle"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"planetwars/broker/internal/logging"
)

const (
	writeWait    = 10 * time.Second
	pingInterval = 30 * time.Second
	pongWait     = 2 * pingInterval

	// historySize bounds how many recent events a freshly connected
	// dashboard is replayed, mirroring the teacher's snapshotter but sized
	// for a live event tail rather than full world-state recovery.
	historySize = 64

	sendBuffer = 64
)

// Event is one structured routing occurrence published to connected
// dashboards.
type Event struct {
	Kind       string `json:"kind"`
	ActorID    string `json:"actor_id,omitempty"`
	Foreign    string `json:"foreign,omitempty"`
	Generation uint64 `json:"generation,omitempty"`
	Detail     string `json:"detail,omitempty"`
	Timestamp  int64  `json:"timestamp_ms"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	id   string
	log  *logging.Logger
}

// Hub fans out published Events to every connected admin dashboard.
type Hub struct {
	mu         sync.Mutex
	clients    map[*client]struct{}
	history    [][]byte
	log        *logging.Logger
	adminToken string
	now        func() time.Time
}

// Options configures a Hub.
type Options struct {
	Logger *logging.Logger
	// AdminToken gates the /admin/events endpoint with the same bearer-token
	// scheme internal/adminhttp uses. Empty disables the check (tests only).
	AdminToken string
}

// NewHub constructs an empty Hub ready to accept connections and publish
// events.
func NewHub(opts Options) *Hub {
	log := opts.Logger
	if log == nil {
		log = logging.L()
	}
	return &Hub{
		clients:    make(map[*client]struct{}),
		log:        log,
		adminToken: strings.TrimSpace(opts.AdminToken),
		now:        time.Now,
	}
}

// Publish broadcasts event to every connected dashboard and records it in
// the replay history for dashboards that connect afterward.
func (h *Hub) Publish(event Event) {
	event.Timestamp = h.now().UnixMilli()
	payload, err := json.Marshal(event)
	if err != nil {
		h.log.Error("adminws: failed to encode event", logging.Error(err))
		return
	}

	h.mu.Lock()
	h.history = append(h.history, payload)
	if len(h.history) > historySize {
		h.history = h.history[len(h.history)-historySize:]
	}
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	for _, c := range targets {
		select {
		case c.send <- payload:
		default:
			h.log.Warn("adminws: dropping event for slow dashboard", logging.String("client_id", c.id))
		}
	}
}

// ServeHTTP upgrades the request to a WebSocket and registers the
// connection as a dashboard, replaying recent history before streaming
// live events.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.adminToken != "" && !h.authorise(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("adminws: upgrade failed", logging.Error(err))
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer), id: r.RemoteAddr}
	c.log = h.log.With(logging.String("dashboard", c.id))

	h.mu.Lock()
	h.clients[c] = struct{}{}
	backlog := append([][]byte(nil), h.history...)
	h.mu.Unlock()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for _, payload := range backlog {
		select {
		case c.send <- payload:
		default:
		}
	}

	go h.readPump(c)
	go h.writePump(c)
}

func (h *Hub) authorise(r *http.Request) bool {
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		header := strings.TrimSpace(r.Header.Get("Authorization"))
		if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
			token = strings.TrimSpace(header[7:])
		}
	}
	if token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) == 1
}

// readPump exists only to detect the dashboard going away: this feed is
// one-directional, so any inbound frame is discarded.
func (h *Hub) readPump(c *client) {
	defer h.deregister(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				c.log.Debug("adminws: read deadline exceeded")
			} else if !websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("adminws: read loop ended", logging.Error(err))
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case payload, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				h.deregister(c)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.log.Warn("adminws: write error", logging.Error(err))
				h.deregister(c)
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeWait)); err != nil {
				h.deregister(c)
				return
			}
		}
	}
}

func (h *Hub) deregister(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		close(c.send)
	}
}

// ClientCount reports how many dashboards are currently connected.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
