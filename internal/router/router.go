// Package router implements the TCP listener and routing table spec §4.7
// describes: it accepts sockets, runs the signed handshake over each one,
// and dispatches the authenticated transport to the connection controller
// already registered for the resolved identity.
package router

import (
	"net"
	"sync"

	"planetwars/broker/internal/connection"
	"planetwars/broker/internal/handshake"
	"planetwars/broker/internal/handshakecrypto"
	"planetwars/broker/internal/ids"
	"planetwars/broker/internal/logging"
	"planetwars/broker/internal/transport"
)

// Table is the shared routing table keyed by resolved actor identity rather
// than the raw router token the wire protocol carries: handshake.Accept
// already performs the token→identity lookup (via its IdentityStore) before
// the router ever sees the connection, so there is no reason to repeat a
// second token-keyed map. The critical section spec §4.7 calls out (a single
// lookup and clone of the sender handle) is exactly Lookup/Register/Remove
// below, each held only for the duration of a map access.
type Table struct {
	mu          sync.Mutex
	controllers map[ids.ID]*connection.Controller
}

// NewTable constructs an empty routing table.
func NewTable() *Table {
	return &Table{controllers: make(map[ids.ID]*connection.Controller)}
}

// Register binds identity to ctrl, so a future handshake resolving to
// identity is routed to it. Match controllers call this when they create a
// client slot, ahead of that client ever connecting.
func (t *Table) Register(identity ids.ID, ctrl *connection.Controller) {
	t.mu.Lock()
	t.controllers[identity] = ctrl
	t.mu.Unlock()
}

// Remove unbinds identity, e.g. once its match has ended.
func (t *Table) Remove(identity ids.ID) {
	t.mu.Lock()
	delete(t.controllers, identity)
	t.mu.Unlock()
}

// Lookup reports the controller bound to identity, if any.
func (t *Table) Lookup(identity ids.ID) (*connection.Controller, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ctrl, ok := t.controllers[identity]
	return ctrl, ok
}

// Count reports how many identities currently have a registered controller,
// for readiness/metrics reporting (spec §4.7 doesn't track attachment state
// itself, so this is a coarse "registered" count, not "attached").
func (t *Table) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.controllers)
}

// Listener accepts TCP connections, authenticates each one, and dispatches
// it to the routing table. One handler task runs per accepted socket.
type Listener struct {
	ln         net.Listener
	table      *Table
	signing    handshakecrypto.SigningKeyPair
	identities handshake.IdentityStore
	replay     *handshake.NonceCache
	maxFrame   uint32
	log        *logging.Logger

	wg sync.WaitGroup
}

// Config bundles what a Listener needs to authenticate and route sockets.
type Config struct {
	Table         *Table
	Signing       handshakecrypto.SigningKeyPair
	Identities    handshake.IdentityStore
	Replay        *handshake.NonceCache
	MaxFrameBytes uint32
	Log           *logging.Logger
}

// Listen binds addr and returns a Listener ready to Serve.
func Listen(addr string, cfg Config) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	log := cfg.Log
	if log == nil {
		log = logging.L()
	}
	return &Listener{
		ln:         ln,
		table:      cfg.Table,
		signing:    cfg.Signing,
		identities: cfg.Identities,
		replay:     cfg.Replay,
		maxFrame:   cfg.MaxFrameBytes,
		log:        log.With(logging.String("component", "router")),
	}, nil
}

// Addr reports the listener's bound address, useful when addr was ":0".
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Serve accepts sockets until the listener is closed, handling each one in
// its own goroutine. It returns once Accept starts failing (normally because
// Close was called).
func (l *Listener) Serve() error {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			l.wg.Wait()
			return err
		}
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.handle(conn)
		}()
	}
}

// Close stops accepting new connections. In-flight handlers are allowed to
// finish; it does not forcibly tear down already-authenticated connections,
// matching spec §5's cooperative-shutdown model.
func (l *Listener) Close() error {
	return l.ln.Close()
}

func (l *Listener) handle(conn net.Conn) {
	framed := transport.New(conn, l.maxFrame)

	result, err := handshake.Accept(framed, handshake.ServerConfig{
		Signing:    l.signing,
		Identities: l.identities,
		Replay:     l.replay,
		Authorize: func(identity ids.ID) bool {
			_, ok := l.table.Lookup(identity)
			return ok
		},
	})
	if err != nil {
		l.log.Info("handshake failed, closing", logging.Error(err))
		conn.Close()
		return
	}

	ctrl, ok := l.table.Lookup(result.Identity)
	if !ok {
		// Authorize already vetted this under the table's lock, but the
		// registration could have been removed between that check and here.
		l.log.Warn("no controller registered for identity after accept", logging.String("identity", result.Identity.String()))
		conn.Close()
		return
	}
	ctrl.Connect(framed, result.Keys)
}
