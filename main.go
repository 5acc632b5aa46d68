// Command broker runs the planetwars message-routing server described by
// spec §4: a TCP listener authenticating bot clients over the signed
// handshake, a broker routing actor messages between connection controllers
// and reactors, one match reactor driving a reference Planet Wars game, and
// an HTTP surface exposing liveness/readiness/metrics/admin endpoints plus a
// websocket feed for a live operator dashboard.
package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"planetwars/broker/internal/adminhttp"
	"planetwars/broker/internal/adminws"
	"planetwars/broker/internal/broker"
	"planetwars/broker/internal/config"
	"planetwars/broker/internal/connection"
	"planetwars/broker/internal/demo"
	"planetwars/broker/internal/gamerules"
	"planetwars/broker/internal/handshake"
	"planetwars/broker/internal/handshakecrypto"
	"planetwars/broker/internal/ids"
	"planetwars/broker/internal/ingress"
	"planetwars/broker/internal/logging"
	"planetwars/broker/internal/match"
	"planetwars/broker/internal/matchlog"
	"planetwars/broker/internal/router"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logging:", err)
		os.Exit(1)
	}
	defer log.Sync()
	logging.ReplaceGlobals(log)

	if err := run(cfg, log); err != nil {
		log.Error("broker exited with error", logging.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logging.Logger) error {
	startedAt := time.Now()

	serverSigning, err := handshakecrypto.GenerateSigningKeyPair()
	if err != nil {
		return fmt.Errorf("generate server signing keypair: %w", err)
	}

	matchID := ids.New()
	p1, err := bootstrapPlayer()
	if err != nil {
		return fmt.Errorf("bootstrap player1: %w", err)
	}
	p2, err := bootstrapPlayer()
	if err != nil {
		return fmt.Errorf("bootstrap player2: %w", err)
	}
	players := []registeredPlayer{p1, p2}
	for _, p := range players {
		log.Info("bot credentials provisioned",
			logging.String("identity", p.identity.String()),
			logging.String("token_base64", base64.StdEncoding.EncodeToString(p.token)),
			logging.String("signing_private_base64", base64.StdEncoding.EncodeToString(p.signing.Private)))
	}
	identities := newStaticIdentityStore(players)

	table := router.NewTable()
	bk := broker.New(log)
	go bk.Run()
	bh := bk.Handle()
	defer bh.Close()

	gate := ingress.NewGate(ingress.Config{MaxAge: 30 * time.Second, MinInterval: 20 * time.Millisecond}, log)
	for _, p := range players {
		clientInbox := broker.NewInbox()
		ctrl := connection.New(p.identity, matchID, nil, handshakecrypto.SessionKeys{}, clientInbox, log, connection.WithGate(gate))
		table.Register(p.identity, ctrl)
		go pumpToBroker(clientInbox, bh)
		// Register the player's own identity as a broker actor too, so
		// anything a reactor addresses to this client (match.SendTo's
		// prompts/match_over) is routed back out over its real transport
		// instead of being dropped as an unknown receiver.
		bh.Spawn(outboundSpawner(p.identity, ctrl))
	}

	matchLog, _, err := matchlog.NewWriter(cfg.MatchLogDir, matchID.String(), nil)
	if err != nil {
		return fmt.Errorf("open match log: %w", err)
	}

	rules := gamerules.NewPlanetWars([]gamerules.Planet{
		{Name: "home1", ShipCount: 50, Owner: p1.identity, X: 0, Y: 0},
		{Name: "home2", ShipCount: 50, Owner: p2.identity, X: 10, Y: 10},
	}, []ids.ID{p1.identity, p2.identity}, 0)

	// welcomerID is pinned (rather than minted inside demo.NewSpawner) so the
	// match controller can address it directly with actor_joined the instant
	// each client's connection controller actually attaches over TCP (spec §8
	// scenario 1), instead of relying on reactor.OpenLink's own announcement
	// direction, which only ever flows from Welcomer toward the match.
	welcomerID := ids.New()
	bh.Spawn(match.NewSpawner(match.Config{
		ID:              matchID,
		Clients:         []ids.ID{p1.identity, p2.identity},
		Rules:           rules,
		Deadline:        cfg.StepDeadline,
		Log:             log.With(logging.String("match", matchID.String())),
		MatchLog:        matchLog,
		AnnounceJoinsTo: welcomerID,
	}))
	bh.Spawn(demo.NewSpawner(demo.Config{
		ID:      welcomerID,
		Runtime: matchID,
		Log:     log.With(logging.String("component", "welcomer")),
	}))

	listener, err := router.Listen(cfg.Address, router.Config{
		Table:         table,
		Signing:       serverSigning,
		Identities:    identities,
		Replay:        handshake.NewNonceCache(cfg.NonceWindow),
		MaxFrameBytes: cfg.MaxFrameBytes,
		Log:           log,
	})
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Address, err)
	}
	go func() {
		if err := listener.Serve(); err != nil {
			log.Info("router listener stopped", logging.Error(err))
		}
	}()
	log.Info("router listening", logging.String("addr", listener.Addr().String()))

	session, err := match.NewSession(match.WithSessionMatchID(matchID.String()))
	if err != nil {
		return fmt.Errorf("new match session: %w", err)
	}

	cleaner := matchlog.NewCleaner(cfg.MatchLogDir, matchlog.RetentionPolicy{
		MaxMatches: cfg.MatchLogMaxMatch,
		MaxAge:     cfg.MatchLogMaxAge,
	}, log)
	cleanerCtx, cancelCleaner := context.WithCancel(context.Background())
	go cleaner.Run(cleanerCtx, time.Hour)

	readiness := &readinessProvider{table: table, startedAt: startedAt}
	handlers := adminhttp.NewHandlerSet(adminhttp.Options{
		Logger:      log,
		Readiness:   readiness,
		AdminToken:  cfg.AdminToken,
		RateLimiter: adminhttp.NewSlidingWindowLimiter(cfg.AdminRateWindow, cfg.AdminRateBurst, nil),
		Match:       session,
		MatchLogStats: func() matchlog.Stats {
			return matchLog.Stats()
		},
		MatchLogStorage: func() matchlog.StorageStats {
			return cleaner.Stats()
		},
		MatchLog: adminhttp.MatchLogDumperFunc(func(ctx context.Context) (string, error) {
			if err := matchLog.Flush(); err != nil {
				return "", err
			}
			return matchLog.Directory(), nil
		}),
	})

	hub := adminws.NewHub(adminws.Options{Logger: log, AdminToken: cfg.AdminToken})

	mux := http.NewServeMux()
	handlers.Register(mux)
	mux.Handle("/admin/events", hub)

	adminServer := &http.Server{
		Addr:    cfg.AdminAddress,
		Handler: logging.HTTPTraceMiddleware(log)(mux),
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- adminServer.ListenAndServe()
	}()
	log.Info("admin http listening", logging.String("addr", cfg.AdminAddress))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			cancelCleaner()
			listener.Close()
			return fmt.Errorf("admin http server: %w", err)
		}
	}

	cancelCleaner()
	listener.Close()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	return adminServer.Shutdown(shutdownCtx)
}

// pumpToBroker forwards every message a connection controller decodes into
// the shared broker for identity-keyed routing to whichever reactor (the
// match, most often) is registered under its Receiver.
func pumpToBroker(inbox broker.Inbox, bh *broker.Handle) {
	for {
		msg, ok := inbox.Pop()
		if !ok {
			return
		}
		bh.Send(msg)
	}
}

// outboundSpawner registers identity as a broker actor backed by ctrl: any
// reactor addressing a message to this client (a match's prompt or
// match_over broadcast, a Welcomer's actor_joined or link_closed) is delivered over ctrl's real
// transport instead of being dropped as an unregistered receiver. The
// message's Kind/Sender carry no meaning on the wire once decrypted — only
// Payload crosses the transport, matching how connection.Controller decodes
// inbound frames into a bare payload in the other direction.
func outboundSpawner(identity ids.ID, ctrl *connection.Controller) broker.Spawner {
	return func(_ *broker.Handle) (ids.ID, broker.Inbox, func()) {
		inbox := broker.NewInbox()
		driver := func() {
			for {
				msg, ok := inbox.Pop()
				if !ok {
					return
				}
				ctrl.Send(msg.Payload)
			}
		}
		return identity, inbox, driver
	}
}

// registeredPlayer bundles one bootstrapped player's identity, router token,
// and signing keypair. Non-goal "identity provisioning/account management"
// means there is nowhere durable to store these across restarts, so they are
// freshly minted each run and logged for an operator to hand to a bot client.
type registeredPlayer struct {
	identity ids.ID
	token    []byte
	signing  handshakecrypto.SigningKeyPair
}

func bootstrapPlayer() (registeredPlayer, error) {
	signing, err := handshakecrypto.GenerateSigningKeyPair()
	if err != nil {
		return registeredPlayer{}, err
	}
	token := make([]byte, 32)
	if _, err := rand.Read(token); err != nil {
		return registeredPlayer{}, err
	}
	return registeredPlayer{identity: ids.New(), token: token, signing: signing}, nil
}

// staticIdentityStore resolves the fixed set of players bootstrapped at
// startup, mirroring the staticIdentityStore test stand-ins in
// handshake_test.go/router_test.go but backed by real random tokens and
// freshly generated keys instead of fixtures.
type staticIdentityStore struct {
	byToken map[string]registeredPlayer
}

func newStaticIdentityStore(players []registeredPlayer) *staticIdentityStore {
	store := &staticIdentityStore{byToken: make(map[string]registeredPlayer, len(players))}
	for _, p := range players {
		store.byToken[string(p.token)] = p
	}
	return store
}

func (s *staticIdentityStore) Lookup(token []byte) (ids.ID, ed25519.PublicKey, bool) {
	p, ok := s.byToken[string(token)]
	if !ok {
		return ids.Zero, nil, false
	}
	return p.identity, p.signing.Public, true
}

// readinessProvider adapts router.Table's registered-identity count into the
// adminhttp.ReadinessProvider surface, grounded on the teacher's own Broker
// implementing this interface directly (main.go, SnapshotClientCounts).
type readinessProvider struct {
	table     *router.Table
	startedAt time.Time
}

func (r *readinessProvider) SnapshotClientCounts() (clients, pending int) {
	count := r.table.Count()
	return count, 0
}

func (r *readinessProvider) StartupError() error { return nil }

func (r *readinessProvider) Uptime() time.Duration { return time.Since(r.startedAt) }
