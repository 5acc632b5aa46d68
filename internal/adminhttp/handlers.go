// Package adminhttp exposes the operator-facing HTTP surface: liveness and
// readiness probes, Prometheus-style metrics, match log dump triggers, and
// runtime match capacity adjustment. None of this is part of the wire
// protocol clients speak to the router; it is purely operational.
package adminhttp

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"planetwars/broker/internal/logging"
	"planetwars/broker/internal/match"
	"planetwars/broker/internal/matchlog"
)

// ReadinessProvider exposes broker state required for readiness checks.
type ReadinessProvider interface {
	SnapshotClientCounts() (clients, pending int)
	StartupError() error
	Uptime() time.Duration
}

// StatsFunc returns cumulative broadcast and client statistics.
type StatsFunc func() (broadcasts, clients int)

// MatchLogDumper triggers a match log flush and returns the artifact location.
type MatchLogDumper interface {
	DumpMatchLog(ctx context.Context) (string, error)
}

// MatchLogDumperFunc adapts a function into a MatchLogDumper.
type MatchLogDumperFunc func(ctx context.Context) (string, error)

// DumpMatchLog implements MatchLogDumper.
func (f MatchLogDumperFunc) DumpMatchLog(ctx context.Context) (string, error) { return f(ctx) }

// RateLimiter gates how frequently sensitive operations may be invoked.
type RateLimiter interface {
	Allow() bool
}

// MatchSession exposes the minimal surface required to administrate match capacity.
type MatchSession interface {
	Snapshot() match.Snapshot
	AdjustCapacity(minPlayers, maxPlayers int) (match.Snapshot, error)
}

// Options configures the HandlerSet.
type Options struct {
	Logger          *logging.Logger
	Readiness       ReadinessProvider
	Stats           StatsFunc
	MatchLog        MatchLogDumper
	AdminToken      string
	RateLimiter     RateLimiter
	TimeSource      func() time.Time
	MatchLogStats   func() matchlog.Stats
	MatchLogStorage func() matchlog.StorageStats
	Match           MatchSession
}

// HandlerSet bundles the broker operational handlers.
type HandlerSet struct {
	logger          *logging.Logger
	readiness       ReadinessProvider
	stats           StatsFunc
	matchLog        MatchLogDumper
	adminToken      string
	rateLimiter     RateLimiter
	now             func() time.Time
	matchLogStats   func() matchlog.Stats
	matchLogStorage func() matchlog.StorageStats
	match           MatchSession
}

// NewHandlerSet constructs a HandlerSet using the provided options.
func NewHandlerSet(opts Options) *HandlerSet {
	logger := opts.Logger
	if logger == nil {
		logger = logging.L()
	}
	now := opts.TimeSource
	if now == nil {
		now = time.Now
	}
	return &HandlerSet{
		logger:          logger,
		readiness:       opts.Readiness,
		stats:           opts.Stats,
		matchLog:        opts.MatchLog,
		adminToken:      strings.TrimSpace(opts.AdminToken),
		rateLimiter:     opts.RateLimiter,
		now:             now,
		matchLogStats:   opts.MatchLogStats,
		matchLogStorage: opts.MatchLogStorage,
		match:           opts.Match,
	}
}

// Register attaches all handlers to the provided mux.
func (h *HandlerSet) Register(mux *http.ServeMux) {
	if mux == nil {
		return
	}
	mux.HandleFunc("/livez", h.LivenessHandler())
	mux.HandleFunc("/readyz", h.ReadinessHandler())
	mux.HandleFunc("/metrics", h.MetricsHandler())
	mux.HandleFunc("/matchlog/dump", h.MatchLogDumpHandler())
	if h.match != nil {
		mux.HandleFunc("/admin/match/capacity", h.MatchCapacityHandler())
	}
}

// LivenessHandler reports that the HTTP server is reachable.
func (h *HandlerSet) LivenessHandler() http.HandlerFunc {
	type response struct {
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, response{
			Status:    "alive",
			Timestamp: h.now().UTC().Format(time.RFC3339Nano),
		})
	}
}

// ReadinessHandler reports broker readiness, including client counts and startup status.
func (h *HandlerSet) ReadinessHandler() http.HandlerFunc {
	type response struct {
		Status         string  `json:"status"`
		Message        string  `json:"message,omitempty"`
		UptimeSeconds  float64 `json:"uptime_seconds"`
		Clients        int     `json:"clients"`
		PendingClients int     `json:"pending_clients"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		resp := response{Status: "ok"}
		if h.readiness != nil {
			clients, pending := h.readiness.SnapshotClientCounts()
			resp.Clients = clients
			resp.PendingClients = pending
			resp.UptimeSeconds = h.readiness.Uptime().Seconds()
			if err := h.readiness.StartupError(); err != nil {
				status = http.StatusServiceUnavailable
				resp.Status = "error"
				resp.Message = err.Error()
			}
		}
		writeJSON(w, status, resp)
	}
}

// MetricsHandler emits Prometheus compatible text metrics.
func (h *HandlerSet) MetricsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		broadcasts, clients := h.metricsStats()
		pending, uptime := h.pendingAndUptime()

		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		fmt.Fprintf(w, "# HELP broker_uptime_seconds Broker uptime in seconds.\n")
		fmt.Fprintf(w, "# TYPE broker_uptime_seconds gauge\n")
		fmt.Fprintf(w, "broker_uptime_seconds %.0f\n", uptime)

		fmt.Fprintf(w, "# HELP broker_clients Currently attached clients.\n")
		fmt.Fprintf(w, "# TYPE broker_clients gauge\n")
		fmt.Fprintf(w, "broker_clients %d\n", clients)

		fmt.Fprintf(w, "# HELP broker_pending_clients Clients mid-handshake.\n")
		fmt.Fprintf(w, "# TYPE broker_pending_clients gauge\n")
		fmt.Fprintf(w, "broker_pending_clients %d\n", pending)

		fmt.Fprintf(w, "# HELP broker_broadcasts_total Total broadcast payloads delivered.\n")
		fmt.Fprintf(w, "# TYPE broker_broadcasts_total counter\n")
		fmt.Fprintf(w, "broker_broadcasts_total %d\n", broadcasts)

		if h.matchLogStats != nil {
			stats := h.matchLogStats()
			fmt.Fprintf(w, "# HELP broker_matchlog_buffer_turns Buffered turn records awaiting flush.\n")
			fmt.Fprintf(w, "# TYPE broker_matchlog_buffer_turns gauge\n")
			fmt.Fprintf(w, "broker_matchlog_buffer_turns %d\n", stats.BufferedTurns)
			fmt.Fprintf(w, "# HELP broker_matchlog_buffer_bytes Buffered turn payload size in bytes.\n")
			fmt.Fprintf(w, "# TYPE broker_matchlog_buffer_bytes gauge\n")
			fmt.Fprintf(w, "broker_matchlog_buffer_bytes %d\n", stats.BufferedBytes)
			fmt.Fprintf(w, "# HELP broker_matchlog_dumps_total Match logs flushed to disk.\n")
			fmt.Fprintf(w, "# TYPE broker_matchlog_dumps_total counter\n")
			fmt.Fprintf(w, "broker_matchlog_dumps_total %d\n", stats.Dumps)
		}
		if h.matchLogStorage != nil {
			storage := h.matchLogStorage()
			//1.- Surface retained artefact counts so operators can inspect cleanup effectiveness.
			fmt.Fprintf(w, "# HELP broker_matchlog_storage_matches Match log artefacts currently retained.\n")
			fmt.Fprintf(w, "# TYPE broker_matchlog_storage_matches gauge\n")
			fmt.Fprintf(w, "broker_matchlog_storage_matches %d\n", storage.Matches)
			fmt.Fprintf(w, "# HELP broker_matchlog_storage_bytes Total on-disk size of retained match logs in bytes.\n")
			fmt.Fprintf(w, "# TYPE broker_matchlog_storage_bytes gauge\n")
			fmt.Fprintf(w, "broker_matchlog_storage_bytes %d\n", storage.Bytes)
			if !storage.LastSweep.IsZero() {
				//2.- Publish the last sweep time so dashboards can detect stalled cleanup loops.
				fmt.Fprintf(w, "# HELP broker_matchlog_storage_last_sweep_timestamp_seconds Unix timestamp of the last retention sweep.\n")
				fmt.Fprintf(w, "# TYPE broker_matchlog_storage_last_sweep_timestamp_seconds gauge\n")
				fmt.Fprintf(w, "broker_matchlog_storage_last_sweep_timestamp_seconds %d\n", storage.LastSweep.Unix())
			}
		}
	}
}

// MatchLogDumpHandler authorises and triggers a match log flush.
func (h *HandlerSet) MatchLogDumpHandler() http.HandlerFunc {
	type response struct {
		Status   string `json:"status"`
		Location string `json:"location,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		reqLogger := h.logger.With(
			logging.String("handler", "matchlog_dump"),
			logging.String("remote_addr", r.RemoteAddr),
		)
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if h.adminToken == "" {
			reqLogger.Warn("matchlog dump denied: admin auth disabled")
			http.Error(w, "admin authentication not configured", http.StatusForbidden)
			return
		}
		if !h.authorise(r) {
			reqLogger.Warn("matchlog dump denied: unauthorized request")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if h.rateLimiter != nil && !h.rateLimiter.Allow() {
			reqLogger.Warn("matchlog dump denied: rate limit exceeded")
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		if h.matchLog == nil {
			reqLogger.Warn("matchlog dump denied: no dumper configured")
			http.Error(w, "match log dumping is unavailable", http.StatusServiceUnavailable)
			return
		}
		location, err := h.matchLog.DumpMatchLog(r.Context())
		if err != nil {
			reqLogger.Error("matchlog dump trigger failed", logging.Error(err))
			http.Error(w, "failed to trigger match log dump", http.StatusInternalServerError)
			return
		}
		reqLogger.Info("matchlog dump triggered")
		writeJSON(w, http.StatusAccepted, response{Status: "accepted", Location: location})
	}
}

// MatchCapacityHandler authorises and applies runtime match capacity adjustments.
func (h *HandlerSet) MatchCapacityHandler() http.HandlerFunc {
	type request struct {
		MinPlayers *int `json:"min_players"`
		MaxPlayers *int `json:"max_players"`
	}
	type response struct {
		Status        string         `json:"status"`
		MatchID       string         `json:"match_id"`
		Capacity      match.Capacity `json:"capacity"`
		ActivePlayers []string       `json:"active_players"`
		Message       string         `json:"message,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		logger := h.logger.With(
			logging.String("handler", "match_capacity"),
			logging.String("remote_addr", r.RemoteAddr),
		)
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if h.match == nil {
			http.Error(w, "match management unavailable", http.StatusServiceUnavailable)
			return
		}
		if h.adminToken == "" {
			logger.Warn("capacity adjustment denied: admin auth disabled")
			http.Error(w, "admin authentication not configured", http.StatusForbidden)
			return
		}
		if !h.authorise(r) {
			logger.Warn("capacity adjustment denied: unauthorized request")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Warn("capacity adjustment denied: invalid payload", logging.Error(err))
			http.Error(w, "invalid request payload", http.StatusBadRequest)
			return
		}
		current := h.match.Snapshot()
		minPlayers := current.Capacity.MinPlayers
		maxPlayers := current.Capacity.MaxPlayers
		//1.- Apply the request overrides while defaulting unspecified fields to the current snapshot.
		if req.MinPlayers != nil {
			minPlayers = *req.MinPlayers
		}
		if req.MaxPlayers != nil {
			maxPlayers = *req.MaxPlayers
		}
		updated, err := h.match.AdjustCapacity(minPlayers, maxPlayers)
		if err != nil {
			logger.Warn("capacity adjustment denied: invalid configuration", logging.Error(err))
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		logger.Info("match capacity adjusted", logging.Int("min_players", updated.Capacity.MinPlayers), logging.Int("max_players", updated.Capacity.MaxPlayers))
		writeJSON(w, http.StatusOK, response{Status: "ok", MatchID: updated.MatchID, Capacity: updated.Capacity, ActivePlayers: updated.ActivePlayers})
	}
}

func (h *HandlerSet) metricsStats() (broadcasts, clients int) {
	if h.stats != nil {
		return h.stats()
	}
	if h.readiness != nil {
		clients, _ = h.readiness.SnapshotClientCounts()
	}
	return
}

func (h *HandlerSet) pendingAndUptime() (pending int, uptime float64) {
	if h.readiness == nil {
		return 0, 0
	}
	_, pending = h.readiness.SnapshotClientCounts()
	return pending, h.readiness.Uptime().Seconds()
}

func (h *HandlerSet) authorise(r *http.Request) bool {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	var token string
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		token = strings.TrimSpace(header[7:])
	} else if header != "" {
		token = header
	}
	if token == "" {
		token = strings.TrimSpace(r.Header.Get("X-Admin-Token"))
	}
	if token == "" {
		token = strings.TrimSpace(r.URL.Query().Get("token"))
	}
	if token == "" {
		return false
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) == 1 {
		return true
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}
