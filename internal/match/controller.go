// Package match implements the match controller spec §4.9 describes: it
// drives one match's step-lock against its clients' connection links and
// hands opaque per-turn responses to a gamerules.Stepper, emitting the
// resulting per-client prompts back out over the same links. The control
// flow is built on top of package reactor, so one match is exactly one
// reactor: each client is a link (Foreign = the client's actor identity,
// the same identity internal/connection binds a transport to), and the
// step-lock's deadline timer is reflected in as an ordinary internal
// message rather than requiring the reactor's run loop to select on
// anything beyond its own inbox.
package match

import (
	"encoding/json"
	"time"

	"planetwars/broker/internal/broker"
	"planetwars/broker/internal/gamerules"
	"planetwars/broker/internal/ids"
	"planetwars/broker/internal/logging"
	"planetwars/broker/internal/matchlog"
	"planetwars/broker/internal/reactor"
	"planetwars/broker/internal/steplock"
	"planetwars/broker/internal/wire"
)

const (
	// KindPrompt carries one turn's serialized game-state view to a client.
	KindPrompt = "prompt"
	// KindMatchOver carries the winner set once the match concludes.
	KindMatchOver = "match_over"

	kindDeadline  = "steplock_deadline"
	kindConcluded = "match_concluded"
)

// Config configures one match instance.
type Config struct {
	// ID pins the match reactor's identity; zero (the default) mints a
	// fresh one, matching reactor.Params.ID's own convention.
	ID ids.ID
	// Clients lists the actor identities expected to participate, matching
	// one-to-one with the connection controllers routed to them.
	Clients []ids.ID
	// Rules is the opaque game-rules object driving Step calls.
	Rules gamerules.Stepper
	// Deadline bounds how long a turn waits for stragglers (config.DefaultStepDeadline).
	Deadline time.Duration
	Log      *logging.Logger
	// MatchLog persists the turn-by-turn record (spec §6); nil disables
	// logging entirely.
	MatchLog *matchlog.Writer
	// GameRulesName identifies the ruleset in the match log header; defaults
	// to "planetwars" when empty.
	GameRulesName string
	// AnnounceJoinsTo, if set, receives an actor_joined for each client the
	// instant its connection controller actually attaches over TCP (spec §8
	// scenario 1's Welcomer happy path) — zero disables the announcement.
	AnnounceJoinsTo ids.ID
}

// sender is satisfied by both *reactor.Handle and *reactor.LinkHandle,
// letting runTurns drive the match from either an internal handler (the
// deadline tick) or a link's external handler (a client's data/disconnect)
// without duplicating the turn loop per call site.
type sender interface {
	SendTo(foreign ids.ID, kind string, payload []byte)
	SendInternal(kind string, payload []byte)
}

// NewSpawner builds a broker.Spawner driving one match controller reactor
// for cfg. Call it once per match; the returned Spawner is single-use.
func NewSpawner(cfg Config) broker.Spawner {
	log := cfg.Log
	if log == nil {
		log = logging.L()
	}
	barrier := steplock.New(cfg.Deadline)
	stop := make(chan struct{})

	external := reactor.LinkHandlers{
		wire.KindData: func(h *reactor.LinkHandle, msg wire.Message) error {
			barrier.AttachCommand(h.Foreign(), msg.Payload)
			if cfg.MatchLog != nil {
				if err := cfg.MatchLog.AppendCommand(barrier.Generation(), msg.Payload); err != nil {
					log.Warn("match log append command failed", logging.Error(err))
				}
			}
			runTurns(h, barrier, cfg.Rules, cfg.MatchLog, log)
			return nil
		},
		wire.KindDisconnected: func(h *reactor.LinkHandle, msg wire.Message) error {
			barrier.Disconnect(h.Foreign())
			runTurns(h, barrier, cfg.Rules, cfg.MatchLog, log)
			return nil
		},
		wire.KindConnected: func(h *reactor.LinkHandle, msg wire.Message) error {
			if cfg.AnnounceJoinsTo.IsZero() {
				return nil
			}
			payload, err := wire.ActorJoined{ID: h.Foreign()}.MarshalBinary()
			if err != nil {
				return err
			}
			h.SendTo(cfg.AnnounceJoinsTo, wire.KindActorJoined, payload)
			return nil
		},
	}

	internal := reactor.Handlers{
		wire.KindInitialize: func(h *reactor.Handle, msg wire.Message) error {
			if cfg.MatchLog != nil {
				name := cfg.GameRulesName
				if name == "" {
					name = "planetwars"
				}
				cfg.MatchLog.SetHeaderMetadata(name)
			}
			for _, client := range cfg.Clients {
				barrier.Connect(client)
				// SuppressJoin: clients aren't reactors and never expect
				// actor_joined; the link exists purely to route data/
				// disconnected/prompt/match_over between match and client.
				h.OpenLink(reactor.LinkParams{Foreign: client, External: external, SuppressJoin: true})
			}
			go watchDeadline(h, barrier, stop)
			return nil
		},
		kindDeadline: func(h *reactor.Handle, msg wire.Message) error {
			barrier.ExpireStragglers()
			runTurns(h, barrier, cfg.Rules, cfg.MatchLog, log)
			return nil
		},
		kindConcluded: func(h *reactor.Handle, msg wire.Message) error {
			close(stop)
			if cfg.MatchLog != nil {
				if err := cfg.MatchLog.Close(); err != nil {
					log.Warn("match log close failed", logging.Error(err))
				}
			}
			h.Stop()
			return nil
		},
	}

	return reactor.NewSpawner(reactor.Params{ID: cfg.ID, Internal: internal})
}

func watchDeadline(h *reactor.Handle, barrier *steplock.Barrier, stop <-chan struct{}) {
	deadlineC := barrier.Deadline()
	for {
		select {
		case <-deadlineC:
			h.SendInternal(kindDeadline, nil)
		case <-stop:
			return
		}
	}
}

// runTurns drains as many ready turns as the step-lock currently allows.
// Multiple client submissions arriving in the same handler turn (spec §4.9:
// "loops do_step until either the step-lock requires more input or the
// game reports a winner set") can make more than one turn ready at once.
func runTurns(send sender, barrier *steplock.Barrier, rules gamerules.Stepper, matchLog *matchlog.Writer, log *logging.Logger) {
	for barrier.IsReady() {
		responses, generation := barrier.DoStep()
		result := rules.Step(responses)
		log.Debug("match turn completed", logging.Int64("generation", int64(generation)))
		appendTurnLog(matchLog, generation, result, log)

		if result.Done {
			payload := encodeWinners(result.Winners)
			for _, client := range barrier.Expected() {
				send.SendTo(client, KindMatchOver, payload)
			}
			send.SendInternal(kindConcluded, nil)
			return
		}
		for client, prompt := range result.Prompts {
			send.SendTo(client, KindPrompt, prompt)
		}
	}
}

// turnRecord is the per-turn summary persisted to the match log: enough to
// replay prompts and the eventual winner set without re-running GameRules.
type turnRecord struct {
	Prompts map[string]json.RawMessage `json:"prompts,omitempty"`
	Winners []string                   `json:"winners,omitempty"`
	Done    bool                       `json:"done"`
}

func appendTurnLog(matchLog *matchlog.Writer, generation uint64, result gamerules.Result, log *logging.Logger) {
	if matchLog == nil {
		return
	}
	record := turnRecord{Done: result.Done}
	if len(result.Prompts) > 0 {
		record.Prompts = make(map[string]json.RawMessage, len(result.Prompts))
		for client, prompt := range result.Prompts {
			record.Prompts[client.String()] = json.RawMessage(prompt)
		}
	}
	for _, w := range result.Winners {
		record.Winners = append(record.Winners, w.String())
	}
	payload, err := json.Marshal(record)
	if err != nil {
		log.Warn("match log encode turn failed", logging.Error(err))
		return
	}
	kind := KindPrompt
	if result.Done {
		kind = KindMatchOver
	}
	if err := matchLog.AppendTurn(generation, kind, payload); err != nil {
		log.Warn("match log append turn failed", logging.Error(err))
	}
}

func encodeWinners(winners []ids.ID) []byte {
	out := make([]byte, 0, len(winners)*16)
	for _, w := range winners {
		out = append(out, w.Bytes()...)
	}
	return out
}
