// Package demo implements the reference "Welcomer" reactor from
// gameserver/src/bin/server.rs: a reactor that links to a well-known
// runtime actor, greets each newly-joined participant it's told about, and
// closes the link once that participant sends a greeting back. It exists
// to exercise the reactor/link/broker machinery end-to-end with something
// simpler than a full match, matching spec §8 scenario 1's happy path.
package demo

import (
	"planetwars/broker/internal/broker"
	"planetwars/broker/internal/ids"
	"planetwars/broker/internal/logging"
	"planetwars/broker/internal/reactor"
	"planetwars/broker/internal/wire"
)

// Config configures a Welcomer instance.
type Config struct {
	// ID pins the Welcomer's own identity; zero mints a fresh one.
	ID ids.ID
	// Runtime is the identity Welcomer opens its first link to, expecting
	// actor_joined announcements for newly attached participants.
	Runtime ids.ID
	Log     *logging.Logger
}

// NewSpawner builds a broker.Spawner driving one Welcomer reactor.
func NewSpawner(cfg Config) broker.Spawner {
	log := cfg.Log
	if log == nil {
		log = logging.L()
	}

	greeter := reactor.LinkHandlers{
		wire.KindGreeting: func(h *reactor.LinkHandle, msg wire.Message) error {
			var greeting wire.Greeting
			if err := greeting.UnmarshalBinary(msg.Payload); err != nil {
				return err
			}
			log.Info("welcomer received greeting",
				logging.String("from", h.Foreign().String()), logging.String("message", greeting.Message))
			h.CloseLink()
			return nil
		},
	}

	welcome := func(h *reactor.Handle, joined ids.ID) {
		log.Info("welcoming newly joined actor", logging.String("id", joined.String()))
		h.OpenLink(reactor.LinkParams{Foreign: joined, External: greeter})
	}

	runtimeLink := reactor.LinkHandlers{
		wire.KindActorJoined: func(h *reactor.LinkHandle, msg wire.Message) error {
			var joined wire.ActorJoined
			if err := joined.UnmarshalBinary(msg.Payload); err != nil {
				return err
			}
			// Reflect the announcement to self, matching the Rust
			// WelcomerRuntimeLink::welcome's send_internal.
			payload, err := joined.MarshalBinary()
			if err != nil {
				return err
			}
			h.SendInternal(wire.KindActorJoined, payload)
			return nil
		},
	}

	internal := reactor.Handlers{
		wire.KindInitialize: func(h *reactor.Handle, msg wire.Message) error {
			h.OpenLink(reactor.LinkParams{Foreign: cfg.Runtime, External: runtimeLink})
			return nil
		},
		wire.KindActorJoined: func(h *reactor.Handle, msg wire.Message) error {
			var joined wire.ActorJoined
			if err := joined.UnmarshalBinary(msg.Payload); err != nil {
				return err
			}
			welcome(h, joined.ID)
			return nil
		},
	}

	return reactor.NewSpawner(reactor.Params{ID: cfg.ID, Internal: internal})
}
