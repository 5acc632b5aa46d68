// Package reactor implements the actor state machine spec §3/§4.5 describes:
// a task draining its own inbox, dispatching each message to either its
// frozen internal (self-sender) handler map or to the external handler map
// of whichever open link matches the sender, with a link model supporting
// exactly-once close notification in both directions.
package reactor

import (
	"planetwars/broker/internal/broker"
	"planetwars/broker/internal/ids"
	"planetwars/broker/internal/logging"
	"planetwars/broker/internal/wire"
)

// HandlerFunc reacts to an internal (self-addressed) message.
type HandlerFunc func(h *Handle, msg wire.Message) error

// Handlers is a frozen kind -> handler map. Once passed to Params it must
// not be mutated.
type Handlers map[string]HandlerFunc

// LinkHandlerFunc reacts to a message arriving from a link's foreign peer.
type LinkHandlerFunc func(h *LinkHandle, msg wire.Message) error

// LinkHandlers is a frozen kind -> handler map for a link's external side.
type LinkHandlers map[string]LinkHandlerFunc

// Params configures a freshly spawned reactor.
type Params struct {
	// ID pins the reactor's identity; zero generates a fresh one.
	ID ids.ID
	// Internal is the frozen kind->handler map consulted for self-addressed
	// messages, including the synthetic "initialize" delivered at startup.
	Internal Handlers
}

type linkState int

const (
	linkOpen linkState = iota
	linkClosing
	linkClosed
)

// Link routes external sends to a foreign reactor and dispatches inbound
// messages from that foreign reactor to its external handler map.
type Link struct {
	local    ids.ID
	foreign  ids.ID
	external LinkHandlers
	state    linkState
}

// Foreign returns the peer identity this link routes to.
func (l *Link) Foreign() ids.ID { return l.foreign }

// LinkParams configures a link opened via Handle.OpenLink.
type LinkParams struct {
	Foreign ids.ID
	// External is the frozen kind->handler map for messages from Foreign.
	External LinkHandlers
	// SuppressJoin skips publishing actor_joined to Foreign — used when the
	// peer already knows about this reactor through another channel.
	SuppressJoin bool
}

// Reactor is a single actor: one task, one inbox, one frozen internal
// handler map, a set of open links.
type Reactor struct {
	id       ids.ID
	bh       *broker.Handle
	inbox    broker.Inbox
	internal Handlers
	links    map[ids.ID]*Link
	log      *logging.Logger
}

// NewSpawner builds a broker.Spawner that, once scheduled, constructs and
// runs a Reactor per params.
func NewSpawner(params Params) broker.Spawner {
	return func(bh *broker.Handle) (ids.ID, broker.Inbox, func()) {
		id := params.ID
		if id.IsZero() {
			id = ids.New()
		}
		r := &Reactor{
			id:       id,
			bh:       bh,
			inbox:    broker.NewInbox(),
			internal: params.Internal,
			links:    make(map[ids.ID]*Link),
			log:      logging.L(),
		}
		return id, r.inbox, r.run
	}
}

// ID returns the reactor's identity.
func (r *Reactor) ID() ids.ID { return r.id }

func (r *Reactor) run() {
	//1.- Deliver the synthetic "initialize" kind before any external input,
	// matching spec §4.3's "first message any freshly spawned reactor receives".
	r.dispatch(wire.Message{Sender: r.id, Receiver: r.id, Kind: wire.KindInitialize})
	for {
		msg, ok := r.inbox.Pop()
		if !ok {
			return
		}
		r.dispatch(msg)
	}
}

func (r *Reactor) dispatch(msg wire.Message) {
	if msg.Sender == r.id {
		r.dispatchInternal(msg)
		return
	}
	r.dispatchExternal(msg)
}

func (r *Reactor) dispatchInternal(msg wire.Message) {
	handler, ok := r.internal[msg.Kind]
	if !ok {
		r.log.Warn("reactor dropping unhandled internal message",
			logging.String("reactor", r.id.String()), logging.String("kind", msg.Kind))
		return
	}
	//2.- Handler faults are logged and the message dropped; the reactor
	// itself stays live (spec §4.5, §7 HandlerFault).
	if err := handler(&Handle{r: r}, msg); err != nil {
		r.log.Error("reactor handler fault",
			logging.String("reactor", r.id.String()), logging.String("kind", msg.Kind), logging.Error(err))
	}
}

func (r *Reactor) dispatchExternal(msg wire.Message) {
	link, ok := r.links[msg.Sender]
	if !ok {
		r.log.Warn("reactor dropping message from unlinked sender",
			logging.String("reactor", r.id.String()), logging.String("sender", msg.Sender.String()))
		return
	}
	if link.state == linkClosed {
		return
	}
	handler, ok := link.external[msg.Kind]
	if !ok {
		r.log.Warn("reactor dropping unhandled external message",
			logging.String("reactor", r.id.String()), logging.String("kind", msg.Kind))
		return
	}
	if err := handler(&LinkHandle{r: r, link: link}, msg); err != nil {
		r.log.Error("link handler fault",
			logging.String("reactor", r.id.String()), logging.String("kind", msg.Kind), logging.Error(err))
	}
}

// Handle is passed to internal handlers, exposing the operations spec §4.5
// grants a handler: internal self-delivery, opening/closing links.
type Handle struct {
	r *Reactor
}

// SendInternal delivers kind/payload to the reactor's own inbox as if sent
// by itself.
func (h *Handle) SendInternal(kind string, payload []byte) {
	h.r.bh.Send(wire.Message{Sender: h.r.id, Receiver: h.r.id, Kind: kind, Payload: payload})
}

// SendTo sends kind/payload to foreign directly, without requiring an open
// link to it first. Useful for handlers (e.g. a match controller
// broadcasting a turn prompt) that address many peers from one internal
// handler call rather than from a specific link's external handler.
func (h *Handle) SendTo(foreign ids.ID, kind string, payload []byte) {
	h.r.bh.Send(wire.Message{Sender: h.r.id, Receiver: foreign, Kind: kind, Payload: payload})
}

// Stop unregisters the reactor from the broker and closes its own inbox,
// ending its run loop once any already-queued messages drain (spec §5:
// "dropping a reactor task closes its inbox"). Safe to call from within a
// handler invoked by that same reactor's run loop.
func (h *Handle) Stop() {
	h.r.bh.Unregister(h.r.id)
	h.r.inbox.Close()
}

// OpenLink opens a link to params.Foreign, publishing actor_joined to the
// peer unless suppressed. At most one link per foreign id may be open at a
// time per reactor (spec §3 Link invariant).
func (h *Handle) OpenLink(params LinkParams) *Link {
	link := &Link{local: h.r.id, foreign: params.Foreign, external: params.External, state: linkOpen}
	h.r.links[params.Foreign] = link
	if !params.SuppressJoin {
		payload, _ := wire.ActorJoined{ID: h.r.id}.MarshalBinary()
		h.r.bh.Send(wire.Message{
			Sender:   h.r.id,
			Receiver: params.Foreign,
			Kind:     wire.KindActorJoined,
			Payload:  payload,
		})
	}
	return link
}

// CloseLink closes the link to foreign. Idempotent: a second call is a
// no-op and does not emit a second link_closed (spec §3 Link invariant,
// §8 testable property).
func (h *Handle) CloseLink(foreign ids.ID) {
	link, ok := h.r.links[foreign]
	if !ok || link.state == linkClosed {
		return
	}
	h.r.closeLink(link)
}

func (r *Reactor) closeLink(link *Link) {
	if link.state == linkClosed {
		return
	}
	link.state = linkClosed
	closedPayload, _ := wire.LinkClosed{Foreign: link.foreign}.MarshalBinary()
	//1.- Notify the foreign side exactly once.
	r.bh.Send(wire.Message{Sender: r.id, Receiver: link.foreign, Kind: wire.KindLinkClosed, Payload: closedPayload})
	//2.- Reflect link_closed to self exactly once, matching the Rust
	// LinkHandle::close_link's self-notification via send_internal.
	r.bh.Send(wire.Message{Sender: r.id, Receiver: r.id, Kind: wire.KindLinkClosed, Payload: closedPayload})
	delete(r.links, link.foreign)
}

// LinkHandle is passed to a link's external handlers, exposing the
// operations spec §4.5 grants: send to the foreign peer, reflect to self,
// and close the link.
type LinkHandle struct {
	r    *Reactor
	link *Link
}

// SendMessage sends kind/payload to the link's foreign peer.
func (h *LinkHandle) SendMessage(kind string, payload []byte) {
	h.r.bh.Send(wire.Message{Sender: h.r.id, Receiver: h.link.foreign, Kind: kind, Payload: payload})
}

// SendInternal reflects kind/payload to the owning reactor's own inbox.
func (h *LinkHandle) SendInternal(kind string, payload []byte) {
	h.r.bh.Send(wire.Message{Sender: h.r.id, Receiver: h.r.id, Kind: kind, Payload: payload})
}

// SendTo sends kind/payload to an arbitrary foreign peer, not necessarily
// this link's own foreign end — used when one link's external handler needs
// to address other peers of the same reactor (e.g. broadcasting a turn
// prompt to every linked client once a step-lock turn completes).
func (h *LinkHandle) SendTo(foreign ids.ID, kind string, payload []byte) {
	h.r.bh.Send(wire.Message{Sender: h.r.id, Receiver: foreign, Kind: kind, Payload: payload})
}

// CloseLink closes the underlying link; see Handle.CloseLink for semantics.
func (h *LinkHandle) CloseLink() {
	h.r.closeLink(h.link)
}

// Foreign returns the identity of the link's peer.
func (h *LinkHandle) Foreign() ids.ID { return h.link.foreign }
