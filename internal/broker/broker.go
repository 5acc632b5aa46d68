// Package broker implements the process-wide actor registry spec §4.4
// describes: a single task routing typed envelopes between reactor inboxes
// by receiver identity, with best-effort delivery and spawn/unregister
// registry commands.
package broker

import (
	"sync"

	"planetwars/broker/internal/ids"
	"planetwars/broker/internal/logging"
	"planetwars/broker/internal/queue"
	"planetwars/broker/internal/wire"
)

// Inbox is the consuming end of a reactor's message queue.
type Inbox = *queue.Unbounded[wire.Message]

// NewInbox constructs a fresh empty inbox for a spawner to hand back.
func NewInbox() Inbox {
	return queue.New[wire.Message]()
}

// Spawner produces a freshly constructed reactor: it picks the reactor's
// identity, builds its inbox, and returns a driver function the broker
// schedules as a goroutine. handle is the BrokerHandle the new reactor's
// driver should use to send and to open further links.
type Spawner func(handle *Handle) (id ids.ID, inbox Inbox, driver func())

type command interface{ isCommand() }

type sendCmd struct{ message wire.Message }

func (sendCmd) isCommand() {}

type spawnCmd struct{ spawn Spawner }

func (spawnCmd) isCommand() {}

type unregisterCmd struct{ id ids.ID }

func (unregisterCmd) isCommand() {}

// Broker owns the registry and runs as a single task; see Run.
type Broker struct {
	cmds   *queue.Unbounded[command]
	log    *logging.Logger
	actors map[ids.ID]Inbox

	handlesMu sync.Mutex
	handles   int
}

// New constructs an unstarted broker. Call Run to drive it.
func New(log *logging.Logger) *Broker {
	if log == nil {
		log = logging.L()
	}
	return &Broker{
		cmds:   queue.New[command](),
		log:    log,
		actors: make(map[ids.ID]Inbox),
	}
}

// Handle mints a new outstanding BrokerHandle. Callers must call Close when
// done with it — the broker's termination criterion (registry empty AND no
// outstanding handles) depends on every handle eventually being released.
func (b *Broker) Handle() *Handle {
	b.handlesMu.Lock()
	b.handles++
	b.handlesMu.Unlock()
	return &Handle{b: b}
}

// Run drains the command queue until the registry is empty and no handles
// remain outstanding, per spec §4.4's termination rule. It blocks the
// calling goroutine; run it in its own goroutine for a live broker.
func (b *Broker) Run() {
	for {
		cmd, ok := b.cmds.Pop()
		if !ok {
			return
		}
		switch c := cmd.(type) {
		case sendCmd:
			b.route(c.message)
		case spawnCmd:
			b.spawn(c.spawn)
		case unregisterCmd:
			delete(b.actors, c.id)
		}
		if b.idle() {
			b.cmds.Close()
		}
	}
}

func (b *Broker) idle() bool {
	b.handlesMu.Lock()
	defer b.handlesMu.Unlock()
	return len(b.actors) == 0 && b.handles == 0
}

func (b *Broker) route(message wire.Message) {
	inbox, ok := b.actors[message.Receiver]
	if !ok {
		b.log.Warn("broker dropping message to unknown receiver",
			logging.String("receiver", message.Receiver.String()),
			logging.String("kind", message.Kind))
		return
	}
	inbox.Push(message)
}

func (b *Broker) spawn(spawn Spawner) {
	handle := b.Handle()
	id, inbox, driver := spawn(handle)
	b.actors[id] = inbox
	go func() {
		defer handle.Close()
		driver()
	}()
}

// Handle is a cloneable reference to a live broker used by reactors and
// connection controllers to send, spawn, and unregister.
type Handle struct {
	b      *Broker
	closed bool
}

// Send enqueues message for best-effort delivery to its receiver.
func (h *Handle) Send(message wire.Message) {
	h.b.cmds.Push(sendCmd{message: message})
}

// Spawn schedules a new reactor via spawn and registers it under the
// identity the spawner chooses.
func (h *Handle) Spawn(spawn Spawner) {
	h.b.cmds.Push(spawnCmd{spawn: spawn})
}

// Unregister removes id from the registry. Pending messages already routed
// to its inbox are not recalled; peers learn of its absence via link_closed
// or best-effort drop.
func (h *Handle) Unregister(id ids.ID) {
	h.b.cmds.Push(unregisterCmd{id: id})
}

// Close releases this handle. It must be called exactly once.
func (h *Handle) Close() {
	if h.closed {
		return
	}
	h.closed = true
	h.b.handlesMu.Lock()
	h.b.handles--
	h.b.handlesMu.Unlock()
	if h.b.idle() {
		// Wake the Run loop so it can observe idleness even if no further
		// commands are ever pushed.
		h.b.cmds.Push(unregisterCmd{id: ids.Zero})
	}
}
