// Package connection binds one authenticated framed transport to one actor
// identity (spec §4.6): it decodes inbound frames into Messages toward the
// broker, serves an outbound Send/Connect command channel, and survives
// transport loss by synthesizing Disconnected toward the bound actor and
// waiting for a replacement transport.
package connection

import (
	"sync"
	"time"

	"planetwars/broker/internal/broker"
	"planetwars/broker/internal/handshakecrypto"
	"planetwars/broker/internal/ids"
	"planetwars/broker/internal/ingress"
	"planetwars/broker/internal/logging"
	"planetwars/broker/internal/runtimeerr"
	"planetwars/broker/internal/transport"
	"planetwars/broker/internal/wire"
)

// State enumerates the connection controller's lifecycle (spec §3 "Connection").
type State int

const (
	Attached State = iota
	Detached
	Closed
)

func (s State) String() string {
	switch s {
	case Attached:
		return "attached"
	case Detached:
		return "detached"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

type command interface{ isCommand() }

type sendCommand struct{ payload []byte }

func (sendCommand) isCommand() {}

type connectCommand struct {
	framed *transport.Framed
	keys   handshakecrypto.SessionKeys
}

func (connectCommand) isCommand() {}

type unregisterCommand struct{}

func (unregisterCommand) isCommand() {}

// Controller is the per-connection task described by spec §4.6.
type Controller struct {
	remote     ids.ID
	boundActor ids.ID
	bound      broker.Inbox
	log        *logging.Logger

	cmds chan command

	mu    sync.Mutex
	state State

	txSeq uint64
	rxSeq uint64

	gate *ingress.Gate
}

// Option configures optional Controller behavior.
type Option func(*Controller)

// WithGate installs an ingress.Gate that validates each inbound frame's
// sequence/staleness/rate before it reaches the bound actor — a transport-
// layer check distinct from (and earlier than) move-legality, which stays
// inside GameRules (spec §4.9). Rejected frames are dropped with a warning,
// exactly like any other best-effort delivery failure at this layer.
func WithGate(gate *ingress.Gate) Option {
	return func(c *Controller) { c.gate = gate }
}

// New constructs a controller bound to remote, authenticated over framed
// using keys, forwarding decoded frames into bound (the game actor's inbox,
// identified by boundActor) as Messages from remote.
func New(remote, boundActor ids.ID, framed *transport.Framed, keys handshakecrypto.SessionKeys, bound broker.Inbox, log *logging.Logger, opts ...Option) *Controller {
	if log == nil {
		log = logging.L()
	}
	c := &Controller{
		remote:     remote,
		boundActor: boundActor,
		bound:      bound,
		log:        log.With(logging.String("component", "connection"), logging.String("remote", remote.String())),
		cmds:       make(chan command, 16),
		state:      Attached,
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.run(framed, keys)
	return c
}

// Send enqueues payload for delivery to the remote peer.
func (c *Controller) Send(payload []byte) {
	c.cmds <- sendCommand{payload: payload}
}

// Connect replaces the current transport, resuming a detached connection
// without losing the bound identity.
func (c *Controller) Connect(framed *transport.Framed, keys handshakecrypto.SessionKeys) {
	c.cmds <- connectCommand{framed: framed, keys: keys}
}

// Unregister tears the controller down permanently.
func (c *Controller) Unregister() {
	c.cmds <- unregisterCommand{}
}

// State reports the controller's current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// run is the controller's single task: it owns exactly one active transport
// at a time (nil while detached) and multiplexes between reading inbound
// frames and draining outbound commands. Exactly one PollFrame call is ever
// in flight for a given transport instance — a fresh reader goroutine is
// started only when the transport instance actually changes, never on every
// loop iteration, so two goroutines never read the same net.Conn at once.
func (c *Controller) run(framed *transport.Framed, keys handshakecrypto.SessionKeys) {
	var frames chan frameResult
	if framed != nil {
		frames = startReader(framed)
	}

	for {
		if framed == nil {
			cmd, ok := <-c.cmds
			if !ok {
				return
			}
			next, nextKeys := c.handleCommand(cmd, framed, keys)
			if c.State() == Closed {
				return
			}
			if next != framed {
				framed, keys = next, nextKeys
				if framed != nil {
					frames = startReader(framed)
				}
			}
			continue
		}

		select {
		case cmd, ok := <-c.cmds:
			if !ok {
				return
			}
			next, nextKeys := c.handleCommand(cmd, framed, keys)
			if c.State() == Closed {
				return
			}
			if next != framed {
				framed, keys = next, nextKeys
				frames = nil
				if framed != nil {
					frames = startReader(framed)
				}
			}
		case res := <-frames:
			next := c.handleFrame(res, framed, keys)
			if next != framed {
				framed = next
				frames = nil
			}
		}
	}
}

func startReader(f *transport.Framed) chan frameResult {
	ch := make(chan frameResult, 1)
	go func() {
		payload, err := f.PollFrame()
		ch <- frameResult{payload: payload, err: err}
	}()
	return ch
}

type frameResult struct {
	payload []byte
	err     error
}

func (c *Controller) handleCommand(cmd command, framed *transport.Framed, keys handshakecrypto.SessionKeys) (*transport.Framed, handshakecrypto.SessionKeys) {
	switch v := cmd.(type) {
	case sendCommand:
		if framed == nil {
			c.log.Debug("dropping send while detached")
			return framed, keys
		}
		sealed := keys.Seal(c.txSeq, v.payload)
		c.txSeq++
		if err := framed.Send(sealed); err != nil {
			c.log.Warn("send failed, detaching", logging.Error(err))
			framed.Close()
			c.transitionDetached()
			return nil, handshakecrypto.SessionKeys{}
		}
		return framed, keys
	case connectCommand:
		if framed != nil {
			framed.Close()
		}
		c.txSeq, c.rxSeq = 0, 0
		c.setState(Attached)
		//1.- Announce the attach toward the bound actor, mirroring
		// transitionDetached's Disconnected push, so a reactor observing
		// this link sees Connected/Disconnected/Connected across a
		// reconnect (spec §4.6, §8 scenario 4) instead of silence.
		c.bound.Push(wire.Message{Sender: c.remote, Receiver: c.boundActor, Kind: wire.KindConnected})
		return v.framed, v.keys
	case unregisterCommand:
		if framed != nil {
			framed.Close()
		}
		c.setState(Closed)
		c.forgetGate()
		return nil, handshakecrypto.SessionKeys{}
	default:
		return framed, keys
	}
}

func (c *Controller) handleFrame(res frameResult, framed *transport.Framed, keys handshakecrypto.SessionKeys) *transport.Framed {
	if res.err != nil {
		if kind, ok := runtimeerr.Of(res.err); !ok || kind == runtimeerr.KindIO {
			c.log.Info("transport lost", logging.Error(res.err))
		} else {
			c.log.Warn("transport error", logging.Error(res.err))
		}
		framed.Close()
		c.transitionDetached()
		return nil
	}
	if res.payload == nil {
		c.log.Debug("orderly close")
		framed.Close()
		c.transitionDetached()
		return nil
	}

	plaintext, err := keys.Open(c.rxSeq, res.payload)
	if err != nil {
		c.log.Warn("decrypt failed, closing", logging.Error(err))
		framed.Close()
		c.transitionDetached()
		return nil
	}
	c.rxSeq++

	if c.gate != nil {
		decision := c.gate.Evaluate(ingress.Frame{ClientID: c.remote.String(), SequenceID: c.rxSeq, SentAt: time.Now()})
		if !decision.Accepted {
			c.log.Warn("dropping frame rejected by ingress gate", logging.String("reason", decision.Reason.String()))
			return framed
		}
	}

	msg := wire.Message{Sender: c.remote, Receiver: c.boundActor, Kind: wire.KindData, Payload: plaintext}
	c.bound.Push(msg)
	return framed
}

func (c *Controller) transitionDetached() {
	c.setState(Detached)
	c.bound.Push(wire.Message{Sender: c.remote, Receiver: c.boundActor, Kind: wire.KindDisconnected})
}

func (c *Controller) forgetGate() {
	if c.gate != nil {
		c.gate.Forget(c.remote.String())
	}
}
