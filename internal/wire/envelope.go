package wire

import (
	"errors"

	"planetwars/broker/internal/ids"
)

var errUnknownServerMessageKind = errors.New("wire: server message carries no recognised payload")

const (
	tagEnvelopeSender tag = iota + 20
	tagEnvelopeReceiver
	tagEnvelopeKind
	tagEnvelopePayload
)

// Message is the immutable post-handshake envelope (spec §3): sender and
// receiver identity, a stable kind tag the runtime treats as opaque, and the
// serialized payload bytes. Once constructed its fields are not mutated;
// Payload may be shared across clones.
type Message struct {
	Sender   ids.ID
	Receiver ids.ID
	Kind     string
	Payload  []byte
}

// well-known kinds that drive the runtime itself (spec §4.3).
const (
	KindInitialize   = "initialize"
	KindActorJoined  = "actor_joined"
	KindGreeting     = "greeting"
	KindLinkClosed   = "link_closed"
	KindData         = "data"
	KindConnected    = "connected"
	KindDisconnected = "disconnected"
)

// MarshalBinary encodes the envelope.
func (m Message) MarshalBinary() ([]byte, error) {
	var w recordWriter
	w.putBytes(tagEnvelopeSender, m.Sender.Bytes())
	w.putBytes(tagEnvelopeReceiver, m.Receiver.Bytes())
	w.putString(tagEnvelopeKind, m.Kind)
	w.putBytes(tagEnvelopePayload, m.Payload)
	return w.bytes(), nil
}

// UnmarshalBinary decodes an envelope previously produced by MarshalBinary.
func (m *Message) UnmarshalBinary(data []byte) error {
	f, err := fields(data)
	if err != nil {
		return err
	}
	senderBytes, err := requireFixed(f, tagEnvelopeSender, "sender", 16)
	if err != nil {
		return err
	}
	receiverBytes, err := requireFixed(f, tagEnvelopeReceiver, "receiver", 16)
	if err != nil {
		return err
	}
	kind, err := requireField(f, tagEnvelopeKind, "kind")
	if err != nil {
		return err
	}
	payload := f[tagEnvelopePayload]

	sender, err := ids.FromBytes(senderBytes)
	if err != nil {
		return err
	}
	receiver, err := ids.FromBytes(receiverBytes)
	if err != nil {
		return err
	}

	m.Sender = sender
	m.Receiver = receiver
	m.Kind = string(kind)
	m.Payload = append([]byte(nil), payload...)
	return nil
}

// SequencedEnvelope wraps an encoded Message with the monotonically
// increasing per-direction sequence number embedded in the AEAD nonce (spec
// §6). The sequence itself is not part of the TLV record — it is carried by
// the transport layer's nonce construction — but session framing needs a
// typed container to pass the pair around.
type SequencedEnvelope struct {
	Sequence uint64
	Message  Message
}
