package wire

import "planetwars/broker/internal/ids"

const (
	tagActorJoinedID tag = iota + 40
	tagGreetingMessage
	tagLinkClosedForeign
)

// ActorJoined is the payload of the well-known "actor_joined" kind (spec
// §4.3): announces a newly attached participant's identity to a reactor.
type ActorJoined struct {
	ID ids.ID
}

func (m ActorJoined) MarshalBinary() ([]byte, error) {
	var w recordWriter
	w.putBytes(tagActorJoinedID, m.ID.Bytes())
	return w.bytes(), nil
}

func (m *ActorJoined) UnmarshalBinary(data []byte) error {
	f, err := fields(data)
	if err != nil {
		return err
	}
	idBytes, err := requireFixed(f, tagActorJoinedID, "id", 16)
	if err != nil {
		return err
	}
	id, err := ids.FromBytes(idBytes)
	if err != nil {
		return err
	}
	m.ID = id
	return nil
}

// Greeting is the payload of the demo "greeting" kind (spec §4.3).
type Greeting struct {
	Message string
}

func (m Greeting) MarshalBinary() ([]byte, error) {
	var w recordWriter
	w.putString(tagGreetingMessage, m.Message)
	return w.bytes(), nil
}

func (m *Greeting) UnmarshalBinary(data []byte) error {
	f, err := fields(data)
	if err != nil {
		return err
	}
	msg, err := requireField(f, tagGreetingMessage, "message")
	if err != nil {
		return err
	}
	m.Message = string(msg)
	return nil
}

// LinkClosed is the payload of the well-known "link_closed" kind (spec
// §4.3): names the link endpoint that terminated.
type LinkClosed struct {
	Foreign ids.ID
}

func (m LinkClosed) MarshalBinary() ([]byte, error) {
	var w recordWriter
	w.putBytes(tagLinkClosedForeign, m.Foreign.Bytes())
	return w.bytes(), nil
}

func (m *LinkClosed) UnmarshalBinary(data []byte) error {
	f, err := fields(data)
	if err != nil {
		return err
	}
	idBytes, err := requireFixed(f, tagLinkClosedForeign, "foreign", 16)
	if err != nil {
		return err
	}
	id, err := ids.FromBytes(idBytes)
	if err != nil {
		return err
	}
	m.Foreign = id
	return nil
}
