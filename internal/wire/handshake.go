package wire

const (
	tagSignedData tag = iota + 1
	tagSignedSignature

	tagConnReqClientNonce
	tagConnReqMessage

	tagChallengeServerNonce
	tagChallengeKXServerPK

	tagChallengeRespServerNonce
	tagChallengeRespKXClientPK

	tagRefusedMessage

	tagServerMsgChallenge
	tagServerMsgAccepted
	tagServerMsgRefused
)

// SignedMessage wraps an opaque payload with a detached signature over it.
// It is the outer envelope for both the client's ConnectionRequest and the
// server's HandshakeServerMessage.
type SignedMessage struct {
	Data      []byte
	Signature [64]byte
}

// MarshalBinary encodes the signed envelope.
func (m SignedMessage) MarshalBinary() ([]byte, error) {
	var w recordWriter
	w.putBytes(tagSignedData, m.Data)
	w.putBytes(tagSignedSignature, m.Signature[:])
	return w.bytes(), nil
}

// UnmarshalBinary decodes a signed envelope.
func (m *SignedMessage) UnmarshalBinary(data []byte) error {
	f, err := fields(data)
	if err != nil {
		return err
	}
	d, err := requireField(f, tagSignedData, "data")
	if err != nil {
		return err
	}
	sig, err := requireFixed(f, tagSignedSignature, "signature", 64)
	if err != nil {
		return err
	}
	m.Data = append([]byte(nil), d...)
	copy(m.Signature[:], sig)
	return nil
}

// ConnectionRequest is the first frame a client sends after TCP accept, once
// unwrapped from its SignedMessage envelope. Message carries an opaque
// router-defined token the server uses to look up the claimed identity.
type ConnectionRequest struct {
	ClientNonce [32]byte
	Message     []byte
}

func (m ConnectionRequest) MarshalBinary() ([]byte, error) {
	var w recordWriter
	w.putBytes(tagConnReqClientNonce, m.ClientNonce[:])
	w.putBytes(tagConnReqMessage, m.Message)
	return w.bytes(), nil
}

func (m *ConnectionRequest) UnmarshalBinary(data []byte) error {
	f, err := fields(data)
	if err != nil {
		return err
	}
	nonce, err := requireFixed(f, tagConnReqClientNonce, "client_nonce", 32)
	if err != nil {
		return err
	}
	msg, err := requireField(f, tagConnReqMessage, "message")
	if err != nil {
		return err
	}
	copy(m.ClientNonce[:], nonce)
	m.Message = append([]byte(nil), msg...)
	return nil
}

// ServerChallenge is the server's reply to a valid ConnectionRequest: a
// fresh nonce to be echoed back plus the server's ephemeral key-exchange
// public key.
type ServerChallenge struct {
	ServerNonce [32]byte
	KXServerPK  [32]byte
}

func (m ServerChallenge) MarshalBinary() ([]byte, error) {
	var w recordWriter
	w.putBytes(tagChallengeServerNonce, m.ServerNonce[:])
	w.putBytes(tagChallengeKXServerPK, m.KXServerPK[:])
	return w.bytes(), nil
}

func (m *ServerChallenge) UnmarshalBinary(data []byte) error {
	f, err := fields(data)
	if err != nil {
		return err
	}
	nonce, err := requireFixed(f, tagChallengeServerNonce, "server_nonce", 32)
	if err != nil {
		return err
	}
	pk, err := requireFixed(f, tagChallengeKXServerPK, "kx_server_pk", 32)
	if err != nil {
		return err
	}
	copy(m.ServerNonce[:], nonce)
	copy(m.KXServerPK[:], pk)
	return nil
}

// ChallengeResponse echoes the server's nonce and carries the client's
// ephemeral key-exchange public key.
type ChallengeResponse struct {
	ServerNonce [32]byte
	KXClientPK  [32]byte
}

func (m ChallengeResponse) MarshalBinary() ([]byte, error) {
	var w recordWriter
	w.putBytes(tagChallengeRespServerNonce, m.ServerNonce[:])
	w.putBytes(tagChallengeRespKXClientPK, m.KXClientPK[:])
	return w.bytes(), nil
}

func (m *ChallengeResponse) UnmarshalBinary(data []byte) error {
	f, err := fields(data)
	if err != nil {
		return err
	}
	nonce, err := requireFixed(f, tagChallengeRespServerNonce, "server_nonce", 32)
	if err != nil {
		return err
	}
	pk, err := requireFixed(f, tagChallengeRespKXClientPK, "kx_client_pk", 32)
	if err != nil {
		return err
	}
	copy(m.ServerNonce[:], nonce)
	copy(m.KXClientPK[:], pk)
	return nil
}

// ConnectionAccepted is the terminal success message; it carries no fields.
type ConnectionAccepted struct{}

func (ConnectionAccepted) MarshalBinary() ([]byte, error) {
	var w recordWriter
	return w.bytes(), nil
}

func (*ConnectionAccepted) UnmarshalBinary(data []byte) error {
	_, err := fields(data)
	return err
}

// ConnectionRefused is the terminal failure message, carrying a
// human-readable reason ("invalid signature", "invalid token", "replay
// detected").
type ConnectionRefused struct {
	Message string
}

func (m ConnectionRefused) MarshalBinary() ([]byte, error) {
	var w recordWriter
	w.putString(tagRefusedMessage, m.Message)
	return w.bytes(), nil
}

func (m *ConnectionRefused) UnmarshalBinary(data []byte) error {
	f, err := fields(data)
	if err != nil {
		return err
	}
	msg, err := requireField(f, tagRefusedMessage, "message")
	if err != nil {
		return err
	}
	m.Message = string(msg)
	return nil
}

// ServerMessageKind discriminates the payload carried by a
// HandshakeServerMessage.
type ServerMessageKind uint8

const (
	ServerMessageChallenge ServerMessageKind = iota + 1
	ServerMessageAccepted
	ServerMessageRefused
)

// HandshakeServerMessage is the single signed message the server sends in
// reply to a ConnectionRequest; its payload is exactly one of Challenge,
// Accepted, or Refused, selected by Kind.
type HandshakeServerMessage struct {
	Kind      ServerMessageKind
	Challenge ServerChallenge
	Accepted  ConnectionAccepted
	Refused   ConnectionRefused
}

func (m HandshakeServerMessage) MarshalBinary() ([]byte, error) {
	var w recordWriter
	switch m.Kind {
	case ServerMessageChallenge:
		payload, err := m.Challenge.MarshalBinary()
		if err != nil {
			return nil, err
		}
		w.putBytes(tagServerMsgChallenge, payload)
	case ServerMessageAccepted:
		payload, err := m.Accepted.MarshalBinary()
		if err != nil {
			return nil, err
		}
		w.putBytes(tagServerMsgAccepted, payload)
	case ServerMessageRefused:
		payload, err := m.Refused.MarshalBinary()
		if err != nil {
			return nil, err
		}
		w.putBytes(tagServerMsgRefused, payload)
	default:
		return nil, errUnknownServerMessageKind
	}
	return w.bytes(), nil
}

func (m *HandshakeServerMessage) UnmarshalBinary(data []byte) error {
	f, err := fields(data)
	if err != nil {
		return err
	}
	switch {
	case f[tagServerMsgChallenge] != nil:
		m.Kind = ServerMessageChallenge
		return m.Challenge.UnmarshalBinary(f[tagServerMsgChallenge])
	case f[tagServerMsgAccepted] != nil:
		m.Kind = ServerMessageAccepted
		return (&m.Accepted).UnmarshalBinary(f[tagServerMsgAccepted])
	case f[tagServerMsgRefused] != nil:
		m.Kind = ServerMessageRefused
		return m.Refused.UnmarshalBinary(f[tagServerMsgRefused])
	default:
		return errUnknownServerMessageKind
	}
}
