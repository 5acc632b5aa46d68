package handshake

import (
	"errors"

	"planetwars/broker/internal/handshakecrypto"
	"planetwars/broker/internal/runtimeerr"
	"planetwars/broker/internal/transport"
	"planetwars/broker/internal/wire"
)

var (
	errInvalidToken            = errors.New("invalid token")
	errInvalidSignature        = errors.New("invalid signature")
	errReplayDetected          = errors.New("replay detected")
	errNonceEchoMismatch       = errors.New("replay detected")
	errConnectionClosed        = errors.New("connection closed during handshake")
	errUnexpectedServerMessage = errors.New("unexpected server message kind")
)

// errConnectionRefused wraps the reason string a ConnectionRefused message
// carries so callers can surface it as a plain error.
type errConnectionRefused string

func (e errConnectionRefused) Error() string { return "connection refused: " + string(e) }

type binaryUnmarshaler interface {
	UnmarshalBinary([]byte) error
}

// readSigned reads one frame, decodes it as a SignedMessage, and decodes
// its Data field into a value of type T (T's pointer type must implement
// binaryUnmarshaler, matching every schema in package wire).
func readSigned[T any, PT interface {
	*T
	binaryUnmarshaler
}](framed *transport.Framed) (T, wire.SignedMessage, error) {
	var zero T
	frame, err := framed.PollFrame()
	if err != nil {
		return zero, wire.SignedMessage{}, err
	}
	if frame == nil {
		return zero, wire.SignedMessage{}, runtimeerr.New(runtimeerr.KindIO, errConnectionClosed)
	}
	var envelope wire.SignedMessage
	if err := envelope.UnmarshalBinary(frame); err != nil {
		return zero, wire.SignedMessage{}, runtimeerr.New(runtimeerr.KindProtocolViolation, err)
	}
	var value T
	if err := PT(&value).UnmarshalBinary(envelope.Data); err != nil {
		return zero, wire.SignedMessage{}, runtimeerr.New(runtimeerr.KindProtocolViolation, err)
	}
	return value, envelope, nil
}

func readConnectionRequest(framed *transport.Framed) (wire.ConnectionRequest, wire.SignedMessage, error) {
	return readSigned[wire.ConnectionRequest](framed)
}

// sendSigned marshals payload, signs the encoded bytes with signing, wraps
// the result in a SignedMessage, and writes it as one frame.
func sendSigned(framed *transport.Framed, signing handshakecrypto.SigningKeyPair, payload interface {
	MarshalBinary() ([]byte, error)
}) error {
	data, err := payload.MarshalBinary()
	if err != nil {
		return runtimeerr.New(runtimeerr.KindProtocolViolation, err)
	}
	envelope := wire.SignedMessage{Data: data, Signature: signing.Sign(data)}
	encoded, err := envelope.MarshalBinary()
	if err != nil {
		return runtimeerr.New(runtimeerr.KindProtocolViolation, err)
	}
	if err := framed.Send(encoded); err != nil {
		return err
	}
	return nil
}

func sendServerMessage(framed *transport.Framed, signing handshakecrypto.SigningKeyPair, msg wire.HandshakeServerMessage) error {
	return sendSigned(framed, signing, msg)
}
