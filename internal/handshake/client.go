package handshake

import (
	"crypto/rand"

	"planetwars/broker/internal/handshakecrypto"
	"planetwars/broker/internal/runtimeerr"
	"planetwars/broker/internal/transport"
	"planetwars/broker/internal/wire"
)

// ClientConfig configures the client side of a handshake.
type ClientConfig struct {
	Signing handshakecrypto.SigningKeyPair
	// Token is the opaque router-defined token identifying which actor the
	// server should bind this connection to (ConnectionRequest.Message).
	Token []byte
	// ServerKey verifies signatures on the server's replies.
	ServerKey handshakecrypto.SigningKeyPair
}

// Connect runs the client side of the handshake over framed: it sends a
// signed ConnectionRequest with a fresh nonce and ephemeral key-exchange
// keypair, then drives the ServerChallenge/ConnectionAccepted/
// ConnectionRefused reply to completion, grounded on spec §4.2's two-message
// exchange.
func Connect(framed *transport.Framed, cfg ClientConfig) (handshakecrypto.SessionKeys, error) {
	var clientNonce [32]byte
	if _, err := rand.Read(clientNonce[:]); err != nil {
		return handshakecrypto.SessionKeys{}, runtimeerr.New(runtimeerr.KindCryptographic, err)
	}
	kx, err := handshakecrypto.GenerateKXKeyPair()
	if err != nil {
		return handshakecrypto.SessionKeys{}, runtimeerr.New(runtimeerr.KindCryptographic, err)
	}

	request := wire.ConnectionRequest{ClientNonce: clientNonce, Message: cfg.Token}
	if err := sendSigned(framed, cfg.Signing, request); err != nil {
		return handshakecrypto.SessionKeys{}, err
	}

	reply, replyData, err := readSigned[wire.HandshakeServerMessage](framed)
	if err != nil {
		return handshakecrypto.SessionKeys{}, err
	}
	if !handshakecrypto.Verify(cfg.ServerKey.Public, replyData.Data, replyData.Signature) {
		return handshakecrypto.SessionKeys{}, runtimeerr.New(runtimeerr.KindCryptographic, errInvalidSignature)
	}
	if reply.Kind == wire.ServerMessageRefused {
		return handshakecrypto.SessionKeys{}, runtimeerr.New(runtimeerr.KindAuthRejected, errConnectionRefused(reply.Refused.Message))
	}
	if reply.Kind != wire.ServerMessageChallenge {
		return handshakecrypto.SessionKeys{}, runtimeerr.New(runtimeerr.KindProtocolViolation, errUnexpectedServerMessage)
	}
	challenge := reply.Challenge

	response := wire.ChallengeResponse{ServerNonce: challenge.ServerNonce, KXClientPK: kx.PublicBytes()}
	if err := sendSigned(framed, cfg.Signing, response); err != nil {
		return handshakecrypto.SessionKeys{}, err
	}

	accepted, acceptedData, err := readSigned[wire.HandshakeServerMessage](framed)
	if err != nil {
		return handshakecrypto.SessionKeys{}, err
	}
	if !handshakecrypto.Verify(cfg.ServerKey.Public, acceptedData.Data, acceptedData.Signature) {
		return handshakecrypto.SessionKeys{}, runtimeerr.New(runtimeerr.KindCryptographic, errInvalidSignature)
	}
	if accepted.Kind == wire.ServerMessageRefused {
		return handshakecrypto.SessionKeys{}, runtimeerr.New(runtimeerr.KindAuthRejected, errConnectionRefused(accepted.Refused.Message))
	}
	if accepted.Kind != wire.ServerMessageAccepted {
		return handshakecrypto.SessionKeys{}, runtimeerr.New(runtimeerr.KindProtocolViolation, errUnexpectedServerMessage)
	}

	shared, err := kx.SharedSecret(challenge.KXServerPK)
	if err != nil {
		return handshakecrypto.SessionKeys{}, runtimeerr.New(runtimeerr.KindCryptographic, err)
	}
	return handshakecrypto.DeriveSessionKeys(shared, clientNonce, challenge.ServerNonce, true)
}
