// Package handshake drives the two-message signed-challenge / key-exchange
// handshake spec §4.2 describes, on both the server and client side, over
// an already-framed transport.
package handshake

import (
	"crypto/ed25519"
	"crypto/rand"

	"planetwars/broker/internal/handshakecrypto"
	"planetwars/broker/internal/ids"
	"planetwars/broker/internal/runtimeerr"
	"planetwars/broker/internal/transport"
	"planetwars/broker/internal/wire"
)

// IdentityStore resolves the opaque router token a client presents in its
// ConnectionRequest to the signing public key and actor identity it claims.
type IdentityStore interface {
	Lookup(token []byte) (identity ids.ID, public ed25519.PublicKey, ok bool)
}

// ServerConfig configures the server side of a handshake.
type ServerConfig struct {
	Signing    handshakecrypto.SigningKeyPair
	Identities IdentityStore
	Replay     *NonceCache
	// Authorize, if set, runs after the cryptographic exchange validates but
	// before ConnectionAccepted is sent, letting the caller (the router's
	// RoutingTable, spec §4.7) refuse a connection whose token resolved to a
	// real identity but has no registered controller to dispatch to.
	Authorize func(identity ids.ID) bool
}

// Result is what a completed handshake yields to its caller.
type Result struct {
	Identity ids.ID
	Keys     handshakecrypto.SessionKeys
}

// Accept runs the server side of the handshake over framed. On an
// authentication failure (unknown token, bad signature, replayed nonce,
// nonce echo mismatch, or an Authorize refusal) it sends ConnectionRefused
// with the spec-mandated reason string before returning an error. Read,
// decode, send and key-derivation failures return an error without sending
// a refusal. The caller is responsible for closing the connection
// afterwards either way.
func Accept(framed *transport.Framed, cfg ServerConfig) (Result, error) {
	request, requestData, err := readConnectionRequest(framed)
	if err != nil {
		return Result{}, err
	}

	identity, clientPublic, ok := cfg.Identities.Lookup(request.Message)
	if !ok {
		refuse(framed, cfg.Signing, "invalid token")
		return Result{}, runtimeerr.New(runtimeerr.KindAuthRejected, errInvalidToken)
	}

	if !handshakecrypto.Verify(clientPublic, requestData.Data, requestData.Signature) {
		refuse(framed, cfg.Signing, "invalid signature")
		return Result{}, runtimeerr.New(runtimeerr.KindCryptographic, errInvalidSignature)
	}

	if cfg.Replay.SeenRecently(request.ClientNonce) {
		refuse(framed, cfg.Signing, "replay detected")
		return Result{}, runtimeerr.New(runtimeerr.KindAuthRejected, errReplayDetected)
	}

	var serverNonce [32]byte
	if _, err := rand.Read(serverNonce[:]); err != nil {
		return Result{}, runtimeerr.New(runtimeerr.KindCryptographic, err)
	}
	kx, err := handshakecrypto.GenerateKXKeyPair()
	if err != nil {
		return Result{}, runtimeerr.New(runtimeerr.KindCryptographic, err)
	}

	challenge := wire.ServerChallenge{ServerNonce: serverNonce, KXServerPK: kx.PublicBytes()}
	if err := sendServerMessage(framed, cfg.Signing, wire.HandshakeServerMessage{
		Kind:      wire.ServerMessageChallenge,
		Challenge: challenge,
	}); err != nil {
		return Result{}, err
	}

	response, responseData, err := readSigned[wire.ChallengeResponse](framed)
	if err != nil {
		return Result{}, err
	}
	if !handshakecrypto.Verify(clientPublic, responseData.Data, responseData.Signature) {
		refuse(framed, cfg.Signing, "invalid signature")
		return Result{}, runtimeerr.New(runtimeerr.KindCryptographic, errInvalidSignature)
	}
	if response.ServerNonce != serverNonce {
		refuse(framed, cfg.Signing, "replay detected")
		return Result{}, runtimeerr.New(runtimeerr.KindAuthRejected, errNonceEchoMismatch)
	}

	//1.- Only now, once the full exchange validates, admit the client nonce
	// into the replay window (spec §8: refusal applies to nonces from
	// *accepted* handshakes).
	cfg.Replay.Record(request.ClientNonce)

	shared, err := kx.SharedSecret(response.KXClientPK)
	if err != nil {
		return Result{}, runtimeerr.New(runtimeerr.KindCryptographic, err)
	}
	keys, err := handshakecrypto.DeriveSessionKeys(shared, request.ClientNonce, serverNonce, false)
	if err != nil {
		return Result{}, runtimeerr.New(runtimeerr.KindCryptographic, err)
	}

	if cfg.Authorize != nil && !cfg.Authorize(identity) {
		refuse(framed, cfg.Signing, "invalid token")
		return Result{}, runtimeerr.New(runtimeerr.KindAuthRejected, errInvalidToken)
	}

	if err := sendServerMessage(framed, cfg.Signing, wire.HandshakeServerMessage{Kind: wire.ServerMessageAccepted}); err != nil {
		return Result{}, err
	}

	return Result{Identity: identity, Keys: keys}, nil
}

func refuse(framed *transport.Framed, signing handshakecrypto.SigningKeyPair, reason string) {
	_ = sendServerMessage(framed, signing, wire.HandshakeServerMessage{
		Kind:    wire.ServerMessageRefused,
		Refused: wire.ConnectionRefused{Message: reason},
	})
}
