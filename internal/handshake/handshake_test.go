package handshake

import (
	"crypto/ed25519"
	"net"
	"testing"

	"planetwars/broker/internal/handshakecrypto"
	"planetwars/broker/internal/ids"
	"planetwars/broker/internal/runtimeerr"
	"planetwars/broker/internal/transport"
	"planetwars/broker/internal/wire"
)

type staticIdentityStore struct {
	token    []byte
	identity ids.ID
	public   ed25519.PublicKey
}

func (s staticIdentityStore) Lookup(token []byte) (ids.ID, ed25519.PublicKey, bool) {
	if string(token) != string(s.token) {
		return ids.Zero, nil, false
	}
	return s.identity, s.public, true
}

func pipe() (net.Conn, net.Conn) {
	return net.Pipe()
}

func newFixture(t *testing.T) (serverSigning, clientSigning handshakecrypto.SigningKeyPair, store staticIdentityStore) {
	t.Helper()
	var err error
	serverSigning, err = handshakecrypto.GenerateSigningKeyPair()
	if err != nil {
		t.Fatalf("server signing keypair: %v", err)
	}
	clientSigning, err = handshakecrypto.GenerateSigningKeyPair()
	if err != nil {
		t.Fatalf("client signing keypair: %v", err)
	}
	identity := ids.New()
	store = staticIdentityStore{token: []byte("router-token"), identity: identity, public: clientSigning.Public}
	return serverSigning, clientSigning, store
}

func TestHandshakeHappyPath(t *testing.T) {
	serverSigning, clientSigning, store := newFixture(t)
	clientConn, serverConn := pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	clientFramed := transport.New(clientConn, 1<<20)
	serverFramed := transport.New(serverConn, 1<<20)

	type serverResult struct {
		result Result
		err    error
	}
	serverDone := make(chan serverResult, 1)
	go func() {
		r, err := Accept(serverFramed, ServerConfig{
			Signing:    serverSigning,
			Identities: store,
			Replay:     NewNonceCache(8),
		})
		serverDone <- serverResult{r, err}
	}()

	clientKeys, err := Connect(clientFramed, ClientConfig{
		Signing:   clientSigning,
		Token:     store.token,
		ServerKey: handshakecrypto.SigningKeyPair{Public: serverSigning.Public},
	})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	srv := <-serverDone
	if srv.err != nil {
		t.Fatalf("Accept: %v", srv.err)
	}
	if srv.result.Identity != store.identity {
		t.Fatalf("server resolved identity %v, want %v", srv.result.Identity, store.identity)
	}

	plaintext := []byte("turn-command")
	sealed := clientKeys.Seal(0, plaintext)
	opened, err := srv.result.Keys.Open(0, sealed)
	if err != nil {
		t.Fatalf("server failed to open client frame: %v", err)
	}
	if string(opened) != string(plaintext) {
		t.Fatalf("round-tripped plaintext mismatch: %q", opened)
	}
}

func TestHandshakeRejectsUnknownToken(t *testing.T) {
	serverSigning, clientSigning, store := newFixture(t)
	clientConn, serverConn := pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	clientFramed := transport.New(clientConn, 1<<20)
	serverFramed := transport.New(serverConn, 1<<20)

	serverErr := make(chan error, 1)
	go func() {
		_, err := Accept(serverFramed, ServerConfig{
			Signing:    serverSigning,
			Identities: store,
			Replay:     NewNonceCache(8),
		})
		serverErr <- err
	}()

	_, err := Connect(clientFramed, ClientConfig{
		Signing:   clientSigning,
		Token:     []byte("wrong-token"),
		ServerKey: handshakecrypto.SigningKeyPair{Public: serverSigning.Public},
	})
	if err == nil {
		t.Fatalf("expected client to see a refusal")
	}
	if kind, ok := runtimeerr.Of(err); !ok || kind != runtimeerr.KindAuthRejected {
		t.Fatalf("expected AuthRejected, got %v", err)
	}
	if srvErr := <-serverErr; srvErr == nil {
		t.Fatalf("expected server to report the rejection too")
	}
}

// rawConnect drives the client side of the handshake with a caller-supplied
// nonce instead of Connect's randomly generated one, so replay behavior can
// be exercised deterministically.
func rawConnect(t *testing.T, framed *transport.Framed, clientSigning, serverSigning handshakecrypto.SigningKeyPair, token []byte, clientNonce [32]byte) error {
	t.Helper()
	kx, err := handshakecrypto.GenerateKXKeyPair()
	if err != nil {
		t.Fatalf("client kx keypair: %v", err)
	}
	request := wire.ConnectionRequest{ClientNonce: clientNonce, Message: token}
	if err := sendSigned(framed, clientSigning, request); err != nil {
		return err
	}

	reply, replyData, err := readSigned[wire.HandshakeServerMessage](framed)
	if err != nil {
		return err
	}
	if !handshakecrypto.Verify(serverSigning.Public, replyData.Data, replyData.Signature) {
		t.Fatalf("server reply failed signature verification")
	}
	if reply.Kind == wire.ServerMessageRefused {
		return runtimeerr.New(runtimeerr.KindAuthRejected, errConnectionRefused(reply.Refused.Message))
	}

	response := wire.ChallengeResponse{ServerNonce: reply.Challenge.ServerNonce, KXClientPK: kx.PublicBytes()}
	if err := sendSigned(framed, clientSigning, response); err != nil {
		return err
	}
	accepted, acceptedData, err := readSigned[wire.HandshakeServerMessage](framed)
	if err != nil {
		return err
	}
	if !handshakecrypto.Verify(serverSigning.Public, acceptedData.Data, acceptedData.Signature) {
		t.Fatalf("server accept failed signature verification")
	}
	if accepted.Kind == wire.ServerMessageRefused {
		return runtimeerr.New(runtimeerr.KindAuthRejected, errConnectionRefused(accepted.Refused.Message))
	}
	return nil
}

func TestHandshakeRejectsReplayedNonce(t *testing.T) {
	serverSigning, clientSigning, store := newFixture(t)
	replay := NewNonceCache(8)
	var fixedNonce [32]byte
	fixedNonce[0] = 0x42

	run := func() error {
		clientConn, serverConn := pipe()
		defer clientConn.Close()
		defer serverConn.Close()

		clientFramed := transport.New(clientConn, 1<<20)
		serverFramed := transport.New(serverConn, 1<<20)

		serverErr := make(chan error, 1)
		go func() {
			_, err := Accept(serverFramed, ServerConfig{
				Signing:    serverSigning,
				Identities: store,
				Replay:     replay,
			})
			serverErr <- err
		}()

		clientErr := rawConnect(t, clientFramed, clientSigning, serverSigning, store.token, fixedNonce)
		if clientErr != nil {
			return clientErr
		}
		return <-serverErr
	}

	if err := run(); err != nil {
		t.Fatalf("first handshake: %v", err)
	}
	err := run()
	if err == nil {
		t.Fatalf("expected second handshake reusing the same nonce to be rejected")
	}
	if kind, ok := runtimeerr.Of(err); !ok || kind != runtimeerr.KindAuthRejected {
		t.Fatalf("expected AuthRejected, got %v", err)
	}
}
