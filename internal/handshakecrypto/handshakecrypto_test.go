package handshakecrypto

import (
	"bytes"
	"testing"
)

func TestSignAndVerifyRoundTrip(t *testing.T) {
	kp, err := GenerateSigningKeyPair()
	if err != nil {
		t.Fatalf("GenerateSigningKeyPair: %v", err)
	}
	data := []byte("connection-request-payload")
	sig := kp.Sign(data)
	if !Verify(kp.Public, data, sig) {
		t.Fatalf("expected signature to verify")
	}
}

func TestVerifyRejectsTamperedData(t *testing.T) {
	kp, err := GenerateSigningKeyPair()
	if err != nil {
		t.Fatalf("GenerateSigningKeyPair: %v", err)
	}
	sig := kp.Sign([]byte("original"))
	if Verify(kp.Public, []byte("tampered"), sig) {
		t.Fatalf("expected verification to fail on tampered data")
	}
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	a, _ := GenerateSigningKeyPair()
	b, _ := GenerateSigningKeyPair()
	sig := a.Sign([]byte("hello"))
	if Verify(b.Public, []byte("hello"), sig) {
		t.Fatalf("expected verification under the wrong key to fail")
	}
}

func TestKXSharedSecretAgrees(t *testing.T) {
	client, err := GenerateKXKeyPair()
	if err != nil {
		t.Fatalf("client keypair: %v", err)
	}
	server, err := GenerateKXKeyPair()
	if err != nil {
		t.Fatalf("server keypair: %v", err)
	}

	clientSecret, err := client.SharedSecret(server.PublicBytes())
	if err != nil {
		t.Fatalf("client shared secret: %v", err)
	}
	serverSecret, err := server.SharedSecret(client.PublicBytes())
	if err != nil {
		t.Fatalf("server shared secret: %v", err)
	}
	if !bytes.Equal(clientSecret, serverSecret) {
		t.Fatalf("shared secrets disagree")
	}
}

func TestDeriveSessionKeysAreAsymmetricByRole(t *testing.T) {
	client, _ := GenerateKXKeyPair()
	server, _ := GenerateKXKeyPair()
	shared, err := client.SharedSecret(server.PublicBytes())
	if err != nil {
		t.Fatalf("shared secret: %v", err)
	}

	var clientNonce, serverNonce [32]byte
	clientNonce[0] = 0xAA
	serverNonce[0] = 0xBB

	clientKeys, err := DeriveSessionKeys(shared, clientNonce, serverNonce, true)
	if err != nil {
		t.Fatalf("client DeriveSessionKeys: %v", err)
	}
	serverKeys, err := DeriveSessionKeys(shared, clientNonce, serverNonce, false)
	if err != nil {
		t.Fatalf("server DeriveSessionKeys: %v", err)
	}

	plaintext := []byte("turn-command-payload")
	sealed := clientKeys.Seal(1, plaintext)
	opened, err := serverKeys.Open(1, sealed)
	if err != nil {
		t.Fatalf("server failed to open client's frame: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Fatalf("round-tripped plaintext mismatch: %q", opened)
	}

	// The reverse direction must use a distinct derived key.
	sealedFromServer := serverKeys.Seal(1, plaintext)
	if _, err := clientKeys.Open(1, sealedFromServer); err != nil {
		t.Fatalf("client failed to open server's frame: %v", err)
	}
}

func TestOpenRejectsWrongSequence(t *testing.T) {
	client, _ := GenerateKXKeyPair()
	server, _ := GenerateKXKeyPair()
	shared, _ := client.SharedSecret(server.PublicBytes())

	var clientNonce, serverNonce [32]byte
	clientKeys, _ := DeriveSessionKeys(shared, clientNonce, serverNonce, true)
	serverKeys, _ := DeriveSessionKeys(shared, clientNonce, serverNonce, false)

	sealed := clientKeys.Seal(5, []byte("payload"))
	if _, err := serverKeys.Open(6, sealed); err == nil {
		t.Fatalf("expected Open at the wrong sequence to fail")
	}
}
