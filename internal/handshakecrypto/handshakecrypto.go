// Package handshakecrypto implements the signing and key-exchange
// primitives the handshake engine composes (spec §4.2): Ed25519 signing
// keys prove possession of a registered identity; an X25519 exchange
// between ephemeral keypairs derives a shared secret; HKDF over that
// secret derives an asymmetric (rx, tx) pair of ChaCha20-Poly1305 AEAD
// session keys.
package handshakecrypto

import (
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// SigningKeyPair is an Ed25519 identity keypair.
type SigningKeyPair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// GenerateSigningKeyPair mints a fresh Ed25519 identity keypair.
func GenerateSigningKeyPair() (SigningKeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return SigningKeyPair{}, fmt.Errorf("generate signing keypair: %w", err)
	}
	return SigningKeyPair{Public: pub, Private: priv}, nil
}

// Sign produces a detached signature over data.
func (kp SigningKeyPair) Sign(data []byte) [64]byte {
	var sig [64]byte
	copy(sig[:], ed25519.Sign(kp.Private, data))
	return sig
}

// Verify checks a detached signature over data against pub.
func Verify(pub ed25519.PublicKey, data []byte, signature [64]byte) bool {
	return ed25519.Verify(pub, data, signature[:])
}

// KXKeyPair is an ephemeral X25519 key-exchange keypair.
type KXKeyPair struct {
	private *ecdh.PrivateKey
}

// GenerateKXKeyPair mints a fresh ephemeral X25519 keypair.
func GenerateKXKeyPair() (KXKeyPair, error) {
	priv, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return KXKeyPair{}, fmt.Errorf("generate kx keypair: %w", err)
	}
	return KXKeyPair{private: priv}, nil
}

// PublicBytes returns the 32-byte wire encoding of the public key.
func (kp KXKeyPair) PublicBytes() [32]byte {
	var out [32]byte
	copy(out[:], kp.private.PublicKey().Bytes())
	return out
}

// SharedSecret performs the X25519 exchange against a peer's public key
// bytes.
func (kp KXKeyPair) SharedSecret(peerPublic [32]byte) ([]byte, error) {
	peerKey, err := ecdh.X25519().NewPublicKey(peerPublic[:])
	if err != nil {
		return nil, fmt.Errorf("parse peer kx public key: %w", err)
	}
	secret, err := kp.private.ECDH(peerKey)
	if err != nil {
		return nil, fmt.Errorf("compute shared secret: %w", err)
	}
	return secret, nil
}

// SessionKeys holds the asymmetric per-direction AEAD keys a completed
// handshake derives: a party's tx key is its peer's rx key (spec §4.2 "the
// pair is asymmetric by role (client tx = server rx)").
type SessionKeys struct {
	RX cipher.AEAD
	TX cipher.AEAD
}

// DeriveSessionKeys expands the raw X25519 shared secret into two distinct
// ChaCha20-Poly1305 AEAD keys via HKDF-SHA256, one per direction, salted by
// the handshake's two nonces so a session is bound to this specific
// exchange. isClient selects which derived key serves as rx vs tx.
func DeriveSessionKeys(sharedSecret []byte, clientNonce, serverNonce [32]byte, isClient bool) (SessionKeys, error) {
	salt := append(append([]byte{}, clientNonce[:]...), serverNonce[:]...)

	clientKey, err := deriveAEADKey(sharedSecret, salt, []byte("client-tx"))
	if err != nil {
		return SessionKeys{}, err
	}
	serverKey, err := deriveAEADKey(sharedSecret, salt, []byte("server-tx"))
	if err != nil {
		return SessionKeys{}, err
	}

	if isClient {
		return SessionKeys{TX: clientKey, RX: serverKey}, nil
	}
	return SessionKeys{TX: serverKey, RX: clientKey}, nil
}

func deriveAEADKey(secret, salt, info []byte) (cipher.AEAD, error) {
	h := hkdf.New(sha256.New, secret, salt, info)
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(h, key); err != nil {
		return nil, fmt.Errorf("derive session key: %w", err)
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("construct aead: %w", err)
	}
	return aead, nil
}
