package handshakecrypto

import (
	"encoding/binary"
	"fmt"
)

// Seal authenticated-encrypts plaintext under keys.TX with the given
// sequence number embedded in the low 8 bytes of the nonce (spec §6:
// "sequence is embedded in the nonce"). Callers must increment seq for
// every frame sent under this key and never reuse one.
// sequence number embedded in the nonce.
func (k SessionKeys) Seal(seq uint64, plaintext []byte) []byte {
	nonce := make([]byte, k.TX.NonceSize())
	binary.BigEndian.PutUint64(nonce[len(nonce)-8:], seq)
	return k.TX.Seal(nil, nonce, plaintext, nil)
}

// Open authenticated-decrypts ciphertext under keys.RX, verifying it was
// sealed with the given sequence number.
func (k SessionKeys) Open(seq uint64, ciphertext []byte) ([]byte, error) {
	nonce := make([]byte, k.RX.NonceSize())
	binary.BigEndian.PutUint64(nonce[len(nonce)-8:], seq)
	plaintext, err := k.RX.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("open sealed frame at sequence %d: %w", seq, err)
	}
	return plaintext, nil
}
