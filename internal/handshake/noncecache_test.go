package handshake

import "testing"

func nonceOf(b byte) [32]byte {
	var n [32]byte
	n[0] = b
	return n
}

func TestNonceCacheDetectsReplayWithinWindow(t *testing.T) {
	c := NewNonceCache(4)
	n := nonceOf(1)
	if c.SeenRecently(n) {
		t.Fatalf("expected fresh nonce to be unseen")
	}
	c.Record(n)
	if !c.SeenRecently(n) {
		t.Fatalf("expected recorded nonce to be seen")
	}
}

func TestNonceCacheEvictsOldestBeyondCapacity(t *testing.T) {
	c := NewNonceCache(2)
	first := nonceOf(1)
	second := nonceOf(2)
	third := nonceOf(3)

	c.Record(first)
	c.Record(second)
	c.Record(third)

	if c.SeenRecently(first) {
		t.Fatalf("expected oldest nonce to have been evicted")
	}
	if !c.SeenRecently(second) || !c.SeenRecently(third) {
		t.Fatalf("expected the two most recent nonces to remain")
	}
}
