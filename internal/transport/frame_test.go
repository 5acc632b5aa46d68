package transport

import (
	"bytes"
	"net"
	"testing"
	"time"

	"planetwars/broker/internal/runtimeerr"
)

func pipe() (net.Conn, net.Conn) {
	return net.Pipe()
}

func TestSendPollRoundTrip(t *testing.T) {
	client, server := pipe()
	defer client.Close()
	defer server.Close()

	clientFramed := New(client, 1<<20)
	serverFramed := New(server, 1<<20)

	payload := []byte("hello, router")
	done := make(chan error, 1)
	go func() { done <- clientFramed.Send(payload) }()

	got, err := serverFramed.PollFrame()
	if err != nil {
		t.Fatalf("PollFrame: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload mismatch: %q", got)
	}
	if err := <-done; err != nil {
		t.Fatalf("Send: %v", err)
	}
}

func TestPollFrameRejectsOversizeLength(t *testing.T) {
	client, server := pipe()
	defer client.Close()
	defer server.Close()

	serverFramed := New(server, 16)
	go func() {
		_ = New(client, 1<<20).Send(bytes.Repeat([]byte{1}, 32))
	}()

	_, err := serverFramed.PollFrame()
	if err == nil {
		t.Fatalf("expected ProtocolViolation for oversize frame")
	}
	if kind, ok := runtimeerr.Of(err); !ok || kind != runtimeerr.KindProtocolViolation {
		t.Fatalf("expected ProtocolViolation, got %v", err)
	}
}

func TestSendRejectsOversizePayload(t *testing.T) {
	client, server := pipe()
	defer client.Close()
	defer server.Close()

	clientFramed := New(client, 8)
	err := clientFramed.Send(bytes.Repeat([]byte{1}, 32))
	if err == nil {
		t.Fatalf("expected error sending oversize payload")
	}
	if kind, ok := runtimeerr.Of(err); !ok || kind != runtimeerr.KindProtocolViolation {
		t.Fatalf("expected ProtocolViolation, got %v", err)
	}
}

func TestPollFrameOrderlyCloseReturnsNil(t *testing.T) {
	client, server := pipe()
	defer server.Close()

	serverFramed := New(server, 1<<20)
	client.Close()

	payload, err := serverFramed.PollFrame()
	if err != nil {
		t.Fatalf("expected no error on orderly close, got %v", err)
	}
	if payload != nil {
		t.Fatalf("expected nil payload on orderly close, got %x", payload)
	}
}

func TestPollFrameMidFrameCloseIsConnectionAborted(t *testing.T) {
	client, server := pipe()
	defer server.Close()

	serverFramed := New(server, 1<<20)
	go func() {
		// Write a length prefix promising more bytes than will ever arrive,
		// then close — this must surface as an IO error, not a clean EOF.
		_, _ = client.Write([]byte{0, 0, 0, 10})
		time.Sleep(10 * time.Millisecond)
		client.Close()
	}()

	_, err := serverFramed.PollFrame()
	if err == nil {
		t.Fatalf("expected error for mid-frame close")
	}
	if kind, ok := runtimeerr.Of(err); !ok || kind != runtimeerr.KindIO {
		t.Fatalf("expected IO error kind, got %v", err)
	}
}
