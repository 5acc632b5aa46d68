package broker

import (
	"testing"
	"time"

	"planetwars/broker/internal/ids"
	"planetwars/broker/internal/logging"
	"planetwars/broker/internal/wire"
)

func echoSpawner(id ids.ID, received chan<- wire.Message) Spawner {
	return func(handle *Handle) (ids.ID, Inbox, func()) {
		inbox := NewInbox()
		driver := func() {
			for {
				msg, ok := inbox.Pop()
				if !ok {
					return
				}
				received <- msg
			}
		}
		return id, inbox, driver
	}
}

func TestSendRoutesToKnownReceiver(t *testing.T) {
	b := New(logging.NewTestLogger())
	go b.Run()

	handle := b.Handle()
	defer handle.Close()

	target := ids.New()
	received := make(chan wire.Message, 1)
	handle.Spawn(echoSpawner(target, received))

	// Give the spawn command time to register before sending.
	time.Sleep(10 * time.Millisecond)

	sender := ids.New()
	handle.Send(wire.Message{Sender: sender, Receiver: target, Kind: wire.KindGreeting})

	select {
	case msg := <-received:
		if msg.Receiver != target {
			t.Fatalf("expected receiver %v, got %v", target, msg.Receiver)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for routed message")
	}
}

func TestSendToUnknownReceiverIsDroppedSilently(t *testing.T) {
	b := New(logging.NewTestLogger())
	go b.Run()

	handle := b.Handle()
	defer handle.Close()

	// No panic, no delivery, no observable effect beyond a logged warning.
	handle.Send(wire.Message{Sender: ids.New(), Receiver: ids.New(), Kind: wire.KindData})
	time.Sleep(10 * time.Millisecond)
}

func TestUnregisterRemovesActorFromRegistry(t *testing.T) {
	b := New(logging.NewTestLogger())
	go b.Run()

	handle := b.Handle()
	defer handle.Close()

	target := ids.New()
	received := make(chan wire.Message, 1)
	handle.Spawn(echoSpawner(target, received))
	time.Sleep(10 * time.Millisecond)

	handle.Unregister(target)
	time.Sleep(10 * time.Millisecond)

	handle.Send(wire.Message{Sender: ids.New(), Receiver: target, Kind: wire.KindData})
	select {
	case msg := <-received:
		t.Fatalf("expected no delivery after unregister, got %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRunTerminatesWhenRegistryAndHandlesAreEmpty(t *testing.T) {
	b := New(logging.NewTestLogger())
	runDone := make(chan struct{})
	go func() {
		b.Run()
		close(runDone)
	}()

	handle := b.Handle()
	handle.Close()

	select {
	case <-runDone:
	case <-time.After(time.Second):
		t.Fatal("expected Run to return once registry and handles are empty")
	}
}
