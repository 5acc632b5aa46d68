package wire

import (
	"testing"

	"planetwars/broker/internal/ids"
)

func TestActorJoinedRoundTrip(t *testing.T) {
	in := ActorJoined{ID: ids.New()}
	var out ActorJoined
	roundTrip(t, in, &out)
	if out.ID != in.ID {
		t.Fatalf("id mismatch: %v vs %v", out.ID, in.ID)
	}
}

func TestGreetingRoundTrip(t *testing.T) {
	in := Greeting{Message: "hello there"}
	var out Greeting
	roundTrip(t, in, &out)
	if out.Message != in.Message {
		t.Fatalf("message mismatch: %q", out.Message)
	}
}

func TestLinkClosedRoundTrip(t *testing.T) {
	in := LinkClosed{Foreign: ids.New()}
	var out LinkClosed
	roundTrip(t, in, &out)
	if out.Foreign != in.Foreign {
		t.Fatalf("foreign mismatch: %v vs %v", out.Foreign, in.Foreign)
	}
}
