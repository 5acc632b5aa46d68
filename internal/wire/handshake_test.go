package wire

import (
	"bytes"
	"testing"
)

func roundTrip(t *testing.T, m interface {
	MarshalBinary() ([]byte, error)
}, into interface {
	UnmarshalBinary([]byte) error
}) []byte {
	t.Helper()
	data, err := m.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	if err := into.UnmarshalBinary(data); err != nil {
		t.Fatalf("UnmarshalBinary: %v", err)
	}
	return data
}

func TestSignedMessageRoundTrip(t *testing.T) {
	in := SignedMessage{Data: []byte("hello")}
	copy(in.Signature[:], bytes.Repeat([]byte{0x07}, 64))

	var out SignedMessage
	roundTrip(t, in, &out)

	if !bytes.Equal(out.Data, in.Data) {
		t.Fatalf("data mismatch: %x", out.Data)
	}
	if out.Signature != in.Signature {
		t.Fatalf("signature mismatch")
	}
}

func TestConnectionRequestRoundTrip(t *testing.T) {
	in := ConnectionRequest{Message: []byte("token:abc")}
	copy(in.ClientNonce[:], bytes.Repeat([]byte{0x11}, 32))

	var out ConnectionRequest
	roundTrip(t, in, &out)

	if out.ClientNonce != in.ClientNonce {
		t.Fatalf("client nonce mismatch")
	}
	if !bytes.Equal(out.Message, in.Message) {
		t.Fatalf("message mismatch: %x", out.Message)
	}
}

func TestServerChallengeRoundTrip(t *testing.T) {
	in := ServerChallenge{}
	copy(in.ServerNonce[:], bytes.Repeat([]byte{0x22}, 32))
	copy(in.KXServerPK[:], bytes.Repeat([]byte{0x33}, 32))

	var out ServerChallenge
	roundTrip(t, in, &out)

	if out.ServerNonce != in.ServerNonce || out.KXServerPK != in.KXServerPK {
		t.Fatalf("challenge mismatch: %+v", out)
	}
}

func TestChallengeResponseRoundTrip(t *testing.T) {
	in := ChallengeResponse{}
	copy(in.ServerNonce[:], bytes.Repeat([]byte{0x44}, 32))
	copy(in.KXClientPK[:], bytes.Repeat([]byte{0x55}, 32))

	var out ChallengeResponse
	roundTrip(t, in, &out)

	if out.ServerNonce != in.ServerNonce || out.KXClientPK != in.KXClientPK {
		t.Fatalf("challenge response mismatch: %+v", out)
	}
}

func TestConnectionAcceptedRoundTrip(t *testing.T) {
	var out ConnectionAccepted
	roundTrip(t, ConnectionAccepted{}, &out)
}

func TestConnectionRefusedRoundTrip(t *testing.T) {
	in := ConnectionRefused{Message: "invalid signature"}
	var out ConnectionRefused
	roundTrip(t, in, &out)
	if out.Message != in.Message {
		t.Fatalf("message mismatch: %q", out.Message)
	}
}

func TestHandshakeServerMessageRoundTripsEachVariant(t *testing.T) {
	challenge := HandshakeServerMessage{Kind: ServerMessageChallenge}
	copy(challenge.Challenge.ServerNonce[:], bytes.Repeat([]byte{0x66}, 32))
	copy(challenge.Challenge.KXServerPK[:], bytes.Repeat([]byte{0x77}, 32))

	var decodedChallenge HandshakeServerMessage
	roundTrip(t, challenge, &decodedChallenge)
	if decodedChallenge.Kind != ServerMessageChallenge {
		t.Fatalf("expected challenge kind, got %v", decodedChallenge.Kind)
	}
	if decodedChallenge.Challenge.ServerNonce != challenge.Challenge.ServerNonce {
		t.Fatalf("challenge payload mismatch")
	}

	accepted := HandshakeServerMessage{Kind: ServerMessageAccepted}
	var decodedAccepted HandshakeServerMessage
	roundTrip(t, accepted, &decodedAccepted)
	if decodedAccepted.Kind != ServerMessageAccepted {
		t.Fatalf("expected accepted kind, got %v", decodedAccepted.Kind)
	}

	refused := HandshakeServerMessage{Kind: ServerMessageRefused, Refused: ConnectionRefused{Message: "invalid token"}}
	var decodedRefused HandshakeServerMessage
	roundTrip(t, refused, &decodedRefused)
	if decodedRefused.Kind != ServerMessageRefused {
		t.Fatalf("expected refused kind, got %v", decodedRefused.Kind)
	}
	if decodedRefused.Refused.Message != "invalid token" {
		t.Fatalf("refused message mismatch: %q", decodedRefused.Refused.Message)
	}
}

func TestUnknownFieldsAreIgnoredOnDecode(t *testing.T) {
	var w recordWriter
	w.putString(tagRefusedMessage, "replay detected")
	w.putString(tag(250), "future-field-from-a-newer-client")

	var out ConnectionRefused
	if err := out.UnmarshalBinary(w.bytes()); err != nil {
		t.Fatalf("UnmarshalBinary: %v", err)
	}
	if out.Message != "replay detected" {
		t.Fatalf("unexpected message: %q", out.Message)
	}
}

func TestDecodeRejectsTruncatedRecord(t *testing.T) {
	var out ConnectionRequest
	if err := out.UnmarshalBinary([]byte{byte(tagConnReqClientNonce), 0xFF}); err == nil {
		t.Fatalf("expected error decoding truncated record")
	}
}

func TestDecodeRejectsMissingRequiredField(t *testing.T) {
	var w recordWriter
	w.putBytes(tagConnReqMessage, []byte("token"))

	var out ConnectionRequest
	if err := out.UnmarshalBinary(w.bytes()); err == nil {
		t.Fatalf("expected error for missing client_nonce")
	}
}
