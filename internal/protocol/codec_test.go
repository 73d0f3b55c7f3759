package protocol

import (
	"bytes"
	"testing"

	"github.com/rudransh-shrivastava/gossip-it/internal/identity"
)

func TestCodecEnvelopeRoundTrip(t *testing.T) {
	codec := NewCodec()
	env := &Envelope{
		Topic:     "test-topic",
		Payload:   []byte("hello"),
		Sender:    identity.PeerID("abcdef0123456789abcd"),
		PublicKey: bytes.Repeat([]byte{0x42}, 32),
		Signature: []byte{0xde, 0xad, 0xbe, 0xef},
	}

	data, err := codec.EncodeToBytes(env)
	if err != nil {
		t.Fatalf("EncodeToBytes failed: %v", err)
	}

	msg, err := codec.DecodeFromBytes(data)
	if err != nil {
		t.Fatalf("DecodeFromBytes failed: %v", err)
	}

	got, ok := msg.(*Envelope)
	if !ok {
		t.Fatalf("expected *Envelope, got %T", msg)
	}
	if got.Topic != env.Topic {
		t.Errorf("topic: expected %q, got %q", env.Topic, got.Topic)
	}
	if !bytes.Equal(got.Payload, env.Payload) {
		t.Errorf("payload: expected %q, got %q", env.Payload, got.Payload)
	}
	if got.Sender != env.Sender {
		t.Errorf("sender: expected %s, got %s", env.Sender, got.Sender)
	}
	if !bytes.Equal(got.PublicKey, env.PublicKey) {
		t.Error("public key mangled in transit")
	}
	if !bytes.Equal(got.Signature, env.Signature) {
		t.Error("signature mangled in transit")
	}
}

func TestCodecControlMessages(t *testing.T) {
	codec := NewCodec()
	msgs := []Message{
		&Subscribe{Topic: "a"},
		&Unsubscribe{Topic: "b"},
		&Graft{Topic: "c"},
		&Prune{Topic: "d"},
		&Ping{},
		&Pong{},
	}

	for _, msg := range msgs {
		data, err := codec.EncodeToBytes(msg)
		if err != nil {
			t.Fatalf("encode %s: %v", msg.Type(), err)
		}
		got, err := codec.DecodeFromBytes(data)
		if err != nil {
			t.Fatalf("decode %s: %v", msg.Type(), err)
		}
		if got.Type() != msg.Type() {
			t.Errorf("expected type %s, got %s", msg.Type(), got.Type())
		}
	}
}

func TestCodecStream(t *testing.T) {
	// Messages written back to back with fresh encoders must decode one at
	// a time from the same reader, since sessions reuse one stream.
	codec := NewCodec()
	var buf bytes.Buffer

	if err := codec.Encode(&buf, &Subscribe{Topic: "a"}); err != nil {
		t.Fatalf("encode first: %v", err)
	}
	if err := codec.Encode(&buf, &Graft{Topic: "a"}); err != nil {
		t.Fatalf("encode second: %v", err)
	}

	first, err := codec.Decode(&buf)
	if err != nil {
		t.Fatalf("decode first: %v", err)
	}
	if first.Type() != MsgSubscribe {
		t.Errorf("expected SUBSCRIBE first, got %s", first.Type())
	}

	second, err := codec.Decode(&buf)
	if err != nil {
		t.Fatalf("decode second: %v", err)
	}
	if second.Type() != MsgGraft {
		t.Errorf("expected GRAFT second, got %s", second.Type())
	}
}

func TestDecodeGarbage(t *testing.T) {
	codec := NewCodec()
	if _, err := codec.DecodeFromBytes([]byte("not a gob stream")); err == nil {
		t.Error("expected error decoding garbage")
	}
}

func TestMessageTypeString(t *testing.T) {
	if got := MsgEnvelope.String(); got != "ENVELOPE" {
		t.Errorf("expected ENVELOPE, got %s", got)
	}
	if got := MessageType(0x7777).String(); got != "UNKNOWN" {
		t.Errorf("expected UNKNOWN, got %s", got)
	}
}
