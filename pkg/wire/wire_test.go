package wire_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/MrWong99/voxrelay/pkg/wire"
)

func TestEncode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		kind    wire.Kind
		payload []byte
		want    []byte
	}{
		{name: "handshake", kind: wire.KindHandshake, payload: nil, want: []byte{0x00}},
		{name: "audio", kind: wire.KindAudio, payload: []byte{0xAA, 0xBB}, want: []byte{0x01, 0xAA, 0xBB}},
		{name: "text", kind: wire.KindText, payload: []byte(" hello"), want: append([]byte{0x02}, " hello"...)},
		{name: "unknown kind", kind: 0x07, payload: []byte{1}, want: []byte{0x07, 0x01}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := wire.Encode(tt.kind, tt.payload)
			if !bytes.Equal(got, tt.want) {
				t.Errorf("Encode: got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEncode_DoesNotAliasPayload(t *testing.T) {
	t.Parallel()
	payload := []byte{1, 2, 3}
	out := wire.Encode(wire.KindAudio, payload)
	payload[0] = 9
	if out[1] != 1 {
		t.Errorf("encoded frame changed after payload mutation: got %d, want 1", out[1])
	}
}

func TestDecode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		raw       []byte
		wantKind  wire.Kind
		wantBody  []byte
		wantKnown bool
	}{
		{name: "handshake", raw: []byte{0x00}, wantKind: wire.KindHandshake, wantBody: []byte{}, wantKnown: true},
		{name: "audio", raw: []byte{0x01, 4, 5}, wantKind: wire.KindAudio, wantBody: []byte{4, 5}, wantKnown: true},
		{name: "audio without payload", raw: []byte{0x01}, wantKind: wire.KindAudio, wantBody: []byte{}, wantKnown: true},
		{name: "text", raw: append([]byte{0x02}, "hi"...), wantKind: wire.KindText, wantBody: []byte("hi"), wantKnown: true},
		{name: "unknown kind", raw: []byte{0x07, 0xFF}, wantKind: 0x07, wantBody: []byte{0xFF}, wantKnown: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			msg, err := wire.Decode(tt.raw)
			if err != nil {
				t.Fatalf("Decode: unexpected error: %v", err)
			}
			if msg.Kind != tt.wantKind {
				t.Errorf("kind: got %v, want %v", msg.Kind, tt.wantKind)
			}
			if !bytes.Equal(msg.Payload, tt.wantBody) {
				t.Errorf("payload: got %v, want %v", msg.Payload, tt.wantBody)
			}
			if msg.Kind.IsKnown() != tt.wantKnown {
				t.Errorf("IsKnown: got %v, want %v", msg.Kind.IsKnown(), tt.wantKnown)
			}
		})
	}
}

func TestDecode_Empty(t *testing.T) {
	t.Parallel()
	_, err := wire.Decode(nil)
	if err == nil {
		t.Fatal("expected error for empty message")
	}
	if !errors.Is(err, wire.ErrProtocol) {
		t.Errorf("errors.Is(err, ErrProtocol) = false for %v", err)
	}
	var pe *wire.ProtocolError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *ProtocolError, got %T", err)
	}
	if pe.Reason == "" {
		t.Error("ProtocolError.Reason is empty")
	}
}

func TestMessageBytes(t *testing.T) {
	t.Parallel()
	got := wire.Text(" world").Bytes()
	msg, err := wire.Decode(got)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if msg.Kind != wire.KindText || string(msg.Payload) != " world" {
		t.Errorf("got %v %q, want text \" world\"", msg.Kind, msg.Payload)
	}
	if hs := wire.Handshake().Bytes(); !bytes.Equal(hs, []byte{0x00}) {
		t.Errorf("handshake bytes: got %v, want [0]", hs)
	}
}

func TestKindString(t *testing.T) {
	t.Parallel()
	tests := []struct {
		kind wire.Kind
		want string
	}{
		{wire.KindHandshake, "handshake"},
		{wire.KindAudio, "audio"},
		{wire.KindText, "text"},
		{0x07, "0x7"},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("Kind(%d).String(): got %q, want %q", byte(tt.kind), got, tt.want)
		}
	}
}
