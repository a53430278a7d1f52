// Package wire implements the binary framing spoken on the relay socket.
//
// Every transport message carries exactly one frame: a single kind byte
// followed by the payload. There is no length prefix and no escaping because
// the transport already preserves message boundaries.
package wire

import (
	"errors"
	"fmt"
	"strconv"
)

// Kind is the one-byte discriminant at the start of every frame.
type Kind byte

const (
	// KindHandshake is sent by the server once a session becomes active. The
	// payload is always empty.
	KindHandshake Kind = 0x00

	// KindAudio carries encoded audio in either direction.
	KindAudio Kind = 0x01

	// KindText carries one UTF-8 text fragment from server to client.
	KindText Kind = 0x02
)

// IsKnown reports whether k is one of the kinds defined by the protocol.
func (k Kind) IsKnown() bool {
	switch k {
	case KindHandshake, KindAudio, KindText:
		return true
	}
	return false
}

// String returns a short name for k, or its hex value when unknown.
func (k Kind) String() string {
	switch k {
	case KindHandshake:
		return "handshake"
	case KindAudio:
		return "audio"
	case KindText:
		return "text"
	default:
		return "0x" + strconv.FormatUint(uint64(k), 16)
	}
}

// ErrProtocol is the sentinel wrapped by every [ProtocolError].
var ErrProtocol = errors.New("wire: protocol violation")

// ProtocolError describes an inbound frame that could not be decoded.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("wire: protocol violation: %s", e.Reason)
}

// Is makes errors.Is(err, ErrProtocol) hold for any *ProtocolError.
func (e *ProtocolError) Is(target error) bool {
	return target == ErrProtocol
}

// Message is a decoded frame.
type Message struct {
	Kind    Kind
	Payload []byte
}

// Handshake returns the server's session-active frame.
func Handshake() Message {
	return Message{Kind: KindHandshake}
}

// Audio wraps encoded audio bytes in a frame.
func Audio(b []byte) Message {
	return Message{Kind: KindAudio, Payload: b}
}

// Text wraps a text fragment in a frame.
func Text(s string) Message {
	return Message{Kind: KindText, Payload: []byte(s)}
}

// Bytes returns the wire representation of m.
func (m Message) Bytes() []byte {
	return Encode(m.Kind, m.Payload)
}

// Encode prepends kind to payload. The result never aliases payload.
func Encode(kind Kind, payload []byte) []byte {
	out := make([]byte, 1+len(payload))
	out[0] = byte(kind)
	copy(out[1:], payload)
	return out
}

// Decode splits raw into its kind and payload. Unknown kinds decode without
// error; callers use [Kind.IsKnown] to decide what to do with them. The
// returned payload aliases raw.
func Decode(raw []byte) (Message, error) {
	if len(raw) == 0 {
		return Message{}, &ProtocolError{Reason: "empty message"}
	}
	return Message{Kind: Kind(raw[0]), Payload: raw[1:]}, nil
}
