// Package codec frames the binary stream protocol spoken on /stream.
//
// Every websocket binary message is a 4-byte header followed by the payload:
//
//	byte 0    payload kind (0 audio, 1 command)
//	byte 1    flags
//	byte 2-3  payload length, big endian
//
// Audio payloads are interleaved stereo PCM16 little endian. Command payloads
// are JSON objects carrying a "type" field.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// HeaderSize is the fixed frame header length.
	HeaderSize = 4
	// MaxPayload is the largest payload a header can describe.
	MaxPayload = 0xFFFF
	// BytesPerFrame is the size of one stereo PCM16 frame.
	BytesPerFrame = 4
	// MaxAudioFrames is the largest callback one message can carry.
	MaxAudioFrames = MaxPayload / BytesPerFrame
)

// Kind describes the payload category.
type Kind uint8

const (
	// KindAudio carries PCM16 stereo frames.
	KindAudio Kind = iota
	// KindCommand carries a JSON command.
	KindCommand
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindAudio:
		return "audio"
	case KindCommand:
		return "command"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

const (
	// FlagEndOfStream marks the last audio message of a session.
	FlagEndOfStream uint8 = 1 << iota
	// FlagPassthrough is set by the server on audio that bypassed suppression.
	FlagPassthrough
)

var (
	ErrShortFrame      = errors.New("codec: frame shorter than header")
	ErrPayloadSize     = errors.New("codec: payload length exceeds frame")
	ErrUnknownKind     = errors.New("codec: unsupported payload kind")
	ErrPayloadTooLarge = errors.New("codec: payload too large")
	ErrOddAudio        = errors.New("codec: audio payload is not whole stereo frames")
)

// Message is one decoded frame. Payload aliases the input buffer.
type Message struct {
	Kind    Kind
	Flags   uint8
	Payload []byte
}

// Has reports whether flag is set.
func (m Message) Has(flag uint8) bool {
	return m.Flags&flag != 0
}

// Decode parses a binary frame. Bytes past the declared length are ignored.
func Decode(frame []byte) (Message, error) {
	if len(frame) < HeaderSize {
		return Message{}, ErrShortFrame
	}
	kind := Kind(frame[0])
	size := int(binary.BigEndian.Uint16(frame[2:4]))
	if size > len(frame)-HeaderSize {
		return Message{}, fmt.Errorf("%w: header=%d frame=%d", ErrPayloadSize, size, len(frame)-HeaderSize)
	}
	msg := Message{Kind: kind, Flags: frame[1], Payload: frame[HeaderSize : HeaderSize+size]}
	switch kind {
	case KindAudio:
		if size%BytesPerFrame != 0 {
			return Message{}, fmt.Errorf("%w: %d bytes", ErrOddAudio, size)
		}
		return msg, nil
	case KindCommand:
		return msg, nil
	default:
		return Message{}, fmt.Errorf("%w: %d", ErrUnknownKind, frame[0])
	}
}

// Pack builds a frame for payload.
func Pack(kind Kind, flags uint8, payload []byte) ([]byte, error) {
	return AppendFrame(nil, kind, flags, payload)
}

// AppendFrame appends a framed payload to dst so callers can reuse buffers.
func AppendFrame(dst []byte, kind Kind, flags uint8, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return dst, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}
	var head [HeaderSize]byte
	head[0] = byte(kind)
	head[1] = flags
	binary.BigEndian.PutUint16(head[2:4], uint16(len(payload)))
	dst = append(dst, head[:]...)
	return append(dst, payload...), nil
}
