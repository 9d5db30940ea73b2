package codec

import (
	"encoding/binary"
	"errors"
	"testing"
)

func TestPackDecodeAudio(t *testing.T) {
	payload := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	frame, err := Pack(KindAudio, FlagEndOfStream, payload)
	if err != nil {
		t.Fatalf("Pack returned error: %v", err)
	}
	if len(frame) != HeaderSize+len(payload) {
		t.Fatalf("len(frame)=%d, want %d", len(frame), HeaderSize+len(payload))
	}

	msg, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	if msg.Kind != KindAudio || !msg.Has(FlagEndOfStream) || msg.Has(FlagPassthrough) {
		t.Fatalf("Decode kind=%v flags=%b, want audio with end-of-stream", msg.Kind, msg.Flags)
	}
	if string(msg.Payload) != string(payload) {
		t.Fatalf("Decode payload=%v, want %v", msg.Payload, payload)
	}
}

func TestDecodeCommandPayload(t *testing.T) {
	payload := []byte(`{"type":"heartbeat"}`)
	frame := make([]byte, HeaderSize+len(payload))
	frame[0] = byte(KindCommand)
	binary.BigEndian.PutUint16(frame[2:4], uint16(len(payload)))
	copy(frame[HeaderSize:], payload)

	msg, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode(cmd) returned error: %v", err)
	}
	if msg.Kind != KindCommand {
		t.Fatalf("Decode(cmd) kind=%v, want %v", msg.Kind, KindCommand)
	}
	if string(msg.Payload) != string(payload) {
		t.Fatalf("Decode(cmd) payload=%q, want %q", string(msg.Payload), string(payload))
	}
}

func TestDecodeErrors(t *testing.T) {
	cases := []struct {
		name  string
		frame []byte
		want  error
	}{
		{"short", []byte{0, 0, 0}, ErrShortFrame},
		{"size", []byte{0, 0, 0, 10, 1, 2}, ErrPayloadSize},
		{"kind", []byte{7, 0, 0, 0}, ErrUnknownKind},
		{"odd audio", []byte{0, 0, 0, 3, 1, 2, 3}, ErrOddAudio},
	}
	for _, tc := range cases {
		if _, err := Decode(tc.frame); !errors.Is(err, tc.want) {
			t.Fatalf("%s: err=%v, want %v", tc.name, err, tc.want)
		}
	}
}

func TestPackRejectsOversizedPayload(t *testing.T) {
	if _, err := Pack(KindAudio, 0, make([]byte, MaxPayload+1)); !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("err=%v, want ErrPayloadTooLarge", err)
	}
}

func TestAppendFrameReusesBuffer(t *testing.T) {
	buf := make([]byte, 0, 64)
	out, err := AppendFrame(buf, KindCommand, 0, []byte("{}"))
	if err != nil {
		t.Fatalf("AppendFrame error: %v", err)
	}
	if &out[0] != &buf[:1][0] {
		t.Fatal("AppendFrame reallocated a buffer with enough capacity")
	}
}
