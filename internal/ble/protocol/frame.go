// Package protocol implements the Redmond (R4S) binary protocol spoken by
// Ready for Sky kitchen appliances over GATT notifications: frame codec,
// typed responses and the command catalogues of both firmware eras.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Frame markers, fixed for all traffic in both directions.
const (
	StartByte byte = 0x55
	EndByte   byte = 0xAA
)

// MaxPayload is the largest payload a frame carries.
const MaxPayload = 16

// frameOverhead is start marker + counter + opcode + end marker.
const frameOverhead = 4

// ErrMalformedFrame is returned by Unwrap for frames that are too short or
// carry the wrong start/end markers.
var ErrMalformedFrame = errors.New("protocol: malformed frame")

// Header identifies the request a frame belongs to.
type Header struct {
	Counter uint8
	Opcode  Opcode
}

func (h Header) String() string {
	return fmt.Sprintf("counter=%d opcode=%s", h.Counter, h.Opcode)
}

// Wrap encodes a frame:
//
//	0x55 | counter | opcode | payload (0..16 bytes) | 0xAA
//
// There is no length field; the payload size is fixed per command.
func Wrap(counter uint8, op Opcode, payload []byte) []byte {
	buf := make([]byte, 0, len(payload)+frameOverhead)
	buf = append(buf, StartByte, counter, byte(op))
	buf = append(buf, payload...)
	return append(buf, EndByte)
}

// Unwrap decodes a frame produced by Wrap. The returned payload does not
// alias frame.
func Unwrap(frame []byte) (Header, []byte, error) {
	if len(frame) < frameOverhead {
		return Header{}, nil, fmt.Errorf("%w: %d bytes", ErrMalformedFrame, len(frame))
	}
	if frame[0] != StartByte {
		return Header{}, nil, fmt.Errorf("%w: start marker 0x%02x", ErrMalformedFrame, frame[0])
	}
	if end := frame[len(frame)-1]; end != EndByte {
		return Header{}, nil, fmt.Errorf("%w: end marker 0x%02x", ErrMalformedFrame, end)
	}
	payload := make([]byte, len(frame)-frameOverhead)
	copy(payload, frame[3:len(frame)-1])
	return Header{Counter: frame[1], Opcode: Opcode(frame[2])}, payload, nil
}

// Little-endian field helpers for integers embedded at fixed payload offsets.

// PutUint16 writes v into b[0:2].
func PutUint16(b []byte, v uint16) { binary.LittleEndian.PutUint16(b, v) }

// Uint16 reads b[0:2].
func Uint16(b []byte) uint16 { return binary.LittleEndian.Uint16(b) }

// PutUint32 writes v into b[0:4].
func PutUint32(b []byte, v uint32) { binary.LittleEndian.PutUint32(b, v) }

// Uint32 reads b[0:4].
func Uint32(b []byte) uint32 { return binary.LittleEndian.Uint32(b) }

// PutUint40 writes the low five bytes of v into b[0:5].
func PutUint40(b []byte, v uint64) {
	_ = b[4]
	for i := 0; i < 5; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

// Uint40 reads a five byte integer from b[0:5].
func Uint40(b []byte) uint64 {
	_ = b[4]
	var v uint64
	for i := 4; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

// offsetBase is the byte value that encodes a relative offset of zero.
const offsetBase = 0x80

// EncodeOffset maps a signed offset onto the relative byte the firmware uses
// (0x80 + offset).
func EncodeOffset(v int8) byte { return byte(offsetBase + int(v)) }

// DecodeOffset is the inverse of EncodeOffset.
func DecodeOffset(b byte) int8 { return int8(int(b) - offsetBase) }

// need returns a DecodeError when p is shorter than n bytes.
func need(p []byte, n int) error {
	if len(p) < n {
		return &DecodeError{Want: n, Got: len(p)}
	}
	return nil
}
