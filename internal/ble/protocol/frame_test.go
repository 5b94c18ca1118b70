package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestWrapLayout(t *testing.T) {
	got := Wrap(7, OpStatus, []byte{0x01, 0x02})
	want := []byte{0x55, 0x07, 0x06, 0x01, 0x02, 0xAA}
	if !bytes.Equal(got, want) {
		t.Fatalf("Wrap = % x, want % x", got, want)
	}
}

func TestWrapEmptyPayload(t *testing.T) {
	got := Wrap(0, OpFirmware, nil)
	want := []byte{0x55, 0x00, 0x01, 0xAA}
	if !bytes.Equal(got, want) {
		t.Fatalf("Wrap = % x, want % x", got, want)
	}
}

func TestWrapUnwrapAllCountersAndOpcodes(t *testing.T) {
	payloads := [][]byte{nil, {0x00}, bytes.Repeat([]byte{0xAA}, MaxPayload), {0x55, 0xAA, 0x55}}
	for c := 0; c < 256; c++ {
		for op := 0; op < 256; op++ {
			for _, p := range payloads {
				h, got, err := Unwrap(Wrap(uint8(c), Opcode(op), p))
				if err != nil {
					t.Fatalf("counter=%d op=%d: %v", c, op, err)
				}
				if h.Counter != uint8(c) || h.Opcode != Opcode(op) {
					t.Fatalf("header = %v, want counter=%d op=%d", h, c, op)
				}
				if !bytes.Equal(got, p) {
					t.Fatalf("payload = % x, want % x", got, p)
				}
			}
		}
	}
}

func TestUnwrapMalformed(t *testing.T) {
	tests := map[string][]byte{
		"empty":      nil,
		"too short":  {0x55, 0x00, 0xAA},
		"bad start":  {0x54, 0x00, 0x01, 0xAA},
		"bad end":    {0x55, 0x00, 0x01, 0xAB},
		"truncated":  {0x55, 0x00, 0x01, 0x03},
		"both wrong": {0x00, 0x00, 0x00, 0x00},
	}
	for name, frame := range tests {
		t.Run(name, func(t *testing.T) {
			_, _, err := Unwrap(frame)
			if !errors.Is(err, ErrMalformedFrame) {
				t.Fatalf("err = %v, want ErrMalformedFrame", err)
			}
		})
	}
}

func TestUnwrapDoesNotAlias(t *testing.T) {
	frame := Wrap(1, OpStatus, []byte{0x10, 0x20})
	_, p, err := Unwrap(frame)
	if err != nil {
		t.Fatal(err)
	}
	frame[3] = 0xFF
	if p[0] != 0x10 {
		t.Errorf("payload aliases frame: p[0] = 0x%02x", p[0])
	}
}

func TestIntegerHelpers(t *testing.T) {
	b := make([]byte, 5)
	PutUint16(b, 0xBEEF)
	if b[0] != 0xEF || b[1] != 0xBE || Uint16(b) != 0xBEEF {
		t.Errorf("uint16 little endian: % x", b[:2])
	}
	PutUint32(b, 102252)
	if Uint32(b) != 102252 || b[0] != 0x6C {
		t.Errorf("uint32 = %d (% x)", Uint32(b), b[:4])
	}
	PutUint40(b, 0x01_0203_0405)
	if !bytes.Equal(b, []byte{0x05, 0x04, 0x03, 0x02, 0x01}) {
		t.Errorf("uint40 = % x", b)
	}
	if Uint40(b) != 0x01_0203_0405 {
		t.Errorf("Uint40 = %x", Uint40(b))
	}
}

func TestOffsetEncoding(t *testing.T) {
	for v := -MaxBoilTime; v <= MaxBoilTime; v++ {
		b := EncodeOffset(int8(v))
		if int(b) != 0x80+v {
			t.Errorf("EncodeOffset(%d) = 0x%02x", v, b)
		}
		if got := DecodeOffset(b); int(got) != v {
			t.Errorf("DecodeOffset(0x%02x) = %d, want %d", b, got, v)
		}
	}
}

func TestOpcodeString(t *testing.T) {
	if got := OpSync.String(); got != "sync(0x6e)" {
		t.Errorf("OpSync.String() = %q", got)
	}
}
