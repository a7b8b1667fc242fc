package proto

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
)

// Opcode identifies the kind of a WebSocket frame.
type Opcode uint8

const (
	OpContinuation Opcode = 0x0
	OpText         Opcode = 0x1
	OpBinary       Opcode = 0x2
	OpClose        Opcode = 0x8
	OpPing         Opcode = 0x9
	OpPong         Opcode = 0xA
)

func (o Opcode) String() string {
	switch o {
	case OpContinuation:
		return "continuation"
	case OpText:
		return "text"
	case OpBinary:
		return "binary"
	case OpClose:
		return "close"
	case OpPing:
		return "ping"
	case OpPong:
		return "pong"
	default:
		return fmt.Sprintf("opcode(%#x)", uint8(o))
	}
}

const (
	finBit  = 0x80
	maskBit = 0x80

	// Payload length markers in the second header byte.
	maxInlineLength = 125
	lengthMarker16  = 126
	lengthMarker64  = 127

	// DefaultMaxPayloadSize caps the declared length of an inbound frame.
	DefaultMaxPayloadSize = 16 << 20
)

var (
	// ErrConnectionClosed means the stream ended before a whole frame was read.
	// Callers treat it as "no more messages", not as a failure.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrFrameTooLarge is returned when a frame declares a payload above the limit.
	ErrFrameTooLarge = errors.New("frame too large")
	// ErrInvalidLength is returned for a 64-bit length with the most significant bit set.
	ErrInvalidLength = errors.New("invalid frame length")
)

// payloadChunk is the most ReadFrame allocates ahead of data actually received.
const payloadChunk = 64 << 10

// Frame is a single WebSocket frame.
type Frame struct {
	Fin     bool
	Opcode  Opcode
	Masked  bool
	Mask    [4]byte
	Payload []byte
}

// Bytes encodes the frame for the wire. When Masked is set the payload is
// written XOR-ed with Mask; f.Payload itself is left untouched.
func (f *Frame) Bytes() []byte {
	n := len(f.Payload)

	size := 2 + n
	switch {
	case n > 0xFFFF:
		size += 8
	case n > maxInlineLength:
		size += 2
	}
	if f.Masked {
		size += 4
	}

	buf := make([]byte, 0, size)

	b0 := byte(f.Opcode) & 0x0F
	if f.Fin {
		b0 |= finBit
	}
	var b1 byte
	if f.Masked {
		b1 = maskBit
	}

	switch {
	case n <= maxInlineLength:
		buf = append(buf, b0, b1|byte(n))
	case n <= 0xFFFF:
		buf = append(buf, b0, b1|lengthMarker16)
		buf = binary.BigEndian.AppendUint16(buf, uint16(n))
	default:
		buf = append(buf, b0, b1|lengthMarker64)
		buf = binary.BigEndian.AppendUint64(buf, uint64(n))
	}

	if f.Masked {
		buf = append(buf, f.Mask[:]...)
	}

	start := len(buf)
	buf = append(buf, f.Payload...)
	if f.Masked {
		MaskBytes(buf[start:], f.Mask)
	}
	return buf
}

// EncodeText builds an unmasked, final text frame. Server frames are never masked.
func EncodeText(text string) []byte {
	f := Frame{Fin: true, Opcode: OpText, Payload: []byte(text)}
	return f.Bytes()
}

// MaskBytes XORs p in place with key, byte i against key[i%4].
// Applying it twice with the same key restores the input.
func MaskBytes(p []byte, key [4]byte) {
	for i := range p {
		p[i] ^= key[i%4]
	}
}

// ReadFrame reads one frame from r and unmasks its payload.
// maxPayload of 0 disables the length check.
func ReadFrame(r io.Reader, maxPayload uint64) (*Frame, error) {
	var header [2]byte
	if err := readFull(r, header[:], "header"); err != nil {
		return nil, err
	}

	f := &Frame{
		Fin:    header[0]&finBit != 0,
		Opcode: Opcode(header[0] & 0x0F),
		Masked: header[1]&maskBit != 0,
	}

	length := uint64(header[1] & 0x7F)
	switch length {
	case lengthMarker16:
		var ext [2]byte
		if err := readFull(r, ext[:], "extended length"); err != nil {
			return nil, err
		}
		length = uint64(binary.BigEndian.Uint16(ext[:]))
	case lengthMarker64:
		var ext [8]byte
		if err := readFull(r, ext[:], "extended length"); err != nil {
			return nil, err
		}
		length = binary.BigEndian.Uint64(ext[:])
		if length>>63 != 0 {
			return nil, fmt.Errorf("%w: %#x", ErrInvalidLength, length)
		}
	}

	if maxPayload > 0 && length > maxPayload {
		return nil, fmt.Errorf("%w: %d bytes (limit %d)", ErrFrameTooLarge, length, maxPayload)
	}
	if length > math.MaxInt {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
	}

	if f.Masked {
		if err := readFull(r, f.Mask[:], "mask key"); err != nil {
			return nil, err
		}
	}

	payload, err := readPayload(r, int64(length))
	if err != nil {
		return nil, err
	}
	f.Payload = payload
	if f.Masked {
		MaskBytes(f.Payload, f.Mask)
	}
	return f, nil
}

// DecodeText reads one frame and returns its payload as text, whatever the opcode.
func DecodeText(r io.Reader) (string, error) {
	f, err := ReadFrame(r, DefaultMaxPayloadSize)
	if err != nil {
		return "", err
	}
	return string(f.Payload), nil
}

func readFull(r io.Reader, buf []byte, what string) error {
	if _, err := io.ReadFull(r, buf); err != nil {
		if isClosed(err) {
			return ErrConnectionClosed
		}
		return fmt.Errorf("read frame %s: %w", what, err)
	}
	return nil
}

// readPayload grows the buffer as bytes arrive, so a declared length alone
// never allocates more than payloadChunk.
func readPayload(r io.Reader, n int64) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(int(min(n, payloadChunk)))
	if _, err := io.CopyN(&buf, r, n); err != nil {
		if isClosed(err) {
			return nil, ErrConnectionClosed
		}
		return nil, fmt.Errorf("read frame payload: %w", err)
	}
	return buf.Bytes(), nil
}

func isClosed(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe)
}
