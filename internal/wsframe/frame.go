// Package wsframe decodes raw websocket frames received from the upstream
// Jetstream connection and extracts the `time_us` field from each frame's
// JSON payload.
package wsframe

import (
	"encoding/binary"
	"errors"

	"github.com/tidwall/gjson"
)

// Opcode identifies a websocket frame's opcode (RFC 6455 §11.8).
type Opcode byte

const (
	OpcodeContinuation Opcode = 0x0
	OpcodeText         Opcode = 0x1
	OpcodeBinary       Opcode = 0x2
	OpcodeClose        Opcode = 0x8
	OpcodePing         Opcode = 0x9
	OpcodePong         Opcode = 0xA
)

// MaxFramePayload bounds a single frame's payload length, protecting the
// Copier from an upstream sending an unreasonably large frame.
const MaxFramePayload = 1 << 24 // 16 MiB

// ErrIncompleteFrame is returned when raw does not yet contain a full frame;
// the caller should read more bytes and retry.
var ErrIncompleteFrame = errors.New("wsframe: incomplete frame")

// ErrPayloadTooLarge is returned when a frame's declared payload length
// exceeds MaxFramePayload.
var ErrPayloadTooLarge = errors.New("wsframe: payload exceeds maximum allowed size")

// Frame is a decoded view into a raw byte slice: Header+Payload alias raw,
// so decoding a frame never copies the upstream bytes: they are later
// appended to the spool verbatim.
type Frame struct {
	Raw        []byte // header + payload, as received
	HeaderLen  int
	FIN        bool
	Opcode     Opcode
	Masked     bool
	PayloadLen int64
}

// Payload returns the frame's payload bytes (still masked, if Masked).
func (f *Frame) Payload() []byte {
	return f.Raw[f.HeaderLen:]
}

// ReservedBits returns the RSV1-3 bits of the first header byte; a frame
// from an upstream using no extensions has these all zero.
func (f *Frame) ReservedBits() byte {
	return f.Raw[0] & 0b0111_0000
}

// Decode parses one websocket frame from the front of raw. On success it
// returns the frame and the number of bytes consumed. If raw does not yet
// contain a complete frame, it returns ErrIncompleteFrame and the caller
// should read more bytes and retry.
func Decode(raw []byte) (*Frame, int, error) {
	if len(raw) < 2 {
		return nil, 0, ErrIncompleteFrame
	}
	fin := raw[0]&0x80 != 0
	opcode := Opcode(raw[0] & 0x0F)
	masked := raw[1]&0x80 != 0
	length := int64(raw[1] & 0x7F)
	offset := 2

	switch length {
	case 126:
		if len(raw) < offset+2 {
			return nil, 0, ErrIncompleteFrame
		}
		length = int64(binary.BigEndian.Uint16(raw[offset:]))
		offset += 2
	case 127:
		if len(raw) < offset+8 {
			return nil, 0, ErrIncompleteFrame
		}
		length = int64(binary.BigEndian.Uint64(raw[offset:]))
		offset += 8
	}

	if length < 0 || length > MaxFramePayload {
		return nil, 0, ErrPayloadTooLarge
	}

	if masked {
		offset += 4
	}

	total := offset + int(length)
	if len(raw) < total {
		return nil, 0, ErrIncompleteFrame
	}

	return &Frame{
		Raw:        raw[:total],
		HeaderLen:  offset,
		FIN:        fin,
		Opcode:     opcode,
		Masked:     masked,
		PayloadLen: length,
	}, total, nil
}

// TimeMicros locates the numeric `time_us` field in payload without a full
// JSON unmarshal. Returns false if the field is absent or not a number.
func TimeMicros(payload []byte) (uint64, bool) {
	res := gjson.GetBytes(payload, "time_us")
	if !res.Exists() || res.Type != gjson.Number {
		return 0, false
	}
	return res.Uint(), true
}
