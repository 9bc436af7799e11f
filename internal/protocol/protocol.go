// Package protocol implements the petrel wire format: a fixed 8-byte header
// carrying a message type and payload length, followed by the raw payload.
//
// All multi-byte header fields are big-endian. The type enum is the whole
// contract; there is no version field and no compression.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MessageType identifies the meaning of a frame's payload.
type MessageType uint32

// Message type codes, grouped by direction. 0x1X are session commands,
// 0x2X room commands, 0x3X user commands, 0xFX error replies.
const (
	TypeOk     MessageType = 0x00
	TypeLogin  MessageType = 0x10
	TypeLogout MessageType = 0x11

	TypeRoomCreate  MessageType = 0x20
	TypeRoomDelete  MessageType = 0x21
	TypeRoomList    MessageType = 0x22
	TypeRoomJoin    MessageType = 0x23
	TypeRoomLeave   MessageType = 0x24
	TypeRoomSend    MessageType = 0x25
	TypeRoomReceive MessageType = 0x26
	TypeRoomClosed  MessageType = 0x27

	TypeUserSend    MessageType = 0x30
	TypeUserReceive MessageType = 0x31
	TypeUserList    MessageType = 0x32

	TypeServerError  MessageType = 0xF0
	TypeUserExists   MessageType = 0xF1
	TypeUserNotFound MessageType = 0xF2
	TypeRoomExists   MessageType = 0xF3
	TypeRoomNotFound MessageType = 0xF4
	TypeRoomDenied   MessageType = 0xF5
)

// HeaderSize is the fixed length of a frame header in bytes.
const HeaderSize = 8

// DefaultMaxPayloadSize bounds how large a declared payload ReadFrame will
// accept before giving up on the stream.
const DefaultMaxPayloadSize = 1 << 20

// Delimiter separates packed fields inside RoomSend, UserSend, RoomReceive,
// and UserReceive payloads. Only the first occurrence delimits; the message
// body may contain further CRLFs.
const Delimiter = "\r\n"

var (
	// ErrMalformedFrame reports a buffer too short for its declared payload.
	ErrMalformedFrame = errors.New("protocol: malformed frame")

	// ErrPayloadTooLarge reports a declared payload length above the limit.
	ErrPayloadTooLarge = errors.New("protocol: payload too large")
)

var typeNames = map[MessageType]string{
	TypeOk:           "Ok",
	TypeLogin:        "Login",
	TypeLogout:       "Logout",
	TypeRoomCreate:   "RoomCreate",
	TypeRoomDelete:   "RoomDelete",
	TypeRoomList:     "RoomList",
	TypeRoomJoin:     "RoomJoin",
	TypeRoomLeave:    "RoomLeave",
	TypeRoomSend:     "RoomSend",
	TypeRoomReceive:  "RoomReceive",
	TypeRoomClosed:   "RoomClosed",
	TypeUserSend:     "UserSend",
	TypeUserReceive:  "UserReceive",
	TypeUserList:     "UserList",
	TypeServerError:  "ServerError",
	TypeUserExists:   "UserExists",
	TypeUserNotFound: "UserNotFound",
	TypeRoomExists:   "RoomExists",
	TypeRoomNotFound: "RoomNotFound",
	TypeRoomDenied:   "RoomDenied",
}

// String returns the symbolic name of the message type, or a hex code for
// types outside the closed set.
func (t MessageType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("MessageType(0x%X)", uint32(t))
}

// Known reports whether t belongs to the closed set of protocol types.
func (t MessageType) Known() bool {
	_, ok := typeNames[t]
	return ok
}

// Encode builds a complete frame for the given type and payload.
// A nil or empty payload produces a header-only frame.
func Encode(msgType MessageType, payload []byte) []byte {
	frame := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(frame[0:4], uint32(msgType))
	binary.BigEndian.PutUint32(frame[4:8], uint32(len(payload)))
	copy(frame[HeaderSize:], payload)
	return frame
}

// Decode parses a single frame from buf. It fails with ErrMalformedFrame when
// buf is shorter than the header or than the declared payload length. The
// returned payload aliases buf; a zero-length payload is returned as nil.
func Decode(buf []byte) (MessageType, []byte, error) {
	if len(buf) < HeaderSize {
		return 0, nil, fmt.Errorf("%w: %d bytes, need %d for header", ErrMalformedFrame, len(buf), HeaderSize)
	}

	msgType := MessageType(binary.BigEndian.Uint32(buf[0:4]))
	payloadLen := binary.BigEndian.Uint32(buf[4:8])

	if uint64(len(buf)-HeaderSize) < uint64(payloadLen) {
		return 0, nil, fmt.Errorf("%w: declared %d payload bytes, have %d", ErrMalformedFrame, payloadLen, len(buf)-HeaderSize)
	}
	if payloadLen == 0 {
		return msgType, nil, nil
	}
	return msgType, buf[HeaderSize : HeaderSize+payloadLen], nil
}

// WriteFrame encodes and writes one frame to w.
func WriteFrame(w io.Writer, msgType MessageType, payload []byte) error {
	_, err := w.Write(Encode(msgType, payload))
	return err
}

// ReadFrame reads exactly one frame from r, using maxPayload as the upper
// bound on the declared payload length; maxPayload <= 0 selects
// DefaultMaxPayloadSize. io.EOF is returned unchanged when the stream ends
// cleanly before the first header byte.
func ReadFrame(r io.Reader, maxPayload int) (MessageType, []byte, error) {
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayloadSize
	}

	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return 0, nil, fmt.Errorf("%w: truncated header", ErrMalformedFrame)
		}
		return 0, nil, err
	}

	msgType := MessageType(binary.BigEndian.Uint32(header[0:4]))
	payloadLen := binary.BigEndian.Uint32(header[4:8])

	if payloadLen > uint32(maxPayload) {
		return 0, nil, fmt.Errorf("%w: declared %d bytes, limit %d", ErrPayloadTooLarge, payloadLen, maxPayload)
	}
	if payloadLen == 0 {
		return msgType, nil, nil
	}

	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return 0, nil, fmt.Errorf("%w: truncated payload", ErrMalformedFrame)
		}
		return 0, nil, err
	}
	return msgType, payload, nil
}

// SplitPacked splits a packed payload on the first CRLF delimiter, returning
// the leading field and the remainder. ok is false when no delimiter exists.
func SplitPacked(payload []byte) (field, rest []byte, ok bool) {
	for i := 0; i+1 < len(payload); i++ {
		if payload[i] == '\r' && payload[i+1] == '\n' {
			return payload[:i], payload[i+2:], true
		}
	}
	return nil, nil, false
}

// PackFields joins fields with the CRLF delimiter into one payload.
func PackFields(fields ...string) []byte {
	size := 0
	for i, f := range fields {
		if i > 0 {
			size += len(Delimiter)
		}
		size += len(f)
	}

	payload := make([]byte, 0, size)
	for i, f := range fields {
		if i > 0 {
			payload = append(payload, Delimiter...)
		}
		payload = append(payload, f...)
	}
	return payload
}
