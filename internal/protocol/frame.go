// Package protocol encodes and decodes the frames of the WAMP-like wire
// protocol. Every frame is a JSON array whose first element is an integer
// type code; the remaining elements depend on the type.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// MessageType is the integer tag that leads every frame.
type MessageType int

const (
	TypeWelcome     MessageType = 0
	TypeCall        MessageType = 2
	TypeCallResult  MessageType = 3
	TypeCallError   MessageType = 4
	TypeSubscribe   MessageType = 5
	TypeUnsubscribe MessageType = 6
	TypeEvent       MessageType = 8
	TypeHeartbeat   MessageType = 20
)

// String returns the name of the message type.
func (t MessageType) String() string {
	switch t {
	case TypeWelcome:
		return "WELCOME"
	case TypeCall:
		return "CALL"
	case TypeCallResult:
		return "CALL_RESULT"
	case TypeCallError:
		return "CALL_ERROR"
	case TypeSubscribe:
		return "SUBSCRIBE"
	case TypeUnsubscribe:
		return "UNSUBSCRIBE"
	case TypeEvent:
		return "EVENT"
	case TypeHeartbeat:
		return "HEARTBEAT"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(t))
	}
}

// Known reports whether t is one of the defined message types.
func (t MessageType) Known() bool {
	switch t {
	case TypeWelcome, TypeCall, TypeCallResult, TypeCallError,
		TypeSubscribe, TypeUnsubscribe, TypeEvent, TypeHeartbeat:
		return true
	}
	return false
}

// Frame is one decoded protocol message. The fields after the type code are
// kept as raw JSON so consumers decode only what they need.
type Frame struct {
	typ    MessageType
	fields []json.RawMessage
}

// New builds a frame, marshaling each field to JSON.
func New(t MessageType, fields ...any) (Frame, error) {
	if !t.Known() {
		return Frame{}, &ProtocolError{Reason: fmt.Sprintf("unknown message type %d", int(t))}
	}
	raw := make([]json.RawMessage, 0, len(fields))
	for i, f := range fields {
		if r, ok := f.(json.RawMessage); ok {
			raw = append(raw, append(json.RawMessage(nil), r...))
			continue
		}
		b, err := json.Marshal(f)
		if err != nil {
			return Frame{}, fmt.Errorf("marshal field %d of %s: %w", i, t, err)
		}
		raw = append(raw, b)
	}
	return Frame{typ: t, fields: raw}, nil
}

// Type returns the frame's message type.
func (f Frame) Type() MessageType { return f.typ }

// Len returns the number of fields after the type code.
func (f Frame) Len() int { return len(f.fields) }

// Field returns a copy of the i-th field after the type code, or nil if the
// frame is shorter.
func (f Frame) Field(i int) json.RawMessage {
	if i < 0 || i >= len(f.fields) {
		return nil
	}
	return append(json.RawMessage(nil), f.fields[i]...)
}

// Encode serializes f to its wire form: [type, field...].
func Encode(f Frame) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	fmt.Fprintf(&buf, "%d", int(f.typ))
	for _, field := range f.fields {
		buf.WriteByte(',')
		if len(field) == 0 {
			buf.WriteString("null")
			continue
		}
		buf.Write(field)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// Decode parses wire data into a Frame. It fails with *ProtocolError when the
// payload is not a JSON array led by a known integer type code.
func Decode(data []byte) (Frame, error) {
	var elems []json.RawMessage
	if err := json.Unmarshal(data, &elems); err != nil {
		return Frame{}, &ProtocolError{Reason: "frame is not a JSON array", Err: err}
	}
	if len(elems) == 0 {
		return Frame{}, &ProtocolError{Reason: "empty frame"}
	}

	var code int
	if err := json.Unmarshal(elems[0], &code); err != nil {
		return Frame{}, &ProtocolError{Reason: "type code is not an integer", Err: err}
	}
	t := MessageType(code)
	if !t.Known() {
		return Frame{}, &ProtocolError{Reason: fmt.Sprintf("unknown message type %d", code)}
	}

	return Frame{typ: t, fields: elems[1:]}, nil
}
