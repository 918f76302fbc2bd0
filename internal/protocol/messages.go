package protocol

import (
	"encoding/json"
	"fmt"
)

// Welcome builds the handshake acceptance frame: [0].
func Welcome() Frame {
	return Frame{typ: TypeWelcome}
}

// Call builds [2, id, target, args...].
func Call(id, target string, args ...any) (Frame, error) {
	fields := make([]any, 0, len(args)+2)
	fields = append(fields, id, target)
	fields = append(fields, args...)
	return New(TypeCall, fields...)
}

// CallResult builds [3, id, result].
func CallResult(id string, result any) (Frame, error) {
	return New(TypeCallResult, id, result)
}

// CallError builds [4, id, errorInfo].
func CallError(id string, info any) (Frame, error) {
	return New(TypeCallError, id, info)
}

// Subscribe builds [5, topic].
func Subscribe(topic string) (Frame, error) {
	return New(TypeSubscribe, topic)
}

// Unsubscribe builds [6, topic].
func Unsubscribe(topic string) (Frame, error) {
	return New(TypeUnsubscribe, topic)
}

// Event builds [8, topic, payload].
func Event(topic string, payload any) (Frame, error) {
	return New(TypeEvent, topic, payload)
}

// Heartbeat builds [20, counter].
func Heartbeat(counter uint64) (Frame, error) {
	return New(TypeHeartbeat, counter)
}

// ParseCall extracts the id, target and arguments of a Call frame.
func ParseCall(f Frame) (id, target string, args []json.RawMessage, err error) {
	if err := expect(f, TypeCall, 2); err != nil {
		return "", "", nil, err
	}
	if id, err = stringField(f, 0, "id"); err != nil {
		return "", "", nil, err
	}
	if target, err = stringField(f, 1, "target"); err != nil {
		return "", "", nil, err
	}
	for i := 2; i < f.Len(); i++ {
		args = append(args, f.Field(i))
	}
	return id, target, args, nil
}

// ParseResult extracts the id and payload of a CallResult or CallError
// frame. A missing payload is returned as JSON null.
func ParseResult(f Frame) (id string, payload json.RawMessage, err error) {
	if f.Type() != TypeCallResult && f.Type() != TypeCallError {
		return "", nil, &ProtocolError{Reason: fmt.Sprintf("expected CALL_RESULT or CALL_ERROR, got %s", f.Type())}
	}
	if f.Len() < 1 {
		return "", nil, &ProtocolError{Reason: fmt.Sprintf("%s frame has no id", f.Type())}
	}
	if id, err = stringField(f, 0, "id"); err != nil {
		return "", nil, err
	}
	payload = f.Field(1)
	if payload == nil {
		payload = json.RawMessage("null")
	}
	return id, payload, nil
}

// ParseTopic extracts the topic of a Subscribe or Unsubscribe frame.
func ParseTopic(f Frame) (string, error) {
	if f.Type() != TypeSubscribe && f.Type() != TypeUnsubscribe {
		return "", &ProtocolError{Reason: fmt.Sprintf("expected SUBSCRIBE or UNSUBSCRIBE, got %s", f.Type())}
	}
	if f.Len() < 1 {
		return "", &ProtocolError{Reason: fmt.Sprintf("%s frame has no topic", f.Type())}
	}
	return stringField(f, 0, "topic")
}

// ParseEvent extracts the topic and payload of an Event frame.
func ParseEvent(f Frame) (topic string, payload json.RawMessage, err error) {
	if err := expect(f, TypeEvent, 1); err != nil {
		return "", nil, err
	}
	if topic, err = stringField(f, 0, "topic"); err != nil {
		return "", nil, err
	}
	payload = f.Field(1)
	if payload == nil {
		payload = json.RawMessage("null")
	}
	return topic, payload, nil
}

// ParseHeartbeat extracts the counter of a Heartbeat frame.
func ParseHeartbeat(f Frame) (uint64, error) {
	if err := expect(f, TypeHeartbeat, 1); err != nil {
		return 0, err
	}
	var counter uint64
	if err := json.Unmarshal(f.fields[0], &counter); err != nil {
		return 0, &ProtocolError{Reason: "heartbeat counter is not an unsigned integer", Err: err}
	}
	return counter, nil
}

func expect(f Frame, t MessageType, minFields int) error {
	if f.Type() != t {
		return &ProtocolError{Reason: fmt.Sprintf("expected %s, got %s", t, f.Type())}
	}
	if f.Len() < minFields {
		return &ProtocolError{Reason: fmt.Sprintf("%s frame has %d fields, want at least %d", t, f.Len(), minFields)}
	}
	return nil
}

func stringField(f Frame, i int, name string) (string, error) {
	var s string
	if err := json.Unmarshal(f.fields[i], &s); err != nil {
		return "", &ProtocolError{Reason: fmt.Sprintf("%s %s is not a string", f.Type(), name), Err: err}
	}
	return s, nil
}
