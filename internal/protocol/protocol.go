// Package protocol implements the SockJS wire framing: the open, heartbeat,
// message and close frames exchanged between server and client.
package protocol

import (
	"fmt"

	"github.com/segmentio/encoding/json"
)

// Frame type prefixes as defined by the SockJS protocol.
// Transports append their own suffixes (newline, script tag, data: field).
const (
	OpenFrame      = "o"
	CloseFrame     = "c"
	MessageFrame   = "a"
	HeartbeatFrame = "h"
)

// CloseStatus is a known close code/reason pair sent in a close frame.
type CloseStatus struct {
	Code   int
	Reason string
}

// Close statuses used across the session and transport layers.
var (
	ConnInterrupted = CloseStatus{1002, "Connection interrupted"}
	ConnAlreadyOpen = CloseStatus{2010, "Another connection still open"}
	ConnClosed      = CloseStatus{3000, "Go away!"}
)

// InvalidPayloadError is returned when a client payload cannot be decoded as
// a JSON array of messages.
type InvalidPayloadError struct {
	Data []byte
}

func (e *InvalidPayloadError) Error() string {
	return fmt.Sprintf("protocol: invalid payload %q", e.Data)
}

// Encode marshals v using compact separators, matching the framing the
// client libraries expect.
func Encode(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// EncodeMessages marshals an ordered list of messages to the JSON array used
// inside a message frame.
func EncodeMessages(messages []interface{}) ([]byte, error) {
	return json.Marshal(messages)
}

// DecodeMessages parses a client payload into its message list. The first
// non-whitespace byte must open a JSON array.
func DecodeMessages(data []byte) ([]interface{}, error) {
	i := 0
	for i < len(data) && isSpace(data[i]) {
		i++
	}
	if i == len(data) || data[i] != '[' {
		return nil, &InvalidPayloadError{Data: data}
	}

	var messages []interface{}
	if err := json.Unmarshal(data[i:], &messages); err != nil {
		return nil, &InvalidPayloadError{Data: data}
	}

	return messages, nil
}

// DecodeAny parses a payload that may be either a JSON array of messages or
// a bare JSON value, which is wrapped in a single-element batch. Used by the
// websocket transport, whose clients may send either form.
func DecodeAny(data []byte) ([]interface{}, error) {
	var value interface{}
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, &InvalidPayloadError{Data: data}
	}

	if messages, ok := value.([]interface{}); ok {
		return messages, nil
	}

	return []interface{}{value}, nil
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// NewMessageFrame builds an "a" frame carrying the given messages.
func NewMessageFrame(messages ...interface{}) (string, error) {
	encoded, err := EncodeMessages(messages)
	if err != nil {
		return "", err
	}

	return MessageFrame + string(encoded), nil
}

// NewCloseFrame builds a "c" frame for the given close code and reason.
func NewCloseFrame(code int, reason string) string {
	return fmt.Sprintf(`%s[%d,%q]`, CloseFrame, code, reason)
}
