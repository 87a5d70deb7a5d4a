// Package protocol defines the event catalogue exchanged with the session
// server and its JSON framing. Every frame is an Envelope carrying an event
// name and an event-specific payload.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Event names an event on the wire or in the connection lifecycle.
type Event string

// Outbound intents.
const (
	EventFindMatch  Event = "find_match"
	EventReportUser Event = "report_user"
	EventEndChat    Event = "end_chat"
)

// Events used in both directions.
const (
	EventMatchStatus Event = "match_status"
	EventMessage     Event = "message"
	EventTyping      Event = "typing"
)

// Inbound server events.
const (
	EventMatchFound       Event = "match_found"
	EventMatchError       Event = "match_error"
	EventUserDisconnected Event = "user_disconnected"
	EventChatEnded        Event = "chat_ended"
)

// Connection lifecycle. These never travel on the wire; the connection
// manager dispatches them through the same subscription table.
const (
	EventConnecting   Event = "connecting"
	EventConnect      Event = "connect"
	EventConnectError Event = "connect_error"
	EventDisconnect   Event = "disconnect"
	EventError        Event = "error"
)

// StatusSearching is the match_status value announced after find_match.
const StatusSearching = "searching"

// Envelope is one frame on the wire.
type Envelope struct {
	Event Event           `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope encodes payload as the data of event. A nil payload yields an
// envelope without data.
func NewEnvelope(event Event, payload any) (Envelope, error) {
	if payload == nil {
		return Envelope{Event: event}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return Envelope{Event: event, Data: data}, nil
}

// MustEnvelope is NewEnvelope for payloads that cannot fail to encode.
func MustEnvelope(event Event, payload any) Envelope {
	env, err := NewEnvelope(event, payload)
	if err != nil {
		panic(err)
	}
	return env
}

// Decode unmarshals the envelope data into v.
func (e Envelope) Decode(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("decode %s: empty payload", e.Event)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decode %s: %w", e.Event, err)
	}
	return nil
}

// Marshal encodes a whole frame.
func Marshal(e Envelope) ([]byte, error) {
	return json.Marshal(e)
}

// Unmarshal decodes a whole frame. Frames without an event name are rejected.
func Unmarshal(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("decode frame: %w", err)
	}
	if e.Event == "" {
		return Envelope{}, fmt.Errorf("decode frame: missing event name")
	}
	return e, nil
}

// StatusOf extracts a match_status value. The server may send a bare string
// or an object with a "status" field.
func StatusOf(e Envelope) string {
	var s string
	if err := json.Unmarshal(e.Data, &s); err == nil {
		return s
	}
	var obj struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(e.Data, &obj); err == nil && obj.Status != "" {
		return obj.Status
	}
	return string(e.Data)
}
