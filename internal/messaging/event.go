package messaging

import (
	"encoding/json"
)

// Event names on the wire.
const (
	EventJoin                = "join_conversation"
	EventLeave               = "leave_conversation"
	EventSendMessage         = "send_message"
	EventMarkRead            = "mark_read"
	EventReceiveMessage      = "receive_message"
	EventConversationUpdated = "conversation_updated"
	EventJoined              = "joined"
	EventError               = "error"
)

// Event is one JSON frame: {"event": "...", "data": {...}}.
type Event struct {
	Type string          `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewEvent encodes v as the data of an event of type typ.
func NewEvent(typ string, v any) (Event, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: typ, Data: data}, nil
}

// Decode unmarshals the event data into v.
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Data, v)
}

// ErrorData is sent back when an inbound frame fails. Text carries the
// original message so the sender can resubmit it.
type ErrorData struct {
	Kind           string `json:"kind"`
	Message        string `json:"message"`
	Event          string `json:"event,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	Text           string `json:"text,omitempty"`
}

// ConversationRef is the payload of join, leave and mark_read frames.
type ConversationRef struct {
	ConversationID string `json:"conversation_id"`
}

// SendData is the payload of a send_message frame.
type SendData struct {
	ConversationID string `json:"conversation_id"`
	Text           string `json:"text"`
}

func conversationTopic(id string) string { return "conv:" + id }

func userTopic(id string) string { return "user:" + id }
