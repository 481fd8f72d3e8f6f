// internal/transport/events.go

package transport

import (
	"encoding/json"
	"time"
)

// Event is the envelope for every frame crossing the socket, in both
// directions.
type Event struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

type EventType string

const (
	// Client -> server
	EventJoin        EventType = "join"
	EventLeave       EventType = "leave"
	EventSendMessage EventType = "send_message"
	EventTyping      EventType = "typing"
	EventStopTyping  EventType = "stop_typing"

	// Server -> client
	EventNewMessage EventType = "new_message"
	EventPresence   EventType = "presence"

	// Synthesized locally on transport lifecycle transitions; these never
	// travel over the wire.
	EventConnected    EventType = "connect"
	EventDisconnected EventType = "disconnect"
)

// NewEvent wraps a payload in the wire envelope.
func NewEvent(eventType EventType, payload interface{}) (Event, error) {
	ev := Event{
		Type:      string(eventType),
		Timestamp: time.Now(),
	}

	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Event{}, err
		}
		ev.Data = data
	}

	return ev, nil
}

// JoinPayload marks intent to receive events for a channel.
type JoinPayload struct {
	ChannelID string `json:"channel_id"`
}

// SendMessagePayload carries an outgoing message. The server does not
// echo any client-chosen id back, so there is nothing resembling a
// correlation id here.
type SendMessagePayload struct {
	ChannelID string `json:"channel_id"`
	Content   string `json:"content,omitempty"`
	ReplyToID string `json:"reply_to_id,omitempty"`
	MediaURL  string `json:"media_url,omitempty"`
	MediaKind string `json:"media_kind,omitempty"`
}

// TypingPayload signals a typing indicator change on a channel.
type TypingPayload struct {
	ChannelID string `json:"channel_id"`
}

// PresencePayload reports another participant going online or offline.
type PresencePayload struct {
	UserID string `json:"user_id"`
	Status string `json:"status"`
}
