package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

type EventType string

const (
	EventMessageSent        EventType = "message.sent"
	EventReadMarkerAdvanced EventType = "read_marker.advanced"
)

const (
	AggregateConversation = "conversation"
	eventSchemaVersion    = 1
)

// EventEnvelope wraps every event leaving the process, whether through the
// outbox, kafka or the redis router.
type EventEnvelope struct {
	EventType     EventType       `json:"event_type"`
	SchemaVersion int             `json:"schema_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Payload       json.RawMessage `json:"payload"`
}

type MessageSentEvent struct {
	Message *Message `json:"message"`
}

type ReadMarkerAdvancedEvent struct {
	Key           ConversationKey `json:"conversation_key"`
	ParticipantID string          `json:"participant_id"`
	Sequence      int64           `json:"sequence"`
}

func NewMessageSentEnvelope(msg *Message) ([]byte, error) {
	return marshalEnvelope(EventMessageSent, msg.SentAt, MessageSentEvent{Message: msg})
}

func NewReadMarkerEnvelope(key ConversationKey, participantID string, seq int64, at time.Time) ([]byte, error) {
	return marshalEnvelope(EventReadMarkerAdvanced, at, ReadMarkerAdvancedEvent{
		Key:           key,
		ParticipantID: participantID,
		Sequence:      seq,
	})
}

func marshalEnvelope(t EventType, at time.Time, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", t, err)
	}
	return json.Marshal(EventEnvelope{
		EventType:     t,
		SchemaVersion: eventSchemaVersion,
		OccurredAt:    at.UTC(),
		Payload:       raw,
	})
}

func DecodeEnvelope(b []byte) (*EventEnvelope, error) {
	var env EventEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event envelope: %w", err)
	}
	return &env, nil
}

// MessageSent decodes the payload of a message.sent envelope.
func (e *EventEnvelope) MessageSent() (*Message, error) {
	if e.EventType != EventMessageSent {
		return nil, fmt.Errorf("unexpected event type %q", e.EventType)
	}
	var ev MessageSentEvent
	if err := json.Unmarshal(e.Payload, &ev); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message.sent payload: %w", err)
	}
	if ev.Message == nil {
		return nil, fmt.Errorf("message.sent payload without message")
	}
	return ev.Message, nil
}

// ReadMarkerAdvanced decodes the payload of a read_marker.advanced envelope.
func (e *EventEnvelope) ReadMarkerAdvanced() (*ReadMarkerAdvancedEvent, error) {
	if e.EventType != EventReadMarkerAdvanced {
		return nil, fmt.Errorf("unexpected event type %q", e.EventType)
	}
	var ev ReadMarkerAdvancedEvent
	if err := json.Unmarshal(e.Payload, &ev); err != nil {
		return nil, fmt.Errorf("failed to unmarshal read_marker.advanced payload: %w", err)
	}
	return &ev, nil
}
