package domain

import (
	"strings"
	"time"
)

const MaxTextBytes = 4096

// Message Invariants:
// 1. Ordering: Sequence is strictly increasing, gapless and unique per Key.
// 2. Time: SentAt is server assigned and never decreases along Sequence.
// 3. Immutability: a stored message is never modified.
type Message struct {
	ID              string          `json:"id"`
	Key             ConversationKey `json:"conversation_key"`
	SenderID        string          `json:"sender_id"`
	Sequence        int64           `json:"sequence"`
	Text            string          `json:"text"`
	ClientMessageID string          `json:"client_message_id,omitempty"`
	SentAt          time.Time       `json:"sent_at"`
}

// NewMessage builds an unsequenced message. The store assigns Sequence and SentAt.
func NewMessage(
	id string,
	key ConversationKey,
	senderID string,
	text string,
	clientMessageID string,
) (*Message, error) {

	if id == "" || !key.Has(senderID) {
		return nil, ErrInvalidParticipant
	}

	if err := ValidateText(text); err != nil {
		return nil, err
	}

	return &Message{
		ID:              id,
		Key:             key,
		SenderID:        senderID,
		Text:            text,
		ClientMessageID: clientMessageID,
	}, nil
}

func ValidateText(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyText
	}
	if len(text) > MaxTextBytes {
		return ErrTextTooLarge
	}
	return nil
}

// NextSentAt returns the timestamp for a message appended after prev at wall
// clock now, keeping timestamps non-decreasing within a conversation.
func NextSentAt(prev, now time.Time) time.Time {
	if now.Before(prev) {
		return prev
	}
	return now
}

func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	return &c
}
