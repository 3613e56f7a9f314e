package domain

import (
	"strings"
	"time"
)

const (
	keyPrefix = "direct"

	// KeySeparator joins the two participant IDs of a conversation key and
	// therefore may not appear inside a participant ID.
	KeySeparator = ":"
)

// ConversationKey identifies a two-party conversation. It is derived from the
// participants on demand and never stored as a record of its own.
type ConversationKey string

// DeriveKey returns the canonical key for the unordered pair (a, b).
func DeriveKey(a, b string) (ConversationKey, error) {
	if err := ValidateParticipantID(a); err != nil {
		return "", err
	}
	if err := ValidateParticipantID(b); err != nil {
		return "", err
	}
	if a == b {
		return "", ErrInvalidParticipant
	}

	if a > b {
		a, b = b, a
	}
	return ConversationKey(keyPrefix + KeySeparator + a + KeySeparator + b), nil
}

// ParseKey validates a key received from a client and returns it in canonical form.
func ParseKey(s string) (ConversationKey, error) {
	parts := strings.Split(s, KeySeparator)
	if len(parts) != 3 || parts[0] != keyPrefix {
		return "", ErrNotFound
	}

	key, err := DeriveKey(parts[1], parts[2])
	if err != nil || string(key) != s {
		return "", ErrNotFound
	}
	return key, nil
}

func ValidateParticipantID(id string) error {
	if strings.TrimSpace(id) == "" || strings.Contains(id, KeySeparator) {
		return ErrInvalidParticipant
	}
	return nil
}

// Participants returns the two participant IDs in canonical order.
func (k ConversationKey) Participants() (string, string) {
	parts := strings.SplitN(strings.TrimPrefix(string(k), keyPrefix+KeySeparator), KeySeparator, 2)
	if len(parts) != 2 {
		return "", ""
	}
	return parts[0], parts[1]
}

func (k ConversationKey) Has(participantID string) bool {
	low, high := k.Participants()
	return participantID != "" && (participantID == low || participantID == high)
}

// Other returns the counterpart of participantID, or false when participantID
// is not part of the conversation.
func (k ConversationKey) Other(participantID string) (string, bool) {
	low, high := k.Participants()
	switch participantID {
	case low:
		return high, true
	case high:
		return low, true
	}
	return "", false
}

func (k ConversationKey) String() string { return string(k) }

// ConversationSummary is a per-viewer projection of one conversation. It is
// derived from the message log on every query.
type ConversationSummary struct {
	Key                ConversationKey `json:"conversation_key"`
	Participants       [2]string       `json:"participants"`
	OtherParticipantID string          `json:"other_participant_id"`
	OtherDisplayName   string          `json:"other_display_name,omitempty"`
	OtherRole          Role            `json:"other_role,omitempty"`
	LastMessage        string          `json:"last_message"`
	LastSenderID       string          `json:"last_sender_id"`
	LastSequence       int64           `json:"last_sequence"`
	LastMessageAt      time.Time       `json:"last_message_at"`
	UnreadCount        int             `json:"unread_count"`
}
