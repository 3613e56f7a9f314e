package repository

import (
	"context"

	"github.com/agrovision/advisory-chat/internal/domain"
)

// MessageStore is the append-only message log, partitioned by conversation key.
type MessageStore interface {
	// Append assigns the next sequence number and a server timestamp to msg and
	// persists it. When msg carries a ClientMessageID already stored for the same
	// key and sender, the stored message is returned and created is false.
	Append(ctx context.Context, msg *domain.Message) (stored *domain.Message, created bool, err error)

	// List returns up to limit messages of key with Sequence > afterSeq, ascending.
	List(ctx context.Context, key domain.ConversationKey, afterSeq int64, limit int) ([]*domain.Message, error)

	// Latest returns the newest message of key, or domain.ErrNotFound.
	Latest(ctx context.Context, key domain.ConversationKey) (*domain.Message, error)

	// LatestPerConversation returns the newest message of every conversation
	// participantID takes part in.
	LatestPerConversation(ctx context.Context, participantID string) ([]*domain.Message, error)

	// CountAfter counts messages of key with Sequence > afterSeq not sent by excludeSender.
	CountAfter(ctx context.Context, key domain.ConversationKey, excludeSender string, afterSeq int64) (int, error)
}

// MarkerStore holds the per (conversation, participant) read watermark.
type MarkerStore interface {
	// ReadMarker returns the watermark, 0 when the participant never marked the conversation read.
	ReadMarker(ctx context.Context, key domain.ConversationKey, participantID string) (int64, error)

	// AdvanceReadMarker moves the watermark forward to seq and returns the
	// resulting watermark. It never moves backwards.
	AdvanceReadMarker(ctx context.Context, key domain.ConversationKey, participantID string, seq int64) (int64, error)
}

type Store interface {
	MessageStore
	MarkerStore
	Ping(ctx context.Context) error
}
