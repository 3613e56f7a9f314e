package application

import (
	"context"

	"github.com/agrovision/advisory-chat/internal/domain"
)

type ConversationView struct {
	Key       domain.ConversationKey `json:"conversation_key"`
	Messages  []*domain.Message      `json:"messages"`
	NextAfter int64                  `json:"next_after"`
}

// OpenConversation returns the key of the conversation with other and its
// first history page. Nothing is persisted, so a conversation without history
// yields an empty page.
func (s *Service) OpenConversation(ctx context.Context, participantID, otherID string) (*ConversationView, error) {
	ctx, span := s.tracer.Start(ctx, "OpenConversation")
	defer span.End()

	key, err := domain.DeriveKey(participantID, otherID)
	if err != nil {
		return nil, err
	}

	page, err := s.History(ctx, participantID, key.String(), 0, 0)
	if err != nil {
		return nil, err
	}

	return &ConversationView{
		Key:       key,
		Messages:  page.Messages,
		NextAfter: page.NextAfter,
	}, nil
}
