package application

import (
	"context"

	"go.uber.org/zap"

	"github.com/agrovision/advisory-chat/internal/domain"
)

type ConversationList struct {
	Conversations []domain.ConversationSummary `json:"conversations"`
	TotalUnread   int                          `json:"total_unread"`
}

func (s *Service) ListConversations(ctx context.Context, participantID string) (*ConversationList, error) {
	ctx, span := s.tracer.Start(ctx, "ListConversations")
	defer span.End()

	summaries, err := s.index.ListForParticipant(ctx, participantID)
	if err != nil {
		return nil, err
	}

	out := &ConversationList{Conversations: make([]domain.ConversationSummary, 0, len(summaries))}
	for _, sum := range summaries {
		s.describe(ctx, &sum)
		out.TotalUnread += sum.UnreadCount
		out.Conversations = append(out.Conversations, sum)
	}
	return out, nil
}

// describe fills in the other participant's name and role. Directory failures
// degrade to a role based placeholder.
func (s *Service) describe(ctx context.Context, sum *domain.ConversationSummary) {
	sum.OtherRole = domain.RoleUnknown
	if s.directory == nil {
		sum.OtherDisplayName = sum.OtherRole.FallbackName()
		return
	}

	role, err := s.directory.Role(ctx, sum.OtherParticipantID)
	if err == nil {
		sum.OtherRole = role
	}

	name, err := s.directory.ResolveDisplayName(ctx, sum.OtherParticipantID)
	if err != nil {
		s.log.Debug("Directory lookup failed",
			zap.String("participant_id", sum.OtherParticipantID),
			zap.Error(err),
		)
		name = sum.OtherRole.FallbackName()
	}
	sum.OtherDisplayName = name
}
