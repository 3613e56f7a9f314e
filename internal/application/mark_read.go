package application

import (
	"context"

	"go.uber.org/zap"

	"github.com/agrovision/advisory-chat/internal/domain"
)

// MarkRead acknowledges everything currently in the conversation with other.
func (s *Service) MarkRead(ctx context.Context, participantID, otherID string) error {
	ctx, span := s.tracer.Start(ctx, "MarkRead")
	defer span.End()

	key, err := domain.DeriveKey(participantID, otherID)
	if err != nil {
		return err
	}

	seq, err := s.index.MarkRead(ctx, key, participantID)
	if err != nil {
		return err
	}

	s.log.Debug("Read marker advanced",
		zap.String("conversation_key", key.String()),
		zap.String("participant_id", participantID),
		zap.Int64("sequence", seq),
	)
	return nil
}
