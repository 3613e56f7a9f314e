package application

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/agrovision/advisory-chat/internal/domain"
	"github.com/agrovision/advisory-chat/internal/observability"
)

type SendMessageCommand struct {
	SenderID        string
	RecipientID     string
	Text            string
	ClientMessageID string
}

// SendMessage appends a message to the conversation between sender and
// recipient and fans it out. A failed fan-out never fails the send: the
// message is durable and subscribers recover it through history.
func (s *Service) SendMessage(ctx context.Context, cmd SendMessageCommand) (*domain.Message, error) {
	ctx, span := s.tracer.Start(ctx, "SendMessage")
	defer span.End()

	key, err := domain.DeriveKey(cmd.SenderID, cmd.RecipientID)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("conversation_key", key.String()))

	msg, err := domain.NewMessage(s.newMessageID(), key, cmd.SenderID, cmd.Text, cmd.ClientMessageID)
	if err != nil {
		return nil, err
	}

	stored, created, err := s.store.Append(ctx, msg)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to append message: %w", err)
	}

	if !created {
		observability.MessagesAppendedTotal.WithLabelValues("duplicate").Inc()
		s.log.Info("SendMessage deduplicated",
			zap.String("conversation_key", key.String()),
			zap.String("client_message_id", cmd.ClientMessageID),
			zap.Int64("sequence", stored.Sequence),
		)
		return stored, nil
	}

	observability.MessagesAppendedTotal.WithLabelValues("created").Inc()
	s.log.Info("Message appended",
		zap.String("conversation_key", key.String()),
		zap.String("participant_id", cmd.SenderID),
		zap.Int64("sequence", stored.Sequence),
	)

	s.index.Invalidate(ctx, key)

	if err := s.publisher.Publish(ctx, stored); err != nil {
		s.log.Warn("Message fan-out failed",
			zap.String("conversation_key", key.String()),
			zap.Int64("sequence", stored.Sequence),
			zap.Error(err),
		)
	}

	return stored, nil
}
