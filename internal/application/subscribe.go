package application

import (
	"context"

	"github.com/agrovision/advisory-chat/internal/domain"
	"github.com/agrovision/advisory-chat/internal/notifier"
)

// Subscribe opens a live subscription to a conversation the viewer takes part
// in. Conversations without history may be subscribed to.
func (s *Service) Subscribe(ctx context.Context, viewerID, rawKey string) (*notifier.Subscription, error) {
	key, err := s.authorize(viewerID, rawKey)
	if err != nil {
		return nil, err
	}
	return s.hub.Subscribe(ctx, key)
}
