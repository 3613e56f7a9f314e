package directory

import (
	"context"

	"go.uber.org/zap"

	"github.com/agrovision/advisory-chat/internal/domain"
	"github.com/agrovision/advisory-chat/internal/observability"
)

type ProfileCache interface {
	Get(ctx context.Context, id string) (*domain.Profile, bool, error)
	Set(ctx context.Context, p *domain.Profile) error
}

// Cached puts a read-through cache in front of another Source. Cache errors
// are logged and the lookup falls through to the source.
type Cached struct {
	Source Source
	Cache  ProfileCache
}

func (c *Cached) Lookup(ctx context.Context, id string) (*domain.Profile, error) {
	log := observability.GetLogger(ctx)

	p, found, err := c.Cache.Get(ctx, id)
	if err != nil {
		log.Warn("directory: cache read failed", zap.String("participant_id", id), zap.Error(err))
	} else if found {
		return p, nil
	}

	p, err = c.Source.Lookup(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := c.Cache.Set(ctx, p); err != nil {
		log.Warn("directory: cache write failed", zap.String("participant_id", id), zap.Error(err))
	}
	return p, nil
}
