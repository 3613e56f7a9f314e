package cache

import (
	"context"
	"time"

	"github.com/agrovision/advisory-chat/internal/domain"
)

type Profiles struct {
	C   *Cache
	TTL time.Duration
}

func profileKey(id string) string { return "profile:" + id }

func (p *Profiles) Get(ctx context.Context, id string) (*domain.Profile, bool, error) {
	var profile domain.Profile
	found, err := p.C.getJSON(ctx, profileKey(id), &profile)
	if err != nil || !found {
		return nil, false, err
	}
	return &profile, true, nil
}

func (p *Profiles) Set(ctx context.Context, profile *domain.Profile) error {
	ttl := p.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return p.C.setJSON(ctx, profileKey(profile.ID), profile, ttl)
}
