package directory

import (
	"context"
	"strings"

	"github.com/agrovision/advisory-chat/internal/domain"
)

// Source looks up a single participant. Unknown IDs yield domain.ErrNotFound.
type Source interface {
	Lookup(ctx context.Context, id string) (*domain.Profile, error)
}

// Directory resolves display names and roles of participants.
type Directory struct {
	src Source
}

func New(src Source) *Directory {
	return &Directory{src: src}
}

func (d *Directory) ResolveDisplayName(ctx context.Context, id string) (string, error) {
	p, err := d.src.Lookup(ctx, id)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(p.Name) == "" {
		return p.Role.FallbackName(), nil
	}
	return p.Name, nil
}

func (d *Directory) Role(ctx context.Context, id string) (domain.Role, error) {
	p, err := d.src.Lookup(ctx, id)
	if err != nil {
		return domain.RoleUnknown, err
	}
	return p.Role, nil
}

// Static serves profiles from memory. It backs local development and tests.
type Static map[string]domain.Profile

func (s Static) Lookup(_ context.Context, id string) (*domain.Profile, error) {
	p, ok := s[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	p.ID = id
	return &p, nil
}
