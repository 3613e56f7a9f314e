package directory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrovision/advisory-chat/internal/domain"
)

func TestDirectory(t *testing.T) {
	ctx := context.Background()
	d := New(Static{
		"F1": {Name: "Asha", Role: domain.RoleFarmer},
		"S1": {Role: domain.RoleSpecialist},
	})

	name, err := d.ResolveDisplayName(ctx, "F1")
	require.NoError(t, err)
	assert.Equal(t, "Asha", name)

	name, err = d.ResolveDisplayName(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, "Specialist", name, "blank names fall back to the role")

	role, err := d.Role(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleSpecialist, role)

	_, err = d.ResolveDisplayName(ctx, "nobody")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	role, err = d.Role(ctx, "nobody")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, domain.RoleUnknown, role)
}

type countingSource struct {
	Static
	calls int
}

func (c *countingSource) Lookup(ctx context.Context, id string) (*domain.Profile, error) {
	c.calls++
	return c.Static.Lookup(ctx, id)
}

type memoryCache struct {
	entries map[string]*domain.Profile
	err     error
}

func (m *memoryCache) Get(_ context.Context, id string) (*domain.Profile, bool, error) {
	if m.err != nil {
		return nil, false, m.err
	}
	p, ok := m.entries[id]
	return p, ok, nil
}

func (m *memoryCache) Set(_ context.Context, p *domain.Profile) error {
	if m.err != nil {
		return m.err
	}
	m.entries[p.ID] = p
	return nil
}

func TestCached(t *testing.T) {
	ctx := context.Background()
	src := &countingSource{Static: Static{"F1": {Name: "Asha", Role: domain.RoleFarmer}}}
	c := &memoryCache{entries: make(map[string]*domain.Profile)}
	cached := &Cached{Source: src, Cache: c}

	for i := 0; i < 3; i++ {
		p, err := cached.Lookup(ctx, "F1")
		require.NoError(t, err)
		assert.Equal(t, "Asha", p.Name)
	}
	assert.Equal(t, 1, src.calls)

	_, err := cached.Lookup(ctx, "nobody")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	c.err = errors.New("redis down")
	p, err := cached.Lookup(ctx, "F1")
	require.NoError(t, err)
	assert.Equal(t, "Asha", p.Name)
	assert.Equal(t, 3, src.calls)
}
