package cache

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrovision/advisory-chat/internal/domain"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	c := New(addr)
	require.NoError(t, c.Ping(context.Background()))
	t.Cleanup(func() { c.Close() })
	return c
}

func TestSummaries(t *testing.T) {
	ctx := context.Background()
	s := &Summaries{C: newTestCache(t), TTL: time.Minute}
	id := fmt.Sprintf("S1-%d", time.Now().UnixNano())

	_, found, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, found)

	want := []domain.ConversationSummary{{
		Key:                "direct:F1:S1",
		OtherParticipantID: "F1",
		LastMessage:        "Leaves are yellowing",
		LastSequence:       1,
		UnreadCount:        1,
	}}
	gen, err := s.Generation(ctx, id)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, id, gen, want))

	got, found, err := s.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, want[0].LastMessage, got[0].LastMessage)
	assert.Equal(t, 1, got[0].UnreadCount)

	require.NoError(t, s.Invalidate(ctx, id, "someone-else"))
	_, found, err = s.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, found)

	// a list computed before the invalidation is not stored
	require.NoError(t, s.Set(ctx, id, gen, want))
	_, found, err = s.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, found)

	next, err := s.Generation(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, gen+1, next)
	require.NoError(t, s.Set(ctx, id, next, want))
	_, found, err = s.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestProfiles(t *testing.T) {
	ctx := context.Background()
	p := &Profiles{C: newTestCache(t)}
	id := fmt.Sprintf("F1-%d", time.Now().UnixNano())

	require.NoError(t, p.Set(ctx, &domain.Profile{ID: id, Name: "Asha", Role: domain.RoleFarmer}))

	got, found, err := p.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Asha", got.Name)
	assert.Equal(t, domain.RoleFarmer, got.Role)

	_, found, err = p.Get(ctx, id+"-missing")
	require.NoError(t, err)
	assert.False(t, found)
}
