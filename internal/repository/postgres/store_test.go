package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"
	"testing"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrovision/advisory-chat/internal/domain"
	"github.com/agrovision/advisory-chat/internal/tx"
)

// newTestStore connects to TEST_DATABASE_URL and gives every test its own
// conversation keys by prefixing participant IDs with the test name.
func newTestStore(t *testing.T) (*Store, func(string) string) {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, Migrate(context.Background(), db))

	prefix := fmt.Sprintf("%s-%d-", t.Name(), os.Getpid())
	t.Cleanup(func() {
		db.Exec(`DELETE FROM messages WHERE participant_low LIKE $1 || '%'`, prefix)
		db.Exec(`DELETE FROM read_markers WHERE participant_id LIKE $1 || '%'`, prefix)
	})

	return &Store{DB: db, Tx: &tx.Manager{DB: db}}, func(id string) string { return prefix + id }
}

func TestStore_AppendAndList(t *testing.T) {
	s, id := newTestStore(t)
	ctx := context.Background()

	key, err := domain.DeriveKey(id("f1"), id("s1"))
	require.NoError(t, err)

	for n := 0; n < 3; n++ {
		msg, err := domain.NewMessage(fmt.Sprintf("%s-m%d", id(""), n), key, id("f1"), "hello", "")
		require.NoError(t, err)
		stored, created, err := s.Append(ctx, msg)
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, int64(n+1), stored.Sequence)
	}

	msgs, err := s.List(ctx, key, 1, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, int64(2), msgs[0].Sequence)

	latest, err := s.Latest(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(3), latest.Sequence)

	summaries, err := s.LatestPerConversation(ctx, id("s1"))
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, latest.ID, summaries[0].ID)

	n, err := s.CountAfter(ctx, key, id("s1"), 1)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestStore_ClientMessageID(t *testing.T) {
	s, id := newTestStore(t)
	ctx := context.Background()

	key, err := domain.DeriveKey(id("f1"), id("s1"))
	require.NoError(t, err)

	first, err := domain.NewMessage(id("a"), key, id("f1"), "hello", "c-1")
	require.NoError(t, err)
	retry, err := domain.NewMessage(id("b"), key, id("f1"), "hello", "c-1")
	require.NoError(t, err)

	a, created, err := s.Append(ctx, first)
	require.NoError(t, err)
	assert.True(t, created)

	b, created, err := s.Append(ctx, retry)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, a.ID, b.ID)
}

func TestStore_ConcurrentAppends(t *testing.T) {
	s, id := newTestStore(t)
	ctx := context.Background()

	key, err := domain.DeriveKey(id("f1"), id("s1"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for n := 0; n < 5; n++ {
				msg, err := domain.NewMessage(fmt.Sprintf("%s-%d-%d", id("m"), g, n), key, id("f1"), "load", "")
				if err != nil {
					t.Error(err)
					return
				}
				if _, _, err := s.Append(ctx, msg); err != nil {
					t.Error(err)
				}
			}
		}(g)
	}
	wg.Wait()

	msgs, err := s.List(ctx, key, 0, 100)
	require.NoError(t, err)
	require.Len(t, msgs, 50)
	for i, msg := range msgs {
		assert.Equal(t, int64(i+1), msg.Sequence)
		if i > 0 {
			assert.False(t, msg.SentAt.Before(msgs[i-1].SentAt))
		}
	}
}

func TestStore_ReadMarker(t *testing.T) {
	s, id := newTestStore(t)
	ctx := context.Background()

	key, err := domain.DeriveKey(id("f1"), id("s1"))
	require.NoError(t, err)

	seq, err := s.ReadMarker(ctx, key, id("s1"))
	require.NoError(t, err)
	assert.Zero(t, seq)

	seq, err = s.AdvanceReadMarker(ctx, key, id("s1"), 4)
	require.NoError(t, err)
	assert.Equal(t, int64(4), seq)

	seq, err = s.AdvanceReadMarker(ctx, key, id("s1"), 2)
	require.NoError(t, err)
	assert.Equal(t, int64(4), seq)

	_, err = s.Latest(ctx, key)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
