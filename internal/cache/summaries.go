package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/agrovision/advisory-chat/internal/domain"
)

// Summaries caches the conversation list of a participant. Entries are
// dropped whenever one of the participant's conversations changes, and each
// drop bumps a per-participant generation so a list computed before the
// change can no longer be stored.
type Summaries struct {
	C   *Cache
	TTL time.Duration
}

func summariesKey(participantID string) string { return "summaries:" + participantID }
func generationKey(participantID string) string { return "summaries:gen:" + participantID }

// KEYS[1] entry, KEYS[2] generation; ARGV generation, payload, ttl in ms.
var setIfGeneration = redis.NewScript(`
local gen = redis.call('GET', KEYS[2]) or '0'
if gen ~= ARGV[1] then
	return 0
end
if tonumber(ARGV[3]) > 0 then
	redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
else
	redis.call('SET', KEYS[1], ARGV[2])
end
return 1
`)

func (s *Summaries) Get(ctx context.Context, participantID string) ([]domain.ConversationSummary, bool, error) {
	var out []domain.ConversationSummary
	found, err := s.C.getJSON(ctx, summariesKey(participantID), &out)
	if err != nil || !found {
		return nil, false, err
	}
	return out, true, nil
}

func (s *Summaries) Generation(ctx context.Context, participantID string) (int64, error) {
	gen, err := s.C.Client.Get(ctx, generationKey(participantID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// Set stores summaries unless the participant was invalidated after
// generation was read.
func (s *Summaries) Set(ctx context.Context, participantID string, generation int64, summaries []domain.ConversationSummary) error {
	b, err := json.Marshal(summaries)
	if err != nil {
		return err
	}
	keys := []string{summariesKey(participantID), generationKey(participantID)}
	return setIfGeneration.Run(ctx, s.C.Client, keys,
		strconv.FormatInt(generation, 10), b, s.TTL.Milliseconds(),
	).Err()
}

func (s *Summaries) Invalidate(ctx context.Context, participantIDs ...string) error {
	if len(participantIDs) == 0 {
		return nil
	}
	_, err := s.C.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range participantIDs {
			pipe.Incr(ctx, generationKey(id))
			pipe.Del(ctx, summariesKey(id))
		}
		return nil
	})
	return err
}
