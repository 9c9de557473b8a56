// File: internal/infra/redis/replay_store.go
package redis

import (
	"context"
	"time"

	"ostrid-adapter/internal/domain"

	"github.com/go-redis/redis/v8"
)

const pendingMarker = "\x00pending"

// ReplayStore implements message-id idempotency on Redis: the first arrival
// of a message id reserves it, the shaped response is stored on completion,
// and replays get the stored response back without re-executing anything.
type ReplayStore struct {
	cli RedisClient
	ttl time.Duration
}

func NewReplayStore(cli RedisClient, ttl time.Duration) *ReplayStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &ReplayStore{cli: cli, ttl: ttl}
}

func (s *ReplayStore) key(messageID string) string { return "ostrid:replay:" + messageID }

// Reserve claims a message id. fresh=true means the caller owns processing;
// otherwise prev holds the previously stored response. A reservation whose
// processing is still in flight surfaces as ErrTransient so the sender
// retries after the first attempt settles.
func (s *ReplayStore) Reserve(ctx context.Context, messageID string) (prev string, fresh bool, err error) {
	ok, err := s.cli.SetNX(ctx, s.key(messageID), pendingMarker, s.ttl)
	if err != nil {
		return "", false, err
	}
	if ok {
		return "", true, nil
	}
	v, err := s.cli.Get(ctx, s.key(messageID))
	if err == redis.Nil {
		// Reservation expired between SetNX and Get; treat as fresh.
		return "", true, nil
	}
	if err != nil {
		return "", false, err
	}
	if v == pendingMarker {
		return "", false, domain.ErrTransient
	}
	return v, false, nil
}

// Store records the shaped response for future replays.
func (s *ReplayStore) Store(ctx context.Context, messageID, result string) error {
	return s.cli.Set(ctx, s.key(messageID), result, s.ttl)
}

// Release frees a reservation after a processing failure so the sender can
// retry with the same message id.
func (s *ReplayStore) Release(ctx context.Context, messageID string) error {
	return s.cli.Del(ctx, s.key(messageID))
}
