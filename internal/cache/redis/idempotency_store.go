package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/clearwinbot/internal/domain"
)

// IdempotencyStore implements domain.IdempotencyStore. A claim is a SETNX
// marker; the terminal result is stored next to it under its own key.
type IdempotencyStore struct {
	rdb *redis.Client
}

// NewIdempotencyStore creates an IdempotencyStore backed by the given Client.
func NewIdempotencyStore(c *Client) *IdempotencyStore {
	return &IdempotencyStore{rdb: c.Underlying()}
}

func claimKey(key string) string  { return "idem:claim:" + key }
func resultKey(key string) string { return "idem:result:" + key }

// Claim records key and reports whether this caller is the first.
func (s *IdempotencyStore) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, claimKey(key), time.Now().UTC().Format(time.RFC3339Nano), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: claim %s: %w", key, err)
	}
	return ok, nil
}

// Complete stores the terminal payload for key and refreshes the claim TTL.
func (s *IdempotencyStore) Complete(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, resultKey(key), payload, ttl)
		p.Expire(ctx, claimKey(key), ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: complete %s: %w", key, err)
	}
	return nil
}

// Result returns the stored payload, or domain.ErrNotFound while the claim
// has no result yet.
func (s *IdempotencyStore) Result(ctx context.Context, key string) ([]byte, error) {
	data, err := s.rdb.Get(ctx, resultKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis: result %s: %w", key, err)
	}
	return data, nil
}

var _ domain.IdempotencyStore = (*IdempotencyStore)(nil)
