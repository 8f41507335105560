package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/loyalty/points-ledger/internal/core/domain"
	"github.com/loyalty/points-ledger/internal/core/ports"
)

// DefaultIdempotencyTTL is how long a completed transfer can be replayed.
const DefaultIdempotencyTTL = 24 * time.Hour

// ClaimTTL bounds how long an unfinished claim blocks its key, so a crashed
// request does not hold it for the full replay window.
const ClaimTTL = 30 * time.Second

// pendingMarker is stored under a claimed key until the transfer completes.
const pendingMarker = "pending"

// keyValue is the subset of the go-redis API the cache needs.
type keyValue interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// IdempotencyStore caches completed transfers by client-supplied key.
// Key format: idem:transfer:<user_id>:<idempotency_key>
type IdempotencyStore struct {
	client keyValue
	ttl    time.Duration
}

var _ ports.IdempotencyStore = (*IdempotencyStore)(nil)

// NewIdempotencyStore wraps the given Redis client. A non-positive ttl falls
// back to DefaultIdempotencyTTL.
func NewIdempotencyStore(client keyValue, ttl time.Duration) *IdempotencyStore {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	return &IdempotencyStore{client: client, ttl: ttl}
}

// Claim takes key with SET NX. When the key is already set it returns the
// recorded transfer, or domain.ErrIdempotencyKeyInUse for an unfinished claim.
func (s *IdempotencyStore) Claim(ctx context.Context, userID, key string) (*domain.Transfer, error) {
	k := s.key(userID, key)
	// A claim can expire between SETNX and GET; try to take it again then.
	for i := 0; i < 3; i++ {
		ok, err := s.client.SetNX(ctx, k, pendingMarker, ClaimTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("idempotency claim: %w", err)
		}
		if ok {
			return nil, nil
		}

		raw, err := s.client.Get(ctx, k).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("idempotency lookup: %w", err)
		}
		if string(raw) == pendingMarker {
			return nil, domain.ErrIdempotencyKeyInUse
		}

		var t domain.Transfer
		if err := json.Unmarshal(raw, &t); err != nil {
			return nil, fmt.Errorf("idempotency decode: %w", err)
		}
		return &t, nil
	}
	return nil, domain.ErrIdempotencyKeyInUse
}

// Complete overwrites the claim with the transfer for the configured TTL.
func (s *IdempotencyStore) Complete(ctx context.Context, userID, key string, transfer *domain.Transfer) error {
	raw, err := json.Marshal(transfer)
	if err != nil {
		return fmt.Errorf("idempotency encode: %w", err)
	}
	if err := s.client.Set(ctx, s.key(userID, key), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("idempotency complete: %w", err)
	}
	return nil
}

// Release deletes the claim.
func (s *IdempotencyStore) Release(ctx context.Context, userID, key string) error {
	if err := s.client.Del(ctx, s.key(userID, key)).Err(); err != nil {
		return fmt.Errorf("idempotency release: %w", err)
	}
	return nil
}

// Ping reports whether Redis is reachable.
func (s *IdempotencyStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *IdempotencyStore) key(userID, key string) string {
	return fmt.Sprintf("idem:transfer:%s:%s", userID, key)
}
