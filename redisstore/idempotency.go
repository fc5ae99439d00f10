// Package redisstore keeps idempotency keys in Redis so several coordinator
// processes can share one claim space while runs live elsewhere.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/meikuraledutech/workflow"
)

const keyPrefix = "workflow:idem:"

// releaseScript deletes KEYS[1] only while it still holds ARGV[1].
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

var _ workflow.IdempotencyStore = (*IdempotencyStore)(nil)

// IdempotencyStore implements workflow.IdempotencyStore on a Redis client.
// A zero TTL keeps claims forever.
type IdempotencyStore struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

// New wraps an existing client.
func New(rdb redis.UniversalClient, ttl time.Duration) *IdempotencyStore {
	return &IdempotencyStore{rdb: rdb, ttl: ttl}
}

// Connect opens a standalone client and pings it.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("workflow: redis ping %s: %w", addr, err)
	}
	return rdb, nil
}

func key(orgID, idemKey string) string {
	return keyPrefix + orgID + ":" + idemKey
}

// Lookup returns the run recorded for (orgID, idemKey).
func (s *IdempotencyStore) Lookup(ctx context.Context, orgID, idemKey string) (string, bool, error) {
	runID, err := s.rdb.Get(ctx, key(orgID, idemKey)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("workflow: idempotency lookup: %w", err)
	}
	return runID, true, nil
}

// Claim sets the key with SETNX. A losing caller reads the holder back.
func (s *IdempotencyStore) Claim(ctx context.Context, orgID, idemKey, runID string) (string, bool, error) {
	k := key(orgID, idemKey)
	ok, err := s.rdb.SetNX(ctx, k, runID, s.ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("workflow: idempotency claim: %w", err)
	}
	if ok {
		return runID, true, nil
	}
	winner, found, err := s.Lookup(ctx, orgID, idemKey)
	if err != nil {
		return "", false, err
	}
	if !found {
		// holder expired between SETNX and GET
		log.Warn().Str("org_id", orgID).Str("key", idemKey).Msg("idempotency key expired during claim")
		return s.Claim(ctx, orgID, idemKey, runID)
	}
	return winner, false, nil
}

// Release removes the claim when runID still holds it.
func (s *IdempotencyStore) Release(ctx context.Context, orgID, idemKey, runID string) error {
	if err := releaseScript.Run(ctx, s.rdb, []string{key(orgID, idemKey)}, runID).Err(); err != nil {
		return fmt.Errorf("workflow: idempotency release: %w", err)
	}
	return nil
}
