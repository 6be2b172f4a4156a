package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/stock-sync/internal/core/domain"
)

const (
	replayKeyPrefix  = "replay:"
	defaultReplayTTL = 24 * time.Hour
	defaultClaimTTL  = time.Minute
)

// Return values match domain.ClaimResult.
var claimScript = redis.NewScript(`
local key = KEYS[1]
local ttl = tonumber(ARGV[1])

local state = redis.call('GET', key)
if state == 'applied' then
	return 2
end
if state == 'pending' then
	return 3
end

redis.call('SET', key, 'pending', 'PX', ttl)
return 1
`)

// RedisReplayGuard remembers which action ids were already applied so a
// batch resent after a lost acknowledgement is not applied twice.
type RedisReplayGuard struct {
	client   *redis.Client
	ttl      time.Duration
	claimTTL time.Duration
}

func NewRedisReplayGuard(client *redis.Client, ttl time.Duration) *RedisReplayGuard {
	if ttl <= 0 {
		ttl = defaultReplayTTL
	}
	return &RedisReplayGuard{client: client, ttl: ttl, claimTTL: defaultClaimTTL}
}

// WithClaimTTL sets how long a pending claim survives a replica that dies
// mid-apply. Applies must finish well within it.
func (r *RedisReplayGuard) WithClaimTTL(d time.Duration) *RedisReplayGuard {
	if d > 0 {
		r.claimTTL = d
	}
	return r
}

func (r *RedisReplayGuard) ClaimTTL() time.Duration {
	return r.claimTTL
}

func (r *RedisReplayGuard) Claim(ctx context.Context, actionID string) (domain.ClaimResult, error) {
	result, err := claimScript.Run(ctx, r.client, []string{replayKeyPrefix + actionID}, r.claimTTL.Milliseconds()).Int()
	if err != nil {
		return 0, fmt.Errorf("claim %s: %w", actionID, err)
	}

	claim := domain.ClaimResult(result)
	switch claim {
	case domain.ClaimAcquired, domain.ClaimApplied, domain.ClaimInProgress:
		return claim, nil
	default:
		return 0, fmt.Errorf("claim %s: unexpected script result %d", actionID, result)
	}
}

func (r *RedisReplayGuard) Confirm(ctx context.Context, actionID string) error {
	return r.client.Set(ctx, replayKeyPrefix+actionID, "applied", r.ttl).Err()
}

func (r *RedisReplayGuard) Release(ctx context.Context, actionID string) error {
	return r.client.Del(ctx, replayKeyPrefix+actionID).Err()
}
