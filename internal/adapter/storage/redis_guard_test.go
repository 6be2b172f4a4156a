package storage

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/stock-sync/internal/core/domain"
)

func getRedisClient(t *testing.T) *redis.Client {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	return client
}

func TestClaim_Lifecycle(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	guard := NewRedisReplayGuard(client, time.Minute)
	id := "test-action-lifecycle"
	client.Del(ctx, replayKeyPrefix+id)

	claim, err := guard.Claim(ctx, id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claim != domain.ClaimAcquired {
		t.Fatalf("expected acquired, got %d", claim)
	}

	claim, _ = guard.Claim(ctx, id)
	if claim != domain.ClaimInProgress {
		t.Errorf("expected in progress while pending, got %d", claim)
	}

	if err := guard.Confirm(ctx, id); err != nil {
		t.Fatalf("confirm failed: %v", err)
	}
	claim, _ = guard.Claim(ctx, id)
	if claim != domain.ClaimApplied {
		t.Errorf("expected applied after confirm, got %d", claim)
	}

	ttl, _ := client.TTL(ctx, replayKeyPrefix+id).Result()
	if ttl <= 0 || ttl > time.Minute {
		t.Errorf("expected ttl within a minute, got %v", ttl)
	}
}

func TestClaim_ReleaseAllowsRetry(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	guard := NewRedisReplayGuard(client, 0)
	id := "test-action-release"
	client.Del(ctx, replayKeyPrefix+id)

	if claim, _ := guard.Claim(ctx, id); claim != domain.ClaimAcquired {
		t.Fatalf("expected acquired, got %d", claim)
	}
	if err := guard.Release(ctx, id); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if claim, _ := guard.Claim(ctx, id); claim != domain.ClaimAcquired {
		t.Errorf("expected acquired after release, got %d", claim)
	}
}

func TestClaim_Concurrent(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	guard := NewRedisReplayGuard(client, time.Minute)
	id := "test-action-concurrent"
	client.Del(ctx, replayKeyPrefix+id)

	var acquired atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claim, err := guard.Claim(ctx, id)
			if err == nil && claim == domain.ClaimAcquired {
				acquired.Add(1)
			}
		}()
	}
	wg.Wait()

	if acquired.Load() != 1 {
		t.Errorf("expected exactly one claim, got %d", acquired.Load())
	}
}

func TestClaim_PendingClaimExpires(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	guard := NewRedisReplayGuard(client, time.Minute).WithClaimTTL(50 * time.Millisecond)
	id := "test-action-claim-ttl"
	client.Del(ctx, replayKeyPrefix+id)

	if claim, _ := guard.Claim(ctx, id); claim != domain.ClaimAcquired {
		t.Fatalf("expected acquired, got %d", claim)
	}
	ttl, _ := client.PTTL(ctx, replayKeyPrefix+id).Result()
	if ttl <= 0 || ttl > 50*time.Millisecond {
		t.Errorf("expected pending ttl within the claim ttl, got %v", ttl)
	}

	time.Sleep(100 * time.Millisecond)
	if claim, _ := guard.Claim(ctx, id); claim != domain.ClaimAcquired {
		t.Errorf("expected acquired after the claim expired, got %d", claim)
	}
}
