package calls

import (
	"context"
	"time"

	"chat-platform/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// SessionGuard reserves a call-session slot per user across process
// instances. The in-process invariant checks remain authoritative; the
// guard only closes the window where two instances admit the same user
// concurrently. It is advisory: failures are logged, not fatal.
type SessionGuard interface {
	Acquire(ctx context.Context, userID string) (bool, error)
	Release(ctx context.Context, userID string) error
}

// RedisSessionGuard implements SessionGuard on the shared redis instance.
// The slot TTL tracks the reaper's orphan ceiling so crashed processes
// cannot leak a reservation for longer than a call could legally live.
type RedisSessionGuard struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisSessionGuard(rdb *redis.Client, ttl time.Duration) *RedisSessionGuard {
	return &RedisSessionGuard{rdb: rdb, ttl: ttl}
}

func (g *RedisSessionGuard) Acquire(ctx context.Context, userID string) (bool, error) {
	return utils.AcquireSessionSlot(ctx, g.rdb, slotKey(userID), 1, g.ttl)
}

func (g *RedisSessionGuard) Release(ctx context.Context, userID string) error {
	return utils.ReleaseSessionSlot(ctx, g.rdb, slotKey(userID))
}

func slotKey(userID string) string {
	return "call_slot:" + userID
}
