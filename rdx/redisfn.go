// Package rdx wraps the Redis client used for cross-process locks and event pub/sub.
package rdx

import (
	"context"
	"fmt"
	"time"

	"agrimart/utils"

	"github.com/redis/go-redis/v9"
)

// Connect opens a client and pings it once.
func Connect(ctx context.Context, addr, password string) (*redis.Client, error) {
	conn := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
	if err := conn.Ping(ctx).Err(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return conn, nil
}

// releaseScript deletes the key only if it still holds our token, so a lock
// that expired and was re-acquired elsewhere is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker hands out SetNX locks with owner tokens.
type Locker struct {
	conn   *redis.Client
	prefix string
}

func NewLocker(conn *redis.Client, prefix string) *Locker {
	return &Locker{conn: conn, prefix: prefix}
}

// Acquire tries once to take key for ttl. When ok is false someone else holds it.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error) {
	full := l.prefix + key
	token := utils.GetUUID()
	ok, err = l.conn.SetNX(ctx, full, token, ttl).Result()
	if err != nil || !ok {
		return func() {}, false, err
	}
	return func() {
		// Release must run even if the caller's context is already done.
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		releaseScript.Run(rctx, l.conn, []string{full}, token)
	}, true, nil
}
