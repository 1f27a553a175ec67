package redis

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock key only while this owner still holds it,
// so an expired-and-reacquired lock is never released by a stale handle.
var releaseScript = goredis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

type redisLock struct {
	rdb   goredis.UniversalClient
	name  string
	hold  time.Duration
	owner string
}

func (l *redisLock) Acquire(ctx context.Context) (bool, error) {
	hold := l.hold
	if hold <= 0 {
		hold = 24 * time.Hour
	}
	return l.rdb.SetNX(ctx, l.name, l.owner, hold).Result()
}

func (l *redisLock) Release(ctx context.Context) (bool, error) {
	n, err := releaseScript.Run(ctx, l.rdb, []string{l.name}, l.owner).Int64()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (l *redisLock) Owner() string { return l.owner }

func randomOwner() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("owner-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b[:])
}
