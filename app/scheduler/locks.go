package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultLockTTL bounds how long a crashed worker can block a schedule.
const DefaultLockTTL = 15 * time.Minute

// ScheduleLocker serializes executions of one schedule. TryLock never
// blocks: an already-held lock means another worker is running the schedule
// and this tick simply skips it.
type ScheduleLocker interface {
	TryLock(ctx context.Context, scheduleID uint) (release func(), ok bool)
}

type localScheduleLocker struct {
	mu   sync.Mutex
	held map[uint]struct{}
}

// NewLocalScheduleLocker guards a single-process deployment with an
// in-memory held set.
func NewLocalScheduleLocker() ScheduleLocker {
	return &localScheduleLocker{held: make(map[uint]struct{})}
}

func (l *localScheduleLocker) TryLock(_ context.Context, scheduleID uint) (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, taken := l.held[scheduleID]; taken {
		return nil, false
	}
	l.held[scheduleID] = struct{}{}

	var once sync.Once
	release := func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, scheduleID)
			l.mu.Unlock()
		})
	}
	return release, true
}

// releaseLockScript deletes the lock only while the token still matches, so
// a lock that expired and was re-taken by another worker is never released
// from here.
var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisScheduleLocker coordinates multiple engine replicas sharing one
// database. Locks are token-stamped SETNX keys with a TTL as the crash
// backstop.
type RedisScheduleLocker struct {
	client *redis.Client
	ttl    time.Duration
	logger *log.Logger
}

func NewRedisScheduleLocker(client *redis.Client, ttl time.Duration, logger *log.Logger) *RedisScheduleLocker {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &RedisScheduleLocker{client: client, ttl: ttl, logger: logger}
}

func (l *RedisScheduleLocker) TryLock(ctx context.Context, scheduleID uint) (func(), bool) {
	key := fmt.Sprintf("scheduler:lock:schedule:%d", scheduleID)
	token := uuid.NewString()

	taken, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		l.logger.Printf("schedule %d: lock acquisition failed: %v", scheduleID, err)
		return nil, false
	}
	if !taken {
		return nil, false
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			// The release must land even when the run was cut short by
			// shutdown.
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := releaseLockScript.Run(releaseCtx, l.client, []string{key}, token).Err(); err != nil {
				l.logger.Printf("schedule %d: lock release failed: %v", scheduleID, err)
			}
		})
	}
	return release, true
}
