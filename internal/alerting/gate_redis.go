package alerting

import (
	"context"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/greenfield-iot/agrialert/internal/errors"
)

// RedisGate uses SET NX PX: the key exists exactly while its window is open,
// so the server's expiry enforces the cooldown. Windows follow the redis
// server clock rather than the now argument.
type RedisGate struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisGate creates a gate storing keys under prefix.
func NewRedisGate(client redis.UniversalClient, prefix string) *RedisGate {
	return &RedisGate{client: client, prefix: prefix}
}

func (g *RedisGate) TryAcquire(ctx context.Context, key Key, now time.Time, cooldown time.Duration) (bool, error) {
	if cooldown <= 0 {
		// A zero expiry would make the key permanent.
		return true, nil
	}
	ok, err := g.client.SetNX(ctx, g.redisKey(key), strconv.FormatInt(now.UnixNano(), 10), cooldown).Result()
	if err != nil {
		return false, g.wrap(err, "try_acquire", key)
	}
	return ok, nil
}

func (g *RedisGate) ShouldDispatch(ctx context.Context, key Key, _ time.Time, cooldown time.Duration) (bool, error) {
	if cooldown <= 0 {
		return true, nil
	}
	n, err := g.client.Exists(ctx, g.redisKey(key)).Result()
	if err != nil {
		return false, g.wrap(err, "should_dispatch", key)
	}
	return n == 0, nil
}

func (g *RedisGate) redisKey(key Key) string {
	return g.prefix + key.String()
}

func (g *RedisGate) wrap(err error, op string, key Key) error {
	return errors.New(err).
		Component(component).
		Category(errors.CategoryNetwork).
		Context("operation", op).
		Context("store", "redis").
		Context("rule_id", key.RuleID).
		Build()
}
