package quota

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCounter is a fixed-window Counter shared by every service instance.
type RedisCounter struct {
	rdb *redis.Client
}

var consumeScript = redis.NewScript(`
local limit = tonumber(ARGV[1])
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
if current >= limit then
  return {current, 0}
end
current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIREAT", KEYS[1], ARGV[2])
end
return {current, 1}
`)

func NewRedisCounter(rdb *redis.Client) *RedisCounter {
	return &RedisCounter{rdb: rdb}
}

func (c *RedisCounter) Consume(ctx context.Context, key string, limit int64, expireAt time.Time) (int64, bool, error) {
	res, err := consumeScript.Run(ctx, c.rdb, []string{key}, limit, expireAt.UnixMilli()).Slice()
	if err != nil {
		return 0, false, err
	}
	if len(res) != 2 {
		return 0, false, fmt.Errorf("unexpected quota script result %v", res)
	}
	used, err := toInt64(res[0])
	if err != nil {
		return 0, false, err
	}
	ok, err := toInt64(res[1])
	if err != nil {
		return 0, false, err
	}
	return used, ok == 1, nil
}

func (c *RedisCounter) Used(ctx context.Context, key string) (int64, error) {
	n, err := c.rdb.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case string:
		return strconv.ParseInt(n, 10, 64)
	default:
		return 0, fmt.Errorf("unexpected redis script result type %T", v)
	}
}
