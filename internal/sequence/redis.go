package sequence

import (
	"context"
	"fmt"

	"qms/branch-queue/internal/models"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "qms:ticket_seq:"

// Redis numbers tickets with INCR, which is atomic on the server, so
// concurrent issuers never share a number.
type Redis struct {
	client *redis.Client
	prefix string
}

func NewRedis(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = keyPrefix
	}
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) Next(ctx context.Context, counterCode string) (int64, error) {
	n, err := r.client.Incr(ctx, r.prefix+counterCode).Result()
	if err != nil {
		return 0, fmt.Errorf("redis incr: %w", err)
	}
	return n, nil
}

func (r *Redis) Reset(ctx context.Context) error {
	keys := make([]string, 0, len(models.Counters))
	for _, counter := range models.Counters {
		keys = append(keys, r.prefix+counter.Code)
	}
	return r.client.Del(ctx, keys...).Err()
}

// raiseScript sets KEYS[1] to ARGV[1] unless it already holds a larger
// value, and returns the resulting value.
var raiseScript = redis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
local target = tonumber(ARGV[1])
if current < target then
	redis.call("SET", KEYS[1], target)
	return target
end
return current
`)

// Seed raises each counter's sequence to at least the given value, so a
// switch from another numbering strategy does not reissue numbers. The
// raise runs server side and never lowers a sequence advanced concurrently.
func (r *Redis) Seed(ctx context.Context, latest map[string]int64) error {
	for code, n := range latest {
		key := r.prefix + code
		if err := raiseScript.Run(ctx, r.client, []string{key}, n).Err(); err != nil {
			return fmt.Errorf("redis seed %s: %w", key, err)
		}
	}
	return nil
}

type Options struct {
	Addr     string
	Password string
	DB       int
}

func NewRedisClient(ctx context.Context, options Options) (*redis.Client, error) {
	addr := options.Addr
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: options.Password,
		DB:       options.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return client, nil
}
