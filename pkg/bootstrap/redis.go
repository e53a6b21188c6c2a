package bootstrap

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// InitRedis connects to the configured Redis and tracks the client for
// shutdown. It returns nil when Redis is not configured.
func (b *Base) InitRedis(ctx context.Context) (*redis.Client, error) {
	if !b.Config.Redis.Configured() {
		return nil, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     b.Config.Redis.Addr(),
		Password: b.Config.Redis.Password,
		DB:       b.Config.Redis.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	b.Track("redis", rdb)
	b.Logger.InfowCtx(ctx, "Redis connected successfully", "addr", b.Config.Redis.Addr())
	return rdb, nil
}
