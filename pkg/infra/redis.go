package infra

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/fystack/community-bot/pkg/common/logger"
	"github.com/fystack/community-bot/pkg/retry"
	"github.com/redis/go-redis/v9"
)

// NewRedisClient connects and pings before returning, so a misconfigured
// ledger fails at startup rather than on the first bet.
func NewRedisClient(addr string, password string) (*redis.Client, error) {
	cpus := runtime.GOMAXPROCS(0)

	opts := &redis.Options{
		Addr:            addr,
		Password:        password,
		DB:              0,
		PoolSize:        cpus * 10,
		MinIdleConns:    cpus * 2,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
		DialTimeout:     5 * time.Second,
		ReadTimeout:     3 * time.Second,
		WriteTimeout:    3 * time.Second,
		// Ledger writes must never be replayed by the driver.
		MaxRetries: -1,
	}

	client := redis.NewClient(opts)

	var pong string
	err := retry.Exponential(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), opts.DialTimeout)
		defer cancel()
		var err error
		pong, err = client.Ping(ctx).Result()
		return err
	}, retry.ExponentialConfig{
		InitialInterval: 500 * time.Millisecond,
		MaxElapsedTime:  15 * time.Second,
		OnRetry: func(err error, next time.Duration) {
			logger.Warn("Redis not ready, retrying", "addr", addr, "next", next, "err", err)
		},
	})
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	logger.Info("Connected to Redis", "pong", pong)

	return client, nil
}
