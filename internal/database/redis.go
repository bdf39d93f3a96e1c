package database

import (
	"context"
	"fmt"
	"time"

	"go-hermes/internal/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// NewRedis connects the lookup cache. It returns a nil client when
// cfg.RedisAddr is empty.
func NewRedis(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) (*redis.Client, error) {
	if cfg.RedisAddr == "" {
		logger.Info("REDIS_ADDR not set, lookup cache disabled")
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
		DB:   0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("error connecting to Redis: %v", err)
	}
	logger.Info("Connected to Redis", zap.String("addr", cfg.RedisAddr))

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})
	return client, nil
}
