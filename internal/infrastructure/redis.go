package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/krobus00/composite-order-service/internal/config"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	defaultRedisPingTimeout = 3 * time.Second
	defaultRedisMaxRetry    = 3
)

func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if strings.TrimSpace(cfg.CacheDSN) == "" {
		return nil, errors.New("redis cache dsn is required")
	}

	opts, err := redis.ParseURL(cfg.CacheDSN)
	if err != nil {
		return nil, fmt.Errorf("parse redis dsn: %w", err)
	}

	client := redis.NewClient(opts)
	policy := newRetryPolicy("redis", defaultRedisMaxRetry, 0, 0, 0)

	err = policy.do(ctx, maskDSN(cfg.CacheDSN), func(ctx context.Context) error {
		pingCtx, cancel := context.WithTimeout(ctx, defaultRedisPingTimeout)
		defer cancel()
		return client.Ping(pingCtx).Err()
	})
	if err != nil {
		_ = client.Close()
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"addr": opts.Addr,
		"db":   opts.DB,
	}).Info("redis connection established")

	return client, nil
}
