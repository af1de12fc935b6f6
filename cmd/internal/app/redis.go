package app

import (
	"context"
	"time"

	"passport/cmd/internal/cache"

	"github.com/cenkalti/backoff/v5"
)

// newCacheStore connects to Redis when an address is configured and falls back
// to the in-process store otherwise.
func newCacheStore(ctx context.Context, cfg Config, log Logger) (cache.Store, error) {
	if cfg.RedisAddr == "" {
		log.Info("cache.disabled.inmemory_store")
		return cache.NewMemoryStore(), nil
	}

	rcfg := cache.RedisConfig{
		Addr:      cfg.RedisAddr,
		Username:  cfg.RedisUsername,
		Password:  cfg.RedisPassword,
		DB:        cfg.RedisDB,
		KeyPrefix: cfg.RedisKeyPrefix,
	}

	store, err := backoff.Retry(ctx, func() (*cache.RedisStore, error) {
		return cache.NewRedisStore(ctx, rcfg)
	},
		backoff.WithBackOff(startupBackOff()),
		backoff.WithMaxTries(retries(cfg.StartupRetries)),
		backoff.WithNotify(func(err error, d time.Duration) {
			log.Warn("cache.connect.retry", "err", err, "wait_ms", d.Milliseconds())
		}),
	)
	if err != nil {
		return nil, err
	}

	log.Info("cache.enabled.redis", "addr", cfg.RedisAddr, "db", cfg.RedisDB)
	return store, nil
}
