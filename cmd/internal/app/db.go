package app

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NewDBPool builds a pgxpool and waits for the database to accept connections,
// retrying with exponential backoff up to cfg.StartupRetries attempts.
func NewDBPool(ctx context.Context, cfg Config, log Logger) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	if cfg.DBMaxConns > 0 {
		pcfg.MaxConns = cfg.DBMaxConns
	}
	if cfg.DBMinConns >= 0 {
		pcfg.MinConns = cfg.DBMinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}

	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, PingDB(ctx, pool, 3*time.Second)
	},
		backoff.WithBackOff(startupBackOff()),
		backoff.WithMaxTries(retries(cfg.StartupRetries)),
		backoff.WithNotify(func(err error, d time.Duration) {
			log.Warn("db.connect.retry", "err", err, "wait_ms", d.Milliseconds())
		}),
	)
	if err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}

// PingDB checks if we can acquire a connection within timeout.
func PingDB(parent context.Context, pool *pgxpool.Pool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	conn.Release()
	return nil
}

func startupBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	return b
}

func retries(n uint) uint {
	if n == 0 {
		return 1
	}
	return n
}
