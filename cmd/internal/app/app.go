// Package app wires the passport server runtime: config, logging, storage,
// the HTTP and gRPC surfaces, and background session GC.
package app

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"passport/cmd/identity"
	"passport/cmd/internal/auth/api"
	"passport/cmd/internal/auth/apikey"
	"passport/cmd/internal/auth/challenge"
	"passport/cmd/internal/auth/grpcapi"
	"passport/cmd/internal/auth/session"
	"passport/cmd/internal/auth/sudo"
	"passport/cmd/internal/cache"
	"passport/cmd/internal/metrics"
	"passport/cmd/security/token"

	"github.com/jackc/pgx/v5/pgxpool"
	"google.golang.org/grpc"
)

// App is the passport server runtime.
type App struct {
	cfg Config
	log Logger

	dbPool    *pgxpool.Pool
	dbEnabled bool
	cache     cache.Store
	metrics   *metrics.Metrics

	keys     *token.KeyRing
	sessions *session.Service
	auth     *api.Handler
	grpc     *grpc.Server
}

// New constructs a fully wired App. Without a database URL every store is
// in-memory; without a Redis address the cache is in-process.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel)
	}

	a := &App{cfg: cfg, log: log, metrics: metrics.New()}

	var (
		identities identity.Store
		challenges challenge.Store
		sessions   session.Store
	)

	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		identities, challenges, sessions = memoryStores()
	} else {
		pool, err := NewDBPool(ctx, cfg, log)
		if err != nil {
			return nil, fmt.Errorf("app: connect db: %w", err)
		}
		a.dbPool, a.dbEnabled = pool, true
		log.Info("db.enabled.postgres_store")

		if cfg.MigrateOnStart {
			if err := Migrate(ctx, pool, log); err != nil {
				pool.Close()
				return nil, err
			}
		}

		if identities, challenges, sessions, err = postgresStores(pool); err != nil {
			pool.Close()
			return nil, err
		}
	}

	store, err := newCacheStore(ctx, cfg, log)
	if err != nil {
		a.closeDB()
		return nil, fmt.Errorf("app: connect cache: %w", err)
	}
	a.cache = store

	if err := a.wire(ctx, identities, challenges, sessions); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func postgresStores(pool *pgxpool.Pool) (identity.Store, challenge.Store, session.Store, error) {
	ids, err := identity.NewPostgresStore(pool)
	if err != nil {
		return nil, nil, nil, err
	}
	chs, err := challenge.NewPostgresStore(pool)
	if err != nil {
		return nil, nil, nil, err
	}
	sess, err := session.NewPostgresStore(pool)
	if err != nil {
		return nil, nil, nil, err
	}
	return ids, chs, sess, nil
}

// wire builds the domain services and both transport surfaces on top of the stores.
func (a *App) wire(ctx context.Context, identities identity.Store, challenges challenge.Store, sessions session.Store) error {
	ring, err := a.loadKeys()
	if err != nil {
		return err
	}
	a.keys = ring

	var codecOpts []token.Option
	if a.cfg.OIDCIssuer == "" && a.cfg.OIDCJWKSURL == "" {
		codecOpts = append(codecOpts, token.WithJWTValidator(token.NewKeyValidator(ring, token.ValidatorConfig{
			Audience: a.cfg.OIDCAudience,
			Leeway:   a.cfg.OIDCLeeway,
		})))
		a.log.Info("token.jwt.enabled", "issuer", "self")
	} else {
		v, err := token.NewJWKSValidator(ctx, token.JWKSOptions{
			ValidatorConfig: token.ValidatorConfig{
				Issuer:   a.cfg.OIDCIssuer,
				Audience: a.cfg.OIDCAudience,
				Leeway:   a.cfg.OIDCLeeway,
			},
			JWKSURL: a.cfg.OIDCJWKSURL,
		})
		if err != nil {
			return fmt.Errorf("app: jwks validator: %w", err)
		}
		codecOpts = append(codecOpts, token.WithJWTValidator(v))
		a.log.Info("token.jwt.enabled", "issuer", a.cfg.OIDCIssuer)
	}
	codec := token.NewCodec(ring, codecOpts...)

	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return err
	}
	sessCache, err := session.NewCache(a.cache, sessCfg.CacheTTL)
	if err != nil {
		return err
	}
	a.sessions, err = session.NewService(sessCfg, sessions, sessCache, codec,
		session.WithLogger(a.log), session.WithMetrics(a.metrics))
	if err != nil {
		return err
	}

	verifier := identity.NewVerifier(identity.NoopCodeVerifier{})

	chCfg, err := challenge.LoadConfigFromEnv()
	if err != nil {
		return err
	}
	chSvc, err := challenge.NewService(chCfg, challenges, identities, verifier,
		challenge.WithLogger(a.log), challenge.WithMetrics(a.metrics))
	if err != nil {
		return err
	}

	keys, err := apikey.NewManager(a.sessions, apikey.WithLogger(a.log), apikey.WithMetrics(a.metrics))
	if err != nil {
		return err
	}

	sudoTTL, err := sudo.LoadTTLFromEnv()
	if err != nil {
		return err
	}
	gate, err := sudo.NewGate(a.cache, identities, verifier, sudoTTL, a.log)
	if err != nil {
		return err
	}

	authCfg, err := api.LoadConfigFromEnv()
	if err != nil {
		return err
	}
	var opts []api.HandlerOption
	if a.dbPool != nil {
		opts = append(opts, api.WithAuditLog(a.dbPool))
	}
	a.auth, err = api.NewHandler(a.log, authCfg, api.Services{
		Identities: identities,
		Challenges: chSvc,
		Sessions:   a.sessions,
		APIKeys:    keys,
		Sudo:       gate,
		Keys:       ring,
	}, opts...)
	if err != nil {
		return err
	}

	if a.cfg.GRPCAddr != "" {
		a.grpc = grpcapi.NewGRPCServer(a.log, grpcapi.NewServer(a.log, a.sessions))
	}
	return nil
}

// loadKeys reads the signing key pair from disk, or generates a throwaway one
// when no path is configured.
func (a *App) loadKeys() (*token.KeyRing, error) {
	if a.cfg.TokenPrivateKeyPath != "" || a.cfg.TokenPublicKeyPath != "" {
		ring, err := token.LoadKeyRing(a.cfg.TokenPrivateKeyPath, a.cfg.TokenPublicKeyPath)
		if err != nil {
			return nil, fmt.Errorf("app: load token keys: %w", err)
		}
		return ring, nil
	}

	a.log.Warn("token.keys.ephemeral", "reason", "PASSPORT_TOKEN_PRIVATE_KEY_PATH unset; tokens will not survive a restart")
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	return token.NewKeyRing(priv)
}

// ReloadKeys re-reads the signing key files. A failed reload keeps the
// previous pair in service.
func (a *App) ReloadKeys() error {
	if err := a.keys.Reload(); err != nil {
		a.log.Error("token.keys.reload.fail", "err", err)
		return err
	}
	a.log.Info("token.keys.reload", "kid", a.keys.Current().KeyID)
	return nil
}

// ReloadOn calls ReloadKeys for every value received on sig until ctx ends.
func (a *App) ReloadOn(ctx context.Context, sig <-chan os.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sig:
			_ = a.ReloadKeys()
		}
	}
}

// Run starts the HTTP server (and the gRPC server when configured) and blocks
// until context cancellation or a fatal server error.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.routes(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "grpc_addr", a.cfg.GRPCAddr, "db_enabled", a.dbEnabled)

	errCh := make(chan error, 2)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	if a.grpc != nil {
		lis, err := net.Listen("tcp", a.cfg.GRPCAddr)
		if err != nil {
			_ = srv.Close()
			return fmt.Errorf("app: grpc listen: %w", err)
		}
		go func() {
			if err := a.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errCh <- err
			}
		}()
	}

	gcCtx, stopGC := context.WithCancel(ctx)
	defer stopGC()
	go a.sessions.RunGC(gcCtx, a.cfg.GCInterval)

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case runErr = <-errCh:
		a.log.Error("server.fail", "err", runErr)
	}
	stopGC()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if a.grpc != nil {
		a.grpc.GracefulStop()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		if runErr == nil {
			runErr = err
		}
	}

	a.close()
	a.log.Info("server.stopped")
	return runErr
}

func (a *App) close() {
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.log.Error("cache.close.fail", "err", err)
		}
	}
	a.closeDB()
}

func (a *App) closeDB() {
	if a.dbPool != nil {
		a.dbPool.Close()
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
