package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr string
	GRPCAddr string
	LogLevel string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// If true, /readyz returns 503 unless the DB is configured and reachable.
	ReadinessRequireDB bool
	MigrateOnStart     bool

	// StartupRetries bounds the DB and Redis connection attempts at boot.
	StartupRetries uint

	// Empty RedisAddr selects the in-process cache.
	RedisAddr      string
	RedisUsername  string
	RedisPassword  string
	RedisDB        int
	RedisKeyPrefix string

	TokenPrivateKeyPath string
	TokenPublicKeyPath  string

	// Delegated JWTs are checked against the provider's JWKS when OIDCIssuer or
	// OIDCJWKSURL is set, and against our own signing key otherwise.
	OIDCIssuer   string
	OIDCAudience string
	OIDCJWKSURL  string
	OIDCLeeway   time.Duration

	GCInterval time.Duration

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr: EnvString("PASSPORT_HTTP_ADDR", "0.0.0.0:8080"),
		GRPCAddr: EnvString("PASSPORT_GRPC_ADDR", ""),
		LogLevel: EnvString("PASSPORT_LOG_LEVEL", "info"),

		ReadHeaderTimeout: EnvDuration("PASSPORT_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("PASSPORT_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("PASSPORT_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("PASSPORT_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("PASSPORT_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("PASSPORT_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("PASSPORT_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("PASSPORT_DB_MIN_CONNS", 0),

		ReadinessRequireDB: EnvBool("PASSPORT_READINESS_REQUIRE_DB", false),
		MigrateOnStart:     EnvBool("PASSPORT_MIGRATE_ON_START", false),
		StartupRetries:     uint(EnvInt("PASSPORT_STARTUP_RETRIES", 5)),

		RedisAddr:      EnvString("PASSPORT_REDIS_ADDR", ""),
		RedisUsername:  EnvString("PASSPORT_REDIS_USERNAME", ""),
		RedisPassword:  EnvString("PASSPORT_REDIS_PASSWORD", ""),
		RedisDB:        EnvInt("PASSPORT_REDIS_DB", 0),
		RedisKeyPrefix: EnvString("PASSPORT_REDIS_PREFIX", "passport:"),

		TokenPrivateKeyPath: EnvString("PASSPORT_TOKEN_PRIVATE_KEY_PATH", ""),
		TokenPublicKeyPath:  EnvString("PASSPORT_TOKEN_PUBLIC_KEY_PATH", ""),

		OIDCIssuer:   EnvString("PASSPORT_OIDC_ISSUER", ""),
		OIDCAudience: EnvString("PASSPORT_OIDC_AUDIENCE", ""),
		OIDCJWKSURL:  EnvString("PASSPORT_OIDC_JWKS_URL", ""),
		OIDCLeeway:   EnvDuration("PASSPORT_OIDC_LEEWAY", 30*time.Second),

		GCInterval: EnvDuration("PASSPORT_SESSION_GC_INTERVAL", time.Hour),

		CORSAllowedOrigins:   EnvList("PASSPORT_CORS_ALLOWED_ORIGINS"),
		CORSAllowCredentials: EnvBool("PASSPORT_CORS_ALLOW_CREDENTIALS", true),
		CORSMaxAgeSeconds:    EnvInt("PASSPORT_CORS_MAX_AGE", 600),
	}
}
