package api

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// ErrConfig is returned for invalid HTTP API configuration.
var ErrConfig = errors.New("invalid config")

// AuthCookieName is the cookie carrying the session token for browser clients.
const AuthCookieName = "AuthToken"

// Config controls HTTP auth API behavior and security defaults.
type Config struct {
	TrustProxy   bool
	MaxBodyBytes int64

	// ChallengeRate is the sustained number of challenge creations allowed per
	// client IP per second; ChallengeBurst is the bucket size.
	ChallengeRate  float64
	ChallengeBurst int

	EnableCaptcha bool

	CookieDomain string
	CookiePath   string
	CookieSecure bool
	// CookieMaxAge bounds the AuthToken cookie for sessions without an expiry.
	CookieMaxAge time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxBodyBytes:   1 << 20, // 1 MiB
		ChallengeRate:  0.2,
		ChallengeBurst: 5,
		CookiePath:     "/",
		CookieSecure:   true,
		CookieMaxAge:   365 * 24 * time.Hour,
	}
}

// LoadConfigFromEnv loads HTTP API config from environment variables.
//
// Optional:
//   - PASSPORT_AUTH_TRUST_PROXY
//   - PASSPORT_AUTH_MAX_BODY_BYTES
//   - PASSPORT_AUTH_CHALLENGE_RATE (per second, per IP)
//   - PASSPORT_AUTH_CHALLENGE_BURST
//   - PASSPORT_AUTH_CAPTCHA
//   - PASSPORT_COOKIE_DOMAIN
//   - PASSPORT_COOKIE_SECURE
//   - PASSPORT_COOKIE_MAX_AGE
//
// Returns ErrConfig if a value is present but malformed.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	var err error

	if cfg.TrustProxy, err = envBool("PASSPORT_AUTH_TRUST_PROXY", cfg.TrustProxy); err != nil {
		return Config{}, err
	}
	if cfg.MaxBodyBytes, err = envInt64("PASSPORT_AUTH_MAX_BODY_BYTES", cfg.MaxBodyBytes); err != nil {
		return Config{}, err
	}
	if cfg.ChallengeRate, err = envFloat("PASSPORT_AUTH_CHALLENGE_RATE", cfg.ChallengeRate); err != nil {
		return Config{}, err
	}
	burst, err := envInt64("PASSPORT_AUTH_CHALLENGE_BURST", int64(cfg.ChallengeBurst))
	if err != nil {
		return Config{}, err
	}
	cfg.ChallengeBurst = int(burst)
	if cfg.EnableCaptcha, err = envBool("PASSPORT_AUTH_CAPTCHA", cfg.EnableCaptcha); err != nil {
		return Config{}, err
	}
	cfg.CookieDomain = strings.TrimSpace(os.Getenv("PASSPORT_COOKIE_DOMAIN"))
	if cfg.CookieSecure, err = envBool("PASSPORT_COOKIE_SECURE", cfg.CookieSecure); err != nil {
		return Config{}, err
	}
	if cfg.CookieMaxAge, err = envDuration("PASSPORT_COOKIE_MAX_AGE", cfg.CookieMaxAge); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func envBool(key string, def bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, ErrConfig
	}
	return b, nil
}

func envInt64(key string, def int64) (int64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return 0, ErrConfig
	}
	return n, nil
}

func envFloat(key string, def float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return 0, ErrConfig
	}
	return f, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, ErrConfig
	}
	return d, nil
}
