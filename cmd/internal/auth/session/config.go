package session

import (
	"os"
	"strings"
	"time"
)

// Config defines runtime configuration for the session subsystem.
type Config struct {
	// CacheTTL is how long an authenticated session stays in the cache.
	CacheTTL time.Duration

	// SessionTTL bounds sessions created from challenges and identities.
	// Zero means sessions do not expire on their own.
	SessionTTL time.Duration

	// GCAfter is how long an expired session row is retained before PurgeExpired removes it.
	GCAfter time.Duration

	// IdentityProviders lists the external providers whose identities may open sessions.
	IdentityProviders []string
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		CacheTTL:          time.Hour,
		SessionTTL:        0,
		GCAfter:           30 * 24 * time.Hour,
		IdentityProviders: []string{"apple", "discord", "github", "google", "spotify", "steam"},
	}
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Optional:
//   - PASSPORT_SESSION_CACHE_TTL
//   - PASSPORT_SESSION_TTL (0 disables expiry)
//   - PASSPORT_SESSION_GC_AFTER
//   - PASSPORT_OIDC_PROVIDERS (comma separated)
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("PASSPORT_SESSION_CACHE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.CacheTTL = d
	}

	if v := os.Getenv("PASSPORT_SESSION_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, ErrConfig
		}
		cfg.SessionTTL = d
	}

	if v := os.Getenv("PASSPORT_SESSION_GC_AFTER"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.GCAfter = d
	}

	if v, ok := os.LookupEnv("PASSPORT_OIDC_PROVIDERS"); ok {
		cfg.IdentityProviders = nil
		for _, p := range strings.Split(v, ",") {
			if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
				cfg.IdentityProviders = append(cfg.IdentityProviders, p)
			}
		}
	}

	return cfg, nil
}

func (c Config) providerEnabled(name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, p := range c.IdentityProviders {
		if p == name {
			return true
		}
	}
	return false
}
