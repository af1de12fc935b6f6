package challenge

import (
	"os"
	"time"
)

// Config defines runtime configuration for challenges.
type Config struct {
	// TTL is how long a challenge accepts factor attempts.
	TTL time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{TTL: time.Hour}
}

// LoadConfigFromEnv loads challenge configuration.
//
// Optional:
//   - PASSPORT_CHALLENGE_TTL
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if v := os.Getenv("PASSPORT_CHALLENGE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.TTL = d
	}
	return cfg, nil
}
