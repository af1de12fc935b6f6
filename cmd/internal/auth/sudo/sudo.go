// Package sudo implements the short-lived elevation required for sensitive
// account operations. Elevation is a per-session cache flag granted by
// re-entering the account PIN; accounts without a PIN are always elevated.
package sudo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"passport/cmd/identity"
	"passport/cmd/internal/auth/session"
	"passport/cmd/internal/cache"

	"github.com/google/uuid"
)

// DefaultTTL is how long a granted elevation lasts.
const DefaultTTL = 5 * time.Minute

// ErrConfig is returned for invalid configuration.
var ErrConfig = errors.New("invalid config")

// LoadTTLFromEnv reads PASSPORT_SUDO_TTL, defaulting to DefaultTTL.
func LoadTTLFromEnv() (time.Duration, error) {
	v := os.Getenv("PASSPORT_SUDO_TTL")
	if v == "" {
		return DefaultTTL, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, ErrConfig
	}
	return d, nil
}

// Gate decides whether a session may perform sensitive operations.
type Gate struct {
	log        *slog.Logger
	flags      cache.Store
	identities identity.Store
	verifier   *identity.Verifier
	ttl        time.Duration
}

// NewGate constructs a Gate. A non-positive ttl uses DefaultTTL.
func NewGate(flags cache.Store, identities identity.Store, verifier *identity.Verifier, ttl time.Duration, log *slog.Logger) (*Gate, error) {
	if flags == nil || identities == nil || verifier == nil {
		return nil, fmt.Errorf("sudo: flags, identities and verifier are required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = slog.Default()
	}
	return &Gate{log: log, flags: flags, identities: identities, verifier: verifier, ttl: ttl}, nil
}

func flagKey(sessionID uuid.UUID) string { return "sudo:" + sessionID.String() }

// ValidateSudoMode reports whether sess is elevated, elevating it when pin is correct.
func (g *Gate) ValidateSudoMode(ctx context.Context, now time.Time, sess session.Session, pin string) (bool, error) {
	key := flagKey(sess.ID)

	ok, err := g.flags.Exists(ctx, key)
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}

	factors, err := g.identities.ListFactors(ctx, sess.AccountID)
	if err != nil {
		return false, err
	}
	f, hasPin := identity.PinFactor(factors, now)
	if !hasPin {
		return true, nil
	}

	pin = strings.TrimSpace(pin)
	if pin == "" {
		return false, nil
	}
	match, err := g.verifier.Verify(ctx, f, pin)
	if err != nil {
		return false, err
	}
	if !match {
		g.log.Warn("auth.sudo.fail", "session_id", sess.ID, "account_id", sess.AccountID)
		return false, nil
	}

	if err := g.flags.Set(ctx, key, []byte(now.UTC().Format(time.RFC3339)), g.ttl); err != nil {
		return false, err
	}
	g.log.Info("auth.sudo.grant", "session_id", sess.ID, "account_id", sess.AccountID)
	return true, nil
}

// Drop removes the elevation flag of a session.
func (g *Gate) Drop(ctx context.Context, sessionID uuid.UUID) error {
	return g.flags.Delete(ctx, flagKey(sessionID))
}
