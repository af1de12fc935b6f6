package challenge

import (
	"context"
	"log/slog"
)

// Notifier delivers the "new login" notification when a challenge completes.
type Notifier interface {
	NotifyLogin(ctx context.Context, c Challenge) error
}

// LogNotifier logs login notifications instead of pushing them.
type LogNotifier struct {
	Log *slog.Logger
}

func (n LogNotifier) NotifyLogin(_ context.Context, c Challenge) error {
	l := n.Log
	if l == nil {
		l = slog.Default()
	}
	l.Info("auth.challenge.notify",
		"challenge_id", c.ID,
		"account_id", c.AccountID,
		"ip", c.IPAddress,
		"location", c.Location,
		"platform", string(c.Platform),
	)
	return nil
}

// Locator resolves an IP address to a human-readable location.
type Locator interface {
	Locate(ctx context.Context, ip string) (string, error)
}

// NoopLocator never resolves a location.
type NoopLocator struct{}

func (NoopLocator) Locate(context.Context, string) (string, error) { return "", nil }
