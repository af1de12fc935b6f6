package identity

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Platform identifies the operating environment of a client device.
type Platform string

const (
	PlatformUnknown Platform = "unknown"
	PlatformWeb     Platform = "web"
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
	PlatformMacOS   Platform = "macos"
	PlatformWindows Platform = "windows"
	PlatformLinux   Platform = "linux"
)

// ParsePlatform maps free-form client input onto a Platform, defaulting to PlatformUnknown.
func ParsePlatform(s string) Platform {
	switch p := Platform(strings.ToLower(strings.TrimSpace(s))); p {
	case PlatformWeb, PlatformIOS, PlatformAndroid, PlatformMacOS, PlatformWindows, PlatformLinux:
		return p
	default:
		return PlatformUnknown
	}
}

// Account is the security principal that owns factors, sessions and API keys.
type Account struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
}

// Client is a physical device an account signs in from.
// (AccountID, DeviceID) is unique.
type Client struct {
	ID         uuid.UUID
	AccountID  uuid.UUID
	Platform   Platform
	DeviceID   string
	DeviceName string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ClientInput describes a device presented by a login request.
type ClientInput struct {
	AccountID  uuid.UUID
	Platform   Platform
	DeviceID   string
	DeviceName string
}

// Store abstracts persistence for accounts, factors and client devices.
type Store interface {
	// GetAccount loads an account by id.
	GetAccount(ctx context.Context, id uuid.UUID) (Account, error)

	// FindAccount resolves a login identifier (name or email) to an account.
	FindAccount(ctx context.Context, identifier string) (Account, error)

	// ListFactors returns every factor of the account, enabled or not.
	ListFactors(ctx context.Context, accountID uuid.UUID) ([]Factor, error)

	// GetFactor loads a single factor scoped to its owner.
	GetFactor(ctx context.Context, accountID, factorID uuid.UUID) (Factor, error)

	// UpsertClient returns the client for (AccountID, DeviceID), creating it or refreshing its name.
	UpsertClient(ctx context.Context, now time.Time, in ClientInput) (Client, error)

	// GetClient loads a client by id.
	GetClient(ctx context.Context, id uuid.UUID) (Client, error)
}
