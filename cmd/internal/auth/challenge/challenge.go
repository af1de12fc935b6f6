package challenge

import (
	"slices"
	"time"

	"passport/cmd/identity"

	"github.com/google/uuid"
)

// Type is the flow a challenge was opened for.
type Type string

const (
	TypeLogin Type = "login"
	TypeOAuth Type = "oauth"
	TypeOidc  Type = "oidc"
)

// ParseType maps request input onto a Type, defaulting to TypeLogin.
func ParseType(s string) Type {
	switch t := Type(s); t {
	case TypeOAuth, TypeOidc:
		return t
	default:
		return TypeLogin
	}
}

// State is the position of a challenge in its lifecycle.
type State string

const (
	StateCreated    State = "created"
	StateInProgress State = "in_progress"
	StateCompleted  State = "completed"
	StateExpired    State = "expired"
)

// Challenge is a multi-factor login attempt.
type Challenge struct {
	ID               uuid.UUID
	AccountID        uuid.UUID
	Type             Type
	StepTotal        int
	StepRemain       int
	FailedAttempts   int
	BlacklistFactors []uuid.UUID
	Audiences        []string
	Scopes           []string
	IPAddress        string
	UserAgent        string
	Location         string
	DeviceID         string
	Platform         identity.Platform
	ClientID         *uuid.UUID
	ExpiredAt        time.Time
	CreatedAt        time.Time
}

// Expired reports whether the challenge no longer accepts attempts.
func (c Challenge) Expired(now time.Time) bool { return now.After(c.ExpiredAt) }

// Completed reports whether every required step has been satisfied.
func (c Challenge) Completed() bool { return c.StepRemain == 0 }

// State derives the lifecycle state at now. Completion wins over expiry.
func (c Challenge) State(now time.Time) State {
	switch {
	case c.Completed():
		return StateCompleted
	case c.Expired(now):
		return StateExpired
	case c.StepRemain < c.StepTotal || len(c.BlacklistFactors) > 0:
		return StateInProgress
	default:
		return StateCreated
	}
}

// Blacklisted reports whether factorID has already been used on this challenge.
func (c Challenge) Blacklisted(factorID uuid.UUID) bool {
	return slices.Contains(c.BlacklistFactors, factorID)
}

// CheckFactor runs the pre-verification gates in order: completion, expiry,
// blacklist, enablement and trust weight.
func (c Challenge) CheckFactor(now time.Time, f identity.Factor) error {
	switch {
	case c.Completed():
		return ErrChallengeCompleted
	case c.Expired(now):
		return ErrChallengeExpired
	case c.Blacklisted(f.ID):
		return ErrFactorUsed
	case f.AccountID != c.AccountID:
		return ErrNotFound
	case !f.Enabled(now) || f.Type == identity.FactorPinCode:
		return ErrFactorDisabled
	case f.Trustworthy <= 0:
		return ErrFactorUntrusted
	default:
		return nil
	}
}

// Advance applies a successful verification: the factor is blacklisted and its
// weight is subtracted from the remaining steps, floored at zero.
// It returns ErrFactorUsed if the factor was already applied and
// ErrChallengeCompleted if no steps remain.
func (c *Challenge) Advance(factorID uuid.UUID, weight int) error {
	if c.Blacklisted(factorID) {
		return ErrFactorUsed
	}
	if c.Completed() {
		return ErrChallengeCompleted
	}
	c.BlacklistFactors = append(c.BlacklistFactors, factorID)
	if weight > 0 {
		c.StepRemain = max(c.StepRemain-weight, 0)
	}
	return nil
}

// Fail records a failed verification attempt. Remaining steps are unchanged.
func (c *Challenge) Fail() { c.FailedAttempts++ }

// Matches reports whether the challenge was opened from the same request context.
func (c Challenge) Matches(accountID uuid.UUID, ip, userAgent, deviceID string) bool {
	return c.AccountID == accountID && c.IPAddress == ip && c.UserAgent == userAgent && c.DeviceID == deviceID
}
