package challenge

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when the challenge (or its factor) does not exist.
	ErrNotFound = errors.New("challenge not found")

	// ErrChallengeExpired is returned for any attempt after expired_at.
	ErrChallengeExpired = errors.New("challenge expired")

	// ErrChallengeCompleted is returned for factor attempts on a challenge with no steps left.
	ErrChallengeCompleted = errors.New("challenge already completed")

	// ErrFactorUsed is returned when a factor was already verified on this challenge.
	ErrFactorUsed = errors.New("factor already used on this challenge")

	// ErrFactorDisabled is returned for factors that are not enabled or not usable for login.
	ErrFactorDisabled = errors.New("factor disabled")

	// ErrFactorUntrusted is returned for factors with a trust weight of zero or less.
	ErrFactorUntrusted = errors.New("factor is not trustworthy")

	// ErrInvalidCode is returned when factor verification fails.
	ErrInvalidCode = errors.New("invalid code")

	// ErrFactorNoCode is returned when a code is requested for a factor that does not send one.
	ErrFactorNoCode = errors.New("factor does not send codes")

	// ErrNoFactors is returned when an account has no factor that can satisfy a challenge.
	ErrNoFactors = errors.New("account has no usable factors")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)

// Error annotates a challenge failure with the operation that produced it.
type Error struct {
	Op   string
	Kind error
}

func (e Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Kind)
}

func (e Error) Unwrap() error { return e.Kind }

func fail(op string, kind error) error { return Error{Op: op, Kind: kind} }
