package session

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound is returned when no session row matches.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExpired is returned when an operation needs a live session.
	ErrSessionExpired = errors.New("session expired")

	// ErrChallengeConsumed is returned when a challenge already produced a session.
	ErrChallengeConsumed = errors.New("challenge already exchanged for a session")

	// ErrChallengeIncomplete is returned when a challenge still has steps remaining.
	ErrChallengeIncomplete = errors.New("challenge not completed")

	// ErrUnsupportedProvider is returned for identities from a provider that is not enabled.
	ErrUnsupportedProvider = errors.New("unsupported identity provider")

	// ErrAPIKeyNotFound is returned when no API key matches (or the owner differs).
	ErrAPIKeyNotFound = errors.New("api key not found")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)

// RotationError wraps a failure inside an API-key rotation transaction.
// The transaction has been rolled back when this error is returned.
type RotationError struct {
	KeyID string
	Step  string
	Err   error
}

func (e RotationError) Error() string {
	return fmt.Sprintf("rotate api key %s: %s: %v", e.KeyID, e.Step, e.Err)
}

func (e RotationError) Unwrap() error { return e.Err }
