package session

import (
	"context"
	"time"

	"passport/cmd/identity"

	"github.com/google/uuid"
)

// Session is the persisted principal context referenced by issued tokens.
type Session struct {
	ID              uuid.UUID
	AccountID       uuid.UUID
	ChallengeID     *uuid.UUID
	ClientID        *uuid.UUID
	AppID           *uuid.UUID
	ParentSessionID *uuid.UUID
	Scopes          []string
	Audiences       []string
	LastGrantedAt   *time.Time
	ExpiredAt       *time.Time
	CreatedAt       time.Time

	// Populated by Get when the backing store can join them.
	Account *identity.Account `cbor:",omitempty"`
	Client  *identity.Client  `cbor:",omitempty"`
}

// Expired reports whether the session is dead at now.
func (s Session) Expired(now time.Time) bool {
	return s.ExpiredAt != nil && !s.ExpiredAt.After(now)
}

// Ref is the minimal projection used while walking the session graph.
type Ref struct {
	ID        uuid.UUID
	AccountID uuid.UUID
	ExpiredAt *time.Time
}

// APIKey pairs a long-lived credential label with a dedicated session.
type APIKey struct {
	ID        uuid.UUID
	AccountID uuid.UUID
	Label     string
	SessionID uuid.UUID
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RotateHook runs inside the rotation transaction after every row change and before commit.
// Returning an error rolls the rotation back.
type RotateHook func(ctx context.Context, old, next Session) error

// Store abstracts persistence for sessions and API keys.
type Store interface {
	// Create inserts a new session row.
	Create(ctx context.Context, s Session) error

	// Get loads a session, joining account and client when available.
	Get(ctx context.Context, id uuid.UUID) (Session, error)

	// GetByChallenge loads the session created from a challenge.
	GetByChallenge(ctx context.Context, challengeID uuid.UUID) (Session, error)

	// ListByAccount lists sessions of an account, newest first.
	ListByAccount(ctx context.Context, accountID uuid.UUID, includeExpired bool, now time.Time) ([]Session, error)

	// SetLastGranted stamps last_granted_at.
	SetLastGranted(ctx context.Context, id uuid.UUID, at time.Time) error

	// Children returns the direct children of every id in parents.
	Children(ctx context.Context, parents []uuid.UUID) ([]Ref, error)

	// ExpireSessions sets expired_at=now on every listed session that is still live
	// and returns the ones it changed.
	ExpireSessions(ctx context.Context, now time.Time, ids []uuid.UUID) ([]Ref, error)

	// ExpireAccount expires every live session of the account and returns them.
	ExpireAccount(ctx context.Context, now time.Time, accountID uuid.UUID) ([]Ref, error)

	// PurgeExpired deletes session rows that expired before cutoff and are not referenced by an API key.
	PurgeExpired(ctx context.Context, cutoff time.Time) (int, error)

	// CreateAPIKey inserts the key's session and the key row in one transaction.
	CreateAPIKey(ctx context.Context, key APIKey, s Session) error

	// GetAPIKey loads a key by id.
	GetAPIKey(ctx context.Context, id uuid.UUID) (APIKey, error)

	// ListAPIKeys lists an account's keys, newest first.
	ListAPIKeys(ctx context.Context, accountID uuid.UUID) ([]APIKey, error)

	// RotateAPIKey locks the key, expires its session, inserts next, repoints the key,
	// deletes the old session row and runs hook, all in one transaction.
	RotateAPIKey(ctx context.Context, now time.Time, keyID uuid.UUID, next func(old Session) Session, hook RotateHook) (APIKey, Session, error)

	// DeleteAPIKey removes the key and its session and returns the deleted key.
	DeleteAPIKey(ctx context.Context, keyID uuid.UUID) (APIKey, error)
}
