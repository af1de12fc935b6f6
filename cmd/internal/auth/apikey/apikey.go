// Package apikey manages long-lived API keys. Each key owns exactly one
// challenge-less session; tokens issued for a key are ordinary compact tokens
// for that session, so rotating the key's session invalidates them.
package apikey

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"passport/cmd/internal/auth/session"
	"passport/cmd/internal/metrics"

	"github.com/google/uuid"
)

const maxLabelLen = 128

var (
	// ErrNotFound is returned when the key does not exist or belongs to another account.
	ErrNotFound = session.ErrAPIKeyNotFound

	// ErrInvalidLabel is returned for empty or oversized labels.
	ErrInvalidLabel = errors.New("invalid api key label")
)

// Manager implements API key lifecycle operations on top of the session service.
type Manager struct {
	log      *slog.Logger
	sessions *session.Service
	store    session.Store
	cache    *session.Cache
	metrics  *metrics.Metrics
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// WithMetrics records rotation outcomes.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// NewManager constructs a Manager.
func NewManager(sessions *session.Service, opts ...Option) (*Manager, error) {
	if sessions == nil {
		return nil, fmt.Errorf("apikey: nil session service")
	}
	m := &Manager{
		log:      slog.Default(),
		sessions: sessions,
		store:    sessions.Store(),
		cache:    sessions.Cache(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m, nil
}

// CreateInput describes a new API key.
type CreateInput struct {
	AccountID uuid.UUID
	Label     string
	ExpiresAt *time.Time
	// Parent, when set, ties the key's session to it: revoking the parent revokes the key.
	Parent *session.Session
}

// Create stores a key and its session in one transaction.
func (m *Manager) Create(ctx context.Context, now time.Time, in CreateInput) (session.APIKey, error) {
	label := strings.TrimSpace(in.Label)
	if label == "" || utf8.RuneCountInString(label) > maxLabelLen {
		return session.APIKey{}, ErrInvalidLabel
	}
	if in.ExpiresAt != nil && !in.ExpiresAt.After(now) {
		return session.APIKey{}, fmt.Errorf("apikey: expiry in the past")
	}

	sess := session.Session{
		ID:        uuid.New(),
		AccountID: in.AccountID,
		Scopes:    []string{"*"},
		ExpiredAt: in.ExpiresAt,
		CreatedAt: now,
	}
	if p := in.Parent; p != nil {
		if p.AccountID != in.AccountID {
			return session.APIKey{}, fmt.Errorf("apikey: parent session belongs to another account")
		}
		pid := p.ID
		sess.ParentSessionID = &pid
		sess.Scopes = slices.Clone(p.Scopes)
		sess.Audiences = slices.Clone(p.Audiences)
	}

	key := session.APIKey{
		ID:        uuid.New(),
		AccountID: in.AccountID,
		Label:     label,
		SessionID: sess.ID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.CreateAPIKey(ctx, key, sess); err != nil {
		return session.APIKey{}, err
	}
	m.log.Info("auth.apikey.create", "key_id", key.ID, "account_id", key.AccountID)
	return key, nil
}

// Get loads a key. When accountID is set, a key owned by someone else is reported as ErrNotFound.
func (m *Manager) Get(ctx context.Context, id uuid.UUID, accountID *uuid.UUID) (session.APIKey, error) {
	key, err := m.store.GetAPIKey(ctx, id)
	if err != nil {
		return session.APIKey{}, err
	}
	if accountID != nil && key.AccountID != *accountID {
		return session.APIKey{}, ErrNotFound
	}
	return key, nil
}

// List returns the account's keys, newest first.
func (m *Manager) List(ctx context.Context, accountID uuid.UUID) ([]session.APIKey, error) {
	return m.store.ListAPIKeys(ctx, accountID)
}

// Issue stamps last_granted_at on the key's session and returns a compact token for it.
func (m *Manager) Issue(ctx context.Context, now time.Time, key session.APIKey) (string, error) {
	sess, err := m.store.Get(ctx, key.SessionID)
	if err != nil {
		return "", err
	}
	if sess.Expired(now) {
		return "", session.ErrSessionExpired
	}
	if err := m.store.SetLastGranted(ctx, sess.ID, now); err != nil {
		return "", err
	}
	return m.sessions.CreateToken(sess)
}

// Rotate replaces the key's session under the key's row lock.
//
// The old session is expired and deleted, a new one inheriting account,
// expiry, parent and scopes takes its place, and the caches are evicted
// before commit. Any failure rolls the whole rotation back, leaving the key
// on its original session.
func (m *Manager) Rotate(ctx context.Context, now time.Time, key session.APIKey) (session.APIKey, error) {
	next := func(old session.Session) session.Session {
		return session.Session{
			ID:              uuid.New(),
			AccountID:       old.AccountID,
			ParentSessionID: old.ParentSessionID,
			Scopes:          slices.Clone(old.Scopes),
			Audiences:       slices.Clone(old.Audiences),
			ExpiredAt:       old.ExpiredAt,
			CreatedAt:       now,
		}
	}
	evict := func(ctx context.Context, old, _ session.Session) error {
		if err := m.cache.Evict(ctx, old.ID); err != nil {
			return err
		}
		return m.cache.EvictAccount(ctx, old.AccountID)
	}

	rotated, fresh, err := m.store.RotateAPIKey(ctx, now, key.ID, next, evict)
	if err != nil {
		m.metrics.APIKeyRotation("fail")
		m.log.Error("auth.apikey.rotate.fail", "err", err, "key_id", key.ID)
		return session.APIKey{}, err
	}
	// A reader between the pre-commit eviction and the commit can refill the
	// cache with the old session, so evict once more now that it is gone.
	if err := m.cache.Evict(ctx, key.SessionID); err != nil {
		m.log.Warn("auth.apikey.evict.fail", "err", err, "key_id", key.ID)
	}
	if err := m.cache.EvictAccount(ctx, rotated.AccountID); err != nil {
		m.log.Warn("auth.apikey.evict.fail", "err", err, "key_id", key.ID)
	}
	m.metrics.APIKeyRotation("ok")
	m.log.Info("auth.apikey.rotate", "key_id", rotated.ID, "session_id", fresh.ID)
	return rotated, nil
}

// Revoke hard-deletes the key and its session.
//
// The key session is revoked first so sessions derived from it expire with
// it instead of being orphaned when the delete detaches them.
func (m *Manager) Revoke(ctx context.Context, now time.Time, key session.APIKey) error {
	if _, err := m.sessions.RevokeSession(ctx, now, key.SessionID); err != nil {
		return err
	}
	deleted, err := m.store.DeleteAPIKey(ctx, key.ID)
	if err != nil {
		return err
	}
	if err := m.cache.Evict(ctx, deleted.SessionID); err != nil {
		m.log.Warn("auth.apikey.evict.fail", "err", err, "key_id", deleted.ID)
	}
	if err := m.cache.EvictAccount(ctx, deleted.AccountID); err != nil {
		m.log.Warn("auth.apikey.evict.fail", "err", err, "key_id", deleted.ID)
	}
	m.log.Info("auth.apikey.revoke", "key_id", deleted.ID, "account_id", deleted.AccountID)
	return nil
}
