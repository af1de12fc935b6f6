package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"passport/cmd/internal/metrics"
	"passport/cmd/security/token"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// Authentication failure messages returned in AuthResult.Message.
const (
	MsgMissingToken    = "No authentication token provided"
	MsgInvalidToken    = "Invalid token"
	MsgSessionExpired  = "Session has been expired"
	MsgSessionNotFound = "Session was not found"
	MsgAuthError       = "Authentication error"
)

// AuthResult is the outcome of AuthenticateToken. It never carries an error:
// failures are reported through Valid=false and a human-readable Message.
type AuthResult struct {
	Valid   bool
	Session *Session
	Message string
}

// ChallengeGrant is the part of a completed challenge needed to open a session.
type ChallengeGrant struct {
	ChallengeID uuid.UUID
	AccountID   uuid.UUID
	ClientID    *uuid.UUID
	Scopes      []string
	Audiences   []string
	StepRemain  int
}

// ExternalIdentity is a normalized identity record produced by an OIDC adapter.
type ExternalIdentity struct {
	Provider  string
	Subject   string
	AccountID uuid.UUID
	ClientID  *uuid.UUID
	AppID     *uuid.UUID
	Scopes    []string
	Audiences []string
}

// Service implements session creation, authentication and revocation.
//
// Tokens only carry a session id; AuthenticateToken resolves it through the
// cache and falls back to the store, so revocations are honored immediately.
type Service struct {
	log     *slog.Logger
	cfg     Config
	store   Store
	cache   *Cache
	codec   *token.Codec
	metrics *metrics.Metrics

	loads singleflight.Group
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics records authentication and revocation metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService constructs a Service.
func NewService(cfg Config, store Store, c *Cache, codec *token.Codec, opts ...Option) (*Service, error) {
	if store == nil || c == nil || codec == nil {
		return nil, fmt.Errorf("session: store, cache and codec are required")
	}
	s := &Service{
		log:   slog.Default(),
		cfg:   cfg,
		store: store,
		cache: c,
		codec: codec,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Store exposes the underlying store to sibling packages (API keys).
func (s *Service) Store() Store { return s.store }

// Cache exposes the session cache to sibling packages (API keys).
func (s *Service) Cache() *Cache { return s.cache }

// AuthenticateToken resolves a bearer token to a live session.
func (s *Service) AuthenticateToken(ctx context.Context, now time.Time, raw, clientIP string) (res AuthResult) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("session.authenticate.panic", "panic", fmt.Sprint(r), "ip", clientIP)
			res = AuthResult{Message: MsgAuthError}
		}
		s.metrics.AuthResult(resultLabel(res))
	}()

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return AuthResult{Message: MsgMissingToken}
	}

	id, err := s.codec.Validate(ctx, raw)
	if err != nil {
		return AuthResult{Message: MsgInvalidToken}
	}

	sess, hit, err := s.cache.Get(ctx, id)
	if err != nil {
		// Fall through to the store.
		s.log.Warn("session.cache.get.fail", "err", err, "session_id", id)
	}
	if hit {
		s.metrics.CacheLookup("hit")
		if sess.Expired(now) {
			return AuthResult{Message: MsgSessionExpired}
		}
		return AuthResult{Valid: true, Session: &sess}
	}
	s.metrics.CacheLookup("miss")

	v, err, _ := s.loads.Do(id.String(), func() (any, error) {
		loaded, err := s.store.Get(ctx, id)
		if err != nil {
			return Session{}, err
		}
		if !loaded.Expired(now) {
			if err := s.cache.Put(ctx, loaded); err != nil {
				s.log.Warn("session.cache.put.fail", "err", err, "session_id", id)
			}
		}
		return loaded, nil
	})
	if errors.Is(err, ErrSessionNotFound) {
		return AuthResult{Message: MsgSessionNotFound}
	}
	if err != nil {
		s.log.Error("session.authenticate.error", "err", err, "session_id", id, "ip", clientIP)
		return AuthResult{Message: MsgAuthError}
	}

	sess = v.(Session)
	if sess.Expired(now) {
		return AuthResult{Message: MsgSessionExpired}
	}
	return AuthResult{Valid: true, Session: &sess}
}

func resultLabel(r AuthResult) string {
	switch {
	case r.Valid:
		return "ok"
	case r.Message == MsgMissingToken:
		return "missing"
	case r.Message == MsgInvalidToken:
		return "invalid"
	case r.Message == MsgSessionExpired:
		return "expired"
	case r.Message == MsgSessionNotFound:
		return "not_found"
	default:
		return "error"
	}
}

// CreateToken issues a compact token for the session.
func (s *Service) CreateToken(sess Session) (string, error) {
	return s.codec.CreateToken(sess.ID)
}

func (s *Service) expiry(now time.Time) *time.Time {
	if s.cfg.SessionTTL <= 0 {
		return nil
	}
	exp := now.Add(s.cfg.SessionTTL)
	return &exp
}

// CreateFromChallenge opens the one session a completed challenge may produce.
func (s *Service) CreateFromChallenge(ctx context.Context, now time.Time, g ChallengeGrant) (Session, error) {
	if g.StepRemain > 0 {
		return Session{}, ErrChallengeIncomplete
	}
	if _, err := s.store.GetByChallenge(ctx, g.ChallengeID); err == nil {
		return Session{}, ErrChallengeConsumed
	} else if !errors.Is(err, ErrSessionNotFound) {
		return Session{}, err
	}

	challengeID := g.ChallengeID
	sess := Session{
		ID:            uuid.New(),
		AccountID:     g.AccountID,
		ChallengeID:   &challengeID,
		ClientID:      g.ClientID,
		Scopes:        slices.Clone(g.Scopes),
		Audiences:     slices.Clone(g.Audiences),
		LastGrantedAt: &now,
		ExpiredAt:     s.expiry(now),
		CreatedAt:     now,
	}
	if err := s.store.Create(ctx, sess); err != nil {
		return Session{}, err
	}
	s.log.Info("session.create", "session_id", sess.ID, "account_id", sess.AccountID, "challenge_id", challengeID)
	return sess, nil
}

// CreateFromIdentity opens a session for an identity asserted by an external provider.
// When parent is set the new session hangs off it and dies with it.
func (s *Service) CreateFromIdentity(ctx context.Context, now time.Time, ident ExternalIdentity, parent *Session) (Session, error) {
	if !s.cfg.providerEnabled(ident.Provider) {
		return Session{}, fmt.Errorf("%w: %q", ErrUnsupportedProvider, ident.Provider)
	}
	if ident.AccountID == uuid.Nil {
		return Session{}, fmt.Errorf("session: identity without account")
	}

	sess := Session{
		ID:            uuid.New(),
		AccountID:     ident.AccountID,
		ClientID:      ident.ClientID,
		AppID:         ident.AppID,
		Scopes:        slices.Clone(ident.Scopes),
		Audiences:     slices.Clone(ident.Audiences),
		LastGrantedAt: &now,
		ExpiredAt:     s.expiry(now),
		CreatedAt:     now,
	}
	if parent != nil {
		if parent.Expired(now) {
			return Session{}, ErrSessionExpired
		}
		pid := parent.ID
		sess.ParentSessionID = &pid
	}
	if err := s.store.Create(ctx, sess); err != nil {
		return Session{}, err
	}
	s.log.Info("session.create", "session_id", sess.ID, "account_id", sess.AccountID, "provider", strings.ToLower(ident.Provider))
	return sess, nil
}

// CreateLinked derives a session for another device of the same account from a live parent.
func (s *Service) CreateLinked(ctx context.Context, now time.Time, parent Session, clientID *uuid.UUID) (Session, error) {
	if parent.Expired(now) {
		return Session{}, ErrSessionExpired
	}
	pid := parent.ID
	sess := Session{
		ID:              uuid.New(),
		AccountID:       parent.AccountID,
		ClientID:        clientID,
		AppID:           parent.AppID,
		ParentSessionID: &pid,
		Scopes:          slices.Clone(parent.Scopes),
		Audiences:       slices.Clone(parent.Audiences),
		LastGrantedAt:   &now,
		ExpiredAt:       parent.ExpiredAt,
		CreatedAt:       now,
	}
	if err := s.store.Create(ctx, sess); err != nil {
		return Session{}, err
	}
	s.log.Info("session.create", "session_id", sess.ID, "account_id", sess.AccountID, "parent_session_id", pid)
	return sess, nil
}

// Get loads a session from the store.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Session, error) {
	return s.store.Get(ctx, id)
}

// ListByAccount lists the account's sessions.
func (s *Service) ListByAccount(ctx context.Context, now time.Time, accountID uuid.UUID, includeExpired bool) ([]Session, error) {
	return s.store.ListByAccount(ctx, accountID, includeExpired, now)
}

// PurgeExpired deletes rows that have been expired for longer than olderThan
// (Config.GCAfter when zero).
func (s *Service) PurgeExpired(ctx context.Context, now time.Time, olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		olderThan = s.cfg.GCAfter
	}
	n, err := s.store.PurgeExpired(ctx, now.Add(-olderThan))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info("session.gc", "purged", n)
	}
	return n, nil
}

// RunGC purges expired sessions every interval until ctx is done.
func (s *Service) RunGC(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if _, err := s.PurgeExpired(ctx, now.UTC(), 0); err != nil && ctx.Err() == nil {
				s.log.Error("session.gc.fail", "err", err)
			}
		}
	}
}
