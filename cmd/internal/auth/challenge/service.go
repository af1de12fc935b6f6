package challenge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"passport/cmd/identity"
	"passport/cmd/internal/metrics"

	"github.com/google/uuid"
)

// Service drives challenge creation and factor verification.
type Service struct {
	log        *slog.Logger
	cfg        Config
	store      Store
	identities identity.Store
	verifier   *identity.Verifier
	risk       *RiskEngine
	notifier   Notifier
	locator    Locator
	metrics    *metrics.Metrics
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

// WithNotifier overrides the login notifier (default LogNotifier).
func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithLocator sets the geo-IP locator (default NoopLocator).
func WithLocator(l Locator) Option {
	return func(s *Service) {
		if l != nil {
			s.locator = l
		}
	}
}

// WithMetrics records step and factor metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService constructs a Service.
func NewService(cfg Config, store Store, identities identity.Store, verifier *identity.Verifier, opts ...Option) (*Service, error) {
	if store == nil || identities == nil || verifier == nil {
		return nil, fmt.Errorf("challenge: store, identities and verifier are required")
	}
	if cfg.TTL <= 0 {
		return nil, ErrConfig
	}
	s := &Service{
		log:        slog.Default(),
		cfg:        cfg,
		store:      store,
		identities: identities,
		verifier:   verifier,
		risk:       NewRiskEngine(identities, store),
		locator:    NoopLocator{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.notifier == nil {
		s.notifier = LogNotifier{Log: s.log}
	}
	return s, nil
}

// Risk exposes the risk engine.
func (s *Service) Risk() *RiskEngine { return s.risk }

// CreateInput describes a login attempt.
type CreateInput struct {
	// Identifier is the account name or email.
	Identifier string
	Type       Type
	IPAddress  string
	UserAgent  string
	DeviceID   string
	DeviceName string
	Platform   identity.Platform
	Audiences  []string
	Scopes     []string
}

// Create opens a challenge for a login attempt, or returns the open one
// started from the same account, IP, user agent and device.
func (s *Service) Create(ctx context.Context, now time.Time, in CreateInput) (Challenge, error) {
	const op = "challenge.Create"

	account, err := s.identities.FindAccount(ctx, in.Identifier)
	if err != nil {
		if identity.IsNotFound(err) || identity.IsInvalidInput(err) {
			return Challenge{}, fail(op, ErrNotFound)
		}
		return Challenge{}, err
	}

	rc := RequestContext{
		IPAddress: strings.TrimSpace(in.IPAddress),
		UserAgent: strings.TrimSpace(in.UserAgent),
		DeviceID:  strings.TrimSpace(in.DeviceID),
	}

	existing, err := s.store.FindOpen(ctx, now, account.ID, rc)
	if err == nil {
		s.log.Info("auth.challenge.reuse", "challenge_id", existing.ID, "account_id", account.ID)
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Challenge{}, err
	}

	steps, err := s.risk.DetectChallengeRisk(ctx, now, rc, account.ID)
	if err != nil {
		return Challenge{}, err
	}
	if steps == 0 {
		return Challenge{}, fail(op, ErrNoFactors)
	}

	c := Challenge{
		ID:         uuid.New(),
		AccountID:  account.ID,
		Type:       in.Type,
		StepTotal:  steps,
		StepRemain: steps,
		Audiences:  slices.Clone(in.Audiences),
		Scopes:     slices.Clone(in.Scopes),
		IPAddress:  rc.IPAddress,
		UserAgent:  rc.UserAgent,
		DeviceID:   rc.DeviceID,
		Platform:   in.Platform,
		ExpiredAt:  now.Add(s.cfg.TTL),
		CreatedAt:  now,
	}
	if c.Type == "" {
		c.Type = TypeLogin
	}
	if c.Platform == "" {
		c.Platform = identity.PlatformUnknown
	}

	if rc.DeviceID != "" {
		client, err := s.identities.UpsertClient(ctx, now, identity.ClientInput{
			AccountID:  account.ID,
			Platform:   c.Platform,
			DeviceID:   rc.DeviceID,
			DeviceName: in.DeviceName,
		})
		if err != nil {
			return Challenge{}, err
		}
		c.ClientID = &client.ID
	}

	if rc.IPAddress != "" {
		loc, err := s.locator.Locate(ctx, rc.IPAddress)
		if err != nil {
			s.log.Warn("auth.challenge.locate.fail", "err", err, "ip", rc.IPAddress)
		}
		c.Location = loc
	}

	if err := s.store.Create(ctx, c); err != nil {
		return Challenge{}, err
	}
	s.metrics.ChallengeSteps(steps)
	s.log.Info("auth.challenge.create", "challenge_id", c.ID, "account_id", c.AccountID, "steps", steps)
	return c, nil
}

// Get loads a challenge.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Challenge, error) {
	c, err := s.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return Challenge{}, fail("challenge.Get", ErrNotFound)
	}
	return c, err
}

// FactorView is a factor as shown to the client completing a challenge.
type FactorView struct {
	identity.Factor
	Used bool
}

// Factors lists the factors usable for the challenge, secrets stripped.
func (s *Service) Factors(ctx context.Context, now time.Time, id uuid.UUID) ([]FactorView, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	all, err := s.identities.ListFactors(ctx, c.AccountID)
	if err != nil {
		return nil, err
	}
	var out []FactorView
	for _, f := range identity.EnabledFactors(all, now) {
		if f.Type == identity.FactorPinCode {
			continue
		}
		out = append(out, FactorView{Factor: f.Redacted(), Used: c.Blacklisted(f.ID)})
	}
	return out, nil
}

func (s *Service) loadFactor(ctx context.Context, op string, c Challenge, factorID uuid.UUID) (identity.Factor, error) {
	f, err := s.identities.GetFactor(ctx, c.AccountID, factorID)
	if identity.IsNotFound(err) {
		return identity.Factor{}, fail(op, ErrNotFound)
	}
	return f, err
}

// RequestCode asks for a one-time code to be delivered for a code-sending factor.
func (s *Service) RequestCode(ctx context.Context, now time.Time, id, factorID uuid.UUID, hint string) error {
	const op = "challenge.RequestCode"

	c, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	f, err := s.loadFactor(ctx, op, c, factorID)
	if err != nil {
		return err
	}
	if err := c.CheckFactor(now, f); err != nil {
		return fail(op, err)
	}
	if !f.Type.SendsCode() {
		return fail(op, ErrFactorNoCode)
	}
	if err := s.verifier.SendCode(ctx, f, hint); err != nil {
		return err
	}
	s.log.Info("auth.challenge.code.sent", "challenge_id", c.ID, "factor_id", f.ID, "factor_type", string(f.Type))
	return nil
}

// Verify checks code against factorID and advances the challenge.
//
// Gates run in order: completion, expiry, blacklist, enablement, trust. A
// wrong code records a failed attempt and returns ErrInvalidCode. The login
// notification is sent once, by the verification that satisfies the last step.
func (s *Service) Verify(ctx context.Context, now time.Time, id, factorID uuid.UUID, code string) (Challenge, error) {
	const op = "challenge.Verify"

	c, err := s.Get(ctx, id)
	if err != nil {
		return Challenge{}, err
	}
	f, err := s.loadFactor(ctx, op, c, factorID)
	if err != nil {
		return Challenge{}, err
	}
	if err := c.CheckFactor(now, f); err != nil {
		s.metrics.FactorAttempt(string(f.Type), "rejected")
		return Challenge{}, fail(op, err)
	}

	ok, err := s.verifier.Verify(ctx, f, code)
	if err != nil {
		return Challenge{}, err
	}
	if !ok {
		s.metrics.FactorAttempt(string(f.Type), "fail")
		if _, err := s.store.RecordFailure(ctx, c.ID); err != nil {
			return Challenge{}, err
		}
		s.log.Warn("auth.factor.fail", "challenge_id", c.ID, "factor_id", f.ID, "account_id", c.AccountID)
		return Challenge{}, fail(op, ErrInvalidCode)
	}

	c, err = s.store.RecordSuccess(ctx, c.ID, f.ID, f.Trustworthy)
	if err != nil {
		if errors.Is(err, ErrFactorUsed) || errors.Is(err, ErrChallengeCompleted) || errors.Is(err, ErrNotFound) {
			return Challenge{}, fail(op, err)
		}
		return Challenge{}, err
	}
	s.metrics.FactorAttempt(string(f.Type), "ok")
	s.log.Info("auth.factor.verified", "challenge_id", c.ID, "factor_id", f.ID, "step_remain", c.StepRemain)

	if c.Completed() {
		if err := s.notifier.NotifyLogin(ctx, c); err != nil {
			s.log.Warn("auth.challenge.notify.fail", "err", err, "challenge_id", c.ID)
		}
	}
	return c, nil
}
