package token

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/lestrrat-go/httprc/v3"
	"github.com/lestrrat-go/jwx/v3/jwk"
)

// JWTValidator validates a three-segment JWT and returns the session id in its jti claim.
type JWTValidator interface {
	SessionID(ctx context.Context, raw string) (uuid.UUID, error)
}

// ValidatorConfig carries the claim checks shared by both validators.
type ValidatorConfig struct {
	Issuer   string
	Audience string
	Leeway   time.Duration
}

func (c ValidatorConfig) parserOptions() []jwt.ParserOption {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithLeeway(c.Leeway),
	}
	if c.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.Issuer))
	}
	if c.Audience != "" {
		opts = append(opts, jwt.WithAudience(c.Audience))
	}
	return opts
}

// KeyValidator checks JWTs signed by this service's own key ring.
type KeyValidator struct {
	keys *KeyRing
	cfg  ValidatorConfig
}

// NewKeyValidator builds a validator bound to keys.
func NewKeyValidator(keys *KeyRing, cfg ValidatorConfig) *KeyValidator {
	return &KeyValidator{keys: keys, cfg: cfg}
}

// SessionID implements JWTValidator.
func (v *KeyValidator) SessionID(_ context.Context, raw string) (uuid.UUID, error) {
	t, err := jwt.Parse(raw, func(_ *jwt.Token) (any, error) {
		pair := v.keys.Current()
		if pair == nil {
			return nil, ErrNoSigningKey
		}
		return pair.Public, nil
	}, v.cfg.parserOptions()...)
	if err != nil {
		return uuid.Nil, invalid(err)
	}
	claims, ok := t.Claims.(jwt.MapClaims)
	if !ok {
		return uuid.Nil, invalid(ErrMalformed)
	}
	return sessionIDFromClaims(claims)
}

// JWKSValidator checks JWTs issued by an external OIDC provider.
// Keys come from the provider's JWKS, cached and refreshed in the background.
type JWKSValidator struct {
	cfg     ValidatorConfig
	jwksURL string
	cache   *jwk.Cache

	registerMu sync.Mutex
	registered bool
}

const jwksFetchTries = 3

// JWKSOptions configures NewJWKSValidator.
type JWKSOptions struct {
	ValidatorConfig

	// JWKSURL skips discovery when set.
	JWKSURL    string
	HTTPClient *http.Client
}

// NewJWKSValidator resolves the provider's jwks_uri (via OIDC discovery unless JWKSURL is given)
// and prepares a JWKS cache. Registration with the cache happens lazily on first use.
func NewJWKSValidator(ctx context.Context, opts JWKSOptions) (*JWKSValidator, error) {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	jwksURL := strings.TrimSpace(opts.JWKSURL)
	if jwksURL == "" {
		if opts.Issuer == "" {
			return nil, errors.New("jwks validator: issuer or jwks url required")
		}
		discovered, err := discoverJWKSURL(oidc.ClientContext(ctx, client), opts.Issuer)
		if err != nil {
			return nil, err
		}
		jwksURL = discovered
	}

	cache, err := jwk.NewCache(ctx, httprc.NewClient(httprc.WithHTTPClient(client)))
	if err != nil {
		return nil, fmt.Errorf("jwks validator: create cache: %w", err)
	}

	return &JWKSValidator{cfg: opts.ValidatorConfig, jwksURL: jwksURL, cache: cache}, nil
}

func discoverJWKSURL(ctx context.Context, issuer string) (string, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return "", fmt.Errorf("jwks validator: discovery: %w", err)
	}
	var meta struct {
		JWKSURL string `json:"jwks_uri"`
	}
	if err := provider.Claims(&meta); err != nil {
		return "", fmt.Errorf("jwks validator: discovery claims: %w", err)
	}
	if meta.JWKSURL == "" {
		return "", errors.New("jwks validator: provider did not advertise jwks_uri")
	}
	return meta.JWKSURL, nil
}

// keySet registers the JWKS url once and returns the cached set. Until a
// first fetch succeeds every call forces one, so a provider outage at startup
// does not stick.
func (v *JWKSValidator) keySet(ctx context.Context) (jwk.Set, error) {
	v.registerMu.Lock()
	defer v.registerMu.Unlock()

	if !v.registered {
		if err := v.cache.Register(ctx, v.jwksURL, jwk.WithWaitReady(false)); err != nil {
			return nil, fmt.Errorf("jwks register: %w", err)
		}
		v.registered = true
	}
	if set, err := v.cache.Lookup(ctx, v.jwksURL); err == nil {
		return set, nil
	}

	// Detached so one cancelled request does not fail the fetch for the waiters behind it.
	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = time.Second
	set, err := backoff.Retry(fetchCtx, func() (jwk.Set, error) {
		return v.cache.Refresh(fetchCtx, v.jwksURL)
	}, backoff.WithBackOff(b), backoff.WithMaxTries(jwksFetchTries))
	if err != nil {
		return nil, fmt.Errorf("jwks fetch: %w", err)
	}
	return set, nil
}

func (v *JWKSValidator) keyFor(ctx context.Context, t *jwt.Token) (any, error) {
	if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
	}
	kid, ok := t.Header["kid"].(string)
	if !ok || kid == "" {
		return nil, errors.New("token header missing kid")
	}

	set, err := v.keySet(ctx)
	if err != nil {
		return nil, err
	}
	key, found := set.LookupKeyID(kid)
	if !found {
		return nil, fmt.Errorf("key id %s not found in jwks", kid)
	}
	var raw any
	if err := jwk.Export(key, &raw); err != nil {
		return nil, fmt.Errorf("export jwk: %w", err)
	}
	return raw, nil
}

// SessionID implements JWTValidator.
func (v *JWKSValidator) SessionID(ctx context.Context, raw string) (uuid.UUID, error) {
	t, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		return v.keyFor(ctx, t)
	}, v.cfg.parserOptions()...)
	if err != nil {
		return uuid.Nil, invalid(err)
	}
	claims, ok := t.Claims.(jwt.MapClaims)
	if !ok {
		return uuid.Nil, invalid(ErrMalformed)
	}
	return sessionIDFromClaims(claims)
}
