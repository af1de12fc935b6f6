package api

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"passport/cmd/identity"
	"passport/cmd/internal/auth/apikey"
	"passport/cmd/internal/auth/challenge"
	"passport/cmd/internal/auth/session"
	"passport/cmd/internal/auth/sudo"
	"passport/cmd/internal/cache"
	"passport/cmd/security/token"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = sync.OnceValues(func() (*rsa.PrivateKey, error) {
	return rsa.GenerateKey(rand.Reader, 2048)
})

type emailCodes struct{}

func (emailCodes) SendCode(context.Context, identity.Factor, string) error { return nil }

func (emailCodes) VerifyCode(_ context.Context, _ identity.Factor, code string) (bool, error) {
	return code == "123456", nil
}

type auditRecorder struct {
	mu      sync.Mutex
	actions []string
}

func (a *auditRecorder) Exec(_ context.Context, _ string, args ...any) (pgconn.CommandTag, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.actions = append(a.actions, args[3].(string))
	return pgconn.CommandTag{}, nil
}

func (a *auditRecorder) seen() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.actions...)
}

type testEnv struct {
	h        *Handler
	routes   http.Handler
	audit    *auditRecorder
	sessions *session.Service
	account  identity.Account
	password identity.Factor
	email    identity.Factor
	now      time.Time
}

func newTestEnv(t *testing.T, cfg Config, withPin bool) *testEnv {
	t.Helper()

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	priv, err := testKey()
	require.NoError(t, err)
	ring, err := token.NewKeyRing(priv)
	require.NoError(t, err)

	ids := identity.NewMemoryStore()
	account := identity.Account{ID: uuid.New(), Name: "ada", CreatedAt: now}
	ids.PutAccount(account)

	hash, err := identity.HashSecret("correct horse")
	require.NoError(t, err)
	enabled := now.Add(-time.Hour)
	password := identity.Factor{ID: uuid.New(), AccountID: account.ID, Type: identity.FactorPassword, Secret: hash, Trustworthy: 1, EnabledAt: &enabled}
	email := identity.Factor{ID: uuid.New(), AccountID: account.ID, Type: identity.FactorEmailCode, Trustworthy: 1, EnabledAt: &enabled}
	ids.PutFactor(password)
	ids.PutFactor(email)
	if withPin {
		pinHash, err := identity.HashSecret("2468")
		require.NoError(t, err)
		ids.PutFactor(identity.Factor{ID: uuid.New(), AccountID: account.ID, Type: identity.FactorPinCode, Secret: pinHash, Trustworthy: 1, EnabledAt: &enabled})
	}

	verifier := identity.NewVerifier(emailCodes{})
	challenges, err := challenge.NewService(challenge.DefaultConfig(), challenge.NewMemoryStore(), ids, verifier, challenge.WithLogger(logger))
	require.NoError(t, err)

	flags := cache.NewMemoryStoreWithClock(func() time.Time { return now })
	sc, err := session.NewCache(flags, time.Hour)
	require.NoError(t, err)
	sessions, err := session.NewService(session.DefaultConfig(), session.NewMemoryStore(), sc, token.NewCodec(ring), session.WithLogger(logger))
	require.NoError(t, err)
	keys, err := apikey.NewManager(sessions, apikey.WithLogger(logger))
	require.NoError(t, err)
	gate, err := sudo.NewGate(flags, ids, verifier, sudo.DefaultTTL, logger)
	require.NoError(t, err)

	audit := &auditRecorder{}
	h, err := NewHandler(logger, cfg, Services{
		Identities: ids,
		Challenges: challenges,
		Sessions:   sessions,
		APIKeys:    keys,
		Sudo:       gate,
		Keys:       ring,
	}, WithAuditLog(audit), WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	return &testEnv{
		h:        h,
		routes:   h.Routes(),
		audit:    audit,
		sessions: sessions,
		account:  account,
		password: password,
		email:    email,
		now:      now,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()

	var rdr io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Mozilla/5.0")
	for _, m := range mutate {
		m(req)
	}
	rr := httptest.NewRecorder()
	e.routes.ServeHTTP(rr, req)
	return rr
}

func bearer(tok string) func(*http.Request) {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+tok) }
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[errorResponse](t, rr).Error.Code
}

// login completes a two-step challenge and exchanges it for a token.
func (e *testEnv) login(t *testing.T) (tokenResponse, *httptest.ResponseRecorder) {
	t.Helper()

	rr := e.do(t, http.MethodPost, "/api/auth/challenge", challengeCreateRequest{Account: "ada", DeviceID: "laptop", Platform: "web"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	c := decode[challengeResponse](t, rr)
	require.Equal(t, 2, c.StepRemain)

	rr = e.do(t, http.MethodPatch, "/api/auth/challenge/"+c.ID.String(), challengeVerifyRequest{FactorID: e.password.ID, Password: "correct horse"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = e.do(t, http.MethodPost, "/api/auth/challenge/"+c.ID.String()+"/factors/"+e.email.ID.String(), factorCodeRequest{Hint: "ada@example.com"})
	require.Equal(t, http.StatusNoContent, rr.Code, rr.Body.String())

	rr = e.do(t, http.MethodPatch, "/api/auth/challenge/"+c.ID.String(), challengeVerifyRequest{FactorID: e.email.ID, Password: "123456"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Equal(t, 0, decode[challengeResponse](t, rr).StepRemain)

	rr = e.do(t, http.MethodPost, "/api/auth/token", tokenRequest{GrantType: "authorization_code", Code: c.ID.String()})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	return decode[tokenResponse](t, rr), rr
}

func TestLoginFlow_IssuesTokenAndCookie(t *testing.T) {
	e := newTestEnv(t, DefaultConfig(), false)

	tok, rr := e.login(t)
	require.NotEmpty(t, tok.Token)

	var cookie *http.Cookie
	for _, c := range rr.Result().Cookies() {
		if c.Name == AuthCookieName {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	assert.Equal(t, tok.Token, cookie.Value)
	assert.True(t, cookie.HttpOnly)
	assert.True(t, cookie.Secure)
	assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)

	res := e.sessions.AuthenticateToken(context.Background(), e.now, tok.Token, "")
	require.True(t, res.Valid, res.Message)
	assert.Equal(t, tok.SessionID, res.Session.ID)
	assert.Equal(t, e.account.ID, res.Session.AccountID)

	rr = e.do(t, http.MethodGet, "/api/auth/keys", nil, func(r *http.Request) { r.AddCookie(cookie) })
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Empty(t, decode[apiKeyListResponse](t, rr).Keys)

	assert.Equal(t, []string{
		auditChallengeCreated,
		auditFactorVerified,
		auditFactorVerified,
		auditSessionCreated,
	}, e.audit.seen())
}

func TestChallenge_FactorsAndErrors(t *testing.T) {
	e := newTestEnv(t, DefaultConfig(), true)

	rr := e.do(t, http.MethodPost, "/api/auth/challenge", challengeCreateRequest{Account: "nobody"})
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = e.do(t, http.MethodPost, "/api/auth/challenge", challengeCreateRequest{Account: "ada"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	c := decode[challengeResponse](t, rr)
	assert.Equal(t, string(challenge.StateCreated), c.State)

	rr = e.do(t, http.MethodGet, "/api/auth/challenge/"+c.ID.String()+"/factors", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	factors := decode[[]factorResponse](t, rr)
	require.Len(t, factors, 2, "PIN is not offered on challenges")
	for _, f := range factors {
		assert.NotEqual(t, string(identity.FactorPinCode), f.Type)
		assert.False(t, f.Used)
	}

	rr = e.do(t, http.MethodPatch, "/api/auth/challenge/"+c.ID.String(), challengeVerifyRequest{FactorID: e.password.ID, Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "invalid_code", errorCode(t, rr))
	assert.Contains(t, e.audit.seen(), auditFactorFailed)

	rr = e.do(t, http.MethodPost, "/api/auth/challenge/"+c.ID.String()+"/factors/"+e.password.ID.String(), nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "factor_no_code", errorCode(t, rr))

	rr = e.do(t, http.MethodPost, "/api/auth/token", tokenRequest{GrantType: "authorization_code", Code: c.ID.String()})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "challenge_incomplete", errorCode(t, rr))

	rr = e.do(t, http.MethodPost, "/api/auth/token", tokenRequest{GrantType: "password", Code: c.ID.String()})
	assert.Equal(t, "unsupported_grant_type", errorCode(t, rr))

	rr = e.do(t, http.MethodGet, "/api/auth/challenge/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = e.do(t, http.MethodGet, "/api/auth/challenge/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestToken_ChallengeExchangedOnce(t *testing.T) {
	e := newTestEnv(t, DefaultConfig(), false)

	tok, _ := e.login(t)
	sess, err := e.sessions.Get(context.Background(), tok.SessionID)
	require.NoError(t, err)
	require.NotNil(t, sess.ChallengeID)

	rr := e.do(t, http.MethodPost, "/api/auth/token", tokenRequest{GrantType: "authorization_code", Code: sess.ChallengeID.String()})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "challenge_used", errorCode(t, rr))

	rr = e.do(t, http.MethodPost, "/api/auth/token", tokenRequest{GrantType: "authorization_code", Code: "nope"})
	assert.Equal(t, "invalid_grant", errorCode(t, rr))
}

func TestProtectedRoutes_RequireSession(t *testing.T) {
	e := newTestEnv(t, DefaultConfig(), false)

	rr := e.do(t, http.MethodGet, "/api/auth/keys", nil)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, session.MsgMissingToken, decode[errorResponse](t, rr).Error.Message)

	rr = e.do(t, http.MethodPost, "/api/auth/logout", nil, bearer("garbage"))
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, session.MsgInvalidToken, decode[errorResponse](t, rr).Error.Message)
}

func TestLogout_RevokesLinkedSessions(t *testing.T) {
	e := newTestEnv(t, DefaultConfig(), false)
	tok, _ := e.login(t)

	rr := e.do(t, http.MethodPost, "/api/auth/login/session", linkedSessionRequest{DeviceID: "phone", Platform: "ios"}, bearer(tok.Token))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Empty(t, rr.Result().Cookies(), "linked sessions are handed to another device")
	linked := decode[tokenResponse](t, rr)
	require.True(t, e.sessions.AuthenticateToken(context.Background(), e.now, linked.Token, "").Valid)

	rr = e.do(t, http.MethodPost, "/api/auth/logout", nil, bearer(tok.Token))
	require.Equal(t, http.StatusNoContent, rr.Code)
	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, AuthCookieName, cookies[0].Name)
	assert.Equal(t, -1, cookies[0].MaxAge)

	later := e.now.Add(time.Second)
	assert.Equal(t, session.MsgSessionExpired, e.sessions.AuthenticateToken(context.Background(), later, tok.Token, "").Message)
	assert.Equal(t, session.MsgSessionExpired, e.sessions.AuthenticateToken(context.Background(), later, linked.Token, "").Message)
	assert.Contains(t, e.audit.seen(), auditLogout)
}

func TestAPIKeys_SudoGatedLifecycle(t *testing.T) {
	e := newTestEnv(t, DefaultConfig(), true)
	tok, _ := e.login(t)
	auth := bearer(tok.Token)

	rr := e.do(t, http.MethodPost, "/api/auth/keys", apiKeyCreateRequest{Label: "ci"}, auth)
	require.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, "sudo_required", errorCode(t, rr))

	rr = e.do(t, http.MethodPost, "/api/auth/keys", apiKeyCreateRequest{Label: "ci", Pin: "0000"}, auth)
	require.Equal(t, http.StatusForbidden, rr.Code)

	rr = e.do(t, http.MethodPost, "/api/auth/keys", apiKeyCreateRequest{Label: "ci", Pin: "2468"}, auth)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	created := decode[apiKeyResponse](t, rr)
	require.NotEmpty(t, created.Token)
	require.True(t, e.sessions.AuthenticateToken(context.Background(), e.now, created.Token, "").Valid)

	// The session stays elevated for the sudo TTL.
	rr = e.do(t, http.MethodPost, "/api/auth/keys/"+created.ID.String()+"/rotate", nil, auth)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	rotated := decode[apiKeyResponse](t, rr)
	assert.Equal(t, created.ID, rotated.ID)
	assert.NotEqual(t, created.SessionID, rotated.SessionID)
	assert.False(t, e.sessions.AuthenticateToken(context.Background(), e.now, created.Token, "").Valid)
	assert.True(t, e.sessions.AuthenticateToken(context.Background(), e.now, rotated.Token, "").Valid)

	rr = e.do(t, http.MethodGet, "/api/auth/keys/"+created.ID.String(), nil, auth)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, decode[apiKeyResponse](t, rr).Token, "tokens are only shown on issuance")

	rr = e.do(t, http.MethodGet, "/api/auth/keys", nil, auth)
	require.Len(t, decode[apiKeyListResponse](t, rr).Keys, 1)

	rr = e.do(t, http.MethodDelete, "/api/auth/keys/"+created.ID.String(), nil, auth)
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = e.do(t, http.MethodGet, "/api/auth/keys/"+created.ID.String(), nil, auth)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.False(t, e.sessions.AuthenticateToken(context.Background(), e.now, rotated.Token, "").Valid)

	seen := e.audit.seen()
	for _, action := range []string{auditSudoGranted, auditAPIKeyCreated, auditAPIKeyRotated, auditAPIKeyRevoked} {
		assert.Contains(t, seen, action)
	}
}

func TestAPIKeys_ScopedToOwnerAndHeaderPin(t *testing.T) {
	e := newTestEnv(t, DefaultConfig(), true)
	tok, _ := e.login(t)

	rr := e.do(t, http.MethodPost, "/api/auth/keys", apiKeyCreateRequest{Label: "  "}, bearer(tok.Token), func(r *http.Request) {
		r.Header.Set("X-Sudo-Pin", "2468")
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = e.do(t, http.MethodGet, "/api/auth/keys/"+uuid.NewString(), nil, bearer(tok.Token))
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = e.do(t, http.MethodDelete, "/api/auth/keys/"+uuid.NewString(), nil, bearer(tok.Token))
	assert.Equal(t, http.StatusNotFound, rr.Code, "elevated by the header pin, then the key is missing")
}

func TestSudo_NoPinEnrolled(t *testing.T) {
	e := newTestEnv(t, DefaultConfig(), false)
	tok, _ := e.login(t)

	rr := e.do(t, http.MethodPost, "/api/auth/sudo", nil, bearer(tok.Token))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.True(t, decode[sudoResponse](t, rr).Sudo)
}

func TestChallengeCreate_RateLimitedPerIP(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ChallengeRate = 0.001
	cfg.ChallengeBurst = 1
	e := newTestEnv(t, cfg, false)

	rr := e.do(t, http.MethodPost, "/api/auth/challenge", challengeCreateRequest{Account: "ada"})
	require.Equal(t, http.StatusOK, rr.Code)

	rr = e.do(t, http.MethodPost, "/api/auth/challenge", challengeCreateRequest{Account: "ada"})
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("Retry-After"))

	rr = e.do(t, http.MethodPost, "/api/auth/challenge", challengeCreateRequest{Account: "ada"}, func(r *http.Request) {
		r.RemoteAddr = "203.0.113.9:4000"
	})
	assert.Equal(t, http.StatusOK, rr.Code, "other clients have their own bucket")
}

func TestChallengeCreate_Captcha(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableCaptcha = true
	e := newTestEnv(t, cfg, false)

	rr := e.do(t, http.MethodPost, "/api/auth/challenge", challengeCreateRequest{Account: "ada"})
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = e.do(t, http.MethodPost, "/api/auth/challenge", challengeCreateRequest{Account: "ada", Captcha: "tok"})
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestJWKS(t *testing.T) {
	e := newTestEnv(t, DefaultConfig(), false)

	rr := e.do(t, http.MethodGet, "/.well-known/jwks", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var set struct {
		Keys []struct {
			Kid string `json:"kid"`
			Kty string `json:"kty"`
			Alg string `json:"alg"`
		} `json:"keys"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &set))
	require.Len(t, set.Keys, 1)
	assert.Equal(t, "RSA", set.Keys[0].Kty)
	assert.NotEmpty(t, set.Keys[0].Kid)
}

func TestDecodeJSON_RejectsUnknownFields(t *testing.T) {
	e := newTestEnv(t, DefaultConfig(), false)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/challenge", strings.NewReader(`{"account":"ada","extra":1}`))
	rr := httptest.NewRecorder()
	e.routes.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "invalid_json", errorCode(t, rr))
}
