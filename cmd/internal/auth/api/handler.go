package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"passport/cmd/identity"
	"passport/cmd/internal/auth/apikey"
	"passport/cmd/internal/auth/challenge"
	"passport/cmd/internal/auth/session"
	"passport/cmd/internal/auth/sudo"
	"passport/cmd/security/token"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Services are the domain services the HTTP surface drives.
type Services struct {
	Identities identity.Store
	Challenges *challenge.Service
	Sessions   *session.Service
	APIKeys    *apikey.Manager
	Sudo       *sudo.Gate
	Keys       *token.KeyRing
}

// Handler wires HTTP auth endpoints to the challenge, session, API key and sudo services.
type Handler struct {
	log *slog.Logger
	cfg Config

	identities identity.Store
	challenges *challenge.Service
	sessions   *session.Service
	keys       *apikey.Manager
	sudo       *sudo.Gate
	ring       *token.KeyRing

	audit   Execer
	captcha CaptchaVerifier
	limiter *ipLimiter
	now     func() time.Time
}

// HandlerOption configures optional auth handler dependencies.
type HandlerOption func(*Handler)

// WithAuditLog writes audit rows through db. Without it auditing is disabled.
func WithAuditLog(db Execer) HandlerOption {
	return func(h *Handler) {
		if h == nil || db == nil {
			return
		}
		h.audit = db
	}
}

// WithCaptchaVerifier overrides the default no-op captcha verifier.
func WithCaptchaVerifier(verifier CaptchaVerifier) HandlerOption {
	return func(h *Handler) {
		if h == nil || verifier == nil {
			return
		}
		h.captcha = verifier
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		if h == nil || now == nil {
			return
		}
		h.now = now
	}
}

// NewHandler constructs an auth Handler.
func NewHandler(log *slog.Logger, cfg Config, svc Services, opts ...HandlerOption) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	if svc.Identities == nil || svc.Challenges == nil || svc.Sessions == nil || svc.APIKeys == nil || svc.Sudo == nil || svc.Keys == nil {
		return nil, errors.New("auth: missing service")
	}
	if cfg.MaxBodyBytes <= 0 || cfg.ChallengeRate <= 0 {
		return nil, ErrConfig
	}

	h := &Handler{
		log:        log,
		cfg:        cfg,
		identities: svc.Identities,
		challenges: svc.Challenges,
		sessions:   svc.Sessions,
		keys:       svc.APIKeys,
		sudo:       svc.Sudo,
		ring:       svc.Keys,
		captcha:    NoopCaptchaVerifier{},
		limiter:    newIPLimiter(cfg.ChallengeRate, cfg.ChallengeBurst),
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(h)
	}
	return h, nil
}

// Routes returns the auth router. It is mounted at the server root.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/.well-known/jwks", h.handleJWKS)

	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/challenge", h.handleChallengeCreate)
		r.Get("/challenge/{id}", h.handleChallengeGet)
		r.Patch("/challenge/{id}", h.handleChallengeVerify)
		r.Get("/challenge/{id}/factors", h.handleChallengeFactors)
		r.Post("/challenge/{id}/factors/{factorId}", h.handleFactorCode)
		r.Post("/token", h.handleToken)

		r.Group(func(r chi.Router) {
			r.Use(h.requireSession)

			r.Post("/logout", h.handleLogout)
			r.Post("/login/session", h.handleLinkedSession)
			r.Post("/sudo", h.handleSudo)

			r.Get("/keys", h.handleKeyList)
			r.Post("/keys", h.handleKeyCreate)
			r.Get("/keys/{id}", h.handleKeyGet)
			r.Delete("/keys/{id}", h.handleKeyDelete)
			r.Post("/keys/{id}/rotate", h.handleKeyRotate)
		})
	})
	return r
}

type sessionCtxKey struct{}

func (h *Handler) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res := h.sessions.AuthenticateToken(r.Context(), h.now().UTC(), requestToken(r), ipString(clientIP(r, h.cfg.TrustProxy)))
		if !res.Valid || res.Session == nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", res.Message)
			return
		}
		ctx := context.WithValue(r.Context(), sessionCtxKey{}, *res.Session)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// CurrentSession returns the session authenticated for the request.
func CurrentSession(ctx context.Context) (session.Session, bool) {
	s, ok := ctx.Value(sessionCtxKey{}).(session.Session)
	return s, ok
}

func (h *Handler) handleJWKS(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.ring.PublicJWKS())
}

// ---- challenges ----

func (h *Handler) handleChallengeCreate(w http.ResponseWriter, r *http.Request) {
	var req challengeCreateRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if strings.TrimSpace(req.Account) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "account is required")
		return
	}

	ctx := r.Context()
	now := h.now().UTC()
	ip := clientIP(r, h.cfg.TrustProxy)
	ua := strings.TrimSpace(r.UserAgent())

	if ok, retryAfter := h.limiter.allow(ipString(ip), now); !ok {
		h.log.Warn("auth.challenge.rate_limited", "ip", ipString(ip))
		writeRateLimited(w, retryAfter)
		return
	}
	if err := h.enforceCaptcha(ctx, req.Captcha, ip); err != nil {
		switch {
		case errors.Is(err, ErrCaptchaRequired), errors.Is(err, ErrCaptchaInvalid):
			writeError(w, http.StatusForbidden, "captcha_invalid", "captcha verification failed")
		default:
			h.log.Error("auth.challenge.captcha.fail", "err", err)
			writeError(w, http.StatusServiceUnavailable, "server_busy", "please retry later")
		}
		return
	}

	c, err := h.challenges.Create(ctx, now, challenge.CreateInput{
		Identifier: req.Account,
		Type:       challenge.ParseType(req.Type),
		IPAddress:  ipString(ip),
		UserAgent:  ua,
		DeviceID:   req.DeviceID,
		DeviceName: req.DeviceName,
		Platform:   identity.ParsePlatform(req.Platform),
		Audiences:  req.Audiences,
		Scopes:     req.Scopes,
	})
	if err != nil {
		h.writeChallengeError(w, "auth.challenge.create.fail", err)
		return
	}

	h.insertAudit(ctx, now, auditEntry{
		action:    auditChallengeCreated,
		accountID: &c.AccountID,
		ip:        ip,
		userAgent: ua,
		meta:      map[string]any{"challenge_id": c.ID.String(), "steps": c.StepTotal},
	})
	writeJSON(w, http.StatusOK, toChallengeResponse(c, now))
}

func (h *Handler) handleChallengeGet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	c, err := h.challenges.Get(r.Context(), id)
	if err != nil {
		h.writeChallengeError(w, "auth.challenge.get.fail", err)
		return
	}
	writeJSON(w, http.StatusOK, toChallengeResponse(c, h.now().UTC()))
}

func (h *Handler) handleChallengeFactors(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	views, err := h.challenges.Factors(r.Context(), h.now().UTC(), id)
	if err != nil {
		h.writeChallengeError(w, "auth.challenge.factors.fail", err)
		return
	}
	out := make([]factorResponse, 0, len(views))
	for _, v := range views {
		out = append(out, toFactorResponse(v))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleFactorCode(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	factorID, ok := pathUUID(w, r, "factorId")
	if !ok {
		return
	}
	var req factorCodeRequest
	if err := decodeOptionalJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if err := h.challenges.RequestCode(r.Context(), h.now().UTC(), id, factorID, strings.TrimSpace(req.Hint)); err != nil {
		h.writeChallengeError(w, "auth.factor.code.fail", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleChallengeVerify(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req challengeVerifyRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if req.FactorID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "factor_id is required")
		return
	}

	ctx := r.Context()
	now := h.now().UTC()
	ip := clientIP(r, h.cfg.TrustProxy)
	ua := strings.TrimSpace(r.UserAgent())
	meta := map[string]any{"challenge_id": id.String(), "factor_id": req.FactorID.String()}

	c, err := h.challenges.Verify(ctx, now, id, req.FactorID, req.Password)
	if err != nil {
		if errors.Is(err, challenge.ErrInvalidCode) {
			var accountID *uuid.UUID
			if got, gerr := h.challenges.Get(ctx, id); gerr == nil {
				accountID = &got.AccountID
			}
			h.insertAudit(ctx, now, auditEntry{action: auditFactorFailed, accountID: accountID, ip: ip, userAgent: ua, meta: meta})
		}
		h.writeChallengeError(w, "auth.challenge.verify.fail", err)
		return
	}

	meta["step_remain"] = c.StepRemain
	h.insertAudit(ctx, now, auditEntry{action: auditFactorVerified, accountID: &c.AccountID, ip: ip, userAgent: ua, meta: meta})
	writeJSON(w, http.StatusOK, toChallengeResponse(c, now))
}

// ---- sessions ----

func (h *Handler) handleToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if req.GrantType != "authorization_code" {
		writeError(w, http.StatusBadRequest, "unsupported_grant_type", "unsupported grant type")
		return
	}
	challengeID, err := uuid.Parse(strings.TrimSpace(req.Code))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_grant", "invalid code")
		return
	}

	ctx := r.Context()
	now := h.now().UTC()

	c, err := h.challenges.Get(ctx, challengeID)
	if err != nil {
		h.writeChallengeError(w, "auth.token.challenge.fail", err)
		return
	}
	sess, err := h.sessions.CreateFromChallenge(ctx, now, grantFromChallenge(c))
	if err != nil {
		switch {
		case errors.Is(err, session.ErrChallengeIncomplete):
			writeError(w, http.StatusBadRequest, "challenge_incomplete", "challenge not yet completed")
		case errors.Is(err, session.ErrChallengeConsumed):
			writeError(w, http.StatusBadRequest, "challenge_used", "challenge was already used")
		default:
			h.log.Error("auth.token.session.fail", "err", err, "challenge_id", challengeID)
			writeServerError(w)
		}
		return
	}

	h.issueSession(w, r, now, sess, map[string]any{"challenge_id": challengeID.String()}, true)
}

func (h *Handler) handleLinkedSession(w http.ResponseWriter, r *http.Request) {
	parent, _ := CurrentSession(r.Context())

	var req linkedSessionRequest
	if err := decodeOptionalJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	ctx := r.Context()
	now := h.now().UTC()

	var clientID *uuid.UUID
	if deviceID := strings.TrimSpace(req.DeviceID); deviceID != "" {
		client, err := h.identities.UpsertClient(ctx, now, identity.ClientInput{
			AccountID:  parent.AccountID,
			Platform:   identity.ParsePlatform(req.Platform),
			DeviceID:   deviceID,
			DeviceName: strings.TrimSpace(req.DeviceName),
		})
		if err != nil {
			h.log.Error("auth.session.linked.client.fail", "err", err)
			writeServerError(w)
			return
		}
		clientID = &client.ID
	}

	sess, err := h.sessions.CreateLinked(ctx, now, parent, clientID)
	if err != nil {
		if errors.Is(err, session.ErrSessionExpired) {
			writeError(w, http.StatusUnauthorized, "unauthorized", session.MsgSessionExpired)
			return
		}
		h.log.Error("auth.session.linked.fail", "err", err)
		writeServerError(w)
		return
	}

	h.issueSession(w, r, now, sess, map[string]any{"parent_session_id": parent.ID.String()}, false)
}

// issueSession mints a token for sess, records the audit row and writes the
// response. The AuthToken cookie is set when setCookie is true.
func (h *Handler) issueSession(w http.ResponseWriter, r *http.Request, now time.Time, sess session.Session, meta map[string]any, setCookie bool) {
	tok, err := h.sessions.CreateToken(sess)
	if err != nil {
		h.log.Error("auth.session.token.fail", "err", err, "session_id", sess.ID)
		writeServerError(w)
		return
	}

	h.insertAudit(r.Context(), now, auditEntry{
		action:    auditSessionCreated,
		accountID: &sess.AccountID,
		sessionID: &sess.ID,
		ip:        clientIP(r, h.cfg.TrustProxy),
		userAgent: r.UserAgent(),
		meta:      meta,
	})
	if setCookie {
		h.setAuthCookie(w, tok, sess.ExpiredAt, now)
	}
	writeJSON(w, http.StatusOK, tokenResponse{Token: tok, SessionID: sess.ID, ExpiresAt: sess.ExpiredAt})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess, _ := CurrentSession(r.Context())
	ctx := r.Context()
	now := h.now().UTC()

	if _, err := h.sessions.RevokeSession(ctx, now, sess.ID); err != nil {
		h.log.Error("auth.logout.fail", "err", err, "session_id", sess.ID)
		writeServerError(w)
		return
	}
	if err := h.sudo.Drop(ctx, sess.ID); err != nil {
		h.log.Warn("auth.logout.sudo_drop.fail", "err", err, "session_id", sess.ID)
	}

	h.insertAudit(ctx, now, auditEntry{
		action:    auditLogout,
		accountID: &sess.AccountID,
		sessionID: &sess.ID,
		ip:        clientIP(r, h.cfg.TrustProxy),
		userAgent: r.UserAgent(),
	})
	h.expireAuthCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// ---- sudo ----

func (h *Handler) handleSudo(w http.ResponseWriter, r *http.Request) {
	var req sudoRequest
	if err := decodeOptionalJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if !h.requireSudo(w, r, req.Pin) {
		return
	}
	writeJSON(w, http.StatusOK, sudoResponse{Sudo: true})
}

// requireSudo checks that the session is elevated, elevating it with the PIN
// from the body or the X-Sudo-Pin header. It writes the error response itself.
func (h *Handler) requireSudo(w http.ResponseWriter, r *http.Request, pin string) bool {
	sess, _ := CurrentSession(r.Context())
	ctx := r.Context()
	now := h.now().UTC()

	if strings.TrimSpace(pin) == "" {
		pin = r.Header.Get("X-Sudo-Pin")
	}
	elevated, err := h.sudo.ValidateSudoMode(ctx, now, sess, pin)
	if err != nil {
		h.log.Error("auth.sudo.fail", "err", err, "session_id", sess.ID)
		writeServerError(w)
		return false
	}
	if !elevated {
		writeError(w, http.StatusForbidden, "sudo_required", "sudo mode required")
		return false
	}
	if strings.TrimSpace(pin) != "" {
		h.insertAudit(ctx, now, auditEntry{
			action:    auditSudoGranted,
			accountID: &sess.AccountID,
			sessionID: &sess.ID,
			ip:        clientIP(r, h.cfg.TrustProxy),
			userAgent: r.UserAgent(),
		})
	}
	return true
}

// ---- api keys ----

func (h *Handler) handleKeyList(w http.ResponseWriter, r *http.Request) {
	sess, _ := CurrentSession(r.Context())
	keys, err := h.keys.List(r.Context(), sess.AccountID)
	if err != nil {
		h.log.Error("auth.apikey.list.fail", "err", err)
		writeServerError(w)
		return
	}
	out := apiKeyListResponse{Keys: make([]apiKeyResponse, 0, len(keys))}
	for _, k := range keys {
		out.Keys = append(out.Keys, toAPIKeyResponse(k, ""))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleKeyGet(w http.ResponseWriter, r *http.Request) {
	key, ok := h.ownedKey(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toAPIKeyResponse(key, ""))
}

func (h *Handler) handleKeyCreate(w http.ResponseWriter, r *http.Request) {
	sess, _ := CurrentSession(r.Context())

	var req apiKeyCreateRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if !h.requireSudo(w, r, req.Pin) {
		return
	}

	ctx := r.Context()
	now := h.now().UTC()
	if req.ExpiresAt != nil && !req.ExpiresAt.After(now) {
		writeError(w, http.StatusBadRequest, "invalid_request", "expires_at must be in the future")
		return
	}

	in := apikey.CreateInput{AccountID: sess.AccountID, Label: req.Label, ExpiresAt: req.ExpiresAt}
	if req.BindToSession {
		in.Parent = &sess
	}
	key, err := h.keys.Create(ctx, now, in)
	if err != nil {
		if errors.Is(err, apikey.ErrInvalidLabel) {
			writeError(w, http.StatusBadRequest, "invalid_request", "label must be 1 to 128 characters")
			return
		}
		h.log.Error("auth.apikey.create.fail", "err", err)
		writeServerError(w)
		return
	}
	tok, err := h.keys.Issue(ctx, now, key)
	if err != nil {
		h.log.Error("auth.apikey.issue.fail", "err", err, "key_id", key.ID)
		writeServerError(w)
		return
	}

	h.insertAudit(ctx, now, auditEntry{
		action:    auditAPIKeyCreated,
		accountID: &sess.AccountID,
		sessionID: &sess.ID,
		ip:        clientIP(r, h.cfg.TrustProxy),
		userAgent: r.UserAgent(),
		meta:      map[string]any{"key_id": key.ID.String()},
	})
	writeJSON(w, http.StatusCreated, toAPIKeyResponse(key, tok))
}

func (h *Handler) handleKeyRotate(w http.ResponseWriter, r *http.Request) {
	if !h.requireSudo(w, r, "") {
		return
	}
	key, ok := h.ownedKey(w, r)
	if !ok {
		return
	}

	sess, _ := CurrentSession(r.Context())
	ctx := r.Context()
	now := h.now().UTC()

	rotated, err := h.keys.Rotate(ctx, now, key)
	if err != nil {
		if errors.Is(err, apikey.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "api key not found")
			return
		}
		writeServerError(w)
		return
	}
	tok, err := h.keys.Issue(ctx, now, rotated)
	if err != nil {
		if errors.Is(err, session.ErrSessionExpired) {
			writeError(w, http.StatusBadRequest, "key_expired", "api key has expired")
			return
		}
		h.log.Error("auth.apikey.issue.fail", "err", err, "key_id", rotated.ID)
		writeServerError(w)
		return
	}

	h.insertAudit(ctx, now, auditEntry{
		action:    auditAPIKeyRotated,
		accountID: &sess.AccountID,
		sessionID: &sess.ID,
		ip:        clientIP(r, h.cfg.TrustProxy),
		userAgent: r.UserAgent(),
		meta:      map[string]any{"key_id": rotated.ID.String(), "session_id": rotated.SessionID.String()},
	})
	writeJSON(w, http.StatusOK, toAPIKeyResponse(rotated, tok))
}

func (h *Handler) handleKeyDelete(w http.ResponseWriter, r *http.Request) {
	if !h.requireSudo(w, r, "") {
		return
	}
	key, ok := h.ownedKey(w, r)
	if !ok {
		return
	}

	sess, _ := CurrentSession(r.Context())
	ctx := r.Context()
	now := h.now().UTC()
	if err := h.keys.Revoke(ctx, now, key); err != nil {
		if errors.Is(err, apikey.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "api key not found")
			return
		}
		h.log.Error("auth.apikey.revoke.fail", "err", err, "key_id", key.ID)
		writeServerError(w)
		return
	}

	h.insertAudit(ctx, now, auditEntry{
		action:    auditAPIKeyRevoked,
		accountID: &sess.AccountID,
		sessionID: &sess.ID,
		ip:        clientIP(r, h.cfg.TrustProxy),
		userAgent: r.UserAgent(),
		meta:      map[string]any{"key_id": key.ID.String()},
	})
	w.WriteHeader(http.StatusNoContent)
}

// ownedKey loads the {id} key of the current account.
func (h *Handler) ownedKey(w http.ResponseWriter, r *http.Request) (session.APIKey, bool) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return session.APIKey{}, false
	}
	sess, _ := CurrentSession(r.Context())
	key, err := h.keys.Get(r.Context(), id, &sess.AccountID)
	if err != nil {
		if errors.Is(err, apikey.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "api key not found")
			return session.APIKey{}, false
		}
		h.log.Error("auth.apikey.get.fail", "err", err, "key_id", id)
		writeServerError(w)
		return session.APIKey{}, false
	}
	return key, true
}

// ---- helpers ----

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) writeChallengeError(w http.ResponseWriter, event string, err error) {
	switch {
	case errors.Is(err, challenge.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "challenge, account or factor not found")
	case errors.Is(err, challenge.ErrInvalidCode):
		writeError(w, http.StatusUnauthorized, "invalid_code", "invalid password or code")
	case errors.Is(err, challenge.ErrChallengeExpired):
		writeError(w, http.StatusBadRequest, "challenge_expired", "challenge has expired")
	case errors.Is(err, challenge.ErrChallengeCompleted):
		writeError(w, http.StatusConflict, "challenge_completed", "challenge is already completed")
	case errors.Is(err, challenge.ErrFactorUsed):
		writeError(w, http.StatusBadRequest, "factor_used", "factor was already used")
	case errors.Is(err, challenge.ErrFactorDisabled):
		writeError(w, http.StatusBadRequest, "factor_disabled", "factor is not enabled")
	case errors.Is(err, challenge.ErrFactorUntrusted):
		writeError(w, http.StatusBadRequest, "factor_untrusted", "factor is not trustworthy")
	case errors.Is(err, challenge.ErrFactorNoCode):
		writeError(w, http.StatusBadRequest, "factor_no_code", "factor does not send codes")
	case errors.Is(err, challenge.ErrNoFactors):
		writeError(w, http.StatusBadRequest, "no_factors", "account has no usable factors")
	default:
		h.log.Error(event, "err", err)
		writeServerError(w)
	}
}
