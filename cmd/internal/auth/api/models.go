package api

import (
	"time"

	"passport/cmd/internal/auth/challenge"
	"passport/cmd/internal/auth/session"

	"github.com/google/uuid"
)

type challengeCreateRequest struct {
	Account    string   `json:"account"`
	DeviceID   string   `json:"device_id"`
	DeviceName string   `json:"device_name"`
	Platform   string   `json:"platform"`
	Type       string   `json:"type"`
	Audiences  []string `json:"audiences"`
	Scopes     []string `json:"scopes"`
	Captcha    string   `json:"captcha"`
}

type challengeVerifyRequest struct {
	FactorID uuid.UUID `json:"factor_id"`
	Password string    `json:"password"`
}

type factorCodeRequest struct {
	Hint string `json:"hint"`
}

type tokenRequest struct {
	GrantType string `json:"grant_type"`
	Code      string `json:"code"`
}

type linkedSessionRequest struct {
	DeviceID   string `json:"device_id"`
	DeviceName string `json:"device_name"`
	Platform   string `json:"platform"`
}

type apiKeyCreateRequest struct {
	Label         string     `json:"label"`
	ExpiresAt     *time.Time `json:"expires_at"`
	BindToSession bool       `json:"bind_to_session"`
	Pin           string     `json:"pin"`
}

type sudoRequest struct {
	Pin string `json:"pin"`
}

type challengeResponse struct {
	ID               uuid.UUID   `json:"id"`
	AccountID        uuid.UUID   `json:"account_id"`
	Type             string      `json:"type"`
	State            string      `json:"state"`
	StepTotal        int         `json:"step_total"`
	StepRemain       int         `json:"step_remain"`
	FailedAttempts   int         `json:"failed_attempts"`
	BlacklistFactors []uuid.UUID `json:"blacklist_factors"`
	Audiences        []string    `json:"audiences"`
	Scopes           []string    `json:"scopes"`
	IPAddress        string      `json:"ip_address,omitempty"`
	UserAgent        string      `json:"user_agent,omitempty"`
	Location         string      `json:"location,omitempty"`
	DeviceID         string      `json:"device_id,omitempty"`
	Platform         string      `json:"platform"`
	ClientID         *uuid.UUID  `json:"client_id,omitempty"`
	ExpiredAt        time.Time   `json:"expired_at"`
	CreatedAt        time.Time   `json:"created_at"`
}

type factorResponse struct {
	ID          uuid.UUID  `json:"id"`
	Type        string     `json:"type"`
	Trustworthy int        `json:"trustworthy"`
	EnabledAt   *time.Time `json:"enabled_at,omitempty"`
	Used        bool       `json:"used"`
}

type tokenResponse struct {
	Token     string     `json:"token"`
	SessionID uuid.UUID  `json:"session_id"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type apiKeyResponse struct {
	ID        uuid.UUID `json:"id"`
	Label     string    `json:"label"`
	SessionID uuid.UUID `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	// Token is only returned on creation and rotation.
	Token string `json:"token,omitempty"`
}

type apiKeyListResponse struct {
	Keys []apiKeyResponse `json:"keys"`
}

type sudoResponse struct {
	Sudo bool `json:"sudo"`
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func toChallengeResponse(c challenge.Challenge, now time.Time) challengeResponse {
	return challengeResponse{
		ID:               c.ID,
		AccountID:        c.AccountID,
		Type:             string(c.Type),
		State:            string(c.State(now)),
		StepTotal:        c.StepTotal,
		StepRemain:       c.StepRemain,
		FailedAttempts:   c.FailedAttempts,
		BlacklistFactors: orEmpty(c.BlacklistFactors),
		Audiences:        orEmpty(c.Audiences),
		Scopes:           orEmpty(c.Scopes),
		IPAddress:        c.IPAddress,
		UserAgent:        c.UserAgent,
		Location:         c.Location,
		DeviceID:         c.DeviceID,
		Platform:         string(c.Platform),
		ClientID:         c.ClientID,
		ExpiredAt:        c.ExpiredAt,
		CreatedAt:        c.CreatedAt,
	}
}

func toFactorResponse(v challenge.FactorView) factorResponse {
	return factorResponse{
		ID:          v.ID,
		Type:        string(v.Type),
		Trustworthy: v.Trustworthy,
		EnabledAt:   v.EnabledAt,
		Used:        v.Used,
	}
}

func toAPIKeyResponse(k session.APIKey, tok string) apiKeyResponse {
	return apiKeyResponse{
		ID:        k.ID,
		Label:     k.Label,
		SessionID: k.SessionID,
		CreatedAt: k.CreatedAt,
		UpdatedAt: k.UpdatedAt,
		Token:     tok,
	}
}

func grantFromChallenge(c challenge.Challenge) session.ChallengeGrant {
	return session.ChallengeGrant{
		ChallengeID: c.ID,
		AccountID:   c.AccountID,
		ClientID:    c.ClientID,
		Scopes:      c.Scopes,
		Audiences:   c.Audiences,
		StepRemain:  c.StepRemain,
	}
}
