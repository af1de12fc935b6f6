package token

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// JWTClaims describes a session-bound JWT as an issuer would mint it.
type JWTClaims struct {
	Issuer    string
	Subject   string
	Audience  []string
	Scopes    []string
	SessionID uuid.UUID
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// CreateJWT mints an RS256 JWT whose jti is the session id, signed with the ring's key
// and carrying its kid, the way an upstream issuer would.
func (c *Codec) CreateJWT(in JWTClaims) (string, error) {
	pair := c.keys.Current()
	if pair == nil || pair.Private == nil {
		return "", ErrNoSigningKey
	}

	claims := jwt.MapClaims{
		"jti": in.SessionID.String(),
		"sub": in.Subject,
		"iat": in.IssuedAt.Unix(),
		"exp": in.ExpiresAt.Unix(),
	}
	if in.Issuer != "" {
		claims["iss"] = in.Issuer
	}
	if len(in.Audience) > 0 {
		claims["aud"] = in.Audience
	}
	if len(in.Scopes) > 0 {
		claims["scope"] = in.Scopes
	}

	t := jwt.NewWithClaims(signingMethod, claims)
	t.Header["kid"] = pair.KeyID
	s, err := t.SignedString(pair.Private)
	if err != nil {
		return "", fmt.Errorf("sign jwt: %w", err)
	}
	return s, nil
}
