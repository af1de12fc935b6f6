package token

import (
	"context"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Parsed is a token whose wire format has been recognised. It is either Compact or Delegated.
type Parsed interface {
	// verify checks the token against c and returns the session id it references.
	verify(ctx context.Context, c *Codec) (uuid.UUID, error)
}

// Compact is a decoded compact token.
type Compact struct {
	Payload   [sessionIDLen]byte
	Signature []byte
}

// SessionID returns the UUID carried in the payload. It is only meaningful after verification.
func (t Compact) SessionID() uuid.UUID { return uuid.UUID(t.Payload) }

func (t Compact) verify(_ context.Context, c *Codec) (uuid.UUID, error) {
	pair := c.keys.Current()
	if pair == nil || pair.Public == nil {
		return uuid.Nil, ErrNoSigningKey
	}
	if err := signingMethod.Verify(string(t.Payload[:]), t.Signature, pair.Public); err != nil {
		return uuid.Nil, invalid(ErrSignature)
	}
	return t.SessionID(), nil
}

// Delegated is a three-segment JWT handed to the configured JWTValidator.
type Delegated struct {
	Raw string
}

func (t Delegated) verify(ctx context.Context, c *Codec) (uuid.UUID, error) {
	if c.jwt == nil {
		return uuid.Nil, invalid(ErrJWTNotSupported)
	}
	return c.jwt.SessionID(ctx, t.Raw)
}

// Parse recognises the wire format by segment count. It does not verify signatures.
func Parse(raw string) (Parsed, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, invalid(ErrMalformed)
	}

	parts := strings.Split(raw, ".")
	switch len(parts) {
	case 2:
		return decodeCompact(parts[0], parts[1])
	case 3:
		return Delegated{Raw: raw}, nil
	default:
		return nil, invalid(ErrMalformed)
	}
}

// sessionIDFromClaims extracts and parses the jti claim.
func sessionIDFromClaims(claims jwt.MapClaims) (uuid.UUID, error) {
	jti, ok := claims["jti"].(string)
	if !ok || strings.TrimSpace(jti) == "" {
		return uuid.Nil, invalid(ErrMissingJTI)
	}
	id, err := uuid.Parse(jti)
	if err != nil {
		return uuid.Nil, invalid(ErrMissingJTI)
	}
	return id, nil
}
