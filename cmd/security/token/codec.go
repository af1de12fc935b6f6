package token

import (
	"context"

	"github.com/google/uuid"
)

// Codec issues compact tokens and validates both supported formats.
type Codec struct {
	keys *KeyRing
	jwt  JWTValidator
}

// Option configures a Codec.
type Option func(*Codec)

// WithJWTValidator enables three-segment JWT validation.
func WithJWTValidator(v JWTValidator) Option {
	return func(c *Codec) {
		if v != nil {
			c.jwt = v
		}
	}
}

// NewCodec builds a Codec over an already-loaded KeyRing.
func NewCodec(keys *KeyRing, opts ...Option) *Codec {
	c := &Codec{keys: keys}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// CreateToken signs sessionID into a compact token.
func (c *Codec) CreateToken(sessionID uuid.UUID) (string, error) {
	return signCompact(c.keys.Current(), sessionID)
}

// Validate returns the session id referenced by raw.
// Any failure attributable to the token itself wraps ErrInvalidToken.
func (c *Codec) Validate(ctx context.Context, raw string) (uuid.UUID, error) {
	p, err := Parse(raw)
	if err != nil {
		return uuid.Nil, err
	}
	return p.verify(ctx, c)
}
