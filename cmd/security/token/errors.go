package token

import "errors"

// Public, stable errors for callers.
//
// Every validation failure wraps ErrInvalidToken, so callers only need
// errors.Is(err, ErrInvalidToken) to tell a bad token from an infrastructure error.
var (
	ErrInvalidToken = errors.New("invalid token")

	ErrMalformed       = errors.New("malformed token")
	ErrSignature       = errors.New("token signature mismatch")
	ErrMissingJTI      = errors.New("token missing jti claim")
	ErrJWTNotSupported = errors.New("jwt validation not configured")

	ErrKeyLoad      = errors.New("token key load failed")
	ErrNoSigningKey = errors.New("token signing key not loaded")
)
