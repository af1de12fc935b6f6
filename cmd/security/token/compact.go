package token

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// sessionIDLen is the size of the compact token payload: one raw UUID.
const sessionIDLen = 16

// signingMethod is RSASSA-PKCS1-v1_5 with SHA-256.
var signingMethod = jwt.SigningMethodRS256

// signCompact produces "<payload>.<signature>" for sessionID.
func signCompact(pair *KeyPair, sessionID uuid.UUID) (string, error) {
	if pair == nil || pair.Private == nil {
		return "", ErrNoSigningKey
	}
	payload := sessionID[:]
	sig, err := signingMethod.Sign(string(payload), pair.Private)
	if err != nil {
		return "", fmt.Errorf("sign compact token: %w", err)
	}
	return encodeSegment(payload) + "." + encodeSegment(sig), nil
}

// decodeCompact splits and decodes the two compact segments without verifying them.
func decodeCompact(payloadSeg, sigSeg string) (Compact, error) {
	payload, err := decodeSegment(payloadSeg)
	if err != nil {
		return Compact{}, invalid(ErrMalformed)
	}
	if len(payload) != sessionIDLen {
		return Compact{}, invalid(ErrMalformed)
	}
	sig, err := decodeSegment(sigSeg)
	if err != nil || len(sig) == 0 {
		return Compact{}, invalid(ErrMalformed)
	}

	var c Compact
	copy(c.Payload[:], payload)
	c.Signature = sig
	return c, nil
}

func encodeSegment(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

var strictStd = base64.StdEncoding.Strict()

// decodeSegment accepts unpadded or padded base64url. It maps the URL-safe alphabet back to the
// standard one and restores padding from len%4 before a strict standard decode.
func decodeSegment(s string) ([]byte, error) {
	if s == "" {
		return nil, ErrMalformed
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-', c == '_':
		case c == '=':
			if strings.TrimRight(s[i:], "=") != "" {
				return nil, ErrMalformed
			}
		default:
			return nil, ErrMalformed
		}
	}

	s = strings.TrimRight(s, "=")
	s = strings.NewReplacer("-", "+", "_", "/").Replace(s)
	switch len(s) % 4 {
	case 2:
		s += "=="
	case 3:
		s += "="
	case 1:
		return nil, ErrMalformed
	}
	return strictStd.DecodeString(s)
}

func invalid(reason error) error {
	return fmt.Errorf("%w: %w", ErrInvalidToken, reason)
}
