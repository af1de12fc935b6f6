package identity

import (
	"time"

	"github.com/google/uuid"
)

// FactorType enumerates the verification mechanisms an account can enroll.
type FactorType string

const (
	FactorPassword  FactorType = "password"
	FactorEmailCode FactorType = "email_code"
	FactorInAppCode FactorType = "in_app_code"
	FactorTimedCode FactorType = "timed_code"
	FactorPinCode   FactorType = "pin_code"
)

// Valid reports whether t is a known factor type.
func (t FactorType) Valid() bool {
	switch t {
	case FactorPassword, FactorEmailCode, FactorInAppCode, FactorTimedCode, FactorPinCode:
		return true
	default:
		return false
	}
}

// SendsCode reports whether the factor needs an out-of-band code delivered before verification.
func (t FactorType) SendsCode() bool {
	return t == FactorEmailCode || t == FactorInAppCode
}

// Factor is an enrolled credential mechanism with a trust weight.
//
// Trustworthy is the amount a successful verification subtracts from a
// challenge's remaining steps. Secret is a bcrypt hash for password and PIN
// factors and an opaque provider secret otherwise; it never leaves the server.
type Factor struct {
	ID          uuid.UUID
	AccountID   uuid.UUID
	Type        FactorType
	Secret      string
	Trustworthy int
	EnabledAt   *time.Time
	ExpiredAt   *time.Time
	CreatedAt   time.Time
}

// Enabled reports whether the factor can currently be used.
func (f Factor) Enabled(now time.Time) bool {
	if f.EnabledAt == nil {
		return false
	}
	if f.ExpiredAt != nil && !f.ExpiredAt.After(now) {
		return false
	}
	return true
}

// Redacted returns a copy without the secret, suitable for API responses.
func (f Factor) Redacted() Factor {
	f.Secret = ""
	return f
}

// EnabledFactors filters fs down to the factors usable at now.
func EnabledFactors(fs []Factor, now time.Time) []Factor {
	out := make([]Factor, 0, len(fs))
	for _, f := range fs {
		if f.Enabled(now) {
			out = append(out, f)
		}
	}
	return out
}

// PinFactor returns the first enabled PIN factor, if any.
func PinFactor(fs []Factor, now time.Time) (Factor, bool) {
	for _, f := range fs {
		if f.Type == FactorPinCode && f.Enabled(now) {
			return f, true
		}
	}
	return Factor{}, false
}
