package identity

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// CodeVerifier delivers and checks one-time codes for code-based factors.
// Implementations live with the notification and TOTP services.
type CodeVerifier interface {
	SendCode(ctx context.Context, f Factor, hint string) error
	VerifyCode(ctx context.Context, f Factor, code string) (bool, error)
}

// NoopCodeVerifier sends nothing and rejects every code.
type NoopCodeVerifier struct{}

// SendCode is a no-op.
func (NoopCodeVerifier) SendCode(_ context.Context, _ Factor, _ string) error { return nil }

// VerifyCode always reports a mismatch.
func (NoopCodeVerifier) VerifyCode(_ context.Context, _ Factor, _ string) (bool, error) {
	return false, nil
}

// Verifier checks a presented secret against a factor.
type Verifier struct {
	codes CodeVerifier
}

// NewVerifier builds a Verifier. A nil CodeVerifier rejects all code factors.
func NewVerifier(codes CodeVerifier) *Verifier {
	if codes == nil {
		codes = NoopCodeVerifier{}
	}
	return &Verifier{codes: codes}
}

// Verify returns (true, nil) on a match and (false, nil) on a mismatch.
// Malformed stored secrets and unknown factor types are reported as errors.
func (v *Verifier) Verify(ctx context.Context, f Factor, code string) (bool, error) {
	const op = "identity.VerifyFactor"

	if strings.TrimSpace(code) == "" {
		return false, nil
	}

	switch f.Type {
	case FactorPassword, FactorPinCode:
		err := bcrypt.CompareHashAndPassword([]byte(f.Secret), []byte(code))
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
			return false, nil
		default:
			return false, OpError{Op: op, Kind: ErrInvalidInput, Msg: "malformed factor secret"}
		}
	case FactorEmailCode, FactorInAppCode, FactorTimedCode:
		return v.codes.VerifyCode(ctx, f, code)
	default:
		return false, OpError{Op: op, Kind: ErrUnsupported, Msg: string(f.Type)}
	}
}

// SendCode asks the code verifier to deliver a code for factors that need one.
func (v *Verifier) SendCode(ctx context.Context, f Factor, hint string) error {
	if !f.Type.SendsCode() {
		return OpError{Op: "identity.SendCode", Kind: ErrUnsupported, Msg: string(f.Type)}
	}
	return v.codes.SendCode(ctx, f, hint)
}

// HashSecret produces the bcrypt hash stored for password and PIN factors.
func HashSecret(secret string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}
