// Package identity holds the account-side records the authentication engine reads:
// accounts, their auth factors, and the client devices they sign in from.
//
// Accounts are owned by the wider platform. This package only resolves them and
// verifies factor secrets against them; it never creates or edits profiles.
//
// Factor verification follows a pass/fail contract. Password and PIN secrets are
// bcrypt hashes compared in constant time; code-based factors (TOTP, email, in-app)
// are delegated to a CodeVerifier supplied by the caller.
package identity
