// Package token encodes and verifies the bearer tokens that reference sessions.
//
// Two formats are accepted and told apart by their number of dot-separated segments:
//
//   - Compact (2 segments): base64url(16 raw session UUID bytes) "." base64url(RSA-SHA256 PKCS1 v1.5
//     signature over those bytes). This is the only format the codec issues for sessions.
//   - Delegated JWT (3 segments): validated by a JWTValidator; its "jti" claim is the session id.
//
// Key material is held by a KeyRing that is loaded once at startup and swapped atomically on Reload.
// Nothing in this package reads key files on the sign/verify path.
package token
