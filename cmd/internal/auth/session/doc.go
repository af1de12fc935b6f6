// Package session implements the session store, its read-through cache and
// the revocation manager.
//
// A session is the durable principal context a bearer token points at. Tokens
// carry only the session id; every authentication re-checks the session row
// (through a cache keyed by session id) so expiry and revocation take effect
// immediately.
//
// Cache entries are grouped per account through an explicit index set
// (session:account:<accountId>) maintained next to the entries, so that
// revocation can evict every cached session of an account without backend
// support for tagging.
//
// Sessions form a forest through ParentSessionID. API-key sessions, linked
// device sessions and OIDC-connect sessions hang off the session that created
// them, and revoking a session expires its whole subtree.
package session
