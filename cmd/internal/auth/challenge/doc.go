// Package challenge implements login challenges and the risk engine that sizes them.
//
// A challenge is created for a login attempt with a number of required steps
// chosen from risk signals. Each verified factor subtracts its trust weight
// from the remaining steps and is blacklisted on that challenge; the
// challenge is complete when no steps remain. Challenges are never deleted.
package challenge
