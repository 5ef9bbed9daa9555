// Package session owns NT4 session tuning and publish bookkeeping.
//
// Ownership boundary:
// - connect/probe/liveness timing defaults
// - connect retry backoff
// - outbox of publishes awaiting the server's announce
package session
