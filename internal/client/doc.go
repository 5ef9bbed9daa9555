// Package client runs one NT4 client session over a transport.
//
// Ownership boundary:
// - session lifecycle: Disconnected -> Connecting -> Connected -> Disconnected
// - dispatch loop applying inbound control batches and value frames in order
// - liveness loop sending time probes and ending silent sessions
// - application operations: publish, subscribe, property updates, values
//
// Operations that need a live connection register locally and skip the send
// while disconnected. State is replayed to the server on the next Connect.
package client
