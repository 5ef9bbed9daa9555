// Package protocol owns the NT4 wire contract shared by both channels.
//
// Ownership boundary:
// - error taxonomy for decode, lookup, transport and liveness failures
// - diagnostic records reported by the codecs and the session
// - wire constants (default port, sub-protocol token, sentinel ids)
//
// Codecs live in subpackages: schema (type tags), control (text channel)
// and frame (binary channel).
package protocol
