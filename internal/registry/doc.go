// Package registry owns the client's view of topics and subscriptions.
//
// Ownership boundary:
// - client topics keyed by name, correlated on the wire by pubuid
// - server topics keyed by the server-assigned id, last received value
// - standing subscriptions keyed by subuid
// - monotonic id generation per namespace
//
// Every registry guards its maps with its own lock and returns copies, so
// callers never share mutable state with the dispatch loop.
package registry
