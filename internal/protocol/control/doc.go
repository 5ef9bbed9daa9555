// Package control owns the NT4 text-channel codec.
//
// Ownership boundary:
// - outbound publish/unpublish/subscribe/unsubscribe/setproperties batches
// - inbound announce/unannounce/properties batch parsing
//
// Inbound batches recover per element: one invalid element is reported and
// skipped, the rest of the batch still decodes.
package control
