// Package protocol owns the name-transfer wire contract.
//
// Ownership boundary:
// - packet data: the two WireMessage variants
// - acknowledgement envelope: result or error
// - the negotiated channel version and ordering constants
//
// Both sides of a channel decode exactly what the other encoded; nothing in
// this package mutates a payload after it is built.
package protocol
