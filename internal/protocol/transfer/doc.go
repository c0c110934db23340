// Package transfer reassembles frames into transfers.
//
// Ownership boundary:
// - Buffer: a chain of pool blocks, grown by appending, never copied
// - Receiver: per-source reassembly state machine
// - Transfer/Reader: read-only view of one completed transfer
//
// A Receiver owns at most one in-progress Buffer. On completion the buffer
// is lent to the caller through a Transfer and must be returned with
// Transfer.Release once decoding is done.
package transfer
