// Package protocol owns the shared transport identifiers and error taxonomy.
//
// Ownership boundary:
// - node, transfer and data type identifiers
// - transfer id wraparound arithmetic
// - sentinel errors for every failure path of the transport core
//
// Subpackages:
// - frame: link-layer frame model and CAN wire layout
// - transfer: block-chained transfer buffer and per-source reassembly
// - dispatch: listener registry and completed-transfer routing
// - session: subscriber/publisher handles and outgoing transfer ids
package protocol
