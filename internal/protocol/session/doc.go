// Package session holds the typed handles applications use to talk on the
// bus: Subscriber[T] decodes completed transfers into T and calls a
// handler, Publisher[T] encodes T and sends it with a transfer id taken
// from the node's OutgoingRegistry.
//
// Handles are bound to a Node, which the scheduler implements. Start, Stop
// and publishing must be serialized with the node's spin loop.
package session
