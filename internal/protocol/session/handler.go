package session

import (
	"github.com/danmuck/uavbus/internal/protocol/transfer"
)

// Received is a decoded message with its transfer metadata.
type Received[T any] struct {
	Msg T
	transfer.Meta
}

// Handler is a message callback. Build one with Simple or Extended; the
// zero value is a nil handler.
//
// The *T and *Received[T] passed to a callback are reused for the next
// delivery and are only valid during the call. Copy the value to keep it.
type Handler[T any] struct {
	simple   func(msg *T)
	extended func(msg *Received[T])
}

// Simple wraps a callback that only needs the message.
func Simple[T any](fn func(msg *T)) Handler[T] {
	return Handler[T]{simple: fn}
}

// Extended wraps a callback that also wants timestamps and source.
func Extended[T any](fn func(msg *Received[T])) Handler[T] {
	return Handler[T]{extended: fn}
}

func (h Handler[T]) IsNil() bool {
	return h.simple == nil && h.extended == nil
}

func (h Handler[T]) call(r *Received[T]) {
	if h.extended != nil {
		h.extended(r)
		return
	}
	h.simple(&r.Msg)
}
