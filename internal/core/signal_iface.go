package core

import "errors"

var (
	ErrNotLoggedIn  = errors.New("not logged in")
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

// Frame is an encoded signaling message.
type Frame []byte

// SignalConnection abstracts the signaling transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}
