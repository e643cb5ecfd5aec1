package stack

import "errors"

// ErrWouldBlock is the transient backpressure signal a Socket.Send
// implementation returns to mean EAGAIN/EWOULDBLOCK. The stack re-queues
// the packet; any other error from Send is counted as tx_error and the
// packet is dropped.
var ErrWouldBlock = errors.New("send would block")

// ErrUnknownDestination indicates a send referenced a destination uid with
// no matching remote.
var ErrUnknownDestination = errors.New("unknown transaction destination")

// ErrInvalidTransmitBody indicates Transmit was called with a nil payload
// mapping.
var ErrInvalidTransmitBody = errors.New("invalid transmit body")
