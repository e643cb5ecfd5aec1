package netio

import "errors"

var (
	// ErrSocketClosed indicates an operation on a closed socket.
	ErrSocketClosed = errors.New("socket closed")

	// ErrUnexpectedConnType indicates net.ListenPacket returned a
	// connection type other than *net.UDPConn.
	ErrUnexpectedConnType = errors.New("unexpected connection type from ListenPacket")
)
