// Package netio provides the UDP socket implementation of stack.Socket,
// the transport the estate stack drives from ServiceAllRx/ServiceAllTx.
package netio
