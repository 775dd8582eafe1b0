package realtime

import (
	"context"
)

type (
	// CloseChan is closed when the connection it belongs to shuts down.
	CloseChan chan struct{}

	// Conn is one open channel to the server. Inbound frames are delivered on
	// the recv channel supplied at construction, in wire order. A Conn is used
	// for a single session: once closed it is discarded, never reopened.
	Conn interface {
		// Open dials the endpoint. It returns once the channel is established
		// or the dial has failed.
		Open(ctx context.Context) error
		// Write sends one outbound frame.
		Write(frame []byte) error
		// Close terminates the connection and releases its resources.
		Close()
		// CloseChan returns a channel closed when the connection shuts down,
		// whether by Close or by the peer.
		CloseChan() CloseChan
		// CloseErr explains why the connection closed. Nil means it has not
		// closed, or closed on purpose from this side.
		CloseErr() error
	}

	// ConnFactory builds a fresh Conn delivering inbound frames to recv. The
	// client calls it once per connection attempt.
	ConnFactory func(recv chan<- []byte) Conn
)

type noopConn struct{}

func (noopConn) Open(context.Context) error { return nil }

func (noopConn) Write([]byte) error { return nil }

func (noopConn) Close() {}

func (noopConn) CloseChan() CloseChan { return nil }

func (noopConn) CloseErr() error { return nil }
