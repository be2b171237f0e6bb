// Package transport defines the byte-stream contract the connection engine
// is written against, plus two reference implementations: an in-process pipe
// for same-process peers and tests, and an adapter over an established
// net.Conn. Dialing, accepting and TLS are the embedder's business.
package transport

import (
	"github.com/pkg/errors"
)

// ErrClosed is returned by Receive once the connection is gone and no more
// frames will ever be delivered. The engine reacts by failing every pending
// call and firing its disconnect signal.
var ErrClosed = errors.New("transport closed")

// Transport delivers whole frames in both directions.
//
// Receive never blocks waiting for data:
//   - (frame, nil)   — exactly one framed message
//   - (nil, nil)     — connection open, no data currently available
//   - (nil, ErrClosed) — connection closed
//   - (nil, other)   — protocol-fatal decode failure (malformed or truncated
//     frame); the embedder should close and recreate the connection
type Transport interface {
	// Send hands one fully framed message for transmission. It must not
	// block on the peer; implementations queue internally.
	Send(frame []byte) error

	// Receive returns the next inbound frame, if any. See above.
	Receive() ([]byte, error)

	// Close requests shutdown. Idempotent.
	Close() error
}
