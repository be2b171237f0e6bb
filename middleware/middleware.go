// Package middleware implements the interceptor chain for inbound calls.
//
// A dispatch table wraps its business handler with the registered
// middlewares once, onion-style: Chain(A, B, C)(handler) executes
// A.before → B.before → C.before → handler → C.after → B.after → A.after.
package middleware

import (
	"context"

	"github.com/alarouche/czrpc/message"
	"github.com/alarouche/czrpc/protocol"
)

// HandlerFunc processes one decoded inbound call and produces its reply
// envelope. hdr is the parsed frame header of the call being serviced.
type HandlerFunc func(ctx context.Context, hdr protocol.Header, req *message.Request) *message.Reply

type Middleware func(next HandlerFunc) HandlerFunc

// Chain combines multiple middlewares into one.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
