package middleware

import (
	"context"
	"time"

	"github.com/alarouche/czrpc/message"
	"github.com/alarouche/czrpc/protocol"
)

// TimeoutMiddleware bounds the handling time of one inbound call. When the
// deadline expires before the handler returns, the caller gets an error
// reply immediately; the handler goroutine is left to finish on its own and
// its late reply is discarded.
func TimeoutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, hdr protocol.Header, req *message.Request) *message.Reply {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan *message.Reply, 1)
			go func() {
				done <- next(ctx, hdr, req)
			}()

			select {
			case rep := <-done:
				return rep
			case <-ctx.Done():
				return &message.Reply{Error: "request timed out"}
			}
		}
	}
}
