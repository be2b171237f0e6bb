package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/alarouche/czrpc/message"
	"github.com/alarouche/czrpc/protocol"
)

// RateLimitMiddleware rejects inbound calls beyond a token-bucket budget.
// The rejection travels back as a per-call failure reply; the connection
// itself is unaffected.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, hdr protocol.Header, req *message.Request) *message.Reply {
			if !limiter.Allow() {
				return &message.Reply{Error: "rate limit exceeded"}
			}
			return next(ctx, hdr, req)
		}
	}
}
