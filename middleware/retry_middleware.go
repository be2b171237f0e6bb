package middleware

import (
	"context"
	"strings"
	"time"

	"github.com/alarouche/czrpc/logger"
	"github.com/alarouche/czrpc/message"
	"github.com/alarouche/czrpc/protocol"
)

// RetryMiddleware re-runs the downstream chain when the reply carries a
// transient error, with exponential backoff. Useful when handlers fan out
// to other peers whose failures are worth a second attempt; logic errors
// returned by the method itself pass through untouched.
func RetryMiddleware(maxRetries int, baseDelay time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, hdr protocol.Header, req *message.Request) *message.Reply {
			rep := next(ctx, hdr, req)
			for i := 0; i < maxRetries; i++ {
				if rep == nil || rep.Error == "" {
					return rep
				}
				if !transient(rep.Error) {
					return rep
				}
				logger.Warnf("retry attempt %d for rpc %d (%s): %s", i+1, hdr.RPCID, req.Name, rep.Error)
				time.Sleep(baseDelay * time.Duration(1<<i))
				rep = next(ctx, hdr, req)
			}
			return rep
		}
	}
}

func transient(errMsg string) bool {
	return strings.Contains(errMsg, "timed out") ||
		strings.Contains(errMsg, "timeout") ||
		strings.Contains(errMsg, "connection refused")
}
