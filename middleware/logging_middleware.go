package middleware

import (
	"context"
	"time"

	"github.com/alarouche/czrpc/logger"
	"github.com/alarouche/czrpc/message"
	"github.com/alarouche/czrpc/protocol"
)

// LoggingMiddleware logs every inbound call with its rpc id, correlation
// counter and handling duration.
func LoggingMiddleware() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, hdr protocol.Header, req *message.Request) *message.Reply {
			start := time.Now()
			rep := next(ctx, hdr, req)
			elapsed := time.Since(start)
			if rep != nil && rep.Error != "" {
				logger.Warnf("call rpcID=%d counter=%d name=%q failed in %v: %s",
					hdr.RPCID, hdr.Counter, req.Name, elapsed, rep.Error)
			} else if logger.DebugEnabled {
				logger.Debugf("call rpcID=%d counter=%d name=%q handled in %v",
					hdr.RPCID, hdr.Counter, req.Name, elapsed)
			}
			return rep
		}
	}
}
