package middleware

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"user-rpc/message"
)

// RetryMiddleware re-issues calls that failed with a transient transport error,
// backing off exponentially from baseDelay. Other errors return immediately.
func RetryMiddleware(maxRetries int, baseDelay time.Duration, logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
			rpcMessage := next(ctx, req)
			for i := 0; i < maxRetries; i++ {
				if !retryable(rpcMessage.Error) {
					return rpcMessage
				}
				logger.Info("retrying rpc call",
					zap.Int("attempt", i+1),
					zap.String("target", req.Target()),
					zap.String("error", rpcMessage.Error),
				)
				select {
				case <-time.After(baseDelay * time.Duration(1<<i)):
				case <-ctx.Done():
					return rpcMessage
				}
				rpcMessage = next(ctx, req)
			}
			return rpcMessage
		}
	}
}

func retryable(errMsg string) bool {
	if errMsg == "" {
		return false
	}
	return strings.Contains(errMsg, "timeout") ||
		strings.Contains(errMsg, "timed out") ||
		strings.Contains(errMsg, "connection refused")
}
