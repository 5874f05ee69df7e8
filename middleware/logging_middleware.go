package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"user-rpc/message"
)

func LoggingMiddleware(logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
			start := time.Now()
			rpcMessage := next(ctx, req)
			fields := []zap.Field{
				zap.String("service", req.Service),
				zap.String("method", req.Method),
				zap.Duration("duration", time.Since(start)),
			}
			if rpcMessage.Error != "" {
				logger.Warn("rpc call failed", append(fields, zap.String("error", rpcMessage.Error))...)
				return rpcMessage
			}
			logger.Debug("rpc call", fields...)
			return rpcMessage
		}
	}
}
