package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"user-rpc/message"
)

const ErrRateLimited = "rate limit exceeded"

// RateLimitMiddleware admits calls through a token bucket of r tokens per second.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
			if !limiter.Allow() {
				return &message.RPCMessage{
					Service: req.Service,
					Method:  req.Method,
					Error:   ErrRateLimited,
				}
			}
			return next(ctx, req)
		}
	}
}
