package middleware

import (
	"context"
	"time"

	"user-rpc/message"
	"user-rpc/metrics"
)

func MetricsMiddleware(m *metrics.Metrics) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
			start := time.Now()
			rpcMessage := next(ctx, req)
			m.RequestDuration.WithLabelValues(req.Service, req.Method).Observe(time.Since(start).Seconds())

			status := "ok"
			switch rpcMessage.Error {
			case "":
			case ErrRateLimited:
				status = "error"
				m.Rejected.WithLabelValues("rate_limit").Inc()
			default:
				status = "error"
			}
			m.Requests.WithLabelValues(req.Service, req.Method, status).Inc()
			return rpcMessage
		}
	}
}
