// Package middleware wraps RPC handlers with cross-cutting behavior.
//
// The same HandlerFunc shape is used on both sides of a call: the server
// wraps its method dispatcher, the client wraps its network round trip.
package middleware

import (
	"context"

	"user-rpc/message"
)

type HandlerFunc func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage

type Middleware func(next HandlerFunc) HandlerFunc

// Chain combines middlewares so that the first one listed runs outermost:
//
//	Chain(A, B, C)(h) == A(B(C(h)))
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
