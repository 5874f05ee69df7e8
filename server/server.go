// Package server implements the RPC server with service registration, middleware chain,
// parallel request processing, and graceful shutdown.
//
// Request processing pipeline:
//
//	Accept conn → handleConn (single goroutine reads frames)
//	  → for each request: go handleRequest (parallel processing)
//	    → Codec.Decode → Middleware Chain → dispatch (decode args → reflect.Call → encode reply) → write response
package server

import (
	"context"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/errors"
	"go.uber.org/zap"

	"user-rpc/codec"
	"user-rpc/message"
	"user-rpc/middleware"
	"user-rpc/protocol"
	"user-rpc/registry"
)

// DefaultRegistrationTTL is the lease TTL, in seconds, used when advertising services.
const DefaultRegistrationTTL = 10

// Server serves registered ServiceHandlers over the framed protocol.
type Server struct {
	mu            sync.RWMutex
	services      map[string]*ServiceHandler // Registered services by name
	listener      net.Listener
	conns         map[net.Conn]struct{}
	wg            sync.WaitGroup          // Tracks in-flight requests for graceful shutdown
	shutdown      atomic.Bool             // Set during shutdown to suppress Accept errors
	middlewares   []middleware.Middleware // Registered middlewares (applied in order)
	handler       middleware.HandlerFunc  // middleware(middleware(...(dispatch)))
	registry      registry.Registry       // Service registry, nil if not using discovery
	advertiseAddr string                  // Routable address registered for discovery
	ttl           int64
	logger        *zap.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server's logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithRegistrationTTL sets the lease TTL, in seconds, used when advertising services.
func WithRegistrationTTL(ttl int64) Option {
	return func(s *Server) { s.ttl = ttl }
}

// NewServer creates a new RPC server with no services.
func NewServer(opts ...Option) *Server {
	s := &Server{
		services: make(map[string]*ServiceHandler),
		conns:    make(map[net.Conn]struct{}),
		ttl:      DefaultRegistrationTTL,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds a service. Registering the same service name twice is an error.
func (svr *Server) Register(svc *ServiceHandler) error {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	if _, dup := svr.services[svc.Name()]; dup {
		return errors.AlreadyExistsf("service %s", svc.Name())
	}
	svr.services[svc.Name()] = svc
	return nil
}

// Use registers a middleware. Middlewares are applied in the order they are added.
// Must be called before Serve.
func (svr *Server) Use(mw middleware.Middleware) {
	svr.middlewares = append(svr.middlewares, mw)
}

// Methods lists every registered "service/method" pair, sorted.
func (svr *Server) Methods() []string {
	svr.mu.RLock()
	defer svr.mu.RUnlock()
	var out []string
	for name, svc := range svr.services {
		for _, m := range svc.MethodNames() {
			out = append(out, name+"/"+m)
		}
	}
	sort.Strings(out)
	return out
}

// Addr returns the listener's address, or nil before Serve.
func (svr *Server) Addr() net.Addr {
	svr.mu.RLock()
	defer svr.mu.RUnlock()
	if svr.listener == nil {
		return nil
	}
	return svr.listener.Addr()
}

// ListenAndServe listens on the given address and calls Serve.
func (svr *Server) ListenAndServe(network, address, advertiseAddr string, reg registry.Registry) error {
	listener, err := net.Listen(network, address)
	if err != nil {
		return errors.Annotatef(err, "listening on %s", address)
	}
	return svr.Serve(listener, advertiseAddr, reg)
}

// Serve registers every service with reg (if non-nil) under advertiseAddr and
// enters the Accept loop. It returns nil after Shutdown.
//
// advertiseAddr differs from the listen address because ":50051" resolves to
// "[::]:50051" locally, which other hosts cannot dial.
func (svr *Server) Serve(listener net.Listener, advertiseAddr string, reg registry.Registry) error {
	svr.mu.Lock()
	svr.listener = listener
	svr.registry = reg
	svr.advertiseAddr = advertiseAddr
	// Built once at startup: Chain(A, B, C)(dispatch) runs A → B → C → dispatch
	svr.handler = middleware.Chain(svr.middlewares...)(svr.dispatch)
	names := make([]string, 0, len(svr.services))
	for name := range svr.services {
		names = append(names, name)
	}
	stopped := svr.shutdown.Load()
	svr.mu.Unlock()

	if stopped {
		listener.Close()
		return nil
	}

	if reg != nil {
		if advertiseAddr == "" {
			advertiseAddr = listener.Addr().String()
			svr.mu.Lock()
			svr.advertiseAddr = advertiseAddr
			svr.mu.Unlock()
		}
		for _, name := range names {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := reg.Register(ctx, name, registry.ServiceInstance{Addr: advertiseAddr, Weight: 1}, svr.ttl)
			cancel()
			if err != nil {
				listener.Close()
				return errors.Annotatef(err, "registering service %s", name)
			}
		}
	}

	svr.logger.Info("server listening", zap.Stringer("addr", listener.Addr()), zap.Strings("services", names))

	for {
		conn, err := listener.Accept()
		if err != nil {
			// Shutdown closes the listener, which fails Accept on purpose.
			if svr.shutdown.Load() {
				return nil
			}
			return errors.Trace(err)
		}
		svr.trackConn(conn, true)
		go svr.handleConn(conn)
	}
}

func (svr *Server) trackConn(conn net.Conn, add bool) {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	if add {
		svr.conns[conn] = struct{}{}
	} else {
		delete(svr.conns, conn)
	}
}

// handleConn processes a single TCP connection.
// Reads are sequential so frame boundaries can be parsed, but each request is
// dispatched to its own goroutine. A per-connection write mutex keeps response
// frames from interleaving.
func (svr *Server) handleConn(conn net.Conn) {
	defer func() {
		svr.trackConn(conn, false)
		conn.Close()
	}()
	writeMu := &sync.Mutex{}
	for {
		header, body, err := protocol.Decode(conn)
		if err != nil {
			if !svr.shutdown.Load() && !errors.Is(err, net.ErrClosed) {
				svr.logger.Debug("connection closed", zap.Stringer("remote", conn.RemoteAddr()), zap.Error(err))
			}
			return
		}

		if header.MsgType == protocol.MsgTypeHeartbeat {
			continue
		}
		if header.MsgType != protocol.MsgTypeRequest {
			svr.logger.Warn("unexpected frame type", zap.Uint8("type", uint8(header.MsgType)))
			continue
		}

		// Requests arriving after Shutdown started are dropped.
		if !svr.beginRequest() {
			return
		}
		go svr.handleRequest(header, body, conn, writeMu)
	}
}

// beginRequest counts a new in-flight request unless Shutdown has started.
// Both happen under svr.mu, so no request is added once Shutdown waits.
func (svr *Server) beginRequest() bool {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	if svr.shutdown.Load() {
		return false
	}
	svr.wg.Add(1)
	return true
}

type frameCodecKey struct{}

// handleRequest processes one request: decode → middleware → dispatch → encode → write.
func (svr *Server) handleRequest(header *protocol.Header, body []byte, conn net.Conn, writeMu *sync.Mutex) {
	defer svr.wg.Done()

	c, err := codec.GetCodec(codec.CodecType(header.CodecType))
	if err != nil {
		svr.logger.Warn("unsupported codec", zap.Uint8("codec", header.CodecType))
		return
	}

	msg := &message.RPCMessage{}
	var reply *message.RPCMessage
	if err := c.Decode(body, msg); err != nil {
		reply = &message.RPCMessage{Error: errors.Annotate(err, "decoding request").Error()}
	} else {
		ctx := context.WithValue(context.Background(), frameCodecKey{}, c.Type())
		reply = svr.handler(ctx, msg)
	}

	result, err := c.Encode(reply)
	if err != nil {
		svr.logger.Error("encoding reply", zap.String("target", msg.Target()), zap.Error(err))
		return
	}

	replyHeader := protocol.Header{
		CodecType: header.CodecType,
		MsgType:   protocol.MsgTypeResponse,
		Seq:       header.Seq, // Same seq as the request, so the client can route it
		BodyLen:   uint32(len(result)),
	}
	writeMu.Lock()
	err = protocol.Encode(conn, &replyHeader, result)
	writeMu.Unlock()
	if err != nil {
		svr.logger.Warn("writing reply", zap.String("target", msg.Target()), zap.Error(err))
	}
}

// dispatch is the innermost handler of the middleware chain: it finds the
// method, decodes its arguments, calls it and encodes the reply.
func (svr *Server) dispatch(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
	svr.mu.RLock()
	svc, ok := svr.services[req.Service]
	svr.mu.RUnlock()
	if !ok {
		return req.Fail(errors.NotFoundf("service %q", req.Service))
	}
	method, ok := svc.Method(req.Method)
	if !ok {
		return req.Fail(errors.NotFoundf("method %q in service %q", req.Method, req.Service))
	}
	if ct, ok := ctx.Value(frameCodecKey{}).(codec.CodecType); ok && ct != method.Codec() {
		return req.Fail(errors.NotSupportedf("codec %s for %s (expects %s)", ct, req.Target(), method.Codec()))
	}

	args, err := method.decodeArgs(req.Payload)
	if err != nil {
		return req.Fail(err)
	}

	result, err := method.call(ctx, args)
	if err != nil {
		return req.Fail(err)
	}

	payload, err := codec.Payload.Encode(result)
	if err != nil {
		return req.Fail(errors.Annotatef(err, "encoding reply of %s", req.Target()))
	}
	return req.Reply(payload)
}

// Shutdown performs graceful shutdown:
//  1. Set shutdown flag (so the Accept error is recognized as intentional)
//  2. Deregister all services (clients stop routing to this server)
//  3. Close the listener (stop accepting new connections)
//  4. Wait for in-flight requests to finish (with timeout)
//  5. Close the remaining connections
func (svr *Server) Shutdown(timeout time.Duration) error {
	// The flag must be set BEFORE closing the listener, otherwise Serve
	// would see the Accept error first and report it as a failure.
	svr.mu.Lock()
	svr.shutdown.Store(true)
	reg, addr, listener := svr.registry, svr.advertiseAddr, svr.listener
	names := make([]string, 0, len(svr.services))
	for name := range svr.services {
		names = append(names, name)
	}
	svr.mu.Unlock()

	if reg != nil {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		for _, name := range names {
			if err := reg.Deregister(ctx, name, addr); err != nil {
				svr.logger.Warn("deregistering service", zap.String("service", name), zap.Error(err))
			}
		}
		cancel()
	}

	if listener != nil {
		listener.Close()
	}

	done := make(chan struct{})
	go func() {
		svr.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(timeout):
		err = errors.Timeoutf("waiting for in-flight requests")
	}

	svr.mu.Lock()
	for conn := range svr.conns {
		conn.Close()
	}
	svr.mu.Unlock()
	return err
}
