// Package client issues RPC calls against services found through a registry.
//
// Call path:
//
//	Call → middleware chain → discover (singleflight) → balancer.Pick
//	     → Pool.Get → ClientTransport.Send → wait for reply or ctx
package client

import (
	"context"
	"net"
	"reflect"
	"sync"
	"time"

	"github.com/juju/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"user-rpc/codec"
	"user-rpc/loadbalance"
	"user-rpc/message"
	"user-rpc/middleware"
	"user-rpc/registry"
	"user-rpc/transport"
)

// DefaultPoolSize is the number of connections kept per server address.
const DefaultPoolSize = 4

// DiscoveryTimeout bounds a single registry lookup.
const DiscoveryTimeout = 5 * time.Second

type Client struct {
	registry    registry.Registry // find service instance from registry
	balancer    loadbalance.Balancer
	codecType   codec.CodecType
	poolSize    int
	heartbeat   time.Duration
	callTimeout time.Duration
	logger      *zap.Logger
	middlewares []middleware.Middleware
	handler     middleware.HandlerFunc

	mu     sync.Mutex
	pools  map[string]*transport.Pool // transports for each service instance
	closed bool

	discovery singleflight.Group
}

// Option configures a Client.
type Option func(*Client)

// WithPoolSize sets the maximum number of connections per server address.
func WithPoolSize(n int) Option {
	return func(c *Client) { c.poolSize = n }
}

// WithLogger sets the client's logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithMiddleware appends client-side middleware around each round trip.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(c *Client) { c.middlewares = append(c.middlewares, mws...) }
}

// WithCallTimeout bounds every call that has no earlier deadline.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Client) { c.callTimeout = d }
}

// WithHeartbeat sets the keepalive interval of pooled connections.
func WithHeartbeat(d time.Duration) Option {
	return func(c *Client) { c.heartbeat = d }
}

func NewClient(reg registry.Registry, bal loadbalance.Balancer, codecType codec.CodecType, opts ...Option) *Client {
	c := &Client{
		registry:  reg,
		balancer:  bal,
		codecType: codecType,
		poolSize:  DefaultPoolSize,
		heartbeat: transport.DefaultHeartbeat,
		logger:    zap.NewNop(),
		pools:     make(map[string]*transport.Pool),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.handler = middleware.Chain(c.middlewares...)(c.roundTrip)
	return c
}

// Call sends payload, a JSON array of arguments, to service/method and
// returns the JSON reply.
func (c *Client) Call(ctx context.Context, service, method string, payload []byte) ([]byte, error) {
	if c.callTimeout > 0 {
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.callTimeout)
			defer cancel()
		}
	}
	req := &message.RPCMessage{
		Service:  service,
		Method:   method,
		Payload:  payload,
		Metadata: map[string]string{"codec": c.codecType.String()},
	}
	resp := c.handler(ctx, req)
	if resp.Error != "" {
		return nil, errors.Errorf("calling %s: %s", req.Target(), resp.Error)
	}
	return resp.Payload, nil
}

// roundTrip is the innermost handler: it turns every failure into an error reply
// so client middleware sees transport and server errors the same way.
func (c *Client) roundTrip(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
	instances, err := c.discover(ctx, req.Service)
	if err != nil {
		return req.Fail(err)
	}

	instance, err := c.balancer.Pick(ctx, instances)
	if err != nil {
		return req.Fail(err)
	}

	pool, err := c.pool(instance.Addr)
	if err != nil {
		return req.Fail(err)
	}
	t, err := pool.Get(ctx)
	if err != nil {
		return req.Fail(err)
	}

	seq, ch, err := t.Send(req)
	// Calls are multiplexed, so the transport goes back as soon as the request is written.
	pool.Put(t)
	if err != nil {
		return req.Fail(err)
	}

	select {
	case resp := <-ch:
		return resp
	case <-ctx.Done():
		t.Forget(seq)
		return req.Fail(errors.Annotate(ctx.Err(), "request timed out"))
	}
}

// discover collapses concurrent lookups of the same service into one registry
// query. The shared query is not tied to any one caller's ctx; each caller
// stops waiting when its own ctx is done.
func (c *Client) discover(ctx context.Context, service string) ([]registry.ServiceInstance, error) {
	ch := c.discovery.DoChan(service, func() (any, error) {
		qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DiscoveryTimeout)
		defer cancel()
		return c.registry.Discover(qctx, service)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, errors.Annotatef(res.Err, "discovering %s", service)
		}
		return res.Val.([]registry.ServiceInstance), nil
	case <-ctx.Done():
		return nil, errors.Annotatef(ctx.Err(), "discovering %s", service)
	}
}

func (c *Client) pool(addr string) (*transport.Pool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, transport.ErrClosed
	}
	p, ok := c.pools[addr]
	if !ok {
		p = transport.NewPool(addr, c.poolSize, c.dialer(addr))
		c.pools[addr] = p
	}
	return p, nil
}

func (c *Client) dialer(addr string) func(ctx context.Context) (*transport.ClientTransport, error) {
	return func(ctx context.Context) (*transport.ClientTransport, error) {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, errors.Trace(err)
		}
		c.logger.Debug("dialed server", zap.String("addr", addr), zap.Stringer("codec", c.codecType))
		return transport.NewClientTransport(conn, c.codecType, c.heartbeat)
	}
}

// Close closes every pooled connection. Calls made afterwards fail.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for addr, p := range c.pools {
		p.Close()
		delete(c.pools, addr)
	}
	return nil
}

// UnaryCall is a bound remote method.
type UnaryCall struct {
	client     *Client
	service    string
	method     string
	returnType reflect.Type
}

// CallOption configures a UnaryCall.
type CallOption func(*UnaryCall)

// WithReturnType makes Invoke decode the reply into a new value of type t.
func WithReturnType(t reflect.Type) CallOption {
	return func(u *UnaryCall) { u.returnType = t }
}

// Unary binds service/method for repeated invocation.
func (c *Client) Unary(service, method string, opts ...CallOption) *UnaryCall {
	u := &UnaryCall{client: c, service: service, method: method}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Invoke calls the method with args. With a declared return type the result is
// a pointer to a value of that type; otherwise it is the decoded JSON value
// (map[string]any, []any, float64, ...).
func (u *UnaryCall) Invoke(ctx context.Context, args ...any) (any, error) {
	if args == nil {
		args = []any{}
	}
	payload, err := codec.Payload.Encode(args)
	if err != nil {
		return nil, errors.Annotatef(err, "encoding arguments of %s/%s", u.service, u.method)
	}
	reply, err := u.client.Call(ctx, u.service, u.method, payload)
	if err != nil {
		return nil, err
	}

	if u.returnType != nil {
		ptr := reflect.New(u.returnType)
		if err := codec.Payload.Decode(reply, ptr.Interface()); err != nil {
			return nil, errors.Annotatef(err, "decoding reply of %s/%s", u.service, u.method)
		}
		return ptr.Interface(), nil
	}
	var v any
	if err := codec.Payload.Decode(reply, &v); err != nil {
		return nil, errors.Annotatef(err, "decoding reply of %s/%s", u.service, u.method)
	}
	return v, nil
}
