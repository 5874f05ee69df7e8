package transport

import (
	"context"
	"sync"

	"github.com/juju/errors"
)

// Pool hands out ClientTransports to a single address.
//
// A buffered channel holds idle transports: it is goroutine-safe and blocks
// when empty, which makes it a natural FIFO queue. Transports are created
// lazily up to maxConns; closed ones are discarded on Get and Put.
type Pool struct {
	mu       sync.Mutex
	idle     chan *ClientTransport
	addr     string
	maxConns int
	curConns int
	closed   bool
	factory  func(ctx context.Context) (*ClientTransport, error)
}

// NewPool creates an empty pool that dials through factory.
func NewPool(addr string, maxConns int, factory func(ctx context.Context) (*ClientTransport, error)) *Pool {
	if maxConns <= 0 {
		maxConns = 1
	}
	return &Pool{
		idle:     make(chan *ClientTransport, maxConns),
		addr:     addr,
		maxConns: maxConns,
		factory:  factory,
	}
}

// Addr returns the address the pool dials.
func (p *Pool) Addr() string {
	return p.addr
}

// Get retrieves a transport from the pool.
// Strategy:
//  1. Take an idle transport if one is available
//  2. If none is idle but the pool is under its limit, dial a new one
//  3. Otherwise wait until one is returned or ctx is done
func (p *Pool) Get(ctx context.Context) (*ClientTransport, error) {
	for {
		select {
		case t := <-p.idle:
			if t.Closed() {
				p.discard()
				continue
			}
			return t, nil
		default:
		}

		t, err := p.createNew(ctx)
		if err != errPoolFull {
			return t, err
		}

		select {
		case t := <-p.idle:
			if t.Closed() {
				p.discard()
				continue
			}
			return t, nil
		case <-ctx.Done():
			return nil, errors.Trace(ctx.Err())
		}
	}
}

// Put returns a transport to the pool. Closed transports are dropped.
func (p *Pool) Put(t *ClientTransport) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed || t.Closed() {
		t.Close()
		p.discard()
		return
	}
	p.idle <- t
}

// Close shuts down the pool and closes idle transports. Transports still
// checked out are closed when they are Put back.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	for {
		select {
		case t := <-p.idle:
			t.Close()
			p.curConns--
		default:
			return nil
		}
	}
}

var errPoolFull = errors.New("connection pool exhausted")

func (p *Pool) createNew(ctx context.Context) (*ClientTransport, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	if p.curConns >= p.maxConns {
		p.mu.Unlock()
		return nil, errPoolFull
	}
	p.curConns++
	p.mu.Unlock()

	t, err := p.factory(ctx)
	if err != nil {
		p.discard()
		return nil, errors.Annotatef(err, "dialing %s", p.addr)
	}
	return t, nil
}

func (p *Pool) discard() {
	p.mu.Lock()
	p.curConns--
	p.mu.Unlock()
}
