// Package transport implements the client-side transport layer with multiplexing and heartbeat.
//
// ClientTransport carries many concurrent calls over a single TCP connection.
// Each request gets a unique sequence ID, and a background goroutine (recvLoop)
// reads responses and routes them to the waiting caller.
//
//	goroutine-1 ──Send(seq=1)──┐
//	goroutine-2 ──Send(seq=2)──┼──→ single TCP conn ──→ Server
//	goroutine-3 ──Send(seq=3)──┘
//
//	recvLoop:  ←── response(seq=2) → pending[2] chan ← response → goroutine-2 wakes up
package transport

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/errors"

	"user-rpc/codec"
	"user-rpc/message"
	"user-rpc/protocol"
)

// ErrClosed is returned by Send once the transport has shut down.
var ErrClosed = errors.New("transport closed")

// DefaultHeartbeat is the interval between keepalive frames.
const DefaultHeartbeat = 30 * time.Second

// ClientTransport manages a single multiplexed TCP connection.
type ClientTransport struct {
	conn    net.Conn
	codec   codec.Codec
	seq     uint32     // Monotonically increasing sequence number (protected by sending)
	pending sync.Map   // map[uint32]chan *message.RPCMessage, each request waits on its own channel
	sending sync.Mutex // Serializes writes so frames from different calls never interleave

	closed    atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
}

// NewClientTransport creates a transport for the given connection and starts two background goroutines:
//   - recvLoop: reads responses from the connection and dispatches them to pending callers
//   - heartbeatLoop: sends periodic heartbeat frames until the transport closes
func NewClientTransport(conn net.Conn, codecType codec.CodecType, heartbeat time.Duration) (*ClientTransport, error) {
	cdc, err := codec.GetCodec(codecType)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	t := &ClientTransport{
		conn:  conn,
		codec: cdc,
		done:  make(chan struct{}),
	}
	go t.recvLoop()
	go t.heartbeatLoop(heartbeat)
	return t, nil
}

// Send encodes msg and writes it as a request frame.
// Returns the sequence number and a channel that will receive exactly one response.
func (t *ClientTransport) Send(msg *message.RPCMessage) (uint32, <-chan *message.RPCMessage, error) {
	if t.closed.Load() {
		return 0, nil, ErrClosed
	}

	body, err := t.codec.Encode(msg)
	if err != nil {
		return 0, nil, errors.Annotate(err, "encoding request")
	}

	t.sending.Lock()
	defer t.sending.Unlock()

	t.seq++
	seq := t.seq

	header := protocol.Header{
		CodecType: byte(t.codec.Type()),
		MsgType:   protocol.MsgTypeRequest,
		Seq:       seq,
		BodyLen:   uint32(len(body)),
	}

	// Register the response channel BEFORE sending so recvLoop cannot miss it.
	// Buffered so recvLoop never blocks on a caller that gave up.
	respChan := make(chan *message.RPCMessage, 1)
	t.pending.Store(seq, respChan)
	if t.closed.Load() {
		t.pending.Delete(seq)
		return 0, nil, ErrClosed
	}

	if err := protocol.Encode(t.conn, &header, body); err != nil {
		t.pending.Delete(seq)
		t.Close()
		return 0, nil, errors.Annotate(err, "writing request")
	}
	return seq, respChan, nil
}

// Forget drops the pending entry for seq, e.g. after the caller's context expired.
func (t *ClientTransport) Forget(seq uint32) {
	t.pending.Delete(seq)
}

// recvLoop is the connection's only reader: frame boundaries on a TCP stream
// can only be parsed sequentially.
func (t *ClientTransport) recvLoop() {
	for {
		header, body, err := protocol.Decode(t.conn)
		if err != nil {
			t.shutdown(err)
			return
		}
		if header.MsgType != protocol.MsgTypeResponse {
			continue
		}

		responseRPC := &message.RPCMessage{}
		cdc, err := codec.GetCodec(codec.CodecType(header.CodecType))
		if err == nil {
			err = cdc.Decode(body, responseRPC)
		}
		if err != nil {
			responseRPC = &message.RPCMessage{Error: errors.Annotate(err, "decoding response").Error()}
		}

		if channel, ok := t.pending.LoadAndDelete(header.Seq); ok {
			channel.(chan *message.RPCMessage) <- responseRPC
		}
	}
}

// shutdown marks the transport closed and fails every pending caller with err.
func (t *ClientTransport) shutdown(err error) {
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		close(t.done)
		t.conn.Close()
	})
	t.pending.Range(func(key, value any) bool {
		if _, ok := t.pending.LoadAndDelete(key); ok {
			value.(chan *message.RPCMessage) <- &message.RPCMessage{Error: err.Error()}
		}
		return true
	})
}

// Close closes the connection. Pending calls fail with ErrClosed.
func (t *ClientTransport) Close() error {
	t.shutdown(ErrClosed)
	return nil
}

// Closed reports whether the transport can no longer send.
func (t *ClientTransport) Closed() bool {
	return t.closed.Load()
}

// Conn returns the underlying TCP connection.
func (t *ClientTransport) Conn() net.Conn {
	return t.conn
}

// heartbeatLoop sends periodic heartbeat frames to keep the connection alive.
// Heartbeat frames have MsgType=Heartbeat and no body.
func (t *ClientTransport) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
		}
		header := &protocol.Header{
			CodecType: byte(t.codec.Type()),
			MsgType:   protocol.MsgTypeHeartbeat,
		}
		t.sending.Lock()
		err := protocol.Encode(t.conn, header, nil)
		t.sending.Unlock()
		if err != nil {
			t.shutdown(err)
			return
		}
	}
}
