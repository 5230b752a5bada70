// Package rpcmux implements the long-lived, full-duplex JSON-RPC session
// that sits between the wire socket and the OVSDB client façade: it
// correlates outbound requests with inbound responses by id, dispatches
// server-initiated notifications to a registered Sink, and exposes a
// futures-style API for every RPC method (spec §4.3).
//
// It is built the way the teacher (ebay/libovsdb, client.go) wires
// github.com/cenkalti/rpc2: rpc2 already performs id correlation and
// full-duplex dispatch over a jsonrpc.Codec, so the Multiplexer wraps it
// rather than re-implementing wire framing, adding the future/promise layer
// and the explicit pendingById bookkeeping (timeouts, cancellation,
// connection-closed broadcast) the spec calls for on top.
package rpcmux

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/rpc2"
	"github.com/cenkalti/rpc2/jsonrpc"
	"github.com/sirupsen/logrus"
)

// NoTimeout disables an RPC deadline.
const NoTimeout time.Duration = 0

// Kind mirrors the subset of the package-level ovsdb.ErrorKind values the
// multiplexer itself can produce, kept string-typed here to avoid an import
// cycle with the root package.
type Kind string

const (
	KindTimeout          Kind = "timeout"
	KindConnectionClosed Kind = "connection_closed"
	KindParsing          Kind = "parsing"
)

// Error is the error type Multiplexer methods return.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Sink receives server-initiated notifications: RFC 7047 update, locked,
// and stolen. Deliveries for a single session are serialized (one
// outstanding delivery at a time) so update events preserve causal order
// per monitor.
type Sink interface {
	Update(context interface{}, params []interface{})
	Locked(params []interface{})
	Stolen(params []interface{})
}

// pending is a single outstanding RPC call: an in-flight promise keyed by a
// locally assigned id.
type pending struct {
	done   chan struct{}
	once   sync.Once
	result interface{}
	err    error
}

func (p *pending) complete(result interface{}, err error) {
	p.once.Do(func() {
		p.result = result
		p.err = err
		close(p.done)
	})
}

// Future is the caller-facing handle for an in-flight RPC call.
type Future struct {
	p *pending
}

// Wait blocks until the call completes, ctx is done, or timeout (if
// non-zero) elapses, whichever comes first.
func (f *Future) Wait(ctx context.Context, timeout time.Duration) (interface{}, error) {
	if timeout == NoTimeout {
		select {
		case <-f.p.done:
			return f.p.result, f.p.err
		case <-ctx.Done():
			return nil, &Error{Kind: KindConnectionClosed, Err: ctx.Err()}
		}
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-f.p.done:
		return f.p.result, f.p.err
	case <-timer.C:
		f.p.complete(nil, &Error{Kind: KindTimeout})
		return nil, &Error{Kind: KindTimeout}
	case <-ctx.Done():
		return nil, &Error{Kind: KindConnectionClosed, Err: ctx.Err()}
	}
}

// Multiplexer is a single OVSDB JSON-RPC session: one rpc2 client, one
// notification sink, and the bookkeeping needed to expose RPC calls as
// futures with explicit timeout/cancel/disconnect semantics.
type Multiplexer struct {
	rpc *rpc2.Client

	mu        sync.Mutex
	pending   map[uint64]*pending
	nextID    uint64
	sink      Sink
	closed    bool
	closeOnce sync.Once
}

// New wraps conn in a jsonrpc codec and starts the rpc2 client loop. The
// returned Multiplexer has no Sink registered; call RegisterSink before
// traffic that triggers notifications is expected.
func New(codecConn io.ReadWriteCloser) *Multiplexer {
	m := &Multiplexer{
		rpc:     rpc2.NewClientWithCodec(jsonrpc.NewJSONCodec(codecConn)),
		pending: make(map[uint64]*pending),
	}
	m.rpc.SetBlocking(true)
	m.rpc.Handle("echo", func(_ *rpc2.Client, args []interface{}, reply *[]interface{}) error {
		*reply = args
		m.dispatch(func(s Sink) {})
		return nil
	})
	m.rpc.Handle("update", func(_ *rpc2.Client, args []interface{}, _ *[]interface{}) error {
		if len(args) < 2 {
			return &Error{Kind: KindParsing, Err: fmt.Errorf("update: expected 2 params, got %d", len(args))}
		}
		jsonCtx := args[0]
		m.dispatch(func(s Sink) { s.Update(jsonCtx, args) })
		return nil
	})
	m.rpc.Handle("locked", func(_ *rpc2.Client, args []interface{}, _ *[]interface{}) error {
		m.dispatch(func(s Sink) { s.Locked(args) })
		return nil
	})
	m.rpc.Handle("stolen", func(_ *rpc2.Client, args []interface{}, _ *[]interface{}) error {
		m.dispatch(func(s Sink) { s.Stolen(args) })
		return nil
	})
	go m.rpc.Run()
	return m
}

// RegisterSink installs (or replaces) the notification sink. Notifications
// are serialized per session, one outstanding delivery at a time: the rpc2
// client runs in blocking mode, so each handler calls the sink directly on
// the session's read loop before the next message is read.
func (m *Multiplexer) RegisterSink(sink Sink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sink = sink
}

func (m *Multiplexer) dispatch(fn func(Sink)) {
	m.mu.Lock()
	sink := m.sink
	m.mu.Unlock()
	if sink == nil {
		logrus.Debug("rpcmux: dropping notification, no sink registered")
		return
	}
	fn(sink)
}

// Call issues method(args) and returns a Future resolved when the matching
// response arrives, the deadline elapses, or the connection closes.
func (m *Multiplexer) Call(method string, args interface{}, reply interface{}) *Future {
	id := atomic.AddUint64(&m.nextID, 1)
	p := &pending{done: make(chan struct{})}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		p.complete(nil, &Error{Kind: KindConnectionClosed})
		return &Future{p: p}
	}
	m.pending[id] = p
	m.mu.Unlock()

	go func() {
		err := m.rpc.Call(method, args, reply)
		m.mu.Lock()
		delete(m.pending, id)
		m.mu.Unlock()
		if err != nil {
			p.complete(nil, err)
			return
		}
		p.complete(reply, nil)
	}()

	return &Future{p: p}
}

// Close marks the session closed, completing every still-pending call with
// ConnectionClosed, and tears down the underlying rpc2 client. Idempotent.
func (m *Multiplexer) Close() {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		pending := m.pending
		m.pending = make(map[uint64]*pending)
		m.sink = nil
		m.mu.Unlock()

		for _, p := range pending {
			p.complete(nil, &Error{Kind: KindConnectionClosed})
		}
		m.rpc.Close()
	})
}

// DisconnectNotify returns a channel that is closed when the peer
// disconnects, mirroring rpc2.Client.DisconnectNotify.
func (m *Multiplexer) DisconnectNotify() chan bool {
	return m.rpc.DisconnectNotify()
}
