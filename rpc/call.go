package rpc

import (
	"sync"

	"github.com/alarouche/czrpc/protocol"
)

// Call is one in-flight outgoing call: it owns the frame buffer with the
// header placeholder already written and the arguments serialized after it.
// Exactly one of Async, Future or Flush finalizes a Call; finalizing hands
// the buffer to the connection's commit path, after which the Call is spent.
//
// A Call that was never finalized still holds argument data, so callers are
// expected to `defer call.Flush()`: Flush commits with a no-op handler when
// nothing else did, guaranteeing construct-implies-eventually-sent and never
// a silently dropped call.
type Call[R any] struct {
	conn      *Conn
	frame     []byte
	err       error // argument serialization failure, delivered at commit
	committed bool
}

// NewCall builds an outgoing call to the method with the given rpc id. The
// arguments are serialized immediately; the frame size and sequence counter
// are assigned later, at send time. Encoding failures are not returned here:
// they surface through the completion handler so no error path is skipped.
func NewCall[R any](c *Conn, rpcID uint32, args ...any) *Call[R] {
	frame, err := c.buildFrame(rpcID, "", args)
	return &Call[R]{conn: c, frame: frame, err: err}
}

// NewGenericCall builds a name-addressed call with loosely-typed arguments,
// dispatched through the reserved generic rpc id. The decoded result is
// whatever the codec yields for an untyped value.
func NewGenericCall(c *Conn, name string, args ...any) *Call[any] {
	frame, err := c.buildFrame(protocol.GenericCallID, name, args)
	return &Call[any]{conn: c, frame: frame, err: err}
}

// Async finalizes the call and registers handler to be invoked exactly once
// with the decoded result: when the matching reply arrives, or with a
// failure if the connection drops first. The handler runs on the goroutine
// driving Process.
//
// A Call may be finalized once; a second finalization panics.
func (call *Call[R]) Async(handler func(R, error)) {
	if call.committed {
		panic("rpc: call already committed")
	}
	call.committed = true
	if call.err != nil {
		var zero R
		handler(zero, call.err)
		return
	}
	cdc := call.conn.codec
	call.conn.commit(call.frame, func(value []byte, err error) {
		var r R
		if err != nil {
			handler(r, err)
			return
		}
		if len(value) > 0 {
			if err := cdc.Decode(value, &r); err != nil {
				var zero R
				handler(zero, err)
				return
			}
		}
		handler(r, nil)
	})
	call.frame = nil
}

// Future finalizes the call and returns a future that becomes ready exactly
// when the Async handler would have fired, carrying the same result.
//
// Get blocks until some goroutine drives Process far enough to resolve the
// call. Calling Get from the goroutine responsible for driving Process
// deadlocks; that is a caller obligation, not something the engine detects.
func (call *Call[R]) Future() *Future[R] {
	f := &Future[R]{ch: make(chan futureResult[R], 1)}
	call.Async(func(r R, err error) {
		f.ch <- futureResult[R]{val: r, err: err}
	})
	return f
}

// Flush finalizes the call with a no-op handler unless it was already
// finalized. The message is still sent; its reply, if any, is discarded.
// Safe to defer unconditionally.
func (call *Call[R]) Flush() {
	if call.committed {
		return
	}
	call.Async(func(R, error) {})
}

type futureResult[R any] struct {
	val R
	err error
}

// Future is the blocking-wait bridge over the callback API.
type Future[R any] struct {
	ch   chan futureResult[R]
	once sync.Once
	res  futureResult[R]
}

// Get waits for the result. Subsequent calls return the same result without
// blocking.
func (f *Future[R]) Get() (R, error) {
	f.once.Do(func() {
		f.res = <-f.ch
	})
	return f.res.val, f.res.err
}
