// Package rpc implements the connection engine: it turns typed method calls
// into framed binary messages, ships them over an abstract byte-stream
// transport, correlates asynchronous replies back to their originating call,
// and routes inbound calls to a local dispatch table.
//
// The engine creates no goroutines of its own. Progress happens only when
// some goroutine calls Process; call origination is safe from any goroutine,
// including reentrantly from inside a handler dispatched by Process itself.
package rpc

import (
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/alarouche/czrpc/codec"
	"github.com/alarouche/czrpc/logger"
	"github.com/alarouche/czrpc/message"
	"github.com/alarouche/czrpc/protocol"
	"github.com/alarouche/czrpc/transport"
)

// Direction selects what a Process pass drives.
type Direction int

const (
	In Direction = 1 << iota
	Out
	Both Direction = In | Out
)

// Dispatcher services one inbound call frame, writing a reply frame through
// the transport when the method is not fire-and-forget. dispatch.Table is
// the stock implementation.
type Dispatcher interface {
	Dispatch(t transport.Transport, hdr protocol.Header, payload []byte) error
}

type replyHandler func(value []byte, err error)

// Conn is a bidirectional RPC connection over one transport.
//
// A single goroutine must drive Process for a given Conn at any one time;
// concurrent Process calls on the same Conn are a caller error. Independent
// Conns share nothing and may be driven concurrently.
type Conn struct {
	id        string
	transport transport.Transport
	codec     codec.Codec
	local     Dispatcher // nil on pure-caller connections

	// Touched only by the goroutine executing Process.
	pending      map[uint64]replyHandler
	counter      uint32 // assigned during send finalization, never at Call construction
	disconnected bool

	// The work queue is the one structure shared with arbitrary producer
	// goroutines. The lock is held only to enqueue or swap, never while a
	// closure runs, so a handler enqueueing more work mid-drain cannot
	// deadlock.
	outMu      sync.Mutex
	outWork    []func()
	outSignal  func()
	discSignal func()
}

// NewConn creates a connection over t. local may be nil when this side never
// receives calls. The codec must match the peer's.
func NewConn(local Dispatcher, t transport.Transport, cdc codec.Codec) *Conn {
	return &Conn{
		id:        uuid.New().String(),
		transport: t,
		codec:     cdc,
		local:     local,
		pending:   make(map[uint64]replyHandler),
	}
}

// ID returns the connection's identity used in log lines.
func (c *Conn) ID() string {
	return c.id
}

// Transport exposes the underlying transport.
func (c *Conn) Transport() transport.Transport {
	return c.transport
}

// Close requests transport shutdown. Pending calls are failed by the next
// Process(In) pass, which observes the closed transport.
func (c *Conn) Close() error {
	return c.transport.Close()
}

// SetOutSignal registers a callback fired after every successful commit, so
// an externally driven event loop knows to schedule a Process(Out) pass
// without polling.
func (c *Conn) SetOutSignal(f func()) {
	c.outMu.Lock()
	c.outSignal = f
	c.outMu.Unlock()
}

// SetDisconnectSignal registers a callback fired exactly once when the
// transport is detected closed. After it fires no further inbound data will
// be delivered.
func (c *Conn) SetDisconnectSignal(f func()) {
	c.outMu.Lock()
	c.discSignal = f
	c.outMu.Unlock()
}

// Disconnected reports whether a Process(In) pass has observed the transport
// closed. Meaningful on the goroutine driving Process.
func (c *Conn) Disconnected() bool {
	return c.disconnected
}

// Notify enqueues a fire-and-forget call: the frame is sent like any other,
// but no completion handler is registered and no reply is expected.
func (c *Conn) Notify(rpcID uint32, args ...any) error {
	frame, err := c.buildFrame(rpcID, "", args)
	if err != nil {
		return err
	}
	c.commit(frame, nil)
	return nil
}

// Process drives the connection. It pushes the connection onto the
// current-connection stack for the duration, drains the outgoing work queue
// (Out), then reads inbound frames until the transport is idle or closed
// (In). Disconnects never surface as errors — they resolve pending calls and
// fire the disconnect signal instead. The only errors returned are
// protocol-fatal decode failures, after which the embedder should close and
// recreate the connection.
func (c *Conn) Process(dir Direction) error {
	current.push(c)
	defer current.pop()
	if dir&Out != 0 {
		c.processOut()
	}
	if dir&In != 0 {
		return c.processIn()
	}
	return nil
}

// buildFrame serializes one call into a frame with a placeholder header:
// the rpc id is stamped now, size and counter at send time.
func (c *Conn) buildFrame(rpcID uint32, name string, args []any) ([]byte, error) {
	encoded := make([][]byte, 0, len(args))
	for i, arg := range args {
		b, err := c.codec.Encode(arg)
		if err != nil {
			return nil, errors.Wrapf(err, "encode argument %d", i)
		}
		encoded = append(encoded, b)
	}
	payload, err := c.codec.Encode(&message.Request{Name: name, Args: encoded})
	if err != nil {
		return nil, errors.Wrap(err, "encode request envelope")
	}
	frame := make([]byte, protocol.HeaderSize+len(payload))
	hdr := protocol.Header{RPCID: rpcID}
	hdr.Put(frame)
	copy(frame[protocol.HeaderSize:], payload)
	return frame, nil
}

// commit enqueues the finalize-and-send closure for the next Process(Out)
// drain, then fires the outgoing-work signal outside the lock.
func (c *Conn) commit(frame []byte, h replyHandler) {
	c.outMu.Lock()
	c.outWork = append(c.outWork, func() {
		c.send(frame, h)
	})
	signal := c.outSignal
	c.outMu.Unlock()
	if signal != nil {
		signal()
	}
}

// processOut swaps the queue contents out under the lock and runs the
// closures in FIFO order outside it.
func (c *Conn) processOut() {
	c.outMu.Lock()
	work := c.outWork
	c.outWork = nil
	c.outMu.Unlock()
	for _, fn := range work {
		fn()
	}
}

// send performs send finalization: assign the next counter, patch it and the
// true frame size into the reserved header slot, register the completion
// handler under the resulting correlation key, and only then hand the bytes
// to the transport — so a reply arriving "instantly" still finds its entry.
func (c *Conn) send(frame []byte, h replyHandler) {
	c.counter++
	protocol.PatchSendInfo(frame, c.counter)
	hdr, err := protocol.ParseHeader(frame)
	if err != nil {
		// Cannot happen for frames we built; fail the call rather than hide it.
		if h != nil {
			h(nil, err)
		}
		return
	}
	key := hdr.Key()
	if h != nil {
		c.pending[key] = h
	}
	if err := c.transport.Send(frame); err != nil {
		if h != nil {
			delete(c.pending, key)
			h(nil, err)
		} else {
			logger.Warnf("conn %s: failed to send frame rpcID=%d: %v", c.id, hdr.RPCID, err)
		}
	}
}

// processIn receives frames until the transport reports idle or closed.
func (c *Conn) processIn() error {
	if c.disconnected {
		// Terminal; disconnect already handled, further passes are no-ops.
		return nil
	}
	for {
		frame, err := c.transport.Receive()
		if err != nil {
			if errors.Is(err, transport.ErrClosed) {
				c.handleDisconnect()
				return nil
			}
			return err
		}
		if frame == nil {
			// Open, no incoming data right now.
			return nil
		}
		hdr, err := protocol.ParseHeader(frame)
		if err != nil {
			return err
		}
		payload := frame[protocol.HeaderSize:]
		if hdr.IsReply {
			c.processReply(hdr, payload)
		} else if err := c.processCall(hdr, payload); err != nil {
			return err
		}
	}
}

// processReply resolves the correlation table entry for an inbound reply.
func (c *Conn) processReply(hdr protocol.Header, payload []byte) {
	h, ok := c.pending[hdr.Key()]
	if !ok {
		// Already resolved or never registered. Duplicate delivery is
		// ignored, not an error.
		logger.Debugf("conn %s: unmatched reply rpcID=%d counter=%d", c.id, hdr.RPCID, hdr.Counter)
		return
	}
	delete(c.pending, hdr.Key())
	var rep message.Reply
	if err := c.codec.Decode(payload, &rep); err != nil {
		h(nil, errors.Wrap(err, "decode reply envelope"))
		return
	}
	if rep.Error != "" {
		h(nil, Error{Msg: rep.Error})
		return
	}
	h(rep.Value, nil)
}

// processCall routes an inbound call to the local dispatch table.
func (c *Conn) processCall(hdr protocol.Header, payload []byte) error {
	if c.local == nil {
		logger.Warnf("conn %s: inbound call rpcID=%d with no local dispatcher", c.id, hdr.RPCID)
		return c.sendErrorReply(hdr, "no local handler registered")
	}
	return c.local.Dispatch(c.transport, hdr, payload)
}

func (c *Conn) sendErrorReply(hdr protocol.Header, msg string) error {
	body, err := c.codec.Encode(&message.Reply{Error: msg})
	if err != nil {
		return errors.Wrap(err, "encode error reply")
	}
	frame := make([]byte, protocol.HeaderSize+len(body))
	replyHdr := protocol.Header{
		RPCID:     hdr.RPCID,
		Counter:   hdr.Counter,
		FrameSize: uint32(len(frame)),
		IsReply:   true,
	}
	replyHdr.Put(frame)
	copy(frame[protocol.HeaderSize:], body)
	return c.transport.Send(frame)
}

// handleDisconnect resolves every pending entry with a failure and fires the
// disconnect signal. Clearing the signal makes this a once-only event and
// releases whatever the handler captured.
func (c *Conn) handleDisconnect() {
	c.disconnected = true
	c.abortReplies()
	c.outMu.Lock()
	sig := c.discSignal
	c.discSignal = nil
	c.outMu.Unlock()
	if sig != nil {
		sig()
	}
	logger.Debugf("conn %s: disconnected", c.id)
}

func (c *Conn) abortReplies() {
	for key, h := range c.pending {
		delete(c.pending, key)
		h(nil, ErrDisconnected)
	}
}
