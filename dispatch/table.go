// Package dispatch implements the local dispatch table: the mapping from a
// method id (or, for generic calls, a method name) to the code that decodes
// the arguments and invokes the corresponding local method.
//
// A Table is built once by reflection over a receiver struct and then
// consumed by the connection engine as an opaque capability: given the
// transport, the parsed header and the payload positioned after the header,
// it services one inbound call and writes the reply frame itself when the
// method is not fire-and-forget.
//
// Supported method shapes on the receiver:
//
//	M(args *A, reply *R) error  — request/response
//	M(args *A)                  — fire-and-forget, no reply frame
//
// Method ids are assigned deterministically: exported matching methods are
// sorted by name and numbered from 1. Both peers derive the same ids from
// the shared receiver type, which is the remote-descriptor half of the
// contract; protocol.GenericCallID is reserved for the name-addressed path.
package dispatch

import (
	"context"
	"reflect"
	"sort"

	"github.com/pkg/errors"

	"github.com/alarouche/czrpc/codec"
	"github.com/alarouche/czrpc/logger"
	"github.com/alarouche/czrpc/message"
	"github.com/alarouche/czrpc/middleware"
	"github.com/alarouche/czrpc/protocol"
	"github.com/alarouche/czrpc/transport"
)

type methodType struct {
	id        uint32
	method    reflect.Method
	argType   reflect.Type // element type behind *A
	replyType reflect.Type // element type behind *R; nil for fire-and-forget
}

// Table maps method ids and names to local handlers.
type Table struct {
	name    string
	rcvr    reflect.Value
	codec   codec.Codec
	byID    map[uint32]*methodType
	byName  map[string]*methodType
	mws     []middleware.Middleware
	handler middleware.HandlerFunc
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// NewTable scans the receiver's exported methods and builds the dispatch
// table. The codec must match the one configured on the connection.
func NewTable(rcvr any, cdc codec.Codec) (*Table, error) {
	typ := reflect.TypeOf(rcvr)
	if typ == nil || typ.Kind() != reflect.Ptr {
		return nil, errors.Errorf("dispatch: receiver must be a pointer, got %v", typ)
	}
	if typ.Elem().Kind() != reflect.Struct {
		return nil, errors.Errorf("dispatch: receiver must point to a struct, got %s", typ.Elem().Kind())
	}
	tb := &Table{
		name:   typ.Elem().Name(),
		rcvr:   reflect.ValueOf(rcvr),
		codec:  cdc,
		byID:   make(map[uint32]*methodType),
		byName: make(map[string]*methodType),
	}
	tb.registerMethods(typ)
	if len(tb.byName) == 0 {
		return nil, errors.Errorf("dispatch: %s has no methods usable for rpc", tb.name)
	}
	tb.handler = tb.businessHandler
	return tb, nil
}

func (tb *Table) registerMethods(typ reflect.Type) {
	var names []string
	for i := 0; i < typ.NumMethod(); i++ {
		method := typ.Method(i)
		mt := method.Type
		var m *methodType
		switch {
		// M(args *A, reply *R) error
		case mt.NumIn() == 3 && mt.NumOut() == 1 && mt.Out(0) == errorType &&
			mt.In(1).Kind() == reflect.Ptr && mt.In(2).Kind() == reflect.Ptr:
			m = &methodType{
				method:    method,
				argType:   mt.In(1).Elem(),
				replyType: mt.In(2).Elem(),
			}
		// M(args *A) — fire-and-forget
		case mt.NumIn() == 2 && mt.NumOut() == 0 && mt.In(1).Kind() == reflect.Ptr:
			m = &methodType{
				method:  method,
				argType: mt.In(1).Elem(),
			}
		default:
			continue
		}
		tb.byName[method.Name] = m
		names = append(names, method.Name)
	}
	// Deterministic id assignment so both peers agree without codegen.
	sort.Strings(names)
	for i, name := range names {
		m := tb.byName[name]
		m.id = uint32(i + 1)
		tb.byID[m.id] = m
	}
}

// Use appends a middleware and rebuilds the handler chain. Must be called
// before the table is shared with connections; Dispatch reads the chain
// without locking.
func (tb *Table) Use(mw middleware.Middleware) {
	tb.mws = append(tb.mws, mw)
	tb.handler = middleware.Chain(tb.mws...)(tb.businessHandler)
}

// Name returns the receiver's type name.
func (tb *Table) Name() string {
	return tb.name
}

// MethodID resolves a method name to its reserved numeric id. This is the
// caller-side half of the descriptor contract: the remote peer built the
// same table from the same type, so the ids agree.
func (tb *Table) MethodID(name string) (uint32, bool) {
	m, ok := tb.byName[name]
	if !ok {
		return 0, false
	}
	return m.id, true
}

// Oneway reports whether the named method is fire-and-forget.
func (tb *Table) Oneway(name string) bool {
	m, ok := tb.byName[name]
	return ok && m.replyType == nil
}

// Dispatch services one inbound call frame: decode the request envelope, run
// the middleware chain into the business handler, and write a reply frame
// through t unless the method is fire-and-forget and was addressed by id.
// Only envelope decode failures are returned; per-call failures travel back
// inside the reply.
func (tb *Table) Dispatch(t transport.Transport, hdr protocol.Header, payload []byte) error {
	var req message.Request
	if err := tb.codec.Decode(payload, &req); err != nil {
		return errors.Wrap(err, "dispatch: decode request envelope")
	}

	rep := tb.handler(context.Background(), hdr, &req)
	if rep == nil {
		return nil
	}

	body, err := tb.codec.Encode(rep)
	if err != nil {
		return errors.Wrap(err, "dispatch: encode reply envelope")
	}
	frame := make([]byte, protocol.HeaderSize+len(body))
	replyHdr := protocol.Header{
		RPCID:     hdr.RPCID,
		Counter:   hdr.Counter, // same id+counter, so the caller's correlation key matches
		FrameSize: uint32(len(frame)),
		IsReply:   true,
	}
	replyHdr.Put(frame)
	copy(frame[protocol.HeaderSize:], body)
	return t.Send(frame)
}

// businessHandler resolves the target method, decodes the argument, invokes
// the method and builds the reply envelope. A nil return means no reply
// frame is owed (fire-and-forget).
func (tb *Table) businessHandler(_ context.Context, hdr protocol.Header, req *message.Request) *message.Reply {
	var m *methodType
	var ok bool
	generic := hdr.RPCID == protocol.GenericCallID
	if generic {
		m, ok = tb.byName[req.Name]
		if !ok {
			return &message.Reply{Error: "unknown method name: " + req.Name}
		}
	} else {
		m, ok = tb.byID[hdr.RPCID]
		if !ok {
			return &message.Reply{Error: errors.Errorf("unknown rpc id: %d", hdr.RPCID).Error()}
		}
	}

	if len(req.Args) > 1 {
		return &message.Reply{Error: errors.Errorf("%s.%s takes one argument, got %d", tb.name, m.method.Name, len(req.Args)).Error()}
	}
	argv := reflect.New(m.argType)
	if len(req.Args) > 0 && len(req.Args[0]) > 0 {
		if err := tb.codec.Decode(req.Args[0], argv.Interface()); err != nil {
			return &message.Reply{Error: "bad argument: " + err.Error()}
		}
	}

	if m.replyType == nil {
		m.method.Func.Call([]reflect.Value{tb.rcvr, argv})
		if generic {
			// Name-addressed callers always registered a reply handler, so
			// acknowledge with an empty success even for one-way methods.
			return &message.Reply{}
		}
		return nil
	}

	replyv := reflect.New(m.replyType)
	results := m.method.Func.Call([]reflect.Value{tb.rcvr, argv, replyv})
	if !results[0].IsNil() {
		return &message.Reply{Error: results[0].Interface().(error).Error()}
	}
	value, err := tb.codec.Encode(replyv.Interface())
	if err != nil {
		logger.Errorf("dispatch: failed to encode %s.%s result: %v", tb.name, m.method.Name, err)
		return &message.Reply{Error: "failed to encode method result"}
	}
	return &message.Reply{Value: value}
}
