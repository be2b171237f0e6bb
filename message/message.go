// Package message defines the payload envelopes carried inside czrpc frames.
//
// The frame header identifies the target method and correlates replies; the
// envelope carries everything else. Both envelopes are serialized with the
// connection's configured codec, and every individual argument or return
// value is itself codec-encoded, so the engine never needs to understand the
// caller's types.
package message

// Request is the payload of an outbound call frame.
//
//   - Typed calls: Name is empty (the header's rpc id selects the method)
//     and Args holds the codec-encoded positional arguments.
//   - Generic calls: Name addresses the method and the header carries the
//     reserved generic rpc id.
type Request struct {
	Name string   `json:",omitempty"` // method name, generic calls only
	Args [][]byte // one codec-encoded value per positional argument
}

// Reply is the payload of a reply frame. Error is the failure variant: when
// it is non-empty Value is meaningless, and the caller's handler receives an
// error instead of a decoded result.
type Reply struct {
	Error string `json:",omitempty"`
	Value []byte `json:",omitempty"` // codec-encoded return value
}
