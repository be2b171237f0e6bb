package rpc

// Error is a failure delivered through a call's completion handler, either
// raised by the remote method or generated locally (disconnect, decode
// failure).
type Error struct {
	Msg string
}

func (e Error) Error() string {
	return e.Msg
}

// ErrDisconnected resolves every call still awaiting a reply when the
// transport reports the connection closed.
var ErrDisconnected = Error{Msg: "aborted due to disconnect"}
