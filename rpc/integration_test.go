package rpc_test

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/alarouche/czrpc/codec"
	"github.com/alarouche/czrpc/dispatch"
	"github.com/alarouche/czrpc/rpc"
	"github.com/alarouche/czrpc/transport"
)

type SumArgs struct {
	A, B int
}

type SumReply struct {
	Sum int
}

type NoteArgs struct {
	Text string
}

// ServerAPI is the interface the "server" peer exposes. When callbackID is
// set, Sum pushes a notification back to its caller through the connection
// currently being serviced — the reentrant path.
type ServerAPI struct {
	callbackID uint32
}

func (s *ServerAPI) Sum(args *SumArgs, reply *SumReply) error {
	if s.callbackID != 0 {
		conn := rpc.Current()
		if conn == nil {
			return errors.New("no current connection")
		}
		if err := conn.Notify(s.callbackID, &NoteArgs{Text: "sum computed"}); err != nil {
			return err
		}
	}
	reply.Sum = args.A + args.B
	return nil
}

func (s *ServerAPI) Fail(args *SumArgs, reply *SumReply) error {
	return errors.New("deliberate failure")
}

// ClientAPI is what the "client" peer exposes back to the server.
type ClientAPI struct {
	notes []string
}

func (c *ClientAPI) Note(args *NoteArgs) {
	c.notes = append(c.notes, args.Text)
}

type testPeers struct {
	client, server *rpc.Conn
	clientAPI      *ClientAPI
	serverAPI      *ServerAPI
	serverTable    *dispatch.Table
	clientTable    *dispatch.Table
}

func newPeers(t *testing.T) *testPeers {
	t.Helper()
	cdc := codec.GetCodec(codec.CodecTypeJSON)
	clientEnd, serverEnd := transport.Pipe()

	serverAPI := &ServerAPI{}
	serverTable, err := dispatch.NewTable(serverAPI, cdc)
	require.NoError(t, err)

	clientAPI := &ClientAPI{}
	clientTable, err := dispatch.NewTable(clientAPI, cdc)
	require.NoError(t, err)

	noteID, ok := clientTable.MethodID("Note")
	require.True(t, ok)
	serverAPI.callbackID = noteID

	return &testPeers{
		client:      rpc.NewConn(clientTable, clientEnd, cdc),
		server:      rpc.NewConn(serverTable, serverEnd, cdc),
		clientAPI:   clientAPI,
		serverAPI:   serverAPI,
		serverTable: serverTable,
		clientTable: clientTable,
	}
}

// pump drives both connections until the wires go quiet. Everything is
// cooperative, so a handful of passes settles any exchange.
func (p *testPeers) pump(t *testing.T) {
	t.Helper()
	for i := 0; i < 8; i++ {
		require.NoError(t, p.client.Process(rpc.Both))
		require.NoError(t, p.server.Process(rpc.Both))
	}
}

func TestEndToEndTypedCall(t *testing.T) {
	p := newPeers(t)
	p.serverAPI.callbackID = 0

	sumID, ok := p.serverTable.MethodID("Sum")
	require.True(t, ok)

	f := rpc.NewCall[SumReply](p.client, sumID, &SumArgs{A: 40, B: 2}).Future()
	p.pump(t)

	reply, err := f.Get()
	require.NoError(t, err)
	require.Equal(t, 42, reply.Sum)
}

func TestEndToEndRemoteFailure(t *testing.T) {
	p := newPeers(t)

	failID, ok := p.serverTable.MethodID("Fail")
	require.True(t, ok)

	f := rpc.NewCall[SumReply](p.client, failID, &SumArgs{}).Future()
	p.pump(t)

	_, err := f.Get()
	require.EqualError(t, err, "deliberate failure")
}

func TestEndToEndGenericCall(t *testing.T) {
	p := newPeers(t)
	p.serverAPI.callbackID = 0

	f := rpc.NewGenericCall(p.client, "Sum", &SumArgs{A: 20, B: 3}).Future()
	p.pump(t)

	v, err := f.Get()
	require.NoError(t, err)
	m, ok := v.(map[string]any)
	require.True(t, ok)
	require.EqualValues(t, 23, m["Sum"])
}

func TestEndToEndGenericUnknownName(t *testing.T) {
	p := newPeers(t)

	f := rpc.NewGenericCall(p.client, "NoSuchMethod").Future()
	p.pump(t)

	_, err := f.Get()
	require.ErrorContains(t, err, "unknown method name")

	// The connection survives: a normal call still works afterwards.
	sumID, _ := p.serverTable.MethodID("Sum")
	p.serverAPI.callbackID = 0
	f2 := rpc.NewCall[SumReply](p.client, sumID, &SumArgs{A: 1, B: 1}).Future()
	p.pump(t)
	reply, err := f2.Get()
	require.NoError(t, err)
	require.Equal(t, 2, reply.Sum)
}

func TestReentrantCallDuringDispatch(t *testing.T) {
	p := newPeers(t)

	// Sum notifies the caller back through rpc.Current() while its own
	// dispatch is still on the stack.
	sumID, _ := p.serverTable.MethodID("Sum")
	f := rpc.NewCall[SumReply](p.client, sumID, &SumArgs{A: 2, B: 3}).Future()
	p.pump(t)

	reply, err := f.Get()
	require.NoError(t, err)
	require.Equal(t, 5, reply.Sum)
	require.Equal(t, []string{"sum computed"}, p.clientAPI.notes)
}

func TestFireAndForgetAcrossConnections(t *testing.T) {
	p := newPeers(t)

	noteID, _ := p.clientTable.MethodID("Note")
	require.NoError(t, p.server.Notify(noteID, &NoteArgs{Text: "direct"}))
	p.pump(t)

	require.Equal(t, []string{"direct"}, p.clientAPI.notes)
}

func TestBidirectionalCallsInterleave(t *testing.T) {
	p := newPeers(t)
	p.serverAPI.callbackID = 0

	sumID, _ := p.serverTable.MethodID("Sum")

	futures := make([]*rpc.Future[SumReply], 0, 5)
	for i := 0; i < 5; i++ {
		futures = append(futures, rpc.NewCall[SumReply](p.client, sumID, &SumArgs{A: i, B: i}).Future())
	}
	noteID, _ := p.clientTable.MethodID("Note")
	require.NoError(t, p.server.Notify(noteID, &NoteArgs{Text: "meanwhile"}))

	p.pump(t)

	for i, f := range futures {
		reply, err := f.Get()
		require.NoError(t, err)
		require.Equal(t, i*2, reply.Sum)
	}
	require.Equal(t, []string{"meanwhile"}, p.clientAPI.notes)
}

func TestDisconnectPropagatesToFutures(t *testing.T) {
	p := newPeers(t)

	sumID, _ := p.serverTable.MethodID("Sum")
	f := rpc.NewCall[SumReply](p.client, sumID, &SumArgs{A: 1, B: 2}).Future()

	// Commit but close before the server ever sees it.
	require.NoError(t, p.client.Process(rpc.Out))
	require.NoError(t, p.client.Close())
	require.NoError(t, p.client.Process(rpc.In))

	_, err := f.Get()
	require.ErrorIs(t, err, rpc.ErrDisconnected)
}

func TestOutSignalDrivesEventLoop(t *testing.T) {
	p := newPeers(t)
	p.serverAPI.callbackID = 0

	// A minimal event loop: the signal records that a send pass is due.
	sendDue := false
	p.client.SetOutSignal(func() {
		sendDue = true
	})

	sumID, _ := p.serverTable.MethodID("Sum")
	f := rpc.NewCall[SumReply](p.client, sumID, &SumArgs{A: 3, B: 4}).Future()
	require.True(t, sendDue)

	p.pump(t)
	reply, err := f.Get()
	require.NoError(t, err)
	require.Equal(t, 7, reply.Sum)
}
