package rpc_test

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alarouche/czrpc/codec"
	"github.com/alarouche/czrpc/dispatch"
	"github.com/alarouche/czrpc/rpc"
	"github.com/alarouche/czrpc/transport"
)

// TestEndToEndOverSocketTransport runs the whole stack: binary codec, socket
// transports over an in-memory net.Pipe, and a dedicated pump goroutine per
// connection so the test goroutine is free to block on futures.
func TestEndToEndOverSocketTransport(t *testing.T) {
	cdc := codec.GetCodec(codec.CodecTypeBinary)
	clientConn, serverConn := net.Pipe()
	clientTr := transport.NewSocketTransport(clientConn)
	serverTr := transport.NewSocketTransport(serverConn)

	serverTable, err := dispatch.NewTable(&ServerAPI{}, cdc)
	require.NoError(t, err)

	client := rpc.NewConn(nil, clientTr, cdc)
	server := rpc.NewConn(serverTable, serverTr, cdc)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for _, c := range []*rpc.Conn{client, server} {
		wg.Add(1)
		go func(c *rpc.Conn) {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				if err := c.Process(rpc.Both); err != nil {
					return
				}
				time.Sleep(time.Millisecond)
			}
		}(c)
	}

	sumID, ok := serverTable.MethodID("Sum")
	require.True(t, ok)

	f := rpc.NewCall[SumReply](client, sumID, &SumArgs{A: 19, B: 23}).Future()
	reply, err := f.Get()
	require.NoError(t, err)
	require.Equal(t, 42, reply.Sum)

	// Several calls in flight at once, resolved in whatever order.
	futures := make([]*rpc.Future[SumReply], 0, 10)
	for i := 0; i < 10; i++ {
		futures = append(futures, rpc.NewCall[SumReply](client, sumID, &SumArgs{A: i, B: 1}).Future())
	}
	for i, f := range futures {
		reply, err := f.Get()
		require.NoError(t, err)
		require.Equal(t, i+1, reply.Sum)
	}

	close(stop)
	wg.Wait()
	require.NoError(t, client.Close())
	require.NoError(t, server.Close())
}
