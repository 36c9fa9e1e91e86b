package blocking_test

import (
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/brickingsoft/conduit/transport"
	"github.com/brickingsoft/conduit/transport/blocking"
	"github.com/brickingsoft/rxp/async"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnTransport_Echo(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	wg := new(sync.WaitGroup)
	wg.Add(1)
	go func() {
		defer wg.Done()
		conn, acceptErr := ln.Accept()
		if acceptErr != nil {
			return
		}
		defer conn.Close()
		_, _ = io.Copy(conn, conn)
	}()

	config := transport.NewConfig()
	require.NoError(t, transport.Set(config, transport.SoTimeout, 50*time.Millisecond))
	bt := blocking.NewConnTransport("tcp", config)
	ch := blocking.NewByteChannel(testContext(t), bt, config, nil)
	r := &recorder{drain: true}
	require.NoError(t, ch.Pipeline().AddLast("recorder", r))

	_, err = async.AwaitableFuture(ch.Register()).Await()
	require.NoError(t, err)
	_, err = async.AwaitableFuture(ch.Connect(ln.Addr(), nil)).Await()
	require.NoError(t, err)
	assert.Equal(t, ln.Addr().String(), ch.RemoteAddr().String())

	n, err := async.AwaitableFuture(ch.Write(transport.NewMessage([]byte("hello world")))).Await()
	require.NoError(t, err)
	assert.Equal(t, 11, n)

	require.Eventually(t, func() bool {
		_, data, _, _ := r.snapshot()
		return data == "hello world"
	}, 3*time.Second, 10*time.Millisecond)

	_, err = async.AwaitableFuture(ch.Close()).Await()
	require.NoError(t, err)
	waitClosed(t, ch)
	_ = ln.Close()
	wg.Wait()
}

func TestConnTransport_ConnectRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr()
	require.NoError(t, ln.Close())

	bt := blocking.NewConnTransport("tcp", nil)
	ch := blocking.NewByteChannel(testContext(t), bt, nil, nil)
	_, err = async.AwaitableFuture(ch.Register()).Await()
	require.NoError(t, err)
	_, err = async.AwaitableFuture(ch.Connect(addr, nil)).Await()
	assert.True(t, transport.IsTransportFailure(err))
	assert.Equal(t, transport.StateRegistered, ch.State())

	_, err = async.AwaitableFuture(ch.Close()).Await()
	require.NoError(t, err)
}
