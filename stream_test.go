package conduit_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/brickingsoft/conduit"
	"github.com/brickingsoft/conduit/codec"
	"github.com/brickingsoft/conduit/codec/socks"
	"github.com/brickingsoft/conduit/transport"
	"github.com/brickingsoft/errors"
	"github.com/brickingsoft/rxp/async"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echo() transport.Handler {
	return transport.HandlerFunc(func(ctx *transport.HandlerContext, event transport.Event) error {
		if _, ok := event.(transport.InboundBufferUpdated); ok {
			in := ctx.Inbound()
			p, err := in.Next(in.Len())
			if err != nil {
				return err
			}
			ctx.Write(transport.NewMessage(p))
			return nil
		}
		return ctx.Fire(event)
	})
}

func collect[T any](out chan<- T) transport.Handler {
	return transport.HandlerFunc(func(ctx *transport.HandlerContext, event transport.Event) error {
		if e, ok := event.(transport.MessageReceived); ok {
			if msg, ok := e.Message.(T); ok {
				out <- msg
				return nil
			}
		}
		return ctx.Fire(event)
	})
}

func closeChannel(t *testing.T, ch transport.Channel) {
	t.Helper()
	_, err := async.AwaitableFuture(ch.Close()).Await()
	assert.NoError(t, err)
}

func TestDial_LengthFieldEcho(t *testing.T) {
	ctx := context.Background()
	ln, err := conduit.Listen(ctx, "tcp", "127.0.0.1:0", conduit.WithHandlerFactory("echo", echo))
	require.NoError(t, err)
	defer ln.Close()

	accepted := ln.Accept()
	frames := make(chan codec.LengthFieldMessage, 1)
	client, err := conduit.DialContext(ctx, "tcp", ln.Addr().String(),
		conduit.WithConnectTimeout(3*time.Second),
		conduit.WithSoTimeout(50*time.Millisecond),
		conduit.WithHandler("frame", codec.NewLengthFieldDecoder(1024)),
		conduit.WithHandler("collect", collect[codec.LengthFieldMessage](frames)),
	)
	require.NoError(t, err)
	defer closeChannel(t, client)
	assert.True(t, client.IsActive())

	server, err := async.AwaitableFuture(accepted).Await()
	require.NoError(t, err)
	defer closeChannel(t, server)
	assert.True(t, server.IsActive())
	assert.Equal(t, client.LocalAddr().String(), server.RemoteAddr().String())

	_, err = async.AwaitableFuture(codec.LengthFieldEncode(client.Context(), client, []byte("hello conduit"))).Await()
	require.NoError(t, err)

	select {
	case msg := <-frames:
		assert.Equal(t, "hello conduit", string(msg.Bytes))
	case <-time.After(3 * time.Second):
		t.Fatal("no echo")
	}
}

func TestListen_SocksRequest(t *testing.T) {
	ctx := context.Background()
	requests := make(chan socks.Request, 1)
	ln, err := conduit.Listen(ctx, "tcp", "127.0.0.1:0",
		conduit.WithSoTimeout(50*time.Millisecond),
		conduit.WithHandlerFactory(socks.DecoderName, func() transport.Handler {
			return socks.NewCmdRequestDecoder()
		}),
		conduit.WithHandler("collect", collect[socks.Request](requests)),
	)
	require.NoError(t, err)
	defer ln.Close()

	accepted := ln.Accept()
	client, err := conduit.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer closeChannel(t, client)
	server, err := async.AwaitableFuture(accepted).Await()
	require.NoError(t, err)
	defer closeChannel(t, server)

	req, err := socks.NewCmdRequest(socks.CmdConnect, socks.AddressDomain, "example.com", 443)
	require.NoError(t, err)
	_, err = async.AwaitableFuture(socks.WriteCmdRequest(client.Context(), client, req)).Await()
	require.NoError(t, err)

	select {
	case got := <-requests:
		assert.Equal(t, req, got)
	case <-time.After(3 * time.Second):
		t.Fatal("no request")
	}
}

func TestWrap(t *testing.T) {
	left, right := net.Pipe()
	defer right.Close()

	ch, err := conduit.Wrap(context.Background(), left, conduit.WithSoTimeout(20*time.Millisecond))
	require.NoError(t, err)
	defer closeChannel(t, ch)
	assert.True(t, ch.IsActive())

	go func() {
		_, _ = async.AwaitableFuture(ch.Write(transport.NewMessage([]byte("ping")))).Await()
	}()
	p := make([]byte, 4)
	_ = right.SetReadDeadline(time.Now().Add(3 * time.Second))
	n, err := right.Read(p)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(p[:n]))
}

func TestDial_Refused(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	_, err = conduit.Dial("tcp", addr, conduit.WithConnectTimeout(time.Second))
	require.Error(t, err)
	assert.True(t, errors.Is(err, transport.ErrTransport) || conduit.IsConnectTimeout(err))
}

func TestDial_NetworkUnmatched(t *testing.T) {
	_, err := conduit.Dial("unix", "/tmp/conduit.sock")
	assert.True(t, conduit.IsNetworkUnmatched(err))
	_, err = conduit.Listen(context.Background(), "udp", "127.0.0.1:0")
	assert.True(t, conduit.IsNetworkUnmatched(err))
}

func TestListen_AddressInUse(t *testing.T) {
	ln, err := conduit.Listen(context.Background(), "tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	_, err = conduit.Listen(context.Background(), "tcp", ln.Addr().String())
	assert.True(t, conduit.IsAddressInUse(err))
}

func TestListener_AcceptAfterClose(t *testing.T) {
	ln, err := conduit.Listen(context.Background(), "tcp", "127.0.0.1:0")
	require.NoError(t, err)
	require.NoError(t, ln.Close())

	_, err = async.AwaitableFuture(ln.Accept()).Await()
	assert.True(t, conduit.IsClosed(err))
}

func TestListener_MaxConnections(t *testing.T) {
	ctx := context.Background()
	ln, err := conduit.Listen(ctx, "tcp", "127.0.0.1:0",
		conduit.WithSoTimeout(20*time.Millisecond),
		conduit.WithMaxConnections(1),
		conduit.WithMaxConnectionsLimiterWaitTimeout(50*time.Millisecond),
	)
	require.NoError(t, err)
	defer ln.Close()

	accepted := ln.Accept()
	first, err := conduit.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer closeChannel(t, first)
	server, err := async.AwaitableFuture(accepted).Await()
	require.NoError(t, err)

	second, err := conduit.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer closeChannel(t, second)

	_, err = async.AwaitableFuture(ln.Accept()).Await()
	assert.True(t, conduit.IsBusy(err))

	closeChannel(t, server)
	next, err := async.AwaitableFuture(ln.Accept()).Await()
	require.NoError(t, err)
	closeChannel(t, next)
}
