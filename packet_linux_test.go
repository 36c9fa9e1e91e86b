//go:build linux

package conduit_test

import (
	"context"
	"testing"
	"time"

	"github.com/brickingsoft/conduit"
	"github.com/brickingsoft/conduit/transport"
	"github.com/brickingsoft/rxp/async"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacket_Echo(t *testing.T) {
	ctx := context.Background()
	loop, err := conduit.NewEventLoop()
	require.NoError(t, err)
	defer func() {
		_ = loop.Close()
		<-loop.Done()
	}()

	server, err := conduit.ListenPacket(ctx, "udp4", "127.0.0.1:0",
		conduit.WithEventLoop(loop),
		conduit.WithHandler("echo", transport.HandlerFunc(func(ctx *transport.HandlerContext, event transport.Event) error {
			if e, ok := event.(transport.MessageReceived); ok {
				msg := e.Message.(transport.Message)
				reply := transport.NewMessage(msg.Bytes())
				reply.Addr = msg.Addr
				ctx.Write(reply)
				return nil
			}
			return ctx.Fire(event)
		})),
	)
	require.NoError(t, err)
	defer closeChannel(t, server)
	assert.Equal(t, transport.StateBound, server.State())

	replies := make(chan transport.Message, 1)
	client, err := conduit.DialPacket(ctx, "udp4", server.LocalAddr().String(),
		conduit.WithEventLoop(loop),
		conduit.WithLocalAddr("udp4", "127.0.0.1:0"),
		conduit.WithHandler("collect", collect[transport.Message](replies)),
	)
	require.NoError(t, err)
	defer closeChannel(t, client)
	assert.True(t, client.IsActive())
	assert.Equal(t, server.LocalAddr().String(), client.RemoteAddr().String())

	n, err := async.AwaitableFuture(client.Write(transport.NewMessage([]byte("ping")))).Await()
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	select {
	case reply := <-replies:
		assert.Equal(t, "ping", string(reply.Flatten()))
	case <-time.After(3 * time.Second):
		t.Fatal("no reply")
	}
}

func TestPacket_DefaultEventLoop(t *testing.T) {
	ch, err := conduit.ListenPacket(context.Background(), "udp", "127.0.0.1:0")
	require.NoError(t, err)
	assert.NotNil(t, ch.LocalAddr())
	closeChannel(t, ch)
	assert.False(t, ch.IsOpen())

	_, err = conduit.ListenPacket(context.Background(), "tcp", "127.0.0.1:0")
	assert.True(t, conduit.IsNetworkUnmatched(err))
}
