package conduit_test

import (
	"testing"
	"time"

	"github.com/brickingsoft/conduit"
	"github.com/brickingsoft/conduit/transport"
	"github.com/brickingsoft/errors"
	"github.com/brickingsoft/rxp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptions_AsRxpOptions(t *testing.T) {
	opts := []conduit.Option{
		conduit.WithCloseTimeout(1 * time.Second),
		conduit.WithMaxGoroutines(10),
		conduit.WithMaxReadyGoroutinesIdleDuration(2 * time.Second),
	}
	options := conduit.Options{Config: transport.NewConfig()}
	for _, opt := range opts {
		require.NoError(t, opt(&options))
	}
	rps := rxp.Options{}
	for _, rop := range options.AsRxpOptions() {
		require.NoError(t, rop(&rps))
	}
	assert.Equal(t, 10, rps.MaxGoroutines)
	assert.Equal(t, 2*time.Second, rps.MaxReadyGoroutinesIdleDuration)
	assert.Equal(t, time.Second, rps.CloseTimeout)
}

func TestOptions_ChannelConfig(t *testing.T) {
	options := conduit.Options{Config: transport.NewConfig()}
	for _, opt := range []conduit.Option{
		conduit.WithConnectTimeout(time.Second),
		conduit.WithWriteSpinCount(4),
		conduit.WithAllowHalfClosure(),
		conduit.WithAutoRead(false),
		conduit.WithInboundBufferMaxCapacity(1024),
		conduit.WithNoDelay(false),
		conduit.WithTOS(0x10),
	} {
		require.NoError(t, opt(&options))
	}
	cfg := options.Config
	assert.Equal(t, time.Second, transport.Get(cfg, transport.ConnectTimeout))
	assert.Equal(t, 4, transport.Get(cfg, transport.WriteSpinCount))
	assert.True(t, transport.Get(cfg, transport.AllowHalfClosure))
	assert.False(t, transport.Get(cfg, transport.AutoRead))
	assert.Equal(t, 1024, transport.Get(cfg, transport.InboundBufferMaxCapacity))
	assert.False(t, transport.Get(cfg, transport.TCPNoDelay))
	assert.Equal(t, 0x10, transport.Get(cfg, transport.IPTos))
	assert.Equal(t, transport.DefaultMaxMessagesPerRead, transport.Get(cfg, transport.MaxMessagesPerRead))
}

func TestOptions_Invalid(t *testing.T) {
	options := conduit.Options{Config: transport.NewConfig()}
	assert.True(t, errors.Is(conduit.WithWriteSpinCount(0)(&options), transport.ErrInvalidOption))
	assert.True(t, errors.Is(conduit.WithTOS(256)(&options), transport.ErrInvalidOption))
	assert.Error(t, conduit.WithHandler("nil", nil)(&options))
	assert.True(t, conduit.IsNetworkUnmatched(conduit.WithLocalAddr("unix", "/tmp/x")(&options)))
}

func TestOptions_MaxConnections(t *testing.T) {
	options := conduit.Options{Config: transport.NewConfig()}
	require.NoError(t, conduit.WithMaxConnections(8)(&options))
	require.NoError(t, conduit.WithMaxConnectionsLimiterWaitTimeout(time.Second)(&options))
	assert.Equal(t, 8, options.MaxConnections)
	assert.Equal(t, time.Second, options.MaxConnectionsLimiterWaitTimeout)
	assert.Error(t, conduit.WithMaxConnectionsLimiterWaitTimeout(0)(&options))
}
