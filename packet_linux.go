//go:build linux

package conduit

import (
	"context"
	"net"

	"github.com/brickingsoft/conduit/transport"
	"github.com/brickingsoft/conduit/transport/poll"
	"github.com/brickingsoft/errors"
	"github.com/brickingsoft/rxp/async"
)

// ListenPacket
// 创建绑定到 address 的消息通道，由事件循环驱动。
func ListenPacket(ctx context.Context, network string, address string, options ...Option) (ch transport.Channel, err error) {
	mc, opts, local, openErr := newPacketChannel(ctx, opListen, network, address, options)
	if openErr != nil {
		err = openErr
		return
	}
	if err = open(mc, opts, func() async.Future[async.Void] {
		return mc.Bind(local)
	}); err != nil {
		err = opError(opListen, network, address, err)
		return
	}
	ch = mc
	return
}

// DialPacket
// 创建连接到 address 的消息通道。WithLocalAddr 可指定本地地址。
func DialPacket(ctx context.Context, network string, address string, options ...Option) (ch transport.Channel, err error) {
	mc, opts, remote, openErr := newPacketChannel(ctx, opDial, network, address, options)
	if openErr != nil {
		err = openErr
		return
	}
	if err = open(mc, opts, func() async.Future[async.Void] {
		return mc.Connect(remote, opts.LocalAddr)
	}); err != nil {
		err = opError(opDial, network, address, err)
		return
	}
	ch = mc
	return
}

func newPacketChannel(ctx context.Context, op string, network string, address string, options []Option) (ch *poll.MessageChannel, opts *Options, addr net.Addr, err error) {
	if opts, err = newOptions(options); err != nil {
		return
	}
	if !isPacketNetwork(network) {
		err = opError(op, network, address, errors.From(ErrNetworkUnmatched))
		return
	}
	if addr, err = resolveAddr(network, address); err != nil {
		err = opError(op, network, address, err)
		return
	}
	loop := opts.EventLoop
	if loop == nil {
		if loop, err = DefaultEventLoop(); err != nil {
			err = opError(op, network, address, err)
			return
		}
	}
	mt, mtErr := poll.NewUDPTransport(network, opts.Config)
	if mtErr != nil {
		err = opError(op, network, address, mtErr)
		return
	}
	ch = poll.NewMessageChannel(withExecutors(ctx), loop, mt, opts.Config, nil)
	return
}
