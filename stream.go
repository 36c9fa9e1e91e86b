package conduit

import (
	"context"
	"net"

	"github.com/brickingsoft/conduit/pkg/rate/timeslimiter"
	"github.com/brickingsoft/conduit/transport"
	"github.com/brickingsoft/conduit/transport/blocking"
	"github.com/brickingsoft/errors"
	"github.com/brickingsoft/rxp/async"
)

// Dial
// 拨号并返回已激活的字节通道（每个通道一个工作协程）。
func Dial(network string, address string, options ...Option) (transport.Channel, error) {
	return DialContext(context.Background(), network, address, options...)
}

func DialContext(ctx context.Context, network string, address string, options ...Option) (ch transport.Channel, err error) {
	opts, optsErr := newOptions(options)
	if optsErr != nil {
		err = optsErr
		return
	}
	if !isStreamNetwork(network) {
		err = opError(opDial, network, address, errors.From(ErrNetworkUnmatched))
		return
	}
	remote, resolveErr := resolveAddr(network, address)
	if resolveErr != nil {
		err = opError(opDial, network, address, resolveErr)
		return
	}
	bc := blocking.NewByteChannel(withExecutors(ctx), blocking.NewConnTransport(network, opts.Config), opts.Config, nil)
	if err = open(bc, opts, func() async.Future[async.Void] {
		return bc.Connect(remote, opts.LocalAddr)
	}); err != nil {
		err = opError(opDial, network, address, err)
		return
	}
	ch = bc
	return
}

// Wrap
// 将已建立的 net.Conn 包装为已激活的字节通道。
func Wrap(ctx context.Context, conn net.Conn, options ...Option) (ch transport.Channel, err error) {
	opts, optsErr := newOptions(options)
	if optsErr != nil {
		err = optsErr
		return
	}
	return wrap(withExecutors(ctx), conn, opts, opts.Config)
}

func wrap(ctx context.Context, conn net.Conn, opts *Options, config *transport.Config) (ch transport.Channel, err error) {
	bt, wrapErr := blocking.WrapConn(conn, config)
	if wrapErr != nil {
		_ = conn.Close()
		err = opError(opWrap, conn.RemoteAddr().Network(), conn.RemoteAddr().String(), wrapErr)
		return
	}
	bc := blocking.NewByteChannel(ctx, bt, config, nil)
	if err = open(bc, opts, func() async.Future[async.Void] {
		return bc.Connect(conn.RemoteAddr(), nil)
	}); err != nil {
		err = opError(opWrap, conn.RemoteAddr().Network(), conn.RemoteAddr().String(), err)
		return
	}
	ch = bc
	return
}

// open installs the handlers, registers the channel and runs the final step; the channel is closed on failure.
func open(ch transport.Channel, opts *Options, step func() async.Future[async.Void]) (err error) {
	defer func() {
		if err != nil {
			_, _ = async.AwaitableFuture(ch.Close()).Await()
		}
	}()
	if err = opts.install(ch); err != nil {
		return
	}
	if _, err = async.AwaitableFuture(ch.Register()).Await(); err != nil {
		return
	}
	_, err = async.AwaitableFuture(step()).Await()
	return
}

func isStreamNetwork(network string) bool {
	switch network {
	case "tcp", "tcp4", "tcp6":
		return true
	default:
		return false
	}
}

// Listener
// 流监听器，每个接受的连接成为一个字节通道。
type Listener struct {
	ctx     context.Context
	inner   net.Listener
	opts    *Options
	limiter *timeslimiter.Bucket
}

func Listen(ctx context.Context, network string, addr string, options ...Option) (ln *Listener, err error) {
	opts, optsErr := newOptions(options)
	if optsErr != nil {
		err = optsErr
		return
	}
	if !isStreamNetwork(network) {
		err = opError(opListen, network, addr, errors.From(ErrNetworkUnmatched))
		return
	}
	ctx = withExecutors(ctx)
	inner, listenErr := new(net.ListenConfig).Listen(ctx, network, addr)
	if listenErr != nil {
		err = opError(opListen, network, addr, transport.TranslateBindError(listenErr))
		return
	}
	ln = &Listener{
		ctx:     ctx,
		inner:   inner,
		opts:    opts,
		limiter: timeslimiter.New(opts.MaxConnections),
	}
	return
}

func (ln *Listener) Addr() net.Addr {
	return ln.inner.Addr()
}

// Accept
// 接受一个连接。每个通道使用配置的独立副本。
//
// 设置了最大连接数时，先等待空闲名额，通道关闭后归还名额。
func (ln *Listener) Accept() (future async.Future[transport.Channel]) {
	promise, promiseErr := async.Make[transport.Channel](ln.ctx, async.WithWait())
	if promiseErr != nil {
		future = async.FailedImmediately[transport.Channel](ln.ctx, promiseErr)
		return
	}
	future = promise.Future()
	if err := Executors().Execute(ln.ctx, func() {
		ch, err := ln.accept()
		if err != nil {
			promise.Fail(err)
			return
		}
		promise.Succeed(ch)
	}); err != nil {
		promise.Fail(err)
	}
	return
}

func (ln *Listener) accept() (ch transport.Channel, err error) {
	addr := ln.inner.Addr()
	waitCtx, cancel := context.WithTimeout(ln.ctx, ln.opts.MaxConnectionsLimiterWaitTimeout)
	waitErr := ln.limiter.Wait(waitCtx)
	cancel()
	if waitErr != nil {
		err = opError(opAccept, addr.Network(), addr.String(), errors.From(ErrBusy, errors.WithWrap(waitErr)))
		return
	}
	conn, acceptErr := ln.inner.Accept()
	if acceptErr != nil {
		ln.limiter.Revert()
		err = opError(opAccept, addr.Network(), addr.String(), acceptErr)
		return
	}
	if ch, err = wrap(ln.ctx, conn, ln.opts, ln.opts.Config.Clone()); err != nil {
		ln.limiter.Revert()
		return
	}
	go func(ch transport.Channel) {
		<-ch.Done()
		ln.limiter.Revert()
	}(ch)
	return
}

func (ln *Listener) Close() error {
	return ln.inner.Close()
}
