package transport

import (
	"context"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/brickingsoft/conduit/pkg/bytebuffers"
	"github.com/brickingsoft/errors"
	"github.com/brickingsoft/rxp/async"
)

// BaseOptions
// 构造 Base 所需的协作者。
type BaseOptions struct {
	// Kind labels metrics and logs, e.g. "poll" or "blocking".
	Kind   string
	Parent Channel
	Loop   Loop
	Unsafe Unsafe
	Config *Config
}

type addrHolder struct {
	addr net.Addr
}

// Base
// 通道生命周期状态机。公开操作被打包为任务投递到所属循环，结果以 future 返回；
// 以 Now 结尾或注明 loop-only 的方法只能在所属循环上调用。
type Base struct {
	id       ID
	kind     string
	parent   Channel
	ctx      context.Context
	loop     Loop
	unsafe   Unsafe
	config   *Config
	pipeline *Pipeline
	logger   *slog.Logger
	metrics  *Metrics
	outbound *Outbound

	state  atomic.Int32
	local  atomic.Pointer[addrHolder]
	remote atomic.Pointer[addrHolder]
	done   chan struct{}

	// loop-only
	connectPromise async.Promise[async.Void]
	connectSeq     uint64
	connectTimer   *time.Timer
}

func NewBase(ctx context.Context, options BaseOptions) *Base {
	if ctx == nil {
		ctx = context.Background()
	}
	config := options.Config
	if config == nil {
		config = NewConfig()
	}
	id := NewID()
	logger := Get(config, Logger)
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("channel", id.String()), slog.String("transport", options.Kind))
	b := &Base{
		id:       id,
		kind:     options.Kind,
		parent:   options.Parent,
		ctx:      ctx,
		loop:     options.Loop,
		unsafe:   options.Unsafe,
		config:   config,
		logger:   logger,
		metrics:  Get(config, MetricsCollector),
		outbound: NewOutbound(),
		done:     make(chan struct{}),
	}
	b.pipeline = NewPipeline(b, logger)
	return b
}

func (b *Base) ID() ID {
	return b.id
}

func (b *Base) Kind() string {
	return b.kind
}

func (b *Base) Parent() Channel {
	return b.parent
}

func (b *Base) Context() context.Context {
	return b.ctx
}

func (b *Base) Logger() *slog.Logger {
	return b.logger
}

func (b *Base) Metrics() *Metrics {
	return b.metrics
}

func (b *Base) State() State {
	return State(b.state.Load())
}

func (b *Base) setState(s State) {
	b.state.Store(int32(s))
}

func (b *Base) IsOpen() bool {
	return b.State().IsOpen()
}

func (b *Base) IsActive() bool {
	return b.State() == StateActive
}

func (b *Base) Config() *Config {
	return b.config
}

func (b *Base) Pipeline() *Pipeline {
	return b.pipeline
}

func (b *Base) Inbound() bytebuffers.Buffer {
	return b.unsafe.Inbound()
}

// Outbound is loop-only.
func (b *Base) Outbound() *Outbound {
	return b.outbound
}

func (b *Base) Done() <-chan struct{} {
	return b.done
}

// LocalAddr
// 缓存的本地地址，传输无法提供时返回 nil。
func (b *Base) LocalAddr() net.Addr {
	if h := b.local.Load(); h != nil {
		return h.addr
	}
	addr, err := b.unsafe.LocalAddr0()
	if err != nil || addr == nil {
		return nil
	}
	b.local.Store(&addrHolder{addr: addr})
	return addr
}

// RemoteAddr
// 缓存的远端地址，传输无法提供时返回 nil。
func (b *Base) RemoteAddr() net.Addr {
	if h := b.remote.Load(); h != nil {
		return h.addr
	}
	addr, err := b.unsafe.RemoteAddr0()
	if err != nil || addr == nil {
		return nil
	}
	b.remote.Store(&addrHolder{addr: addr})
	return addr
}

// LocalAddrs returns every bound local address, empty when unavailable.
func (b *Base) LocalAddrs() []net.Addr {
	if mh, ok := b.unsafe.(MultiHomed); ok {
		addrs, err := mh.LocalAddrs()
		if err != nil {
			return []net.Addr{}
		}
		return addrs
	}
	if addr := b.LocalAddr(); addr != nil {
		return []net.Addr{addr}
	}
	return []net.Addr{}
}

// RemoteAddrs returns every peer address, empty when unavailable.
func (b *Base) RemoteAddrs() []net.Addr {
	if mh, ok := b.unsafe.(MultiHomed); ok {
		addrs, err := mh.RemoteAddrs()
		if err != nil {
			return []net.Addr{}
		}
		return addrs
	}
	if addr := b.RemoteAddr(); addr != nil {
		return []net.Addr{addr}
	}
	return []net.Addr{}
}

func (b *Base) invalidateAddrs() {
	b.local.Store(nil)
	b.remote.Store(nil)
}

func (b *Base) closedErr(op string) error {
	return errors.From(ErrClosed, errors.WithMeta(errMetaPkgKey, errMetaPkgVal), errors.WithMeta(errMetaOpKey, op))
}

func (b *Base) submit(op string, task func(promise async.Promise[async.Void])) (future async.Future[async.Void]) {
	promise, promiseErr := async.Make[async.Void](b.ctx, async.WithWait())
	if promiseErr != nil {
		future = async.FailedImmediately[async.Void](b.ctx, promiseErr)
		return
	}
	future = promise.Future()
	if err := b.loop.Execute(func() { task(promise) }); err != nil {
		promise.Fail(errors.From(ErrClosed, errors.WithMeta(errMetaOpKey, op), errors.WithWrap(err)))
	}
	return
}

func (b *Base) Register() async.Future[async.Void] {
	return b.submit(OpRegister, func(promise async.Promise[async.Void]) {
		switch b.State() {
		case StateUnregistered:
		case StateClosed:
			promise.Fail(b.closedErr(OpRegister))
			return
		default:
			promise.Fail(ErrAlreadyRegistered)
			return
		}
		if err := b.unsafe.DoRegister(); err != nil {
			promise.Fail(TransportFailure(OpRegister, err))
			return
		}
		b.setState(StateRegistered)
		b.metrics.ChannelOpened(b.kind)
		promise.Succeed(async.Void{})
	})
}

// Bind
// 绑定本地地址。已连接的通道保持 ACTIVE。
func (b *Base) Bind(addr net.Addr) async.Future[async.Void] {
	return b.submit(OpBind, func(promise async.Promise[async.Void]) {
		switch b.State() {
		case StateClosed:
			promise.Fail(b.closedErr(OpBind))
			return
		case StateUnregistered:
			promise.Fail(ErrNotRegistered)
			return
		}
		if err := b.unsafe.DoBind(addr); err != nil {
			promise.Fail(TranslateBindError(err))
			return
		}
		b.local.Store(nil)
		if s := b.State(); s == StateRegistered {
			b.setState(StateBound)
			if Get(b.config, AutoRead) {
				if err := b.unsafe.DoBeginRead(); err != nil {
					promise.Fail(TransportFailure(OpRead, err))
					b.CloseNow()
					return
				}
			}
		}
		promise.Succeed(async.Void{})
	})
}

// Connect
// 发起连接。立即完成的连接进入 ACTIVE，否则进入 CONNECTING，由 FinishConnect 完成。
func (b *Base) Connect(remote net.Addr, local net.Addr) async.Future[async.Void] {
	return b.submit(OpConnect, func(promise async.Promise[async.Void]) {
		switch b.State() {
		case StateClosed:
			promise.Fail(b.closedErr(OpConnect))
			return
		case StateUnregistered:
			promise.Fail(ErrNotRegistered)
			return
		case StateActive:
			promise.Fail(ErrAlreadyConnected)
			return
		case StateConnecting:
			promise.Fail(ErrConnectionPending)
			return
		}
		done, err := b.unsafe.DoConnect(remote, local)
		if err != nil {
			promise.Fail(ConnectFailure(err))
			return
		}
		if done {
			b.activate(promise)
			return
		}
		b.setState(StateConnecting)
		b.connectPromise = promise
		b.connectSeq++
		if timeout := Get(b.config, ConnectTimeout); timeout > 0 {
			seq := b.connectSeq
			b.connectTimer = time.AfterFunc(timeout, func() {
				_ = b.loop.Execute(func() {
					b.connectTimedOut(seq, remote)
				})
			})
		}
	})
}

func (b *Base) connectTimedOut(seq uint64, remote net.Addr) {
	if b.connectSeq != seq || b.State() != StateConnecting || b.connectPromise == nil {
		return
	}
	promise := b.connectPromise
	b.connectPromise = nil
	b.connectTimer = nil
	err := errors.From(ErrConnectTimeout, errors.WithMeta(errMetaPkgKey, errMetaPkgVal), errors.WithMeta("remote", addrString(remote)))
	promise.Fail(err)
	b.CloseNow()
}

// FinishConnect
// loop-only。连接就绪时调用；传输报告未完成视为致命错误，通道被关闭。
func (b *Base) FinishConnect() {
	if b.State() != StateConnecting {
		return
	}
	promise := b.connectPromise
	b.connectPromise = nil
	b.stopConnectTimer()
	done, err := b.unsafe.DoFinishConnect()
	if err == nil && !done {
		err = errors.From(ErrConnectNotFinished, errors.WithMeta(errMetaPkgKey, errMetaPkgVal), errors.WithMeta(errMetaOpKey, OpFinishConnect))
	} else if err != nil {
		err = TransportFailure(OpFinishConnect, err)
	}
	if err != nil {
		if promise != nil {
			promise.Fail(err)
		}
		b.logger.Debug("finish connect failed", slog.String("error", err.Error()))
		b.CloseNow()
		return
	}
	b.activate(promise)
}

func (b *Base) activate(promise async.Promise[async.Void]) {
	b.setState(StateActive)
	b.invalidateAddrs()
	if promise != nil {
		promise.Succeed(async.Void{})
	}
	if err := b.Fire(ChannelActive{}); err != nil {
		b.HandleError(err)
		if !b.IsOpen() {
			return
		}
	}
	if Get(b.config, AutoRead) {
		if err := b.unsafe.DoBeginRead(); err != nil {
			b.HandleError(TransportFailure(OpRead, err))
		}
	}
}

func (b *Base) stopConnectTimer() {
	if b.connectTimer != nil {
		b.connectTimer.Stop()
		b.connectTimer = nil
	}
}

// Disconnect closes the channel; these transports cannot be reconnected.
func (b *Base) Disconnect() async.Future[async.Void] {
	return b.Close()
}

// Close
// 幂等。第一次关闭触发 ChannelInactive 并使挂起的操作以 ErrClosed 失败，之后的关闭直接成功。
func (b *Base) Close() async.Future[async.Void] {
	promise, promiseErr := async.Make[async.Void](b.ctx, async.WithWait())
	if promiseErr != nil {
		return async.FailedImmediately[async.Void](b.ctx, promiseErr)
	}
	if err := b.loop.Execute(func() {
		b.CloseNow()
		promise.Succeed(async.Void{})
	}); err != nil {
		if b.State() == StateClosed {
			promise.Succeed(async.Void{})
		} else {
			promise.Fail(errors.From(ErrClosed, errors.WithMeta(errMetaOpKey, OpClose), errors.WithWrap(err)))
		}
	}
	return promise.Future()
}

// CloseNow
// loop-only。返回是否由本次调用完成关闭。
func (b *Base) CloseNow() bool {
	prev := b.State()
	if prev == StateClosed {
		return false
	}
	b.setState(StateClosed)
	b.stopConnectTimer()
	if err := b.unsafe.DoClose(); err != nil {
		b.logger.Debug("close transport failed", slog.String("error", err.Error()))
	}
	closedErr := b.closedErr(OpClose)
	if b.connectPromise != nil {
		b.connectPromise.Fail(closedErr)
		b.connectPromise = nil
	}
	b.outbound.FailAll(closedErr)
	if prev != StateUnregistered {
		b.metrics.ChannelClosed(b.kind)
	}
	if prev == StateActive {
		if err := b.Fire(ChannelInactive{}); err != nil {
			b.logger.Warn("channel inactive handler failed", slog.String("error", err.Error()))
		}
	}
	close(b.done)
	return true
}

// Write
// 将消息加入出站队列并尝试写出，future 在消息写出后完成。
func (b *Base) Write(msg Message) (future async.Future[int]) {
	promise, promiseErr := async.Make[int](b.ctx, async.WithWait())
	if promiseErr != nil {
		future = async.FailedImmediately[int](b.ctx, promiseErr)
		return
	}
	future = promise.Future()
	if err := b.enqueue(msg, promise); err != nil {
		promise.Fail(errors.From(ErrClosed, errors.WithMeta(errMetaOpKey, OpWrite), errors.WithWrap(err)))
	}
	return
}

// Send
// 同 Write，但不创建 future。
func (b *Base) Send(msg Message) {
	if err := b.enqueue(msg, nil); err != nil {
		b.logger.Debug("send dropped", slog.String("error", err.Error()))
	}
}

// enqueue adds msg to the outbound queue on the loop; a nil promise is allowed.
func (b *Base) enqueue(msg Message, promise async.Promise[int]) error {
	return b.loop.Execute(func() {
		var err error
		switch b.State() {
		case StateClosed:
			err = b.closedErr(OpWrite)
		case StateActive, StateBound:
		default:
			err = errors.From(ErrNotConnected, errors.WithMeta(errMetaOpKey, OpWrite))
		}
		if err != nil {
			if promise != nil {
				promise.Fail(err)
			} else {
				b.logger.Debug("send dropped", slog.String("error", err.Error()))
			}
			return
		}
		b.outbound.Add(msg, promise)
		b.unsafe.DoFlush(b.outbound)
	})
}

// Read requests a read burst; with AutoRead enabled reads are continuous.
func (b *Base) Read() {
	_ = b.loop.Execute(func() {
		switch b.State() {
		case StateActive, StateBound:
		default:
			return
		}
		if err := b.unsafe.DoBeginRead(); err != nil {
			b.HandleError(TransportFailure(OpRead, err))
		}
	})
}

// BindAddress
// 为多宿主传输追加本地地址，总是在所属循环上执行。
func (b *Base) BindAddress(ip net.IP) async.Future[async.Void] {
	return b.multiHomed(OpBindAddress, ip, MultiHomed.BindAddress)
}

// UnbindAddress
// 为多宿主传输移除本地地址，总是在所属循环上执行。
func (b *Base) UnbindAddress(ip net.IP) async.Future[async.Void] {
	return b.multiHomed(OpUnbindAddress, ip, MultiHomed.UnbindAddress)
}

func (b *Base) multiHomed(op string, ip net.IP, fn func(MultiHomed, net.IP) error) async.Future[async.Void] {
	mh, ok := b.unsafe.(MultiHomed)
	if !ok {
		return async.FailedImmediately[async.Void](b.ctx, errors.From(ErrUnsupported, errors.WithMeta(errMetaOpKey, op)))
	}
	return b.submit(op, func(promise async.Promise[async.Void]) {
		if b.State() == StateClosed {
			promise.Fail(b.closedErr(op))
			return
		}
		if err := fn(mh, ip); err != nil {
			promise.Fail(TransportFailure(op, err))
			return
		}
		b.local.Store(nil)
		promise.Succeed(async.Void{})
	})
}

// Fire is loop-only.
func (b *Base) Fire(event Event) error {
	return b.pipeline.Fire(event)
}

// HandleError
// loop-only。向流水线发送 ExceptionCaught，致命错误关闭通道。
func (b *Base) HandleError(err error) {
	if err == nil {
		return
	}
	if fireErr := b.Fire(ExceptionCaught{Err: err}); fireErr != nil {
		b.logger.Warn("exception handler failed", slog.String("error", fireErr.Error()))
	}
	if IsFatal(err) {
		b.CloseNow()
	}
}

func addrString(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	return addr.String()
}
