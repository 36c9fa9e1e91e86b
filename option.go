package conduit

import (
	"log/slog"
	"net"
	"time"

	"github.com/brickingsoft/conduit/transport"
	"github.com/brickingsoft/conduit/transport/poll"
	"github.com/brickingsoft/errors"
	"github.com/brickingsoft/rxp"
	"github.com/brickingsoft/rxp/pkg/maxprocs"
)

// Handler
// 流水线处理器配置。New 非空时每个通道调用一次 New 获得独立实例，有状态的处理器（如解码器）应使用它。
type Handler struct {
	Name    string
	Handler transport.Handler
	New     func() transport.Handler
}

type Options struct {
	RxpOptions rxp.Options
	Config     *transport.Config
	Handlers   []Handler
	EventLoop  *poll.EventLoop
	LocalAddr  net.Addr

	MaxConnections                   int
	MaxConnectionsLimiterWaitTimeout time.Duration
}

const (
	DefaultMaxConnectionsLimiterWaitTimeout = 500 * time.Millisecond
)

func newOptions(options []Option) (opts *Options, err error) {
	opts = &Options{
		Config:                           transport.NewConfig(),
		MaxConnectionsLimiterWaitTimeout: DefaultMaxConnectionsLimiterWaitTimeout,
	}
	for _, option := range options {
		if err = option(opts); err != nil {
			return
		}
	}
	return
}

func (options *Options) AsRxpOptions() []rxp.Option {
	opts := make([]rxp.Option, 0, 1)
	if n := options.RxpOptions.MaxprocsOptions.MinGOMAXPROCS; n > 0 {
		opts = append(opts, rxp.WithMinGOMAXPROCS(n))
	}
	if fn := options.RxpOptions.MaxprocsOptions.Procs; fn != nil {
		opts = append(opts, rxp.WithProcs(fn))
	}
	if fn := options.RxpOptions.MaxprocsOptions.RoundQuotaFunc; fn != nil {
		opts = append(opts, rxp.WithRoundQuotaFunc(fn))
	}
	if n := options.RxpOptions.MaxGoroutines; n > 0 {
		opts = append(opts, rxp.WithMaxGoroutines(n))
	}
	if n := options.RxpOptions.MaxReadyGoroutinesIdleDuration; n > 0 {
		opts = append(opts, rxp.WithMaxReadyGoroutinesIdleDuration(n))
	}
	if n := options.RxpOptions.CloseTimeout; n > 0 {
		opts = append(opts, rxp.WithCloseTimeout(n))
	}
	return opts
}

// install adds the configured handlers to the end of the channel's pipeline.
func (options *Options) install(ch transport.Channel) error {
	pipeline := ch.Pipeline()
	for _, h := range options.Handlers {
		handler := h.Handler
		if h.New != nil {
			handler = h.New()
		}
		if err := pipeline.AddLast(h.Name, handler); err != nil {
			return err
		}
	}
	return nil
}

type Option func(options *Options) (err error)

func setOption[T any](opt *transport.Option[T], v T) Option {
	return func(options *Options) error {
		return transport.Set(options.Config, opt, v)
	}
}

// WithHandler
// 在通道的流水线末尾添加处理器，按调用顺序排列。
func WithHandler(name string, handler transport.Handler) Option {
	return func(options *Options) (err error) {
		if handler == nil {
			err = errors.New("handler is nil", errors.WithMeta(errMetaPkgKey, errMetaPkgVal), errors.WithMeta("name", name))
			return
		}
		options.Handlers = append(options.Handlers, Handler{Name: name, Handler: handler})
		return
	}
}

// WithHandlerFactory
// 同 WithHandler，但每个通道获得 factory 创建的新实例。
func WithHandlerFactory(name string, factory func() transport.Handler) Option {
	return func(options *Options) (err error) {
		if factory == nil {
			err = errors.New("handler factory is nil", errors.WithMeta(errMetaPkgKey, errMetaPkgVal), errors.WithMeta("name", name))
			return
		}
		options.Handlers = append(options.Handlers, Handler{Name: name, New: factory})
		return
	}
}

// WithEventLoop
// 设置包通道所属的事件循环，未设置时使用默认事件循环。
func WithEventLoop(loop *poll.EventLoop) Option {
	return func(options *Options) (err error) {
		options.EventLoop = loop
		return
	}
}

// WithLocalAddr
// 设置拨号的本地地址
func WithLocalAddr(network string, addr string) Option {
	return func(options *Options) (err error) {
		options.LocalAddr, err = resolveAddr(network, addr)
		return
	}
}

// WithMaxConnections
// 设置监听器同时持有的最大连接数，小于 1 为不限制。
func WithMaxConnections(n int) Option {
	return func(options *Options) (err error) {
		options.MaxConnections = n
		return
	}
}

// WithMaxConnectionsLimiterWaitTimeout
// 达到最大连接数时 Accept 的等待时长，超时后返回 ErrBusy。
func WithMaxConnectionsLimiterWaitTimeout(d time.Duration) Option {
	return func(options *Options) (err error) {
		if d < 1 {
			err = errors.New("max connections limiter wait timeout must be positive", errors.WithMeta(errMetaPkgKey, errMetaPkgVal))
			return
		}
		options.MaxConnectionsLimiterWaitTimeout = d
		return
	}
}

// WithConnectTimeout
// 设置连接超时，0 为不限制。
func WithConnectTimeout(timeout time.Duration) Option {
	return setOption(transport.ConnectTimeout, timeout)
}

// WithWriteSpinCount
// 每次刷出时的最大写尝试次数，之后改为等待可写事件。
func WithWriteSpinCount(n int) Option {
	return setOption(transport.WriteSpinCount, n)
}

// WithAllowHalfClosure
// 输入端关闭时不关闭通道，而是发出 transport.InputShutdownEvent。
func WithAllowHalfClosure() Option {
	return setOption(transport.AllowHalfClosure, true)
}

func WithAutoRead(auto bool) Option {
	return setOption(transport.AutoRead, auto)
}

func WithMaxMessagesPerRead(n int) Option {
	return setOption(transport.MaxMessagesPerRead, n)
}

func WithReceiveBufferSize(n int) Option {
	return setOption(transport.ReceiveBufferSize, n)
}

// WithInboundBufferMaxCapacity
// 字节通道入站缓冲的最大容量。
func WithInboundBufferMaxCapacity(n int) Option {
	return setOption(transport.InboundBufferMaxCapacity, n)
}

// WithSoTimeout
// 阻塞读的超时，超时后处理排队的任务。
func WithSoTimeout(timeout time.Duration) Option {
	return setOption(transport.SoTimeout, timeout)
}

func WithReadBufferSize(n int) Option {
	return setOption(transport.SoRcvBuf, n)
}

func WithWriteBufferSize(n int) Option {
	return setOption(transport.SoSndBuf, n)
}

func WithReuseAddr() Option {
	return setOption(transport.SoReuseAddr, true)
}

func WithKeepAlive() Option {
	return setOption(transport.SoKeepAlive, true)
}

func WithBroadcast() Option {
	return setOption(transport.SoBroadcast, true)
}

func WithNoDelay(noDelay bool) Option {
	return setOption(transport.TCPNoDelay, noDelay)
}

func WithTOS(tos int) Option {
	return setOption(transport.IPTos, tos)
}

// WithLogger
// 设置通道日志，默认为 slog.Default()。
func WithLogger(logger *slog.Logger) Option {
	return setOption(transport.Logger, logger)
}

// WithMetrics
// 设置指标收集器，默认不收集。
func WithMetrics(metrics *transport.Metrics) Option {
	return setOption(transport.MetricsCollector, metrics)
}

// WithMinGOMAXPROCS
// 最小 GOMAXPROCS 值，只在 linux 环境下有效。一般用于 docker 容器环境。
func WithMinGOMAXPROCS(n int) Option {
	return func(options *Options) error {
		return rxp.WithMinGOMAXPROCS(n)(&options.RxpOptions)
	}
}

// WithProcsFunc
// 设置最大 GOMAXPROCS 构建函数。
func WithProcsFunc(fn maxprocs.ProcsFunc) Option {
	return func(options *Options) error {
		return rxp.WithProcs(fn)(&options.RxpOptions)
	}
}

// WithRoundQuotaFunc
// 设置整数配额函数
func WithRoundQuotaFunc(fn maxprocs.RoundQuotaFunc) Option {
	return func(options *Options) error {
		return rxp.WithRoundQuotaFunc(fn)(&options.RxpOptions)
	}
}

// WithMaxGoroutines
// 设置最大协程数
func WithMaxGoroutines(n int) Option {
	return func(options *Options) error {
		return rxp.WithMaxGoroutines(n)(&options.RxpOptions)
	}
}

// WithMaxReadyGoroutinesIdleDuration
// 设置准备中协程最大闲置时长
func WithMaxReadyGoroutinesIdleDuration(d time.Duration) Option {
	return func(options *Options) error {
		return rxp.WithMaxReadyGoroutinesIdleDuration(d)(&options.RxpOptions)
	}
}

// WithCloseTimeout
// 设置关闭超时时长
func WithCloseTimeout(timeout time.Duration) Option {
	return func(options *Options) error {
		return rxp.WithCloseTimeout(timeout)(&options.RxpOptions)
	}
}
