package transport

import (
	"context"
	"log/slog"
	"net"

	"github.com/brickingsoft/conduit/pkg/bytebuffers"
	"github.com/brickingsoft/rxp/async"
)

// Channel
// 一个网络端点。状态只由所属循环修改，异步操作的结果通过 future 返回。
//
// 返回的 future 必须被消费（Await 或 OnComplete），否则会占用执行器的协程，
// 不关心写结果时使用 Send。
type Channel interface {
	ID() ID
	Parent() Channel
	Context() context.Context
	Logger() *slog.Logger
	State() State
	IsOpen() bool
	IsActive() bool
	Config() *Config
	Pipeline() *Pipeline
	// Inbound returns the inbound byte buffer of stream channels, nil for message channels.
	Inbound() bytebuffers.Buffer
	LocalAddr() net.Addr
	RemoteAddr() net.Addr
	Register() async.Future[async.Void]
	Bind(addr net.Addr) async.Future[async.Void]
	Connect(remote net.Addr, local net.Addr) async.Future[async.Void]
	Disconnect() async.Future[async.Void]
	Close() async.Future[async.Void]
	Write(msg Message) async.Future[int]
	// Send queues msg without a future; failures reach the pipeline as ExceptionCaught or are logged.
	Send(msg Message)
	// Read requests one read burst when AutoRead is disabled.
	Read()
	// Done is closed once the channel is closed.
	Done() <-chan struct{}
}

// Loop
// 通道的所属循环。Execute 总是入队，从不内联执行。
type Loop interface {
	Execute(task func()) (err error)
}

// Unsafe
// 具体传输在所属循环上执行的操作。
type Unsafe interface {
	DoRegister() (err error)
	DoBind(addr net.Addr) (err error)
	// DoConnect reports done=false when the connect is pending and connect interest was set.
	DoConnect(remote net.Addr, local net.Addr) (done bool, err error)
	DoFinishConnect() (done bool, err error)
	DoBeginRead() (err error)
	// DoFlush writes the outbound queue as far as the transport accepts.
	DoFlush(outbound *Outbound)
	DoClose() (err error)
	LocalAddr0() (addr net.Addr, err error)
	RemoteAddr0() (addr net.Addr, err error)
	Inbound() bytebuffers.Buffer
}

// MultiHomed
// 支持多宿主的传输。
type MultiHomed interface {
	LocalAddrs() (addrs []net.Addr, err error)
	RemoteAddrs() (addrs []net.Addr, err error)
	BindAddress(ip net.IP) (err error)
	UnbindAddress(ip net.IP) (err error)
}
