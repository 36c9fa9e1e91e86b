package blocking

import (
	"context"
	"net"
	"time"

	"github.com/brickingsoft/conduit/pkg/bytebuffers"
	"github.com/brickingsoft/conduit/transport"
	"github.com/brickingsoft/errors"
)

const (
	kind = "blocking"
)

// ByteTransport
// 阻塞的字节流传输。Read 在流结束时返回 io.EOF，读超时返回 0 与 nil。
type ByteTransport interface {
	Bind(addr net.Addr) (err error)
	Connect(remote net.Addr, local net.Addr, timeout time.Duration) (err error)
	Read(p []byte) (n int, err error)
	Write(p []byte) (n int, err error)
	// Available returns the number of bytes readable without blocking, <= 0 when unknown.
	Available() (n int)
	// Interrupt makes an in-flight Read return promptly.
	Interrupt()
	LocalAddr() (addr net.Addr, err error)
	RemoteAddr() (addr net.Addr, err error)
	Close() (err error)
}

// ByteChannel
// 运行在专属协程上的阻塞字节通道，对流水线呈现与非阻塞通道相同的入站缓冲语义。
type ByteChannel struct {
	*transport.Base
	worker    *worker
	transport ByteTransport

	// worker-only
	inbound       bytebuffers.Buffer
	inputShutdown bool
	readPending   bool
}

// NewByteChannel
// 创建通道并启动其工作协程，需调用 Register 注册。
func NewByteChannel(ctx context.Context, bt ByteTransport, config *transport.Config, parent transport.Channel) *ByteChannel {
	ch := &ByteChannel{
		transport: bt,
	}
	if config == nil {
		config = transport.NewConfig()
	}
	ch.inbound = bytebuffers.Acquire(transport.Get(config, transport.InboundBufferMaxCapacity))
	w := newWorker(nil)
	ch.worker = w
	ch.Base = transport.NewBase(ctx, transport.BaseOptions{
		Kind:   kind,
		Parent: parent,
		Loop:   w,
		Unsafe: channelUnsafe{ch: ch},
		Config: config,
	})
	w.logger = ch.Logger()
	w.interrupt = bt.Interrupt
	w.readable = ch.readable
	w.read = ch.doRead
	w.exit = ch.release
	w.start()
	return ch
}

// IsInputShutdown is worker-only.
func (ch *ByteChannel) IsInputShutdown() bool {
	return ch.inputShutdown
}

func (ch *ByteChannel) readable() bool {
	if !ch.IsActive() {
		return false
	}
	return ch.readPending || transport.Get(ch.Config(), transport.AutoRead)
}

func (ch *ByteChannel) release() {
	if ch.inbound != nil {
		bytebuffers.Release(ch.inbound)
		ch.inbound = nil
	}
}

// doRead
// 一次读突发：填充入站缓冲直到无可读数据或缓冲无法增长，满且读到数据时立即交给下游，
// 下游必须至少消费一个字节。
func (ch *ByteChannel) doRead() {
	config := ch.Config()
	if ch.inputShutdown {
		ch.worker.sleep(transport.Get(config, transport.SoTimeout))
		return
	}
	if !transport.Get(config, transport.AutoRead) {
		ch.readPending = false
	}

	buf := ch.inbound
	var (
		read           bool
		endOfStream    bool
		firedSuspended bool
	)
	failure := func() error {
		if buf.Expand() == bytebuffers.ExpandFull {
			// the unread bytes were already handed downstream by an earlier burst
			return ch.notDraining(buf)
		}
		for {
			n, err := ch.readBytes(buf)
			if n > 0 {
				read = true
			}
			if err != nil {
				if transport.IsEndOfStream(err) {
					endOfStream = true
					return nil
				}
				return transport.TransportFailure(transport.OpRead, err)
			}
			if ch.transport.Available() <= 0 {
				return nil
			}
			switch buf.Expand() {
			case bytebuffers.ExpandNotNeeded:
				return nil
			case bytebuffers.Expanded:
				continue
			case bytebuffers.ExpandFull:
				if !read {
					return nil
				}
				read = false
				if err = ch.Fire(transport.InboundBufferUpdated{}); err != nil {
					return err
				}
				if buf.WritableBytes() <= 0 {
					return ch.notDraining(buf)
				}
			}
		}
	}()

	if failure != nil {
		if read {
			read = false
			ch.fire(transport.InboundBufferUpdated{})
		}
		firedSuspended = true
		ch.fire(transport.InboundBufferSuspended{})
		ch.HandleError(failure)
	}
	if read {
		ch.fire(transport.InboundBufferUpdated{})
	}
	if !firedSuspended && ch.IsOpen() {
		ch.fire(transport.InboundBufferSuspended{})
	}
	if endOfStream {
		ch.inputShutdown = true
		if ch.IsOpen() {
			if transport.Get(config, transport.AllowHalfClosure) {
				ch.fire(transport.UserEventTriggered{Event: transport.InputShutdownEvent{}})
			} else {
				ch.CloseNow()
			}
		}
	}
}

func (ch *ByteChannel) notDraining(buf bytebuffers.Buffer) error {
	ch.Metrics().HandlerNotDraining(kind)
	return errors.From(
		transport.ErrHandlerNotDraining,
		errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
		errors.WithMeta("max_capacity", buf.MaxCap()),
	)
}

// fire dispatches an event and routes a handler error to HandleError.
func (ch *ByteChannel) fire(event transport.Event) {
	if !ch.IsOpen() {
		return
	}
	if err := ch.Fire(event); err != nil {
		ch.HandleError(err)
	}
}

func (ch *ByteChannel) readBytes(buf bytebuffers.Buffer) (n int, err error) {
	size := buf.WritableBytes()
	if size <= 0 {
		return
	}
	p, allocErr := buf.Allocate(size)
	if allocErr != nil {
		err = allocErr
		return
	}
	n, err = ch.transport.Read(p)
	if n < 0 {
		n = 0
	}
	_ = buf.AllocatedWrote(n)
	ch.Metrics().BytesRead(kind, n)
	return
}

// flush writes each queued message until drained; the worker simply blocks.
func (ch *ByteChannel) flush(outbound *transport.Outbound) {
	for !outbound.IsEmpty() {
		w := outbound.Current()
		for len(w.Remaining()) > 0 {
			n, err := ch.transport.Write(w.Remaining())
			if n > 0 {
				w.Advance(n)
			}
			if err != nil {
				failure := transport.TransportFailure(transport.OpWrite, err)
				outbound.RemoveFailed(failure)
				ch.HandleError(failure)
				return
			}
		}
		outbound.Remove()
		ch.Metrics().MessageWritten(kind)
	}
}

type channelUnsafe struct {
	ch *ByteChannel
}

func (u channelUnsafe) DoRegister() error {
	return nil
}

func (u channelUnsafe) DoBind(addr net.Addr) error {
	return u.ch.transport.Bind(addr)
}

func (u channelUnsafe) DoConnect(remote net.Addr, local net.Addr) (bool, error) {
	if err := u.ch.transport.Connect(remote, local, transport.Get(u.ch.Config(), transport.ConnectTimeout)); err != nil {
		return false, err
	}
	return true, nil
}

func (u channelUnsafe) DoFinishConnect() (bool, error) {
	return true, nil
}

func (u channelUnsafe) DoBeginRead() error {
	u.ch.readPending = true
	return nil
}

func (u channelUnsafe) DoFlush(outbound *transport.Outbound) {
	u.ch.flush(outbound)
}

func (u channelUnsafe) DoClose() error {
	u.ch.worker.stop()
	return u.ch.transport.Close()
}

func (u channelUnsafe) LocalAddr0() (net.Addr, error) {
	return u.ch.transport.LocalAddr()
}

func (u channelUnsafe) RemoteAddr0() (net.Addr, error) {
	return u.ch.transport.RemoteAddr()
}

func (u channelUnsafe) Inbound() bytebuffers.Buffer {
	return u.ch.inbound
}
