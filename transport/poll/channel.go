package poll

import (
	"context"
	"net"

	"github.com/brickingsoft/conduit/pkg/bytebuffers"
	"github.com/brickingsoft/conduit/pkg/poller"
	"github.com/brickingsoft/conduit/transport"
)

const (
	kind = "poll"
)

// MessageInfo
// 消息的附加信息：对端地址、流与协议标识。
type MessageInfo struct {
	Addr       net.Addr
	StreamID   int
	ProtocolID int
}

// MessageTransport
// 非阻塞的面向消息的传输。
// Receive 在无消息时返回 ok=false；Send 返回 0 且负载非空表示稍后重试，不是错误。
type MessageTransport interface {
	Fd() int
	Bind(addr net.Addr) (err error)
	Connect(remote net.Addr, local net.Addr) (done bool, err error)
	FinishConnect() (done bool, err error)
	Receive(p []byte) (n int, info MessageInfo, ok bool, err error)
	Send(p []byte, info MessageInfo) (n int, err error)
	LocalAddr() (addr net.Addr, err error)
	RemoteAddr() (addr net.Addr, err error)
	Close() (err error)
}

// MessageChannel
// 由 EventLoop 驱动的面向消息的通道。
type MessageChannel struct {
	*transport.Base
	loop      *EventLoop
	transport MessageTransport

	// loop-only
	interest poller.Interest
}

// NewMessageChannel
// 创建通道，需调用 Register 注册到循环。多宿主传输会获得 BindAddress / UnbindAddress 支持。
func NewMessageChannel(ctx context.Context, loop *EventLoop, mt MessageTransport, config *transport.Config, parent transport.Channel) *MessageChannel {
	ch := &MessageChannel{
		loop:      loop,
		transport: mt,
	}
	var unsafe transport.Unsafe = channelUnsafe{ch: ch}
	if mh, ok := mt.(transport.MultiHomed); ok {
		unsafe = multiHomedUnsafe{channelUnsafe: channelUnsafe{ch: ch}, MultiHomed: mh}
	}
	ch.Base = transport.NewBase(ctx, transport.BaseOptions{
		Kind:   kind,
		Parent: parent,
		Loop:   loop,
		Unsafe: unsafe,
		Config: config,
	})
	return ch
}

// Interest is loop-only.
func (ch *MessageChannel) Interest() poller.Interest {
	return ch.interest
}

func (ch *MessageChannel) setInterest(interest poller.Interest) (err error) {
	if interest == ch.interest {
		return
	}
	if err = ch.loop.modify(ch.transport.Fd(), interest); err != nil {
		return
	}
	ch.interest = interest
	return
}

func (ch *MessageChannel) addInterest(interest poller.Interest) error {
	return ch.setInterest(ch.interest | interest)
}

func (ch *MessageChannel) removeInterest(interest poller.Interest) error {
	return ch.setInterest(ch.interest &^ interest)
}

func (ch *MessageChannel) handle(ready poller.Interest) {
	if ch.State() == transport.StateConnecting {
		// connect failures surface as errors, which are reported as read readiness too
		if ready.Has(poller.Connect) || ready.Has(poller.Read) {
			ch.FinishConnect()
		}
		return
	}
	if !ch.IsOpen() {
		return
	}
	if ready.Has(poller.Write) && ch.interest.Has(poller.Write) {
		ch.flush()
	}
	// hang-up and errors are reported without read interest, so read regardless
	if ready.Has(poller.Read) && ch.IsOpen() {
		ch.read()
	}
}

func (ch *MessageChannel) read() {
	config := ch.Config()
	maxMessages := transport.Get(config, transport.MaxMessagesPerRead)
	size := transport.Get(config, transport.ReceiveBufferSize)
	metrics := ch.Metrics()

	var (
		readErr     error
		endOfStream bool
	)
	for i := 0; i < maxMessages; i++ {
		p := make([]byte, size)
		n, info, ok, err := ch.transport.Receive(p)
		if err != nil {
			if transport.IsEndOfStream(err) {
				endOfStream = true
			} else {
				readErr = transport.TransportFailure(transport.OpRead, err)
			}
			break
		}
		if !ok {
			break
		}
		metrics.MessageRead(kind)
		metrics.BytesRead(kind, n)
		msg := transport.Message{
			Payload:    net.Buffers{p[:n]},
			StreamID:   info.StreamID,
			ProtocolID: info.ProtocolID,
			Addr:       info.Addr,
		}
		if err = ch.Fire(transport.MessageReceived{Message: msg}); err != nil {
			readErr = err
			break
		}
		if !ch.IsOpen() {
			return
		}
	}
	if err := ch.Fire(transport.InboundBufferSuspended{}); err != nil && readErr == nil {
		readErr = err
	}
	if readErr != nil {
		ch.HandleError(readErr)
	}
	if endOfStream {
		ch.CloseNow()
		return
	}
	if ch.IsOpen() && !transport.Get(config, transport.AutoRead) {
		if err := ch.removeInterest(poller.Read); err != nil {
			ch.HandleError(transport.TransportFailure(transport.OpRead, err))
		}
	}
}

// flush writes queued messages; each message gets WriteSpinCount send attempts.
func (ch *MessageChannel) flush() {
	outbound := ch.Outbound()
	spin := transport.Get(ch.Config(), transport.WriteSpinCount)
	for !outbound.IsEmpty() {
		w := outbound.Current()
		wrote := false
		for i := spin - 1; i >= 0; i-- {
			done, err := ch.writeMessage(w, i == 0)
			if err != nil {
				outbound.RemoveFailed(err)
				ch.HandleError(err)
				return
			}
			if done {
				wrote = true
				break
			}
		}
		if !wrote {
			return
		}
		outbound.Remove()
		ch.Metrics().MessageWritten(kind)
	}
	if err := ch.removeInterest(poller.Write); err != nil {
		ch.HandleError(transport.TransportFailure(transport.OpWrite, err))
	}
}

// writeMessage makes one send attempt. A short write of a datagram is reported
// by the transport as zero bytes, so any progress completes the message.
func (ch *MessageChannel) writeMessage(w *transport.PendingWrite, lastSpin bool) (done bool, err error) {
	p := w.Payload()
	info := MessageInfo{
		Addr:       w.Message.Addr,
		StreamID:   w.Message.StreamID,
		ProtocolID: w.Message.ProtocolID,
	}
	n, sendErr := ch.transport.Send(p, info)
	if sendErr != nil {
		err = transport.TransportFailure(transport.OpWrite, sendErr)
		return
	}
	if n <= 0 && len(p) > 0 {
		if lastSpin && !ch.interest.Has(poller.Write) {
			if err = ch.addInterest(poller.Write); err != nil {
				err = transport.TransportFailure(transport.OpWrite, err)
				return
			}
			ch.Metrics().WriteInterest(kind)
		}
		return
	}
	w.Advance(n)
	done = true
	return
}

type channelUnsafe struct {
	ch *MessageChannel
}

func (u channelUnsafe) DoRegister() error {
	return u.ch.loop.add(u.ch.transport.Fd(), u.ch)
}

func (u channelUnsafe) DoBind(addr net.Addr) error {
	return u.ch.transport.Bind(addr)
}

func (u channelUnsafe) DoConnect(remote net.Addr, local net.Addr) (done bool, err error) {
	done, err = u.ch.transport.Connect(remote, local)
	if err != nil || done {
		return
	}
	err = u.ch.addInterest(poller.Connect)
	return
}

func (u channelUnsafe) DoFinishConnect() (done bool, err error) {
	if err = u.ch.removeInterest(poller.Connect); err != nil {
		return
	}
	return u.ch.transport.FinishConnect()
}

func (u channelUnsafe) DoBeginRead() error {
	return u.ch.addInterest(poller.Read)
}

func (u channelUnsafe) DoFlush(_ *transport.Outbound) {
	// a pending write interest means the transport is not writable yet
	if u.ch.interest.Has(poller.Write) {
		return
	}
	u.ch.flush()
}

func (u channelUnsafe) DoClose() error {
	removeErr := u.ch.loop.remove(u.ch.transport.Fd())
	u.ch.interest = 0
	if err := u.ch.transport.Close(); err != nil {
		return err
	}
	return removeErr
}

func (u channelUnsafe) LocalAddr0() (net.Addr, error) {
	return u.ch.transport.LocalAddr()
}

func (u channelUnsafe) RemoteAddr0() (net.Addr, error) {
	return u.ch.transport.RemoteAddr()
}

func (u channelUnsafe) Inbound() bytebuffers.Buffer {
	return nil
}

type multiHomedUnsafe struct {
	channelUnsafe
	transport.MultiHomed
}
