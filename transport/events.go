package transport

// Event
// 流水线事件，处理器按具体类型分派。
type Event interface{}

type ChannelActive struct{}

type ChannelInactive struct{}

// InboundBufferUpdated signals new bytes in the channel's inbound buffer.
type InboundBufferUpdated struct{}

// InboundBufferSuspended signals the end of a read burst.
type InboundBufferSuspended struct{}

// MessageReceived carries a received datagram or a decoded message.
type MessageReceived struct {
	Message any
}

type ExceptionCaught struct {
	Err error
}

type UserEventTriggered struct {
	Event any
}

// InputShutdownEvent is fired as a user event once the input side of a half-closed channel is shut down.
type InputShutdownEvent struct{}
