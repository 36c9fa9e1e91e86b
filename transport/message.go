package transport

import (
	"net"
)

// Message
// 面向消息的传输单元。Payload 可以是分片的。
type Message struct {
	Payload net.Buffers
	// StreamID and ProtocolID are carried for multi-stream transports; zero otherwise.
	StreamID   int
	ProtocolID int
	// Addr is the peer address: source on receive, destination on send (nil uses the connected peer).
	Addr net.Addr
}

func NewMessage(p []byte) Message {
	return Message{Payload: net.Buffers{p}}
}

func (msg Message) Len() (n int) {
	for _, b := range msg.Payload {
		n += len(b)
	}
	return
}

// Flatten
// 返回连续的负载，已连续时不复制。
func (msg Message) Flatten() []byte {
	switch len(msg.Payload) {
	case 0:
		return nil
	case 1:
		return msg.Payload[0]
	}
	p := make([]byte, 0, msg.Len())
	for _, b := range msg.Payload {
		p = append(p, b...)
	}
	return p
}

// Bytes returns a copy of the payload.
func (msg Message) Bytes() []byte {
	p := make([]byte, 0, msg.Len())
	for _, b := range msg.Payload {
		p = append(p, b...)
	}
	return p
}
