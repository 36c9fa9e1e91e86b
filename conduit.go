// Package conduit
// 事件驱动的网络传输框架：就绪模型的消息通道、阻塞模型的字节通道、处理器流水线与增量解码。
package conduit

import (
	"github.com/brickingsoft/conduit/transport"
	"github.com/brickingsoft/conduit/transport/poll"
)

// NewEventLoop
// 创建事件循环。一个循环在单个协程上服务其注册的全部消息通道。
func NewEventLoop(options ...Option) (*poll.EventLoop, error) {
	opts, err := newOptions(options)
	if err != nil {
		return nil, err
	}
	return poll.NewEventLoop(transport.Get(opts.Config, transport.Logger))
}

func isPacketNetwork(network string) bool {
	switch network {
	case "udp", "udp4", "udp6":
		return true
	default:
		return false
	}
}
