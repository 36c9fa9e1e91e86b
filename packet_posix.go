//go:build !linux

package conduit

import (
	"context"

	"github.com/brickingsoft/conduit/transport"
)

func ListenPacket(ctx context.Context, network string, address string, options ...Option) (transport.Channel, error) {
	return nil, opError(opListen, network, address, transport.ErrUnsupported)
}

func DialPacket(ctx context.Context, network string, address string, options ...Option) (transport.Channel, error) {
	return nil, opError(opDial, network, address, transport.ErrUnsupported)
}
