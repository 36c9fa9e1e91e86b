//go:build !linux

package poll

import (
	"github.com/brickingsoft/conduit/transport"
)

func NewUDPTransport(network string, config *transport.Config) (*UDPTransport, error) {
	return nil, transport.ErrUnsupported
}

// UDPTransport is only available on linux.
type UDPTransport struct{}
