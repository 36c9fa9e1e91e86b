//go:build !linux

package blocking

import (
	"github.com/brickingsoft/conduit/transport"
)

func available(fd int) int {
	return 0
}

func setSocketOptions(fd int, config *transport.Config) error {
	return nil
}
