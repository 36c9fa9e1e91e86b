//go:build linux

package blocking

import (
	"os"

	"github.com/brickingsoft/conduit/transport"
	"golang.org/x/sys/unix"
)

func available(fd int) int {
	n, err := unix.IoctlGetInt(fd, unix.TIOCINQ)
	if err != nil {
		return 0
	}
	return n
}

func setSocketOptions(fd int, config *transport.Config) error {
	if n := transport.Get(config, transport.SoRcvBuf); n > 0 {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, n); err != nil {
			return os.NewSyscallError("setsockopt", err)
		}
	}
	if n := transport.Get(config, transport.SoSndBuf); n > 0 {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, n); err != nil {
			return os.NewSyscallError("setsockopt", err)
		}
	}
	if transport.Get(config, transport.SoReuseAddr) {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			return os.NewSyscallError("setsockopt", err)
		}
	}
	if tos := transport.Get(config, transport.IPTos); tos > 0 {
		// IPv6 sockets reject IP_TOS; the traffic class is best effort there.
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_TOS, tos); err != nil {
			_ = unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_TCLASS, tos)
		}
	}
	return nil
}
