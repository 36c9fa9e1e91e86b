//go:build linux

package poll

import (
	"net"
	"os"

	"github.com/brickingsoft/conduit/transport"
	"github.com/brickingsoft/errors"
	"golang.org/x/sys/unix"
)

// UDPTransport
// 非阻塞 UDP 套接字。连接立即完成，EAGAIN 视为无消息或写入 0 字节。
type UDPTransport struct {
	fd     int
	family int
}

// NewUDPTransport
// network 为 "udp"、"udp4"（IPv4）或 "udp6"（IPv6）。
func NewUDPTransport(network string, config *transport.Config) (t *UDPTransport, err error) {
	family := unix.AF_INET
	switch network {
	case "udp", "udp4":
		break
	case "udp6":
		family = unix.AF_INET6
		break
	default:
		err = errors.New(
			"new udp transport failed",
			errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
			errors.WithWrap(net.UnknownNetworkError(network)),
		)
		return
	}
	fd, sockErr := unix.Socket(family, unix.SOCK_DGRAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_UDP)
	if sockErr != nil {
		err = errors.New(
			"new udp transport failed",
			errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
			errors.WithWrap(os.NewSyscallError("socket", sockErr)),
		)
		return
	}
	if err = applySocketOptions(fd, family, config); err != nil {
		_ = unix.Close(fd)
		return
	}
	t = &UDPTransport{fd: fd, family: family}
	return
}

type sockopt struct {
	level int
	opt   int
	value int
	set   bool
}

func applySocketOptions(fd int, family int, config *transport.Config) error {
	rcvbuf := transport.Get(config, transport.SoRcvBuf)
	sndbuf := transport.Get(config, transport.SoSndBuf)
	tos := transport.Get(config, transport.IPTos)
	opts := []sockopt{
		{unix.SOL_SOCKET, unix.SO_RCVBUF, rcvbuf, rcvbuf > 0},
		{unix.SOL_SOCKET, unix.SO_SNDBUF, sndbuf, sndbuf > 0},
		{unix.SOL_SOCKET, unix.SO_REUSEADDR, boolint(transport.Get(config, transport.SoReuseAddr)), transport.Has(config, transport.SoReuseAddr)},
		{unix.SOL_SOCKET, unix.SO_BROADCAST, boolint(transport.Get(config, transport.SoBroadcast)), transport.Has(config, transport.SoBroadcast)},
	}
	if family == unix.AF_INET6 {
		opts = append(opts, sockopt{unix.IPPROTO_IPV6, unix.IPV6_TCLASS, tos, tos > 0})
	} else {
		opts = append(opts, sockopt{unix.IPPROTO_IP, unix.IP_TOS, tos, tos > 0})
	}
	for _, o := range opts {
		if !o.set {
			continue
		}
		if err := unix.SetsockoptInt(fd, o.level, o.opt, o.value); err != nil {
			return errors.New(
				"set socket option failed",
				errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
				errors.WithWrap(os.NewSyscallError("setsockopt", err)),
			)
		}
	}
	return nil
}

func boolint(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (t *UDPTransport) Fd() int {
	return t.fd
}

func (t *UDPTransport) Bind(addr net.Addr) error {
	sa, err := t.sockaddr(addr)
	if err != nil {
		return err
	}
	if err = unix.Bind(t.fd, sa); err != nil {
		return &net.OpError{Op: "bind", Net: "udp", Addr: addr, Err: os.NewSyscallError("bind", err)}
	}
	return nil
}

func (t *UDPTransport) Connect(remote net.Addr, local net.Addr) (done bool, err error) {
	if local != nil {
		if err = t.Bind(local); err != nil {
			return
		}
	}
	sa, saErr := t.sockaddr(remote)
	if saErr != nil {
		err = saErr
		return
	}
	if connErr := unix.Connect(t.fd, sa); connErr != nil {
		err = &net.OpError{Op: "connect", Net: "udp", Addr: remote, Err: os.NewSyscallError("connect", connErr)}
		return
	}
	done = true
	return
}

func (t *UDPTransport) FinishConnect() (bool, error) {
	return true, nil
}

func (t *UDPTransport) Receive(p []byte) (n int, info MessageInfo, ok bool, err error) {
	rn, from, recvErr := unix.Recvfrom(t.fd, p, 0)
	if recvErr != nil {
		if recvErr == unix.EAGAIN || recvErr == unix.EINTR {
			return
		}
		err = os.NewSyscallError("recvfrom", recvErr)
		return
	}
	n = rn
	if addr := fromSockaddr(from); addr != nil {
		info.Addr = addr
	}
	ok = true
	return
}

func (t *UDPTransport) Send(p []byte, info MessageInfo) (n int, err error) {
	var sa unix.Sockaddr
	if info.Addr != nil {
		if sa, err = t.sockaddr(info.Addr); err != nil {
			return
		}
	}
	if sendErr := unix.Sendto(t.fd, p, 0, sa); sendErr != nil {
		if sendErr == unix.EAGAIN || sendErr == unix.ENOBUFS || sendErr == unix.EINTR {
			return
		}
		err = os.NewSyscallError("sendto", sendErr)
		return
	}
	n = len(p)
	return
}

func (t *UDPTransport) LocalAddr() (net.Addr, error) {
	sa, err := unix.Getsockname(t.fd)
	if err != nil {
		return nil, os.NewSyscallError("getsockname", err)
	}
	if addr := fromSockaddr(sa); addr != nil {
		return addr, nil
	}
	return nil, transport.ErrUnsupported
}

func (t *UDPTransport) RemoteAddr() (net.Addr, error) {
	sa, err := unix.Getpeername(t.fd)
	if err != nil {
		return nil, os.NewSyscallError("getpeername", err)
	}
	if addr := fromSockaddr(sa); addr != nil {
		return addr, nil
	}
	return nil, transport.ErrUnsupported
}

func (t *UDPTransport) Close() error {
	if err := unix.Close(t.fd); err != nil {
		return os.NewSyscallError("close", err)
	}
	return nil
}

func (t *UDPTransport) sockaddr(addr net.Addr) (unix.Sockaddr, error) {
	udp, ok := addr.(*net.UDPAddr)
	if !ok || udp == nil {
		return nil, &net.AddrError{Err: "unexpected address type", Addr: addrString(addr)}
	}
	switch t.family {
	case unix.AF_INET:
		sa := &unix.SockaddrInet4{Port: udp.Port}
		if len(udp.IP) == 0 {
			return sa, nil
		}
		ip4 := udp.IP.To4()
		if ip4 == nil {
			return nil, &net.AddrError{Err: "non-IPv4 address", Addr: udp.String()}
		}
		copy(sa.Addr[:], ip4)
		return sa, nil
	default:
		sa := &unix.SockaddrInet6{Port: udp.Port}
		if len(udp.IP) != 0 {
			ip6 := udp.IP.To16()
			if ip6 == nil {
				return nil, &net.AddrError{Err: "non-IPv6 address", Addr: udp.String()}
			}
			copy(sa.Addr[:], ip6)
		}
		if udp.Zone != "" {
			if ifi, err := net.InterfaceByName(udp.Zone); err == nil {
				sa.ZoneId = uint32(ifi.Index)
			}
		}
		return sa, nil
	}
}

func fromSockaddr(sa unix.Sockaddr) net.Addr {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		ip := make(net.IP, net.IPv4len)
		copy(ip, sa.Addr[:])
		return &net.UDPAddr{IP: ip, Port: sa.Port}
	case *unix.SockaddrInet6:
		ip := make(net.IP, net.IPv6len)
		copy(ip, sa.Addr[:])
		addr := &net.UDPAddr{IP: ip, Port: sa.Port}
		if sa.ZoneId != 0 {
			if ifi, err := net.InterfaceByIndex(int(sa.ZoneId)); err == nil {
				addr.Zone = ifi.Name
			}
		}
		return addr
	default:
		return nil
	}
}

func addrString(addr net.Addr) string {
	if addr == nil {
		return "<nil>"
	}
	return addr.String()
}
