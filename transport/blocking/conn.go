package blocking

import (
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/brickingsoft/conduit/transport"
	"github.com/brickingsoft/errors"
)

// ConnTransport
// 基于 net.Conn 的阻塞字节传输。读操作受 SoTimeout 限制，超时视为无数据。
type ConnTransport struct {
	network     string
	config      *transport.Config
	local       net.Addr
	soTimeout   time.Duration
	interrupted atomic.Bool

	mu   sync.RWMutex
	conn net.Conn
}

// NewConnTransport
// 创建未连接的传输，Connect 时拨号。
func NewConnTransport(network string, config *transport.Config) *ConnTransport {
	return &ConnTransport{
		network:   network,
		config:    config,
		soTimeout: transport.Get(config, transport.SoTimeout),
	}
}

// WrapConn
// 包装已建立的连接；Connect 直接完成。
func WrapConn(conn net.Conn, config *transport.Config) (t *ConnTransport, err error) {
	t = &ConnTransport{
		network:   conn.LocalAddr().Network(),
		config:    config,
		soTimeout: transport.Get(config, transport.SoTimeout),
		conn:      conn,
	}
	if err = t.applyConnOptions(conn); err != nil {
		t = nil
	}
	return
}

func (t *ConnTransport) getConn() net.Conn {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.conn
}

func (t *ConnTransport) Bind(addr net.Addr) error {
	if t.getConn() != nil {
		return transport.ErrAlreadyConnected
	}
	t.local = addr
	return nil
}

func (t *ConnTransport) Connect(remote net.Addr, local net.Addr, timeout time.Duration) error {
	if t.getConn() != nil {
		return nil
	}
	if local == nil {
		local = t.local
	}
	dialer := net.Dialer{
		Timeout:   timeout,
		LocalAddr: local,
		KeepAlive: -1,
		Control: func(network, address string, c syscall.RawConn) (err error) {
			if ctrlErr := c.Control(func(fd uintptr) {
				err = setSocketOptions(int(fd), t.config)
			}); ctrlErr != nil {
				err = ctrlErr
			}
			return
		},
	}
	conn, err := dialer.Dial(t.network, remote.String())
	if err != nil {
		return err
	}
	if err = t.applyConnOptions(conn); err != nil {
		_ = conn.Close()
		return err
	}
	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()
	return nil
}

func (t *ConnTransport) applyConnOptions(conn net.Conn) error {
	tcp, ok := conn.(*net.TCPConn)
	if !ok {
		return nil
	}
	if err := tcp.SetNoDelay(transport.Get(t.config, transport.TCPNoDelay)); err != nil {
		return err
	}
	if err := tcp.SetKeepAlive(transport.Get(t.config, transport.SoKeepAlive)); err != nil {
		return err
	}
	return nil
}

func (t *ConnTransport) Read(p []byte) (n int, err error) {
	conn := t.getConn()
	if conn == nil {
		err = transport.ErrNotConnected
		return
	}
	if err = conn.SetReadDeadline(time.Now().Add(t.soTimeout)); err != nil {
		return
	}
	if t.interrupted.Swap(false) {
		if err = conn.SetReadDeadline(time.Now()); err != nil {
			return
		}
	}
	n, err = conn.Read(p)
	if err != nil && transport.IsTimeout(err) {
		err = nil
	}
	return
}

func (t *ConnTransport) Write(p []byte) (n int, err error) {
	conn := t.getConn()
	if conn == nil {
		err = transport.ErrNotConnected
		return
	}
	return conn.Write(p)
}

func (t *ConnTransport) Available() int {
	conn := t.getConn()
	if conn == nil {
		return 0
	}
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return 0
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return 0
	}
	n := 0
	_ = raw.Control(func(fd uintptr) {
		n = available(int(fd))
	})
	return n
}

func (t *ConnTransport) Interrupt() {
	t.interrupted.Store(true)
	if conn := t.getConn(); conn != nil {
		_ = conn.SetReadDeadline(time.Now())
	}
}

func (t *ConnTransport) LocalAddr() (net.Addr, error) {
	conn := t.getConn()
	if conn == nil {
		if t.local != nil {
			return t.local, nil
		}
		return nil, transport.ErrNotConnected
	}
	return conn.LocalAddr(), nil
}

func (t *ConnTransport) RemoteAddr() (net.Addr, error) {
	conn := t.getConn()
	if conn == nil {
		return nil, transport.ErrNotConnected
	}
	return conn.RemoteAddr(), nil
}

func (t *ConnTransport) Close() error {
	conn := t.getConn()
	if conn == nil {
		return nil
	}
	if err := conn.Close(); err != nil {
		return errors.New(
			"close failed",
			errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
			errors.WithWrap(err),
		)
	}
	return nil
}
