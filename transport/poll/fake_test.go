package poll

import (
	"io"
	"net"
	"sync"
	"time"

	"github.com/brickingsoft/conduit/pkg/poller"
)

type readyEvent struct {
	fd    int
	ready poller.Interest
}

// fakePoller behaves like a level-triggered poller on an always-writable socket:
// write interest is reported on every Wait.
type fakePoller struct {
	mu             sync.Mutex
	interests      map[int]poller.Interest
	writeInterests int
	events         chan readyEvent
	wake           chan struct{}
	closed         chan struct{}
	once           sync.Once
}

func newFakePoller() *fakePoller {
	return &fakePoller{
		interests: make(map[int]poller.Interest),
		events:    make(chan readyEvent, 64),
		wake:      make(chan struct{}, 1),
		closed:    make(chan struct{}),
	}
}

func (p *fakePoller) Add(fd int, interest poller.Interest) error {
	p.mu.Lock()
	p.interests[fd] = interest
	p.mu.Unlock()
	return nil
}

func (p *fakePoller) Modify(fd int, interest poller.Interest) error {
	p.mu.Lock()
	if interest.Has(poller.Write) && !p.interests[fd].Has(poller.Write) {
		p.writeInterests++
	}
	p.interests[fd] = interest
	p.mu.Unlock()
	return nil
}

func (p *fakePoller) Remove(fd int) error {
	p.mu.Lock()
	delete(p.interests, fd)
	p.mu.Unlock()
	return nil
}

func (p *fakePoller) interest(fd int) poller.Interest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.interests[fd]
}

func (p *fakePoller) Wait(timeout time.Duration, fn func(fd int, ready poller.Interest)) error {
	p.mu.Lock()
	writable := make([]int, 0, 1)
	for fd, interest := range p.interests {
		if interest.Has(poller.Write) {
			writable = append(writable, fd)
		}
	}
	p.mu.Unlock()
	if len(writable) > 0 {
		for _, fd := range writable {
			fn(fd, poller.Write)
		}
		return nil
	}
	select {
	case ev := <-p.events:
		fn(ev.fd, ev.ready)
	case <-p.wake:
	case <-p.closed:
		return poller.ErrClosed
	}
	return nil
}

func (p *fakePoller) fire(fd int, ready poller.Interest) {
	p.events <- readyEvent{fd: fd, ready: ready}
}

func (p *fakePoller) Wakeup() error {
	select {
	case p.wake <- struct{}{}:
	default:
	}
	return nil
}

func (p *fakePoller) Close() error {
	p.once.Do(func() {
		close(p.closed)
	})
	return nil
}

type datagram struct {
	p    []byte
	addr net.Addr
}

type fakeTransport struct {
	mu          sync.Mutex
	fd          int
	acceptEvery int
	attempts    int
	sent        [][]byte
	inbox       []datagram
	eof         bool
	sendErr     error
	connectDone bool
	finishDone  bool
	closed      bool
	local       net.Addr
	remote      net.Addr
	boundIPs    []net.IP
}

func newFakeTransport(fd int) *fakeTransport {
	return &fakeTransport{
		fd:          fd,
		acceptEvery: 1,
		connectDone: true,
		finishDone:  true,
		local:       &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 7000},
	}
}

func (t *fakeTransport) Fd() int { return t.fd }

func (t *fakeTransport) Bind(addr net.Addr) error {
	t.mu.Lock()
	t.local = addr
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) Connect(remote net.Addr, local net.Addr) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.remote = remote
	return t.connectDone, nil
}

func (t *fakeTransport) FinishConnect() (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.finishDone, nil
}

func (t *fakeTransport) Receive(p []byte) (n int, info MessageInfo, ok bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.inbox) == 0 {
		if t.eof {
			err = io.EOF
		}
		return
	}
	d := t.inbox[0]
	t.inbox = t.inbox[1:]
	n = copy(p, d.p)
	info.Addr = d.addr
	ok = true
	return
}

func (t *fakeTransport) deliver(p []byte) {
	t.mu.Lock()
	t.inbox = append(t.inbox, datagram{p: p, addr: &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 7001}})
	t.mu.Unlock()
}

func (t *fakeTransport) Send(p []byte, info MessageInfo) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sendErr != nil {
		return 0, t.sendErr
	}
	t.attempts++
	if t.attempts%t.acceptEvery != 0 {
		return 0, nil
	}
	t.sent = append(t.sent, append([]byte(nil), p...))
	return len(p), nil
}

func (t *fakeTransport) sentMessages() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([][]byte(nil), t.sent...)
}

func (t *fakeTransport) LocalAddr() (net.Addr, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.local, nil
}

func (t *fakeTransport) RemoteAddr() (net.Addr, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.remote == nil {
		return nil, io.ErrClosedPipe
	}
	return t.remote, nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

type multiHomedTransport struct {
	*fakeTransport
}

func (t multiHomedTransport) LocalAddrs() ([]net.Addr, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	addrs := make([]net.Addr, 0, len(t.boundIPs))
	for _, ip := range t.boundIPs {
		addrs = append(addrs, &net.IPAddr{IP: ip})
	}
	return addrs, nil
}

func (t multiHomedTransport) RemoteAddrs() ([]net.Addr, error) {
	addr, err := t.RemoteAddr()
	if err != nil {
		return nil, err
	}
	return []net.Addr{addr}, nil
}

func (t multiHomedTransport) BindAddress(ip net.IP) error {
	t.mu.Lock()
	t.boundIPs = append(t.boundIPs, ip)
	t.mu.Unlock()
	return nil
}

func (t multiHomedTransport) UnbindAddress(ip net.IP) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, bound := range t.boundIPs {
		if bound.Equal(ip) {
			t.boundIPs = append(t.boundIPs[:i], t.boundIPs[i+1:]...)
			return nil
		}
	}
	return &net.AddrError{Err: "not bound", Addr: ip.String()}
}
