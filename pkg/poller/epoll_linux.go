//go:build linux

package poller

import (
	"encoding/binary"
	"os"
	"sync/atomic"
	"time"

	"github.com/brickingsoft/errors"
	"golang.org/x/sys/unix"
)

const (
	maxEvents = 128
)

// Open
// 打开 epoll 事件源，并注册用于唤醒的 eventfd。
func Open() (Poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, errors.New(
			"open failed",
			errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
			errors.WithMeta(errMetaOpKey, "open"),
			errors.WithWrap(os.NewSyscallError("epoll_create1", err)),
		)
	}
	wfd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		_ = unix.Close(fd)
		return nil, errors.New(
			"open failed",
			errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
			errors.WithMeta(errMetaOpKey, "open"),
			errors.WithWrap(os.NewSyscallError("eventfd", err)),
		)
	}
	p := &epoll{
		fd:     fd,
		wfd:    wfd,
		events: make([]unix.EpollEvent, maxEvents),
	}
	if err = p.ctl(unix.EPOLL_CTL_ADD, wfd, unix.EPOLLIN); err != nil {
		_ = unix.Close(wfd)
		_ = unix.Close(fd)
		return nil, err
	}
	return p, nil
}

type epoll struct {
	fd     int
	wfd    int
	events []unix.EpollEvent
	closed atomic.Bool
}

func (p *epoll) Add(fd int, interest Interest) error {
	return p.ctl(unix.EPOLL_CTL_ADD, fd, toEpollEvents(interest))
}

func (p *epoll) Modify(fd int, interest Interest) error {
	return p.ctl(unix.EPOLL_CTL_MOD, fd, toEpollEvents(interest))
}

func (p *epoll) Remove(fd int) error {
	return p.ctl(unix.EPOLL_CTL_DEL, fd, 0)
}

func (p *epoll) Wait(timeout time.Duration, fn func(fd int, ready Interest)) error {
	if p.closed.Load() {
		return ErrClosed
	}
	msec := -1
	if timeout >= 0 {
		msec = int(timeout / time.Millisecond)
	}
	n, err := unix.EpollWait(p.fd, p.events, msec)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return errors.New(
			"wait failed",
			errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
			errors.WithMeta(errMetaOpKey, "wait"),
			errors.WithWrap(os.NewSyscallError("epoll_wait", err)),
		)
	}
	for i := 0; i < n; i++ {
		ev := p.events[i]
		fd := int(ev.Fd)
		if fd == p.wfd {
			var data [8]byte
			_, _ = unix.Read(p.wfd, data[:])
			continue
		}
		fn(fd, fromEpollEvents(ev.Events))
	}
	return nil
}

func (p *epoll) Wakeup() error {
	if p.closed.Load() {
		return ErrClosed
	}
	var data [8]byte
	binary.LittleEndian.PutUint64(data[:], 1)
	_, err := unix.Write(p.wfd, data[:])
	if err != nil && err != unix.EAGAIN {
		return os.NewSyscallError("write", err)
	}
	return nil
}

func (p *epoll) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := unix.Close(p.wfd); err != nil {
		_ = unix.Close(p.fd)
		return os.NewSyscallError("close", err)
	}
	if err := unix.Close(p.fd); err != nil {
		return os.NewSyscallError("close", err)
	}
	return nil
}

func (p *epoll) ctl(op int, fd int, events uint32) error {
	ev := &unix.EpollEvent{Events: events, Fd: int32(fd)}
	if op == unix.EPOLL_CTL_DEL {
		ev = nil
	}
	if err := unix.EpollCtl(p.fd, op, fd, ev); err != nil {
		return errors.New(
			"control failed",
			errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
			errors.WithMeta(errMetaOpKey, "ctl"),
			errors.WithWrap(os.NewSyscallError("epoll_ctl", err)),
		)
	}
	return nil
}

// connect completion is reported as writability.
func toEpollEvents(interest Interest) (events uint32) {
	if interest.Has(Read) {
		events |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if interest.Has(Write) || interest.Has(Connect) {
		events |= unix.EPOLLOUT
	}
	return
}

func fromEpollEvents(events uint32) (ready Interest) {
	if events&(unix.EPOLLIN|unix.EPOLLRDHUP|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
		ready |= Read
	}
	if events&unix.EPOLLOUT != 0 {
		ready |= Write | Connect
	}
	if events&unix.EPOLLERR != 0 {
		ready |= Write | Connect
	}
	return
}
