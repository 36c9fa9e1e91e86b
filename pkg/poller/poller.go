package poller

import (
	"strings"
	"time"

	"github.com/brickingsoft/errors"
)

// Interest
// 就绪兴趣集合。
type Interest uint32

const (
	Read Interest = 1 << iota
	Write
	Connect
)

func (i Interest) Has(o Interest) bool {
	return i&o != 0
}

func (i Interest) String() string {
	if i == 0 {
		return "none"
	}
	parts := make([]string, 0, 3)
	if i.Has(Read) {
		parts = append(parts, "read")
	}
	if i.Has(Write) {
		parts = append(parts, "write")
	}
	if i.Has(Connect) {
		parts = append(parts, "connect")
	}
	return strings.Join(parts, "|")
}

// Poller
// 就绪事件源。Wait 只能在单个协程中调用，Wakeup 可跨协程调用。
type Poller interface {
	Add(fd int, interest Interest) (err error)
	Modify(fd int, interest Interest) (err error)
	Remove(fd int) (err error)
	// Wait blocks at most timeout (negative blocks forever) and calls fn once per ready fd.
	Wait(timeout time.Duration, fn func(fd int, ready Interest)) (err error)
	Wakeup() (err error)
	Close() (err error)
}

var (
	ErrUnsupported = errors.Define("poller is not supported on this platform")
	ErrClosed      = errors.Define("poller closed")
)

const (
	errMetaPkgKey = "pkg"
	errMetaPkgVal = "poller"
	errMetaOpKey  = "op"
)
