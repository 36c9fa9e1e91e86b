package bytebuffers

import (
	"errors"
	"io"
	"math"
	"os"
)

// Buffer
// 带读写游标的可增长字节缓冲，容量受 MaxCap 限制。
type Buffer interface {
	Len() (n int)
	Cap() (n int)
	MaxCap() (n int)
	WritableBytes() (n int)
	Bytes() (p []byte)
	Peek(n int) (p []byte)
	Next(n int) (p []byte, err error)
	Discard(n int) (err error)
	Read(p []byte) (n int, err error)
	ReadByte() (c byte, err error)
	Write(p []byte) (n int, err error)
	WriteByte(c byte) (err error)
	Allocate(size int) (p []byte, err error)
	AllocatedWrote(n int) (err error)
	WritePending() bool
	ReaderIndex() (i int)
	SetReaderIndex(i int) (err error)
	Expand() (result ExpandResult)
	Reset()
}

// ExpandResult
// Expand 的结果。
type ExpandResult int

const (
	// ExpandNotNeeded means the buffer still has writable space.
	ExpandNotNeeded ExpandResult = iota
	// Expanded means capacity grew by at most one page.
	Expanded
	// ExpandFull means the buffer is at its max capacity and has no writable space.
	ExpandFull
)

func (r ExpandResult) String() string {
	switch r {
	case ExpandNotNeeded:
		return "not_needed"
	case Expanded:
		return "expanded"
	case ExpandFull:
		return "full"
	default:
		return "unknown"
	}
}

var (
	pagesize = os.Getpagesize()
)

const (
	DefaultMaxCap = math.MaxInt32
)

var (
	ErrTooLarge                  = errors.New("bytebuffers.Buffer: too large")
	ErrWriteBeforeAllocatedWrote = errors.New("bytebuffers: cannot write before AllocatedWrote(), cause prev Allocate() was not finished, please call AllocatedWrote() after the area was wrote")
	ErrAllocateZero              = errors.New("bytebuffers: cannot allocate zero")
	ErrIndexOutOfRange           = errors.New("bytebuffers: reader index out of range")
)

func NewBuffer() Buffer {
	return NewBoundedBuffer(0, DefaultMaxCap)
}

func NewBufferWithSize(size int) Buffer {
	return NewBoundedBuffer(size, DefaultMaxCap)
}

// NewBoundedBuffer
// 创建初始容量为 size 且容量不超过 maxCap 的缓冲。
func NewBoundedBuffer(size int, maxCap int) Buffer {
	return newBuffer(size, maxCap)
}

func newBuffer(size int, maxCap int) *buffer {
	if maxCap <= 0 {
		maxCap = DefaultMaxCap
	}
	if size < 0 {
		size = 0
	}
	if size > maxCap {
		size = maxCap
	}
	return &buffer{
		b:   make([]byte, size),
		max: maxCap,
	}
}

type buffer struct {
	b   []byte
	r   int
	w   int
	a   int
	max int
}

func (buf *buffer) Len() int { return buf.w - buf.r }

func (buf *buffer) Cap() int { return len(buf.b) }

func (buf *buffer) MaxCap() int { return buf.max }

// WritableBytes counts reclaimable consumed bytes as writable.
func (buf *buffer) WritableBytes() int {
	return len(buf.b) - (buf.a - buf.r)
}

func (buf *buffer) Bytes() []byte {
	return buf.b[buf.r:buf.w]
}

func (buf *buffer) Peek(n int) (p []byte) {
	bLen := buf.Len()
	if n < 1 || bLen == 0 {
		return
	}
	if bLen > n {
		p = buf.b[buf.r : buf.r+n]
		return
	}
	p = buf.b[buf.r:buf.w]
	return
}

func (buf *buffer) Next(n int) (p []byte, err error) {
	if n < 1 {
		return
	}
	bLen := buf.Len()
	if bLen == 0 {
		err = io.EOF
		return
	}
	if n > bLen {
		n = bLen
	}
	p = make([]byte, n)
	copy(p, buf.b[buf.r:buf.r+n])
	buf.r += n
	return
}

func (buf *buffer) Read(p []byte) (n int, err error) {
	if buf.Len() == 0 {
		err = io.EOF
		return
	}
	if len(p) == 0 {
		return
	}
	n = copy(p, buf.b[buf.r:buf.w])
	buf.r += n
	return
}

func (buf *buffer) ReadByte() (c byte, err error) {
	if buf.Len() == 0 {
		err = io.EOF
		return
	}
	c = buf.b[buf.r]
	buf.r++
	return
}

func (buf *buffer) Discard(n int) (err error) {
	if n < 1 {
		return
	}
	if bLen := buf.Len(); n > bLen {
		n = bLen
	}
	buf.r += n
	return
}

func (buf *buffer) Write(p []byte) (n int, err error) {
	if buf.WritePending() {
		err = ErrWriteBeforeAllocatedWrote
		return
	}
	pLen := len(p)
	if pLen == 0 {
		return
	}
	if err = buf.ensure(pLen); err != nil {
		return
	}
	n = copy(buf.b[buf.w:], p)
	buf.w += n
	buf.a = buf.w
	return
}

func (buf *buffer) WriteByte(c byte) (err error) {
	_, err = buf.Write([]byte{c})
	return
}

func (buf *buffer) WritePending() bool {
	return buf.a != buf.w
}

func (buf *buffer) Allocate(size int) (p []byte, err error) {
	if buf.WritePending() {
		err = ErrWriteBeforeAllocatedWrote
		return
	}
	if size < 1 {
		err = ErrAllocateZero
		return
	}
	if err = buf.ensure(size); err != nil {
		return
	}
	buf.a = buf.w + size
	p = buf.b[buf.w:buf.a]
	return
}

func (buf *buffer) AllocatedWrote(n int) (err error) {
	if buf.a == buf.w {
		return
	}
	if n < 0 {
		n = 0
	}
	if allocated := buf.a - buf.w; n > allocated {
		n = allocated
	}
	buf.w += n
	buf.a = buf.w
	return
}

func (buf *buffer) ReaderIndex() int {
	return buf.r
}

func (buf *buffer) SetReaderIndex(i int) (err error) {
	if i < 0 || i > buf.w {
		err = ErrIndexOutOfRange
		return
	}
	buf.r = i
	return
}

func (buf *buffer) Expand() ExpandResult {
	if buf.WritableBytes() > 0 {
		return ExpandNotNeeded
	}
	capacity := len(buf.b)
	if capacity >= buf.max {
		return ExpandFull
	}
	n := pagesize
	if capacity+n > buf.max {
		n = buf.max - capacity
	}
	buf.resize(capacity + n)
	return Expanded
}

func (buf *buffer) Reset() {
	buf.r = 0
	buf.w = 0
	buf.a = 0
}

// ensure makes room for n bytes after the writer index.
func (buf *buffer) ensure(n int) (err error) {
	if len(buf.b)-buf.w >= n {
		return
	}
	if buf.r > 0 {
		buf.compact()
		if len(buf.b)-buf.w >= n {
			return
		}
	}
	need := buf.w + n
	if need > buf.max || need < 0 {
		err = ErrTooLarge
		return
	}
	size := (need + pagesize - 1) / pagesize * pagesize
	if size > buf.max || size < 0 {
		size = buf.max
	}
	buf.resize(size)
	return
}

func (buf *buffer) compact() {
	if buf.r == 0 {
		return
	}
	copy(buf.b, buf.b[buf.r:buf.w])
	buf.w -= buf.r
	buf.a = buf.w
	buf.r = 0
}

func (buf *buffer) resize(size int) {
	buf.compact()
	nb := make([]byte, size)
	copy(nb, buf.b[:buf.w])
	buf.b = nb
}
