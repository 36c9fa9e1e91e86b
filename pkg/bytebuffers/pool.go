package bytebuffers

import (
	"sync"
)

const (
	maxPooledCap = 1 << 20
)

var pool = sync.Pool{
	New: func() interface{} {
		return newBuffer(0, DefaultMaxCap)
	},
}

// Acquire
// 从池中获取一个容量上限为 maxCap 的空缓冲。
func Acquire(maxCap int) Buffer {
	buf := pool.Get().(*buffer)
	if maxCap <= 0 {
		maxCap = DefaultMaxCap
	}
	buf.max = maxCap
	if len(buf.b) > maxCap {
		buf.b = make([]byte, maxCap)
	}
	return buf
}

// Release
// 归还缓冲，容量过大的缓冲直接丢弃。
func Release(b Buffer) {
	buf, ok := b.(*buffer)
	if !ok || buf == nil {
		return
	}
	if len(buf.b) > maxPooledCap {
		return
	}
	buf.Reset()
	pool.Put(buf)
}
