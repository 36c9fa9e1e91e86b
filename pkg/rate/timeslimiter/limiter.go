package timeslimiter

import (
	"context"
)

// Bucket
// 并发上限令牌桶。upperbound 小于 1 时不限制。
type Bucket struct {
	tokens chan struct{}
}

func New(upperbound int) *Bucket {
	if upperbound < 1 {
		return &Bucket{}
	}
	return &Bucket{tokens: make(chan struct{}, upperbound)}
}

// Wait
// 获取一个令牌，桶满时阻塞到有令牌归还或 ctx 结束。
func (bucket *Bucket) Wait(ctx context.Context) error {
	if bucket.tokens == nil {
		return nil
	}
	select {
	case bucket.tokens <- struct{}{}:
		return nil
	default:
	}
	select {
	case bucket.tokens <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryWait
// 不阻塞的获取令牌
func (bucket *Bucket) TryWait() bool {
	if bucket.tokens == nil {
		return true
	}
	select {
	case bucket.tokens <- struct{}{}:
		return true
	default:
		return false
	}
}

// Revert
// 归还一个令牌，没有已借出的令牌时无效。
func (bucket *Bucket) Revert() {
	if bucket.tokens == nil {
		return
	}
	select {
	case <-bucket.tokens:
	default:
	}
}

func (bucket *Bucket) Used() int {
	return len(bucket.tokens)
}

func (bucket *Bucket) Upperbound() int {
	return cap(bucket.tokens)
}
