package transport

import (
	"github.com/brickingsoft/rxp/async"
	"github.com/eapache/queue"
)

// PendingWrite
// 出站队列中的待写消息。
type PendingWrite struct {
	Message Message
	promise async.Promise[int]
	flat    []byte
	wrote   int
}

// Payload returns the contiguous payload, flattening it once.
func (w *PendingWrite) Payload() []byte {
	if w.flat == nil {
		w.flat = w.Message.Flatten()
	}
	return w.flat
}

// Remaining returns the bytes not yet written.
func (w *PendingWrite) Remaining() []byte {
	return w.Payload()[w.wrote:]
}

// Advance records n more written bytes.
func (w *PendingWrite) Advance(n int) {
	w.wrote += n
}

func (w *PendingWrite) Wrote() int {
	return w.wrote
}

func (w *PendingWrite) succeed() {
	if w.promise != nil {
		w.promise.Succeed(w.wrote)
	}
}

func (w *PendingWrite) fail(err error) {
	if w.promise != nil {
		w.promise.Fail(err)
	}
}

// Outbound
// 出站消息队列，仅由所属循环访问。
type Outbound struct {
	q *queue.Queue
}

func NewOutbound() *Outbound {
	return &Outbound{q: queue.New()}
}

func (out *Outbound) Add(msg Message, promise async.Promise[int]) {
	out.q.Add(&PendingWrite{Message: msg, promise: promise})
}

func (out *Outbound) Len() int {
	return out.q.Length()
}

func (out *Outbound) IsEmpty() bool {
	return out.q.Length() == 0
}

// Current returns the head of the queue or nil.
func (out *Outbound) Current() *PendingWrite {
	if out.q.Length() == 0 {
		return nil
	}
	return out.q.Peek().(*PendingWrite)
}

// Remove dequeues the head and completes its future with the written byte count.
func (out *Outbound) Remove() {
	if out.q.Length() == 0 {
		return
	}
	w := out.q.Remove().(*PendingWrite)
	w.succeed()
}

// RemoveFailed dequeues the head and fails its future.
func (out *Outbound) RemoveFailed(err error) {
	if out.q.Length() == 0 {
		return
	}
	w := out.q.Remove().(*PendingWrite)
	w.fail(err)
}

func (out *Outbound) FailAll(err error) {
	for out.q.Length() > 0 {
		w := out.q.Remove().(*PendingWrite)
		w.fail(err)
	}
}
