package blocking

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/brickingsoft/errors"
	"github.com/eapache/queue"
)

var (
	ErrWorkerClosed = errors.Define("channel worker closed")
)

const (
	errMetaPkgKey = "pkg"
	errMetaPkgVal = "blocking"
)

// worker
// 每个通道一个协程：交替执行投递的任务与阻塞读。
type worker struct {
	logger *slog.Logger

	mu     sync.Mutex
	tasks  *queue.Queue
	closed bool
	signal chan struct{}
	done   chan struct{}

	// interrupt cuts an in-flight blocking read short so queued tasks run promptly.
	interrupt func()
	readable  func() bool
	read      func()
	exit      func()
}

func newWorker(logger *slog.Logger) *worker {
	return &worker{
		logger: logger,
		tasks:  queue.New(),
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (w *worker) start() {
	go w.run()
}

// Execute
// 投递任务，从不内联执行。
func (w *worker) Execute(task func()) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrWorkerClosed
	}
	w.tasks.Add(task)
	w.mu.Unlock()
	w.wakeup()
	if w.interrupt != nil {
		w.interrupt()
	}
	return nil
}

func (w *worker) wakeup() {
	select {
	case w.signal <- struct{}{}:
	default:
	}
}

// stop is worker-only; tasks queued before it still run.
func (w *worker) stop() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	w.wakeup()
}

func (w *worker) isClosed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

func (w *worker) run() {
	defer close(w.done)
	defer func() {
		if w.exit != nil {
			w.exit()
		}
	}()
	for {
		w.runTasks()
		if w.isClosed() {
			w.runTasks()
			return
		}
		if w.readable() {
			w.safely(w.read)
			continue
		}
		<-w.signal
	}
}

// sleep blocks for d or until a task arrives.
func (w *worker) sleep(d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-w.signal:
	}
}

func (w *worker) runTasks() {
	w.mu.Lock()
	n := w.tasks.Length()
	if n == 0 {
		w.mu.Unlock()
		return
	}
	batch := make([]func(), n)
	for i := 0; i < n; i++ {
		batch[i] = w.tasks.Remove().(func())
	}
	w.mu.Unlock()
	for _, task := range batch {
		w.safely(task)
	}
}

func (w *worker) safely(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("worker task panicked", slog.String("panic", fmt.Sprintf("%+v", r)))
		}
	}()
	fn()
}
