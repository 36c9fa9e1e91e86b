package poll

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brickingsoft/conduit/pkg/poller"
	"github.com/brickingsoft/errors"
	"github.com/eapache/queue"
)

var (
	ErrLoopClosed = errors.Define("event loop closed")
)

const (
	errMetaPkgKey = "pkg"
	errMetaPkgVal = "poll"
	errMetaOpKey  = "op"
)

const (
	pollFailureBackoff = 10 * time.Millisecond
)

// EventLoop
// 单协程反应器：串行处理就绪事件与投递的任务，拥有其注册通道的全部状态。
type EventLoop struct {
	poller poller.Poller
	logger *slog.Logger

	mu     sync.Mutex
	tasks  *queue.Queue
	closed atomic.Bool
	done   chan struct{}

	// loop-only
	channels map[int]*MessageChannel
}

// NewEventLoop
// 打开平台 poller 并启动循环协程。
func NewEventLoop(logger *slog.Logger) (loop *EventLoop, err error) {
	p, openErr := poller.Open()
	if openErr != nil {
		err = errors.New(
			"new event loop failed",
			errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
			errors.WithWrap(openErr),
		)
		return
	}
	loop = newEventLoop(p, logger)
	return
}

func newEventLoop(p poller.Poller, logger *slog.Logger) *EventLoop {
	if logger == nil {
		logger = slog.Default()
	}
	loop := &EventLoop{
		poller:   p,
		logger:   logger.With(slog.String("component", "event_loop")),
		tasks:    queue.New(),
		done:     make(chan struct{}),
		channels: make(map[int]*MessageChannel),
	}
	go loop.run()
	return loop
}

// Execute
// 将任务加入运行队列并唤醒循环，从不内联执行。
func (loop *EventLoop) Execute(task func()) error {
	loop.mu.Lock()
	if loop.closed.Load() {
		loop.mu.Unlock()
		return ErrLoopClosed
	}
	loop.tasks.Add(task)
	loop.mu.Unlock()
	if err := loop.poller.Wakeup(); err != nil && !errors.Is(err, poller.ErrClosed) {
		return err
	}
	return nil
}

// Close stops the loop; registered channels are closed on the loop before it exits.
func (loop *EventLoop) Close() error {
	loop.mu.Lock()
	if loop.closed.Load() {
		loop.mu.Unlock()
		return nil
	}
	loop.closed.Store(true)
	loop.mu.Unlock()
	return loop.poller.Wakeup()
}

func (loop *EventLoop) Done() <-chan struct{} {
	return loop.done
}

func (loop *EventLoop) run() {
	defer close(loop.done)
	for {
		loop.runTasks()
		if loop.closed.Load() {
			loop.shutdown()
			return
		}
		if err := loop.poller.Wait(-1, loop.dispatch); err != nil {
			if errors.Is(err, poller.ErrClosed) {
				loop.shutdown()
				return
			}
			loop.logger.Error("poll failed", slog.String("error", err.Error()))
			time.Sleep(pollFailureBackoff)
		}
	}
}

func (loop *EventLoop) runTasks() {
	loop.mu.Lock()
	n := loop.tasks.Length()
	if n == 0 {
		loop.mu.Unlock()
		return
	}
	batch := make([]func(), n)
	for i := 0; i < n; i++ {
		batch[i] = loop.tasks.Remove().(func())
	}
	loop.mu.Unlock()
	for _, task := range batch {
		loop.runTask(task)
	}
}

func (loop *EventLoop) runTask(task func()) {
	defer func() {
		if r := recover(); r != nil {
			loop.logger.Error("task panicked", slog.String("panic", fmt.Sprintf("%+v", r)))
		}
	}()
	task()
}

func (loop *EventLoop) shutdown() {
	for _, ch := range loop.channels {
		ch.CloseNow()
	}
	loop.runTasks()
	if err := loop.poller.Close(); err != nil {
		loop.logger.Debug("close poller failed", slog.String("error", err.Error()))
	}
}

func (loop *EventLoop) dispatch(fd int, ready poller.Interest) {
	ch, has := loop.channels[fd]
	if !has {
		return
	}
	loop.runTask(func() {
		ch.handle(ready)
	})
}

func (loop *EventLoop) add(fd int, ch *MessageChannel) error {
	if err := loop.poller.Add(fd, 0); err != nil {
		return err
	}
	loop.channels[fd] = ch
	return nil
}

func (loop *EventLoop) modify(fd int, interest poller.Interest) error {
	return loop.poller.Modify(fd, interest)
}

func (loop *EventLoop) remove(fd int) error {
	if _, has := loop.channels[fd]; !has {
		return nil
	}
	delete(loop.channels, fd)
	return loop.poller.Remove(fd)
}
