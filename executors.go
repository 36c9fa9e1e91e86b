package conduit

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/brickingsoft/conduit/transport/poll"
	"github.com/brickingsoft/errors"
	"github.com/brickingsoft/rxp"
)

var (
	executors     rxp.Executors = nil
	executorsOnce sync.Once
	defaultLoop   *poll.EventLoop
	loopMu        sync.Mutex
)

// Startup
// 启动执行器
//
// conduit 的异步结果基于 rxp.Executors。
// 默认提供一个执行器，如果需要定制化，则使用 Startup 完成。
// 注意：必须在程序起始位置调用，否则无效。
func Startup(options ...Option) (err error) {
	defer func() {
		if r := recover(); r != nil {
			switch e := r.(type) {
			case error:
				err = e
				break
			case string:
				err = errors.New(e)
				break
			default:
				err = errors.New(fmt.Sprintf("%+v", r))
				break
			}
		}
	}()
	opts, optsErr := newOptions(options)
	if optsErr != nil {
		err = optsErr
		return
	}
	executors = rxp.New(opts.AsRxpOptions()...)
	return
}

// Shutdown
// 关闭默认事件循环与执行器
//
// 非优雅的，即不会等待所有协程执行完毕。
//
// 一般使用 ShutdownGracefully 来实现等待所有协程执行完毕。
func Shutdown() error {
	closeDefaultLoop()
	runtime.SetFinalizer(executors, nil)
	return Executors().Close()
}

// ShutdownGracefully
// 优雅的关闭默认事件循环与执行器
//
// 它会等待所有协程执行完毕。
//
// 如果需要支持超时机制，则需要在 Startup 里进行设置。
func ShutdownGracefully() error {
	closeDefaultLoop()
	runtime.SetFinalizer(executors, nil)
	return Executors().CloseGracefully()
}

// Executors
// 获取执行器
func Executors() rxp.Executors {
	executorsOnce.Do(func() {
		if executors == nil {
			executors = rxp.New()
			runtime.SetFinalizer(executors, rxp.Executors.CloseGracefully)
		}
	})
	return executors
}

func withExecutors(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return rxp.With(ctx, Executors())
}

// DefaultEventLoop
// 获取默认事件循环，首次调用时创建，关闭后再次调用会重新创建。
func DefaultEventLoop() (*poll.EventLoop, error) {
	loopMu.Lock()
	defer loopMu.Unlock()
	if defaultLoop != nil {
		select {
		case <-defaultLoop.Done():
			defaultLoop = nil
		default:
			return defaultLoop, nil
		}
	}
	loop, err := poll.NewEventLoop(nil)
	if err != nil {
		return nil, err
	}
	defaultLoop = loop
	return loop, nil
}

func closeDefaultLoop() {
	loopMu.Lock()
	loop := defaultLoop
	defaultLoop = nil
	loopMu.Unlock()
	if loop != nil {
		_ = loop.Close()
		<-loop.Done()
	}
}
