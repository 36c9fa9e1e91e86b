package transport

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/brickingsoft/conduit/pkg/bytebuffers"
	"github.com/brickingsoft/errors"
)

// Handler
// 流水线处理器。返回的错误交由 I/O 循环处理。
type Handler interface {
	Handle(ctx *HandlerContext, event Event) (err error)
}

type HandlerFunc func(ctx *HandlerContext, event Event) (err error)

func (fn HandlerFunc) Handle(ctx *HandlerContext, event Event) error {
	return fn(ctx, event)
}

// HandlerContext
// 处理器在流水线中的位置。
type HandlerContext struct {
	pipeline *Pipeline
	name     string
	handler  Handler
	removed  bool
}

func (ctx *HandlerContext) Name() string {
	return ctx.name
}

func (ctx *HandlerContext) Handler() Handler {
	return ctx.handler
}

func (ctx *HandlerContext) Channel() Channel {
	return ctx.pipeline.channel
}

// Inbound returns the channel's inbound byte buffer, nil for message channels.
func (ctx *HandlerContext) Inbound() bytebuffers.Buffer {
	if ctx.pipeline.channel == nil {
		return nil
	}
	return ctx.pipeline.channel.Inbound()
}

func (ctx *HandlerContext) Logger() *slog.Logger {
	return ctx.pipeline.logger
}

// Fire passes the event to the next handler.
func (ctx *HandlerContext) Fire(event Event) error {
	return ctx.pipeline.fireFrom(ctx, event)
}

func (ctx *HandlerContext) FireMessage(msg any) error {
	return ctx.pipeline.fireFrom(ctx, MessageReceived{Message: msg})
}

// Write
// 写出消息且不等待结果，写失败以 ExceptionCaught 事件送达流水线。需要结果时使用 Channel().Write。
func (ctx *HandlerContext) Write(msg Message) {
	ctx.pipeline.channel.Send(msg)
}

// Remove
// 将处理器移出流水线。当前分派结束后生效，之后的事件不再经过它。
func (ctx *HandlerContext) Remove() {
	ctx.pipeline.remove(ctx)
}

func (ctx *HandlerContext) IsRemoved() bool {
	return ctx.removed
}

// Pipeline
// 有序处理器链，事件只在所属循环上分派。
type Pipeline struct {
	mu      sync.Mutex
	channel Channel
	logger  *slog.Logger
	stages  []*HandlerContext
	depth   int
	dirty   bool
}

func NewPipeline(channel Channel, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		channel: channel,
		logger:  logger,
	}
}

func (p *Pipeline) AddLast(name string, handler Handler) error {
	return p.add(name, handler, false)
}

func (p *Pipeline) AddFirst(name string, handler Handler) error {
	return p.add(name, handler, true)
}

func (p *Pipeline) add(name string, handler Handler, first bool) (err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, stage := range p.stages {
		if stage.name == name && !stage.removed {
			err = errors.New(
				"add handler failed",
				errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
				errors.WithMeta("name", name),
				errors.WithWrap(ErrDuplicateHandler),
			)
			return
		}
	}
	ctx := &HandlerContext{pipeline: p, name: name, handler: handler}
	if first {
		p.stages = append([]*HandlerContext{ctx}, p.stages...)
	} else {
		p.stages = append(p.stages, ctx)
	}
	return
}

// Remove removes the named handler and reports whether it was present.
func (p *Pipeline) Remove(name string) bool {
	ctx := p.Context(name)
	if ctx == nil {
		return false
	}
	p.remove(ctx)
	return true
}

func (p *Pipeline) Context(name string) *HandlerContext {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, stage := range p.stages {
		if stage.name == name && !stage.removed {
			return stage
		}
	}
	return nil
}

func (p *Pipeline) Get(name string) Handler {
	if ctx := p.Context(name); ctx != nil {
		return ctx.handler
	}
	return nil
}

func (p *Pipeline) Names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, 0, len(p.stages))
	for _, stage := range p.stages {
		if !stage.removed {
			names = append(names, stage.name)
		}
	}
	return names
}

// Fire dispatches the event from the head of the pipeline.
func (p *Pipeline) Fire(event Event) error {
	return p.fireFrom(nil, event)
}

func (p *Pipeline) remove(ctx *HandlerContext) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ctx.removed {
		return
	}
	ctx.removed = true
	p.dirty = true
	if p.depth == 0 {
		p.compact()
	}
}

func (p *Pipeline) compact() {
	stages := p.stages[:0]
	for _, stage := range p.stages {
		if !stage.removed {
			stages = append(stages, stage)
		}
	}
	for i := len(stages); i < len(p.stages); i++ {
		p.stages[i] = nil
	}
	p.stages = stages
	p.dirty = false
}

func (p *Pipeline) next(from *HandlerContext) *HandlerContext {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := 0
	if from != nil {
		for i < len(p.stages) && p.stages[i] != from {
			i++
		}
		i++
	}
	for ; i < len(p.stages); i++ {
		if !p.stages[i].removed {
			return p.stages[i]
		}
	}
	return nil
}

func (p *Pipeline) fireFrom(from *HandlerContext, event Event) (err error) {
	stage := p.next(from)
	if stage == nil {
		p.tail(event)
		return
	}
	p.mu.Lock()
	p.depth++
	p.mu.Unlock()
	err = stage.handler.Handle(stage, event)
	p.mu.Lock()
	p.depth--
	if p.depth == 0 && p.dirty {
		p.compact()
	}
	p.mu.Unlock()
	return
}

func (p *Pipeline) tail(event Event) {
	switch e := event.(type) {
	case ExceptionCaught:
		p.logger.Warn("exception reached the end of the pipeline", slog.String("error", errorString(e.Err)))
	case MessageReceived:
		p.logger.Debug("message reached the end of the pipeline and was dropped", slog.String("type", fmt.Sprintf("%T", e.Message)))
	}
}

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
