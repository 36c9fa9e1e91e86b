package codec

import (
	"context"
	"fmt"

	"github.com/brickingsoft/conduit/transport"
	"github.com/brickingsoft/errors"
	"github.com/brickingsoft/rxp/async"
)

// Decoder
// 增量解码器。
// 可读字节不足时直接返回 ReplayBuffer 的 ErrUnderflow，框架会把读游标回退到最近的检查点，
// 待更多字节到达后从该检查点的状态重新调用 Decode。
// 返回的其它错误会交给通道处理。
type Decoder[S comparable, T any] interface {
	Decode(cp *Checkpoint[S], in *ReplayBuffer) (message T, err error)
}

// ReplayingDecoder
// 将 Decoder 适配为流水线处理器，消费通道的入站缓冲并向后续处理器发出消息。
type ReplayingDecoder[S comparable, T any] struct {
	kind       string
	decoder    Decoder[S, T]
	checkpoint Checkpoint[S]
	once       bool
}

func NewReplayingDecoder[S comparable, T any](initial S, decoder Decoder[S, T]) *ReplayingDecoder[S, T] {
	return &ReplayingDecoder[S, T]{
		kind:    fmt.Sprintf("%T", decoder),
		decoder: decoder,
		checkpoint: Checkpoint[S]{
			initial: initial,
			state:   initial,
		},
	}
}

// Once
// 单次解码：发出第一个消息后移出流水线，剩余字节转交后续处理器。
func (d *ReplayingDecoder[S, T]) Once() *ReplayingDecoder[S, T] {
	d.once = true
	return d
}

// Named
// 设置解码器种类，用于指标标签与错误信息，默认为 Decoder 的类型名。
func (d *ReplayingDecoder[S, T]) Named(kind string) *ReplayingDecoder[S, T] {
	d.kind = kind
	return d
}

func (d *ReplayingDecoder[S, T]) Kind() string {
	return d.kind
}

func (d *ReplayingDecoder[S, T]) State() S {
	return d.checkpoint.state
}

func (d *ReplayingDecoder[S, T]) Handle(ctx *transport.HandlerContext, event transport.Event) error {
	switch event.(type) {
	case transport.InboundBufferUpdated:
		return d.decode(ctx)
	default:
		return ctx.Fire(event)
	}
}

func (d *ReplayingDecoder[S, T]) decode(ctx *transport.HandlerContext) (err error) {
	buf := ctx.Inbound()
	if buf == nil {
		return ctx.Fire(transport.InboundBufferUpdated{})
	}
	in := &ReplayBuffer{buf: buf}
	d.checkpoint.buf = buf
	defer func() {
		d.checkpoint.buf = nil
	}()
	for buf.Len() > 0 && !ctx.IsRemoved() {
		start := buf.ReaderIndex()
		state := d.checkpoint.state
		d.checkpoint.index = start
		message, decodeErr := d.decoder.Decode(&d.checkpoint, in)
		if decodeErr != nil {
			if errors.Is(decodeErr, ErrUnderflow) {
				_ = buf.SetReaderIndex(d.checkpoint.index)
				metricsOf(ctx).DecodeUnderflow(d.kind)
				return
			}
			err = decodeErr
			return
		}
		if buf.ReaderIndex() == start && d.checkpoint.state == state {
			err = errors.From(
				ErrNoProgress,
				errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
				errors.WithMeta("decoder", d.kind),
				errors.WithMeta("handler", ctx.Name()),
			)
			return
		}
		d.checkpoint.reset()
		if err = ctx.FireMessage(message); err != nil {
			return
		}
		if d.once {
			ctx.Remove()
		}
	}
	if ctx.IsRemoved() && buf.Len() > 0 {
		err = ctx.Fire(transport.InboundBufferUpdated{})
	}
	return
}

func metricsOf(ctx *transport.HandlerContext) *transport.Metrics {
	ch := ctx.Channel()
	if ch == nil {
		return nil
	}
	return transport.Get(ch.Config(), transport.MetricsCollector)
}

// DecodeOnce
// 单次解析：在流水线头部安装 decoder，future 以其发出的第一个 T 类型消息完成，随后 decoder 被移除。
// 通道异常或关闭时 future 失败。
func DecodeOnce[T any](ctx context.Context, pipeline *transport.Pipeline, decoder transport.Handler, options ...async.Option) (future async.Future[T]) {
	options = append(options, async.WithWait())
	promise, promiseErr := async.Make[T](ctx, options...)
	if promiseErr != nil {
		future = async.FailedImmediately[T](ctx, promiseErr)
		return
	}
	future = promise.Future()

	name := "decode-once-" + transport.NewID().String()
	decoderName := name + "-decoder"
	completed := false
	finish := func(hctx *transport.HandlerContext) bool {
		if completed {
			return false
		}
		completed = true
		pipeline.Remove(decoderName)
		hctx.Remove()
		return true
	}
	capture := transport.HandlerFunc(func(hctx *transport.HandlerContext, event transport.Event) error {
		switch e := event.(type) {
		case transport.MessageReceived:
			message, ok := e.Message.(T)
			if !ok {
				break
			}
			if finish(hctx) {
				promise.Succeed(message)
			}
			return nil
		case transport.ExceptionCaught:
			if finish(hctx) {
				promise.Fail(e.Err)
			}
			break
		case transport.ChannelInactive:
			if finish(hctx) {
				promise.Fail(transport.ErrClosed)
			}
			break
		}
		return hctx.Fire(event)
	})
	if err := pipeline.AddFirst(name, capture); err != nil {
		promise.Fail(err)
		return
	}
	if err := pipeline.AddFirst(decoderName, decoder); err != nil {
		pipeline.Remove(name)
		promise.Fail(err)
		return
	}
	return
}
