package codec

import (
	"context"

	"github.com/brickingsoft/rxp/async"
)

const FixedLengthDecoderKind = "fixed_length"

// NewFixedLengthDecoder
// 定长帧解码器。
func NewFixedLengthDecoder(fixed int) *ReplayingDecoder[int, []byte] {
	if fixed < 1 {
		panic("codec.FixedLengthDecoder: fixed must be > 0")
	}
	return NewReplayingDecoder[int, []byte](0, &FixedLengthDecoder{n: fixed}).Named(FixedLengthDecoderKind)
}

type FixedLengthDecoder struct {
	n int
}

func (decoder *FixedLengthDecoder) Decode(_ *Checkpoint[int], in *ReplayBuffer) ([]byte, error) {
	return in.ReadBytes(decoder.n)
}

func FixedEncode(ctx context.Context, writer FutureWriter, b []byte, fixed int) (future async.Future[int]) {
	return Encode[[]byte](ctx, NewFixedEncoder(fixed), writer, b)
}

func NewFixedEncoder(fixed int) *FixedEncoder {
	if fixed < 1 {
		panic("codec.FixedEncoder: fixed must be > 0")
	}
	return &FixedEncoder{
		n: fixed,
	}
}

// FixedEncoder
// 截断或以零填充到固定长度。
type FixedEncoder struct {
	n int
}

func (encoder *FixedEncoder) Encode(param []byte) (b []byte, err error) {
	n := encoder.n
	if pLen := len(param); pLen < n {
		n = pLen
	}
	b = make([]byte, encoder.n)
	copy(b, param[0:n])
	return
}
