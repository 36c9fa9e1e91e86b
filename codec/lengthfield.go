package codec

import (
	"context"
	"encoding/binary"
	"strconv"

	"github.com/brickingsoft/errors"
	"github.com/brickingsoft/rxp/async"
)

const (
	lengthFieldSize = 8

	LengthFieldDecoderKind = "length_field"
)

const (
	lengthFieldStateLength = iota
	lengthFieldStateContent
)

type LengthFieldMessage struct {
	Length int
	Bytes  []byte
}

// NewLengthFieldDecoder
// 8 字节大端长度前缀的帧解码器，maxFrameLength 小于 1 时不限制。
func NewLengthFieldDecoder(maxFrameLength int) *ReplayingDecoder[int, LengthFieldMessage] {
	return NewReplayingDecoder[int, LengthFieldMessage](lengthFieldStateLength, &LengthFieldDecoder{max: maxFrameLength}).Named(LengthFieldDecoderKind)
}

type LengthFieldDecoder struct {
	max    int
	length int
}

func (decoder *LengthFieldDecoder) Decode(cp *Checkpoint[int], in *ReplayBuffer) (message LengthFieldMessage, err error) {
	switch cp.State() {
	case lengthFieldStateLength:
		size, readErr := in.ReadUint64()
		if readErr != nil {
			err = readErr
			return
		}
		if (decoder.max > 0 && size > uint64(decoder.max)) || size > uint64(maxInt) {
			err = errors.From(
				ErrFrameTooLarge,
				errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
				errors.WithMeta("length", strconv.FormatUint(size, 10)),
			)
			return
		}
		decoder.length = int(size)
		cp.Set(lengthFieldStateContent)
		fallthrough
	case lengthFieldStateContent:
		p, readErr := in.ReadBytes(decoder.length)
		if readErr != nil {
			err = readErr
			return
		}
		message.Length = decoder.length
		message.Bytes = p
	}
	return
}

const maxInt = int(^uint(0) >> 1)

type LengthFieldEncoder struct{}

func (encoder LengthFieldEncoder) Encode(p []byte) (b []byte, err error) {
	pLen := len(p)
	if pLen == 0 {
		err = errors.From(ErrEmptyPacket, errors.WithMeta(errMetaPkgKey, errMetaPkgVal))
		return
	}
	b = make([]byte, lengthFieldSize+pLen)
	binary.BigEndian.PutUint64(b, uint64(pLen))
	copy(b[lengthFieldSize:], p)
	return
}

func LengthFieldEncode(ctx context.Context, writer FutureWriter, p []byte) (future async.Future[int]) {
	return Encode[[]byte](ctx, LengthFieldEncoder{}, writer, p)
}
