package codec

import (
	"encoding/binary"

	"github.com/brickingsoft/conduit/pkg/bytebuffers"
	"github.com/brickingsoft/errors"
)

var (
	ErrUnderflow     = errors.Define("not enough readable bytes")
	ErrNoProgress    = errors.Define("decoder produced a message without consuming bytes or advancing its checkpoint")
	ErrFrameTooLarge = errors.Define("frame is larger than the maximum frame length")
	ErrEmptyPacket   = errors.Define("empty packet")
)

const (
	errMetaPkgKey = "pkg"
	errMetaPkgVal = "codec"
)

// ReplayBuffer
// 解码器看到的入站视图。可读字节不足时返回 ErrUnderflow 且不移动读游标。
type ReplayBuffer struct {
	buf bytebuffers.Buffer
}

func NewReplayBuffer(buf bytebuffers.Buffer) *ReplayBuffer {
	return &ReplayBuffer{buf: buf}
}

func (in *ReplayBuffer) Len() int {
	return in.buf.Len()
}

func (in *ReplayBuffer) ensure(n int) error {
	if in.buf.Len() < n {
		return ErrUnderflow
	}
	return nil
}

func (in *ReplayBuffer) ReadByte() (b byte, err error) {
	if err = in.ensure(1); err != nil {
		return
	}
	return in.buf.ReadByte()
}

func (in *ReplayBuffer) ReadUint16() (v uint16, err error) {
	if err = in.ensure(2); err != nil {
		return
	}
	v = binary.BigEndian.Uint16(in.buf.Peek(2))
	err = in.buf.Discard(2)
	return
}

func (in *ReplayBuffer) ReadUint32() (v uint32, err error) {
	if err = in.ensure(4); err != nil {
		return
	}
	v = binary.BigEndian.Uint32(in.buf.Peek(4))
	err = in.buf.Discard(4)
	return
}

func (in *ReplayBuffer) ReadUint64() (v uint64, err error) {
	if err = in.ensure(8); err != nil {
		return
	}
	v = binary.BigEndian.Uint64(in.buf.Peek(8))
	err = in.buf.Discard(8)
	return
}

// ReadBytes returns a copy of the next n bytes.
func (in *ReplayBuffer) ReadBytes(n int) (p []byte, err error) {
	if n < 1 {
		p = []byte{}
		return
	}
	if err = in.ensure(n); err != nil {
		return
	}
	return in.buf.Next(n)
}

// Peek returns the next n bytes without consuming them. The slice is only valid until the next read.
func (in *ReplayBuffer) Peek(n int) (p []byte, err error) {
	if err = in.ensure(n); err != nil {
		return
	}
	p = in.buf.Peek(n)
	return
}

func (in *ReplayBuffer) Skip(n int) (err error) {
	if err = in.ensure(n); err != nil {
		return
	}
	return in.buf.Discard(n)
}

// Checkpoint
// 解码器的检查点：当前状态与该状态开始处的读游标。
type Checkpoint[S comparable] struct {
	initial S
	state   S
	index   int
	buf     bytebuffers.Buffer
}

func (cp *Checkpoint[S]) State() S {
	return cp.state
}

// Set records state and marks the current reader position as the replay point.
func (cp *Checkpoint[S]) Set(state S) {
	cp.state = state
	if cp.buf != nil {
		cp.index = cp.buf.ReaderIndex()
	}
}

func (cp *Checkpoint[S]) reset() {
	cp.state = cp.initial
}
