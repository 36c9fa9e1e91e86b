package blocking_test

import (
	"bytes"
	"context"
	"io"
	"net"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/brickingsoft/conduit/transport"
	"github.com/brickingsoft/conduit/transport/blocking"
	"github.com/brickingsoft/errors"
	"github.com/brickingsoft/rxp"
	"github.com/brickingsoft/rxp/async"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	exec := rxp.New()
	t.Cleanup(func() {
		_ = exec.Close()
	})
	return rxp.With(context.Background(), exec)
}

// scriptedTransport serves queued chunks, then end of stream or an error.
type scriptedTransport struct {
	mu         sync.Mutex
	chunks     [][]byte
	eof        bool
	readErr    error
	maxWrite   int
	written    bytes.Buffer
	closed     bool
	interrupts chan struct{}
}

func newScriptedTransport(chunks ...[]byte) *scriptedTransport {
	return &scriptedTransport{
		chunks:     chunks,
		interrupts: make(chan struct{}, 1),
	}
}

func (s *scriptedTransport) Bind(addr net.Addr) error { return nil }

func (s *scriptedTransport) Connect(remote net.Addr, local net.Addr, timeout time.Duration) error {
	return nil
}

func (s *scriptedTransport) Read(p []byte) (int, error) {
	s.mu.Lock()
	if len(s.chunks) > 0 {
		n := copy(p, s.chunks[0])
		s.chunks[0] = s.chunks[0][n:]
		if len(s.chunks[0]) == 0 {
			s.chunks = s.chunks[1:]
		}
		s.mu.Unlock()
		return n, nil
	}
	if s.readErr != nil {
		err := s.readErr
		s.mu.Unlock()
		return 0, err
	}
	if s.eof {
		s.mu.Unlock()
		return 0, io.EOF
	}
	s.mu.Unlock()
	select {
	case <-s.interrupts:
	case <-time.After(10 * time.Millisecond):
	}
	return 0, nil
}

func (s *scriptedTransport) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.maxWrite > 0 && len(p) > s.maxWrite {
		p = p[:s.maxWrite]
	}
	return s.written.Write(p)
}

func (s *scriptedTransport) Available() (n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, chunk := range s.chunks {
		n += len(chunk)
	}
	return
}

func (s *scriptedTransport) Interrupt() {
	select {
	case s.interrupts <- struct{}{}:
	default:
	}
}

func (s *scriptedTransport) LocalAddr() (net.Addr, error) {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 8000}, nil
}

func (s *scriptedTransport) RemoteAddr() (net.Addr, error) {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 8001}, nil
}

func (s *scriptedTransport) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *scriptedTransport) writtenString() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written.String()
}

type recorder struct {
	mu            sync.Mutex
	drain         bool
	trace         []string
	data          bytes.Buffer
	errs          []error
	inputShutdown int
}

func (r *recorder) Handle(ctx *transport.HandlerContext, event transport.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch e := event.(type) {
	case transport.InboundBufferUpdated:
		r.trace = append(r.trace, "updated")
		if r.drain {
			in := ctx.Inbound()
			p, _ := in.Next(in.Len())
			r.data.Write(p)
		}
	case transport.InboundBufferSuspended:
		r.trace = append(r.trace, "suspended")
	case transport.ExceptionCaught:
		r.trace = append(r.trace, "exception")
		r.errs = append(r.errs, e.Err)
	case transport.UserEventTriggered:
		if _, ok := e.Event.(transport.InputShutdownEvent); ok {
			r.inputShutdown++
		}
	case transport.ChannelActive:
		r.trace = append(r.trace, "active")
	case transport.ChannelInactive:
		r.trace = append(r.trace, "inactive")
	}
	return nil
}

func (r *recorder) snapshot() (trace []string, data string, errs []error, inputShutdown int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.trace...), r.data.String(), append([]error(nil), r.errs...), r.inputShutdown
}

func newChannel(t *testing.T, bt blocking.ByteTransport, config *transport.Config, r *recorder) *blocking.ByteChannel {
	t.Helper()
	if config == nil {
		config = transport.NewConfig()
	}
	require.NoError(t, transport.Set(config, transport.SoTimeout, 20*time.Millisecond))
	ch := blocking.NewByteChannel(testContext(t), bt, config, nil)
	t.Cleanup(func() {
		_, _ = async.AwaitableFuture(ch.Close()).Await()
	})
	require.NoError(t, ch.Pipeline().AddLast("recorder", r))
	_, err := async.AwaitableFuture(ch.Register()).Await()
	require.NoError(t, err)
	_, err = async.AwaitableFuture(ch.Connect(&net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 8001}, nil)).Await()
	require.NoError(t, err)
	return ch
}

func waitClosed(t *testing.T, ch transport.Channel) {
	t.Helper()
	select {
	case <-ch.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("channel was not closed")
	}
}

func TestByteChannel_EndOfStreamCloses(t *testing.T) {
	bt := newScriptedTransport([]byte("hello"))
	bt.eof = true
	r := &recorder{drain: true}
	ch := newChannel(t, bt, nil, r)

	waitClosed(t, ch)
	trace, data, errs, inputShutdown := r.snapshot()
	assert.Equal(t, "hello", data)
	assert.Empty(t, errs)
	assert.Equal(t, 0, inputShutdown)
	// the end of stream is observed by the read burst after the data
	assert.Equal(t, []string{"active", "updated", "suspended", "suspended", "inactive"}, trace)
}

func TestByteChannel_HalfClosure(t *testing.T) {
	config := transport.NewConfig()
	require.NoError(t, transport.Set(config, transport.AllowHalfClosure, true))
	bt := newScriptedTransport([]byte("hello"))
	bt.eof = true
	r := &recorder{drain: true}
	ch := newChannel(t, bt, config, r)

	require.Eventually(t, func() bool {
		_, _, _, n := r.snapshot()
		return n == 1
	}, 2*time.Second, 5*time.Millisecond)
	// several SoTimeout periods pass while input stays shut down
	time.Sleep(100 * time.Millisecond)
	_, data, _, inputShutdown := r.snapshot()
	assert.Equal(t, 1, inputShutdown)
	assert.Equal(t, "hello", data)
	assert.True(t, ch.IsOpen())

	// output remains usable
	n, err := async.AwaitableFuture(ch.Write(transport.NewMessage([]byte("bye")))).Await()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, "bye", bt.writtenString())
}

func TestByteChannel_HandlerNotDraining(t *testing.T) {
	config := transport.NewConfig()
	require.NoError(t, transport.Set(config, transport.InboundBufferMaxCapacity, 16))
	bt := newScriptedTransport(bytes.Repeat([]byte("x"), 64))
	r := &recorder{drain: false}
	ch := newChannel(t, bt, config, r)

	waitClosed(t, ch)
	trace, _, errs, _ := r.snapshot()
	require.Len(t, errs, 1)
	assert.True(t, errors.Is(errs[0], transport.ErrHandlerNotDraining))
	assert.Equal(t, []string{"active", "updated", "suspended", "exception", "inactive"}, trace)
}

func TestByteChannel_FullBufferNotDrained(t *testing.T) {
	config := transport.NewConfig()
	require.NoError(t, transport.Set(config, transport.InboundBufferMaxCapacity, 16))
	// exactly fills the buffer, so the first burst ends without seeing it full
	bt := newScriptedTransport(bytes.Repeat([]byte("x"), 16))
	r := &recorder{drain: false}
	ch := newChannel(t, bt, config, r)

	waitClosed(t, ch)
	trace, _, errs, _ := r.snapshot()
	require.Len(t, errs, 1)
	assert.True(t, errors.Is(errs[0], transport.ErrHandlerNotDraining))
	assert.Equal(t, []string{"active", "updated", "suspended", "suspended", "exception", "inactive"}, trace)
}

func TestByteChannel_BoundedBufferDrained(t *testing.T) {
	config := transport.NewConfig()
	require.NoError(t, transport.Set(config, transport.InboundBufferMaxCapacity, 16))
	payload := bytes.Repeat([]byte("0123456789abcdef"), 4)
	bt := newScriptedTransport(payload)
	r := &recorder{drain: true}
	ch := newChannel(t, bt, config, r)

	require.Eventually(t, func() bool {
		_, data, _, _ := r.snapshot()
		return data == string(payload)
	}, 2*time.Second, 5*time.Millisecond)
	_, _, errs, _ := r.snapshot()
	assert.Empty(t, errs)
	assert.True(t, ch.IsOpen())
}

func TestByteChannel_FlushBeforeError(t *testing.T) {
	bt := newScriptedTransport([]byte("abc"))
	bt.readErr = syscall.ECONNRESET
	r := &recorder{drain: true}
	ch := newChannel(t, bt, nil, r)

	waitClosed(t, ch)
	trace, data, errs, _ := r.snapshot()
	assert.Equal(t, "abc", data)
	require.Len(t, errs, 1)
	assert.True(t, transport.IsTransportFailure(errs[0]))
	assert.Equal(t, []string{"active", "updated", "suspended", "suspended", "exception", "inactive"}, trace)
}

func TestByteChannel_WriteDrains(t *testing.T) {
	bt := newScriptedTransport()
	bt.maxWrite = 3
	r := &recorder{drain: true}
	ch := newChannel(t, bt, nil, r)

	first := ch.Write(transport.Message{Payload: net.Buffers{[]byte("hello "), []byte("world")}})
	second := ch.Write(transport.NewMessage([]byte("!")))
	n, err := async.AwaitableFuture(first).Await()
	require.NoError(t, err)
	assert.Equal(t, 11, n)
	n, err = async.AwaitableFuture(second).Await()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "hello world!", bt.writtenString())
}

func TestByteChannel_CloseIdempotent(t *testing.T) {
	bt := newScriptedTransport()
	r := &recorder{drain: true}
	ch := newChannel(t, bt, nil, r)

	_, err := async.AwaitableFuture(ch.Close()).Await()
	require.NoError(t, err)
	_, err = async.AwaitableFuture(ch.Close()).Await()
	require.NoError(t, err)
	trace, _, _, _ := r.snapshot()
	assert.Equal(t, []string{"active", "inactive"}, filter(trace, "suspended"))

	_, err = async.AwaitableFuture(ch.Write(transport.NewMessage([]byte("x")))).Await()
	assert.True(t, transport.IsClosed(err))
}

func filter(trace []string, drop string) []string {
	out := make([]string, 0, len(trace))
	for _, s := range trace {
		if s != drop {
			out = append(out, s)
		}
	}
	return out
}
