package transport

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/brickingsoft/conduit/pkg/bytebuffers"
	"github.com/brickingsoft/errors"
)

var (
	registryMu sync.Mutex
	registry   = make(map[string]struct{})
)

// Option
// 具名且带校验的通道选项。名称全局唯一。
type Option[T any] struct {
	name     string
	def      T
	validate func(v T) error
}

// NewOption
// 注册一个选项，名称重复时 panic。
func NewOption[T any](name string, def T, validate func(v T) error) *Option[T] {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, has := registry[name]; has {
		panic(fmt.Sprintf("transport: option %q is already registered", name))
	}
	registry[name] = struct{}{}
	return &Option[T]{name: name, def: def, validate: validate}
}

func (opt *Option[T]) Name() string {
	return opt.name
}

func (opt *Option[T]) Default() T {
	return opt.def
}

func (opt *Option[T]) Validate(v T) (err error) {
	if opt.validate == nil {
		return
	}
	if cause := opt.validate(v); cause != nil {
		err = errors.From(
			ErrInvalidOption,
			errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
			errors.WithMeta("option", opt.name),
			errors.WithWrap(cause),
		)
	}
	return
}

func (opt *Option[T]) String() string {
	return opt.name
}

func positiveInt(v int) error {
	if v < 1 {
		return fmt.Errorf("%d must be > 0", v)
	}
	return nil
}

func nonNegativeInt(v int) error {
	if v < 0 {
		return fmt.Errorf("%d must be >= 0", v)
	}
	return nil
}

func nonNegativeDuration(v time.Duration) error {
	if v < 0 {
		return fmt.Errorf("%s must be >= 0", v)
	}
	return nil
}

func positiveDuration(v time.Duration) error {
	if v <= 0 {
		return fmt.Errorf("%s must be > 0", v)
	}
	return nil
}

const (
	DefaultConnectTimeout     = 30 * time.Second
	DefaultWriteSpinCount     = 16
	DefaultMaxMessagesPerRead = 16
	DefaultReceiveBufferSize  = 64 * 1024
	DefaultSoTimeout          = time.Second
)

var (
	// ConnectTimeout bounds a pending connect. Zero disables the timer.
	ConnectTimeout = NewOption[time.Duration]("CONNECT_TIMEOUT", DefaultConnectTimeout, nonNegativeDuration)
	// WriteSpinCount is the number of send attempts per flush before write interest is set.
	WriteSpinCount   = NewOption[int]("WRITE_SPIN_COUNT", DefaultWriteSpinCount, positiveInt)
	AllowHalfClosure = NewOption[bool]("ALLOW_HALF_CLOSURE", false, nil)
	AutoRead         = NewOption[bool]("AUTO_READ", true, nil)
	// MaxMessagesPerRead bounds receive attempts per read readiness.
	MaxMessagesPerRead = NewOption[int]("MAX_MESSAGES_PER_READ", DefaultMaxMessagesPerRead, positiveInt)
	// ReceiveBufferSize sizes the buffer allocated for each received message.
	ReceiveBufferSize = NewOption[int]("RECEIVE_BUFFER_SIZE", DefaultReceiveBufferSize, positiveInt)
	// InboundBufferMaxCapacity bounds the inbound byte buffer of stream channels.
	InboundBufferMaxCapacity = NewOption[int]("INBOUND_BUFFER_MAX_CAPACITY", bytebuffers.DefaultMaxCap, positiveInt)
	// SoTimeout bounds each blocking read so queued tasks get serviced.
	SoTimeout   = NewOption[time.Duration]("SO_TIMEOUT", DefaultSoTimeout, positiveDuration)
	SoRcvBuf    = NewOption[int]("SO_RCVBUF", 0, nonNegativeInt)
	SoSndBuf    = NewOption[int]("SO_SNDBUF", 0, nonNegativeInt)
	SoReuseAddr = NewOption[bool]("SO_REUSEADDR", false, nil)
	SoKeepAlive = NewOption[bool]("SO_KEEPALIVE", false, nil)
	SoBroadcast = NewOption[bool]("SO_BROADCAST", false, nil)
	TCPNoDelay  = NewOption[bool]("TCP_NODELAY", true, nil)
	IPTos       = NewOption[int]("IP_TOS", 0, func(v int) error {
		if v < 0 || v > 255 {
			return fmt.Errorf("%d is out of range [0, 255]", v)
		}
		return nil
	})
	Logger = NewOption[*slog.Logger]("LOGGER", nil, nil)
	// MetricsCollector is nil by default, which disables metrics.
	MetricsCollector = NewOption[*Metrics]("METRICS", nil, nil)
)
