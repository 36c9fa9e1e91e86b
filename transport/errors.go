package transport

import (
	stderrors "errors"
	"io"
	"net"
	"os"
	"syscall"

	"github.com/brickingsoft/errors"
)

var (
	ErrClosed             = errors.Define("channel closed")
	ErrNotRegistered      = errors.Define("channel is not registered")
	ErrAlreadyRegistered  = errors.Define("channel is already registered")
	ErrAddressInUse       = errors.Define("address already in use")
	ErrPermissionDenied   = errors.Define("permission denied")
	ErrConnectionPending  = errors.Define("connection is pending")
	ErrAlreadyConnected   = errors.Define("channel is already connected")
	ErrConnectNotFinished = errors.Define("connect reported not finished")
	ErrConnectTimeout     = errors.Define("connect timed out")
	ErrHandlerNotDraining = errors.Define("an inbound handler whose buffer is full must consume at least one byte")
	ErrTransport          = errors.Define("transport failure")
	ErrUnsupported        = errors.Define("operation is not supported by the transport")
	ErrInvalidOption      = errors.Define("invalid channel option")
	ErrInvalidMessage     = errors.Define("invalid outbound message")
	ErrNotConnected       = errors.Define("channel is not connected")
	ErrDuplicateHandler   = errors.Define("duplicate handler name")
)

const (
	errMetaPkgKey = "pkg"
	errMetaPkgVal = "transport"
	errMetaOpKey  = "op"
)

const (
	OpRegister      = "register"
	OpBind          = "bind"
	OpConnect       = "connect"
	OpFinishConnect = "finish_connect"
	OpRead          = "read"
	OpWrite         = "write"
	OpClose         = "close"
	OpBindAddress   = "bind_address"
	OpUnbindAddress = "unbind_address"
)

func IsClosed(err error) bool {
	return errors.Is(err, ErrClosed) || stderrors.Is(err, net.ErrClosed)
}

func IsAddressInUse(err error) bool {
	return errors.Is(err, ErrAddressInUse)
}

func IsPermissionDenied(err error) bool {
	return errors.Is(err, ErrPermissionDenied)
}

func IsConnectTimeout(err error) bool {
	return errors.Is(err, ErrConnectTimeout)
}

// IsTransportFailure
// 是否为传输层（I/O 级）错误。
func IsTransportFailure(err error) bool {
	return errors.Is(err, ErrTransport)
}

// IsFatal
// 致命错误会导致通道关闭：传输层错误与不消费数据的处理器。
func IsFatal(err error) bool {
	return IsTransportFailure(err) || errors.Is(err, ErrHandlerNotDraining) || errors.Is(err, ErrConnectNotFinished)
}

// TransportFailure
// 将传输层返回的原始错误包装为 ErrTransport。
func TransportFailure(op string, cause error) error {
	if cause == nil {
		return nil
	}
	if IsTransportFailure(cause) {
		return cause
	}
	return errors.From(
		ErrTransport,
		errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
		errors.WithMeta(errMetaOpKey, op),
		errors.WithWrap(cause),
	)
}

// TranslateBindError
// 将绑定错误的 errno 翻译为 ErrAddressInUse / ErrPermissionDenied。
func TranslateBindError(cause error) error {
	if cause == nil {
		return nil
	}
	switch {
	case stderrors.Is(cause, syscall.EADDRINUSE):
		return errors.From(ErrAddressInUse, errors.WithMeta(errMetaOpKey, OpBind), errors.WithWrap(cause))
	case stderrors.Is(cause, syscall.EACCES), stderrors.Is(cause, syscall.EPERM), stderrors.Is(cause, os.ErrPermission):
		return errors.From(ErrPermissionDenied, errors.WithMeta(errMetaOpKey, OpBind), errors.WithWrap(cause))
	default:
		return TransportFailure(OpBind, cause)
	}
}

// ConnectFailure
// 连接错误：超时翻译为 ErrConnectTimeout，其余为传输层错误。
func ConnectFailure(cause error) error {
	if cause == nil {
		return nil
	}
	if IsTimeout(cause) {
		return errors.From(
			ErrConnectTimeout,
			errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
			errors.WithMeta(errMetaOpKey, OpConnect),
			errors.WithWrap(cause),
		)
	}
	return TransportFailure(OpConnect, cause)
}

// IsTimeout reports whether err is an I/O deadline or timeout.
func IsTimeout(err error) bool {
	if stderrors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

// IsEndOfStream
// io.EOF 视为流结束。
func IsEndOfStream(err error) bool {
	return stderrors.Is(err, io.EOF)
}
