package conduit

import (
	"context"
	stderrors "errors"
	"net"

	"github.com/brickingsoft/conduit/transport"
	"github.com/brickingsoft/errors"
	"github.com/brickingsoft/rxp/async"
)

var (
	ErrNetworkUnmatched = errors.Define("network is not matched")
	ErrNilAddr          = errors.Define("addr is nil")
	ErrBusy             = errors.Define("system busy")
)

const (
	errMetaPkgKey = "pkg"
	errMetaPkgVal = "conduit"
	errMetaOpKey  = "op"
)

const (
	opDial   = "dial"
	opListen = "listen"
	opAccept = "accept"
	opWrap   = "wrap"
)

// IsClosed
// 通道、监听器或执行器已关闭，或上下文已取消。
func IsClosed(err error) bool {
	var opErr *net.OpError
	if stderrors.As(err, &opErr) {
		err = opErr.Err
	}
	return transport.IsClosed(err) ||
		stderrors.Is(err, async.EOF) || stderrors.Is(err, async.UnexpectedEOF) ||
		stderrors.Is(err, context.Canceled) || stderrors.Is(err, async.UnexpectedContextFailed) ||
		stderrors.Is(err, async.ExecutorsClosed)
}

func IsNetworkUnmatched(err error) bool {
	return errors.Is(err, ErrNetworkUnmatched)
}

// IsBusy
// 监听器达到最大连接数且等待超时。
func IsBusy(err error) bool {
	return errors.Is(err, ErrBusy)
}

func IsAddressInUse(err error) bool {
	return transport.IsAddressInUse(err)
}

func IsConnectTimeout(err error) bool {
	return transport.IsConnectTimeout(err)
}

func opError(op string, network string, addr string, cause error) error {
	return errors.New(
		op+" failed",
		errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
		errors.WithMeta(errMetaOpKey, op),
		errors.WithMeta("network", network),
		errors.WithMeta("addr", addr),
		errors.WithWrap(cause),
	)
}

func resolveAddr(network string, addr string) (net.Addr, error) {
	switch network {
	case "tcp", "tcp4", "tcp6":
		return net.ResolveTCPAddr(network, addr)
	case "udp", "udp4", "udp6":
		return net.ResolveUDPAddr(network, addr)
	default:
		return nil, errors.From(ErrNetworkUnmatched, errors.WithMeta("network", network))
	}
}
