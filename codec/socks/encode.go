package socks

import (
	"context"
	"encoding/binary"
	"net"

	"github.com/brickingsoft/conduit/codec"
	"github.com/brickingsoft/errors"
	"github.com/brickingsoft/rxp/async"
)

var (
	ErrInvalidHost        = errors.Define("invalid socks host")
	ErrUnknownCmd         = errors.Define("unknown socks command")
	ErrUnknownAddressType = errors.Define("unknown socks address type")
)

const (
	errMetaPkgKey = "pkg"
	errMetaPkgVal = "socks"
)

func invalidHost(host string, reason string) error {
	return errors.From(
		ErrInvalidHost,
		errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
		errors.WithMeta("host", host),
		errors.WithMeta("reason", reason),
	)
}

// NewCmdRequest
// 校验并创建命令请求，域名只允许 ASCII 且不超过 255 字节。
func NewCmdRequest(cmd CmdType, addressType AddressType, host string, port uint16) (req *CmdRequest, err error) {
	req = &CmdRequest{
		Cmd:         cmd,
		AddressType: addressType,
		Host:        host,
		Port:        port,
	}
	if err = req.Validate(); err != nil {
		req = nil
	}
	return
}

func (req *CmdRequest) Validate() error {
	if !req.Cmd.Known() {
		return errors.From(ErrUnknownCmd, errors.WithMeta(errMetaPkgKey, errMetaPkgVal), errors.WithMeta("cmd", req.Cmd.String()))
	}
	switch req.AddressType {
	case AddressIPv4:
		ip := net.ParseIP(req.Host)
		if ip == nil || ip.To4() == nil {
			return invalidHost(req.Host, "not an IPv4 address")
		}
		break
	case AddressIPv6:
		ip := net.ParseIP(req.Host)
		if ip == nil || ip.To4() != nil {
			return invalidHost(req.Host, "not an IPv6 address")
		}
		break
	case AddressDomain:
		if len(req.Host) == 0 || len(req.Host) > 255 {
			return invalidHost(req.Host, "domain length must be between 1 and 255")
		}
		for i := 0; i < len(req.Host); i++ {
			if req.Host[i] > 0x7f {
				return invalidHost(req.Host, "domain must be ascii")
			}
		}
		break
	default:
		return errors.From(ErrUnknownAddressType, errors.WithMeta(errMetaPkgKey, errMetaPkgVal), errors.WithMeta("type", req.AddressType.String()))
	}
	return nil
}

// Encode
// 按 SOCKS5 线格式编码：版本、命令、保留字节、地址类型、地址、大端端口。
func (req *CmdRequest) Encode() (p []byte, err error) {
	if err = req.Validate(); err != nil {
		return
	}
	p = make([]byte, 0, 4+1+len(req.Host)+net.IPv6len+2)
	p = append(p, byte(Version5), byte(req.Cmd), 0x00, byte(req.AddressType))
	switch req.AddressType {
	case AddressIPv4:
		p = append(p, net.ParseIP(req.Host).To4()...)
		break
	case AddressIPv6:
		p = append(p, net.ParseIP(req.Host).To16()...)
		break
	case AddressDomain:
		p = append(p, byte(len(req.Host)))
		p = append(p, req.Host...)
		break
	}
	p = binary.BigEndian.AppendUint16(p, req.Port)
	return
}

// Encoder
// codec.Encoder 适配。
type Encoder struct{}

func (Encoder) Encode(req *CmdRequest) ([]byte, error) {
	return req.Encode()
}

func WriteCmdRequest(ctx context.Context, writer codec.FutureWriter, req *CmdRequest) async.Future[int] {
	return codec.Encode[*CmdRequest](ctx, Encoder{}, writer, req)
}
