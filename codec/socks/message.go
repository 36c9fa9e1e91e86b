package socks

import (
	"net"
	"strconv"
)

type ProtocolVersion byte

const (
	Version4 ProtocolVersion = 0x04
	Version5 ProtocolVersion = 0x05
)

func (v ProtocolVersion) String() string {
	switch v {
	case Version4:
		return "SOCKS4a"
	case Version5:
		return "SOCKS5"
	default:
		return "UNKNOWN(" + strconv.Itoa(int(v)) + ")"
	}
}

type CmdType byte

const (
	CmdConnect      CmdType = 0x01
	CmdBind         CmdType = 0x02
	CmdUDPAssociate CmdType = 0x03
)

func (c CmdType) String() string {
	switch c {
	case CmdConnect:
		return "CONNECT"
	case CmdBind:
		return "BIND"
	case CmdUDPAssociate:
		return "UDP"
	default:
		return "UNKNOWN(" + strconv.Itoa(int(c)) + ")"
	}
}

func (c CmdType) Known() bool {
	return c >= CmdConnect && c <= CmdUDPAssociate
}

type AddressType byte

const (
	AddressIPv4   AddressType = 0x01
	AddressDomain AddressType = 0x03
	AddressIPv6   AddressType = 0x04
)

func (a AddressType) String() string {
	switch a {
	case AddressIPv4:
		return "IPv4"
	case AddressDomain:
		return "DOMAIN"
	case AddressIPv6:
		return "IPv6"
	default:
		return "UNKNOWN(" + strconv.Itoa(int(a)) + ")"
	}
}

func (a AddressType) Known() bool {
	return a == AddressIPv4 || a == AddressDomain || a == AddressIPv6
}

// Request
// 解码结果：*CmdRequest 或 UnknownRequest。
type Request interface {
	Version() ProtocolVersion
}

// CmdRequest
// SOCKS5 命令请求。
type CmdRequest struct {
	Cmd         CmdType
	AddressType AddressType
	Host        string
	Port        uint16
}

func (req *CmdRequest) Version() ProtocolVersion {
	return Version5
}

// Addr returns host:port, bracketing IPv6 hosts.
func (req *CmdRequest) Addr() string {
	return net.JoinHostPort(req.Host, strconv.Itoa(int(req.Port)))
}

func (req *CmdRequest) String() string {
	return req.Cmd.String() + " " + req.AddressType.String() + " " + req.Addr()
}

type unknownRequest struct{}

func (unknownRequest) Version() ProtocolVersion {
	return 0
}

func (unknownRequest) String() string {
	return "UNKNOWN"
}

// UnknownRequest
// 无法识别的请求（协议版本或地址类型不支持）。不是解码错误，由后续处理器决定如何应对。
var UnknownRequest Request = unknownRequest{}

func IsUnknown(req Request) bool {
	return req == UnknownRequest
}
