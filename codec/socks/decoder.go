package socks

import (
	"net"

	"github.com/brickingsoft/conduit/codec"
)

type State int

const (
	StateCheckProtocolVersion State = iota
	StateReadCmdHeader
	StateReadCmdAddress
)

func (s State) String() string {
	switch s {
	case StateCheckProtocolVersion:
		return "check_protocol_version"
	case StateReadCmdHeader:
		return "read_cmd_header"
	case StateReadCmdAddress:
		return "read_cmd_address"
	default:
		return "unknown"
	}
}

const DecoderName = "socks_cmd_request_decoder"

// NewCmdRequestDecoder
// SOCKS5 命令请求解码器。单次使用：发出一个 Request 后移出流水线，其后的字节交给后续处理器。
// 协议版本或地址类型无法识别时发出 UnknownRequest。
func NewCmdRequestDecoder() *codec.ReplayingDecoder[State, Request] {
	return codec.NewReplayingDecoder[State, Request](StateCheckProtocolVersion, &CmdRequestDecoder{}).Named(DecoderName).Once()
}

type CmdRequestDecoder struct {
	cmd         CmdType
	addressType AddressType
}

func (d *CmdRequestDecoder) Decode(cp *codec.Checkpoint[State], in *codec.ReplayBuffer) (req Request, err error) {
	switch cp.State() {
	case StateCheckProtocolVersion:
		version, readErr := in.ReadByte()
		if readErr != nil {
			err = readErr
			return
		}
		if ProtocolVersion(version) != Version5 {
			req = UnknownRequest
			return
		}
		cp.Set(StateReadCmdHeader)
		fallthrough
	case StateReadCmdHeader:
		header, readErr := in.ReadBytes(3)
		if readErr != nil {
			err = readErr
			return
		}
		d.cmd = CmdType(header[0])
		d.addressType = AddressType(header[2])
		cp.Set(StateReadCmdAddress)
		fallthrough
	case StateReadCmdAddress:
		req, err = d.readAddress(in)
	}
	return
}

func (d *CmdRequestDecoder) readAddress(in *codec.ReplayBuffer) (req Request, err error) {
	var host string
	switch d.addressType {
	case AddressIPv4:
		ip, readErr := in.ReadBytes(net.IPv4len)
		if readErr != nil {
			err = readErr
			return
		}
		host = net.IP(ip).String()
		break
	case AddressDomain:
		n, readErr := in.ReadByte()
		if readErr != nil {
			err = readErr
			return
		}
		name, readErr := in.ReadBytes(int(n))
		if readErr != nil {
			err = readErr
			return
		}
		host = string(name)
		break
	case AddressIPv6:
		ip, readErr := in.ReadBytes(net.IPv6len)
		if readErr != nil {
			err = readErr
			return
		}
		host = net.IP(ip).String()
		break
	default:
		req = UnknownRequest
		return
	}
	port, readErr := in.ReadUint16()
	if readErr != nil {
		err = readErr
		return
	}
	req = &CmdRequest{
		Cmd:         d.cmd,
		AddressType: d.addressType,
		Host:        host,
		Port:        port,
	}
	return
}
