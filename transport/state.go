package transport

// State
// 通道生命周期状态。
type State int32

const (
	StateUnregistered State = iota
	StateRegistered
	StateBound
	StateConnecting
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnregistered:
		return "unregistered"
	case StateRegistered:
		return "registered"
	case StateBound:
		return "bound"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// IsOpen reports whether the channel has not been closed.
func (s State) IsOpen() bool {
	return s != StateClosed
}
