//go:build !linux

package poller

func Open() (Poller, error) {
	return nil, ErrUnsupported
}
