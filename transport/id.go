package transport

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ID
// 通道标识，按创建时间排序。
type ID = ulid.ULID

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewID returns a monotonic ULID for a new channel.
// When the monotonic entropy overflows within one millisecond the source is reseeded,
// which keeps uniqueness but not ordering inside that millisecond.
func NewID() ID {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return newID(time.Now())
}

func newID(now time.Time) ID {
	ms := ulid.Timestamp(now)
	id, err := ulid.New(ms, entropy)
	if err != nil {
		entropy = ulid.Monotonic(rand.Reader, 0)
		id, err = ulid.New(ms, entropy)
		if err != nil {
			id = ulid.Make()
		}
	}
	return id
}
