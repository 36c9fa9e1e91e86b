//go:build linux

package poller_test

import (
	"testing"
	"time"

	"github.com/brickingsoft/conduit/pkg/poller"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestEpoll_ReadWrite(t *testing.T) {
	p, err := poller.Open()
	require.NoError(t, err)
	defer p.Close()

	var fds [2]int
	require.NoError(t, unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC))
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	require.NoError(t, p.Add(fds[0], poller.Read))
	_, err = unix.Write(fds[1], []byte("x"))
	require.NoError(t, err)

	var got poller.Interest
	require.NoError(t, p.Wait(time.Second, func(fd int, ready poller.Interest) {
		if fd == fds[0] {
			got |= ready
		}
	}))
	assert.True(t, got.Has(poller.Read))

	require.NoError(t, p.Add(fds[1], 0))
	require.NoError(t, p.Modify(fds[1], poller.Write))
	got = 0
	require.NoError(t, p.Wait(time.Second, func(fd int, ready poller.Interest) {
		if fd == fds[1] {
			got |= ready
		}
	}))
	assert.True(t, got.Has(poller.Write))
	require.NoError(t, p.Remove(fds[1]))
}

func TestEpoll_Wakeup(t *testing.T) {
	p, err := poller.Open()
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.Wakeup())
	calls := 0
	start := time.Now()
	require.NoError(t, p.Wait(5*time.Second, func(fd int, ready poller.Interest) {
		calls++
	}))
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, 0, calls)
}

func TestInterest_String(t *testing.T) {
	assert.Equal(t, "none", poller.Interest(0).String())
	assert.Equal(t, "read|write", (poller.Read | poller.Write).String())
	assert.Equal(t, "connect", poller.Connect.String())
}
