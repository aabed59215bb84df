//go:build linux

package aio_test

import (
	"errors"
	"io"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/brickingsoft/ringloop/pkg/liburing"
	"github.com/brickingsoft/ringloop/pkg/liburing/aio"
	"github.com/brickingsoft/ringloop/pkg/liburing/aio/timers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// requireRing skips the test when io_uring or provided buffer rings are unavailable.
func requireRing(t *testing.T) {
	t.Helper()
	ring, err := liburing.New(liburing.WithEntries(8))
	if errors.Is(err, syscall.ENOSYS) || errors.Is(err, syscall.EPERM) {
		t.Skip("io_uring is not available:", err)
	}
	require.NoError(t, err)
	br, err := ring.SetupBufRing(8, 1)
	if err != nil {
		_ = ring.Close()
		t.Skip("provided buffer rings are not supported:", err)
	}
	_ = ring.FreeBufRing(br, 8, 1)
	_ = ring.Close()
}

func testOptions(options ...aio.Option) []aio.Option {
	return append([]aio.Option{
		aio.WithEntries(64),
		aio.WithChunkPool(4096, 64),
		aio.WithPollTimeout(time.Second),
	}, options...)
}

// newLoop creates a loop on the calling test goroutine, which stays locked to its thread until Close.
func newLoop(t *testing.T, options ...aio.Option) *aio.EventLoop {
	t.Helper()
	requireRing(t)
	loop, err := aio.NewEventLoop(testOptions(options...)...)
	require.NoError(t, err)
	return loop
}

func TestNewEventLoop(t *testing.T) {
	loop := newLoop(t)
	defer loop.Close()

	assert.True(t, loop.IsInLoopThread())
	assert.Same(t, loop, aio.EventLoopOfCurrentThread())
	assert.Equal(t, 1, loop.InFlight())

	_, err := aio.NewEventLoop()
	assert.ErrorIs(t, err, aio.ErrLoopExists)
}

func TestEventLoop_RunNotInLoopThread(t *testing.T) {
	loop := newLoop(t)
	defer loop.Close()

	done := make(chan error, 1)
	go func() {
		done <- loop.Run()
	}()
	err := <-done
	assert.ErrorIs(t, err, aio.ErrNotInLoopThread)
}

func TestEventLoop_Timers(t *testing.T) {
	loop := newLoop(t)
	defer loop.Close()

	var (
		once     int
		repeated int
		canceled int
	)
	loop.RunAfter(5*time.Millisecond, func() {
		once++
	})
	dropped := loop.RunAfter(10*time.Millisecond, func() {
		canceled++
	})
	loop.Cancel(dropped)

	every := loop.RunEvery(2*time.Millisecond, func() {
		repeated++
	})
	loop.RunAfter(20*time.Millisecond, func() {
		loop.Cancel(every)
	})
	loop.RunAfter(40*time.Millisecond, loop.Quit)

	require.NoError(t, loop.Run())
	assert.Equal(t, 1, once)
	assert.Equal(t, 0, canceled)
	assert.Greater(t, repeated, 1)
}

func TestEventLoop_RunEverySelfCancel(t *testing.T) {
	loop := newLoop(t)
	defer loop.Close()

	var (
		n  int
		id timers.ID
	)
	id = loop.RunEvery(time.Millisecond, func() {
		n++
		if n == 3 {
			loop.Cancel(id)
		}
	})
	loop.RunAfter(30*time.Millisecond, loop.Quit)

	require.NoError(t, loop.Run())
	assert.Equal(t, 3, n)
}

func TestEventLoop_QueueInLoop(t *testing.T) {
	loop := newLoop(t)
	defer loop.Close()

	var inLoop atomic.Bool
	go func() {
		time.Sleep(10 * time.Millisecond)
		loop.QueueInLoop(func() {
			inLoop.Store(loop.IsInLoopThread())
			loop.Quit()
		})
	}()

	begin := time.Now()
	require.NoError(t, loop.Run())
	assert.True(t, inLoop.Load())
	assert.Less(t, time.Since(begin), time.Second)
}

func TestEventLoop_QuitFromOtherGoroutine(t *testing.T) {
	loop := newLoop(t, aio.WithPollTimeout(10*time.Second))
	defer loop.Close()

	go func() {
		time.Sleep(10 * time.Millisecond)
		loop.Quit()
	}()
	begin := time.Now()
	require.NoError(t, loop.Run())
	assert.Less(t, time.Since(begin), 5*time.Second)
}

func TestEventLoop_Backlog(t *testing.T) {
	// every receive past the first leaves fewer than 7 free entries, so it is parked
	loop := newLoop(t, aio.WithEntries(8), aio.WithSQLowWater(7))
	defer loop.Close()

	const readers = 4
	rcs := make([]*aio.ReadContext, readers)
	got := 0
	last := func() *aio.ReadContext { return rcs[readers-1] }
	done := func() {
		if got == 3*(readers-1) && last().Status() == aio.ReadStopped {
			loop.Quit()
		}
	}
	for i := range rcs {
		local, remote := socketpair(t)
		_, err := unix.Write(remote, []byte("abc"))
		require.NoError(t, err)
		rc := aio.NewReadContext(loop, local, 0, 0)
		rcs[i] = rc
		rc.Prepare(func(n int, err error) {
			if err != nil {
				return
			}
			got += len(rc.Retrieve(n))
			done()
		})
	}
	require.Greater(t, loop.Backlog(), 0)

	// a parked receive never reaches the kernel once canceled
	last().OnStopped(done)
	last().Close(io.ErrClosedPipe)
	assert.Equal(t, aio.ReadCanceling, last().Status())

	loop.RunAfter(time.Second, loop.Quit)
	require.NoError(t, loop.Run())

	assert.Equal(t, 0, loop.Backlog())
	assert.Equal(t, 3*(readers-1), got)
	assert.Equal(t, aio.ReadStopped, last().Status())
	assert.True(t, aio.IsClosed(last().Err()))
	for _, rc := range rcs {
		rc.Cancel()
		rc.Release()
	}
}

func TestEventLoop_WakeupAfterClose(t *testing.T) {
	loop := newLoop(t)

	stop := make(chan struct{})
	wakers := make(chan struct{})
	go func() {
		defer close(wakers)
		for {
			select {
			case <-stop:
				return
			default:
				loop.Wakeup()
			}
		}
	}()
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, loop.Close())
	close(stop)
	<-wakers

	// the closed eventfd number may be handed out again
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	require.NoError(t, err)
	defer unix.Close(fd)
	loop.Wakeup()

	buf := make([]byte, 8)
	_, err = unix.Read(fd, buf)
	assert.ErrorIs(t, err, unix.EAGAIN)
}
