//go:build linux

package aio_test

import (
	"bytes"
	"io"
	"math/rand"
	"testing"
	"time"

	"github.com/brickingsoft/ringloop/pkg/liburing/aio"
	"github.com/brickingsoft/ringloop/pkg/liburing/aio/sendq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func socketpair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestReadContext_Receive(t *testing.T) {
	loop := newLoop(t)
	defer loop.Close()
	local, remote := socketpair(t)

	rc := aio.NewReadContext(loop, local, 0, 0)
	var got []byte
	rc.Prepare(func(n int, err error) {
		require.NoError(t, err)
		got = rc.Retrieve(n)
		loop.Quit()
	})
	assert.Equal(t, aio.ReadReading, rc.Status())

	_, err := unix.Write(remote, []byte("hello"))
	require.NoError(t, err)
	loop.RunAfter(time.Second, loop.Quit)
	require.NoError(t, loop.Run())

	assert.Equal(t, "hello", string(got))
	assert.Equal(t, 0, rc.Len())
	rc.Cancel()
	rc.Release()
}

func TestReadContext_HighWaterCancels(t *testing.T) {
	loop := newLoop(t)
	defer loop.Close()
	local, remote := socketpair(t)

	payload := bytes.Repeat([]byte{'x'}, 1024)
	_, err := unix.Write(remote, payload)
	require.NoError(t, err)

	rc := aio.NewReadContext(loop, local, 16, 64)
	var (
		statusOnData aio.ReadStatus
		stopped      int
	)
	rc.OnStopped(func() {
		stopped++
		loop.Quit()
	})
	rc.Prepare(func(n int, err error) {
		require.NoError(t, err)
		assert.Greater(t, n, 16)
		statusOnData = rc.Status()
	})
	loop.RunAfter(time.Second, loop.Quit)
	require.NoError(t, loop.Run())

	assert.Equal(t, aio.ReadCanceling, statusOnData)
	assert.Equal(t, aio.ReadStopped, rc.Status())
	assert.Equal(t, 1, stopped)
	assert.Equal(t, 1024, rc.Len())
	// nothing left in the kernel but the wakeup read
	assert.Equal(t, 1, loop.InFlight())

	assert.Equal(t, 1024, rc.Remove(1024))
	assert.Equal(t, aio.ReadStopped, rc.Status())
	rc.Release()
}

func TestReadContext_EOF(t *testing.T) {
	loop := newLoop(t)
	defer loop.Close()
	local, remote := socketpair(t)

	rc := aio.NewReadContext(loop, local, 0, 0)
	var (
		waitErr  error
		closeErr error
	)
	rc.OnError(func(err error) {
		closeErr = err
	})
	rc.OnStopped(loop.Quit)
	rc.Prepare(func(n int, err error) {
		assert.Equal(t, 0, n)
		waitErr = err
	})
	require.NoError(t, unix.Shutdown(remote, unix.SHUT_WR))
	loop.RunAfter(time.Second, loop.Quit)
	require.NoError(t, loop.Run())

	assert.True(t, aio.IsClosed(waitErr))
	assert.ErrorIs(t, closeErr, io.EOF)
	assert.Equal(t, aio.ReadStopped, rc.Status())

	rc.Prepare(func(n int, err error) {
		assert.True(t, aio.IsClosed(err))
	})
	rc.Release()
}

func TestReadContext_ConcurrentWaiters(t *testing.T) {
	loop := newLoop(t)
	defer loop.Close()
	local, remote := socketpair(t)

	rc := aio.NewReadContext(loop, local, 0, 0)
	var first, second string
	rc.Prepare(func(n int, err error) {
		require.NoError(t, err)
		first = rc.RetrieveString(n)
		_, err = unix.Write(remote, []byte("yo"))
		require.NoError(t, err)
	})
	rc.Prepare(func(n int, err error) {
		require.NoError(t, err)
		second = rc.RetrieveString(n)
		loop.Quit()
	})

	_, err := unix.Write(remote, []byte("hi"))
	require.NoError(t, err)
	loop.RunAfter(time.Second, loop.Quit)
	require.NoError(t, loop.Run())

	assert.Equal(t, "hi", first)
	assert.Equal(t, "yo", second)
	rc.Cancel()
	rc.Release()
}

func TestReadContext_NoBuffers(t *testing.T) {
	// 4 KiB of chunks for 64 KiB of data, the receive runs dry and is resubmitted
	loop := newLoop(t, aio.WithChunkPool(1024, 4))
	defer loop.Close()
	local, remote := socketpair(t)

	payload := make([]byte, 64*1024)
	for i := range payload {
		payload[i] = byte(rand.Intn(256))
	}
	go func() {
		for off := 0; off < len(payload); {
			n, err := unix.Write(remote, payload[off:])
			if err != nil {
				return
			}
			off += n
		}
	}()

	rc := aio.NewReadContext(loop, local, 0, 0)
	got := make([]byte, 0, len(payload))
	var waiter aio.ReadWaiter
	waiter = func(n int, err error) {
		if err != nil {
			loop.Quit()
			return
		}
		got = append(got, rc.Retrieve(n)...)
		if len(got) >= len(payload) {
			loop.Quit()
			return
		}
		rc.Prepare(waiter)
	}
	rc.Prepare(waiter)

	loop.RunAfter(5*time.Second, loop.Quit)
	require.NoError(t, loop.Run())

	assert.NoError(t, rc.Err())
	require.Len(t, got, len(payload))
	assert.True(t, bytes.Equal(payload, got))
	rc.Cancel()
	rc.Release()
}

func TestWriteContext_SingleOutstanding(t *testing.T) {
	loop := newLoop(t)
	defer loop.Close()
	local, remote := socketpair(t)

	wc := aio.NewWriteContext(loop, local, 0, 0, 0)
	received := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 3000)
		n, _ := io.ReadFull(fdReader(remote), buf)
		received <- buf[:n]
	}()

	var idle int
	wc.OnIdle(func() {
		idle++
		if wc.Len() == 0 {
			loop.Quit()
		}
	})
	for i := 0; i < 3; i++ {
		p := sendq.NewPayload(bytes.Repeat([]byte{byte('a' + i)}, 1000), nil)
		require.NoError(t, wc.Append(p))
		_ = p.Release()
		assert.True(t, wc.Sending())
		assert.Equal(t, 2, loop.InFlight())
	}
	var resumed bool
	wc.Wait(func(ok bool, err error) {
		resumed = ok && err == nil
	})
	assert.True(t, resumed)

	loop.RunAfter(time.Second, loop.Quit)
	require.NoError(t, loop.Run())

	assert.False(t, wc.Sending())
	assert.Equal(t, 0, wc.Len())
	assert.GreaterOrEqual(t, idle, 1)

	got := <-received
	require.Len(t, got, 3000)
	assert.Equal(t, bytes.Repeat([]byte{'a'}, 1000), got[:1000])
	assert.Equal(t, bytes.Repeat([]byte{'c'}, 1000), got[2000:])
}

func TestWriteContext_HighWater(t *testing.T) {
	loop := newLoop(t)
	defer loop.Close()
	local, remote := socketpair(t)

	wc := aio.NewWriteContext(loop, local, 10, 5, 0)
	p := sendq.NewPayload(bytes.Repeat([]byte{'z'}, 100), nil)
	require.NoError(t, wc.Append(p))
	_ = p.Release()

	var (
		resumed bool
		ok      bool
	)
	wc.Wait(func(b bool, err error) {
		resumed = true
		ok = b
		loop.Quit()
	})
	assert.False(t, resumed)

	loop.RunAfter(time.Second, loop.Quit)
	require.NoError(t, loop.Run())
	assert.True(t, resumed)
	assert.True(t, ok)

	buf := make([]byte, 100)
	n, err := io.ReadFull(fdReader(remote), buf)
	require.NoError(t, err)
	assert.Equal(t, 100, n)
}

func TestWriteContext_ConcurrentWaiters(t *testing.T) {
	loop := newLoop(t)
	defer loop.Close()
	local, remote := socketpair(t)

	wc := aio.NewWriteContext(loop, local, 10, 0, 0)
	p := sendq.NewPayload(bytes.Repeat([]byte{'w'}, 100), nil)
	require.NoError(t, wc.Append(p))
	_ = p.Release()

	var resumed [2]int
	for i := range resumed {
		wc.Wait(func(ok bool, err error) {
			assert.True(t, ok)
			assert.NoError(t, err)
			resumed[i]++
			if resumed[0] > 0 && resumed[1] > 0 {
				loop.Quit()
			}
		})
	}
	assert.Equal(t, [2]int{0, 0}, resumed)

	loop.RunAfter(time.Second, loop.Quit)
	require.NoError(t, loop.Run())
	assert.Equal(t, [2]int{1, 1}, resumed)

	buf := make([]byte, 100)
	_, err := io.ReadFull(fdReader(remote), buf)
	require.NoError(t, err)
}

func TestWriteContext_ResumeAtHighWater(t *testing.T) {
	loop := newLoop(t)
	defer loop.Close()
	local, remote := socketpair(t)

	// low defaults to high
	wc := aio.NewWriteContext(loop, local, 100, 0, 0)
	first := sendq.NewPayload(bytes.Repeat([]byte{'a'}, 150), nil)
	require.NoError(t, wc.Append(first))
	_ = first.Release()
	// queued behind the write in flight
	second := sendq.NewPayload(bytes.Repeat([]byte{'b'}, 60), nil)
	require.NoError(t, wc.Append(second))
	_ = second.Release()

	var (
		lenOnResume     = -1
		sendingOnResume bool
	)
	wc.Wait(func(ok bool, err error) {
		require.True(t, ok)
		lenOnResume = wc.Len()
		sendingOnResume = wc.Sending()
	})
	assert.Equal(t, -1, lenOnResume)
	wc.OnIdle(func() {
		if wc.Len() == 0 {
			loop.Quit()
		}
	})

	loop.RunAfter(time.Second, loop.Quit)
	require.NoError(t, loop.Run())

	// resumed by the first completion, with the 60 bytes still queued
	assert.Equal(t, 60, lenOnResume)
	assert.True(t, sendingOnResume)

	buf := make([]byte, 210)
	_, err := io.ReadFull(fdReader(remote), buf)
	require.NoError(t, err)
	assert.Equal(t, byte('b'), buf[209])
}

func TestWriteContext_Close(t *testing.T) {
	loop := newLoop(t)
	defer loop.Close()
	local, _ := socketpair(t)

	wc := aio.NewWriteContext(loop, local, 1, 1, 0)
	wc.Close(io.ErrClosedPipe)

	p := sendq.NewPayload([]byte("late"), nil)
	err := wc.Append(p)
	_ = p.Release()
	assert.True(t, aio.IsClosed(err))

	wc.Wait(func(ok bool, err error) {
		assert.False(t, ok)
		assert.True(t, aio.IsClosed(err))
	})
	assert.False(t, wc.Sending())
}

type fdReader int

func (fd fdReader) Read(p []byte) (int, error) {
	n, err := unix.Read(int(fd), p)
	if n == 0 && err == nil {
		return 0, io.EOF
	}
	if n < 0 {
		n = 0
	}
	return n, err
}
