//go:build linux

package liburing_test

import (
	"errors"
	"syscall"
	"testing"
	"time"
	"unsafe"

	"github.com/brickingsoft/ringloop/pkg/liburing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRing(t *testing.T, options ...liburing.Option) *liburing.Ring {
	t.Helper()
	ring, err := liburing.New(options...)
	if errors.Is(err, syscall.ENOSYS) || errors.Is(err, syscall.EPERM) {
		t.Skip("io_uring is not available:", err)
	}
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = ring.Close()
	})
	return ring
}

func TestNew(t *testing.T) {
	ring := newRing(t, liburing.WithEntries(4))
	assert.Equal(t, uint32(4), ring.SQEntries())
	assert.Equal(t, uint32(8), ring.CQEntries())
	assert.Equal(t, uint32(4), ring.SQSpaceLeft())

	probe, err := ring.Probe()
	require.NoError(t, err)
	assert.True(t, probe.IsSupported(liburing.IORING_OP_ASYNC_CANCEL))

	sqe := ring.GetSQE()
	require.NotNil(t, sqe)
	// nothing carries userdata 99, the cancel completes with ENOENT
	sqe.PrepareCancel64(99, 0)
	sqe.SetData64(42)

	_, err = ring.SubmitAndWait(1)
	require.NoError(t, err)

	cqes := make([]*liburing.CompletionQueueEvent, 4)
	n := ring.PeekBatchCQE(cqes)
	require.Equal(t, uint32(1), n)
	assert.Equal(t, uint64(42), cqes[0].UserData)
	assert.Equal(t, -int32(syscall.ENOENT), cqes[0].Res)
	ring.CQAdvance(n)
	assert.Equal(t, uint32(0), ring.CQReady())
}

func TestRing_GetSQE_Full(t *testing.T) {
	ring := newRing(t, liburing.WithEntries(2))
	require.NotNil(t, ring.GetSQE())
	require.NotNil(t, ring.GetSQE())
	assert.Nil(t, ring.GetSQE())
	assert.Equal(t, uint32(0), ring.SQSpaceLeft())

	_, err := ring.Submit()
	require.NoError(t, err)
	assert.NotNil(t, ring.GetSQE())
}

func TestRing_SubmitAndWaitTimeout(t *testing.T) {
	ring := newRing(t, liburing.WithEntries(4))

	begin := time.Now()
	_, err := ring.SubmitAndWaitTimeout(1, 50*time.Millisecond)
	if err != nil {
		assert.ErrorIs(t, err, syscall.ETIME)
	}
	assert.GreaterOrEqual(t, time.Since(begin), 40*time.Millisecond)

	// completions left by the fallback timeout entry are tagged for skipping
	cqes := make([]*liburing.CompletionQueueEvent, 4)
	n := ring.PeekBatchCQE(cqes)
	for i := uint32(0); i < n; i++ {
		assert.Equal(t, liburing.UpdateTimeoutUserdata, cqes[i].UserData)
	}
	ring.CQAdvance(n)
}

func TestRing_RecvMultishot(t *testing.T) {
	ring := newRing(t, liburing.WithEntries(8))

	fds, err := syscall.Socketpair(syscall.AF_UNIX, syscall.SOCK_STREAM|syscall.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	defer syscall.Close(fds[0])
	defer syscall.Close(fds[1])

	const (
		entries   uint32 = 4
		chunkSize        = 64
		bgid      uint16 = 7
	)
	br, err := ring.SetupBufRing(entries, bgid)
	if errors.Is(err, syscall.EINVAL) {
		t.Skip("provided buffer rings are not supported")
	}
	require.NoError(t, err)
	defer ring.FreeBufRing(br, entries, bgid)

	mem := make([]byte, int(entries)*chunkSize)
	mask := liburing.BufferRingMask(entries)
	for i := uint32(0); i < entries; i++ {
		br.BufRingAdd(uintptr(unsafe.Pointer(&mem[int(i)*chunkSize])), chunkSize, uint16(i), mask, uint16(i))
	}
	br.BufRingAdvance(uint16(entries))

	sqe := ring.GetSQE()
	require.NotNil(t, sqe)
	sqe.PrepareRecvMultishot(fds[0], bgid, 0)
	sqe.SetData64(1)
	_, err = ring.Submit()
	require.NoError(t, err)

	_, err = syscall.Write(fds[1], []byte("hello"))
	require.NoError(t, err)

	_, err = ring.SubmitAndWaitTimeout(1, time.Second)
	if err != nil {
		require.ErrorIs(t, err, syscall.ETIME)
	}
	cqes := make([]*liburing.CompletionQueueEvent, 4)
	n := ring.PeekBatchCQE(cqes)
	require.Equal(t, uint32(1), n)
	cqe := cqes[0]
	require.Equal(t, int32(5), cqe.Res)
	flags := liburing.CQEFlags(cqe.Flags)
	bid, ok := flags.BufferId()
	require.True(t, ok)
	assert.True(t, flags.More())
	assert.Equal(t, "hello", string(mem[int(bid)*chunkSize:int(bid)*chunkSize+5]))
	ring.CQAdvance(n)

	cancel := ring.GetSQE()
	cancel.PrepareCancel64(1, 0)
	_, err = ring.SubmitAndWait(2)
	require.NoError(t, err)
}
