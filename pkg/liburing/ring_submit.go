//go:build linux

package liburing

import (
	"math"
	"runtime"
	"syscall"
	"time"
	"unsafe"
)

// UpdateTimeoutUserdata tags the internal timeout entry used to bound a wait on
// kernels without IORING_FEAT_EXT_ARG. Completions carrying it should be ignored.
const UpdateTimeoutUserdata uint64 = math.MaxUint64

type GetEventsArg struct {
	sigMask   uint64
	sigMaskSz uint32
	pad       uint32
	ts        uint64
}

// Submit publishes queued entries to the kernel without waiting.
func (ring *Ring) Submit() (uint, error) {
	return ring.submit(ring.flushSQ(), 0, false)
}

// SubmitAndWait publishes queued entries and blocks until waitNr completions are ready.
func (ring *Ring) SubmitAndWait(waitNr uint32) (uint, error) {
	return ring.submit(ring.flushSQ(), waitNr, false)
}

// SubmitAndWaitTimeout publishes queued entries and waits up to timeout for waitNr completions.
// syscall.ETIME is returned when the wait expires with nothing ready.
func (ring *Ring) SubmitAndWaitTimeout(waitNr uint32, timeout time.Duration) (uint, error) {
	if timeout <= 0 {
		return ring.Submit()
	}
	ts := syscall.NsecToTimespec(timeout.Nanoseconds())
	if ring.features&IORING_FEAT_EXT_ARG != 0 {
		arg := &GetEventsArg{
			sigMaskSz: sigsetSize,
			ts:        uint64(uintptr(unsafe.Pointer(&ts))),
		}
		submitted := ring.flushSQ()
		if ring.CQReady() > 0 {
			waitNr = 0
		}
		n, err := ring.enter(submitted, waitNr, IORING_ENTER_GETEVENTS|IORING_ENTER_EXT_ARG, unsafe.Pointer(arg))
		runtime.KeepAlive(arg)
		runtime.KeepAlive(&ts)
		return n, err
	}

	sqe := ring.GetSQE()
	if sqe == nil {
		if _, err := ring.Submit(); err != nil {
			return 0, err
		}
		if sqe = ring.GetSQE(); sqe == nil {
			return 0, syscall.EAGAIN
		}
	}
	sqe.PrepareTimeout(&ts, waitNr, 0)
	sqe.SetData64(UpdateTimeoutUserdata)
	n, err := ring.submit(ring.flushSQ(), waitNr, true)
	runtime.KeepAlive(&ts)
	return n, err
}

func (ring *Ring) submit(submitted uint32, waitNr uint32, getEvents bool) (uint, error) {
	var flags uint32
	cqNeedsEnter := getEvents || waitNr != 0 || ring.cqRingNeedsEnter()
	if ring.sqRingNeedsEnter(submitted, &flags) || cqNeedsEnter {
		if cqNeedsEnter {
			flags |= IORING_ENTER_GETEVENTS
		}
		return ring.enter(submitted, waitNr, flags, nil)
	}
	return uint(submitted), nil
}

func (ring *Ring) cqRingNeedsEnter() bool {
	return ring.flags&IORING_SETUP_IOPOLL != 0 || ring.cqRingNeedsFlush()
}
