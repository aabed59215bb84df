//go:build linux

package liburing

import (
	"syscall"
	"unsafe"
)

const (
	IORING_ENTER_GETEVENTS uint32 = 1 << iota
	IORING_ENTER_SQ_WAKEUP
	IORING_ENTER_SQ_WAIT
	IORING_ENTER_EXT_ARG
	IORING_ENTER_REGISTERED_RING
)

const (
	sysEnter = 426
	// sigsetSize is _NSIG / 8.
	sigsetSize = 65 / 8
)

// enter calls io_uring_enter. With IORING_ENTER_EXT_ARG arg is a *GetEventsArg,
// otherwise it is a signal mask and nil keeps the current one.
func (ring *Ring) enter(submitted uint32, waitNr uint32, flags uint32, arg unsafe.Pointer) (uint, error) {
	if ring.kind&regRing != 0 {
		flags |= IORING_ENTER_REGISTERED_RING
	}
	argSize := uintptr(sigsetSize)
	if flags&IORING_ENTER_EXT_ARG != 0 {
		argSize = unsafe.Sizeof(GetEventsArg{})
	}
	n, _, errno := syscall.Syscall6(
		sysEnter,
		uintptr(ring.enterRingFd),
		uintptr(submitted),
		uintptr(waitNr),
		uintptr(flags),
		uintptr(arg),
		argSize,
	)
	if errno != 0 {
		return 0, errno
	}
	return uint(n), nil
}
