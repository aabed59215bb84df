//go:build linux

package aio

import (
	"os"
	"unsafe"

	"github.com/brickingsoft/ringloop/pkg/liburing"
	"golang.org/x/sys/unix"
)

var wakeupValue = [8]byte{1}

func (loop *EventLoop) openWakeup() error {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC)
	if err != nil {
		return os.NewSyscallError("eventfd", err)
	}
	loop.wakeupMu.Lock()
	loop.wakeupFd = fd
	loop.wakeupMu.Unlock()
	return loop.armWakeup()
}

// closeWakeup closes the eventfd, later Wakeup calls do nothing.
func (loop *EventLoop) closeWakeup() {
	loop.wakeupMu.Lock()
	if loop.wakeupFd != -1 {
		_ = unix.Close(loop.wakeupFd)
		loop.wakeupFd = -1
	}
	loop.wakeupMu.Unlock()
}

// armWakeup keeps one read outstanding on the eventfd.
// The eventfd stays blocking, the kernel would answer a read on a non-blocking one with EAGAIN at once.
func (loop *EventLoop) armWakeup() error {
	_, err := loop.submit(kindWakeup, wakeupCompletion{loop: loop}, func(sqe *liburing.SubmissionQueueEntry) {
		sqe.PrepareRead(loop.wakeupFd, uintptr(unsafe.Pointer(&loop.wakeupBuf[0])), uint32(len(loop.wakeupBuf)), 0)
	}, true)
	return err
}

// Wakeup makes a blocked wait return, it is safe to call from any goroutine.
// It does nothing once the loop is closed.
func (loop *EventLoop) Wakeup() {
	loop.wakeupMu.RLock()
	defer loop.wakeupMu.RUnlock()
	if loop.wakeupFd < 0 {
		return
	}
	if _, err := unix.Write(loop.wakeupFd, wakeupValue[:]); err != nil && err != unix.EAGAIN {
		loop.logger.Error().Err(err).Msg("wakeup failed")
	}
}

type wakeupCompletion struct {
	loop *EventLoop
}

func (c wakeupCompletion) complete(res int32, _ uint32) bool {
	if res < 0 && res != -int32(unix.ECANCELED) {
		c.loop.logger.Debug().Err(unix.Errno(-res)).Msg("wakeup read failed")
	}
	if !c.loop.closed {
		_ = c.loop.armWakeup()
	}
	return true
}
