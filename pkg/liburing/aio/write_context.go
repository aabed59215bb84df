//go:build linux

package aio

import (
	"syscall"
	"unsafe"

	"github.com/brickingsoft/errors"
	"github.com/brickingsoft/ringloop/pkg/liburing"
	"github.com/brickingsoft/ringloop/pkg/liburing/aio/sendq"
	"github.com/brickingsoft/ringloop/pkg/reference"
	"golang.org/x/sys/unix"
)

// WriteWaiter is resumed once on the loop thread, ok is false when the connection failed.
// Parked waiters are resumed in order.
type WriteWaiter func(ok bool, err error)

// WriteContext drains a SendQueue with at most one send or writev outstanding.
// Every method must be called on the loop thread.
type WriteContext struct {
	loop     *EventLoop
	fd       int
	queue    *sendq.SendQueue
	sending  bool
	userdata uint64
	waiters  []WriteWaiter
	err      error
	high     int
	low      int
	onError  func(err error)
	onIdle   func()
}

// NewWriteContext
// a sender is suspended above high and resumed at or below low, low defaults to high.
func NewWriteContext(loop *EventLoop, fd int, high int, low int, maxSlices int) *WriteContext {
	if high < 1 {
		high = loop.options.WriteHighWater
	}
	if low < 1 || low > high {
		low = high
	}
	if maxSlices < 1 {
		maxSlices = loop.options.MaxSlices
	}
	return &WriteContext{
		loop:  loop,
		fd:    fd,
		queue: sendq.New(maxSlices),
		high:  high,
		low:   low,
	}
}

func (w *WriteContext) OnError(fn func(err error)) {
	w.onError = fn
}

// OnIdle sets the callback invoked whenever the outstanding write finished and none follows.
func (w *WriteContext) OnIdle(fn func()) {
	w.onIdle = fn
}

func (w *WriteContext) Sending() bool {
	return w.sending
}

func (w *WriteContext) Len() int {
	return w.queue.Len()
}

func (w *WriteContext) Err() error {
	return w.err
}

// Append queues payload and starts a write when none is outstanding.
func (w *WriteContext) Append(payload *reference.Pointer[*sendq.Payload]) error {
	if w.err != nil {
		return w.err
	}
	if w.queue.Append(payload) == 0 {
		return nil
	}
	if !w.sending {
		w.flush()
	}
	return nil
}

// Wait resumes waiter at once unless the queue is above the high water mark.
func (w *WriteContext) Wait(waiter WriteWaiter) {
	if w.err != nil {
		waiter(false, w.err)
		return
	}
	if w.queue.Len() <= w.high {
		waiter(true, nil)
		return
	}
	w.waiters = append(w.waiters, waiter)
}

// Close fails the context with err and resumes a parked sender.
// An outstanding write is left to finish, it fails once the socket is shut down.
func (w *WriteContext) Close(err error) {
	w.fail(err, false)
}

// Release drops every queued fragment.
func (w *WriteContext) Release() {
	w.queue.Reset()
}

func (w *WriteContext) flush() {
	iovecs := w.queue.Prepare()
	if len(iovecs) == 0 {
		w.sending = false
		return
	}
	w.sending = true
	userdata, err := w.loop.submit(kindWrite, w, func(sqe *liburing.SubmissionQueueEntry) {
		if len(iovecs) == 1 {
			sqe.PrepareSend(w.fd, uintptr(unsafe.Pointer(iovecs[0].Base)), uint32(iovecs[0].Len), unix.MSG_NOSIGNAL)
			return
		}
		sqe.PrepareWritev(w.fd, uintptr(unsafe.Pointer(&iovecs[0])), uint32(len(iovecs)), 0)
	}, false)
	if err != nil {
		w.sending = false
		w.fail(err, true)
		return
	}
	w.userdata = userdata
}

func (w *WriteContext) complete(res int32, _ uint32) bool {
	w.sending = false
	w.userdata = 0
	if res < 0 {
		errno := syscall.Errno(-res)
		switch errno {
		case syscall.EAGAIN, syscall.ENOBUFS, syscall.EINTR:
			w.loop.logger.Debug().Int("fd", w.fd).Err(errno).Msg("write interrupted")
			w.queue.Retrieve(0)
		default:
			w.fail(errno, true)
		}
	} else {
		w.queue.Retrieve(int(res))
	}
	if w.err == nil && !w.queue.Empty() {
		w.flush()
	}
	if len(w.waiters) > 0 && (w.err != nil || w.queue.Len() <= w.low) {
		w.resume()
	}
	if !w.sending && w.onIdle != nil {
		w.onIdle()
	}
	return true
}

func (w *WriteContext) fail(cause error, closeConn bool) {
	if w.err != nil {
		return
	}
	w.err = errors.From(
		ErrClosed,
		errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
		errors.WithMeta(errMetaOpKey, errMetaOpSend),
		errors.WithWrap(cause),
	)
	w.resume()
	if closeConn && w.onError != nil {
		w.onError(cause)
	}
}

func (w *WriteContext) resume() {
	waiters := w.waiters
	w.waiters = nil
	for _, waiter := range waiters {
		waiter(w.err == nil, w.err)
	}
}
