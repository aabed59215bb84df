//go:build linux

package aio

import (
	"io"
	"syscall"

	"github.com/brickingsoft/errors"
	"github.com/brickingsoft/ringloop/pkg/liburing"
	"github.com/brickingsoft/ringloop/pkg/liburing/aio/chunks"
)

type ReadStatus int

const (
	ReadStopped ReadStatus = iota
	ReadReading
	ReadCanceling
)

func (status ReadStatus) String() string {
	switch status {
	case ReadStopped:
		return "STOPPED"
	case ReadReading:
		return "READING"
	case ReadCanceling:
		return "CANCELING"
	default:
		return "UNKNOWN"
	}
}

// ReadWaiter is resumed once on the loop thread with the buffered length, or with the terminal error.
// Waiters parked together are resumed in order while data is buffered.
type ReadWaiter func(n int, err error)

// ReadContext drives a multishot receive into an InputChainBuffer.
// Every method must be called on the loop thread.
type ReadContext struct {
	loop       *EventLoop
	fd         int
	buffer     *chunks.InputChainBuffer
	status     ReadStatus
	userdata   uint64
	waiters    []ReadWaiter
	err        error
	highBytes  int
	highChunks int
	onError    func(err error)
	onStopped  func()
}

func NewReadContext(loop *EventLoop, fd int, highBytes int, highChunks int) *ReadContext {
	if highBytes < 1 {
		highBytes = loop.options.ReadHighWaterBytes
	}
	if highChunks < 1 {
		highChunks = loop.options.ReadHighWaterChunks
	}
	return &ReadContext{
		loop:       loop,
		fd:         fd,
		buffer:     chunks.NewInputChainBuffer(loop.manager),
		status:     ReadStopped,
		highBytes:  highBytes,
		highChunks: highChunks,
	}
}

// OnError sets the close path invoked once on the first fatal error.
func (r *ReadContext) OnError(fn func(err error)) {
	r.onError = fn
}

// OnStopped sets the callback invoked whenever no read is outstanding any more.
func (r *ReadContext) OnStopped(fn func()) {
	r.onStopped = fn
}

func (r *ReadContext) Status() ReadStatus {
	return r.status
}

func (r *ReadContext) Err() error {
	return r.err
}

func (r *ReadContext) Len() int {
	return r.buffer.Len()
}

// Prepare resumes w at once when data is buffered or the context failed.
// Otherwise w is parked and a receive is submitted unless one is outstanding.
func (r *ReadContext) Prepare(w ReadWaiter) {
	if r.buffer.Len() > 0 || r.err != nil {
		w(r.buffer.Len(), r.err)
		return
	}
	r.waiters = append(r.waiters, w)
	if r.status == ReadStopped {
		r.submit()
	}
}

func (r *ReadContext) Read(p []byte) int {
	n := r.buffer.Read(p)
	r.consumed()
	return n
}

func (r *ReadContext) Remove(n int) int {
	n = r.buffer.Remove(n)
	r.consumed()
	return n
}

func (r *ReadContext) Retrieve(n int) []byte {
	p := r.buffer.Retrieve(n)
	r.consumed()
	return p
}

func (r *ReadContext) RetrieveString(n int) string {
	s := r.buffer.RetrieveString(n)
	r.consumed()
	return s
}

// Cancel stops an outstanding receive, the context goes STOPPED on its end marker.
func (r *ReadContext) Cancel() {
	if r.status != ReadReading {
		return
	}
	r.status = ReadCanceling
	r.loop.cancel(r.userdata)
}

// Close fails the context with err, resuming a parked waiter, and cancels the receive.
func (r *ReadContext) Close(err error) {
	r.fail(err, false)
	r.Cancel()
}

// Release returns every buffered chunk to the pool.
func (r *ReadContext) Release() {
	r.buffer.Reset()
	r.loop.manager.Flush()
}

func (r *ReadContext) consumed() {
	if r.status == ReadStopped && r.err == nil && len(r.waiters) > 0 && !r.overHighWater() {
		r.submit()
	}
}

func (r *ReadContext) overHighWater() bool {
	return r.buffer.Len() > r.highBytes || r.buffer.Chunks() > r.highChunks
}

func (r *ReadContext) submit() {
	bgid := r.loop.manager.BufferGroup()
	userdata, err := r.loop.submit(kindRead, r, func(sqe *liburing.SubmissionQueueEntry) {
		sqe.PrepareRecvMultishot(r.fd, bgid, 0)
	}, false)
	if err != nil {
		r.fail(err, true)
		return
	}
	r.userdata = userdata
	r.status = ReadReading
}

func (r *ReadContext) complete(res int32, flags uint32) bool {
	more := liburing.CQEFlags(flags).More()
	transient := false
	switch {
	case res > 0:
		r.append(res, flags)
	case res == 0:
		r.fail(io.EOF, true)
	default:
		errno := syscall.Errno(-res)
		switch errno {
		case syscall.ENOBUFS, syscall.EAGAIN, syscall.EINTR, syscall.ECANCELED:
			transient = true
			r.loop.logger.Debug().Int("fd", r.fd).Err(errno).Msg("receive interrupted")
		default:
			r.fail(errno, true)
		}
	}
	if more {
		return false
	}
	r.status = ReadStopped
	r.userdata = 0
	if r.err == nil && len(r.waiters) > 0 && r.buffer.Len() == 0 {
		if transient && syscall.Errno(-res) == syscall.ENOBUFS {
			// retry next iteration, after recycled chunks reached the kernel
			r.loop.RunAfter(0, r.resume)
		} else {
			r.submit()
		}
	}
	if r.status == ReadStopped && r.onStopped != nil {
		r.onStopped()
	}
	return true
}

func (r *ReadContext) resume() {
	if r.status == ReadStopped && r.err == nil && len(r.waiters) > 0 && r.buffer.Len() == 0 {
		r.submit()
	}
}

func (r *ReadContext) append(res int32, flags uint32) {
	bid, ok := liburing.CQEFlags(flags).BufferId()
	if !ok {
		r.fail(errors.From(ErrUnexpectedBuffer), true)
		return
	}
	c, err := r.loop.manager.Chunk(bid)
	if err != nil {
		r.fail(err, true)
		return
	}
	c.Commit(int(res))
	if r.err != nil {
		r.loop.manager.Recycle(c)
		return
	}
	r.buffer.Append(c)
	if r.status == ReadReading && r.overHighWater() {
		r.Cancel()
	}
	for len(r.waiters) > 0 && r.buffer.Len() > 0 {
		w := r.waiters[0]
		r.waiters[0] = nil
		r.waiters = r.waiters[1:]
		w(r.buffer.Len(), nil)
	}
}

func (r *ReadContext) fail(cause error, closeConn bool) {
	if r.err != nil {
		return
	}
	r.err = errors.From(
		ErrClosed,
		errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
		errors.WithMeta(errMetaOpKey, errMetaOpRecv),
		errors.WithWrap(cause),
	)
	waiters := r.waiters
	r.waiters = nil
	for _, w := range waiters {
		w(0, r.err)
	}
	if closeConn && r.onError != nil {
		r.onError(cause)
	}
}
