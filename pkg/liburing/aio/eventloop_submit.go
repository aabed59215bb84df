//go:build linux

package aio

import (
	"syscall"

	"github.com/brickingsoft/errors"
	"github.com/brickingsoft/ringloop/pkg/liburing"
)

type prepFunc func(sqe *liburing.SubmissionQueueEntry)

// deferred is a submission parked while the submission queue runs low.
type deferred struct {
	userdata uint64
	prep     prepFunc
	canceled bool
}

// submit registers c as the owner of a new operation and queues its entry.
// Below the low water mark, or behind earlier deferred entries, an unforced entry is parked
// and retried by drainBacklog. A forced entry always takes a slot now.
func (loop *EventLoop) submit(kind opKind, c completion, prep prepFunc, force bool) (userdata uint64, err error) {
	loop.nextId++
	if loop.nextId > idMask {
		loop.nextId = 1
	}
	id := loop.nextId
	userdata = encodeUserdata(kind, id)

	if !force && (loop.backlog.Length() > 0 || loop.ring.SQSpaceLeft() < loop.options.SQLowWater) {
		d := &deferred{userdata: userdata, prep: prep}
		loop.backlog.Add(d)
		loop.backlogged[userdata] = d
		loop.inflights[id] = inflight{kind: kind, c: c}
		return
	}
	if err = loop.push(userdata, prep); err != nil {
		userdata = 0
		return
	}
	loop.inflights[id] = inflight{kind: kind, c: c}
	return
}

func (loop *EventLoop) push(userdata uint64, prep prepFunc) error {
	sqe := loop.ring.GetSQE()
	if sqe == nil {
		if _, err := loop.ring.Submit(); err != nil && err != syscall.EINTR && err != syscall.EAGAIN && err != syscall.EBUSY {
			loop.logger.Debug().Err(err).Msg("flush submission queue failed")
		}
		sqe = loop.ring.GetSQE()
	}
	if sqe == nil {
		err := errors.From(
			ErrSQExhausted,
			errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
			errors.WithMeta(errMetaOpKey, errMetaOpSubmit),
		)
		loop.fatal = err
		loop.quit.Store(true)
		return err
	}
	prep(sqe)
	sqe.SetData64(userdata)
	return nil
}

// cancel asks the kernel to stop the operation behind userdata.
// An operation still parked never reaches the kernel, it completes with ECANCELED on the next drain.
func (loop *EventLoop) cancel(userdata uint64) {
	if userdata == 0 {
		return
	}
	if d, ok := loop.backlogged[userdata]; ok {
		d.canceled = true
		return
	}
	_ = loop.push(0, func(sqe *liburing.SubmissionQueueEntry) {
		sqe.PrepareCancel64(userdata, 0)
	})
}

func (loop *EventLoop) drainBacklog() {
	for n := 0; n < loop.options.DrainLimit && loop.backlog.Length() > 0; n++ {
		d := loop.backlog.Peek().(*deferred)
		if d.canceled {
			loop.backlog.Remove()
			delete(loop.backlogged, d.userdata)
			loop.dispatch(d.userdata, -int32(syscall.ECANCELED), 0)
			continue
		}
		if loop.ring.SQSpaceLeft() < loop.options.SQLowWater {
			return
		}
		loop.backlog.Remove()
		delete(loop.backlogged, d.userdata)
		if err := loop.push(d.userdata, d.prep); err != nil {
			return
		}
	}
}

// Backlog returns the number of parked submissions, it must be called on the loop thread.
func (loop *EventLoop) Backlog() int {
	return loop.backlog.Length()
}
