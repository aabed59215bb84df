//go:build linux

package aio

import (
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/brickingsoft/errors"
	"github.com/brickingsoft/ringloop/pkg/liburing"
	"github.com/brickingsoft/ringloop/pkg/liburing/aio/chunks"
	"github.com/brickingsoft/ringloop/pkg/liburing/aio/timers"
	"github.com/eapache/queue"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

var (
	loops   sync.Map
	loopIds atomic.Int64
)

// NewEventLoop creates a loop owned by the calling goroutine, which is locked to its OS thread
// until Close. Only one loop may exist per thread.
func NewEventLoop(options ...Option) (loop *EventLoop, err error) {
	opts := defaultOptions()
	for _, o := range options {
		o(&opts)
	}
	opts.normalize()

	runtime.LockOSThread()
	tid := unix.Gettid()
	if _, exist := loops.Load(tid); exist {
		runtime.UnlockOSThread()
		err = errors.From(
			ErrLoopExists,
			errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
			errors.WithMeta(errMetaOpKey, errMetaOpLoop),
		)
		return
	}

	id := loopIds.Add(1)
	logger := DefaultLogger()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	logger = logger.With().Int64("loop", id).Logger()

	loop = &EventLoop{
		id:          id,
		tid:         tid,
		options:     opts,
		logger:      logger,
		ring:        nil,
		manager:     nil,
		timers:      timers.New(),
		cqes:        make([]*liburing.CompletionQueueEvent, opts.CQEBatch),
		inflights:   make(map[uint64]inflight),
		backlog:     queue.New(),
		backlogged:  make(map[uint64]*deferred),
		pendingMu:   sync.Mutex{},
		pending:     make([]func(), 0, 8),
		wakeupFd:    -1,
		quit:        atomic.Bool{},
		callingFunc: atomic.Bool{},
	}
	if err = loop.init(); err != nil {
		loop.release()
		runtime.UnlockOSThread()
		loop = nil
		return
	}
	loops.Store(tid, loop)
	loop.logger.Debug().Int("tid", tid).Uint32("entries", loop.ring.SQEntries()).Uint32("flags", loop.ring.Flags()).Uint32("features", loop.ring.Features()).Msg("event loop created")
	return
}

// EventLoopOfCurrentThread returns the loop owned by the calling thread, if any.
func EventLoopOfCurrentThread() *EventLoop {
	v, ok := loops.Load(unix.Gettid())
	if !ok {
		return nil
	}
	return v.(*EventLoop)
}

type EventLoop struct {
	id          int64
	tid         int
	options     Options
	logger      zerolog.Logger
	ring        *liburing.Ring
	pool        *chunks.Pool
	manager     *chunks.Manager
	timers      *timers.Queue
	cqes        []*liburing.CompletionQueueEvent
	inflights   map[uint64]inflight
	nextId      uint64
	backlog     *queue.Queue
	backlogged  map[uint64]*deferred
	pendingMu   sync.Mutex
	pending     []func()
	wakeupMu    sync.RWMutex
	wakeupFd    int
	wakeupBuf   [8]byte
	looping     bool
	quit        atomic.Bool
	callingFunc atomic.Bool
	fatal       error
	closed      bool
}

func (loop *EventLoop) init() (err error) {
	opts := loop.options
	ringOptions := []liburing.Option{
		liburing.WithEntries(opts.Entries),
		liburing.WithFlags(opts.Flags),
	}
	if loop.ring, err = liburing.New(ringOptions...); err != nil {
		return errors.New(
			"create ring failed",
			errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
			errors.WithMeta(errMetaOpKey, errMetaOpLoop),
			errors.WithWrap(err),
		)
	}
	if _, regErr := loop.ring.RegisterRingFd(); regErr != nil {
		loop.logger.Debug().Err(regErr).Msg("register ring fd failed")
	}
	if err = loop.probe(); err != nil {
		return
	}
	if loop.pool, err = chunks.NewPool(opts.ChunkSize, opts.ChunkCount); err != nil {
		return
	}
	if !loop.pool.Locked() {
		loop.logger.Warn().Int("bytes", opts.ChunkSize*opts.ChunkCount).Msg("chunk pool is not locked in memory, memlock limit is too low")
	}
	if loop.manager, err = chunks.NewManager(loop.ring, loop.pool, opts.RecycleBatch); err != nil {
		return
	}
	if err = loop.openWakeup(); err != nil {
		return
	}
	return
}

var requiredOps = []uint8{
	liburing.IORING_OP_RECV,
	liburing.IORING_OP_ACCEPT,
	liburing.IORING_OP_SEND,
	liburing.IORING_OP_WRITEV,
	liburing.IORING_OP_READ,
	liburing.IORING_OP_ASYNC_CANCEL,
	liburing.IORING_OP_TIMEOUT,
}

// probe fails when the kernel lacks an opcode the loop submits.
// Kernels without probing are let through, their submissions fail instead.
func (loop *EventLoop) probe() error {
	probe, err := loop.ring.Probe()
	if err != nil {
		loop.logger.Debug().Err(err).Msg("probe ring failed")
		return nil
	}
	for _, op := range requiredOps {
		if !probe.IsSupported(op) {
			return errors.From(
				ErrUnsupportedOp,
				errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
				errors.WithMeta(errMetaOpKey, errMetaOpLoop),
				errors.WithMeta("opcode", op),
			)
		}
	}
	return nil
}

func (loop *EventLoop) Logger() *zerolog.Logger {
	return &loop.logger
}

func (loop *EventLoop) Options() Options {
	return loop.options
}

// IsInLoopThread reports whether the caller runs on the loop's OS thread.
func (loop *EventLoop) IsInLoopThread() bool {
	return unix.Gettid() == loop.tid
}

func (loop *EventLoop) assertInLoopThread(op string) error {
	if loop.IsInLoopThread() {
		return nil
	}
	return errors.From(
		ErrNotInLoopThread,
		errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
		errors.WithMeta(errMetaOpKey, op),
	)
}

// Run pumps completions until Quit. It must be called on the loop thread.
// An environment fatal error stops the loop and is returned.
func (loop *EventLoop) Run() error {
	if err := loop.assertInLoopThread(errMetaOpLoop); err != nil {
		return err
	}
	if loop.closed {
		return errors.From(ErrLoopClosed)
	}
	loop.looping = true
	loop.logger.Debug().Msg("event loop start")
	for !loop.quit.Load() {
		if _, err := loop.ring.SubmitAndWaitTimeout(1, loop.waitTimeout()); err != nil {
			if !transientWaitError(err) {
				loop.fatal = errors.New(
					"wait completions failed",
					errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
					errors.WithMeta(errMetaOpKey, errMetaOpLoop),
					errors.WithWrap(err),
				)
				break
			}
		}
		loop.processCompletions()
		loop.timers.Expire(time.Now())
		loop.drainBacklog()
		loop.doPendingFunctors()
		loop.manager.Flush()
		if loop.fatal != nil {
			break
		}
	}
	loop.looping = false
	if loop.fatal != nil {
		loop.logger.Error().Err(loop.fatal).Msg("event loop stopped")
		return loop.fatal
	}
	loop.logger.Debug().Msg("event loop stop")
	return nil
}

func transientWaitError(err error) bool {
	switch err {
	case syscall.ETIME, syscall.EINTR, syscall.EAGAIN, syscall.EBUSY:
		return true
	default:
		return false
	}
}

// Quit stops Run after the current iteration, it is safe to call from any goroutine.
func (loop *EventLoop) Quit() {
	loop.quit.Store(true)
	if !loop.IsInLoopThread() {
		loop.Wakeup()
	}
}

// Close releases the ring, the buffer ring, the chunk pool and the eventfd,
// then unlocks the OS thread. It must be called on the loop thread after Run returned.
func (loop *EventLoop) Close() error {
	if err := loop.assertInLoopThread(errMetaOpLoop); err != nil {
		return err
	}
	if loop.closed {
		return nil
	}
	loop.closed = true
	loops.Delete(loop.tid)
	err := loop.release()
	runtime.UnlockOSThread()
	loop.logger.Debug().Msg("event loop closed")
	return err
}

func (loop *EventLoop) release() (err error) {
	if loop.manager != nil {
		if closeErr := loop.manager.Close(); closeErr != nil {
			err = closeErr
		}
		loop.manager = nil
	}
	if loop.pool != nil {
		if closeErr := loop.pool.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		loop.pool = nil
	}
	loop.closeWakeup()
	if loop.ring != nil {
		if closeErr := loop.ring.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		loop.ring = nil
	}
	return
}

func (loop *EventLoop) waitTimeout() time.Duration {
	timeout := loop.options.PollTimeout
	if deadline, ok := loop.timers.NextDeadline(); ok {
		if d := time.Until(deadline); d < timeout {
			timeout = d
		}
	}
	if loop.backlog.Length() > 0 {
		timeout = 0
	}
	return timeout
}

func (loop *EventLoop) processCompletions() {
	for {
		n := loop.ring.PeekBatchCQE(loop.cqes)
		if n == 0 {
			return
		}
		for i := uint32(0); i < n; i++ {
			cqe := loop.cqes[i]
			loop.dispatch(cqe.UserData, cqe.Res, cqe.Flags)
		}
		loop.ring.CQAdvance(n)
		if int(n) < len(loop.cqes) {
			return
		}
	}
}

func (loop *EventLoop) dispatch(userdata uint64, res int32, flags uint32) {
	if userdata == 0 || userdata == liburing.UpdateTimeoutUserdata {
		return
	}
	kind, id := decodeUserdata(userdata)
	op, ok := loop.inflights[id]
	if !ok || op.kind != kind {
		loop.logger.Debug().Str("kind", kind.String()).Uint64("id", id).Int32("res", res).Msg("drop stale completion")
		return
	}
	if op.c.complete(res, flags) {
		delete(loop.inflights, id)
	}
}

// InFlight returns the number of operations the kernel still holds, it must be called on the loop thread.
func (loop *EventLoop) InFlight() int {
	return len(loop.inflights)
}

// RunInLoop runs fn now when called on the loop thread, otherwise queues it.
func (loop *EventLoop) RunInLoop(fn func()) {
	if loop.IsInLoopThread() {
		fn()
		return
	}
	loop.QueueInLoop(fn)
}

// QueueInLoop runs fn on the loop thread at the end of an iteration.
func (loop *EventLoop) QueueInLoop(fn func()) {
	loop.pendingMu.Lock()
	loop.pending = append(loop.pending, fn)
	loop.pendingMu.Unlock()
	if !loop.IsInLoopThread() || loop.callingFunc.Load() {
		loop.Wakeup()
	}
}

func (loop *EventLoop) doPendingFunctors() {
	loop.pendingMu.Lock()
	if len(loop.pending) == 0 {
		loop.pendingMu.Unlock()
		return
	}
	functors := loop.pending
	loop.pending = make([]func(), 0, len(functors))
	loop.pendingMu.Unlock()

	loop.callingFunc.Store(true)
	for _, fn := range functors {
		fn()
	}
	loop.callingFunc.Store(false)
}

// RunAt schedules fn at when.
func (loop *EventLoop) RunAt(when time.Time, fn func()) timers.ID {
	return loop.addTimer(timers.NewTimer(fn, when, 0))
}

// RunAfter schedules fn once after delay.
func (loop *EventLoop) RunAfter(delay time.Duration, fn func()) timers.ID {
	return loop.addTimer(timers.NewTimer(fn, time.Now().Add(delay), 0))
}

// RunEvery schedules fn every interval, starting one interval from now.
func (loop *EventLoop) RunEvery(interval time.Duration, fn func()) timers.ID {
	return loop.addTimer(timers.NewTimer(fn, time.Now().Add(interval), interval))
}

// Cancel cancels a timer, a repeating timer may cancel itself from its callback.
func (loop *EventLoop) Cancel(id timers.ID) {
	loop.RunInLoop(func() {
		loop.timers.Cancel(id)
	})
}

func (loop *EventLoop) addTimer(t *timers.Timer) timers.ID {
	loop.RunInLoop(func() {
		loop.timers.Add(t)
	})
	return t.ID()
}

func (loop *EventLoop) String() string {
	return "loop-" + strconv.FormatInt(loop.id, 10)
}
