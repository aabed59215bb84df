//go:build linux

package aio

import (
	"runtime"
	"strconv"
	"sync/atomic"

	"github.com/brickingsoft/errors"
	"github.com/brickingsoft/ringloop/pkg/process"
)

// LoopThread runs one EventLoop on a dedicated goroutine locked to its OS thread.
type LoopThread struct {
	name     string
	index    int
	affinity bool
	options  []Option
	loop     *EventLoop
	done     chan struct{}
}

// NewLoopThread
// with affinity the thread is pinned to cpu index.
func NewLoopThread(name string, index int, affinity bool, options ...Option) *LoopThread {
	return &LoopThread{
		name:     name,
		index:    index,
		affinity: affinity,
		options:  options,
	}
}

func (t *LoopThread) Name() string {
	return t.name
}

// Start returns once the loop is created and about to run.
func (t *LoopThread) Start() (*EventLoop, error) {
	if t.done != nil {
		return t.loop, nil
	}
	type started struct {
		loop *EventLoop
		err  error
	}
	ready := make(chan started, 1)
	t.done = make(chan struct{})
	go func() {
		defer close(t.done)
		runtime.LockOSThread()
		if !t.affinity {
			defer runtime.UnlockOSThread()
		} else if err := process.SetCPUAffinity(t.index); err != nil {
			ready <- started{err: err}
			return
		}
		loop, err := NewEventLoop(t.options...)
		if err != nil {
			ready <- started{err: err}
			return
		}
		ready <- started{loop: loop}
		if runErr := loop.Run(); runErr != nil {
			event := loop.logger.Fatal().Err(runErr).Str("thread", t.name)
			if IsSQExhausted(runErr) {
				event = event.Uint32("entries", loop.Options().Entries)
			}
			event.Msg("event loop thread failed")
		}
		if closeErr := loop.Close(); closeErr != nil {
			loop.logger.Error().Err(closeErr).Str("thread", t.name).Msg("close event loop failed")
		}
	}()
	s := <-ready
	if s.err != nil {
		<-t.done
		return nil, errors.New(
			"start loop thread failed",
			errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
			errors.WithMeta(errMetaOpKey, errMetaOpLoop),
			errors.WithMeta("thread", t.name),
			errors.WithWrap(s.err),
		)
	}
	t.loop = s.loop
	return t.loop, nil
}

func (t *LoopThread) Loop() *EventLoop {
	return t.loop
}

// Stop quits the loop and waits for the thread to close it.
func (t *LoopThread) Stop() {
	if t.done == nil || t.loop == nil {
		return
	}
	t.loop.Quit()
	<-t.done
}

// LoopThreadPool hands out loops round robin, with no threads every caller gets the base loop.
type LoopThreadPool struct {
	base     *EventLoop
	name     string
	size     int
	affinity bool
	options  []Option
	threads  []*LoopThread
	loops    []*EventLoop
	next     atomic.Uint64
	started  bool
}

func NewLoopThreadPool(base *EventLoop, name string, size int, affinity bool, options ...Option) *LoopThreadPool {
	if size < 0 {
		size = 0
	}
	return &LoopThreadPool{
		base:     base,
		name:     name,
		size:     size,
		affinity: affinity,
		options:  options,
	}
}

// Start spawns every thread, on failure the ones already running are stopped.
func (p *LoopThreadPool) Start() error {
	if p.started {
		return nil
	}
	for i := 0; i < p.size; i++ {
		t := NewLoopThread(p.name+"-"+strconv.Itoa(i), i, p.affinity, p.options...)
		loop, err := t.Start()
		if err != nil {
			p.Stop()
			return err
		}
		p.threads = append(p.threads, t)
		p.loops = append(p.loops, loop)
	}
	p.started = true
	return nil
}

func (p *LoopThreadPool) Size() int {
	return len(p.loops)
}

func (p *LoopThreadPool) NextLoop() *EventLoop {
	if len(p.loops) == 0 {
		return p.base
	}
	n := p.next.Add(1) - 1
	return p.loops[n%uint64(len(p.loops))]
}

func (p *LoopThreadPool) Loops() []*EventLoop {
	if len(p.loops) == 0 {
		return []*EventLoop{p.base}
	}
	return p.loops
}

func (p *LoopThreadPool) Stop() {
	for _, t := range p.threads {
		t.Stop()
	}
	p.threads = nil
	p.loops = nil
	p.started = false
}
