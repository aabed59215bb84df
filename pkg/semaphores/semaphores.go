package semaphores

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/brickingsoft/errors"
)

var (
	ErrTimeout = errors.Define("semaphore wait timeout")
)

// New returns a one-shot semaphore, Wait gives up after timeout when timeout > 0.
func New[T any](timeout time.Duration) *Semaphore[T] {
	return &Semaphore[T]{
		timeout: timeout,
		ch:      make(chan T, 1),
	}
}

// Semaphore parks one waiter until a single Signal hands it a value.
type Semaphore[T any] struct {
	timeout time.Duration
	ch      chan T
	status  atomic.Bool
}

// Signal delivers v, only the first call has an effect.
func (s *Semaphore[T]) Signal(v T) bool {
	if s.status.CompareAndSwap(false, true) {
		s.ch <- v
		return true
	}
	return false
}

func (s *Semaphore[T]) Wait(ctx context.Context) (v T, err error) {
	var timeout <-chan time.Time
	if s.timeout > 0 {
		timer := time.NewTimer(s.timeout)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case v = <-s.ch:
	case <-ctx.Done():
		err = ctx.Err()
	case <-timeout:
		err = errors.From(ErrTimeout)
	}
	return
}
