package timers

import (
	"sync/atomic"
	"time"
)

var sequences atomic.Uint64

// ID identifies a scheduled timer for cancellation. The zero ID is never issued.
type ID struct {
	sequence uint64
}

func (id ID) Valid() bool {
	return id.sequence != 0
}

func (id ID) Sequence() uint64 {
	return id.sequence
}

type Timer struct {
	callback   func()
	expiration time.Time
	interval   time.Duration
	sequence   uint64
	index      int
}

// NewTimer
// creates a timer firing at when, then every interval when interval > 0.
func NewTimer(callback func(), when time.Time, interval time.Duration) *Timer {
	return &Timer{
		callback:   callback,
		expiration: when,
		interval:   interval,
		sequence:   sequences.Add(1),
		index:      -1,
	}
}

func (t *Timer) Run() {
	if t.callback != nil {
		t.callback()
	}
}

func (t *Timer) Expiration() time.Time {
	return t.expiration
}

func (t *Timer) Interval() time.Duration {
	return t.interval
}

func (t *Timer) Repeat() bool {
	return t.interval > 0
}

func (t *Timer) Sequence() uint64 {
	return t.sequence
}

func (t *Timer) ID() ID {
	return ID{sequence: t.sequence}
}

// Restart moves a repeating timer to now + interval.
func (t *Timer) Restart(now time.Time) {
	if t.Repeat() {
		t.expiration = now.Add(t.interval)
	} else {
		t.expiration = time.Time{}
	}
}

func (t *Timer) before(o *Timer) bool {
	if t.expiration.Equal(o.expiration) {
		return t.sequence < o.sequence
	}
	return t.expiration.Before(o.expiration)
}
