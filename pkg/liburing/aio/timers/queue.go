package timers

import (
	"container/heap"
	"time"
)

type timerHeap []*Timer

func (h timerHeap) Len() int           { return len(h) }
func (h timerHeap) Less(i, j int) bool { return h[i].before(h[j]) }
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*Timer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// Queue keeps timers ordered by (expiration, sequence).
// It is not safe for concurrent use, the owning loop marshals every call onto its thread.
type Queue struct {
	timers    timerHeap
	index     map[uint64]*Timer
	canceling map[uint64]struct{}
	running   bool
}

func New() *Queue {
	return &Queue{
		timers:    make(timerHeap, 0, 8),
		index:     make(map[uint64]*Timer),
		canceling: make(map[uint64]struct{}),
	}
}

func (q *Queue) Len() int {
	return len(q.timers)
}

// Add inserts t and reports whether it became the earliest timer.
func (q *Queue) Add(t *Timer) (id ID, earliest bool) {
	earliest = len(q.timers) == 0 || t.before(q.timers[0])
	q.insert(t)
	id = t.ID()
	return
}

func (q *Queue) insert(t *Timer) {
	heap.Push(&q.timers, t)
	q.index[t.sequence] = t
}

// Cancel removes the timer behind id.
// A timer that is being swept, including the caller's own timer, is only prevented from repeating.
func (q *Queue) Cancel(id ID) {
	if !id.Valid() {
		return
	}
	if t, ok := q.index[id.sequence]; ok {
		heap.Remove(&q.timers, t.index)
		delete(q.index, id.sequence)
		return
	}
	if q.running {
		q.canceling[id.sequence] = struct{}{}
	}
}

// NextDeadline returns the earliest expiration, ok is false when the queue is empty.
func (q *Queue) NextDeadline() (deadline time.Time, ok bool) {
	if len(q.timers) == 0 {
		return
	}
	deadline, ok = q.timers[0].expiration, true
	return
}

// Expire runs every timer whose expiration is not after now and returns how many ran.
func (q *Queue) Expire(now time.Time) int {
	expired := q.expired(now)
	if len(expired) == 0 {
		return 0
	}
	clear(q.canceling)
	q.running = true
	for _, t := range expired {
		t.Run()
	}
	q.running = false
	q.reset(expired, now)
	return len(expired)
}

func (q *Queue) expired(now time.Time) (expired []*Timer) {
	for len(q.timers) > 0 {
		t := q.timers[0]
		if t.expiration.After(now) {
			break
		}
		heap.Pop(&q.timers)
		delete(q.index, t.sequence)
		expired = append(expired, t)
	}
	return
}

func (q *Queue) reset(expired []*Timer, now time.Time) {
	for _, t := range expired {
		if !t.Repeat() {
			continue
		}
		if _, canceled := q.canceling[t.sequence]; canceled {
			continue
		}
		t.Restart(now)
		q.insert(t)
	}
	clear(q.canceling)
}
