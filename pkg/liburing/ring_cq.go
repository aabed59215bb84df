//go:build linux

package liburing

import (
	"sync/atomic"
	"unsafe"
)

func (ring *Ring) CQAdvance(numberOfCQEs uint32) {
	if numberOfCQEs == 0 {
		return
	}
	atomic.StoreUint32(ring.cqRing.head, *ring.cqRing.head+numberOfCQEs)
}

func (ring *Ring) CQEntries() uint32 {
	return *ring.cqRing.ringEntries
}

func (ring *Ring) CQReady() uint32 {
	return atomic.LoadUint32(ring.cqRing.tail) - *ring.cqRing.head
}

// PeekBatchCQE fills cqes with ready completions without consuming them.
// The caller must CQAdvance by the returned count once it is done with them.
func (ring *Ring) PeekBatchCQE(cqes []*CompletionQueueEvent) uint32 {
	overflowChecked := false
	count := uint32(len(cqes))
	for {
		ready := ring.CQReady()
		if ready != 0 {
			if count > ready {
				count = ready
			}
			head := *ring.cqRing.head
			mask := *ring.cqRing.ringMask
			for i := uint32(0); i < count; i++ {
				cqes[i] = (*CompletionQueueEvent)(
					unsafe.Add(unsafe.Pointer(ring.cqRing.cqes), uintptr((head+i)&mask)*unsafe.Sizeof(CompletionQueueEvent{})),
				)
			}
			return count
		}
		if overflowChecked || !ring.cqRingNeedsFlush() {
			return 0
		}
		_, _ = ring.GetEvents()
		overflowChecked = true
	}
}

// GetEvents flushes overflowed completions into the ring.
func (ring *Ring) GetEvents() (uint, error) {
	return ring.enter(0, 0, IORING_ENTER_GETEVENTS, nil)
}

func (ring *Ring) cqRingNeedsFlush() bool {
	return atomic.LoadUint32(ring.sqRing.flags)&(IORING_SQ_CQ_OVERFLOW|IORING_SQ_TASKRUN) != 0
}
