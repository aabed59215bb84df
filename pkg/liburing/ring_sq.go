//go:build linux

package liburing

import (
	"sync/atomic"
	"unsafe"
)

// GetSQE returns the next free submission entry, or nil when the queue is full.
// The entry is zeroed.
func (ring *Ring) GetSQE() *SubmissionQueueEntry {
	sq := ring.sqRing
	head := atomic.LoadUint32(sq.head)
	next := sq.sqeTail + 1
	if next-head > *sq.ringEntries {
		return nil
	}
	sqe := (*SubmissionQueueEntry)(
		unsafe.Add(unsafe.Pointer(sq.sqes), uintptr(sq.sqeTail&*sq.ringMask)*unsafe.Sizeof(SubmissionQueueEntry{})),
	)
	sq.sqeTail = next
	*sqe = SubmissionQueueEntry{}
	return sqe
}

func (ring *Ring) SQEntries() uint32 {
	return *ring.sqRing.ringEntries
}

func (ring *Ring) SQReady() uint32 {
	khead := *ring.sqRing.head
	if ring.flags&IORING_SETUP_SQPOLL != 0 {
		khead = atomic.LoadUint32(ring.sqRing.head)
	}
	return ring.sqRing.sqeTail - khead
}

func (ring *Ring) SQSpaceLeft() uint32 {
	return *ring.sqRing.ringEntries - ring.SQReady()
}

func (ring *Ring) sqRingNeedsEnter(submit uint32, flags *uint32) bool {
	if submit == 0 {
		return false
	}
	if ring.flags&IORING_SETUP_SQPOLL == 0 {
		return true
	}
	if atomic.LoadUint32(ring.sqRing.flags)&IORING_SQ_NEED_WAKEUP != 0 {
		*flags |= IORING_ENTER_SQ_WAKEUP
		return true
	}
	return false
}

// flushSQ publishes locally queued entries to the kernel and returns how many are pending.
func (ring *Ring) flushSQ() uint32 {
	sq := ring.sqRing
	tail := sq.sqeTail
	if sq.sqeHead != tail {
		sq.sqeHead = tail
		atomic.StoreUint32(sq.tail, tail)
	}
	return tail - atomic.LoadUint32(sq.head)
}
