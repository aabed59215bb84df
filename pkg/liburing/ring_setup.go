//go:build linux

package liburing

import (
	"syscall"
	"unsafe"
)

const (
	sysSetup = 425
)

const (
	regRing uint8 = 1
)

const (
	offsqRing uint64 = 0
	offcqRing uint64 = 0x8000000
	offSQEs   uint64 = 0x10000000
)

const (
	kernMaxEntries      = 32768
	kernMaxCQEntries    = 2 * kernMaxEntries
	cqEntriesMultiplier = 2
)

func (ring *Ring) setup(entries uint32, params *Params) error {
	if _, _, err := getSqCqEntries(entries, params); err != nil {
		return err
	}

	fdPtr, _, errno := syscall.Syscall(sysSetup, uintptr(entries), uintptr(unsafe.Pointer(params)), 0)
	if errno != 0 {
		return errno
	}
	fd := int(fdPtr)

	if err := mmapRing(fd, params, ring.sqRing, ring.cqRing); err != nil {
		_ = syscall.Close(fd)
		return err
	}

	sqEntries := *ring.sqRing.ringEntries
	for index := uint32(0); index < sqEntries; index++ {
		*(*uint32)(unsafe.Add(unsafe.Pointer(ring.sqRing.array), index*uint32(unsafe.Sizeof(uint32(0))))) = index
	}

	ring.features = params.features
	ring.flags = params.flags
	ring.enterRingFd = fd
	ring.ringFd = fd
	syscall.CloseOnExec(ring.ringFd)
	return nil
}

func mmapRing(fd int, p *Params, sq *SubmissionQueue, cq *CompletionQueue) error {
	var (
		size    uintptr
		ringPtr unsafe.Pointer
		err     error
	)

	size = unsafe.Sizeof(CompletionQueueEvent{})
	sq.ringSize = uint(uintptr(p.sqOff.array) + uintptr(p.sqEntries)*unsafe.Sizeof(uint32(0)))
	cq.ringSize = uint(uintptr(p.cqOff.cqes) + uintptr(p.cqEntries)*size)

	if p.features&IORING_FEAT_SINGLE_MMAP != 0 {
		if cq.ringSize > sq.ringSize {
			sq.ringSize = cq.ringSize
		}
		cq.ringSize = sq.ringSize
	}

	ringPtr, err = mmap(0, uintptr(sq.ringSize), syscall.PROT_READ|syscall.PROT_WRITE,
		syscall.MAP_SHARED|syscall.MAP_POPULATE, fd, int64(offsqRing))
	if err != nil {
		return err
	}
	sq.ringPtr = ringPtr

	if p.features&IORING_FEAT_SINGLE_MMAP != 0 {
		cq.ringPtr = sq.ringPtr
	} else {
		ringPtr, err = mmap(0, uintptr(cq.ringSize), syscall.PROT_READ|syscall.PROT_WRITE,
			syscall.MAP_SHARED|syscall.MAP_POPULATE, fd, int64(offcqRing))
		if err != nil {
			cq.ringPtr = nil
			unmapRings(sq, cq)
			return err
		}
		cq.ringPtr = ringPtr
	}

	size = unsafe.Sizeof(SubmissionQueueEntry{})
	ringPtr, err = mmap(0, size*uintptr(p.sqEntries), syscall.PROT_READ|syscall.PROT_WRITE,
		syscall.MAP_SHARED|syscall.MAP_POPULATE, fd, int64(offSQEs))
	if err != nil {
		unmapRings(sq, cq)
		return err
	}
	sq.sqes = (*SubmissionQueueEntry)(ringPtr)
	setupRingPointers(p, sq, cq)
	return nil
}

func setupRingPointers(p *Params, sq *SubmissionQueue, cq *CompletionQueue) {
	sq.head = (*uint32)(unsafe.Add(sq.ringPtr, p.sqOff.head))
	sq.tail = (*uint32)(unsafe.Add(sq.ringPtr, p.sqOff.tail))
	sq.ringMask = (*uint32)(unsafe.Add(sq.ringPtr, p.sqOff.ringMask))
	sq.ringEntries = (*uint32)(unsafe.Add(sq.ringPtr, p.sqOff.ringEntries))
	sq.flags = (*uint32)(unsafe.Add(sq.ringPtr, p.sqOff.flags))
	sq.dropped = (*uint32)(unsafe.Add(sq.ringPtr, p.sqOff.dropped))
	sq.array = (*uint32)(unsafe.Add(sq.ringPtr, p.sqOff.array))

	cq.head = (*uint32)(unsafe.Add(cq.ringPtr, p.cqOff.head))
	cq.tail = (*uint32)(unsafe.Add(cq.ringPtr, p.cqOff.tail))
	cq.ringMask = (*uint32)(unsafe.Add(cq.ringPtr, p.cqOff.ringMask))
	cq.ringEntries = (*uint32)(unsafe.Add(cq.ringPtr, p.cqOff.ringEntries))
	cq.overflow = (*uint32)(unsafe.Add(cq.ringPtr, p.cqOff.overflow))
	cq.cqes = (*CompletionQueueEvent)(unsafe.Add(cq.ringPtr, p.cqOff.cqes))
	if p.cqOff.flags != 0 {
		cq.flags = (*uint32)(unsafe.Add(cq.ringPtr, p.cqOff.flags))
	}
}

func unmapRings(sq *SubmissionQueue, cq *CompletionQueue) {
	if sq.ringPtr != nil && sq.ringSize > 0 {
		_ = munmap(uintptr(sq.ringPtr), uintptr(sq.ringSize))
	}
	if cq.ringPtr != nil && cq.ringSize > 0 && cq.ringPtr != sq.ringPtr {
		_ = munmap(uintptr(cq.ringPtr), uintptr(cq.ringSize))
	}
	sq.ringPtr = nil
	cq.ringPtr = nil
}

func getSqCqEntries(entries uint32, p *Params) (uint32, uint32, error) {
	var cqEntries uint32

	if entries == 0 {
		return 0, 0, syscall.EINVAL
	}
	if entries > kernMaxEntries {
		if p.flags&IORING_SETUP_CLAMP == 0 {
			return 0, 0, syscall.EINVAL
		}
		entries = kernMaxEntries
	}

	entries = RoundupPow2(entries)
	if p.flags&IORING_SETUP_CQSIZE != 0 {
		if p.cqEntries == 0 {
			return 0, 0, syscall.EINVAL
		}
		cqEntries = p.cqEntries
		if cqEntries > kernMaxCQEntries {
			if p.flags&IORING_SETUP_CLAMP == 0 {
				return 0, 0, syscall.EINVAL
			}
			cqEntries = kernMaxCQEntries
		}
		cqEntries = RoundupPow2(cqEntries)
		if cqEntries < entries {
			return 0, 0, syscall.EINVAL
		}
	} else {
		cqEntries = cqEntriesMultiplier * entries
	}
	return entries, cqEntries, nil
}

// SetupBufRing maps a provided buffer ring of entries slots and registers it as group bgid.
// The ring starts empty, buffers are published with BufRingAdd and BufRingAdvance.
func (ring *Ring) SetupBufRing(entries uint32, bgid uint16) (*BufferAndRing, error) {
	if !IsPow2(entries) || entries > kernMaxEntries {
		return nil, syscall.EINVAL
	}
	size := uintptr(entries) * unsafe.Sizeof(BufferAndRing{})
	ptr, err := mmap(0, size, syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_ANONYMOUS|syscall.MAP_PRIVATE, -1, 0)
	if err != nil {
		return nil, err
	}
	br := (*BufferAndRing)(ptr)

	reg := &BufReg{
		RingAddr:    uint64(uintptr(ptr)),
		RingEntries: entries,
		Bgid:        bgid,
	}
	if _, err = ring.RegisterBufferRing(reg); err != nil {
		_ = munmap(uintptr(ptr), size)
		return nil, err
	}
	br.BufRingInit()
	return br, nil
}

// FreeBufRing unregisters group bgid and unmaps its ring.
func (ring *Ring) FreeBufRing(br *BufferAndRing, entries uint32, bgid uint16) error {
	_, err := ring.UnregisterBufferRing(bgid)
	size := uintptr(entries) * unsafe.Sizeof(BufferAndRing{})
	_ = munmap(uintptr(unsafe.Pointer(br)), size)
	return err
}
