//go:build linux

package liburing

import (
	"syscall"
	"unsafe"
)

func New(options ...Option) (ring *Ring, err error) {
	opts := Options{
		Entries: DefaultEntries,
	}
	for _, o := range options {
		if err = o(&opts); err != nil {
			return
		}
	}

	params := &Params{}
	params.flags = opts.Flags
	params.cqEntries = opts.CQEntries

	if err = params.Validate(); err != nil {
		return
	}

	ring = &Ring{
		sqRing: &SubmissionQueue{},
		cqRing: &CompletionQueue{},
		ringFd: -1,
	}
	if err = ring.setup(opts.Entries, params); err != nil {
		ring = nil
		return
	}
	return
}

type Ring struct {
	sqRing      *SubmissionQueue
	cqRing      *CompletionQueue
	flags       uint32
	ringFd      int
	features    uint32
	enterRingFd int
	kind        uint8
	pad         [3]uint8
	pad2        uint32
}

func (ring *Ring) Flags() uint32 {
	return ring.flags
}

func (ring *Ring) Features() uint32 {
	return ring.features
}

func (ring *Ring) Close() (err error) {
	sq := ring.sqRing
	if sq.sqes != nil {
		_ = munmap(uintptr(unsafe.Pointer(sq.sqes)), uintptr(*sq.ringEntries)*unsafe.Sizeof(SubmissionQueueEntry{}))
		sq.sqes = nil
	}
	unmapRings(sq, ring.cqRing)

	if ring.kind&regRing != 0 {
		_, _ = ring.UnregisterRingFd()
	}
	if ring.ringFd != -1 {
		err = syscall.Close(ring.ringFd)
		ring.ringFd = -1
	}
	return
}

func (ring *Ring) Probe() (*Probe, error) {
	probe := &Probe{}
	_, err := ring.RegisterProbe(probe, probeOpsSize)
	if err != nil {
		return nil, err
	}
	return probe, nil
}

type ProbeOp struct {
	Op    uint8
	Res   uint8
	Flags uint16
	Res2  uint32
}

const (
	probeOpsSize = 256
)

const IO_URING_OP_SUPPORTED uint16 = 1 << 0

type Probe struct {
	LastOp uint8
	OpsLen uint8
	Res    uint16
	Res2   [3]uint32
	Ops    [probeOpsSize]ProbeOp
}

func (p *Probe) IsSupported(op uint8) bool {
	for i := uint8(0); i < p.OpsLen; i++ {
		if p.Ops[i].Op != op {
			continue
		}
		return p.Ops[i].Flags&IO_URING_OP_SUPPORTED != 0
	}
	return false
}
