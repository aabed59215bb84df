//go:build linux

package liburing

import "unsafe"

const (
	IORING_CQE_F_BUFFER uint32 = 1 << iota
	IORING_CQE_F_MORE
	IORING_CQE_F_SOCK_NONEMPTY
	IORING_CQE_F_NOTIF
	IORING_CQE_F_BUF_MORE
)

const IORING_CQE_BUFFER_SHIFT = 16

type CompletionQueueEvent struct {
	UserData uint64
	Res      int32
	Flags    uint32
}

// CQEFlags is the flags word of a completion.
type CQEFlags uint32

// BufferId returns the provided buffer id, ok is false when no buffer was picked.
func (f CQEFlags) BufferId() (bid uint16, ok bool) {
	if uint32(f)&IORING_CQE_F_BUFFER == 0 {
		return
	}
	return uint16(f >> IORING_CQE_BUFFER_SHIFT), true
}

// More reports that a multishot request stays armed after this completion.
func (f CQEFlags) More() bool {
	return uint32(f)&IORING_CQE_F_MORE != 0
}

type CQRingOffsets struct {
	head        uint32
	tail        uint32
	ringMask    uint32
	ringEntries uint32
	overflow    uint32
	cqes        uint32
	flags       uint32
	resv1       uint32
	userAddr    uint64
}

type CompletionQueue struct {
	head        *uint32
	tail        *uint32
	ringMask    *uint32
	ringEntries *uint32
	flags       *uint32
	overflow    *uint32
	cqes        *CompletionQueueEvent
	ringSize    uint
	ringPtr     unsafe.Pointer
	pad         [2]uint32
}
