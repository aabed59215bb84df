//go:build linux

package liburing

import (
	"sync/atomic"
	"unsafe"
)

var bufferAndRingStructSize = uintptr(unsafe.Sizeof(BufferAndRing{}))

// BufferAndRing is one slot of a provided buffer ring.
// The first slot's Tail field doubles as the ring tail shared with the kernel.
type BufferAndRing struct {
	Addr uint64
	Len  uint32
	Bid  uint16
	Tail uint16
}

// BufRingAdd writes a buffer into the slot bufOffset places past the current tail.
// Nothing is visible to the kernel until BufRingAdvance.
func (br *BufferAndRing) BufRingAdd(addr uintptr, length uint32, bid uint16, mask, bufOffset uint16) {
	buf := (*BufferAndRing)(unsafe.Add(unsafe.Pointer(br), uintptr((br.Tail+bufOffset)&mask)*bufferAndRingStructSize))
	buf.Addr = uint64(addr)
	buf.Len = length
	buf.Bid = bid
}

// BufRingAdvance publishes count added buffers with a single release store.
func (br *BufferAndRing) BufRingAdvance(count uint16) {
	newTail := br.Tail + count
	bidAndTail := (*uint32)(unsafe.Pointer(&br.Bid))
	atomic.StoreUint32(bidAndTail, uint32(newTail)<<16|uint32(br.Bid))
}

func (br *BufferAndRing) BufRingInit() {
	br.Tail = 0
}

func BufferRingMask(entries uint32) uint16 {
	return uint16(entries - 1)
}

type BufReg struct {
	RingAddr    uint64
	RingEntries uint32
	Bgid        uint16
	Pad         uint16
	Resv        [3]uint64
}
