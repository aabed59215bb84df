//go:build linux

package liburing

import (
	"os"
	"runtime"
	"syscall"
	"unsafe"
)

const (
	sysRegister = 427
)

const (
	IORING_REGISTER_BUFFERS uint32 = iota
	IORING_UNREGISTER_BUFFERS
	IORING_REGISTER_FILES
	IORING_UNREGISTER_FILES
	IORING_REGISTER_EVENTFD
	IORING_UNREGISTER_EVENTFD
	IORING_REGISTER_FILES_UPDATE
	IORING_REGISTER_EVENTFD_ASYNC
	IORING_REGISTER_PROBE
	IORING_REGISTER_PERSONALITY
	IORING_UNREGISTER_PERSONALITY
	IORING_REGISTER_RESTRICTIONS
	IORING_REGISTER_ENABLE_RINGS
	IORING_REGISTER_FILES2
	IORING_REGISTER_FILES_UPDATE2
	IORING_REGISTER_BUFFERS2
	IORING_REGISTER_BUFFERS_UPDATE
	IORING_REGISTER_IOWQ_AFF
	IORING_UNREGISTER_IOWQ_AFF
	IORING_REGISTER_IOWQ_MAX_WORKERS
	IORING_REGISTER_RING_FDS
	IORING_UNREGISTER_RING_FDS
	IORING_REGISTER_PBUF_RING
	IORING_UNREGISTER_PBUF_RING

	IORING_REGISTER_USE_REGISTERED_RING = 1 << 31
)

type RsrcUpdate struct {
	Offset uint32
	Resv   uint32
	Data   uint64
}

func (ring *Ring) doRegister(op uint32, arg unsafe.Pointer, nrArgs uint32) (uint, error) {
	fd := ring.ringFd
	if ring.kind&regRing != 0 {
		op |= IORING_REGISTER_USE_REGISTERED_RING
		fd = ring.enterRingFd
	}
	r1, _, errno := syscall.Syscall6(sysRegister, uintptr(fd), uintptr(op), uintptr(arg), uintptr(nrArgs), 0, 0)
	if errno != 0 {
		return 0, os.NewSyscallError("io_uring_register", errno)
	}
	return uint(r1), nil
}

func (ring *Ring) RegisterBufferRing(reg *BufReg) (uint, error) {
	result, err := ring.doRegister(IORING_REGISTER_PBUF_RING, unsafe.Pointer(reg), 1)
	runtime.KeepAlive(reg)
	return result, err
}

func (ring *Ring) UnregisterBufferRing(bgid uint16) (uint, error) {
	reg := &BufReg{Bgid: bgid}
	result, err := ring.doRegister(IORING_UNREGISTER_PBUF_RING, unsafe.Pointer(reg), 1)
	runtime.KeepAlive(reg)
	return result, err
}

func (ring *Ring) RegisterProbe(probe *Probe, nrOps int) (uint, error) {
	result, err := ring.doRegister(IORING_REGISTER_PROBE, unsafe.Pointer(probe), uint32(nrOps))
	runtime.KeepAlive(probe)
	return result, err
}

// RegisterRingFd registers the ring descriptor so that enter skips the fd lookup.
func (ring *Ring) RegisterRingFd() (uint, error) {
	if ring.kind&regRing != 0 {
		return 0, syscall.EEXIST
	}
	up := &RsrcUpdate{
		Data:   uint64(ring.ringFd),
		Offset: math32Max,
	}
	result, err := ring.doRegister(IORING_REGISTER_RING_FDS, unsafe.Pointer(up), 1)
	runtime.KeepAlive(up)
	if err != nil {
		return result, err
	}
	if result == 1 {
		ring.enterRingFd = int(up.Offset)
		ring.kind |= regRing
	}
	return result, nil
}

func (ring *Ring) UnregisterRingFd() (uint, error) {
	if ring.kind&regRing == 0 {
		return 0, syscall.EINVAL
	}
	up := &RsrcUpdate{Offset: uint32(ring.enterRingFd)}
	result, err := ring.doRegister(IORING_UNREGISTER_RING_FDS, unsafe.Pointer(up), 1)
	runtime.KeepAlive(up)
	if err != nil {
		return result, err
	}
	if result == 1 {
		ring.enterRingFd = ring.ringFd
		ring.kind &^= regRing
	}
	return result, nil
}

const math32Max = ^uint32(0)
