//go:build linux

package chunks

import (
	"unsafe"

	"github.com/brickingsoft/errors"
	"github.com/brickingsoft/ringloop/pkg/liburing"
	"golang.org/x/sys/unix"
)

const (
	DefaultChunkSize  = 4096
	DefaultChunkCount = 1024
	MaxChunkSize      = 1 << 20
	MaxChunkCount     = 32768
)

// Pool is one anonymous mapping cut into count chunks of size bytes.
type Pool struct {
	mem    []byte
	chunks []*Chunk
	size   int
	locked bool
}

// NewPool maps count*size bytes, locked and populated when the memlock limit allows it.
// size is rounded up to a power of two.
// count must be a power of two.
func NewPool(size int, count int) (pool *Pool, err error) {
	if size < 1 {
		size = DefaultChunkSize
	}
	if count < 1 {
		count = DefaultChunkCount
	}
	if size > MaxChunkSize {
		err = errors.New(
			"chunk size must not be greater than 1MiB",
			errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
			errors.WithMeta(errMetaOpKey, errMetaOpPool),
		)
		return
	}
	size = int(liburing.RoundupPow2(uint32(size)))
	if count > MaxChunkCount || !liburing.IsPow2(uint32(count)) {
		err = errors.New(
			"chunk count must be a power of two not greater than 32768",
			errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
			errors.WithMeta(errMetaOpKey, errMetaOpPool),
		)
		return
	}
	length := size * count
	locked := true
	mem, mmapErr := unix.Mmap(-1, 0, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_LOCKED|unix.MAP_POPULATE)
	if mmapErr != nil {
		locked = false
		mem, mmapErr = unix.Mmap(-1, 0, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_POPULATE)
	}
	if mmapErr != nil {
		err = errors.New(
			"map chunk pool failed",
			errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
			errors.WithMeta(errMetaOpKey, errMetaOpPool),
			errors.WithWrap(mmapErr),
		)
		return
	}
	chunks := make([]*Chunk, count)
	for i := 0; i < count; i++ {
		chunks[i] = NewChunk(mem[i*size:(i+1)*size:(i+1)*size], uint16(i))
	}
	pool = &Pool{
		mem:    mem,
		chunks: chunks,
		size:   size,
		locked: locked,
	}
	return
}

// Locked reports whether the mapping is pinned in memory.
func (pool *Pool) Locked() bool {
	return pool.locked
}

func (pool *Pool) Size() int {
	return pool.size
}

func (pool *Pool) Count() int {
	return len(pool.chunks)
}

func (pool *Pool) Chunk(index uint16) *Chunk {
	if int(index) >= len(pool.chunks) {
		return nil
	}
	return pool.chunks[index]
}

func (pool *Pool) addr(c *Chunk) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(c.data)))
}

func (pool *Pool) Close() error {
	if pool.mem == nil {
		return nil
	}
	err := unix.Munmap(pool.mem)
	pool.mem = nil
	pool.chunks = nil
	return err
}
