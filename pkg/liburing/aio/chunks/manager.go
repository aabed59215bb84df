//go:build linux

package chunks

import (
	"sync/atomic"

	"github.com/brickingsoft/errors"
	"github.com/brickingsoft/ringloop/pkg/liburing"
)

// BufferRing is the part of the ring a Manager registers its buffers with.
type BufferRing interface {
	SetupBufRing(entries uint32, bgid uint16) (*liburing.BufferAndRing, error)
	FreeBufRing(br *liburing.BufferAndRing, entries uint32, bgid uint16) error
}

var bgids atomic.Uint32

// Manager hands the pool's chunks to the kernel through a provided buffer ring
// and takes drained chunks back in batches.
type Manager struct {
	ring    BufferRing
	pool    *Pool
	br      *liburing.BufferAndRing
	mask    uint16
	bgid    uint16
	batch   int
	pending int
}

// NewManager registers every chunk of pool as one buffer group.
// batch is clamped to [1, count/4].
func NewManager(ring BufferRing, pool *Pool, batch int) (m *Manager, err error) {
	count := pool.Count()
	entries := uint32(count)
	bgid := uint16(bgids.Add(1) - 1)
	br, setupErr := ring.SetupBufRing(entries, bgid)
	if setupErr != nil {
		err = errors.New(
			"register buffer ring failed",
			errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
			errors.WithMeta(errMetaOpKey, errMetaOpSetup),
			errors.WithWrap(setupErr),
		)
		return
	}
	m = &Manager{
		ring:  ring,
		pool:  pool,
		br:    br,
		mask:  liburing.BufferRingMask(entries),
		bgid:  bgid,
		batch: ClampBatch(batch, count),
	}
	for i := 0; i < count; i++ {
		c := pool.chunks[i]
		c.Reset()
		c.inKernel = true
		br.BufRingAdd(pool.addr(c), uint32(c.Cap()), c.index, m.mask, uint16(i))
	}
	br.BufRingAdvance(uint16(count))
	return
}

// ClampBatch bounds a recycle batch to [1, count/4].
func ClampBatch(batch int, count int) int {
	ceiling := count / 4
	if ceiling < 1 {
		ceiling = 1
	}
	if batch < 1 {
		batch = 1
	}
	if batch > ceiling {
		batch = ceiling
	}
	return batch
}

func (m *Manager) BufferGroup() uint16 {
	return m.bgid
}

func (m *Manager) Batch() int {
	return m.batch
}

func (m *Manager) Pending() int {
	return m.pending
}

// Chunk resolves the buffer id of a completion into its chunk, which the caller then owns.
func (m *Manager) Chunk(bid uint16) (*Chunk, error) {
	c := m.pool.Chunk(bid)
	if c == nil {
		return nil, errors.From(ErrUnknownChunk, errors.WithMeta("bid", bid))
	}
	if !c.inKernel {
		return nil, errors.From(ErrChunkNotLent, errors.WithMeta("bid", bid))
	}
	c.inKernel = false
	return c, nil
}

// Recycle gives c back to the kernel. The ring tail moves once batch chunks are pending.
// Recycling a chunk the kernel already holds panics.
func (m *Manager) Recycle(c *Chunk) {
	if c.inKernel {
		panic(errors.From(ErrChunkRecycled, errors.WithMeta("bid", c.index)))
	}
	c.Reset()
	c.inKernel = true
	m.br.BufRingAdd(m.pool.addr(c), uint32(c.Cap()), c.index, m.mask, uint16(m.pending))
	m.pending++
	if m.pending >= m.batch {
		m.Flush()
	}
}

// Flush publishes a partial batch.
func (m *Manager) Flush() {
	if m.pending == 0 {
		return
	}
	m.br.BufRingAdvance(uint16(m.pending))
	m.pending = 0
}

func (m *Manager) Close() error {
	err := m.ring.FreeBufRing(m.br, uint32(m.pool.Count()), m.bgid)
	m.br = nil
	return err
}
