package chunks_test

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/brickingsoft/ringloop/pkg/liburing/aio/chunks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recycler struct {
	recycled []*chunks.Chunk
}

func (r *recycler) Recycle(c *chunks.Chunk) {
	r.recycled = append(r.recycled, c)
}

func filled(index uint16, size int, p []byte) *chunks.Chunk {
	data := make([]byte, size)
	c := chunks.NewChunk(data, index)
	c.Commit(copy(data, p))
	return c
}

func TestInputChainBuffer_AppendRemoveAll(t *testing.T) {
	r := &recycler{}
	b := chunks.NewInputChainBuffer(r)

	b.Append(filled(0, 8, []byte("hello ")))
	b.Append(filled(1, 8, []byte("world")))
	assert.Equal(t, 11, b.Len())
	assert.Equal(t, 2, b.Chunks())
	assert.Equal(t, []byte("hello "), b.Peek())

	assert.Equal(t, "hello world", b.RetrieveString(11))
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, 0, b.Chunks())
	assert.Len(t, r.recycled, 2)
	assert.Nil(t, b.Peek())
}

func TestInputChainBuffer_PartialKeepsChunk(t *testing.T) {
	r := &recycler{}
	b := chunks.NewInputChainBuffer(r)
	b.Append(filled(0, 8, []byte("abcdef")))

	assert.Equal(t, 2, b.Remove(2))
	assert.Equal(t, 4, b.Len())
	assert.Empty(t, r.recycled)

	p := make([]byte, 3)
	assert.Equal(t, 3, b.Read(p))
	assert.Equal(t, "cde", string(p))
	assert.Empty(t, r.recycled)

	assert.Equal(t, 1, b.Remove(100))
	assert.Len(t, r.recycled, 1)
	assert.Equal(t, 0, b.Remove(1))
	assert.Nil(t, b.Retrieve(1))
}

func TestInputChainBuffer_EmptyChunkRecycled(t *testing.T) {
	r := &recycler{}
	b := chunks.NewInputChainBuffer(r)
	b.Append(chunks.NewChunk(make([]byte, 8), 3))
	assert.Equal(t, 0, b.Chunks())
	require.Len(t, r.recycled, 1)
	assert.Equal(t, uint16(3), r.recycled[0].Index())
}

func TestInputChainBuffer_RandomInterleaving(t *testing.T) {
	r := &recycler{}
	b := chunks.NewInputChainBuffer(r)
	rnd := rand.New(rand.NewSource(1))

	const size = 16
	var (
		appended []byte
		consumed []byte
		index    uint16
	)
	for i := 0; i < 500; i++ {
		if rnd.Intn(2) == 0 {
			p := make([]byte, 1+rnd.Intn(size))
			rnd.Read(p)
			b.Append(filled(index, size, p))
			index++
			appended = append(appended, p...)
		} else {
			n := rnd.Intn(2 * size)
			if rnd.Intn(2) == 0 {
				consumed = append(consumed, b.Retrieve(n)...)
			} else {
				before := b.Len()
				removed := b.Remove(n)
				consumed = append(consumed, appended[len(consumed):len(consumed)+removed]...)
				assert.Equal(t, before-removed, b.Len())
			}
		}
		require.GreaterOrEqual(t, b.Len(), 0)
		require.Equal(t, len(appended)-len(consumed), b.Len())
	}
	consumed = append(consumed, b.RetrieveAll()...)
	assert.True(t, bytes.Equal(appended, consumed))
	assert.Equal(t, 0, b.Chunks())
	assert.Equal(t, int(index), len(r.recycled))
}

func TestInputChainBuffer_Reset(t *testing.T) {
	r := &recycler{}
	b := chunks.NewInputChainBuffer(r)
	b.Append(filled(0, 4, []byte("ab")))
	b.Append(filled(1, 4, []byte("cd")))
	b.Reset()
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, 0, b.Chunks())
	assert.Len(t, r.recycled, 2)
}

func TestChunk_Commit(t *testing.T) {
	c := chunks.NewChunk(make([]byte, 4), 0)
	c.Commit(10)
	assert.Equal(t, 4, c.Len())
	c.Reset()
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, 4, c.Cap())
}

func TestClampBatch(t *testing.T) {
	assert.Equal(t, 1, chunks.ClampBatch(0, 1024))
	assert.Equal(t, 16, chunks.ClampBatch(16, 1024))
	assert.Equal(t, 256, chunks.ClampBatch(1000, 1024))
	assert.Equal(t, 1, chunks.ClampBatch(8, 2))
}
