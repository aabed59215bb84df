package chunks

// Chunk is a fixed-size slice of registered memory.
// It is owned either by the kernel, sitting in the buffer ring, or by one InputChainBuffer.
type Chunk struct {
	data       []byte
	index      uint16
	readIndex  int
	writeIndex int
	inKernel   bool
	next       *Chunk
}

func NewChunk(data []byte, index uint16) *Chunk {
	return &Chunk{
		data:  data,
		index: index,
	}
}

func (c *Chunk) Index() uint16 {
	return c.index
}

func (c *Chunk) Cap() int {
	return len(c.data)
}

// Len returns the number of unread bytes.
func (c *Chunk) Len() int {
	return c.writeIndex - c.readIndex
}

// Bytes returns the unread span.
func (c *Chunk) Bytes() []byte {
	return c.data[c.readIndex:c.writeIndex]
}

// Commit marks n more bytes as filled, n is clamped to the free space.
func (c *Chunk) Commit(n int) {
	if free := len(c.data) - c.writeIndex; n > free {
		n = free
	}
	if n > 0 {
		c.writeIndex += n
	}
}

func (c *Chunk) skip(n int) {
	c.readIndex += n
}

func (c *Chunk) Reset() {
	c.readIndex = 0
	c.writeIndex = 0
	c.next = nil
}
