package chunks

import "unsafe"

// Recycler takes drained chunks back.
type Recycler interface {
	Recycle(c *Chunk)
}

// InputChainBuffer is a connection's receive queue: a chain of filled chunks read as one stream.
// It is only touched on the loop thread.
type InputChainBuffer struct {
	recycler Recycler
	head     *Chunk
	tail     *Chunk
	length   int
	count    int
}

func NewInputChainBuffer(recycler Recycler) *InputChainBuffer {
	return &InputChainBuffer{
		recycler: recycler,
	}
}

// Len returns the number of unread bytes.
func (b *InputChainBuffer) Len() int {
	return b.length
}

// Chunks returns the number of chunks held.
func (b *InputChainBuffer) Chunks() int {
	return b.count
}

// Append takes ownership of c. An empty chunk goes straight back to the recycler.
func (b *InputChainBuffer) Append(c *Chunk) {
	if c.Len() == 0 {
		b.recycler.Recycle(c)
		return
	}
	c.next = nil
	if b.tail == nil {
		b.head = c
	} else {
		b.tail.next = c
	}
	b.tail = c
	b.length += c.Len()
	b.count++
}

// Peek returns the unread bytes of the first chunk.
func (b *InputChainBuffer) Peek() []byte {
	if b.head == nil {
		return nil
	}
	return b.head.Bytes()
}

// Read copies up to len(p) bytes into p and consumes them.
func (b *InputChainBuffer) Read(p []byte) (n int) {
	for n < len(p) && b.head != nil {
		c := b.head
		m := copy(p[n:], c.Bytes())
		n += m
		b.consume(c, m)
	}
	return
}

// Remove discards up to n bytes and returns how many were discarded.
func (b *InputChainBuffer) Remove(n int) (removed int) {
	for removed < n && b.head != nil {
		c := b.head
		m := c.Len()
		if rest := n - removed; m > rest {
			m = rest
		}
		removed += m
		b.consume(c, m)
	}
	return
}

// Retrieve consumes up to n bytes and returns a copy of them.
func (b *InputChainBuffer) Retrieve(n int) []byte {
	if n > b.length {
		n = b.length
	}
	if n <= 0 {
		return nil
	}
	p := make([]byte, n)
	b.Read(p)
	return p
}

func (b *InputChainBuffer) RetrieveString(n int) string {
	p := b.Retrieve(n)
	if len(p) == 0 {
		return ""
	}
	return unsafe.String(unsafe.SliceData(p), len(p))
}

func (b *InputChainBuffer) RetrieveAll() []byte {
	return b.Retrieve(b.length)
}

// Reset hands every chunk back to the recycler.
func (b *InputChainBuffer) Reset() {
	for b.head != nil {
		c := b.head
		b.head = c.next
		b.recycler.Recycle(c)
	}
	b.tail = nil
	b.length = 0
	b.count = 0
}

func (b *InputChainBuffer) consume(c *Chunk, n int) {
	c.skip(n)
	b.length -= n
	if c.Len() > 0 {
		return
	}
	b.head = c.next
	if b.head == nil {
		b.tail = nil
	}
	b.count--
	b.recycler.Recycle(c)
}
