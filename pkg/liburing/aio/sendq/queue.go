package sendq

import (
	"github.com/brickingsoft/ringloop/pkg/reference"
	"golang.org/x/sys/unix"
)

const (
	DefaultMaxSlices = 64
	// MaxSlices is the kernel IOV_MAX.
	MaxSlices = 1024
)

// Fragment is the unwritten tail of one payload.
type Fragment struct {
	payload *reference.Pointer[*Payload]
	data    []byte
	written int
	next    *Fragment
}

func (f *Fragment) Len() int {
	return len(f.data) - f.written
}

func (f *Fragment) Bytes() []byte {
	return f.data[f.written:]
}

// SendQueue holds output fragments in order.
// curr is the first fragment not covered by the batch in flight.
type SendQueue struct {
	head      *Fragment
	tail      *Fragment
	curr      *Fragment
	length    int
	count     int
	maxSlices int
	iovecs    []unix.Iovec
}

func New(maxSlices int) *SendQueue {
	if maxSlices < 1 {
		maxSlices = DefaultMaxSlices
	}
	if maxSlices > MaxSlices {
		maxSlices = MaxSlices
	}
	return &SendQueue{
		maxSlices: maxSlices,
		iovecs:    make([]unix.Iovec, 0, maxSlices),
	}
}

// Len returns the number of unwritten bytes.
func (q *SendQueue) Len() int {
	return q.length
}

func (q *SendQueue) Fragments() int {
	return q.count
}

func (q *SendQueue) Empty() bool {
	return q.length == 0
}

// Append queues the payload behind payload, taking a reference of its own.
func (q *SendQueue) Append(payload *reference.Pointer[*Payload]) int {
	data := payload.Value().Bytes()
	if len(data) == 0 {
		return 0
	}
	f := &Fragment{
		payload: payload.Retain(),
		data:    data,
	}
	if q.tail == nil {
		q.head = f
	} else {
		q.tail.next = f
	}
	q.tail = f
	if q.curr == nil {
		q.curr = f
	}
	q.length += len(data)
	q.count++
	return len(data)
}

// Prepare builds the next batch from curr, at most maxSlices fragments, and moves curr past it.
// The returned slice stays valid until the next Prepare.
func (q *SendQueue) Prepare() []unix.Iovec {
	q.iovecs = q.iovecs[:0]
	for f := q.curr; f != nil && len(q.iovecs) < q.maxSlices; f = f.next {
		b := f.Bytes()
		iov := unix.Iovec{Base: &b[0]}
		iov.SetLen(len(b))
		q.iovecs = append(q.iovecs, iov)
		q.curr = f.next
	}
	return q.iovecs
}

// Retrieve retires n written bytes from the head.
// Fully written fragments release their payload, a partially written one stays.
// curr moves back to the head so the unwritten remainder is batched again.
func (q *SendQueue) Retrieve(n int) {
	for n > 0 && q.head != nil {
		f := q.head
		rest := f.Len()
		if n < rest {
			f.written += n
			q.length -= n
			break
		}
		n -= rest
		q.length -= rest
		q.pop()
	}
	q.curr = q.head
}

// Reset releases every fragment.
func (q *SendQueue) Reset() {
	for q.head != nil {
		q.length -= q.head.Len()
		q.pop()
	}
	q.curr = nil
	q.length = 0
	q.iovecs = q.iovecs[:0]
}

func (q *SendQueue) pop() {
	f := q.head
	q.head = f.next
	if q.head == nil {
		q.tail = nil
	}
	q.count--
	_ = f.payload.Release()
	f.payload = nil
	f.next = nil
}
