package reference

import (
	"io"
	"reflect"
	"sync/atomic"
)

// Make wraps value with one reference held by the caller.
func Make[E io.Closer](value E) *Pointer[E] {
	if reflect.ValueOf(value).IsNil() {
		panic("value is nil")
	}
	p := &Pointer[E]{value: value}
	p.count.Store(1)
	return p
}

// Pointer closes its value when the last reference is released.
type Pointer[E io.Closer] struct {
	value E
	count atomic.Int64
}

func (pointer *Pointer[E]) Value() E {
	return pointer.value
}

// Retain takes one more reference.
func (pointer *Pointer[E]) Retain() *Pointer[E] {
	pointer.count.Add(1)
	return pointer
}

func (pointer *Pointer[E]) Count() int64 {
	return pointer.count.Load()
}

// Release drops one reference and closes the value on the last one.
func (pointer *Pointer[E]) Release() error {
	n := pointer.count.Add(-1)
	if n == 0 {
		return pointer.value.Close()
	}
	if n < 0 {
		panic("reference released too many times")
	}
	return nil
}
