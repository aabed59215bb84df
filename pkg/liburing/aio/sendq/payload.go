package sendq

import "github.com/brickingsoft/ringloop/pkg/reference"

// Payload is caller owned output bytes shared by every fragment that references it.
type Payload struct {
	data      []byte
	onRelease func([]byte)
}

// NewPayload wraps data with one reference held by the caller.
// onRelease runs once every reference is gone.
func NewPayload(data []byte, onRelease func([]byte)) *reference.Pointer[*Payload] {
	return reference.Make(&Payload{data: data, onRelease: onRelease})
}

func (p *Payload) Bytes() []byte {
	return p.data
}

func (p *Payload) Close() error {
	if p.onRelease != nil {
		p.onRelease(p.data)
	}
	return nil
}
