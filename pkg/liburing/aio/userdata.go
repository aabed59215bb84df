package aio

type opKind uint8

const (
	kindRead opKind = iota + 1
	kindWrite
	kindAccept
	kindWakeup
)

func (kind opKind) String() string {
	switch kind {
	case kindRead:
		return "read"
	case kindWrite:
		return "write"
	case kindAccept:
		return "accept"
	case kindWakeup:
		return "wakeup"
	default:
		return "unknown"
	}
}

const (
	kindShift = 56
	idMask    = uint64(1)<<kindShift - 1
)

// completion handles the completions of one submitted operation.
// It returns true when no more completions follow, the loop then forgets the operation.
type completion interface {
	complete(res int32, flags uint32) (done bool)
}

type inflight struct {
	kind opKind
	c    completion
}

func encodeUserdata(kind opKind, id uint64) uint64 {
	return uint64(kind)<<kindShift | id&idMask
}

func decodeUserdata(userdata uint64) (kind opKind, id uint64) {
	kind = opKind(userdata >> kindShift)
	id = userdata & idMask
	return
}
