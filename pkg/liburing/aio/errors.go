package aio

import (
	"github.com/brickingsoft/errors"
)

var (
	ErrLoopExists       = errors.Define("another event loop already exists in this thread")
	ErrNotInLoopThread  = errors.Define("not in the event loop thread")
	ErrInLoopThread     = errors.Define("blocking call on the event loop thread")
	ErrSQExhausted      = errors.Define("submission queue is exhausted")
	ErrClosed           = errors.Define("use of closed network connection")
	ErrLoopClosed       = errors.Define("event loop is closed")
	ErrUnexpectedBuffer = errors.Define("completion carries no provided buffer")
	ErrUnsupportedOp    = errors.Define("io_uring opcode is not supported by the kernel")
)

func IsClosed(err error) bool {
	return errors.Is(err, ErrClosed)
}

func IsSQExhausted(err error) bool {
	return errors.Is(err, ErrSQExhausted)
}

const (
	errMetaPkgKey = "pkg"
	errMetaPkgVal = "aio"
)

const (
	errMetaOpKey    = "op"
	errMetaOpLoop   = "loop"
	errMetaOpSubmit = "submit"
	errMetaOpListen = "listen"
	errMetaOpAccept = "accept"
	errMetaOpRecv   = "receive"
	errMetaOpSend   = "send"
	errMetaOpClose  = "close"
)
