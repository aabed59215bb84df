//go:build linux

package aio

import (
	"net"
	"syscall"
	"time"

	"github.com/brickingsoft/errors"
	"github.com/brickingsoft/ringloop/pkg/liburing"
	"github.com/brickingsoft/ringloop/pkg/liburing/aio/sys"
	"golang.org/x/sys/unix"
)

const acceptRetryDelay = 100 * time.Millisecond

// ConnectionCallback receives every accepted socket on the acceptor's loop thread.
// The callback owns fd.
type ConnectionCallback func(fd int, peer net.Addr)

// Acceptor runs a multishot accept of a listening socket on its loop.
type Acceptor struct {
	loop      *EventLoop
	fd        int
	addr      net.Addr
	callback  ConnectionCallback
	userdata  uint64
	listening bool
	paused    bool
	stopped   bool
	closing   bool
}

// NewAcceptor binds and listens on address, accepting starts with Listen.
func NewAcceptor(loop *EventLoop, network string, address string, options sys.ListenOptions) (*Acceptor, error) {
	fd, err := sys.ListenTCP(network, address, options)
	if err != nil {
		return nil, errors.New(
			"listen failed",
			errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
			errors.WithMeta(errMetaOpKey, errMetaOpListen),
			errors.WithWrap(err),
		)
	}
	addr, addrErr := sys.LocalAddr(fd)
	if addrErr != nil {
		_ = unix.Close(fd)
		return nil, errors.New(
			"listen failed",
			errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
			errors.WithMeta(errMetaOpKey, errMetaOpListen),
			errors.WithWrap(addrErr),
		)
	}
	return &Acceptor{
		loop: loop,
		fd:   fd,
		addr: addr,
	}, nil
}

func (a *Acceptor) Addr() net.Addr {
	return a.addr
}

// SetConnectionCallback must be called before Listen.
func (a *Acceptor) SetConnectionCallback(cb ConnectionCallback) {
	a.callback = cb
}

// AttachCBPF steers connections of a SO_REUSEPORT group of groups listeners by receiving cpu.
func (a *Acceptor) AttachCBPF(groups uint32) error {
	if err := sys.NewCBPFFilter(groups).ApplyTo(a.fd); err != nil {
		return errors.New(
			"attach cbpf failed",
			errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
			errors.WithMeta(errMetaOpKey, errMetaOpListen),
			errors.WithWrap(err),
		)
	}
	return nil
}

// Listen starts accepting on the loop thread.
func (a *Acceptor) Listen() {
	a.loop.RunInLoop(func() {
		if a.listening || a.closing {
			return
		}
		a.listening = true
		a.accept()
	})
}

// Listening must be called on the loop thread.
func (a *Acceptor) Listening() bool {
	return a.listening && !a.stopped
}

// Close cancels accepting and closes the listening socket.
// The ring keeps its own reference to the socket until the accept is gone.
func (a *Acceptor) Close() {
	a.loop.RunInLoop(func() {
		if a.closing {
			return
		}
		a.closing = true
		if a.userdata != 0 {
			a.loop.cancel(a.userdata)
		}
		a.closeFd()
	})
}

func (a *Acceptor) accept() {
	if a.closing || a.stopped {
		return
	}
	a.paused = false
	userdata, err := a.loop.submit(kindAccept, a, func(sqe *liburing.SubmissionQueueEntry) {
		sqe.PrepareAcceptMultishot(a.fd, nil, nil, unix.SOCK_CLOEXEC)
	}, false)
	if err != nil {
		a.stopped = true
		a.loop.logger.Error().Err(err).Str("addr", a.addr.String()).Msg("accept failed")
		return
	}
	a.userdata = userdata
}

func (a *Acceptor) complete(res int32, flags uint32) bool {
	more := liburing.CQEFlags(flags).More()
	if res >= 0 {
		a.newConnection(int(res))
	} else {
		switch errno := syscall.Errno(-res); errno {
		case syscall.ECANCELED:
		case syscall.EMFILE, syscall.ENFILE:
			a.loop.logger.Warn().Err(errno).Str("addr", a.addr.String()).Msg("accept paused, out of file descriptors")
			if !a.paused {
				a.paused = true
				if more {
					a.loop.cancel(a.userdata)
				}
			}
		default:
			a.loop.logger.Error().Err(errno).Str("addr", a.addr.String()).Msg("accept stopped")
			a.stopped = true
			if more {
				a.loop.cancel(a.userdata)
			}
		}
	}
	if more {
		return false
	}
	a.userdata = 0
	switch {
	case a.closing:
		a.closeFd()
	case a.stopped:
	case a.paused:
		a.loop.RunAfter(acceptRetryDelay, a.accept)
	default:
		a.accept()
	}
	return true
}

func (a *Acceptor) newConnection(fd int) {
	if a.closing || a.callback == nil {
		_ = unix.Close(fd)
		return
	}
	peer, err := sys.PeerAddr(fd)
	if err != nil {
		a.loop.logger.Debug().Err(err).Int("fd", fd).Msg("drop accepted socket")
		_ = unix.Close(fd)
		return
	}
	a.callback(fd, peer)
}

func (a *Acceptor) closeFd() {
	if a.fd < 0 {
		return
	}
	_ = unix.Close(a.fd)
	a.fd = -1
	a.listening = false
}
