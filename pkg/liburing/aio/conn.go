//go:build linux

package aio

import (
	"context"
	"net"
	"strconv"
	"sync/atomic"

	"github.com/brickingsoft/errors"
	"github.com/brickingsoft/ringloop/pkg/liburing/aio/sendq"
	"github.com/brickingsoft/ringloop/pkg/liburing/aio/sys"
	"github.com/brickingsoft/ringloop/pkg/semaphores"
	"golang.org/x/sys/unix"
)

// CloseCallback runs once on the loop thread after the connection released its fd.
type CloseCallback func(conn *TcpConnection)

type readResult struct {
	n   int
	s   string
	err error
}

type sendResult struct {
	ok  bool
	err error
}

// TcpConnection is an accepted socket bound to one loop.
// Handler methods may be called from any goroutine but the loop thread, they block until the loop answers.
type TcpConnection struct {
	name     string
	loop     *EventLoop
	fd       int
	local    net.Addr
	peer     net.Addr
	read     *ReadContext
	write    *WriteContext
	closed   atomic.Bool
	shut     bool
	released bool
	onClose  CloseCallback
}

// NewTcpConnection must be called on the loop thread, it takes ownership of fd.
func NewTcpConnection(loop *EventLoop, name string, fd int, peer net.Addr) *TcpConnection {
	local, _ := sys.LocalAddr(fd)
	if name == "" {
		name = loop.String() + "-" + strconv.Itoa(fd)
	}
	opts := loop.options
	c := &TcpConnection{
		name:  name,
		loop:  loop,
		fd:    fd,
		local: local,
		peer:  peer,
		read:  NewReadContext(loop, fd, opts.ReadHighWaterBytes, opts.ReadHighWaterChunks),
		write: NewWriteContext(loop, fd, opts.WriteHighWater, opts.WriteLowWater, opts.MaxSlices),
	}
	c.read.OnError(c.handleError)
	c.read.OnStopped(c.tryRelease)
	c.write.OnError(c.handleError)
	c.write.OnIdle(c.tryRelease)
	if err := sys.SetNoDelay(fd, true); err != nil {
		loop.logger.Debug().Err(err).Str("conn", name).Msg("set no delay failed")
	}
	return c
}

func (c *TcpConnection) Name() string {
	return c.name
}

func (c *TcpConnection) Fd() int {
	return c.fd
}

func (c *TcpConnection) Loop() *EventLoop {
	return c.loop
}

func (c *TcpConnection) LocalAddr() net.Addr {
	return c.local
}

func (c *TcpConnection) RemoteAddr() net.Addr {
	return c.peer
}

// Closed reports whether the connection is closing or closed.
func (c *TcpConnection) Closed() bool {
	return c.closed.Load()
}

// SetCloseCallback must be called on the loop thread before the connection is used.
func (c *TcpConnection) SetCloseCallback(cb CloseCallback) {
	c.onClose = cb
}

// PrepareToRead blocks until data is buffered and returns its length.
func (c *TcpConnection) PrepareToRead(ctx context.Context) (int, error) {
	r, err := c.waitRead(ctx, func(n int) readResult {
		return readResult{n: n}
	})
	return r.n, err
}

// Read blocks until data is buffered, then moves up to len(p) bytes into p.
func (c *TcpConnection) Read(ctx context.Context, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	r, err := c.waitRead(ctx, func(int) readResult {
		return readResult{n: c.read.Read(p)}
	})
	return r.n, err
}

// ReadString blocks until data is buffered, then takes up to n bytes, or everything when n < 1.
func (c *TcpConnection) ReadString(ctx context.Context, n int) (string, error) {
	r, err := c.waitRead(ctx, func(buffered int) readResult {
		if n < 1 || n > buffered {
			n = buffered
		}
		s := c.read.RetrieveString(n)
		return readResult{n: len(s), s: s}
	})
	return r.s, err
}

// waitRead parks a waiter on the loop and runs take there once data is buffered.
// A canceled ctx or an expired read timeout leaves the buffered data untouched unless take already ran.
func (c *TcpConnection) waitRead(ctx context.Context, take func(buffered int) readResult) (readResult, error) {
	if c.loop.IsInLoopThread() {
		return readResult{}, errors.From(ErrInLoopThread, errors.WithMeta(errMetaOpKey, errMetaOpRecv))
	}
	var claimed atomic.Bool
	sem := semaphores.New[readResult](c.loop.options.ReadTimeout)
	c.loop.RunInLoop(func() {
		c.read.Prepare(func(n int, err error) {
			if !claimed.CompareAndSwap(false, true) {
				return
			}
			if n == 0 {
				sem.Signal(readResult{err: err})
				return
			}
			sem.Signal(take(n))
		})
	})
	r, err := sem.Wait(ctx)
	if err != nil {
		if claimed.CompareAndSwap(false, true) {
			return readResult{}, err
		}
		r, _ = sem.Wait(context.Background())
	}
	return r, r.err
}

// Send queues a copy of b. It blocks while the output queue is above its high water mark
// and returns false once the connection failed.
func (c *TcpConnection) Send(ctx context.Context, b []byte) (bool, error) {
	if c.loop.IsInLoopThread() {
		return false, errors.From(ErrInLoopThread, errors.WithMeta(errMetaOpKey, errMetaOpSend))
	}
	if c.closed.Load() {
		return false, errors.From(ErrClosed, errors.WithMeta(errMetaOpKey, errMetaOpSend))
	}
	if len(b) == 0 {
		return true, nil
	}
	data := make([]byte, len(b))
	copy(data, b)
	payload := sendq.NewPayload(data, nil)

	sem := semaphores.New[sendResult](c.loop.options.WriteTimeout)
	c.loop.RunInLoop(func() {
		err := c.write.Append(payload)
		_ = payload.Release()
		if err != nil {
			sem.Signal(sendResult{err: err})
			return
		}
		c.write.Wait(func(ok bool, err error) {
			sem.Signal(sendResult{ok: ok, err: err})
		})
	})
	r, err := sem.Wait(ctx)
	if err != nil {
		return false, err
	}
	return r.ok, r.err
}

// Close shuts the connection down, pending readers and senders fail with ErrClosed.
func (c *TcpConnection) Close() error {
	c.loop.RunInLoop(func() {
		c.shutdown(net.ErrClosed)
	})
	return nil
}

// ForceClose is Close for callers on the loop thread.
func (c *TcpConnection) ForceClose() {
	c.shutdown(net.ErrClosed)
}

func (c *TcpConnection) handleError(err error) {
	c.loop.logger.Debug().Err(err).Str("conn", c.name).Msg("connection failed")
	c.shutdown(err)
}

func (c *TcpConnection) shutdown(cause error) {
	if c.shut {
		return
	}
	c.shut = true
	c.closed.Store(true)
	c.read.Close(cause)
	c.write.Close(cause)
	if err := unix.Shutdown(c.fd, unix.SHUT_RDWR); err != nil && err != unix.ENOTCONN {
		c.loop.logger.Debug().Err(err).Str("conn", c.name).Msg("shutdown failed")
	}
	c.tryRelease()
}

// tryRelease closes the fd once no read or write of the connection is left in the kernel.
func (c *TcpConnection) tryRelease() {
	if !c.shut || c.released {
		return
	}
	if c.read.Status() != ReadStopped || c.write.Sending() {
		return
	}
	c.released = true
	c.read.Release()
	c.write.Release()
	if err := unix.Close(c.fd); err != nil {
		c.loop.logger.Debug().Err(errors.New(
			"close failed",
			errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
			errors.WithMeta(errMetaOpKey, errMetaOpClose),
			errors.WithWrap(err),
		)).Str("conn", c.name).Send()
	}
	if c.onClose != nil {
		c.onClose(c)
	}
}

func (c *TcpConnection) String() string {
	return c.name
}
