//go:build linux

package ringloop_test

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/brickingsoft/ringloop"
	"github.com/brickingsoft/ringloop/pkg/liburing"
	"github.com/brickingsoft/ringloop/pkg/liburing/aio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echo(ctx context.Context, conn *aio.TcpConnection) {
	buf := make([]byte, 16*1024)
	for {
		n, err := conn.Read(ctx, buf)
		if err != nil {
			return
		}
		if ok, _ := conn.Send(ctx, buf[:n]); !ok {
			return
		}
	}
}

func requireRing(t *testing.T) {
	t.Helper()
	ring, err := liburing.New(liburing.WithEntries(8))
	if errors.Is(err, syscall.ENOSYS) || errors.Is(err, syscall.EPERM) {
		t.Skip("io_uring is not available:", err)
	}
	require.NoError(t, err)
	br, err := ring.SetupBufRing(8, 1)
	if err != nil {
		_ = ring.Close()
		t.Skip("provided buffer rings are not supported:", err)
	}
	_ = ring.FreeBufRing(br, 8, 1)
	_ = ring.Close()
}

var loopOptions = []aio.Option{
	aio.WithEntries(256),
	aio.WithChunkPool(4096, 256),
	aio.WithPollTimeout(time.Second),
}

// serve runs a server on a base loop owned by the test goroutine until clients returns.
func serve(t *testing.T, clients func(addr string) error, options ...ringloop.Option) {
	t.Helper()
	requireRing(t)

	base, err := aio.NewEventLoop(loopOptions...)
	require.NoError(t, err)
	defer base.Close()

	options = append([]ringloop.Option{ringloop.WithLoopOptions(loopOptions...)}, options...)
	srv, err := ringloop.NewTcpServer(base, "127.0.0.1:0", echo, options...)
	require.NoError(t, err)
	require.NoError(t, srv.Start())

	var clientErr error
	go func() {
		clientErr = clients(srv.Addr().String())
		if closeErr := srv.Close(); closeErr != nil && clientErr == nil {
			clientErr = closeErr
		}
		base.Quit()
	}()
	base.RunAfter(time.Minute, base.Quit)
	require.NoError(t, base.Run())
	require.NoError(t, clientErr)
	assert.Equal(t, 0, srv.Connections())
}

func roundTrip(addr string, payload []byte) error {
	c, err := net.Dial("tcp", addr)
	if err != nil {
		return err
	}
	defer c.Close()
	_ = c.SetDeadline(time.Now().Add(30 * time.Second))

	written := make(chan error, 1)
	go func() {
		_, wErr := c.Write(payload)
		written <- wErr
	}()
	got := make([]byte, len(payload))
	if _, err = io.ReadFull(c, got); err != nil {
		return err
	}
	if err = <-written; err != nil {
		return err
	}
	if !bytes.Equal(payload, got) {
		return errors.New("echo mismatch")
	}
	return nil
}

func TestTcpServer_Echo(t *testing.T) {
	serve(t, func(addr string) error {
		return roundTrip(addr, []byte("hello world"))
	}, ringloop.WithLoopThreads(2))
}

func TestTcpServer_EchoOnBaseLoop(t *testing.T) {
	serve(t, func(addr string) error {
		return roundTrip(addr, []byte("hello world"))
	}, ringloop.WithLoopThreads(0))
}

func TestTcpServer_EchoLarge(t *testing.T) {
	payload := make([]byte, 4*1024*1024)
	_, err := rand.Read(payload)
	require.NoError(t, err)

	serve(t, func(addr string) error {
		return roundTrip(addr, payload)
	}, ringloop.WithLoopThreads(2))
}

func TestTcpServer_ShortConnections(t *testing.T) {
	const clients = 1000
	var served atomic.Int32
	serve(t, func(addr string) error {
		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			firstErr error
		)
		for i := 0; i < clients; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				if err := roundTrip(addr, []byte("ping-"+strconv.Itoa(i))); err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
					return
				}
				served.Add(1)
			}(i)
		}
		wg.Wait()
		return firstErr
	}, ringloop.WithLoopThreads(4))
	assert.Equal(t, int32(clients), served.Load())
}

func TestTcpServer_ReusePort(t *testing.T) {
	serve(t, func(addr string) error {
		for i := 0; i < 16; i++ {
			if err := roundTrip(addr, []byte("reuse-"+strconv.Itoa(i))); err != nil {
				return err
			}
		}
		return nil
	}, ringloop.WithLoopThreads(2), ringloop.WithReusePort())
}

func TestTcpServer_CloseActiveConnection(t *testing.T) {
	requireRing(t)

	base, err := aio.NewEventLoop(loopOptions...)
	require.NoError(t, err)
	defer base.Close()

	srv, err := ringloop.NewTcpServer(base, "127.0.0.1:0", echo,
		ringloop.WithLoopThreads(1),
		ringloop.WithLoopOptions(loopOptions...),
	)
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	assert.ErrorIs(t, srv.Start(), ringloop.ErrServerStarted)

	result := make(chan error, 1)
	go func() {
		defer base.Quit()
		c, dialErr := net.Dial("tcp", srv.Addr().String())
		if dialErr != nil {
			result <- dialErr
			return
		}
		defer c.Close()
		_ = c.SetDeadline(time.Now().Add(10 * time.Second))
		if rtErr := roundTripConn(c, []byte("before close")); rtErr != nil {
			result <- rtErr
			return
		}
		if closeErr := srv.Close(); closeErr != nil {
			result <- closeErr
			return
		}
		_, readErr := c.Read(make([]byte, 1))
		result <- readErr
	}()
	require.NoError(t, base.Run())
	assert.ErrorIs(t, <-result, io.EOF)
	assert.Equal(t, 0, srv.Connections())
	assert.ErrorIs(t, srv.Start(), ringloop.ErrServerClosed)
}

func roundTripConn(c net.Conn, payload []byte) error {
	if _, err := c.Write(payload); err != nil {
		return err
	}
	got := make([]byte, len(payload))
	if _, err := io.ReadFull(c, got); err != nil {
		return err
	}
	if !bytes.Equal(payload, got) {
		return errors.New("echo mismatch")
	}
	return nil
}

func TestNewTcpServer_Invalid(t *testing.T) {
	_, err := ringloop.NewTcpServer(nil, "127.0.0.1:0", echo)
	assert.ErrorIs(t, err, ringloop.ErrNilLoop)
}
