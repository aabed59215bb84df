//go:build linux

package ringloop

import (
	"context"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brickingsoft/errors"
	"github.com/brickingsoft/ringloop/pkg/liburing/aio"
	"github.com/brickingsoft/ringloop/pkg/liburing/aio/sys"
	"github.com/brickingsoft/rxp"
	"github.com/rs/zerolog"
)

// Handler serves one connection on an executor goroutine.
// The connection is closed by the server when the handler returns.
type Handler func(ctx context.Context, conn *aio.TcpConnection)

// TcpServer accepts on the base loop and spreads connections over a pool of loop threads.
type TcpServer struct {
	base      *aio.EventLoop
	network   string
	address   string
	handler   Handler
	options   Options
	logger    zerolog.Logger
	executors rxp.Executors
	pool      *aio.LoopThreadPool
	acceptors []*aio.Acceptor
	addr      net.Addr
	ctx       context.Context
	cancel    context.CancelFunc
	mu        sync.Mutex
	conns     map[string]*aio.TcpConnection
	drained   chan struct{}
	sequence  atomic.Uint64
	started   atomic.Bool
	closed    atomic.Bool
}

// NewTcpServer
// address is "host:port", network is tcp unless the address forces tcp4 or tcp6.
func NewTcpServer(base *aio.EventLoop, address string, handler Handler, options ...Option) (srv *TcpServer, err error) {
	if base == nil {
		err = errors.From(ErrNilLoop)
		return
	}
	if handler == nil {
		err = errors.From(ErrNilHandler)
		return
	}
	opts := Options{
		Name:         DefaultName,
		CloseTimeout: DefaultCloseTimeout,
	}
	for _, o := range options {
		if err = o(&opts); err != nil {
			return
		}
	}
	logger := *base.Logger()
	if opts.Logger != nil {
		logger = *opts.Logger
		opts.LoopOptions = append([]aio.Option{aio.WithLogger(logger)}, opts.LoopOptions...)
	}
	logger = logger.With().Str("server", opts.Name).Logger()

	executors := Executors()
	if opts.ownExecutors {
		if executors, err = rxp.New(opts.AsRxpOptions()...); err != nil {
			err = errors.New(
				"new server failed",
				errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
				errors.WithMeta(errMetaOpKey, "new"),
				errors.WithWrap(err),
			)
			return
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	srv = &TcpServer{
		base:      base,
		network:   "tcp",
		address:   address,
		handler:   handler,
		options:   opts,
		logger:    logger,
		executors: executors,
		pool:      aio.NewLoopThreadPool(base, opts.Name, opts.LoopThreads, opts.CPUAffinity, opts.LoopOptions...),
		ctx:       ctx,
		cancel:    cancel,
		conns:     make(map[string]*aio.TcpConnection),
	}
	return
}

// Start spawns the loop threads and starts accepting. The base loop must be run by its owner.
func (srv *TcpServer) Start() (err error) {
	if srv.closed.Load() {
		return errors.From(ErrServerClosed)
	}
	if !srv.started.CompareAndSwap(false, true) {
		return errors.From(ErrServerStarted)
	}
	if err = srv.pool.Start(); err != nil {
		return errors.New(
			"start server failed",
			errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
			errors.WithMeta(errMetaOpKey, "start"),
			errors.WithWrap(err),
		)
	}
	listenOptions := sys.ListenOptions{
		ReusePort: srv.options.ReusePort,
		Backlog:   srv.options.ListenBacklog,
	}
	if srv.options.ReusePort {
		err = srv.listenReusePort(listenOptions)
	} else {
		err = srv.listen(srv.base, listenOptions, srv.newConnection)
	}
	if err != nil {
		for _, acceptor := range srv.acceptors {
			acceptor.Close()
		}
		srv.acceptors = nil
		srv.pool.Stop()
		return &net.OpError{Op: "listen", Net: srv.network, Source: nil, Addr: nil, Err: err}
	}
	for _, acceptor := range srv.acceptors {
		acceptor.Listen()
	}
	srv.logger.Info().Str("addr", srv.addr.String()).Int("loops", srv.pool.Size()).Bool("reuseport", srv.options.ReusePort).Msg("server started")
	return nil
}

func (srv *TcpServer) listen(loop *aio.EventLoop, options sys.ListenOptions, cb aio.ConnectionCallback) error {
	address := srv.address
	if srv.addr != nil {
		// later reuseport listeners join the port the first one bound
		address = srv.addr.String()
	}
	acceptor, err := aio.NewAcceptor(loop, srv.network, address, options)
	if err != nil {
		return err
	}
	acceptor.SetConnectionCallback(cb)
	if srv.addr == nil {
		srv.addr = acceptor.Addr()
	}
	srv.acceptors = append(srv.acceptors, acceptor)
	return nil
}

func (srv *TcpServer) listenReusePort(options sys.ListenOptions) error {
	for _, loop := range srv.pool.Loops() {
		if err := srv.listen(loop, options, func(fd int, peer net.Addr) {
			srv.establish(loop, fd, peer)
		}); err != nil {
			return err
		}
	}
	if srv.options.CPUAffinity && len(srv.acceptors) > 1 {
		if err := srv.acceptors[0].AttachCBPF(uint32(len(srv.acceptors))); err != nil {
			srv.logger.Warn().Err(err).Msg("cbpf steering is not available, the kernel hashes connections instead")
		}
	}
	return nil
}

// Addr returns the bound address once started.
func (srv *TcpServer) Addr() net.Addr {
	return srv.addr
}

func (srv *TcpServer) Connections() int {
	srv.mu.Lock()
	n := len(srv.conns)
	srv.mu.Unlock()
	return n
}

// newConnection runs on the base loop and hands fd to the next loop thread.
func (srv *TcpServer) newConnection(fd int, peer net.Addr) {
	loop := srv.pool.NextLoop()
	loop.RunInLoop(func() {
		srv.establish(loop, fd, peer)
	})
}

func (srv *TcpServer) establish(loop *aio.EventLoop, fd int, peer net.Addr) {
	name := srv.options.Name + "-" + loop.String() + "#" + strconv.FormatUint(srv.sequence.Add(1), 10)
	conn := aio.NewTcpConnection(loop, name, fd, peer)
	conn.SetCloseCallback(srv.removeConnection)

	srv.mu.Lock()
	if srv.closed.Load() {
		srv.mu.Unlock()
		conn.ForceClose()
		return
	}
	srv.conns[name] = conn
	srv.mu.Unlock()
	srv.logger.Debug().Str("conn", name).Int("fd", conn.Fd()).Str("peer", peer.String()).Msg("connection established")

	ctx := srv.ctx
	if err := srv.executors.Execute(ctx, TaskFunc(func(ctx context.Context) {
		defer conn.Close()
		srv.handler(ctx, conn)
	})); err != nil {
		srv.logger.Error().Err(err).Str("conn", name).Msg("offload handler failed")
		conn.ForceClose()
	}
}

func (srv *TcpServer) removeConnection(conn *aio.TcpConnection) {
	srv.mu.Lock()
	delete(srv.conns, conn.Name())
	if len(srv.conns) == 0 && srv.drained != nil {
		close(srv.drained)
		srv.drained = nil
	}
	srv.mu.Unlock()
	srv.logger.Debug().Str("conn", conn.Name()).Msg("connection released")
}

// Close stops accepting, closes every connection and waits for them to be released,
// then stops the loop threads. The base loop is left running.
func (srv *TcpServer) Close() error {
	if !srv.closed.CompareAndSwap(false, true) {
		return nil
	}
	for _, acceptor := range srv.acceptors {
		acceptor.Close()
	}
	srv.cancel()

	srv.mu.Lock()
	var drained chan struct{}
	if len(srv.conns) > 0 {
		drained = make(chan struct{})
		srv.drained = drained
	}
	conns := make([]*aio.TcpConnection, 0, len(srv.conns))
	for _, conn := range srv.conns {
		conns = append(conns, conn)
	}
	srv.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
	var err error
	if drained != nil && srv.base.IsInLoopThread() && srv.pool.Size() == 0 {
		// releases need this thread to run the base loop
		drained = nil
	}
	if drained != nil {
		timer := time.NewTimer(srv.options.CloseTimeout)
		select {
		case <-drained:
		case <-timer.C:
			err = errors.From(
				ErrCloseTimeout,
				errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
				errors.WithMeta(errMetaOpKey, "close"),
			)
			srv.logger.Warn().Int("connections", srv.Connections()).Msg("close server timeout")
		}
		timer.Stop()
	}
	srv.pool.Stop()
	if srv.options.ownExecutors {
		if closeErr := srv.executors.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	srv.logger.Info().Msg("server closed")
	return err
}
