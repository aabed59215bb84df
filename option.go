package ringloop

import (
	"runtime"
	"time"

	"github.com/brickingsoft/ringloop/pkg/liburing/aio"
	"github.com/brickingsoft/rxp"
	"github.com/brickingsoft/rxp/pkg/maxprocs"
	"github.com/rs/zerolog"
)

const (
	DefaultName         = "ringloop"
	DefaultCloseTimeout = 5 * time.Second
)

type Options struct {
	Name          string
	LoopThreads   int
	CPUAffinity   bool
	ReusePort     bool
	ListenBacklog int
	CloseTimeout  time.Duration
	LoopOptions   []aio.Option
	Logger        *zerolog.Logger
	RxpOptions    rxp.Options
	ownExecutors  bool
}

func (options *Options) AsRxpOptions() []rxp.Option {
	opts := make([]rxp.Option, 0, 1)
	if n := options.RxpOptions.MaxprocsOptions.MinGOMAXPROCS; n > 0 {
		opts = append(opts, rxp.WithMinGOMAXPROCS(n))
	}
	if fn := options.RxpOptions.MaxprocsOptions.Procs; fn != nil {
		opts = append(opts, rxp.WithProcs(fn))
	}
	if fn := options.RxpOptions.MaxprocsOptions.RoundQuotaFunc; fn != nil {
		opts = append(opts, rxp.WithRoundQuotaFunc(fn))
	}
	if n := options.RxpOptions.MaxGoroutines; n > 0 {
		opts = append(opts, rxp.WithMaxGoroutines(n))
	}
	if n := options.RxpOptions.MaxReadyGoroutinesIdleDuration; n > 0 {
		opts = append(opts, rxp.WithMaxReadyGoroutinesIdleDuration(n))
	}
	if n := options.RxpOptions.CloseTimeout; n > 0 {
		opts = append(opts, rxp.WithCloseTimeout(n))
	}
	return opts
}

type Option func(options *Options) (err error)

// WithName
// setup server name, it prefixes loop thread and connection names.
func WithName(name string) Option {
	return func(options *Options) (err error) {
		if name != "" {
			options.Name = name
		}
		return
	}
}

// WithLoopThreads
// setup the number of loop threads connections are spread over.
//
// Zero serves every connection on the base loop. Negative means runtime.NumCPU().
func WithLoopThreads(n int) Option {
	return func(options *Options) (err error) {
		if n < 0 {
			n = runtime.NumCPU()
		}
		options.LoopThreads = n
		return
	}
}

// WithCPUAffinity
// pin loop thread i to cpu i.
func WithCPUAffinity() Option {
	return func(options *Options) (err error) {
		options.CPUAffinity = true
		return
	}
}

// WithReusePort
// give every loop thread its own SO_REUSEPORT listener instead of accepting on the base loop.
//
// With WithCPUAffinity the kernel steers a connection to the listener of the cpu that received it.
func WithReusePort() Option {
	return func(options *Options) (err error) {
		options.ReusePort = true
		return
	}
}

// WithListenBacklog
// setup listen backlog, default is SOMAXCONN.
func WithListenBacklog(n int) Option {
	return func(options *Options) (err error) {
		options.ListenBacklog = n
		return
	}
}

// WithCloseTimeout
// setup how long Close waits for connections to be released.
func WithCloseTimeout(timeout time.Duration) Option {
	return func(options *Options) (err error) {
		if timeout > 0 {
			options.CloseTimeout = timeout
		}
		return
	}
}

// WithLoopOptions
// setup options of every loop thread.
func WithLoopOptions(opts ...aio.Option) Option {
	return func(options *Options) (err error) {
		options.LoopOptions = append(options.LoopOptions, opts...)
		return
	}
}

// WithLogger
// setup logger of the server and its loop threads.
func WithLogger(logger zerolog.Logger) Option {
	return func(options *Options) (err error) {
		options.Logger = &logger
		return
	}
}

// WithMinGOMAXPROCS
// min GOMAXPROCS of server own executors, only works on linux, mostly for containers.
func WithMinGOMAXPROCS(n int) Option {
	return func(options *Options) error {
		options.ownExecutors = true
		return rxp.WithMinGOMAXPROCS(n)(&options.RxpOptions)
	}
}

// WithProcsFunc
// setup GOMAXPROCS builder of server own executors.
func WithProcsFunc(fn maxprocs.ProcsFunc) Option {
	return func(options *Options) error {
		options.ownExecutors = true
		return rxp.WithProcs(fn)(&options.RxpOptions)
	}
}

// WithRoundQuotaFunc
// setup cpu quota rounding of server own executors.
func WithRoundQuotaFunc(fn maxprocs.RoundQuotaFunc) Option {
	return func(options *Options) error {
		options.ownExecutors = true
		return rxp.WithRoundQuotaFunc(fn)(&options.RxpOptions)
	}
}

// WithMaxGoroutines
// setup max handler goroutines, the server then owns its executors.
func WithMaxGoroutines(n int) Option {
	return func(options *Options) error {
		options.ownExecutors = true
		return rxp.WithMaxGoroutines(n)(&options.RxpOptions)
	}
}

// WithMaxReadyGoroutinesIdleDuration
// setup how long a ready handler goroutine idles before it exits.
func WithMaxReadyGoroutinesIdleDuration(d time.Duration) Option {
	return func(options *Options) error {
		options.ownExecutors = true
		return rxp.WithMaxReadyGoroutinesIdleDuration(d)(&options.RxpOptions)
	}
}

// WithExecutorsCloseTimeout
// setup how long closing server own executors waits for handlers.
func WithExecutorsCloseTimeout(timeout time.Duration) Option {
	return func(options *Options) error {
		options.ownExecutors = true
		return rxp.WithCloseTimeout(timeout)(&options.RxpOptions)
	}
}
