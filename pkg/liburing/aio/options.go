package aio

import (
	"time"

	"github.com/brickingsoft/ringloop/pkg/liburing"
	"github.com/brickingsoft/ringloop/pkg/liburing/aio/chunks"
	"github.com/brickingsoft/ringloop/pkg/liburing/aio/sendq"
	"github.com/rs/zerolog"
)

const (
	DefaultCQEBatch            = 128
	DefaultSQLowWater          = 8
	DefaultRecycleBatch        = 1
	DefaultPollTimeout         = 10 * time.Second
	DefaultDrainLimit          = 256
	DefaultReadHighWaterBytes  = 256 * 1024
	DefaultReadHighWaterChunks = 64
	DefaultWriteHighWater      = 1024 * 1024
)

type Options struct {
	Entries             uint32
	Flags               uint32
	CQEBatch            int
	SQLowWater          uint32
	ChunkSize           int
	ChunkCount          int
	RecycleBatch        int
	PollTimeout         time.Duration
	DrainLimit          int
	Logger              *zerolog.Logger
	ReadHighWaterBytes  int
	ReadHighWaterChunks int
	WriteHighWater      int
	WriteLowWater       int
	MaxSlices           int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
}

type Option func(*Options)

func defaultOptions() Options {
	return Options{
		Entries:             liburing.DefaultEntries,
		CQEBatch:            DefaultCQEBatch,
		SQLowWater:          DefaultSQLowWater,
		ChunkSize:           chunks.DefaultChunkSize,
		ChunkCount:          chunks.DefaultChunkCount,
		RecycleBatch:        DefaultRecycleBatch,
		PollTimeout:         DefaultPollTimeout,
		DrainLimit:          DefaultDrainLimit,
		ReadHighWaterBytes:  DefaultReadHighWaterBytes,
		ReadHighWaterChunks: DefaultReadHighWaterChunks,
		WriteHighWater:      DefaultWriteHighWater,
		WriteLowWater:       DefaultWriteHighWater,
		MaxSlices:           sendq.DefaultMaxSlices,
	}
}

func (opts *Options) normalize() {
	def := defaultOptions()
	if opts.Entries == 0 {
		opts.Entries = def.Entries
	}
	if opts.CQEBatch < 1 {
		opts.CQEBatch = def.CQEBatch
	}
	if opts.SQLowWater == 0 || opts.SQLowWater >= opts.Entries {
		opts.SQLowWater = min(def.SQLowWater, opts.Entries/2)
		if opts.SQLowWater == 0 {
			opts.SQLowWater = 1
		}
	}
	if opts.ChunkSize < 1 {
		opts.ChunkSize = def.ChunkSize
	}
	if opts.ChunkCount < 1 {
		opts.ChunkCount = def.ChunkCount
	}
	opts.RecycleBatch = chunks.ClampBatch(opts.RecycleBatch, opts.ChunkCount)
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = def.PollTimeout
	}
	if opts.DrainLimit < 1 {
		opts.DrainLimit = def.DrainLimit
	}
	if opts.ReadHighWaterBytes < 1 {
		opts.ReadHighWaterBytes = def.ReadHighWaterBytes
	}
	if opts.ReadHighWaterChunks < 1 {
		opts.ReadHighWaterChunks = def.ReadHighWaterChunks
	}
	if opts.WriteHighWater < 1 {
		opts.WriteHighWater = def.WriteHighWater
	}
	if opts.WriteLowWater < 1 || opts.WriteLowWater > opts.WriteHighWater {
		opts.WriteLowWater = opts.WriteHighWater
	}
	if opts.MaxSlices < 1 {
		opts.MaxSlices = def.MaxSlices
	}
}

// WithEntries
// setup iouring's entries.
func WithEntries(entries uint32) Option {
	return func(opts *Options) {
		opts.Entries = entries
	}
}

// WithFlags
// setup iouring's flags.
// see https://man.archlinux.org/listing/extra/liburing/
func WithFlags(flags uint32) Option {
	return func(opts *Options) {
		opts.Flags |= flags
	}
}

// WithCQEBatch
// setup how many completions are peeked per iteration.
func WithCQEBatch(batch int) Option {
	return func(opts *Options) {
		opts.CQEBatch = batch
	}
}

// WithSQLowWater
// setup the free submission slots under which reads, writes and accepts are deferred.
func WithSQLowWater(n uint32) Option {
	return func(opts *Options) {
		opts.SQLowWater = n
	}
}

// WithChunkPool
// setup the registered receive pool, count must be a power of two.
func WithChunkPool(size int, count int) Option {
	return func(opts *Options) {
		opts.ChunkSize = size
		opts.ChunkCount = count
	}
}

// WithRecycleBatch
// setup how many drained chunks are returned to the kernel at once.
// It is clamped to a quarter of the chunk count.
func WithRecycleBatch(batch int) Option {
	return func(opts *Options) {
		opts.RecycleBatch = batch
	}
}

// WithPollTimeout
// setup the longest wait for completions when no timer is due earlier.
func WithPollTimeout(timeout time.Duration) Option {
	return func(opts *Options) {
		opts.PollTimeout = timeout
	}
}

// WithDrainLimit
// setup how many deferred submissions are retried per iteration.
func WithDrainLimit(limit int) Option {
	return func(opts *Options) {
		opts.DrainLimit = limit
	}
}

// WithLogger
// setup logger, each loop logs with a loop field.
func WithLogger(logger zerolog.Logger) Option {
	return func(opts *Options) {
		opts.Logger = &logger
	}
}

// WithReadWaterMarks
// setup the buffered bytes and chunks above which a connection stops receiving.
func WithReadWaterMarks(highBytes int, highChunks int) Option {
	return func(opts *Options) {
		opts.ReadHighWaterBytes = highBytes
		opts.ReadHighWaterChunks = highChunks
	}
}

// WithWriteWaterMarks
// setup queued bytes above which a sender is suspended and at or below which it is resumed.
func WithWriteWaterMarks(high int, low int) Option {
	return func(opts *Options) {
		opts.WriteHighWater = high
		opts.WriteLowWater = low
	}
}

// WithReadTimeout
// setup how long a connection read waits for data, zero waits for the context only.
func WithReadTimeout(timeout time.Duration) Option {
	return func(opts *Options) {
		opts.ReadTimeout = timeout
	}
}

// WithWriteTimeout
// setup how long a connection send waits below the high water mark, zero waits for the context only.
func WithWriteTimeout(timeout time.Duration) Option {
	return func(opts *Options) {
		opts.WriteTimeout = timeout
	}
}

// WithMaxSlices
// setup max fragments per writev.
func WithMaxSlices(n int) Option {
	return func(opts *Options) {
		opts.MaxSlices = n
	}
}
