//go:build linux

package liburing

import "errors"

const (
	DefaultEntries = 1024
	MaxEntries     = kernMaxEntries
)

type Options struct {
	Entries   uint32
	CQEntries uint32
	Flags     uint32
}

type Option func(*Options) error

// WithEntries
// setup submission queue entries, rounded up to a power of two.
func WithEntries(entries uint32) Option {
	return func(opts *Options) error {
		if entries == 0 {
			return errors.New("entries must be greater than 0")
		}
		if entries > MaxEntries {
			entries = MaxEntries
		}
		opts.Entries = RoundupPow2(entries)
		return nil
	}
}

// WithCQEntries
// setup completion queue entries, it must be not less than entries.
func WithCQEntries(entries uint32) Option {
	return func(opts *Options) error {
		if entries == 0 {
			return nil
		}
		opts.CQEntries = RoundupPow2(entries)
		opts.Flags |= IORING_SETUP_CQSIZE
		return nil
	}
}

// WithFlags
// setup flags, unsupported flags are dropped by Params.Validate.
func WithFlags(flags uint32) Option {
	return func(opts *Options) error {
		opts.Flags |= flags
		return nil
	}
}
