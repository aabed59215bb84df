package ringloop

import (
	"context"
	"net"

	"github.com/brickingsoft/errors"
	"github.com/brickingsoft/ringloop/pkg/liburing/aio"
)

var (
	ErrServerClosed  = errors.Define("ringloop: server closed")
	ErrServerStarted = errors.Define("ringloop: server already started")
	ErrNilLoop       = errors.Define("ringloop: base loop is nil")
	ErrNilHandler    = errors.Define("ringloop: handler is nil")
	ErrCloseTimeout  = errors.Define("ringloop: connections were not released in time")
)

// IsClosed reports whether err means the connection or the server is gone.
func IsClosed(err error) bool {
	return aio.IsClosed(err) ||
		errors.Is(err, ErrServerClosed) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, context.Canceled)
}

const (
	errMetaPkgKey = "pkg"
	errMetaPkgVal = "ringloop"
	errMetaOpKey  = "op"
)
