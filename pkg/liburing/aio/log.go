package aio

import (
	"os"

	"github.com/rs/zerolog"
)

// DefaultLogger writes info and above to stderr.
func DefaultLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).
		Level(zerolog.InfoLevel).
		With().
		Timestamp().
		Str(errMetaPkgKey, errMetaPkgVal).
		Logger()
}
