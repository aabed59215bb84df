package chunks

import "github.com/brickingsoft/errors"

var (
	ErrUnknownChunk  = errors.Define("unknown chunk")
	ErrChunkNotLent  = errors.Define("chunk is not held by the kernel")
	ErrChunkRecycled = errors.Define("chunk is already held by the kernel")
)

const (
	errMetaPkgKey  = "pkg"
	errMetaPkgVal  = "chunks"
	errMetaOpKey   = "op"
	errMetaOpPool  = "pool"
	errMetaOpSetup = "setup"
)
