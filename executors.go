package ringloop

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/brickingsoft/errors"
	"github.com/brickingsoft/rxp"
)

var (
	executors     rxp.Executors = nil
	executorsOnce sync.Once
)

// Startup
// set up the executors that run connection handlers.
//
// A default one is created on first use, call Startup at the start of the program to customize it.
func Startup(options ...rxp.Option) (err error) {
	defer func() {
		if r := recover(); r != nil {
			switch e := r.(type) {
			case error:
				err = e
			case string:
				err = errors.New(e)
			default:
				err = errors.New(fmt.Sprintf("%+v", r))
			}
		}
	}()
	exec, execErr := rxp.New(options...)
	if execErr != nil {
		err = errors.New(
			"startup failed",
			errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
			errors.WithMeta(errMetaOpKey, "startup"),
			errors.WithWrap(execErr),
		)
		return
	}
	executors = exec
	return
}

// Shutdown
// close the executors and wait for running handlers.
//
// The wait is bounded by rxp.WithCloseTimeout given to Startup.
func Shutdown() error {
	runtime.SetFinalizer(executors, nil)
	return Executors().Close()
}

// Executors
// get executors.
func Executors() rxp.Executors {
	executorsOnce.Do(func() {
		if executors == nil {
			exec, err := rxp.New()
			if err != nil {
				panic(err)
			}
			executors = exec
			runtime.SetFinalizer(executors, rxp.Executors.Close)
		}
	})
	return executors
}

// TaskFunc adapts a function to rxp.Task.
type TaskFunc func(ctx context.Context)

func (fn TaskFunc) Handle(ctx context.Context) {
	fn(ctx)
}
