//go:build linux

package process_test

import (
	"runtime"
	"testing"

	"github.com/brickingsoft/ringloop/pkg/process"
	"github.com/stretchr/testify/assert"
)

func TestSetCPUAffinity(t *testing.T) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		// the thread dies with the goroutine instead of going back to the scheduler pinned
		runtime.LockOSThread()

		before, err := process.CPUAffinity()
		if !assert.NoError(t, err) || len(before) == 0 {
			return
		}
		if err = process.SetCPUAffinity(before[0]); err != nil {
			t.Log("affinity is restricted:", err)
			return
		}
		after, err := process.CPUAffinity()
		assert.NoError(t, err)
		assert.Equal(t, []int{before[0]}, after)
	}()
	<-done
}
