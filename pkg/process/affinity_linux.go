//go:build linux

package process

import (
	"runtime"
	"strconv"

	"github.com/brickingsoft/errors"
	"golang.org/x/sys/unix"
)

// SetCPUAffinity pins the calling OS thread to cpu index modulo the number of CPUs.
// The caller is expected to hold runtime.LockOSThread.
func SetCPUAffinity(index int) error {
	var mask unix.CPUSet
	mask.Zero()
	cpu := index % runtime.NumCPU()
	mask.Set(cpu)
	if err := unix.SchedSetaffinity(0, &mask); err != nil {
		return errors.New(
			"set cpu affinity failed",
			errors.WithMeta("pkg", "process"),
			errors.WithMeta("cpu", strconv.Itoa(cpu)),
			errors.WithWrap(err),
		)
	}
	return nil
}

// CPUAffinity returns the cpus the calling thread may run on.
func CPUAffinity() ([]int, error) {
	var mask unix.CPUSet
	if err := unix.SchedGetaffinity(0, &mask); err != nil {
		return nil, err
	}
	cpus := make([]int, 0, mask.Count())
	for i := 0; i < runtime.NumCPU(); i++ {
		if mask.IsSet(i) {
			cpus = append(cpus, i)
		}
	}
	return cpus, nil
}
