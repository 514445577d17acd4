//go:build linux

package affinity

import (
	"golang.org/x/sys/unix"

	"github.com/ajitpratap0/aether/pkg/errors"
)

func pinPlatform(cpu int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	// pid 0 addresses the calling thread.
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "sched_setaffinity failed").
			WithDetail("cpu", cpu)
	}
	return nil
}

func currentPlatform() ([]int, error) {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "sched_getaffinity failed")
	}
	cpus := make([]int, 0, set.Count())
	for cpu := 0; len(cpus) < set.Count(); cpu++ {
		if set.IsSet(cpu) {
			cpus = append(cpus, cpu)
		}
	}
	return cpus, nil
}
