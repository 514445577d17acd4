// Package affinity pins the calling OS thread to a CPU core. Platform
// specific implementations live in files guarded by build tags.
package affinity

import (
	"runtime"

	"github.com/ajitpratap0/aether/pkg/errors"
)

// ErrUnsupported is returned on platforms without thread affinity support.
var ErrUnsupported = errors.New(errors.ErrorTypeInternal, "cpu affinity not supported on this platform")

// Pin restricts the current OS thread to the given logical CPU. The caller
// must have locked its goroutine to the thread with runtime.LockOSThread,
// otherwise the scheduler may move the goroutine elsewhere.
func Pin(cpu int) error {
	if cpu < 0 || cpu >= runtime.NumCPU() {
		return errors.Newf(errors.ErrorTypeValidation, "cpu %d out of range [0,%d)", cpu, runtime.NumCPU()).
			WithDetail("cpu", cpu)
	}
	return pinPlatform(cpu)
}

// Current returns the CPUs the current thread may run on.
func Current() ([]int, error) {
	return currentPlatform()
}
