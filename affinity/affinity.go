// File: affinity/affinity.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral API for CPU affinity. Platform-specific implementations are located
// in separate files guarded by build tags.

package affinity

import "errors"

// ErrUnsupported is returned where thread pinning is unavailable.
var ErrUnsupported = errors.New("affinity: not supported on this platform")

// SetAffinity pins the calling OS thread to a given logical CPU. The caller
// must already hold runtime.LockOSThread, otherwise the pin applies to
// whichever goroutine next runs on the thread.
func SetAffinity(cpuID int) error {
	if cpuID < 0 {
		return errors.New("affinity: negative cpu id")
	}
	return setAffinityPlatform(cpuID)
}

// CurrentCPUs returns the CPUs the calling thread may run on.
func CurrentCPUs() ([]int, error) {
	return currentCPUsPlatform()
}
