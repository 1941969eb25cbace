package shm

import (
	"errors"
	"time"
)

var (
	// ErrTimeout is returned when a take or wait did not succeed in time.
	ErrTimeout = errors.New("shm: timeout")

	// ErrClosed is returned once the registry has been closed.
	ErrClosed = errors.New("shm: registry closed")

	// ErrNotFound is returned when attaching to a name that was never created.
	ErrNotFound = errors.New("shm: no such object")

	// ErrSizeMismatch is returned when a segment is re-created with another size.
	ErrSizeMismatch = errors.New("shm: segment exists with a different size")
)

const (
	// NoWait makes a take fail immediately when the primitive is not available.
	NoWait time.Duration = 0

	// WaitForever blocks until the primitive becomes available or the
	// registry is closed.
	WaitForever time.Duration = -1
)

// timer returns a channel that fires after timeout, or nil for WaitForever.
func timer(timeout time.Duration) (<-chan time.Time, func()) {
	if timeout < 0 {
		return nil, func() {}
	}
	t := time.NewTimer(timeout)
	return t.C, func() { t.Stop() }
}
