package servo

import (
	"errors"
	"fmt"
)

var (
	// ErrStarvation reports that a clock wait configured to block failed.
	ErrStarvation = errors.New("servo: synchronization starvation")
	// ErrSafetyShutdown reports commands lost beyond the absolute time budget.
	ErrSafetyShutdown = errors.New("servo: command stream lost past safety budget")
)

// FatalError terminates a loop. Only starvation and safety shutdowns are
// reported this way; everything else is counted and absorbed.
type FatalError struct {
	Servo string
	Tick  int64
	Phase Phase
	Err   error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("servo %s: fatal at tick %d in %s: %v", e.Servo, e.Tick, e.Phase, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// IsFatal reports whether err carries a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
