// Package rt abstracts the real-time primitives a servo needs: a clock,
// absolute-deadline sleeps, try-lockable mutexes and task creation with
// scheduling parameters. Two interchangeable backends exist, selected by
// name at start time.
package rt

import (
	"context"
	"fmt"
	"time"
)

// Mutex is a process-local lock that can be polled.
type Mutex interface {
	Lock()
	TryLock() bool
	Unlock()
}

// TaskParams are passed through to the backend when a task is spawned.
type TaskParams struct {
	Name      string
	Priority  int
	StackSize int
	// CPU pins the task to one processor; negative means any.
	CPU int
}

// Backend is the real-time primitive interface.
type Backend interface {
	Name() string
	Now() time.Time
	// SleepUntil returns once deadline has been reached or ctx is done.
	SleepUntil(ctx context.Context, deadline time.Time) error
	NewMutex() Mutex
	Spawn(ctx context.Context, p TaskParams, fn func(ctx context.Context) error) *Task
}

// Task is a running spawned function.
type Task struct {
	params TaskParams
	done   chan struct{}
	err    error
}

func newTask(p TaskParams) *Task {
	return &Task{params: p, done: make(chan struct{})}
}

func (t *Task) finish(err error) {
	t.err = err
	close(t.done)
}

func (t *Task) Params() TaskParams { return t.params }

// Done is closed when the task function has returned.
func (t *Task) Done() <-chan struct{} { return t.done }

// Wait blocks until the task returns and reports its error.
func (t *Task) Wait() error {
	<-t.done
	return t.err
}

// New returns the backend registered under name.
func New(name string) (Backend, error) {
	switch name {
	case "", "posix":
		return NewPosix(), nil
	case "virtual":
		return NewVirtual(time.Unix(0, 0)), nil
	default:
		return nil, fmt.Errorf("rt: unknown backend %q", name)
	}
}
