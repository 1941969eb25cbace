package rt

import (
	"context"
	"sync"
	"time"
)

// Virtual is a simulated clock. SleepUntil advances time to the deadline
// immediately, so self-clocked loops run as fast as they can compute while
// still observing consistent timestamps.
type Virtual struct {
	mu  sync.Mutex
	now time.Time
}

func NewVirtual(start time.Time) *Virtual {
	return &Virtual{now: start}
}

func (v *Virtual) Name() string { return "virtual" }

func (v *Virtual) Now() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.now
}

// Advance moves the clock forward by d. Tests use it to inject overruns.
func (v *Virtual) Advance(d time.Duration) {
	v.mu.Lock()
	v.now = v.now.Add(d)
	v.mu.Unlock()
}

func (v *Virtual) SleepUntil(ctx context.Context, deadline time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v.mu.Lock()
	if deadline.After(v.now) {
		v.now = deadline
	}
	v.mu.Unlock()
	return nil
}

func (v *Virtual) NewMutex() Mutex { return &lockMutex{} }

func (v *Virtual) Spawn(ctx context.Context, params TaskParams, fn func(ctx context.Context) error) *Task {
	task := newTask(params)
	go func() {
		task.finish(fn(ctx))
	}()
	return task
}
