package rt

import (
	"context"
	"log/slog"
	"runtime"
	"time"
)

// Posix runs on the wall clock and OS threads.
type Posix struct{}

func NewPosix() *Posix { return &Posix{} }

func (p *Posix) Name() string   { return "posix" }
func (p *Posix) Now() time.Time { return time.Now() }

func (p *Posix) SleepUntil(ctx context.Context, deadline time.Time) error {
	d := time.Until(deadline)
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Posix) NewMutex() Mutex { return &lockMutex{} }

// Spawn runs fn on its own locked OS thread, pinned to params.CPU when set
// and scheduled FIFO at params.Priority when positive. Either setting
// failing is logged and the task runs anyway. Goroutine stacks grow on
// demand, so StackSize is only reported.
func (p *Posix) Spawn(ctx context.Context, params TaskParams, fn func(ctx context.Context) error) *Task {
	task := newTask(params)
	go func() {
		// Never unlocked: the thread exits with the goroutine instead of
		// going back to the pool with its scheduling changed.
		runtime.LockOSThread()

		if params.CPU >= 0 {
			if err := setAffinity(params.CPU); err != nil {
				slog.Warn("rt: cpu affinity not applied", "task", params.Name, "cpu", params.CPU, "err", err)
			}
		}
		if params.Priority > 0 {
			if err := setPriority(params.Priority); err != nil {
				slog.Warn("rt: priority not applied", "task", params.Name, "priority", params.Priority, "err", err)
			}
		}
		slog.Debug("rt: task started", "task", params.Name, "priority", params.Priority,
			"stack_size", params.StackSize, "cpu", params.CPU)
		task.finish(fn(ctx))
	}()
	return task
}
