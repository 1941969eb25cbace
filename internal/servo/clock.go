package servo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/san-kum/slservo/internal/rt"
	"github.com/san-kum/slservo/internal/shm"
)

// Clock blocks until the next tick is due. missed counts whole periods that
// were lost to overruns since the previous wake.
type Clock interface {
	Wait(ctx context.Context) (missed int64, err error)
}

// SelfClock paces a loop from absolute deadlines on a backend. The first
// tick fires immediately; every following deadline is the previous one plus
// one period.
type SelfClock struct {
	backend rt.Backend
	period  time.Duration
	next    time.Time
}

func NewSelfClock(b rt.Backend, rate float64) *SelfClock {
	return &SelfClock{backend: b, period: Period(rate)}
}

// Period converts a rate in Hz to a tick period.
func Period(rate float64) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / rate)
}

func (c *SelfClock) Wait(ctx context.Context) (int64, error) {
	now := c.backend.Now()
	if c.next.IsZero() {
		c.next = now
		return 0, nil
	}
	c.next = c.next.Add(c.period)
	if late := now.Sub(c.next); late > 0 {
		// Overran: count the lost periods and re-anchor on now instead of
		// bursting through the backlog.
		missed := int64(late/c.period) + 1
		c.next = now
		return missed, nil
	}
	if err := c.backend.SleepUntil(ctx, c.next); err != nil {
		return 0, err
	}
	return 0, nil
}

// PulseClock wakes a loop when its pulse semaphore is given or flushed.
type PulseClock struct {
	pulse   *shm.PulseSem
	timeout time.Duration
}

// NewPulseClock waits forever on p.
func NewPulseClock(p *shm.PulseSem) *PulseClock {
	return &PulseClock{pulse: p, timeout: shm.WaitForever}
}

// WithTimeout bounds the wait. A wait that expires is a missed tick that
// the loop counts and skips; only an unbounded wait failing is starvation.
func (c *PulseClock) WithTimeout(d time.Duration) *PulseClock {
	c.timeout = d
	return c
}

func (c *PulseClock) Wait(ctx context.Context) (int64, error) {
	err := c.pulse.Wait(ctx, c.timeout)
	switch {
	case err == nil:
		return 0, nil
	case errors.Is(err, shm.ErrTimeout):
		return 0, fmt.Errorf("servo: pulse %s: %w", c.pulse.Name(), err)
	case c.timeout == shm.WaitForever:
		return 0, fmt.Errorf("%w: pulse %s: %w", ErrStarvation, c.pulse.Name(), err)
	default:
		return 0, err
	}
}
