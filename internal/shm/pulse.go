package shm

import (
	"context"
	"sync"
	"time"
)

type pulseWaiter struct {
	ready chan struct{}
}

// PulseSem wakes waiters without carrying any data. Give wakes the oldest
// waiter or, when nobody is waiting, leaves a single pending wake behind.
// Flush wakes every current waiter and leaves nothing pending.
type PulseSem struct {
	name string
	done <-chan struct{}

	mu      sync.Mutex
	pending bool
	waiters []*pulseWaiter

	gives   uint64
	flushes uint64
	woken   uint64
}

func newPulseSem(name string, done <-chan struct{}) *PulseSem {
	return &PulseSem{name: name, done: done}
}

func (p *PulseSem) Name() string { return p.name }

// Give wakes exactly one waiter. Repeated gives with no waiter coalesce.
func (p *PulseSem) Give() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.gives++
	if len(p.waiters) == 0 {
		p.pending = true
		return
	}
	w := p.waiters[0]
	p.waiters[0] = nil
	p.waiters = p.waiters[1:]
	close(w.ready)
	p.woken++
}

// Flush wakes all current waiters and returns how many were woken.
func (p *PulseSem) Flush() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.flushes++
	n := len(p.waiters)
	for _, w := range p.waiters {
		close(w.ready)
	}
	p.waiters = nil
	p.woken += uint64(n)
	return n
}

// Wait blocks until the pulse is given or flushed, the timeout elapses,
// ctx is cancelled or the registry is closed.
func (p *PulseSem) Wait(ctx context.Context, timeout time.Duration) error {
	p.mu.Lock()
	select {
	case <-p.done:
		p.mu.Unlock()
		return ErrClosed
	default:
	}
	if p.pending {
		p.pending = false
		p.mu.Unlock()
		return nil
	}
	if timeout == NoWait {
		p.mu.Unlock()
		return ErrTimeout
	}
	w := &pulseWaiter{ready: make(chan struct{})}
	p.waiters = append(p.waiters, w)
	p.mu.Unlock()

	tc, stop := timer(timeout)
	defer stop()

	var err error
	select {
	case <-w.ready:
		return nil
	case <-tc:
		err = ErrTimeout
	case <-ctx.Done():
		err = ctx.Err()
	case <-p.done:
		err = ErrClosed
	}

	// A give racing with the timeout already dequeued us; keep its wake.
	if !p.dequeue(w) && err != ErrClosed {
		return nil
	}
	return err
}

func (p *PulseSem) dequeue(w *pulseWaiter) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, q := range p.waiters {
		if q == w {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			return true
		}
	}
	return false
}

// Waiting returns the number of blocked waiters.
func (p *PulseSem) Waiting() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.waiters)
}

// Pending reports whether a give is latched with no waiter to receive it.
func (p *PulseSem) Pending() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending
}

// PulseStats is a snapshot of a pulse semaphore's counters.
type PulseStats struct {
	Gives   uint64
	Flushes uint64
	Woken   uint64
}

func (p *PulseSem) Stats() PulseStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PulseStats{Gives: p.gives, Flushes: p.flushes, Woken: p.woken}
}
