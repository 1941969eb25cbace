package shm

import (
	"sync/atomic"
	"time"
)

// BinarySem is a semaphore whose value is either 0 or 1. Giving an already
// given semaphore is a no-op, so the mutex can never be left over-signaled.
type BinarySem struct {
	name  string
	token chan struct{}
	done  <-chan struct{}

	takes    atomic.Uint64
	timeouts atomic.Uint64
}

func newBinarySem(name string, full bool, done <-chan struct{}) *BinarySem {
	s := &BinarySem{
		name:  name,
		token: make(chan struct{}, 1),
		done:  done,
	}
	if full {
		s.token <- struct{}{}
	}
	return s
}

func (s *BinarySem) Name() string { return s.name }

// Take decrements the semaphore, blocking up to timeout.
func (s *BinarySem) Take(timeout time.Duration) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}

	select {
	case <-s.token:
		s.takes.Add(1)
		return nil
	default:
	}

	if timeout == NoWait {
		s.timeouts.Add(1)
		return ErrTimeout
	}

	tc, stop := timer(timeout)
	defer stop()

	select {
	case <-s.token:
		s.takes.Add(1)
		return nil
	case <-tc:
		s.timeouts.Add(1)
		return ErrTimeout
	case <-s.done:
		return ErrClosed
	}
}

// Give sets the semaphore to 1, waking one blocked taker.
func (s *BinarySem) Give() {
	select {
	case s.token <- struct{}{}:
	default:
	}
}

// Value reports 1 if the semaphore is currently given.
func (s *BinarySem) Value() int {
	return len(s.token)
}

// Stats returns the number of successful takes and timeouts.
func (s *BinarySem) Stats() (takes, timeouts uint64) {
	return s.takes.Load(), s.timeouts.Load()
}
