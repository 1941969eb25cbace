package shm

import (
	"context"
	"time"
)

// ReadySuffix names the pulse paired with a Latest segment.
const ReadySuffix = "_ready"

// Latest is a single-slot channel. Store overwrites the slot and wakes one
// receiver; a value nobody read is replaced, never queued.
type Latest struct {
	seg   *Segment
	ready *PulseSem
}

// Latest creates or attaches the channel name: a segment of size bytes and
// the pulse name+ReadySuffix.
func (r *Registry) Latest(name string, size int) (*Latest, error) {
	seg, err := r.Segment(name, size)
	if err != nil {
		return nil, err
	}
	ready, err := r.Pulse(name + ReadySuffix)
	if err != nil {
		return nil, err
	}
	return &Latest{seg: seg, ready: ready}, nil
}

func (l *Latest) Segment() *Segment { return l.seg }
func (l *Latest) Ready() *PulseSem  { return l.ready }

// Store rewrites the slot under the segment mutex and signals readiness.
func (l *Latest) Store(timeout time.Duration, fn func(b []byte)) error {
	if err := l.seg.Publish(timeout, fn); err != nil {
		return err
	}
	l.ready.Give()
	return nil
}

// Wait blocks until a value stored since the last Wait is available.
func (l *Latest) Wait(ctx context.Context, timeout time.Duration) error {
	return l.ready.Wait(ctx, timeout)
}

// Load copies the slot out under the segment mutex regardless of freshness.
func (l *Latest) Load(timeout time.Duration, fn func(b []byte)) error {
	return l.seg.Read(timeout, fn)
}

// Receive is Wait followed by Load.
func (l *Latest) Receive(ctx context.Context, wait, lock time.Duration, fn func(b []byte)) error {
	if err := l.Wait(ctx, wait); err != nil {
		return err
	}
	return l.Load(lock, fn)
}
