package shm

import "time"

// Segment holds the latest published value of one logical quantity. The
// buffer is only valid while the segment mutex is held; writers rewrite it
// completely and readers copy out of it.
type Segment struct {
	name string
	key  Key
	buf  []byte
	mu   *BinarySem
}

func (s *Segment) Name() string { return s.name }
func (s *Segment) Key() Key     { return s.key }
func (s *Segment) Size() int    { return len(s.buf) }

// Mutex exposes the segment's guarding semaphore.
func (s *Segment) Mutex() *BinarySem { return s.mu }

// Acquire takes the segment mutex.
func (s *Segment) Acquire(timeout time.Duration) error {
	return s.mu.Take(timeout)
}

// Release gives the segment mutex back.
func (s *Segment) Release() {
	s.mu.Give()
}

// Bytes returns the raw buffer. Callers must hold the mutex.
func (s *Segment) Bytes() []byte {
	return s.buf
}

// Publish acquires the segment, lets fn rewrite the whole buffer and
// releases it again.
func (s *Segment) Publish(timeout time.Duration, fn func(b []byte)) error {
	if err := s.Acquire(timeout); err != nil {
		return err
	}
	defer s.Release()
	fn(s.buf)
	return nil
}

// Read acquires the segment and hands fn the buffer contents.
func (s *Segment) Read(timeout time.Duration, fn func(b []byte)) error {
	if err := s.Acquire(timeout); err != nil {
		return err
	}
	defer s.Release()
	fn(s.buf)
	return nil
}

// Snapshot returns a copy of the buffer.
func (s *Segment) Snapshot(timeout time.Duration) ([]byte, error) {
	out := make([]byte, len(s.buf))
	err := s.Read(timeout, func(b []byte) { copy(out, b) })
	if err != nil {
		return nil, err
	}
	return out, nil
}
