package shm

import (
	"fmt"
	"hash/fnv"
	"log/slog"
	"sort"
	"sync"
)

// Key is the stable identifier an object is registered under.
type Key uint32

// Kind tells segments, mutexes and pulses apart in the index.
type Kind int

const (
	KindSegment Kind = iota
	KindMutex
	KindPulse
)

func (k Kind) String() string {
	switch k {
	case KindSegment:
		return "segment"
	case KindMutex:
		return "mutex"
	case KindPulse:
		return "pulse"
	default:
		return "unknown"
	}
}

// Info describes one registered object.
type Info struct {
	Name string
	Kind Kind
	Key  Key
	Size int
}

type entry struct {
	info    Info
	segment *Segment
	mutex   *BinarySem
	pulse   *PulseSem
}

type nameKey struct {
	kind Kind
	name string
}

// Registry is the namespace all servos of one system attach to.
type Registry struct {
	salt   uint32
	logger *slog.Logger

	mu     sync.Mutex
	byName map[nameKey]*entry
	byKey  map[Key]*entry
	done   chan struct{}
	closed bool
}

// NewRegistry creates an empty registry. The salt shifts every derived key
// so that two systems on one host do not collide.
func NewRegistry(salt uint32, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		salt:   salt,
		logger: logger,
		byName: make(map[nameKey]*entry),
		byKey:  make(map[Key]*entry),
		done:   make(chan struct{}),
	}
}

// KeyOf derives the base key for name before collision probing.
func KeyOf(name string, salt uint32) Key {
	h := fnv.New32a()
	h.Write([]byte(name))
	return Key(h.Sum32() + salt)
}

// allocKey must be called with r.mu held.
func (r *Registry) allocKey(name string) Key {
	k := KeyOf(name, r.salt)
	for {
		if _, used := r.byKey[k]; !used {
			return k
		}
		k++
	}
}

func (r *Registry) register(kind Kind, name string, size int, build func(key Key) *entry) (*entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}
	nk := nameKey{kind: kind, name: name}
	if e, ok := r.byName[nk]; ok {
		if kind == KindSegment && e.info.Size != size {
			return nil, fmt.Errorf("%w: %s has %d bytes, requested %d", ErrSizeMismatch, name, e.info.Size, size)
		}
		return e, nil
	}

	key := r.allocKey(name)
	e := build(key)
	e.info = Info{Name: name, Kind: kind, Key: key, Size: size}
	r.byName[nk] = e
	r.byKey[key] = e
	r.logger.Debug("shm: created", "kind", kind, "name", name, "key", key, "size", size)
	return e, nil
}

// Segment creates the named segment or attaches to the existing one.
func (r *Registry) Segment(name string, size int) (*Segment, error) {
	if size <= 0 {
		return nil, fmt.Errorf("shm: segment %s: invalid size %d", name, size)
	}
	e, err := r.register(KindSegment, name, size, func(key Key) *entry {
		return &entry{segment: &Segment{
			name: name,
			key:  key,
			buf:  make([]byte, size),
			mu:   newBinarySem(name, true, r.done),
		}}
	})
	if err != nil {
		return nil, err
	}
	return e.segment, nil
}

// AttachSegment returns a segment previously created by another servo.
func (r *Registry) AttachSegment(name string) (*Segment, error) {
	e, err := r.lookup(KindSegment, name)
	if err != nil {
		return nil, err
	}
	return e.segment, nil
}

// Mutex creates or attaches a free-standing binary semaphore. New mutexes
// start given.
func (r *Registry) Mutex(name string) (*BinarySem, error) {
	e, err := r.register(KindMutex, name, 0, func(key Key) *entry {
		return &entry{mutex: newBinarySem(name, true, r.done)}
	})
	if err != nil {
		return nil, err
	}
	return e.mutex, nil
}

// Pulse creates or attaches a pulse semaphore.
func (r *Registry) Pulse(name string) (*PulseSem, error) {
	e, err := r.register(KindPulse, name, 0, func(key Key) *entry {
		return &entry{pulse: newPulseSem(name, r.done)}
	})
	if err != nil {
		return nil, err
	}
	return e.pulse, nil
}

// AttachPulse returns a pulse semaphore previously created by another servo.
func (r *Registry) AttachPulse(name string) (*PulseSem, error) {
	e, err := r.lookup(KindPulse, name)
	if err != nil {
		return nil, err
	}
	return e.pulse, nil
}

func (r *Registry) lookup(kind Kind, name string) (*entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	e, ok := r.byName[nameKey{kind: kind, name: name}]
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", ErrNotFound, kind, name)
	}
	return e, nil
}

// Objects lists all registered objects ordered by key.
func (r *Registry) Objects() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Info, 0, len(r.byKey))
	for _, e := range r.byKey {
		out = append(out, e.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Done is closed when the registry is closed.
func (r *Registry) Done() <-chan struct{} {
	return r.done
}

// Close wakes every blocked taker and waiter with ErrClosed. Further
// creates and attaches fail.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	close(r.done)
	r.logger.Debug("shm: registry closed", "objects", len(r.byKey))
}
