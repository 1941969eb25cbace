package servo

import (
	"fmt"
	"math"
	"sync"

	"github.com/san-kum/slservo/internal/shm"
)

// Mode selects how a subscriber's pulse is signalled.
type Mode int

const (
	// Give wakes one waiter or latches a pending wake, so a subscriber that
	// is late still runs exactly once per firing.
	Give Mode = iota
	// Flush wakes every current waiter and latches nothing.
	Flush
)

func (m Mode) String() string {
	if m == Flush {
		return "flush"
	}
	return "give"
}

// Line is the ratio value selecting the fixed 60 Hz line.
const Line = 0

// Subscriber is a downstream servo started by the fan-out.
type Subscriber struct {
	Name  string
	Ratio int
	Mode  Mode
	Pulse *shm.PulseSem
}

// Fires reports whether the pulse for ratio fires on tick t. Ratios above
// one fire when t mod ratio == 1, so every subscriber runs on the first tick.
func Fires(t int64, ratio int) bool {
	if ratio <= 1 {
		return true
	}
	return t%int64(ratio) == 1
}

// LineDivisor is the ratio of the 60 Hz line for a base rate.
func LineDivisor(rate float64) int {
	d := int(math.Round(rate / 60))
	if d < 1 {
		return 1
	}
	return d
}

// FanOut triggers ratio-gated pulses from the pacing servo.
type FanOut struct {
	mu        sync.Mutex
	line      int
	transient int64
	subs      []Subscriber
	fired     []uint64
}

func NewFanOut(rate float64) *FanOut {
	return &FanOut{line: LineDivisor(rate)}
}

// SetTransient suppresses all triggers for the first n ticks.
func (f *FanOut) SetTransient(n int64) {
	f.mu.Lock()
	f.transient = n
	f.mu.Unlock()
}

// Add registers a subscriber. Ratio Line follows the 60 Hz divisor.
func (f *FanOut) Add(s Subscriber) error {
	if s.Pulse == nil {
		return fmt.Errorf("servo: fan-out %s: no pulse", s.Name)
	}
	if s.Ratio < 0 {
		return fmt.Errorf("servo: fan-out %s: invalid ratio %d", s.Name, s.Ratio)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, s)
	f.fired = append(f.fired, 0)
	return nil
}

func (f *FanOut) ratio(s Subscriber) int {
	if s.Ratio == Line {
		return f.line
	}
	return s.Ratio
}

// Trigger fires every subscriber whose ratio matches tick. Subscribers
// sharing a tick are all fired; their order is unspecified.
func (f *FanOut) Trigger(tick int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if tick <= f.transient {
		return
	}
	for i, s := range f.subs {
		if !Fires(tick, f.ratio(s)) {
			continue
		}
		if s.Mode == Flush {
			s.Pulse.Flush()
		} else {
			s.Pulse.Give()
		}
		f.fired[i]++
	}
}

// Due reports whether the named subscriber fires on tick.
func (f *FanOut) Due(name string, tick int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if tick <= f.transient {
		return false
	}
	for _, s := range f.subs {
		if s.Name == name {
			return Fires(tick, f.ratio(s))
		}
	}
	return false
}

// Fired returns how many times each subscriber has been fired.
func (f *FanOut) Fired() map[string]uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]uint64, len(f.subs))
	for i, s := range f.subs {
		out[s.Name] = f.fired[i]
	}
	return out
}
