package servo

import (
	"fmt"
	"math"
	"time"

	"github.com/san-kum/slservo/internal/state"
)

const (
	DefaultThreshold     = 30
	DefaultBlend         = 0.999
	DefaultDeadband      = 0.001
	DefaultShutdownAfter = 30 * time.Minute
)

// Watchdog counts ticks without fresh desired commands and degrades the
// last received targets: dead-reckoning at first, then a slow blend toward
// the default posture, then a safety shutdown.
type Watchdog struct {
	Threshold     int
	Blend         float64
	Deadband      float64
	ShutdownAfter time.Duration

	rate  float64
	count int
	total uint64
}

func NewWatchdog(rate float64) *Watchdog {
	return &Watchdog{
		Threshold:     DefaultThreshold,
		Blend:         DefaultBlend,
		Deadband:      DefaultDeadband,
		ShutdownAfter: DefaultShutdownAfter,
		rate:          rate,
	}
}

// Count is the current number of consecutive misses.
func (w *Watchdog) Count() int { return w.count }

// Total is the number of misses since creation.
func (w *Watchdog) Total() uint64 { return w.total }

// Degraded reports whether defaults are being substituted.
func (w *Watchdog) Degraded() bool { return w.count > w.Threshold }

// Received resets the miss counter.
func (w *Watchdog) Received() { w.count = 0 }

// Missed records one tick without fresh commands and updates des in place.
// def holds the default posture. It returns ErrSafetyShutdown once the
// misses span more than ShutdownAfter.
func (w *Watchdog) Missed(des []state.DesiredJoint, def []state.DesiredJoint) error {
	w.count++
	w.total++
	if w.rate > 0 && float64(w.count)/w.rate > w.ShutdownAfter.Seconds() {
		return fmt.Errorf("%w: no commands for %d ticks", ErrSafetyShutdown, w.count)
	}
	if w.count <= w.Threshold {
		for i := range des {
			des[i].Th += des[i].Thd / w.rate
			des[i].Thd += des[i].Thdd / w.rate
		}
		return nil
	}
	for i := range des {
		if i >= len(def) {
			break
		}
		w.Degrade(&des[i], def[i])
	}
	return nil
}

// Degrade moves one desired state a step toward its default and stops it.
func (w *Watchdog) Degrade(des *state.DesiredJoint, def state.DesiredJoint) {
	if math.Abs(des.Th-def.Th) > w.Deadband {
		des.Th = w.Blend*des.Th + (1-w.Blend)*def.Th
	}
	des.Thd = 0
	des.Thdd = 0
	des.Uff = 0
}
