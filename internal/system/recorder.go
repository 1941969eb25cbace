package system

import (
	"sync"

	"github.com/san-kum/slservo/internal/dynamics"
	"github.com/san-kum/slservo/internal/metrics"
	"github.com/san-kum/slservo/internal/servo"
	"github.com/san-kum/slservo/internal/state"
	"github.com/san-kum/slservo/internal/storage"
)

// Recorder observes the simulation: every tick feeds the run metrics and
// every Every ticks appends one row to the recording.
type Recorder struct {
	mu       sync.Mutex
	every    int64
	metrics  []metrics.Metric
	rec      *storage.Recording
	statuses []state.ContactStatus
}

// NewRecorder records base position, tilt, active contacts and, per joint,
// position and torque.
func NewRecorder(joints []string, contacts, every int, ms []metrics.Metric) *Recorder {
	if every < 1 {
		every = 1
	}
	cols := []string{"base_x", "base_y", "base_z", "tilt", "contacts"}
	for _, j := range joints {
		cols = append(cols, "th_"+j)
	}
	for _, j := range joints {
		cols = append(cols, "u_"+j)
	}
	return &Recorder{
		every:    int64(every),
		metrics:  ms,
		rec:      &storage.Recording{Columns: cols},
		statuses: make([]state.ContactStatus, contacts),
	}
}

// Observe satisfies servos.Observer.
func (r *Recorder) Observe(tk servo.Tick, sim *dynamics.Simulator) {
	rb := sim.Robot()
	sim.Engine().Statuses(r.statuses)

	r.mu.Lock()
	defer r.mu.Unlock()

	sample := metrics.Sample{
		Time:     sim.Time(),
		Joints:   rb.Joints,
		Base:     rb.Base,
		Orient:   rb.Orient,
		Contacts: r.statuses,
	}
	for _, m := range r.metrics {
		m.Observe(sample)
	}
	if (tk.N-1)%r.every != 0 {
		return
	}

	active := 0
	for _, c := range r.statuses {
		if c.Status {
			active++
		}
	}
	row := make([]float64, 0, len(r.rec.Columns))
	row = append(row, rb.Base.X[0], rb.Base.X[1], rb.Base.X[2], metrics.Tilt(rb.Orient.Q), float64(active))
	for _, j := range rb.Joints {
		row = append(row, j.Th)
	}
	for _, j := range rb.Joints {
		row = append(row, j.U)
	}
	r.rec.Times = append(r.rec.Times, sim.Time())
	r.rec.Rows = append(r.rec.Rows, row)
}

// Recording returns a copy of the rows recorded so far.
func (r *Recorder) Recording() *storage.Recording {
	r.mu.Lock()
	defer r.mu.Unlock()
	return &storage.Recording{
		Columns: append([]string(nil), r.rec.Columns...),
		Times:   append([]float64(nil), r.rec.Times...),
		Rows:    append([][]float64(nil), r.rec.Rows...),
	}
}

func (r *Recorder) Metrics() map[string]float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return metrics.Values(r.metrics)
}
