// Package metrics summarizes a simulated run into scalar figures recorded
// with the run.
package metrics

import (
	"github.com/san-kum/slservo/internal/state"
)

// Sample is the state observed after one simulation tick.
type Sample struct {
	Time     float64
	Joints   []state.Joint
	Base     state.Base
	Orient   state.Orient
	Contacts []state.ContactStatus
}

type Metric interface {
	Name() string
	Observe(s Sample)
	Value() float64
	Reset()
}

// Default returns the metrics recorded for every run.
func Default(mass, gravity float64) []Metric {
	return []Metric{
		NewControlEffort(),
		NewEnergy(mass, gravity),
		NewPeakContactForce(),
		NewStability(0.5),
	}
}

// Values collects the current value of every metric by name.
func Values(ms []Metric) map[string]float64 {
	out := make(map[string]float64, len(ms))
	for _, m := range ms {
		out[m.Name()] = m.Value()
	}
	return out
}
