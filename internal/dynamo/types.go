package dynamo

import (
	"math"
)

// State is a flat state vector.
type State []float64

func (s State) IsValid() bool {
	for _, v := range s {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Axpy sets s = x + a*y element-wise over len(s) entries.
func (s State) Axpy(x State, a float64, y State) {
	for i := range s {
		s[i] = x[i] + a*y[i]
	}
}

type Control []float64

// System evaluates dX/dt = f(X, u, t) into dx, which has len(x) entries.
// Implementations must not retain dx or x.
type System interface {
	Derive(dx, x State, u Control, t float64)
	StateDim() int
	ControlDim() int
}

// Integrator advances x by dt and writes the result to dst. dst may alias x.
// Implementations keep their stage buffers between calls so that stepping
// does not allocate once warmed up.
type Integrator interface {
	Step(dyn System, dst, x State, u Control, t, dt float64)
}
