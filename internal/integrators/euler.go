package integrators

import "github.com/san-kum/slservo/internal/dynamo"

// Euler is the explicit first order method.
type Euler struct {
	dx dynamo.State
}

func NewEuler() *Euler {
	return &Euler{}
}

func (e *Euler) Step(dyn dynamo.System, dst, x dynamo.State, u dynamo.Control, t, dt float64) {
	if len(e.dx) != len(x) {
		e.dx = make(dynamo.State, len(x))
	}
	dyn.Derive(e.dx, x, u, t)
	dst.Axpy(x, dt, e.dx)
}
