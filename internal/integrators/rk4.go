package integrators

import "github.com/san-kum/slservo/internal/dynamo"

// RK4 is the classical fourth order Runge-Kutta method.
type RK4 struct {
	k1, k2, k3, k4 dynamo.State
	scratch        dynamo.State
}

func NewRK4() *RK4 {
	return &RK4{}
}

func (r *RK4) ensureScratch(n int) {
	if len(r.k1) != n {
		r.k1 = make(dynamo.State, n)
		r.k2 = make(dynamo.State, n)
		r.k3 = make(dynamo.State, n)
		r.k4 = make(dynamo.State, n)
		r.scratch = make(dynamo.State, n)
	}
}

func (r *RK4) Step(dyn dynamo.System, dst, x dynamo.State, u dynamo.Control, t, dt float64) {
	n := len(x)
	r.ensureScratch(n)
	half := dt * 0.5

	dyn.Derive(r.k1, x, u, t)

	r.scratch.Axpy(x, half, r.k1)
	dyn.Derive(r.k2, r.scratch, u, t+half)

	r.scratch.Axpy(x, half, r.k2)
	dyn.Derive(r.k3, r.scratch, u, t+half)

	r.scratch.Axpy(x, dt, r.k3)
	dyn.Derive(r.k4, r.scratch, u, t+dt)

	dt6 := dt / 6.0
	for i := 0; i < n; i++ {
		dst[i] = x[i] + dt6*(r.k1[i]+2*r.k2[i]+2*r.k3[i]+r.k4[i])
	}
}
