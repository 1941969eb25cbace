// Package dynamo provides the numerical primitives of the simulation path:
// a flat [State] vector, the [System] whose derivative is integrated, and the
// [Integrator] that steps it.
//
// The simulator packs joint, base and orientation state into one [State] so
// that any [Integrator] can advance it in place:
//
//	integ.Step(sys, x, x, u, t, dt)
package dynamo
