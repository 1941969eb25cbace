package dynamics

import (
	"fmt"
	"strings"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/san-kum/slservo/internal/dynamo"
	"github.com/san-kum/slservo/internal/integrators"
	"github.com/san-kum/slservo/internal/objects"
	"github.com/san-kum/slservo/internal/state"
)

// Method selects the integrator.
type Method int

const (
	Euler Method = iota + 1
	RK4
)

func (m Method) String() string {
	switch m {
	case Euler:
		return "euler"
	case RK4:
		return "rk4"
	default:
		return fmt.Sprintf("method(%d)", int(m))
	}
}

func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(s) {
	case "euler":
		return Euler, nil
	case "rk4", "rk", "runge-kutta":
		return RK4, nil
	default:
		return 0, fmt.Errorf("dynamics: unknown integration method %q", s)
	}
}

func newIntegrator(m Method) dynamo.Integrator {
	if m == Euler {
		return integrators.NewEuler()
	}
	return integrators.NewRK4()
}

// system adapts a Model to dynamo.System. The external forces are held
// constant across the stages of one integration step.
type system struct {
	model   Model
	n       int
	uext    []state.ExternalForce
	gravity float64
	freeze  bool
	scratch Robot
}

// Layout: th[n] thd[n] x[3] xd[3] q[4] w[3].
func stateDim(n int) int { return 2*n + 13 }

func (s *system) StateDim() int   { return stateDim(s.n) }
func (s *system) ControlDim() int { return s.n }

func pack(r *Robot, x dynamo.State) {
	n := len(r.Joints)
	for i, j := range r.Joints {
		x[i] = j.Th
		x[n+i] = j.Thd
	}
	o := 2 * n
	copy(x[o:o+3], r.Base.X[:])
	copy(x[o+3:o+6], r.Base.Xd[:])
	x[o+6] = r.Orient.Q.W
	copy(x[o+7:o+10], r.Orient.Q.V[:])
	copy(x[o+10:o+13], r.Orient.Ad[:])
}

// unpack overwrites positions and velocities of r from x.
func unpack(x dynamo.State, r *Robot) {
	n := len(r.Joints)
	for i := range r.Joints {
		r.Joints[i].Th = x[i]
		r.Joints[i].Thd = x[n+i]
	}
	o := 2 * n
	copy(r.Base.X[:], x[o:o+3])
	copy(r.Base.Xd[:], x[o+3:o+6])
	r.Orient.Q.W = x[o+6]
	copy(r.Orient.Q.V[:], x[o+7:o+10])
	copy(r.Orient.Ad[:], x[o+10:o+13])
}

func quatRate(q mgl64.Quat, w mgl64.Vec3) mgl64.Quat {
	return mgl64.Quat{W: 0, V: w}.Mul(q).Scale(0.5)
}

func (s *system) Derive(dx, x dynamo.State, u dynamo.Control, t float64) {
	unpack(x, &s.scratch)
	acc := s.model.ForwardDynamics(&s.scratch, u, s.uext, s.gravity)

	n := s.n
	for i := 0; i < n; i++ {
		dx[i] = x[n+i]
		dx[n+i] = acc.Qdd[i]
	}
	o := 2 * n
	if s.freeze {
		clear(dx[o:])
		return
	}
	copy(dx[o:o+3], x[o+3:o+6])
	copy(dx[o+3:o+6], acc.Xdd[:])
	qd := quatRate(s.scratch.Orient.Q, s.scratch.Orient.Ad)
	dx[o+6] = qd.W
	copy(dx[o+7:o+10], qd.V[:])
	copy(dx[o+10:o+13], acc.Add[:])
}

// Options configure a Simulator.
type Options struct {
	Rate    float64
	Steps   int
	Method  Method
	Gravity float64
}

// Simulator advances the robot by one servo tick per Step.
type Simulator struct {
	model  Model
	engine *objects.Engine
	sys    *system
	integ  dynamo.Integrator
	method Method
	steps  int
	rate   float64

	x       dynamo.State
	next    dynamo.State
	robot   Robot
	links   []mgl64.Vec3
	linkVel []mgl64.Vec3
	t       float64
	ticks   int64
}

func NewSimulator(model Model, engine *objects.Engine, opt Options) *Simulator {
	if opt.Steps < 1 {
		opt.Steps = 1
	}
	if opt.Method == 0 {
		opt.Method = Euler
	}
	n := model.NumDOF()
	s := &Simulator{
		model:  model,
		engine: engine,
		sys: &system{
			model:   model,
			n:       n,
			gravity: opt.Gravity,
			scratch: NewRobot(n),
		},
		integ:   newIntegrator(opt.Method),
		method:  opt.Method,
		steps:   opt.Steps,
		rate:    opt.Rate,
		x:       make(dynamo.State, stateDim(n)),
		next:    make(dynamo.State, stateDim(n)),
		robot:   NewRobot(n),
		links:   make([]mgl64.Vec3, model.NumLinks()),
		linkVel: make([]mgl64.Vec3, model.NumLinks()),
	}
	pack(&s.robot, s.x)
	s.updateLinks()
	return s
}

func (s *Simulator) LinkPosition(i int) mgl64.Vec3 { return s.links[i] }
func (s *Simulator) LinkVelocity(i int) mgl64.Vec3 { return s.linkVel[i] }

func (s *Simulator) updateLinks() {
	s.model.LinkPositions(&s.robot, s.links)
	s.model.LinkVelocities(&s.robot, s.linkVel)
}

// Step applies joint torques u for one tick of 1/rate seconds split into the
// configured number of sub-steps. Contacts are resolved before each one.
func (s *Simulator) Step(u []float64) error {
	if len(u) > s.sys.n {
		return &dynamo.SimulationError{Tick: s.ticks, Time: s.t, Wrapped: dynamo.ErrDimensionMismatch}
	}
	dt := 1 / s.rate / float64(s.steps)
	for k := 0; k < s.steps; k++ {
		s.engine.Check(s)
		s.sys.uext = s.engine.Forces()

		s.integ.Step(s.sys, s.next, s.x, u, s.t, dt)
		if !s.next.IsValid() {
			return &dynamo.SimulationError{Tick: s.ticks, Time: s.t, Wrapped: dynamo.ErrInvalidState}
		}
		s.x, s.next = s.next, s.x
		s.normalize()
		s.t += dt
		unpack(s.x, &s.robot)
		s.updateLinks()
	}
	s.ticks++
	s.accelerations(u)
	return nil
}

func (s *Simulator) normalize() {
	o := 2 * s.sys.n
	q := mgl64.Quat{W: s.x[o+6], V: mgl64.Vec3{s.x[o+7], s.x[o+8], s.x[o+9]}}.Normalize()
	s.x[o+6] = q.W
	copy(s.x[o+7:o+10], q.V[:])
}

func (s *Simulator) accelerations(u []float64) {
	acc := s.model.ForwardDynamics(&s.robot, u, s.sys.uext, s.sys.gravity)
	for i := range s.robot.Joints {
		s.robot.Joints[i].Thdd = acc.Qdd[i]
		if i < len(u) {
			s.robot.Joints[i].U = u[i]
			s.robot.Joints[i].Load = u[i]
		}
	}
	if s.sys.freeze {
		s.robot.Base.Xdd = mgl64.Vec3{}
		s.robot.Orient.Add = mgl64.Vec3{}
		s.robot.Orient.Qd = mgl64.Quat{}
		return
	}
	s.robot.Base.Xdd = acc.Xdd
	s.robot.Orient.Add = acc.Add
	s.robot.Orient.Qd = quatRate(s.robot.Orient.Q, s.robot.Orient.Ad)
}

// Robot returns a copy of the current state.
func (s *Simulator) Robot() Robot { return s.robot.Clone() }

// SetRobot replaces the simulated state.
func (s *Simulator) SetRobot(r Robot) {
	if len(r.Joints) != len(s.robot.Joints) {
		return
	}
	s.robot = r.Clone()
	s.robot.Orient.Q = s.robot.Orient.Q.Normalize()
	pack(&s.robot, s.x)
	s.updateLinks()
}

// Reset places the base at pos with orientation q, at rest.
func (s *Simulator) Reset(pos mgl64.Vec3, q mgl64.Quat) {
	r := s.robot.Clone()
	r.Base = state.Base{X: pos}
	r.Orient = state.Orient{Q: q}
	s.SetRobot(r)
}

// Links returns the current link positions.
func (s *Simulator) Links() []mgl64.Vec3 {
	return append([]mgl64.Vec3(nil), s.links...)
}

func (s *Simulator) SetMethod(m Method) {
	s.method = m
	s.integ = newIntegrator(m)
}

func (s *Simulator) SetSteps(n int) {
	if n >= 1 {
		s.steps = n
	}
}

func (s *Simulator) SetGravity(g float64) { s.sys.gravity = g }

// SetFreeze pins the base in place.
func (s *Simulator) SetFreeze(on bool) {
	s.sys.freeze = on
	if on {
		s.robot.Base.Xd = mgl64.Vec3{}
		s.robot.Orient.Ad = mgl64.Vec3{}
		pack(&s.robot, s.x)
	}
}

func (s *Simulator) Method() Method          { return s.method }
func (s *Simulator) Steps() int              { return s.steps }
func (s *Simulator) Gravity() float64        { return s.sys.gravity }
func (s *Simulator) Frozen() bool            { return s.sys.freeze }
func (s *Simulator) Time() float64           { return s.t }
func (s *Simulator) Model() Model            { return s.model }
func (s *Simulator) Engine() *objects.Engine { return s.engine }
