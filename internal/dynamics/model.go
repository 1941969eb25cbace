// Package dynamics is the boundary to the rigid-body dynamics of the
// simulated robot. A [Model] supplies kinematics and forward dynamics; the
// [Simulator] owns the robot state and advances it with one of the
// integrators, resolving contacts before every sub-step.
package dynamics

import (
	"github.com/go-gl/mathgl/mgl64"

	"github.com/san-kum/slservo/internal/objects"
	"github.com/san-kum/slservo/internal/state"
)

// Robot is the full simulated state.
type Robot struct {
	Joints []state.Joint
	Base   state.Base
	Orient state.Orient
}

// NewRobot returns a robot at rest at the origin with n joints.
func NewRobot(n int) Robot {
	return Robot{
		Joints: make([]state.Joint, n),
		Orient: state.DefaultOrient(),
	}
}

func (r Robot) Clone() Robot {
	c := r
	c.Joints = append([]state.Joint(nil), r.Joints...)
	return c
}

// Accel is the result of forward dynamics.
type Accel struct {
	Qdd []float64
	Xdd mgl64.Vec3
	Add mgl64.Vec3
}

// Model is implemented by the external rigid-body library.
type Model interface {
	Name() string
	NumDOF() int
	NumLinks() int
	// Contacts describes the contact point attached to each link.
	Contacts() []objects.ContactSpec
	LinkPositions(r *Robot, dst []mgl64.Vec3)
	LinkVelocities(r *Robot, dst []mgl64.Vec3)
	// ForwardDynamics returns accelerations for joint torques u and
	// external forces uext (index 0 is the base) under gravity g along -z.
	ForwardDynamics(r *Robot, u []float64, uext []state.ExternalForce, g float64) Accel
}
