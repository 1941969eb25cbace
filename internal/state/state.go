// Package state defines the quantities servos exchange and their fixed-size
// reduced-precision wire representation.
//
// In-process values are float64. On the wire every scalar is a
// little-endian float32 and arrays are laid out contiguously, slot i holding
// entry i+1 of the 1..N indexed quantity (DOF, endeffector, contact point).
package state

import "github.com/go-gl/mathgl/mgl64"

// Joint is the measured state of one degree of freedom.
type Joint struct {
	Th   float64
	Thd  float64
	Thdd float64
	U    float64
	Ufb  float64
	Load float64
}

// DesiredJoint is the commanded state of one degree of freedom. A receiver
// only takes entries whose Status is set.
type DesiredJoint struct {
	Th     float64
	Thd    float64
	Thdd   float64
	Uff    float64
	Status bool
}

// Base is the Cartesian state of the floating base.
type Base struct {
	X   mgl64.Vec3
	Xd  mgl64.Vec3
	Xdd mgl64.Vec3
}

// Orient is the orientation of the floating base. Ad and Add are the angular
// velocity and acceleration in world coordinates.
type Orient struct {
	Q   mgl64.Quat
	Qd  mgl64.Quat
	Ad  mgl64.Vec3
	Add mgl64.Vec3
}

// DefaultOrient returns the identity orientation at rest.
func DefaultOrient() Orient {
	return Orient{Q: mgl64.QuatIdent()}
}

// ExternalForce is a force/torque pair applied to one DOF. Index 0 of a
// force vector is the floating base.
type ExternalForce struct {
	F mgl64.Vec3
	T mgl64.Vec3
}

// ContactStatus is the published summary of one contact point.
type ContactStatus struct {
	Active bool
	Status bool
	F      mgl64.Vec3
}

// Blob is one tracked visual feature.
type Blob struct {
	Status bool
	X      mgl64.Vec3
}

// Gains are the per-DOF PD gains used by the motor and simulation servos.
type Gains struct {
	Th  float64
	Thd float64
}
