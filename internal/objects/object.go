// Package objects holds the simulated environment: the scene of rigid
// objects the robot can touch and the contact engine that turns
// penetrations into forces.
package objects

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/go-gl/mathgl/mgl64"
)

var ErrNoObject = errors.New("objects: no such object")

// Type is the geometry of an object.
type Type int

const (
	Cube     Type = 1
	Sphere   Type = 2
	Cylinder Type = 3
	Terrain  Type = 4
)

func (t Type) String() string {
	switch t {
	case Cube:
		return "cube"
	case Sphere:
		return "sphere"
	case Cylinder:
		return "cylinder"
	case Terrain:
		return "terrain"
	default:
		return fmt.Sprintf("type(%d)", int(t))
	}
}

// ParseType accepts a geometry name or its numeric code.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(s) {
	case "cube", "box", "1":
		return Cube, nil
	case "sphere", "2":
		return Sphere, nil
	case "cylinder", "3":
		return Cylinder, nil
	case "terrain", "4":
		return Terrain, nil
	default:
		return 0, fmt.Errorf("objects: unknown type %q", s)
	}
}

// ContactModel selects the force law of an object.
type ContactModel int

const (
	NoContact                   ContactModel = 0
	DampedSpringStaticFriction  ContactModel = 1
	DampedSpringViscousFriction ContactModel = 2
	DampedSpringLimitedRebound  ContactModel = 3
)

func (m ContactModel) String() string {
	switch m {
	case NoContact:
		return "none"
	case DampedSpringStaticFriction:
		return "static-friction"
	case DampedSpringViscousFriction:
		return "viscous-friction"
	case DampedSpringLimitedRebound:
		return "limited-rebound"
	default:
		return fmt.Sprintf("model(%d)", int(m))
	}
}

// ParseContactModel accepts a model name, its short form or numeric code.
func ParseContactModel(s string) (ContactModel, error) {
	switch strings.ToLower(s) {
	case "none", "", "0":
		return NoContact, nil
	case "static-friction", "static", "1":
		return DampedSpringStaticFriction, nil
	case "viscous-friction", "viscous", "2":
		return DampedSpringViscousFriction, nil
	case "limited-rebound", "rebound", "3":
		return DampedSpringLimitedRebound, nil
	default:
		return 0, fmt.Errorf("objects: unknown contact model %q", s)
	}
}

// Object is one element of the scene. Rot holds successive rotations about
// the local x, y and z axes. Scale is the full extent along each axis.
type Object struct {
	Name          string
	Type          Type
	ContactModel  ContactModel
	RGB           mgl64.Vec3
	Trans         mgl64.Vec3
	Rot           mgl64.Vec3
	Scale         mgl64.Vec3
	ObjectParams  []float64
	ContactParams []float64
	Hidden        bool

	// Terrain supplies the surface of Terrain objects.
	Terrain HeightField

	// F and T are the total force and torque the robot applies, in world
	// coordinates, recomputed every contact check.
	F mgl64.Vec3
	T mgl64.Vec3
}

// ContactParam returns contact parameter i counted from 1, or 0 when the
// object was given fewer parameters.
func (o *Object) ContactParam(i int) float64 {
	if i < 1 || i > len(o.ContactParams) {
		return 0
	}
	return o.ContactParams[i-1]
}

// toLocal maps a world point into object coordinates.
func (o *Object) toLocal(p mgl64.Vec3) mgl64.Vec3 {
	return o.rotateIn(p.Sub(o.Trans))
}

// rotateIn applies the object's x, y, z rotations to a world vector.
func (o *Object) rotateIn(x mgl64.Vec3) mgl64.Vec3 {
	if a := o.Rot[0]; a != 0 {
		c, s := math.Cos(a), math.Sin(a)
		x[1], x[2] = x[1]*c+x[2]*s, -x[1]*s+x[2]*c
	}
	if a := o.Rot[1]; a != 0 {
		c, s := math.Cos(a), math.Sin(a)
		x[0], x[2] = x[0]*c-x[2]*s, x[0]*s+x[2]*c
	}
	if a := o.Rot[2]; a != 0 {
		c, s := math.Cos(a), math.Sin(a)
		x[0], x[1] = x[0]*c+x[1]*s, -x[0]*s+x[1]*c
	}
	return x
}

// rotateOut is the inverse of rotateIn.
func (o *Object) rotateOut(f mgl64.Vec3) mgl64.Vec3 {
	if a := o.Rot[2]; a != 0 {
		c, s := math.Cos(a), math.Sin(a)
		f[0], f[1] = f[0]*c-f[1]*s, f[0]*s+f[1]*c
	}
	if a := o.Rot[1]; a != 0 {
		c, s := math.Cos(a), math.Sin(a)
		f[0], f[2] = f[0]*c+f[2]*s, -f[0]*s+f[2]*c
	}
	if a := o.Rot[0]; a != 0 {
		c, s := math.Cos(a), math.Sin(a)
		f[1], f[2] = f[1]*c-f[2]*s, f[1]*s+f[2]*c
	}
	return f
}

func (o *Object) clone() *Object {
	c := *o
	c.ObjectParams = append([]float64(nil), o.ObjectParams...)
	c.ContactParams = append([]float64(nil), o.ContactParams...)
	return &c
}
