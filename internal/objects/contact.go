package objects

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/san-kum/slservo/internal/state"
)

// Contact is a candidate contact point attached to one link. All vectors
// except F are in the coordinates of the contacted object.
type Contact struct {
	Active bool
	// BaseDOF receives the contact force; OffLink is the link whose origin
	// the moment arm is measured from.
	BaseDOF int
	OffLink int

	Status       bool
	FrictionFlag bool
	Object       Handle
	FaceIndex    int

	X       mgl64.Vec3
	XStart  mgl64.Vec3
	Normal  mgl64.Vec3
	NormVel mgl64.Vec3
	Tangent mgl64.Vec3
	TanVel  mgl64.Vec3
	ViscVel mgl64.Vec3

	// F is the contact force in world coordinates.
	F mgl64.Vec3
}

func (c *Contact) clear() {
	c.Normal = mgl64.Vec3{}
	c.NormVel = mgl64.Vec3{}
	c.Tangent = mgl64.Vec3{}
	c.TanVel = mgl64.Vec3{}
	c.ViscVel = mgl64.Vec3{}
	c.F = mgl64.Vec3{}
}

// Kinematics supplies world positions and velocities of link points. It is
// implemented by the dynamics model.
type Kinematics interface {
	LinkPosition(link int) mgl64.Vec3
	LinkVelocity(link int) mgl64.Vec3
}

// ContactSpec attaches a contact point to the model.
type ContactSpec struct {
	Active  bool
	BaseDOF int
	OffLink int
}

// Engine detects contacts between link points and scene objects and
// accumulates the resulting forces.
type Engine struct {
	scene    *Scene
	contacts []Contact
	ucontact []state.ExternalForce
	uext     []state.ExternalForce
}

// NewEngine creates an engine with one contact point per spec, indexed like
// the model's links, and force accumulators for nDOF joints plus the base.
func NewEngine(scene *Scene, specs []ContactSpec, nDOF int) *Engine {
	e := &Engine{
		scene:    scene,
		contacts: make([]Contact, len(specs)),
		ucontact: make([]state.ExternalForce, nDOF+1),
		uext:     make([]state.ExternalForce, nDOF+1),
	}
	for i, s := range specs {
		e.contacts[i] = Contact{
			Active:  s.Active,
			BaseDOF: s.BaseDOF,
			OffLink: s.OffLink,
			Object:  NoHandle,
		}
	}
	return e
}

func (e *Engine) Scene() *Scene { return e.scene }

// Contacts exposes the contact table.
func (e *Engine) Contacts() []Contact { return e.contacts }

// Forces returns the per-DOF external forces of the last check. Index 0 is
// the floating base.
func (e *Engine) Forces() []state.ExternalForce { return e.ucontact }

// SetExternal replaces the simulated external forces added after contact
// resolution.
func (e *Engine) SetExternal(dof int, f state.ExternalForce) {
	if dof >= 0 && dof < len(e.uext) {
		e.uext[dof] = f
	}
}

// ClearExternal zeroes all simulated external forces.
func (e *Engine) ClearExternal() {
	clear(e.uext)
}

// Statuses fills dst with the published summary of each contact point.
func (e *Engine) Statuses(dst []state.ContactStatus) {
	for i := range dst {
		if i >= len(e.contacts) {
			dst[i] = state.ContactStatus{}
			continue
		}
		c := &e.contacts[i]
		dst[i] = state.ContactStatus{Active: c.Active, Status: c.Status, F: c.F}
	}
}

// Check recomputes all contact forces for the current link state.
func (e *Engine) Check(kin Kinematics) {
	clear(e.ucontact)
	e.scene.Each(func(_ Handle, o *Object) bool {
		o.F = mgl64.Vec3{}
		o.T = mgl64.Vec3{}
		return true
	})

	for i := range e.contacts {
		c := &e.contacts[i]
		if !c.Active {
			continue
		}

		found := false
		e.scene.Each(func(h Handle, o *Object) bool {
			law := LawFor(o.ContactModel)
			if law == nil {
				return true
			}
			if !e.touch(i, c, h, o, kin) {
				return true
			}
			law.Apply(o, c)
			e.accumulate(i, c, o, kin)
			found = true
			return false
		})

		c.Status = found
		if !found {
			c.clear()
		}
	}

	for i := range e.ucontact {
		e.ucontact[i].F = e.ucontact[i].F.Add(e.uext[i].F)
		e.ucontact[i].T = e.ucontact[i].T.Add(e.uext[i].T)
	}
}

// latch records the first contact of c with object h.
func latch(c *Contact, h Handle, x mgl64.Vec3) bool {
	first := !c.Status || c.Object != h
	if first {
		c.XStart = x
		c.FrictionFlag = false
	}
	c.Status = true
	c.Object = h
	c.X = x
	return first
}

// touch tests point i against o and, on penetration, fills in the contact
// geometry in object coordinates.
func (e *Engine) touch(i int, c *Contact, h Handle, o *Object, kin Kinematics) bool {
	x := o.toLocal(kin.LinkPosition(i))
	half := o.Scale.Mul(0.5)

	switch o.Type {
	case Cube, Cylinder:
		if !(math.Abs(x[0]) < half[0] && math.Abs(x[1]) < half[1] && math.Abs(x[2]) < half[2]) {
			return false
		}
		if latch(c, h, x) {
			c.FaceIndex = closestFace(x, half)
		}
		v := o.rotateIn(kin.LinkVelocity(i))
		ind := c.FaceIndex
		for j := 0; j < 3; j++ {
			if j == ind {
				c.Normal[j] = half[j]*sign(c.XStart[j]) - x[j]
				c.NormVel[j] = -v[j]
				c.Tangent[j] = 0
				c.TanVel[j] = 0
				c.ViscVel[j] = 0
			} else {
				c.Normal[j] = 0
				c.NormVel[j] = 0
				c.Tangent[j] = x[j] - c.XStart[j]
				c.TanVel[j] = v[j]
				c.ViscVel[j] = v[j]
			}
		}
		return true

	case Sphere:
		q := 0.0
		for j := 0; j < 3; j++ {
			r := x[j] / o.Scale[j] * 2
			q += r * r
		}
		if q >= 1 {
			return false
		}
		latch(c, h, x)
		v := o.rotateIn(kin.LinkVelocity(i))

		// Scale x onto the ellipsoid surface; the gap is the normal
		// displacement.
		unit := eps
		for j := 0; j < 3; j++ {
			r := x[j] / half[j]
			unit += r * r
		}
		unit = math.Sqrt(unit)
		c.Normal = x.Mul(1/unit - 1)
		n := c.Normal.Mul(1 / math.Sqrt(eps+c.Normal.Dot(c.Normal)))
		c.setProjected(n, x, v)
		return true

	case Terrain:
		if o.Terrain == nil {
			return false
		}
		z, n, _, ok := o.Terrain.Info(x[0], x[1])
		if !ok || x[2] >= z {
			return false
		}
		latch(c, h, x)
		v := o.rotateIn(kin.LinkVelocity(i))
		// Vertical penetration projected onto the surface normal.
		c.Normal = n.Mul((z - x[2]) * n[2])
		c.setProjected(n, x, v)
		return true
	}
	return false
}

// setProjected splits v and the displacement from the start point into
// components along and orthogonal to the unit normal n.
func (c *Contact) setProjected(n, x, v mgl64.Vec3) {
	vn := n.Dot(v)
	c.NormVel = n.Mul(-vn)
	c.Tangent = x.Sub(c.XStart)
	c.Tangent = c.Tangent.Sub(n.Mul(n.Dot(c.Tangent)))
	c.TanVel = v.Sub(n.Mul(vn))
	c.ViscVel = c.TanVel
}

// closestFace returns the axis whose face is nearest to x.
func closestFace(x, half mgl64.Vec3) int {
	d0 := half[0] - math.Abs(x[0])
	d1 := half[1] - math.Abs(x[1])
	d2 := half[2] - math.Abs(x[2])
	switch {
	case d0 < d1 && d0 < d2:
		return 0
	case d1 < d0 && d1 < d2:
		return 1
	default:
		return 2
	}
}

// accumulate rotates the contact force to world coordinates and adds it to
// the base DOF and the object, each with its own moment arm.
func (e *Engine) accumulate(i int, c *Contact, o *Object, kin Kinematics) {
	c.F = o.rotateOut(c.F)

	p := kin.LinkPosition(i)
	arm := p.Sub(kin.LinkPosition(c.OffLink))
	armObject := p.Sub(o.Trans)

	if c.BaseDOF >= 0 && c.BaseDOF < len(e.ucontact) {
		u := &e.ucontact[c.BaseDOF]
		u.F = u.F.Add(c.F)
		u.T = u.T.Add(arm.Cross(c.F))
	}
	o.F = o.F.Add(c.F)
	o.T = o.T.Add(armObject.Cross(c.F))
}
