package objects

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

const (
	// eps keeps norms of possibly vanishing vectors away from zero.
	eps = 1e-10

	// frictionResetSpeed is the sliding speed below which a broken static
	// friction spring re-attaches at the current point.
	frictionResetSpeed = 0.01
)

// ForceLaw computes the contact force of c in object coordinates from its
// normal and tangential displacement and velocity.
type ForceLaw interface {
	Apply(o *Object, c *Contact)
}

// LawFor returns the force law of model m, or nil for NoContact.
func LawFor(m ContactModel) ForceLaw {
	switch m {
	case DampedSpringStaticFriction:
		return StaticFriction{}
	case DampedSpringViscousFriction:
		return ViscousFriction{}
	case DampedSpringLimitedRebound:
		return LimitedRebound{}
	default:
		return nil
	}
}

func sign(x float64) float64 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	default:
		return 0
	}
}

func norm(v mgl64.Vec3) float64 {
	return math.Sqrt(v.Dot(v))
}

// springDamper computes k*normal + d*normvel per axis, dropping any axis
// where damping would pull instead of push.
func springDamper(k, d float64, normal, normvel mgl64.Vec3, gk, gd float64) mgl64.Vec3 {
	var f mgl64.Vec3
	for i := range f {
		f[i] = k*normal[i]*gk + d*normvel[i]*gd
		if sign(f[i])*sign(normal[i]) < 0 {
			f[i] = 0
		}
	}
	return f
}

// applyFriction adds either the static spring force temp or, once the
// friction cone is exceeded, sliding friction against the viscous
// velocity.
func applyFriction(o *Object, c *Contact, temp mgl64.Vec3, normalForce float64) {
	tangentForce := norm(temp)
	viscvel := math.Sqrt(eps + c.ViscVel.Dot(c.ViscVel))

	if tangentForce > o.ContactParam(5)*normalForce || c.FrictionFlag {
		c.FrictionFlag = true
		c.F = c.F.Add(c.ViscVel.Mul(-o.ContactParam(6) * normalForce / viscvel))
		if viscvel < frictionResetSpeed {
			c.FrictionFlag = false
			c.XStart = c.X
		}
		return
	}
	c.F = c.F.Add(temp)
}

// StaticFriction is a damped normal spring with a tangential stick spring
// that breaks into Coulomb sliding outside the friction cone.
//
// Parameters: 1 normal spring, 2 normal damper, 3 stick spring, 4 stick
// damper, 5 static coefficient, 6 dynamic coefficient.
type StaticFriction struct{}

func (StaticFriction) Apply(o *Object, c *Contact) {
	c.F = springDamper(o.ContactParam(1), o.ContactParam(2), c.Normal, c.NormVel, 1, 1)
	temp := c.Tangent.Mul(-o.ContactParam(3)).Sub(c.TanVel.Mul(o.ContactParam(4)))
	applyFriction(o, c, temp, norm(c.F))
}

// ViscousFriction is a damped normal spring with pure viscous tangential
// friction.
//
// Parameters: 1 normal spring, 2 normal damper, 3 viscous coefficient.
type ViscousFriction struct{}

func (ViscousFriction) Apply(o *Object, c *Contact) {
	c.F = springDamper(o.ContactParam(1), o.ContactParam(2), c.Normal, c.NormVel, 1, 1)
	c.F = c.F.Add(c.ViscVel.Mul(-o.ContactParam(3)))
}

// LimitedRebound is StaticFriction with spring and damper gains attenuated
// as the separating velocity approaches a maximum rebound velocity, so
// stiff contacts cannot launch the robot.
//
// Parameters: as StaticFriction, plus 7 maximum normal rebound velocity and
// 8 maximum tangential rebound velocity. A non-positive maximum disables the
// attenuation on that axis.
type LimitedRebound struct{}

func reboundGain(v, limit float64) float64 {
	if limit <= 0 {
		return 1
	}
	g := 1 - v/limit
	if g < 0 {
		return 0
	}
	return g
}

func (LimitedRebound) Apply(o *Object, c *Contact) {
	normalVelocity := -norm(c.NormVel) * sign(c.NormVel.Dot(c.Normal))
	g := reboundGain(normalVelocity, o.ContactParam(7))
	c.F = springDamper(o.ContactParam(1), o.ContactParam(2), c.Normal, c.NormVel, g, math.Sqrt(g))

	tangentVelocity := -norm(c.TanVel) * sign(c.X.Sub(c.XStart).Dot(c.TanVel))
	g = reboundGain(tangentVelocity, o.ContactParam(8))
	temp := c.Tangent.Mul(-o.ContactParam(3) * g).Sub(c.TanVel.Mul(o.ContactParam(4) * math.Sqrt(g)))
	applyFriction(o, c, temp, norm(c.F))
}
