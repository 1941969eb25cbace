package dynamics

import (
	"github.com/go-gl/mathgl/mgl64"

	"github.com/san-kum/slservo/internal/objects"
	"github.com/san-kum/slservo/internal/state"
)

const (
	DefaultMass    = 10.0
	DefaultGravity = 9.81
)

// FloatingBase is a free rigid body with contact points fixed at body
// offsets and independent actuated rotor joints. Link 0 is the base origin;
// link k is contact offset k-1.
type FloatingBase struct {
	Mass    float64
	Inertia mgl64.Vec3
	Offsets []mgl64.Vec3

	JointInertia []float64
	JointDamping []float64
}

// NewFloatingBase builds a box-shaped base of the given half extents with
// contact points at its eight corners and n joints.
func NewFloatingBase(n int, half mgl64.Vec3) *FloatingBase {
	m := DefaultMass
	w, d, h := 2*half[0], 2*half[1], 2*half[2]
	fb := &FloatingBase{
		Mass: m,
		Inertia: mgl64.Vec3{
			m / 12 * (d*d + h*h),
			m / 12 * (w*w + h*h),
			m / 12 * (w*w + d*d),
		},
		JointInertia: make([]float64, n),
		JointDamping: make([]float64, n),
	}
	for _, sx := range []float64{-1, 1} {
		for _, sy := range []float64{-1, 1} {
			for _, sz := range []float64{-1, 1} {
				fb.Offsets = append(fb.Offsets, mgl64.Vec3{sx * half[0], sy * half[1], sz * half[2]})
			}
		}
	}
	for i := range fb.JointInertia {
		fb.JointInertia[i] = 0.05
		fb.JointDamping[i] = 0.1
	}
	return fb
}

func (fb *FloatingBase) Name() string  { return "floating_base" }
func (fb *FloatingBase) NumDOF() int   { return len(fb.JointInertia) }
func (fb *FloatingBase) NumLinks() int { return len(fb.Offsets) + 1 }

func (fb *FloatingBase) Contacts() []objects.ContactSpec {
	specs := make([]objects.ContactSpec, fb.NumLinks())
	for i := 1; i < len(specs); i++ {
		specs[i] = objects.ContactSpec{Active: true, BaseDOF: 0, OffLink: 0}
	}
	return specs
}

func (fb *FloatingBase) LinkPositions(r *Robot, dst []mgl64.Vec3) {
	dst[0] = r.Base.X
	for i, off := range fb.Offsets {
		dst[i+1] = r.Base.X.Add(r.Orient.Q.Rotate(off))
	}
}

func (fb *FloatingBase) LinkVelocities(r *Robot, dst []mgl64.Vec3) {
	dst[0] = r.Base.Xd
	for i, off := range fb.Offsets {
		arm := r.Orient.Q.Rotate(off)
		dst[i+1] = r.Base.Xd.Add(r.Orient.Ad.Cross(arm))
	}
}

func (fb *FloatingBase) ForwardDynamics(r *Robot, u []float64, uext []state.ExternalForce, g float64) Accel {
	acc := Accel{Qdd: make([]float64, fb.NumDOF())}
	for i := range acc.Qdd {
		tau := 0.0
		if i < len(u) {
			tau = u[i]
		}
		if i+1 < len(uext) {
			tau += uext[i+1].T[2]
		}
		acc.Qdd[i] = (tau - fb.JointDamping[i]*r.Joints[i].Thd) / fb.JointInertia[i]
	}

	var f, t mgl64.Vec3
	if len(uext) > 0 {
		f, t = uext[0].F, uext[0].T
	}
	acc.Xdd = f.Mul(1 / fb.Mass).Sub(mgl64.Vec3{0, 0, g})

	// Euler's equation in world coordinates: I w' = t - w x I w.
	rot := r.Orient.Q.Mat4().Mat3()
	ib := mgl64.Mat3{
		fb.Inertia[0], 0, 0,
		0, fb.Inertia[1], 0,
		0, 0, fb.Inertia[2],
	}
	iw := rot.Mul3(ib).Mul3(rot.Transpose())
	w := r.Orient.Ad
	acc.Add = iw.Inv().Mul3x1(t.Sub(w.Cross(iw.Mul3x1(w))))
	return acc
}
