package metrics

import "math"

// Energy is the mean translational mechanical energy of the floating base,
// kinetic plus potential relative to z = 0.
type Energy struct {
	name        string
	mass        float64
	gravity     float64
	samples     int
	totalEnergy float64
}

func NewEnergy(mass, gravity float64) *Energy {
	return &Energy{
		name:    "energy",
		mass:    mass,
		gravity: gravity,
	}
}

func (e *Energy) Name() string { return e.name }

func (e *Energy) Observe(s Sample) {
	v := s.Base.Xd
	ke := 0.5 * e.mass * v.Dot(v)
	pe := e.mass * e.gravity * s.Base.X[2]
	e.totalEnergy += ke + pe
	e.samples++
}

func (e *Energy) Value() float64 {
	if e.samples == 0 {
		return 0
	}
	return e.totalEnergy / float64(e.samples)
}

func (e *Energy) Reset() {
	e.totalEnergy = 0
	e.samples = 0
}

// PeakContactForce is the largest total contact force magnitude seen.
type PeakContactForce struct {
	peak float64
}

func NewPeakContactForce() *PeakContactForce { return &PeakContactForce{} }

func (p *PeakContactForce) Name() string { return "peak_contact_force" }

func (p *PeakContactForce) Observe(s Sample) {
	var total [3]float64
	for _, c := range s.Contacts {
		if !c.Status {
			continue
		}
		for i := range total {
			total[i] += c.F[i]
		}
	}
	f := total[0]*total[0] + total[1]*total[1] + total[2]*total[2]
	if f > p.peak*p.peak {
		p.peak = math.Sqrt(f)
	}
}

func (p *PeakContactForce) Value() float64 { return p.peak }

func (p *PeakContactForce) Reset() { p.peak = 0 }
