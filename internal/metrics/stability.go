package metrics

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Stability is the fraction of samples in which the base stayed upright:
// its body z axis within threshold radians of the world z axis.
type Stability struct {
	name       string
	threshold  float64
	violations int
	samples    int
}

func NewStability(threshold float64) *Stability {
	return &Stability{
		name:      "stability",
		threshold: threshold,
	}
}

func (s *Stability) Name() string {
	return s.name
}

func (s *Stability) Observe(x Sample) {
	s.samples++
	if Tilt(x.Orient.Q) > s.threshold {
		s.violations++
	}
}

func (s *Stability) Value() float64 {
	if s.samples == 0 {
		return 1.0
	}
	return 1.0 - float64(s.violations)/float64(s.samples)
}

func (s *Stability) Reset() {
	s.violations = 0
	s.samples = 0
}

// Tilt is the angle between the rotated z axis of q and the world z axis.
func Tilt(q mgl64.Quat) float64 {
	z := q.Normalize().Rotate(mgl64.Vec3{0, 0, 1})
	return math.Acos(math.Max(-1, math.Min(1, z[2])))
}
