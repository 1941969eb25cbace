package objects

import (
	"github.com/go-gl/mathgl/mgl64"

	"github.com/san-kum/slservo/internal/state"
)

func stateForce(f mgl64.Vec3) state.ExternalForce {
	return state.ExternalForce{F: f}
}
