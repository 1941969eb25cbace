package servos

import (
	"context"
	"fmt"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/san-kum/slservo/internal/servo"
	"github.com/san-kum/slservo/internal/shm"
	"github.com/san-kum/slservo/internal/state"
)

// VisionServo is a simulated blob tracker: every tracked link position
// published by the simulation is reported as one blob.
type VisionServo struct {
	timeout time.Duration
	tracked []int

	links *shm.Segment
	blobs *shm.Segment

	pos   []mgl64.Vec3
	out   []state.Blob
	fresh bool
}

func NewVisionServo(reg *shm.Registry, layout Layout, tracked []int, timeout time.Duration) (*VisionServo, error) {
	if len(tracked) != layout.Blobs {
		return nil, fmt.Errorf("vision: %d tracked links for %d blobs", len(tracked), layout.Blobs)
	}
	for _, l := range tracked {
		if l < 0 || l >= layout.Links {
			return nil, fmt.Errorf("vision: link %d out of range", l)
		}
	}
	v := &VisionServo{
		timeout: timeout,
		tracked: tracked,
		pos:     make([]mgl64.Vec3, layout.Links),
		out:     make([]state.Blob, layout.Blobs),
	}
	var err error
	if v.links, err = layout.Segment(reg, SegLinks); err != nil {
		return nil, fmt.Errorf("vision: %w", err)
	}
	if v.blobs, err = layout.Segment(reg, SegBlobs); err != nil {
		return nil, fmt.Errorf("vision: %w", err)
	}
	return v, nil
}

func (v *VisionServo) ReadUpstream(_ context.Context, _ servo.Tick) error {
	v.fresh = false
	if err := read(v.links, v.timeout, func(b []byte) error {
		return state.DecodeVec3s(b, v.pos)
	}); err != nil {
		return fmt.Errorf("vision: read links: %w", err)
	}
	v.fresh = true
	return nil
}

// Compute marks blobs lost when no fresh frame arrived.
func (v *VisionServo) Compute(_ context.Context, _ servo.Tick) error {
	for i, l := range v.tracked {
		v.out[i] = state.Blob{Status: v.fresh, X: v.pos[l]}
	}
	return nil
}

func (v *VisionServo) Publish(_ context.Context, _ servo.Tick) error {
	if err := publish(v.blobs, v.timeout, func(b []byte) error {
		return state.EncodeBlobs(b, v.out)
	}); err != nil {
		return fmt.Errorf("vision: send blobs: %w", err)
	}
	return nil
}

// Blobs returns a copy of the last computed blobs.
func (v *VisionServo) Blobs() []state.Blob {
	return append([]state.Blob(nil), v.out...)
}
