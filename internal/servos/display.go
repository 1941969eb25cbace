package servos

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/san-kum/slservo/internal/mailbox"
	"github.com/san-kum/slservo/internal/objects"
	"github.com/san-kum/slservo/internal/servo"
	"github.com/san-kum/slservo/internal/shm"
	"github.com/san-kum/slservo/internal/state"
)

// Frame is one display update.
type Frame struct {
	Tick     int64          `json:"tick"`
	Time     float64        `json:"time"`
	Base     [3]float64     `json:"base"`
	Quat     [4]float64     `json:"quat"`
	Joints   []float64      `json:"joints"`
	Contacts []ContactFrame `json:"contacts,omitempty"`
	// Objects is only set when the scene changed since the last frame.
	Objects []ObjectFrame `json:"objects,omitempty"`
}

type ContactFrame struct {
	Link int        `json:"link"`
	F    [3]float64 `json:"f"`
}

type ObjectFrame struct {
	Name   string     `json:"name"`
	Type   string     `json:"type"`
	RGB    [3]float64 `json:"rgb"`
	Pos    [3]float64 `json:"pos"`
	Rot    [3]float64 `json:"rot"`
	Scale  [3]float64 `json:"scale"`
	Hidden bool       `json:"hidden,omitempty"`
}

// DisplayServo samples the simulated robot at the display rate and hands
// frames to a sink, typically the viewer hub. It keeps its own read-only
// copy of the scene, kept current by forwarded object commands.
type DisplayServo struct {
	timeout time.Duration
	sink    func(Frame)
	logger  *slog.Logger

	joints   *shm.Segment
	base     *shm.Segment
	orient   *shm.Segment
	contacts *shm.Segment

	scene    *objects.Scene
	dirty    bool
	js       []state.Joint
	b        state.Base
	o        state.Orient
	statuses []state.ContactStatus
	frame    Frame
	frames   uint64
}

func NewDisplayServo(reg *shm.Registry, layout Layout, timeout time.Duration, sink func(Frame), logger *slog.Logger) (*DisplayServo, error) {
	d := &DisplayServo{
		timeout:  timeout,
		sink:     sink,
		logger:   logger,
		scene:    objects.NewScene(),
		js:       make([]state.Joint, layout.DOF),
		o:        state.DefaultOrient(),
		statuses: make([]state.ContactStatus, layout.Contacts),
	}
	var err error
	segs := []struct {
		dst  **shm.Segment
		name string
	}{
		{&d.joints, SegJointSimState},
		{&d.base, SegBaseState},
		{&d.orient, SegBaseOrient},
		{&d.contacts, SegContacts},
	}
	for _, s := range segs {
		if *s.dst, err = layout.Segment(reg, s.name); err != nil {
			return nil, fmt.Errorf("display: %w", err)
		}
	}
	return d, nil
}

// Seed copies the initial scene.
func (d *DisplayServo) Seed(objs []objects.Object) {
	for _, o := range objs {
		d.scene.Add(o)
	}
	d.dirty = true
}

func (d *DisplayServo) Handlers(disp *mailbox.Dispatcher) {
	sceneHandlers(disp, d.scene, nil, func(string, []byte) { d.dirty = true })
}

func (d *DisplayServo) ReadUpstream(_ context.Context, _ servo.Tick) error {
	reads := []struct {
		seg *shm.Segment
		dec func(b []byte) error
	}{
		{d.joints, func(b []byte) error { return state.DecodeJoints(b, d.js) }},
		{d.base, func(b []byte) (err error) {
			d.b, err = state.DecodeBase(b)
			return err
		}},
		{d.orient, func(b []byte) (err error) {
			d.o, err = state.DecodeOrient(b)
			return err
		}},
		{d.contacts, func(b []byte) error { return state.DecodeContacts(b, d.statuses) }},
	}
	var errs []error
	for _, r := range reads {
		if err := read(r.seg, d.timeout, r.dec); err != nil {
			errs = append(errs, fmt.Errorf("display: read %s: %w", r.seg.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (d *DisplayServo) Compute(_ context.Context, tk servo.Tick) error {
	f := Frame{
		Tick:   tk.N,
		Time:   tk.Time,
		Base:   [3]float64(d.b.X),
		Quat:   [4]float64{d.o.Q.W, d.o.Q.V[0], d.o.Q.V[1], d.o.Q.V[2]},
		Joints: make([]float64, len(d.js)),
	}
	for i, j := range d.js {
		f.Joints[i] = j.Th
	}
	for i, c := range d.statuses {
		if c.Status {
			f.Contacts = append(f.Contacts, ContactFrame{Link: i, F: [3]float64(c.F)})
		}
	}
	if d.dirty {
		d.scene.Each(func(_ objects.Handle, o *objects.Object) bool {
			f.Objects = append(f.Objects, ObjectFrame{
				Name:   o.Name,
				Type:   o.Type.String(),
				RGB:    [3]float64(o.RGB),
				Pos:    [3]float64(o.Trans),
				Rot:    [3]float64(o.Rot),
				Scale:  [3]float64(o.Scale),
				Hidden: o.Hidden,
			})
			return true
		})
		d.dirty = false
	}
	d.frame = f
	return nil
}

func (d *DisplayServo) Publish(_ context.Context, _ servo.Tick) error {
	if d.sink != nil {
		d.sink(d.frame)
	}
	d.frames++
	return nil
}

// Scene exposes the display's scene copy.
func (d *DisplayServo) Scene() *objects.Scene { return d.scene }

// Last returns the most recent frame.
func (d *DisplayServo) Last() Frame { return d.frame }

func (d *DisplayServo) Report() map[string]float64 {
	return map[string]float64{
		"frames":  float64(d.frames),
		"objects": float64(d.scene.Len()),
	}
}
