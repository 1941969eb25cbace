package servos

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/san-kum/slservo/internal/mailbox"
	"github.com/san-kum/slservo/internal/servo"
	"github.com/san-kum/slservo/internal/shm"
	"github.com/san-kum/slservo/internal/state"
)

type TaskConfig struct {
	// Rate is the task servo's own rate, the motor rate over its ratio.
	Rate           float64
	AcquireTimeout time.Duration
	Default        []state.DesiredJoint
	GotoSpeed      float64
	// Blobs is the number of vision blobs to read; zero skips vision.
	Blobs int
}

// TaskServo produces desired joint states. Its only built-in task moves
// linearly to a target posture at a bounded joint speed.
type TaskServo struct {
	cfg    TaskConfig
	logger *slog.Logger

	joints  *shm.Segment
	desired *shm.Latest
	blobSeg *shm.Segment

	js    []state.Joint
	des   []state.DesiredJoint
	blobs []state.Blob

	gotoSteps int
	inc       []float64
	moves     uint64
}

func NewTaskServo(reg *shm.Registry, layout Layout, cfg TaskConfig, logger *slog.Logger) (*TaskServo, error) {
	if len(cfg.Default) != layout.DOF {
		return nil, fmt.Errorf("task: %d defaults for %d joints", len(cfg.Default), layout.DOF)
	}
	if cfg.GotoSpeed <= 0 {
		return nil, fmt.Errorf("task: goto speed %v must be positive", cfg.GotoSpeed)
	}
	t := &TaskServo{
		cfg:    cfg,
		logger: logger,
		js:     make([]state.Joint, layout.DOF),
		des:    append([]state.DesiredJoint(nil), cfg.Default...),
		inc:    make([]float64, layout.DOF),
	}
	for i := range t.des {
		t.des[i].Status = true
	}
	var err error
	if t.joints, err = layout.Segment(reg, SegJointState); err != nil {
		return nil, fmt.Errorf("task: %w", err)
	}
	if t.desired, err = layout.Latest(reg, SegDesired); err != nil {
		return nil, fmt.Errorf("task: %w", err)
	}
	// The motor may block on the desired states before this servo is
	// first triggered, so the default posture is there from the start.
	if err := t.Publish(context.Background(), servo.Tick{}); err != nil {
		return nil, err
	}
	if cfg.Blobs > 0 {
		t.blobs = make([]state.Blob, cfg.Blobs)
		if t.blobSeg, err = layout.Segment(reg, SegBlobs); err != nil {
			return nil, fmt.Errorf("task: %w", err)
		}
	}
	return t, nil
}

func (t *TaskServo) Handlers(d *mailbox.Dispatcher) {
	d.Handle(mailbox.CmdReset, func([]byte) error {
		return t.GoTo(t.defaultTargets(), 0)
	})
	d.Handle(mailbox.CmdGoto, func(p []byte) error {
		var g mailbox.Goto
		if err := mailbox.Decode(p, &g); err != nil {
			return err
		}
		targets := t.defaultTargets()
		if len(g.Targets) > 0 {
			targets = t.currentTargets()
			for _, tg := range g.Targets {
				if tg.DOF < 1 || tg.DOF > len(targets) {
					return fmt.Errorf("goto: dof %d out of range", tg.DOF)
				}
				targets[tg.DOF-1] = tg.Th
			}
		}
		return t.GoTo(targets, g.Speed)
	})
	d.Handle(mailbox.CmdStatus, func([]byte) error {
		t.logger.Info("task: status", statusAttrs(t.Report())...)
		return nil
	})
}

func (t *TaskServo) defaultTargets() []float64 {
	out := make([]float64, len(t.cfg.Default))
	for i, d := range t.cfg.Default {
		out[i] = d.Th
	}
	return out
}

func (t *TaskServo) currentTargets() []float64 {
	out := make([]float64, len(t.des))
	for i, d := range t.des {
		out[i] = d.Th
	}
	return out
}

// GoTo starts a linear move of all joints to targets. The slowest joint
// moves at speed rad/s; zero speed uses the configured goto speed.
func (t *TaskServo) GoTo(targets []float64, speed float64) error {
	if len(targets) != len(t.des) {
		return fmt.Errorf("goto: %d targets for %d joints", len(targets), len(t.des))
	}
	if speed <= 0 {
		speed = t.cfg.GotoSpeed
	}
	maxRange := 0.0
	for i, th := range targets {
		maxRange = math.Max(maxRange, math.Abs(th-t.des[i].Th))
	}
	steps := int(math.Ceil(maxRange / speed * t.cfg.Rate))
	if steps < 1 {
		steps = 1
	}
	for i, th := range targets {
		t.inc[i] = (th - t.des[i].Th) / float64(steps)
	}
	t.gotoSteps = steps
	t.moves++
	t.logger.Debug("task: goto", "steps", steps, "range", maxRange)
	return nil
}

// Moving reports whether a goto is in progress.
func (t *TaskServo) Moving() bool { return t.gotoSteps > 0 }

func (t *TaskServo) ReadUpstream(_ context.Context, _ servo.Tick) error {
	var errs []error
	if err := read(t.joints, t.cfg.AcquireTimeout, func(b []byte) error {
		return state.DecodeJoints(b, t.js)
	}); err != nil {
		errs = append(errs, fmt.Errorf("task: read joint state: %w", err))
	}
	if t.blobSeg != nil {
		if err := read(t.blobSeg, t.cfg.AcquireTimeout, func(b []byte) error {
			return state.DecodeBlobs(b, t.blobs)
		}); err != nil {
			errs = append(errs, fmt.Errorf("task: read blobs: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (t *TaskServo) Compute(_ context.Context, _ servo.Tick) error {
	if t.gotoSteps == 0 {
		for i := range t.des {
			t.des[i].Thd = 0
			t.des[i].Thdd = 0
		}
		return nil
	}
	for i := range t.des {
		t.des[i].Th += t.inc[i]
		t.des[i].Thd = t.inc[i] * t.cfg.Rate
		t.des[i].Thdd = 0
	}
	t.gotoSteps--
	return nil
}

func (t *TaskServo) Publish(_ context.Context, _ servo.Tick) error {
	if err := store(t.desired, t.cfg.AcquireTimeout, func(b []byte) error {
		return state.EncodeDesired(b, t.des)
	}); err != nil {
		return fmt.Errorf("task: send desired: %w", err)
	}
	return nil
}

// Desired returns a copy of the desired states.
func (t *TaskServo) Desired() []state.DesiredJoint {
	return append([]state.DesiredJoint(nil), t.des...)
}

// Blob returns the last blob read from vision.
func (t *TaskServo) Blob(i int) (mgl64.Vec3, bool) {
	if i < 0 || i >= len(t.blobs) || !t.blobs[i].Status {
		return mgl64.Vec3{}, false
	}
	return t.blobs[i].X, true
}

func (t *TaskServo) Report() map[string]float64 {
	r := map[string]float64{
		"moves":      float64(t.moves),
		"goto_steps": float64(t.gotoSteps),
	}
	for i := range t.des {
		r[fmt.Sprintf("th_des%d", i+1)] = t.des[i].Th
	}
	if x, ok := t.Blob(0); ok {
		r["blob1_x"], r["blob1_y"], r["blob1_z"] = x[0], x[1], x[2]
	}
	return r
}
