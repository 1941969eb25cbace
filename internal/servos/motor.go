package servos

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/san-kum/slservo/internal/control"
	"github.com/san-kum/slservo/internal/mailbox"
	"github.com/san-kum/slservo/internal/servo"
	"github.com/san-kum/slservo/internal/shm"
	"github.com/san-kum/slservo/internal/state"
)

type MotorConfig struct {
	Rate           float64
	TaskRatio      int
	RealTimeClock  bool
	AcquireTimeout time.Duration
	Gains          []state.Gains
	Default        []state.DesiredJoint
	Threshold      int
	ShutdownAfter  time.Duration
}

// MotorServo reads the joint sensors, turns desired states into joint
// torques and feeds the simulation. It is the clock of the whole system:
// its fan-out starts every other servo.
type MotorServo struct {
	cfg    MotorConfig
	fan    *servo.FanOut
	pid    *control.PID
	wd     *servo.Watchdog
	logger *slog.Logger

	sensors   *shm.Segment
	misc      *shm.Segment
	commands  *shm.Segment
	broadcast *shm.Segment
	desired   *shm.Latest

	joints     []state.Joint
	des        []state.DesiredJoint
	in         []state.DesiredJoint
	fresh      []bool
	invalid    []int
	miscVals   []float64
	u          []float64
	ufb        []float64
	received   uint64
	broadcasts uint64
	// taskOwed is set while a triggered task cycle has not been received.
	taskOwed   bool
}

func NewMotorServo(reg *shm.Registry, layout Layout, cfg MotorConfig, fan *servo.FanOut, logger *slog.Logger) (*MotorServo, error) {
	if len(cfg.Default) != layout.DOF || len(cfg.Gains) != layout.DOF {
		return nil, fmt.Errorf("motor: %d defaults and %d gains for %d joints", len(cfg.Default), len(cfg.Gains), layout.DOF)
	}
	if cfg.TaskRatio < 1 {
		cfg.TaskRatio = 1
	}
	m := &MotorServo{
		cfg:      cfg,
		fan:      fan,
		pid:      control.NewPID(cfg.Gains, cfg.Rate),
		wd:       servo.NewWatchdog(cfg.Rate),
		logger:   logger,
		joints:   make([]state.Joint, layout.DOF),
		des:      append([]state.DesiredJoint(nil), cfg.Default...),
		in:       make([]state.DesiredJoint, layout.DOF),
		fresh:    make([]bool, layout.DOF),
		invalid:  make([]int, layout.DOF),
		miscVals: make([]float64, NumMisc),
		u:        make([]float64, layout.DOF),
		ufb:      make([]float64, layout.DOF),
	}
	if cfg.Threshold > 0 {
		m.wd.Threshold = cfg.Threshold
	}
	if cfg.ShutdownAfter > 0 {
		m.wd.ShutdownAfter = cfg.ShutdownAfter
	}

	var err error
	segs := []struct {
		dst  **shm.Segment
		name string
	}{
		{&m.sensors, SegJointSimState},
		{&m.misc, SegMisc},
		{&m.commands, SegSimCommands},
		{&m.broadcast, SegJointState},
	}
	for _, s := range segs {
		if *s.dst, err = layout.Segment(reg, s.name); err != nil {
			return nil, fmt.Errorf("motor: %w", err)
		}
	}
	if m.desired, err = layout.Latest(reg, SegDesired); err != nil {
		return nil, fmt.Errorf("motor: %w", err)
	}
	return m, nil
}

// Handlers registers the motor's mailbox commands on d.
func (m *MotorServo) Handlers(d *mailbox.Dispatcher) {
	d.Handle(mailbox.CmdGains, func(p []byte) error {
		var g mailbox.Gains
		if err := mailbox.Decode(p, &g); err != nil {
			return err
		}
		gains, err := toGains(g, m.pid.Gains())
		if err != nil {
			return err
		}
		m.pid.SetGains(gains)
		m.logger.Info("motor: gains changed", "dofs", len(gains))
		return nil
	})
	d.Handle(mailbox.CmdStatus, func([]byte) error {
		m.logger.Info("motor: status", statusAttrs(m.Report())...)
		return nil
	})
}

func (m *MotorServo) ReadUpstream(ctx context.Context, tk servo.Tick) error {
	var errs []error
	if err := read(m.sensors, m.cfg.AcquireTimeout, func(b []byte) error {
		return state.DecodeJoints(b, m.joints)
	}); err != nil {
		errs = append(errs, fmt.Errorf("motor: read sensors: %w", err))
	}
	if err := read(m.misc, m.cfg.AcquireTimeout, func(b []byte) error {
		return state.DecodeFloats(b, m.miscVals)
	}); err != nil {
		errs = append(errs, fmt.Errorf("motor: read misc sensors: %w", err))
	}
	if err := m.receive(ctx); err != nil {
		errs = append(errs, err)
	}
	m.checkJoints()
	return errors.Join(errs...)
}

// receive takes fresh desired states from the task servo. Without a real
// time clock the motor blocks for them once the task servo is due, which
// keeps both servos in lock step.
func (m *MotorServo) receive(ctx context.Context) error {
	timeout := shm.NoWait
	if !m.cfg.RealTimeClock && m.wd.Count() >= m.cfg.TaskRatio-1 {
		timeout = shm.WaitForever
	}
	err := m.desired.Wait(ctx, timeout)
	switch {
	case err == nil:
	case errors.Is(err, shm.ErrTimeout):
		return m.wd.Missed(m.des, m.cfg.Default)
	default:
		return err
	}
	if err := load(m.desired, m.cfg.AcquireTimeout, func(b []byte) error {
		return state.DecodeDesired(b, m.in)
	}); err != nil {
		if werr := m.wd.Missed(m.des, m.cfg.Default); werr != nil {
			return werr
		}
		return fmt.Errorf("motor: read desired: %w", err)
	}
	for i, d := range m.in {
		if d.Status {
			m.des[i] = d
			m.fresh[i] = true
		}
	}
	m.wd.Received()
	m.received++
	m.taskOwed = false
	return nil
}

// checkJoints degrades each joint that has gone more than the watchdog
// threshold of ticks without a valid desired state of its own. Whole
// missing messages are left to the watchdog.
func (m *MotorServo) checkJoints() {
	for i := range m.invalid {
		if m.fresh[i] {
			m.fresh[i] = false
			m.invalid[i] = 0
			continue
		}
		m.invalid[i]++
		if m.invalid[i] > m.wd.Threshold && !m.wd.Degraded() {
			m.wd.Degrade(&m.des[i], m.cfg.Default[i])
		}
	}
}

// InvalidJoints is the number of joints currently held on defaults.
func (m *MotorServo) InvalidJoints() int {
	n := 0
	for _, c := range m.invalid {
		if c > m.wd.Threshold {
			n++
		}
	}
	return n
}

func (m *MotorServo) Compute(_ context.Context, _ servo.Tick) error {
	m.pid.Compute(m.des, m.joints, m.u, m.ufb)
	return nil
}

func (m *MotorServo) Publish(_ context.Context, tk servo.Tick) error {
	var errs []error
	if err := publish(m.commands, m.cfg.AcquireTimeout, func(b []byte) error {
		return state.EncodeFloats(b, m.u)
	}); err != nil {
		errs = append(errs, fmt.Errorf("motor: send commands: %w", err))
	}
	if m.fan == nil || m.fan.Due(Task, tk.N) {
		for i := range m.joints {
			m.joints[i].U = m.u[i]
			m.joints[i].Ufb = m.ufb[i]
		}
		if err := publish(m.broadcast, m.cfg.AcquireTimeout, func(b []byte) error {
			return state.EncodeJoints(b, m.joints)
		}); err != nil {
			errs = append(errs, fmt.Errorf("motor: broadcast sensors: %w", err))
		} else {
			m.broadcasts++
		}
	}
	return errors.Join(errs...)
}

// Settle blocks until the task servo has finished a cycle the motor
// triggered but never received. In lock step this lets a stopped motor
// leave no fired task cycle unrun.
func (m *MotorServo) Settle(ctx context.Context) error {
	if m.cfg.RealTimeClock || !m.taskOwed {
		return nil
	}
	if err := m.desired.Wait(ctx, shm.WaitForever); err != nil {
		return fmt.Errorf("motor: settle: %w", err)
	}
	m.taskOwed = false
	return nil
}

// Trigger runs the fan-out.
func (m *MotorServo) Trigger(tick int64) {
	if m.fan == nil {
		return
	}
	if m.fan.Due(Task, tick) {
		m.taskOwed = true
	}
	m.fan.Trigger(tick)
}

func (m *MotorServo) Report() map[string]float64 {
	r := map[string]float64{
		"received":    float64(m.received),
		"broadcasts":  float64(m.broadcasts),
		"no_receive":  float64(m.wd.Count()),
		"missed":      float64(m.wd.Total()),
		"invalid":     float64(m.InvalidJoints()),
		"base_height": m.miscVals[MiscBaseHeight],
		"contacts":    m.miscVals[MiscContacts],
	}
	if m.wd.Degraded() {
		r["degraded"] = 1
	}
	for i := range m.u {
		r[fmt.Sprintf("u%d", i+1)] = m.u[i]
	}
	return r
}

// Desired returns a copy of the current desired states.
func (m *MotorServo) Desired() []state.DesiredJoint {
	return append([]state.DesiredJoint(nil), m.des...)
}

// Commands returns a copy of the last torques.
func (m *MotorServo) Commands() []float64 {
	return append([]float64(nil), m.u...)
}

func (m *MotorServo) PID() *control.PID { return m.pid }

func toGains(g mailbox.Gains, cur []state.Gains) ([]state.Gains, error) {
	if len(g.Th) != len(cur) || len(g.Thd) != len(cur) {
		return nil, fmt.Errorf("gains for %d/%d dofs, want %d", len(g.Th), len(g.Thd), len(cur))
	}
	out := make([]state.Gains, len(cur))
	for i := range out {
		out[i] = state.Gains{Th: g.Th[i], Thd: g.Thd[i]}
	}
	return out, nil
}

func statusAttrs(r map[string]float64) []any {
	attrs := make([]any, 0, 2*len(r))
	for _, k := range sortedKeys(r) {
		attrs = append(attrs, k, r[k])
	}
	return attrs
}
