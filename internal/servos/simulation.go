package servos

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/san-kum/slservo/internal/dynamics"
	"github.com/san-kum/slservo/internal/dynamo"
	"github.com/san-kum/slservo/internal/mailbox"
	"github.com/san-kum/slservo/internal/objects"
	"github.com/san-kum/slservo/internal/rt"
	"github.com/san-kum/slservo/internal/servo"
	"github.com/san-kum/slservo/internal/shm"
	"github.com/san-kum/slservo/internal/state"
)

// JointLimit is the admissible range of one joint. A zero range disables
// the limit.
type JointLimit struct {
	Min float64
	Max float64
}

type SimulationConfig struct {
	Rate           float64
	AcquireTimeout time.Duration
	Limits         []JointLimit
	Gains          []state.Gains
	RealTime       bool
	Backend        rt.Backend
	Terrains       objects.TerrainLoader
}

// Observer sees the simulator after every tick, under the servo lock.
type Observer func(tk servo.Tick, sim *dynamics.Simulator)

// SimulationServo integrates the robot and its environment in lock step
// with the motor servo.
type SimulationServo struct {
	cfg    SimulationConfig
	sim    *dynamics.Simulator
	logger *slog.Logger

	sensors  *shm.Segment
	base     *shm.Segment
	orient   *shm.Segment
	commands *shm.Segment
	contacts *shm.Segment
	links    *shm.Segment
	misc     *shm.Segment

	next    *shm.PulseSem
	display *mailbox.Mailbox

	u         []float64
	statuses  []state.ContactStatus
	miscVals  []float64
	gains     []state.Gains
	initial   dynamics.Robot
	start     time.Time
	resets    uint64
	observers []Observer
}

func NewSimulationServo(reg *shm.Registry, layout Layout, cfg SimulationConfig, sim *dynamics.Simulator, logger *slog.Logger) (*SimulationServo, error) {
	n := sim.Model().NumDOF()
	if n != layout.DOF {
		return nil, fmt.Errorf("simulation: model has %d joints, layout %d", n, layout.DOF)
	}
	s := &SimulationServo{
		cfg:      cfg,
		sim:      sim,
		logger:   logger,
		u:        make([]float64, n),
		statuses: make([]state.ContactStatus, layout.Contacts),
		miscVals: make([]float64, NumMisc),
		gains:    append([]state.Gains(nil), cfg.Gains...),
		initial:  sim.Robot(),
	}

	var err error
	segs := []struct {
		dst  **shm.Segment
		name string
	}{
		{&s.sensors, SegJointSimState},
		{&s.base, SegBaseState},
		{&s.orient, SegBaseOrient},
		{&s.commands, SegSimCommands},
		{&s.contacts, SegContacts},
		{&s.links, SegLinks},
		{&s.misc, SegMisc},
	}
	for _, sg := range segs {
		if *sg.dst, err = layout.Segment(reg, sg.name); err != nil {
			return nil, fmt.Errorf("simulation: %w", err)
		}
	}
	// Readers of the first tick see the initial state.
	if err := s.Publish(context.Background(), servo.Tick{}); err != nil {
		return nil, err
	}
	return s, nil
}

// SetTrigger makes the servo give p after every tick.
func (s *SimulationServo) SetTrigger(p *shm.PulseSem) { s.next = p }

// ForwardObjects mirrors scene edits into the display mailbox.
func (s *SimulationServo) ForwardObjects(mb *mailbox.Mailbox) { s.display = mb }

// Observe adds a per-tick observer.
func (s *SimulationServo) Observe(o Observer) { s.observers = append(s.observers, o) }

func (s *SimulationServo) Simulator() *dynamics.Simulator { return s.sim }

func (s *SimulationServo) Handlers(d *mailbox.Dispatcher) {
	sceneHandlers(d, s.sim.Engine().Scene(), s.cfg.Terrains, s.forward)

	d.Handle(mailbox.CmdReset, func(p []byte) error {
		var r mailbox.Reset
		if err := mailbox.Decode(p, &r); err != nil {
			return err
		}
		q := mgl64.Quat{W: r.Quat[0], V: mgl64.Vec3{r.Quat[1], r.Quat[2], r.Quat[3]}}
		if q.Len() == 0 {
			q = mgl64.QuatIdent()
		}
		s.sim.Reset(mgl64.Vec3(r.Pos), q.Normalize())
		return nil
	})
	d.Handle(mailbox.CmdGains, func(p []byte) error {
		var g mailbox.Gains
		if err := mailbox.Decode(p, &g); err != nil {
			return err
		}
		gains, err := toGains(g, s.gains)
		if err != nil {
			return err
		}
		s.gains = gains
		return nil
	})
	d.Handle(mailbox.CmdUextSim, func(p []byte) error {
		var u mailbox.UextSim
		if err := mailbox.Decode(p, &u); err != nil {
			return err
		}
		e := s.sim.Engine()
		e.ClearExternal()
		for _, f := range u.Forces {
			e.SetExternal(f.DOF, state.ExternalForce{F: mgl64.Vec3(f.F), T: mgl64.Vec3(f.T)})
		}
		return nil
	})
	d.Handle(mailbox.CmdRealTime, func(p []byte) error {
		var f mailbox.Flag
		if err := mailbox.Decode(p, &f); err != nil {
			return err
		}
		s.cfg.RealTime = f.On
		s.start = time.Time{}
		return nil
	})
	d.Handle(mailbox.CmdFreezeBase, func(p []byte) error {
		var f mailbox.Flag
		if err := mailbox.Decode(p, &f); err != nil {
			return err
		}
		s.sim.SetFreeze(f.On)
		return nil
	})
	d.Handle(mailbox.CmdGravity, func(p []byte) error {
		var v mailbox.Scalar
		if err := mailbox.Decode(p, &v); err != nil {
			return err
		}
		s.sim.SetGravity(v.Value)
		return nil
	})
	d.Handle(mailbox.CmdIntRate, func(p []byte) error {
		var v mailbox.Scalar
		if err := mailbox.Decode(p, &v); err != nil {
			return err
		}
		if v.Value < 1 {
			return fmt.Errorf("integration steps %v below 1", v.Value)
		}
		s.sim.SetSteps(int(v.Value))
		return nil
	})
	d.Handle(mailbox.CmdIntMethod, func(p []byte) error {
		var m mailbox.Method
		if err := mailbox.Decode(p, &m); err != nil {
			return err
		}
		method, err := dynamics.ParseMethod(m.Name)
		if err != nil {
			return err
		}
		s.sim.SetMethod(method)
		return nil
	})
	d.Handle(mailbox.CmdStatus, func([]byte) error {
		s.logger.Info("simulation: status", statusAttrs(s.Report())...)
		return nil
	})
}

func (s *SimulationServo) forward(name string, payload []byte) {
	if s.display == nil {
		return
	}
	if err := s.display.Post(name, payload); err != nil {
		s.logger.Warn("simulation: forward to display failed", "cmd", name, "err", err)
	}
}

func (s *SimulationServo) ReadUpstream(_ context.Context, _ servo.Tick) error {
	if err := read(s.commands, s.cfg.AcquireTimeout, func(b []byte) error {
		return state.DecodeFloats(b, s.u)
	}); err != nil {
		return fmt.Errorf("simulation: receive commands: %w", err)
	}
	return nil
}

// limited adds the joint limit springs to the commanded torques.
func (s *SimulationServo) limited() []float64 {
	u := append([]float64(nil), s.u...)
	r := s.sim.Robot()
	for i, j := range r.Joints {
		if i >= len(s.cfg.Limits) || i >= len(s.gains) {
			break
		}
		lim := s.cfg.Limits[i]
		if lim.Min == lim.Max {
			continue
		}
		var over float64
		switch {
		case j.Th > lim.Max:
			over = j.Th - lim.Max
		case j.Th < lim.Min:
			over = j.Th - lim.Min
		default:
			continue
		}
		u[i] += -over*s.gains[i].Th*10 - j.Thd*s.gains[i].Thd*math.Sqrt(10)
	}
	return u
}

func (s *SimulationServo) Compute(ctx context.Context, tk servo.Tick) error {
	if err := s.sim.Step(s.limited()); err != nil {
		var se *dynamo.SimulationError
		if errors.As(err, &se) {
			s.resets++
			s.logger.Warn("simulation: state diverged, resetting", "tick", tk.N, "err", err)
			s.sim.SetRobot(s.initial)
		}
		return fmt.Errorf("simulation: %w", err)
	}
	for _, o := range s.observers {
		o(tk, s.sim)
	}
	if s.cfg.RealTime && s.cfg.Backend != nil {
		if s.start.IsZero() {
			s.start = s.cfg.Backend.Now().Add(-time.Duration(tk.Time * float64(time.Second)))
		}
		deadline := s.start.Add(time.Duration(tk.Time * float64(time.Second)))
		if err := s.cfg.Backend.SleepUntil(ctx, deadline); err != nil {
			return err
		}
	}
	return nil
}

func (s *SimulationServo) Publish(_ context.Context, _ servo.Tick) error {
	r := s.sim.Robot()
	s.sim.Engine().Statuses(s.statuses)
	active := 0
	for _, c := range s.statuses {
		if c.Status {
			active++
		}
	}
	s.miscVals[MiscBaseHeight] = r.Base.X[2]
	s.miscVals[MiscContacts] = float64(active)
	s.miscVals[MiscSimTime] = s.sim.Time()

	writes := []struct {
		seg *shm.Segment
		enc func(b []byte) error
	}{
		{s.sensors, func(b []byte) error { return state.EncodeJoints(b, r.Joints) }},
		{s.base, func(b []byte) error { return state.EncodeBase(b, r.Base) }},
		{s.orient, func(b []byte) error { return state.EncodeOrient(b, r.Orient) }},
		{s.contacts, func(b []byte) error { return state.EncodeContacts(b, s.statuses) }},
		{s.links, func(b []byte) error { return state.EncodeVec3s(b, s.sim.Links()) }},
		{s.misc, func(b []byte) error { return state.EncodeFloats(b, s.miscVals) }},
	}
	var errs []error
	for _, w := range writes {
		if err := publish(w.seg, s.cfg.AcquireTimeout, w.enc); err != nil {
			errs = append(errs, fmt.Errorf("simulation: publish %s: %w", w.seg.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Trigger hands the clock back to the motor servo.
func (s *SimulationServo) Trigger(int64) {
	if s.next != nil {
		s.next.Give()
	}
}

func (s *SimulationServo) Report() map[string]float64 {
	return map[string]float64{
		"sim_time":    s.sim.Time(),
		"base_height": s.miscVals[MiscBaseHeight],
		"contacts":    s.miscVals[MiscContacts],
		"resets":      float64(s.resets),
		"steps":       float64(s.sim.Steps()),
		"gravity":     s.sim.Gravity(),
		"frozen":      boolValue(s.sim.Frozen()),
		"real_time":   boolValue(s.cfg.RealTime),
		"objects":     float64(s.sim.Engine().Scene().Len()),
	}
}
