// Package system wires the servos of one robot into a running process
// group: shared namespace, scene, simulator, loops, mailboxes and the
// motor servo's fan-out.
package system

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"golang.org/x/sync/errgroup"

	"github.com/san-kum/slservo/internal/config"
	"github.com/san-kum/slservo/internal/dynamics"
	"github.com/san-kum/slservo/internal/mailbox"
	"github.com/san-kum/slservo/internal/metrics"
	"github.com/san-kum/slservo/internal/objects"
	"github.com/san-kum/slservo/internal/rt"
	"github.com/san-kum/slservo/internal/servo"
	"github.com/san-kum/slservo/internal/servos"
	"github.com/san-kum/slservo/internal/shm"
	"github.com/san-kum/slservo/internal/state"
	"github.com/san-kum/slservo/internal/storage"
)

// taskParams returns the scheduling parameters the servo called name is
// spawned with.
func taskParams(cfg *config.Config, name string) rt.TaskParams {
	ts, _ := cfg.Scheduling.For(name)
	return rt.TaskParams{Name: name, Priority: ts.Priority, StackSize: ts.StackSize, CPU: ts.CPU}
}

type Option func(*System)

func WithLogger(logger *slog.Logger) Option {
	return func(s *System) { s.logger = logger }
}

// WithBackend overrides the backend named in the configuration.
func WithBackend(b rt.Backend) Option {
	return func(s *System) { s.backend = b }
}

// WithSink receives every display frame.
func WithSink(fn func(servos.Frame)) Option {
	return func(s *System) { s.sink = fn }
}

// WithDir resolves the objects file and terrains against dir.
func WithDir(dir string) Option {
	return func(s *System) { s.dir = dir }
}

// WithMaxTicks stops the motor servo after n ticks instead of after the
// configured duration. Zero runs until shut down.
func WithMaxTicks(n int64) Option {
	return func(s *System) {
		s.maxTicks = n
		s.maxTicksSet = true
	}
}

type System struct {
	cfg     *config.Config
	logger  *slog.Logger
	backend rt.Backend
	sink    func(servos.Frame)
	dir     string

	maxTicks    int64
	maxTicksSet bool

	reg      *shm.Registry
	layout   servos.Layout
	objs     []objects.Object
	sim      *dynamics.Simulator
	fan      *servo.FanOut
	recorder *Recorder

	motor      *servos.MotorServo
	simulation *servos.SimulationServo
	task       *servos.TaskServo
	display    *servos.DisplayServo

	motorPulse *shm.PulseSem
	loops      []*servo.Loop
	byName     map[string]*servo.Loop
	mailboxes  map[string]*mailbox.Mailbox

	once    sync.Once
	done    chan struct{}
	started time.Time
}

// New builds every servo of cfg. Nothing runs until Run.
func New(cfg *config.Config, opts ...Option) (*System, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("system: %w", err)
	}
	s := &System{
		cfg:       cfg,
		logger:    slog.Default(),
		dir:       ".",
		byName:    make(map[string]*servo.Loop),
		mailboxes: make(map[string]*mailbox.Mailbox),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.backend == nil {
		b, err := rt.New(cfg.Backend)
		if err != nil {
			return nil, fmt.Errorf("system: %w", err)
		}
		s.backend = b
	}
	if !s.maxTicksSet {
		s.maxTicks = int64(cfg.Duration * cfg.Rate)
	}

	s.reg = shm.NewRegistry(cfg.Salt, s.logger)
	if err := s.build(); err != nil {
		s.reg.Close()
		return nil, err
	}
	return s, nil
}

func (s *System) build() error {
	cfg := s.cfg

	model := dynamics.NewFloatingBase(cfg.DOF(), mgl64.Vec3(cfg.Base.HalfExtents))
	if cfg.Base.Mass > 0 {
		model.Inertia = model.Inertia.Mul(cfg.Base.Mass / model.Mass)
		model.Mass = cfg.Base.Mass
	}

	objs, err := SceneObjects(cfg, s.dir)
	if err != nil {
		return fmt.Errorf("system: %w", err)
	}
	s.objs = objs
	scene := objects.NewScene()
	for _, o := range objs {
		scene.Add(o)
	}

	method, err := dynamics.ParseMethod(cfg.Sim.Integrator)
	if err != nil {
		return fmt.Errorf("system: %w", err)
	}
	engine := objects.NewEngine(scene, model.Contacts(), model.NumDOF())
	s.sim = dynamics.NewSimulator(model, engine, dynamics.Options{
		Rate:    cfg.Rate,
		Steps:   cfg.Sim.NIntegration,
		Method:  method,
		Gravity: cfg.Sim.Gravity,
	})
	s.sim.Reset(mgl64.Vec3(cfg.Base.Pos), quat(cfg.Base.Quat))
	r := s.sim.Robot()
	for i, j := range cfg.Joints {
		r.Joints[i].Th = j.Default
	}
	s.sim.SetRobot(r)
	s.sim.SetFreeze(cfg.Sim.FreezeBase)

	s.layout = servos.Layout{
		DOF:      cfg.DOF(),
		Links:    model.NumLinks(),
		Contacts: len(model.Contacts()),
	}
	if cfg.Vision.Enabled {
		s.layout.Blobs = len(cfg.Vision.Links)
	}

	names := make([]string, cfg.DOF())
	gains := make([]state.Gains, cfg.DOF())
	defaults := make([]state.DesiredJoint, cfg.DOF())
	limits := make([]servos.JointLimit, cfg.DOF())
	for i, j := range cfg.Joints {
		names[i] = j.Name
		gains[i] = state.Gains{Th: j.Kp, Thd: j.Kd}
		defaults[i] = state.DesiredJoint{Th: j.Default}
		limits[i] = servos.JointLimit{Min: j.Min, Max: j.Max}
	}

	pulses := make(map[string]*shm.PulseSem)
	for _, name := range []string{servos.PulseMotor, servos.PulseSim, servos.PulseTask, servos.PulseVision, servos.PulseDisplay} {
		if pulses[name], err = s.reg.Pulse(name); err != nil {
			return fmt.Errorf("system: %w", err)
		}
	}
	s.motorPulse = pulses[servos.PulseMotor]

	s.fan = servo.NewFanOut(cfg.Rate)
	s.fan.SetTransient(cfg.TransientTicks)
	subs := []servo.Subscriber{
		{Name: servos.Simulation, Ratio: 1, Mode: servo.Give, Pulse: pulses[servos.PulseSim]},
		{Name: servos.Task, Ratio: cfg.Ratios.Task, Mode: servo.Give, Pulse: pulses[servos.PulseTask]},
		{Name: servos.Display, Ratio: cfg.Ratios.Display, Mode: servo.Flush, Pulse: pulses[servos.PulseDisplay]},
	}
	if cfg.Vision.Enabled {
		subs = append(subs, servo.Subscriber{Name: servos.Vision, Ratio: cfg.Ratios.Vision, Mode: servo.Give, Pulse: pulses[servos.PulseVision]})
	}
	for _, sub := range subs {
		if err := s.fan.Add(sub); err != nil {
			return fmt.Errorf("system: %w", err)
		}
	}

	mbCfg := mailbox.Config{
		MaxMessages: cfg.Mailbox.MaxMessages,
		MaxBytes:    cfg.Mailbox.MaxBytes,
		LockTimeout: cfg.Mailbox.LockTimeout,
	}
	dispatchers := make(map[string]*mailbox.Dispatcher)
	for _, name := range []string{servos.Motor, servos.Simulation, servos.Task, servos.Display} {
		mb, err := mailbox.Open(s.reg, name, mbCfg, s.logger)
		if err != nil {
			return fmt.Errorf("system: %w", err)
		}
		s.mailboxes[name] = mb
		d := mailbox.NewDispatcher(s.logger.With("servo", name))
		d.Handle(mailbox.CmdDisable, s.disableHandler(name))
		dispatchers[name] = d
	}

	timeout := cfg.AcquireTimeout
	s.motor, err = servos.NewMotorServo(s.reg, s.layout, servos.MotorConfig{
		Rate:           cfg.Rate,
		TaskRatio:      cfg.Ratios.Task,
		RealTimeClock:  cfg.RealTimeClock,
		AcquireTimeout: timeout,
		Gains:          gains,
		Default:        defaults,
		Threshold:      cfg.Watchdog.Threshold,
		ShutdownAfter:  cfg.Watchdog.ShutdownAfter,
	}, s.fan, s.logger)
	if err != nil {
		return err
	}
	s.motor.Handlers(dispatchers[servos.Motor])

	s.simulation, err = servos.NewSimulationServo(s.reg, s.layout, servos.SimulationConfig{
		Rate:           cfg.Rate,
		AcquireTimeout: timeout,
		Limits:         limits,
		Gains:          gains,
		RealTime:       cfg.Sim.RealTime,
		Backend:        s.backend,
		Terrains:       TerrainDir(s.dir),
	}, s.sim, s.logger)
	if err != nil {
		return err
	}
	if !cfg.RealTimeClock {
		s.simulation.SetTrigger(s.motorPulse)
	}
	s.simulation.ForwardObjects(s.mailboxes[servos.Display])
	s.simulation.Handlers(dispatchers[servos.Simulation])
	if cfg.Record.Enabled {
		s.recorder = NewRecorder(names, s.layout.Contacts, cfg.Record.Every, metrics.Default(model.Mass, cfg.Sim.Gravity))
		s.simulation.Observe(s.recorder.Observe)
	}

	taskRate := cfg.Rate / float64(cfg.Ratios.Task)
	s.task, err = servos.NewTaskServo(s.reg, s.layout, servos.TaskConfig{
		Rate:           taskRate,
		AcquireTimeout: timeout,
		Default:        defaults,
		GotoSpeed:      cfg.Task.GotoSpeed,
		Blobs:          s.layout.Blobs,
	}, s.logger)
	if err != nil {
		return err
	}
	s.task.Handlers(dispatchers[servos.Task])

	s.display, err = servos.NewDisplayServo(s.reg, s.layout, timeout, s.sink, s.logger)
	if err != nil {
		return err
	}
	s.display.Seed(objs)
	s.display.Handlers(dispatchers[servos.Display])

	var motorClock servo.Clock = servo.NewPulseClock(s.motorPulse)
	if cfg.RealTimeClock {
		motorClock = servo.NewSelfClock(s.backend, cfg.Rate)
	}
	s.add(servo.Config{Name: servos.Motor, Rate: cfg.Rate, MaxTicks: s.maxTicks}, motorClock, s.motor,
		servo.WithMailbox(s.mailboxes[servos.Motor], dispatchers[servos.Motor].Dispatch),
		servo.WithTrigger(s.motor))
	s.add(servo.Config{Name: servos.Simulation, Rate: cfg.Rate}, servo.NewPulseClock(pulses[servos.PulseSim]), s.simulation,
		servo.WithMailbox(s.mailboxes[servos.Simulation], dispatchers[servos.Simulation].Dispatch),
		servo.WithTrigger(s.simulation))
	s.add(servo.Config{Name: servos.Task, Rate: taskRate}, servo.NewPulseClock(pulses[servos.PulseTask]), s.task,
		servo.WithMailbox(s.mailboxes[servos.Task], dispatchers[servos.Task].Dispatch))
	if cfg.Vision.Enabled {
		vision, err := servos.NewVisionServo(s.reg, s.layout, cfg.Vision.Links, timeout)
		if err != nil {
			return err
		}
		s.add(servo.Config{Name: servos.Vision, Rate: cfg.Rate / float64(cfg.Ratios.Vision)}, servo.NewPulseClock(pulses[servos.PulseVision]), vision)
	}
	displayRatio := cfg.Ratios.Display
	if displayRatio == servo.Line {
		displayRatio = servo.LineDivisor(cfg.Rate)
	}
	s.add(servo.Config{Name: servos.Display, Rate: cfg.Rate / float64(displayRatio)}, servo.NewPulseClock(pulses[servos.PulseDisplay]), s.display,
		servo.WithMailbox(s.mailboxes[servos.Display], dispatchers[servos.Display].Dispatch))
	return nil
}

func (s *System) add(cfg servo.Config, clock servo.Clock, p servo.Payload, opts ...servo.Option) {
	opts = append(opts, servo.WithLock(s.backend.NewMutex()), servo.WithLogger(s.logger))
	l := servo.New(cfg, clock, p, opts...)
	s.loops = append(s.loops, l)
	s.byName[cfg.Name] = l
}

func (s *System) disableHandler(name string) mailbox.HandlerFunc {
	return func([]byte) error {
		if l, ok := s.byName[name]; ok {
			l.Disable()
		}
		return nil
	}
}

func quat(q [4]float64) mgl64.Quat {
	out := mgl64.Quat{W: q[0], V: mgl64.Vec3{q[1], q[2], q[3]}}
	if out.Len() == 0 {
		return mgl64.QuatIdent()
	}
	return out.Normalize()
}

// Run starts every servo and blocks until the motor servo stops, a servo
// fails or ctx is cancelled. The returned error is the first
// *servo.FatalError, if any. The namespace is closed on return.
func (s *System) Run(ctx context.Context) error {
	s.started = s.backend.Now()
	g, gctx := errgroup.WithContext(ctx)
	for _, l := range s.loops {
		task := s.backend.Spawn(gctx, taskParams(s.cfg, l.Name()), l.Run)
		g.Go(func() error {
			err := task.Wait()
			if l.Name() == servos.Motor {
				if err == nil {
					if serr := s.motor.Settle(gctx); serr != nil {
						s.logger.Debug("system: task cycle not settled", "err", serr)
					}
				}
				s.Shutdown()
			}
			return err
		})
	}
	g.Go(func() error {
		select {
		case <-gctx.Done():
			s.Shutdown()
		case <-s.done:
		}
		return nil
	})
	if !s.cfg.RealTimeClock {
		s.motorPulse.Give()
	}
	s.logger.Info("system: started", "servos", len(s.loops), "rate", s.cfg.Rate, "backend", s.backend.Name())

	err := g.Wait()
	s.logger.Info("system: stopped", "elapsed", s.backend.Now().Sub(s.started))
	return err
}

// Shutdown disables every servo and closes the namespace, which wakes any
// servo blocked on a semaphore. It is safe to call more than once.
func (s *System) Shutdown() {
	s.once.Do(func() {
		for _, l := range s.loops {
			l.Disable()
		}
		s.reg.Close()
		close(s.done)
	})
}

func (s *System) Config() *config.Config         { return s.cfg }
func (s *System) Registry() *shm.Registry        { return s.reg }
func (s *System) Backend() rt.Backend            { return s.backend }
func (s *System) Layout() servos.Layout          { return s.layout }
func (s *System) FanOut() *servo.FanOut          { return s.fan }
func (s *System) Recorder() *Recorder            { return s.recorder }
func (s *System) Objects() []objects.Object      { return s.objs }
func (s *System) Motor() *servos.MotorServo      { return s.motor }
func (s *System) Task() *servos.TaskServo        { return s.task }
func (s *System) Loops() []*servo.Loop           { return s.loops }
func (s *System) Simulator() *dynamics.Simulator { return s.sim }

func (s *System) Loop(name string) (*servo.Loop, bool) {
	l, ok := s.byName[name]
	return l, ok
}

func (s *System) Mailbox(name string) (*mailbox.Mailbox, bool) {
	mb, ok := s.mailboxes[name]
	return mb, ok
}

// Status snapshots every servo in start order.
func (s *System) Status() []servo.Status {
	out := make([]servo.Status, len(s.loops))
	for i, l := range s.loops {
		out[i] = l.Status()
	}
	return out
}

// Metadata describes the run so far for storage.
func (s *System) Metadata(preset string) storage.RunMetadata {
	meta := storage.RunMetadata{
		Preset:       preset,
		Robot:        s.cfg.Robot,
		Timestamp:    time.Now(),
		Rate:         s.cfg.Rate,
		Integrator:   s.sim.Method().String(),
		NIntegration: s.sim.Steps(),
		Ticks:        make(map[string]int64, len(s.loops)),
		Errors:       make(map[string]int64, len(s.loops)),
		Metrics:      map[string]float64{},
	}
	for _, l := range s.loops {
		meta.Ticks[l.Name()] = l.Ticks()
		meta.Errors[l.Name()] = l.Errors()
	}
	if m, ok := s.byName[servos.Motor]; ok {
		meta.Duration = m.Time()
	}
	if s.recorder != nil {
		meta.Metrics = s.recorder.Metrics()
	}
	return meta
}

// Save stores the metadata and recording of a finished run.
func (s *System) Save(st *storage.Store, preset string) (string, error) {
	if s.recorder == nil {
		return "", errors.New("system: recording disabled")
	}
	return st.Save(s.Metadata(preset), s.recorder.Recording())
}
