package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultRate           = 1000.0
	DefaultDuration       = 5.0
	DefaultTaskRatio      = 5
	DefaultVisionRatio    = 2
	DefaultNIntegration   = 2
	DefaultGravity        = 9.81
	DefaultGotoSpeed      = 1.0
	DefaultAcquireTimeout = 50 * time.Millisecond
	DefaultKp             = 50.0
	DefaultKd             = 2.0
)

type Config struct {
	Robot          string         `yaml:"robot"`
	Backend        string         `yaml:"backend"`
	Rate           float64        `yaml:"servo_rate"`
	RealTimeClock  bool           `yaml:"real_time_clock"`
	TransientTicks int64          `yaml:"transient_ticks"`
	Duration       float64        `yaml:"duration"`
	Salt           uint32         `yaml:"salt"`
	AcquireTimeout time.Duration  `yaml:"acquire_timeout"`
	LogLevel       string         `yaml:"log_level"`
	Ratios         RatioConfig    `yaml:"ratios"`
	Base           BaseConfig     `yaml:"base"`
	Joints         []JointConfig  `yaml:"joints"`
	Sim            SimConfig      `yaml:"simulation"`
	Task           TaskConfig     `yaml:"task"`
	Vision         VisionConfig   `yaml:"vision"`
	Watchdog       WatchdogConfig `yaml:"watchdog"`
	Mailbox        MailboxConfig  `yaml:"mailbox"`
	Record         RecordConfig   `yaml:"record"`
	Viewer         ViewerConfig   `yaml:"viewer"`
	Scheduling     Scheduling     `yaml:"scheduling"`
}

// RatioConfig divides the motor rate for subordinate servos. A display
// ratio of 0 selects the 60 Hz line.
type RatioConfig struct {
	Task    int `yaml:"task"`
	Vision  int `yaml:"vision"`
	Display int `yaml:"display"`
}

type BaseConfig struct {
	HalfExtents [3]float64 `yaml:"half_extents"`
	Mass        float64    `yaml:"mass"`
	Pos         [3]float64 `yaml:"pos"`
	Quat        [4]float64 `yaml:"quat"`
}

type JointConfig struct {
	Name    string  `yaml:"name"`
	Default float64 `yaml:"default"`
	Min     float64 `yaml:"min"`
	Max     float64 `yaml:"max"`
	Kp      float64 `yaml:"kp"`
	Kd      float64 `yaml:"kd"`
}

type SimConfig struct {
	Integrator   string         `yaml:"integrator"`
	NIntegration int            `yaml:"n_integration"`
	Gravity      float64        `yaml:"gravity"`
	RealTime     bool           `yaml:"real_time"`
	FreezeBase   bool           `yaml:"freeze_base"`
	ObjectsFile  string         `yaml:"objects_file"`
	Objects      []ObjectConfig `yaml:"objects"`
}

// ObjectConfig describes a scene object inline, in the same terms as an
// objects file entry.
type ObjectConfig struct {
	Name          string     `yaml:"name"`
	Type          string     `yaml:"type"`
	Contact       string     `yaml:"contact"`
	RGB           [3]float64 `yaml:"rgb"`
	Pos           [3]float64 `yaml:"pos"`
	Rot           [3]float64 `yaml:"rot"`
	Scale         [3]float64 `yaml:"scale"`
	ObjectParams  []float64  `yaml:"object_params,omitempty"`
	ContactParams []float64  `yaml:"contact_params"`
}

type TaskConfig struct {
	GotoSpeed float64 `yaml:"goto_speed"`
}

type VisionConfig struct {
	Enabled bool  `yaml:"enabled"`
	Links   []int `yaml:"links"`
}

type WatchdogConfig struct {
	Threshold     int           `yaml:"threshold"`
	ShutdownAfter time.Duration `yaml:"shutdown_after"`
}

type MailboxConfig struct {
	MaxMessages int           `yaml:"max_messages"`
	MaxBytes    int           `yaml:"max_bytes"`
	LockTimeout time.Duration `yaml:"lock_timeout"`
}

type RecordConfig struct {
	Enabled bool   `yaml:"enabled"`
	Every   int    `yaml:"every"`
	DataDir string `yaml:"data_dir"`
}

type ViewerConfig struct {
	Addr string `yaml:"addr"`
}

// Scheduling holds the real-time parameters each servo task is spawned
// with.
type Scheduling struct {
	Motor      TaskScheduling `yaml:"motor"`
	Simulation TaskScheduling `yaml:"simulation"`
	Task       TaskScheduling `yaml:"task"`
	Vision     TaskScheduling `yaml:"vision"`
	Display    TaskScheduling `yaml:"display"`
}

// TaskScheduling is one servo's priority, stack size and processor. A
// priority of 0 keeps the default policy and a CPU of -1 leaves the task
// unpinned.
type TaskScheduling struct {
	Priority  int `yaml:"priority"`
	StackSize int `yaml:"stack_size"`
	CPU       int `yaml:"cpu"`
}

// For returns the parameters of the servo called name.
func (s Scheduling) For(name string) (TaskScheduling, bool) {
	switch name {
	case "motor":
		return s.Motor, true
	case "simulation":
		return s.Simulation, true
	case "task":
		return s.Task, true
	case "vision":
		return s.Vision, true
	case "display":
		return s.Display, true
	}
	return TaskScheduling{CPU: -1}, false
}

func (s Scheduling) all() map[string]TaskScheduling {
	return map[string]TaskScheduling{
		"motor":      s.Motor,
		"simulation": s.Simulation,
		"task":       s.Task,
		"vision":     s.Vision,
		"display":    s.Display,
	}
}

func defaultJoints() []JointConfig {
	names := []string{"L_HIP", "L_KNEE", "R_HIP", "R_KNEE"}
	defaults := []float64{0.3, -0.6, 0.3, -0.6}
	js := make([]JointConfig, len(names))
	for i, n := range names {
		js[i] = JointConfig{Name: n, Default: defaults[i], Min: -1.5, Max: 1.5, Kp: DefaultKp, Kd: DefaultKd}
	}
	return js
}

// Floor is a large static box whose top face is at z = 0.
func Floor() ObjectConfig {
	return ObjectConfig{
		Name:          "floor",
		Type:          "cube",
		Contact:       "static",
		RGB:           [3]float64{0.4, 0.4, 0.4},
		Pos:           [3]float64{0, 0, -0.5},
		Scale:         [3]float64{20, 20, 1},
		ContactParams: []float64{10000, 100, 10000, 100, 1, 0.8},
	}
}

func DefaultConfig() *Config {
	return &Config{
		Robot:          "floating_base",
		Backend:        "posix",
		Rate:           DefaultRate,
		Duration:       DefaultDuration,
		AcquireTimeout: DefaultAcquireTimeout,
		LogLevel:       "info",
		Ratios: RatioConfig{
			Task:    DefaultTaskRatio,
			Vision:  DefaultVisionRatio,
			Display: 0,
		},
		Base: BaseConfig{
			HalfExtents: [3]float64{0.15, 0.1, 0.1},
			Mass:        10,
			Pos:         [3]float64{0, 0, 0.1},
			Quat:        [4]float64{1, 0, 0, 0},
		},
		Joints: defaultJoints(),
		Sim: SimConfig{
			Integrator:   "rk4",
			NIntegration: DefaultNIntegration,
			Gravity:      DefaultGravity,
			Objects:      []ObjectConfig{Floor()},
		},
		Task:     TaskConfig{GotoSpeed: DefaultGotoSpeed},
		Vision:   VisionConfig{Enabled: true, Links: []int{0}},
		Watchdog: WatchdogConfig{Threshold: 30, ShutdownAfter: 30 * time.Minute},
		Mailbox:  MailboxConfig{MaxMessages: 20, MaxBytes: 1000, LockTimeout: 50 * time.Millisecond},
		Record:   RecordConfig{Enabled: true, Every: 10, DataDir: ".slservo"},
		Viewer:   ViewerConfig{Addr: ""},
		Scheduling: Scheduling{
			Motor:      TaskScheduling{Priority: 90, CPU: -1},
			Simulation: TaskScheduling{Priority: 85, CPU: -1},
			Task:       TaskScheduling{Priority: 80, CPU: -1},
			Vision:     TaskScheduling{Priority: 70, CPU: -1},
			Display:    TaskScheduling{Priority: 20, CPU: -1},
		},
	}
}

// Validate reports every inconsistency in c.
func (c *Config) Validate() error {
	var errs []error
	if c.Rate <= 0 {
		errs = append(errs, fmt.Errorf("servo_rate must be positive, got %v", c.Rate))
	}
	if c.Ratios.Task < 1 || c.Ratios.Task > 5 {
		errs = append(errs, fmt.Errorf("ratios.task must be in 1..5, got %d", c.Ratios.Task))
	}
	if c.Ratios.Vision < 1 || c.Ratios.Vision > 5 {
		errs = append(errs, fmt.Errorf("ratios.vision must be in 1..5, got %d", c.Ratios.Vision))
	}
	if c.Ratios.Display < 0 || c.Ratios.Display > 5 {
		errs = append(errs, fmt.Errorf("ratios.display must be in 0..5, got %d", c.Ratios.Display))
	}
	if c.TransientTicks < 0 {
		errs = append(errs, fmt.Errorf("transient_ticks must not be negative, got %d", c.TransientTicks))
	}
	if c.TransientTicks > 0 && !c.RealTimeClock {
		errs = append(errs, errors.New("transient_ticks requires real_time_clock"))
	}
	if len(c.Joints) == 0 {
		errs = append(errs, errors.New("at least one joint is required"))
	}
	for _, j := range c.Joints {
		if j.Min > j.Max {
			errs = append(errs, fmt.Errorf("joint %s: min %v above max %v", j.Name, j.Min, j.Max))
		}
	}
	if c.Sim.NIntegration < 1 {
		errs = append(errs, fmt.Errorf("simulation.n_integration must be at least 1, got %d", c.Sim.NIntegration))
	}
	if c.Task.GotoSpeed <= 0 {
		errs = append(errs, fmt.Errorf("task.goto_speed must be positive, got %v", c.Task.GotoSpeed))
	}
	for _, l := range c.Vision.Links {
		if l < 0 {
			errs = append(errs, fmt.Errorf("vision link %d out of range", l))
		}
	}
	sched := c.Scheduling.all()
	for _, name := range []string{"motor", "simulation", "task", "vision", "display"} {
		ts := sched[name]
		if ts.Priority < 0 || ts.Priority > 99 {
			errs = append(errs, fmt.Errorf("scheduling.%s.priority must be in 0..99, got %d", name, ts.Priority))
		}
		if ts.StackSize < 0 {
			errs = append(errs, fmt.Errorf("scheduling.%s.stack_size must not be negative, got %d", name, ts.StackSize))
		}
		if ts.CPU < -1 || ts.CPU >= runtime.NumCPU() {
			errs = append(errs, fmt.Errorf("scheduling.%s.cpu must be -1 or below %d, got %d", name, runtime.NumCPU(), ts.CPU))
		}
	}
	return errors.Join(errs...)
}

// DOF is the number of actuated joints.
func (c *Config) DOF() int { return len(c.Joints) }

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Write encodes cfg as yaml to w.
func Write(w io.Writer, cfg *Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return err
	}
	return enc.Close()
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
