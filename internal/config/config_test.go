package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Rate != DefaultRate {
		t.Errorf("expected rate %v, got %v", DefaultRate, cfg.Rate)
	}
	if cfg.DOF() != 4 {
		t.Errorf("expected 4 joints, got %d", cfg.DOF())
	}
	if cfg.Ratios.Task != DefaultTaskRatio {
		t.Errorf("expected task ratio %d, got %d", DefaultTaskRatio, cfg.Ratios.Task)
	}
	if len(cfg.Sim.Objects) != 1 || cfg.Sim.Objects[0].Name != "floor" {
		t.Errorf("expected a floor, got %+v", cfg.Sim.Objects)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"rate", func(c *Config) { c.Rate = 0 }, "servo_rate"},
		{"task ratio", func(c *Config) { c.Ratios.Task = 6 }, "ratios.task"},
		{"vision ratio", func(c *Config) { c.Ratios.Vision = 0 }, "ratios.vision"},
		{"display ratio", func(c *Config) { c.Ratios.Display = -1 }, "ratios.display"},
		{"no joints", func(c *Config) { c.Joints = nil }, "joint"},
		{"limits", func(c *Config) { c.Joints[0].Min = 2 }, "L_HIP"},
		{"substeps", func(c *Config) { c.Sim.NIntegration = 0 }, "n_integration"},
		{"goto speed", func(c *Config) { c.Task.GotoSpeed = 0 }, "goto_speed"},
		{"vision link", func(c *Config) { c.Vision.Links = []int{-1} }, "vision link"},
		{"transient", func(c *Config) { c.TransientTicks = -1 }, "transient_ticks"},
		{"transient lock-step", func(c *Config) { c.TransientTicks = 10 }, "real_time_clock"},
		{"priority", func(c *Config) { c.Scheduling.Motor.Priority = 100 }, "scheduling.motor.priority"},
		{"stack size", func(c *Config) { c.Scheduling.Task.StackSize = -1 }, "scheduling.task.stack_size"},
		{"cpu", func(c *Config) { c.Scheduling.Vision.CPU = -2 }, "scheduling.vision.cpu"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "slservo.yaml")
	cfg := DefaultConfig()
	cfg.Rate = 500
	cfg.AcquireTimeout = 20 * time.Millisecond
	cfg.Joints[1].Kp = 80

	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.Rate != 500 {
		t.Errorf("rate = %v", got.Rate)
	}
	if got.AcquireTimeout != 20*time.Millisecond {
		t.Errorf("acquire timeout = %v", got.AcquireTimeout)
	}
	if got.Joints[1].Kp != 80 || got.Joints[1].Name != "L_KNEE" {
		t.Errorf("joint = %+v", got.Joints[1])
	}
	if got.Watchdog.ShutdownAfter != 30*time.Minute {
		t.Errorf("shutdown after = %v", got.Watchdog.ShutdownAfter)
	}
}

func TestGetPreset(t *testing.T) {
	cfg := GetPreset("box-drop")
	if cfg == nil {
		t.Fatal("expected preset, got nil")
	}
	if cfg.Base.Pos[2] != 1 {
		t.Errorf("expected drop height 1, got %v", cfg.Base.Pos[2])
	}
	cfg.Rate = 1
	if again := GetPreset("box-drop"); again.Rate != DefaultRate {
		t.Error("presets must not share state")
	}
}

func TestGetPreset_NotFound(t *testing.T) {
	if cfg := GetPreset("nonexistent"); cfg != nil {
		t.Error("expected nil for nonexistent preset")
	}
}

func TestListPresets(t *testing.T) {
	presets := ListPresets()
	want := []string{"biped", "box-drop", "slide"}
	if len(presets) != len(want) {
		t.Fatalf("expected %v, got %v", want, presets)
	}
	for i := range want {
		if presets[i] != want[i] {
			t.Errorf("preset %d = %s, want %s", i, presets[i], want[i])
		}
		if err := GetPreset(presets[i]).Validate(); err != nil {
			t.Errorf("preset %s invalid: %v", presets[i], err)
		}
	}
}

func TestWrite(t *testing.T) {
	var b strings.Builder
	if err := Write(&b, GetPreset("box-drop")); err != nil {
		t.Fatal(err)
	}
	out := b.String()
	for _, want := range []string{"servo_rate: 1000", "n_integration: 4", "contact: rebound"} {
		if !strings.Contains(out, want) {
			t.Errorf("yaml missing %q", want)
		}
	}
}

func TestLoad_SchedulingKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "slservo.yaml")
	yml := "scheduling:\n  motor:\n    cpu: 0\n    stack_size: 65536\n"
	if err := os.WriteFile(path, []byte(yml), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		want TaskScheduling
	}{
		{"motor", TaskScheduling{Priority: 90, StackSize: 65536, CPU: 0}},
		{"simulation", TaskScheduling{Priority: 85, CPU: -1}},
		{"display", TaskScheduling{Priority: 20, CPU: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := cfg.Scheduling.For(tt.name)
			if !ok || got != tt.want {
				t.Errorf("For(%q) = %+v, %v; want %+v", tt.name, got, ok, tt.want)
			}
		})
	}
	if got, ok := cfg.Scheduling.For("gui"); ok || got.CPU != -1 {
		t.Errorf("unknown servo = %+v, %v", got, ok)
	}
}
