package system

import (
	"testing"

	"github.com/san-kum/slservo/internal/config"
	"github.com/san-kum/slservo/internal/rt"
	"github.com/san-kum/slservo/internal/servos"
)

func TestTaskParams(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Scheduling.Motor = config.TaskScheduling{Priority: 95, StackSize: 1 << 16, CPU: 0}

	tests := []struct {
		name string
		want rt.TaskParams
	}{
		{servos.Motor, rt.TaskParams{Name: servos.Motor, Priority: 95, StackSize: 1 << 16, CPU: 0}},
		{servos.Task, rt.TaskParams{Name: servos.Task, Priority: 80, CPU: -1}},
		{servos.Display, rt.TaskParams{Name: servos.Display, Priority: 20, CPU: -1}},
		{"unknown", rt.TaskParams{Name: "unknown", CPU: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := taskParams(cfg, tt.name); got != tt.want {
				t.Errorf("taskParams(%q) = %+v, want %+v", tt.name, got, tt.want)
			}
		})
	}
}
