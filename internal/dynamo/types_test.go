package dynamo

import (
	"errors"
	"math"
	"strings"
	"testing"
)

func TestState_IsValid(t *testing.T) {
	tests := []struct {
		name  string
		state State
		valid bool
	}{
		{"empty", State{}, true},
		{"normal", State{1.0, 2.0, 3.0}, true},
		{"with NaN", State{1.0, math.NaN()}, false},
		{"with +Inf", State{1.0, math.Inf(1)}, false},
		{"with -Inf", State{1.0, math.Inf(-1)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.IsValid(); got != tt.valid {
				t.Errorf("IsValid() = %v, want %v", got, tt.valid)
			}
		})
	}
}

func TestState_Axpy(t *testing.T) {
	x := State{1, 2, 3}
	y := State{4, 5, 6}

	dst := make(State, 3)
	dst.Axpy(x, 2, y)
	if dst[0] != 9 || dst[1] != 12 || dst[2] != 15 {
		t.Errorf("Axpy = %v", dst)
	}

	// in place
	x.Axpy(x, -1, x)
	for i, v := range x {
		if v != 0 {
			t.Errorf("x[%d] = %v, want 0", i, v)
		}
	}
}

func TestSimulationError_Unwrap(t *testing.T) {
	err := &SimulationError{Tick: 3, Time: 0.003, Wrapped: ErrInvalidState}
	if !errors.Is(err, ErrInvalidState) {
		t.Error("SimulationError does not unwrap to ErrInvalidState")
	}
	if !strings.HasPrefix(err.Error(), "tick 3 ") || !strings.HasSuffix(err.Error(), ErrInvalidState.Error()) {
		t.Errorf("Error() = %q", err.Error())
	}
}
