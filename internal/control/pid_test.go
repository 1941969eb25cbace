package control

import (
	"math"
	"testing"

	"github.com/san-kum/slservo/internal/state"
)

func TestPID_Compute(t *testing.T) {
	p := NewPID([]state.Gains{{Th: 100, Thd: 10}, {Th: 50, Thd: 1}}, 1000)
	des := []state.DesiredJoint{{Th: 1, Thd: 0.5, Uff: 2}, {Th: 0}}
	js := []state.Joint{{Th: 0.9, Thd: 0}, {Th: 0.1, Thd: -1}}
	u := make([]float64, 2)
	ufb := make([]float64, 2)

	p.Compute(des, js, u, ufb)

	want0 := 100*0.1 + 10*0.5
	if math.Abs(ufb[0]-want0) > 1e-9 || math.Abs(u[0]-(want0+2)) > 1e-9 {
		t.Errorf("dof 1: u=%v ufb=%v", u[0], ufb[0])
	}
	want1 := 50*-0.1 + 1*1
	if math.Abs(u[1]-want1) > 1e-9 {
		t.Errorf("dof 2: u=%v, want %v", u[1], want1)
	}
}

func TestPID_Integral(t *testing.T) {
	p := NewPID([]state.Gains{{}}, 100)
	if err := p.SetParam("Ki1", 10); err != nil {
		t.Fatal(err)
	}
	des := []state.DesiredJoint{{Th: 1}}
	js := []state.Joint{{}}
	u := make([]float64, 1)
	ufb := make([]float64, 1)
	for i := 0; i < 10; i++ {
		p.Compute(des, js, u, ufb)
	}
	// integral = 10 * 1 * 0.01
	if math.Abs(u[0]-1) > 1e-9 {
		t.Errorf("u = %v, want 1", u[0])
	}
	p.Reset()
	p.Compute(des, js, u, ufb)
	if math.Abs(u[0]-0.1) > 1e-9 {
		t.Errorf("after reset u = %v, want 0.1", u[0])
	}
}

func TestPID_Params(t *testing.T) {
	p := NewPID(make([]state.Gains, 2), 1000)
	tests := []struct {
		name    string
		wantErr bool
	}{
		{"Kp1", false},
		{"Kd2", false},
		{"Ki2", false},
		{"Kp3", true},
		{"Kx1", true},
		{"gain", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.SetParam(tt.name, 7)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && p.GetParams()[tt.name] != 7 {
				t.Errorf("%s not set", tt.name)
			}
		})
	}
	if g := p.Gains(); g[0].Th != 7 || g[1].Thd != 7 {
		t.Errorf("Gains = %+v", g)
	}
}
