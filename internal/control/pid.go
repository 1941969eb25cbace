package control

import (
	"fmt"

	"github.com/san-kum/slservo/internal/state"
)

type PID struct {
	Kp       []float64
	Kd       []float64
	Ki       []float64
	dt       float64
	integral []float64
}

// NewPID creates a controller with gains g running at rate Hz. Integral
// gains start at zero.
func NewPID(g []state.Gains, rate float64) *PID {
	n := len(g)
	p := &PID{
		Kp:       make([]float64, n),
		Kd:       make([]float64, n),
		Ki:       make([]float64, n),
		dt:       1 / rate,
		integral: make([]float64, n),
	}
	p.SetGains(g)
	return p
}

// Compute writes total torques to u and their feedback part to ufb.
func (p *PID) Compute(des []state.DesiredJoint, js []state.Joint, u, ufb []float64) {
	for i := range p.Kp {
		if i >= len(des) || i >= len(js) {
			break
		}
		err := des[i].Th - js[i].Th
		p.integral[i] += err * p.dt
		fb := p.Kp[i]*err + p.Kd[i]*(des[i].Thd-js[i].Thd) + p.Ki[i]*p.integral[i]
		ufb[i] = fb
		u[i] = des[i].Uff + fb
	}
}

// Reset clears integral state
func (p *PID) Reset() {
	clear(p.integral)
}

// SetGains replaces proportional and derivative gains.
func (p *PID) SetGains(g []state.Gains) {
	for i := range p.Kp {
		if i < len(g) {
			p.Kp[i] = g[i].Th
			p.Kd[i] = g[i].Thd
		}
	}
}

// Gains returns the current proportional and derivative gains.
func (p *PID) Gains() []state.Gains {
	g := make([]state.Gains, len(p.Kp))
	for i := range g {
		g[i] = state.Gains{Th: p.Kp[i], Thd: p.Kd[i]}
	}
	return g
}

// GetParams returns tunable parameters for live adjustment, keyed
// "Kp1", "Kd1", "Ki1" ... with DOFs counted from 1.
func (p *PID) GetParams() map[string]float64 {
	params := make(map[string]float64, 3*len(p.Kp))
	for i := range p.Kp {
		params[fmt.Sprintf("Kp%d", i+1)] = p.Kp[i]
		params[fmt.Sprintf("Kd%d", i+1)] = p.Kd[i]
		params[fmt.Sprintf("Ki%d", i+1)] = p.Ki[i]
	}
	return params
}

// SetParam adjusts one gain by name.
func (p *PID) SetParam(name string, value float64) error {
	var kind string
	var dof int
	if _, err := fmt.Sscanf(name, "%2s%d", &kind, &dof); err != nil {
		return fmt.Errorf("control: bad parameter %q", name)
	}
	if dof < 1 || dof > len(p.Kp) {
		return fmt.Errorf("control: parameter %q: no DOF %d", name, dof)
	}
	switch kind {
	case "Kp":
		p.Kp[dof-1] = value
	case "Kd":
		p.Kd[dof-1] = value
	case "Ki":
		p.Ki[dof-1] = value
	default:
		return fmt.Errorf("control: unknown gain %q", kind)
	}
	return nil
}
