package monitor

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/san-kum/slservo/internal/mailbox"
	"github.com/san-kum/slservo/internal/servo"
)

func fakeSource(ticks *int64) Source {
	return func() []servo.Status {
		*ticks += 10
		return []servo.Status{
			{Name: "motor", Rate: 1000, Ticks: *ticks, Running: true, Phase: "compute",
				Mailbox: &mailbox.Stats{Posted: 3, Drained: 3}, Values: map[string]float64{"watchdog": 0}},
			{Name: "task", Rate: 200, Ticks: *ticks / 5, Errors: 2, Disabled: true, Phase: "wait"},
		}
	}
}

func TestModelRefreshAndView(t *testing.T) {
	var ticks int64
	m := New(fakeSource(&ticks), nil, time.Millisecond)

	next, cmd := m.Update(tickMsg(time.Now()))
	if cmd == nil {
		t.Fatal("expected a follow-up tick")
	}
	m = next.(Model)
	next, _ = m.Update(tickMsg(time.Now()))
	m = next.(Model)

	if got := len(m.Statuses()); got != 2 {
		t.Fatalf("statuses = %d, want 2", got)
	}
	if h := m.history["motor"]; len(h) != 2 || h[1] != 10 {
		t.Errorf("motor history = %v", h)
	}

	view := m.View()
	for _, want := range []string{"motor", "task", "running", "disabled", "posted 3", "watchdog"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestModelKeys(t *testing.T) {
	var ticks int64
	var disabled []string
	m := New(fakeSource(&ticks), func(name string) error {
		disabled = append(disabled, name)
		if name == "task" {
			return errors.New("busy")
		}
		return nil
	}, 0)
	m.refresh()

	press := func(k string) {
		t.Helper()
		var msg tea.KeyMsg
		switch k {
		case "down":
			msg = tea.KeyMsg{Type: tea.KeyDown}
		default:
			msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)}
		}
		next, _ := m.Update(msg)
		m = next.(Model)
	}

	press("d")
	if m.message != "disabled motor" {
		t.Errorf("message = %q", m.message)
	}
	press("down")
	press("d")
	if !strings.Contains(m.message, "busy") {
		t.Errorf("message = %q", m.message)
	}
	if len(disabled) != 2 || disabled[1] != "task" {
		t.Errorf("disabled = %v", disabled)
	}

	press("p")
	before := ticks
	next, _ := m.Update(tickMsg(time.Now()))
	m = next.(Model)
	if ticks != before {
		t.Error("paused board refreshed")
	}
	if !strings.Contains(m.View(), "paused") {
		t.Error("view does not show pause")
	}

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Error("q should quit")
	}
}

func TestSparkline(t *testing.T) {
	tests := []struct {
		name string
		data []float64
		want string
	}{
		{"empty", nil, ""},
		{"flat", []float64{5, 5, 5}, "▁▁▁"},
		{"ramp", []float64{0, 7}, "▁█"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sparkline(tt.data, 10); got != tt.want {
				t.Errorf("sparkline = %q, want %q", got, tt.want)
			}
		})
	}
	if got := sparkline(make([]float64, 50), 20); len([]rune(got)) != 20 {
		t.Errorf("width = %d", len([]rune(got)))
	}
}
