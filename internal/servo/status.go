package servo

import "github.com/san-kum/slservo/internal/mailbox"

// Status is a point-in-time view of a loop for the console and monitor.
type Status struct {
	Name     string             `json:"name"`
	Rate     float64            `json:"rate"`
	Ticks    int64              `json:"ticks"`
	Errors   int64              `json:"errors"`
	Time     float64            `json:"time"`
	Phase    string             `json:"phase"`
	Running  bool               `json:"running"`
	Disabled bool               `json:"disabled"`
	Mailbox  *mailbox.Stats     `json:"mailbox,omitempty"`
	Values   map[string]float64 `json:"values,omitempty"`
}

// Status snapshots the counters. Payload values are read under the process
// lock so they are consistent with a completed tick.
func (l *Loop) Status() Status {
	st := Status{
		Name:     l.name,
		Rate:     l.rate,
		Ticks:    l.Ticks(),
		Errors:   l.Errors(),
		Time:     l.Time(),
		Phase:    l.Phase().String(),
		Running:  l.Running(),
		Disabled: l.Disabled(),
	}
	if l.mbox != nil {
		ms := l.mbox.Stats()
		st.Mailbox = &ms
	}
	if r, ok := l.payload.(Reporter); ok {
		l.Exec(func() { st.Values = r.Report() })
	}
	return st
}
