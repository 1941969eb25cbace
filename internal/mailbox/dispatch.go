package mailbox

import (
	"log/slog"
	"sort"
	"sync/atomic"
)

// HandlerFunc handles the payload of one named command.
type HandlerFunc func(payload []byte) error

// Dispatcher routes drained messages to handlers by name.
type Dispatcher struct {
	handlers map[string]HandlerFunc
	logger   *slog.Logger

	unknown atomic.Uint64
	failed  atomic.Uint64
}

func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		handlers: make(map[string]HandlerFunc),
		logger:   logger,
	}
}

// Handle registers fn for name, replacing any previous handler.
func (d *Dispatcher) Handle(name string, fn HandlerFunc) {
	d.handlers[name] = fn
}

// Names lists the registered command names.
func (d *Dispatcher) Names() []string {
	names := make([]string, 0, len(d.handlers))
	for n := range d.handlers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Dispatch satisfies Handler. Unknown names and handler errors are logged
// and counted, never propagated.
func (d *Dispatcher) Dispatch(name string, payload []byte) {
	fn, ok := d.handlers[name]
	if !ok {
		d.unknown.Add(1)
		d.logger.Warn("mailbox: unknown message", "name", name, "bytes", len(payload))
		return
	}
	if err := fn(payload); err != nil {
		d.failed.Add(1)
		d.logger.Warn("mailbox: handler failed", "name", name, "err", err)
	}
}

// Unknown returns how many messages had no handler.
func (d *Dispatcher) Unknown() uint64 { return d.unknown.Load() }

// Failed returns how many handlers returned an error.
func (d *Dispatcher) Failed() uint64 { return d.failed.Load() }
