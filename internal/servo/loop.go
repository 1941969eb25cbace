package servo

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/san-kum/slservo/internal/mailbox"
	"github.com/san-kum/slservo/internal/rt"
	"github.com/san-kum/slservo/internal/shm"
)

// Phase is a state of the servo state machine.
type Phase int32

const (
	WaitClock Phase = iota
	DrainMailbox
	ReadUpstream
	Compute
	PublishDownstream
	TriggerNext
)

func (p Phase) String() string {
	switch p {
	case WaitClock:
		return "WaitClock"
	case DrainMailbox:
		return "DrainMailbox"
	case ReadUpstream:
		return "ReadUpstream"
	case Compute:
		return "Compute"
	case PublishDownstream:
		return "PublishDownstream"
	case TriggerNext:
		return "TriggerNext"
	default:
		return "Unknown"
	}
}

// Tick identifies one pass through the loop. Time is derived from the tick
// counter, never from the wall clock.
type Tick struct {
	N    int64
	Time float64
	Rate float64
}

// Payload is the servo-specific work done on each tick. A returned error is
// counted and absorbed unless it wraps ErrStarvation or ErrSafetyShutdown.
type Payload interface {
	ReadUpstream(ctx context.Context, tk Tick) error
	Compute(ctx context.Context, tk Tick) error
	Publish(ctx context.Context, tk Tick) error
}

// Reporter is implemented by payloads that expose extra status values.
type Reporter interface {
	Report() map[string]float64
}

// Trigger starts downstream servos after a tick has been published.
type Trigger interface {
	Trigger(tick int64)
}

// TriggerFunc adapts a function to Trigger.
type TriggerFunc func(tick int64)

func (f TriggerFunc) Trigger(tick int64) { f(tick) }

type Config struct {
	Name string
	Rate float64
	// MaxTicks stops the loop after that many ticks; zero runs until disabled.
	MaxTicks int64
}

type Option func(*Loop)

// WithMailbox drains m at the start of every tick and hands messages to h.
func WithMailbox(m *mailbox.Mailbox, h mailbox.Handler) Option {
	return func(l *Loop) {
		l.mbox = m
		l.handler = h
	}
}

func WithTrigger(t Trigger) Option {
	return func(l *Loop) { l.trigger = t }
}

// WithLock shares the process-local lock with other goroutines, typically
// the console.
func WithLock(m rt.Mutex) Option {
	return func(l *Loop) { l.lock = m }
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) { l.logger = logger }
}

// Loop is one servo. It is driven by a single goroutine calling Run; the
// remaining methods are safe to call concurrently.
type Loop struct {
	name     string
	rate     float64
	maxTicks int64
	clock    Clock
	payload  Payload
	mbox     *mailbox.Mailbox
	handler  mailbox.Handler
	trigger  Trigger
	lock     rt.Mutex
	logger   *slog.Logger

	ticks    atomic.Int64
	errs     atomic.Int64
	phase    atomic.Int32
	disabled atomic.Bool
	running  atomic.Bool
}

func New(cfg Config, clock Clock, payload Payload, opts ...Option) *Loop {
	l := &Loop{
		name:     cfg.Name,
		rate:     cfg.Rate,
		maxTicks: cfg.MaxTicks,
		clock:    clock,
		payload:  payload,
		lock:     &sync.Mutex{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("servo", l.name)
	return l
}

func (l *Loop) Name() string     { return l.name }
func (l *Loop) Rate() float64    { return l.rate }
func (l *Loop) Ticks() int64     { return l.ticks.Load() }
func (l *Loop) Errors() int64    { return l.errs.Load() }
func (l *Loop) Phase() Phase     { return Phase(l.phase.Load()) }
func (l *Loop) Disabled() bool   { return l.disabled.Load() }
func (l *Loop) Running() bool    { return l.running.Load() }
func (l *Loop) Payload() Payload { return l.payload }

// Time is the servo time in seconds, ticks/rate.
func (l *Loop) Time() float64 {
	if l.rate <= 0 {
		return 0
	}
	return float64(l.ticks.Load()) / l.rate
}

// AddErrors bumps the error counter.
func (l *Loop) AddErrors(n int64) { l.errs.Add(n) }

// Disable makes the loop exit at its next WaitClock.
func (l *Loop) Disable() {
	if !l.disabled.Swap(true) {
		l.logger.Info("servo: disable requested", "tick", l.Ticks())
	}
}

// Exec runs fn under the process-local lock, serialized with the tick body.
func (l *Loop) Exec(fn func()) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fn()
}

// Run executes ticks until the loop is disabled, reaches MaxTicks, ctx is
// cancelled or the shared namespace is closed; those exits return nil. Only
// fatal conditions return an error, always a *FatalError.
func (l *Loop) Run(ctx context.Context) error {
	l.running.Store(true)
	defer l.running.Store(false)
	l.logger.Info("servo: started", "rate", l.rate)

	for {
		l.setPhase(WaitClock)
		if l.disabled.Load() {
			return l.stop("disabled")
		}
		missed, err := l.clock.Wait(ctx)
		if err != nil {
			if l.shutdown(ctx, err) {
				return l.stop("clock closed")
			}
			if errors.Is(err, shm.ErrTimeout) && !errors.Is(err, ErrStarvation) {
				l.errs.Add(1)
				l.logger.Debug("servo: clock miss", "err", err)
				continue
			}
			return l.fatal(WaitClock, err)
		}
		if missed > 0 {
			l.errs.Add(missed)
			l.logger.Debug("servo: overrun", "missed", missed)
		}
		if l.disabled.Load() {
			return l.stop("disabled")
		}

		n := l.ticks.Add(1)
		tk := Tick{N: n, Time: float64(n) / l.rate, Rate: l.rate}

		stop, err := l.body(ctx, tk)
		if err != nil {
			return err
		}
		if stop {
			return l.stop("closed")
		}

		l.setPhase(TriggerNext)
		if l.trigger != nil {
			l.trigger.Trigger(n)
		}

		if l.maxTicks > 0 && n >= l.maxTicks {
			return l.stop("max ticks reached")
		}
	}
}

// body runs the phases that hold the process lock.
func (l *Loop) body(ctx context.Context, tk Tick) (bool, error) {
	l.lock.Lock()
	defer l.lock.Unlock()

	l.setPhase(DrainMailbox)
	if l.mbox != nil {
		if _, err := l.mbox.Drain(ctx, l.handler); err != nil {
			if stop, ferr := l.check(ctx, DrainMailbox, err); stop || ferr != nil {
				return stop, ferr
			}
		}
	}

	phases := []struct {
		phase Phase
		fn    func(context.Context, Tick) error
	}{
		{ReadUpstream, l.payload.ReadUpstream},
		{Compute, l.payload.Compute},
		{PublishDownstream, l.payload.Publish},
	}
	for _, p := range phases {
		l.setPhase(p.phase)
		if err := p.fn(ctx, tk); err != nil {
			if stop, ferr := l.check(ctx, p.phase, err); stop || ferr != nil {
				return stop, ferr
			}
		}
	}
	return false, nil
}

// check classifies a phase error: shutdown, fatal, or a counted miss.
func (l *Loop) check(ctx context.Context, phase Phase, err error) (bool, error) {
	if l.shutdown(ctx, err) {
		return true, nil
	}
	if errors.Is(err, ErrStarvation) || errors.Is(err, ErrSafetyShutdown) || IsFatal(err) {
		return false, l.fatal(phase, err)
	}
	l.errs.Add(1)
	l.logger.Debug("servo: miss", "phase", phase.String(), "err", err)
	return false, nil
}

func (l *Loop) shutdown(ctx context.Context, err error) bool {
	return errors.Is(err, shm.ErrClosed) || ctx.Err() != nil
}

func (l *Loop) fatal(phase Phase, err error) error {
	l.disabled.Store(true)
	fe := &FatalError{Servo: l.name, Tick: l.ticks.Load(), Phase: phase, Err: err}
	l.logger.Error("servo: fatal", "tick", fe.Tick, "phase", phase.String(), "err", err)
	return fe
}

func (l *Loop) stop(reason string) error {
	l.logger.Info("servo: stopped", "reason", reason, "ticks", l.Ticks(), "errors", l.Errors())
	return nil
}

func (l *Loop) setPhase(p Phase) { l.phase.Store(int32(p)) }
