package servo_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/slservo/internal/mailbox"
	"github.com/san-kum/slservo/internal/rt"
	"github.com/san-kum/slservo/internal/servo"
	"github.com/san-kum/slservo/internal/shm"
)

type recorder struct {
	mu      sync.Mutex
	events  []string
	ticks   []servo.Tick
	fail    map[servo.Phase]error
	compute func(tk servo.Tick)
}

func (r *recorder) log(ev string, tk servo.Tick, p servo.Phase) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	if p == servo.Compute {
		r.ticks = append(r.ticks, tk)
	}
	return r.fail[p]
}

func (r *recorder) ReadUpstream(_ context.Context, tk servo.Tick) error {
	return r.log("read", tk, servo.ReadUpstream)
}

func (r *recorder) Compute(_ context.Context, tk servo.Tick) error {
	if r.compute != nil {
		r.compute(tk)
	}
	return r.log("compute", tk, servo.Compute)
}

func (r *recorder) Publish(_ context.Context, tk servo.Tick) error {
	return r.log("publish", tk, servo.PublishDownstream)
}

func (r *recorder) Report() map[string]float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return map[string]float64{"computed": float64(len(r.ticks))}
}

type clockFunc func(ctx context.Context) (int64, error)

func (f clockFunc) Wait(ctx context.Context) (int64, error) { return f(ctx) }

func (r *recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

var _ = Describe("Loop", func() {
	var (
		ctx     context.Context
		cancel  context.CancelFunc
		reg     *shm.Registry
		backend *rt.Virtual
		pay     *recorder
	)

	BeforeEach(func() {
		ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
		reg = shm.NewRegistry(0, quiet)
		backend = rt.NewVirtual(time.Unix(0, 0))
		pay = &recorder{fail: map[servo.Phase]error{}}
	})

	AfterEach(func() {
		reg.Close()
		cancel()
	})

	Context("self-clocked", func() {
		It("runs MaxTicks ticks with time derived from the counter", func() {
			var triggered []int64
			l := servo.New(servo.Config{Name: "motor", Rate: 1000, MaxTicks: 10},
				servo.NewSelfClock(backend, 1000), pay,
				servo.WithLogger(quiet),
				servo.WithTrigger(servo.TriggerFunc(func(t int64) { triggered = append(triggered, t) })))

			Expect(l.Run(ctx)).To(Succeed())
			Expect(l.Ticks()).To(Equal(int64(10)))
			Expect(l.Errors()).To(BeZero())
			Expect(l.Time()).To(BeNumerically("~", 0.01, 1e-12))
			Expect(triggered).To(Equal([]int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}))
			Expect(pay.ticks[4].Time).To(BeNumerically("~", 0.005, 1e-12))
			Expect(backend.Now()).To(Equal(time.Unix(0, 0).Add(9 * time.Millisecond)))
		})

		It("runs the phases in order", func() {
			l := servo.New(servo.Config{Name: "motor", Rate: 100, MaxTicks: 2},
				servo.NewSelfClock(backend, 100), pay, servo.WithLogger(quiet))
			Expect(l.Run(ctx)).To(Succeed())
			Expect(pay.Events()).To(Equal([]string{
				"read", "compute", "publish",
				"read", "compute", "publish",
			}))
		})

		It("counts overruns as missed ticks", func() {
			pay.compute = func(tk servo.Tick) {
				if tk.N == 1 {
					backend.Advance(3500 * time.Microsecond)
				}
			}
			l := servo.New(servo.Config{Name: "motor", Rate: 1000, MaxTicks: 2},
				servo.NewSelfClock(backend, 1000), pay, servo.WithLogger(quiet))
			Expect(l.Run(ctx)).To(Succeed())
			Expect(l.Errors()).To(Equal(int64(3)))
		})

		It("counts payload errors without stopping", func() {
			pay.fail[servo.ReadUpstream] = shm.ErrTimeout
			l := servo.New(servo.Config{Name: "task", Rate: 100, MaxTicks: 5},
				servo.NewSelfClock(backend, 100), pay, servo.WithLogger(quiet))
			Expect(l.Run(ctx)).To(Succeed())
			Expect(l.Ticks()).To(Equal(int64(5)))
			Expect(l.Errors()).To(Equal(int64(5)))
		})

		It("terminates on a safety shutdown", func() {
			pay.fail[servo.Compute] = servo.ErrSafetyShutdown
			l := servo.New(servo.Config{Name: "motor", Rate: 100},
				servo.NewSelfClock(backend, 100), pay, servo.WithLogger(quiet))
			err := l.Run(ctx)

			var fe *servo.FatalError
			Expect(errors.As(err, &fe)).To(BeTrue())
			Expect(fe.Servo).To(Equal("motor"))
			Expect(fe.Tick).To(Equal(int64(1)))
			Expect(fe.Phase).To(Equal(servo.Compute))
			Expect(errors.Is(err, servo.ErrSafetyShutdown)).To(BeTrue())
			Expect(l.Disabled()).To(BeTrue())
		})
	})

	Context("externally clocked", func() {
		var pulse *shm.PulseSem

		BeforeEach(func() {
			var err error
			pulse, err = reg.Pulse("task_servo")
			Expect(err).NotTo(HaveOccurred())
		})

		It("ticks once per pulse and exits on disable", func() {
			l := servo.New(servo.Config{Name: "task", Rate: 200},
				servo.NewPulseClock(pulse), pay, servo.WithLogger(quiet))
			done := make(chan error, 1)
			go func() { done <- l.Run(ctx) }()

			for i := 1; i <= 3; i++ {
				pulse.Give()
				Eventually(l.Ticks).Should(Equal(int64(i)))
			}
			Expect(l.Phase()).To(Equal(servo.WaitClock))

			l.Disable()
			pulse.Give()
			Eventually(done).Should(Receive(BeNil()))
			Expect(l.Ticks()).To(Equal(int64(3)))
			Expect(l.Time()).To(BeNumerically("~", 0.015, 1e-12))
		})

		It("exits cleanly when the namespace is closed", func() {
			l := servo.New(servo.Config{Name: "task", Rate: 200},
				servo.NewPulseClock(pulse), pay, servo.WithLogger(quiet))
			done := make(chan error, 1)
			go func() { done <- l.Run(ctx) }()

			Eventually(pulse.Waiting).Should(Equal(1))
			reg.Close()
			Eventually(done).Should(Receive(BeNil()))
			Expect(l.Ticks()).To(BeZero())
		})

		It("counts an expired bounded clock wait as a miss and keeps waiting", func() {
			l := servo.New(servo.Config{Name: "sim", Rate: 1000},
				servo.NewPulseClock(pulse).WithTimeout(5*time.Millisecond), pay, servo.WithLogger(quiet))
			done := make(chan error, 1)
			go func() { done <- l.Run(ctx) }()

			Eventually(l.Errors).Should(BeNumerically(">=", 2))
			Expect(l.Ticks()).To(BeZero())
			Expect(l.Running()).To(BeTrue())

			pulse.Give()
			Eventually(l.Ticks).Should(Equal(int64(1)))
			l.Disable()
			Eventually(done).Should(Receive(BeNil()))
		})

		It("reports starvation when a clock wait configured to block fails", func() {
			starved := clockFunc(func(context.Context) (int64, error) {
				return 0, fmt.Errorf("%w: pulse task_servo: %w", servo.ErrStarvation, shm.ErrTimeout)
			})
			l := servo.New(servo.Config{Name: "task", Rate: 200}, starved, pay, servo.WithLogger(quiet))
			err := l.Run(ctx)

			Expect(err).To(MatchError(servo.ErrStarvation))
			Expect(servo.IsFatal(err)).To(BeTrue())
			Expect(l.Ticks()).To(BeZero())
		})
	})

	It("drains the mailbox before reading upstream", func() {
		mb, err := mailbox.Open(reg, "sim", mailbox.DefaultConfig(), quiet)
		Expect(err).NotTo(HaveOccurred())
		Expect(mb.Post("setG", nil)).To(Succeed())
		Expect(mb.Post("freezeBase", nil)).To(Succeed())

		handler := func(name string, _ []byte) {
			pay.mu.Lock()
			pay.events = append(pay.events, "msg:"+name)
			pay.mu.Unlock()
		}
		l := servo.New(servo.Config{Name: "sim", Rate: 100, MaxTicks: 1},
			servo.NewSelfClock(backend, 100), pay,
			servo.WithMailbox(mb, handler), servo.WithLogger(quiet))
		Expect(l.Run(ctx)).To(Succeed())
		Expect(pay.Events()).To(Equal([]string{"msg:setG", "msg:freezeBase", "read", "compute", "publish"}))

		st := l.Status()
		Expect(st.Mailbox).NotTo(BeNil())
		Expect(st.Mailbox.Drained).To(Equal(uint64(2)))
	})

	It("serializes Exec with the tick body and reports payload values", func() {
		lock := backend.NewMutex()
		l := servo.New(servo.Config{Name: "sim", Rate: 100, MaxTicks: 3},
			servo.NewSelfClock(backend, 100), pay,
			servo.WithLock(lock), servo.WithLogger(quiet))

		lock.Lock()
		done := make(chan error, 1)
		go func() { done <- l.Run(ctx) }()
		Consistently(done, 50*time.Millisecond).ShouldNot(Receive())
		Expect(pay.Events()).To(BeEmpty())
		lock.Unlock()
		Eventually(done).Should(Receive(BeNil()))

		st := l.Status()
		Expect(st.Name).To(Equal("sim"))
		Expect(st.Ticks).To(Equal(int64(3)))
		Expect(st.Values).To(HaveKeyWithValue("computed", 3.0))
		Expect(st.Running).To(BeFalse())
	})
})
