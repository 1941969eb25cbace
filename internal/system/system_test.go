package system_test

import (
	"bytes"
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/slservo/internal/config"
	"github.com/san-kum/slservo/internal/mailbox"
	"github.com/san-kum/slservo/internal/objects"
	"github.com/san-kum/slservo/internal/rt"
	"github.com/san-kum/slservo/internal/servo"
	"github.com/san-kum/slservo/internal/servos"
	"github.com/san-kum/slservo/internal/storage"
	"github.com/san-kum/slservo/internal/system"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Backend = "virtual"
	cfg.Ratios.Task = 5
	cfg.Ratios.Vision = 2
	cfg.Record.Every = 10
	return cfg
}

func newSystem(cfg *config.Config, opts ...system.Option) *system.System {
	opts = append([]system.Option{
		system.WithLogger(quiet),
		system.WithBackend(rt.NewVirtual(time.Unix(0, 0))),
	}, opts...)
	sys, err := system.New(cfg, opts...)
	Expect(err).NotTo(HaveOccurred())
	DeferCleanup(sys.Shutdown)
	return sys
}

func run(sys *system.System) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return sys.Run(ctx)
}

func loop(sys *system.System, name string) *servo.Loop {
	l, ok := sys.Loop(name)
	Expect(ok).To(BeTrue(), "no servo %s", name)
	return l
}

var _ = Describe("System", func() {
	Describe("lock-step run", func() {
		var sys *system.System

		BeforeEach(func() {
			sys = newSystem(testConfig(), system.WithMaxTicks(100))
			Expect(run(sys)).To(Succeed())
		})

		It("runs the task servo once per task ratio", func() {
			Expect(loop(sys, servos.Motor).Ticks()).To(Equal(int64(100)))
			Expect(loop(sys, servos.Task).Ticks()).To(Equal(int64(20)))
		})

		It("counts no errors", func() {
			Expect(loop(sys, servos.Motor).Errors()).To(BeZero())
			Expect(loop(sys, servos.Task).Errors()).To(BeZero())
			Expect(loop(sys, servos.Simulation).Errors()).To(BeZero())
		})

		It("keeps the simulation at most one tick behind the motor", func() {
			Expect(loop(sys, servos.Simulation).Ticks()).To(BeNumerically(">=", 99))
			Expect(loop(sys, servos.Simulation).Ticks()).To(BeNumerically("<=", 100))
		})

		It("fires subordinate servos no more often than their ratios", func() {
			fired := sys.FanOut().Fired()
			Expect(fired[servos.Task]).To(Equal(uint64(20)))
			Expect(fired[servos.Vision]).To(Equal(uint64(50)))
			Expect(fired[servos.Display]).To(Equal(uint64(6)))
			Expect(loop(sys, servos.Vision).Ticks()).To(BeNumerically("<=", 50))
			Expect(loop(sys, servos.Display).Ticks()).To(BeNumerically("<=", 6))
		})

		It("rests the base on the floor", func() {
			z := sys.Simulator().Robot().Base.X[2]
			Expect(z).To(BeNumerically(">", 0))
			Expect(z).To(BeNumerically("<", 0.2))
		})

		It("records every tenth simulation tick", func() {
			rec := sys.Recorder().Recording()
			Expect(rec.Rows).To(HaveLen(10))
			Expect(rec.Columns).To(HaveLen(5 + 2*len(testConfig().Joints)))
			Expect(rec.Times[1] - rec.Times[0]).To(BeNumerically("~", 0.01, 1e-9))
			Expect(sys.Recorder().Metrics()).To(HaveKey("energy"))
		})

		It("stores the run", func() {
			st := storage.New(GinkgoT().TempDir())
			Expect(st.Init()).To(Succeed())
			id, err := sys.Save(st, "test")
			Expect(err).NotTo(HaveOccurred())
			meta, err := st.Load(id)
			Expect(err).NotTo(HaveOccurred())
			Expect(meta.Ticks[servos.Motor]).To(Equal(int64(100)))
			Expect(meta.Duration).To(BeNumerically("~", 0.1, 1e-9))
			Expect(meta.Integrator).To(Equal("rk4"))
		})
	})

	It("keeps motor and task in lock step with a task ratio of one", func() {
		cfg := testConfig()
		cfg.Ratios.Task = 1
		sys := newSystem(cfg, system.WithMaxTicks(20))

		Expect(run(sys)).To(Succeed())
		Expect(loop(sys, servos.Motor).Ticks()).To(Equal(int64(20)))
		Expect(loop(sys, servos.Task).Ticks()).To(Equal(int64(20)))
		Expect(loop(sys, servos.Motor).Errors()).To(BeZero())
	})

	DescribeTable("runs every task cycle the motor fired before stopping",
		func(ratio int, ticks int64) {
			cfg := testConfig()
			cfg.Ratios.Task = ratio
			sys := newSystem(cfg, system.WithMaxTicks(ticks))

			Expect(run(sys)).To(Succeed())
			fired := sys.FanOut().Fired()[servos.Task]
			Expect(loop(sys, servos.Task).Ticks()).To(Equal(int64(fired)))
		},
		Entry("fired on the last tick", 5, int64(96)),
		Entry("fired four ticks before the end", 5, int64(100)),
		Entry("every tick", 1, int64(7)),
		Entry("every other tick", 2, int64(31)),
	)

	It("stops when the motor servo is disabled through its mailbox", func() {
		sys := newSystem(testConfig(), system.WithMaxTicks(0))
		mb, ok := sys.Mailbox(servos.Motor)
		Expect(ok).To(BeTrue())
		Expect(mb.Send(mailbox.CmdDisable, struct{}{})).To(Succeed())

		Expect(run(sys)).To(Succeed())
		Expect(loop(sys, servos.Motor).Ticks()).To(Equal(int64(1)))
	})

	It("stops on cancellation", func() {
		sys := newSystem(testConfig(), system.WithMaxTicks(0))
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- sys.Run(ctx) }()

		Eventually(func() int64 { return loop(sys, servos.Motor).Ticks() }).Should(BeNumerically(">", 10))
		cancel()
		Eventually(done, 5*time.Second).Should(Receive(BeNil()))
	})

	It("shuts down for safety when desired states stop arriving", func() {
		cfg := testConfig()
		cfg.RealTimeClock = true
		cfg.Watchdog.Threshold = 1
		cfg.Watchdog.ShutdownAfter = 5500 * time.Microsecond
		sys := newSystem(cfg, system.WithMaxTicks(1000))
		loop(sys, servos.Task).Disable()

		err := run(sys)
		Expect(errors.Is(err, servo.ErrSafetyShutdown)).To(BeTrue(), "err = %v", err)
		var fe *servo.FatalError
		Expect(errors.As(err, &fe)).To(BeTrue())
		Expect(fe.Servo).To(Equal(servos.Motor))
		Expect(loop(sys, servos.Motor).Ticks()).To(BeNumerically("<", 10))
	})

	Describe("console", func() {
		var (
			sys     *system.System
			console *system.Console
			out     *bytes.Buffer
		)

		BeforeEach(func() {
			sys = newSystem(testConfig(), system.WithMaxTicks(100))
			out = &bytes.Buffer{}
			console = system.NewConsole(sys, out)
		})

		It("posts simulation commands that take effect on the next tick", func() {
			Expect(console.Exec("gravity 0")).To(Succeed())
			Expect(console.Exec("intmethod euler")).To(Succeed())
			Expect(console.Exec("object add box cube 1 0 0.25 --contact static --scale 0.5,0.5,0.5")).To(Succeed())
			Expect(run(sys)).To(Succeed())

			Expect(sys.Simulator().Gravity()).To(BeZero())
			Expect(sys.Simulator().Method().String()).To(Equal("euler"))
			Expect(sys.Simulator().Engine().Scene().Names()).To(ContainElement("box"))
		})

		It("moves joints with goto", func() {
			Expect(console.Exec("goto 1 0.5 --speed 10")).To(Succeed())
			Expect(run(sys)).To(Succeed())
			Expect(sys.Task().Desired()[0].Th).To(BeNumerically("~", 0.5, 1e-9))
			Expect(sys.Task().Moving()).To(BeFalse())
		})

		It("disables servos without a mailbox directly", func() {
			Expect(console.Exec("disable vision")).To(Succeed())
			Expect(run(sys)).To(Succeed())
			Expect(loop(sys, servos.Vision).Ticks()).To(BeZero())
		})

		It("prints a status table", func() {
			Expect(run(sys)).To(Succeed())
			Expect(console.Exec("status -v motor")).To(Succeed())
			Expect(out.String()).To(ContainSubstring("motor"))
			Expect(out.String()).To(ContainSubstring("received"))
			Expect(out.String()).NotTo(ContainSubstring("display"))
		})

		It("lists and inspects the scene", func() {
			Expect(console.Exec("object list")).To(Succeed())
			Expect(out.String()).To(ContainSubstring("floor"))
			Expect(console.Exec("object forces floor")).To(Succeed())
			Expect(console.Exec("object forces nothing")).To(HaveOccurred())
		})

		It("rejects malformed commands", func() {
			Expect(console.Exec("goto 1")).To(HaveOccurred())
			Expect(console.Exec("gravity heavy")).To(HaveOccurred())
			Expect(console.Exec("realtime maybe")).To(HaveOccurred())
			Expect(console.Exec("gains --th 1 --to nobody")).To(HaveOccurred())
			Expect(console.Exec("warp 9")).To(HaveOccurred())
			Expect(console.Exec("   # comment only")).To(Succeed())
		})

		It("quits", func() {
			Expect(console.Exec("quit")).To(MatchError(system.ErrQuit))
			Expect(run(sys)).To(Succeed())
			Expect(loop(sys, servos.Motor).Ticks()).To(BeZero())
		})

		It("serves commands line by line", func() {
			in := bytes.NewBufferString("gravity 1\nbogus\n\nfreeze on\n")
			Expect(console.Serve(context.Background(), in)).To(Succeed())
			Expect(out.String()).To(ContainSubstring("error:"))
			mb, _ := sys.Mailbox(servos.Simulation)
			Expect(mb.Pending()).To(Equal(2))
		})
	})

	Describe("scene", func() {
		It("converts inline objects", func() {
			o, err := system.ObjectFromConfig(config.Floor(), nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(o.Type).To(Equal(objects.Cube))
			Expect(o.ContactModel).To(Equal(objects.DampedSpringStaticFriction))
			Expect(o.Trans[2]).To(Equal(-0.5))

			_, err = system.ObjectFromConfig(config.ObjectConfig{Name: "x", Type: "blob"}, nil)
			Expect(err).To(HaveOccurred())
			_, err = system.ObjectFromConfig(config.ObjectConfig{Name: "hill", Type: "terrain"}, nil)
			Expect(err).To(HaveOccurred())
		})

		It("appends the objects file and loads terrains next to it", func() {
			dir := GinkgoT().TempDir()
			Expect(os.WriteFile(filepath.Join(dir, "scene.txt"), []byte(
				"ramp 1 1 0 0  2 0 0  0 0 0  1 1 0.1  1\n\n10000 100 10000 100 1 0.8\n"+
					"hill 4 0 1 0  0 0 0  0 0 0  1 1 1  1\n\n10000 100 10000 100 1 0.8\n"), 0644)).To(Succeed())
			Expect(os.WriteFile(filepath.Join(dir, "hill.asc"), []byte(
				"ncols 2\nnrows 2\nxllcorner 0\nyllcorner 0\ncellsize 1\nNODATA_value -9999\n0 0\n0 0\n"), 0644)).To(Succeed())

			cfg := testConfig()
			cfg.Sim.ObjectsFile = "scene.txt"
			objs, err := system.SceneObjects(cfg, dir)
			Expect(err).NotTo(HaveOccurred())
			Expect(objs).To(HaveLen(3))
			Expect(objs[0].Name).To(Equal("floor"))
			Expect(objs[1].Name).To(Equal("ramp"))
			Expect(objs[2].Terrain).NotTo(BeNil())
		})

		It("fails on a missing objects file", func() {
			cfg := testConfig()
			cfg.Sim.ObjectsFile = "missing.txt"
			_, err := system.New(cfg, system.WithLogger(quiet), system.WithDir(GinkgoT().TempDir()))
			Expect(err).To(HaveOccurred())
		})
	})

	It("rejects invalid configurations", func() {
		cfg := testConfig()
		cfg.Ratios.Task = 9
		_, err := system.New(cfg, system.WithLogger(quiet))
		Expect(err).To(HaveOccurred())
	})

	It("derives the base height metric from the recording", func() {
		sys := newSystem(testConfig(), system.WithMaxTicks(50))
		Expect(run(sys)).To(Succeed())
		z, err := sys.Recorder().Recording().Column("base_z")
		Expect(err).NotTo(HaveOccurred())
		for _, v := range z {
			Expect(math.IsNaN(v)).To(BeFalse())
		}
	})
})
