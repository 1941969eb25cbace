package servo_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/slservo/internal/servo"
	"github.com/san-kum/slservo/internal/shm"
)

var _ = Describe("FanOut", func() {
	DescribeTable("Fires",
		func(ratio int, want []int64) {
			var got []int64
			for t := int64(1); t <= 10; t++ {
				if servo.Fires(t, ratio) {
					got = append(got, t)
				}
			}
			Expect(got).To(Equal(want))
		},
		Entry("every tick", 1, []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}),
		Entry("1:2", 2, []int64{1, 3, 5, 7, 9}),
		Entry("1:3", 3, []int64{1, 4, 7, 10}),
		Entry("1:4", 4, []int64{1, 5, 9}),
		Entry("1:5", 5, []int64{1, 6}),
	)

	DescribeTable("LineDivisor",
		func(rate float64, want int) {
			Expect(servo.LineDivisor(rate)).To(Equal(want))
		},
		Entry("1 kHz", 1000.0, 17),
		Entry("500 Hz", 500.0, 8),
		Entry("60 Hz", 60.0, 1),
		Entry("below line", 20.0, 1),
	)

	var (
		reg  *shm.Registry
		fan  *servo.FanOut
		give *shm.PulseSem
		bc   *shm.PulseSem
		line *shm.PulseSem
	)

	BeforeEach(func() {
		reg = shm.NewRegistry(0, quiet)
		DeferCleanup(reg.Close)
		var err error
		give, err = reg.Pulse("task_servo")
		Expect(err).NotTo(HaveOccurred())
		bc, err = reg.Pulse("vision_servo")
		Expect(err).NotTo(HaveOccurred())
		line, err = reg.Pulse("display_servo")
		Expect(err).NotTo(HaveOccurred())

		fan = servo.NewFanOut(1000)
		Expect(fan.Add(servo.Subscriber{Name: "task", Ratio: 5, Mode: servo.Give, Pulse: give})).To(Succeed())
		Expect(fan.Add(servo.Subscriber{Name: "vision", Ratio: 2, Mode: servo.Flush, Pulse: bc})).To(Succeed())
		Expect(fan.Add(servo.Subscriber{Name: "display", Ratio: servo.Line, Mode: servo.Flush, Pulse: line})).To(Succeed())
	})

	It("rejects bad subscribers", func() {
		Expect(fan.Add(servo.Subscriber{Name: "x", Ratio: 1})).NotTo(Succeed())
		Expect(fan.Add(servo.Subscriber{Name: "x", Ratio: -1, Pulse: give})).NotTo(Succeed())
	})

	It("fires each subscriber at its ratio", func() {
		for t := int64(1); t <= 100; t++ {
			fan.Trigger(t)
		}
		Expect(fan.Fired()).To(Equal(map[string]uint64{"task": 20, "vision": 50, "display": 6}))
	})

	It("latches a give but not a flush when nobody waits", func() {
		fan.Trigger(1)
		Expect(give.Pending()).To(BeTrue())
		Expect(bc.Pending()).To(BeFalse())
		Expect(line.Pending()).To(BeFalse())
	})

	It("waits out the transient before the first trigger", func() {
		fan.SetTransient(3)
		for t := int64(1); t <= 6; t++ {
			fan.Trigger(t)
		}
		Expect(fan.Fired()["task"]).To(Equal(uint64(1)))
		Expect(fan.Due("task", 2)).To(BeFalse())
		Expect(fan.Due("task", 6)).To(BeTrue())
		Expect(fan.Due("vision", 5)).To(BeTrue())
		Expect(fan.Due("nobody", 1)).To(BeFalse())
	})
})
