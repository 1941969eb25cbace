package servo_test

import (
	"math"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/slservo/internal/servo"
	"github.com/san-kum/slservo/internal/state"
)

var _ = Describe("Watchdog", func() {
	const rate = 1000.0

	var (
		wd  *servo.Watchdog
		def []state.DesiredJoint
	)

	BeforeEach(func() {
		wd = servo.NewWatchdog(rate)
		def = []state.DesiredJoint{{Th: 0.2}, {Th: -0.4}}
	})

	It("dead-reckons below the threshold", func() {
		th0, thd0, thdd := 0.3, 1.5, 0.5
		des := []state.DesiredJoint{{Th: th0, Thd: thd0, Thdd: thdd, Uff: 2}}
		const n = 20
		for i := 0; i < n; i++ {
			Expect(wd.Missed(des, def)).To(Succeed())
		}
		want := th0 + n*thd0/rate + thdd*float64(n*(n-1))/(2*rate*rate)
		Expect(des[0].Th).To(BeNumerically("~", want, 1e-12))
		Expect(des[0].Thd).To(BeNumerically("~", thd0+n*thdd/rate, 1e-12))
		Expect(des[0].Uff).To(Equal(2.0))
		Expect(wd.Degraded()).To(BeFalse())
	})

	It("blends monotonically toward the default posture above the threshold", func() {
		des := []state.DesiredJoint{{Th: 1.2, Uff: 3}, {Th: -0.4}}
		for i := 0; i < wd.Threshold; i++ {
			Expect(wd.Missed(des, def)).To(Succeed())
		}
		prev := math.Abs(des[0].Th - def[0].Th)
		for i := 0; i < 200; i++ {
			Expect(wd.Missed(des, def)).To(Succeed())
			d := math.Abs(des[0].Th - def[0].Th)
			Expect(d).To(BeNumerically("<", prev))
			prev = d
		}
		Expect(wd.Degraded()).To(BeTrue())
		Expect(des[0].Thd).To(BeZero())
		Expect(des[0].Uff).To(BeZero())
		Expect(des[1].Th).To(Equal(-0.4))
	})

	It("resets on receive", func() {
		des := make([]state.DesiredJoint, 2)
		for i := 0; i < 40; i++ {
			Expect(wd.Missed(des, def)).To(Succeed())
		}
		wd.Received()
		Expect(wd.Count()).To(BeZero())
		Expect(wd.Total()).To(Equal(uint64(40)))
	})

	It("shuts down once misses exceed the safety budget", func() {
		wd.ShutdownAfter = 10500 * time.Microsecond
		des := make([]state.DesiredJoint, 2)
		for i := 0; i < 10; i++ {
			Expect(wd.Missed(des, def)).To(Succeed())
		}
		Expect(wd.Missed(des, def)).To(MatchError(servo.ErrSafetyShutdown))
	})
})
