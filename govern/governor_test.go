package govern_test

import (
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/aistream/xfer/govern"
)

var _ = Describe("Governor", func() {
	It("reports unlimited throughput with zero delay when unlimited", func() {
		g := govern.New(0)
		delay, rolled := g.Tick(4096, 10)
		Expect(delay).To(BeZero())
		Expect(rolled).To(BeFalse())
		Expect(g.SavedTotal()).To(BeEquivalentTo(4096))
	})

	It("delays once the window's byte budget is exhausted", func() {
		g := govern.New(0)
		g.RateLimit.Store(1000)

		delay, _ := g.Tick(600, 100)
		Expect(delay).To(BeZero())

		delay, _ = g.Tick(500, 200)
		Expect(delay).To(Equal(800 * time.Millisecond))
	})

	It("rolls the window over after 1000ms and resets the window sum", func() {
		g := govern.New(0)
		g.RateLimit.Store(1000)
		g.Tick(900, 50)

		delay, rolled := g.Tick(100, 1050)
		Expect(rolled).To(BeTrue())
		Expect(delay).To(BeZero())
		Expect(g.CurrentRate()).To(BeEquivalentTo(900))
	})

	It("keeps the partial-window sum as the rate during the first second", func() {
		g := govern.New(0)
		g.Tick(300, 100)
		Expect(g.CurrentRate()).To(BeEquivalentTo(300))
		g.Tick(200, 500)
		Expect(g.CurrentRate()).To(BeEquivalentTo(500))
	})

	It("counts the rolling call's bytes in the total while the new window starts empty", func() {
		g := govern.New(0)
		g.Tick(900, 50)

		_, rolled := g.Tick(200, 1050)
		Expect(rolled).To(BeTrue())

		// The 200 bytes that triggered rollover still count toward the
		// cumulative total; a second tick lands in the new window.
		_, rolled = g.Tick(50, 1100)
		Expect(rolled).To(BeFalse())
		Expect(g.CurrentRate()).To(BeEquivalentTo(900)) // rate from the window just closed
		Expect(g.SavedTotal()).To(BeEquivalentTo(900 + 200 + 50))
	})

	It("computes total rate from base timestamp, never the window", func() {
		g := govern.New(0)
		g.Tick(1000, 0)
		g.Tick(1000, 1500) // rolls window at t=1500
		rate := g.TotalRate(2000)
		Expect(rate).To(BeEquivalentTo(1000)) // 2000 bytes over 2000ms
	})

	It("never divides by zero elapsed time", func() {
		g := govern.New(1000)
		g.Tick(50, 1000)
		Expect(g.TotalRate(1000)).To(BeEquivalentTo(50000)) // 50 bytes over the 1ms floor
	})

	It("sustains a rate-limited transfer within the ~20% tolerance over 3s", func() {
		g := govern.New(0)
		const rate = uint64(128 * 1024)
		g.RateLimit.Store(rate)

		t := int64(0)
		var delivered uint64
		for t < 3000 {
			delay, _ := g.Tick(8*1024, t)
			delivered += 8 * 1024
			t += int64(delay/time.Millisecond) + 10
		}
		Expect(delivered).To(BeNumerically("<=", uint64(float64(3*rate)*1.2)))
	})
})
