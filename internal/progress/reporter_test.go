package progress

import (
	"testing"

	. "github.com/onsi/gomega"
)

func TestShouldEmitMonotonicSequence(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)
	r := New(DefaultStep)

	var emitted []int
	for pct := 0; pct <= 100; pct++ {
		if r.ShouldEmit("job", Download, pct) {
			emitted = append(emitted, pct)
		}
	}
	g.Expect(emitted).To(Equal([]int{0, 20, 40, 60, 80, 100}))
}

func TestShouldEmitHighFrequencyTicks(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)
	r := New(DefaultStep)

	count := 0
	for loaded := int64(0); loaded <= 1_000_000; loaded += 997 {
		if r.ShouldEmit("job", Upload, Percent(loaded, 1_000_000)) {
			count++
		}
	}
	if r.ShouldEmit("job", Upload, Percent(1_000_000, 1_000_000)) {
		count++
	}
	g.Expect(count).To(BeNumerically("<=", 6))
}

func TestShouldEmitRejectsRepeatsAndOutOfOrder(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)
	r := New(DefaultStep)

	g.Expect(r.ShouldEmit("job", Download, 45)).To(BeTrue())
	g.Expect(r.ShouldEmit("job", Download, 41)).To(BeFalse())
	g.Expect(r.ShouldEmit("job", Download, 59)).To(BeFalse())
	g.Expect(r.ShouldEmit("job", Download, 10)).To(BeFalse())
	g.Expect(r.ShouldEmit("job", Download, 60)).To(BeTrue())
	g.Expect(r.ShouldEmit("job", Download, 60)).To(BeFalse())
}

func TestShouldEmitTracksJobsAndDirectionsSeparately(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)
	r := New(DefaultStep)

	g.Expect(r.ShouldEmit("a", Download, 20)).To(BeTrue())
	g.Expect(r.ShouldEmit("a", Upload, 20)).To(BeTrue())
	g.Expect(r.ShouldEmit("b", Download, 20)).To(BeTrue())
	g.Expect(r.ShouldEmit("a", Download, 20)).To(BeFalse())

	r.Forget("a")
	g.Expect(r.ShouldEmit("a", Download, 20)).To(BeTrue())
}

func TestShouldEmitClampsRange(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)
	r := New(DefaultStep)

	g.Expect(r.ShouldEmit("job", Download, 250)).To(BeTrue())
	g.Expect(r.ShouldEmit("job", Download, 100)).To(BeFalse())

	g.Expect(r.ShouldEmit("neg", Download, -5)).To(BeTrue())
	g.Expect(r.ShouldEmit("neg", Download, 0)).To(BeFalse())
}

func TestPercent(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	g.Expect(Percent(0, 100)).To(Equal(0))
	g.Expect(Percent(19, 100)).To(Equal(19))
	g.Expect(Percent(199, 1000)).To(Equal(19))
	g.Expect(Percent(100, 100)).To(Equal(100))
	g.Expect(Percent(150, 100)).To(Equal(100))
	g.Expect(Percent(10, 0)).To(Equal(0))
}
