package apperr

import (
	"errors"
	"fmt"
	"testing"

	. "github.com/onsi/gomega"
)

func TestErrorText(t *testing.T) {
	g := NewWithT(t)
	cause := errors.New("connection reset")

	g.Expect(Transfer("download", cause).Error()).To(Equal("download failed: connection reset"))
	g.Expect(Transform("Invalid data found", cause).Error()).To(Equal("transform failed: Invalid data found"))
	g.Expect(Validation("File too large. Limit is 500MB.").Error()).To(Equal("File too large. Limit is 500MB."))
	g.Expect(Internal(cause).Error()).To(Equal("internal failed: connection reset"))
	g.Expect((&Error{Kind: KindNotify}).Error()).To(Equal("notify error"))
}

func TestKindOfFollowsWrapping(t *testing.T) {
	g := NewWithT(t)
	cause := errors.New("eof")
	wrapped := fmt.Errorf("job 7: %w", Transfer("upload", cause))

	g.Expect(KindOf(wrapped)).To(Equal(KindTransfer))
	g.Expect(errors.Is(wrapped, cause)).To(BeTrue())
	g.Expect(KindOf(errors.New("plain"))).To(Equal(KindInternal))
	g.Expect(KindOf(nil)).To(Equal(Kind("")))
}

func TestTerminalKinds(t *testing.T) {
	g := NewWithT(t)
	g.Expect(Terminal(KindValidation)).To(BeTrue())
	g.Expect(Terminal(KindTransfer)).To(BeTrue())
	g.Expect(Terminal(KindTransform)).To(BeTrue())
	g.Expect(Terminal(KindInternal)).To(BeTrue())
	g.Expect(Terminal(KindNotify)).To(BeFalse())
	g.Expect(Terminal(KindConfig)).To(BeFalse())
}
