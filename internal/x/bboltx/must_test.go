package bboltx_test

import (
	"errors"
	"testing"

	"github.com/onsi/gomega"

	"github.com/Tigraine/EventStore/internal/x/bboltx"
	"github.com/Tigraine/EventStore/internal/x/gomegax"
)

func TestMustPanicsWithSentinelOnError(t *testing.T) {
	g := gomega.NewWithT(t)

	cause := errors.New("boom")

	g.Expect(func() {
		bboltx.Must(cause)
	}).To(gomegax.PanicWith(bboltx.PanicSentinel{Cause: cause}))
}

func TestMustDoesNotPanicOnNil(t *testing.T) {
	bboltx.Must(nil) // must not panic
}

func TestRecoverCapturesSentinel(t *testing.T) {
	g := gomega.NewWithT(t)

	cause := errors.New("boom")

	err := func() (err error) {
		defer bboltx.Recover(&err)
		bboltx.Must(cause)
		return nil
	}()

	g.Expect(err).To(gomega.MatchError(cause))
}

func TestRecoverRepanicsOnUnrelatedValue(t *testing.T) {
	g := gomega.NewWithT(t)

	g.Expect(func() {
		var err error
		defer bboltx.Recover(&err)
		panic("not a sentinel")
	}).To(gomegax.PanicWith("not a sentinel"))
}
