package memorypersistence_test

import (
	"context"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/Tigraine/EventStore/persistence/internal/providertest"
	"github.com/Tigraine/EventStore/persistence/memorypersistence"
)

func TestMemoryPersistence(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "memorypersistence Suite")
}

var _ = Describe("type Engine", func() {
	var e *memorypersistence.Engine

	providertest.Declare(
		func(ctx context.Context) providertest.Out {
			e = memorypersistence.New()

			Expect(e.Initialize(ctx)).To(Succeed())

			return providertest.Out{Engine: e}
		},
		func() {
			if e != nil {
				e.Close()
			}
		},
	)
})
