package boltpersistence_test

import (
	"context"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/Tigraine/EventStore/internal/testing/boltdbtest"
	"github.com/Tigraine/EventStore/persistence/boltpersistence"
	"github.com/Tigraine/EventStore/persistence/internal/providertest"
	"github.com/Tigraine/EventStore/persistence/serializer/jsonserializer"
)

func TestBoltPersistence(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "boltpersistence Suite")
}

var _ = Describe("type Engine", func() {
	var (
		e       *boltpersistence.Engine
		closeDB func()
	)

	providertest.Declare(
		func(ctx context.Context) providertest.Out {
			bdb, close := boltdbtest.Open()
			closeDB = close

			e = boltpersistence.New(bdb, jsonserializer.New())

			Expect(e.Initialize(ctx)).To(Succeed())

			return providertest.Out{Engine: e}
		},
		func() {
			if e != nil {
				e.Close()
			}
			if closeDB != nil {
				closeDB()
			}
		},
	)
})
