package id_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/statetrail/common/id"
)

var _ = Describe("New", func() {
	It("generates increasing unique ids", func() {
		seen := make(map[int64]struct{})
		prev := int64(0)
		for i := 0; i < 1000; i++ {
			v := id.New()
			Expect(v).To(BeNumerically(">", prev))
			_, dup := seen[v]
			Expect(dup).To(BeFalse())
			seen[v] = struct{}{}
			prev = v
		}
	})
})
