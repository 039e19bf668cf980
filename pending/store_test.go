package pending

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/mpirelay/hooking"
	"github.com/sarchlab/mpirelay/wire"
)

func msg(src, userTag, job int32, marker byte) *wire.Message {
	return &wire.Message{
		Tag:      1300,
		Kind:     wire.KindSend,
		JobID:    job,
		Count:    1,
		Src:      src,
		UserTag:  userTag,
		Datatype: wire.Char,
		Payload:  []byte{marker},
	}
}

func filter(src, userTag, job int32) Filter {
	return Filter{
		Count:    1,
		Datatype: wire.Char,
		Src:      src,
		UserTag:  userTag,
		JobID:    job,
		Tag:      1300,
	}
}

var _ = Describe("Filter", func() {
	m := msg(2, 7, 5, 'a')

	DescribeTable("matching",
		func(f Filter, want bool) {
			Expect(f.Matches(m)).To(Equal(want))
		},
		Entry("exact", filter(2, 7, 5), true),
		Entry("any source", filter(AnySource, 7, 5), true),
		Entry("any tag", filter(2, AnyTag, 5), true),
		Entry("any job", filter(2, 7, AnyJob), true),
		Entry("all wildcards", filter(AnySource, AnyTag, AnyJob), true),
		Entry("other source", filter(3, 7, 5), false),
		Entry("other tag", filter(2, 8, 5), false),
		Entry("other job", filter(2, 7, 6), false),
		Entry("other count", Filter{Count: 2, Datatype: wire.Char, Src: 2, UserTag: 7, JobID: 5, Tag: 1300}, false),
		Entry("other datatype", Filter{Count: 1, Datatype: wire.Byte, Src: 2, UserTag: 7, JobID: 5, Tag: 1300}, false),
		Entry("other ipc tag", Filter{Count: 1, Datatype: wire.Char, Src: 2, UserTag: 7, JobID: 5, Tag: 1400}, false),
	)
})

var _ = Describe("Store", func() {
	var s *Store

	BeforeEach(func() {
		s = NewStore("Store", 3)
	})

	It("should return the oldest match", func() {
		Expect(s.Put(msg(1, 7, 5, 'a'))).To(Succeed())
		Expect(s.Put(msg(2, 7, 5, 'b'))).To(Succeed())
		Expect(s.Put(msg(1, 7, 5, 'c'))).To(Succeed())

		got, ok := s.Take(filter(1, 7, 5))
		Expect(ok).To(BeTrue())
		Expect(got.Payload).To(Equal([]byte{'a'}))

		got, ok = s.Take(filter(1, 7, 5))
		Expect(ok).To(BeTrue())
		Expect(got.Payload).To(Equal([]byte{'c'}))

		_, ok = s.Take(filter(1, 7, 5))
		Expect(ok).To(BeFalse())
		Expect(s.Len()).To(Equal(1))
	})

	It("should pick the oldest among wildcard matches", func() {
		Expect(s.Put(msg(2, 7, 5, 'a'))).To(Succeed())
		Expect(s.Put(msg(1, 7, 5, 'b'))).To(Succeed())

		got, _ := s.Take(filter(AnySource, 7, 5))
		Expect(got.Payload).To(Equal([]byte{'a'}))
	})

	It("should keep arrival counters dense", func() {
		Expect(s.Put(msg(1, 1, 5, 'a'))).To(Succeed())
		Expect(s.Put(msg(2, 1, 5, 'b'))).To(Succeed())
		Expect(s.Put(msg(3, 1, 5, 'c'))).To(Succeed())

		_, ok := s.Take(filter(2, 1, 5))
		Expect(ok).To(BeTrue())

		Expect(s.Put(msg(4, 1, 5, 'd'))).To(Succeed())

		var payloads []byte
		for _, m := range s.Snapshot() {
			payloads = append(payloads, m.Payload[0])
		}
		Expect(payloads).To(Equal([]byte("acd")))
	})

	It("should refuse messages when full", func() {
		for i := 0; i < 3; i++ {
			Expect(s.Put(msg(1, 1, 5, byte(i)))).To(Succeed())
		}

		Expect(s.Put(msg(1, 1, 5, 'x'))).To(MatchError(ErrStoreFull))
		Expect(s.Len()).To(Equal(3))
	})

	It("should fire hooks", func() {
		var positions []*hooking.HookPos
		s.AcceptHook(hooking.HookFunc(func(ctx hooking.HookCtx) {
			positions = append(positions, ctx.Pos)
		}))

		small := NewStore("Small", 1)
		small.AcceptHook(s.Hooks()[0])

		Expect(small.Put(msg(1, 1, 5, 'a'))).To(Succeed())
		Expect(small.Put(msg(1, 1, 5, 'b'))).To(HaveOccurred())
		small.Take(filter(1, 1, 5))

		Expect(positions).To(Equal([]*hooking.HookPos{
			HookPosPut, HookPosDrop, HookPosTake,
		}))
	})

	It("should clear", func() {
		Expect(s.Put(msg(1, 1, 5, 'a'))).To(Succeed())
		s.Clear()

		Expect(s.Len()).To(Equal(0))
		Expect(s.Snapshot()).To(BeEmpty())
	})

	It("should panic on a zero capacity", func() {
		Expect(func() { NewStore("Bad", 0) }).To(Panic())
	})
})
