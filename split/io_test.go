package split

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/mpirelay/ipc"
	"github.com/sarchlab/mpirelay/ipc/memipc"
	"github.com/sarchlab/mpirelay/wire"
)

var _ = Describe("Reading and writing", func() {
	var (
		writer *ipc.Channel
		reader *ipc.Channel
	)

	BeforeEach(func() {
		host := memipc.NewHost()

		var err error
		reader, err = ipc.OpenOrCreate(host.Process(1), 30, 31)
		Expect(err).NotTo(HaveOccurred())

		writer, err = ipc.Attach(host.Process(2), 30, 31, false)
		Expect(err).NotTo(HaveOccurred())
	})

	It("should carry a small message in one record", func() {
		msg := doubles(4)
		msg.Tag = 30

		n, err := WriteMessage(writer, DefaultSplitter(), msg)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(1))

		got, err := ReadMessage(reader, 30, true)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal(msg))
	})

	It("should carry a large message across records", func() {
		count := 3*wire.InlineCapacity/8 + 5
		msg := doubles(count)
		msg.Tag = 30

		n, err := WriteMessage(writer, DefaultSplitter(), msg)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(BeNumerically(">", 3))

		got, err := ReadMessage(reader, 30, false)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal(msg))
	})

	It("should report an empty queue", func() {
		_, err := ReadMessage(reader, 30, false)
		Expect(err).To(MatchError(ipc.ErrNoMessage))
	})

	It("should refuse a stray segment", func() {
		b, _ := wire.EncodeSegment(wire.Segment{Kind: wire.KindSplitEnd})
		Expect(writer.Send(30, b)).To(Succeed())

		_, err := ReadMessage(reader, 30, true)
		Expect(err).To(MatchError(ErrUnexpectedRecord))
	})

	It("should skip an oversized split message and keep reading", func() {
		huge := &wire.Message{
			Kind:     wire.KindSplitBegin,
			Inner:    wire.KindSend,
			Count:    1 << 28,
			Datatype: wire.LongDouble,
		}
		Expect(writer.Send(30, wire.EncodeHeader(huge))).To(Succeed())

		for _, k := range []wire.Kind{wire.KindSplitContinue, wire.KindSplitEnd} {
			b, err := wire.EncodeSegment(wire.Segment{Kind: k, Data: make([]byte, 16)})
			Expect(err).NotTo(HaveOccurred())
			Expect(writer.Send(30, b)).To(Succeed())
		}

		next := doubles(2)
		next.Tag = 30
		_, err := WriteMessage(writer, DefaultSplitter(), next)
		Expect(err).NotTo(HaveOccurred())

		_, err = ReadMessage(reader, 30, true)
		Expect(err).To(MatchError(ErrSegmentOverflow))

		got, err := ReadMessage(reader, 30, false)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal(next))
	})
})
