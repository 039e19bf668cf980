package wire

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Message codec", func() {
	It("should round trip every field", func() {
		payload, err := Pack(Double, []float64{1.5, 2.5, 3.5, 4.5})
		Expect(err).NotTo(HaveOccurred())

		m := &Message{
			Kind:     KindSend,
			JobID:    5,
			Count:    4,
			Src:      0,
			Dest:     1,
			UserTag:  7,
			Datatype: Double,
			Payload:  payload,
		}

		b, err := Encode(m)
		Expect(err).NotTo(HaveOccurred())
		Expect(b).To(HaveLen(RecordSize))

		got, err := Decode(b)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal(m))

		values := make([]float64, 4)
		Expect(Unpack(Double, got.Payload, values)).To(Succeed())
		Expect(values).To(Equal([]float64{1.5, 2.5, 3.5, 4.5}))
	})

	It("should carry the method descriptor", func() {
		m := &Message{
			Kind:     KindSendExtended,
			Count:    1,
			Datatype: Int,
			Payload:  []byte{1, 0, 0, 0},
			Method:   "Solver\tstep\t1\tfast\t",
		}

		b, err := Encode(m)
		Expect(err).NotTo(HaveOccurred())

		got, err := Decode(b)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Method).To(Equal(m.Method))
	})

	It("should round trip control messages", func() {
		m := &Message{Kind: KindInit, Src: 3}

		b, err := Encode(m)
		Expect(err).NotTo(HaveOccurred())

		got, err := Decode(b)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Kind).To(Equal(KindInit))
		Expect(got.Src).To(Equal(int32(3)))
		Expect(got.Payload).To(BeNil())
	})

	It("should reject mismatched payloads", func() {
		m := &Message{Kind: KindSend, Count: 2, Datatype: Int, Payload: []byte{1}}

		_, err := Encode(m)
		Expect(err).To(MatchError(ErrPayloadLength))
	})

	It("should reject unsupported datatypes", func() {
		m := &Message{Kind: KindSend, Count: 2, Datatype: DatatypeNull}

		_, err := Encode(m)
		Expect(err).To(MatchError(ErrUnsupportedDatatype))
	})

	It("should reject payloads above the inline capacity", func() {
		m := &Message{
			Kind:     KindSend,
			Count:    InlineCapacity + 1,
			Datatype: Byte,
			Payload:  make([]byte, InlineCapacity+1),
		}

		_, err := Encode(m)
		Expect(err).To(MatchError(ErrPayloadTooLarge))
	})

	It("should reject short records", func() {
		_, err := Decode(make([]byte, HeaderSize-1))
		Expect(err).To(MatchError(ErrShortRecord))
	})

	It("should peek the kind", func() {
		k, err := PeekKind(EncodeHeader(&Message{Kind: KindSplitBegin}))
		Expect(err).NotTo(HaveOccurred())
		Expect(k).To(Equal(KindSplitBegin))
	})

	It("should keep the inner kind of a split header", func() {
		h := &Message{
			Kind:     KindSplitBegin,
			Inner:    KindSendExtended,
			Count:    3000,
			Datatype: Double,
			Method:   "Solver\tstep\t0\t",
		}

		got, err := Decode(EncodeHeader(h))
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Inner).To(Equal(KindSendExtended))
		Expect(got.Count).To(Equal(int32(3000)))
		Expect(got.Method).To(Equal(h.Method))
		Expect(got.Payload).To(BeNil())
	})
})

var _ = Describe("Segment codec", func() {
	It("should round trip", func() {
		s := Segment{Kind: KindSplitEnd, Data: []byte{1, 2, 3}}

		b, err := EncodeSegment(s)
		Expect(err).NotTo(HaveOccurred())

		got, err := DecodeSegment(b)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal(s))
	})

	It("should refuse non-segment kinds", func() {
		_, err := EncodeSegment(Segment{Kind: KindSend})
		Expect(err).To(HaveOccurred())
	})

	It("should refuse oversized spans", func() {
		_, err := EncodeSegment(Segment{
			Kind: KindSplitContinue,
			Data: make([]byte, SegmentCapacity+1),
		})
		Expect(err).To(MatchError(ErrPayloadTooLarge))
	})
})
