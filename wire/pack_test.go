package wire

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Pack", func() {
	It("should pack ints", func() {
		b, err := Pack(Int, []int32{1, 2, 3})
		Expect(err).NotTo(HaveOccurred())
		Expect(b).To(HaveLen(BufferLength(3, Int)))

		out := make([]int32, 3)
		Expect(Unpack(Int, b, out)).To(Succeed())
		Expect(out).To(Equal([]int32{1, 2, 3}))
	})

	It("should refuse element size mismatches", func() {
		_, err := Pack(Short, []int32{1})
		Expect(err).To(HaveOccurred())
	})

	It("should pass raw long doubles through", func() {
		raw := make([]byte, 32)
		raw[0] = 9

		b, err := Pack(LongDouble, raw)
		Expect(err).NotTo(HaveOccurred())
		Expect(b).To(Equal(raw))

		_, err = Pack(LongDouble, []float64{1, 2})
		Expect(err).To(MatchError(ErrUnsupportedDatatype))
	})

	It("should refuse unpacking into a wrongly sized slice", func() {
		b, _ := Pack(Double, []float64{1, 2})

		err := Unpack(Double, b, make([]float64, 3))
		Expect(err).To(MatchError(ErrPayloadLength))
	})
})
