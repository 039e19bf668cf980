package relay_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/mpirelay/ipc"
	"github.com/sarchlab/mpirelay/ipc/memipc"
	"github.com/sarchlab/mpirelay/relay"
	"github.com/sarchlab/mpirelay/split"
	"github.com/sarchlab/mpirelay/wire"
)

var _ = Describe("Endpoint", func() {
	var (
		host *memipc.Host
		keys ipc.Keys
	)

	BeforeEach(func() {
		host = memipc.NewHost()
		keys = ipc.DefaultKeys()
	})

	It("should take the fallback pair for the second endpoint", func() {
		first, err := relay.OpenEndpoint(host.Process(1), keys, "First")
		Expect(err).NotTo(HaveOccurred())
		second, err := relay.OpenEndpoint(host.Process(1), keys, "Second")
		Expect(err).NotTo(HaveOccurred())

		Expect(first.UsesFallback()).To(BeFalse())
		Expect(second.UsesFallback()).To(BeTrue())

		in, out := second.Keys()
		Expect(in).To(Equal(keys.WorkerToRuntimeFallback))
		Expect(out).To(Equal(keys.RuntimeToWorkerFallback))

		_, err = relay.OpenEndpoint(host.Process(1), keys, "Third")
		Expect(err).To(MatchError(ipc.ErrChannelUnavailable))
	})

	It("should exchange messages with a worker", func() {
		ep, err := relay.OpenEndpoint(host.Process(1), keys, "Endpoint")
		Expect(err).NotTo(HaveOccurred())

		worker, err := ipc.AttachPair(host.Process(2), keys)
		Expect(err).NotTo(HaveOccurred())

		_, err = split.WriteMessage(worker.Out, split.DefaultSplitter(), &wire.Message{
			Tag: int64(worker.Out.ActiveKey), Kind: wire.KindInit, Src: 3,
		})
		Expect(err).NotTo(HaveOccurred())

		msg, err := ep.RecvRequest()
		Expect(err).NotTo(HaveOccurred())
		Expect(msg.Kind).To(Equal(wire.KindInit))
		Expect(msg.Src).To(Equal(int32(3)))

		Expect(ep.SendJobNumber(5, 2)).To(Succeed())

		ack, err := split.ReadMessage(worker.In, int64(worker.In.ActiveKey), true)
		Expect(err).NotTo(HaveOccurred())
		Expect(ack.JobID).To(Equal(int32(5)))
		Expect(ack.Src).To(Equal(int32(2)))

		Expect(ep.SendExtendedRequest(&wire.Message{
			Kind: wire.KindSend, Count: 1, Datatype: wire.Byte, Payload: []byte{7},
		})).To(Succeed())

		_, err = split.ReadMessage(worker.In, int64(worker.In.ActiveKey), false)
		Expect(err).To(MatchError(ipc.ErrNoMessage))

		ext, err := split.ReadMessage(worker.In, int64(keys.Extended), false)
		Expect(err).NotTo(HaveOccurred())
		Expect(ext.Payload).To(Equal([]byte{7}))
	})

	It("should remove its queues on close", func() {
		ep, err := relay.OpenEndpoint(host.Process(1), keys, "Endpoint")
		Expect(err).NotTo(HaveOccurred())

		Expect(ep.Close()).To(Succeed())
		Expect(host.Keys()).To(BeEmpty())
	})
})
