package bridge

import (
	"bytes"
	"log/slog"

	"github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/mpirelay/hooking"
	"github.com/sarchlab/mpirelay/idgen"
	"github.com/sarchlab/mpirelay/ipc"
	"github.com/sarchlab/mpirelay/ipc/memipc"
	"github.com/sarchlab/mpirelay/logging"
	"github.com/sarchlab/mpirelay/split"
	"github.com/sarchlab/mpirelay/wire"
)

var _ = ginkgo.Describe("Context", func() {
	var (
		mockCtrl *gomock.Controller
		comm     *MockComm
		host     *memipc.Host
		keys     ipc.Keys
		runtime  *fakeRuntime
		builder  Builder
		c        *Context
	)

	ginkgo.BeforeEach(func() {
		mockCtrl = gomock.NewController(ginkgo.GinkgoT())
		comm = NewMockComm(mockCtrl)
		host = memipc.NewHost()
		keys = ipc.DefaultKeys()
		runtime = newFakeRuntime(host, keys)

		builder = MakeBuilder().
			WithHost(host.Process(100)).
			WithKeys(keys).
			WithComm(comm).
			WithLogger(logging.Discard()).
			WithIDGenerator(idgen.NewSequential())
	})

	ginkgo.AfterEach(func() {
		mockCtrl.Finish()
	})

	initialize := func() {
		inits := runtime.acceptInit(5, 2)
		Expect(c.Init(0)).To(Succeed())

		hello := <-inits
		Expect(hello.Kind).To(Equal(wire.KindInit))
		Expect(hello.Src).To(Equal(int32(0)))
	}

	ginkgo.Context("before Init", func() {
		ginkgo.BeforeEach(func() {
			c = builder.Build("Worker")
		})

		ginkgo.It("should refuse every operation", func() {
			buf := make([]byte, 4)

			Expect(c.State()).To(Equal(StateUninitialized))
			Expect(c.Send(buf, 1, wire.Int, 1, 0, 5)).To(MatchError(ErrNotReady))
			Expect(c.Recv(buf, 1, wire.Int, 1, 0, 5)).To(MatchError(ErrNotReady))
			Expect(c.Barrier(5)).To(MatchError(ErrNotReady))
			Expect(c.Finalize()).To(MatchError(ErrNotReady))

			_, err := c.IRecv(buf, 1, wire.Int, 1, 0, 5)
			Expect(err).To(MatchError(ErrNotReady))
		})

		ginkgo.It("should fail when the runtime has no queues", func() {
			lonely := builder.WithHost(memipc.NewHost().Process(100)).Build("Lonely")

			err := lonely.Init(0)
			Expect(err).To(MatchError(ErrInitFailed))
			Expect(err).To(MatchError(ErrChannelUnavailable))
			Expect(lonely.State()).To(Equal(StateUninitialized))
		})

		ginkgo.It("should fail when both pairs are claimed", func() {
			host.Hold(keys.WorkerToRuntimeFallback)
			claimer, err := ipc.Attach(host.Process(7), keys.WorkerToRuntime, keys.WorkerToRuntimeFallback, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(claimer.Send(1, []byte{0})).To(Succeed())
			other, err := ipc.Attach(host.Process(7), keys.WorkerToRuntime, keys.WorkerToRuntimeFallback, true)
			Expect(err).NotTo(HaveOccurred())
			Expect(other.Send(1, []byte{0})).To(Succeed())

			Expect(c.Init(0)).To(MatchError(ErrChannelUnavailable))
		})

		ginkgo.It("should stay uninitialized when the runtime refuses", func() {
			refused := runtime.refuseInit()

			err := c.Init(3)
			Expect(err).To(MatchError(ErrInitFailed))
			Expect(c.State()).To(Equal(StateUninitialized))
			Expect(c.Pair()).To(BeNil())

			var hello *wire.Message
			Eventually(refused).Should(Receive(&hello))
			Expect(hello.Src).To(Equal(int32(3)))

			buf := make([]byte, 4)
			Expect(c.Send(buf, 1, wire.Int, 1, 0, 5)).To(MatchError(ErrNotReady))
		})

		ginkgo.It("should log through its own logger", func() {
			var out bytes.Buffer
			c = builder.
				WithLogger(logging.NewText(&out, slog.LevelDebug)).
				Build("Logged")
			runtime.refuseInit()

			Expect(c.Init(2)).To(MatchError(ErrInitFailed))
			Expect(out.String()).To(ContainSubstring("init refused by runtime"))
			Expect(out.String()).To(ContainSubstring("bridge=Logged"))
		})
	})

	ginkgo.Context("after Init", func() {
		ginkgo.BeforeEach(func() {
			c = builder.Build("Worker")
			initialize()
		})

		ginkgo.It("should record the job assignment", func() {
			Expect(c.State()).To(Equal(StateReady))

			job, count := c.Job()
			Expect(job).To(Equal(int32(5)))
			Expect(count).To(Equal(int32(2)))
			Expect(c.Rank()).To(Equal(int32(0)))
			Expect(c.Pair().Out.ActiveKey).To(Equal(keys.WorkerToRuntime))
		})

		ginkgo.It("should refuse a second Init", func() {
			Expect(c.Init(0)).To(MatchError(ErrInitFailed))
		})

		ginkgo.It("should send data", func() {
			payload, _ := wire.Pack(wire.Double, []float64{1, 2, 3, 4})

			Expect(c.Send(payload, 4, wire.Double, 1, 7, 6)).To(Succeed())

			msg, err := runtime.read()
			Expect(err).NotTo(HaveOccurred())
			Expect(msg.Kind).To(Equal(wire.KindSend))
			Expect(msg.Tag).To(Equal(int64(keys.WorkerToRuntime)))
			Expect(msg.Src).To(Equal(int32(0)))
			Expect(msg.Dest).To(Equal(int32(1)))
			Expect(msg.UserTag).To(Equal(int32(7)))
			Expect(msg.JobID).To(Equal(int32(6)))
			Expect(msg.Payload).To(Equal(payload))
			Expect(c.Stats().Sent).To(Equal(uint64(1)))
		})

		ginkgo.It("should split large sends", func() {
			count := int32(2*wire.InlineCapacity/8 + 3)
			payload := make([]byte, wire.BufferLength(count, wire.Double))
			payload[len(payload)-1] = 42

			Expect(c.Send(payload, count, wire.Double, 1, 0, 5)).To(Succeed())
			Expect(c.Stats().Records).To(BeNumerically(">", 2))

			msg, err := runtime.read()
			Expect(err).NotTo(HaveOccurred())
			Expect(msg.Kind).To(Equal(wire.KindSend))
			Expect(msg.Payload).To(Equal(payload))
		})

		ginkgo.It("should broadcast with dest -1", func() {
			Expect(c.AllSend([]byte("hi"), 2, wire.Char, 3, 6)).To(Succeed())

			msg, _ := runtime.read()
			Expect(msg.Kind).To(Equal(wire.KindAllSend))
			Expect(msg.Dest).To(Equal(int32(-1)))
		})

		ginkgo.It("should mark no-forward data with its own rank", func() {
			Expect(c.NoForward([]byte("x"), 1, wire.Byte, 3)).To(Succeed())

			msg, _ := runtime.read()
			Expect(msg.Kind).To(Equal(wire.KindNoForward))
			Expect(msg.Src).To(Equal(int32(0)))
			Expect(msg.Dest).To(Equal(int32(0)))
			Expect(msg.JobID).To(Equal(int32(5)))
		})

		ginkgo.It("should attach the method descriptor to extended sends", func() {
			err := c.SendExtended([]byte{1, 0, 0, 0}, 1, wire.Int, 2, "Solver", "step", 6, "fast")
			Expect(err).NotTo(HaveOccurred())

			msg, _ := runtime.read()
			Expect(msg.Kind).To(Equal(wire.KindSendExtended))

			desc, err := wire.ParseMethodDescriptor(msg.Method)
			Expect(err).NotTo(HaveOccurred())
			Expect(desc).To(Equal(wire.MethodDescriptor{
				Class: "Solver", Method: "step", Args: []string{"fast"},
			}))
		})

		ginkgo.It("should refuse unsupported datatypes and short buffers", func() {
			Expect(c.Send([]byte{1}, 1, wire.DatatypeNull, 1, 0, 5)).
				To(MatchError(ErrUnsupportedDatatype))
			Expect(c.Send([]byte{1}, 1, wire.Int, 1, 0, 5)).
				To(MatchError(ErrBufferTooSmall))
			Expect(c.Recv(make([]byte, 2), 1, wire.Int, 1, 0, 5)).
				To(MatchError(ErrBufferTooSmall))
		})

		ginkgo.It("should receive a matching message", func() {
			runtime.deliver(ints(6, 1, 7, 10, 20))

			buf := make([]byte, 8)
			Expect(c.Recv(buf, 2, wire.Int, 1, 7, 6)).To(Succeed())
			Expect(unpackInts(buf)).To(Equal([]int32{10, 20}))
		})

		ginkgo.It("should keep unrelated messages for later", func() {
			runtime.deliver(ints(6, 2, 7, 1))
			runtime.deliver(ints(6, 2, 8, 2))
			runtime.deliver(ints(6, 1, 7, 3))

			buf := make([]byte, 4)
			Expect(c.Recv(buf, 1, wire.Int, 1, 7, 6)).To(Succeed())
			Expect(unpackInts(buf)).To(Equal([]int32{3}))
			Expect(c.Store().Len()).To(Equal(2))

			Expect(c.Recv(buf, 1, wire.Int, AnySource, AnyTag, AnyJob)).To(Succeed())
			Expect(unpackInts(buf)).To(Equal([]int32{1}))

			Expect(c.Recv(buf, 1, wire.Int, 2, 8, 6)).To(Succeed())
			Expect(unpackInts(buf)).To(Equal([]int32{2}))
			Expect(c.Stats().Stored).To(Equal(uint64(2)))
		})

		ginkgo.It("should keep messages of another datatype", func() {
			runtime.deliver(&wire.Message{
				Kind: wire.KindSend, JobID: 6, Count: 4, Src: 1,
				Datatype: wire.Char, Payload: []byte("abcd"),
			})
			runtime.deliver(ints(6, 1, 0, 9))

			buf := make([]byte, 4)
			Expect(c.Recv(buf, 1, wire.Int, 1, 0, 6)).To(Succeed())
			Expect(unpackInts(buf)).To(Equal([]int32{9}))

			Expect(c.Recv(buf, 4, wire.Char, 1, 0, 6)).To(Succeed())
			Expect(string(buf)).To(Equal("abcd"))
		})

		ginkgo.It("should complete a request through Test", func() {
			buf := make([]byte, 4)
			req, err := c.IRecv(buf, 1, wire.Int, 1, 0, 6)
			Expect(err).NotTo(HaveOccurred())

			finished, err := c.Test(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(finished).To(BeFalse())

			runtime.deliver(ints(6, 3, 0, 4))

			finished, err = c.Test(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(finished).To(BeFalse())
			Expect(c.Store().Len()).To(Equal(1))

			runtime.deliver(ints(6, 1, 0, 5))

			finished, err = c.Test(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(finished).To(BeTrue())
			Expect(req.Done()).To(BeTrue())
			Expect(unpackInts(buf)).To(Equal([]int32{5}))

			finished, err = c.Test(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(finished).To(BeTrue())
		})

		ginkgo.It("should complete a request through Wait", func() {
			buf := make([]byte, 4)
			req, _ := c.IRecv(buf, 1, wire.Int, 1, 0, 6)

			runtime.deliver(ints(6, 1, 0, 11))

			Expect(c.Wait(req)).To(Succeed())
			Expect(req.Done()).To(BeTrue())
			Expect(unpackInts(buf)).To(Equal([]int32{11}))
			Expect(c.Wait(req)).To(Succeed())
		})

		ginkgo.It("should receive runtime calls on the extended tag", func() {
			runtime.deliver(ints(6, 1, 0, 1))
			extended := ints(6, 1, 0, 2)
			extended.Tag = int64(keys.Extended)
			runtime.deliver(extended)

			buf := make([]byte, 4)
			Expect(c.RecvExtended(buf, 1, wire.Int, 1, 0, 6)).To(Succeed())
			Expect(unpackInts(buf)).To(Equal([]int32{2}))

			req, err := c.IRecvExtended(buf, 1, wire.Int, 1, 0, 6)
			Expect(err).NotTo(HaveOccurred())

			finished, err := c.Test(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(finished).To(BeFalse())

			Expect(c.Recv(buf, 1, wire.Int, 1, 0, 6)).To(Succeed())
			Expect(unpackInts(buf)).To(Equal([]int32{1}))
		})

		ginkgo.It("should delegate barriers on its own job", func() {
			comm.EXPECT().Barrier().Return(nil)

			Expect(c.Barrier(5)).To(Succeed())
			Expect(c.Barrier(6)).To(MatchError(ErrWrongJob))
		})

		ginkgo.It("should finalize", func() {
			Expect(c.Finalize()).To(Succeed())
			Expect(c.State()).To(Equal(StateFinalized))

			msg, _ := runtime.read()
			Expect(msg.Kind).To(Equal(wire.KindFinalize))
			Expect(msg.Src).To(Equal(int32(0)))

			Expect(c.Send([]byte{1}, 1, wire.Byte, 1, 0, 5)).To(MatchError(ErrFinalized))
			Expect(c.Finalize()).To(MatchError(ErrFinalized))
			Expect(c.Init(0)).To(MatchError(ErrFinalized))
		})

		ginkgo.It("should fire hooks on send and receive", func() {
			var positions []*hooking.HookPos
			c.AcceptHook(hooking.HookFunc(func(ctx hooking.HookCtx) {
				positions = append(positions, ctx.Pos)
				Expect(ctx.Detail).NotTo(BeEmpty())
			}))

			Expect(c.Send([]byte{1}, 1, wire.Byte, 1, 0, 5)).To(Succeed())
			runtime.deliver(ints(6, 2, 0, 1))
			runtime.deliver(ints(6, 1, 0, 1))
			Expect(c.Recv(make([]byte, 4), 1, wire.Int, 1, 0, 6)).To(Succeed())

			Expect(positions).To(Equal([]*hooking.HookPos{
				HookPosSend, HookPosRecv, HookPosStore, HookPosRecv,
			}))
		})
	})

	ginkgo.Context("with a full store", func() {
		fill := func() {
			runtime.deliver(ints(6, 2, 0, 1))
			runtime.deliver(ints(6, 3, 0, 2))
			runtime.deliver(ints(6, 1, 0, 3))
		}

		ginkgo.It("should drop, log and continue by default", func() {
			c = builder.WithStoreCapacity(1).Build("Worker")
			initialize()
			fill()

			buf := make([]byte, 4)
			Expect(c.Recv(buf, 1, wire.Int, 1, 0, 6)).To(Succeed())
			Expect(unpackInts(buf)).To(Equal([]int32{3}))
			Expect(c.Stats().Dropped).To(Equal(uint64(1)))
			Expect(c.Store().Len()).To(Equal(1))
		})

		ginkgo.It("should report the drop when asked to", func() {
			c = builder.WithStoreCapacity(1).WithFailOnStoreFull(true).Build("Worker")
			initialize()
			fill()

			Expect(c.Recv(make([]byte, 4), 1, wire.Int, 1, 0, 6)).To(MatchError(ErrStoreFull))
		})
	})

	ginkgo.Context("with split traffic", func() {
		ginkgo.It("should finish a split message inside Test", func() {
			c = builder.Build("Worker")
			initialize()

			values := []int32{1, 2, 3, 4, 5}
			msg := ints(6, 1, 0, values...)
			msg.Tag = int64(runtime.pair.Out.ActiveKey)

			small := split.Splitter{InlineCapacity: 8, SegmentCapacity: 8}
			records, err := split.WriteMessage(runtime.pair.Out, small, msg)
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(Equal(4))

			buf := make([]byte, len(msg.Payload))
			req, _ := c.IRecv(buf, 5, wire.Int, 1, 0, 6)

			finished, err := c.Test(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(finished).To(BeTrue())
			Expect(unpackInts(buf)).To(Equal(values))
		})
	})
})
