package bridge

import (
	. "github.com/onsi/gomega"

	"github.com/sarchlab/mpirelay/ipc"
	"github.com/sarchlab/mpirelay/ipc/memipc"
	"github.com/sarchlab/mpirelay/split"
	"github.com/sarchlab/mpirelay/wire"
)

// fakeRuntime plays the runtime end of one queue pair.
type fakeRuntime struct {
	keys ipc.Keys
	pair *ipc.Pair
}

func newFakeRuntime(host *memipc.Host, keys ipc.Keys) *fakeRuntime {
	pair, err := ipc.CreatePair(host.Process(1), keys)
	Expect(err).NotTo(HaveOccurred())

	return &fakeRuntime{keys: keys, pair: pair}
}

// acceptInit answers the next INIT in the background.
func (r *fakeRuntime) acceptInit(jobID, jobCount int32) <-chan *wire.Message {
	inits := make(chan *wire.Message, 1)

	go func() {
		msg, err := r.read()
		if err != nil {
			close(inits)
			return
		}

		inits <- msg

		_, _ = split.WriteMessage(r.pair.Out, split.DefaultSplitter(), &wire.Message{
			Tag:   int64(r.pair.Out.ActiveKey),
			Kind:  wire.KindInit,
			JobID: jobID,
			Src:   jobCount,
		})
	}()

	return inits
}

// refuseInit turns away the next INIT in the background.
func (r *fakeRuntime) refuseInit() <-chan *wire.Message {
	return r.acceptInit(wire.InitRefused, 0)
}

func (r *fakeRuntime) read() (*wire.Message, error) {
	return split.ReadMessage(r.pair.In, int64(r.pair.In.ActiveKey), true)
}

func (r *fakeRuntime) deliver(msg *wire.Message) {
	if msg.Tag == 0 {
		msg.Tag = int64(r.pair.Out.ActiveKey)
	}

	_, err := split.WriteMessage(r.pair.Out, split.DefaultSplitter(), msg)
	Expect(err).NotTo(HaveOccurred())
}

func ints(job, src, tag int32, values ...int32) *wire.Message {
	payload, err := wire.Pack(wire.Int, values)
	Expect(err).NotTo(HaveOccurred())

	return &wire.Message{
		Kind:     wire.KindSend,
		JobID:    job,
		Count:    int32(len(values)),
		Src:      src,
		Dest:     0,
		UserTag:  tag,
		Datatype: wire.Int,
		Payload:  payload,
	}
}

func unpackInts(buf []byte) []int32 {
	out := make([]int32, len(buf)/4)
	Expect(wire.Unpack(wire.Int, buf, out)).To(Succeed())

	return out
}
