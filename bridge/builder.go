package bridge

import (
	"github.com/sarchlab/mpirelay/idgen"
	"github.com/sarchlab/mpirelay/ipc"
	"github.com/sarchlab/mpirelay/ipc/sysv"
	"github.com/sarchlab/mpirelay/logging"
	"github.com/sarchlab/mpirelay/pending"
	"github.com/sarchlab/mpirelay/split"
)

// Builder can build bridge contexts.
type Builder struct {
	host            ipc.Host
	keys            ipc.Keys
	storeCapacity   int
	comm            Comm
	logger          logging.Logger
	ids             idgen.Generator
	splitter        split.Splitter
	failOnStoreFull bool
}

// MakeBuilder creates a builder with default parameters: System V queues,
// the default keys, a 20-slot store and a single-process communicator.
func MakeBuilder() Builder {
	return Builder{
		keys:          ipc.DefaultKeys(),
		storeCapacity: pending.DefaultCapacity,
		comm:          soloComm{},
		splitter:      split.DefaultSplitter(),
	}
}

// WithHost sets the IPC host.
func (b Builder) WithHost(host ipc.Host) Builder {
	b.host = host
	return b
}

// WithKeys sets the queue and semaphore keys.
func (b Builder) WithKeys(keys ipc.Keys) Builder {
	b.keys = keys
	return b
}

// WithStoreCapacity sets the number of pending-message slots.
func (b Builder) WithStoreCapacity(n int) Builder {
	b.storeCapacity = n
	return b
}

// WithComm sets the communicator used by Barrier.
func (b Builder) WithComm(comm Comm) Builder {
	b.comm = comm
	return b
}

// WithLogger sets the logger.
func (b Builder) WithLogger(l logging.Logger) Builder {
	b.logger = l
	return b
}

// WithIDGenerator sets the generator of trace IDs.
func (b Builder) WithIDGenerator(g idgen.Generator) Builder {
	b.ids = g
	return b
}

// WithSplitter overrides the record capacities used for splitting.
func (b Builder) WithSplitter(s split.Splitter) Builder {
	b.splitter = s
	return b
}

// WithFailOnStoreFull makes Recv return ErrStoreFull when an unrelated
// message cannot be kept, instead of logging and continuing.
func (b Builder) WithFailOnStoreFull(fail bool) Builder {
	b.failOnStoreFull = fail
	return b
}

// Build creates a Context in the Uninitialized state.
func (b Builder) Build(name string) *Context {
	if err := b.keys.Validate(); err != nil {
		panic(err)
	}

	if b.host == nil {
		b.host = sysv.New()
	}

	if b.logger == nil {
		b.logger = logging.New(nil)
	}

	if b.ids == nil {
		b.ids = idgen.Default()
	}

	c := &Context{
		name:            name,
		host:            b.host,
		keys:            b.keys,
		comm:            b.comm,
		log:             b.logger.With("bridge", name),
		ids:             b.ids,
		splitter:        b.splitter,
		failOnStoreFull: b.failOnStoreFull,
	}
	c.store = pending.NewStore(name+".Store", b.storeCapacity)

	return c
}
