package relay

import (
	"context"

	"github.com/sarchlab/mpirelay/logging"
	"github.com/sarchlab/mpirelay/wire"
)

// Builder can build routers.
type Builder struct {
	jobCount  int32
	logger    logging.Logger
	noForward NoForwardHandler
}

// MakeBuilder creates a builder for a single job that logs no-forward data.
func MakeBuilder() Builder {
	return Builder{jobCount: 1}
}

// WithJobCount sets the number of jobs announced to workers.
func (b Builder) WithJobCount(n int32) Builder {
	b.jobCount = n
	return b
}

// WithLogger sets the logger.
func (b Builder) WithLogger(l logging.Logger) Builder {
	b.logger = l
	return b
}

// WithNoForwardHandler sets what happens with NO_FORWARD data.
func (b Builder) WithNoForwardHandler(h NoForwardHandler) Builder {
	b.noForward = h
	return b
}

// Build creates a router.
func (b Builder) Build(name string) *Router {
	if b.jobCount <= 0 {
		panic("relay: job count must be positive")
	}

	if b.logger == nil {
		b.logger = logging.New(nil)
	}

	r := &Router{
		name:      name,
		log:       b.logger.With("router", name),
		jobCount:  b.jobCount,
		noForward: b.noForward,
		byRank:    make(map[rankKey]*attachment),
		waiting:   make(map[rankKey][]held),
		handlers:  make(map[string]ExtendedHandler),
		done:      make(chan struct{}),
	}

	if r.noForward == nil {
		r.noForward = func(ctx context.Context, msg *wire.Message) {
			r.log.Info(ctx, "no-forward data", "src", msg.Src, "job", msg.JobID,
				"count", msg.Count, "datatype", msg.Datatype)
		}
	}

	return r
}
